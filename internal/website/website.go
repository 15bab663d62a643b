package website

import (
	"context"
	"encoding/json"

	"github.com/charmbracelet/log"

	"github.com/blacktop/multipost/internal/logutil"
)

const instanceCacheSize = 256

// Account identifies one login on one website.
type Account struct {
	ID      string
	Website string
	Name    string
}

// Website is the contract every adapter implements. Adapters embed *Base,
// which supplies WebsiteBase.
type Website interface {
	WebsiteBase() *Base
	// OnLogin queries the website and reports the resulting login state. It
	// must be idempotent and safe to call on a timer.
	OnLogin(ctx context.Context) (LoginState, error)
}

// FileWebsite is implemented by adapters that post files.
type FileWebsite interface {
	Website
	CreateFileModel() Options
	PostFileSubmission(ctx context.Context, data *PostData, files []*PostingFile, cancel *CancelToken) (PostResponse, error)
	ValidateFileSubmission(ctx context.Context, data *PostData) ValidationResult
	// CalculateImageResize returns nil when the file can be posted as is.
	CalculateImageResize(file *PostingFile) *ResizeSpec
}

// MessageWebsite is implemented by adapters that post text-only messages.
type MessageWebsite interface {
	Website
	CreateMessageModel() Options
	PostMessageSubmission(ctx context.Context, data *PostData, cancel *CancelToken) (PostResponse, error)
	ValidateMessageSubmission(ctx context.Context, data *PostData) ValidationResult
}

// AuthRoute is one named step of an external authorization flow.
type AuthRoute struct {
	Handler func(ctx context.Context, input json.RawMessage) (any, error)
	// Completes marks a route after which the login state is re-evaluated.
	Completes bool
}

// OAuthWebsite is implemented by adapters with a multi-step authorization flow.
type OAuthWebsite interface {
	Website
	AuthRoutes() map[string]AuthRoute
}

// DynamicLimitsWebsite overrides the registered file size limits at runtime.
type DynamicLimitsWebsite interface {
	Website
	DynamicFileSizeLimits() map[string]int64
}

// Factory builds an adapter around base. It must not perform I/O.
type Factory func(base *Base) Website

// Base carries the per-account state shared by every adapter.
type Base struct {
	account Account
	reg     *Registration
	data    *AccountData
	session *SessionData
	cache   *Cache
	login   loginTracker
	logger  *log.Logger
}

// NewBase returns the shared state for account. persister may be nil, in
// which case account data lives only in memory.
func NewBase(account Account, reg *Registration, persister Persister) *Base {
	b := &Base{
		account: account,
		reg:     reg,
		session: NewSessionData(),
		cache:   NewCache(instanceCacheSize),
		logger:  logutil.With("website", account.Website, "account", account.ID),
	}
	b.data = NewAccountData(account.ID, persister)
	return b
}

// WebsiteBase implements Website.
func (b *Base) WebsiteBase() *Base { return b }

// Account returns the account this instance belongs to.
func (b *Base) Account() Account { return b.account }

// AccountID returns the account identifier.
func (b *Base) AccountID() string { return b.account.ID }

// Registration returns the website type's registration.
func (b *Base) Registration() *Registration { return b.reg }

// Data returns the persisted account data store.
func (b *Base) Data() *AccountData { return b.data }

// Session returns the transient session data.
func (b *Base) Session() *SessionData { return b.session }

// Cache returns the bounded per-instance cache.
func (b *Base) Cache() *Cache { return b.cache }

// Logger returns a logger tagged with the website and account.
func (b *Base) Logger() *log.Logger { return b.logger }

// LoginState returns the last known login state.
func (b *Base) LoginState() LoginState { return b.login.get() }

// ExternallyAccessibleData returns the subset of account data that may leave
// the adapter. Keys not marked accessible at registration are never included.
func (b *Base) ExternallyAccessibleData() map[string]any {
	if b.reg == nil {
		return map[string]any{}
	}
	return b.data.filtered(b.reg.IsExternallyAccessible)
}

// PartitionKey scopes cookies and transport state to this account.
func (b *Base) PartitionKey() string { return b.account.ID }

func (b *Base) reset() {
	b.session.Clear()
	b.cache.Purge()
}
