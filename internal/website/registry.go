package website

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// Definition is the declarative description of a website type.
type Definition struct {
	Metadata
	Login LoginType
	// Files is ignored for websites without the file capability.
	Files            FileOptions
	UsernameShortcut *UsernameShortcut
	AdsDisabled      bool
	// ExternallyAccessible lists the account data keys that may be exposed
	// outside the adapter. Unlisted keys are private.
	ExternallyAccessible map[string]bool
	New                  Factory
}

// Registration is the immutable record produced by Registry.Register.
type Registration struct {
	metadata     Metadata
	login        LoginType
	files        FileOptions
	shortcut     *UsernameShortcut
	adsDisabled  bool
	accessible   map[string]bool
	capabilities Capabilities
	factory      Factory
}

// Name returns the website identifier.
func (r *Registration) Name() string { return r.metadata.Name }

// Metadata returns the display and scheduling metadata.
func (r *Registration) Metadata() Metadata { return r.metadata }

// LoginType returns how users log in.
func (r *Registration) LoginType() LoginType { return r.login }

// FileOptions returns a copy of the file capability descriptor.
func (r *Registration) FileOptions() FileOptions { return r.files.clone() }

// UsernameShortcut returns a copy of the shortcut rule, or nil.
func (r *Registration) UsernameShortcut() *UsernameShortcut { return copyShortcut(r.shortcut) }

func copyShortcut(sc *UsernameShortcut) *UsernameShortcut {
	if sc == nil {
		return nil
	}
	c := *sc
	return &c
}

// AdsDisabled reports whether posts must not carry the promotional footer.
func (r *Registration) AdsDisabled() bool { return r.adsDisabled }

// Capabilities returns the capability flags resolved at registration.
func (r *Registration) Capabilities() Capabilities { return r.capabilities }

// IsExternallyAccessible reports whether an account data key may be exposed.
func (r *Registration) IsExternallyAccessible(key string) bool { return r.accessible[key] }

// ExternallyAccessibleProperties returns a copy of the accessibility map.
func (r *Registration) ExternallyAccessibleProperties() map[string]bool {
	out := make(map[string]bool, len(r.accessible))
	for k, v := range r.accessible {
		out[k] = v
	}
	return out
}

// NewInstance constructs an adapter for account.
func (r *Registration) NewInstance(account Account, persister Persister) Website {
	account.Website = r.metadata.Name
	return r.factory(NewBase(account, r, persister))
}

// Registry holds every registered website type. It is read-only once frozen.
type Registry struct {
	mu     sync.RWMutex
	regs   map[string]*Registration
	frozen bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{regs: make(map[string]*Registration)}
}

// Register validates def, applies defaults, resolves capabilities and stores
// the resulting registration. It performs no I/O.
func (r *Registry) Register(def Definition) (*Registration, error) {
	name := strings.ToLower(strings.TrimSpace(def.Name))
	if name == "" {
		return nil, RegistrationError{Website: "<unnamed>", Reason: "name is required"}
	}
	if def.Login == nil {
		return nil, RegistrationError{Website: name, Reason: "login type is required"}
	}
	if def.New == nil {
		return nil, RegistrationError{Website: name, Reason: "factory is required"}
	}
	if def.UsernameShortcut != nil && def.UsernameShortcut.ID == "" {
		return nil, RegistrationError{Website: name, Reason: "username shortcut id is required"}
	}

	meta := def.Metadata
	meta.Name = name
	if meta.DisplayName == "" {
		meta.DisplayName = def.Name
	}

	reg := &Registration{
		metadata:    meta,
		login:       def.Login,
		files:       def.Files.withDefaults(),
		shortcut:    copyShortcut(def.UsernameShortcut),
		adsDisabled: def.AdsDisabled,
		accessible:  make(map[string]bool, len(def.ExternallyAccessible)),
		factory:     def.New,
	}
	for k, v := range def.ExternallyAccessible {
		reg.accessible[k] = v
	}

	proto := def.New(NewBase(Account{Website: name}, reg, nil))
	if proto == nil || proto.WebsiteBase() == nil {
		return nil, RegistrationError{Website: name, Reason: "factory returned no base"}
	}
	reg.capabilities = resolveCapabilities(proto)
	if !reg.capabilities.File && !reg.capabilities.Message {
		return nil, RegistrationError{Website: name, Reason: "website posts neither files nor messages"}
	}
	if reg.metadata.RefreshInterval <= 0 {
		reg.metadata.RefreshInterval = defaultRefreshInterval
		if reg.capabilities.OAuth {
			reg.metadata.RefreshInterval = defaultOAuthRefreshInterval
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return nil, RegistrationError{Website: name, Reason: "registry is frozen"}
	}
	if _, ok := r.regs[name]; ok {
		return nil, RegistrationError{Website: name, Reason: "already registered"}
	}
	r.regs[name] = reg
	return reg, nil
}

func resolveCapabilities(w Website) Capabilities {
	_, file := w.(FileWebsite)
	_, message := w.(MessageWebsite)
	_, oauth := w.(OAuthWebsite)
	_, dynamic := w.(DynamicLimitsWebsite)
	return Capabilities{File: file, Message: message, OAuth: oauth, DynamicLimits: dynamic}
}

// Freeze rejects any further registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Lookup returns the registration for name.
func (r *Registry) Lookup(name string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.regs[strings.ToLower(strings.TrimSpace(name))]
	return reg, ok
}

// All returns every registration sorted by name.
func (r *Registry) All() []*Registration {
	r.mu.RLock()
	out := make([]*Registration, 0, len(r.regs))
	for _, reg := range r.regs {
		out = append(out, reg)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

var shortcutPattern = regexp.MustCompile(`\{([A-Za-z0-9_]+):([^{}\s]+)\}`)

// ExpandShortcuts replaces {id:username} in text with the link for the
// matching shortcut, as it should appear on targetWebsite. Unknown ids are
// left untouched.
func (r *Registry) ExpandShortcuts(text, targetWebsite string) string {
	byID := make(map[string]*UsernameShortcut)
	for _, reg := range r.All() {
		if reg.shortcut != nil {
			byID[strings.ToLower(reg.shortcut.ID)] = reg.shortcut
		}
	}
	return shortcutPattern.ReplaceAllStringFunc(text, func(match string) string {
		parts := shortcutPattern.FindStringSubmatch(match)
		sc, ok := byID[strings.ToLower(parts[1])]
		if !ok {
			return match
		}
		if sc.Convert != nil {
			if converted := sc.Convert(targetWebsite, parts[2]); converted != "" {
				return converted
			}
		}
		return sc.Expand(parts[2])
	})
}

// RefreshInterval returns how often the login for reg should be checked.
func (r *Registration) RefreshInterval() time.Duration { return r.metadata.RefreshInterval }
