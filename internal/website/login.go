package website

import (
	"context"
	"fmt"
	"sync"
)

// LoginStatus is the coarse state of a login.
type LoginStatus int

const (
	LoginUnknown LoginStatus = iota
	LoginPending
	LoggedIn
	LoggedOut
)

func (s LoginStatus) String() string {
	switch s {
	case LoginPending:
		return "pending"
	case LoggedIn:
		return "logged in"
	case LoggedOut:
		return "logged out"
	default:
		return "unknown"
	}
}

// LoginState is the externally observable login signal.
type LoginState struct {
	IsLoggedIn bool   `json:"isLoggedIn"`
	Pending    bool   `json:"pending"`
	Username   string `json:"username,omitempty"`
	checked    bool
}

// LoggedInAs returns a logged-in state for username.
func LoggedInAs(username string) LoginState {
	return LoginState{IsLoggedIn: true, Username: username, checked: true}
}

// NotLoggedIn returns a logged-out state.
func NotLoggedIn() LoginState {
	return LoginState{checked: true}
}

// Status classifies the state.
func (s LoginState) Status() LoginStatus {
	switch {
	case s.Pending:
		return LoginPending
	case s.IsLoggedIn:
		return LoggedIn
	case s.checked:
		return LoggedOut
	default:
		return LoginUnknown
	}
}

type loginTracker struct {
	mu    sync.RWMutex
	state LoginState
}

func (t *loginTracker) get() LoginState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *loginTracker) begin() {
	t.mu.Lock()
	t.state.Pending = true
	t.mu.Unlock()
}

func (t *loginTracker) finish(s LoginState) LoginState {
	s.Pending = false
	s.checked = true
	if !s.IsLoggedIn {
		s.Username = ""
	}
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
	return s
}

// CheckLogin drives the login state machine for w: the state is marked
// pending before OnLogin runs and always resolves to logged in or logged out.
// Errors and panics resolve to logged out. Logging out clears the session
// data and the instance cache.
func CheckLogin(ctx context.Context, w Website) LoginState {
	b := w.WebsiteBase()
	b.login.begin()

	state, err := runOnLogin(ctx, w)
	if err != nil {
		b.logger.Errorf("login check failed: %v", err)
		state = NotLoggedIn()
	}

	state = b.login.finish(state)
	if !state.IsLoggedIn {
		b.reset()
	}
	b.logger.Debugf("login state: %s %s", state.Status(), state.Username)
	return state
}

func runOnLogin(ctx context.Context, w Website) (state LoginState, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("login panicked: %v", r)
		}
	}()
	return w.OnLogin(ctx)
}
