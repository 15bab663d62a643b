package website

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
)

type messageSite struct {
	*Base
	calls atomic.Int32
	onLogin func(ctx context.Context) (LoginState, error)
}

func (s *messageSite) OnLogin(ctx context.Context) (LoginState, error) {
	s.calls.Add(1)
	if s.onLogin != nil {
		return s.onLogin(ctx)
	}
	return LoggedInAs("tester"), nil
}

func (s *messageSite) CreateMessageModel() Options { return &CommonOptions{} }

func (s *messageSite) PostMessageSubmission(ctx context.Context, data *PostData, cancel *CancelToken) (PostResponse, error) {
	return Posted("https://example.test/1"), nil
}

func (s *messageSite) ValidateMessageSubmission(ctx context.Context, data *PostData) ValidationResult {
	return NewValidator().Result()
}

type fileSite struct {
	messageSite
}

func (s *fileSite) CreateFileModel() Options { return &CommonOptions{} }

func (s *fileSite) PostFileSubmission(ctx context.Context, data *PostData, files []*PostingFile, cancel *CancelToken) (PostResponse, error) {
	return PostResponse{}, errors.New("not implemented")
}

func (s *fileSite) ValidateFileSubmission(ctx context.Context, data *PostData) ValidationResult {
	return NewValidator().Result()
}

func (s *fileSite) CalculateImageResize(*PostingFile) *ResizeSpec { return nil }

type oauthSite struct {
	messageSite
}

func (s *oauthSite) AuthRoutes() map[string]AuthRoute {
	return map[string]AuthRoute{"start": {Handler: func(context.Context, json.RawMessage) (any, error) { return "ok", nil }}}
}

type loginOnlySite struct {
	*Base
}

func (s *loginOnlySite) OnLogin(context.Context) (LoginState, error) { return NotLoggedIn(), nil }

func messageDefinition(name string) Definition {
	return Definition{
		Metadata: Metadata{Name: name},
		Login:    CustomLogin{ComponentName: "TestLogin"},
		New:      func(b *Base) Website { return &messageSite{Base: b} },
	}
}
