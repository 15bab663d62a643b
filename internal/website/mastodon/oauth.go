package mastodon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	mastodonapi "github.com/mattn/go-mastodon"

	"github.com/blacktop/multipost/internal/website"
)

// RegisterAppInput is the input of the registerApp route.
type RegisterAppInput struct {
	InstanceURL string `json:"instanceUrl"`
}

// RegisterAppOutput is the output of the registerApp route.
type RegisterAppOutput struct {
	Success          bool   `json:"success"`
	AuthorizationURL string `json:"authorizationUrl,omitempty"`
	ClientID         string `json:"clientId,omitempty"`
	ClientSecret     string `json:"clientSecret,omitempty"`
	Message          string `json:"message,omitempty"`
}

// CompleteOAuthInput is the input of the completeOAuth route.
type CompleteOAuthInput struct {
	Code string `json:"code"`
}

// CompleteOAuthOutput is the output of the completeOAuth route.
type CompleteOAuthOutput struct {
	Success  bool   `json:"success"`
	Username string `json:"username,omitempty"`
	Message  string `json:"message,omitempty"`
}

// AuthRoutes returns registerApp followed by completeOAuth.
func (w *Website) AuthRoutes() map[string]website.AuthRoute {
	return map[string]website.AuthRoute{
		"registerApp": {Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var in RegisterAppInput
			if err := json.Unmarshal(raw, &in); err != nil {
				return RegisterAppOutput{Message: fmt.Sprintf("invalid input: %v", err)}, nil
			}
			return w.RegisterApp(ctx, in), nil
		}},
		"completeOAuth": {Completes: true, Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var in CompleteOAuthInput
			if err := json.Unmarshal(raw, &in); err != nil {
				return CompleteOAuthOutput{Message: fmt.Sprintf("invalid input: %v", err)}, nil
			}
			return w.CompleteOAuth(ctx, in), nil
		}},
	}
}

// RegisterApp registers an application on the instance and stores its
// client credentials. Failures are reported in the output.
func (w *Website) RegisterApp(ctx context.Context, in RegisterAppInput) RegisterAppOutput {
	instance, err := normalizeInstance(in.InstanceURL)
	if err != nil {
		return RegisterAppOutput{Message: err.Error()}
	}

	app, err := mastodonapi.RegisterApp(ctx, &mastodonapi.AppConfig{
		Server:       instance,
		ClientName:   clientName,
		Scopes:       scopes,
		RedirectURIs: redirectURI,
	})
	if err != nil {
		w.Logger().Warnf("register app on %s: %v", instance, err)
		return RegisterAppOutput{Message: fmt.Sprintf("could not register with %s: %v", instance, err)}
	}

	data, err := website.LoadData[AccountData](w.Data())
	if err != nil {
		return RegisterAppOutput{Message: err.Error()}
	}
	if data.InstanceURL != instance {
		data = AccountData{}
		w.Data().Delete(keyAccessToken)
		w.Data().Delete(keyUsername)
		w.Data().Delete(keyLimits)
	}
	data.InstanceURL = instance
	data.ClientID = app.ClientID
	data.ClientSecret = app.ClientSecret
	if err := website.StoreData(w.Data(), data); err != nil {
		return RegisterAppOutput{Message: err.Error()}
	}

	return RegisterAppOutput{
		Success:          true,
		AuthorizationURL: app.AuthURI,
		ClientID:         app.ClientID,
		ClientSecret:     app.ClientSecret,
	}
}

// CompleteOAuth exchanges the authorization code for an access token.
func (w *Website) CompleteOAuth(ctx context.Context, in CompleteOAuthInput) CompleteOAuthOutput {
	code := strings.TrimSpace(in.Code)
	if code == "" {
		return CompleteOAuthOutput{Message: "authorization code is required"}
	}
	data, err := website.LoadData[AccountData](w.Data())
	if err != nil {
		return CompleteOAuthOutput{Message: err.Error()}
	}
	if data.InstanceURL == "" || data.ClientID == "" {
		return CompleteOAuthOutput{Message: "register the app first"}
	}

	client := w.api(data)
	if err := client.AuthenticateToken(ctx, code, redirectURI); err != nil {
		return CompleteOAuthOutput{Message: fmt.Sprintf("token exchange failed: %v", err)}
	}
	data.AccessToken = client.Config.AccessToken

	account, err := client.GetAccountCurrentUser(ctx)
	if err != nil {
		return CompleteOAuthOutput{Message: fmt.Sprintf("verify credentials: %v", err)}
	}
	data.Username = account.Username
	if err := website.StoreData(w.Data(), data); err != nil {
		return CompleteOAuthOutput{Message: err.Error()}
	}
	return CompleteOAuthOutput{Success: true, Username: account.Username}
}

func normalizeInstance(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("instance url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid instance url %q", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}
