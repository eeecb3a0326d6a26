package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GoogleRevokeURL is Google's token revocation endpoint.
const GoogleRevokeURL = "https://oauth2.googleapis.com/revoke"

// GoogleValidator introspects credentials with Google's OAuth2 API.
type GoogleValidator struct {
	// RequiredScopes must all be granted for a credential to count as valid.
	RequiredScopes []string
	// Audience, when set, must match the client the credential was issued to.
	Audience string

	opts []option.ClientOption
}

// NewGoogleValidator constructs a validator. Extra client options are
// appended after the per-call token source (endpoint overrides, HTTP client).
func NewGoogleValidator(requiredScopes []string, audience string, opts ...option.ClientOption) *GoogleValidator {
	return &GoogleValidator{RequiredScopes: requiredScopes, Audience: audience, opts: opts}
}

func (v *GoogleValidator) service(ctx context.Context, token string) (*oauth2api.Service, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, v.opts...)
	return oauth2api.NewService(ctx, opts...)
}

// Introspect asks the provider whether token is still accepted.
func (v *GoogleValidator) Introspect(ctx context.Context, token string) (bool, error) {
	if strings.TrimSpace(token) == "" {
		return false, nil
	}

	svc, err := v.service(ctx, token)
	if err != nil {
		return false, fmt.Errorf("%w: oauth2 client: %v", ErrProvider, err)
	}

	info, err := svc.Tokeninfo().AccessToken(token).Context(ctx).Do()
	if err != nil {
		if rejected(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: tokeninfo: %v", ErrProvider, err)
	}

	if info.ExpiresIn <= 0 {
		return false, nil
	}
	if v.Audience != "" && info.Audience != v.Audience && info.IssuedTo != v.Audience {
		return false, nil
	}
	granted := strings.Fields(info.Scope)
	for _, want := range v.RequiredScopes {
		if !contains(granted, want) {
			return false, nil
		}
	}
	return true, nil
}

// UserInfo fetches the identity token belongs to.
func (v *GoogleValidator) UserInfo(ctx context.Context, token string) (User, error) {
	svc, err := v.service(ctx, token)
	if err != nil {
		return User{}, fmt.Errorf("%w: oauth2 client: %v", ErrProvider, err)
	}

	ui, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return User{}, fmt.Errorf("%w: userinfo: %v", ErrProvider, err)
	}
	if strings.TrimSpace(ui.Email) == "" {
		return User{}, fmt.Errorf("%w: userinfo: missing email", ErrProvider)
	}
	return User{Email: ui.Email, Name: ui.Name}, nil
}

func rejected(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	return gerr.Code == http.StatusBadRequest || gerr.Code == http.StatusUnauthorized
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// GoogleRevoker revokes credentials at Google's revocation endpoint.
type GoogleRevoker struct {
	client *resty.Client
	url    string
}

// NewGoogleRevoker constructs a revoker. An empty endpoint selects GoogleRevokeURL.
func NewGoogleRevoker(endpoint string, timeout time.Duration) *GoogleRevoker {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = GoogleRevokeURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &GoogleRevoker{client: c, url: endpoint}
}

// Revoke revokes token. A token the provider no longer knows counts as revoked.
func (r *GoogleRevoker) Revoke(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}

	var body struct {
		Error string `json:"error"`
	}
	resp, err := r.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{"token": token}).
		SetError(&body).
		Post(r.url)
	if err != nil {
		return fmt.Errorf("%w: revoke: %v", ErrProvider, err)
	}
	if resp.IsError() {
		if resp.StatusCode() == http.StatusBadRequest && body.Error == "invalid_token" {
			return nil
		}
		return fmt.Errorf("%w: revoke: status %d", ErrProvider, resp.StatusCode())
	}
	return nil
}
