// Package oauth implements Google sign-in for the auth handler.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/zhouzirui/genx/backend/internal/config"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

var (
	ErrExchange        = errors.New("oauth code exchange failed")
	ErrProfile         = errors.New("failed to fetch user profile")
	ErrEmailMissing    = errors.New("identity provider returned no email")
	ErrEmailUnverified = errors.New("identity provider email is not verified")
)

// Profile is the identity returned by the provider.
type Profile struct {
	Name  string
	Email string
	Image string
}

// Provider is an OAuth2 identity provider.
type Provider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*Profile, error)
}

// GoogleProvider 使用 Google OAuth2 完成登录。
type GoogleProvider struct {
	cfg         *oauth2.Config
	userInfoURL string
}

// NewGoogleProvider builds a provider from the auth configuration.
func NewGoogleProvider(cfg config.AuthConfig) *GoogleProvider {
	return &GoogleProvider{
		cfg: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: googleUserInfoURL,
	}
}

// AuthCodeURL returns the consent page URL carrying state.
func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.cfg.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the authorization code for a token and loads the profile.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*Profile, error) {
	token, err := p.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExchange, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProfile, err)
	}
	resp, err := p.cfg.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProfile, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrProfile, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return decodeGoogleProfile(resp.Body)
}

func decodeGoogleProfile(r io.Reader) (*Profile, error) {
	var info struct {
		Name          string `json:"name"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Picture       string `json:"picture"`
	}
	if err := json.NewDecoder(r).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProfile, err)
	}
	if info.Email == "" {
		return nil, ErrEmailMissing
	}
	if !info.EmailVerified {
		return nil, ErrEmailUnverified
	}
	name := info.Name
	if name == "" {
		name, _, _ = strings.Cut(info.Email, "@")
	}
	return &Profile{Name: name, Email: info.Email, Image: info.Picture}, nil
}
