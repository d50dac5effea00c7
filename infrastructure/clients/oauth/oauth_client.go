package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/configuration"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Client performs the OAuth2 code exchange and token refresh for every configured platform.
type Client struct {
	configs    map[string]*oauth2.Config
	httpClient *http.Client
}

func NewClient(platforms map[string]configuration.PlatformConfig, httpClient *http.Client) *Client {
	configs := make(map[string]*oauth2.Config, len(platforms))
	for name, p := range platforms {
		if !p.Enabled || p.ClientID == "" {
			continue
		}
		endpoint := oauth2.Endpoint{AuthURL: p.AuthURL, TokenURL: p.TokenURL}
		if name == "youtube" && p.TokenURL == "" {
			endpoint = google.Endpoint
		}
		configs[strings.ToLower(name)] = &oauth2.Config{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			RedirectURL:  p.RedirectURI,
			Scopes:       p.Scopes,
			Endpoint:     endpoint,
		}
	}
	return &Client{configs: configs, httpClient: httpClient}
}

var _ repository.ITokenRefresher = (*Client)(nil)

func (c *Client) Platforms() []string {
	out := make([]string, 0, len(c.configs))
	for name := range c.configs {
		out = append(out, name)
	}
	return out
}

func (c *Client) config(platform string) (*oauth2.Config, error) {
	cfg, ok := c.configs[strings.ToLower(platform)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnsupportedPlatform, platform)
	}
	return cfg, nil
}

func (c *Client) withHTTP(ctx context.Context) context.Context {
	if c.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// AuthCodeURL builds the consent URL the account owner is redirected to.
func (c *Client) AuthCodeURL(platform, state string) (string, error) {
	cfg, err := c.config(platform)
	if err != nil {
		return "", err
	}
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// Exchange trades an authorization code for a credential of accountID.
func (c *Client) Exchange(ctx context.Context, platform, accountID, code string) (*model.OAuth2Credential, error) {
	cfg, err := c.config(platform)
	if err != nil {
		return nil, err
	}
	tok, err := cfg.Exchange(c.withHTTP(ctx), code)
	if err != nil {
		return nil, classifyTokenError("exchange", err)
	}
	cred := &model.OAuth2Credential{AccountID: accountID, Platform: strings.ToLower(platform), Scopes: strings.Join(cfg.Scopes, " ")}
	applyToken(cred, tok)
	return cred, nil
}

// Refresh exchanges the refresh token for a new token pair. The stored credential is not modified.
func (c *Client) Refresh(ctx context.Context, cred *model.OAuth2Credential) (*model.OAuth2Credential, error) {
	cfg, err := c.config(cred.Platform)
	if err != nil {
		return nil, err
	}
	current := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    cred.TokenType,
		Expiry:       time.Now().Add(-1 * time.Minute), // Force refresh
	}
	tok, err := cfg.TokenSource(c.withHTTP(ctx), current).Token()
	if err != nil {
		return nil, classifyTokenError("refresh", err)
	}
	out := *cred
	applyToken(&out, tok)
	return &out, nil
}

func applyToken(cred *model.OAuth2Credential, tok *oauth2.Token) {
	cred.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		cred.RefreshToken = tok.RefreshToken
	}
	if tok.TokenType != "" {
		cred.TokenType = tok.TokenType
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		cred.AccessTokenExpiresAt = &exp
	}
	// Some platforms (TikTok) also bound the refresh token's lifetime.
	if secs, ok := numberExtra(tok, "refresh_expires_in"); ok && secs > 0 {
		exp := time.Now().UTC().Add(time.Duration(secs) * time.Second)
		cred.RefreshTokenExpiresAt = &exp
	}
	if raw, err := json.Marshal(tok); err == nil {
		cred.Raw = raw
	}
}

func numberExtra(tok *oauth2.Token, key string) (int64, bool) {
	switch v := tok.Extra(key).(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	}
	return 0, false
}

func classifyTokenError(stage string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		switch code := re.Response.StatusCode; {
		case code == http.StatusBadRequest || code == http.StatusUnauthorized || code == http.StatusForbidden:
			// invalid_grant and friends: the account has to re-authorize.
			return &model.PublishError{Kind: model.KindAuthRejected, Stage: stage, Message: re.Error(), Err: err}
		case code == http.StatusTooManyRequests:
			return &model.PublishError{Kind: model.KindQuotaExceeded, Stage: stage, Message: re.Error(), Err: err}
		}
	}
	return model.Transient(stage, err)
}
