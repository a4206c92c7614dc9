// Package auth acquires Microsoft Graph access tokens with the OAuth device
// code flow and keeps them in a small JSON cache file, so the user is only
// prompted when no refresh token is left.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/use-agent/changehub/config"
	"github.com/use-agent/changehub/models"
)

// DefaultAuthority is the Microsoft identity platform host.
const DefaultAuthority = "https://login.microsoftonline.com"

// DefaultScopes grants write access to SharePoint lists and a refresh token.
var DefaultScopes = []string{"https://graph.microsoft.com/Sites.ReadWrite.All", "offline_access"}

// Source hands out access tokens. It is safe for concurrent use; at most
// one sign-in runs at a time.
type Source struct {
	conf      *oauth2.Config
	authority string
	cachePath string

	client *http.Client
	prompt func(*oauth2.DeviceAuthResponse)
	log    *slog.Logger

	mu  sync.Mutex
	tok *oauth2.Token
}

// Option configures a Source.
type Option func(*Source)

// WithAuthority overrides the identity platform host, for national clouds
// such as https://login.microsoftonline.us.
func WithAuthority(authority string) Option {
	return func(s *Source) { s.authority = strings.TrimRight(authority, "/") }
}

// WithPrompt sets the function that shows the device code to the user.
// The default logs the verification URL and user code.
func WithPrompt(prompt func(*oauth2.DeviceAuthResponse)) Option {
	return func(s *Source) { s.prompt = prompt }
}

// WithHTTPClient sets the client used for token requests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Source) { s.client = c }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Source) { s.log = l }
}

// NewSource creates a Source for the Graph configuration.
func NewSource(cfg config.GraphConfig, opts ...Option) *Source {
	s := &Source{
		authority: DefaultAuthority,
		cachePath: cfg.TokenCache,
		client:    &http.Client{Timeout: 30 * time.Second},
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.prompt == nil {
		s.prompt = func(da *oauth2.DeviceAuthResponse) {
			s.log.Warn("sign-in required", "url", da.VerificationURI, "code", da.UserCode)
		}
	}
	s.conf = &oauth2.Config{
		ClientID: cfg.ClientID,
		Endpoint: endpoint(cfg.TenantID, s.authority),
		Scopes:   DefaultScopes,
	}
	return s
}

// endpoint is the Azure AD v2 endpoint for tenant, moved to authority when
// that is not the public cloud. Public clients send client_id in the form.
func endpoint(tenant, authority string) oauth2.Endpoint {
	ep := microsoft.AzureADEndpoint(tenant)
	if authority != DefaultAuthority {
		ep.AuthURL = strings.Replace(ep.AuthURL, DefaultAuthority, authority, 1)
		ep.TokenURL = strings.Replace(ep.TokenURL, DefaultAuthority, authority, 1)
		ep.DeviceAuthURL = strings.Replace(ep.DeviceAuthURL, DefaultAuthority, authority, 1)
	}
	ep.AuthStyle = oauth2.AuthStyleInParams
	return ep
}

// Token returns a valid access token.
//
// Resolution order (numbered steps match the inline comments):
//
//  1. Memory        – token from an earlier call
//  2. Cache file    – token from an earlier run
//  3. Refresh       – redeem the cached refresh token
//  4. Device code   – prompt the user and wait until they sign in
func (s *Source) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)

	// ── 1. Memory / 2. Cache file ────────────────────────────────────
	if s.tok == nil {
		cached, err := loadToken(s.cachePath)
		if err != nil {
			s.log.Warn("ignoring unreadable token cache", "error", err)
		}
		s.tok = cached
	}

	// ── 3. Refresh ───────────────────────────────────────────────────
	// reuse hands back s.tok itself while it is still valid.
	if s.tok != nil {
		tok, err := s.reuse(ctx, s.tok).Token()
		if err == nil {
			return s.store(tok), nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.log.Info("cached token unusable, starting device code sign-in", "error", err)
	}

	// ── 4. Device code ───────────────────────────────────────────────
	tok, err := s.deviceCode(ctx)
	if err != nil {
		return "", err
	}
	return s.store(tok), nil
}

// reuse returns tok while it is outside expirySkew of its expiry and
// redeems its refresh token otherwise.
func (s *Source) reuse(ctx context.Context, tok *oauth2.Token) oauth2.TokenSource {
	return oauth2.ReuseTokenSourceWithExpiry(tok, s.conf.TokenSource(ctx, tok), expirySkew)
}

// store keeps tok in memory and writes it to the cache file when it is new.
func (s *Source) store(tok *oauth2.Token) string {
	if tok == s.tok {
		return tok.AccessToken
	}
	if tok.RefreshToken == "" && s.tok != nil {
		tok.RefreshToken = s.tok.RefreshToken
	}
	s.tok = tok
	if err := saveToken(s.cachePath, tok); err != nil {
		s.log.Warn("could not persist token cache", "error", err)
	}
	return tok.AccessToken
}

func (s *Source) deviceCode(ctx context.Context) (*oauth2.Token, error) {
	da, err := s.conf.DeviceAuth(ctx)
	if err != nil {
		return nil, models.NewHarvestError(models.ErrCodeAuthFailed, "device code request failed", err)
	}
	if da.DeviceCode == "" {
		return nil, models.NewHarvestError(models.ErrCodeAuthFailed, "identity platform returned no device code", nil)
	}
	s.prompt(da)

	tok, err := s.conf.DeviceAccessToken(ctx, da)
	if err == nil {
		s.log.Info("signed in to Microsoft Graph")
		return tok, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var re *oauth2.RetrieveError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return nil, models.NewHarvestError(models.ErrCodeAuthFailed, "device code expired before sign-in", nil)
	case errors.As(err, &re):
		return nil, models.NewHarvestError(models.ErrCodeAuthFailed,
			fmt.Sprintf("sign-in failed: %s", re.ErrorCode), errors.New(re.ErrorDescription))
	default:
		return nil, models.NewHarvestError(models.ErrCodeAuthFailed, "token poll failed", err)
	}
}
