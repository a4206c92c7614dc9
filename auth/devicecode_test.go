package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/use-agent/changehub/config"
	"github.com/use-agent/changehub/models"
)

const deviceCodeGrant = "urn:ietf:params:oauth:grant-type:device_code"

// fakeIdP is a scripted identity platform.
type fakeIdP struct {
	mu        sync.Mutex
	polls     []string // error codes returned by successive device code polls; "" means success
	pending   bool     // keep answering authorization_pending once polls run out
	expiresIn int
	grants    []string
	refreshOK bool
}

func (f *fakeIdP) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /contoso/oauth2/v2.0/devicecode", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("client_id") != "app-id" {
			t.Errorf("client_id = %q", r.FormValue("client_id"))
		}
		if !strings.Contains(r.FormValue("scope"), "offline_access") {
			t.Errorf("scope = %q, want offline_access", r.FormValue("scope"))
		}
		expiresIn := f.expiresIn
		if expiresIn == 0 {
			expiresIn = 900
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"device_code":      "dev-code",
			"user_code":        "ABCD-EFGH",
			"verification_uri": "https://microsoft.com/devicelogin",
			"expires_in":       expiresIn,
			"interval":         1,
			"message":          "To sign in, use a web browser to open the page https://microsoft.com/devicelogin and enter the code ABCD-EFGH.",
		})
	})
	mux.HandleFunc("POST /contoso/oauth2/v2.0/token", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		grant := r.FormValue("grant_type")
		f.grants = append(f.grants, grant)
		if r.FormValue("client_id") != "app-id" {
			t.Errorf("client_id = %q", r.FormValue("client_id"))
		}

		switch grant {
		case "refresh_token":
			if !f.refreshOK {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "expired"})
				return
			}
			writeJSON(w, http.StatusOK, tokenBody("refreshed", "rt-2"))
		case deviceCodeGrant:
			if r.FormValue("device_code") != "dev-code" {
				t.Errorf("device_code = %q", r.FormValue("device_code"))
			}
			code := ""
			if len(f.polls) > 0 {
				code, f.polls = f.polls[0], f.polls[1:]
			} else if f.pending {
				code = "authorization_pending"
			}
			if code != "" {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": code, "error_description": code + " from test"})
				return
			}
			writeJSON(w, http.StatusOK, tokenBody("fresh", "rt-1"))
		default:
			t.Errorf("unexpected grant %q", grant)
		}
	})
	return mux
}

func (f *fakeIdP) grantCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.grants)
}

func tokenBody(access, refresh string) map[string]any {
	return map[string]any{"access_token": access, "token_type": "Bearer", "refresh_token": refresh, "expires_in": 3600}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestSource(t *testing.T, idp *fakeIdP, cachePath string, prompt func(*oauth2.DeviceAuthResponse)) *Source {
	t.Helper()
	srv := httptest.NewServer(idp.handler(t))
	t.Cleanup(srv.Close)

	cfg := config.GraphConfig{TenantID: "contoso", ClientID: "app-id", TokenCache: cachePath}
	opts := []Option{WithAuthority(srv.URL + "/"), WithHTTPClient(srv.Client())}
	if prompt != nil {
		opts = append(opts, WithPrompt(prompt))
	}
	return NewSource(cfg, opts...)
}

func TestTokenDeviceCodeFlow(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "nested", "token-cache.json")
	idp := &fakeIdP{polls: []string{"authorization_pending", ""}}
	var prompted *oauth2.DeviceAuthResponse
	s := newTestSource(t, idp, cachePath, func(da *oauth2.DeviceAuthResponse) { prompted = da })

	tok, err := s.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "fresh" {
		t.Errorf("token = %q, want fresh", tok)
	}
	if prompted == nil || prompted.UserCode != "ABCD-EFGH" {
		t.Fatalf("prompted = %+v", prompted)
	}
	if prompted.VerificationURI != "https://microsoft.com/devicelogin" {
		t.Errorf("verification uri = %q", prompted.VerificationURI)
	}
	if idp.grantCount() != 2 {
		t.Errorf("token polls = %d, want 2", idp.grantCount())
	}

	info, err := os.Stat(cachePath)
	if err != nil {
		t.Fatalf("token cache not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("token cache mode = %o, want 600", perm)
	}
	cached, err := loadToken(cachePath)
	if err != nil || cached.RefreshToken != "rt-1" || cached.AccessToken != "fresh" {
		t.Errorf("cached token = %+v, %v", cached, err)
	}

	// A second call is served from memory.
	if _, err := s.Token(context.Background()); err != nil {
		t.Fatalf("Token: %v", err)
	}
	if idp.grantCount() != 2 {
		t.Errorf("second Token call hit the network")
	}
}

func TestTokenFromCacheFile(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "token-cache.json")
	if err := saveToken(cachePath, &oauth2.Token{AccessToken: "cached", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	idp := &fakeIdP{}
	s := newTestSource(t, idp, cachePath, func(*oauth2.DeviceAuthResponse) { t.Error("prompted despite a valid cached token") })

	tok, err := s.Token(context.Background())
	if err != nil || tok != "cached" {
		t.Fatalf("Token = %q, %v", tok, err)
	}
	if idp.grantCount() != 0 {
		t.Errorf("grants = %v, want none", idp.grants)
	}
}

func TestTokenRefreshesExpired(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "token-cache.json")
	if err := saveToken(cachePath, &oauth2.Token{AccessToken: "old", RefreshToken: "rt-0", Expiry: time.Now().Add(-time.Hour)}); err != nil {
		t.Fatal(err)
	}
	idp := &fakeIdP{refreshOK: true}
	s := newTestSource(t, idp, cachePath, func(*oauth2.DeviceAuthResponse) { t.Error("prompted despite a usable refresh token") })

	tok, err := s.Token(context.Background())
	if err != nil || tok != "refreshed" {
		t.Fatalf("Token = %q, %v", tok, err)
	}
	cached, _ := loadToken(cachePath)
	if cached == nil || cached.RefreshToken != "rt-2" {
		t.Errorf("cache not updated: %+v", cached)
	}
}

func TestTokenRefreshesInsideSkew(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "token-cache.json")
	if err := saveToken(cachePath, &oauth2.Token{AccessToken: "old", RefreshToken: "rt-0", Expiry: time.Now().Add(30 * time.Second)}); err != nil {
		t.Fatal(err)
	}
	idp := &fakeIdP{refreshOK: true}
	s := newTestSource(t, idp, cachePath, nil)

	tok, err := s.Token(context.Background())
	if err != nil || tok != "refreshed" {
		t.Fatalf("Token = %q, %v, want a refresh inside the expiry skew", tok, err)
	}
}

func TestTokenFallsBackToDeviceCodeWhenRefreshRejected(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "token-cache.json")
	if err := saveToken(cachePath, &oauth2.Token{AccessToken: "old", RefreshToken: "rt-0", Expiry: time.Now().Add(-time.Hour)}); err != nil {
		t.Fatal(err)
	}
	idp := &fakeIdP{}
	prompts := 0
	s := newTestSource(t, idp, cachePath, func(*oauth2.DeviceAuthResponse) { prompts++ })

	tok, err := s.Token(context.Background())
	if err != nil || tok != "fresh" {
		t.Fatalf("Token = %q, %v", tok, err)
	}
	if prompts != 1 {
		t.Errorf("prompts = %d, want 1", prompts)
	}
}

func TestTokenDeclined(t *testing.T) {
	idp := &fakeIdP{polls: []string{"authorization_declined"}}
	s := newTestSource(t, idp, "", func(*oauth2.DeviceAuthResponse) {})

	_, err := s.Token(context.Background())
	var he *models.HarvestError
	if !errors.As(err, &he) || he.Code != models.ErrCodeAuthFailed {
		t.Fatalf("err = %v, want %s", err, models.ErrCodeAuthFailed)
	}
	if !strings.Contains(he.Message, "authorization_declined") {
		t.Errorf("message = %q", he.Message)
	}
}

func TestTokenDeviceCodeExpires(t *testing.T) {
	idp := &fakeIdP{pending: true, expiresIn: 1}
	s := newTestSource(t, idp, "", func(*oauth2.DeviceAuthResponse) {})

	_, err := s.Token(context.Background())
	var he *models.HarvestError
	if !errors.As(err, &he) || he.Code != models.ErrCodeAuthFailed {
		t.Fatalf("err = %v, want %s", err, models.ErrCodeAuthFailed)
	}
}

func TestTokenCanceled(t *testing.T) {
	idp := &fakeIdP{pending: true}
	ctx, cancel := context.WithCancel(context.Background())
	s := newTestSource(t, idp, "", func(*oauth2.DeviceAuthResponse) { cancel() })

	_, err := s.Token(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestEndpointAuthority(t *testing.T) {
	ep := endpoint("contoso", DefaultAuthority)
	if ep.DeviceAuthURL != "https://login.microsoftonline.com/contoso/oauth2/v2.0/devicecode" {
		t.Errorf("device auth url = %q", ep.DeviceAuthURL)
	}
	if ep.AuthStyle != oauth2.AuthStyleInParams {
		t.Errorf("auth style = %v, want in params", ep.AuthStyle)
	}

	ep = endpoint("contoso", "https://login.microsoftonline.us")
	if ep.TokenURL != "https://login.microsoftonline.us/contoso/oauth2/v2.0/token" {
		t.Errorf("token url = %q", ep.TokenURL)
	}
}
