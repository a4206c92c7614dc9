package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/use-agent/changehub/config"
	"github.com/use-agent/changehub/models"
	"github.com/use-agent/changehub/pipeline"
)

type gatedPortal struct{ gate chan struct{} }

func (p *gatedPortal) HarvestTabs(ctx context.Context, _ ...models.Tab) (models.TabResults, error) {
	select {
	case <-p.gate:
	case <-ctx.Done():
		return models.TabResults{}, ctx.Err()
	}
	return models.TabResults{Roadmap: []models.Record{}}, nil
}

type staticWhatsNew []models.WhatsNewItem

func (s staticWhatsNew) Get(context.Context) ([]models.WhatsNewItem, error) { return s, nil }

func newTestRouter(t *testing.T, keys ...string) (http.Handler, *gatedPortal) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Server.Mode = "test"
	cfg.Auth.APIKeys = keys
	cfg.RateLimit.RequestsPerSecond = 100
	cfg.RateLimit.Burst = 100

	ctx, cancel := context.WithCancel(context.Background())
	portal := &gatedPortal{gate: make(chan struct{})}
	t.Cleanup(func() {
		close(portal.gate)
		cancel()
	})

	wn := staticWhatsNew{
		{Month: "March 2025", Title: "Passkeys"},
		{Month: "February 2025", Title: "Legacy MFA"},
	}
	runner := pipeline.New(cfg, portal,
		pipeline.WithWhatsNew(wn),
		pipeline.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return NewRouter(ctx, cfg, Deps{
		Runner:    runner,
		WhatsNew:  wn,
		Browser:   true,
		StartTime: time.Now(),
		Version:   "test",
	}), portal
}

func do(h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthNeedsNoKey(t *testing.T) {
	h, _ := newTestRouter(t, "k1")
	w := do(h, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp models.HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "healthy" || resp.Version != "test" {
		t.Errorf("health = %+v", resp)
	}
}

func TestAuth(t *testing.T) {
	h, _ := newTestRouter(t, "k1")

	tests := []struct {
		name    string
		headers []string
		want    int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong", []string{"X-API-Key", "nope"}, http.StatusUnauthorized},
		{"header", []string{"X-API-Key", "k1"}, http.StatusOK},
		{"bearer", []string{"Authorization", "Bearer k1"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(h, http.MethodGet, "/api/v1/whatsnew", "", tt.headers...)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestHarvestLifecycle(t *testing.T) {
	h, portal := newTestRouter(t)

	w := do(h, http.MethodPost, "/api/v1/harvest", `{"tabs":["roadmap"],"save":false}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("POST status = %d: %s", w.Code, w.Body)
	}
	var started struct {
		Run pipeline.Run `json:"run"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &started); err != nil {
		t.Fatal(err)
	}
	if started.Run.ID == "" || started.Run.Status != pipeline.StatusRunning {
		t.Fatalf("started = %+v", started.Run)
	}

	// Only one session at a time.
	if w := do(h, http.MethodPost, "/api/v1/harvest", `{}`); w.Code != http.StatusConflict {
		t.Errorf("second POST status = %d, want 409", w.Code)
	}

	portal.gate <- struct{}{}
	deadline := time.Now().Add(5 * time.Second)
	for {
		w := do(h, http.MethodGet, "/api/v1/harvest/"+started.Run.ID, "")
		if w.Code != http.StatusOK {
			t.Fatalf("GET status = %d", w.Code)
		}
		var got struct {
			Run pipeline.Run `json:"run"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
			t.Fatal(err)
		}
		if got.Run.Status == pipeline.StatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run still %s", got.Run.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHarvestRejectsUnknownTab(t *testing.T) {
	h, _ := newTestRouter(t)
	if w := do(h, http.MethodPost, "/api/v1/harvest", `{"tabs":["overview"]}`); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetUnknownRun(t *testing.T) {
	h, _ := newTestRouter(t)
	if w := do(h, http.MethodGet, "/api/v1/harvest/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestWhatsNewMonthFilter(t *testing.T) {
	h, _ := newTestRouter(t)
	w := do(h, http.MethodGet, "/api/v1/whatsnew?month=March+2025", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp models.WhatsNewResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 1 || resp.Items[0].Title != "Passkeys" {
		t.Errorf("resp = %+v", resp)
	}
}
