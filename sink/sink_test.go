package sink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/use-agent/changehub/cache"
	"github.com/use-agent/changehub/config"
	"github.com/use-agent/changehub/models"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

// fakeGraph serves one site with one list.
type fakeGraph struct {
	mu       sync.Mutex
	existing map[string]bool // Title|date already in the list
	created  []map[string]string
	failOn   string // Title whose creation fails
	siteHits int
	listHits int
	throttle int // 429 responses to send before serving
}

func (g *fakeGraph) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()

		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if g.throttle > 0 {
			g.throttle--
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		path := r.URL.Path
		switch {
		case r.Method == http.MethodGet && path == "/sites/contoso.sharepoint.com:/sites/IT":
			g.siteHits++
			writeJSON(w, map[string]any{"id": "site-1"})
		case r.Method == http.MethodGet && path == "/sites/site-1/lists":
			g.listHits++
			if !strings.Contains(r.URL.Query().Get("$filter"), "'EntraRoadmapItems'") {
				t.Errorf("list filter = %q", r.URL.Query().Get("$filter"))
			}
			writeJSON(w, map[string]any{"value": []map[string]string{
				{"id": "list-1", "displayName": "EntraRoadmapItems"},
			}})
		case r.Method == http.MethodGet && path == "/sites/site-1/lists/list-1/items":
			filter := r.URL.Query().Get("$filter")
			var value []map[string]string
			for key := range g.existing {
				title, date, _ := strings.Cut(key, "|")
				if strings.Contains(filter, "eq '"+strings.ReplaceAll(title, "'", "''")+"'") && strings.Contains(filter, "'"+date+"'") {
					value = append(value, map[string]string{"id": "x"})
				}
			}
			writeJSON(w, map[string]any{"value": value})
		case r.Method == http.MethodPost && path == "/sites/site-1/lists/list-1/items":
			var body struct {
				Fields map[string]string `json:"fields"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode create body: %v", err)
			}
			if body.Fields["Title"] == g.failOn {
				http.Error(w, `{"error":{"code":"invalidRequest"}}`, http.StatusBadRequest)
				return
			}
			g.created = append(g.created, body.Fields)
			w.WriteHeader(http.StatusCreated)
			writeJSON(w, map[string]any{"id": "new"})
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL)
			http.NotFound(w, r)
		}
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func testGraphConfig() config.GraphConfig {
	return config.GraphConfig{
		SiteURL:  "https://contoso.sharepoint.com/sites/IT/",
		ClientID: "app",
		TenantID: "contoso",
		Lists: map[string]config.ListConfig{
			"roadmap": {
				Name:      "EntraRoadmapItems",
				DateField: "ReleaseDate",
				Mapping: map[string]string{
					"Title":       "title",
					"ReleaseDate": "releaseDate",
					"Category":    "category",
				},
			},
		},
	}
}

func newTestSink(t *testing.T, g *fakeGraph, resolver *cache.Resolver) *Sink {
	t.Helper()
	srv := httptest.NewServer(g.handler(t))
	t.Cleanup(srv.Close)
	return New(testGraphConfig(), staticToken("tok"), resolver,
		WithGraphURL(srv.URL), WithHTTPClient(srv.Client()))
}

func TestInsert(t *testing.T) {
	g := &fakeGraph{existing: map[string]bool{"Passkeys|2025-03": true}, failOn: "Broken"}
	s := newTestSink(t, g, cache.New())

	rows := []map[string]string{
		{"title": "Passkeys", "releaseDate": "2025-03", "category": "Auth"},
		{"title": "What If", "releaseDate": "2025-04", "category": "CA"},
		{"title": "what if", "releaseDate": "2025-04", "category": "CA"},
		{"title": "Broken", "releaseDate": "2025-05"},
		{"title": "Undated"},
	}
	res, err := s.Insert(context.Background(), "roadmap", rows)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	want := Result{Source: "roadmap", List: "EntraRoadmapItems", Inserted: 2, Skipped: 2, Failed: 1}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	wantCreated := []map[string]string{
		{"Title": "What If", "ReleaseDate": "2025-04", "Category": "CA"},
		{"Title": "Undated", "ReleaseDate": "", "Category": ""},
	}
	if diff := cmp.Diff(wantCreated, g.created); diff != "" {
		t.Errorf("created items mismatch (-want +got):\n%s", diff)
	}
}

func TestInsertResolvesOncePerRun(t *testing.T) {
	g := &fakeGraph{}
	resolver := cache.New()
	s := newTestSink(t, g, resolver)
	rows := []map[string]string{{"title": "A", "releaseDate": "1"}}

	for i := 0; i < 2; i++ {
		if _, err := s.Insert(context.Background(), "roadmap", rows); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if g.siteHits != 1 || g.listHits != 1 {
		t.Errorf("site/list lookups = %d/%d, want 1/1", g.siteHits, g.listHits)
	}

	resolver.Reset()
	if _, err := s.Insert(context.Background(), "roadmap", rows); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if g.siteHits != 2 || g.listHits != 2 {
		t.Errorf("after Reset site/list lookups = %d/%d, want 2/2", g.siteHits, g.listHits)
	}
}

func TestInsertRetriesThrottled(t *testing.T) {
	g := &fakeGraph{throttle: 1}
	s := newTestSink(t, g, cache.New())

	res, err := s.Insert(context.Background(), "roadmap", []map[string]string{{"title": "A", "releaseDate": "1"}})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if res.Inserted != 1 {
		t.Errorf("Inserted = %d, want 1", res.Inserted)
	}
}

func TestInsertUnconfiguredList(t *testing.T) {
	s := New(testGraphConfig(), staticToken("tok"), cache.New())

	_, err := s.Insert(context.Background(), "whatsNew", nil)
	var he *models.HarvestError
	if !errors.As(err, &he) || he.Code != models.ErrCodeSinkFailed {
		t.Fatalf("err = %v, want %s", err, models.ErrCodeSinkFailed)
	}
}

func TestMapFields(t *testing.T) {
	tests := []struct {
		name    string
		mapping map[string]string
		row     map[string]string
		want    map[string]string
	}{
		{
			name:    "mapped title",
			mapping: map[string]string{"Title": "title", "Svc": "service"},
			row:     map[string]string{"title": "T", "service": "Entra ID"},
			want:    map[string]string{"Title": "T", "Svc": "Entra ID"},
		},
		{
			name:    "title from row",
			mapping: map[string]string{"Svc": "service"},
			row:     map[string]string{"title": "T", "service": "Entra ID"},
			want:    map[string]string{"Title": "T", "Svc": "Entra ID"},
		},
		{
			name:    "positional title",
			mapping: map[string]string{"Svc": "service"},
			row:     map[string]string{},
			want:    map[string]string{"Title": "Item 4", "Svc": ""},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, MapFields(tt.mapping, tt.row, 3)); diff != "" {
				t.Errorf("MapFields mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRetryAfter(t *testing.T) {
	if got := retryAfter("3"); got.Seconds() != 3 {
		t.Errorf("retryAfter(3) = %v", got)
	}
	if got := retryAfter("3600"); got != maxRetryAfter {
		t.Errorf("retryAfter(3600) = %v, want cap", got)
	}
	if got := retryAfter(""); got.Seconds() != 1 {
		t.Errorf("retryAfter(\"\") = %v", got)
	}
}
