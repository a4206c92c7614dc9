package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/use-agent/changehub/cache"
	"github.com/use-agent/changehub/harvest"
)

// DefaultGraphURL is the Microsoft Graph v1.0 endpoint.
const DefaultGraphURL = "https://graph.microsoft.com/v1.0"

// maxRetryAfter caps how long a throttled request waits before its one
// retry.
const maxRetryAfter = 30 * time.Second

// GraphError is a non-2xx Graph response.
type GraphError struct {
	Status int
	URL    string
	Body   string
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("graph: HTTP %d for %s: %s", e.Status, e.URL, e.Body)
}

// do sends one Graph request, paced by the limiter. Throttled requests
// (429, 503) are retried once after Retry-After.
func (s *Sink) do(ctx context.Context, method, endpoint string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("graph: encode body: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		token, err := s.tokens.Token(ctx)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, method, s.graphURL+endpoint, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("graph: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if method == http.MethodGet {
			// Title and date columns are rarely indexed.
			req.Header.Set("Prefer", "HonorNonIndexedQueriesWarningMayFailRandomly")
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("graph: %s %s: %w", method, endpoint, err)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("graph: read response: %w", err)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable) && attempt == 0 {
			wait := retryAfter(resp.Header.Get("Retry-After"))
			s.log.Warn("graph throttled, retrying", "status", resp.StatusCode, "wait", wait)
			if err := harvest.Sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}
		if resp.StatusCode >= 300 {
			return &GraphError{Status: resp.StatusCode, URL: endpoint, Body: strings.TrimSpace(string(data))}
		}
		if out == nil || len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("graph: decode %s: %w", endpoint, err)
		}
		return nil
	}
}

func retryAfter(header string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || secs <= 0 {
		return time.Second
	}
	return min(time.Duration(secs)*time.Second, maxRetryAfter)
}

// siteID resolves a site URL such as https://contoso.sharepoint.com/sites/IT.
func (s *Sink) siteID(ctx context.Context) (string, error) {
	return s.resolver.Resolve(ctx, cache.SiteKey(s.cfg.SiteURL), func(ctx context.Context) (string, error) {
		u, err := url.Parse(s.cfg.SiteURL)
		if err != nil || u.Host == "" {
			return "", fmt.Errorf("graph: bad site URL %q", s.cfg.SiteURL)
		}
		var site struct {
			ID string `json:"id"`
		}
		endpoint := "/sites/" + u.Hostname() + ":" + strings.TrimRight(u.EscapedPath(), "/")
		if err := s.do(ctx, http.MethodGet, endpoint, nil, &site); err != nil {
			return "", err
		}
		if site.ID == "" {
			return "", fmt.Errorf("graph: could not resolve site id for %s", s.cfg.SiteURL)
		}
		return site.ID, nil
	})
}

// listID resolves a list by its display name.
func (s *Sink) listID(ctx context.Context, siteID, name string) (string, error) {
	return s.resolver.Resolve(ctx, cache.ListKey(siteID, name), func(ctx context.Context) (string, error) {
		q := url.Values{
			"$filter": {"displayName eq '" + odataQuote(name) + "'"},
			"$select": {"id,displayName"},
		}
		var result struct {
			Value []struct {
				ID          string `json:"id"`
				DisplayName string `json:"displayName"`
			} `json:"value"`
		}
		if err := s.do(ctx, http.MethodGet, "/sites/"+siteID+"/lists?"+q.Encode(), nil, &result); err != nil {
			return "", err
		}
		for _, l := range result.Value {
			if l.DisplayName == name {
				return l.ID, nil
			}
		}
		return "", fmt.Errorf("graph: list %q not found (check the list name)", name)
	})
}

// exists reports whether an item with this title and date is already in
// the list.
func (s *Sink) exists(ctx context.Context, siteID, listID, title, dateField, dateValue string) (bool, error) {
	q := url.Values{
		"$filter": {fmt.Sprintf("fields/Title eq '%s' and fields/%s eq '%s'", odataQuote(title), dateField, odataQuote(dateValue))},
		"$select": {"id"},
		"$top":    {"1"},
	}
	var result struct {
		Value []json.RawMessage `json:"value"`
	}
	endpoint := "/sites/" + siteID + "/lists/" + listID + "/items?" + q.Encode()
	if err := s.do(ctx, http.MethodGet, endpoint, nil, &result); err != nil {
		return false, err
	}
	return len(result.Value) > 0, nil
}

func (s *Sink) create(ctx context.Context, siteID, listID string, fields map[string]string) error {
	body := map[string]any{"fields": fields}
	return s.do(ctx, http.MethodPost, "/sites/"+siteID+"/lists/"+listID+"/items", body, nil)
}

func odataQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
