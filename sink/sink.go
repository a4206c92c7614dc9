// Package sink copies harvested records into SharePoint lists through
// Microsoft Graph.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/time/rate"

	"github.com/use-agent/changehub/cache"
	"github.com/use-agent/changehub/config"
	"github.com/use-agent/changehub/models"
)

// TokenSource supplies Graph access tokens. *auth.Source satisfies it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Result summarizes one list insertion.
type Result struct {
	Source   string `json:"source"`
	List     string `json:"list"`
	Inserted int    `json:"inserted"`
	Skipped  int    `json:"skipped"`
	Failed   int    `json:"failed"`
}

// Sink inserts rows into the configured lists.
type Sink struct {
	cfg      config.GraphConfig
	tokens   TokenSource
	resolver *cache.Resolver
	client   *http.Client
	limiter  *rate.Limiter
	graphURL string
	log      *slog.Logger
}

// Option configures a Sink.
type Option func(*Sink)

// WithGraphURL points the sink at another Graph endpoint.
func WithGraphURL(u string) Option {
	return func(s *Sink) { s.graphURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the client used for Graph requests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Sink) { s.client = c }
}

// WithLogger sets the sink's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) { s.log = l }
}

// New creates a Sink. The resolver is owned by the caller, who resets it
// at the start of every run.
func New(cfg config.GraphConfig, tokens TokenSource, resolver *cache.Resolver, opts ...Option) *Sink {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	s := &Sink{
		cfg:      cfg,
		tokens:   tokens,
		resolver: resolver,
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(limit, 1),
		graphURL: DefaultGraphURL,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Insert maps rows onto the list configured for source ("roadmap",
// "changeAnnouncements" or "whatsNew") and creates the ones that are not
// already there. Per-row failures are counted, not returned; the error is
// non-nil only when the list itself cannot be reached.
func (s *Sink) Insert(ctx context.Context, source string, rows []map[string]string) (Result, error) {
	res := Result{Source: source}
	lc, ok := s.cfg.Lists[source]
	if !ok || lc.Name == "" {
		return res, models.NewHarvestError(models.ErrCodeSinkFailed, fmt.Sprintf("no list configured for %q", source), nil)
	}
	res.List = lc.Name
	if len(lc.Mapping) == 0 {
		return res, models.NewHarvestError(models.ErrCodeSinkFailed,
			fmt.Sprintf("no field mapping configured for list %q", lc.Name), nil)
	}
	log := s.log.With("list", lc.Name)
	log.Info("inserting into SharePoint list", "rows", len(rows))

	siteID, err := s.siteID(ctx)
	if err != nil {
		return res, models.NewHarvestError(models.ErrCodeSinkFailed, "could not resolve site", err)
	}
	listID, err := s.listID(ctx, siteID, lc.Name)
	if err != nil {
		return res, models.NewHarvestError(models.ErrCodeSinkFailed, "could not resolve list", err)
	}

	seen := make(map[string]bool, len(rows))
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		fields := MapFields(lc.Mapping, row, i)

		date := fields[lc.DateField]
		if lc.DateField != "" && date != "" {
			key := dedupKey(fields["Title"], date)
			if seen[key] {
				res.Skipped++
				continue
			}
			seen[key] = true

			exists, err := s.exists(ctx, siteID, listID, fields["Title"], lc.DateField, date)
			if err != nil {
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				// An unanswerable duplicate check must not block insertion.
				log.Warn("could not check for duplicate", "title", fields["Title"], "error", err)
			}
			if exists {
				res.Skipped++
				continue
			}
		}

		if err := s.create(ctx, siteID, listID, fields); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failed++
			log.Warn("could not insert item", "index", i+1, "title", fields["Title"], "error", err)
			continue
		}
		res.Inserted++
		if (i+1)%10 == 0 {
			log.Info("sink progress", "processed", i+1, "total", len(rows),
				"inserted", res.Inserted, "skipped", res.Skipped)
		}
	}

	log.Info("list insertion finished", "inserted", res.Inserted, "skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

// MapFields builds the Graph fields object for a row: each list column
// takes the row value named by mapping. Title is always set, falling back
// to the row's "title" and then to a positional name.
func MapFields(mapping, row map[string]string, index int) map[string]string {
	fields := make(map[string]string, len(mapping)+1)
	for column, key := range mapping {
		fields[column] = row[key]
	}
	if fields["Title"] == "" {
		if t := row[titleKey]; t != "" {
			fields["Title"] = t
		} else {
			fields["Title"] = fmt.Sprintf("Item %d", index+1)
		}
	}
	return fields
}

const titleKey = "title"

// dedupKey identifies a row within one batch. Casers are stateful, so each
// call folds with its own.
func dedupKey(title, date string) string {
	fold := cases.Fold()
	return fold.String(strings.TrimSpace(title)) + "\x00" + fold.String(strings.TrimSpace(date))
}
