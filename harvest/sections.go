package harvest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/use-agent/changehub/config"
	"github.com/use-agent/changehub/models"
)

// strategy reads a section's value relative to its heading element.
type strategy func(ctx context.Context, heading Element) (string, error)

// strategies is the fixed set of ways a pane lays out a section's value.
var strategies = map[string]strategy{
	// <div><h3>Overview</h3><span>value</span></div>
	"parent-text": func(ctx context.Context, heading Element) (string, error) {
		el, err := firstInParent(ctx, heading, "span")
		if err != nil {
			return "", err
		}
		return el.Text(ctx)
	},
	// <div><h3>Next steps</h3><a href="value">…</a></div>
	"parent-link": func(ctx context.Context, heading Element) (string, error) {
		el, err := firstInParent(ctx, heading, "a")
		if err != nil {
			return "", err
		}
		return el.Attribute(ctx, "href")
	},
	// <h3>What is changing</h3><span>value</span>
	"sibling-text": func(ctx context.Context, heading Element) (string, error) {
		el, err := heading.NextSibling(ctx, "span")
		if err != nil {
			return "", err
		}
		return el.Text(ctx)
	},
	// <div><h3>Here's what…</h3><p>value</p></div>
	"parent-paragraph": func(ctx context.Context, heading Element) (string, error) {
		el, err := firstInParent(ctx, heading, "p")
		if err != nil {
			return "", err
		}
		return el.Text(ctx)
	},
}

func firstInParent(ctx context.Context, heading Element, selector string) (Element, error) {
	parent, err := heading.Parent(ctx)
	if err != nil {
		return nil, err
	}
	els, err := parent.Elements(ctx, selector)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, ErrNotFound
	}
	return els[0], nil
}

// sectionRule locates a heading by label and reads it with a strategy.
type sectionRule struct {
	label    *regexp.Regexp
	strategy string
}

// section is one Details field. Its rules are alternatives: a later rule
// is consulted only when the earlier rules' headings are absent.
type section struct {
	field string
	rules []sectionRule
}

func buildSections(p config.TextPatterns) ([]section, error) {
	compile := func(pattern string) (*regexp.Regexp, error) {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("compile section label %q: %w", pattern, err)
		}
		return re, nil
	}

	layout := []struct {
		field string
		rules [][2]string // pattern, strategy
	}{
		{models.FieldOverview, [][2]string{{p.Overview, "parent-text"}}},
		{models.FieldURL, [][2]string{{p.NextSteps, "parent-link"}}},
		{models.FieldDescription, [][2]string{
			{p.WhatIsChanging, "sibling-text"},
			{p.ReleaseContents, "parent-paragraph"},
		}},
	}

	sections := make([]section, 0, len(layout))
	for _, l := range layout {
		s := section{field: l.field}
		for _, r := range l.rules {
			if r[0] == "" {
				continue
			}
			re, err := compile(r[0])
			if err != nil {
				return nil, err
			}
			s.rules = append(s.rules, sectionRule{label: re, strategy: r[1]})
		}
		sections = append(sections, s)
	}
	return sections, nil
}

// extractDetails reads every section from the pane. Missing sections are
// empty strings; nothing here fails the row.
func (h *Harvester) extractDetails(ctx context.Context, doc Document, id int) models.Details {
	var d models.Details
	for _, s := range h.sections {
		v := h.extractSection(ctx, doc, s, id)
		switch s.field {
		case models.FieldOverview:
			d.Overview = v
		case models.FieldURL:
			d.URL = v
		case models.FieldDescription:
			d.Description = v
		}
	}
	return d
}

func (h *Harvester) extractSection(ctx context.Context, doc Document, s section, id int) string {
	if doc.Detached(ctx) {
		h.log.Warn("detail pane detached before extraction", "row", id, "section", s.field)
		return ""
	}
	for _, r := range s.rules {
		heading, err := h.findHeading(ctx, doc, r.label.MatchString)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			h.log.Warn("section lookup failed", "row", id, "section", s.field, "error", err)
			return ""
		}

		v, err := strategies[r.strategy](ctx, heading)
		if err != nil {
			h.log.Warn("section value not found", "row", id, "section", s.field,
				"strategy", r.strategy, "error", err)
			return ""
		}
		return strings.TrimSpace(v)
	}
	h.log.Warn("section heading not found", "row", id, "section", s.field)
	return ""
}

// findHeading returns the first heading whose text satisfies match.
func (h *Harvester) findHeading(ctx context.Context, doc Document, match func(string) bool) (Element, error) {
	headings, err := doc.Elements(ctx, h.cfg.Selectors.Heading)
	if err != nil {
		return nil, err
	}
	for _, el := range headings {
		text, err := el.Text(ctx)
		if err != nil {
			continue
		}
		if match(text) {
			return el, nil
		}
	}
	return nil, ErrNotFound
}
