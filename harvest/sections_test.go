package harvest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/use-agent/changehub/config"
	"github.com/use-agent/changehub/models"
)

func TestExtractDetails(t *testing.T) {
	h := newTestHarvester(t, testConfig(), newFakeClock())

	tests := []struct {
		name string
		html string
		want models.Details
	}{
		{
			name: "roadmap layout",
			html: paneHTML("Passkeys", "Adds passkey support."),
			want: models.Details{
				URL:         "https://learn.example.com/passkeys",
				Description: "Adds passkey support.",
				Overview:    "Generally available",
			},
		},
		{
			name: "change announcement layout",
			html: `<html><body>
				<div><h3>Overview</h3><span>Retirement</span></div>
				<div><h3>Here's what you will see in this release</h3>
					<p> Legacy MFA settings move. </p><p>second</p></div>
			</body></html>`,
			want: models.Details{
				Description: "Legacy MFA settings move.",
				Overview:    "Retirement",
			},
		},
		{
			name: "sibling layout preferred over paragraph layout",
			html: `<html><body>
				<div><h3>What is changing</h3><span>sibling</span></div>
				<div><h3>Here's what you will see in this release</h3><p>paragraph</p></div>
			</body></html>`,
			want: models.Details{Description: "sibling"},
		},
		{
			name: "labels match case-insensitively",
			html: `<html><body><div><h3>NEXT STEPS</h3><a href="/docs">docs</a></div></body></html>`,
			want: models.Details{URL: "/docs"},
		},
		{
			name: "heading without target",
			html: `<html><body><div><h3>Overview</h3></div><div><h3>Next steps</h3><span>no link</span></div></body></html>`,
			want: models.Details{},
		},
		{
			name: "empty pane",
			html: `<html><body></body></html>`,
			want: models.Details{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := newHTMLDoc(t, tt.html)
			require.Equal(t, tt.want, h.extractDetails(context.Background(), doc, 7))
		})
	}
}

func TestExtractDetailsDetached(t *testing.T) {
	h := newTestHarvester(t, testConfig(), newFakeClock())
	doc := newHTMLDoc(t, paneHTML("Passkeys", "Adds passkey support."))
	doc.detached = true
	require.Equal(t, models.Details{}, h.extractDetails(context.Background(), doc, 7))
}

func TestBuildSectionsRejectsBadPattern(t *testing.T) {
	_, err := buildSections(config.TextPatterns{Overview: "("})
	require.Error(t, err)

	_, err = New(config.HarvestConfig{TextPatterns: config.TextPatterns{NextSteps: "[a-"}})
	require.Error(t, err)
}

func TestBuildSectionsSkipsEmptyPatterns(t *testing.T) {
	sections, err := buildSections(config.TextPatterns{WhatIsChanging: "changing"})
	require.NoError(t, err)
	require.Len(t, sections, 3)
	for _, s := range sections {
		if s.field == models.FieldDescription {
			require.Len(t, s.rules, 1)
			require.Equal(t, "sibling-text", s.rules[0].strategy)
		} else {
			require.Empty(t, s.rules)
		}
	}
}
