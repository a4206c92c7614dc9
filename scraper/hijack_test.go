package scraper

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"
)

func TestIsTelemetryDomain(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"js.monitor.azure.com", true},
		{"eastus-8.in.applicationinsights.azure.com", true},
		{"WWW.CLARITY.MS", true},
		{"entra.microsoft.com", false},
		{"portal.azure.com", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isTelemetryDomain(tt.host); got != tt.want {
			t.Errorf("isTelemetryDomain(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}

func TestBlockedTypes(t *testing.T) {
	got := blockedTypes([]string{"Image", "Font", "Bogus"})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if _, ok := got[proto.NetworkResourceTypeImage]; !ok {
		t.Error("Image not blocked")
	}
	if _, ok := got[proto.NetworkResourceTypeFont]; !ok {
		t.Error("Font not blocked")
	}
}

func TestToHeadersMap(t *testing.T) {
	got := toHeadersMap(map[string]string{"Accept-Language": "en-US"})
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if v := got["Accept-Language"].Str(); v != "en-US" {
		t.Errorf("Accept-Language = %q", v)
	}
}
