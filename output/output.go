// Package output writes run results to disk: one pretty-printed JSON file
// per harvested tab and a Markdown run summary.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/use-agent/changehub/models"
)

// TimestampLayout is the file-name timestamp, e.g. 2025-03-01T12-30-45.
const TimestampLayout = "2006-01-02T15-04-05"

// File name prefixes.
const (
	RoadmapPrefix             = "roadmap"
	ChangeAnnouncementsPrefix = "change-announcements"
	WhatsNewPrefix            = "whats-new"
	SummaryPrefix             = "summary"
)

// Timestamp formats t for file names.
func Timestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// SaveJSON writes v as indented JSON to <dir>/<prefix>-<ts>.json and returns
// the path. Non-ASCII text and HTML characters are written as-is.
func SaveJSON(dir, prefix, ts string, v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("output: encode %s: %w", prefix, err)
	}
	return write(dir, fmt.Sprintf("%s-%s.json", prefix, ts), buf.Bytes())
}

// SaveTabs writes one file per harvested tab. Tabs that were not found
// (nil) are skipped; empty tabs produce an empty array.
func SaveTabs(dir string, res models.TabResults, ts string) ([]string, error) {
	var paths []string
	for _, tab := range []struct {
		prefix  string
		records []models.Record
	}{
		{RoadmapPrefix, res.Roadmap},
		{ChangeAnnouncementsPrefix, res.ChangeAnnouncements},
	} {
		if tab.records == nil {
			continue
		}
		path, err := SaveJSON(dir, tab.prefix, ts, tab.records)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func write(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("output: create %s: %w", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("output: write %s: %w", path, err)
	}
	return path, nil
}
