package models

import (
	"encoding/json"
	"maps"
)

// Tab names a harvestable list in the Change Management Hub.
type Tab string

const (
	TabRoadmap             Tab = "roadmap"
	TabChangeAnnouncements Tab = "changeAnnouncements"
)

// Reserved keys added to every record by detail-pane enrichment.
const (
	FieldURL         = "url"
	FieldDescription = "description"
	FieldOverview    = "overview"
)

// RawRow is the snapshot of one rendered list row.
type RawRow struct {
	Identity int
	Fields   map[string]string
}

// Details is the enrichment harvested from a row's detail pane.
type Details struct {
	URL         string
	Description string
	Overview    string
}

// Record is an enriched row: the row's mapped cell values plus the
// detail-pane fields. It is created once per row identity.
type Record struct {
	Identity int
	Fields   map[string]string
	Details
}

// NewRecord builds a Record from a snapshot and its enrichment.
// The field map is copied so the record never aliases the snapshot.
func NewRecord(row RawRow, d Details) Record {
	fields := make(map[string]string, len(row.Fields))
	maps.Copy(fields, row.Fields)
	return Record{Identity: row.Identity, Fields: fields, Details: d}
}

// Get returns a field by its logical name, including the enrichment keys.
func (r Record) Get(key string) string {
	switch key {
	case FieldURL:
		return r.URL
	case FieldDescription:
		return r.Description
	case FieldOverview:
		return r.Overview
	}
	return r.Fields[key]
}

// Map flattens the record into a single key/value map. Enrichment keys
// take precedence over cell values with the same name.
func (r Record) Map() map[string]string {
	m := make(map[string]string, len(r.Fields)+3)
	maps.Copy(m, r.Fields)
	m[FieldURL] = r.URL
	m[FieldDescription] = r.Description
	m[FieldOverview] = r.Overview
	return m
}

// MarshalJSON encodes the record as a flat object.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Map())
}

// TabResults holds the output of one portal run. A nil slice means the tab
// could not be located; an empty slice means it was harvested but empty.
type TabResults struct {
	Roadmap             []Record `json:"roadmap"`
	ChangeAnnouncements []Record `json:"changeAnnouncements"`
}

// ForTab returns the records harvested for the given tab.
func (t *TabResults) ForTab(tab Tab) []Record {
	switch tab {
	case TabRoadmap:
		return t.Roadmap
	case TabChangeAnnouncements:
		return t.ChangeAnnouncements
	}
	return nil
}

// Set stores the records for the given tab.
func (t *TabResults) Set(tab Tab, records []Record) {
	switch tab {
	case TabRoadmap:
		t.Roadmap = records
	case TabChangeAnnouncements:
		t.ChangeAnnouncements = records
	}
}
