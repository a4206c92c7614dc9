package models

// HarvestRequest is the payload for POST /api/v1/harvest.
type HarvestRequest struct {
	// Tabs limits the run to these tabs. Default: roadmap, then
	// changeAnnouncements.
	Tabs []string `json:"tabs,omitempty" binding:"omitempty,dive,oneof=roadmap changeAnnouncements"`

	// SkipPortal reads only the what's-new page.
	SkipPortal bool `json:"skip_portal,omitempty"`

	// WhatsNew also reads the public what's-new page.
	WhatsNew bool `json:"whats_new,omitempty"`

	// Sink inserts the results into the configured SharePoint lists.
	Sink bool `json:"sink,omitempty"`

	// Save writes JSON files and a summary to the output directory.
	// Default: the server's output.saveToFile setting.
	Save *bool `json:"save,omitempty"`
}

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Success bool         `json:"success"`
	Error   *ErrorDetail `json:"error"`
}

// NewErrorResponse wraps a detail into a failed response.
func NewErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{Error: &ErrorDetail{Code: code, Message: message}}
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status    string `json:"status"` // "healthy" or "busy"
	Uptime    string `json:"uptime"`
	ActiveRun string `json:"active_run,omitempty"`
	Browser   bool   `json:"browser"`
	Version   string `json:"version"`
}

// WhatsNewResponse is the response for GET /api/v1/whatsnew.
type WhatsNewResponse struct {
	Success bool           `json:"success"`
	Count   int            `json:"count"`
	Items   []WhatsNewItem `json:"items"`
}
