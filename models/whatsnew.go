package models

// WhatsNewItem is one entry of the public "What's new" release notes.
type WhatsNewItem struct {
	Month             string `json:"month"`
	Title             string `json:"title"`
	Type              string `json:"type,omitempty"`
	ServiceCategory   string `json:"serviceCategory,omitempty"`
	ProductCapability string `json:"productCapability,omitempty"`
	Description       string `json:"description"` // Markdown
	URL               string `json:"url,omitempty"`
}

// Map flattens the item for list sinks, using the same keys as its JSON form.
func (w WhatsNewItem) Map() map[string]string {
	return map[string]string{
		"month":             w.Month,
		"title":             w.Title,
		"type":              w.Type,
		"serviceCategory":   w.ServiceCategory,
		"productCapability": w.ProductCapability,
		"description":       w.Description,
		"url":               w.URL,
	}
}
