// Package instance holds the detail record payload.
package instance

// Version is one published revision of an instance.
type Version struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Instance is a single detail record (dataset, model, ...) as served by the KG API.
type Instance struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Fields   map[string]any `json:"fields,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
	Version  string         `json:"version,omitempty"`
	Versions []Version      `json:"versions,omitempty"`
}
