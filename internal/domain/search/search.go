// Package search holds the value types exchanged with the KG search endpoint.
package search

import (
	"encoding/json"

	"github.com/kailas-cloud/kgbrowse/internal/domain/facet"
)

// Request is the parameter snapshot a search fetch is issued for.
type Request struct {
	Group        string                   `json:"group"`
	QueryString  string                   `json:"q"`
	Type         string                   `json:"type"`
	From         int                      `json:"from"`
	Size         int                      `json:"size"`
	Aggregations map[string]facet.Payload `json:"aggregations"`
}

// CacheKey returns a deterministic key for the request.
// Map keys are marshaled sorted, so equal requests produce equal keys.
func (r Request) CacheKey() string {
	data, _ := json.Marshal(r)
	return string(data)
}

// Hit is a single search result.
type Hit struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Title  string         `json:"title"`
	Score  float64        `json:"score,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

// TypeCount is the number of hits per declared type.
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// Response is the KG answer to a Request.
type Response struct {
	Hits         []Hit                              `json:"hits"`
	Total        int                                `json:"total"`
	Types        []TypeCount                        `json:"types"`
	Aggregations map[string]facet.AggregationResult `json:"aggregations"`
	Suggestions  map[string][]string                `json:"suggestions"`
}
