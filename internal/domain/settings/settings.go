// Package settings parses the server-declared type and facet mapping.
//
// The settings document is large and mostly presentation data (field labels,
// layouts, icons); only the search-relevant parts are extracted with gjson paths.
package settings

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/kailas-cloud/kgbrowse/internal/domain"
	"github.com/kailas-cloud/kgbrowse/internal/domain/facet"
)

// Type is a server-declared search category.
type Type struct {
	ID               string
	Label            string
	DefaultSelection bool
	Facets           []facet.Definition
}

// Settings is the search configuration derived from the settings document.
type Settings struct {
	Types       []Type
	HitsPerPage int
}

// Parse extracts the search configuration from a raw settings document.
func Parse(raw []byte) (Settings, error) {
	if !gjson.ValidBytes(raw) {
		return Settings{}, fmt.Errorf("settings: %w", domain.ErrMalformed)
	}
	doc := gjson.ParseBytes(raw)

	types := doc.Get("types")
	if !types.IsArray() {
		return Settings{}, fmt.Errorf("settings: types must be an array: %w", domain.ErrMalformed)
	}

	var s Settings
	s.HitsPerPage = int(doc.Get("hitsPerPage").Int())

	var parseErr error
	types.ForEach(func(_, t gjson.Result) bool {
		id := t.Get("type").String()
		if id == "" {
			parseErr = fmt.Errorf("settings: type without id: %w", domain.ErrMalformed)
			return false
		}
		label := t.Get("label").String()
		if label == "" {
			label = id
		}
		typ := Type{
			ID:               id,
			Label:            label,
			DefaultSelection: t.Get("defaultSelection").Bool(),
		}
		t.Get("facets").ForEach(func(_, f gjson.Result) bool {
			name := f.Get("name").String()
			if name == "" {
				return true
			}
			kind := facet.KindList
			if f.Get("type").String() == string(facet.KindExists) {
				kind = facet.KindExists
			}
			typ.Facets = append(typ.Facets, facet.Definition{
				Name:           name,
				Label:          f.Get("label").String(),
				Kind:           kind,
				IsHierarchical: f.Get("isHierarchical").Bool(),
				IsFilterable:   f.Get("isFilterable").Bool(),
			})
			return true
		})
		s.Types = append(s.Types, typ)
		return true
	})
	if parseErr != nil {
		return Settings{}, parseErr
	}
	return s, nil
}
