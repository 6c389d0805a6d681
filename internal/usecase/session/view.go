package session

import (
	"github.com/kailas-cloud/kgbrowse/internal/domain"
	"github.com/kailas-cloud/kgbrowse/internal/domain/facet"
	domgroup "github.com/kailas-cloud/kgbrowse/internal/domain/group"
	dominstance "github.com/kailas-cloud/kgbrowse/internal/domain/instance"
	domsearch "github.com/kailas-cloud/kgbrowse/internal/domain/search"
	"github.com/kailas-cloud/kgbrowse/internal/usecase/auth"
	"github.com/kailas-cloud/kgbrowse/internal/usecase/instance"
	"github.com/kailas-cloud/kgbrowse/internal/usecase/search"
)

// View is everything a tab renders after an action.
type View struct {
	SessionID  string       `json:"sessionId"`
	Search     SearchView   `json:"search"`
	Instance   InstanceView `json:"instance"`
	Group      GroupView    `json:"group"`
	Auth       auth.Status  `json:"auth"`
	Favorites  []string     `json:"favorites"`
	Navigation *Navigation  `json:"navigation,omitempty"`
}

// FailureView is a user-facing error with its affordances.
type FailureView struct {
	Kind      domain.Kind `json:"kind"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable"`
	Hint      string      `json:"hint,omitempty"`
}

// FacetView is a facet of either kind. Value is a list of keywords or a boolean.
type FacetView struct {
	Name           string          `json:"name"`
	Label          string          `json:"label"`
	Kind           facet.Kind      `json:"kind"`
	Active         bool            `json:"active"`
	Value          any             `json:"value"`
	Keywords       []facet.Keyword `json:"keywords,omitempty"`
	Size           int             `json:"size,omitempty"`
	Count          int             `json:"count"`
	Others         int             `json:"others,omitempty"`
	IsHierarchical bool            `json:"isHierarchical,omitempty"`
	IsFilterable   bool            `json:"isFilterable,omitempty"`
}

// TypeView is a declared category.
type TypeView struct {
	ID       string      `json:"id"`
	Label    string      `json:"label"`
	Count    int         `json:"count"`
	Selected bool        `json:"selected"`
	Facets   []FacetView `json:"facets"`
}

// SearchView is the search state.
type SearchView struct {
	QueryString  string              `json:"queryString"`
	SelectedType string              `json:"selectedType"`
	Types        []TypeView          `json:"types"`
	Page         int                 `json:"page"`
	HitsPerPage  int                 `json:"hitsPerPage"`
	From         int                 `json:"from"`
	IsUpToDate   bool                `json:"isUpToDate"`
	Hits         []domsearch.Hit     `json:"hits"`
	Total        int                 `json:"total"`
	TotalPages   int                 `json:"totalPages"`
	Suggestions  map[string][]string `json:"suggestions,omitempty"`
	Failure      *FailureView        `json:"failure,omitempty"`
}

// InstanceView is the instance navigation state.
type InstanceView struct {
	InstanceID string                `json:"instanceId,omitempty"`
	Data       *dominstance.Instance `json:"data,omitempty"`
	Title      string                `json:"title,omitempty"`
	Tab        string                `json:"tab,omitempty"`
	History    []instance.Entry      `json:"history"`
	Failure    *FailureView          `json:"failure,omitempty"`
}

// GroupView is the tenancy state.
type GroupView struct {
	Group        string            `json:"group"`
	DefaultGroup string            `json:"defaultGroup"`
	Groups       []domgroup.Option `json:"groups"`
}

func newFacetView(f facet.Facet) FacetView {
	switch v := f.(type) {
	case *facet.ListFacet:
		return FacetView{
			Name:           v.Name,
			Label:          v.Label,
			Kind:           facet.KindList,
			Active:         v.Active(),
			Value:          v.Value,
			Keywords:       v.Keywords,
			Size:           v.Size,
			Count:          v.Count,
			Others:         v.Others,
			IsHierarchical: v.IsHierarchical,
			IsFilterable:   v.IsFilterable,
		}
	case *facet.ExistsFacet:
		return FacetView{
			Name:   v.Name,
			Label:  v.Label,
			Kind:   facet.KindExists,
			Active: v.Active(),
			Value:  v.Value,
			Count:  v.Count,
		}
	}
	return FacetView{Name: f.FacetName(), Kind: f.FacetKind()}
}

func newSearchView(s search.State) SearchView {
	v := SearchView{
		QueryString:  s.QueryString,
		SelectedType: s.SelectedType,
		Types:        make([]TypeView, 0, len(s.Types)),
		Page:         s.Page,
		HitsPerPage:  s.HitsPerPage,
		From:         s.From,
		IsUpToDate:   s.IsUpToDate,
		Hits:         s.Hits,
		Total:        s.Total,
		TotalPages:   s.TotalPages,
		Suggestions:  s.Suggestions,
	}
	if v.Hits == nil {
		v.Hits = []domsearch.Hit{}
	}
	for _, t := range s.Types {
		tv := TypeView{ID: t.ID, Label: t.Label, Count: t.Count, Selected: t.ID == s.SelectedType}
		for _, f := range t.Facets {
			tv.Facets = append(tv.Facets, newFacetView(f))
		}
		v.Types = append(v.Types, tv)
	}
	if f := s.Failure; f != nil {
		v.Failure = &FailureView{Kind: f.Kind, Message: f.Message, Retryable: f.Retryable}
	}
	return v
}

func newInstanceView(s instance.State) InstanceView {
	v := InstanceView{
		InstanceID: s.InstanceID,
		Data:       s.Data,
		Title:      s.Title,
		Tab:        s.Tab,
		History:    s.History,
	}
	if v.History == nil {
		v.History = []instance.Entry{}
	}
	if f := s.Failure; f != nil {
		v.Failure = &FailureView{Kind: f.Kind, Message: f.Message, Retryable: f.Retryable, Hint: f.Hint}
	}
	return v
}
