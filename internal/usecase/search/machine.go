package search

import (
	"math"
	"strconv"

	"github.com/kailas-cloud/kgbrowse/internal/domain"
	"github.com/kailas-cloud/kgbrowse/internal/domain/facet"
	"github.com/kailas-cloud/kgbrowse/internal/domain/query"
	domsearch "github.com/kailas-cloud/kgbrowse/internal/domain/search"
	"github.com/kailas-cloud/kgbrowse/internal/domain/settings"
)

// URL parameter names.
const (
	ParamQuery    = "q"
	ParamCategory = "category"
	ParamPage     = "p"
)

// DefaultHitsPerPage is used when neither settings nor config declare a page size.
const DefaultHitsPerPage = 20

const maxPage = math.MaxInt32

// TypeState is a declared category with its runtime facets.
type TypeState struct {
	ID               string
	Label            string
	Count            int
	DefaultSelection bool
	Facets           []facet.Facet
}

// Failure describes why the last fetch for the current parameters failed.
type Failure struct {
	Kind      domain.Kind
	Message   string
	Retryable bool
}

// State is the search state. From is always (Page-1)*HitsPerPage.
type State struct {
	QueryString  string
	SelectedType string
	Types        []TypeState
	Page         int
	HitsPerPage  int
	From         int
	IsUpToDate   bool
	Initialized  bool
	Hits         []domsearch.Hit
	Total        int
	TotalPages   int
	Suggestions  map[string][]string
	Failure      *Failure
}

// Ticket identifies the parameter set a fetch was issued for.
type Ticket struct {
	revision uint64
}

// Machine owns the search state. Not safe for concurrent use.
//
// Every change to the request parameters bumps an internal revision; results are
// applied only for a ticket carrying the current revision, so responses for
// superseded parameters are dropped.
type Machine struct {
	state    State
	revision uint64
	// settled is set once a response, successful or not, was applied for revision.
	settled bool
}

// New creates a search machine.
func New(hitsPerPage int) *Machine {
	if hitsPerPage <= 0 {
		hitsPerPage = DefaultHitsPerPage
	}
	m := &Machine{}
	m.state.HitsPerPage = hitsPerPage
	m.setPage(1)
	return m
}

// Configure replaces the declared types. A positive hitsPerPage overrides the page size.
func (m *Machine) Configure(types []settings.Type, hitsPerPage int) {
	if hitsPerPage > 0 {
		m.state.HitsPerPage = hitsPerPage
	}
	m.state.Types = make([]TypeState, len(types))
	for i, t := range types {
		ts := TypeState{ID: t.ID, Label: t.Label, DefaultSelection: t.DefaultSelection}
		for _, def := range t.Facets {
			ts.Facets = append(ts.Facets, facet.Construct(def))
		}
		m.state.Types[i] = ts
	}
	m.state.SelectedType = m.resolveType(m.state.SelectedType)
	m.setPage(m.state.Page)
	m.markStale()
}

// Initialize performs the first sync from the URL. It leaves IsUpToDate untouched:
// a fetch is still required.
func (m *Machine) Initialize(q query.Query) {
	m.resolve(q)
	m.state.Initialized = true
	m.bump()
}

// Sync re-applies URL state after browser navigation and forces a refetch.
func (m *Machine) Sync(q query.Query) {
	m.resolve(q)
	m.state.Initialized = true
	m.markStale()
}

func (m *Machine) resolve(q query.Query) {
	s := &m.state
	s.QueryString, _ = q.Get(ParamQuery)
	category, _ := q.Get(ParamCategory)
	s.SelectedType = m.resolveType(category)

	raw, _ := q.Get(ParamPage)
	m.setPage(parsePage(raw))

	for i := range s.Types {
		for _, f := range s.Types[i].Facets {
			facet.Reset(f)
		}
	}
	t := m.activeType()
	if t == nil {
		return
	}
	for _, f := range t.Facets {
		switch v := f.(type) {
		case *facet.ListFacet:
			if values := query.Family(q, v.Name); len(values) > 0 {
				facet.Update{Active: true, Keywords: values}.Apply(v)
			}
		case *facet.ExistsFacet:
			if raw, ok := q.Get(v.Name); ok && raw == "true" {
				facet.Update{Active: true}.Apply(v)
			}
		}
	}
}

// resolveType picks the requested type if declared, else the default-selection type, else the first.
func (m *Machine) resolveType(id string) string {
	for _, t := range m.state.Types {
		if t.ID == id {
			return id
		}
	}
	for _, t := range m.state.Types {
		if t.DefaultSelection {
			return t.ID
		}
	}
	if len(m.state.Types) > 0 {
		return m.state.Types[0].ID
	}
	return ""
}

// parsePage parses a page number; fractional pages are floored, anything below 1 becomes 1.
func parsePage(raw string) int {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) {
		return 1
	}
	f = math.Floor(f)
	if f < 1 {
		return 1
	}
	if f > maxPage {
		return maxPage
	}
	return int(f)
}

// setPage is the only writer of Page and From.
func (m *Machine) setPage(page int) {
	if page < 1 {
		page = 1
	}
	m.state.Page = page
	m.state.From = (page - 1) * m.state.HitsPerPage
}

func (m *Machine) markStale() {
	m.state.IsUpToDate = false
	m.bump()
}

func (m *Machine) bump() {
	m.revision++
	m.settled = false
}

func (m *Machine) activeType() *TypeState {
	for i := range m.state.Types {
		if m.state.Types[i].ID == m.state.SelectedType {
			return &m.state.Types[i]
		}
	}
	return nil
}

func (m *Machine) activeFacet(name string) facet.Facet {
	t := m.activeType()
	if t == nil {
		return nil
	}
	for _, f := range t.Facets {
		if f.FacetName() == name {
			return f
		}
	}
	return nil
}

// SetQueryString changes the free-text query.
func (m *Machine) SetQueryString(value string) {
	m.state.QueryString = value
	m.setPage(1)
	m.markStale()
}

// SetType selects a declared type. Unknown types are ignored.
func (m *Machine) SetType(id string) bool {
	if m.resolveType(id) != id {
		return false
	}
	m.state.SelectedType = id
	m.setPage(1)
	m.markStale()
	return true
}

// SetFacet toggles keywords on a facet of the selected type.
func (m *Machine) SetFacet(name string, active bool, keywords ...string) bool {
	f := m.activeFacet(name)
	if f == nil {
		return false
	}
	facet.Update{Active: active, Keywords: keywords}.Apply(f)
	m.setPage(1)
	m.markStale()
	return true
}

// SetFacetSize changes how many candidates a facet shows. Pagination is kept.
func (m *Machine) SetFacetSize(name string, size int) bool {
	f := m.activeFacet(name)
	if f == nil {
		return false
	}
	facet.SetSize(f, size)
	m.markStale()
	return true
}

// ResetFacets clears every facet.
func (m *Machine) ResetFacets() {
	for i := range m.state.Types {
		for _, f := range m.state.Types[i].Facets {
			facet.Reset(f)
		}
	}
	m.setPage(1)
	m.markStale()
}

// SetPage moves to a result page.
func (m *Machine) SetPage(page int) {
	m.setPage(page)
	m.markStale()
}

// GroupChanged marks results stale after the tenancy scope changed.
func (m *Machine) GroupChanged() {
	m.setPage(1)
	m.markStale()
}

// Invalidate marks the results stale without touching the parameters.
func (m *Machine) Invalidate() {
	m.markStale()
}

// Retry refetches after a retryable failure.
func (m *Machine) Retry() bool {
	if m.state.Failure == nil || !m.state.Failure.Retryable {
		return false
	}
	m.markStale()
	return true
}

// NeedsFetch reports whether the current parameters still need a fetch. A failed
// fetch settles the parameters without making them up to date.
func (m *Machine) NeedsFetch() bool {
	return m.state.Initialized && !m.state.IsUpToDate && !m.settled
}

// Ticket returns the identity of the current parameter set.
func (m *Machine) Ticket() Ticket {
	return Ticket{revision: m.revision}
}

// Request snapshots the current parameters.
func (m *Machine) Request(group string) domsearch.Request {
	var facets []facet.Facet
	if t := m.activeType(); t != nil {
		facets = t.Facets
	}
	return domsearch.Request{
		Group:        group,
		QueryString:  m.state.QueryString,
		Type:         m.state.SelectedType,
		From:         m.state.From,
		Size:         m.state.HitsPerPage,
		Aggregations: facet.Aggregation(facets),
	}
}

// ApplyResults folds a response into the state. Returns false when the ticket is stale.
// Facets of inactive types keep their previous candidates.
func (m *Machine) ApplyResults(t Ticket, resp domsearch.Response) bool {
	if t.revision != m.revision {
		return false
	}
	s := &m.state

	counts := make(map[string]int, len(resp.Types))
	for _, tc := range resp.Types {
		counts[tc.Type] = tc.Count
	}
	for i := range s.Types {
		s.Types[i].Count = counts[s.Types[i].ID]
	}

	if active := m.activeType(); active != nil {
		for _, f := range active.Facets {
			facet.Fold(f, resp.Aggregations[f.FacetName()])
		}
	}

	s.Hits = resp.Hits
	s.Total = resp.Total
	s.TotalPages = 0
	if s.Total > 0 {
		s.TotalPages = (s.Total + s.HitsPerPage - 1) / s.HitsPerPage
	}
	s.Suggestions = resp.Suggestions
	s.Failure = nil
	s.IsUpToDate = true
	m.settled = true
	return true
}

// ApplyFailure records a failed fetch. Returns false when the ticket is stale.
// The result set falls back to empty with pagination reset. IsUpToDate stays false but
// the parameters count as settled, so no automatic refetch happens.
func (m *Machine) ApplyFailure(t Ticket, err error) bool {
	if t.revision != m.revision {
		return false
	}
	s := &m.state
	s.Hits = nil
	s.Suggestions = nil
	s.Total = 0
	s.TotalPages = 0
	m.setPage(1)
	s.Failure = newFailure(err)
	s.IsUpToDate = false
	m.settled = true
	return true
}

func newFailure(err error) *Failure {
	kind := domain.Classify(err)
	switch kind {
	case domain.KindBadRequest:
		return &Failure{Kind: kind, Message: "The search query is not valid. Please refine your search."}
	case domain.KindUnauthorized:
		return &Failure{Kind: kind, Message: "Your session has expired. Please log in again.", Retryable: true}
	case domain.KindNoData:
		return &Failure{Kind: kind, Message: "No data available."}
	default:
		return &Failure{
			Kind:      domain.KindUnavailable,
			Message:   "The search service is temporarily not available. Please retry in a moment.",
			Retryable: true,
		}
	}
}

// ToQuery writes the search parameters over base, keeping unrelated entries in place.
func (m *Machine) ToQuery(base query.Query) query.Query {
	s := &m.state
	q := query.Update(base, ParamQuery, s.QueryString != "", s.QueryString, false)
	q = query.Update(q, ParamCategory, s.SelectedType != "", s.SelectedType, false)

	active := m.activeType()
	activeNames := make(map[string]struct{})
	if active != nil {
		for _, f := range active.Facets {
			activeNames[f.FacetName()] = struct{}{}
		}
	}
	for i := range s.Types {
		if active != nil && s.Types[i].ID == active.ID {
			continue
		}
		for _, f := range s.Types[i].Facets {
			if _, ok := activeNames[f.FacetName()]; ok {
				continue
			}
			q = clearFacet(q, f)
		}
	}
	if active != nil {
		for _, f := range active.Facets {
			switch v := f.(type) {
			case *facet.ListFacet:
				q = query.ReplaceFamily(q, v.Name, v.Value)
			case *facet.ExistsFacet:
				q = query.Update(q, v.Name, v.Active(), "true", false)
			}
		}
	}

	return query.Update(q, ParamPage, s.Page > 1, strconv.Itoa(s.Page), false)
}

func clearFacet(q query.Query, f facet.Facet) query.Query {
	switch v := f.(type) {
	case *facet.ListFacet:
		return query.ReplaceFamily(q, v.Name, nil)
	case *facet.ExistsFacet:
		return query.Update(q, v.Name, false, "", false)
	}
	return q
}

// State returns a deep copy of the current state.
func (m *Machine) State() State {
	s := m.state
	s.Types = make([]TypeState, len(m.state.Types))
	for i, t := range m.state.Types {
		c := t
		c.Facets = make([]facet.Facet, len(t.Facets))
		for j, f := range t.Facets {
			c.Facets[j] = facet.Clone(f)
		}
		s.Types[i] = c
	}
	if m.state.Failure != nil {
		f := *m.state.Failure
		s.Failure = &f
	}
	return s
}
