// Package facet models server-declared filter dimensions over search results.
//
// A Facet is either a *ListFacet (a set of keyword values, optionally hierarchical)
// or an *ExistsFacet (a boolean "has this field" filter). The set is closed:
// switch over the two concrete types, there is no third kind.
package facet

import "slices"

// Keyword list sizes requested from the server.
const (
	// DefaultSize is the number of keyword candidates shown for a plain list facet.
	DefaultSize = 10
	// AllSize asks for every candidate (hierarchical and filterable facets).
	AllSize = 1_000_000_000
)

// Kind identifies the facet variant in server definitions and API views.
type Kind string

const (
	// KindList is a keyword list facet.
	KindList Kind = "list"
	// KindExists is a boolean existence facet.
	KindExists Kind = "exists"
)

// Definition is the server-declared description of a facet.
type Definition struct {
	Name           string
	Label          string
	Kind           Kind
	IsHierarchical bool
	IsFilterable   bool
}

// Facet is implemented by *ListFacet and *ExistsFacet only.
type Facet interface {
	FacetName() string
	FacetKind() Kind
	// Active reports whether the facet currently filters results.
	Active() bool
	sealed()
}

// Keyword is a candidate value returned by the server for a list facet.
type Keyword struct {
	Value    string    `json:"value"`
	Count    int       `json:"count"`
	Children []Keyword `json:"children,omitempty"`
}

// ListFacet filters on a set of keywords. Value nil means "no filter".
type ListFacet struct {
	Name           string
	Label          string
	Keywords       []Keyword
	Value          []string
	Size           int
	Count          int
	Others         int
	IsHierarchical bool
	IsFilterable   bool
}

// FacetName returns the facet name.
func (f *ListFacet) FacetName() string { return f.Name }

// FacetKind returns KindList.
func (f *ListFacet) FacetKind() Kind { return KindList }

// Active reports whether at least one keyword is selected.
func (f *ListFacet) Active() bool { return len(f.Value) > 0 }

func (f *ListFacet) sealed() {}

// defaultSize returns the size a fresh or reset facet asks for.
func (f *ListFacet) defaultSize() int {
	if f.IsHierarchical || f.IsFilterable {
		return AllSize
	}
	return DefaultSize
}

// ExistsFacet filters on the presence of a field. Value nil means "no filter".
type ExistsFacet struct {
	Name  string
	Label string
	Value *bool
	Count int
}

// FacetName returns the facet name.
func (f *ExistsFacet) FacetName() string { return f.Name }

// FacetKind returns KindExists.
func (f *ExistsFacet) FacetKind() Kind { return KindExists }

// Active reports whether the facet is switched on.
func (f *ExistsFacet) Active() bool { return f.Value != nil && *f.Value }

func (f *ExistsFacet) sealed() {}

// Construct builds a runtime facet from its definition.
func Construct(def Definition) Facet {
	switch def.Kind {
	case KindExists:
		return &ExistsFacet{Name: def.Name, Label: def.Label}
	default:
		f := &ListFacet{
			Name:           def.Name,
			Label:          def.Label,
			Keywords:       []Keyword{},
			IsHierarchical: def.IsHierarchical,
			IsFilterable:   def.IsFilterable,
		}
		f.Size = f.defaultSize()
		return f
	}
}

// Reset clears the facet value and restores its default size.
func Reset(f Facet) {
	switch v := f.(type) {
	case *ListFacet:
		v.Value = nil
		v.Size = v.defaultSize()
	case *ExistsFacet:
		v.Value = nil
	}
}

// Update describes a keyword toggle.
type Update struct {
	Active   bool
	Keywords []string
}

// Apply toggles keywords on a list facet or switches an exists facet.
// Adding an existing keyword and removing a missing one are no-ops.
func (u Update) Apply(f Facet) {
	switch v := f.(type) {
	case *ListFacet:
		if u.Active {
			for _, k := range u.Keywords {
				if !slices.Contains(v.Value, k) {
					v.Value = append(v.Value, k)
				}
			}
			return
		}
		if v.Value == nil {
			return
		}
		kept := make([]string, 0, len(v.Value))
		for _, k := range v.Value {
			if !slices.Contains(u.Keywords, k) {
				kept = append(kept, k)
			}
		}
		v.Value = kept
	case *ExistsFacet:
		active := u.Active
		v.Value = &active
	}
}

// SetSize changes how many keyword candidates a list facet asks for.
// Exists facets ignore it.
func SetSize(f Facet, size int) {
	if v, ok := f.(*ListFacet); ok && size > 0 {
		v.Size = size
	}
}

// Payload is the per-facet aggregation request sent to the server.
type Payload struct {
	Values []string `json:"values,omitempty"`
	Size   int      `json:"size,omitempty"`
}

// Aggregation builds the aggregation request for a set of facets.
// List facets always ask for candidates; exists facets only when switched on.
func Aggregation(facets []Facet) map[string]Payload {
	out := make(map[string]Payload, len(facets))
	for _, f := range facets {
		switch v := f.(type) {
		case *ListFacet:
			p := Payload{Size: v.Size}
			if len(v.Value) > 0 {
				p.Values = slices.Clone(v.Value)
			}
			out[v.Name] = p
		case *ExistsFacet:
			if v.Active() {
				out[v.Name] = Payload{}
			}
		}
	}
	return out
}

// AggregationResult is the server answer for one facet.
type AggregationResult struct {
	Keywords []Keyword `json:"keywords"`
	Count    int       `json:"count"`
	Others   int       `json:"others"`
}

// Fold applies a server aggregation to the facet. Values stay untouched.
func Fold(f Facet, r AggregationResult) {
	switch v := f.(type) {
	case *ListFacet:
		v.Keywords = r.Keywords
		if v.Keywords == nil {
			v.Keywords = []Keyword{}
		}
		v.Count = r.Count
		v.Others = r.Others
	case *ExistsFacet:
		v.Count = r.Count
	}
}

// Clone returns a deep copy of the facet.
func Clone(f Facet) Facet {
	switch v := f.(type) {
	case *ListFacet:
		c := *v
		c.Value = slices.Clone(v.Value)
		c.Keywords = cloneKeywords(v.Keywords)
		return &c
	case *ExistsFacet:
		c := *v
		if v.Value != nil {
			b := *v.Value
			c.Value = &b
		}
		return &c
	}
	return nil
}

func cloneKeywords(in []Keyword) []Keyword {
	if in == nil {
		return nil
	}
	out := make([]Keyword, len(in))
	for i, k := range in {
		out[i] = Keyword{Value: k.Value, Count: k.Count, Children: cloneKeywords(k.Children)}
	}
	return out
}
