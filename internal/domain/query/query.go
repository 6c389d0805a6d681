// Package query maps between an ordered set of query parameters and a browser
// location search string.
//
// Array parameters use the bracket convention: the values of "species" are stored
// as species[0], species[1], ... and are kept contiguous after every update.
package query

import (
	"net/url"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// Entry is a single decoded key=value pair.
type Entry struct {
	Key   string
	Value string
}

// Query is an insertion-ordered parameter set. The zero value is empty.
// Operations never mutate the receiver.
type Query struct {
	entries []Entry
}

// FromEntries builds a query from entries; later duplicates overwrite earlier ones in place.
func FromEntries(entries ...Entry) Query {
	var q Query
	for _, e := range entries {
		q = q.With(e.Key, e.Value)
	}
	return q
}

var bracketReplacer = strings.NewReplacer(
	"%255B", "[", "%255b", "[", "%255D", "]", "%255d", "]",
	"%5B", "[", "%5b", "[", "%5D", "]", "%5d", "]",
)

// Parse decodes a location search string ("?a=1&b=2" or "a=1&b=2").
func Parse(search string) Query {
	search = strings.TrimPrefix(search, "?")
	var q Query
	if search == "" {
		return q
	}
	for _, part := range strings.Split(search, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		key := unescape(bracketReplacer.Replace(k))
		if key == "" {
			continue
		}
		q = q.With(key, unescape(v))
	}
	return q
}

func unescape(s string) string {
	d, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return d
}

// Encode serializes the query as a location search string with a leading "?".
// The empty query encodes as "".
func (q Query) Encode() string {
	if len(q.entries) == 0 {
		return ""
	}
	var b strings.Builder
	for i, e := range q.entries {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(escapeKey(e.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(e.Value))
	}
	return b.String()
}

func escapeKey(k string) string {
	return strings.NewReplacer("%5B", "[", "%5D", "]").Replace(url.QueryEscape(k))
}

// Get returns the value stored under key.
func (q Query) Get(key string) (string, bool) {
	if i := q.index(key); i >= 0 {
		return q.entries[i].Value, true
	}
	return "", false
}

// Len returns the number of entries.
func (q Query) Len() int { return len(q.entries) }

// Entries returns a copy of the entries in order.
func (q Query) Entries() []Entry { return slices.Clone(q.entries) }

// With sets key=value, overwriting in place or appending.
func (q Query) With(key, value string) Query {
	out := q.clone()
	if i := out.index(key); i >= 0 {
		out.entries[i].Value = value
		return out
	}
	out.entries = append(out.entries, Entry{Key: key, Value: value})
	return out
}

// Without removes key.
func (q Query) Without(key string) Query {
	i := q.index(key)
	if i < 0 {
		return q
	}
	out := q.clone()
	out.entries = slices.Delete(out.entries, i, i+1)
	return out
}

func (q Query) clone() Query {
	return Query{entries: slices.Clone(q.entries)}
}

func (q Query) index(key string) int {
	for i, e := range q.entries {
		if e.Key == key {
			return i
		}
	}
	return -1
}

// Update applies a single checkbox-style change.
//
// With many=false the parameter is a plain name=value entry: checked sets it,
// unchecked removes it. With many=true the parameter is the family name[0..n):
// checked appends value if missing, unchecked removes it, and the family is
// renumbered from 0 at the position of its first entry. Keys equal to name are
// never treated as family members.
func Update(q Query, name string, checked bool, value string, many bool) Query {
	if !many {
		if checked {
			return q.With(name, value)
		}
		return q.Without(name)
	}

	values := Family(q, name)
	if checked {
		if slices.Contains(values, value) {
			return q
		}
		values = append(values, value)
	} else {
		i := slices.Index(values, value)
		if i < 0 {
			return q
		}
		values = slices.Delete(values, i, i+1)
	}
	return q.rewriteFamily(name, values)
}

// ReplaceFamily makes the family of name hold exactly values.
// Values already present keep their relative order; new ones are appended.
func ReplaceFamily(q Query, name string, values []string) Query {
	for _, v := range Family(q, name) {
		if !slices.Contains(values, v) {
			q = Update(q, name, false, v, true)
		}
	}
	for _, v := range values {
		q = Update(q, name, true, v, true)
	}
	return q
}

// Family returns the values of name[0], name[1], ... in index order.
func Family(q Query, name string) []string {
	re := familyPattern(name)
	type indexed struct {
		n     int
		value string
	}
	var found []indexed
	for _, e := range q.entries {
		if e.Key == name {
			continue
		}
		m := re.FindStringSubmatch(e.Key)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		found = append(found, indexed{n: n, value: e.Value})
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].n < found[j].n })
	out := make([]string, 0, len(found))
	for _, f := range found {
		out = append(out, f.value)
	}
	return out
}

func familyPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(name) + `\[(\d+)\]$`)
}

func (q Query) rewriteFamily(name string, values []string) Query {
	re := familyPattern(name)
	renumbered := make([]Entry, len(values))
	for i, v := range values {
		renumbered[i] = Entry{Key: name + "[" + strconv.Itoa(i) + "]", Value: v}
	}

	out := Query{entries: make([]Entry, 0, len(q.entries)+1)}
	placed := false
	for _, e := range q.entries {
		if e.Key != name && re.MatchString(e.Key) {
			if !placed {
				out.entries = append(out.entries, renumbered...)
				placed = true
			}
			continue
		}
		out.entries = append(out.entries, e)
	}
	if !placed {
		out.entries = append(out.entries, renumbered...)
	}
	return out
}
