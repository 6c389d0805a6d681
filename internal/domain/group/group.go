// Package group holds tenancy scope options.
package group

// Public is the scope every visitor can read.
const Public = "public"

// Option is a selectable group.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Contains reports whether value is one of the options.
func Contains(opts []Option, value string) bool {
	for _, o := range opts {
		if o.Value == value {
			return true
		}
	}
	return false
}
