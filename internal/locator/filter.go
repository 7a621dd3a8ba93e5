package locator

import "strings"

// Rejection explains why a candidate was not eligible
type Rejection string

const (
	Accepted       Rejection = ""
	NotVisible     Rejection = "not_visible"
	Disabled       Rejection = "disabled"
	AriaHidden     Rejection = "aria_hidden"
	NoContentMatch Rejection = "no_content_match"
)

// Filter decides candidate eligibility. It applies the same rules to every
// strategy; where a candidate came from does not matter.
type Filter struct {
	content map[Role]Patterns
}

// NewFilter returns a Filter with the default content patterns per role
func NewFilter() *Filter {
	return &Filter{content: map[Role]Patterns{
		Slot:   {TimePattern},
		Submit: {ActionWords},
	}}
}

// WithContent replaces the content patterns for role
func (f *Filter) WithContent(role Role, ps Patterns) *Filter {
	f.content[role] = ps
	return f
}

// Eligible reports whether c may be acted on
func (f *Filter) Eligible(c Candidate) bool {
	return f.Reason(c) == Accepted
}

// Reason evaluates the rules in order and returns the first that fails
func (f *Filter) Reason(c Candidate) Rejection {
	if !c.Visible {
		return NotVisible
	}
	if c.Disabled {
		return Disabled
	}
	if c.Hidden {
		return AriaHidden
	}
	if c.Positional {
		return Accepted
	}
	if !f.content[c.Role].MatchAny(c.Text, c.AriaLabel) {
		return NoContentMatch
	}
	return Accepted
}

func trim(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
