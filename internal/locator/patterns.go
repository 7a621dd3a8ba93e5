package locator

import "regexp"

// Patterns is an ordered set of alternatives for one logical concept
type Patterns []*regexp.Regexp

// MatchAny reports whether any pattern matches any of the given strings
func (ps Patterns) MatchAny(values ...string) bool {
	for _, re := range ps {
		for _, v := range values {
			if v != "" && re.MatchString(v) {
				return true
			}
		}
	}
	return false
}

var (
	// TimePattern matches a clock time such as 9:00 or 14:30.
	TimePattern = regexp.MustCompile(`\d{1,2}:\d{2}`)

	// ActionWords matches the booking action anywhere in a label, Thai first.
	ActionWords = regexp.MustCompile(`(?i)จอง|Book|Confirm|Schedule`)

	// ExactActionWords matches a label that is nothing but the booking action.
	ExactActionWords = regexp.MustCompile(`(?i)^\s*(จอง|Book|Confirm|Schedule)\s*$`)
)

// BookWordTH is the Thai "book" label used on the submit button
const BookWordTH = "จอง"

// Selectors for the scheduling widget. The class names and jsname are
// generated by the widget's build and change without notice.
const (
	selButtons        = `button, [role="button"]`
	selSlotAttribute  = `[aria-label*=":"]`
	selBookingPanel   = `div.uW2Fw-cnG4Wd`
	selDialog         = `[role="dialog"]`
	selBookLabelSpan  = `span.YUhpIc-vQzf8d`
	selSubmitJSName   = `button[jsname="hNX5Yc"]`
	selPlainButton    = `button`
	selAnyTextElement = `button, [role="button"], span, div, a`
)
