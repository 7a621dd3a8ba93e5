package locator

import (
	"context"
	"regexp"

	"github.com/v0xg/slotbot/internal/page"
)

// StrategyID names a candidate query
type StrategyID string

const (
	SlotButtonRole   StrategyID = "slot.button_role"
	SlotAttribute    StrategyID = "slot.attribute"
	SubmitBookSpan   StrategyID = "submit.book_span"
	SubmitButtonText StrategyID = "submit.button_text"
	SubmitJSName     StrategyID = "submit.jsname"
	SubmitRoleName   StrategyID = "submit.role_name"
	SubmitLastButton StrategyID = "submit.last_button"
	SubmitPageRole   StrategyID = "submit.page_role"
	SubmitPageText   StrategyID = "submit.page_text"
)

// Strategy is one independent way of finding elements for a role
type Strategy interface {
	ID() StrategyID
	Find(ctx context.Context, scope page.Scope) ([]page.Element, error)
}

// Query is a Strategy built from a CSS selector and optional refinements
type Query struct {
	Name     StrategyID
	Selector string
	// Match, when set, keeps elements whose text or aria-label matches.
	Match *regexp.Regexp
	// ExactText, when set, keeps elements whose trimmed text equals it.
	ExactText string
	// Parent resolves each match to its parent element.
	Parent bool
	// Last keeps only the final match in document order.
	Last bool
	// Positional marks results as chosen by position rather than content.
	Positional bool
}

// ID implements Strategy
func (q Query) ID() StrategyID { return q.Name }

// Find implements Strategy
func (q Query) Find(ctx context.Context, scope page.Scope) ([]page.Element, error) {
	els, err := scope.QueryAll(ctx, q.Selector)
	if err != nil {
		return nil, err
	}

	var out []page.Element
	for _, el := range els {
		if q.Match != nil || q.ExactText != "" {
			text, _ := el.Text(ctx)
			label, _, _ := el.Attribute(ctx, "aria-label")
			if q.ExactText != "" && trim(text) != q.ExactText {
				continue
			}
			if q.Match != nil && !q.Match.MatchString(text) && !q.Match.MatchString(label) {
				continue
			}
		}
		if q.Parent {
			parent, err := el.Parent(ctx)
			if err != nil {
				continue
			}
			el = parent
		}
		out = append(out, el)
	}

	if q.Last && len(out) > 1 {
		out = out[len(out)-1:]
	}
	return out, nil
}

// SlotStrategies returns the slot cascade in priority order
func SlotStrategies() []Strategy {
	return []Strategy{
		Query{Name: SlotButtonRole, Selector: selButtons, Match: TimePattern},
		Query{Name: SlotAttribute, Selector: selSlotAttribute},
	}
}

// ScopedSubmitStrategies returns the submit cascade used inside a booking
// dialog, in priority order.
func ScopedSubmitStrategies() []Strategy {
	return []Strategy{
		Query{Name: SubmitBookSpan, Selector: selBookLabelSpan, ExactText: BookWordTH, Parent: true},
		Query{Name: SubmitButtonText, Selector: selPlainButton, Match: regexp.MustCompile(BookWordTH)},
		Query{Name: SubmitJSName, Selector: selSubmitJSName},
		Query{Name: SubmitRoleName, Selector: selButtons, Match: ActionWords},
		Query{Name: SubmitLastButton, Selector: selPlainButton, Last: true, Positional: true},
	}
}

// PageSubmitStrategies returns the whole-page submit cascade
func PageSubmitStrategies() []Strategy {
	return []Strategy{
		Query{Name: SubmitPageRole, Selector: selButtons, Match: ExactActionWords},
		Query{Name: SubmitPageText, Selector: selAnyTextElement, Match: ExactActionWords},
	}
}
