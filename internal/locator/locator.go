// Package locator finds actionable elements on the booking page through an
// ordered cascade of strategies and a shared eligibility filter.
package locator

import (
	"context"
	"errors"
	"iter"

	"go.uber.org/zap"

	"github.com/v0xg/slotbot/internal/page"
)

// Role is what a candidate is being searched for
type Role int

const (
	Slot Role = iota + 1
	Submit
)

func (r Role) String() string {
	switch r {
	case Slot:
		return "slot"
	case Submit:
		return "submit"
	default:
		return "unknown"
	}
}

// Candidate is an element found by a strategy together with the facts the
// filter needs. The facts are a snapshot taken when the candidate was yielded.
type Candidate struct {
	Handle     page.Element
	Role       Role
	Strategy   StrategyID
	Text       string
	AriaLabel  string
	Disabled   bool
	Hidden     bool
	Visible    bool
	Positional bool
}

// Label returns the best human-readable name for the candidate
func (c Candidate) Label() string {
	if t := trim(c.Text); t != "" {
		return t
	}
	return trim(c.AriaLabel)
}

// Locator runs strategy cascades against a page
type Locator struct {
	log    *zap.Logger
	filter *Filter
	slot   []Strategy
	scoped []Strategy
	global []Strategy
}

// Option configures a Locator
type Option func(*Locator)

// WithFilter replaces the default filter
func WithFilter(f *Filter) Option {
	return func(l *Locator) { l.filter = f }
}

// WithSlotStrategies replaces the slot cascade
func WithSlotStrategies(s ...Strategy) Option {
	return func(l *Locator) { l.slot = s }
}

// WithSubmitStrategies replaces the scoped and page-level submit cascades
func WithSubmitStrategies(scoped, global []Strategy) Option {
	return func(l *Locator) { l.scoped, l.global = scoped, global }
}

// New creates a Locator with the default cascades
func New(log *zap.Logger, opts ...Option) *Locator {
	if log == nil {
		log = zap.NewNop()
	}
	l := &Locator{
		log:    log.Named("locator"),
		filter: NewFilter(),
		slot:   SlotStrategies(),
		scoped: ScopedSubmitStrategies(),
		global: PageSubmitStrategies(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Filter returns the eligibility filter in use
func (l *Locator) Filter() *Filter { return l.filter }

type pass struct {
	scope      page.Scope
	strategies []Strategy
}

// ErrNoScope is returned when neither the booking panel nor a dialog is visible
var ErrNoScope = errors.New("no visible booking dialog")

// SubmitScope returns the booking panel or, failing that, the first visible
// dialog.
func (l *Locator) SubmitScope(ctx context.Context, root page.Scope) (page.Element, error) {
	if el, ok := page.FirstVisible(ctx, root, selBookingPanel); ok {
		return el, nil
	}
	if el, ok := page.FirstVisible(ctx, root, selDialog); ok {
		return el, nil
	}
	return nil, ErrNoScope
}

func (l *Locator) plan(ctx context.Context, role Role, root page.Scope) []pass {
	switch role {
	case Slot:
		return []pass{{scope: root, strategies: l.slot}}
	case Submit:
		scope, err := l.SubmitScope(ctx, root)
		if err != nil {
			l.log.Debug("searching whole page for submit", zap.Error(err))
			return []pass{{scope: root, strategies: l.global}}
		}
		return []pass{
			{scope: scope, strategies: l.scoped},
			{scope: root, strategies: l.global},
		}
	}
	return nil
}

// Candidates lazily yields every element the role's strategies find, in
// strategy order then document order. The same node may be yielded more than
// once by different strategies. Ineligible candidates are yielded too; callers
// apply the filter.
func (l *Locator) Candidates(ctx context.Context, role Role, root page.Scope) iter.Seq[Candidate] {
	return func(yield func(Candidate) bool) {
		for _, p := range l.plan(ctx, role, root) {
			for _, s := range p.strategies {
				if ctx.Err() != nil {
					return
				}
				els, err := s.Find(ctx, p.scope)
				if err != nil {
					l.log.Debug("strategy failed", zap.String("strategy", string(s.ID())), zap.Error(err))
					continue
				}
				positional := false
				if q, ok := s.(Query); ok {
					positional = q.Positional
				}
				for _, el := range els {
					c, err := l.inspect(ctx, role, s.ID(), positional, el)
					if err != nil {
						continue
					}
					if !yield(c) {
						return
					}
				}
			}
		}
	}
}

// First returns the first eligible candidate for role
func (l *Locator) First(ctx context.Context, role Role, root page.Scope) (Candidate, bool) {
	for c := range l.Candidates(ctx, role, root) {
		if why := l.filter.Reason(c); why != Accepted {
			l.log.Debug("candidate rejected",
				zap.Stringer("role", role),
				zap.String("strategy", string(c.Strategy)),
				zap.String("label", c.Label()),
				zap.String("reason", string(why)))
			continue
		}
		l.log.Info("candidate selected",
			zap.Stringer("role", role),
			zap.String("strategy", string(c.Strategy)),
			zap.String("label", c.Label()))
		return c, true
	}
	return Candidate{}, false
}

// inspect snapshots the facts the filter needs. Detached elements are dropped;
// other read errors leave the fact at its zero value.
func (l *Locator) inspect(ctx context.Context, role Role, id StrategyID, positional bool, el page.Element) (Candidate, error) {
	c := Candidate{Handle: el, Role: role, Strategy: id, Positional: positional}

	visible, err := el.Visible(ctx)
	if errors.Is(err, page.ErrDetached) {
		return c, err
	}
	c.Visible = err == nil && visible

	if text, err := el.Text(ctx); err == nil {
		c.Text = text
	} else if errors.Is(err, page.ErrDetached) {
		return c, err
	}
	c.AriaLabel, _, _ = el.Attribute(ctx, "aria-label")

	ariaDisabled, _, _ := el.Attribute(ctx, "aria-disabled")
	_, nativeDisabled, _ := el.Attribute(ctx, "disabled")
	c.Disabled = ariaDisabled == "true" || nativeDisabled

	ariaHidden, _, _ := el.Attribute(ctx, "aria-hidden")
	c.Hidden = ariaHidden == "true"
	return c, nil
}
