// Package activation makes a located element actually respond, escalating
// through progressively more forceful input techniques.
package activation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/v0xg/slotbot/internal/page"
)

// Technique is one rung of the activation ladder
type Technique int

const (
	ScrollIntoView Technique = iota + 1
	PhysicalPointer
	SyntheticEvents
	ForcedClick
)

// activates reports whether t can set off the element. Scrolling only
// prepares the next rung, so it is never confirmed on its own.
func (t Technique) activates() bool {
	return t != ScrollIntoView
}

func (t Technique) String() string {
	switch t {
	case ScrollIntoView:
		return "scroll_into_view"
	case PhysicalPointer:
		return "physical_pointer"
	case SyntheticEvents:
		return "synthetic_events"
	case ForcedClick:
		return "forced_click"
	default:
		return fmt.Sprintf("technique(%d)", int(t))
	}
}

// Ladder is the default escalation order
var Ladder = []Technique{ScrollIntoView, PhysicalPointer, SyntheticEvents, ForcedClick}

// syntheticSequence is the event order a real click produces
var syntheticSequence = []string{"pointerdown", "mousedown", "pointerup", "mouseup", "click"}

// Signal reports whether the activation has taken effect. Activate evaluates
// it once before the first technique; a signal that already holds then says
// nothing about el, so the ladder waits for el to disappear instead.
type Signal func(ctx context.Context) bool

// Disappeared is satisfied once el is no longer visible. A read error counts
// as gone: the node was most likely replaced.
func Disappeared(el page.Element) Signal {
	return func(ctx context.Context) bool {
		visible, err := el.Visible(ctx)
		return err != nil || !visible
	}
}

// Appeared is satisfied once more elements matching selector are visible in
// scope than at its first evaluation, which only records that count.
func Appeared(scope page.Scope, selector string) Signal {
	baseline := -1
	return func(ctx context.Context) bool {
		n := page.CountVisible(ctx, scope, selector)
		if baseline < 0 {
			baseline = n
			return false
		}
		return n > baseline
	}
}

// Result is the outcome of one activation
type Result struct {
	Succeeded bool
	// Technique is the rung that succeeded, or the last one tried.
	Technique Technique
	// StillVisible reports whether the element was visible after the last check.
	StillVisible bool
	Attempted    int
	// Errored counts techniques that failed to execute.
	Errored int
}

// Config holds the ladder's timing
type Config struct {
	MoveSteps     int
	PrePressPause time.Duration
	Hold          time.Duration
	Settle        time.Duration
	Recheck       time.Duration
}

// DefaultConfig returns the timing the booking page was tuned against
func DefaultConfig() Config {
	return Config{
		MoveSteps:     10,
		PrePressPause: 200 * time.Millisecond,
		Hold:          100 * time.Millisecond,
		Settle:        time.Second,
		Recheck:       500 * time.Millisecond,
	}
}

// Engine runs the activation ladder against elements of one page
type Engine struct {
	mouse   page.Mouse
	cfg     Config
	log     *zap.Logger
	ladder  []Technique
	sleep   func(ctx context.Context, d time.Duration) error
	onPress func(x, y float64)
}

// Option configures an Engine
type Option func(*Engine)

// WithSleep replaces the delay function, for tests
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = fn }
}

// WithPressHook reports the viewport point of every completed physical press
func WithPressHook(fn func(x, y float64)) Option {
	return func(e *Engine) { e.onPress = fn }
}

// WithLadder replaces the escalation order
func WithLadder(ts ...Technique) Option {
	return func(e *Engine) { e.ladder = ts }
}

// New creates an Engine that presses through mouse
func New(mouse page.Mouse, cfg Config, log *zap.Logger, opts ...Option) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		mouse:  mouse,
		cfg:    cfg,
		log:    log.Named("activation"),
		ladder: Ladder,
		sleep:  page.Sleep,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Activate escalates through the ladder until done reports success. A nil
// done means "el is no longer visible". Technique failures are logged and the
// ladder continues; only ctx cancellation stops it early.
func (e *Engine) Activate(ctx context.Context, el page.Element, done Signal) Result {
	if done == nil {
		done = Disappeared(el)
	}
	if ctx.Err() == nil && done(ctx) {
		e.log.Warn("success signal holds before activation, waiting for the element to disappear instead")
		done = Disappeared(el)
	}

	var res Result
	for _, t := range e.ladder {
		if ctx.Err() != nil {
			break
		}
		res.Technique = t
		res.Attempted++

		log := e.log.With(zap.Stringer("technique", t))
		if err := e.apply(ctx, t, el); err != nil {
			res.Errored++
			log.Warn("technique failed", zap.Error(err))
		} else {
			log.Debug("technique applied")
		}
		if !t.activates() {
			continue
		}

		if e.confirmed(ctx, done) {
			res.Succeeded = true
			log.Info("activation confirmed", zap.Int("attempted", res.Attempted))
			break
		}
		log.Debug("not confirmed, escalating")
	}

	if visible, err := el.Visible(ctx); err == nil {
		res.StillVisible = visible
	}
	if !res.Succeeded {
		e.log.Warn("activation unconfirmed after all techniques",
			zap.Int("attempted", res.Attempted),
			zap.Int("errored", res.Errored),
			zap.Bool("still_visible", res.StillVisible))
	}
	return res
}

// confirmed waits for the page to settle, checks, and if the UI has not
// reacted yet waits a little longer and checks once more.
func (e *Engine) confirmed(ctx context.Context, done Signal) bool {
	if e.sleep(ctx, e.cfg.Settle) != nil {
		return false
	}
	if done(ctx) {
		return true
	}
	if e.sleep(ctx, e.cfg.Recheck) != nil {
		return false
	}
	return done(ctx)
}

func (e *Engine) apply(ctx context.Context, t Technique, el page.Element) error {
	switch t {
	case ScrollIntoView:
		return el.ScrollIntoView(ctx)
	case PhysicalPointer:
		return e.press(ctx, el)
	case SyntheticEvents:
		if err := el.Hover(ctx); err != nil {
			e.log.Debug("hover failed", zap.Error(err))
		}
		return el.DispatchEvents(ctx, syntheticSequence)
	case ForcedClick:
		return el.Click(ctx, page.ClickOptions{Force: true})
	default:
		return fmt.Errorf("unknown technique %v", t)
	}
}

// press moves the pointer to the centre of el and clicks it like a person would
func (e *Engine) press(ctx context.Context, el page.Element) error {
	box, err := el.BoundingBox(ctx)
	if err != nil {
		return fmt.Errorf("bounding box: %w", err)
	}
	if box.Empty() {
		return page.ErrNoBox
	}
	x, y := box.Center()

	if err := e.mouse.Move(ctx, x, y, e.cfg.MoveSteps); err != nil {
		return fmt.Errorf("move: %w", err)
	}
	if err := e.sleep(ctx, e.cfg.PrePressPause); err != nil {
		return err
	}
	if err := e.mouse.Down(ctx); err != nil {
		return fmt.Errorf("down: %w", err)
	}
	holdErr := e.sleep(ctx, e.cfg.Hold)
	if err := e.mouse.Up(ctx); err != nil {
		return fmt.Errorf("up: %w", err)
	}
	if e.onPress != nil {
		e.onPress(x, y)
	}
	return holdErr
}
