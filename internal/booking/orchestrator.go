// Package booking drives one booking attempt from page load to confirmation.
package booking

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/v0xg/slotbot/internal/activation"
	"github.com/v0xg/slotbot/internal/artifact"
	"github.com/v0xg/slotbot/internal/confirm"
	"github.com/v0xg/slotbot/internal/form"
	"github.com/v0xg/slotbot/internal/locator"
	"github.com/v0xg/slotbot/internal/page"
)

const (
	// selPageReady is what the schedule renders once its slots are interactive.
	selPageReady = `div[role="button"], button`
	// selFormInput is evidence that the booking form opened.
	selFormInput = `input:not([type="hidden"]), textarea`

	idleWait       = 5 * time.Second
	captureTimeout = 15 * time.Second
)

// Config is the per-run configuration
type Config struct {
	TargetURL string
	Fields    []form.FieldSpec

	PageLoadTimeout     time.Duration
	FormOpenTimeout     time.Duration
	ConfirmationTimeout time.Duration
	// PostConfirmWait keeps the page open after confirmation so the site can
	// finish its follow-up requests (confirmation e-mail).
	PostConfirmWait time.Duration

	Activation activation.Config
	Form       form.Config
}

// Orchestrator runs the booking state machine
type Orchestrator struct {
	cfg     Config
	sink    artifact.Sink
	log     *zap.Logger
	locator *locator.Locator
	sleep   func(ctx context.Context, d time.Duration) error
	newID   func() string
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLocator replaces the default locator
func WithLocator(l *locator.Locator) Option {
	return func(o *Orchestrator) { o.locator = l }
}

// WithSleep replaces the delay function used by activation and the
// post-confirmation wait.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// WithRunID fixes the run id generator
func WithRunID(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// New creates an Orchestrator. A nil sink discards diagnostics.
func New(cfg Config, sink artifact.Sink, log *zap.Logger, opts ...Option) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if sink == nil {
		sink = artifact.Nop{}
	}
	o := &Orchestrator{
		cfg:   cfg,
		sink:  sink,
		log:   log.Named("booking"),
		sleep: page.Sleep,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.locator == nil {
		o.locator = locator.New(o.log)
	}
	return o
}

// run is the mutable state of one attempt
type run struct {
	page     page.Page
	log      *zap.Logger
	res      AttemptResult
	engine   *activation.Engine
	detector *confirm.Detector
	filler   *form.Filler
	slot     locator.Candidate
	submit   locator.Candidate
}

type step func(ctx context.Context, r *run) State

// Run performs one booking attempt on p. It never returns an error and never
// panics; every failure is reported through the AttemptResult.
func (o *Orchestrator) Run(ctx context.Context, p page.Page) (res AttemptResult) {
	r := &run{page: p, res: AttemptResult{RunID: o.newID(), State: Start}}
	r.log = o.log.With(zap.String("run_id", r.res.RunID))
	engineOpts := []activation.Option{activation.WithSleep(o.sleep)}
	if m, ok := o.sink.(artifact.PressMarker); ok {
		engineOpts = append(engineOpts, activation.WithPressHook(m.MarkPress))
	}
	r.engine = activation.New(p.Mouse(), o.cfg.Activation, r.log, engineOpts...)
	r.detector = confirm.NewDetector(p, o.sink, r.log)
	r.filler = form.NewFiller(o.cfg.Form, r.log)

	defer func() {
		if v := recover(); v != nil {
			r.log.Error("booking panicked", zap.Any("panic", v), zap.ByteString("stack", debug.Stack()))
			o.abort(ctx, r, Unexpected, artifact.StageError, fmt.Errorf("panic: %v", v))
		}
		res = r.res
		r.log.Info("booking attempt finished", zap.Object("result", res))
	}()

	steps := map[State]step{
		Start:            o.start,
		Navigate:         o.navigate,
		SlotSearch:       o.searchSlot,
		SlotActivated:    o.activateSlot,
		FormFilled:       o.fillForm,
		SubmitSearch:     o.searchSubmit,
		SubmitActivated:  o.activateSubmit,
		ConfirmationWait: o.awaitConfirmation,
	}

	for !r.res.State.Terminal() {
		if err := ctx.Err(); err != nil {
			return o.abort(ctx, r, Unexpected, artifact.StageError, err)
		}
		from := r.res.State
		next := steps[from](ctx, r)
		if next != Aborted {
			r.res.State = next
		}
		r.log.Debug("state transition", zap.Stringer("from", from), zap.Stringer("to", r.res.State))
	}
	return r.res
}

// abort moves the run to Aborted after a best-effort capture for stage
func (o *Orchestrator) abort(ctx context.Context, r *run, reason AbortReason, stage string, err error) AttemptResult {
	r.log.Warn("booking aborted",
		zap.Stringer("state", r.res.State),
		zap.Stringer("reason", reason),
		zap.Error(err))
	o.capture(ctx, r, stage)
	r.res.State = Aborted
	r.res.Abort = reason
	r.res.Err = err
	return r.res
}

// capture takes a screenshot; failures are logged and otherwise ignored
func (o *Orchestrator) capture(ctx context.Context, r *run, stage string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), captureTimeout)
	defer cancel()
	path, err := o.sink.Screenshot(ctx, r.page, stage)
	if err != nil {
		r.log.Warn("diagnostic capture failed", zap.String("stage", stage), zap.Error(err))
		return
	}
	if path != "" {
		r.res.ArtifactPath = path
	}
}

func (o *Orchestrator) start(_ context.Context, r *run) State {
	r.log.Info("booking attempt started", zap.String("url", o.cfg.TargetURL))
	return Navigate
}

func (o *Orchestrator) navigate(ctx context.Context, r *run) State {
	if err := o.goTo(ctx, r); err != nil {
		o.abort(ctx, r, Unexpected, artifact.StageError, fmt.Errorf("navigate: %w", err))
		return Aborted
	}
	if _, err := page.WaitVisible(ctx, r.page, selPageReady, o.cfg.PageLoadTimeout, 0); err != nil {
		if ctx.Err() != nil {
			o.abort(ctx, r, Unexpected, artifact.StageError, ctx.Err())
			return Aborted
		}
		r.log.Warn("page did not render interactive elements in time, continuing", zap.Error(err))
		o.capture(ctx, r, artifact.StagePageLoadTimeout)
	}
	if err := r.page.WaitIdle(ctx, idleWait); err != nil {
		r.log.Debug("network did not go idle", zap.Error(err))
	}
	return SlotSearch
}

// goTo bounds the navigation itself by the page-load timeout
func (o *Orchestrator) goTo(ctx context.Context, r *run) error {
	if o.cfg.PageLoadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.PageLoadTimeout)
		defer cancel()
	}
	return r.page.Navigate(ctx, o.cfg.TargetURL)
}

func (o *Orchestrator) searchSlot(ctx context.Context, r *run) State {
	c, ok := o.locator.First(ctx, locator.Slot, r.page)
	if !ok && ctx.Err() != nil {
		o.abort(ctx, r, Unexpected, artifact.StageError, ctx.Err())
		return Aborted
	}
	if !ok {
		r.log.Info("no available slots")
		o.abort(ctx, r, NoSlots, artifact.StageNoSlots, nil)
		return Aborted
	}
	r.slot = c
	r.res.SlotFound = true
	r.res.SlotLabel = c.Label()
	return SlotActivated
}

func (o *Orchestrator) activateSlot(ctx context.Context, r *run) State {
	// Inputs already on the schedule page (a search box) do not mean the form opened.
	opened := activation.Appeared(r.page, selFormInput)
	res := r.engine.Activate(ctx, r.slot.Handle, opened)
	r.log.Info("slot activation finished",
		zap.String("slot", r.res.SlotLabel),
		zap.Bool("succeeded", res.Succeeded),
		zap.Stringer("technique", res.Technique))

	if res.Succeeded {
		return FormFilled
	}
	if err := page.Poll(ctx, o.cfg.FormOpenTimeout, 0, opened); err != nil {
		o.abort(ctx, r, FormDidNotOpen, artifact.StageFormDidNotOpen, fmt.Errorf("wait for booking form: %w", err))
		return Aborted
	}
	return FormFilled
}

func (o *Orchestrator) fillForm(ctx context.Context, r *run) State {
	err := r.filler.FillAll(ctx, r.page, o.cfg.Fields)
	switch {
	case err == nil:
		return SubmitSearch
	case errors.Is(err, form.ErrFieldNotFound) && ctx.Err() == nil:
		o.abort(ctx, r, FieldNotFound, artifact.StageFieldNotFound, err)
	default:
		o.abort(ctx, r, Unexpected, artifact.StageError, err)
	}
	return Aborted
}

func (o *Orchestrator) searchSubmit(ctx context.Context, r *run) State {
	c, ok := o.locator.First(ctx, locator.Submit, r.page)
	if !ok {
		o.abort(ctx, r, SubmitNotFound, artifact.StageSubmitNotFound, nil)
		return Aborted
	}
	r.submit = c
	return SubmitActivated
}

func (o *Orchestrator) activateSubmit(ctx context.Context, r *run) State {
	// A dialog titled with a confirmation phrase must not pass for a submitted one.
	r.detector.Baseline(ctx)
	gone := activation.Disappeared(r.submit.Handle)
	done := func(ctx context.Context) bool {
		if gone(ctx) {
			return true
		}
		_, ok := r.detector.Check(ctx)
		return ok
	}

	res := r.engine.Activate(ctx, r.submit.Handle, done)
	r.log.Info("submit activation finished",
		zap.String("strategy", string(r.submit.Strategy)),
		zap.Bool("succeeded", res.Succeeded),
		zap.Stringer("technique", res.Technique),
		zap.Bool("still_visible", res.StillVisible))

	// Unconfirmed but executed techniques count as submitted; the
	// confirmation step decides whether it landed.
	if res.Attempted > 0 && res.Errored == res.Attempted {
		o.abort(ctx, r, SubmitNotActivated, artifact.StageError, errors.New("every activation technique failed"))
		return Aborted
	}
	r.res.FormSubmitted = true
	return ConfirmationWait
}

func (o *Orchestrator) awaitConfirmation(ctx context.Context, r *run) State {
	r.res.Confirmation = r.detector.Await(ctx, o.cfg.ConfirmationTimeout)
	if r.res.Confirmation == confirm.Confirmed && o.cfg.PostConfirmWait > 0 {
		r.log.Info("holding page open after confirmation", zap.Duration("wait", o.cfg.PostConfirmWait))
		_ = o.sleep(ctx, o.cfg.PostConfirmWait)
	}
	o.capture(ctx, r, artifact.StageConfirmation)
	return Done
}
