// Package form fills the booking form's labelled inputs.
package form

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/v0xg/slotbot/internal/page"
)

const selControls = "input, textarea"

// Config bounds the filler's waits
type Config struct {
	// Settle is waited once before the first field, for the form to finish rendering.
	Settle       time.Duration
	FieldTimeout time.Duration
	PollInterval time.Duration
}

// DefaultConfig returns the filler's production timing
func DefaultConfig() Config {
	return Config{
		Settle:       500 * time.Millisecond,
		FieldTimeout: 10 * time.Second,
		PollInterval: 250 * time.Millisecond,
	}
}

// Filler resolves form controls by their visible or accessible label
type Filler struct {
	cfg Config
	log *zap.Logger
}

// NewFiller creates a Filler
func NewFiller(cfg Config, log *zap.Logger) *Filler {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = page.DefaultPollInterval
	}
	return &Filler{cfg: cfg, log: log.Named("form")}
}

// FillAll fills every field in order and stops at the first one that cannot
// be resolved or written. The returned error is a *FieldNotFoundError.
func (f *Filler) FillAll(ctx context.Context, scope page.Scope, fields []FieldSpec) error {
	if err := page.Sleep(ctx, f.cfg.Settle); err != nil {
		return fmt.Errorf("form settle: %w", err)
	}
	for _, spec := range fields {
		if err := f.Fill(ctx, scope, spec); err != nil {
			return err
		}
	}
	return nil
}

// Fill resolves a single field and overwrites its value
func (f *Filler) Fill(ctx context.Context, scope page.Scope, spec FieldSpec) error {
	log := f.log.With(zap.String("field", string(spec.Name)))

	el, via, err := f.find(ctx, scope, spec)
	if err != nil {
		log.Warn("field not found", zap.Strings("patterns", patternStrings(spec.Patterns)))
		nf := &FieldNotFoundError{Field: spec.Name, Patterns: patternStrings(spec.Patterns)}
		if ctx.Err() != nil {
			nf.Err = ctx.Err()
		}
		return nf
	}

	if err := el.Fill(ctx, spec.Value); err != nil {
		log.Warn("fill failed", zap.String("via", via), zap.Error(err))
		return &FieldNotFoundError{Field: spec.Name, Patterns: patternStrings(spec.Patterns), Err: err}
	}
	log.Info("field filled", zap.String("via", via))
	return nil
}

// find polls until one of the spec's patterns resolves to a visible control
func (f *Filler) find(ctx context.Context, scope page.Scope, spec FieldSpec) (page.Element, string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.FieldTimeout)
	defer cancel()

	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()
	for {
		for _, re := range spec.Patterns {
			if el, via, ok := f.resolve(ctx, scope, re); ok {
				return el, via, nil
			}
		}
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// resolve tries each labelling mechanism in turn for one pattern
func (f *Filler) resolve(ctx context.Context, scope page.Scope, re *regexp.Regexp) (page.Element, string, bool) {
	if lf, ok := scope.(page.LabelFinder); ok {
		if els, err := lf.ByLabel(ctx, re); err == nil {
			if el, ok := firstVisible(ctx, els); ok {
				return el, "accessible_label", true
			}
		}
	}

	controls, _ := scope.QueryAll(ctx, selControls)
	for _, c := range controls {
		if v, ok, _ := c.Attribute(ctx, "aria-label"); ok && re.MatchString(v) && visible(ctx, c) {
			return c, "aria_label", true
		}
	}

	labels, _ := scope.QueryAll(ctx, "label")
	var wrapping []page.Element
	for _, l := range labels {
		text, err := l.Text(ctx)
		if err != nil || !re.MatchString(text) {
			continue
		}
		id, ok, _ := l.Attribute(ctx, "for")
		if !ok || id == "" {
			wrapping = append(wrapping, l)
			continue
		}
		if el, ok := byID(ctx, scope, id); ok && visible(ctx, el) {
			return el, "label_for", true
		}
	}
	for _, l := range wrapping {
		inner, _ := l.QueryAll(ctx, selControls)
		if el, ok := firstVisible(ctx, inner); ok {
			return el, "label_wrapped", true
		}
	}

	for _, c := range controls {
		ids, ok, _ := c.Attribute(ctx, "aria-labelledby")
		if !ok {
			continue
		}
		var parts []string
		for _, id := range strings.Fields(ids) {
			if ref, ok := byID(ctx, scope, id); ok {
				if t, err := ref.Text(ctx); err == nil {
					parts = append(parts, t)
				}
			}
		}
		if re.MatchString(strings.Join(parts, " ")) && visible(ctx, c) {
			return c, "aria_labelledby", true
		}
	}

	for _, c := range controls {
		if v, ok, _ := c.Attribute(ctx, "placeholder"); ok && re.MatchString(v) && visible(ctx, c) {
			return c, "placeholder", true
		}
	}
	return nil, "", false
}

func byID(ctx context.Context, scope page.Scope, id string) (page.Element, bool) {
	els, err := scope.QueryAll(ctx, fmt.Sprintf(`[id=%q]`, id))
	if err != nil || len(els) == 0 {
		return nil, false
	}
	return els[0], true
}

func visible(ctx context.Context, el page.Element) bool {
	ok, err := el.Visible(ctx)
	return err == nil && ok
}

func firstVisible(ctx context.Context, els []page.Element) (page.Element, bool) {
	for _, el := range els {
		if visible(ctx, el) {
			return el, true
		}
	}
	return nil, false
}
