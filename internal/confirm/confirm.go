// Package confirm watches the page for evidence that a booking went through.
package confirm

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/v0xg/slotbot/internal/artifact"
	"github.com/v0xg/slotbot/internal/page"
)

// Outcome is the detector's verdict
type Outcome int

const (
	// TimedOutUncertain means no phrase appeared in time. The booking may
	// still have succeeded.
	TimedOutUncertain Outcome = iota
	Confirmed
)

func (o Outcome) String() string {
	if o == Confirmed {
		return "confirmed"
	}
	return "timed_out_uncertain"
}

// DefaultPhrases are the success messages the scheduling page shows
var DefaultPhrases = []string{
	"Booking confirmed",
	"การจองได้รับการยืนยัน",
	"ยืนยันการนัดหมาย",
	"Confirmed",
	"ยืนยันการจองแล้ว",
}

const dumpTimeout = 10 * time.Second

// Detector polls the page's visible text for a confirmation phrase
type Detector struct {
	page     page.Page
	sink     artifact.Sink
	log      *zap.Logger
	phrases  []string
	interval time.Duration
	// stale holds the phrases already on the page at the last Baseline.
	stale map[string]struct{}
}

// Option configures a Detector
type Option func(*Detector)

// WithPhrases replaces DefaultPhrases
func WithPhrases(phrases ...string) Option {
	return func(d *Detector) { d.phrases = phrases }
}

// WithInterval sets the polling interval
func WithInterval(iv time.Duration) Option {
	return func(d *Detector) { d.interval = iv }
}

// NewDetector creates a Detector. A nil sink disables the timeout dump.
func NewDetector(p page.Page, sink artifact.Sink, log *zap.Logger, opts ...Option) *Detector {
	if log == nil {
		log = zap.NewNop()
	}
	if sink == nil {
		sink = artifact.Nop{}
	}
	d := &Detector{
		page:     p,
		sink:     sink,
		log:      log.Named("confirm"),
		phrases:  DefaultPhrases,
		interval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Baseline records the phrases the page already shows. Check and Await
// ignore them from then on, so only a message that appears afterwards counts.
func (d *Detector) Baseline(ctx context.Context) {
	d.stale = nil
	text, err := d.page.VisibleText(ctx)
	if err != nil {
		d.log.Debug("read page text for baseline", zap.Error(err))
		return
	}
	found := d.match(text)
	if len(found) == 0 {
		return
	}
	d.stale = make(map[string]struct{}, len(found))
	for _, phrase := range found {
		d.stale[phrase] = struct{}{}
	}
	d.log.Info("confirmation phrases already on page, ignoring them", zap.Strings("phrases", found))
}

// Check looks for a phrase once and returns the one found
func (d *Detector) Check(ctx context.Context) (string, bool) {
	text, err := d.page.VisibleText(ctx)
	if err != nil {
		d.log.Debug("read page text", zap.Error(err))
		return "", false
	}
	for _, phrase := range d.match(text) {
		if _, ok := d.stale[phrase]; !ok {
			return phrase, true
		}
	}
	return "", false
}

// match returns the phrases text affirms, in configured order
func (d *Detector) match(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, phrase := range d.phrases {
		if affirms(lower, strings.ToLower(phrase)) {
			found = append(found, phrase)
		}
	}
	return found
}

// negations turn a phrase that directly follows them into its opposite
var negations = []string{"not", "never", "n't", "n’t", "ไม่"}

// affirms reports whether phrase occurs in text as whole words and not
// directly after a negation. Both are lower case. Thai is written without
// spaces, so the word check only applies to ASCII letters.
func affirms(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	first, _ := utf8.DecodeRuneInString(phrase)
	last, _ := utf8.DecodeLastRuneInString(phrase)
	for from := 0; ; {
		i := strings.Index(text[from:], phrase)
		if i < 0 {
			return false
		}
		start, end := from+i, from+i+len(phrase)
		from = start + 1

		before, _ := utf8.DecodeLastRuneInString(text[:start])
		after, _ := utf8.DecodeRuneInString(text[end:])
		if isASCIILetter(first) && isASCIILetter(before) {
			continue
		}
		if isASCIILetter(last) && isASCIILetter(after) {
			continue
		}
		if negated(strings.TrimRight(text[:start], " \t\n")) {
			continue
		}
		return true
	}
}

func negated(prefix string) bool {
	for _, n := range negations {
		if strings.HasSuffix(prefix, n) {
			return true
		}
	}
	return false
}

func isASCIILetter(r rune) bool {
	return ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z')
}
