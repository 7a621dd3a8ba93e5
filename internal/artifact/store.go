// Package artifact persists screenshots and page source captured at
// diagnostic points of a booking run.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nfnt/resize"
	"go.uber.org/zap"

	"github.com/v0xg/slotbot/internal/page"
)

// Stage names used by the booking flow
const (
	StageNoSlots         = "no_slots_found"
	StageFormDidNotOpen  = "form_did_not_open"
	StageFieldNotFound   = "field_not_found"
	StageSubmitNotFound  = "submit_not_found"
	StageConfirmation    = "confirmation"
	StageError           = "error"
	StagePageLoadTimeout = "page_load_timeout"
	StageDebugSource     = "debug_page_source"
)

// Sink receives diagnostic captures. Implementations return the path written.
type Sink interface {
	Screenshot(ctx context.Context, p page.Page, stage string) (string, error)
	PageSource(ctx context.Context, p page.Page, stage string) (string, error)
}

// Nop discards every capture
type Nop struct{}

func (Nop) Screenshot(context.Context, page.Page, string) (string, error) { return "", nil }
func (Nop) PageSource(context.Context, page.Page, string) (string, error) { return "", nil }

// Config controls where and how artifacts are written
type Config struct {
	Dir string
	// MaxWidth downscales wider screenshots; 0 keeps the original size.
	MaxWidth uint
	// Timeline keeps every screenshot in memory for WriteTimeline.
	Timeline bool
	// MarkPointer draws the most recent pointer press onto screenshots.
	MarkPointer bool
	// Scale converts viewport CSS pixels to screenshot pixels (the device
	// scale factor); 0 means 1.
	Scale float64
}

// PressMarker is implemented by sinks that annotate captures with the last
// pointer press, in viewport coordinates.
type PressMarker interface {
	MarkPress(x, y float64)
}

// Store writes artifacts under Dir/YYYY-MM-DD/HH-MM-SS_<stage>.<ext>
type Store struct {
	cfg Config
	log *zap.Logger
	now func() time.Time

	mu     sync.Mutex
	frames []image.Image
	press  *image.Point
}

// Option configures a Store
type Option func(*Store)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a Store. Directories are created on first write.
func NewStore(cfg Config, log *zap.Logger, opts ...Option) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Dir == "" {
		cfg.Dir = "results"
	}
	s := &Store{cfg: cfg, log: log.Named("artifact"), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns where an artifact for stage captured at t is written
func (s *Store) Path(t time.Time, stage, ext string) string {
	return filepath.Join(s.cfg.Dir, t.Format("2006-01-02"), t.Format("15-04-05")+"_"+stage+ext)
}

// Screenshot captures the viewport as PNG
func (s *Store) Screenshot(ctx context.Context, p page.Page, stage string) (string, error) {
	raw, err := p.Screenshot(ctx)
	if err != nil {
		return "", fmt.Errorf("capture screenshot: %w", err)
	}

	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("decode screenshot: %w", err)
	}
	if at, ok := s.lastPress(); ok && s.cfg.MarkPointer {
		img = markPress(img, at)
	}
	img = s.fit(img)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode screenshot: %w", err)
	}

	path := s.Path(s.now(), stage, ".png")
	if err := write(path, buf.Bytes()); err != nil {
		return "", err
	}
	if s.cfg.Timeline {
		s.mu.Lock()
		s.frames = append(s.frames, img)
		s.mu.Unlock()
	}
	s.log.Info("screenshot saved", zap.String("stage", stage), zap.String("path", path))
	return path, nil
}

// MarkPress records a pointer press for the following screenshots
func (s *Store) MarkPress(x, y float64) {
	scale := s.cfg.Scale
	if scale <= 0 {
		scale = 1
	}
	at := image.Pt(int(x*scale), int(y*scale))
	s.mu.Lock()
	s.press = &at
	s.mu.Unlock()
}

func (s *Store) lastPress() (image.Point, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.press == nil {
		return image.Point{}, false
	}
	return *s.press, true
}

// PageSource saves the document HTML and logs a digest of its interactive
// elements.
func (s *Store) PageSource(ctx context.Context, p page.Page, stage string) (string, error) {
	src, err := p.HTML(ctx)
	if err != nil {
		return "", fmt.Errorf("read page source: %w", err)
	}

	path := s.Path(s.now(), stage, ".html")
	if err := write(path, []byte(src)); err != nil {
		return "", err
	}

	fields := []zap.Field{zap.String("stage", stage), zap.String("path", path)}
	if d, err := Summarize(src); err == nil {
		fields = append(fields, zap.Object("digest", d))
	}
	s.log.Info("page source saved", fields...)
	return path, nil
}

// fit scales img down to MaxWidth keeping its aspect ratio
func (s *Store) fit(img image.Image) image.Image {
	b := img.Bounds()
	if s.cfg.MaxWidth == 0 || uint(b.Dx()) <= s.cfg.MaxWidth {
		return img
	}
	height := uint(float64(s.cfg.MaxWidth) * float64(b.Dy()) / float64(b.Dx()))
	return resize.Resize(s.cfg.MaxWidth, height, img, resize.Lanczos3)
}

func write(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}
