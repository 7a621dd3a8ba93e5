package artifact_test

import (
	"context"
	"errors"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/v0xg/slotbot/internal/artifact"
	"github.com/v0xg/slotbot/internal/page/pagetest"
)

var fixed = time.Date(2026, 3, 14, 9, 5, 7, 0, time.Local)

func newStore(t *testing.T, cfg artifact.Config) *artifact.Store {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	return artifact.NewStore(cfg, zaptest.NewLogger(t), artifact.WithClock(func() time.Time { return fixed }))
}

func TestStore_ScreenshotPath(t *testing.T) {
	dir := t.TempDir()
	s := newStore(t, artifact.Config{Dir: dir})
	p := pagetest.New(`<body><p>hi</p></body>`)

	path, err := s.Screenshot(context.Background(), p, artifact.StageNoSlots)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "2026-03-14", "09-05-07_no_slots_found.png"), path)
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
}

func TestStore_ScreenshotDownscales(t *testing.T) {
	s := newStore(t, artifact.Config{MaxWidth: 32})
	p := pagetest.New(`<body></body>`)

	path, err := s.Screenshot(context.Background(), p, artifact.StageConfirmation)
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Width)
	assert.Equal(t, 20, cfg.Height)
}

func TestStore_ScreenshotError(t *testing.T) {
	dir := t.TempDir()
	s := newStore(t, artifact.Config{Dir: dir})
	p := pagetest.New(`<body></body>`)
	p.ScreenshotErr = errors.New("target closed")

	_, err := s.Screenshot(context.Background(), p, artifact.StageError)
	assert.ErrorIs(t, err, p.ScreenshotErr)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_PageSource(t *testing.T) {
	dir := t.TempDir()
	s := newStore(t, artifact.Config{Dir: dir})
	p := pagetest.New(`<html><head><title>Book</title></head><body><div role="dialog">ยืนยัน</div></body></html>`)

	path, err := s.PageSource(context.Background(), p, artifact.StageDebugSource)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "2026-03-14", "09-05-07_debug_page_source.html"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `role="dialog"`)
}

func TestStore_Timeline(t *testing.T) {
	s := newStore(t, artifact.Config{Timeline: true})
	p := pagetest.New(`<body></body>`)

	_, err := s.WriteTimeline()
	assert.ErrorIs(t, err, artifact.ErrNoFrames)

	for _, stage := range []string{artifact.StagePageLoadTimeout, artifact.StageConfirmation} {
		_, err := s.Screenshot(context.Background(), p, stage)
		require.NoError(t, err)
	}

	path, err := s.WriteTimeline()
	require.NoError(t, err)
	assert.Equal(t, "09-05-07_timeline.gif", filepath.Base(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	g, err := gif.DecodeAll(f)
	require.NoError(t, err)
	assert.Len(t, g.Image, 2)
}

func TestSummarize(t *testing.T) {
	d, err := artifact.Summarize(`<html><head><title> Appointments </title></head><body>
		<div role="dialog">
			<input aria-label="ชื่อ"><input placeholder="Email address"><textarea name="notes"></textarea>
			<button><span>จอง</span></button>
			<div role="button" aria-label="Close"></div>
		</div>
	</body></html>`)
	require.NoError(t, err)

	want := artifact.Digest{
		Title:   "Appointments",
		Dialogs: 1,
		Buttons: []string{"จอง", "Close"},
		Inputs:  []string{"ชื่อ", "Email address", "notes"},
	}
	if diff := cmp.Diff(want, d); diff != "" {
		t.Errorf("Summarize mismatch (-want +got):\n%s", diff)
	}
}

func TestNop(t *testing.T) {
	var sink artifact.Sink = artifact.Nop{}
	path, err := sink.Screenshot(context.Background(), nil, artifact.StageError)
	assert.NoError(t, err)
	assert.Empty(t, path)
}

func TestStore_MarksLastPress(t *testing.T) {
	s := newStore(t, artifact.Config{MarkPointer: true, Scale: 2})
	var _ artifact.PressMarker = s
	s.MarkPress(5, 5)

	path, err := s.Screenshot(context.Background(), pagetest.New(`<body></body>`), artifact.StageConfirmation)
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)

	r, g, b, _ := img.At(10, 10).RGBA()
	assert.Equal(t, [3]uint32{0, 0, 0}, [3]uint32{r, g, b}, "pointer tip outline")
	r, g, b, _ = img.At(25, 10).RGBA()
	assert.Equal(t, [3]uint32{244 * 0x101, 67 * 0x101, 54 * 0x101}, [3]uint32{r, g, b}, "ripple")
}

func TestStore_MarkPointerOff(t *testing.T) {
	s := newStore(t, artifact.Config{})
	s.MarkPress(5, 5)
	plain := newStore(t, artifact.Config{})
	p := pagetest.New(`<body></body>`)

	marked, err := s.Screenshot(context.Background(), p, artifact.StageError)
	require.NoError(t, err)
	unmarked, err := plain.Screenshot(context.Background(), p, artifact.StageError)
	require.NoError(t, err)

	a, err := os.ReadFile(marked)
	require.NoError(t, err)
	b, err := os.ReadFile(unmarked)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
