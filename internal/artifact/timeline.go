package artifact

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"os"
	"path/filepath"
	"sort"

	"github.com/nfnt/resize"
	"go.uber.org/zap"
)

// ErrNoFrames is returned by WriteTimeline when nothing was captured
var ErrNoFrames = errors.New("no screenshots captured")

// timelineDelay is how long each frame is shown, in 100ths of a second
const timelineDelay = 150

// WriteTimeline renders every screenshot captured so far into one animated
// GIF next to the other artifacts. Frames are scaled to the first frame's size.
func (s *Store) WriteTimeline() (string, error) {
	s.mu.Lock()
	frames := append([]image.Image(nil), s.frames...)
	s.mu.Unlock()
	if len(frames) == 0 {
		return "", ErrNoFrames
	}

	bounds := frames[0].Bounds()
	width, height := uint(bounds.Dx()), uint(bounds.Dy())
	pal := palette(frames[0])

	g := &gif.GIF{
		Image: make([]*image.Paletted, len(frames)),
		Delay: make([]int, len(frames)),
	}
	for i, frame := range frames {
		if fb := frame.Bounds(); uint(fb.Dx()) != width || uint(fb.Dy()) != height {
			frame = resize.Resize(width, height, frame, resize.Lanczos3)
		}
		p := image.NewPaletted(image.Rect(0, 0, int(width), int(height)), pal)
		draw.FloydSteinberg.Draw(p, p.Bounds(), frame, frame.Bounds().Min)
		g.Image[i] = p
		g.Delay[i] = timelineDelay
	}

	path := s.Path(s.now(), "timeline", ".gif")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create timeline: %w", err)
	}
	defer f.Close()

	if err := gif.EncodeAll(f, g); err != nil {
		return "", fmt.Errorf("encode timeline: %w", err)
	}
	s.log.Info("timeline saved", zap.String("path", path), zap.Int("frames", len(frames)))
	return path, nil
}

// palette picks the 255 most frequent colours of img plus transparency,
// sampling every 4th pixel.
func palette(img image.Image) color.Palette {
	b := img.Bounds()
	counts := make(map[color.RGBA]int)
	for y := b.Min.Y; y < b.Max.Y; y += 4 {
		for x := b.Min.X; x < b.Max.X; x += 4 {
			r, g, bl, a := img.At(x, y).RGBA()
			counts[color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(bl >> 8), A: uint8(a >> 8)}]++
		}
	}

	type entry struct {
		c color.RGBA
		n int
	}
	ranked := make([]entry, 0, len(counts))
	for c, n := range counts {
		ranked = append(ranked, entry{c, n})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].n > ranked[j].n })

	pal := color.Palette{color.RGBA{}}
	for _, e := range ranked {
		if len(pal) == 256 {
			break
		}
		pal = append(pal, e.c)
	}
	for len(pal) < 256 {
		v := uint8(len(pal))
		pal = append(pal, color.RGBA{R: v, G: v, B: v, A: 255})
	}
	return pal
}
