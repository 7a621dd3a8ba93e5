package artifact

import (
	"image"
	"image/color"
	"image/draw"
	"math"
)

const rippleRadius = 15

var (
	pointerOutline = color.RGBA{0, 0, 0, 255}
	pointerFill    = color.RGBA{255, 255, 255, 255}
	rippleColor    = color.RGBA{244, 67, 54, 255}
)

// pointerShape is the arrow outline relative to its tip
var pointerShape = []image.Point{
	{0, 0}, {0, 16}, {4, 12}, {7, 18}, {10, 17}, {7, 11}, {12, 11},
}

// markPress returns a copy of img with a ripple and an arrow pointer at at
func markPress(img image.Image, at image.Point) image.Image {
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, img, b.Min, draw.Src)
	at = at.Add(b.Min)
	if !at.In(b) {
		return out
	}
	drawRipple(out, at)
	drawPointer(out, at)
	return out
}

func drawPointer(img *image.RGBA, tip image.Point) {
	for dy := 0; dy <= 16; dy++ {
		for dx := 0; dx <= 12; dx++ {
			if insidePointer(dx, dy) {
				setPixel(img, tip.X+dx, tip.Y+dy, pointerFill)
			}
		}
	}
	for i, p := range pointerShape {
		q := pointerShape[(i+1)%len(pointerShape)]
		drawLine(img, tip.Add(p), tip.Add(q), pointerOutline)
	}
}

// insidePointer approximates the arrow as a triangle over a shaft
func insidePointer(dx, dy int) bool {
	switch {
	case dx < 0 || dy < 0 || dy > 16:
		return false
	case dy <= 11:
		return dx <= dy*12/16
	default:
		return dx <= 4
	}
}

func drawRipple(img *image.RGBA, c image.Point) {
	for deg := 0.0; deg < 360; deg++ {
		rad := deg * math.Pi / 180
		x := c.X + int(rippleRadius*math.Cos(rad))
		y := c.Y + int(rippleRadius*math.Sin(rad))
		setPixel(img, x, y, rippleColor)
		setPixel(img, x+1, y, rippleColor)
		setPixel(img, x, y+1, rippleColor)
	}
}

// drawLine is Bresenham's line
func drawLine(img *image.RGBA, from, to image.Point, c color.RGBA) {
	dx, dy := abs(to.X-from.X), abs(to.Y-from.Y)
	sx, sy := 1, 1
	if from.X > to.X {
		sx = -1
	}
	if from.Y > to.Y {
		sy = -1
	}
	err := dx - dy
	x, y := from.X, from.Y
	for {
		setPixel(img, x, y, c)
		if x == to.X && y == to.Y {
			return
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x += sx
		}
		if e2 < dx {
			err += dx
			y += sy
		}
	}
}

func setPixel(img *image.RGBA, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
