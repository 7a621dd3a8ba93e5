// Package page defines the browser capability the booking engine drives.
//
// A Page is owned by exactly one booking run. Elements are live handles into
// the DOM and must not be kept past the step that produced them.
package page

import (
	"context"
	"errors"
	"regexp"
	"time"
)

var (
	// ErrNoBox is returned when an element has no layout box (detached,
	// display:none, or momentarily off-screen).
	ErrNoBox = errors.New("element has no bounding box")

	// ErrDetached is returned when a handle no longer points at a node in the document.
	ErrDetached = errors.New("element is detached from the document")
)

// Box is an element's bounding box in viewport CSS pixels
type Box struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Center returns the centre point of the box
func (b Box) Center() (x, y float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Empty reports whether the box has no area
func (b Box) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// ClickOptions configures a logical click
type ClickOptions struct {
	// Force skips the driver's actionability checks (visible, stable, receives events).
	Force bool
}

// Scope is anything that can be searched with a CSS selector: the page itself
// or a container element such as a dialog.
type Scope interface {
	QueryAll(ctx context.Context, selector string) ([]Element, error)
}

// Element is a live reference to a DOM node
type Element interface {
	Scope

	// Text returns the rendered text (innerText, or value for form controls).
	Text(ctx context.Context) (string, error)
	// Attribute returns the attribute value and whether it is present.
	Attribute(ctx context.Context, name string) (string, bool, error)
	Visible(ctx context.Context) (bool, error)
	ScrollIntoView(ctx context.Context) error
	Hover(ctx context.Context) error
	// BoundingBox returns ErrNoBox when the element has no layout box.
	BoundingBox(ctx context.Context) (Box, error)
	// DispatchEvents fires each event type on the element in order as a
	// bubbling, cancelable MouseEvent.
	DispatchEvents(ctx context.Context, types []string) error
	Click(ctx context.Context, opts ClickOptions) error
	// Fill replaces the control's current value.
	Fill(ctx context.Context, value string) error
	Parent(ctx context.Context) (Element, error)
}

// Mouse issues input events addressed by viewport coordinates, not by element
type Mouse interface {
	// Move glides the pointer to (x, y) through steps intermediate positions.
	Move(ctx context.Context, x, y float64, steps int) error
	Down(ctx context.Context) error
	Up(ctx context.Context) error
}

// Page is the single shared browser tab a booking run drives
type Page interface {
	Scope

	Navigate(ctx context.Context, url string) error
	// WaitIdle waits for network activity to settle, at most d.
	WaitIdle(ctx context.Context, d time.Duration) error
	Mouse() Mouse
	// VisibleText returns the rendered text of the document body.
	VisibleText(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// LabelFinder is implemented by drivers that can resolve form controls by
// accessible label natively.
type LabelFinder interface {
	ByLabel(ctx context.Context, pattern *regexp.Regexp) ([]Element, error)
}

// Session owns a browser and the one page a run drives
type Session interface {
	Page() Page
	Close() error
}
