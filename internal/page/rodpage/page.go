package rodpage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/v0xg/slotbot/internal/page"
)

// Page adapts *rod.Page to page.Page
type Page struct {
	page *rod.Page
}

// QueryAll implements page.Scope
func (p *Page) QueryAll(ctx context.Context, selector string) ([]page.Element, error) {
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, mapErr(err)
	}
	return wrap(els), nil
}

// Navigate implements page.Page. It returns once the navigation commits;
// readiness is the caller's wait.
func (p *Page) Navigate(ctx context.Context, url string) error {
	return p.page.Context(ctx).Navigate(url)
}

// WaitIdle implements page.Page. Persistent connections never go idle, so
// the wait is capped at d.
func (p *Page) WaitIdle(ctx context.Context, d time.Duration) error {
	p.page.Context(ctx).Timeout(d).WaitRequestIdle(500*time.Millisecond, nil, nil, nil)()
	return ctx.Err()
}

// Mouse implements page.Page
func (p *Page) Mouse() page.Mouse {
	return &Mouse{page: p.page}
}

// VisibleText implements page.Page
func (p *Page) VisibleText(ctx context.Context) (string, error) {
	res, err := p.page.Context(ctx).Eval(`() => document.body ? document.body.innerText : ""`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

// HTML implements page.Page
func (p *Page) HTML(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

// Screenshot implements page.Page
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	return p.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

// Element adapts *rod.Element to page.Element
type Element struct {
	el *rod.Element
}

func wrap(els rod.Elements) []page.Element {
	out := make([]page.Element, 0, len(els))
	for _, el := range els {
		out = append(out, &Element{el: el})
	}
	return out
}

// QueryAll implements page.Scope
func (e *Element) QueryAll(ctx context.Context, selector string) ([]page.Element, error) {
	els, err := e.el.Context(ctx).Elements(selector)
	if err != nil {
		return nil, mapErr(err)
	}
	return wrap(els), nil
}

// Text implements page.Element
func (e *Element) Text(ctx context.Context) (string, error) {
	s, err := e.el.Context(ctx).Text()
	return strings.TrimSpace(s), mapErr(err)
}

// Attribute implements page.Element
func (e *Element) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", false, mapErr(err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

// Visible implements page.Element
func (e *Element) Visible(ctx context.Context) (bool, error) {
	ok, err := e.el.Context(ctx).Visible()
	return ok, mapErr(err)
}

// ScrollIntoView implements page.Element
func (e *Element) ScrollIntoView(ctx context.Context) error {
	return mapErr(e.el.Context(ctx).ScrollIntoView())
}

// Hover implements page.Element
func (e *Element) Hover(ctx context.Context) error {
	return mapErr(e.el.Context(ctx).Hover())
}

// BoundingBox implements page.Element using the element's first content quad
func (e *Element) BoundingBox(ctx context.Context) (page.Box, error) {
	shape, err := e.el.Context(ctx).Shape()
	if err != nil {
		return page.Box{}, mapErr(err)
	}
	if len(shape.Quads) == 0 {
		return page.Box{}, page.ErrNoBox
	}
	q := shape.Quads[0]
	minX := math.Min(math.Min(q[0], q[2]), math.Min(q[4], q[6]))
	maxX := math.Max(math.Max(q[0], q[2]), math.Max(q[4], q[6]))
	minY := math.Min(math.Min(q[1], q[3]), math.Min(q[5], q[7]))
	maxY := math.Max(math.Max(q[1], q[3]), math.Max(q[5], q[7]))
	box := page.Box{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
	if box.Empty() {
		return page.Box{}, page.ErrNoBox
	}
	return box, nil
}

const dispatchJS = `(types) => {
	const r = this.getBoundingClientRect();
	const init = {
		bubbles: true, cancelable: true, composed: true, view: window, button: 0,
		clientX: r.left + r.width / 2, clientY: r.top + r.height / 2,
	};
	for (const type of types) {
		const ev = type.startsWith('pointer')
			? new PointerEvent(type, {...init, pointerId: 1, pointerType: 'mouse', isPrimary: true})
			: new MouseEvent(type, init);
		this.dispatchEvent(ev);
	}
}`

// DispatchEvents implements page.Element
func (e *Element) DispatchEvents(ctx context.Context, types []string) error {
	_, err := e.el.Context(ctx).Eval(dispatchJS, types)
	return mapErr(err)
}

// Click implements page.Element. A forced click calls the DOM click()
// directly, skipping rod's visibility and interactability waits.
func (e *Element) Click(ctx context.Context, opts page.ClickOptions) error {
	el := e.el.Context(ctx)
	if opts.Force {
		_, err := el.Eval(`() => this.click()`)
		return mapErr(err)
	}
	return mapErr(el.Click(proto.InputMouseButtonLeft, 1))
}

// Fill implements page.Element
func (e *Element) Fill(ctx context.Context, value string) error {
	el := e.el.Context(ctx)
	if err := el.SelectAllText(); err != nil {
		return mapErr(err)
	}
	return mapErr(el.Input(value))
}

// Parent implements page.Element
func (e *Element) Parent(ctx context.Context) (page.Element, error) {
	parent, err := e.el.Context(ctx).Parent()
	if err != nil {
		return nil, mapErr(err)
	}
	return &Element{el: parent}, nil
}

// Mouse moves the real CDP pointer
type Mouse struct {
	page *rod.Page
}

// Move glides from the current position to (x, y) with ease-in-out timing
func (m *Mouse) Move(ctx context.Context, x, y float64, steps int) error {
	if steps < 1 {
		steps = 1
	}
	from := m.page.Mouse.Position()
	for i := 1; i <= steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		t := easeInOutQuad(float64(i) / float64(steps))
		to := proto.Point{X: from.X + (x-from.X)*t, Y: from.Y + (y-from.Y)*t}
		if err := m.page.Mouse.MoveTo(to); err != nil {
			return fmt.Errorf("mouse move: %w", err)
		}
	}
	return nil
}

// Down implements page.Mouse
func (m *Mouse) Down(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.page.Mouse.Down(proto.InputMouseButtonLeft, 1)
}

// Up implements page.Mouse
func (m *Mouse) Up(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.page.Mouse.Up(proto.InputMouseButtonLeft, 1)
}

// easeInOutQuad provides smooth acceleration/deceleration
func easeInOutQuad(t float64) float64 {
	if t < 0.5 {
		return 2 * t * t
	}
	return 1 - (-2*t+2)*(-2*t+2)/2
}

// mapErr translates rod's stale-node errors into page.ErrDetached
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var notFound *rod.ErrObjectNotFound
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", page.ErrDetached, err)
	}
	msg := err.Error()
	for _, s := range []string{"Could not find node", "Node is detached", "Cannot find context with specified id"} {
		if strings.Contains(msg, s) {
			return fmt.Errorf("%w: %v", page.ErrDetached, err)
		}
	}
	return err
}
