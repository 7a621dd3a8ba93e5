package pwpage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/v0xg/slotbot/internal/page"
)

// defaultTimeout bounds driver calls when ctx carries no deadline.
const defaultTimeout = 5 * time.Second

// timeoutMS converts what is left of ctx's deadline to playwright milliseconds
func timeoutMS(ctx context.Context, fallback time.Duration) *float64 {
	d := fallback
	if deadline, ok := ctx.Deadline(); ok {
		d = time.Until(deadline)
		if d < time.Millisecond {
			d = time.Millisecond
		}
	}
	return playwright.Float(float64(d.Milliseconds()))
}

// Page adapts playwright.Page to page.Page
type Page struct {
	page playwright.Page
}

// QueryAll implements page.Scope
func (p *Page) QueryAll(ctx context.Context, selector string) ([]page.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return all(p.page.Locator(selector))
}

// ByLabel implements page.LabelFinder
func (p *Page) ByLabel(ctx context.Context, pattern *regexp.Regexp) ([]page.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return all(p.page.GetByLabel(pattern))
}

// Navigate implements page.Page
func (p *Page) Navigate(ctx context.Context, url string) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   timeoutMS(ctx, 60*time.Second),
	})
	return err
}

// WaitIdle implements page.Page. A timeout is not an error.
func (p *Page) WaitIdle(ctx context.Context, d time.Duration) error {
	err := p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: timeoutMS(ctx, d),
	})
	if err != nil && !errors.Is(err, playwright.ErrTimeout) {
		return err
	}
	return ctx.Err()
}

// Mouse implements page.Page
func (p *Page) Mouse() page.Mouse {
	return &Mouse{mouse: p.page.Mouse()}
}

// VisibleText implements page.Page
func (p *Page) VisibleText(ctx context.Context) (string, error) {
	return p.page.Locator("body").InnerText(playwright.LocatorInnerTextOptions{
		Timeout: timeoutMS(ctx, defaultTimeout),
	})
}

// HTML implements page.Page
func (p *Page) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.page.Content()
}

// Screenshot implements page.Page
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	return p.page.Screenshot(playwright.PageScreenshotOptions{
		Type:    playwright.ScreenshotTypePng,
		Timeout: timeoutMS(ctx, defaultTimeout),
	})
}

// Element adapts a resolved playwright.Locator to page.Element
type Element struct {
	loc playwright.Locator
}

func all(loc playwright.Locator) ([]page.Element, error) {
	locs, err := loc.All()
	if err != nil {
		return nil, err
	}
	out := make([]page.Element, 0, len(locs))
	for _, l := range locs {
		out = append(out, &Element{loc: l})
	}
	return out, nil
}

// QueryAll implements page.Scope
func (e *Element) QueryAll(ctx context.Context, selector string) ([]page.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return all(e.loc.Locator(selector))
}

// ByLabel implements page.LabelFinder
func (e *Element) ByLabel(ctx context.Context, pattern *regexp.Regexp) ([]page.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return all(e.loc.GetByLabel(pattern))
}

const textJS = `el => (el instanceof HTMLInputElement || el instanceof HTMLTextAreaElement) ? el.value : (el.innerText || el.textContent || "").trim()`

// Text implements page.Element
func (e *Element) Text(ctx context.Context) (string, error) {
	v, err := e.loc.Evaluate(textJS, nil, playwright.LocatorEvaluateOptions{Timeout: timeoutMS(ctx, defaultTimeout)})
	if err != nil {
		return "", mapErr(err)
	}
	s, _ := v.(string)
	return s, nil
}

// Attribute implements page.Element
func (e *Element) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, err := e.loc.Evaluate(`(el, name) => el.getAttribute(name)`, name,
		playwright.LocatorEvaluateOptions{Timeout: timeoutMS(ctx, defaultTimeout)})
	if err != nil {
		return "", false, mapErr(err)
	}
	s, ok := v.(string)
	return s, ok, nil
}

// Visible implements page.Element
func (e *Element) Visible(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return e.loc.IsVisible()
}

// ScrollIntoView implements page.Element
func (e *Element) ScrollIntoView(ctx context.Context) error {
	return mapErr(e.loc.ScrollIntoViewIfNeeded(playwright.LocatorScrollIntoViewIfNeededOptions{
		Timeout: timeoutMS(ctx, defaultTimeout),
	}))
}

// Hover implements page.Element
func (e *Element) Hover(ctx context.Context) error {
	return mapErr(e.loc.Hover(playwright.LocatorHoverOptions{Timeout: timeoutMS(ctx, defaultTimeout)}))
}

// BoundingBox implements page.Element
func (e *Element) BoundingBox(ctx context.Context) (page.Box, error) {
	r, err := e.loc.BoundingBox(playwright.LocatorBoundingBoxOptions{Timeout: timeoutMS(ctx, defaultTimeout)})
	if err != nil {
		return page.Box{}, mapErr(err)
	}
	if r == nil {
		return page.Box{}, page.ErrNoBox
	}
	box := page.Box{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}
	if box.Empty() {
		return page.Box{}, page.ErrNoBox
	}
	return box, nil
}

// DispatchEvents implements page.Element
func (e *Element) DispatchEvents(ctx context.Context, types []string) error {
	init := map[string]any{"bubbles": true, "cancelable": true, "button": 0}
	for _, typ := range types {
		err := e.loc.DispatchEvent(typ, init, playwright.LocatorDispatchEventOptions{
			Timeout: timeoutMS(ctx, defaultTimeout),
		})
		if err != nil {
			return fmt.Errorf("dispatch %s: %w", typ, mapErr(err))
		}
	}
	return nil
}

// Click implements page.Element
func (e *Element) Click(ctx context.Context, opts page.ClickOptions) error {
	return mapErr(e.loc.Click(playwright.LocatorClickOptions{
		Force:   playwright.Bool(opts.Force),
		Timeout: timeoutMS(ctx, defaultTimeout),
	}))
}

// Fill implements page.Element
func (e *Element) Fill(ctx context.Context, value string) error {
	return mapErr(e.loc.Fill(value, playwright.LocatorFillOptions{Timeout: timeoutMS(ctx, defaultTimeout)}))
}

// Parent implements page.Element
func (e *Element) Parent(ctx context.Context) (page.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Element{loc: e.loc.Locator("xpath=..")}, nil
}

// Mouse adapts playwright.Mouse
type Mouse struct {
	mouse playwright.Mouse
}

// Move implements page.Mouse
func (m *Mouse) Move(ctx context.Context, x, y float64, steps int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if steps < 1 {
		steps = 1
	}
	return m.mouse.Move(x, y, playwright.MouseMoveOptions{Steps: playwright.Int(steps)})
}

// Down implements page.Mouse
func (m *Mouse) Down(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.mouse.Down()
}

// Up implements page.Mouse
func (m *Mouse) Up(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.mouse.Up()
}

// mapErr reports a locator that no longer resolves as page.ErrDetached.
// Playwright locators re-resolve on every call, so a vanished node shows up
// as a timeout.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", page.ErrDetached, err)
	}
	return err
}
