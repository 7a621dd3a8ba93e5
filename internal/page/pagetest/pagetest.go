// Package pagetest provides an in-memory page.Page backed by a goquery DOM.
//
// Visibility follows a few markup conventions so fixtures stay readable:
// an element is invisible when it or an ancestor carries the "hidden"
// attribute, a "display:none" style, or data-invisible. data-nobox removes the
// layout box while keeping the element visible. data-box="x,y,w,h" places the
// element for pointer hit-testing.
//
// The fake is not safe for concurrent use.
package pagetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/v0xg/slotbot/internal/page"
)

// Interaction is the kind of input an element received
type Interaction string

const (
	Scroll   Interaction = "scroll"
	Hover    Interaction = "hover"
	Physical Interaction = "physical"
	Dispatch Interaction = "dispatch"
	Click    Interaction = "click"
	Force    Interaction = "force"
	Fill     Interaction = "fill"
)

// Event is one recorded interaction
type Event struct {
	Kind   Interaction
	Target string
	Detail string
}

type reaction struct {
	selector string
	kind     Interaction
	fn       func(p *Page)
}

type nodeState struct {
	value      string
	hasValue   bool
	hideAfter  int
	failures   map[string]error
	interacted int
}

// Page is a fake page.Page
type Page struct {
	doc       *goquery.Document
	states    map[*html.Node]*nodeState
	reactions []reaction
	events    []Event
	mouse     *Mouse

	URL           string
	NavigateErr   error
	ScreenshotErr error
	HTMLErr       error
	TextErr       error
	QueryErr      map[string]error
	// Screenshots counts successful Screenshot calls.
	Screenshots int
}

// New parses markup into a fake page. It panics on malformed input, which
// only happens with a broken fixture.
func New(markup string) *Page {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		panic(fmt.Sprintf("pagetest: parse fixture: %v", err))
	}
	p := &Page{
		doc:      doc,
		states:   make(map[*html.Node]*nodeState),
		QueryErr: make(map[string]error),
	}
	p.mouse = &Mouse{page: p}
	return p
}

// On registers fn to run when an element matching selector (or any of its
// descendants, since clicks bubble) receives kind. An empty kind matches every
// activating interaction.
func (p *Page) On(selector string, kind Interaction, fn func(p *Page)) {
	p.reactions = append(p.reactions, reaction{selector: selector, kind: kind, fn: fn})
}

// Hide marks every element matching selector as not rendered
func (p *Page) Hide(selector string) {
	p.doc.Find(selector).SetAttr("hidden", "")
}

// Show removes the hidden marker from elements matching selector
func (p *Page) Show(selector string) {
	p.doc.Find(selector).RemoveAttr("hidden")
}

// Remove detaches every element matching selector from the document
func (p *Page) Remove(selector string) {
	p.doc.Find(selector).Remove()
}

// Append inserts markup as the last child of the elements matching selector
func (p *Page) Append(selector, markup string) {
	p.doc.Find(selector).AppendHtml(markup)
}

// HideAfter makes the elements matching selector report visible for n more
// visibility checks and hidden afterwards, modelling a UI that is slow to react.
func (p *Page) HideAfter(selector string, n int) {
	p.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		p.state(s.Nodes[0]).hideAfter = n
	})
}

// FailOn makes op fail with err on elements matching selector. Ops are
// "text", "box", "scroll", "hover", "dispatch", "click", "force", "fill", "visible".
func (p *Page) FailOn(selector, op string, err error) {
	p.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		st := p.state(s.Nodes[0])
		if st.failures == nil {
			st.failures = make(map[string]error)
		}
		st.failures[op] = err
	})
}

// Events returns the recorded interactions in order
func (p *Page) Events() []Event {
	return append([]Event(nil), p.events...)
}

// EventKinds returns the interaction kinds received by elements matching selector
func (p *Page) EventKinds(target string) []Interaction {
	var out []Interaction
	for _, e := range p.events {
		if e.Target == target {
			out = append(out, e.Kind)
		}
	}
	return out
}

// Value returns the current value of the first form control matching selector
func (p *Page) Value(selector string) string {
	s := p.doc.Find(selector).First()
	if s.Length() == 0 {
		return ""
	}
	return p.valueOf(s.Nodes[0])
}

// MouseMoves returns how many Move calls the mouse received
func (p *Page) MouseMoves() int { return p.mouse.moves }

func (p *Page) state(n *html.Node) *nodeState {
	st, ok := p.states[n]
	if !ok {
		st = &nodeState{}
		p.states[n] = st
	}
	return st
}

func (p *Page) wrap(nodes []*html.Node) []page.Element {
	out := make([]page.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &Element{page: p, node: n})
	}
	return out
}

func (p *Page) query(root *goquery.Selection, selector string) ([]page.Element, error) {
	if err, ok := p.QueryErr[selector]; ok && err != nil {
		return nil, err
	}
	return p.wrap(root.Find(selector).Nodes), nil
}

// QueryAll implements page.Scope
func (p *Page) QueryAll(ctx context.Context, selector string) ([]page.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.query(p.doc.Selection, selector)
}

// Navigate implements page.Page
func (p *Page) Navigate(ctx context.Context, url string) error {
	if p.NavigateErr != nil {
		return p.NavigateErr
	}
	p.URL = url
	return ctx.Err()
}

// WaitIdle implements page.Page
func (p *Page) WaitIdle(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// Mouse implements page.Page
func (p *Page) Mouse() page.Mouse { return p.mouse }

// VisibleText implements page.Page
func (p *Page) VisibleText(ctx context.Context) (string, error) {
	if p.TextErr != nil {
		return "", p.TextErr
	}
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				b.WriteString(t)
				b.WriteByte('\n')
			}
			return
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" || hiddenSelf(n) {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range p.doc.Find("body").Nodes {
		walk(n)
	}
	return b.String(), ctx.Err()
}

// HTML implements page.Page
func (p *Page) HTML(ctx context.Context) (string, error) {
	if p.HTMLErr != nil {
		return "", p.HTMLErr
	}
	return p.doc.Html()
}

// Screenshot implements page.Page. It returns a small solid PNG.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	if p.ScreenshotErr != nil {
		return nil, p.ScreenshotErr
	}
	img := image.NewRGBA(image.Rect(0, 0, 64, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: 30, G: 120, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	p.Screenshots++
	return buf.Bytes(), nil
}

func (p *Page) record(kind Interaction, n *html.Node, detail string) {
	p.events = append(p.events, Event{Kind: kind, Target: describe(n), Detail: detail})
}

// fire runs reactions registered for kind on n and its ancestors
func (p *Page) fire(kind Interaction, n *html.Node) {
	p.state(n).interacted++
	var matched []func(*Page)
	for _, r := range p.reactions {
		if r.kind != "" && r.kind != kind {
			continue
		}
		if r.kind == "" && (kind == Scroll || kind == Hover || kind == Fill) {
			continue
		}
		for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
			if p.doc.FindNodes(cur).Is(r.selector) {
				matched = append(matched, r.fn)
				break
			}
		}
	}
	for _, fn := range matched {
		fn(p)
	}
}

func (p *Page) attached(n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur == p.doc.Nodes[0] {
			return true
		}
	}
	return false
}

func (p *Page) visible(n *html.Node) bool {
	if !p.attached(n) {
		return false
	}
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode && hiddenSelf(cur) {
			return false
		}
	}
	return true
}

func (p *Page) valueOf(n *html.Node) string {
	if st, ok := p.states[n]; ok && st.hasValue {
		return st.value
	}
	return attr(n, "value")
}

// hitTest returns the deepest visible element whose box contains (x, y)
func (p *Page) hitTest(x, y float64) *html.Node {
	var hit *html.Node
	p.doc.Find("body *").Each(func(_ int, s *goquery.Selection) {
		n := s.Nodes[0]
		if !p.visible(n) {
			return
		}
		box, ok := p.boxOf(n)
		if !ok {
			return
		}
		if x >= box.X && x <= box.X+box.Width && y >= box.Y && y <= box.Y+box.Height {
			hit = n
		}
	})
	return hit
}

// Element is a fake page.Element
type Element struct {
	page *Page
	node *html.Node
}

func (e *Element) fail(op string) error {
	if !e.page.attached(e.node) {
		return page.ErrDetached
	}
	if st, ok := e.page.states[e.node]; ok {
		if err := st.failures[op]; err != nil {
			return err
		}
	}
	return nil
}

// QueryAll implements page.Scope
func (e *Element) QueryAll(ctx context.Context, selector string) ([]page.Element, error) {
	if err := e.fail("query"); err != nil {
		return nil, err
	}
	return e.page.query(e.page.doc.FindNodes(e.node), selector)
}

// Text implements page.Element
func (e *Element) Text(ctx context.Context) (string, error) {
	if err := e.fail("text"); err != nil {
		return "", err
	}
	switch e.node.Data {
	case "input", "textarea":
		return e.page.valueOf(e.node), nil
	}
	return strings.TrimSpace(e.page.doc.FindNodes(e.node).Text()), nil
}

// Attribute implements page.Element
func (e *Element) Attribute(ctx context.Context, name string) (string, bool, error) {
	if err := e.fail("attribute"); err != nil {
		return "", false, err
	}
	for _, a := range e.node.Attr {
		if a.Key == name {
			return a.Val, true, nil
		}
	}
	return "", false, nil
}

// Visible implements page.Element
func (e *Element) Visible(ctx context.Context) (bool, error) {
	if st, ok := e.page.states[e.node]; ok {
		if err := st.failures["visible"]; err != nil {
			return false, err
		}
		if st.hideAfter > 0 {
			st.hideAfter--
			if st.hideAfter == 0 {
				setAttr(e.node, "hidden", "")
			}
			return true, nil
		}
	}
	return e.page.visible(e.node), nil
}

// ScrollIntoView implements page.Element
func (e *Element) ScrollIntoView(ctx context.Context) error {
	if err := e.fail("scroll"); err != nil {
		return err
	}
	e.page.record(Scroll, e.node, "")
	e.page.fire(Scroll, e.node)
	return nil
}

// Hover implements page.Element
func (e *Element) Hover(ctx context.Context) error {
	if err := e.fail("hover"); err != nil {
		return err
	}
	e.page.record(Hover, e.node, "")
	e.page.fire(Hover, e.node)
	return nil
}

// BoundingBox implements page.Element
func (e *Element) BoundingBox(ctx context.Context) (page.Box, error) {
	if err := e.fail("box"); err != nil {
		return page.Box{}, err
	}
	if !e.page.visible(e.node) {
		return page.Box{}, page.ErrNoBox
	}
	box, ok := e.page.boxOf(e.node)
	if !ok {
		return page.Box{}, page.ErrNoBox
	}
	return box, nil
}

// DispatchEvents implements page.Element
func (e *Element) DispatchEvents(ctx context.Context, types []string) error {
	if err := e.fail("dispatch"); err != nil {
		return err
	}
	e.page.record(Dispatch, e.node, strings.Join(types, ","))
	for _, t := range types {
		if t == "click" {
			e.page.fire(Dispatch, e.node)
		}
	}
	return nil
}

// Click implements page.Element
func (e *Element) Click(ctx context.Context, opts page.ClickOptions) error {
	kind, op := Click, "click"
	if opts.Force {
		kind, op = Force, "force"
	}
	if err := e.fail(op); err != nil {
		return err
	}
	if !opts.Force && !e.page.visible(e.node) {
		return errors.New("pagetest: element is not visible")
	}
	e.page.record(kind, e.node, "")
	e.page.fire(kind, e.node)
	return nil
}

// Fill implements page.Element
func (e *Element) Fill(ctx context.Context, value string) error {
	if err := e.fail("fill"); err != nil {
		return err
	}
	st := e.page.state(e.node)
	st.value, st.hasValue = value, true
	e.page.record(Fill, e.node, value)
	e.page.fire(Fill, e.node)
	return nil
}

// Parent implements page.Element
func (e *Element) Parent(ctx context.Context) (page.Element, error) {
	if err := e.fail("parent"); err != nil {
		return nil, err
	}
	parent := e.node.Parent
	if parent == nil || parent.Type != html.ElementNode {
		return nil, page.ErrDetached
	}
	return &Element{page: e.page, node: parent}, nil
}

// Mouse is a fake page.Mouse that hit-tests presses against data-box
type Mouse struct {
	page  *Page
	x, y  float64
	down  bool
	moves int
	steps []int

	MoveErr error
	DownErr error
}

// Move implements page.Mouse
func (m *Mouse) Move(ctx context.Context, x, y float64, steps int) error {
	if m.MoveErr != nil {
		return m.MoveErr
	}
	m.x, m.y = x, y
	m.moves++
	m.steps = append(m.steps, steps)
	return nil
}

// Down implements page.Mouse
func (m *Mouse) Down(ctx context.Context) error {
	if m.DownErr != nil {
		return m.DownErr
	}
	m.down = true
	return nil
}

// Up implements page.Mouse. A press released at the same point activates
// the element under the pointer.
func (m *Mouse) Up(ctx context.Context) error {
	if !m.down {
		return nil
	}
	m.down = false
	if n := m.page.hitTest(m.x, m.y); n != nil {
		m.page.record(Physical, n, fmt.Sprintf("%.0f,%.0f", m.x, m.y))
		m.page.fire(Physical, n)
	}
	return nil
}

// Steps returns the step counts passed to Move, in order
func (m *Mouse) Steps() []int { return append([]int(nil), m.steps...) }

// FakeMouse exposes the concrete mouse for assertions
func (p *Page) FakeMouse() *Mouse { return p.mouse }

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func hiddenSelf(n *html.Node) bool {
	if hasAttr(n, "hidden") || hasAttr(n, "data-invisible") {
		return true
	}
	style := strings.ReplaceAll(attr(n, "style"), " ", "")
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}

// boxOf lays elements out in a single column by document order unless the
// fixture places them with data-box, so every element has its own hit area.
func (p *Page) boxOf(n *html.Node) (page.Box, bool) {
	if hasAttr(n, "data-nobox") {
		return page.Box{}, false
	}
	raw := attr(n, "data-box")
	if raw == "" {
		idx := 0
		for i, c := range p.doc.Find("*").Nodes {
			if c == n {
				idx = i
				break
			}
		}
		return page.Box{X: 10, Y: 10 + float64(idx)*40, Width: 100, Height: 30}, true
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return page.Box{}, false
	}
	var v [4]float64
	for i, s := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return page.Box{}, false
		}
		v[i] = f
	}
	return page.Box{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, true
}

func describe(n *html.Node) string {
	if id := attr(n, "id"); id != "" {
		return "#" + id
	}
	return n.Data
}
