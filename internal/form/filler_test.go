package form_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/v0xg/slotbot/internal/form"
	"github.com/v0xg/slotbot/internal/page"
	"github.com/v0xg/slotbot/internal/page/pagetest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const thaiForm = `<body><div role="dialog">
	<label for="fn">ชื่อ</label><input id="fn">
	<label>นามสกุล <input id="ln"></label>
	<input id="em" aria-label="อีเมล">
	<span id="ph-label">หมายเลขโทรศัพท์</span><input id="ph" aria-labelledby="ph-label">
	<input id="sid" placeholder="Student ID" value="6400000000">
</div></body>`

var somchai = form.Identity{
	FirstName: "Somchai",
	LastName:  "Jaidee",
	Email:     "somchai@example.com",
	Phone:     "0812345678",
	StudentID: "6512345621",
}

func newFiller(t *testing.T) *form.Filler {
	return form.NewFiller(form.Config{FieldTimeout: 40 * time.Millisecond, PollInterval: 5 * time.Millisecond}, zaptest.NewLogger(t))
}

func TestFillAll_ResolvesEveryLabelMechanism(t *testing.T) {
	p := pagetest.New(thaiForm)

	err := newFiller(t).FillAll(context.Background(), p, form.DefaultFields(somchai))
	require.NoError(t, err)

	assert.Equal(t, "Somchai", p.Value("#fn"))
	assert.Equal(t, "Jaidee", p.Value("#ln"))
	assert.Equal(t, "somchai@example.com", p.Value("#em"))
	assert.Equal(t, "0812345678", p.Value("#ph"))
	assert.Equal(t, "6512345621", p.Value("#sid"), "existing content must be replaced")
}

func TestFillAll_EnglishLabels(t *testing.T) {
	p := pagetest.New(`<body>
		<input id="a" aria-label="First name">
		<input id="b" aria-label="Last name">
		<label for="c">Email address</label><input id="c" type="email">
		<label for="d">Phone number</label><input id="d">
		<textarea id="e" aria-label="Student ID"></textarea>
	</body>`)

	require.NoError(t, newFiller(t).FillAll(context.Background(), p, form.DefaultFields(somchai)))
	assert.Equal(t, "Somchai", p.Value("#a"))
	assert.Equal(t, "Jaidee", p.Value("#b"))
	assert.Equal(t, "6512345621", p.Value("#e"))
}

func TestFillAll_MissingFieldStopsWithError(t *testing.T) {
	p := pagetest.New(thaiForm)
	p.Remove("#sid")

	err := newFiller(t).FillAll(context.Background(), p, form.DefaultFields(somchai))

	var nf *form.FieldNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, form.StudentID, nf.Field)
	assert.ErrorIs(t, err, form.ErrFieldNotFound)
	assert.Equal(t, []string{"รหัสนิสิต", "(?i)Student ID"}, nf.Patterns)
	assert.Equal(t, "0812345678", p.Value("#ph"), "earlier fields stay filled")
}

func TestFill_SkipsHiddenControl(t *testing.T) {
	p := pagetest.New(`<body>
		<input id="ghost" aria-label="Email address" hidden>
		<input id="real" placeholder="Email address">
	</body>`)

	spec := form.DefaultFields(somchai)[2]
	require.NoError(t, newFiller(t).Fill(context.Background(), p, spec))
	assert.Equal(t, "somchai@example.com", p.Value("#real"))
	assert.Empty(t, p.Value("#ghost"))
}

func TestFill_WriteFailureIsReported(t *testing.T) {
	p := pagetest.New(`<body><input id="fn" aria-label="First name"></body>`)
	cause := errors.New("element is not editable")
	p.FailOn("#fn", "fill", cause)

	err := newFiller(t).Fill(context.Background(), p, form.DefaultFields(somchai)[0])

	assert.ErrorIs(t, err, form.ErrFieldNotFound)
	assert.ErrorIs(t, err, cause)
}

// lateScope reveals the control after a few polls
type lateScope struct {
	*pagetest.Page
	calls int
}

func (s *lateScope) QueryAll(ctx context.Context, selector string) ([]page.Element, error) {
	s.calls++
	if s.calls == 6 {
		s.Page.Show("#fn")
	}
	return s.Page.QueryAll(ctx, selector)
}

func TestFill_WaitsForLateControl(t *testing.T) {
	p := pagetest.New(`<body><input id="fn" aria-label="ชื่อ" hidden></body>`)
	scope := &lateScope{Page: p}

	f := form.NewFiller(form.Config{FieldTimeout: time.Second, PollInterval: time.Millisecond}, zaptest.NewLogger(t))
	require.NoError(t, f.Fill(context.Background(), scope, form.DefaultFields(somchai)[0]))
	assert.Equal(t, "Somchai", p.Value("#fn"))
}

// nativeScope resolves labels the way a driver with accessibility support would
type nativeScope struct {
	*pagetest.Page
}

func (s nativeScope) ByLabel(ctx context.Context, re *regexp.Regexp) ([]page.Element, error) {
	if !re.MatchString("ชื่อ") {
		return nil, nil
	}
	return s.Page.QueryAll(ctx, "#native")
}

func TestFill_PrefersNativeLabelResolution(t *testing.T) {
	p := pagetest.New(`<body>
		<input id="aria" aria-label="ชื่อ">
		<input id="native">
	</body>`)

	require.NoError(t, newFiller(t).Fill(context.Background(), nativeScope{p}, form.DefaultFields(somchai)[0]))
	assert.Equal(t, "Somchai", p.Value("#native"))
	assert.Empty(t, p.Value("#aria"))
}

func TestFillAll_CancelledContext(t *testing.T) {
	p := pagetest.New(thaiForm)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newFiller(t).FillAll(ctx, p, form.DefaultFields(somchai))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, p.Value("#fn"))
}

func TestDefaultFields_Order(t *testing.T) {
	fields := form.DefaultFields(somchai)
	require.Len(t, fields, 5)

	names := make([]form.FieldName, len(fields))
	for i, f := range fields {
		names[i] = f.Name
		assert.Len(t, f.Patterns, 2)
	}
	assert.Equal(t, []form.FieldName{form.FirstName, form.LastName, form.Email, form.Phone, form.StudentID}, names)
	assert.Equal(t, "ชื่อ", fields[0].Patterns[0].String(), "Thai label is tried first")
}
