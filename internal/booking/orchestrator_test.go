package booking_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/v0xg/slotbot/internal/activation"
	"github.com/v0xg/slotbot/internal/booking"
	"github.com/v0xg/slotbot/internal/confirm"
	"github.com/v0xg/slotbot/internal/form"
	"github.com/v0xg/slotbot/internal/page"
	"github.com/v0xg/slotbot/internal/page/pagetest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const schedulePage = `<html><head><title>Appointments</title></head><body>
	<div id="slots">
		<div role="button" id="s11" aria-label="11:00" aria-disabled="true">11:00</div>
		<div role="button" id="s10" aria-label="10:00 - available">10:00</div>
	</div>
</body></html>`

const bookingDialog = `<div role="dialog" id="dlg">
	<label for="fn">ชื่อ</label><input id="fn">
	<label for="ln">นามสกุล</label><input id="ln">
	<input id="em" aria-label="อีเมล">
	<input id="ph" aria-label="หมายเลขโทรศัพท์">
	<input id="sid" aria-label="รหัสนิสิต">
	<div class="uW2Fw-cnG4Wd">
		<button id="submit" jsname="hNX5Yc"><span class="YUhpIc-vQzf8d">จอง</span></button>
	</div>
</div>`

const bareDialog = `<div role="dialog" id="dlg">
	<input id="fn" aria-label="First name">
	<input id="ln" aria-label="Last name">
	<input id="em" aria-label="Email address">
	<input id="ph" aria-label="Phone number">
	<input id="sid" aria-label="Student ID">
	<button id="back">ย้อนกลับ</button>
	<button id="go">ดำเนินการต่อ</button>
</div>`

var identity = form.Identity{
	FirstName: "Somchai",
	LastName:  "Jaidee",
	Email:     "somchai@example.com",
	Phone:     "0812345678",
	StudentID: "6512345621",
}

type recordingSink struct {
	stages []string
	err    error
}

func (s *recordingSink) Screenshot(_ context.Context, _ page.Page, stage string) (string, error) {
	s.stages = append(s.stages, "png:"+stage)
	if s.err != nil {
		return "", s.err
	}
	return "results/" + stage + ".png", nil
}

func (s *recordingSink) PageSource(_ context.Context, _ page.Page, stage string) (string, error) {
	s.stages = append(s.stages, "html:"+stage)
	if s.err != nil {
		return "", s.err
	}
	return "results/" + stage + ".html", nil
}

type harness struct {
	orch  *booking.Orchestrator
	sink  *recordingSink
	slept []time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{sink: &recordingSink{}}
	cfg := booking.Config{
		TargetURL:           "https://calendar.example.com/appointments/schedules/abc",
		Fields:              form.DefaultFields(identity),
		PageLoadTimeout:     20 * time.Millisecond,
		FormOpenTimeout:     20 * time.Millisecond,
		ConfirmationTimeout: 20 * time.Millisecond,
		PostConfirmWait:     10 * time.Second,
		Activation:          activation.DefaultConfig(),
		Form:                form.Config{FieldTimeout: 20 * time.Millisecond, PollInterval: 5 * time.Millisecond},
	}
	h.orch = booking.New(cfg, h.sink, zaptest.NewLogger(t),
		booking.WithRunID(func() string { return "run-1" }),
		booking.WithSleep(func(ctx context.Context, d time.Duration) error {
			h.slept = append(h.slept, d)
			return ctx.Err()
		}))
	return h
}

// opensForm makes a press on the 10:00 slot render dialog
func opensForm(p *pagetest.Page, dialog string) {
	p.On("#s10", "", func(p *pagetest.Page) {
		if len(p.EventKinds("#fn")) == 0 && p.Value("#fn") == "" {
			p.Remove("#dlg")
			p.Append("body", dialog)
		}
	})
}

func TestRun_BooksFirstAvailableSlot(t *testing.T) {
	h := newHarness(t)
	p := pagetest.New(schedulePage)
	opensForm(p, bookingDialog)
	p.On("#submit", pagetest.Physical, func(p *pagetest.Page) {
		p.Remove("#dlg")
		p.Append("body", `<div id="done">การจองได้รับการยืนยัน</div>`)
	})

	res := h.orch.Run(context.Background(), p)

	require.NoError(t, res.Err)
	assert.Equal(t, booking.Done, res.State)
	assert.Equal(t, booking.NotAborted, res.Abort)
	assert.True(t, res.SlotFound)
	assert.Equal(t, "10:00", res.SlotLabel)
	assert.True(t, res.FormSubmitted)
	assert.Equal(t, confirm.Confirmed, res.Confirmation)
	assert.True(t, res.Booked())
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, "results/confirmation.png", res.ArtifactPath)
	assert.Equal(t, "https://calendar.example.com/appointments/schedules/abc", p.URL)

	assert.Empty(t, p.EventKinds("#s11"), "disabled slot must never be touched")
	assert.Equal(t, 1, countKind(p.EventKinds("#s10"), pagetest.Physical), "slot pressed once")
	assert.Contains(t, h.slept, 10*time.Second, "post-confirmation wait")
	assert.Equal(t, []string{"png:confirmation"}, h.sink.stages)
}

func TestRun_FillsConfiguredValues(t *testing.T) {
	h := newHarness(t)
	p := pagetest.New(schedulePage)
	opensForm(p, bookingDialog)
	var filled map[string]string
	p.On("#submit", pagetest.Physical, func(p *pagetest.Page) {
		filled = map[string]string{
			"fn":  p.Value("#fn"),
			"ln":  p.Value("#ln"),
			"em":  p.Value("#em"),
			"ph":  p.Value("#ph"),
			"sid": p.Value("#sid"),
		}
		p.Hide("#dlg")
	})

	h.orch.Run(context.Background(), p)

	assert.Equal(t, map[string]string{
		"fn":  "Somchai",
		"ln":  "Jaidee",
		"em":  "somchai@example.com",
		"ph":  "0812345678",
		"sid": "6512345621",
	}, filled)
}

func TestRun_NoSlots(t *testing.T) {
	h := newHarness(t)
	p := pagetest.New(`<body><p>ไม่มีช่วงเวลาว่าง</p><button>Next week</button></body>`)

	res := h.orch.Run(context.Background(), p)

	assert.False(t, res.SlotFound)
	assert.Equal(t, booking.Aborted, res.State)
	assert.Equal(t, booking.NoSlots, res.Abort)
	assert.NoError(t, res.Err)
	assert.Equal(t, "results/no_slots_found.png", res.ArtifactPath)
	assert.Equal(t, []string{"png:no_slots_found"}, h.sink.stages)
}

// cancelDuringSearch cancels the run once navigation has settled, so the
// slot search runs on a dead context.
type cancelDuringSearch struct {
	*pagetest.Page
	cancel context.CancelFunc
	armed  bool
}

func (p *cancelDuringSearch) WaitIdle(ctx context.Context, d time.Duration) error {
	p.armed = true
	return p.Page.WaitIdle(ctx, d)
}

func (p *cancelDuringSearch) QueryAll(ctx context.Context, selector string) ([]page.Element, error) {
	if p.armed {
		p.cancel()
	}
	return p.Page.QueryAll(ctx, selector)
}

func TestRun_CancelledDuringSlotSearch(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &cancelDuringSearch{
		Page:   pagetest.New(`<body><p>ไม่มีช่วงเวลาว่าง</p><button>Next week</button></body>`),
		cancel: cancel,
	}

	res := h.orch.Run(ctx, p)

	assert.True(t, p.armed)
	assert.Equal(t, booking.Aborted, res.State)
	assert.Equal(t, booking.Unexpected, res.Abort, "cancellation is not an empty schedule")
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, []string{"png:error"}, h.sink.stages)
}

func TestRun_PageLoadTimeoutContinues(t *testing.T) {
	h := newHarness(t)
	p := pagetest.New(`<body><p>Loading…</p></body>`)

	res := h.orch.Run(context.Background(), p)

	assert.Equal(t, booking.NoSlots, res.Abort)
	assert.Equal(t, []string{"png:page_load_timeout", "png:no_slots_found"}, h.sink.stages)
}

func TestRun_InputAlreadyOnSchedulePage(t *testing.T) {
	h := newHarness(t)
	p := pagetest.New(`<html><body>
		<input id="search" aria-label="Search">
		<div id="slots">
			<div role="button" id="s10" aria-label="10:00 - available">10:00</div>
		</div>
	</body></html>`)
	opensForm(p, bookingDialog)
	p.On("#submit", pagetest.Physical, func(p *pagetest.Page) {
		p.Remove("#dlg")
		p.Append("body", `<div id="done">การจองได้รับการยืนยัน</div>`)
	})

	res := h.orch.Run(context.Background(), p)

	require.NoError(t, res.Err)
	assert.True(t, res.Booked())
	assert.Equal(t, []pagetest.Interaction{pagetest.Scroll, pagetest.Physical}, p.EventKinds("#s10"))
	assert.Equal(t, "Somchai", p.Value("#fn"))
	assert.Empty(t, p.Value("#search"))
}

// titledDialog is a booking dialog whose heading reads "confirm appointment"
const titledDialog = `<div role="dialog" id="dlg">
	<h2>ยืนยันการนัดหมาย</h2>
	<label for="fn">ชื่อ</label><input id="fn">
	<label for="ln">นามสกุล</label><input id="ln">
	<input id="em" aria-label="อีเมล">
	<input id="ph" aria-label="หมายเลขโทรศัพท์">
	<input id="sid" aria-label="รหัสนิสิต">
	<div class="uW2Fw-cnG4Wd">
		<button id="submit" jsname="hNX5Yc"><span class="YUhpIc-vQzf8d">จอง</span></button>
	</div>
</div>`

func TestRun_ConfirmationPhraseInDialogHeading(t *testing.T) {
	t.Run("submit is still pressed", func(t *testing.T) {
		h := newHarness(t)
		p := pagetest.New(schedulePage)
		opensForm(p, titledDialog)
		p.On("#submit", pagetest.Physical, func(p *pagetest.Page) {
			p.Remove("#dlg")
			p.Append("body", `<div id="done">การจองได้รับการยืนยัน</div>`)
		})

		res := h.orch.Run(context.Background(), p)

		assert.True(t, res.Booked())
		assert.Equal(t, []pagetest.Interaction{pagetest.Scroll, pagetest.Physical}, p.EventKinds("#submit"))
	})

	t.Run("heading alone is not a confirmation", func(t *testing.T) {
		h := newHarness(t)
		p := pagetest.New(schedulePage)
		opensForm(p, titledDialog)

		res := h.orch.Run(context.Background(), p)

		assert.Equal(t, booking.Done, res.State)
		assert.Equal(t, confirm.TimedOutUncertain, res.Confirmation)
		assert.False(t, res.Booked())
		assert.Equal(t, 1, countKind(p.EventKinds("#submit"), pagetest.Physical))
		assert.Contains(t, p.EventKinds("#submit"), pagetest.Force, "ladder keeps escalating")
	})
}

func TestRun_SubmitByLastButton(t *testing.T) {
	h := newHarness(t)
	p := pagetest.New(schedulePage)
	opensForm(p, bareDialog)
	p.On("#go", pagetest.Physical, func(p *pagetest.Page) { p.Hide("#dlg") })

	res := h.orch.Run(context.Background(), p)

	assert.Equal(t, booking.Done, res.State)
	assert.True(t, res.FormSubmitted)
	assert.Equal(t, confirm.TimedOutUncertain, res.Confirmation)
	assert.False(t, res.Booked())
	assert.Empty(t, p.EventKinds("#back"))
	assert.Equal(t, []string{"html:debug_page_source", "png:confirmation"}, h.sink.stages)
	assert.NotContains(t, h.slept, 10*time.Second)
}

func TestRun_FormDidNotOpen(t *testing.T) {
	h := newHarness(t)
	p := pagetest.New(schedulePage)

	res := h.orch.Run(context.Background(), p)

	assert.True(t, res.SlotFound)
	assert.Equal(t, booking.FormDidNotOpen, res.Abort)
	assert.Equal(t, []pagetest.Interaction{
		pagetest.Scroll, pagetest.Physical, pagetest.Hover, pagetest.Dispatch, pagetest.Force,
	}, p.EventKinds("#s10"))
	assert.Equal(t, []string{"png:form_did_not_open"}, h.sink.stages)
}

func TestRun_FieldNotFound(t *testing.T) {
	h := newHarness(t)
	p := pagetest.New(schedulePage)
	opensForm(p, `<div role="dialog" id="dlg"><input aria-label="First name"><button>จอง</button></div>`)

	res := h.orch.Run(context.Background(), p)

	assert.Equal(t, booking.FieldNotFound, res.Abort)
	var nf *form.FieldNotFoundError
	require.ErrorAs(t, res.Err, &nf)
	assert.Equal(t, form.LastName, nf.Field)
	assert.False(t, res.FormSubmitted)
	assert.Equal(t, []string{"png:field_not_found"}, h.sink.stages)
}

func TestRun_SubmitNotFound(t *testing.T) {
	h := newHarness(t)
	p := pagetest.New(schedulePage)
	opensForm(p, `<div role="dialog" id="dlg">
		<input id="fn" aria-label="First name"><input aria-label="Last name">
		<input aria-label="Email address"><input aria-label="Phone number"><input aria-label="Student ID">
	</div>`)

	res := h.orch.Run(context.Background(), p)

	assert.Equal(t, booking.SubmitNotFound, res.Abort)
	assert.False(t, res.FormSubmitted)
	assert.Equal(t, []string{"png:submit_not_found"}, h.sink.stages)
}

func TestRun_SubmitNotActivated(t *testing.T) {
	h := newHarness(t)
	p := pagetest.New(schedulePage)
	opensForm(p, bookingDialog)
	p.On("#s10", "", func(p *pagetest.Page) {
		broken := errors.New("target closed")
		for _, op := range []string{"scroll", "box", "dispatch", "force"} {
			p.FailOn("#submit", op, broken)
		}
	})

	res := h.orch.Run(context.Background(), p)

	assert.Equal(t, booking.SubmitNotActivated, res.Abort)
	assert.False(t, res.FormSubmitted)
	assert.Error(t, res.Err)
}

func TestRun_NavigateFailure(t *testing.T) {
	h := newHarness(t)
	h.sink.err = errors.New("screenshot failed too")
	p := pagetest.New(schedulePage)
	p.NavigateErr = errors.New("net::ERR_NAME_NOT_RESOLVED")

	res := h.orch.Run(context.Background(), p)

	assert.Equal(t, booking.Unexpected, res.Abort)
	assert.ErrorIs(t, res.Err, p.NavigateErr, "capture failure must not replace the original error")
	assert.Empty(t, res.ArtifactPath)
}

type panickyPage struct {
	*pagetest.Page
}

func (panickyPage) QueryAll(context.Context, string) ([]page.Element, error) {
	panic("session crashed")
}

func TestRun_RecoversFromPanic(t *testing.T) {
	h := newHarness(t)

	res := h.orch.Run(context.Background(), panickyPage{pagetest.New(schedulePage)})

	assert.Equal(t, booking.Aborted, res.State)
	assert.Equal(t, booking.Unexpected, res.Abort)
	assert.ErrorContains(t, res.Err, "session crashed")
	assert.Equal(t, []string{"png:error"}, h.sink.stages)
}

func TestRun_CancelledContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.orch.Run(ctx, pagetest.New(schedulePage))

	assert.Equal(t, booking.Unexpected, res.Abort)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestStateAndReasonNames(t *testing.T) {
	assert.Equal(t, "confirmation_wait", booking.ConfirmationWait.String())
	assert.Equal(t, "submit_not_activated", booking.SubmitNotActivated.String())
	assert.True(t, booking.Aborted.Terminal())
	assert.False(t, booking.SubmitSearch.Terminal())
}

func countKind(kinds []pagetest.Interaction, k pagetest.Interaction) int {
	n := 0
	for _, x := range kinds {
		if x == k {
			n++
		}
	}
	return n
}

type markingSink struct {
	recordingSink
	presses int
}

func (s *markingSink) MarkPress(_, _ float64) { s.presses++ }

func TestRun_ReportsPressesToMarker(t *testing.T) {
	sink := &markingSink{}
	orch := booking.New(booking.Config{
		TargetURL:           "https://calendar.example.com/appointments/schedules/abc",
		Fields:              form.DefaultFields(identity),
		PageLoadTimeout:     20 * time.Millisecond,
		FormOpenTimeout:     20 * time.Millisecond,
		ConfirmationTimeout: 20 * time.Millisecond,
		Activation:          activation.DefaultConfig(),
		Form:                form.Config{FieldTimeout: 20 * time.Millisecond, PollInterval: 5 * time.Millisecond},
	}, sink, zaptest.NewLogger(t), booking.WithSleep(func(ctx context.Context, _ time.Duration) error {
		return ctx.Err()
	}))
	p := pagetest.New(schedulePage)
	opensForm(p, bookingDialog)
	p.On("#submit", pagetest.Physical, func(p *pagetest.Page) {
		p.Remove("#dlg")
		p.Append("body", `<div id="done">การจองได้รับการยืนยัน</div>`)
	})

	res := orch.Run(context.Background(), p)

	assert.True(t, res.Booked())
	assert.Equal(t, 2, sink.presses, "slot and submit")
	assert.Equal(t, []string{"png:confirmation"}, sink.stages)
}
