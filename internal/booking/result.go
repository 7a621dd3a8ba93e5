package booking

import (
	"fmt"

	"go.uber.org/zap/zapcore"

	"github.com/v0xg/slotbot/internal/confirm"
)

// State is a step of the booking flow
type State int

const (
	Start State = iota
	Navigate
	SlotSearch
	SlotActivated
	FormFilled
	SubmitSearch
	SubmitActivated
	ConfirmationWait
	Done
	Aborted
)

var stateNames = [...]string{
	Start:            "start",
	Navigate:         "navigate",
	SlotSearch:       "slot_search",
	SlotActivated:    "slot_activated",
	FormFilled:       "form_filled",
	SubmitSearch:     "submit_search",
	SubmitActivated:  "submit_activated",
	ConfirmationWait: "confirmation_wait",
	Done:             "done",
	Aborted:          "aborted",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether the flow stops in s
func (s State) Terminal() bool { return s == Done || s == Aborted }

// AbortReason says why a run ended in Aborted
type AbortReason int

const (
	NotAborted AbortReason = iota
	// NoSlots is a legitimate outcome: there was nothing to book.
	NoSlots
	FormDidNotOpen
	FieldNotFound
	SubmitNotFound
	SubmitNotActivated
	Unexpected
)

var reasonNames = [...]string{
	NotAborted:         "",
	NoSlots:            "no_slots",
	FormDidNotOpen:     "form_did_not_open",
	FieldNotFound:      "field_not_found",
	SubmitNotFound:     "submit_not_found",
	SubmitNotActivated: "submit_not_activated",
	Unexpected:         "unexpected",
}

func (r AbortReason) String() string {
	if r >= 0 && int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// AttemptResult is everything a run reports. Run always returns one.
type AttemptResult struct {
	RunID         string
	SlotFound     bool
	SlotLabel     string
	FormSubmitted bool
	Confirmation  confirm.Outcome
	// ArtifactPath is the most recent diagnostic capture, if any.
	ArtifactPath string
	State        State
	Abort        AbortReason
	// Err carries the underlying fault for FieldNotFound and Unexpected aborts.
	Err error
}

// Booked reports whether the booking was submitted and confirmed
func (r AttemptResult) Booked() bool {
	return r.State == Done && r.FormSubmitted && r.Confirmation == confirm.Confirmed
}

// MarshalLogObject implements zapcore.ObjectMarshaler
func (r AttemptResult) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("run_id", r.RunID)
	enc.AddString("state", r.State.String())
	if r.Abort != NotAborted {
		enc.AddString("abort", r.Abort.String())
	}
	enc.AddBool("slot_found", r.SlotFound)
	if r.SlotLabel != "" {
		enc.AddString("slot", r.SlotLabel)
	}
	enc.AddBool("form_submitted", r.FormSubmitted)
	enc.AddString("confirmation", r.Confirmation.String())
	if r.ArtifactPath != "" {
		enc.AddString("artifact", r.ArtifactPath)
	}
	if r.Err != nil {
		enc.AddString("error", r.Err.Error())
	}
	return nil
}
