package replication

import (
	"time"

	"naia/bitio"
	"naia/internal/ids"
)

// actionEntry tracks one buffered entity action awaiting acknowledgement.
// Actions are delivered on their own reliable stream, strictly ordered
// by ActionID, mirroring channelio.ReliableSender's resend discipline
// but without the message-registry indirection (an Action's operands
// are already a closed, fixed set).
type actionEntry struct {
	action   Action
	lastSent time.Time
	inFlight bool
}

// DefaultActionResendFactor mirrors channelio.DefaultResendFactor for
// the action stream's own reliability loop.
const DefaultActionResendFactor = 1.5

// ActionSender buffers entity actions until acknowledged, resending any
// that have gone unacked for longer than rtt*resendFactor. Buffered
// actions stay in ID order, matching the strict ActionID serialization
// the receiving side requires.
type ActionSender struct {
	resendFactor float64
	nextID       uint16
	buffered     []*actionEntry
	lastDrained  []Action
}

// NewActionSender returns an empty sender.
func NewActionSender(resendFactor float64) *ActionSender {
	if resendFactor <= 0 {
		resendFactor = DefaultActionResendFactor
	}
	return &ActionSender{resendFactor: resendFactor}
}

// Enqueue assigns the next ActionID and buffers a for reliable delivery.
// Returns the action as assigned, so the caller can correlate a later
// WorldChannel.ConfirmAction call against the same ID.
func (s *ActionSender) Enqueue(a Action) Action {
	a.ID = ids.ActionID(s.nextID)
	s.nextID++
	s.buffered = append(s.buffered, &actionEntry{action: a})
	return a
}

// Pending reports whether any action remains buffered.
func (s *ActionSender) Pending() bool { return len(s.buffered) > 0 }

// Count returns how many actions are currently buffered awaiting
// acknowledgement, for metrics reporting.
func (s *ActionSender) Count() int { return len(s.buffered) }

// Drain selects which buffered actions to write into the next outgoing
// packet, in ID order: anything never sent, plus anything whose resend
// timer has elapsed, up to bitsFree. Returns the actions selected so the
// caller can record them in the packet's sent record.
func (s *ActionSender) Drain(now time.Time, rtt time.Duration, bitsFree int) []Action {
	due := func(e *actionEntry) bool {
		if !e.inFlight {
			return true
		}
		return now.Sub(e.lastSent) >= time.Duration(float64(rtt)*s.resendFactor)
	}

	var selected []Action
	used := 0
	for _, e := range s.buffered {
		if !due(e) {
			continue
		}
		cost := measureAction(e.action) + 1 // leading continuation bit
		if used+cost > bitsFree {
			break
		}
		selected = append(selected, e.action)
		used += cost
		e.lastSent = now
		e.inFlight = true
	}
	s.lastDrained = selected
	return selected
}

// WriteChunk encodes the actions selected by the most recent Drain call
// as the actions stream: repeat (1 bit continue) action, terminated by a
// trailing 0 bit.
func (s *ActionSender) WriteChunk(w bitio.BitSink) error {
	return WriteActions(w, s.lastDrained)
}

// NotifyDelivered releases buffered actions that have now been
// acknowledged.
func (s *ActionSender) NotifyDelivered(delivered []Action) {
	if len(delivered) == 0 {
		return
	}
	acked := make(map[ids.ActionID]bool, len(delivered))
	for _, a := range delivered {
		acked[a.ID] = true
	}
	kept := s.buffered[:0]
	for _, e := range s.buffered {
		if !acked[e.action.ID] {
			kept = append(kept, e)
		}
	}
	s.buffered = kept
}

// NotifyDropped marks buffered actions as no longer in flight so they
// become immediately eligible for resend, without waiting out the
// resend timer.
func (s *ActionSender) NotifyDropped(dropped []Action) {
	if len(dropped) == 0 {
		return
	}
	droppedIDs := make(map[ids.ActionID]bool, len(dropped))
	for _, a := range dropped {
		droppedIDs[a.ID] = true
	}
	for _, e := range s.buffered {
		if droppedIDs[e.action.ID] {
			e.inFlight = false
		}
	}
}

// WriteActions encodes the actions stream: repeat (1 bit continue)
// action, then a trailing 0 bit.
func WriteActions(w bitio.BitSink, actions []Action) error {
	for _, a := range actions {
		if err := bitio.WriteBool(w, true); err != nil {
			return err
		}
		if err := a.Write(w); err != nil {
			return err
		}
	}
	return bitio.WriteBool(w, false)
}

// ReadActions decodes the actions stream written by WriteActions.
func ReadActions(r *bitio.Reader) ([]Action, error) {
	var out []Action
	for {
		more, err := bitio.ReadBool(r)
		if err != nil {
			return nil, err
		}
		if !more {
			return out, nil
		}
		a, err := ReadAction(r)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
}

// measureAction returns the bit cost of writing a, via a Counter,
// without committing anything to a real Writer.
func measureAction(a Action) int {
	c := bitio.NewCounter(0)
	_ = a.Write(c)
	return c.BitsWritten()
}
