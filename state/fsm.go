// Package state implements the IKE SA finite state machine: a
// small table-driven event loop, one table per role (initiator/responder),
// shared transitions common to both. The Session in the root package owns
// one Fsm and feeds it wire events; the Fsm calls back into the Session
// through the Callbacks interface so this package never imports the
// protocol codec or the crypto layer.
package state

import "fmt"

// StateName names one node of the state machine.
type StateName string

const (
	STATE_IDLE    StateName = "IDLE"
	STATE_START   StateName = "START"
	STATE_INIT    StateName = "INIT"    // IKE_SA_INIT sent/received, awaiting the peer's half
	STATE_AUTH    StateName = "AUTH"    // IKE_AUTH sent/received, awaiting completion
	STATE_EAP     StateName = "EAP"     // mid EAP conversation
	STATE_MATURE  StateName = "MATURE"  // ESTABLISHED
	STATE_REKEY   StateName = "REKEY"   // IKE SA rekey in flight
	STATE_CLOSING StateName = "CLOSING"
	STATE_CLOSED  StateName = "CLOSED"

	// ANY is a pseudo-state: transitions registered under it apply
	// regardless of the Fsm's current state (delete, fatal internal
	// errors), checked before the per-state table.
	ANY StateName = "*"
)

// Event is a single input delivered to the Fsm: either a decoded message
// type, or an internal result from a callback (success/failure/completion).
type Event int

const (
	NO_EVENT Event = iota
	MSG_INIT
	MSG_AUTH
	MSG_EAP
	MSG_CHILD_SA
	MSG_INFORMATIONAL
	SUCCESS
	FAIL
	INIT_FAIL
	AUTH_FAIL
	EAP_SUCCESS
	EAP_FAIL
	REKEY_IKE_SA
	REKEY_CHILD_SA
	DELETE_IKE_SA
	FINISHED
	// RETRY is returned by an action that wants another round trip of the
	// same exchange (cookie challenge, INVALID_KE_PAYLOAD retry) without
	// advancing the table's Next state.
	RETRY
)

func (e Event) String() string {
	switch e {
	case NO_EVENT:
		return "NO_EVENT"
	case MSG_INIT:
		return "MSG_INIT"
	case MSG_AUTH:
		return "MSG_AUTH"
	case MSG_EAP:
		return "MSG_EAP"
	case MSG_CHILD_SA:
		return "MSG_CHILD_SA"
	case MSG_INFORMATIONAL:
		return "MSG_INFORMATIONAL"
	case SUCCESS:
		return "SUCCESS"
	case FAIL:
		return "FAIL"
	case INIT_FAIL:
		return "INIT_FAIL"
	case AUTH_FAIL:
		return "AUTH_FAIL"
	case EAP_SUCCESS:
		return "EAP_SUCCESS"
	case EAP_FAIL:
		return "EAP_FAIL"
	case RETRY:
		return "RETRY"
	case REKEY_IKE_SA:
		return "REKEY_IKE_SA"
	case REKEY_CHILD_SA:
		return "REKEY_CHILD_SA"
	case DELETE_IKE_SA:
		return "DELETE_IKE_SA"
	case FINISHED:
		return "FINISHED"
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

// StateEvent pairs an Event with the data it carries (a decoded message, an
// error, a notify code, ...).
type StateEvent struct {
	Event Event
	Data  interface{}
}

// Transition is one (state, event) -> next-state edge, with an optional
// action run before moving. The action's return value becomes the next
// event posted to the Fsm, allowing callbacks to chain (e.g. HandleIkeAuth
// posting SUCCESS after it finishes).
type Transition struct {
	Name string
	Next StateName
	Run  func(data interface{}) StateEvent
}

// Transitions is the full lookup table: current state -> event -> edge.
type Transitions map[StateName]map[Event]Transition

// Fsm drives one IKE SA's state. It is not safe for concurrent use; the
// owning Session's single-threaded event loop is the only caller.
type Fsm struct {
	State       StateName
	transitions Transitions

	events chan StateEvent
	closed bool
}

// NewFsm builds a state machine starting in start, driven by transitions.
// The event channel is buffered so Run-callbacks can post follow-up events
// without blocking on themselves.
func NewFsm(start StateName, transitions Transitions) *Fsm {
	return &Fsm{
		State:       start,
		transitions: transitions,
		events:      make(chan StateEvent, 16),
	}
}

// Events exposes the internal event channel for the Session's select loop.
func (f *Fsm) Events() <-chan StateEvent { return f.events }

// PostEvent enqueues an event for later processing by HandleEvent. It never
// blocks the caller on a full channel; an Fsm only ever has a handful of
// events in flight so the buffer is generous enough that a full channel
// indicates a bug, not backpressure to apply.
func (f *Fsm) PostEvent(evt StateEvent) {
	if f.closed {
		return
	}
	select {
	case f.events <- evt:
	default:
		// drop rather than block forever; a closed-down SA's stragglers
		// are not worth stalling the event loop over
	}
}

// CloseEvents shuts down the event channel; no further PostEvent calls are
// honored. Safe to call once, from Finished.
func (f *Fsm) CloseEvents() {
	if f.closed {
		return
	}
	f.closed = true
	close(f.events)
}

// HandleEvent looks up the transition for (current state, evt.Event),
// falling back to the ANY pseudo-state for events honored regardless of
// where the SA currently sits (DELETE_IKE_SA, FINISHED). It runs the
// transition's action, then moves State: a failure event the action
// returns (FAIL/INIT_FAIL/AUTH_FAIL/EAP_FAIL) always routes to
// STATE_CLOSING rather than whatever Next the table names, so no
// individual transition has to special-case its own failure path.
func (f *Fsm) HandleEvent(evt StateEvent) {
	t, ok := f.lookup(f.State, evt.Event)
	if !ok {
		return
	}
	var next StateEvent
	if t.Run != nil {
		next = t.Run(evt.Data)
	}
	switch next.Event {
	case FAIL, INIT_FAIL, AUTH_FAIL, EAP_FAIL:
		f.State = STATE_CLOSING
	case RETRY:
		// stay put: a cookie challenge or INVALID_KE_PAYLOAD retry redoes
		// the same exchange, it does not advance the table
	default:
		f.State = t.Next
	}
	if next.Event != NO_EVENT && next.Event != RETRY {
		f.PostEvent(next)
	}
}

func (f *Fsm) lookup(state StateName, event Event) (Transition, bool) {
	if byEvent, ok := f.transitions[state]; ok {
		if t, ok := byEvent[event]; ok {
			return t, true
		}
	}
	if byEvent, ok := f.transitions[ANY]; ok {
		if t, ok := byEvent[event]; ok {
			return t, true
		}
	}
	return Transition{}, false
}
