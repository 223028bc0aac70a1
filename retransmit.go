package ike

import (
	"math/rand"
	"sync"
	"time"

	"github.com/msgboxio/ike/state"
)

// Retransmission envelope: exponential backoff with jitter,
// bounded attempt count, after which the owning Session transitions to
// CLOSING with reason "no response".
const (
	retransmitBase     = 2 * time.Second
	retransmitFactor    = 2
	retransmitCap       = 64 * time.Second
	retransmitMaxTries  = 6
)

type retransmitEntry struct {
	// bufs is every datagram of the request: one entry normally, one per
	// fragment for an RFC 7383 fragmented message, all resent together
	bufs    [][]byte
	timer   *time.Timer
	attempt int
}

// retransmitState owns one Session's outstanding-request retransmit
// timers, keyed by message id so a response landing out of order only
// cancels the request it actually answers.
type retransmitState struct {
	mu      sync.Mutex
	pending map[uint32]*retransmitEntry
	resend  func(buf []byte)
	onFail  func()
}

func newRetransmitState(resend func([]byte), onFail func()) *retransmitState {
	return &retransmitState{pending: make(map[uint32]*retransmitEntry), resend: resend, onFail: onFail}
}

// arm starts (or restarts) the retransmit timer for the request that o
// just queued at o.msgIdReq.
func (r *retransmitState) arm(o *Session, buf []byte) {
	if buf == nil {
		return
	}
	r.armAll(o, [][]byte{buf})
}

// armAll is arm for a fragmented request: the whole fragment set resends
// on each firing, since the peer acks nothing until it has every piece.
func (r *retransmitState) armAll(o *Session, bufs [][]byte) {
	if r == nil || len(bufs) == 0 {
		return
	}
	id := o.msgIdReq
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.pending[id]; ok && e.timer != nil {
		e.timer.Stop()
	}
	e := &retransmitEntry{bufs: bufs}
	r.pending[id] = e
	r.scheduleLocked(id, e)
}

func (r *retransmitState) scheduleLocked(id uint32, e *retransmitEntry) {
	delay := backoff(e.attempt)
	e.timer = time.AfterFunc(delay, func() { r.fire(id) })
}

func backoff(attempt int) time.Duration {
	d := retransmitBase
	for i := 0; i < attempt; i++ {
		d *= retransmitFactor
		if d >= retransmitCap {
			d = retransmitCap
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(d)/5 + 1))
	return d + jitter
}

func (r *retransmitState) fire(id uint32) {
	r.mu.Lock()
	e, ok := r.pending[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.attempt++
	if e.attempt >= retransmitMaxTries {
		delete(r.pending, id)
		r.mu.Unlock()
		if r.onFail != nil {
			r.onFail()
		}
		return
	}
	r.scheduleLocked(id, e)
	bufs := e.bufs
	r.mu.Unlock()
	if r.resend != nil {
		for _, buf := range bufs {
			r.resend(buf)
		}
	}
}

// cancel stops and forgets the retransmit timer for a request id, called
// once its response has been validated.
func (r *retransmitState) cancel(id uint32) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.pending[id]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(r.pending, id)
	}
}

// cancelAll stops every pending retransmit timer, called when the Session
// closes; a delete cancels all pending retransmissions.
func (r *retransmitState) cancelAll() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.pending {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(r.pending, id)
	}
}

// noResponseFail is the data attached to the FAIL event a retransmit
// timeout posts.
type noResponseFail struct{}

func (noResponseFail) Error() string { return "no response" }

// retransmitFailEvent drives the owning Session to close down once
// retransmission is exhausted. DELETE_IKE_SA is
// the ANY-state edge every table registers, so this works regardless of
// which exchange was in flight when the peer stopped answering.
func retransmitFailEvent() state.StateEvent {
	return state.StateEvent{Event: state.DELETE_IKE_SA, Data: noResponseFail{}}
}
