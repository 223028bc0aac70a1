package ike

import "sync"

// window tracks the receive side of the message-id window (RFC 7296 2.3): the
// negotiated size (from a SET_WINDOW_SIZE notification) and which ids in
// the current window have already been processed, so a duplicate request
// retransmitted by the peer is recognized rather than re-executed.
type window struct {
	mu       sync.Mutex
	size     uint32
	nextRecv uint32
	seen     map[uint32]bool
}

const defaultWindowSize = 1

func newWindow(size uint32) *window {
	if size == 0 {
		size = defaultWindowSize
	}
	return &window{size: size, seen: make(map[uint32]bool)}
}

// setSize applies a negotiated SET_WINDOW_SIZE value, bounded to at least
// 1; RFC 7296 2.3 forbids shrinking below it.
func (w *window) setSize(size uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if size == 0 {
		size = 1
	}
	w.size = size
}

// accept reports whether msgId is a new request inside the current
// window: strictly the next expected id, or one of the (size-1) ids ahead
// of it already accepted out of order. A duplicate of an already-seen id
// is rejected here; the caller is expected to reply from its cached
// response rather than calling accept again.
func (w *window) accept(msgId uint32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if msgId < w.nextRecv {
		return false // old duplicate, caller should serve the cached response
	}
	if msgId >= w.nextRecv+w.size {
		return false // outside the negotiated window
	}
	if w.seen[msgId] {
		return false
	}
	w.seen[msgId] = true
	for w.seen[w.nextRecv] {
		delete(w.seen, w.nextRecv)
		w.nextRecv++
	}
	return true
}
