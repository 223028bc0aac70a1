package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCallbacks struct {
	sendInitCalled bool
	installCalled  bool
	removeCalled   bool
	finishedCalled bool
}

func (f *fakeCallbacks) SendInit() StateEvent {
	f.sendInitCalled = true
	return StateEvent{Event: NO_EVENT}
}
func (f *fakeCallbacks) HandleIkeSaInit(data interface{}) StateEvent {
	if data == "fail" {
		return StateEvent{Event: INIT_FAIL}
	}
	return StateEvent{Event: SUCCESS}
}
func (f *fakeCallbacks) SendAuth() StateEvent { return StateEvent{Event: NO_EVENT} }
func (f *fakeCallbacks) HandleIkeAuth(data interface{}) StateEvent {
	if data == "fail" {
		return StateEvent{Event: AUTH_FAIL}
	}
	return StateEvent{Event: NO_EVENT}
}
func (f *fakeCallbacks) HandleEap(data interface{}) StateEvent           { return StateEvent{Event: NO_EVENT} }
func (f *fakeCallbacks) CheckSa(data interface{}) StateEvent             { return StateEvent{Event: NO_EVENT} }
func (f *fakeCallbacks) HandleClose(data interface{}) StateEvent         { return StateEvent{Event: SUCCESS} }
func (f *fakeCallbacks) HandleCreateChildSa(data interface{}) StateEvent { return StateEvent{Event: NO_EVENT} }
func (f *fakeCallbacks) InstallSa() StateEvent {
	f.installCalled = true
	return StateEvent{Event: NO_EVENT}
}
func (f *fakeCallbacks) RemoveSa() StateEvent {
	f.removeCalled = true
	return StateEvent{Event: NO_EVENT}
}
func (f *fakeCallbacks) StartRetryTimeout() StateEvent { return StateEvent{Event: NO_EVENT} }
func (f *fakeCallbacks) CheckError(data interface{}) StateEvent {
	return StateEvent{Event: NO_EVENT}
}
func (f *fakeCallbacks) Finished() StateEvent {
	f.finishedCalled = true
	return StateEvent{Event: NO_EVENT}
}

func TestInitiatorHappyPath(t *testing.T) {
	cb := &fakeCallbacks{}
	fsm := NewFsm(STATE_IDLE, InitiatorTransitions(cb))

	fsm.HandleEvent(StateEvent{Event: SUCCESS})
	assert.True(t, cb.sendInitCalled)
	assert.Equal(t, STATE_INIT, fsm.State)

	fsm.HandleEvent(StateEvent{Event: MSG_INIT, Data: "ok"})
	assert.Equal(t, STATE_AUTH, fsm.State)

	fsm.HandleEvent(StateEvent{Event: MSG_AUTH, Data: "ok"})
	assert.Equal(t, STATE_MATURE, fsm.State)
}

func TestInitiatorInitFailureRoutesToClosing(t *testing.T) {
	cb := &fakeCallbacks{}
	fsm := NewFsm(STATE_INIT, InitiatorTransitions(cb))

	fsm.HandleEvent(StateEvent{Event: MSG_INIT, Data: "fail"})
	assert.Equal(t, STATE_CLOSING, fsm.State)
}

func TestDeleteIsHonoredFromAnyState(t *testing.T) {
	cb := &fakeCallbacks{}
	fsm := NewFsm(STATE_MATURE, InitiatorTransitions(cb))

	fsm.HandleEvent(StateEvent{Event: DELETE_IKE_SA})
	assert.True(t, cb.removeCalled)
	assert.Equal(t, STATE_CLOSING, fsm.State)

	select {
	case evt := <-fsm.Events():
		assert.Equal(t, FINISHED, evt.Event)
		fsm.HandleEvent(evt)
		assert.True(t, cb.finishedCalled)
		assert.Equal(t, STATE_CLOSED, fsm.State)
	default:
		t.Fatal("expected a chained FINISHED event")
	}
}

func TestResponderHappyPath(t *testing.T) {
	cb := &fakeCallbacks{}
	fsm := NewFsm(STATE_IDLE, ResponderTransitions(cb))

	fsm.HandleEvent(StateEvent{Event: MSG_INIT, Data: "ok"})
	assert.Equal(t, STATE_AUTH, fsm.State)

	fsm.HandleEvent(StateEvent{Event: MSG_AUTH, Data: "ok"})
	assert.Equal(t, STATE_MATURE, fsm.State)
}

func TestUnknownEventIsIgnored(t *testing.T) {
	cb := &fakeCallbacks{}
	fsm := NewFsm(STATE_IDLE, ResponderTransitions(cb))
	fsm.HandleEvent(StateEvent{Event: MSG_AUTH})
	require.Equal(t, STATE_IDLE, fsm.State)
}
