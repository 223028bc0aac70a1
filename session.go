package ike

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/msgboxio/ike/crypto"
	"github.com/msgboxio/ike/ikelog"
	"github.com/msgboxio/ike/platform"
	"github.com/msgboxio/ike/protocol"
	"github.com/msgboxio/ike/state"
)

// SaCallback is invoked once a Child SA has been built and is ready to be
// programmed into (or removed from) the kernel via platform.SAProgrammer.
type SaCallback func(sa *platform.SaParams) error

// WriteData hands an encoded datagram to the owning Conn for transmission.
type WriteData func([]byte) error

// Session is one IKE SA: the FSM driving its exchanges, the Tkm holding its
// keys, and the per-SA bookkeeping (message-id windows,
// retransmission/fragment state, MOBIKE and DPD timers, the policy it was
// born from). Every field is touched only from the single goroutine
// running Run's event loop, so SA fields need no locking.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc

	Fsm *state.Fsm
	log ikelog.Logger

	isClosing bool

	cfg *Config

	tkm                   *Tkm
	isInitiator           bool
	keRetried             bool
	rfc7427Signatures     bool
	IkeSpiI, IkeSpiR      protocol.Spi
	EspSpiI, EspSpiR      protocol.Spi
	responderCookie       []byte

	msgIdReq, msgIdResp uint32
	window              *window
	retransmit          *retransmitState
	reassembly          *fragmentReassembly

	localAddr, remoteAddr net.Addr

	initIb, initRb []byte

	peerID string

	// assignedAddr is the configuration-mode address leased to this peer
	// once HandleAuthForSession sees a CFG_REQUEST and cfg.AddressPool is
	// set; AuthResponseFromSession returns it in a CFG_REPLY.
	assignedAddr net.IP

	// mobikeActive records whether both peers signalled MOBIKE support
	// during IKE_SA_INIT (RFC 4555).
	mobikeActive bool

	// natDetected records an IKE_SA_INIT NAT-detection digest mismatch on
	// either end; Child SAs are then programmed with UDP-encapsulated ESP
	// on port 4500 (RFC 3948).
	natDetected bool

	dpdMissed int

	// eap is non-nil once an EAP conversation has started on this SA
	// (RFC 7296 2.16).
	eap *eapState

	// pendingRekey is the CREATE_CHILD_SA request this Session has in
	// flight; lastRekeyNonce is the nonce it carried, kept for the
	// simultaneous-rekey tie-break.
	pendingRekey   *rekeyRequest
	lastRekeyNonce []byte

	incoming chan *Message
	outgoing chan []byte

	dpdTimer *time.Ticker

	childSAs []*childSAState

	onAddSaCallback, onRemoveSaCallback, onUpdateSaCallback SaCallback
}

// childSAState tracks one installed Child SA bundle for rekey/expiry and
// the Session.InstallSa/RemoveSa bookkeeping; a Child SA never outlives
// its owning IKE SA.
type childSAState struct {
	spiI, spiR protocol.Spi
	// parentSpiI/parentSpiR name the owning IKE SA; rewritten when an IKE
	// SA rekey replaces the parent.
	parentSpiI, parentSpiR protocol.Spi
	loaded                 bool
	installed              time.Time
}

func newSession(parent context.Context, cfg *Config) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		window:   newWindow(1),
		incoming: make(chan *Message, 10),
		outgoing: make(chan []byte, 10),
	}
}

// wireAfterTkm finishes Session construction once its Tkm exists: the
// retransmit timer's resend/give-up callbacks and the fragment reassembly
// table both need a stable *Tkm to decrypt against.
func (o *Session) wireAfterTkm() {
	o.reassembly = newFragmentReassembly(o.tkm)
	o.retransmit = newRetransmitState(
		func(buf []byte) {
			select {
			case o.outgoing <- buf:
			default:
			}
		},
		func() { o.Fsm.PostEvent(retransmitFailEvent()) },
	)
	o.dpdTimer = time.NewTicker(dpdInterval(o))
}

func (o *Session) dpdC() <-chan time.Time {
	if o.dpdTimer == nil {
		return nil
	}
	return o.dpdTimer.C
}

func (o *Session) Tag() string {
	return fmt.Sprintf("%s<=>%s: ", o.IkeSpiI, o.IkeSpiR)
}

func (o *Session) AddSaHandlers(onAddSa, onRemoveSa, onUpdateSa SaCallback) {
	o.onAddSaCallback = onAddSa
	o.onRemoveSaCallback = onRemoveSa
	o.onUpdateSaCallback = onUpdateSa
}

func (o *Session) Done() <-chan struct{} { return o.ctx.Done() }

// Run is the Session's single-threaded event loop: it drains
// outgoing writes, dispatches incoming datagrams to the FSM, and services
// the Fsm's internal event queue, until the context is cancelled from
// Finished.
func (o *Session) Run(writeData WriteData) {
	for {
		select {
		case reply, ok := <-o.outgoing:
			if !ok {
				continue
			}
			if err := writeData(reply); err != nil {
				o.Close(err)
			}
		case msg, ok := <-o.incoming:
			if !ok {
				continue
			}
			if err := o.handleEncryptedMessage(msg); err != nil {
				if err != errSkipDispatch {
					o.log.Warning(err)
				}
				continue
			}
			if evt := o.handleMessage(msg); evt != nil {
				o.Fsm.PostEvent(*evt)
			}
		case evt, ok := <-o.Fsm.Events():
			if !ok {
				continue
			}
			o.Fsm.HandleEvent(evt)
		case <-o.dpdC():
			o.dpdTick()
		case <-o.ctx.Done():
			o.log.Info("finished ike sa")
			return
		}
	}
}

// PostMessage hands a decoded-header datagram to the Session's event loop
// after validating its SPI and message-id sequencing.
func (o *Session) PostMessage(m *Message) {
	if err := o.isMessageValid(m); err != nil {
		o.log.Error("drop message: ", err)
		return
	}
	if o.ctx.Err() != nil {
		o.log.Error("drop message: closing")
		return
	}
	o.dpdMissed = 0
	select {
	case o.incoming <- m:
	default:
		o.log.Warning("drop message: incoming queue full")
	}
}

func (o *Session) handleMessage(msg *Message) (evt *state.StateEvent) {
	evt = &state.StateEvent{Data: msg}
	switch msg.IkeHeader.ExchangeType {
	case protocol.IKE_SA_INIT:
		evt.Event = state.MSG_INIT
		return
	case protocol.IKE_AUTH:
		evt.Event = state.MSG_AUTH
		if _, hasEap := msg.Payloads.Get(protocol.PayloadTypeEAP).(*protocol.EapPayload); hasEap {
			evt.Event = state.MSG_EAP
		} else if !o.isInitiator && o.cfg.EapEnabled && o.eap == nil {
			// the initiator's AUTH-less first message asks for EAP
			if _, hasAuth := msg.Payloads.Get(protocol.PayloadTypeAUTH).(*protocol.AuthPayload); !hasAuth {
				evt.Event = state.MSG_EAP
			}
		}
		return
	case protocol.CREATE_CHILD_SA:
		evt.Event = state.MSG_CHILD_SA
		return
	case protocol.INFORMATIONAL:
		return HandleInformationalForSession(o, msg)
	}
	return nil
}

func (o *Session) sendMsg(buf []byte, err error) (s state.StateEvent) {
	if err != nil {
		o.log.Error(err)
		s.Event = state.FAIL
		s.Data = err
		return
	}
	o.retransmit.arm(o, buf)
	select {
	case o.outgoing <- buf:
	default:
		o.log.Warning("outgoing queue full, dropping")
	}
	return
}

func (o *Session) msgIdInc(isResponse bool) (msgId uint32) {
	if isResponse {
		msgId = o.msgIdResp
		o.msgIdResp++
	} else {
		msgId = o.msgIdReq
	}
	return
}

// Close begins teardown: an IKE SA delete is sent and DELETE_IKE_SA is
// posted, whose transition runs RemoveSa at once and then Finished, which
// waits only for the outgoing queue to drain. It does not wait for the
// peer to acknowledge the delete.
func (o *Session) Close(err error) {
	o.log.Infof("close session, err: %v", err)
	if o.isClosing {
		return
	}
	o.isClosing = true
	o.retransmit.cancelAll()
	if o.cfg.AddressPool != nil && o.assignedAddr != nil && !o.cfg.StickyAddressPool {
		o.cfg.AddressPool.Release(o.peerID)
	}
	o.sendIkeSaDelete()
	o.Fsm.PostEvent(state.StateEvent{Event: state.DELETE_IKE_SA, Data: err})
}

// Finished is called by the FSM upon reaching the terminal CLOSED node.
func (o *Session) Finished() (s state.StateEvent) {
	if queued := len(o.outgoing); queued > 0 {
		o.Fsm.PostEvent(state.StateEvent{Event: state.FINISHED})
		return
	}
	o.retransmit.cancelAll()
	if o.dpdTimer != nil {
		o.dpdTimer.Stop()
	}
	close(o.incoming)
	close(o.outgoing)
	o.Fsm.CloseEvents()
	o.log.Info("finished; cancelling context")
	o.cancel()
	return
}

// SendInit is the FSM callback that emits this Session's IKE_SA_INIT
// request (initiator only).
func (o *Session) SendInit() (s state.StateEvent) {
	init := InitFromSession(o)
	init.IkeHeader.MsgId = o.msgIdInc(false)
	initB, err := init.Encode(nil)
	if err == nil {
		o.initIb = initB
	}
	return o.sendMsg(initB, err)
}

// SendAuth is the FSM callback that emits this Session's IKE_AUTH request
// (initiator only), once IKE_SA_INIT keys are established.
func (o *Session) SendAuth() (s state.StateEvent) {
	if o.cfg.TsI == nil || o.cfg.TsR == nil {
		return state.StateEvent{Event: state.AUTH_FAIL, Data: protocol.ERR_NO_PROPOSAL_CHOSEN}
	}
	o.log.Infof("sa selectors: [INI]%s<=>%s[RES]", o.cfg.TsI, o.cfg.TsR)
	auth, err := AuthFromSession(o)
	if err != nil {
		return state.StateEvent{Event: state.AUTH_FAIL, Data: err}
	}
	auth.IkeHeader.MsgId = o.msgIdInc(false)
	if o.cfg.EnableFragmentation {
		bufs, err := encodeFragments(o.tkm, auth)
		return o.sendMsgFragments(bufs, err)
	}
	encoded, err := auth.Encode(o.tkm)
	return o.sendMsg(encoded, err)
}

// sendMsgFragments queues every datagram of a (possibly fragmented)
// request and arms a single retransmit timer covering the whole set.
func (o *Session) sendMsgFragments(bufs [][]byte, err error) (s state.StateEvent) {
	if err != nil {
		o.log.Error(err)
		s.Event = state.FAIL
		s.Data = err
		return
	}
	o.retransmit.armAll(o, bufs)
	for _, buf := range bufs {
		select {
		case o.outgoing <- buf:
		default:
			o.log.Warning("outgoing queue full, dropping")
		}
	}
	return
}

// InstallSa is the FSM callback that programs the Child SA bundled into
// IKE_AUTH (or the most recently negotiated CREATE_CHILD_SA) into the
// kernel once both ends have the keying material.
func (o *Session) InstallSa() (s state.StateEvent) {
	ei, ai, er, ar, err := o.tkm.IpsecSaCreate(o.tkm.Ni, o.tkm.Nr, nil)
	if err != nil {
		return state.StateEvent{Event: state.AUTH_FAIL, Data: err}
	}
	sa := addSa(o, childKeys{ei: ei, ai: ai, er: er, ar: ar}, 0, 0)
	if o.onAddSaCallback != nil {
		if err := o.onAddSaCallback(sa); err != nil {
			o.log.Errorf("kernel sa install failed: %v", err)
		}
	}
	o.childSAs = append(o.childSAs, &childSAState{
		spiI:       o.EspSpiI,
		spiR:       o.EspSpiR,
		parentSpiI: append(protocol.Spi{}, o.IkeSpiI...),
		parentSpiR: append(protocol.Spi{}, o.IkeSpiR...),
		loaded:     true,
		installed:  time.Now(),
	})
	return
}

// RemoveSa is the FSM callback that tears down kernel state for this IKE
// SA's Child SAs, invoked on close.
func (o *Session) RemoveSa() (s state.StateEvent) {
	sa := removeSa(o)
	if o.onRemoveSaCallback != nil {
		if err := o.onRemoveSaCallback(sa); err != nil {
			o.log.Errorf("kernel sa removal failed: %v", err)
		}
	}
	return
}

func (o *Session) StartRetryTimeout() (s state.StateEvent) { return }

// HandleIkeSaInit is the FSM callback that completes the IKE_SA_INIT half
// exchange: on the initiator it validates the response (handling the
// COOKIE/INVALID_KE_PAYLOAD retry notifications), on the
// responder it validates the request.
func (o *Session) HandleIkeSaInit(msg interface{}) state.StateEvent {
	m := msg.(*Message)
	init, err := parseInitParams(m)
	if err != nil {
		o.log.Error(err)
		return state.StateEvent{Event: state.INIT_FAIL, Data: protocol.ERR_INVALID_SYNTAX}
	}
	if o.isInitiator {
		if err := CheckInitResponseForSession(o, init); err != nil {
			if retryEvt, handled := o.handleInitRetry(err); handled {
				return retryEvt
			}
			o.log.Error(err)
			return state.StateEvent{Event: state.INIT_FAIL, Data: protocol.ERR_NO_PROPOSAL_CHOSEN}
		}
	}
	if err := HandleInitForSession(o, m); err != nil {
		o.log.Error(err)
		return state.StateEvent{Event: state.INIT_FAIL, Data: protocol.ERR_NO_PROPOSAL_CHOSEN}
	}
	if !o.isInitiator {
		reply := InitFromSession(o)
		reply.IkeHeader.MsgId = o.msgIdInc(true)
		encoded, err := reply.Encode(nil)
		if err == nil {
			o.initRb = encoded
		}
		return o.sendMsg(encoded, err)
	}
	return state.StateEvent{Event: state.SUCCESS}
}

// handleInitRetry implements the initiator side of the cookie challenge
// and the single INVALID_KE_PAYLOAD retry (RFC 7296 1.2): it resends
// IKE_SA_INIT once with the fix applied and reports RETRY so the FSM stays
// in STATE_INIT, rather than ever treating a second retry attempt as
// anything but a hard failure.
func (o *Session) handleInitRetry(err error) (state.StateEvent, bool) {
	switch e := err.(type) {
	case CookieError:
		o.responderCookie = e.Notification.Data
		return o.sendRetriedInit(), true
	case KeMismatchError:
		if o.keRetried || e.Group == 0 {
			return state.StateEvent{}, false
		}
		o.keRetried = true
		if err := o.retargetDhGroup(e.Group); err != nil {
			o.log.Error(err)
			return state.StateEvent{}, false
		}
		return o.sendRetriedInit(), true
	}
	return state.StateEvent{}, false
}

// retargetDhGroup rebuilds this Session's IKE proposal and key exchange
// around the group the responder demanded, for the single
// INVALID_KE_PAYLOAD retry.
func (o *Session) retargetDhGroup(group protocol.DhTransformId) error {
	proposal := protocol.Transforms{}
	for typ, tr := range o.cfg.ProposalIke {
		proposal[typ] = tr
	}
	proposal[protocol.TRANSFORM_TYPE_DH] = &protocol.SaTransform{
		Transform: protocol.Transform{Type: protocol.TRANSFORM_TYPE_DH, TransformId: uint16(group)},
		IsLast:    true,
	}
	suite, err := crypto.NewCipherSuite(proposal)
	if err != nil {
		return err
	}
	o.cfg.ProposalIke = proposal
	o.tkm.suite = suite
	return o.tkm.generateDH()
}

// sendRetriedInit resends IKE_SA_INIT and, unlike sendMsg's normal
// success return, reports RETRY rather than NO_EVENT so the FSM stays in
// STATE_INIT for the second attempt instead of advancing to STATE_AUTH.
func (o *Session) sendRetriedInit() state.StateEvent {
	evt := o.sendMsg(o.retryInit())
	if evt.Event == state.NO_EVENT {
		evt.Event = state.RETRY
	}
	return evt
}

func (o *Session) retryInit() ([]byte, error) {
	o.retransmit.cancelAll()
	init := InitFromSession(o)
	init.IkeHeader.MsgId = o.msgIdInc(false)
	b, err := init.Encode(nil)
	if err == nil {
		o.initIb = b
	}
	return b, err
}

// HandleIkeAuth is the FSM callback that processes an incoming IKE_AUTH
// message, dispatching peer authentication to the CA process (or local PSK
// check) and, on success, installing the bundled Child SA.
func (o *Session) HandleIkeAuth(msg interface{}) (s state.StateEvent) {
	m := msg.(*Message)
	if err := HandleAuthForSession(o, m); err != nil {
		o.log.Error(err)
		return state.StateEvent{Event: state.AUTH_FAIL, Data: err}
	}
	if !o.isInitiator {
		reply := AuthResponseFromSession(o)
		reply.IkeHeader.MsgId = o.msgIdInc(true)
		encoded, err := reply.Encode(o.tkm)
		if evt := o.sendMsg(encoded, err); evt.Event == state.FAIL {
			return state.StateEvent{Event: state.AUTH_FAIL, Data: evt.Data}
		}
	}
	o.Fsm.PostEvent(state.StateEvent{Event: state.SUCCESS, Data: m})
	return state.StateEvent{Event: state.SUCCESS}
}

// CheckSa is the FSM callback for an incoming CREATE_CHILD_SA message
// once MATURE (or mid IKE rekey): an additional Child SA, a Child SA
// rekey, or the IKE SA rekey exchange itself.
func (o *Session) CheckSa(m interface{}) (s state.StateEvent) {
	msg, ok := m.(*Message)
	if !ok {
		return
	}
	return HandleCreateChildSaForSession(o, msg)
}

// adoptRekeyedIkeSa switches this Session onto the replacement IKE SA once
// its key schedule is established: new SPIs and keys, message ids restart
// at zero, and the existing Child SAs are re-parented onto the new SA.
// Their kernel state is untouched; replacing the IKE SA does not rekey its
// children.
func (o *Session) adoptRekeyedIkeSa(newTkm *Tkm, spiI, spiR protocol.Spi) {
	o.tkm = newTkm
	o.IkeSpiI = append(protocol.Spi{}, spiI...)
	o.IkeSpiR = append(protocol.Spi{}, spiR...)
	o.isInitiator = newTkm.isInitiator
	o.msgIdReq, o.msgIdResp = 0, 0
	o.window = newWindow(1)
	o.reassembly = newFragmentReassembly(newTkm)
	for _, c := range o.childSAs {
		c.parentSpiI = append(protocol.Spi{}, spiI...)
		c.parentSpiR = append(protocol.Spi{}, spiR...)
	}
	role := "responder"
	if o.isInitiator {
		role = "initiator"
	}
	o.log = ikelog.With("spi", o.Tag(), "role", role)
	o.log.Info("ike sa rekeyed")
}

// HandleClose is the FSM callback for an INFORMATIONAL delete the peer
// sent for this IKE SA itself.
func (o *Session) HandleClose(msg interface{}) (s state.StateEvent) {
	o.log.Info("peer closed session")
	if o.isClosing {
		return
	}
	o.isClosing = true
	o.SendEmptyInformational(true)
	o.RemoveSa()
	return state.StateEvent{Event: state.SUCCESS}
}

// HandleCreateChildSa is the FSM callback driving CREATE_CHILD_SA once
// MATURE: additional Child SA, Child SA rekey, or IKE SA rekey.
func (o *Session) HandleCreateChildSa(msg interface{}) (s state.StateEvent) {
	m, ok := msg.(*Message)
	if !ok {
		return HandleCreateChildSaRequestForSession(o)
	}
	return HandleCreateChildSaForSession(o, m)
}

// CheckError is the FSM callback that maps an error notification the peer
// sent (or an internal error a handler produced) to the matching outbound
// notify.
func (o *Session) CheckError(msg interface{}) (s state.StateEvent) {
	if notif, ok := msg.(protocol.NotificationType); ok {
		if _, ok := protocol.GetIkeErrorCode(notif); ok {
			return
		}
	} else if iErr, ok := msg.(protocol.IkeErrorCode); ok {
		o.Notify(iErr)
		return
	}
	return
}

func (o *Session) Notify(ie protocol.IkeErrorCode) {
	info := NotifyFromSession(o, ie)
	info.IkeHeader.MsgId = o.msgIdInc(false)
	encoded, err := info.Encode(o.tkm)
	o.sendMsg(encoded, err)
}

func (o *Session) sendIkeSaDelete() {
	info := DeleteFromSession(o)
	info.IkeHeader.MsgId = o.msgIdInc(false)
	encoded, err := info.Encode(o.tkm)
	o.sendMsg(encoded, err)
}

// SendEmptyInformational sends the empty INFORMATIONAL exchange used both
// as a DPD liveness probe and, here, as a non-initiating peer's
// acknowledgement of a delete.
func (o *Session) SendEmptyInformational(isResponse bool) {
	info := EmptyFromSession(o, isResponse)
	info.IkeHeader.MsgId = o.msgIdInc(isResponse)
	encoded, err := info.Encode(o.tkm)
	o.sendMsg(encoded, err)
}

func (o *Session) AddHostBasedSelectors(local, remote net.IP) {
	o.log.Info("adding host based traffic selectors")
	slen := len(local) * 8
	ini, res := remote, local
	if o.isInitiator {
		ini, res = local, remote
	}
	o.cfg.AddSelector(
		&net.IPNet{IP: ini, Mask: net.CIDRMask(slen, slen)},
		&net.IPNet{IP: res, Mask: net.CIDRMask(slen, slen)})
}

func (o *Session) isMessageValid(m *Message) error {
	if spi := m.IkeHeader.SpiI; o.IkeSpiI != nil && !bytes.Equal(spi, o.IkeSpiI) {
		return fmt.Errorf("different initiator spi %s", spi)
	}
	if m.IkeHeader.NextPayload != protocol.PayloadTypeSK && m.IkeHeader.NextPayload != protocol.PayloadTypeSKF {
		if o.Fsm.State != state.STATE_IDLE && o.Fsm.State != state.STATE_INIT {
			return fmt.Errorf("unexpected unencrypted message in state %s", o.Fsm.State)
		}
	}
	seq := m.IkeHeader.MsgId
	if m.IkeHeader.Flags.IsResponse() {
		if seq != o.msgIdReq {
			return fmt.Errorf("unexpected response id %d, expected %d", seq, o.msgIdReq)
		}
		o.retransmit.cancel(seq)
		o.msgIdReq++
	} else {
		if !o.window.accept(seq) {
			return fmt.Errorf("message id %d outside receive window", seq)
		}
	}
	return nil
}

// handleEncryptedMessage completes the decode of an SK/SKF-led message:
// fragment reassembly first (if needed), then integrity/AEAD verification
// and inner payload decode.
func (o *Session) handleEncryptedMessage(m *Message) (err error) {
	if m.IsFragmented() {
		full, ready, err := o.reassembly.add(m)
		if err != nil {
			return err
		}
		if !ready {
			return errSkipDispatch
		}
		m = full
	}
	if m.IsEncrypted() {
		return m.DecryptPayloads(o.tkm)
	}
	return nil
}
