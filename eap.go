package ike

import (
	"crypto/md5"
	"crypto/rand"

	"github.com/pkg/errors"

	"github.com/msgboxio/ike/crypto"
	"github.com/msgboxio/ike/protocol"
	"github.com/msgboxio/ike/state"
)

// EapServer drives the responder's side of the EAP conversation carried
// inside IKE_AUTH (RFC 7296 2.16). Start produces the first request;
// Handle consumes each peer response and produces the next round, ending
// with a Success or Failure code. MSK returns the negotiated master
// session key once the method completes, or nil for methods that derive
// none (the final AUTH payloads then fall back to SK_pi/SK_pr).
type EapServer interface {
	Start() *protocol.EapPayload
	Handle(resp *protocol.EapPayload) (*protocol.EapPayload, error)
	MSK() []byte
}

// EapClient is the initiator's half: it answers each request the
// responder sends.
type EapClient interface {
	Respond(req *protocol.EapPayload) (*protocol.EapPayload, error)
	MSK() []byte
}

// eapState tracks one Session's in-flight EAP conversation: which half we
// are driving, the peer identity stashed from the initiator's first
// IKE_AUTH (its final AUTH message repeats no ID payload), and whether the
// method has concluded so the final AUTH exchange may proceed.
type eapState struct {
	server EapServer
	client EapClient

	peerID    *protocol.IdPayload
	completed bool
}

func (e *eapState) msk() []byte {
	if e.server != nil {
		return e.server.MSK()
	}
	if e.client != nil {
		return e.client.MSK()
	}
	return nil
}

// eapInProgress reports whether this Session still owes the peer EAP
// rounds before the final AUTH payloads may be exchanged.
func (o *Session) eapInProgress() bool {
	if !o.cfg.EapEnabled {
		return false
	}
	return o.eap == nil || !o.eap.completed
}

// HandleEap is the FSM callback for an IKE_AUTH message routed to the EAP
// conversation: the initiator's AUTH-less first message (responder side),
// or any message carrying an EAP payload (both sides).
func (o *Session) HandleEap(msg interface{}) state.StateEvent {
	m, ok := msg.(*Message)
	if !ok {
		return state.StateEvent{Event: state.EAP_FAIL, Data: errors.New("ike: eap: not a message")}
	}
	if o.isInitiator {
		return handleEapInitiator(o, m)
	}
	return handleEapResponder(o, m)
}

// handleEapResponder drives the server half: the first call answers the
// initiator's AUTH-less IKE_AUTH with IDr, CERT, our own AUTH, and the
// method's opening request; later calls feed responses through the backend
// until it concludes.
func handleEapResponder(o *Session, m *Message) state.StateEvent {
	if o.eap == nil {
		if o.cfg.EapServer == nil {
			return state.StateEvent{Event: state.EAP_FAIL, Data: errors.New("ike: eap enabled without a server backend")}
		}
		params, err := parseAuthParams(m)
		if err != nil {
			return state.StateEvent{Event: state.EAP_FAIL, Data: err}
		}
		if params.id == nil {
			return state.StateEvent{Event: state.EAP_FAIL, Data: errors.Wrap(protocol.ERR_INVALID_SYNTAX, "eap: first message missing IDi")}
		}
		o.eap = &eapState{server: o.cfg.EapServer, peerID: params.id}
		stashChildParams(o, params)
		return sendEapStart(o)
	}

	eapIn, ok := m.Payloads.Get(protocol.PayloadTypeEAP).(*protocol.EapPayload)
	if !ok {
		return state.StateEvent{Event: state.EAP_FAIL, Data: errors.Wrap(protocol.ERR_INVALID_SYNTAX, "eap: expected EAP payload")}
	}
	next, err := o.eap.server.Handle(eapIn)
	if err != nil {
		o.log.Errorf("eap: %v", err)
		sendEapPayload(o, &protocol.EapPayload{
			PayloadHeader: &protocol.PayloadHeader{},
			Code:          protocol.EapCodeFailure,
			Identifier:    eapIn.Identifier,
		}, true)
		return state.StateEvent{Event: state.EAP_FAIL, Data: protocol.ERR_AUTHENTICATION_FAILED}
	}
	if next.Code == protocol.EapCodeSuccess {
		o.eap.completed = true
	}
	sendEapPayload(o, next, true)
	return state.StateEvent{}
}

// stashChildParams records the Child SA material the initiator offered in
// its first IKE_AUTH, to be acted on once EAP concludes and its final AUTH
// message (which repeats none of it) verifies.
func stashChildParams(o *Session, params *authParams) {
	if len(params.tsi) > 0 {
		o.cfg.TsI = params.tsi
	}
	if len(params.tsr) > 0 {
		o.cfg.TsR = params.tsr
	}
	if len(params.espProposals) > 0 {
		o.EspSpiI = append(protocol.Spi{}, params.espProposals[0].Spi...)
	}
}

// sendEapStart emits the responder's first EAP reply: IDr, certificates,
// the responder's own AUTH (it authenticates first, RFC 7296 2.16), and
// the method's opening request.
func sendEapStart(o *Session) state.StateEvent {
	authValue, method, err := ourAuthValue(o)
	if err != nil {
		return state.StateEvent{Event: state.EAP_FAIL, Data: err}
	}
	payloads := protocol.MakePayloads()
	id := o.cfg.LocalID
	if id == nil {
		return state.StateEvent{Event: state.EAP_FAIL, Data: errors.New("ike: no local identity configured")}
	}
	payloads.Add(protocol.NewIdPayload(false, id.IdType, id.Data))
	if method != protocol.SHARED_KEY_MESSAGE_INTEGRITY_CODE && method != protocol.NULL_AUTH && o.cfg.CADispatch != nil {
		for _, der := range o.cfg.CADispatch.LocalCertChain() {
			payloads.Add(&protocol.CertPayload{
				PayloadHeader: &protocol.PayloadHeader{},
				Encoding:      protocol.CERT_X509_SIGNATURE,
				Data:          der,
			})
		}
	}
	payloads.Add(&protocol.AuthPayload{
		PayloadHeader: &protocol.PayloadHeader{},
		Method:        method,
		Data:          authValue,
	})
	payloads.Add(o.eap.server.Start())
	m := eapMessage(o, payloads, true)
	m.IkeHeader.MsgId = o.msgIdInc(true)
	encoded, err := m.Encode(o.tkm)
	if evt := o.sendMsg(encoded, err); evt.Event == state.FAIL {
		return state.StateEvent{Event: state.EAP_FAIL, Data: evt.Data}
	}
	return state.StateEvent{}
}

// handleEapInitiator drives the client half: verify the responder's AUTH
// on its first reply, answer each request, and send our MSK-derived final
// AUTH once the method reports success.
func handleEapInitiator(o *Session, m *Message) state.StateEvent {
	if o.eap == nil {
		if o.cfg.EapClient == nil {
			return state.StateEvent{Event: state.EAP_FAIL, Data: errors.New("ike: eap enabled without a client backend")}
		}
		o.eap = &eapState{client: o.cfg.EapClient}
		params, err := parseAuthParams(m)
		if err != nil {
			return state.StateEvent{Event: state.EAP_FAIL, Data: err}
		}
		if params.id == nil || params.auth == nil {
			return state.StateEvent{Event: state.EAP_FAIL, Data: errors.Wrap(protocol.ERR_INVALID_SYNTAX, "eap: responder reply missing IDr or AUTH")}
		}
		if _, err := verifyPeerAuth(o, params); err != nil {
			return state.StateEvent{Event: state.EAP_FAIL, Data: err}
		}
	}

	eapIn, ok := m.Payloads.Get(protocol.PayloadTypeEAP).(*protocol.EapPayload)
	if !ok {
		return state.StateEvent{Event: state.EAP_FAIL, Data: errors.Wrap(protocol.ERR_INVALID_SYNTAX, "eap: expected EAP payload")}
	}
	switch eapIn.Code {
	case protocol.EapCodeSuccess:
		o.eap.completed = true
		return sendFinalEapAuth(o)
	case protocol.EapCodeFailure:
		return state.StateEvent{Event: state.EAP_FAIL, Data: protocol.ERR_AUTHENTICATION_FAILED}
	}
	resp, err := o.eap.client.Respond(eapIn)
	if err != nil {
		return state.StateEvent{Event: state.EAP_FAIL, Data: err}
	}
	sendEapPayload(o, resp, false)
	return state.StateEvent{}
}

// sendFinalEapAuth emits the initiator's closing IKE_AUTH request: a bare
// AUTH payload MACed under the method's MSK, or SK_pi when the method
// derived no key (RFC 7296 2.16).
func sendFinalEapAuth(o *Session) state.StateEvent {
	key := o.tkm.EapAuthKey(o.eap.msk(), true)
	authValue := o.tkm.PskAuth(key, signedOctetsForUs(o))
	payloads := protocol.MakePayloads()
	payloads.Add(&protocol.AuthPayload{
		PayloadHeader: &protocol.PayloadHeader{},
		Method:        protocol.SHARED_KEY_MESSAGE_INTEGRITY_CODE,
		Data:          authValue,
	})
	m := eapMessage(o, payloads, false)
	m.IkeHeader.MsgId = o.msgIdInc(false)
	encoded, err := m.Encode(o.tkm)
	if evt := o.sendMsg(encoded, err); evt.Event == state.FAIL {
		return state.StateEvent{Event: state.EAP_FAIL, Data: evt.Data}
	}
	return state.StateEvent{}
}

func sendEapPayload(o *Session, eap *protocol.EapPayload, isResponse bool) {
	payloads := protocol.MakePayloads()
	payloads.Add(eap)
	m := eapMessage(o, payloads, isResponse)
	m.IkeHeader.MsgId = o.msgIdInc(isResponse)
	encoded, err := m.Encode(o.tkm)
	o.sendMsg(encoded, err)
}

func eapMessage(o *Session, payloads *protocol.Payloads, isResponse bool) *Message {
	flags := protocol.IkeFlags(0)
	if o.isInitiator {
		flags |= protocol.INITIATOR
	}
	if isResponse {
		flags |= protocol.RESPONSE
	}
	return &Message{
		IkeHeader: &protocol.IkeHeader{
			SpiI:         o.IkeSpiI,
			SpiR:         o.IkeSpiR,
			MajorVersion: protocol.IKEV2_MAJOR_VERSION,
			MinorVersion: protocol.IKEV2_MINOR_VERSION,
			ExchangeType: protocol.IKE_AUTH,
			Flags:        flags,
		},
		Payloads: payloads,
	}
}

// ---- EAP-MD5 (RFC 3748 5.4), the method this daemon ships built in ----

const eapMD5ChallengeLen = 16

// EapMD5Server authenticates peers against a static identity->password
// table: an Identity round first, then an MD5-Challenge round. MD5-Challenge
// derives no MSK, so the final AUTH payloads use SK_pi/SK_pr.
type EapMD5Server struct {
	Users map[string][]byte

	identity  string
	challenge []byte
	nextID    uint8
}

func (s *EapMD5Server) Start() *protocol.EapPayload {
	s.nextID = 1
	return &protocol.EapPayload{
		PayloadHeader: &protocol.PayloadHeader{},
		Code:          protocol.EapCodeRequest,
		Identifier:    s.nextID,
		EapType:       protocol.EapTypeIdentity,
	}
}

func (s *EapMD5Server) Handle(resp *protocol.EapPayload) (*protocol.EapPayload, error) {
	if resp.Code != protocol.EapCodeResponse || resp.Identifier != s.nextID {
		return nil, errors.New("eap-md5: unexpected response framing")
	}
	switch resp.EapType {
	case protocol.EapTypeIdentity:
		s.identity = string(resp.Data)
		if _, ok := s.Users[s.identity]; !ok {
			return nil, errors.Errorf("eap-md5: unknown identity %q", s.identity)
		}
		s.challenge = make([]byte, eapMD5ChallengeLen)
		if _, err := rand.Read(s.challenge); err != nil {
			return nil, errors.Wrap(err, "eap-md5: challenge")
		}
		s.nextID++
		data := append([]byte{eapMD5ChallengeLen}, s.challenge...)
		return &protocol.EapPayload{
			PayloadHeader: &protocol.PayloadHeader{},
			Code:          protocol.EapCodeRequest,
			Identifier:    s.nextID,
			EapType:       protocol.EapTypeMD5,
			Data:          data,
		}, nil
	case protocol.EapTypeMD5:
		if len(resp.Data) < 1+md5.Size || int(resp.Data[0]) != md5.Size {
			return nil, errors.New("eap-md5: malformed challenge response")
		}
		want := eapMD5Response(resp.Identifier, s.Users[s.identity], s.challenge)
		got := resp.Data[1 : 1+md5.Size]
		if !crypto.ConstantTimeCompare(want, got) {
			return nil, errors.Errorf("eap-md5: challenge mismatch for %q", s.identity)
		}
		return &protocol.EapPayload{
			PayloadHeader: &protocol.PayloadHeader{},
			Code:          protocol.EapCodeSuccess,
			Identifier:    s.nextID,
		}, nil
	}
	return nil, errors.Errorf("eap-md5: unsupported type %d", resp.EapType)
}

func (s *EapMD5Server) MSK() []byte { return nil }

// EapMD5Client answers Identity and MD5-Challenge requests with a fixed
// identity and password.
type EapMD5Client struct {
	Identity string
	Password []byte
}

func (c *EapMD5Client) Respond(req *protocol.EapPayload) (*protocol.EapPayload, error) {
	switch req.EapType {
	case protocol.EapTypeIdentity:
		return &protocol.EapPayload{
			PayloadHeader: &protocol.PayloadHeader{},
			Code:          protocol.EapCodeResponse,
			Identifier:    req.Identifier,
			EapType:       protocol.EapTypeIdentity,
			Data:          []byte(c.Identity),
		}, nil
	case protocol.EapTypeMD5:
		if len(req.Data) < 1 || len(req.Data) < 1+int(req.Data[0]) {
			return nil, errors.New("eap-md5: malformed challenge")
		}
		challenge := req.Data[1 : 1+int(req.Data[0])]
		sum := eapMD5Response(req.Identifier, c.Password, challenge)
		return &protocol.EapPayload{
			PayloadHeader: &protocol.PayloadHeader{},
			Code:          protocol.EapCodeResponse,
			Identifier:    req.Identifier,
			EapType:       protocol.EapTypeMD5,
			Data:          append([]byte{md5.Size}, sum...),
		}, nil
	}
	return nil, errors.Errorf("eap-md5: cannot answer request type %d", req.EapType)
}

func (c *EapMD5Client) MSK() []byte { return nil }

func eapMD5Response(identifier uint8, password, challenge []byte) []byte {
	h := md5.New()
	h.Write([]byte{identifier})
	h.Write(password)
	h.Write(challenge)
	return h.Sum(nil)
}
