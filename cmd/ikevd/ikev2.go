package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/msgboxio/ike"
	"github.com/msgboxio/ike/ikelog"
	"github.com/msgboxio/ike/ipc"
	"github.com/msgboxio/ike/platform"
	"github.com/msgboxio/ike/protocol"
)

// engine is the ikev2 worker: it owns the UDP sockets, the SA table, and
// the kernel SA programmer, and talks to the ca worker for every signature
// and certificate operation.
type engine struct {
	ctx  context.Context
	cfg  *ike.Config
	sadb platform.SAProgrammer

	mu       sync.Mutex
	sessions map[uint64]*ike.Session

	parent *ipc.Channel
	ca     *caClient
}

func runIKEv2(ctx context.Context) error {
	parentCh, err := ipc.NewChannel(workerFile(0, "to-parent"), "ikev2-parent")
	if err != nil {
		return err
	}
	caCh, err := ipc.NewChannel(workerFile(1, "to-ca"), "ikev2-ca")
	if err != nil {
		return err
	}

	cfg := ike.DefaultConfig()
	cfg.AuthMethod = protocol.SHARED_KEY_MESSAGE_INTEGRITY_CODE
	if psk := os.Getenv("IKEVD_PSK"); psk != "" {
		cfg.PSK = []byte(psk)
	}
	if id := os.Getenv("IKEVD_LOCAL_ID"); id != "" {
		cfg.LocalID = protocol.NewIdPayload(false, protocol.ID_FQDN, []byte(id))
	}

	e := &engine{
		ctx:      ctx,
		cfg:      cfg,
		sadb:     platform.NewLinuxSADB(),
		sessions: make(map[uint64]*ike.Session),
		parent:   parentCh,
		ca:       newCAClient(caCh),
	}
	e.cfg.CADispatch = e.ca

	for _, addr := range []string{":500", ":4500"} {
		conn, err := ike.Listen("udp", addr)
		if err != nil {
			return errors.Wrapf(err, "ikev2: listen %s", addr)
		}
		go e.readLoop(conn)
	}
	go e.controlLoop()

	ikelog.Info("ikev2 engine running")
	<-ctx.Done()
	return nil
}

func (e *engine) readLoop(conn ike.Conn) {
	for {
		msg, err := ike.ReadMessage(conn)
		if err != nil {
			ikelog.Errorf("ikev2: read: %v", err)
			return
		}
		e.dispatch(conn, msg)
	}
}

// dispatch routes a datagram to its Session by initiator SPI, admitting a
// fresh IKE_SA_INIT request through the stateless cookie/proposal checks
// first so no state exists until they pass.
func (e *engine) dispatch(conn ike.Conn, msg *ike.Message) {
	spi := ike.SpiToInt64(msg.IkeHeader.SpiI)
	e.mu.Lock()
	sess, ok := e.sessions[spi]
	e.mu.Unlock()
	if ok {
		sess.PostMessage(msg)
		return
	}
	if msg.IkeHeader.ExchangeType != protocol.IKE_SA_INIT {
		ikelog.V(1).Infof("drop %v for unknown spi %x", msg.IkeHeader.ExchangeType, spi)
		return
	}
	if reply, err := ike.AdmitInitRequest(e.cfg, msg); err != nil {
		if reply != nil {
			if data, err := reply.Encode(nil); err == nil {
				conn.WritePacket(data, msg.RemoteAddr)
			}
		}
		return
	}
	sess, err := ike.NewResponder(e.ctx, e.cfg, msg)
	if err != nil {
		ikelog.Errorf("ikev2: responder: %v", err)
		return
	}
	e.register(spi, sess, conn, msg.RemoteAddr)
}

func (e *engine) register(spi uint64, sess *ike.Session, conn ike.Conn, remote net.Addr) {
	sess.AddSaHandlers(e.sadb.AddChildSA, e.sadb.DeleteChildSA, e.sadb.UpdateChildSAAddresses)
	e.mu.Lock()
	e.sessions[spi] = sess
	e.mu.Unlock()
	go func() {
		sess.Run(func(data []byte) error {
			return conn.WritePacket(data, remote)
		})
		e.mu.Lock()
		delete(e.sessions, spi)
		e.mu.Unlock()
	}()
}

// controlLoop services admin commands the parent relays from the control
// process: show, reset, couple/decouple, reload.
func (e *engine) controlLoop() {
	for {
		m, err := e.parent.Recv()
		if err != nil {
			return
		}
		for _, reply := range e.handleControl(m) {
			reply.Peer = ipc.ProcControl
			if err := e.parent.Send(reply); err != nil {
				ikelog.Warningf("ikev2: control reply: %v", err)
			}
		}
	}
}

func (e *engine) handleControl(m *ipc.Message) []*ipc.Message {
	switch m.Type {
	case ipc.MsgCtlShowSA:
		var replies []*ipc.Message
		e.mu.Lock()
		for spi, sess := range e.sessions {
			local, remote := sess.LocalRemoteAddr()
			line := fmt.Sprintf("spi %016x %v<=>%v", spi, local, remote)
			replies = append(replies, m.Reply(ipc.MsgCtlShowSA, []byte(line)))
		}
		e.mu.Unlock()
		return append(replies, m.Reply(ipc.MsgCtlEnd, nil))
	case ipc.MsgCtlReset:
		scope := ipc.ResetAll
		if len(m.Data) > 0 {
			scope = ipc.ResetScope(m.Data[0])
		}
		if scope == ipc.ResetAll || scope == ipc.ResetSAs {
			e.mu.Lock()
			for _, sess := range e.sessions {
				sess.Close(errors.New("administrative reset"))
			}
			e.mu.Unlock()
		}
		return []*ipc.Message{m.Reply(ipc.MsgCtlOK, nil), m.Reply(ipc.MsgCtlEnd, nil)}
	case ipc.MsgCtlCouple, ipc.MsgCtlDecouple:
		if err := e.sadb.Couple(m.Type == ipc.MsgCtlCouple); err != nil {
			return []*ipc.Message{m.Reply(ipc.MsgCtlFail, []byte(err.Error())), m.Reply(ipc.MsgCtlEnd, nil)}
		}
		return []*ipc.Message{m.Reply(ipc.MsgCtlOK, nil), m.Reply(ipc.MsgCtlEnd, nil)}
	case ipc.MsgCtlReload, ipc.MsgCtlShowPolicies, ipc.MsgCtlShowFlows:
		// config is handed in-memory at startup; nothing to re-read here
		return []*ipc.Message{m.Reply(ipc.MsgCtlOK, nil), m.Reply(ipc.MsgCtlEnd, nil)}
	}
	ikelog.Warningf("ikev2: unhandled control message %v", m.Type)
	return nil
}

// caClient is the ikev2-side stub of the ca process: it frames Dispatcher
// calls as ipc messages over the direct channel and parks the calling
// session goroutine until the correlated reply arrives.
type caClient struct {
	ch *ipc.Channel

	mu      sync.Mutex
	pending map[uuid.UUID]chan *ipc.Message

	chainOnce sync.Once
	chain     [][]byte
}

func newCAClient(ch *ipc.Channel) *caClient {
	c := &caClient{ch: ch, pending: make(map[uuid.UUID]chan *ipc.Message)}
	go c.recvLoop()
	return c
}

func (c *caClient) recvLoop() {
	for {
		m, err := c.ch.Recv()
		if err != nil {
			return
		}
		c.mu.Lock()
		waiter, ok := c.pending[m.ID]
		if ok {
			delete(c.pending, m.ID)
		}
		c.mu.Unlock()
		if ok {
			waiter <- m
		}
	}
}

func (c *caClient) call(req *ipc.Message) (*ipc.Message, error) {
	waiter := make(chan *ipc.Message, 1)
	c.mu.Lock()
	c.pending[req.ID] = waiter
	c.mu.Unlock()
	if err := c.ch.Send(req); err != nil {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return nil, err
	}
	return <-waiter, nil
}

func (c *caClient) LocalCertChain() [][]byte {
	c.chainOnce.Do(func() {
		resp, err := c.call(ipc.NewMessage(ipc.MsgCertReq, ipc.ProcCA, nil))
		if err != nil || resp.Type != ipc.MsgCert {
			return
		}
		c.chain = splitFrames(resp.Data)
	})
	return c.chain
}

func (c *caClient) Sign(method protocol.AuthMethod, signedOctets []byte) ([]byte, error) {
	req := ipc.NewMessage(ipc.MsgAuthSignReq, ipc.ProcCA, append([]byte{uint8(method)}, signedOctets...))
	resp, err := c.call(req)
	if err != nil {
		return nil, err
	}
	if resp.Type != ipc.MsgAuthSignResp {
		return nil, errors.Errorf("ca: sign refused: %s", resp.Data)
	}
	return resp.Data, nil
}

func (c *caClient) Verify(method protocol.AuthMethod, certs [][]byte, peerID *protocol.IdPayload, signedOctets, sig []byte) (string, error) {
	var data []byte
	data = append(data, uint8(method))
	data = appendFrame(data, joinFrames(certs))
	data = appendFrame(data, signedOctets)
	data = appendFrame(data, sig)
	resp, err := c.call(ipc.NewMessage(ipc.MsgCertValid, ipc.ProcCA, data))
	if err != nil {
		return "", err
	}
	if resp.Type != ipc.MsgCertValid {
		return "", errors.Errorf("ca: %s", resp.Data)
	}
	return string(resp.Data), nil
}

// appendFrame/splitFrames implement the length-prefixed framing the ca
// wire payloads use for variable-count byte fields.
func appendFrame(b, frame []byte) []byte {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(frame)))
	return append(append(b, l[:]...), frame...)
}

func joinFrames(frames [][]byte) []byte {
	var out []byte
	for _, f := range frames {
		out = appendFrame(out, f)
	}
	return out
}

func splitFrames(b []byte) [][]byte {
	var out [][]byte
	for len(b) >= 4 {
		l := binary.BigEndian.Uint32(b[:4])
		b = b[4:]
		if int(l) > len(b) {
			return nil
		}
		out = append(out, b[:l])
		b = b[l:]
	}
	return out
}
