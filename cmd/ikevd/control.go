package main

import (
	"context"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/msgboxio/ike/ikelog"
	"github.com/msgboxio/ike/ipc"
)

// runControl is the admin-socket worker: it accepts typed control
// messages on a local datagram socket, relays them through the parent to
// the process that owns the state in question, and streams each multi-part
// reply back to the admin client until the terminating MsgCtlEnd.
func runControl(ctx context.Context) error {
	parentCh, err := ipc.NewChannel(workerFile(0, "to-parent"), "control-parent")
	if err != nil {
		return err
	}

	sockPath := envOr("IKEVD_CTL_SOCK", "/var/run/ikevd.sock")
	os.Remove(sockPath)
	addr := &net.UnixAddr{Name: sockPath, Net: "unixgram"}
	sock, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return errors.Wrapf(err, "control: listen %s", sockPath)
	}
	defer sock.Close()
	defer os.Remove(sockPath)

	srv := &controlServer{
		sock:    sock,
		parent:  parentCh,
		clients: make(map[uuid.UUID]*net.UnixAddr),
	}
	go srv.replyLoop()
	go srv.clientLoop()

	ikelog.Infof("control socket at %s", sockPath)
	<-ctx.Done()
	return nil
}

type controlServer struct {
	sock   *net.UnixConn
	parent *ipc.Channel

	mu      sync.Mutex
	clients map[uuid.UUID]*net.UnixAddr
}

// clientLoop reads one typed command per datagram from admin clients.
func (s *controlServer) clientLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, from, err := s.sock.ReadFromUnix(buf)
		if err != nil {
			return
		}
		m, err := ipc.Unmarshal(buf[:n])
		if err != nil {
			ikelog.Warningf("control: bad command: %v", err)
			continue
		}
		if s.handleLocal(m, from) {
			continue
		}
		s.mu.Lock()
		s.clients[m.ID] = from
		s.mu.Unlock()
		m.Peer = ipc.ProcIKEv2
		if m.Type == ipc.MsgCtlReset && len(m.Data) > 0 && ipc.ResetScope(m.Data[0]) == ipc.ResetCA {
			m.Peer = ipc.ProcCA
		}
		if err := s.parent.Send(m); err != nil {
			s.respond(from, m.Reply(ipc.MsgCtlFail, []byte(err.Error())))
			s.respond(from, m.Reply(ipc.MsgCtlEnd, nil))
		}
	}
}

// handleLocal serves the commands this process owns outright; log
// verbosity is per-process but the control process is where the admin
// expects the knob to land first.
func (s *controlServer) handleLocal(m *ipc.Message, from *net.UnixAddr) bool {
	if m.Type != ipc.MsgCtlVerbose {
		return false
	}
	n, err := strconv.Atoi(string(m.Data))
	if err != nil {
		s.respond(from, m.Reply(ipc.MsgCtlFail, []byte("verbosity must be an integer")))
	} else {
		ikelog.SetVerbosity(int32(n))
		s.respond(from, m.Reply(ipc.MsgCtlOK, nil))
	}
	s.respond(from, m.Reply(ipc.MsgCtlEnd, nil))
	return true
}

// replyLoop relays each reply part from the parent back to the admin
// client that issued the correlated command, forgetting the client once
// the END marker passes through.
func (s *controlServer) replyLoop() {
	for {
		m, err := s.parent.Recv()
		if err != nil {
			return
		}
		s.mu.Lock()
		client, ok := s.clients[m.ID]
		if ok && m.Type == ipc.MsgCtlEnd {
			delete(s.clients, m.ID)
		}
		s.mu.Unlock()
		if !ok {
			continue
		}
		s.respond(client, m)
	}
}

func (s *controlServer) respond(client *net.UnixAddr, m *ipc.Message) {
	data, err := ipc.Marshal(m)
	if err != nil {
		return
	}
	if _, err := s.sock.WriteToUnix(data, client); err != nil {
		ikelog.Warningf("control: reply to %s: %v", client.Name, err)
	}
}
