package ipc

import (
	"net"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/msgboxio/ike/ikelog"
)

// sendQueueDepth bounds the per-channel outbound queue. Send never blocks
// the caller: a full queue reports resource exhaustion and the message is
// dropped, which per the daemon's error model re-arms rather than stalls
// the event loop.
const sendQueueDepth = 256

// ErrSendQueueFull is returned by Send when the peer process has fallen
// this far behind.
var ErrSendQueueFull = errors.New("ipc: send queue full")

// Channel is one end of a process-to-process socket pair. Sends are
// queued and written by a dedicated writer, so a handler never blocks on
// a slow peer; receives are blocking and meant to be the owning process's
// event source.
type Channel struct {
	conn *net.UnixConn
	log  ikelog.Logger

	sendq chan *Message
	done  chan struct{}
}

// Socketpair returns a connected SOCK_SEQPACKET pair, one *os.File per
// process; the parent keeps one end and passes the other to a child over
// ExtraFiles. SEQPACKET keeps message boundaries so one read is always one
// Message.
func Socketpair() (parent, child *os.File, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, errors.Wrap(err, "ipc: socketpair")
	}
	return os.NewFile(uintptr(fds[0]), "ipc-parent"), os.NewFile(uintptr(fds[1]), "ipc-child"), nil
}

// NewChannel wraps one end of a Socketpair. The *os.File is consumed (its
// descriptor is duplicated into the net package and the original closed).
func NewChannel(f *os.File, tag string) (*Channel, error) {
	conn, err := net.FileConn(f)
	if err != nil {
		return nil, errors.Wrap(err, "ipc: fileconn")
	}
	f.Close()
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		return nil, errors.New("ipc: not a unix socket")
	}
	c := &Channel{
		conn:  uc,
		log:   ikelog.With("ipc", tag),
		sendq: make(chan *Message, sendQueueDepth),
		done:  make(chan struct{}),
	}
	go c.writer()
	return c, nil
}

// Send enqueues a message for the writer; it never blocks. A full queue
// returns ErrSendQueueFull and the message is dropped.
func (c *Channel) Send(m *Message) error {
	select {
	case <-c.done:
		return errors.New("ipc: channel closed")
	default:
	}
	select {
	case c.sendq <- m:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (c *Channel) writer() {
	for {
		select {
		case m := <-c.sendq:
			if err := c.writeMsg(m); err != nil {
				c.log.Errorf("write %v: %v", m.Type, err)
			}
		case <-c.done:
			return
		}
	}
}

func (c *Channel) writeMsg(m *Message) error {
	b, err := m.encode()
	if err != nil {
		return err
	}
	var oob []byte
	if m.File != nil {
		oob = unix.UnixRights(int(m.File.Fd()))
	}
	_, _, err = c.conn.WriteMsgUnix(b, oob, nil)
	if err == nil && m.File != nil {
		// the descriptor now lives in the peer process
		m.File.Close()
	}
	return err
}

// Recv blocks for the next message, reattaching any descriptor passed as
// ancillary data as an *os.File.
func (c *Channel) Recv() (*Message, error) {
	buf := make([]byte, maxMsgSize)
	oob := make([]byte, unix.CmsgSpace(4))
	n, oobn, _, _, err := c.conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return nil, errors.Wrap(err, "ipc: read")
	}
	m, hasFd, err := decodeMessage(buf[:n])
	if err != nil {
		return nil, err
	}
	if hasFd {
		file, err := parseRights(oob[:oobn])
		if err != nil {
			return nil, err
		}
		m.File = file
	}
	return m, nil
}

func parseRights(oob []byte) (*os.File, error) {
	cmsgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, errors.Wrap(err, "ipc: control message")
	}
	for _, cmsg := range cmsgs {
		fds, err := unix.ParseUnixRights(&cmsg)
		if err != nil {
			continue
		}
		if len(fds) > 0 {
			return os.NewFile(uintptr(fds[0]), "ipc-passed-fd"), nil
		}
	}
	return nil, errors.New("ipc: message flagged a descriptor but none arrived")
}

// Close tears the channel down; pending queued sends are discarded.
func (c *Channel) Close() error {
	select {
	case <-c.done:
		return nil
	default:
		close(c.done)
	}
	return c.conn.Close()
}
