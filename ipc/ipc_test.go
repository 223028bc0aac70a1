package ipc

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func channelPair(t *testing.T) (*Channel, *Channel) {
	t.Helper()
	a, b, err := Socketpair()
	require.NoError(t, err)
	ca, err := NewChannel(a, "test-a")
	require.NoError(t, err)
	cb, err := NewChannel(b, "test-b")
	require.NoError(t, err)
	t.Cleanup(func() {
		ca.Close()
		cb.Close()
	})
	return ca, cb
}

func TestMessageRoundTrip(t *testing.T) {
	a, b := channelPair(t)

	sent := NewMessage(MsgCtlShowSA, ProcIKEv2, []byte("show everything"))
	require.NoError(t, a.Send(sent))

	got, err := b.Recv()
	require.NoError(t, err)
	require.Equal(t, sent.Type, got.Type)
	require.Equal(t, sent.Peer, got.Peer)
	require.Equal(t, sent.ID, got.ID)
	require.Equal(t, sent.Data, got.Data)
	require.Nil(t, got.File)
}

func TestReplyKeepsCorrelationID(t *testing.T) {
	req := NewMessage(MsgAuthSignReq, ProcCA, []byte("octets"))
	resp := req.Reply(MsgAuthSignResp, []byte("signature"))
	require.Equal(t, req.ID, resp.ID)
	require.Equal(t, MsgAuthSignResp, resp.Type)
}

func TestEmptyPayload(t *testing.T) {
	a, b := channelPair(t)
	require.NoError(t, a.Send(NewMessage(MsgCtlEnd, ProcControl, nil)))
	got, err := b.Recv()
	require.NoError(t, err)
	require.Equal(t, MsgCtlEnd, got.Type)
	require.Empty(t, got.Data)
}

func TestFdPassing(t *testing.T) {
	a, b := channelPair(t)

	f, err := os.CreateTemp(t.TempDir(), "passed")
	require.NoError(t, err)
	_, err = f.WriteString("descriptor contents survive the crossing")
	require.NoError(t, err)
	_, err = f.Seek(0, 0)
	require.NoError(t, err)

	m := NewMessage(MsgUdpFd, ProcIKEv2, []byte("udp500"))
	m.File = f
	require.NoError(t, a.Send(m))

	got, err := b.Recv()
	require.NoError(t, err)
	require.NotNil(t, got.File)
	defer got.File.Close()

	buf := make([]byte, 64)
	n, err := got.File.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "descriptor contents survive the crossing", string(buf[:n]))
}

func TestMarshalUnmarshal(t *testing.T) {
	m := NewMessage(MsgCtlVerbose, ProcControl, []byte("2"))
	b, err := Marshal(m)
	require.NoError(t, err)
	got, err := Unmarshal(b)
	require.NoError(t, err)
	require.Equal(t, m.Type, got.Type)
	require.Equal(t, m.ID, got.ID)
	require.Equal(t, m.Data, got.Data)
}

func TestUnmarshalRejectsCorruption(t *testing.T) {
	m := NewMessage(MsgCtlOK, ProcControl, []byte("payload"))
	b, err := Marshal(m)
	require.NoError(t, err)

	_, err = Unmarshal(b[:10])
	require.Error(t, err, "short header")
	_, err = Unmarshal(b[:len(b)-2])
	require.Error(t, err, "declared length exceeding received bytes")
}

func TestSendNeverBlocks(t *testing.T) {
	a, _, err := Socketpair()
	require.NoError(t, err)
	ch, err := NewChannel(a, "lonely")
	require.NoError(t, err)
	defer ch.Close()

	// with no reader draining and the writer stuck, the queue fills and
	// Send reports exhaustion rather than blocking the caller
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < sendQueueDepth*4; i++ {
			ch.Send(NewMessage(MsgCtlOK, ProcParent, make([]byte, 32*1024)))
		}
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Send blocked")
	}
}
