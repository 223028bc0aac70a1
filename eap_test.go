package ike

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/msgboxio/ike/protocol"
)

// runEapConversation drives a server and client to conclusion, returning
// the final code the server produced.
func runEapConversation(t *testing.T, srv EapServer, cli EapClient) protocol.EapCode {
	t.Helper()
	req := srv.Start()
	for round := 0; round < 10; round++ {
		resp, err := cli.Respond(req)
		require.NoError(t, err)
		next, err := srv.Handle(resp)
		if err != nil {
			return protocol.EapCodeFailure
		}
		if next.Code == protocol.EapCodeSuccess || next.Code == protocol.EapCodeFailure {
			return next.Code
		}
		req = next
	}
	t.Fatal("eap conversation did not converge")
	return 0
}

func TestEapMD5Success(t *testing.T) {
	srv := &EapMD5Server{Users: map[string][]byte{"carol": []byte("s3cret")}}
	cli := &EapMD5Client{Identity: "carol", Password: []byte("s3cret")}
	require.Equal(t, protocol.EapCodeSuccess, runEapConversation(t, srv, cli))
	require.Nil(t, srv.MSK(), "md5-challenge derives no key")
}

func TestEapMD5WrongPassword(t *testing.T) {
	srv := &EapMD5Server{Users: map[string][]byte{"carol": []byte("s3cret")}}
	cli := &EapMD5Client{Identity: "carol", Password: []byte("guess")}
	require.Equal(t, protocol.EapCodeFailure, runEapConversation(t, srv, cli))
}

func TestEapMD5UnknownIdentity(t *testing.T) {
	srv := &EapMD5Server{Users: map[string][]byte{"carol": []byte("s3cret")}}
	cli := &EapMD5Client{Identity: "mallory", Password: []byte("s3cret")}
	require.Equal(t, protocol.EapCodeFailure, runEapConversation(t, srv, cli))
}

func TestEapMD5ServerRejectsReplayedIdentifier(t *testing.T) {
	srv := &EapMD5Server{Users: map[string][]byte{"carol": []byte("s3cret")}}
	cli := &EapMD5Client{Identity: "carol", Password: []byte("s3cret")}

	req := srv.Start()
	resp, err := cli.Respond(req)
	require.NoError(t, err)
	challenge, err := srv.Handle(resp)
	require.NoError(t, err)

	// a correct answer under a stale identifier must not pass
	answer, err := cli.Respond(challenge)
	require.NoError(t, err)
	answer.Identifier = req.Identifier
	_, err = srv.Handle(answer)
	require.Error(t, err)
}
