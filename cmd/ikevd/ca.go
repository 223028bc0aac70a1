package main

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"os"

	"github.com/pkg/errors"

	"github.com/msgboxio/ike/ca"
	"github.com/msgboxio/ike/ikelog"
	"github.com/msgboxio/ike/ipc"
	"github.com/msgboxio/ike/protocol"
)

// runCA is the certificate-engine worker: it alone reads the trust
// anchors, CRLs, and the private key, and answers sign/verify requests
// from the ikev2 worker over the direct channel.
func runCA(ctx context.Context) error {
	parentCh, err := ipc.NewChannel(workerFile(0, "to-parent"), "ca-parent")
	if err != nil {
		return err
	}
	ikeCh, err := ipc.NewChannel(workerFile(1, "to-ikev2"), "ca-ikev2")
	if err != nil {
		return err
	}

	store, err := ca.LoadStore(envOr("IKEVD_CA_DIR", "/etc/ikevd/ca"), envOr("IKEVD_CRL_DIR", "/etc/ikevd/crl"))
	if err != nil {
		ikelog.Warningf("ca: trust store: %v", err)
		store = &ca.Store{}
	}
	store.OCSPResponder = os.Getenv("IKEVD_OCSP_URL")
	identity, err := loadIdentity(os.Getenv("IKEVD_CERT_FILE"), os.Getenv("IKEVD_KEY_FILE"))
	if err != nil {
		ikelog.Warningf("ca: local identity: %v", err)
	}
	dispatcher := ca.NewDispatcher(store, identity)

	srv := &caServer{dispatcher: dispatcher}
	go srv.serve(parentCh)
	go srv.serve(ikeCh)

	ikelog.Info("ca engine running")
	<-ctx.Done()
	return nil
}

type caServer struct {
	dispatcher *ca.Dispatcher
}

func (s *caServer) serve(ch *ipc.Channel) {
	for {
		m, err := ch.Recv()
		if err != nil {
			return
		}
		reply := s.handle(m)
		if reply == nil {
			continue
		}
		if err := ch.Send(reply); err != nil {
			ikelog.Warningf("ca: reply %v: %v", reply.Type, err)
		}
		// control commands get a multi-part terminator; engine RPCs are
		// single replies correlated by id
		if m.Type == ipc.MsgCtlReset {
			ch.Send(m.Reply(ipc.MsgCtlEnd, nil))
		}
	}
}

func (s *caServer) handle(m *ipc.Message) *ipc.Message {
	switch m.Type {
	case ipc.MsgCertReq:
		return m.Reply(ipc.MsgCert, joinFrames(s.dispatcher.LocalCertChain()))
	case ipc.MsgAuthSignReq:
		if len(m.Data) < 1 {
			return m.Reply(ipc.MsgCtlFail, []byte("short sign request"))
		}
		sig, err := s.dispatcher.Sign(protocol.AuthMethod(m.Data[0]), m.Data[1:])
		if err != nil {
			return m.Reply(ipc.MsgCtlFail, []byte(err.Error()))
		}
		return m.Reply(ipc.MsgAuthSignResp, sig)
	case ipc.MsgCertValid:
		identity, err := s.verify(m.Data)
		if err != nil {
			return m.Reply(ipc.MsgCertInvalid, []byte(err.Error()))
		}
		return m.Reply(ipc.MsgCertValid, []byte(identity))
	case ipc.MsgCtlReset:
		// ResetCA re-reads the trust directories
		store, err := ca.LoadStore(envOr("IKEVD_CA_DIR", "/etc/ikevd/ca"), envOr("IKEVD_CRL_DIR", "/etc/ikevd/crl"))
		if err != nil {
			return m.Reply(ipc.MsgCtlFail, []byte(err.Error()))
		}
		s.dispatcher.Store = store
		return m.Reply(ipc.MsgCtlOK, nil)
	}
	return nil
}

// verify unpacks a MsgCertValid request: method byte, then framed cert
// chain, signed octets, and signature.
func (s *caServer) verify(data []byte) (string, error) {
	if len(data) < 1 {
		return "", errors.New("short verify request")
	}
	method := protocol.AuthMethod(data[0])
	frames := splitFrames(data[1:])
	if len(frames) != 3 {
		return "", errors.New("malformed verify request")
	}
	certs := splitFrames(frames[0])
	return s.dispatcher.Verify(method, certs, nil, frames[1], frames[2])
}

func loadIdentity(certFile, keyFile string) (*ca.Identity, error) {
	if certFile == "" || keyFile == "" {
		return nil, errors.New("no certificate or key configured")
	}
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, err
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, err
	}
	identity := &ca.Identity{}
	for block, rest := pem.Decode(certPEM); block != nil; block, rest = pem.Decode(rest) {
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		identity.Certs = append(identity.Certs, cert)
	}
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("no PEM block in key file")
	}
	key, err := parsePrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	identity.Key = key
	return identity, nil
}

func parsePrivateKey(der []byte) (crypto.Signer, error) {
	if k, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		if signer, ok := k.(crypto.Signer); ok {
			return signer, nil
		}
	}
	if k, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return k, nil
	}
	if k, err := x509.ParseECPrivateKey(der); err == nil {
		return k, nil
	}
	return nil, errors.New("unsupported private key format")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
