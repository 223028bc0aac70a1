package ike

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"net"
	"sync"
	"time"

	"github.com/msgboxio/ike/protocol"
)

// MissingCookieError is returned by CheckInitRequest when the peer was
// expected to echo a COOKIE notification (either none was sent at all, or
// the one sent does not match); the caller replies with a fresh COOKIE
// challenge instead of continuing the exchange.
var MissingCookieError = protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "missing or invalid cookie")

// CookieError wraps the COOKIE notification an initiator received back
// from the responder, carrying the value to echo on the retried
// IKE_SA_INIT request.
type CookieError struct {
	Notification *protocol.NotifyPayload
}

func (e CookieError) Error() string { return "ike: responder requested a cookie" }

// cookieSecret rotates a random HMAC key on a fixed interval (RFC 7296
// 2.6 cookie defense): a responder under a SPI-exhaustion flood never has to
// remember individual cookies, only the current and previous secret, since
// getCookie is a pure function of (secret, Ni, SpiI, remote address).
type cookieSecret struct {
	mu       sync.Mutex
	current  []byte
	previous []byte
	rotated  time.Time
}

const cookieSecretLifetime = 5 * time.Minute

var globalCookieSecret = newCookieSecret()

func newCookieSecret() *cookieSecret {
	s := &cookieSecret{rotated: time.Time{}}
	s.rotate()
	return s
}

func (s *cookieSecret) rotate() {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("ike: failed to seed cookie secret: " + err.Error())
	}
	s.mu.Lock()
	s.previous = s.current
	s.current = b
	s.rotated = time.Now()
	s.mu.Unlock()
}

func (s *cookieSecret) secrets() (cur, prev []byte) {
	s.mu.Lock()
	if time.Since(s.rotated) > cookieSecretLifetime {
		s.mu.Unlock()
		s.rotate()
		s.mu.Lock()
	}
	cur, prev = s.current, s.previous
	s.mu.Unlock()
	return
}

func addrBytes(addr net.Addr) []byte {
	if ua, ok := addr.(*net.UDPAddr); ok {
		return ua.IP.To16()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return []byte(addr.String())
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.To16()
	}
	return []byte(host)
}

func cookieMac(secret, nonce []byte, spiI protocol.Spi, remote net.Addr) []byte {
	mac := hmac.New(sha1.New, secret)
	mac.Write(nonce)
	mac.Write(spiI)
	mac.Write(addrBytes(remote))
	return mac.Sum(nil)
}

// getCookie computes the COOKIE notification value a responder hands an
// initiator under load, and the value an initiator must echo back: an
// HMAC over its nonce, SPIi, and source address under a secret only this
// responder knows.
func getCookie(nonce []byte, spiI protocol.Spi, remote net.Addr) []byte {
	cur, _ := globalCookieSecret.secrets()
	return cookieMac(cur, nonce, spiI, remote)
}

// checkCookie reports whether cookie matches either the current or the
// just-rotated-out secret, so a cookie issued just before a rotation is
// still accepted.
func checkCookie(cookie, nonce []byte, spiI protocol.Spi, remote net.Addr) bool {
	cur, prev := globalCookieSecret.secrets()
	if hmac.Equal(cookie, cookieMac(cur, nonce, spiI, remote)) {
		return true
	}
	if prev != nil && hmac.Equal(cookie, cookieMac(prev, nonce, spiI, remote)) {
		return true
	}
	return false
}
