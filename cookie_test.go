package ike

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCookieRoundTrip(t *testing.T) {
	nonce := []byte("initiator nonce bytes")
	spi := MakeSpi()
	remote := &net.UDPAddr{IP: net.ParseIP("192.0.2.7"), Port: 500}

	cookie := getCookie(nonce, spi, remote)
	require.NotEmpty(t, cookie)
	require.True(t, checkCookie(cookie, nonce, spi, remote))
}

func TestCookieBindsAllInputs(t *testing.T) {
	nonce := []byte("initiator nonce bytes")
	spi := MakeSpi()
	remote := &net.UDPAddr{IP: net.ParseIP("192.0.2.7"), Port: 500}
	cookie := getCookie(nonce, spi, remote)

	require.False(t, checkCookie(cookie, []byte("other nonce"), spi, remote))
	require.False(t, checkCookie(cookie, nonce, MakeSpi(), remote))
	require.False(t, checkCookie(cookie, nonce, spi, &net.UDPAddr{IP: net.ParseIP("198.51.100.1"), Port: 500}))
	require.False(t, checkCookie([]byte("forged"), nonce, spi, remote))
}

func TestCookieSurvivesOneRotation(t *testing.T) {
	nonce := []byte("n")
	spi := MakeSpi()
	remote := &net.UDPAddr{IP: net.ParseIP("192.0.2.7"), Port: 4500}
	cookie := getCookie(nonce, spi, remote)

	globalCookieSecret.rotate()
	require.True(t, checkCookie(cookie, nonce, spi, remote), "cookie issued just before rotation must still verify")

	globalCookieSecret.rotate()
	require.False(t, checkCookie(cookie, nonce, spi, remote), "two rotations retire a cookie")
}

func TestNatHashDetectsTranslation(t *testing.T) {
	spiI, spiR := MakeSpi(), MakeSpi()
	addr := &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 500}

	h := natHash(spiI, spiR, addr)
	require.Len(t, h, 20)
	require.True(t, checkNatHash(h, spiI, spiR, addr))

	// a NAT rewrites address or port; either must break the digest
	require.False(t, checkNatHash(h, spiI, spiR, &net.UDPAddr{IP: net.ParseIP("203.0.113.6"), Port: 500}))
	require.False(t, checkNatHash(h, spiI, spiR, &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 4500}))
}
