//go:build linux

package platform

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/msgboxio/ike/protocol"
)

func TestSpiToInt(t *testing.T) {
	assert.Equal(t, 0x01020304, spiToInt(protocol.Spi{0x01, 0x02, 0x03, 0x04}))
}

func TestDirectionKeysInitiatorVsResponder(t *testing.T) {
	p := &SaParams{
		IsInitiator: true,
		EspEi:       []byte("Ei"), EspAi: []byte("Ai"),
		EspEr: []byte("Er"), EspAr: []byte("Ar"),
	}
	in, out := directionKeys(p)
	assert.Equal(t, []byte("Er"), in.enc)
	assert.Equal(t, []byte("Ei"), out.enc)

	p.IsInitiator = false
	in, out = directionKeys(p)
	assert.Equal(t, []byte("Ei"), in.enc)
	assert.Equal(t, []byte("Er"), out.enc)
}

func TestSelectorNetsDefaultsToHostRoute(t *testing.T) {
	addr := net.ParseIP("203.0.113.5")
	nets := selectorNets(nil, addr)
	if assert.Len(t, nets, 1) {
		assert.Equal(t, net.CIDRMask(32, 32), nets[0].Mask)
	}
}

func TestSplitDefaultNetsIPv4(t *testing.T) {
	nets := splitDefaultNets(net.ParseIP("10.0.0.1"))
	assert.Len(t, nets, 2)
	assert.Equal(t, net.CIDRMask(1, 32), nets[0].Mask)
}

func TestAlgosRejectsUnknownTransform(t *testing.T) {
	_, _, _, _, err := algos(&SaParams{EncrID: protocol.EncrTransformId(9999)})
	assert.Error(t, err)
}
