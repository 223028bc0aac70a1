package ike

import (
	"time"

	"github.com/msgboxio/ike/state"
)

// maxDpdMissed is how many consecutive unanswered liveness probes this
// daemon tolerates before declaring the peer dead.
const maxDpdMissed = 3

// dpdTick fires on cfg.DpdInterval once the IKE SA is MATURE: it sends an
// empty INFORMATIONAL probe and, if the peer missed too many in a row,
// tears the Session down as unreachable.
func (o *Session) dpdTick() {
	if o.Fsm.State != state.STATE_MATURE {
		return
	}
	if o.dpdMissed >= maxDpdMissed {
		o.log.Warningf("peer unresponsive after %d dpd probes", o.dpdMissed)
		o.Close(errDpdTimeout)
		return
	}
	o.dpdMissed++
	o.SendEmptyInformational(false)
}

var errDpdTimeout = dpdTimeoutError{}

type dpdTimeoutError struct{}

func (dpdTimeoutError) Error() string { return "dead peer detection: no response" }

// dpdInterval resolves the configured probe cadence, falling back to a
// sane default for a Config built without one set explicitly.
func dpdInterval(o *Session) time.Duration {
	if o.cfg.DpdInterval > 0 {
		return o.cfg.DpdInterval
	}
	return 30 * time.Second
}
