// ikevd is the privilege-separated IKEv2 daemon supervisor. The parent
// process re-executes itself three times with IKEVD_PROC set, handing each
// worker its pre-established socket-pair ends over ExtraFiles: the ca
// process holds the certificate store and private keys, the ikev2 process
// runs the protocol engine and UDP I/O, and the control process serves the
// local admin socket. The parent brokers fan-out between them and is the
// only process that ever holds every descriptor.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/msgboxio/ike/ikelog"
)

const procEnv = "IKEVD_PROC"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch role := os.Getenv(procEnv); role {
	case "":
		err = runParent(ctx)
	case "ca":
		err = runCA(ctx)
	case "ikev2":
		err = runIKEv2(ctx)
	case "control":
		err = runControl(ctx)
	default:
		ikelog.Errorf("unknown process role %q", role)
		os.Exit(1)
	}
	if err != nil {
		ikelog.Errorf("%v", err)
		os.Exit(1)
	}
}

// workerFile returns the nth descriptor a worker inherited past
// stdin/stdout/stderr: fd 3 is always the channel to the parent, fd 4 (ca
// and ikev2 only) the direct channel between those two.
func workerFile(n int, name string) *os.File {
	return os.NewFile(uintptr(3+n), name)
}
