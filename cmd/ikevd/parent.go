package main

import (
	"context"
	"os"
	"os/exec"

	"github.com/pkg/errors"

	"github.com/msgboxio/ike/ikelog"
	"github.com/msgboxio/ike/ipc"
)

// worker tracks one forked child and the parent's channel to it.
type worker struct {
	proc ipc.ProcID
	cmd  *exec.Cmd
	ch   *ipc.Channel
}

// runParent forks the three workers and brokers messages between them
// until a signal or a worker exit ends the daemon.
func runParent(ctx context.Context) error {
	pCA, cCA, err := ipc.Socketpair()
	if err != nil {
		return err
	}
	pIKE, cIKE, err := ipc.Socketpair()
	if err != nil {
		return err
	}
	pCtl, cCtl, err := ipc.Socketpair()
	if err != nil {
		return err
	}
	// direct pipe between ca and ikev2, so signature dispatch never
	// round-trips through the parent
	caSide, ikeSide, err := ipc.Socketpair()
	if err != nil {
		return err
	}

	workers := make([]*worker, 0, 3)
	spawn := func(role string, proc ipc.ProcID, parentEnd *os.File, files ...*os.File) error {
		cmd := exec.CommandContext(ctx, os.Args[0])
		cmd.Env = append(os.Environ(), procEnv+"="+role)
		cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
		cmd.ExtraFiles = files
		if err := cmd.Start(); err != nil {
			return errors.Wrapf(err, "parent: starting %s", role)
		}
		for _, f := range files {
			f.Close()
		}
		ch, err := ipc.NewChannel(parentEnd, "parent-"+role)
		if err != nil {
			return err
		}
		workers = append(workers, &worker{proc: proc, cmd: cmd, ch: ch})
		return nil
	}

	if err := spawn("ca", ipc.ProcCA, pCA, cCA, caSide); err != nil {
		return err
	}
	if err := spawn("ikev2", ipc.ProcIKEv2, pIKE, cIKE, ikeSide); err != nil {
		return err
	}
	if err := spawn("control", ipc.ProcControl, pCtl, cCtl); err != nil {
		return err
	}

	byProc := make(map[ipc.ProcID]*worker, len(workers))
	for _, w := range workers {
		byProc[w.proc] = w
	}

	errs := make(chan error, len(workers))
	for _, w := range workers {
		go parentLoop(w, byProc, errs)
	}

	ikelog.Info("ikevd parent: all workers running")
	select {
	case <-ctx.Done():
	case err := <-errs:
		ikelog.Errorf("parent: worker channel failed: %v", err)
	}
	for _, w := range workers {
		w.ch.Close()
		if w.cmd.Process != nil {
			w.cmd.Process.Kill()
		}
		w.cmd.Wait()
	}
	return nil
}

// parentLoop relays each message a worker sends to the process named in
// its header, the parent's fan-out job.
func parentLoop(w *worker, byProc map[ipc.ProcID]*worker, errs chan<- error) {
	for {
		m, err := w.ch.Recv()
		if err != nil {
			errs <- err
			return
		}
		dst, ok := byProc[m.Peer]
		if !ok || dst == w {
			ikelog.Warningf("parent: %v from %v has no route", m.Type, w.proc)
			continue
		}
		// rewrite the peer field so the receiver can address its reply
		// back to the sender
		m.Peer = w.proc
		if err := dst.ch.Send(m); err != nil {
			ikelog.Warningf("parent: relay %v to %v: %v", m.Type, dst.proc, err)
		}
	}
}
