package fetch

import (
	"os"
	"os/signal"
	"syscall"
)

// Guard kills the child fetch process if the host process receives a
// termination signal mid-transfer. It is scoped to one transfer: acquire
// with Watch, release on every exit path so handlers never leak.
type Guard struct {
	sigs chan os.Signal
	done chan struct{}
}

// Watch installs the signal relay for p.
func Watch(p Process) *Guard {
	g := &Guard{
		sigs: make(chan os.Signal, 1),
		done: make(chan struct{}),
	}
	signal.Notify(g.sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-g.sigs:
			_ = p.Kill()
		case <-g.done:
		}
	}()
	return g
}

// Release removes the handler. Safe to defer immediately after Watch.
func (g *Guard) Release() {
	signal.Stop(g.sigs)
	close(g.done)
}
