package config

import (
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

type signalHandler struct {
	sigCh  chan os.Signal
	stopCh chan struct{}
	doneCh chan struct{}
}

var (
	// reloadMu drops SIGHUPs that arrive while a reload is running.
	reloadMu sync.Mutex

	signalMu sync.Mutex
	handler  *signalHandler
)

// SetupSignalHandler starts reloading the configuration on SIGHUP.
// Calling it again replaces the running handler.
func SetupSignalHandler() {
	StopSignalHandler()

	h := &signalHandler{
		sigCh:  make(chan os.Signal, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	signal.Notify(h.sigCh, syscall.SIGHUP)

	signalMu.Lock()
	handler = h
	signalMu.Unlock()

	go h.run()
}

func (h *signalHandler) run() {
	defer close(h.doneCh)
	for {
		select {
		case <-h.sigCh:
			if !reloadMu.TryLock() {
				slog.Debug("SIGHUP received during reload; ignoring")
				continue
			}
			slog.Info("received SIGHUP; reloading config")
			_ = Reload()
			reloadMu.Unlock()
		case <-h.stopCh:
			signal.Stop(h.sigCh)
			return
		}
	}
}

// StopSignalHandler stops the SIGHUP handler and waits for it to exit.
func StopSignalHandler() {
	signalMu.Lock()
	h := handler
	handler = nil
	signalMu.Unlock()

	if h == nil {
		return
	}
	close(h.stopCh)
	<-h.doneCh
}
