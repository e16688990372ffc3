// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package verifyserver

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/coreos/go-systemd/v22/activation"
	"zombiezen.com/go/log"
)

// Run serves s on addr, or on a socket-activated listener handed down by
// systemd (LISTEN_FDS) when one is available, blocking until ctx is
// canceled.
func Run(ctx context.Context, addr string, s *Server) error {
	ln, err := activationListener(addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	httpServer := &http.Server{Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()

	log.Infof(ctx, "verifyserver: listening on %s", ln.Addr())
	select {
	case <-ctx.Done():
		return httpServer.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// activationListener returns the first socket-activated listener systemd
// passed down, or falls back to binding addr itself when this process
// was not started via socket activation (the common case during local
// development).
func activationListener(addr string) (net.Listener, error) {
	listeners, err := activation.Listeners()
	if err != nil {
		return nil, fmt.Errorf("verifyserver: query socket activation: %w", err)
	}
	if len(listeners) > 0 {
		return listeners[0], nil
	}
	return net.Listen("tcp", addr)
}
