// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package status

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"

	"github.com/NetNeutralNetworks/nc-vpnc/internal/logging"
)

// Server listens on the status query socket and writes one JSON
// Snapshot per accepted connection, then closes it — a single
// request/response round trip, no framing protocol needed since the
// socket is local and read-only.
type Server struct {
	collector *Collector
	logger    *logging.Logger
	listener  net.Listener
}

// NewServer builds a Server bound to collector; call Start to begin
// listening on socketPath.
func NewServer(collector *Collector, logger *logging.Logger) *Server {
	return &Server{collector: collector, logger: logger}
}

// Start removes any stale socket file, listens on socketPath, and
// accepts connections in the background until ctx is canceled.
func (s *Server) Start(ctx context.Context, socketPath string) error {
	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return err
	}
	// World-readable: this is a read-only status surface, not a control
	// channel, so any local user may query it.
	if err := os.Chmod(socketPath, 0666); err != nil {
		listener.Close()
		return err
	}
	s.listener = listener

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	go s.acceptLoop(ctx)
	s.logger.Info("status query socket listening", "path", socketPath)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("status socket accept failed", "error", err)
			return
		}
		go s.handle(ctx, conn)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	snap, err := s.collector.Collect(ctx)
	if err != nil {
		json.NewEncoder(conn).Encode(map[string]string{"error": err.Error()})
		return
	}
	if err := json.NewEncoder(conn).Encode(snap); err != nil {
		s.logger.Warn("status socket write failed", "error", err)
	}
}
