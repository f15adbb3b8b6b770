// Package ipcserver implements the local IPC surface: a Unix-domain
// SOCK_STREAM listener, with socket-activation fallback via the
// LISTEN_FDS/LISTEN_FDNAMES environment protocol, accepting a single
// RPC: create_local_deployment(params) -> deployment_id. Grounded on
// socket_server.c's accept loop, per-client send/receive timeouts, and
// systemd socket-activation inheritance, and bus_server.c's single-method
// dispatch shape.
package ipcserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/activation"

	"github.com/greengrass-lite/ggdeploymentd/internal/ggerr"
	"github.com/greengrass-lite/ggdeploymentd/pkg/logging"
)

// clientTimeout bounds both read and write on an accepted connection:
// 5s on both send and receive per client.
const clientTimeout = 5 * time.Second

// SocketName is the systemd socket-activation name this server looks for
// among inherited file descriptors (LISTEN_FDNAMES), matching the original
// core bus address.
const SocketName = "ggdeploymentd"

// Enqueuer accepts a raw local deployment document and returns its
// deployment id (implemented by a thin adapter over *queue.Queue that
// pins the deployment type to model.Local).
type Enqueuer interface {
	EnqueueLocal(raw json.RawMessage) (string, error)
}

// request is the single supported RPC envelope: method is always
// "create_local_deployment", and params is the deployment document passed
// straight through to Enqueuer.
type request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type response struct {
	DeploymentID string `json:"deploymentId,omitempty"`
	Error        string `json:"error,omitempty"`
}

const createLocalDeployment = "create_local_deployment"

// Server listens on a Unix-domain socket (or an inherited systemd socket)
// and dispatches create_local_deployment requests to an Enqueuer.
type Server struct {
	SocketPath string
	Mode       os.FileMode
	Enqueuer   Enqueuer
	Logger     logging.Interface

	mu       sync.Mutex
	listener net.Listener
}

// Serve opens the listener (preferring a socket-activated fd over creating
// one at SocketPath) and accepts connections until ctx is canceled, for as
// long as the core bus server runs in the daemon's lifetime.
func (s *Server) Serve(ctx context.Context) error {
	logger := s.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	ln, err := s.openListener()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	logger.Infof("ipc server listening on %s", s.SocketPath)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return ggerr.Wrap(ggerr.Failure, "accept ipc connection", err)
		}
		go s.handleConn(conn, logger)
	}
}

// openListener tries systemd socket activation first, via the
// LISTEN_FDS/LISTEN_FDNAMES env protocol, falling back to creating a
// fresh Unix-domain socket at SocketPath.
func (s *Server) openListener() (net.Listener, error) {
	listeners, err := activation.ListenersWithNames()
	if err == nil {
		if fds, ok := listeners[SocketName]; ok && len(fds) > 0 {
			return fds[0], nil
		}
	}

	if err := os.Remove(s.SocketPath); err != nil && !os.IsNotExist(err) {
		return nil, ggerr.Wrap(ggerr.Failure, "remove stale ipc socket", err)
	}
	ln, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return nil, ggerr.Wrap(ggerr.Failure, "listen on ipc socket "+s.SocketPath, err)
	}
	mode := s.Mode
	if mode == 0 {
		mode = 0o660
	}
	if err := os.Chmod(s.SocketPath, mode); err != nil {
		ln.Close()
		return nil, ggerr.Wrap(ggerr.Failure, "chmod ipc socket", err)
	}
	return ln, nil
}

func (s *Server) handleConn(conn net.Conn, logger logging.Interface) {
	defer conn.Close()

	deadline := time.Now().Add(clientTimeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		logger.Warnf("set ipc read deadline: %v", err)
		return
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		logger.Warnf("set ipc write deadline: %v", err)
		return
	}

	var req request
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&req); err != nil {
		writeResponse(conn, response{Error: "malformed request: " + err.Error()})
		return
	}

	resp := s.dispatch(req)
	writeResponse(conn, resp)
}

func (s *Server) dispatch(req request) response {
	if req.Method != createLocalDeployment {
		return response{Error: fmt.Sprintf("unsupported method %q", req.Method)}
	}
	id, err := s.Enqueuer.EnqueueLocal(req.Params)
	if err != nil {
		return response{Error: err.Error()}
	}
	return response{DeploymentID: id}
}

func writeResponse(conn net.Conn, resp response) {
	_ = json.NewEncoder(conn).Encode(resp)
}

// Close stops accepting new connections. Serve's ctx should be canceled
// too so its Accept loop observes the resulting error and returns.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}
