package ipcserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/greengrass-lite/ggdeploymentd/internal/model"
	"github.com/greengrass-lite/ggdeploymentd/pkg/logging"
)

var errBusy = errors.New("deployment queue full (capacity 10)")

type recordingRawQueue struct {
	gotRaw  json.RawMessage
	gotType model.Type
}

func (r *recordingRawQueue) Enqueue(raw json.RawMessage, t model.Type) (string, error) {
	r.gotRaw = raw
	r.gotType = t
	return "dep-local", nil
}

type fakeEnqueuer struct {
	gotRaw json.RawMessage
	id     string
	err    error
}

func (f *fakeEnqueuer) EnqueueLocal(raw json.RawMessage) (string, error) {
	f.gotRaw = raw
	if f.err != nil {
		return "", f.err
	}
	return f.id, nil
}

func startTestServer(t *testing.T, enq Enqueuer) (socketPath string, stop func()) {
	t.Helper()
	socketPath = filepath.Join(t.TempDir(), "ggdeploymentd.sock")

	srv := &Server{SocketPath: socketPath, Enqueuer: enq, Logger: logging.Discard()}
	ctx, cancel := context.WithCancel(context.Background())

	ready := make(chan struct{})
	go func() {
		ln, err := srv.openListener()
		require.NoError(t, err)
		srv.mu.Lock()
		srv.listener = ln
		srv.mu.Unlock()
		close(ready)

		go func() {
			<-ctx.Done()
			ln.Close()
		}()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.handleConn(conn, srv.Logger)
		}
	}()
	<-ready

	return socketPath, func() { cancel() }
}

func call(t *testing.T, socketPath string, req request) response {
	t.Helper()
	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, json.NewEncoder(conn).Encode(req))

	var resp response
	require.NoError(t, json.NewDecoder(conn).Decode(&resp))
	return resp
}

func TestServerDispatchesCreateLocalDeployment(t *testing.T) {
	enq := &fakeEnqueuer{id: "dep-123"}
	socketPath, stop := startTestServer(t, enq)
	defer stop()

	resp := call(t, socketPath, request{Method: createLocalDeployment, Params: json.RawMessage(`{"components":{}}`)})

	require.Empty(t, resp.Error)
	require.Equal(t, "dep-123", resp.DeploymentID)
	require.JSONEq(t, `{"components":{}}`, string(enq.gotRaw))
}

func TestServerRejectsUnknownMethod(t *testing.T) {
	socketPath, stop := startTestServer(t, &fakeEnqueuer{})
	defer stop()

	resp := call(t, socketPath, request{Method: "delete_everything"})

	require.Empty(t, resp.DeploymentID)
	require.Contains(t, resp.Error, "unsupported method")
}

func TestServerPropagatesEnqueueError(t *testing.T) {
	enq := &fakeEnqueuer{err: errBusy}
	socketPath, stop := startTestServer(t, enq)
	defer stop()

	resp := call(t, socketPath, request{Method: createLocalDeployment, Params: json.RawMessage(`{}`)})

	require.Equal(t, errBusy.Error(), resp.Error)
}

func TestLocalQueuePinsLocalType(t *testing.T) {
	rq := &recordingRawQueue{}
	lq := LocalQueue{Queue: rq}

	_, err := lq.EnqueueLocal(json.RawMessage(`{"components":{}}`))
	require.NoError(t, err)
	require.Equal(t, "LOCAL", string(rq.gotType))
}
