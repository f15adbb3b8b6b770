package queue

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greengrass-lite/ggdeploymentd/internal/ggerr"
	"github.com/greengrass-lite/ggdeploymentd/internal/model"
)

func TestEnqueueDequeueRelease(t *testing.T) {
	q := New(2)

	id, err := q.Enqueue(json.RawMessage(`{"deploymentId":"d1","components":{}}`), model.Local)
	require.NoError(t, err)
	assert.Equal(t, "d1", id)
	assert.Equal(t, 1, q.Len())

	d := q.Dequeue()
	assert.Equal(t, "d1", d.DeploymentID)
	assert.Equal(t, model.InProgress, d.State)

	q.Release(d)
	assert.Equal(t, 0, q.Len())
}

func TestEnqueueFullReturnsBusy(t *testing.T) {
	q := New(1)

	_, err := q.Enqueue(json.RawMessage(`{"deploymentId":"d1","components":{}}`), model.Local)
	require.NoError(t, err)

	_, err = q.Enqueue(json.RawMessage(`{"deploymentId":"d2","components":{}}`), model.Local)
	require.Error(t, err)
	assert.True(t, ggerr.Is(err, ggerr.Busy))
}

func TestEnqueueReplacesQueuedDuplicateInPlace(t *testing.T) {
	q := New(3)

	_, err := q.Enqueue(json.RawMessage(`{"deploymentId":"d1","components":{"foo":{"version":"1.0.0"}}}`), model.Local)
	require.NoError(t, err)
	_, err = q.Enqueue(json.RawMessage(`{"deploymentId":"d2","components":{}}`), model.Local)
	require.NoError(t, err)

	_, err = q.Enqueue(json.RawMessage(`{"deploymentId":"d1","components":{"foo":{"version":"2.0.0"}}}`), model.Local)
	require.NoError(t, err)
	assert.Equal(t, 2, q.Len(), "replace-in-place must not grow the queue")

	first := q.Dequeue()
	assert.Equal(t, "d1", first.DeploymentID, "d1 keeps its original queue position")
	assert.Equal(t, "2.0.0", first.Components["foo"].Version, "replacement content wins")
}

func TestEnqueueDuplicateOfInProgressIsDiscarded(t *testing.T) {
	q := New(2)

	_, err := q.Enqueue(json.RawMessage(`{"deploymentId":"d1","components":{"foo":{"version":"1.0.0"}}}`), model.Local)
	require.NoError(t, err)

	d1 := q.Dequeue() // now IN_PROGRESS

	_, err = q.Enqueue(json.RawMessage(`{"deploymentId":"d1","components":{"foo":{"version":"2.0.0"}}}`), model.Local)
	require.NoError(t, err)

	assert.Equal(t, "1.0.0", d1.Components["foo"].Version, "in-progress deployment is untouched by the duplicate")

	q.Release(d1)
	assert.Equal(t, 0, q.Len())
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	q := New(1)

	done := make(chan *model.Deployment, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		done <- q.Dequeue()
	}()

	select {
	case <-done:
		t.Fatal("dequeue returned before any deployment was enqueued")
	case <-time.After(50 * time.Millisecond):
	}

	_, err := q.Enqueue(json.RawMessage(`{"deploymentId":"d1","components":{}}`), model.Local)
	require.NoError(t, err)

	select {
	case d := <-done:
		assert.Equal(t, "d1", d.DeploymentID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not unblock after enqueue")
	}
	wg.Wait()
}

func TestReleaseMismatchPanics(t *testing.T) {
	q := New(2)
	_, err := q.Enqueue(json.RawMessage(`{"deploymentId":"d1","components":{}}`), model.Local)
	require.NoError(t, err)
	q.Dequeue()

	other := &model.Deployment{DeploymentID: "not-the-head"}
	assert.Panics(t, func() { q.Release(other) })
}

func TestInvalidDocumentRejectedSynchronously(t *testing.T) {
	q := New(1)
	_, err := q.Enqueue(json.RawMessage(`not json`), model.Local)
	require.Error(t, err)
	assert.True(t, ggerr.Is(err, ggerr.Invalid))
}
