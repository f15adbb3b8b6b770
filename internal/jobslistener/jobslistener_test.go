package jobslistener

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greengrass-lite/ggdeploymentd/internal/ggerr"
	"github.com/greengrass-lite/ggdeploymentd/internal/model"
	"github.com/greengrass-lite/ggdeploymentd/pkg/logging"
)

type publishedMsg struct {
	topic   string
	payload []byte
}

// fakeTransport is an in-process mqttTransport: Publish synchronously
// invokes an optional hook (simulating a broker reply) before returning,
// so tests can drive request/response exchanges deterministically.
type fakeTransport struct {
	mu        sync.Mutex
	subs      map[string]func(string, []byte)
	published []publishedMsg
	onPublish func(topic string, payload []byte)
}

func (f *fakeTransport) Connect(context.Context) error { return nil }
func (f *fakeTransport) Disconnect()                    {}

func (f *fakeTransport) Publish(_ context.Context, topic string, _ byte, payload []byte) error {
	f.mu.Lock()
	f.published = append(f.published, publishedMsg{topic, payload})
	hook := f.onPublish
	f.mu.Unlock()
	if hook != nil {
		hook(topic, payload)
	}
	return nil
}

func (f *fakeTransport) Subscribe(topic string, _ byte, handler func(string, []byte)) error {
	f.mu.Lock()
	if f.subs == nil {
		f.subs = make(map[string]func(string, []byte))
	}
	f.subs[topic] = handler
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Unsubscribe(topics ...string) error {
	f.mu.Lock()
	for _, t := range topics {
		delete(f.subs, t)
	}
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) deliver(topic string, payload []byte) {
	f.mu.Lock()
	h := f.subs[topic]
	f.mu.Unlock()
	if h != nil {
		h(topic, payload)
	}
}

type fakeEnqueuer struct {
	mu       sync.Mutex
	received []json.RawMessage
	nextErr  error
	nextID   string
}

func (f *fakeEnqueuer) Enqueue(raw json.RawMessage, _ model.Type) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nextErr != nil {
		err := f.nextErr
		f.nextErr = nil
		return "", err
	}
	f.received = append(f.received, raw)
	if f.nextID != "" {
		return f.nextID, nil
	}
	return "dep-1", nil
}

func newTestClient(transport *fakeTransport, queue Enqueuer) *Client {
	return &Client{
		transport:     transport,
		queue:         queue,
		logger:        logging.Discard(),
		thingName:     "device-1",
		needsDescribe: make(chan struct{}, 1),
	}
}

func TestProcessJobExecutionEnqueuesQueuedJob(t *testing.T) {
	ft := &fakeTransport{}
	fe := &fakeEnqueuer{nextID: "dep-1"}
	c := newTestClient(ft, fe)

	exec := jobExecution{JobID: "job-1", Status: statusQueued, JobDocument: json.RawMessage(`{"components":{}}`)}
	require.NoError(t, c.processJobExecution(context.Background(), exec))

	assert.Len(t, fe.received, 1)
	jobID, ok := c.current.jobIDFor("dep-1")
	assert.True(t, ok)
	assert.Equal(t, "job-1", jobID)
}

func TestProcessJobExecutionRejectsQueuedWithoutDocument(t *testing.T) {
	ft := &fakeTransport{}
	fe := &fakeEnqueuer{}
	c := newTestClient(ft, fe)

	err := c.processJobExecution(context.Background(), jobExecution{JobID: "job-1", Status: statusQueued})
	assert.True(t, ggerr.Is(err, ggerr.Invalid))
	assert.Empty(t, fe.received)
}

func TestProcessJobExecutionSkipsDuplicateJobID(t *testing.T) {
	ft := &fakeTransport{}
	fe := &fakeEnqueuer{nextID: "dep-1"}
	c := newTestClient(ft, fe)

	doc := json.RawMessage(`{"components":{}}`)
	require.NoError(t, c.processJobExecution(context.Background(), jobExecution{JobID: "job-1", Status: statusQueued, JobDocument: doc}))
	require.NoError(t, c.processJobExecution(context.Background(), jobExecution{JobID: "job-1", Status: statusInProgress, JobDocument: doc}))

	assert.Len(t, fe.received, 1, "duplicate job id should not be enqueued twice")
}

func TestProcessJobExecutionIgnoresTerminalStatuses(t *testing.T) {
	ft := &fakeTransport{}
	fe := &fakeEnqueuer{}
	c := newTestClient(ft, fe)

	for _, status := range []string{statusSucceeded, statusFailed, statusRejected} {
		require.NoError(t, c.processJobExecution(context.Background(), jobExecution{JobID: "job-x", Status: status}))
	}
	assert.Empty(t, fe.received)
}

func TestProcessJobExecutionRejectsUnknownStatus(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestClient(ft, &fakeEnqueuer{})
	err := c.processJobExecution(context.Background(), jobExecution{JobID: "job-1", Status: "BOGUS"})
	assert.True(t, ggerr.Is(err, ggerr.Invalid))
}

func TestUpdateJobSucceedsOnAccept(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestClient(ft, &fakeEnqueuer{})
	c.current.begin("job-1")

	ft.onPublish = func(topic string, _ []byte) {
		go ft.deliver(acceptedTopic(topic), []byte(`{}`))
	}

	require.NoError(t, c.updateJob(context.Background(), "job-1", statusSucceeded))
	assert.Equal(t, int32(2), c.current.loadVersion())
}

func TestUpdateJobAcceptsWhenRemoteAlreadyMatchesDesiredStatus(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestClient(ft, &fakeEnqueuer{})
	c.current.begin("job-1")
	c.current.storeVersion(1)

	ft.onPublish = func(topic string, _ []byte) {
		rejection := `{"executionState":{"status":"SUCCEEDED","versionNumber":9}}`
		go ft.deliver(rejectedTopic(topic), []byte(rejection))
	}

	require.NoError(t, c.updateJob(context.Background(), "job-1", statusSucceeded))
	assert.Equal(t, int32(9), c.current.loadVersion(), "version should rebase to the remote value")
}

func TestUpdateJobTreatsCanceledRejectionAsSuccess(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestClient(ft, &fakeEnqueuer{})
	c.current.begin("job-1")

	ft.onPublish = func(topic string, _ []byte) {
		rejection := `{"executionState":{"status":"IN_PROGRESS","versionNumber":1}}`
		go ft.deliver(rejectedTopic(topic), []byte(rejection))
	}

	assert.NoError(t, c.updateJob(context.Background(), "job-1", statusCanceled))
}

func TestDescribeNextJobHandlesEmptyExecution(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestClient(ft, &fakeEnqueuer{})

	ft.onPublish = func(topic string, _ []byte) {
		go ft.deliver(acceptedTopic(topic), []byte(`{}`))
	}

	require.NoError(t, c.describeNextJob(context.Background()))
}

func TestReportStatusNoOpWithoutTrackedJob(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestClient(ft, &fakeEnqueuer{})

	d := &model.Deployment{DeploymentID: "untracked"}
	assert.NoError(t, c.ReportSucceeded(context.Background(), d))
	assert.Empty(t, ft.published)
}
