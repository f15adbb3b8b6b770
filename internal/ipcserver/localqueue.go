package ipcserver

import (
	"encoding/json"

	"github.com/greengrass-lite/ggdeploymentd/internal/model"
)

// rawQueue is the narrow seam onto the deployment queue (implemented by
// *queue.Queue).
type rawQueue interface {
	Enqueue(raw json.RawMessage, t model.Type) (string, error)
}

// LocalQueue adapts a rawQueue to Enqueuer, pinning every IPC-submitted
// deployment to model.Local: create_local_deployment always originates a
// LOCAL deployment, never a THING_GROUP one.
type LocalQueue struct {
	Queue rawQueue
}

func (l LocalQueue) EnqueueLocal(raw json.RawMessage) (string, error) {
	return l.Queue.Enqueue(raw, model.Local)
}
