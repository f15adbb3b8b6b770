// Package queue implements the bounded, deduplicating, single-consumer
// deployment queue, grounded on deployment_queue.c: a ring
// buffer guarded by a mutex and condition variable, with replace-in-place
// semantics for queued duplicates.
package queue

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/greengrass-lite/ggdeploymentd/internal/ggerr"
	"github.com/greengrass-lite/ggdeploymentd/internal/model"
)

// DefaultCapacity is the ring buffer size used when none is configured
// (: "capacity Q, default 10").
const DefaultCapacity = 10

// Queue is a bounded FIFO with dedup-by-id and replace-if-queued, a single
// blocking consumer, and slot-stable references across dequeue/release.
type Queue struct {
	mu       sync.Mutex
	notify   *sync.Cond
	slots    []*model.Deployment
	index    int
	count    int
	capacity int
}

// New constructs a Queue with the given capacity. capacity <= 0 uses
// DefaultCapacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &Queue{
		slots:    make([]*model.Deployment, capacity),
		capacity: capacity,
	}
	q.notify = sync.NewCond(&q.mu)
	return q
}

// Enqueue parses raw into a Deployment of the given type and inserts it
// (enqueue). Returns the assigned deployment id.
//
// If a slot already holds a deployment with the same id: a QUEUED slot is
// overwritten in place (same index, queue order unchanged); an IN_PROGRESS
// slot causes Enqueue to return OK without modifying anything (the arriving
// duplicate is discarded). Otherwise the deployment is appended to the
// tail, or ggerr.ErrBusy is returned if the queue is full.
func (q *Queue) Enqueue(raw json.RawMessage, t model.Type) (string, error) {
	d, err := model.ParseDeploymentDoc(raw, t)
	if err != nil {
		return "", ggerr.Wrap(ggerr.Invalid, "parse deployment document", err)
	}
	d.State = model.Queued

	q.mu.Lock()
	defer q.mu.Unlock()

	if idx, ok := q.findLocked(d.DeploymentID); ok {
		if q.slots[idx].State != model.Queued {
			return q.slots[idx].DeploymentID, nil
		}
		q.slots[idx] = d
		q.notify.Signal()
		return d.DeploymentID, nil
	}

	if q.count >= q.capacity {
		return "", ggerr.New(ggerr.Busy, fmt.Sprintf("deployment queue full (capacity %d)", q.capacity))
	}

	idx := (q.index + q.count) % q.capacity
	q.slots[idx] = d
	q.count++
	q.notify.Signal()
	return d.DeploymentID, nil
}

func (q *Queue) findLocked(id string) (int, bool) {
	for i := 0; i < q.count; i++ {
		idx := (q.index + i) % q.capacity
		if q.slots[idx].DeploymentID == id {
			return idx, true
		}
	}
	return 0, false
}

// Dequeue blocks until a deployment is queued, transitions the head slot to
// IN_PROGRESS, and returns it. The returned pointer remains stable until
// Release.
func (q *Queue) Dequeue() *model.Deployment {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 {
		q.notify.Wait()
	}

	head := q.slots[q.index]
	head.State = model.InProgress
	return head
}

// Release advances the head past d, which must match the current head's
// deployment id (the single-consumer contract asserts at
// release). Panics on mismatch, matching the original's assert.
func (q *Queue) Release(d *model.Deployment) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 || q.slots[q.index].DeploymentID != d.DeploymentID {
		panic("queue: release does not match current head")
	}

	q.slots[q.index] = nil
	q.count--
	q.index = (q.index + 1) % q.capacity
}

// Len reports the number of queued-or-in-progress deployments.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}
