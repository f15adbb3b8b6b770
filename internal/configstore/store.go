// Package configstore declares the narrow interface the deployment
// pipeline needs against the external hierarchical key/value configuration
// store (collaborator, key layout). The store itself — and its
// wire format, access control, and cross-process semantics — is out of
// scope; this package only specifies the contract callers use.
package configstore

import "context"

// Store is a typed, hierarchical key/value configuration facade. Keys are
// slash-separated paths (e.g. "services/<name>/version").
// Implementations must serialize writes from a single caller's perspective;
// cross-process ordering is the concrete store's responsibility.
type Store interface {
	// Get reads the value at key into out (a pointer), returning
	// ggerr.ErrNoEntry if the key is absent.
	Get(ctx context.Context, key string, out interface{}) error
	// Put writes value at key, creating intermediate path segments as
	// needed.
	Put(ctx context.Context, key string, value interface{}) error
	// Delete removes key and everything under it. Deleting an absent key
	// is not an error.
	Delete(ctx context.Context, key string) error
	// Subscribe invokes fn whenever the subtree rooted at key changes,
	// until ctx is canceled. Returns once the subscription is installed.
	// The memstore and fsstore implementations call fn synchronously on
	// the goroutine that made the change; fsstore reports external edits
	// of its file from its watcher goroutine.
	Subscribe(ctx context.Context, key string, fn func()) error
}

// Path joins key segments the way writes them, e.g.
// Path("services", name, "version") == "services/<name>/version".
func Path(segments ...string) string {
	out := segments[0]
	for _, s := range segments[1:] {
		out += "/" + s
	}
	return out
}
