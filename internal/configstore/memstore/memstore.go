// Package memstore is an in-process configstore.Store backed by a nested
// map, used by every unit test in the repo so tests don't need filesystem
// fixtures. Mirrors fsstore's tree-of-maps layout (rather
// than a flat key->value table) so a Get of a parent key aggregates
// whatever its descendants were Put with, exactly as the real store does.
package memstore

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/greengrass-lite/ggdeploymentd/internal/ggerr"
)

// Store is an in-memory configstore.Store.
type Store struct {
	mu   sync.Mutex
	tree map[string]interface{}

	subMu       sync.Mutex
	subscribers map[string][]func()
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		tree:        make(map[string]interface{}),
		subscribers: make(map[string][]func()),
	}
}

func splitKey(key string) []string {
	return strings.Split(key, "/")
}

func lookup(tree map[string]interface{}, parts []string) (interface{}, bool) {
	var cur interface{} = tree
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func setPath(tree map[string]interface{}, parts []string, value interface{}) {
	cur := tree
	for i, p := range parts {
		if i == len(parts)-1 {
			cur[p] = value
			return
		}
		next, ok := cur[p].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			cur[p] = next
		}
		cur = next
	}
}

func deletePath(tree map[string]interface{}, parts []string) {
	if len(parts) == 0 {
		return
	}
	cur := tree
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]interface{})
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, parts[len(parts)-1])
}

func (s *Store) Get(_ context.Context, key string, out interface{}) error {
	s.mu.Lock()
	node, ok := lookup(s.tree, splitKey(key))
	s.mu.Unlock()
	if !ok {
		return ggerr.New(ggerr.NoEntry, "config key not found: "+key)
	}

	raw, err := json.Marshal(node)
	if err != nil {
		return ggerr.Wrap(ggerr.Parse, "re-encode config value at "+key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return ggerr.Wrap(ggerr.Parse, "decode config value at "+key, err)
	}
	return nil
}

func (s *Store) Put(_ context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return ggerr.Wrap(ggerr.Parse, "encode config value at "+key, err)
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return ggerr.Wrap(ggerr.Parse, "decode config value at "+key, err)
	}

	s.mu.Lock()
	setPath(s.tree, splitKey(key), decoded)
	s.mu.Unlock()

	s.notify(key)
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	deletePath(s.tree, splitKey(key))
	s.mu.Unlock()

	s.notify(key)
	return nil
}

func (s *Store) Subscribe(ctx context.Context, key string, fn func()) error {
	s.subMu.Lock()
	s.subscribers[key] = append(s.subscribers[key], fn)
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subscribers, key)
	}()
	return nil
}

func (s *Store) notify(key string) {
	s.subMu.Lock()
	var fns []func()
	for subKey, subs := range s.subscribers {
		if key == subKey || strings.HasPrefix(key, subKey+"/") || strings.HasPrefix(subKey, key+"/") {
			fns = append(fns, subs...)
		}
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
