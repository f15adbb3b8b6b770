// Package fsstore is the configstore.Store implementation that ships in the
// daemon binary: a single JSON document under the device root path,
// watched with fsnotify the way pkg/modelagent's fsnotify.Watcher usage
// drove its own file-change channel.
package fsstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/greengrass-lite/ggdeploymentd/internal/ggerr"
	"github.com/greengrass-lite/ggdeploymentd/pkg/logging"
)

// Store persists the configuration tree as a single JSON file and notifies
// fsnotify subscribers on external changes to that file.
type Store struct {
	path   string
	logger logging.Interface

	mu   sync.Mutex
	tree map[string]interface{}

	subMu       sync.Mutex
	subscribers map[string][]func()
	watcher     *fsnotify.Watcher
}

// New loads (or initializes) the config document at path and starts
// watching its containing directory for external writes.
func New(path string, logger logging.Interface) (*Store, error) {
	s := &Store{
		path:        path,
		logger:      logger,
		tree:        make(map[string]interface{}),
		subscribers: make(map[string][]func()),
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &s.tree); err != nil {
			return nil, ggerr.Wrap(ggerr.Parse, "decode config document "+path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, ggerr.Wrap(ggerr.Failure, "read config document "+path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, ggerr.Wrap(ggerr.Failure, "create config watcher", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, ggerr.Wrap(ggerr.Failure, "watch config directory", err)
	}
	s.watcher = watcher

	go s.watchLoop()

	return s, nil
}

func (s *Store) watchLoop() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// ConfigMap-style mounts rewrite by create+rename; give the
			// write a moment to settle before reloading.
			time.Sleep(50 * time.Millisecond)
			if err := s.reload(); err != nil {
				s.logger.WithError(err).Warn("failed to reload config document after change")
				continue
			}
			s.fireAll()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.WithError(err).Warn("config watcher error")
		}
	}
}

func (s *Store) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	tree := make(map[string]interface{})
	if err := json.Unmarshal(data, &tree); err != nil {
		return err
	}

	s.mu.Lock()
	s.tree = tree
	s.mu.Unlock()
	return nil
}

func (s *Store) fireAll() {
	s.subMu.Lock()
	var all []func()
	for _, fns := range s.subscribers {
		all = append(all, fns...)
	}
	s.subMu.Unlock()
	for _, fn := range all {
		fn()
	}
}

func splitKey(key string) []string {
	return strings.Split(key, "/")
}

func (s *Store) Get(_ context.Context, key string, out interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := lookup(s.tree, splitKey(key))
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
	err = s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notify(key)
	return nil
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

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	deletePath(s.tree, splitKey(key))
	err := s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notify(key)
	return nil
}

func deletePath(tree map[string]interface{}, parts []string) {
	if len(parts) == 0 {
		return
	}
	cur := tree
	for i, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]interface{})
		if !ok {
			return
		}
		cur = next
		_ = i
	}
	delete(cur, parts[len(parts)-1])
}

func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.tree, "", "  ")
	if err != nil {
		return ggerr.Wrap(ggerr.Parse, "encode config document", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return ggerr.Wrap(ggerr.Failure, "create config directory", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return ggerr.Wrap(ggerr.Failure, "write config document", err)
	}
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

// Close stops watching for external changes.
func (s *Store) Close() error {
	return s.watcher.Close()
}
