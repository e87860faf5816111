package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// FileStore keeps settings in a JSON object on disk. Edits made to the file
// by anything other than this store are reported as remote changes.
type FileStore struct {
	path   string
	logger *log.Logger

	mu      sync.Mutex
	data    map[string]string
	subs    map[int]func(Change)
	nextSub int
}

var _ Store = (*FileStore)(nil)

// OpenFileStore reads path, treating a missing file as empty.
func OpenFileStore(path string, logger *log.Logger) (*FileStore, error) {
	if logger == nil {
		logger = log.Default()
	}
	data, err := readSettingsFile(path)
	if err != nil {
		return nil, err
	}
	return &FileStore{path: path, logger: logger, data: data, subs: map[int]func(Change){}}, nil
}

func readSettingsFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	var raw map[string]any
	if len(b) > 0 {
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil, fmt.Errorf("decode settings %s: %w", path, err)
		}
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch vv := v.(type) {
		case nil:
		case string:
			out[k] = vv
		case bool:
			out[k] = strconv.FormatBool(vv)
		default:
			out[k] = fmt.Sprint(vv)
		}
	}
	return out, nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *FileStore) Set(_ context.Context, key, value string) error {
	return s.write(key, value, true)
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	return s.write(key, "", false)
}

func (s *FileStore) write(key, value string, present bool) error {
	s.mu.Lock()
	old := s.data[key]
	next := make(map[string]string, len(s.data)+1)
	for k, v := range s.data {
		next[k] = v
	}
	if present {
		next[key] = value
	} else {
		delete(next, key)
	}
	if err := s.flush(next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.data = next
	subs := s.subscribers()
	s.mu.Unlock()

	for _, fn := range subs {
		fn(Change{Key: key, Old: old, New: value, Present: present})
	}
	return nil
}

// flush replaces the file atomically. Caller holds s.mu.
func (s *FileStore) flush(data map[string]string) error {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// Subscribe watches the file's directory, since editors usually replace the
// file rather than write it in place.
func (s *FileStore) Subscribe(ctx context.Context, fn func(Change)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		watcher.Close()
		return fmt.Errorf("create settings dir: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn
	s.mu.Unlock()

	target := filepath.Clean(s.path)
	go func() {
		defer watcher.Close()
		defer func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					s.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("settings file watcher error", "path", s.path, "err", err)
			}
		}
	}()
	return nil
}

func (s *FileStore) subscribers() []func(Change) {
	out := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		out = append(out, fn)
	}
	return out
}

// reload diffs the file against the cached copy and reports what changed to
// every subscriber. Each subscriber's watcher triggers a reload; only the
// first sees a difference.
func (s *FileStore) reload() {
	s.mu.Lock()
	next, err := readSettingsFile(s.path)
	if err != nil {
		s.mu.Unlock()
		// half-written files show up here; the next event will carry the rest
		s.logger.Debug("skipping unreadable settings file", "path", s.path, "err", err)
		return
	}
	prev := s.data
	s.data = next
	subs := s.subscribers()
	s.mu.Unlock()

	var changes []Change
	for key, nv := range next {
		if ov, ok := prev[key]; !ok || ov != nv {
			changes = append(changes, Change{Key: key, Old: prev[key], New: nv, Present: true, Remote: true})
		}
	}
	for key, ov := range prev {
		if _, ok := next[key]; !ok {
			changes = append(changes, Change{Key: key, Old: ov, Remote: true})
		}
	}
	for _, c := range changes {
		for _, fn := range subs {
			fn(c)
		}
	}
}
