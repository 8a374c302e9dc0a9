package media

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// PreferenceStore keeps preferred devices under caller-chosen keys. Set and
// Delete are called from device selection and must not block on I/O.
type PreferenceStore interface {
	Get(key string) (DeviceRef, bool)
	Set(key string, ref DeviceRef) error
	Delete(key string) error
}

// MemoryPreferenceStore is a PreferenceStore that lives as long as the
// process. The zero value is ready to use.
type MemoryPreferenceStore struct {
	mu    sync.Mutex
	prefs map[string]DeviceRef
}

func (s *MemoryPreferenceStore) Get(key string) (DeviceRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.prefs[key]
	return ref, ok
}

func (s *MemoryPreferenceStore) Set(key string, ref DeviceRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prefs == nil {
		s.prefs = make(map[string]DeviceRef)
	}
	s.prefs[key] = ref
	return nil
}

func (s *MemoryPreferenceStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prefs, key)
	return nil
}

// FilePreferenceStore is a PreferenceStore persisted as a YAML map of key to
// device. Changes apply in memory at once and are written to the file in the
// background; changes made while a write is running are folded into one
// follow-up write.
type FilePreferenceStore struct {
	path string
	mem  MemoryPreferenceStore

	mu     sync.Mutex
	dirty  bool
	saving chan struct{} // closed when the running writer exits
	err    error         // last write failure, reported by Flush
}

// OpenFilePreferenceStore loads path. A missing file is an empty store.
func OpenFilePreferenceStore(path string) (*FilePreferenceStore, error) {
	s := &FilePreferenceStore{path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read preferences: %w", err)
	}

	var prefs map[string]DeviceRef
	if err := yaml.Unmarshal(data, &prefs); err != nil {
		return nil, fmt.Errorf("parse preferences %s: %w", path, err)
	}
	s.mem.prefs = prefs
	return s, nil
}

func (s *FilePreferenceStore) Get(key string) (DeviceRef, bool) { return s.mem.Get(key) }

func (s *FilePreferenceStore) Set(key string, ref DeviceRef) error {
	_ = s.mem.Set(key, ref)
	s.changed()
	return nil
}

func (s *FilePreferenceStore) Delete(key string) error {
	_ = s.mem.Delete(key)
	s.changed()
	return nil
}

// Flush waits for pending writes and returns the last write error, if any.
func (s *FilePreferenceStore) Flush() error {
	for {
		s.mu.Lock()
		done := s.saving
		if done == nil {
			err := s.err
			s.err = nil
			s.mu.Unlock()
			return err
		}
		s.mu.Unlock()
		<-done
	}
}

func (s *FilePreferenceStore) changed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
	if s.saving != nil {
		return
	}
	s.saving = make(chan struct{})
	go s.writeLoop(s.saving)
}

func (s *FilePreferenceStore) writeLoop(done chan struct{}) {
	defer close(done)
	for {
		s.mu.Lock()
		if !s.dirty {
			s.saving = nil
			s.mu.Unlock()
			return
		}
		s.dirty = false
		s.mu.Unlock()

		err := s.save()

		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}
}

// save writes through a temporary file so readers never see a partial map.
func (s *FilePreferenceStore) save() error {
	s.mem.mu.Lock()
	data, err := yaml.Marshal(s.mem.prefs)
	s.mem.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create preferences dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace preferences: %w", err)
	}
	return nil
}

var (
	_ PreferenceStore = (*MemoryPreferenceStore)(nil)
	_ PreferenceStore = (*FilePreferenceStore)(nil)
)
