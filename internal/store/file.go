package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// File is a Store persisted as a single JSON object on disk. Keys keep their
// insertion order so the file diffs cleanly between runs. Every mutation is
// written through with an atomic rename.
type File struct {
	path   string
	logger *logrus.Logger

	mu     sync.Mutex
	values *orderedmap.OrderedMap[string, string]
}

// OpenFile loads the store at path. A missing file yields an empty store; the
// file and its directory are created on the first write.
func OpenFile(path string, logger *logrus.Logger) (*File, error) {
	if logger == nil {
		logger = logrus.New()
	}

	f := &File{
		path:   path,
		logger: logger,
		values: orderedmap.New[string, string](),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.WithField("path", path).Debug("State file does not exist yet")
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("read state file: %w", err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, f.values); err != nil {
			return nil, fmt.Errorf("parse state file %s: %w", path, err)
		}
	}

	logger.WithFields(logrus.Fields{
		"path": path,
		"keys": f.values.Len(),
	}).Debug("Loaded state file")
	return f, nil
}

// Path returns the backing file path.
func (f *File) Path() string {
	return f.path
}

func (f *File) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values.Get(key)
	return v, ok, nil
}

func (f *File) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	old, existed := f.values.Set(key, value)
	if err := f.flushLocked(); err != nil {
		if existed {
			f.values.Set(key, old)
		} else {
			f.values.Delete(key)
		}
		return err
	}
	return nil
}

func (f *File) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	old, existed := f.values.Delete(key)
	if !existed {
		return nil
	}
	if err := f.flushLocked(); err != nil {
		f.values.Set(key, old)
		return err
	}
	return nil
}

// flushLocked writes the whole map to a temp file and renames it into place.
func (f *File) flushLocked() error {
	data, err := json.MarshalIndent(f.values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op after a successful rename.
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}

	f.logger.WithFields(logrus.Fields{
		"path": f.path,
		"keys": f.values.Len(),
	}).Debug("State file written")
	return nil
}
