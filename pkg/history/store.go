package history

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/spf13/afero"
)

// ErrNotFound is returned by Load when no record exists for a task
var ErrNotFound = errors.New("history record not found")

// Store persists execution records between builds
type Store interface {
	Load(taskID string) (*Record, error)
	Save(record *Record) error
	Delete(taskID string) error
}

// FileStore keeps one JSON file per task below dir.
//
// Structure:
//
//	{dir}/
//	  .fbs-history.lock
//	  {sha256(taskID)}.json
//
// Writes are serialized across processes with a lock file and land atomically
// through a rename. A flock.Flock instance that already holds the lock returns
// immediately from Lock, so goroutines of one process also take mu.
type FileStore struct {
	fs   afero.Fs
	dir  string
	mu   sync.Mutex
	lock *flock.Flock
}

// NewFileStore creates a store rooted at dir on the OS filesystem
func NewFileStore(dir string) (*FileStore, error) {
	return NewFileStoreWithFs(afero.NewOsFs(), dir)
}

// NewFileStoreWithFs creates a store on an arbitrary filesystem. The lock file
// always lives on the OS filesystem.
func NewFileStoreWithFs(fs afero.Fs, dir string) (*FileStore, error) {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory %s: %w", dir, err)
	}
	lockDir := dir
	if _, ok := fs.(*afero.OsFs); !ok {
		lockDir = os.TempDir()
	}
	return &FileStore{
		fs:   fs,
		dir:  dir,
		lock: flock.New(filepath.Join(lockDir, ".fbs-history.lock")),
	}, nil
}

// Dir returns the directory holding the records
func (s *FileStore) Dir() string {
	return s.dir
}

// withLock runs fn while holding both the process-local and the file lock
func (s *FileStore) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock history directory: %w", err)
	}
	defer s.lock.Unlock()

	return fn()
}

func (s *FileStore) recordPath(taskID string) string {
	sum := sha256.Sum256([]byte(taskID))
	return filepath.Join(s.dir, fmt.Sprintf("%x.json", sum))
}

// Load reads the record for taskID
func (s *FileStore) Load(taskID string) (*Record, error) {
	data, err := afero.ReadFile(s.fs, s.recordPath(taskID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read history for task %s: %w", taskID, err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse history for task %s: %w", taskID, err)
	}
	if record.TaskID != taskID {
		// hash collision or a hand-edited file; treat as absent
		return nil, ErrNotFound
	}
	return &record, nil
}

// Save writes record, replacing any previous one for the same task
func (s *FileStore) Save(record *Record) error {
	if record == nil || record.TaskID == "" {
		return fmt.Errorf("cannot save history record without task id")
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode history for task %s: %w", record.TaskID, err)
	}

	return s.withLock(func() error {
		target := s.recordPath(record.TaskID)
		tmp, err := afero.TempFile(s.fs, s.dir, "record-*.tmp")
		if err != nil {
			return fmt.Errorf("failed to create temp file: %w", err)
		}
		tmpName := tmp.Name()
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			s.fs.Remove(tmpName)
			return fmt.Errorf("failed to write history for task %s: %w", record.TaskID, err)
		}
		if err := tmp.Close(); err != nil {
			s.fs.Remove(tmpName)
			return fmt.Errorf("failed to close temp file: %w", err)
		}
		if err := s.fs.Rename(tmpName, target); err != nil {
			s.fs.Remove(tmpName)
			return fmt.Errorf("failed to store history for task %s: %w", record.TaskID, err)
		}
		return nil
	})
}

// Delete removes the record for taskID. Deleting a missing record is not an error.
func (s *FileStore) Delete(taskID string) error {
	return s.withLock(func() error {
		err := s.fs.Remove(s.recordPath(taskID))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to delete history for task %s: %w", taskID, err)
		}
		return nil
	})
}

// MemoryStore keeps records in memory; used for dry runs and tests
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) Load(taskID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *MemoryStore) Save(record *Record) error {
	if record == nil || record.TaskID == "" {
		return fmt.Errorf("cannot save history record without task id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.TaskID] = *record
	return nil
}

func (m *MemoryStore) Delete(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, taskID)
	return nil
}
