// Package snapshot fingerprints declared outputs and compares them against the
// fingerprints recorded by a previous execution.
package snapshot

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"

	"fbs/pkg/history"
	"fbs/pkg/outputs"
)

// Missing is the fingerprint of a declared output that does not exist
const Missing = "missing"

// Snapshotter hashes output files on a filesystem
type Snapshotter struct {
	fs afero.Fs
}

// NewSnapshotter creates a snapshotter on the OS filesystem
func NewSnapshotter() *Snapshotter {
	return NewSnapshotterWithFs(afero.NewOsFs())
}

func NewSnapshotterWithFs(fs afero.Fs) *Snapshotter {
	return &Snapshotter{fs: fs}
}

// Fingerprint hashes every declared output. Directories contribute one entry per
// contained file, keyed by the file's full path.
func (s *Snapshotter) Fingerprint(set outputs.OutputSet) (map[string]string, error) {
	result := make(map[string]string)
	for _, path := range set.Paths() {
		info, err := s.fs.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				result[path] = Missing
				continue
			}
			return nil, fmt.Errorf("failed to stat output %s: %w", path, err)
		}

		if !info.IsDir() {
			hash, err := s.hashFile(path)
			if err != nil {
				return nil, err
			}
			result[path] = hash
			continue
		}

		if err := s.fingerprintDir(path, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Snapshotter) fingerprintDir(dir string, result map[string]string) error {
	fsys := afero.NewIOFS(afero.NewBasePathFs(s.fs, dir))
	// an empty directory still has to be told apart from a missing one
	result[dir] = "dir"
	return doublestar.GlobWalk(fsys, "**", func(rel string, d fs.DirEntry) error {
		if d.IsDir() {
			return nil
		}
		full := filepath.Join(dir, filepath.FromSlash(rel))
		hash, err := s.hashFile(full)
		if err != nil {
			return err
		}
		result[full] = hash
		return nil
	})
}

func (s *Snapshotter) hashFile(path string) (string, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open output %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash output %s: %w", path, err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// Comparator implements outputs.ContentComparator on top of a Snapshotter
type Comparator struct {
	snapshotter *Snapshotter
}

func NewComparator(s *Snapshotter) *Comparator {
	return &Comparator{snapshotter: s}
}

// OutputsUnchanged reports whether the declared set matches the previous one and,
// for records carrying fingerprints, whether every output still hashes the same.
// Outputs the previous execution declared late are fingerprinted along with the
// declared set. A missing output is never unchanged.
func (c *Comparator) OutputsUnchanged(_ outputs.Task, declared outputs.OutputSet, previous outputs.HistoryRecord) (bool, error) {
	if !declared.Equal(previous.OutputFiles()) {
		return false, nil
	}

	record, _ := previous.(*history.Record)
	tracked := declared
	if record != nil && len(record.LateOutputs) > 0 {
		tracked = outputs.NewOutputSet(append(declared.Paths(), record.LateOutputs...)...)
	}

	current, err := c.snapshotter.Fingerprint(tracked)
	if err != nil {
		return false, err
	}
	for _, hash := range current {
		if hash == Missing {
			return false, nil
		}
	}

	if record == nil || record.Fingerprints == nil {
		return true, nil
	}
	return sameFingerprints(current, record.Fingerprints), nil
}

func sameFingerprints(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for path, hash := range a {
		if b[path] != hash {
			return false
		}
	}
	return true
}
