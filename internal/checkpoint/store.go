// Package checkpoint takes pre-mutation snapshots of files so a session's
// changes can be inspected and undone. Snapshots are best-effort: a failed
// snapshot is logged and never blocks the tool call.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	diff "github.com/shogoki/gotextdiff"
)

// entry records the pre-session state of one path.
type entry struct {
	BlobID  string // content hash, empty when Deleted
	Deleted bool   // path did not exist at snapshot time
}

// Store is a content-addressed snapshot store. One snapshot per
// (session, path): the first mutation wins, later snapshots are no-ops.
type Store struct {
	root string

	mu      sync.Mutex
	entries map[string]entry       // key: session + "\x00" + absPath
	locks   map[string]*sync.Mutex // per (session, path) serialization
}

// NewStore creates a store rooted at dir (blobs live in dir/blobs).
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "blobs"), 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &Store{
		root:    dir,
		entries: make(map[string]entry),
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

func key(session, absPath string) string {
	return session + "\x00" + absPath
}

func (s *Store) lockFor(k string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[k]
	if !ok {
		l = &sync.Mutex{}
		s.locks[k] = l
	}
	return l
}

func (s *Store) blobPath(id string) string {
	return filepath.Join(s.root, "blobs", id)
}

// Snapshot records the current content of path under the session. If the
// path does not exist a deleted marker is stored so a later creation can be
// undone. Repeat snapshots of the same (session, path) are no-ops.
func (s *Store) Snapshot(session, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	k := key(session, absPath)

	l := s.lockFor(k)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	_, exists := s.entries[k]
	s.mu.Unlock()
	if exists {
		return nil
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			s.mu.Lock()
			s.entries[k] = entry{Deleted: true}
			s.mu.Unlock()
			return nil
		}
		return fmt.Errorf("snapshot %s: %w", absPath, err)
	}

	sum := sha256.Sum256(data)
	id := hex.EncodeToString(sum[:])
	blobFile := s.blobPath(id)
	if _, err := os.Stat(blobFile); os.IsNotExist(err) {
		if err := os.WriteFile(blobFile, data, 0o644); err != nil {
			return fmt.Errorf("write blob for %s: %w", absPath, err)
		}
	}

	s.mu.Lock()
	s.entries[k] = entry{BlobID: id}
	s.mu.Unlock()
	return nil
}

// Restore writes the snapshot for (session, path) back to disk. A deleted
// marker removes the file. Returns whether a restore occurred.
func (s *Store) Restore(session, path string) (bool, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	k := key(session, absPath)

	l := s.lockFor(k)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	e, ok := s.entries[k]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}

	if e.Deleted {
		if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
			return false, fmt.Errorf("restore (remove) %s: %w", absPath, err)
		}
		return true, nil
	}

	data, err := os.ReadFile(s.blobPath(e.BlobID))
	if err != nil {
		return false, fmt.Errorf("read blob for %s: %w", absPath, err)
	}
	if err := os.WriteFile(absPath, data, 0o644); err != nil {
		return false, fmt.Errorf("restore %s: %w", absPath, err)
	}
	return true, nil
}

// Diff returns a unified diff between the snapshot and the current on-disk
// content. Empty string when there is no snapshot or no change.
func (s *Store) Diff(session, path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	e, ok := s.entries[key(session, absPath)]
	s.mu.Unlock()
	if !ok {
		return "", nil
	}

	var original []byte
	if !e.Deleted {
		original, err = os.ReadFile(s.blobPath(e.BlobID))
		if err != nil {
			return "", fmt.Errorf("read blob for %s: %w", absPath, err)
		}
	}

	current, err := os.ReadFile(absPath)
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("read %s: %w", absPath, err)
	}

	return string(diff.Diff(absPath, original, absPath, current)), nil
}

// Paths returns the snapshotted paths for a session, for undo listings.
func (s *Store) Paths(session string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := session + "\x00"
	var paths []string
	for k := range s.entries {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			paths = append(paths, k[len(prefix):])
		}
	}
	return paths
}

// Cleanup discards all snapshots for the session and removes blobs no other
// session still references.
func (s *Store) Cleanup(session string) error {
	s.mu.Lock()
	prefix := session + "\x00"
	removed := make(map[string]bool)
	for k, e := range s.entries {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			if e.BlobID != "" {
				removed[e.BlobID] = true
			}
			delete(s.entries, k)
			delete(s.locks, k)
		}
	}
	// Keep blobs still referenced elsewhere.
	for _, e := range s.entries {
		if removed[e.BlobID] {
			delete(removed, e.BlobID)
		}
	}
	s.mu.Unlock()

	var firstErr error
	for id := range removed {
		if err := os.Remove(s.blobPath(id)); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
