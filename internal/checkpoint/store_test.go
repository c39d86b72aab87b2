package checkpoint

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSnapshotMutateRestore(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(path, []byte("original\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := s.Snapshot("sess1", path); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("mutated\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	restored, err := s.Restore("sess1", path)
	if err != nil {
		t.Fatal(err)
	}
	if !restored {
		t.Fatal("expected a restore to occur")
	}
	data, _ := os.ReadFile(path)
	if string(data) != "original\n" {
		t.Errorf("content = %q, want original", data)
	}
}

func TestFirstSnapshotWins(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(t.TempDir(), "a.txt")
	os.WriteFile(path, []byte("first\n"), 0o644)

	s.Snapshot("sess1", path)
	os.WriteFile(path, []byte("second\n"), 0o644)
	s.Snapshot("sess1", path) // no-op, original already captured
	os.WriteFile(path, []byte("third\n"), 0o644)

	s.Restore("sess1", path)
	data, _ := os.ReadFile(path)
	if string(data) != "first\n" {
		t.Errorf("content = %q, want the pre-session state", data)
	}
}

func TestDeletedMarkerUndoesCreation(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(t.TempDir(), "new.txt")

	if err := s.Snapshot("sess1", path); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(path, []byte("created\n"), 0o644)

	restored, err := s.Restore("sess1", path)
	if err != nil {
		t.Fatal(err)
	}
	if !restored {
		t.Fatal("expected a restore")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("restore of a deleted marker should remove the file")
	}
}

func TestRestoreWithoutSnapshot(t *testing.T) {
	s := newTestStore(t)
	restored, err := s.Restore("sess1", filepath.Join(t.TempDir(), "nope.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if restored {
		t.Error("no snapshot means no restore")
	}
}

func TestDiff(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(t.TempDir(), "a.txt")
	os.WriteFile(path, []byte("line one\nline two\n"), 0o644)

	s.Snapshot("sess1", path)
	os.WriteFile(path, []byte("line one\nline changed\n"), 0o644)

	out, err := s.Diff("sess1", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "-line two") || !strings.Contains(out, "+line changed") {
		t.Errorf("diff missing expected hunks:\n%s", out)
	}
}

func TestCleanup(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(t.TempDir(), "a.txt")
	os.WriteFile(path, []byte("x\n"), 0o644)

	s.Snapshot("sess1", path)
	if err := s.Cleanup("sess1"); err != nil {
		t.Fatal(err)
	}
	restored, _ := s.Restore("sess1", path)
	if restored {
		t.Error("cleanup should discard the session's snapshots")
	}
	if got := s.Paths("sess1"); len(got) != 0 {
		t.Errorf("paths after cleanup = %v", got)
	}
}
