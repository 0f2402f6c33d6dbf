package snapshots

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestProjectRepoLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureProjectRepo("proj-1", "Sam"); err != nil {
		t.Fatalf("EnsureProjectRepo() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "proj-1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	// Idempotent on an existing repo.
	if err := svc.EnsureProjectRepo("proj-1", "Sam"); err != nil {
		t.Fatalf("EnsureProjectRepo() second call error = %v", err)
	}

	commit, err := svc.SaveSnapshot("proj-1", "game.py", "print('hello')\n", "Sam", "Save game.py")
	if err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}
	if commit.Hash == "" {
		t.Fatal("expected commit hash")
	}

	code, err := svc.ReadSnapshot("proj-1", "game.py", commit.Hash)
	if err != nil {
		t.Fatalf("ReadSnapshot() error = %v", err)
	}
	if code != "print('hello')\n" {
		t.Fatalf("unexpected snapshot content: %q", code)
	}
}

func TestReadSnapshotAtOlderCommit(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureProjectRepo("proj-1", "Sam"); err != nil {
		t.Fatalf("EnsureProjectRepo() error = %v", err)
	}

	first, err := svc.SaveSnapshot("proj-1", "game.py", "v1\n", "Sam", "First save")
	if err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}
	if _, err := svc.SaveSnapshot("proj-1", "game.py", "v2\n", "Sam", "Second save"); err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}

	old, err := svc.ReadSnapshot("proj-1", "game.py", first.Hash)
	if err != nil {
		t.Fatalf("ReadSnapshot() at old commit error = %v", err)
	}
	if old != "v1\n" {
		t.Fatalf("old snapshot = %q, want v1", old)
	}

	head, err := svc.ReadSnapshot("proj-1", "game.py", "")
	if err != nil {
		t.Fatalf("ReadSnapshot() at head error = %v", err)
	}
	if head != "v2\n" {
		t.Fatalf("head snapshot = %q, want v2", head)
	}
}

func TestFileHistoryFiltersByFile(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureProjectRepo("proj-1", "Sam"); err != nil {
		t.Fatalf("EnsureProjectRepo() error = %v", err)
	}

	if _, err := svc.SaveSnapshot("proj-1", "game.py", "v1\n", "Sam", "Save game"); err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}
	if _, err := svc.SaveSnapshot("proj-1", "helper.py", "h1\n", "Sam", "Save helper"); err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}
	if _, err := svc.SaveSnapshot("proj-1", "game.py", "v2\n", "Sam", "Save game again"); err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}

	history, err := svc.FileHistory("proj-1", "game.py", 10)
	if err != nil {
		t.Fatalf("FileHistory() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history entries = %d, want 2", len(history))
	}
	if !strings.Contains(history[0].Message, "again") {
		t.Fatalf("expected newest commit first, got %q", history[0].Message)
	}
}

func TestSaveSnapshotRejectsPathEscapes(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureProjectRepo("proj-1", "Sam"); err != nil {
		t.Fatalf("EnsureProjectRepo() error = %v", err)
	}

	for _, name := range []string{"", "../escape.py", "sub/dir.py", "README.md"} {
		if _, err := svc.SaveSnapshot("proj-1", name, "x", "Sam", "bad"); err == nil {
			t.Errorf("expected error for filename %q", name)
		}
	}
}

func TestConcurrentSavesSameProject(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureProjectRepo("proj-1", "Sam"); err != nil {
		t.Fatalf("EnsureProjectRepo() error = %v", err)
	}

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			code := fmt.Sprintf("print(%d)\n", idx)
			if _, err := svc.SaveSnapshot("proj-1", "game.py", code, "Sam", fmt.Sprintf("Save %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("SaveSnapshot() concurrent error = %v", err)
		}
	}

	history, err := svc.FileHistory("proj-1", "game.py", 100)
	if err != nil {
		t.Fatalf("FileHistory() error = %v", err)
	}
	if len(history) == 0 {
		t.Fatal("expected history entries")
	}

	head, err := svc.ReadSnapshot("proj-1", "game.py", "")
	if err != nil {
		t.Fatalf("ReadSnapshot() error = %v", err)
	}
	if !strings.HasPrefix(head, "print(") {
		t.Fatalf("unexpected head content: %q", head)
	}
}
