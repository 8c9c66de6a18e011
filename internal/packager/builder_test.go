package packager

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	"github.com/narvanalabs/functions/internal/runtimes"
)

func newTestBuilder(t *testing.T, archiver Archiver, cacheDir string) (*Builder, string) {
	t.Helper()
	registry, err := runtimes.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	root := t.TempDir()
	return NewBuilder(registry, archiver, Config{WorkDir: root, DependencyCacheDir: cacheDir}, nil), root
}

// listingArchiver records which files existed when archiving ran.
type listingArchiver struct {
	mu    sync.Mutex
	files map[string]bool
}

func (a *listingArchiver) Archive(ctx context.Context, dir string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.files = make(map[string]bool)
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		a.files[filepath.ToSlash(rel)] = true
		return nil
	})
	return []byte("PK"), err
}

func TestBuildNodeArtifact(t *testing.T) {
	archiver := &listingArchiver{}
	b, _ := newTestBuilder(t, archiver, "")

	art, err := b.Build(context.Background(), "(p) => p", "func-abc", "nodejs:20")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer art.Cleanup()

	if art.Runtime != runtimes.RuntimeNode {
		t.Errorf("runtime = %q, want nodejs", art.Runtime)
	}
	if !bytes.Equal(art.Archive, []byte("PK")) {
		t.Errorf("archive bytes = %q", art.Archive)
	}
	for _, f := range []string{"index.js", "package.json"} {
		if !archiver.files[f] {
			t.Errorf("%s missing from working directory at archive time", f)
		}
	}
	if _, err := os.Stat(art.WorkDir); err != nil {
		t.Errorf("working directory should survive Build: %v", err)
	}

	if err := art.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(art.WorkDir); !os.IsNotExist(err) {
		t.Error("Cleanup did not remove the working directory")
	}
}

func TestBuildFailureRemovesWorkingDirectory(t *testing.T) {
	failing := ArchiverFunc(func(ctx context.Context, dir string) ([]byte, error) {
		return nil, errors.New("zip: not found")
	})
	b, root := newTestBuilder(t, failing, "")

	art, err := b.Build(context.Background(), "(p) => p", "func-abc", "nodejs:20")
	if err == nil {
		t.Fatal("expected archiving error")
	}
	if art != nil {
		t.Error("artifact should be nil on failure")
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("work root not empty after failure: %d entries", len(entries))
	}
}

func TestBuildEmptyArchiveFails(t *testing.T) {
	empty := ArchiverFunc(func(ctx context.Context, dir string) ([]byte, error) {
		return nil, nil
	})
	b, root := newTestBuilder(t, empty, "")

	if _, err := b.Build(context.Background(), "x", "temp-exec-1", "nodejs"); !errors.Is(err, ErrEmptyArchive) {
		t.Fatalf("err = %v, want ErrEmptyArchive", err)
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Error("work root not empty after failure")
	}
}

func TestBuildCopiesDependencyCache(t *testing.T) {
	cache := t.TempDir()
	pkgDir := filepath.Join(cache, "nodejs", "node_modules", "left-pad")
	if err := os.MkdirAll(pkgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pkgDir, "index.js"), []byte("module.exports = 1"), 0o644); err != nil {
		t.Fatal(err)
	}
	binDir := filepath.Join(cache, "nodejs", "node_modules", ".bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("../left-pad/index.js", filepath.Join(binDir, "left-pad")); err != nil {
		t.Fatal(err)
	}

	archiver := &listingArchiver{}
	b, _ := newTestBuilder(t, archiver, cache)

	art, err := b.Build(context.Background(), "(p) => p", "func-dep", "nodejs:20")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer art.Cleanup()

	if !archiver.files["node_modules/left-pad/index.js"] {
		t.Error("dependency file not copied")
	}
	if !archiver.files["node_modules/.bin/left-pad"] {
		t.Error("dependency symlink not copied")
	}

	// The cache itself is untouched.
	entries, err := os.ReadDir(filepath.Join(cache, "nodejs"))
	if err != nil || len(entries) != 1 {
		t.Errorf("cache modified: %v entries, err %v", len(entries), err)
	}
}

func TestBuildRunsSetupHook(t *testing.T) {
	archiver := &listingArchiver{}
	b, _ := newTestBuilder(t, archiver, "")

	art, err := b.Build(context.Background(), "{ args in args }", "func-swift", "swift:5.7")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer art.Cleanup()

	if !archiver.files["Sources/Action/main.swift"] {
		t.Error("swift entry point not moved under Sources/Action")
	}
	if !archiver.files["Package.swift"] {
		t.Error("Package.swift manifest missing")
	}
}

func TestBuildConcurrentSameActionUsesDistinctDirectories(t *testing.T) {
	ok := ArchiverFunc(func(ctx context.Context, dir string) ([]byte, error) {
		return []byte("PK"), nil
	})
	b, _ := newTestBuilder(t, ok, "")

	const n = 16
	dirs := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			art, err := b.Build(context.Background(), "(p) => p", "func-same", "nodejs")
			if err != nil {
				t.Errorf("Build: %v", err)
				return
			}
			dirs <- art.WorkDir
		}()
	}
	wg.Wait()
	close(dirs)

	seen := make(map[string]bool)
	for d := range dirs {
		if seen[d] {
			t.Errorf("working directory %s reused", d)
		}
		seen[d] = true
		os.RemoveAll(d)
	}
}

func TestCommandArchiverProducesZip(t *testing.T) {
	if _, err := exec.LookPath("zip"); err != nil {
		t.Skip("zip binary not available")
	}
	dir := t.TempDir()
	work := filepath.Join(dir, "action")
	if err := os.MkdirAll(work, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(work, "index.js"), []byte("exports.main = () => ({})"), 0o644); err != nil {
		t.Fatal(err)
	}

	data, err := NewCommandArchiver("").Archive(context.Background(), work)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("not a zip archive: %v", err)
	}
	found := false
	for _, f := range zr.File {
		if f.Name == "index.js" {
			found = true
		}
	}
	if !found {
		t.Error("index.js not in archive")
	}
	if _, err := os.Stat(work + ".zip"); !os.IsNotExist(err) {
		t.Error("temporary archive file left behind")
	}
}
