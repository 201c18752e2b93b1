package staging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestStageWritesPrivateFileWithSuffix(t *testing.T) {
	dir := t.TempDir()
	path, err := Stage(strings.NewReader("png-bytes"), dir, ".png")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("expected file in %s, got %s", dir, path)
	}
	if !strings.HasSuffix(path, ".png") {
		t.Fatalf("expected .png suffix, got %s", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600 permissions, got %o", perm)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "png-bytes" {
		t.Fatalf("unexpected contents: %q", data)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("read failed") }

func TestStageRemovesPartialFileOnError(t *testing.T) {
	dir := t.TempDir()
	if _, err := Stage(failingReader{}, dir, ""); err == nil {
		t.Fatal("expected error, got nil")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected no leftover files, found %d", len(entries))
	}
}

func TestConcurrentStagesDoNotCollide(t *testing.T) {
	dir := t.TempDir()
	const n = 16

	var wg sync.WaitGroup
	paths := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := Stage(bytes.NewReader([]byte{byte(i)}), dir, ".png")
			if err != nil {
				t.Errorf("stage %d failed: %v", i, err)
				return
			}
			paths[i] = p
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i, p := range paths {
		if seen[p] {
			t.Fatalf("duplicate path %s", p)
		}
		seen[p] = true
		data, _ := os.ReadFile(p)
		if len(data) != 1 || data[0] != byte(i) {
			t.Fatalf("file %s holds foreign contents %v", p, data)
		}
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	path, err := Stage(strings.NewReader("x"), t.TempDir(), "")
	if err != nil {
		t.Fatalf("stage failed: %v", err)
	}
	removed, err := Remove(path)
	if err != nil || !removed {
		t.Fatalf("expected first remove to delete file, got %v %v", removed, err)
	}
	removed, err = Remove(path)
	if err != nil || removed {
		t.Fatalf("expected second remove to be a no-op, got %v %v", removed, err)
	}
	if removed, err := Remove(""); err != nil || removed {
		t.Fatal("expected empty path to be ignored")
	}
}

func TestSuffixOf(t *testing.T) {
	cases := map[string]string{
		"face.JPG":          ".jpg",
		"archive.tar.gz":    ".gz",
		"noext":             "",
		"weird.p*g":         "",
		"../../etc/x.png":   ".png",
		"toolong.abcdefghi": "",
	}
	for in, want := range cases {
		if got := SuffixOf(in); got != want {
			t.Errorf("SuffixOf(%q) = %q, want %q", in, got, want)
		}
	}
}
