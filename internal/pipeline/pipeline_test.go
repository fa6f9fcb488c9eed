package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func rels(files []*File) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = filepath.ToSlash(f.Rel())
	}
	return out
}

func TestSource_Read(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"a.js":           "a",
		"vendor/b.css":   "b",
		"vendor/c.js":    "c",
		"notes.txt":      "n",
		"deep/x/y/z.css": "z",
	})

	files, err := Source{Dir: dir, Patterns: []string{"**/*.{js,css}"}}.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	got := strings.Join(rels(files), ",")
	if got != "a.js,deep/x/y/z.css,vendor/b.css,vendor/c.js" {
		t.Errorf("files = %s", got)
	}
	if string(files[0].Contents) != "a" {
		t.Errorf("Contents = %q", files[0].Contents)
	}
}

func TestSource_Ignore(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"main.tmpl":        "",
		"_header.tmpl":     "",
		"sub/_footer.tmpl": "",
		"sub/contact.tmpl": "",
	})
	src := Source{Dir: dir, Patterns: []string{"**/*.tmpl"}, Ignore: []string{"**/_*.tmpl"}}
	files, err := src.Read(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(rels(files), ","); got != "main.tmpl,sub/contact.tmpl" {
		t.Errorf("files = %s", got)
	}
}

func TestSource_TopLevelOnly(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"a.mp4": "", "nested/b.mp4": ""})
	files, err := Source{Dir: dir, Patterns: []string{"*"}}.Read(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(rels(files), ","); got != "a.mp4" {
		t.Errorf("files = %s", got)
	}
}

func TestSource_Since(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"old.html": "", "new.html": ""})
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(dir, "old.html"), old, old); err != nil {
		t.Fatal(err)
	}

	files, err := Source{Dir: dir, Patterns: []string{"**/*.html"}, Since: time.Now().Add(-time.Minute)}.Read(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(rels(files), ","); got != "new.html" {
		t.Errorf("files = %s", got)
	}
}

func TestSource_MissingDir(t *testing.T) {
	files, err := Source{Dir: filepath.Join(t.TempDir(), "nope"), Patterns: []string{"*"}}.Read(context.Background())
	if err != nil || len(files) != 0 {
		t.Errorf("Read() = %v, %v", files, err)
	}
}

func TestSource_BadPattern(t *testing.T) {
	_, err := Source{Dir: t.TempDir(), Patterns: []string{"[a-"}}.Read(context.Background())
	if err == nil {
		t.Error("expected error for invalid glob")
	}
}

func TestFile_SetExt(t *testing.T) {
	f := &File{Base: "/src", Path: "/src/pages/main.tmpl"}
	f.SetExt(".html")
	if f.Rel() != filepath.FromSlash("pages/main.html") {
		t.Errorf("Rel() = %q", f.Rel())
	}
	if f.Ext() != ".html" {
		t.Errorf("Ext() = %q", f.Ext())
	}
}

func upper() Transformer {
	return TransformFunc(func(_ context.Context, f *File) error {
		f.Contents = bytes.ToUpper(f.Contents)
		return nil
	})
}

func TestRun(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeTree(t, src, map[string]string{"a/b.txt": "hello"})

	written, err := Run(context.Background(), Source{Dir: src, Patterns: []string{"**/*.txt"}}, dst, upper())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(written) != 1 {
		t.Fatalf("written = %v", written)
	}
	data, err := os.ReadFile(filepath.Join(dst, "a", "b.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "HELLO" {
		t.Errorf("contents = %q", data)
	}
}

func TestRun_StepErrorWritesNothing(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "a", "b.txt": "b"})
	boom := errors.New("boom")
	fail := TransformFunc(func(_ context.Context, f *File) error {
		if filepath.Base(f.Path) == "b.txt" {
			return boom
		}
		return nil
	})

	_, err := Run(context.Background(), Source{Dir: src, Patterns: []string{"*.txt"}}, dst, fail)
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want boom", err)
	}
	var se *StepError
	if !errors.As(err, &se) || filepath.Base(se.Path) != "b.txt" {
		t.Errorf("StepError = %v", err)
	}
	entries, _ := os.ReadDir(dst)
	if len(entries) != 0 {
		t.Errorf("destination has %d entries, want 0", len(entries))
	}
}

func TestRun_Idempotent(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeTree(t, src, map[string]string{"x.txt": "x"})
	s := Source{Dir: src, Patterns: []string{"*.txt"}}
	for i := 0; i < 2; i++ {
		if _, err := Run(context.Background(), s, dst, upper()); err != nil {
			t.Fatal(err)
		}
	}
	data, _ := os.ReadFile(filepath.Join(dst, "x.txt"))
	if string(data) != "X" {
		t.Errorf("contents = %q", data)
	}
}
