package nativehost

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/caffeineduck/opcore/dispatch"
)

func TestFSReadOnly(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "test.txt"), []byte("hello world"), 0o644)

	fs := NewFS([]Mount{{VirtualPath: "/data", HostPath: dir, Mode: MountReadOnly}})
	ctx := context.Background()

	content, err := fs.Read(ctx, map[string]any{"path": "/data/test.txt"})
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if content != "hello world" {
		t.Errorf("expected 'hello world', got %q", content)
	}

	_, err = fs.Write(ctx, map[string]any{"path": "/data/test.txt", "content": "modified"})
	if dispatch.KindOf(err) != dispatch.PermissionDenied {
		t.Errorf("write on read-only mount err = %v", err)
	}
	if _, err := fs.Remove(ctx, map[string]any{"path": "/data/test.txt"}); dispatch.KindOf(err) != dispatch.PermissionDenied {
		t.Errorf("remove on read-only mount err = %v", err)
	}
}

func TestFSReadWrite(t *testing.T) {
	dir := t.TempDir()
	testFile := filepath.Join(dir, "test.txt")
	os.WriteFile(testFile, []byte("original"), 0o644)

	fs := NewFS([]Mount{{VirtualPath: "/output", HostPath: dir, Mode: MountReadWrite}})
	ctx := context.Background()

	if _, err := fs.Write(ctx, map[string]any{"path": "/output/test.txt", "content": "modified"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	content, _ := os.ReadFile(testFile)
	if string(content) != "modified" {
		t.Errorf("expected 'modified', got %q", content)
	}

	_, err := fs.Write(ctx, map[string]any{"path": "/output/new.txt", "content": "new"})
	if dispatch.KindOf(err) != dispatch.PermissionDenied {
		t.Errorf("create on rw mount err = %v", err)
	}
	if _, err := fs.Mkdir(ctx, map[string]any{"path": "/output/sub"}); err == nil {
		t.Error("mkdir on rw mount should fail")
	}
}

func TestFSReadWriteCreate(t *testing.T) {
	dir := t.TempDir()
	fs := NewFS([]Mount{{VirtualPath: "/workspace", HostPath: dir, Mode: MountReadWriteCreate}})
	ctx := context.Background()

	if _, err := fs.Write(ctx, map[string]any{"path": "/workspace/new.txt", "content": "created"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	content, _ := os.ReadFile(filepath.Join(dir, "new.txt"))
	if string(content) != "created" {
		t.Errorf("expected 'created', got %q", content)
	}

	if _, err := fs.Mkdir(ctx, map[string]any{"path": "/workspace/subdir"}); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	info, err := os.Stat(filepath.Join(dir, "subdir"))
	if err != nil || !info.IsDir() {
		t.Error("expected directory to be created")
	}

	stat, err := fs.Stat(ctx, map[string]any{"path": "/workspace/new.txt"})
	if err != nil {
		t.Fatal(err)
	}
	if fi := stat.(FileInfo); fi.Size != 7 || fi.IsDir {
		t.Errorf("stat = %+v", fi)
	}

	list, err := fs.List(ctx, map[string]any{"path": "/workspace"})
	if err != nil {
		t.Fatal(err)
	}
	if entries := list.([]DirEntry); len(entries) != 2 {
		t.Errorf("entries = %+v", entries)
	}

	if _, err := fs.Remove(ctx, map[string]any{"path": "/workspace/new.txt"}); err != nil {
		t.Errorf("remove: %v", err)
	}
	exists, _ := fs.Exists(ctx, map[string]any{"path": "/workspace/new.txt"})
	if exists != false {
		t.Error("file should be gone")
	}
}

func TestFSPathEscape(t *testing.T) {
	dir := t.TempDir()
	fs := NewFS([]Mount{{VirtualPath: "/data", HostPath: dir, Mode: MountReadWriteCreate}})
	ctx := context.Background()

	for _, p := range []string{"/data/../etc/passwd", "/etc/passwd", "/datax/file"} {
		if _, err := fs.Read(ctx, map[string]any{"path": p}); dispatch.KindOf(err) != dispatch.PermissionDenied {
			t.Errorf("Read(%q) err = %v", p, err)
		}
		exists, err := fs.Exists(ctx, map[string]any{"path": p})
		if err != nil || exists != false {
			t.Errorf("Exists(%q) = %v, %v", p, exists, err)
		}
	}
}

func TestFSNotFound(t *testing.T) {
	fs := NewFS([]Mount{{VirtualPath: "/data", HostPath: t.TempDir()}})
	_, err := fs.Read(context.Background(), map[string]any{"path": "/data/missing"})
	if dispatch.KindOf(err) != dispatch.NotFound {
		t.Errorf("err = %v, want NotFound", err)
	}
}

func TestFSMaxFileSize(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "big"), make([]byte, 100), 0o644)
	fs := NewFS([]Mount{{VirtualPath: "/d", HostPath: dir, Mode: MountReadWriteCreate}}, WithMaxFileSize(10))
	ctx := context.Background()

	if _, err := fs.Read(ctx, map[string]any{"path": "/d/big"}); err == nil {
		t.Error("oversized read should fail")
	}
	if _, err := fs.Write(ctx, map[string]any{"path": "/d/x", "content": "01234567890"}); err == nil {
		t.Error("oversized write should fail")
	}
}

func TestFSOpen(t *testing.T) {
	dir := t.TempDir()
	fs := NewFS([]Mount{{VirtualPath: "/d", HostPath: dir, Mode: MountReadWriteCreate}})

	f, err := fs.Open("/d/out.txt", true, true)
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(f, "data")
	f.Close()

	f, err = fs.Open("/d/out.txt", false, false)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	b, _ := io.ReadAll(f)
	if string(b) != "data" {
		t.Errorf("read %q", b)
	}
}

func TestParseMount(t *testing.T) {
	tests := []struct {
		in      string
		want    Mount
		wantErr bool
	}{
		{"/data:./in", Mount{VirtualPath: "/data", HostPath: "./in", Mode: MountReadOnly}, false},
		{"/out:./out:rw", Mount{VirtualPath: "/out", HostPath: "./out", Mode: MountReadWrite}, false},
		{"/w:./w:rwc", Mount{VirtualPath: "/w", HostPath: "./w", Mode: MountReadWriteCreate}, false},
		{"/w:./w:bad", Mount{}, true},
		{"nohost", Mount{}, true},
		{":x", Mount{}, true},
	}
	for _, tt := range tests {
		got, err := ParseMount(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMount(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMount(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}
