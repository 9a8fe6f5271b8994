package nativehost

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/caffeineduck/opcore/dispatch"
)

// MountMode defines the permission level for a mount point.
type MountMode int

const (
	// MountReadOnly allows only read operations.
	MountReadOnly MountMode = iota
	// MountReadWrite allows read and write operations to existing files/dirs.
	MountReadWrite
	// MountReadWriteCreate allows read, write, and create operations.
	MountReadWriteCreate
)

// ParseMountMode parses "ro", "rw" or "rwc".
func ParseMountMode(s string) (MountMode, error) {
	switch s {
	case "ro", "":
		return MountReadOnly, nil
	case "rw":
		return MountReadWrite, nil
	case "rwc":
		return MountReadWriteCreate, nil
	}
	return 0, fmt.Errorf("invalid mount mode %q (want ro, rw or rwc)", s)
}

func (m MountMode) String() string {
	switch m {
	case MountReadWrite:
		return "rw"
	case MountReadWriteCreate:
		return "rwc"
	default:
		return "ro"
	}
}

// Mount maps a virtual path to a host path.
type Mount struct {
	VirtualPath string    // path seen by scripts, e.g. "/data"
	HostPath    string    // actual location on the host
	Mode        MountMode
}

// ParseMount parses "virtual:host[:mode]".
func ParseMount(spec string) (Mount, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return Mount{}, fmt.Errorf("invalid mount %q (want virtual:host[:mode])", spec)
	}
	m := Mount{VirtualPath: parts[0], HostPath: parts[1]}
	if len(parts) == 3 {
		mode, err := ParseMountMode(parts[2])
		if err != nil {
			return Mount{}, err
		}
		m.Mode = mode
	}
	return m, nil
}

const DefaultMaxFileSize = 10 << 20 // 10MB

// FSOption configures an FS.
type FSOption func(*FS)

// WithMaxFileSize limits the size of files read or written by op_fs_read
// and op_fs_write.
func WithMaxFileSize(size int64) FSOption {
	return func(f *FS) {
		f.maxFileSize = size
	}
}

// FS serves the op_fs_* ops and op_open from a set of mounts.
type FS struct {
	mounts      []Mount
	maxFileSize int64
}

// NewFS creates an FS. Mounts whose host path cannot be made absolute are
// skipped.
func NewFS(mounts []Mount, opts ...FSOption) *FS {
	normalized := make([]Mount, 0, len(mounts))
	for _, m := range mounts {
		hp, err := filepath.Abs(m.HostPath)
		if err != nil {
			continue
		}
		normalized = append(normalized, Mount{
			VirtualPath: "/" + strings.Trim(m.VirtualPath, "/"),
			HostPath:    hp,
			Mode:        m.Mode,
		})
	}
	f := &FS{mounts: normalized, maxFileSize: DefaultMaxFileSize}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type access uint8

const (
	accessRead access = iota
	accessWrite
	accessCreate
)

// resolve maps a virtual path to a host path the mount permits.
func (f *FS) resolve(virtualPath string, need access) (string, error) {
	vp := filepath.Clean("/" + strings.TrimPrefix(virtualPath, "/"))

	for _, m := range f.mounts {
		if vp != m.VirtualPath && !strings.HasPrefix(vp, m.VirtualPath+"/") {
			continue
		}
		switch {
		case need >= accessWrite && m.Mode == MountReadOnly:
			return "", denied("read-only mount: %s", virtualPath)
		case need == accessCreate && m.Mode != MountReadWriteCreate:
			return "", denied("mount does not allow creation: %s", virtualPath)
		}

		rel := strings.TrimPrefix(vp, m.VirtualPath)
		hostPath := filepath.Join(m.HostPath, rel)
		if hostPath != m.HostPath && !strings.HasPrefix(hostPath, m.HostPath+string(filepath.Separator)) {
			return "", denied("path escapes mount: %s", virtualPath)
		}
		return hostPath, nil
	}
	return "", denied("path not in any mount: %s", virtualPath)
}

func pathArg(args map[string]any) (string, error) {
	return stringArg(args, "path")
}

// Read returns the contents of a file.
func (f *FS) Read(ctx context.Context, args map[string]any) (any, error) {
	path, err := pathArg(args)
	if err != nil {
		return nil, err
	}
	hostPath, err := f.resolve(path, accessRead)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(hostPath)
	if err != nil {
		return nil, classify(err)
	}
	if info.Size() > f.maxFileSize {
		return nil, invalidArg("file exceeds max size")
	}
	data, err := os.ReadFile(hostPath)
	if err != nil {
		return nil, classify(err)
	}
	return string(data), nil
}

// Write replaces a file's contents. New files need a create mount.
func (f *FS) Write(ctx context.Context, args map[string]any) (any, error) {
	path, err := pathArg(args)
	if err != nil {
		return nil, err
	}
	content, err := stringArg(args, "content")
	if err != nil {
		return nil, err
	}
	if int64(len(content)) > f.maxFileSize {
		return nil, invalidArg("content exceeds max size")
	}

	need := accessWrite
	if hp, err := f.resolve(path, accessRead); err == nil {
		if _, statErr := os.Stat(hp); errors.Is(statErr, os.ErrNotExist) {
			need = accessCreate
		}
	}
	hostPath, err := f.resolve(path, need)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(hostPath, []byte(content), 0o644); err != nil {
		return nil, classify(err)
	}
	return "ok", nil
}

// DirEntry is one op_fs_list result.
type DirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// List returns a directory's entries.
func (f *FS) List(ctx context.Context, args map[string]any) (any, error) {
	path, err := pathArg(args)
	if err != nil {
		return nil, err
	}
	hostPath, err := f.resolve(path, accessRead)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(hostPath)
	if err != nil {
		return nil, classify(err)
	}

	result := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		item := DirEntry{Name: e.Name(), IsDir: e.IsDir()}
		if info, err := e.Info(); err == nil {
			item.Size = info.Size()
		}
		result = append(result, item)
	}
	return result, nil
}

// Exists reports whether a path exists. Paths outside every mount do not.
func (f *FS) Exists(ctx context.Context, args map[string]any) (any, error) {
	path, err := pathArg(args)
	if err != nil {
		return nil, err
	}
	hostPath, err := f.resolve(path, accessRead)
	if err != nil {
		return false, nil
	}
	_, err = os.Stat(hostPath)
	return err == nil, nil
}

// Mkdir creates a directory and its parents.
func (f *FS) Mkdir(ctx context.Context, args map[string]any) (any, error) {
	path, err := pathArg(args)
	if err != nil {
		return nil, err
	}
	hostPath, err := f.resolve(path, accessCreate)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(hostPath, 0o755); err != nil {
		return nil, classify(err)
	}
	return "ok", nil
}

// Remove deletes a file or empty directory.
func (f *FS) Remove(ctx context.Context, args map[string]any) (any, error) {
	path, err := pathArg(args)
	if err != nil {
		return nil, err
	}
	hostPath, err := f.resolve(path, accessWrite)
	if err != nil {
		return nil, err
	}
	if err := os.Remove(hostPath); err != nil {
		if errors.Is(err, syscall.ENOTEMPTY) || errors.Is(err, syscall.EEXIST) {
			return nil, dispatch.NewOpError(dispatch.InvalidInput, "directory not empty: %s", path)
		}
		return nil, classify(err)
	}
	return "ok", nil
}

// FileInfo is the op_fs_stat result.
type FileInfo struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	IsDir   bool   `json:"is_dir"`
	ModTime int64  `json:"mod_time"`
}

// Stat describes a file or directory.
func (f *FS) Stat(ctx context.Context, args map[string]any) (any, error) {
	path, err := pathArg(args)
	if err != nil {
		return nil, err
	}
	hostPath, err := f.resolve(path, accessRead)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(hostPath)
	if err != nil {
		return nil, classify(err)
	}
	return FileInfo{
		Name:    info.Name(),
		Size:    info.Size(),
		IsDir:   info.IsDir(),
		ModTime: info.ModTime().Unix(),
	}, nil
}

// Open opens a file for op_open. write and create select the access the
// mount must grant.
func (f *FS) Open(path string, write, create bool) (*os.File, error) {
	need, flag := accessRead, os.O_RDONLY
	switch {
	case create:
		need, flag = accessCreate, os.O_RDWR|os.O_CREATE
	case write:
		need, flag = accessWrite, os.O_RDWR
	}
	hostPath, err := f.resolve(path, need)
	if err != nil {
		return nil, err
	}
	file, err := os.OpenFile(hostPath, flag, 0o644)
	if err != nil {
		return nil, classify(err)
	}
	return file, nil
}
