package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// File writes parts as files in one output directory. Each part is written
// to a temporary file in the same directory and renamed into place, so a
// reader never sees a half-written part.
type File struct {
	dir      string
	target   string
	permFile os.FileMode
	permDir  os.FileMode
}

// NewFile returns a sink writing into dir, creating it if needed.
func NewFile(dir string) (*File, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("file sink: output dir is required")
	}
	f := &File{dir: dir, target: FileTarget(dir), permFile: 0o644, permDir: 0o755}
	if err := os.MkdirAll(dir, f.permDir); err != nil {
		return nil, fmt.Errorf("file sink: %w", err)
	}
	return f, nil
}

// FileTarget returns the target name of a file sink writing into dir.
func FileTarget(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return "file:" + filepath.Clean(dir)
}

// Target returns "file:" followed by the absolute output directory.
func (f *File) Target() string { return f.target }

// Dir returns the output directory.
func (f *File) Dir() string { return f.dir }

// Put writes content to <dir>/<id>, replacing any previous part.
func (f *File) Put(ctx context.Context, id string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := f.path(id)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	_ = os.Chmod(tmpPath, f.permFile)

	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// path maps id to a file directly inside dir. Path separators and parent
// references are rejected.
func (f *File) path(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return filepath.Join(f.dir, id), nil
}

// Close is a no-op.
func (f *File) Close() error { return nil }
