package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// FilesystemBackend writes archives into a directory.
type FilesystemBackend struct {
	fs  afero.Fs
	dir string
}

// NewFilesystemBackend creates a backend rooted at dir on fs.
func NewFilesystemBackend(fs afero.Fs, dir string) *FilesystemBackend {
	return &FilesystemBackend{fs: fs, dir: dir}
}

// EnsureDestination creates the directory and any missing parents.
func (b *FilesystemBackend) EnsureDestination(_ context.Context) error {
	if err := b.fs.MkdirAll(b.dir, dirPerm); err != nil {
		return fmt.Errorf("create %s: %w", b.dir, err)
	}
	return nil
}

// Put writes data to a temporary file and renames it into place, so a
// reader never sees a partial archive under its final name.
func (b *FilesystemBackend) Put(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	final := filepath.Join(b.dir, name)
	if _, err := b.fs.Stat(final); err == nil {
		return fmt.Errorf("%s: %w", final, os.ErrExist)
	}

	tmp, err := afero.TempFile(b.fs, b.dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = b.fs.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err = tmp.Close(); err != nil {
		_ = b.fs.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err = b.fs.Chmod(tmpName, filePerm); err != nil {
		_ = b.fs.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err = b.fs.Rename(tmpName, final); err != nil {
		_ = b.fs.Remove(tmpName)
		return fmt.Errorf("rename into %s: %w", final, err)
	}
	return nil
}

// Describe returns the target directory.
func (b *FilesystemBackend) Describe() string {
	return "file://" + b.dir
}
