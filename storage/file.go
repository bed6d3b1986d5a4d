package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// File keeps one JSON document per key inside a directory. Writes are
// atomic: data lands in a temp file that is renamed over the target.
type File struct {
	fs  afero.Fs
	dir string
}

// NewFile returns a file store rooted at dir on fs.
func NewFile(fs afero.Fs, dir string) *File {
	return &File{fs: fs, dir: dir}
}

func (f *File) path(key string) string {
	return filepath.Join(f.dir, url.PathEscape(key)+".json")
}

func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	data, err := afero.ReadFile(f.fs, f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	return string(data), true, nil
}

func (f *File) Set(_ context.Context, key, value string) error {
	if err := f.fs.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}

	target := f.path(key)
	if existing, err := afero.ReadFile(f.fs, target); err == nil {
		if bytes.Equal(existing, []byte(value)) {
			return nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read %s: %w", key, err)
	}

	tmp, err := afero.TempFile(f.fs, f.dir, filepath.Base(target)+".tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	_, err = tmp.WriteString(value)
	if err1 := tmp.Close(); err1 != nil && err == nil {
		err = err1
	}
	if err != nil {
		_ = f.fs.Remove(name)
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := f.fs.Rename(name, target); err != nil {
		_ = f.fs.Remove(name)
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}
