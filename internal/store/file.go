package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"shroud/internal/proxy"
)

// File keeps the document as pretty printed JSON on disk. Writes go to a
// temporary file that is renamed over the target.
type File struct {
	path string
	box  *SecretBox
	mu   sync.Mutex
}

func NewFile(path string, box *SecretBox) *File {
	return &File{path: path, box: box}
}

func (f *File) Load(ctx context.Context) (proxy.Document, error) {
	if err := ctx.Err(); err != nil {
		return proxy.Document{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return proxy.Document{}, nil
	}
	if err != nil {
		return proxy.Document{}, fmt.Errorf("store: read %s: %w", f.path, err)
	}
	return decode(f.box, data)
}

func (f *File) Save(ctx context.Context, doc proxy.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(f.box, doc)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".proxy-profiles-*")
	if err != nil {
		return fmt.Errorf("store: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: write: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: replace %s: %w", f.path, err)
	}
	return nil
}
