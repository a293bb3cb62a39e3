package lock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// File implements host-local locks with one lock file per key.
type File struct {
	dir string
}

// NewFile creates a file locker under dir, defaulting to the temp directory.
func NewFile(dir string) (*File, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "thumbnailer-locks")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	return &File{dir: dir}, nil
}

// Acquire takes key without waiting. It returns ErrLocked if the key is held.
func (l *File) Acquire(_ context.Context, key string) (func(context.Context) error, error) {
	fl := flock.New(l.path(key))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func(context.Context) error {
		if err := fl.Unlock(); err != nil {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		return nil
	}, nil
}

// path hashes key so arbitrary entity IDs map to safe file names.
func (l *File) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(l.dir, hex.EncodeToString(sum[:8])+".lock")
}
