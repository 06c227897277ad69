package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Local implements Store on top of the local filesystem. Blobs live
// under root, sharded by the first two hex characters of the reference
// to keep directory sizes bounded.
type Local struct {
	root string
}

// NewLocal creates a Local store rooted at dir.
// The directory is created (with parents) if it does not already exist.
func NewLocal(dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &Local{root: abs}, nil
}

// resolve turns a reference into an absolute filesystem path.
func (l *Local) resolve(ref string) string {
	if len(ref) < 2 {
		return filepath.Join(l.root, ref)
	}
	return filepath.Join(l.root, ref[:2], ref)
}

// Put writes data under its content-addressed reference. An existing
// blob with the same reference is left untouched.
func (l *Local) Put(_ context.Context, data []byte) (string, error) {
	ref := RefFor(data)
	full := l.resolve(ref)

	if _, err := os.Stat(full); err == nil {
		return ref, nil
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}

	// Write to a temp file in the same directory, then rename, so a
	// crash mid-write never leaves a truncated blob at the final path.
	tmp, err := os.CreateTemp(filepath.Dir(full), "."+ref+".tmp")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return ref, nil
}

// Get returns the blob for ref.
func (l *Local) Get(_ context.Context, ref string) ([]byte, error) {
	data, err := os.ReadFile(l.resolve(ref))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("blob %s: %w", ref, fs.ErrNotExist)
	}
	return data, err
}

// Delete removes the blob for ref. Missing blobs are ignored.
func (l *Local) Delete(_ context.Context, ref string) error {
	err := os.Remove(l.resolve(ref))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Exists reports whether a blob exists for ref.
func (l *Local) Exists(_ context.Context, ref string) (bool, error) {
	_, err := os.Stat(l.resolve(ref))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

var _ Store = (*Local)(nil)
