// Package transfer provides node stores: places where the host drops the
// serialised selection for a peer to pick up, and where received nodes are
// left for the host to paste.
package transfer

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// FileStore keeps the node blob in a single file.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path. The parent directory is
// created on the first Apply if it does not exist.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the transfer file.
func (s *FileStore) Path() string {
	return s.path
}

// Snapshot returns the current content of the transfer file.
// A missing file is an empty selection.
func (s *FileStore) Snapshot(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", errors.Wrapf(err, "read transfer file %s", s.path)
	}
	return string(data), nil
}

// Apply replaces the transfer file with text. The write goes through a
// temporary file so readers never see a partial blob.
func (s *FileStore) Apply(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "create transfer directory")
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*")
	if err != nil {
		return errors.Wrap(err, "create temporary transfer file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write transfer file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close transfer file")
	}
	return errors.Wrap(os.Rename(tmp.Name(), s.path), "replace transfer file")
}
