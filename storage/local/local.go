// Package local stores artifacts on the filesystem and serves them from a
// configured public base URL.
package local

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/teranos/reel/errors"
)

// Store implements storage.Storage on a directory
type Store struct {
	dir           string
	publicBaseURL string
}

// New creates a filesystem backend rooted at dir
func New(dir, publicBaseURL string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("local storage needs a directory")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", dir)
	}
	if err := os.MkdirAll(abs, 0750); err != nil {
		return nil, errors.Wrapf(err, "create %s", abs)
	}
	return &Store{dir: abs, publicBaseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

// Dir is the root directory
func (s *Store) Dir() string {
	return s.dir
}

// FS serves the stored objects, e.g. behind http.FileServer
func (s *Store) FS() fs.FS {
	return os.DirFS(s.dir)
}

// resolve maps p into the root and returns the file path and the cleaned
// slash-separated object key
func (s *Store) resolve(p string) (string, string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(p))
	full := filepath.Join(s.dir, clean)
	if !strings.HasPrefix(full, s.dir+string(filepath.Separator)) {
		return "", "", errors.Newf("path %q escapes storage root", p)
	}
	return full, strings.TrimLeft(filepath.ToSlash(clean), "/"), nil
}

// Upload writes data at p. Existing files are never overwritten.
func (s *Store) Upload(ctx context.Context, p string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	full, key, err := s.resolve(p)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0750); err != nil {
		return "", errors.Wrapf(err, "create directory for %s", p)
	}

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0640)
	if err != nil {
		return "", errors.Wrapf(err, "create %s", p)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(full)
		return "", errors.Wrapf(err, "write %s", p)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(full)
		return "", errors.Wrapf(err, "close %s", p)
	}

	return s.publicBaseURL + "/" + key, nil
}

// Remove deletes the file at p. A missing file is not an error.
func (s *Store) Remove(ctx context.Context, p string) error {
	full, _, err := s.resolve(p)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove %s", p)
	}
	return nil
}
