package objectstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	fileObjectsDir = "objects"
	fileTempDir    = ".tmp"

	// maxFileEncodingLen is the longest content encoding a one-byte header
	// can describe.
	maxFileEncodingLen = 255
)

// ErrCorruptObject is returned by FileStore.Get for an object file whose
// header does not describe its content.
var ErrCorruptObject = errors.New("corrupt object file")

// FileStore is a Store implementation that keeps objects on the local
// filesystem rooted at dataDir, one file per key under objects/<key>.
//
// Each file starts with a one-byte length followed by the content encoding,
// then the payload. Payload and encoding are replaced together by a single
// rename, so a reader never pairs one write's bytes with another's encoding.
//
// It is meant for development and single-host deployments; it offers the same
// last-writer-wins semantics as the remote stores.
type FileStore struct {
	dataDir string
}

// NewFileStore creates a new FileStore rooted at dataDir.
func NewFileStore(dataDir string) (*FileStore, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("file store: data dir must not be empty")
	}

	for _, dir := range []string{fileObjectsDir, fileTempDir} {
		if err := os.MkdirAll(filepath.Join(dataDir, dir), 0o755); err != nil {
			return nil, fmt.Errorf("file store: create %s dir: %w", dir, err)
		}
	}

	return &FileStore{dataDir: dataDir}, nil
}

// ObjectPath computes the full filesystem path for the object stored under
// key, rejecting keys that would escape the store root.
func (s *FileStore) ObjectPath(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("file store: invalid key %q", key)
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return "", fmt.Errorf("file store: invalid key %q", key)
		}
	}
	return filepath.Join(s.dataDir, fileObjectsDir, filepath.FromSlash(key)), nil
}

func (s *FileStore) Put(_ context.Context, key string, data []byte, contentEncoding string) error {
	if len(contentEncoding) > maxFileEncodingLen {
		return fmt.Errorf("file store: content encoding %q longer than %d bytes", contentEncoding, maxFileEncodingLen)
	}

	objPath, err := s.ObjectPath(key)
	if err != nil {
		return err
	}

	buf := make([]byte, 0, 1+len(contentEncoding)+len(data))
	buf = append(buf, byte(len(contentEncoding)))
	buf = append(buf, contentEncoding...)
	buf = append(buf, data...)

	if err := WriteFileAtomic(filepath.Join(s.dataDir, fileTempDir), objPath, buf); err != nil {
		return fmt.Errorf("file store: put %q: %w", key, err)
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, key string) (*Object, error) {
	objPath, err := s.ObjectPath(key)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(objPath)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("file store: get %q: %w", key, err)
	}

	if len(raw) == 0 || len(raw) < 1+int(raw[0]) {
		return nil, fmt.Errorf("file store: get %q: %w", key, ErrCorruptObject)
	}
	n := int(raw[0])

	return &Object{
		Data:            raw[1+n:],
		ContentEncoding: string(raw[1 : 1+n]),
	}, nil
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	objPath, err := s.ObjectPath(key)
	if err != nil {
		return err
	}

	if err := os.Remove(objPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("file store: delete %q: %w", key, err)
	}
	return nil
}
