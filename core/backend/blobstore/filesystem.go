package blobstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/relabs-tech/qvarn/core/logger"
)

// LocalConfiguration contains the configuration for the local filesystem
// blob store
type LocalConfiguration struct {
	BasePath string
}

// LocalFilesystem stores blobs below a base directory, one file per key.
type LocalFilesystem struct {
	basePath string
}

// NewLocalFilesystem returns a new LocalFilesystem rooted at the configured
// base path. The directory is created if it does not exist.
func NewLocalFilesystem(config LocalConfiguration) (*LocalFilesystem, error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("BasePath must not be empty")
	}
	if err := os.MkdirAll(config.BasePath, 0700); err != nil {
		return nil, err
	}
	logger.Default().Debugln("blob store: local filesystem at", config.BasePath)
	return &LocalFilesystem{basePath: config.BasePath}, nil
}

func (f *LocalFilesystem) path(key string) (string, error) {
	if strings.Contains(key, "..") {
		return "", fmt.Errorf("'..' is not allowed in a key")
	}
	return filepath.Join(f.basePath, filepath.FromSlash(key)), nil
}

// Put writes the blob for a key, replacing any previous content. The
// content type is not persisted, it lives in the database.
func (f *LocalFilesystem) Put(key, contentType string, blob []byte) error {
	path, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0600)
}

// Get reads the blob for a key.
func (f *LocalFilesystem) Get(key string) ([]byte, error) {
	path, err := f.path(key)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// DeleteAllWithPrefix deletes all blobs whose key starts with the prefix.
func (f *LocalFilesystem) DeleteAllWithPrefix(prefix string) error {
	path, err := f.path(strings.TrimSuffix(prefix, "/"))
	if err != nil {
		return err
	}
	return os.RemoveAll(path)
}
