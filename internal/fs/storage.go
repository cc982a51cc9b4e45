package fs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Storage implements videos.BlobStorage using the filesystem
type Storage struct {
	uploadDir string
}

// NewStorage creates a new filesystem blob storage
func NewStorage(uploadDir string) *Storage {
	return &Storage{
		uploadDir: uploadDir,
	}
}

// Save stores blob content under the given stored name and returns the
// number of bytes written. The write is synced before returning so the
// metadata record is only ever committed after the blob is durable.
func (s *Storage) Save(storedName string, content io.Reader) (int64, error) {
	if err := os.MkdirAll(s.uploadDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create upload directory: %w", err)
	}

	blobPath := filepath.Join(s.uploadDir, storedName)
	file, err := os.Create(blobPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create blob: %w", err)
	}
	defer file.Close()

	size, err := io.Copy(file, content)
	if err != nil {
		os.Remove(blobPath)
		return 0, fmt.Errorf("failed to write blob content: %w", err)
	}

	if err := file.Sync(); err != nil {
		os.Remove(blobPath)
		return 0, fmt.Errorf("failed to sync blob: %w", err)
	}

	return size, nil
}

// Open returns a reader for the blob content
func (s *Storage) Open(storedName string) (io.ReadCloser, error) {
	file, err := os.Open(filepath.Join(s.uploadDir, storedName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob not found")
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}

	return file, nil
}

// Exists checks if a blob exists
func (s *Storage) Exists(storedName string) bool {
	_, err := os.Stat(filepath.Join(s.uploadDir, storedName))
	return !os.IsNotExist(err)
}

// Delete removes a blob. An already missing blob is not an error.
func (s *Storage) Delete(storedName string) error {
	if err := os.Remove(filepath.Join(s.uploadDir, storedName)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete blob: %w", err)
	}

	return nil
}
