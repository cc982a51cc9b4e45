// Package jsonfile implements videos.MetadataStore on a single JSON
// file. The whole record collection is one array, rewritten atomically
// under an exclusive advisory lock on every mutation, so concurrent
// processes never observe a partially written record.
package jsonfile

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/pavel-fokin/video-stash/internal/videos"
)

// Store implements videos.MetadataStore using a flock-guarded JSON file
type Store struct {
	path string
}

// NewStore creates a flat-file metadata store at the given path.
// The file itself is created lazily on first mutation.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Get retrieves a record by ID. Reads take a plain snapshot without
// locking; staleness across a concurrent sweep is acceptable because
// no record is ever partially written.
func (s *Store) Get(id string) (*videos.Video, error) {
	all, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	for _, v := range all {
		if v.ID == id {
			return v, nil
		}
	}
	return nil, videos.ErrNotFound
}

// List retrieves all records in insertion order.
func (s *Store) List() ([]*videos.Video, error) {
	return s.snapshot()
}

// Append adds a record to the end of the collection.
func (s *Store) Append(video *videos.Video) error {
	return s.mutate(func(all []*videos.Video) ([]*videos.Video, error) {
		return append(all, video), nil
	})
}

// IncrementDownloads bumps the download counter by one.
func (s *Store) IncrementDownloads(id string) error {
	return s.mutate(func(all []*videos.Video) ([]*videos.Video, error) {
		for _, v := range all {
			if v.ID == id {
				v.Downloads++
				return all, nil
			}
		}
		return nil, videos.ErrNotFound
	})
}

// RemoveWhere deletes matching records and returns them.
func (s *Store) RemoveWhere(match func(*videos.Video) bool) ([]*videos.Video, error) {
	var removed []*videos.Video
	err := s.mutate(func(all []*videos.Video) ([]*videos.Video, error) {
		kept := all[:0]
		for _, v := range all {
			if match(v) {
				removed = append(removed, v)
			} else {
				kept = append(kept, v)
			}
		}
		return kept, nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// mutate runs one locked read-modify-rewrite cycle: open (creating if
// absent), block on an exclusive flock, parse the full contents, apply
// the change, truncate, rewrite the whole collection, fsync, unlock.
// A stuck lock blocks forever; that is an operational condition to fix,
// not one to time out on.
func (s *Store) mutate(apply func([]*videos.Video) ([]*videos.Video, error)) error {
	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open metadata file: %w", err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("failed to lock metadata file: %w", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	contents, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read metadata file: %w", err)
	}

	all := s.parse(contents)
	mutated, err := apply(all)
	if err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(mutated, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate metadata file: %w", err)
	}
	if _, err := f.WriteAt(encoded, 0); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync metadata file: %w", err)
	}

	return nil
}

// snapshot reads and parses the current collection without locking.
func (s *Store) snapshot() ([]*videos.Video, error) {
	contents, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read metadata file: %w", err)
	}
	return s.parse(contents), nil
}

// parse decodes the collection. Empty content is the first-run
// bootstrap case. Unparsable content is treated as an empty collection
// as well, which silently discards whatever was there; that is an
// accepted risk, so it is at least logged loudly.
func (s *Store) parse(contents []byte) []*videos.Video {
	if strings.TrimSpace(string(contents)) == "" {
		return nil
	}
	var all []*videos.Video
	if err := json.Unmarshal(contents, &all); err != nil {
		slog.Error("Metadata file is unparsable, treating as empty",
			"error", err, "path", s.path, "size", len(contents))
		return nil
	}
	return all
}
