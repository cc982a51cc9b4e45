package videos

import (
	"errors"
	"log/slog"
)

// FallbackStore degrades from a primary metadata store to a secondary
// one per operation. When the primary fails the operation is logged and
// re-run against the secondary, so a flaky database never loses a write
// as long as the flat file is healthy.
type FallbackStore struct {
	primary   MetadataStore
	secondary MetadataStore
}

// NewFallbackStore creates a store that prefers primary and falls back
// to secondary on any primary failure.
func NewFallbackStore(primary, secondary MetadataStore) *FallbackStore {
	return &FallbackStore{primary: primary, secondary: secondary}
}

func (f *FallbackStore) Get(id string) (*Video, error) {
	video, err := f.primary.Get(id)
	if err == nil || errors.Is(err, ErrNotFound) {
		return video, err
	}
	slog.Error("Primary store get failed, using fallback", "error", err, "video_id", id)
	return f.secondary.Get(id)
}

func (f *FallbackStore) Append(video *Video) error {
	if err := f.primary.Append(video); err != nil {
		slog.Error("Primary store append failed, using fallback", "error", err, "video_id", video.ID)
		return f.secondary.Append(video)
	}
	return nil
}

func (f *FallbackStore) IncrementDownloads(id string) error {
	err := f.primary.IncrementDownloads(id)
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	slog.Error("Primary store increment failed, using fallback", "error", err, "video_id", id)
	return f.secondary.IncrementDownloads(id)
}

func (f *FallbackStore) RemoveWhere(match func(*Video) bool) ([]*Video, error) {
	removed, err := f.primary.RemoveWhere(match)
	if err != nil {
		slog.Error("Primary store removal failed, using fallback", "error", err)
		return f.secondary.RemoveWhere(match)
	}
	return removed, nil
}

func (f *FallbackStore) List() ([]*Video, error) {
	all, err := f.primary.List()
	if err != nil {
		slog.Error("Primary store list failed, using fallback", "error", err)
		return f.secondary.List()
	}
	return all, nil
}
