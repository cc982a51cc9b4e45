package videos

import (
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound is returned when a video record is absent or its blob
	// is missing on disk. Callers are not told which.
	ErrNotFound = errors.New("video not found")

	// ErrPasswordRequired is returned when a download needs a password
	// and the provided one is missing or wrong. It is a re-promptable
	// state, not a failure.
	ErrPasswordRequired = errors.New("password required")

	// ErrTooLarge is returned when an upload exceeds the size limit.
	ErrTooLarge = errors.New("file exceeds the maximum allowed size")

	// ErrUnsupportedType is returned when the sniffed MIME type is not
	// in the allow-list.
	ErrUnsupportedType = errors.New("unsupported file type")
)

// Video represents the metadata of one stored video file
type Video struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"original_name"`
	StoredName   string    `json:"stored_name"`
	Size         int64     `json:"size"`
	Mime         string    `json:"mime"`
	UploadedAt   time.Time `json:"uploaded_at"`
	Downloads    int64     `json:"downloads"`
	Title        string    `json:"title,omitempty"`
	Password     string    `json:"password,omitempty"`
}

// HasPassword reports whether the video carries its own download password.
func (v *Video) HasPassword() bool {
	return v.Password != ""
}

// DisplayName returns the title if one was given, the original filename otherwise.
func (v *Video) DisplayName() string {
	if v.Title != "" {
		return v.Title
	}
	return v.OriginalName
}

// MetadataStore defines the interface for persisting video records.
// Implementations must serialize mutations so that concurrent appends,
// increments, and removals never lose updates.
type MetadataStore interface {
	// Get retrieves a record by ID. Returns ErrNotFound if absent.
	Get(id string) (*Video, error)

	// Append adds a new record. IDs are assumed unique by construction.
	Append(video *Video) error

	// IncrementDownloads bumps the download counter by one.
	// Returns ErrNotFound if the record is absent.
	IncrementDownloads(id string) error

	// RemoveWhere deletes every record matching the predicate and
	// returns the removed records, so the caller knows which blobs
	// to delete.
	RemoveWhere(match func(*Video) bool) ([]*Video, error)

	// List retrieves all records in insertion order.
	List() ([]*Video, error)
}

// BlobStorage defines the interface for the physical file storage
type BlobStorage interface {
	// Save stores content under the given name and returns the byte count.
	Save(storedName string, content io.Reader) (int64, error)

	// Open returns a reader for the stored content.
	Open(storedName string) (io.ReadCloser, error)

	// Exists checks if a blob exists.
	Exists(storedName string) bool

	// Delete removes a blob. A missing blob is not an error.
	Delete(storedName string) error
}
