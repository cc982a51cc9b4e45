package videos

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

const (
	maxTitleLen    = 250
	maxPasswordLen = 100

	// id is 10 random bytes, rendered as 20 hex characters. At 80 bits
	// of entropy a collision is negligible and not retried.
	idBytes = 10

	counterAttempts = 3
	counterBackoff  = 50 * time.Millisecond
)

var extSanitizer = regexp.MustCompile(`[^A-Za-z0-9]`)

// Service provides application-level video operations
type Service struct {
	storage        BlobStorage
	store          MetadataStore
	maxSize        int64
	allowedMime    []string
	globalPassword string
	retentionAge   time.Duration
}

// NewService creates a new video service
func NewService(storage BlobStorage, store MetadataStore, maxSize int64, allowedMime []string, globalPassword string, retentionAge time.Duration) *Service {
	return &Service{
		storage:        storage,
		store:          store,
		maxSize:        maxSize,
		allowedMime:    allowedMime,
		globalPassword: globalPassword,
		retentionAge:   retentionAge,
	}
}

// UploadRequest represents a video upload request
type UploadRequest struct {
	OriginalName string
	Title        string
	Password     string
	Content      io.Reader
}

// UploadResult represents the result of a video upload
type UploadResult struct {
	Success  bool   `json:"success"`
	ID       string `json:"id"`
	Preview  string `json:"preview"`
	Download string `json:"download"`
	Entry    *Video `json:"entry"`
}

// Upload validates the content, persists the blob and then commits the
// metadata record. Nothing is persisted when validation fails.
func (s *Service) Upload(req *UploadRequest) (*UploadResult, error) {
	data, err := io.ReadAll(req.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload content: %w", err)
	}

	// Validate size before touching any storage
	if int64(len(data)) > s.maxSize {
		return nil, ErrTooLarge
	}

	// Validate the sniffed MIME type; the client-declared one is not trusted
	mtype := mimetype.Detect(data)
	if !s.mimeAllowed(mtype) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mtype.String())
	}

	id, err := generateID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate id: %w", err)
	}
	storedName := storedNameFor(id, req.OriginalName)

	// Blob first: a record must never point at a missing blob
	size, err := s.storage.Save(storedName, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to save video: %w", err)
	}

	video := &Video{
		ID:           id,
		OriginalName: filepath.Base(req.OriginalName),
		StoredName:   storedName,
		Size:         size,
		Mime:         mtype.String(),
		UploadedAt:   time.Now(),
		Downloads:    0,
		Title:        truncate(strings.TrimSpace(req.Title), maxTitleLen),
		Password:     truncate(req.Password, maxPasswordLen),
	}

	if err := s.store.Append(video); err != nil {
		// The blob stays behind as an orphan; reconciliation is out of scope.
		slog.Error("Metadata append failed, blob orphaned", "error", err, "stored_name", storedName)
		return nil, fmt.Errorf("failed to save video metadata: %w", err)
	}

	return &UploadResult{
		Success:  true,
		ID:       video.ID,
		Preview:  fmt.Sprintf("/videos/%s/preview", video.ID),
		Download: fmt.Sprintf("/videos/%s", video.ID),
		Entry:    video,
	}, nil
}

// Get retrieves a record by ID, reporting ErrNotFound when either the
// record or its blob is gone.
func (s *Service) Get(id string) (*Video, error) {
	video, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if !s.storage.Exists(video.StoredName) {
		return nil, ErrNotFound
	}
	return video, nil
}

// Download retrieves a video by ID after checking the password gate.
// A per-video password takes precedence over the global one.
func (s *Service) Download(id string, password string) (*Video, io.ReadCloser, error) {
	video, err := s.Get(id)
	if err != nil {
		return nil, nil, err
	}

	required := s.globalPassword
	if video.HasPassword() {
		required = video.Password
	}
	if required != "" && password != required {
		return nil, nil, ErrPasswordRequired
	}

	content, err := s.storage.Open(video.StoredName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open video content: %w", err)
	}

	return video, content, nil
}

// CountDownload increments the download counter, best-effort. Failures
// are retried a few times with a short backoff and then logged; they
// never affect the download itself.
func (s *Service) CountDownload(id string) {
	var err error
	for attempt := 0; attempt < counterAttempts; attempt++ {
		if err = s.store.IncrementDownloads(id); err == nil {
			return
		}
		time.Sleep(counterBackoff)
	}
	slog.Warn("Download counter increment failed", "error", err, "video_id", id)
}

// List retrieves all records, most recent first.
func (s *Service) List() ([]*Video, error) {
	all, err := s.store.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	// The store keeps insertion order; listings show newest first.
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, nil
}

// Sweep removes every record older than the retention age along with its
// blob and reports how many records were removed. Disabled retention
// (age <= 0) removes nothing.
func (s *Service) Sweep(now time.Time) (int, error) {
	if s.retentionAge <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-s.retentionAge)
	expired := func(v *Video) bool { return v.UploadedAt.Before(cutoff) }

	// Blobs go first so a partial sweep leaves at worst a record pointing
	// at a missing blob, which retrieval already reports as not found.
	candidates, err := s.store.List()
	if err != nil {
		return 0, fmt.Errorf("failed to enumerate videos: %w", err)
	}
	for _, v := range candidates {
		if !expired(v) {
			continue
		}
		if err := s.storage.Delete(v.StoredName); err != nil {
			slog.Warn("Sweep failed to delete blob", "error", err, "stored_name", v.StoredName)
		}
	}

	removed, err := s.store.RemoveWhere(expired)
	if err != nil {
		return 0, fmt.Errorf("failed to remove expired records: %w", err)
	}
	return len(removed), nil
}

func (s *Service) mimeAllowed(mtype *mimetype.MIME) bool {
	for _, allowed := range s.allowedMime {
		if mtype.Is(allowed) {
			return true
		}
	}
	return false
}

// generateID creates a collision-resistant public identifier
func generateID() (string, error) {
	buf := make([]byte, idBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// storedNameFor derives the filesystem name from the id and the
// sanitized extension of the original filename. The original name is
// never used for paths.
func storedNameFor(id, originalName string) string {
	ext := extSanitizer.ReplaceAllString(strings.TrimPrefix(filepath.Ext(originalName), "."), "")
	if ext == "" {
		return id
	}
	return id + "." + ext
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
