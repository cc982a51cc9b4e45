package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/pavel-fokin/video-stash/internal/videos"
)

// Store implements videos.MetadataStore using SQLite
type Store struct {
	db *sql.DB
}

// NewStore creates a new SQLite metadata store
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}

	// Initialize database schema
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// initSchema creates the necessary database tables
func (s *Store) initSchema() error {
	createTableQuery := `
	CREATE TABLE IF NOT EXISTS videos (
		id TEXT PRIMARY KEY,
		original_name TEXT NOT NULL,
		stored_name TEXT NOT NULL,
		size INTEGER NOT NULL,
		mime TEXT NOT NULL,
		uploaded_at DATETIME NOT NULL,
		downloads INTEGER NOT NULL DEFAULT 0,
		title TEXT,
		password TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_videos_uploaded_at ON videos(uploaded_at);
	`
	if _, err := s.db.Exec(createTableQuery); err != nil {
		return fmt.Errorf("failed to create videos table: %w", err)
	}

	return nil
}

// Append stores a new video record
func (s *Store) Append(video *videos.Video) error {
	query := `
	INSERT INTO videos (id, original_name, stored_name, size, mime, uploaded_at, downloads, title, password)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		video.ID,
		video.OriginalName,
		video.StoredName,
		video.Size,
		video.Mime,
		video.UploadedAt,
		video.Downloads,
		nullable(video.Title),
		nullable(video.Password),
	)

	if err != nil {
		return fmt.Errorf("failed to create video record: %w", err)
	}

	return nil
}

// Get retrieves a video record by ID
func (s *Store) Get(id string) (*videos.Video, error) {
	query := `
	SELECT id, original_name, stored_name, size, mime, uploaded_at, downloads, title, password
	FROM videos
	WHERE id = ?
	`

	video, err := scanVideo(s.db.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, videos.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find video: %w", err)
	}

	return video, nil
}

// IncrementDownloads bumps the download counter atomically in a single
// statement, so concurrent downloads never lose an increment.
func (s *Store) IncrementDownloads(id string) error {
	query := `UPDATE videos SET downloads = downloads + 1 WHERE id = ?`

	result, err := s.db.Exec(query, id)
	if err != nil {
		return fmt.Errorf("failed to increment downloads: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return videos.ErrNotFound
	}

	return nil
}

// RemoveWhere enumerates all records, deletes the matching rows and
// returns the removed records.
func (s *Store) RemoveWhere(match func(*videos.Video) bool) ([]*videos.Video, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}

	var removed []*videos.Video
	for _, v := range all {
		if !match(v) {
			continue
		}
		if _, err := s.db.Exec(`DELETE FROM videos WHERE id = ?`, v.ID); err != nil {
			return nil, fmt.Errorf("failed to delete video record: %w", err)
		}
		removed = append(removed, v)
	}

	return removed, nil
}

// List retrieves all video records in insertion order
func (s *Store) List() ([]*videos.Video, error) {
	query := `
	SELECT id, original_name, stored_name, size, mime, uploaded_at, downloads, title, password
	FROM videos
	ORDER BY rowid ASC
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query videos: %w", err)
	}
	defer rows.Close()

	var all []*videos.Video
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan video row: %w", err)
		}
		all = append(all, video)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating video rows: %w", err)
	}

	return all, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVideo(row rowScanner) (*videos.Video, error) {
	var video videos.Video
	var title, password sql.NullString
	err := row.Scan(
		&video.ID,
		&video.OriginalName,
		&video.StoredName,
		&video.Size,
		&video.Mime,
		&video.UploadedAt,
		&video.Downloads,
		&title,
		&password,
	)
	if err != nil {
		return nil, err
	}
	if title.Valid {
		video.Title = title.String
	}
	if password.Valid {
		video.Password = password.String
	}
	return &video, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
