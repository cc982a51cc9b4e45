package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/pavel-fokin/video-stash/internal/fs"
	"github.com/pavel-fokin/video-stash/internal/jsonfile"
	"github.com/pavel-fokin/video-stash/internal/sqlite"
	"github.com/pavel-fokin/video-stash/internal/videos"
)

type Config struct {
	Addr           string        `env:"VIDEO_STASH_ADDR" envDefault:":8080"`
	UploadDir      string        `env:"VIDEO_STASH_UPLOAD_DIR,required"`
	MetadataFile   string        `env:"VIDEO_STASH_METADATA_FILE,required"`
	DBPath         string        `env:"VIDEO_STASH_DB_PATH"`
	MaxSize        int64         `env:"VIDEO_STASH_MAX_SIZE" envDefault:"524288000"`
	AllowedMime    []string      `env:"VIDEO_STASH_ALLOWED_MIME" envDefault:"video/mp4,video/webm,video/ogg,video/quicktime,video/x-msvideo,video/x-matroska"`
	GlobalPassword string        `env:"VIDEO_STASH_GLOBAL_PASSWORD"`
	RetentionAge   time.Duration `env:"VIDEO_STASH_RETENTION_AGE"`
	SweepInterval  time.Duration `env:"VIDEO_STASH_SWEEP_INTERVAL" envDefault:"1h"`
}

func New(cfg *Config) (*http.Server, *videos.Service) {
	// Initialize structured logger with JSON handler
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// The flat file is always available; SQLite, when configured, is the
	// preferred backend with the flat file as per-operation fallback.
	var store videos.MetadataStore = jsonfile.NewStore(cfg.MetadataFile)
	if cfg.DBPath != "" {
		primary, err := sqlite.NewStore(cfg.DBPath)
		if err != nil {
			slog.Error("Failed to open SQLite store, using flat file only", "error", err, "db_path", cfg.DBPath)
		} else {
			store = videos.NewFallbackStore(primary, store)
		}
	}

	storage := fs.NewStorage(cfg.UploadDir)
	videoService := videos.NewService(storage, store, cfg.MaxSize, cfg.AllowedMime, cfg.GlobalPassword, cfg.RetentionAge)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthz)
	mux.HandleFunc("GET /{$}", indexPage)
	mux.HandleFunc("POST /v1/videos", uploadVideo(cfg, videoService))
	mux.HandleFunc("GET /v1/videos", listVideos(videoService))
	mux.HandleFunc("GET /videos/{id}", downloadVideo(videoService))
	mux.HandleFunc("POST /videos/{id}", downloadVideo(videoService))
	mux.HandleFunc("GET /videos/{id}/preview", previewVideo(videoService))

	// Blobs are served directly by the static file server so previews
	// get seekable range streaming without going through the service.
	mux.Handle("GET /uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.UploadDir))))

	// Wrap the handler with middleware
	handler := requestID(loggingMiddleware(limitBody(mux, cfg.MaxSize)))

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Minute,
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}, videoService
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// wantsJSON reports whether the caller is programmatic. Interactive
// form posts get human-readable pages instead.
func wantsJSON(r *http.Request) bool {
	if strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func uploadVideo(cfg *Config, videoService *videos.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Parse multipart form
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) || strings.Contains(err.Error(), "request body too large") {
				uploadError(w, r, "File exceeds the maximum allowed size", http.StatusRequestEntityTooLarge)
				return
			}
			uploadError(w, r, "Failed to parse upload form", http.StatusBadRequest)
			return
		}

		// Get file from form
		file, header, err := r.FormFile("video")
		if err != nil {
			uploadError(w, r, "No file sent", http.StatusBadRequest)
			return
		}
		defer file.Close()

		uploadReq := &videos.UploadRequest{
			OriginalName: header.Filename,
			Title:        r.FormValue("title"),
			Password:     r.FormValue("password"),
			Content:      file,
		}

		result, err := videoService.Upload(uploadReq)
		if err != nil {
			var maxBytesErr *http.MaxBytesError
			switch {
			case errors.Is(err, videos.ErrTooLarge) || errors.As(err, &maxBytesErr):
				uploadError(w, r, "File exceeds the maximum allowed size", http.StatusRequestEntityTooLarge)
			case errors.Is(err, videos.ErrUnsupportedType):
				uploadError(w, r, "Invalid file type", http.StatusUnsupportedMediaType)
			default:
				slog.Error("Upload failed", "error", err, "filename", header.Filename)
				uploadError(w, r, "Upload failed", http.StatusInternalServerError)
			}
			return
		}

		if wantsJSON(r) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			if err := json.NewEncoder(w).Encode(result); err != nil {
				slog.Error("Failed to encode response", "error", err)
			}
			return
		}

		renderUploadSuccess(w, result, humanize.Bytes(uint64(result.Entry.Size)))
	}
}

func uploadError(w http.ResponseWriter, r *http.Request, reason string, code int) {
	if wantsJSON(r) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"error": reason})
		return
	}
	renderMessage(w, code, "Upload error", reason)
}

// listEntry is the listing view of a record; the password never leaves
// the store through this endpoint.
type listEntry struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"original_name"`
	StoredName   string    `json:"stored_name"`
	Size         int64     `json:"size"`
	Mime         string    `json:"mime"`
	UploadedAt   time.Time `json:"uploaded_at"`
	Downloads    int64     `json:"downloads"`
	Title        string    `json:"title,omitempty"`
	Protected    bool      `json:"protected"`
}

func listVideos(videoService *videos.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all, err := videoService.List()
		if err != nil {
			slog.Error("List videos failed", "error", err)
			http.Error(w, "Failed to list videos", http.StatusInternalServerError)
			return
		}

		entries := make([]listEntry, 0, len(all))
		for _, v := range all {
			entries = append(entries, listEntry{
				ID:           v.ID,
				OriginalName: v.OriginalName,
				StoredName:   v.StoredName,
				Size:         v.Size,
				Mime:         v.Mime,
				UploadedAt:   v.UploadedAt,
				Downloads:    v.Downloads,
				Title:        v.Title,
				Protected:    v.HasPassword(),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(entries); err != nil {
			slog.Error("Failed to encode video list", "error", err)
		}
	}
}

func downloadVideo(videoService *videos.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		// Password comes from the query string or the re-prompt form
		password := r.URL.Query().Get("pw")
		if password == "" && r.Method == http.MethodPost {
			password = r.FormValue("pw")
		}

		video, content, err := videoService.Download(id, password)
		if err != nil {
			switch {
			case errors.Is(err, videos.ErrNotFound):
				renderMessage(w, http.StatusNotFound, "Not found", "File not found.")
			case errors.Is(err, videos.ErrPasswordRequired):
				renderPasswordForm(w, id)
			default:
				slog.Error("Download failed", "error", err, "video_id", id)
				renderMessage(w, http.StatusInternalServerError, "Error", "Download failed.")
			}
			return
		}
		defer content.Close()

		w.Header().Set("Content-Type", video.Mime)
		w.Header().Set("Content-Length", fmt.Sprintf("%d", video.Size))
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", attachmentName(video.OriginalName)))
		w.WriteHeader(http.StatusOK)

		if _, err := io.Copy(w, content); err != nil {
			// Client went away; the stream just ends here.
			slog.Warn("Download stream interrupted", "error", err, "video_id", id)
		}

		// Best-effort, after the bytes: an early disconnect undercounts.
		videoService.CountDownload(id)
	}
}

func previewVideo(videoService *videos.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		video, err := videoService.Get(id)
		if err != nil {
			if errors.Is(err, videos.ErrNotFound) {
				renderMessage(w, http.StatusNotFound, "Not found", "File not found.")
				return
			}
			slog.Error("Preview failed", "error", err, "video_id", id)
			renderMessage(w, http.StatusInternalServerError, "Error", "Preview failed.")
			return
		}

		renderPreview(w, video, humanize.Bytes(uint64(video.Size)))
	}
}

// attachmentName sanitizes the display filename for the
// Content-Disposition header.
func attachmentName(name string) string {
	name = strings.NewReplacer("\r", "", "\n", "").Replace(name)
	return filepath.Base(name)
}

// requestID assigns every request a correlation id, echoed back to the
// client and attached to its log line.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get("X-Request-Id")
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", rid)
		r.Header.Set("X-Request-Id", rid)
		next.ServeHTTP(w, r)
	})
}

func limitBody(next http.Handler, maxSize int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Some slack for the multipart framing around the file itself
		r.Body = http.MaxBytesReader(w, r.Body, maxSize+(1<<20))
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests with structured logging
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		slog.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", duration.Milliseconds(),
			"remote_addr", r.RemoteAddr,
			"request_id", r.Header.Get("X-Request-Id"),
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
