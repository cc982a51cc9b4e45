package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestServer(t *testing.T, globalPassword string) *httptest.Server {
	t.Helper()
	dataDir := t.TempDir()

	cfg := &Config{
		Addr:           ":8080",
		UploadDir:      filepath.Join(dataDir, "uploads"),
		MetadataFile:   filepath.Join(dataDir, "metadata.json"),
		DBPath:         filepath.Join(dataDir, "videos.db"),
		MaxSize:        1 << 20,
		AllowedMime:    []string{"video/mp4", "video/webm"},
		GlobalPassword: globalPassword,
	}

	srv, _ := New(cfg)

	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

// mp4Bytes sniff as video/mp4 (ftyp box, isom brand).
func mp4Bytes(filler int) []byte {
	header := []byte{
		0x00, 0x00, 0x00, 0x18,
		'f', 't', 'y', 'p',
		'i', 's', 'o', 'm',
		0x00, 0x00, 0x02, 0x00,
		'i', 's', 'o', 'm', 'i', 's', 'o', '2',
	}
	return append(header, bytes.Repeat([]byte{0x42}, filler)...)
}

func multipartUpload(t *testing.T, url string, content []byte, fields map[string]string) *http.Response {
	t.Helper()
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("video", "clip.mp4")
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())

	req, err := http.NewRequest("POST", url+"/v1/videos", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

type uploadResponse struct {
	Success  bool   `json:"success"`
	ID       string `json:"id"`
	Preview  string `json:"preview"`
	Download string `json:"download"`
	Entry    struct {
		StoredName string `json:"stored_name"`
		Size       int64  `json:"size"`
		Mime       string `json:"mime"`
		Downloads  int64  `json:"downloads"`
	} `json:"entry"`
}

func TestIntegration(t *testing.T) {
	ts := setupTestServer(t, "")

	content := mp4Bytes(100)
	var uploaded uploadResponse

	t.Run("Upload", func(t *testing.T) {
		resp := multipartUpload(t, ts.URL, content, map[string]string{"title": "My Clip"})
		defer resp.Body.Close()

		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&uploaded))

		assert.True(t, uploaded.Success)
		assert.Len(t, uploaded.ID, 20)
		assert.Equal(t, uploaded.ID+".mp4", uploaded.Entry.StoredName)
		assert.Equal(t, int64(len(content)), uploaded.Entry.Size)
		assert.Equal(t, "video/mp4", uploaded.Entry.Mime)
		assert.Equal(t, int64(0), uploaded.Entry.Downloads)
	})

	t.Run("Download", func(t *testing.T) {
		require.NotEmpty(t, uploaded.Download)
		resp, err := http.Get(ts.URL + uploaded.Download)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
		assert.Contains(t, resp.Header.Get("Content-Disposition"), `attachment; filename="clip.mp4"`)

		respBody, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, content, respBody)
	})

	t.Run("List shows the download count", func(t *testing.T) {
		fetch := func() []map[string]any {
			resp, err := http.Get(ts.URL + "/v1/videos")
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, http.StatusOK, resp.StatusCode)

			var entries []map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
			return entries
		}

		// The counter is incremented after the bytes are streamed, so
		// give it a moment.
		assert.Eventually(t, func() bool {
			entries := fetch()
			return len(entries) == 1 && entries[0]["downloads"] == float64(1)
		}, 2*time.Second, 50*time.Millisecond)

		entries := fetch()
		require.Len(t, entries, 1)
		assert.Equal(t, uploaded.ID, entries[0]["id"])
		assert.Equal(t, false, entries[0]["protected"])

		// The password never appears in listings
		_, leaked := entries[0]["password"]
		assert.False(t, leaked)
	})

	t.Run("Preview page", func(t *testing.T) {
		resp, err := http.Get(ts.URL + uploaded.Preview)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		page, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(page), "/uploads/"+uploaded.Entry.StoredName)
		assert.Contains(t, string(page), "My Clip")
	})

	t.Run("Static blob serving", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/uploads/" + uploaded.Entry.StoredName)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		respBody, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, content, respBody)
	})

	t.Run("Download unknown id", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/videos/ffffffffffffffffffff")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestIntegrationUploadValidation(t *testing.T) {
	ts := setupTestServer(t, "")

	t.Run("disallowed type", func(t *testing.T) {
		resp := multipartUpload(t, ts.URL, []byte("just some text"), nil)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

		var errResp map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
		assert.NotEmpty(t, errResp["error"])
	})

	t.Run("oversized file", func(t *testing.T) {
		resp := multipartUpload(t, ts.URL, mp4Bytes(2<<20), nil)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	})

	t.Run("nothing persisted after rejections", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/v1/videos")
		require.NoError(t, err)
		defer resp.Body.Close()

		var entries []map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
		assert.Empty(t, entries)
	})
}

func TestIntegrationPasswordGate(t *testing.T) {
	ts := setupTestServer(t, "")

	resp := multipartUpload(t, ts.URL, mp4Bytes(50), map[string]string{"password": "secret"})
	var uploaded uploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&uploaded))
	resp.Body.Close()

	t.Run("missing password prompts again", func(t *testing.T) {
		resp, err := http.Get(ts.URL + uploaded.Download)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		page, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(page), "<form")
	})

	t.Run("wrong password prompts again", func(t *testing.T) {
		resp, err := http.Get(ts.URL + uploaded.Download + "?pw=nope")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("correct password via query", func(t *testing.T) {
		resp, err := http.Get(ts.URL + uploaded.Download + "?pw=secret")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("correct password via form", func(t *testing.T) {
		resp, err := http.PostForm(ts.URL+uploaded.Download, map[string][]string{"pw": {"secret"}})
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestIntegrationGlobalPassword(t *testing.T) {
	ts := setupTestServer(t, "shared")

	resp := multipartUpload(t, ts.URL, mp4Bytes(50), nil)
	var uploaded uploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&uploaded))
	resp.Body.Close()

	t.Run("global password required", func(t *testing.T) {
		resp, err := http.Get(ts.URL + uploaded.Download)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("global password accepted", func(t *testing.T) {
		resp, err := http.Get(ts.URL + uploaded.Download + "?pw=shared")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestIntegrationInteractiveUpload(t *testing.T) {
	ts := setupTestServer(t, "")

	// A plain form post, no XHR marker: the answer is a page
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("video", "clip.mp4")
	require.NoError(t, err)
	_, err = part.Write(mp4Bytes(50))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req, err := http.NewRequest("POST", ts.URL+"/v1/videos", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	page, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(page), "Upload successful")
	assert.Contains(t, string(page), "/preview")
}

func TestIntegrationFlatFileOnly(t *testing.T) {
	// No DBPath: the flat file is the sole backend
	dataDir := t.TempDir()
	cfg := &Config{
		Addr:         ":8080",
		UploadDir:    filepath.Join(dataDir, "uploads"),
		MetadataFile: filepath.Join(dataDir, "metadata.json"),
		MaxSize:      1 << 20,
		AllowedMime:  []string{"video/mp4"},
	}
	srv, _ := New(cfg)
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	resp := multipartUpload(t, ts.URL, mp4Bytes(50), nil)
	var uploaded uploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&uploaded))
	resp.Body.Close()

	// The record landed in the metadata file
	contents, err := os.ReadFile(cfg.MetadataFile)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(contents), uploaded.ID))

	down, err := http.Get(ts.URL + uploaded.Download)
	require.NoError(t, err)
	defer down.Body.Close()
	assert.Equal(t, http.StatusOK, down.StatusCode)
}

func TestIntegrationSweep(t *testing.T) {
	dataDir := t.TempDir()
	cfg := &Config{
		Addr:         ":8080",
		UploadDir:    filepath.Join(dataDir, "uploads"),
		MetadataFile: filepath.Join(dataDir, "metadata.json"),
		MaxSize:      1 << 20,
		AllowedMime:  []string{"video/mp4"},
		RetentionAge: 7 * 24 * time.Hour,
	}
	srv, videoService := New(cfg)
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	resp := multipartUpload(t, ts.URL, mp4Bytes(50), nil)
	var uploaded uploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&uploaded))
	resp.Body.Close()

	// Inside the window: nothing to remove
	removed, err := videoService.Sweep(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	// Far in the future the record expires together with its blob
	removed, err = videoService.Sweep(time.Now().Add(8 * 24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	down, err := http.Get(ts.URL + uploaded.Download)
	require.NoError(t, err)
	defer down.Body.Close()
	assert.Equal(t, http.StatusNotFound, down.StatusCode)
}
