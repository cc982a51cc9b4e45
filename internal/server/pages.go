package server

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/pavel-fokin/video-stash/internal/videos"
)

// Minimal human-readable pages for interactive callers. Programmatic
// callers get JSON instead; see wantsJSON.
var pageTemplates = template.Must(template.New("pages").Parse(`
{{define "head"}}<!doctype html><html><head><meta charset="utf-8"><title>{{.}}</title></head><body>{{end}}
{{define "foot"}}</body></html>{{end}}

{{define "message"}}{{template "head" .Title}}<h1>{{.Title}}</h1><p>{{.Text}}</p><p><a href="/">Home</a></p>{{template "foot"}}{{end}}

{{define "index"}}{{template "head" "video-stash"}}
<h1>Upload a video</h1>
<form method="post" action="/v1/videos" enctype="multipart/form-data">
<p><input type="file" name="video" required></p>
<p><label>Title: <input type="text" name="title" maxlength="250"></label></p>
<p><label>Password (optional): <input type="password" name="password" maxlength="100"></label></p>
<p><button type="submit">Upload</button></p>
</form>
{{template "foot"}}{{end}}

{{define "uploadSuccess"}}{{template "head" "Upload successful"}}
<h1>Upload successful</h1>
{{if .Result.Entry.Title}}<p>Title: {{.Result.Entry.Title}}</p>{{end}}
<p>Original filename: {{.Result.Entry.OriginalName}}</p>
<p>Size: {{.Size}}</p>
<p>Preview: <a href="{{.Result.Preview}}">{{.Result.Preview}}</a></p>
<p>Download: <a href="{{.Result.Download}}">{{.Result.Download}}</a></p>
<p><a href="/">Back to home</a></p>
{{template "foot"}}{{end}}

{{define "passwordForm"}}{{template "head" "Password required"}}
<h1>Protected download</h1>
<p>This file requires a password to download.</p>
<form method="post" action="/videos/{{.}}">
<label>Password: <input type="password" name="pw"></label>
<button type="submit">Download</button>
</form>
{{template "foot"}}{{end}}

{{define "preview"}}{{template "head" .Video.DisplayName}}
<h1>{{.Video.DisplayName}}</h1>
<div class="video-wrapper">
<video controls controlslist="nodownload" style="max-width:100%;height:auto;" preload="metadata">
<source src="/uploads/{{.Video.StoredName}}" type="{{.Video.Mime}}">
Your browser does not support HTML5 video.
</video>
</div>
<div class="meta">
<p>Filename: {{.Video.OriginalName}}</p>
<p>Size: {{.Size}}</p>
<p>Uploaded: {{.Video.UploadedAt.Format "2006-01-02 15:04:05"}}</p>
<p>Downloads: {{.Video.Downloads}}</p>
<p><a href="/videos/{{.Video.ID}}">Download</a> &nbsp; <a href="/">Home</a></p>
</div>
{{template "foot"}}{{end}}
`))

func renderPage(w http.ResponseWriter, code int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	if err := pageTemplates.ExecuteTemplate(w, name, data); err != nil {
		slog.Error("Failed to render page", "error", err, "template", name)
	}
}

func indexPage(w http.ResponseWriter, r *http.Request) {
	renderPage(w, http.StatusOK, "index", nil)
}

func renderMessage(w http.ResponseWriter, code int, title, text string) {
	renderPage(w, code, "message", struct{ Title, Text string }{title, text})
}

func renderUploadSuccess(w http.ResponseWriter, result *videos.UploadResult, size string) {
	renderPage(w, http.StatusCreated, "uploadSuccess", struct {
		Result *videos.UploadResult
		Size   string
	}{result, size})
}

func renderPasswordForm(w http.ResponseWriter, id string) {
	renderPage(w, http.StatusUnauthorized, "passwordForm", id)
}

func renderPreview(w http.ResponseWriter, video *videos.Video, size string) {
	renderPage(w, http.StatusOK, "preview", struct {
		Video *videos.Video
		Size  string
	}{video, size})
}
