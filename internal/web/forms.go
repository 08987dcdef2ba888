package web

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/hpungsan/quarry/internal/dashboard"
	"github.com/hpungsan/quarry/internal/errors"
	"github.com/hpungsan/quarry/internal/project"
)

// maxSourceBody bounds a connect-source request, uploads included.
const maxSourceBody = 64 << 20

// addSourceRequest is the JSON body of POST /projects/{id}/sources.
type addSourceRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// parseSourceRequest reads a source type and payload from a JSON body, a
// multipart upload, or a plain form.
func parseSourceRequest(w http.ResponseWriter, r *http.Request) (project.SourceType, json.RawMessage, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSourceBody)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		var req addSourceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", nil, errors.NewInvalidRequest(fmt.Sprintf("invalid JSON body: %v", err))
		}
		t, err := project.ParseSourceType(req.Type)
		if err != nil {
			return "", nil, err
		}
		return t, req.Data, nil
	case "multipart/form-data":
		return parseUpload(r)
	}

	if err := r.ParseForm(); err != nil {
		return "", nil, errors.NewInvalidRequest("invalid form data")
	}
	t, err := project.ParseSourceType(r.FormValue("type"))
	if err != nil {
		return "", nil, err
	}

	var payload any
	switch t {
	case project.SourceGitHub:
		payload = project.GitHubData{
			URL:    strings.TrimSpace(r.FormValue("url")),
			Branch: strings.TrimSpace(r.FormValue("branch")),
		}
	case project.SourceWebsite:
		payload = project.WebsiteData{URL: strings.TrimSpace(r.FormValue("url"))}
	case project.SourceMotif:
		payload = project.MotifData{ProjectDomain: r.FormValue("projectDomain")}
	default:
		return "", nil, errors.NewInvalidRequest("files must be sent as multipart/form-data")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", nil, errors.NewInternal(err)
	}
	return t, data, nil
}

// parseUpload builds a file-upload payload from the "files" parts. Browsers
// drop directories from part file names, so an optional "paths" value per
// file carries the relative path.
func parseUpload(r *http.Request) (project.SourceType, json.RawMessage, error) {
	if err := r.ParseMultipartForm(maxSourceBody); err != nil {
		return "", nil, errors.NewInvalidRequest(fmt.Sprintf("invalid upload: %v", err))
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		return "", nil, errors.NewInvalidRequest("at least one file is required")
	}
	paths := r.MultipartForm.Value["paths"]

	var upload project.FileUploadData
	for i, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return "", nil, errors.NewInternal(err)
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return "", nil, errors.NewInvalidRequest(fmt.Sprintf("failed to read %s: %v", fh.Filename, err))
		}
		path := fh.Filename
		if len(paths) == len(headers) && strings.TrimSpace(paths[i]) != "" {
			path = paths[i]
		}
		upload.Files = append(upload.Files, project.UploadedFile{Path: path, Content: string(content)})
	}

	data, err := json.Marshal(upload)
	if err != nil {
		return "", nil, errors.NewInternal(err)
	}
	return project.SourceFileUpload, data, nil
}

// variantOf reads the dashboard variant from the "variant" query value.
func variantOf(r *http.Request) dashboard.Variant {
	if r.URL.Query().Get("variant") == "onboarding" {
		return dashboard.VariantOnboarding
	}
	return dashboard.VariantDashboard
}

// parseFloatParam parses a float query parameter in [0, 10000] with a default value.
func parseFloatParam(r *http.Request, name string, defaultVal float64) float64 {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || v < 0 || v > 10000 {
		return defaultVal
	}
	return v
}
