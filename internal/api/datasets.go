package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/querypilot/querypilot/internal/dataset"
)

const multipartMemory = 32 << 20

type loadObjectRequest struct {
	Key    string `json:"key"`
	Format string `json:"format"`
}

// handleLoadDataset accepts either a raw body or a multipart form with a
// "file" part.
func handleLoadDataset(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	format, err := dataset.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeFailure(r, w, err, nil)
		return
	}
	name := strings.TrimSpace(r.URL.Query().Get("name"))

	// The loader reads one byte past the cap, so a reader limited to exactly
	// the cap turns an oversized upload into a MaxBytesError.
	var body io.Reader
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, deps.MaxUploadBytes)
		body = r.Body
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, deps.MaxUploadBytes+multipartMemory)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			writeUploadError(r, w, err)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "FILE_REQUIRED", "multipart upload requires a file part", false, map[string]any{"details": err.Error()})
			return
		}
		defer func() { _ = file.Close() }()
		body = http.MaxBytesReader(w, file, deps.MaxUploadBytes)
		if name == "" {
			name = header.Filename
		}
	}

	summary, err := deps.Pipeline.LoadDataset(r.Context(), sessionFromRequest(r), dataset.Input{Name: name, Format: format, Body: body})
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeUploadError(r, w, err)
			return
		}
		writeFailure(r, w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func handleLoadObject(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request loadObjectRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid object load request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Key) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "KEY_REQUIRED", "key is required", false, nil)
		return
	}
	format, err := dataset.ParseFormat(request.Format)
	if err != nil {
		writeFailure(r, w, err, nil)
		return
	}

	summary, err := deps.Pipeline.LoadObject(r.Context(), sessionFromRequest(r), request.Key, format)
	if err != nil {
		writeFailure(r, w, err, map[string]any{"key": request.Key})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func handleDescribe(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	desc, err := deps.Pipeline.Describe(r.Context(), sessionFromRequest(r))
	if err != nil {
		writeFailure(r, w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionFromRequest(r),
		"schema":     desc,
		"text":       desc.Text(),
	})
}

func handleListObjects(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", err.Error(), false, nil)
		return
	}
	objects, err := deps.Pipeline.ListObjects(r.Context(), r.URL.Query().Get("prefix"), limit)
	if err != nil {
		writeFailure(r, w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"objects": objects})
}

func writeUploadError(r *http.Request, w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", "upload exceeds the size limit", false, map[string]any{"limit_bytes": tooLarge.Limit})
		return
	}
	writeError(r.Context(), w, http.StatusBadRequest, "INVALID_UPLOAD", "could not read upload", false, map[string]any{"details": err.Error()})
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return limit, nil
}
