package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/raphaelgruber/mmrag/internal/service"
)

// multipartMemory is how much of a multipart body is buffered in memory.
const multipartMemory = 32 << 20

// IngestAccepted is the 202 response to an ingestion request.
type IngestAccepted struct {
	Success       bool          `json:"success"`
	JobID         string        `json:"jobId"`
	Status        models.Status `json:"status"`
	Message       string        `json:"message"`
	EstimatedTime string        `json:"estimatedTime"`
	StatusURL     string        `json:"statusUrl"`
}

// URLRequest is the body of POST /ingest/url.
type URLRequest struct {
	URL      string             `json:"url"`
	Metadata models.JobMetadata `json:"metadata"`
}

func accepted(resp *service.IngestResponse, msg string) IngestAccepted {
	return IngestAccepted{
		Success:       true,
		JobID:         resp.JobID,
		Status:        resp.Status,
		Message:       msg,
		EstimatedTime: resp.EstimatedTime,
		StatusURL:     "/status/" + resp.JobID,
	}
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge,
				fmt.Sprintf("File exceeds the %d MB upload limit", s.opts.MaxUploadBytes>>20))
			return
		}
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Expected a multipart form with a file field")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "No file uploaded")
		return
	}
	defer file.Close()

	var meta models.JobMetadata
	if raw := r.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, "metadata is not valid JSON")
			return
		}
	}
	priority := 0
	if raw := r.FormValue("priority"); raw != "" {
		if priority, err = strconv.Atoi(raw); err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, "priority must be an integer")
			return
		}
	}

	if meta.FileName == "" {
		meta.FileName = header.Filename
	}
	if meta.MimeType == "" {
		if ct := header.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" {
			meta.MimeType = ct
		}
	}

	path, size, err := s.saveUpload(file, meta.FileName)
	if err != nil {
		s.fail(w, r, err, CodeJobNotFound)
		return
	}
	meta.Size = size

	resp, err := s.svc.QueueForIngestion(r.Context(), service.Upload{Path: path, Metadata: meta, Priority: priority})
	if err != nil {
		_ = os.Remove(path)
		s.fail(w, r, err, CodeJobNotFound)
		return
	}
	writeJSON(w, http.StatusAccepted, accepted(resp, "File queued for processing"))
}

// saveUpload copies the uploaded part into the upload directory.
func (s *Server) saveUpload(src multipart.File, name string) (string, int64, error) {
	dir := s.opts.UploadDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create upload dir: %w", err)
	}

	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == ".." {
		base = "upload"
	}
	dst, err := os.CreateTemp(dir, "upload-*-"+base)
	if err != nil {
		return "", 0, fmt.Errorf("create upload file: %w", err)
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst.Name())
		return "", 0, fmt.Errorf("write upload: %w", err)
	}
	return dst.Name(), n, nil
}

func (s *Server) handleIngestURL(w http.ResponseWriter, r *http.Request) {
	var req URLRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid JSON body")
		return
	}
	if models.IsBlank(req.URL) {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "url is required")
		return
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "url must be http or https")
		return
	}

	resp, err := s.svc.QueueURLForIngestion(r.Context(), req.URL, req.Metadata)
	if err != nil {
		s.fail(w, r, err, CodeJobNotFound)
		return
	}
	writeJSON(w, http.StatusAccepted, accepted(resp, "URL queued for processing"))
}
