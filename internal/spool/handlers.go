package spool

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HerbHall/printfleet/pkg/plugin"
)

// multipartMemory is the part of an upload kept in memory before spilling to disk.
const multipartMemory = 8 << 20

// jobResponse is the JSON body of a delivered job.
type jobResponse struct {
	JobID     string `json:"job_id"`
	Status    Stage  `json:"status"`
	DeviceID  string `json:"device_id"`
	MediaType string `json:"media_type"`
	Converted bool   `json:"converted"`
	Pages     int    `json:"pages,omitempty"`
	Bytes     int64  `json:"bytes"`
}

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "POST", Path: "/jobs", Handler: m.handleSubmitJob},
	}
}

// handleSubmitJob prints an uploaded document on a registered printer.
//
//	@Summary		Submit print job
//	@Tags			spool
//	@Accept			mpfd
//	@Produce		json
//	@Param			file formData file true "Document"
//	@Param			device_id formData string true "Target printer"
//	@Param			media_type formData string false "Declared media type"
//	@Success		200 {object} jobResponse
//	@Failure		404 {object} map[string]any
//	@Failure		409 {object} map[string]any
//	@Failure		422 {object} map[string]any
//	@Failure		502 {object} map[string]any
//	@Router			/spool/jobs [post]
func (m *Module) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > m.cfg.MaxUploadBytes {
		spoolWriteError(w, http.StatusRequestEntityTooLarge, "upload_too_large", "document exceeds the upload limit")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, m.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			spoolWriteError(w, http.StatusRequestEntityTooLarge, "upload_too_large", "document exceeds the upload limit")
			return
		}
		spoolWriteError(w, http.StatusBadRequest, "invalid_request", "expected a multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	deviceID := r.FormValue("device_id")
	if deviceID == "" {
		spoolWriteError(w, http.StatusBadRequest, "invalid_request", "device_id is required")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		spoolWriteError(w, http.StatusBadRequest, "invalid_request", "file is required")
		return
	}
	defer file.Close()

	declared := r.FormValue("media_type")
	if declared == "" {
		declared = header.Header.Get("Content-Type")
	}
	mediaType := DetectMediaType(declared, header.Filename)

	path, err := m.spoolUpload(file, mediaType, header.Filename)
	if err != nil {
		m.logger.Error("failed to spool upload", zap.Error(err))
		spoolWriteError(w, http.StatusInternalServerError, "internal_error", "failed to store upload")
		return
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("failed to remove upload", zap.String("path", path), zap.Error(err))
		}
	}()

	job := NewJob(uuid.NewString(), deviceID, path, mediaType)
	if err := m.pipeline.Print(r.Context(), job); err != nil {
		status := statusFor(err)
		spoolWriteError(w, status, Reason(err), err.Error())
		return
	}

	spoolWriteJSON(w, http.StatusOK, jobResponse{
		JobID:     job.ID,
		Status:    job.Stage,
		DeviceID:  job.DeviceID,
		MediaType: mediaType,
		Converted: job.Converted,
		Pages:     job.Pages,
		Bytes:     job.BytesSent,
	})
}

// spoolUpload copies the upload into the spool directory. The file keeps an
// extension matching its media type so the converter can recognize it.
func (m *Module) spoolUpload(src io.Reader, mediaType, filename string) (string, error) {
	ext := ExtensionFor(mediaType)
	if ext == "" {
		ext = filepath.Ext(filename)
	}
	f, err := os.CreateTemp(m.cfg.SpoolDir, "upload-*"+ext)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDeviceDisconnected):
		return http.StatusConflict
	case errors.Is(err, ErrConversion), errors.Is(err, ErrNormalize):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func spoolWriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func spoolWriteError(w http.ResponseWriter, status int, reason, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   "https://printfleet.dev/problems/" + reason,
		"title":  http.StatusText(status),
		"status": status,
		"detail": detail,
		"reason": reason,
	})
}
