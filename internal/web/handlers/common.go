package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kozaktomas/attendance/internal/constants"
	"github.com/kozaktomas/attendance/internal/database"
	"github.com/kozaktomas/attendance/internal/service"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps domain errors to HTTP status codes. Unexpected
// errors are logged and hidden behind a generic message.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrAlreadyExists):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, database.ErrBusy):
		w.Header().Set("Retry-After", strconv.Itoa(constants.RetryAfterSeconds))
		respondError(w, http.StatusServiceUnavailable, "resource is busy, retry shortly")
	case errors.Is(err, database.ErrInvalidName),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrUnsupportedImage):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		zap.L().Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", sanitizeForLog(r.URL.Path)),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeJSON reads a size-limited JSON body into target.
func decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxJSONBodySize)
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return false
	}
	return true
}

// parseMultipart parses a size-limited multipart form.
func parseMultipart(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return false
	}
	return true
}

// readUploads loads every file of a multipart field into memory.
func readUploads(files []*multipart.FileHeader) ([]service.Upload, error) {
	uploads := make([]service.Upload, 0, len(files))
	for _, fh := range files {
		data, err := readFile(fh)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, service.Upload{Filename: fh.Filename, Data: data})
	}
	return uploads, nil
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %s", fh.Filename)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %s", fh.Filename)
	}
	return data, nil
}

// classID returns the {class} URL parameter.
func classID(r *http.Request) string {
	return chi.URLParam(r, "class")
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
