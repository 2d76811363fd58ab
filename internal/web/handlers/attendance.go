package handlers

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/attendance/internal/database"
	"github.com/kozaktomas/attendance/internal/service"
)

// AttendanceHandler handles recognition runs and saving sessions.
type AttendanceHandler struct {
	svc *service.Service
}

// NewAttendanceHandler creates a new attendance handler.
func NewAttendanceHandler(svc *service.Service) *AttendanceHandler {
	return &AttendanceHandler{svc: svc}
}

// RecognizeResponse is the result of POST /classes/{class}/attendance.
type RecognizeResponse struct {
	Recognition *service.Recognition  `json:"recognition"`
	Session     *service.SavedSession `json:"session,omitempty"`
}

// SaveRequest is the JSON body of POST /classes/{class}/attendance/save.
type SaveRequest struct {
	Statuses []database.AttendanceStatus `json:"statuses"`
	// TakenAt defaults to now
	TakenAt *time.Time `json:"taken_at,omitempty"`
}

// Recognize runs recognition on the uploaded "group_photo". With ?save=true
// the result is stored as a session right away.
func (h *AttendanceHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	if !parseMultipart(w, r) {
		return
	}
	files := r.MultipartForm.File["group_photo"]
	if len(files) == 0 || files[0].Filename == "" {
		respondError(w, http.StatusBadRequest, "no group photo uploaded")
		return
	}
	data, err := readFile(files[0])
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	photo := service.Upload{Filename: files[0].Filename, Data: data}

	save, _ := strconv.ParseBool(r.URL.Query().Get("save"))
	var resp RecognizeResponse
	if save {
		resp.Recognition, resp.Session, err = h.svc.RecognizeAndSave(r.Context(), classID(r), photo)
	} else {
		resp.Recognition, err = h.svc.Recognize(r.Context(), classID(r), photo)
	}
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Save stores a session from the statuses confirmed by the caller. It accepts
// either JSON or a form with one status_<student id> field per student.
func (h *AttendanceHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req SaveRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if !decodeJSON(w, r, &req) {
			return
		}
		for i := range req.Statuses {
			req.Statuses[i].Status = database.ParseStatus(string(req.Statuses[i].Status))
		}
	} else {
		statuses, ok := parseStatusForm(w, r)
		if !ok {
			return
		}
		req.Statuses = statuses
	}

	var takenAt time.Time
	if req.TakenAt != nil {
		takenAt = req.TakenAt.Local()
	}
	saved, err := h.svc.SaveSession(r.Context(), classID(r), req.Statuses, takenAt)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, saved)
}

// parseStatusForm reads status_<student id> fields in key order.
func parseStatusForm(w http.ResponseWriter, r *http.Request) ([]database.AttendanceStatus, bool) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if !parseMultipart(w, r) {
			return nil, false
		}
	} else if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse form")
		return nil, false
	}

	keys := make([]string, 0, len(r.PostForm))
	for key := range r.PostForm {
		if strings.HasPrefix(key, "status_") && len(key) > len("status_") {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	statuses := make([]database.AttendanceStatus, 0, len(keys))
	for _, key := range keys {
		statuses = append(statuses, database.AttendanceStatus{
			PersonID: strings.TrimPrefix(key, "status_"),
			Status:   database.ParseStatus(r.PostForm.Get(key)),
		})
	}
	return statuses, true
}
