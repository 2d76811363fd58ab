package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/attendance/internal/database"
	"github.com/kozaktomas/attendance/internal/service"
)

// HistoryHandler handles session history and reports.
type HistoryHandler struct {
	svc *service.Service
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(svc *service.Service) *HistoryHandler {
	return &HistoryHandler{svc: svc}
}

// SessionView is a stored session with its raw report rows.
type SessionView struct {
	Info    database.SessionInfo `json:"info"`
	Session *database.Session    `json:"session"`
	Rows    [][]string           `json:"rows"`
}

// List returns the sessions of a class, newest first.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	infos, err := h.svc.History(r.Context(), classID(r))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, infos)
}

// View returns one session.
func (h *HistoryHandler) View(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session")
	info, ok := database.ParseSessionID(id)
	if !ok {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}

	rows, err := h.svc.ReadSession(r.Context(), classID(r), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	session, err := database.DecodeSessionReport(classID(r), rows)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, SessionView{Info: info, Session: session, Rows: rows})
}

// Download sends a session as a CSV attachment.
func (h *HistoryHandler) Download(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session")
	if _, ok := database.ParseSessionID(id); !ok {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}

	data, err := h.svc.SessionReport(r.Context(), classID(r), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Report aggregates every session of a class per student.
func (h *HistoryHandler) Report(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.ClassReport(r.Context(), classID(r))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// Summary returns the attendance of all classes on ?date=YYYY-MM-DD
// (default today) compared with the day before.
func (h *HistoryHandler) Summary(w http.ResponseWriter, r *http.Request) {
	day := h.svc.Now()
	if v := r.URL.Query().Get("date"); v != "" {
		d, err := time.ParseInLocation(database.DateLayout, v, time.Local)
		if err != nil {
			respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		day = d
	}

	summary, err := h.svc.Summary(r.Context(), day)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}
