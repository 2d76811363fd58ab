package handlers

import (
	"net/http"

	"github.com/kozaktomas/attendance/internal/database"
	"github.com/kozaktomas/attendance/internal/service"
)

// ClassesHandler handles class management endpoints.
type ClassesHandler struct {
	svc *service.Service
}

// NewClassesHandler creates a new classes handler.
func NewClassesHandler(svc *service.Service) *ClassesHandler {
	return &ClassesHandler{svc: svc}
}

// ClassSummary is a class in list responses.
type ClassSummary struct {
	ID           string `json:"safe_name"`
	Name         string `json:"name"`
	StudentCount int    `json:"student_count"`
	CreatedAt    string `json:"created_at"`
}

// CreateClassRequest is the body of POST /classes.
type CreateClassRequest struct {
	Name string `json:"class_name"`
}

// List returns every class.
func (h *ClassesHandler) List(w http.ResponseWriter, r *http.Request) {
	groups, err := h.svc.ListClasses(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	result := make([]ClassSummary, 0, len(groups))
	for _, g := range groups {
		result = append(result, ClassSummary{
			ID:           g.ID,
			Name:         g.DisplayName,
			StudentCount: len(g.Persons),
			CreatedAt:    g.CreatedAt.Format(database.DateLayout + " " + database.TimeLayout),
		})
	}
	respondJSON(w, http.StatusOK, result)
}

// Create creates an empty class.
func (h *ClassesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateClassRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "class_name is required")
		return
	}

	g, err := h.svc.CreateClass(r.Context(), req.Name)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, g)
}

// Get returns a class with its roster.
func (h *ClassesHandler) Get(w http.ResponseWriter, r *http.Request) {
	g, err := h.svc.GetClass(r.Context(), classID(r))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, g)
}

// Delete removes a class with its photos and history.
func (h *ClassesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteClass(r.Context(), classID(r)); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"deleted": classID(r)})
}

// Regenerate recomputes the reference descriptors of a class.
func (h *ClassesHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.RegenerateDescriptors(r.Context(), classID(r), nil)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
