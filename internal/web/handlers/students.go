package handlers

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/attendance/internal/database"
	"github.com/kozaktomas/attendance/internal/service"
)

// StudentsHandler handles roster and enrollment endpoints.
type StudentsHandler struct {
	svc *service.Service
}

// NewStudentsHandler creates a new students handler.
func NewStudentsHandler(svc *service.Service) *StudentsHandler {
	return &StudentsHandler{svc: svc}
}

// UpsertStudentsRequest is the JSON body of POST /classes/{class}/students.
type UpsertStudentsRequest struct {
	Students []database.PersonInput `json:"students"`
}

// StudentFormResponse reports a row-indexed form submission.
type StudentFormResponse struct {
	Updated  int                                 `json:"updated"`
	Warnings []string                            `json:"warnings"`
	Photos   map[string]*service.AddPhotosResult `json:"photos"`
}

// Upsert adds or renames students from a JSON list.
func (h *StudentsHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req UpsertStudentsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.svc.UpsertStudents(r.Context(), classID(r), req.Students)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// formRow is one student row of the enrollment form.
type formRow struct {
	id    string
	name  string
	files []*multipart.FileHeader
}

// parseStudentForm groups student_<n>_id, student_<n>_name and
// student_<n>_photos fields by row index.
func parseStudentForm(form *multipart.Form) map[int]*formRow {
	rows := make(map[int]*formRow)
	row := func(key, suffix string) (*formRow, bool) {
		if !strings.HasPrefix(key, "student_") || !strings.HasSuffix(key, suffix) {
			return nil, false
		}
		idx, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(key, "student_"), suffix))
		if err != nil || idx < 0 {
			return nil, false
		}
		if rows[idx] == nil {
			rows[idx] = &formRow{}
		}
		return rows[idx], true
	}

	for key, values := range form.Value {
		if len(values) == 0 {
			continue
		}
		if fr, ok := row(key, "_id"); ok {
			fr.id = strings.TrimSpace(values[0])
		} else if fr, ok := row(key, "_name"); ok {
			fr.name = strings.TrimSpace(values[0])
		}
	}
	for key, files := range form.File {
		if fr, ok := row(key, "_photos"); ok {
			for _, fh := range files {
				if fh.Filename != "" {
					fr.files = append(fr.files, fh)
				}
			}
		}
	}
	return rows
}

// UpsertForm handles the row-indexed enrollment form: students are upserted
// first, then each row's photos are enrolled. Problems with single rows or
// photos are reported as warnings.
func (h *StudentsHandler) UpsertForm(w http.ResponseWriter, r *http.Request) {
	if !parseMultipart(w, r) {
		return
	}
	rows := parseStudentForm(r.MultipartForm)
	indexes := make([]int, 0, len(rows))
	for idx := range rows {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	resp := StudentFormResponse{Warnings: []string{}, Photos: map[string]*service.AddPhotosResult{}}
	var inputs []database.PersonInput
	for _, idx := range indexes {
		fr := rows[idx]
		if fr.id == "" && fr.name == "" {
			continue
		}
		if fr.id == "" || fr.name == "" {
			resp.Warnings = append(resp.Warnings, fmt.Sprintf("Row %d: both Student ID and Name are required. Skipping this row.", idx+1))
			continue
		}
		inputs = append(inputs, database.PersonInput{PersonID: fr.id, Name: fr.name})
	}

	if len(inputs) > 0 {
		res, err := h.svc.UpsertStudents(r.Context(), classID(r), inputs)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		resp.Updated = res.Updated
		for _, warn := range res.Warnings {
			resp.Warnings = append(resp.Warnings, warn.Message)
		}
	} else if _, err := h.svc.GetClass(r.Context(), classID(r)); err != nil {
		respondServiceError(w, r, err)
		return
	}

	for _, idx := range indexes {
		fr := rows[idx]
		if len(fr.files) == 0 {
			continue
		}
		if fr.id == "" {
			resp.Warnings = append(resp.Warnings, fmt.Sprintf("Photo provided for row %d but Student ID missing. Photo skipped.", idx+1))
			continue
		}
		uploads, err := readUploads(fr.files)
		if err != nil {
			resp.Warnings = append(resp.Warnings, err.Error())
			continue
		}
		res, err := h.svc.AddPhotos(r.Context(), classID(r), fr.id, uploads)
		if err != nil {
			resp.Warnings = append(resp.Warnings, fmt.Sprintf("Error processing photo for %s: %v", fr.id, err))
			continue
		}
		for _, o := range res.Outcomes {
			if o.Error != "" {
				resp.Warnings = append(resp.Warnings, fmt.Sprintf("Error processing photo %s for %s: %s", o.Filename, fr.id, o.Error))
			}
		}
		resp.Photos[fr.id] = res
	}

	respondJSON(w, http.StatusOK, resp)
}

// AddPhotos enrolls the files of the "photos" field for one student.
func (h *StudentsHandler) AddPhotos(w http.ResponseWriter, r *http.Request) {
	if !parseMultipart(w, r) {
		return
	}
	files := r.MultipartForm.File["photos"]
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, "no photos uploaded")
		return
	}
	uploads, err := readUploads(files)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.svc.AddPhotos(r.Context(), classID(r), chi.URLParam(r, "student"), uploads)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// Delete removes a student with their reference photos.
func (h *StudentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "student")
	if err := h.svc.DeletePerson(r.Context(), classID(r), studentID); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"deleted": studentID})
}
