package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/attendance/internal/config"
	"github.com/kozaktomas/attendance/internal/database"
	"github.com/kozaktomas/attendance/internal/database/mock"
	"github.com/kozaktomas/attendance/internal/detector"
	"github.com/kozaktomas/attendance/internal/facematch"
	"github.com/kozaktomas/attendance/internal/service"
)

// stubDetector returns one face per known image content.
type stubDetector struct {
	mu    sync.Mutex
	faces map[string][]facematch.Descriptor
}

func (d *stubDetector) set(image string, descriptors ...facematch.Descriptor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faces[image] = descriptors
}

func (d *stubDetector) DetectFaces(ctx context.Context, data []byte) (*detector.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	det := &detector.Detection{Width: 100, Height: 100}
	for i, desc := range d.faces[string(data)] {
		det.Faces = append(det.Faces, detector.Face{BBox: []float64{float64(i * 10), 0, float64(i*10 + 10), 10}, Descriptor: desc})
	}
	return det, nil
}

// vec builds a 4-dimensional descriptor.
func vec(values ...float32) facematch.Descriptor {
	d := make(facematch.Descriptor, 4)
	copy(d, values)
	return d
}

type testEnv struct {
	svc    *service.Service
	det    *stubDetector
	roster *mock.MockRoster
	ledger *mock.MockLedger
	router *chi.Mux
}

// newTestEnv wires handlers on an in-memory backend the same way the server does.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	b, roster, ledger, _ := mock.NewBackend(50 * time.Millisecond)
	det := &stubDetector{faces: make(map[string][]facematch.Descriptor)}
	svc := service.New(b, det, service.Options{Tolerance: 0.5, Margin: 0.05, Policy: config.PolicyCanonical, Dim: 4})
	svc.Now = func() time.Time { return time.Date(2025, 3, 14, 9, 30, 0, 0, time.Local) }

	classes := NewClassesHandler(svc)
	students := NewStudentsHandler(svc)
	att := NewAttendanceHandler(svc)
	history := NewHistoryHandler(svc)

	r := chi.NewRouter()
	r.Get("/api/v1/summary", history.Summary)
	r.Get("/api/v1/classes", classes.List)
	r.Post("/api/v1/classes", classes.Create)
	r.Route("/api/v1/classes/{class}", func(r chi.Router) {
		r.Get("/", classes.Get)
		r.Delete("/", classes.Delete)
		r.Post("/encodings", classes.Regenerate)
		r.Post("/students", students.Upsert)
		r.Post("/students/form", students.UpsertForm)
		r.Delete("/students/{student}", students.Delete)
		r.Post("/students/{student}/photos", students.AddPhotos)
		r.Post("/attendance", att.Recognize)
		r.Post("/attendance/save", att.Save)
		r.Get("/history", history.List)
		r.Get("/history/{session}", history.View)
		r.Get("/history/{session}/download", history.Download)
		r.Get("/report", history.Report)
	})

	return &testEnv{svc: svc, det: det, roster: roster, ledger: ledger, router: r}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

type formFile struct {
	field, filename, content string
}

func multipartRequest(t *testing.T, path string, fields map[string]string, files []formFile) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	for _, f := range files {
		part, err := writer.CreateFormFile(f.field, f.filename)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		part.Write([]byte(f.content))
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

// seedClass creates "Class 5A" with S1 (vec(1)) and S2 (vec(0,1)) enrolled.
func (e *testEnv) seedClass(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	g, err := e.svc.CreateClass(ctx, "Class 5A")
	if err != nil {
		t.Fatalf("create class: %v", err)
	}
	if _, err := e.svc.UpsertStudents(ctx, g.ID, []database.PersonInput{
		{PersonID: "S1", Name: "Alice"},
		{PersonID: "S2", Name: "Bob"},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	e.det.set("alice", vec(1))
	e.det.set("bob", vec(0, 1))
	for id, img := range map[string]string{"S1": "alice", "S2": "bob"} {
		if _, err := e.svc.AddPhotos(ctx, g.ID, id, []service.Upload{{Filename: img + ".jpg", Data: []byte(img)}}); err != nil {
			t.Fatalf("add photos: %v", err)
		}
	}
	return g.ID
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}

func rawJSONRequest(t *testing.T, method, path, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}
