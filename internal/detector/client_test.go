package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestPrepareImage_NoResize(t *testing.T) {
	p, err := PrepareImage(testPNG(t, 40, 20), 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Width != 40 || p.Height != 20 || p.Scale != 1 {
		t.Errorf("unexpected prepared image: %dx%d scale %v", p.Width, p.Height, p.Scale)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(p.Data))
	if err != nil {
		t.Fatalf("decode prepared: %v", err)
	}
	if format != "jpeg" || cfg.Width != 40 {
		t.Errorf("expected 40px jpeg, got %s %dpx", format, cfg.Width)
	}
}

func TestPrepareImage_Resize(t *testing.T) {
	p, err := PrepareImage(testPNG(t, 200, 100), 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Width != 200 || p.Height != 100 {
		t.Errorf("expected original dimensions, got %dx%d", p.Width, p.Height)
	}
	if p.Scale != 4 {
		t.Errorf("expected scale 4, got %v", p.Scale)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(p.Data))
	if err != nil {
		t.Fatalf("decode prepared: %v", err)
	}
	if cfg.Width != 50 || cfg.Height != 25 {
		t.Errorf("expected 50x25, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestPrepareImage_Unsupported(t *testing.T) {
	_, err := PrepareImage([]byte("definitely not an image"), 100)
	if !errors.Is(err, ErrUnsupportedImage) {
		t.Errorf("expected ErrUnsupportedImage, got %v", err)
	}
}

func TestDetectFaces(t *testing.T) {
	var gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file part: %v", err)
			http.Error(w, "bad", http.StatusBadRequest)
			return
		}
		defer file.Close()
		gotContentType = header.Header.Get("Content-Type")
		_, _ = io.Copy(io.Discard, file)

		resp := faceResponse{
			FacesCount: 2,
			Model:      "dlib",
			Faces: []faceDetection{
				{FaceIndex: 0, Dim: 3, Embedding: []float32{1, 0, 0}, BBox: []float64{1, 2, 10, 12}, DetScore: 0.99},
				{FaceIndex: 1, Dim: 3, Embedding: []float32{0, 1, 0}, BBox: []float64{20, 2, 30, 12}, DetScore: 0.8},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := New(server.URL+"/", 50, 5*time.Second)
	det, err := c.DetectFaces(context.Background(), testPNG(t, 100, 50))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotContentType != "image/jpeg" {
		t.Errorf("expected image/jpeg part, got %q", gotContentType)
	}
	if det.Width != 100 || det.Height != 50 {
		t.Errorf("unexpected dimensions %dx%d", det.Width, det.Height)
	}
	if len(det.Faces) != 2 {
		t.Fatalf("expected 2 faces, got %d", len(det.Faces))
	}
	// image was halved before sending, boxes come back doubled
	if det.Faces[0].BBox[2] != 20 || det.Faces[0].BBox[3] != 24 {
		t.Errorf("bbox not scaled back: %v", det.Faces[0].BBox)
	}
	if det.Faces[1].Descriptor[1] != 1 {
		t.Errorf("unexpected descriptor %v", det.Faces[1].Descriptor)
	}
}

func TestDetectFaces_NoFaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"faces_count":0,"faces":[],"model":"dlib"}`))
	}))
	defer server.Close()

	det, err := New(server.URL, 0, time.Second).DetectFaces(context.Background(), testPNG(t, 10, 10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(det.Faces) != 0 {
		t.Errorf("expected no faces, got %d", len(det.Faces))
	}
}

func TestDetectFaces_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := New(server.URL, 0, time.Second).DetectFaces(context.Background(), testPNG(t, 10, 10))
	if err == nil || !strings.Contains(err.Error(), "status 503") {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestDetectFaces_BadImageSkipsRequest(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	_, err := New(server.URL, 0, time.Second).DetectFaces(context.Background(), []byte("nope"))
	if !errors.Is(err, ErrUnsupportedImage) {
		t.Errorf("expected ErrUnsupportedImage, got %v", err)
	}
	if called {
		t.Error("service must not be called for undecodable input")
	}
}
