// Package detector talks to the external face detection and embedding service.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/attendance/internal/constants"
	"github.com/kozaktomas/attendance/internal/facematch"
)

const defaultURL = "http://localhost:8000"

// Face is one detected face in original image coordinates.
type Face struct {
	BBox       []float64            `json:"bbox"` // [x1, y1, x2, y2] in pixels
	Descriptor facematch.Descriptor `json:"-"`
	DetScore   float64              `json:"det_score"`
}

// Detection is the result of one detection call.
type Detection struct {
	Width  int
	Height int
	Faces  []Face
}

// Client computes face descriptors using the embedding server
type Client struct {
	baseURL      string
	maxImageSize int
	client       *http.Client
}

// New creates a detector client. An empty baseURL uses the local default,
// a non-positive maxImageSize uses constants.MaxImageSize.
func New(baseURL string, maxImageSize int, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultURL
	}
	if maxImageSize <= 0 {
		maxImageSize = constants.MaxImageSize
	}
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		maxImageSize: maxImageSize,
		client:       &http.Client{Timeout: timeout},
	}
}

// faceDetection represents a single detected face in the service response
type faceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// faceResponse represents the response from the face embedding endpoint
type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// postMultipartImage posts the JPEG image as the "file" form field to endpoint.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// DetectFaces finds every face in the image and returns its descriptor.
// Zero faces is a valid result. Bounding boxes are mapped back to the
// original image size when the image was shrunk before sending.
func (c *Client) DetectFaces(ctx context.Context, imageData []byte) (*Detection, error) {
	prepared, err := PrepareImage(imageData, c.maxImageSize)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	body, err := c.postMultipartImage(ctx, "/embed/face", prepared.Data)
	if err != nil {
		return nil, err
	}

	var faceResp faceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	det := &Detection{
		Width:  prepared.Width,
		Height: prepared.Height,
		Faces:  make([]Face, 0, len(faceResp.Faces)),
	}
	for _, f := range faceResp.Faces {
		det.Faces = append(det.Faces, Face{
			BBox:       facematch.ScaleBBox(f.BBox, prepared.Scale),
			Descriptor: facematch.Descriptor(f.Embedding),
			DetScore:   f.DetScore,
		})
	}

	zap.L().Debug("faces detected",
		zap.Int("faces", len(det.Faces)),
		zap.String("model", faceResp.Model),
		zap.Float64("scale", prepared.Scale),
		zap.Duration("took", time.Since(start)))
	return det, nil
}
