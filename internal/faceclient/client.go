package faceclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrUnavailable means the face service could not be reached or failed internally.
	ErrUnavailable = errors.New("face service unavailable")
	// ErrBadImage means the service rejected the payload as not decodable.
	ErrBadImage = errors.New("image rejected by face service")
)

// Detection is one face found in an image.
type Detection struct {
	BBox      [4]float64 `json:"bbox"` // x1, y1, x2, y2 in pixels
	Embedding []float32  `json:"embedding"`
	Score     float64    `json:"det_score"`
}

// Area returns the bounding box area; a malformed box has zero area.
func (d Detection) Area() float64 {
	w := d.BBox[2] - d.BBox[0]
	h := d.BBox[3] - d.BBox[1]
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Largest returns the index of the detection with the biggest box, or -1.
func Largest(dets []Detection) int {
	best := -1
	for i, d := range dets {
		if best == -1 || d.Area() > dets[best].Area() {
			best = i
		}
	}
	return best
}

// Client calls the face recognition microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client with configurable timeout.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type detectRequest struct {
	Image string `json:"image"`
}

type detectResponse struct {
	Faces []Detection `json:"faces"`
}

// DetectAndEmbed sends one encoded image (JPEG or PNG) and returns every face
// found with its embedding. An empty image yields no detections. In skip mode
// no request is made and no faces are returned.
func (c *Client) DetectAndEmbed(ctx context.Context, image []byte) ([]Detection, error) {
	if c.Skip || len(image) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(detectRequest{Image: base64.StdEncoding.EncodeToString(image)})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/detect", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %s: %s", ErrUnavailable, resp.Status, string(msg))
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %s: %s", ErrBadImage, resp.Status, string(msg))
	}

	var out detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode detect response: %w", err)
	}
	return out.Faces, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: unhealthy: %s", ErrUnavailable, resp.Status)
	}
	return nil
}
