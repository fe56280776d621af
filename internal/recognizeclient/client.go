package recognizeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// Image is one classroom photo to run recognition on.
type Image struct {
	Filename string
	Data     []byte
}

// Result is the recognition output. Present entries are "<rollNo>_<name>"
// tokens; the service may include totals but only Present is consumed.
type Result struct {
	Present       []string `json:"present"`
	Absent        []string `json:"absent"`
	TotalDetected int      `json:"total_detected"`
}

// Client calls the face recognition service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. Skip short-circuits calls with a canned result for
// environments without the recognition service.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 60 * time.Second, // multi-image recognition can take time
		},
	}
}

// Recognize uploads the captured images and returns the recognized student
// tokens.
func (c *Client) Recognize(ctx context.Context, images []Image) (*Result, error) {
	if c.Skip {
		return &Result{
			Present:       []string{"101_Mock Student"},
			TotalDetected: 1,
		}, nil
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("at least one image required")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, img := range images {
		part, err := w.CreateFormFile("images", img.Filename)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(img.Data); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/recognize", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("recognition service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("recognition service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}

// Health checks if the recognition service is available.
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
		return fmt.Errorf("recognition service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("recognition service unhealthy: %s", resp.Status)
	}

	return nil
}
