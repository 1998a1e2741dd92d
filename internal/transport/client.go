// Package transport uploads detection reports as rows to a REST row-insert
// endpoint (PostgREST style, as served by Supabase).
package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/dispatch"
)

// Config describes the upload endpoint.
type Config struct {
	BaseURL  string
	Table    string
	APIKey   string
	DeviceID string
	Timeout  time.Duration
}

// DefaultConfig returns the table and timeout used by the reporting backend.
func DefaultConfig() Config {
	return Config{
		Table:   "cipari",
		Timeout: 15 * time.Second,
	}
}

// row is the JSON body of one insert.
type row struct {
	Label       string  `json:"label"`
	Confidence  float64 `json:"confidence"`
	Timestamp   int64   `json:"timestamp"`
	Left        float64 `json:"left"`
	Top         float64 `json:"top"`
	Right       float64 `json:"right"`
	Bottom      float64 `json:"bottom"`
	DeviceID    string  `json:"device_id"`
	ImageBase64 string  `json:"image_base64,omitempty"`
}

// Client posts reports to {BaseURL}/rest/v1/{Table}.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a Client. BaseURL must be set.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("transport: base URL is required")
	}
	if cfg.Table == "" {
		cfg.Table = DefaultConfig().Table
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Endpoint returns the insert URL.
func (c *Client) Endpoint() string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/rest/v1/" + c.cfg.Table
}

// Upload inserts one row. A non-2xx response is returned as a Result with an
// error; I/O failures return only an error.
func (c *Client) Upload(ctx context.Context, u dispatch.Upload) (dispatch.Result, error) {
	body := row{
		Label:      u.Label,
		Confidence: float64(u.Confidence),
		Timestamp:  u.Timestamp.UnixMilli(),
		Left:       float64(u.Box.Left),
		Top:        float64(u.Box.Top),
		Right:      float64(u.Box.Right),
		Bottom:     float64(u.Box.Bottom),
		DeviceID:   c.cfg.DeviceID,
	}
	if len(u.JPEG) > 0 {
		body.ImageBase64 = base64.StdEncoding.EncodeToString(u.JPEG)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return dispatch.Result{}, errors.Wrap(err, "marshal row")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), bytes.NewReader(payload))
	if err != nil {
		return dispatch.Result{}, errors.Wrap(err, "build request")
	}
	req.Header.Set("apikey", c.cfg.APIKey)
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return dispatch.Result{}, errors.Wrap(err, "post row")
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	result := dispatch.Result{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	if text := strings.TrimSpace(string(msg)); text != "" {
		result.Message = text
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return result, errors.Errorf("HTTP %d: %s", result.StatusCode, result.Message)
	}
	return result, nil
}
