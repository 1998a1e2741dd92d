package model

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// RemoteConfig points at an HTTP inference endpoint.
type RemoteConfig struct {
	URL     string
	Timeout time.Duration
}

// Remote runs inference by POSTing the raw input tensor (little-endian
// float32, shape in X-Input-Shape) and reading back {"shape":[...],"data":[...]}.
type Remote struct {
	cfg  RemoteConfig
	http *http.Client
}

type remoteOutput struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// NewRemote creates a Remote runtime.
func NewRemote(cfg RemoteConfig) (*Remote, error) {
	if cfg.URL == "" {
		return nil, errors.New("model: inference URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Remote{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

// Infer sends one canvas and returns the output tensor.
func (r *Remote) Infer(ctx context.Context, canvas *image.RGBA) (*tensor.Dense, error) {
	input := CanvasToInput(canvas)
	body := make([]byte, 4*len(input))
	for i, v := range input {
		binary.LittleEndian.PutUint32(body[i*4:], math.Float32bits(v))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build inference request")
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Input-Shape", formatShape(InputShape(canvas.Bounds().Dx())))

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "inference request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, errors.Errorf("inference HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out remoteOutput
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "decode inference output")
	}
	return toTensor(out)
}

func toTensor(out remoteOutput) (*tensor.Dense, error) {
	if len(out.Shape) == 0 || len(out.Data) == 0 {
		return nil, errors.New("inference output is empty")
	}
	size := 1
	for _, d := range out.Shape {
		if d <= 0 {
			return nil, errors.Errorf("inference output has invalid shape %v", out.Shape)
		}
		size *= d
	}
	if size != len(out.Data) {
		return nil, errors.Errorf("inference output shape %v needs %d values, got %d", out.Shape, size, len(out.Data))
	}
	return tensor.New(tensor.WithShape(out.Shape...), tensor.WithBacking(out.Data)), nil
}

func formatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

// String describes the runtime for logs.
func (r *Remote) String() string {
	return fmt.Sprintf("remote(%s)", r.cfg.URL)
}
