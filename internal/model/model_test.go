package model

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"image"
	"image/color"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanvasToInput(t *testing.T) {
	canvas := image.NewRGBA(image.Rect(0, 0, 2, 2))
	canvas.SetRGBA(1, 0, color.RGBA{R: 255, G: 0, B: 51, A: 255})
	canvas.SetRGBA(0, 1, color.RGBA{R: 0, G: 255, B: 0, A: 255})

	in := CanvasToInput(canvas)
	require.Len(t, in, 2*2*Channels)
	assert.Equal(t, []float32{0, 0, 0}, in[0:3])
	assert.Equal(t, []float32{1, 0, 0.2}, in[3:6])
	assert.Equal(t, []float32{0, 1, 0}, in[6:9])
}

func TestRemoteInfer(t *testing.T) {
	var shapeHeader string
	var received int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		shapeHeader = r.Header.Get("X-Input-Shape")
		body, _ := io.ReadAll(r.Body)
		received = len(body)
		if len(body) >= 4 {
			assert.Equal(t, float32(1), math.Float32frombits(binary.LittleEndian.Uint32(body[:4])))
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"shape": []int{1, 1, 6},
			"data":  []float32{0.5, 0.5, 0.1, 0.1, 2, 0.9},
		})
	}))
	defer srv.Close()

	rt, err := NewRemote(RemoteConfig{URL: srv.URL})
	require.NoError(t, err)

	canvas := image.NewRGBA(image.Rect(0, 0, 4, 4))
	canvas.SetRGBA(0, 0, color.RGBA{R: 255, A: 255})
	out, err := rt.Infer(context.Background(), canvas)
	require.NoError(t, err)

	assert.Equal(t, "1,4,4,3", shapeHeader)
	assert.Equal(t, 4*4*3*4, received)
	assert.Equal(t, []int{1, 1, 6}, []int(out.Shape()))
	assert.Equal(t, []float32{0.5, 0.5, 0.1, 0.1, 2, 0.9}, out.Data())
}

func TestRemoteRejectsMismatchedOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"shape": []int{1, 300, 6},
			"data":  []float32{1, 2, 3},
		})
	}))
	defer srv.Close()

	rt, err := NewRemote(RemoteConfig{URL: srv.URL})
	require.NoError(t, err)
	_, err = rt.Infer(context.Background(), image.NewRGBA(image.Rect(0, 0, 2, 2)))
	assert.Error(t, err)
}

func TestRemoteHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	rt, err := NewRemote(RemoteConfig{URL: srv.URL})
	require.NoError(t, err)
	_, err = rt.Infer(context.Background(), image.NewRGBA(image.Rect(0, 0, 2, 2)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model not loaded")
}
