package detection

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detector/internal/geometry"
)

func TestNewNormalizesBox(t *testing.T) {
	d := New(geometry.Rect{Left: 50, Top: 60, Right: 10, Bottom: 20}, geometry.SpaceFrame, "7", 0.8)
	assert.Equal(t, geometry.Rect{Left: 10, Top: 20, Right: 50, Bottom: 60}, d.Box())
	assert.Equal(t, geometry.SpaceFrame, d.Space())
}

func TestInReturnsNewValue(t *testing.T) {
	d := New(geometry.Rect{Left: 1, Top: 2, Right: 3, Bottom: 4}, geometry.SpaceFrame, "3", 0.9)
	moved := d.In(geometry.SpaceDisplay, geometry.Rect{Left: 10, Top: 20, Right: 30, Bottom: 40})

	assert.Equal(t, geometry.SpaceFrame, d.Space())
	assert.Equal(t, geometry.Rect{Left: 1, Top: 2, Right: 3, Bottom: 4}, d.Box())
	assert.Equal(t, geometry.SpaceDisplay, moved.Space())
	assert.Equal(t, "3", moved.Label())
	assert.Equal(t, float32(0.9), moved.Confidence())
}

func TestLabelsLookup(t *testing.T) {
	labels := Labels{"0", "1", "2"}
	assert.Equal(t, "1", labels.Lookup(1))
	assert.Equal(t, UnknownLabel, labels.Lookup(3))
	assert.Equal(t, UnknownLabel, labels.Lookup(-1))
	assert.Equal(t, UnknownLabel, Labels(nil).Lookup(0))
}

func TestParseLabels(t *testing.T) {
	labels, err := ParseLabels(strings.NewReader("zero\r\none\n two \n"))
	require.NoError(t, err)
	assert.Equal(t, Labels{"zero", "one", "two"}, labels)
}

func TestLoadLabels(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\n"), 0o644))

	labels, err := LoadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, Labels{"a", "b"}, labels)

	labels, err = LoadLabels(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
	assert.Equal(t, FallbackLabels(), labels)

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	labels, err = LoadLabels(empty)
	assert.Error(t, err)
	assert.Equal(t, FallbackLabels(), labels)
}
