package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(WARN, &buf, false)

	l.Info("Pipeline", "hidden %d", 1)
	l.Warn("Dispatch", "upload HTTP %d", 500)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] [Dispatch] upload HTTP 500")

	buf.Reset()
	l.SetLevel(SILENT)
	l.Error("Dispatch", "nothing")
	assert.Empty(t, buf.String())
	assert.Equal(t, SILENT, l.GetLevel())
}

func TestColorPrefix(t *testing.T) {
	var buf bytes.Buffer
	New(DEBUG, &buf, true).Debug("", "x")
	assert.Contains(t, buf.String(), levelColors[DEBUG]+"[DEBUG]"+resetColor+" x")
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]LogLevel{
		"debug": DEBUG, "INFO": INFO, "warning": WARN, "error": ERROR, "none": SILENT,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "detector.log")
	f := RotatingFile(path, 0, 0)
	l := New(INFO, f, false)
	l.Info("Main", "hello")
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[INFO] [Main] hello")
}
