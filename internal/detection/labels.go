package detection

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// UnknownLabel names classes that fall outside the label table.
const UnknownLabel = "unknown"

// Labels is an ordered class-label table indexed by class id.
type Labels []string

// FallbackLabels is used when no label file could be read.
func FallbackLabels() Labels { return Labels{UnknownLabel} }

// Lookup returns the label for id, or UnknownLabel when id is out of range.
func (l Labels) Lookup(id int) string {
	if id < 0 || id >= len(l) {
		return UnknownLabel
	}
	return l[id]
}

// ParseLabels reads one label per line.
func ParseLabels(r io.Reader) (Labels, error) {
	var labels Labels
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		labels = append(labels, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read labels")
	}
	return labels, nil
}

// LoadLabels reads a label file. On any failure, or an empty file, it returns
// FallbackLabels together with the error so the pipeline can keep running.
func LoadLabels(path string) (Labels, error) {
	f, err := os.Open(path)
	if err != nil {
		return FallbackLabels(), errors.Wrapf(err, "open labels %s", path)
	}
	defer f.Close()

	labels, err := ParseLabels(f)
	if err != nil {
		return FallbackLabels(), err
	}
	if len(labels) == 0 {
		return FallbackLabels(), errors.Errorf("labels %s: file is empty", path)
	}
	return labels, nil
}
