package inference

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// LoadLabels reads a label file with one label per line, index-aligned to the
// model's output classes.
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLabels, err)
	}
	defer f.Close()
	return ParseLabels(f)
}

// ParseLabels reads labels from r. Trailing whitespace is trimmed and
// trailing empty lines are ignored; empty lines in the middle keep their
// index.
func ParseLabels(r io.Reader) ([]string, error) {
	var labels []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		labels = append(labels, strings.TrimRight(scanner.Text(), " \t\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLabels, err)
	}
	for len(labels) > 0 && labels[len(labels)-1] == "" {
		labels = labels[:len(labels)-1]
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: no labels", ErrLabels)
	}
	return labels, nil
}
