package template

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Parse decodes a template from YAML or JSON bytes and transforms it.
func Parse(data []byte) (Template, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Template{}, fmt.Errorf("template: payload is empty")
	}
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Template{}, fmt.Errorf("template: decode: %w", err)
	}
	return Transform(t)
}

// LoadReader reads a template from r.
func LoadReader(r io.Reader) (Template, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return Template{}, fmt.Errorf("template: read: %w", err)
	}
	return Parse(content)
}

// LoadFile reads a template from disk.
func LoadFile(path string) (Template, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Template{}, fmt.Errorf("template: read %s: %w", path, err)
	}
	t, parseErr := Parse(content)
	if parseErr != nil {
		return Template{}, fmt.Errorf("template: %s: %w", path, parseErr)
	}
	return t, nil
}
