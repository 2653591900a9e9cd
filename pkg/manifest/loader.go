package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a patch manifest file and returns it validated, with defaults
// applied. The format is sniffed from the content, not the extension.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("manifest %s not found", path)
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data, path)
}

// Parse decodes a JSON or YAML manifest.
//
// The document is checked against the schema in its raw form, so unknown
// fields are rejected, then decoded, defaulted and checked for the values
// the schema cannot express. name only labels errors.
func Parse(data []byte, name string) (*Manifest, error) {
	raw, err := normalize(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", name, err)
	}

	if err := ValidateRaw(raw); err != nil {
		return nil, err
	}

	m := &Manifest{}
	if err := json.Unmarshal(raw, m); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", name, err)
	}
	m.ApplyDefaults()
	if errs := m.checkValues(); len(errs) > 0 {
		return nil, errs
	}
	return m, nil
}

// normalize returns the document as JSON. JSON passes through untouched;
// anything else is read as YAML.
func normalize(data []byte) ([]byte, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("document is empty")
	}
	if json.Valid(data) {
		return data, nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("not a JSON-compatible document: %w", err)
	}
	return raw, nil
}
