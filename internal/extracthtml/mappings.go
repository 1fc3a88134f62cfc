package extracthtml

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// FieldMapFile describes a field map stored on disk.
type FieldMapFile struct {
	// ItemSelector, if set, selects one extraction scope per record.
	ItemSelector string   `json:"item_selector,omitempty"`
	Fields       FieldMap `json:"fields"`
}

// LoadFieldMapFile loads and validates a JSON field map file.
func LoadFieldMapFile(path string) (*FieldMapFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read field map file: %w", err)
	}

	var mf FieldMapFile
	if err := json.Unmarshal(b, &mf); err != nil {
		return nil, fmt.Errorf("parse field map json: %w", err)
	}

	if err := mf.Fields.Validate(); err != nil {
		return nil, fmt.Errorf("field map %s: %w", path, err)
	}
	return &mf, nil
}

// Validate reports configuration mistakes that would otherwise surface as
// silent defaults: empty or duplicate names, bad regexes, unknown decoders.
func (fm FieldMap) Validate() error {
	if len(fm) == 0 {
		return fmt.Errorf("field map has no fields")
	}

	seen := make(map[string]bool, len(fm))
	for i, f := range fm {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			return fmt.Errorf("field %d: empty name", i)
		}
		if seen[name] {
			return fmt.Errorf("field %q: duplicate name", name)
		}
		seen[name] = true

		if f.Match != "" {
			if _, err := regexp.Compile(f.Match); err != nil {
				return fmt.Errorf("field %q: invalid match regex: %w", name, err)
			}
		}
		switch f.Decode {
		case DecodeNone, DecodeSpamspan:
		default:
			return fmt.Errorf("field %q: unknown decode %q", name, f.Decode)
		}
	}
	return nil
}
