package param

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// schemaFile is the on-disk layout shared by every supported format:
//
//	[[parameter]]
//	name = "enabled"
//	type = "boolean"
type schemaFile struct {
	Parameters []rawSpec `json:"parameters" toml:"parameter" yaml:"parameters"`
}

type rawSpec struct {
	Name string `json:"name" toml:"name" yaml:"name"`
	Type string `json:"type" toml:"type" yaml:"type"`
}

// LoadSchema reads a schema file. The format is chosen by extension:
// .toml, .yaml/.yml or .json.
func LoadSchema(path string) (Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, fmt.Errorf("reading schema: %w", err)
	}
	return ParseSchema(data, filepath.Ext(path))
}

// ParseSchema decodes schema bytes in the format named by ext.
func ParseSchema(data []byte, ext string) (Schema, error) {
	var f schemaFile
	switch strings.ToLower(ext) {
	case ".toml":
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&f); err != nil {
			return Schema{}, fmt.Errorf("parsing toml schema: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return Schema{}, fmt.Errorf("parsing yaml schema: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &f); err != nil {
			return Schema{}, fmt.Errorf("parsing json schema: %w", err)
		}
	default:
		return Schema{}, fmt.Errorf("unsupported schema format %q", ext)
	}

	specs := make([]Spec, 0, len(f.Parameters))
	var errs []error
	for _, r := range f.Parameters {
		t, err := ParseType(r.Type)
		if err != nil {
			errs = append(errs, &UnknownTypeError{Name: r.Name, Tag: r.Type})
			continue
		}
		specs = append(specs, Spec{Name: r.Name, Type: t})
	}
	if len(errs) > 0 {
		return Schema{}, errors.Join(errs...)
	}
	return NewSchema(specs...)
}
