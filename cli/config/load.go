package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format is a config file syntax.
type Format string

// Supported formats.
const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatINI  Format = "ini"
)

// FormatOf picks the format from the file extension. Anything other than
// .toml or .ini is read as YAML.
func FormatOf(path string) Format {
	switch ext := filepath.Ext(path); {
	case strings.EqualFold(ext, ".toml"):
		return FormatTOML
	case strings.EqualFold(ext, ".ini"):
		return FormatINI
	default:
		return FormatYAML
	}
}

// Load reads a config file, expands environment variables, and decodes it
// as YAML, TOML, or INI by extension. Unknown keys are rejected.
//
// Load does not validate; call (*File).Validate.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}
	return Parse(FormatOf(path), []byte(ExpandEnv(string(data))), path)
}

// Parse decodes already-expanded config data. name is used in errors.
func Parse(format Format, data []byte, name string) (*File, error) {
	var f File
	switch format {
	case FormatINI:
		return parseINI(data, name)
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, fmt.Errorf("invalid TOML in %s: %s", name, strict.String())
			}
			return nil, fmt.Errorf("invalid TOML in %s: %w", name, err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("invalid YAML in %s: %w", name, err)
		}
	}
	return &f, nil
}
