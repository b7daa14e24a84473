package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileSource loads a configuration document from a local file (YAML or JSON)
type FileSource struct {
	// Path is the file to load
	Path string

	// Format is "yaml", "json", or "auto"
	Format string
}

// Load reads, parses and validates the file
func (fs *FileSource) Load(_ context.Context) (*Config, error) {
	if fs.Path == "" {
		return nil, fmt.Errorf("no file specified to load")
	}

	file, err := os.Open(fs.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	format := fs.Format
	if format == "" || format == "auto" {
		format = detectFormat(fs.Path, data)
	}

	cfg, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to load file %s: %w", fs.Path, err)
	}

	return cfg, nil
}

// Load loads the configuration file at path, detecting its format.
func Load(path string) (*Config, error) {
	return (&FileSource{Path: path}).Load(context.Background())
}

// Parse decodes a "yaml" or "json" document and validates it.
func Parse(data []byte, format string) (*Config, error) {
	var cfg Config

	switch format {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func detectFormat(path string, data []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	default:
		if strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
			return "json"
		}
		return "yaml"
	}
}
