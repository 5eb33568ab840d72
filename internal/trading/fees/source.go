package fees

import (
	"context"
	"exec_optimizer/internal/core"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Source loads a fee directory from some backing store
type Source interface {
	Name() string
	Load(ctx context.Context) (*Directory, error)
}

// StaticSource serves the built-in tables
type StaticSource struct {
	logger core.ILogger
}

// NewStaticSource creates a source backed by DefaultTable
func NewStaticSource(logger core.ILogger) *StaticSource {
	return &StaticSource{logger: logger}
}

func (s *StaticSource) Name() string { return "builtin" }

func (s *StaticSource) Load(_ context.Context) (*Directory, error) {
	return NewDirectory(DefaultTable(), s.logger)
}

// tableFile is the on-disk YAML / JSON layout of a fee table
type tableFile struct {
	Version   int64                   `yaml:"version" json:"version"`
	Exchanges map[string]ExchangeFees `yaml:"exchanges" json:"exchanges"`
}

func (f tableFile) directory(logger core.ILogger) (*Directory, error) {
	dir, err := NewDirectory(f.Exchanges, logger)
	if err != nil {
		return nil, err
	}
	if f.Version > 0 {
		dir = dir.WithVersion(f.Version)
	}
	return dir, nil
}

// YAMLSource reads fee tables from a YAML file
type YAMLSource struct {
	path   string
	logger core.ILogger
}

// NewYAMLSource creates a file-backed source
func NewYAMLSource(path string, logger core.ILogger) *YAMLSource {
	return &YAMLSource{path: path, logger: logger}
}

func (s *YAMLSource) Name() string { return "yaml" }

func (s *YAMLSource) Load(_ context.Context) (*Directory, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fee table: %w", err)
	}
	return ParseYAML(data, s.logger)
}

// ParseYAML parses a fee table document
func ParseYAML(data []byte, logger core.ILogger) (*Directory, error) {
	var doc tableFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse fee table: %w", err)
	}
	return doc.directory(logger)
}
