// Package config loads the per-project .slnfix/config.yaml.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/corey/slnfix/internal/domain/fixer"
	"github.com/corey/slnfix/internal/ports"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds the project configuration.
type Config struct {
	SolutionExt          string        `yaml:"solution_ext" validate:"required,startswith=."`
	ProjectExt           string        `yaml:"project_ext" validate:"required,startswith=."`
	Settle               time.Duration `yaml:"settle" validate:"gte=0"`
	PreserveProjectMTime bool          `yaml:"preserve_project_mtime"`
	Rules                []ports.Rule  `yaml:"rules" validate:"required,min=1,dive"`
	Log                  Log           `yaml:"log"`
}

// Log holds the logging configuration.
type Log struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text logfmt json"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		SolutionExt: ".sln",
		ProjectExt:  ".csproj",
		Settle:      100 * time.Millisecond,
		Rules:       fixer.DefaultRules(),
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path over the defaults and validates the result.
// A missing file yields Default().
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := Default()
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// Save writes cfg as YAML to path, creating or truncating it.
func Save(path string, cfg *Config) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	if err := Encode(file, cfg); err != nil {
		return err
	}
	return file.Close()
}

// Encode writes cfg as YAML to w.
func Encode(w io.Writer, cfg *Config) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return encoder.Close()
}
