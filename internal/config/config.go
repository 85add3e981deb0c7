// Package config loads and validates the generation configuration from a
// YAML file plus environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	AI    AIConfig    `yaml:"ai" validate:"required"`
	Story StoryConfig `yaml:"story" validate:"required"`
	Paths PathsConfig `yaml:"paths"`
}

type AIConfig struct {
	APIKey               string  `yaml:"api_key" validate:"required,min=20"`
	Model                string  `yaml:"model" validate:"required"`
	BaseURL              string  `yaml:"base_url" validate:"omitempty,url"`
	RequestsPerSecond    float64 `yaml:"requests_per_second" validate:"omitempty,gt=0"`
	MaxRetries           int     `yaml:"max_retries" validate:"omitempty,min=1,max=10"`
	ConsistencyThreshold int     `yaml:"consistency_threshold" validate:"omitempty,min=1,max=10"`
}

type StoryConfig struct {
	Title           string `yaml:"title" validate:"required"`
	Premise         string `yaml:"premise" validate:"required"`
	Genre           string `yaml:"genre" validate:"required"`
	Tone            string `yaml:"tone"`
	Language        string `yaml:"language"`
	AllowUnresolved bool   `yaml:"allow_unresolved"`
}

type PathsConfig struct {
	Database  string `yaml:"database"`
	OutputDir string `yaml:"output_dir"`
}

// Load reads the config file, overlays environment values and validates.
// A missing api_key falls back to OPENAI_API_KEY from the environment or a
// .env file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.AI.APIKey == "" || cfg.AI.APIKey == "${OPENAI_API_KEY}" {
		cfg.AI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	cfg.applyDefaults(filepath.Dir(path))

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults(baseDir string) {
	if c.AI.Model == "" {
		c.AI.Model = "gpt-4o-mini"
	}
	if c.AI.MaxRetries == 0 {
		c.AI.MaxRetries = 3
	}
	if c.Story.Language == "" {
		c.Story.Language = "en"
	}
	if c.Paths.Database == "" {
		c.Paths.Database = filepath.Join(baseDir, "novel.db")
	}
	if c.Paths.OutputDir == "" {
		c.Paths.OutputDir = filepath.Join(baseDir, "output")
	}
}

func (c *Config) validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range errs {
				return fmt.Errorf("config field %s fails %s validation", fe.Namespace(), fe.Tag())
			}
		}
		return err
	}
	return nil
}
