package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid config",
			config: Config{
				AI: AIConfig{
					APIKey: "sk-1234567890abcdef1234567890abcdef",
					Model:  "gpt-4o-mini",
				},
				Story: StoryConfig{
					Title: "The Relic", Premise: "a quest", Genre: "fantasy",
				},
			},
			wantErr: false,
		},
		{
			name: "api key too short",
			config: Config{
				AI:    AIConfig{APIKey: "short", Model: "gpt-4o-mini"},
				Story: StoryConfig{Title: "The Relic", Premise: "a quest", Genre: "fantasy"},
			},
			wantErr: true,
			errMsg:  "AI.APIKey",
		},
		{
			name: "missing premise",
			config: Config{
				AI:    AIConfig{APIKey: "sk-1234567890abcdef1234567890abcdef", Model: "gpt-4o-mini"},
				Story: StoryConfig{Title: "The Relic", Genre: "fantasy"},
			},
			wantErr: true,
			errMsg:  "Story.Premise",
		},
		{
			name: "bad base url",
			config: Config{
				AI: AIConfig{
					APIKey: "sk-1234567890abcdef1234567890abcdef",
					Model:  "gpt-4o-mini", BaseURL: "not a url",
				},
				Story: StoryConfig{Title: "The Relic", Premise: "a quest", Genre: "fantasy"},
			},
			wantErr: true,
			errMsg:  "AI.BaseURL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected validation error")
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("error %q does not mention %q", err, tt.errMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoadAppliesDefaultsAndEnvKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
ai:
  api_key: ${OPENAI_API_KEY}
story:
  title: The Relic
  premise: a quest for a lost relic
  genre: fantasy
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OPENAI_API_KEY", "sk-1234567890abcdef1234567890abcdef")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AI.APIKey != "sk-1234567890abcdef1234567890abcdef" {
		t.Errorf("api key not taken from environment")
	}
	if cfg.AI.Model != "gpt-4o-mini" {
		t.Errorf("model default not applied, got %q", cfg.AI.Model)
	}
	if cfg.Paths.Database != filepath.Join(dir, "novel.db") {
		t.Errorf("database default not applied, got %q", cfg.Paths.Database)
	}
}
