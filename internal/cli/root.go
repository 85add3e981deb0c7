// Package cli wires the novelist commands. Commands are thin: they load
// config, open the store, and delegate to the internal packages.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vampirenirmal/novelist/internal/agent"
	"github.com/vampirenirmal/novelist/internal/config"
	"github.com/vampirenirmal/novelist/internal/store"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "novelist",
	Short: "Long-form fiction generator",
	Long: `novelist drafts a novel scene by scene through a language-model
collaborator, tracking plot threads, character state and world facts in a
local database so every scene stays consistent with what came before.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr,
			&slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// setup loads config and opens the store; every command starts here.
func setup() (*config.Config, *store.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	s, err := store.Open(cfg.Paths.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}
	return cfg, s, nil
}

func newAgent(cfg *config.Config) (*agent.Client, error) {
	opts := []agent.Option{
		agent.WithModel(cfg.AI.Model),
		agent.WithRetry(cfg.AI.MaxRetries),
	}
	if cfg.AI.BaseURL != "" {
		opts = append(opts, agent.WithBaseURL(cfg.AI.APIKey, cfg.AI.BaseURL))
	}
	if cfg.AI.RequestsPerSecond > 0 {
		opts = append(opts, agent.WithRateLimit(int(cfg.AI.RequestsPerSecond*60), 1))
	}
	return agent.NewClient(cfg.AI.APIKey, opts...)
}
