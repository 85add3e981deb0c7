package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vampirenirmal/novelist/internal/manuscript"
	"github.com/vampirenirmal/novelist/internal/orchestrator"
	"github.com/vampirenirmal/novelist/internal/story"
)

var allowUnresolved bool

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run the generation pipeline until the story is complete",
	RunE:  runGenerate,
}

func init() {
	generateCmd.Flags().BoolVar(&allowUnresolved, "allow-unresolved", false,
		"finish even if major plot threads remain unresolved")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, s, err := setup()
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := context.Background()

	// First run creates the story row from config; later runs resume it.
	if _, err := s.Story(ctx); errors.Is(err, story.ErrNotFound) {
		err = s.CreateStory(ctx, &story.Story{
			ID:       uuid.NewString(),
			Title:    cfg.Story.Title,
			Premise:  cfg.Story.Premise,
			Genre:    cfg.Story.Genre,
			Tone:     cfg.Story.Tone,
			Language: cfg.Story.Language,
		})
		if err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	ai, err := newAgent(cfg)
	if err != nil {
		return err
	}

	o := orchestrator.New(s, ai, orchestrator.Options{
		ConsistencyThreshold: cfg.AI.ConsistencyThreshold,
		AllowUnresolved:      allowUnresolved || cfg.Story.AllowUnresolved,
	})
	report, err := o.Run(ctx)
	if err != nil {
		return err
	}

	cmd.Printf("run %s finished in state %s\n", report.RunID, report.State)
	cmd.Printf("scenes written: %d, revised: %d\n", report.ScenesWritten, report.ScenesRevised)
	if len(report.UnresolvedMajorThreads) > 0 {
		cmd.Printf("unresolved major threads: %v\n", report.UnresolvedMajorThreads)
	}
	for _, issue := range report.ResidualIssues {
		cmd.Printf("residual issue (%s): %s\n", issue.Type, issue.Description)
	}

	if report.State != orchestrator.StateDone {
		cmd.Println("story not complete; re-run (use --allow-unresolved to force completion)")
		return nil
	}

	artifacts := manuscript.NewArtifactStore(cfg.Paths.OutputDir)
	if err := manuscript.NewAssembler(s).Export(ctx, artifacts); err != nil {
		return fmt.Errorf("exporting: %w", err)
	}
	cmd.Printf("manuscript exported to %s\n", cfg.Paths.OutputDir)
	return nil
}
