package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vampirenirmal/novelist/internal/consistency"
	"github.com/vampirenirmal/novelist/internal/resolver"
	"github.com/vampirenirmal/novelist/internal/revision"
	"github.com/vampirenirmal/novelist/internal/store"
)

var (
	reviseName        string
	reviseRole        string
	reviseBackstory   string
	revisePersonality string
	reviseDryRun      bool
)

var reviseCmd = &cobra.Command{
	Use:   "revise-character [slug]",
	Short: "Edit a character and cascade the change into affected scenes",
	Args:  cobra.ExactArgs(1),
	RunE:  runRevise,
}

func init() {
	reviseCmd.Flags().StringVar(&reviseName, "name", "", "new name")
	reviseCmd.Flags().StringVar(&reviseRole, "role", "", "new role")
	reviseCmd.Flags().StringVar(&reviseBackstory, "backstory", "", "new backstory")
	reviseCmd.Flags().StringVar(&revisePersonality, "personality", "", "new personality")
	reviseCmd.Flags().BoolVar(&reviseDryRun, "dry-run", false,
		"list affected scenes without rewriting")
	rootCmd.AddCommand(reviseCmd)
}

func runRevise(cmd *cobra.Command, args []string) error {
	slug := args[0]
	changes := store.CharacterChanges{}
	if reviseName != "" {
		changes.Name = &reviseName
	}
	if reviseRole != "" {
		changes.Role = &reviseRole
	}
	if reviseBackstory != "" {
		changes.Backstory = &reviseBackstory
	}
	if revisePersonality != "" {
		changes.Personality = &revisePersonality
	}
	if changes == (store.CharacterChanges{}) {
		return fmt.Errorf("nothing to change; pass at least one field flag")
	}

	cfg, s, err := setup()
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := context.Background()

	current, err := s.Character(ctx, slug)
	if err != nil {
		return err
	}

	// Analyze against the pre-change state, then apply the edit.
	candidates, err := revision.NewAnalyzer(s).CharacterChange(ctx, slug, current.Name, changes)
	if err != nil {
		return err
	}
	for _, c := range candidates {
		cmd.Printf("scene %s priority %d: %s\n", c.Scene.Coordinate(), c.Priority, c.Reason)
	}
	if reviseDryRun {
		return nil
	}

	if err := s.UpdateCharacter(ctx, slug, changes); err != nil {
		return err
	}
	if len(candidates) == 0 {
		cmd.Println("no written scenes affected")
		return nil
	}

	ai, err := newAgent(cfg)
	if err != nil {
		return err
	}
	cascade := revision.NewCascade(s, resolver.New(s, resolver.DefaultLimits()), ai,
		consistency.New(ai, cfg.AI.ConsistencyThreshold), revision.DefaultBatchSize)
	results, err := cascade.Execute(ctx, candidates, nil)
	if err != nil {
		return err
	}
	for _, r := range results {
		cmd.Printf("revised %s\n", r.Coordinate)
		for _, issue := range r.Residual {
			cmd.Printf("  residual issue: %s\n", issue.Description)
		}
	}
	if len(candidates) > len(results) {
		cmd.Printf("%d lower-priority scenes left for the next invocation\n",
			len(candidates)-len(results))
	}
	return nil
}
