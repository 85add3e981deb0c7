package cli

import (
	"context"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show generation progress and open plot threads",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, s, err := setup()
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := context.Background()

	st, err := s.Story(ctx)
	if err != nil {
		return err
	}
	stats, err := s.Stats(ctx)
	if err != nil {
		return err
	}

	cmd.Printf("%s (%s, %s)\n", st.Title, st.Genre, st.Tone)
	cmd.Printf("completed: %v\n", st.Completed)
	cmd.Printf("chapters: %d, scenes: %d written of %d planned\n",
		stats.Chapters, stats.WrittenScenes, stats.Scenes)
	cmd.Printf("characters: %d, plot threads: %d, progressions: %d, revisions: %d\n",
		stats.Characters, stats.PlotThreads, stats.Progressions, stats.Revisions)

	registry, err := s.LoadRegistry(ctx)
	if err != nil {
		return err
	}
	unresolved := registry.UnresolvedMajorThreads()
	if len(unresolved) > 0 {
		cmd.Println("unresolved major threads:")
		for _, t := range unresolved {
			cmd.Printf("  - %s (%s): %s\n", t.Name, t.Status, t.Description)
		}
	}

	pending, err := s.ScenesNeedingRevision(ctx)
	if err != nil {
		return err
	}
	for _, sc := range pending {
		cmd.Printf("needs revision: %s (%s)\n", sc.Coordinate(), sc.RevisionReason)
	}
	return nil
}
