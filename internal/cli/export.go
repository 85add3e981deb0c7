package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/vampirenirmal/novelist/internal/manuscript"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Compile the manuscript and story info from the store",
	Long: `Compiles whatever is written so far, complete or not. A failed run
never loses finished scenes; export recovers them.`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, s, err := setup()
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := context.Background()

	artifacts := manuscript.NewArtifactStore(cfg.Paths.OutputDir)
	if err := manuscript.NewAssembler(s).Export(ctx, artifacts); err != nil {
		return err
	}
	m, err := manuscript.NewAssembler(s).Compile(ctx)
	if err != nil {
		return err
	}
	cmd.Printf("exported %d chapters, %d words to %s\n",
		len(m.Chapters), m.TotalWords, cfg.Paths.OutputDir)
	return nil
}
