package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// NewCleanupCmd creates the cleanup command.
func NewCleanupCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove leftovers of interrupted operations",
		Long: `Remove staging directories, stale backups, partial downloads and stray
artifacts below the install root. A backup whose package directory is missing
is restored instead of removed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCleanup(cmd, dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be removed without removing it")

	return cmd
}

func runCleanup(cmd *cobra.Command, dryRun bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	orch, err := newOrchestrator(cfg, commandHooks(cmd, cfg))
	if err != nil {
		return err
	}

	removed, freed, err := orch.Cleanup(cmd.Context(), dryRun)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput(cfg) {
		if removed == nil {
			removed = []string{}
		}
		return writeJSON(out, struct {
			DryRun  bool     `json:"dryRun"`
			Removed []string `json:"removed"`
			Freed   int64    `json:"freedBytes"`
		}{dryRun, removed, freed})
	}

	if len(removed) == 0 {
		_, _ = fmt.Fprintln(out, "Nothing to clean up")
		return nil
	}

	verb := "Removed"
	if dryRun {
		verb = "Would remove"
	}
	for _, p := range removed {
		_, _ = fmt.Fprintf(out, "%s %s\n", verb, p)
	}
	_, _ = fmt.Fprintf(out, "%s %s in total\n", verb, humanize.Bytes(uint64(freed)))
	return nil
}
