package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/glorpus-work/kpm/internal/logger"
)

// NewListCmd creates the list command.
func NewListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List installed packages",
		Long: `List the packages installed below the install root, with their versions
and install times. Only directories holding a valid manifest are listed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd)
		},
	}

	return cmd
}

type listEntry struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	InstalledAt time.Time `json:"installedAt"`
}

func runList(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	orch, err := newOrchestrator(cfg, commandHooks(cmd, cfg))
	if err != nil {
		return err
	}

	names, err := orch.ListInstalled()
	if err != nil {
		return err
	}

	entries := make([]listEntry, 0, len(names))
	for _, name := range names {
		m, err := orch.ReadManifest(name)
		if err != nil {
			// Removed or corrupted between listing and reading.
			logger.Warn("Skipping package", logger.Fields{"package": name, "error": err.Error()})
			continue
		}
		entries = append(entries, listEntry{Name: name, Version: m.InstalledVersion, InstalledAt: m.InstalledAt})
	}

	out := cmd.OutOrStdout()
	if jsonOutput(cfg) {
		return writeJSON(out, entries)
	}

	if len(entries) == 0 {
		_, _ = fmt.Fprintln(out, "No packages installed")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, TabWidth, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PACKAGE\tVERSION\tINSTALLED")
	for _, e := range entries {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Name, e.Version, humanize.Time(e.InstalledAt))
	}
	return tw.Flush()
}
