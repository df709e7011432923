package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/glorpus-work/kpm/pkg/model"
)

// NewUninstallCmd creates the uninstall command.
func NewUninstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "uninstall NAME...",
		Aliases: []string{"remove", "rm"},
		Short:   "Uninstall packages",
		Long: `Remove installed packages together with their install directories.

Uninstalling a package that is not installed is not an error.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUninstall(cmd, args)
		},
	}

	return cmd
}

type uninstallView struct {
	Name    string `json:"name"`
	Removed bool   `json:"removed"`
}

func runUninstall(cmd *cobra.Command, names []string) error {
	for _, name := range names {
		if err := model.ValidatePackageName(name); err != nil {
			return err
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	orch, err := newOrchestrator(cfg, commandHooks(cmd, cfg))
	if err != nil {
		return err
	}

	var (
		views  []uninstallView
		result model.BatchResult
	)
	for _, name := range names {
		removed, err := orch.Uninstall(cmd.Context(), name)
		if err != nil {
			result.Failed = append(result.Failed, model.PackageFailure{Name: name, Err: err})
			continue
		}
		views = append(views, uninstallView{Name: name, Removed: removed})
		result.Succeeded = append(result.Succeeded, model.PackageOutcome{Name: name})
	}

	out := cmd.OutOrStdout()
	if jsonOutput(cfg) {
		if err := writeJSON(out, struct {
			Uninstalled []uninstallView `json:"uninstalled"`
			Failed      []failureView   `json:"failed"`
		}{views, failureViews(result.Failed)}); err != nil {
			return err
		}
		return batchError(result)
	}

	for _, v := range views {
		if v.Removed {
			_, _ = fmt.Fprintf(out, "removed %s\n", v.Name)
		} else {
			_, _ = fmt.Fprintf(out, "%s is not installed\n", v.Name)
		}
	}
	return batchError(result)
}
