package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/glorpus-work/kpm/pkg/model"
)

// NewUpdateCmd creates the update command.
func NewUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update [NAME...]",
		Short: "Update installed packages",
		Long: `Update packages to the registry's latest release.

Without arguments every installed package is updated. Packages that are
already current are left untouched. A failure of one package does not stop
the others.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(cmd, args)
		},
	}

	return cmd
}

func runUpdate(cmd *cobra.Command, names []string) error {
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

	var result model.BatchResult
	if len(names) == 0 {
		result, err = orch.UpdateAll(cmd.Context())
		if err != nil {
			return err
		}
	} else {
		for _, name := range names {
			res, err := orch.Update(cmd.Context(), name)
			if err != nil {
				result.Failed = append(result.Failed, model.PackageFailure{Name: name, Err: err})
				continue
			}
			result.Succeeded = append(result.Succeeded, model.PackageOutcome{
				Name:            res.Name,
				PreviousVersion: res.PreviousVersion,
				Version:         res.Version,
				UpToDate:        res.UpToDate,
			})
		}
	}

	out := cmd.OutOrStdout()
	if jsonOutput(cfg) {
		succeeded := result.Succeeded
		if succeeded == nil {
			succeeded = []model.PackageOutcome{}
		}
		if err := writeJSON(out, struct {
			Succeeded []model.PackageOutcome `json:"succeeded"`
			Failed    []failureView          `json:"failed"`
		}{succeeded, failureViews(result.Failed)}); err != nil {
			return err
		}
	} else {
		printUpdates(out, result)
	}

	return batchError(result)
}

func printUpdates(w io.Writer, result model.BatchResult) {
	if len(result.Succeeded) == 0 && len(result.Failed) == 0 {
		_, _ = fmt.Fprintln(w, "No packages installed")
		return
	}
	for _, o := range result.Succeeded {
		if o.UpToDate {
			_, _ = fmt.Fprintf(w, "%s %s is up to date\n", o.Name, o.Version)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s %s -> %s\n", o.Name, o.PreviousVersion, o.Version)
	}
	for _, f := range result.Failed {
		_, _ = fmt.Fprintf(w, "%s failed: %v\n", f.Name, f.Err)
	}
}
