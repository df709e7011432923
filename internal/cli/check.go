package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/glorpus-work/kpm/pkg/model"
)

// NewCheckCmd creates the check command.
func NewCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [NAME...]",
		Short: "Check installed packages for updates",
		Long: `Compare installed versions with the registry's latest releases without
changing anything. Without arguments every installed package is checked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, args)
		},
	}

	return cmd
}

func runCheck(cmd *cobra.Command, names []string) error {
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

	if len(names) == 0 {
		if names, err = orch.ListInstalled(); err != nil {
			return err
		}
	}

	var (
		checks = make([]model.CheckResult, 0, len(names))
		result model.BatchResult
	)
	for _, name := range names {
		res, err := orch.Check(cmd.Context(), name)
		if err != nil {
			result.Failed = append(result.Failed, model.PackageFailure{Name: name, Err: err})
			continue
		}
		checks = append(checks, res)
	}

	out := cmd.OutOrStdout()
	if jsonOutput(cfg) {
		if err := writeJSON(out, struct {
			Packages []model.CheckResult `json:"packages"`
			Failed   []failureView       `json:"failed"`
		}{checks, failureViews(result.Failed)}); err != nil {
			return err
		}
		return batchError(result)
	}

	if len(checks) == 0 && len(result.Failed) == 0 {
		_, _ = fmt.Fprintln(out, "No packages installed")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, TabWidth, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PACKAGE\tINSTALLED\tLATEST\tSTATUS")
	for _, c := range checks {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Name, dash(c.Current), dash(c.Latest), c.Status)
	}
	for _, f := range result.Failed {
		_, _ = fmt.Fprintf(tw, "%s\t-\t-\terror: %v\n", f.Name, f.Err)
	}
	_ = tw.Flush()

	return batchError(result)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
