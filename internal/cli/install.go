package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/glorpus-work/kpm/pkg/model"
	"github.com/glorpus-work/kpm/pkg/orchestrator"
)

// NewInstallCmd creates the install command.
func NewInstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install NAME[@VERSION]...",
		Short: "Install packages",
		Long: `Install one or more packages from the registry.

Without @VERSION the registry's latest release is installed. Installing over
an existing package replaces its directory completely. A package's
post-install hook only runs when hooks_enabled is set in the config.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(cmd, args)
		},
	}

	return cmd
}

type installRequest struct {
	name  string
	token model.VersionToken
}

func runInstall(cmd *cobra.Command, args []string) error {
	// Reject malformed arguments before touching the install root.
	requests := make([]installRequest, 0, len(args))
	for _, arg := range args {
		name, token, err := parsePackageArg(arg)
		if err != nil {
			return err
		}
		requests = append(requests, installRequest{name: name, token: token})
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
		installed []*orchestrator.InstallResult
		result    model.BatchResult
	)
	for _, req := range requests {
		res, err := orch.Install(cmd.Context(), req.name, req.token)
		if err != nil {
			result.Failed = append(result.Failed, model.PackageFailure{Name: req.name, Err: err})
			continue
		}
		installed = append(installed, res)
		result.Succeeded = append(result.Succeeded, model.PackageOutcome{
			Name:            res.Name,
			PreviousVersion: res.PreviousVersion,
			Version:         res.Version,
		})
	}

	out := cmd.OutOrStdout()
	if jsonOutput(cfg) {
		if err := writeJSON(out, struct {
			Installed []*orchestrator.InstallResult `json:"installed"`
			Failed    []failureView                 `json:"failed"`
		}{installed, failureViews(result.Failed)}); err != nil {
			return err
		}
	} else {
		printInstalled(out, installed)
	}

	return batchError(result)
}

func printInstalled(w io.Writer, installed []*orchestrator.InstallResult) {
	for _, res := range installed {
		if res.PreviousVersion != "" && res.PreviousVersion != res.Version {
			_, _ = fmt.Fprintf(w, "%s %s -> %s (%s)\n", res.Name, res.PreviousVersion, res.Version, res.Path)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s %s (%s)\n", res.Name, res.Version, res.Path)
	}
}
