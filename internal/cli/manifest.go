package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/glorpus-work/kpm/internal/logger"
	"github.com/glorpus-work/kpm/pkg/model"
)

// manifestView is a manifest plus the registry metadata of its release.
type manifestView struct {
	*model.Manifest
	ManifestMetadata json.RawMessage `json:"manifestMetadata,omitempty"`
}

// NewManifestCmd creates the manifest command.
func NewManifestCmd() *cobra.Command {
	var local bool

	cmd := &cobra.Command{
		Use:   "manifest NAME",
		Short: "Print the manifest of an installed package",
		Long: `Print the manifest of an installed package as JSON.

Unless --local is given, the registry is asked for the installed release and
its manifestMetadata is added to the output. When the registry cannot answer
the local manifest is printed on its own.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runManifest(cmd, args[0], local)
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "do not contact the registry")

	return cmd
}

func runManifest(cmd *cobra.Command, name string, local bool) error {
	if err := model.ValidatePackageName(name); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	orch, err := newOrchestrator(cfg, commandHooks(cmd, cfg))
	if err != nil {
		return err
	}

	m, err := orch.ReadManifest(name)
	if err != nil {
		return err
	}
	view := manifestView{Manifest: m}
	if !local {
		md, err := orch.ReleaseMetadata(cmd.Context(), name)
		if err != nil {
			logger.Warn("release metadata unavailable", logger.Fields{"package": name, "error": err.Error()})
		}
		view.ManifestMetadata = md
	}
	return writeJSON(cmd.OutOrStdout(), view)
}
