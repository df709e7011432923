// Package cli implements the kpm command line on top of the orchestrator.
//
// Command results are written to stdout, progress and logs to stderr. kpm
// does not lock the install root: run one kpm process per install root at a
// time.
package cli

import (
	"github.com/spf13/cobra"
)

// globalFlags holds the persistent flags of the root command.
type globalFlags struct {
	configPath   string
	installDir   string
	registryURL  string
	logLevel     string
	outputFormat string
	verbose      bool
}

// flags is bound by NewRootCmd.
var flags = &globalFlags{}

// NewRootCmd builds the kpm command tree.
func NewRootCmd() *cobra.Command {
	flags = &globalFlags{}

	cmd := &cobra.Command{
		Use:   "kpm",
		Short: "Keep a local package library in sync with the kpm registry",
		Long: `kpm installs, updates and removes packages from a kpm registry into a local
install root (knight_library by default).

Every package lives in its own directory below the install root together with
a manifest.json recording the installed version. Only one kpm process may
operate on an install root at a time.

Package hook scripts (.kpm/hooks/*.tengo) are not run unless hooks_enabled is
set. Enabled hooks may import the kpm, fmt, os, text, times and json modules
and can read and write files as the invoking user.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file path (default: user config dir)")
	pf.StringVar(&flags.installDir, "install-dir", "", "install root (overrides config and "+envInstallHint+")")
	pf.StringVar(&flags.registryURL, "registry", "", "registry API base URL")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVarP(&flags.outputFormat, "output", "o", "", "output format (text, json)")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "verbose output (same as --log-level debug)")

	cmd.AddCommand(
		NewInstallCmd(),
		NewUninstallCmd(),
		NewUpdateCmd(),
		NewCheckCmd(),
		NewListCmd(),
		NewManifestCmd(),
		NewCleanupCmd(),
		NewConfigCmd(),
		NewVersionCmd(),
	)

	return cmd
}
