package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/glorpus-work/kpm/internal/logger"
	"github.com/glorpus-work/kpm/pkg/archive"
	"github.com/glorpus-work/kpm/pkg/checker"
	"github.com/glorpus-work/kpm/pkg/config"
	"github.com/glorpus-work/kpm/pkg/download"
	"github.com/glorpus-work/kpm/pkg/errors"
	"github.com/glorpus-work/kpm/pkg/hooks"
	"github.com/glorpus-work/kpm/pkg/manifest"
	"github.com/glorpus-work/kpm/pkg/model"
	"github.com/glorpus-work/kpm/pkg/orchestrator"
	"github.com/glorpus-work/kpm/pkg/registry"
)

const (
	envInstallHint = config.EnvInstallLocation
	// TabWidth is the padding of tabular output.
	TabWidth = 2
)

// loadConfig reads the config file and applies environment and flag overrides,
// in that order. It also configures the logger.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path := getConfigPath(); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	cfg.ApplyEnv(os.LookupEnv)

	if flags.installDir != "" {
		cfg.Settings.InstallDir = flags.installDir
	}
	if flags.registryURL != "" {
		cfg.Settings.RegistryURL = strings.TrimRight(flags.registryURL, "/")
	}
	if flags.logLevel != "" {
		cfg.Settings.LogLevel = flags.logLevel
	}
	if flags.verbose {
		cfg.Settings.LogLevel = "debug"
	}
	if flags.outputFormat != "" {
		cfg.Settings.OutputFormat = flags.outputFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.InitLogger(cfg.Settings.LogLevel, logger.OutputFormat(cfg.Settings.OutputFormat))
	return cfg, nil
}

func getConfigPath() string {
	if flags.configPath != "" {
		return flags.configPath
	}

	defaultPath, err := config.GetDefaultConfigPath()
	if err != nil {
		logger.Warn("Failed to get default config path, using defaults", logger.Fields{"error": err.Error()})
		return ""
	}
	return defaultPath
}

// newOrchestrator wires the engine for cfg.
func newOrchestrator(cfg *config.Config, h orchestrator.Hooks) (*orchestrator.Orchestrator, error) {
	root, err := cfg.InstallRoot()
	if err != nil {
		return nil, err
	}

	s := cfg.Settings
	client := registry.NewClient(s.RegistryURL, s.HTTPTimeout, s.UserAgent)
	resolver := registry.NewResolver(client)
	store := manifest.NewStore(root)

	var runner hooks.Executor
	if s.HooksEnabled {
		runner = hooks.NewTengoExecutor()
	}

	logger.Debug("engine configured", logger.Fields{
		"install_root": root,
		"registry":     s.RegistryURL,
		"concurrency":  s.MaxConcurrent,
		"hooks":        s.HooksEnabled,
	})

	return &orchestrator.Orchestrator{
		Resolver:   resolver,
		DL:         download.NewManager(client, s.HTTPTimeout, s.UserAgent),
		Extractor:  archive.NewManager(),
		Manifests:  store,
		Checker:    checker.NewChecker(store, resolver),
		Releases:   client,
		HookRunner: runner,
		Hooks:      h,
		Options:    orchestrator.Options{Concurrency: s.MaxConcurrent},
	}, nil
}

// parsePackageArg splits NAME[@VERSION]. A missing version means latest.
func parsePackageArg(arg string) (string, model.VersionToken, error) {
	name, version, found := strings.Cut(arg, "@")
	if err := model.ValidatePackageName(name); err != nil {
		return "", "", err
	}
	if !found {
		return name, model.LatestToken, nil
	}
	token, err := model.ParseVersionToken(version)
	if err != nil {
		return "", "", errors.Wrapf(err, "package argument %q", arg)
	}
	return name, token, nil
}

func jsonOutput(cfg *config.Config) bool {
	return cfg.Settings.OutputFormat == string(logger.FormatJSON)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// failureView is the printable form of a model.PackageFailure.
type failureView struct {
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

func failureViews(failed []model.PackageFailure) []failureView {
	views := make([]failureView, 0, len(failed))
	for _, f := range failed {
		views = append(views, failureView{Name: f.Name, Kind: errors.KindOf(f.Err).String(), Error: f.Err.Error()})
	}
	return views
}
