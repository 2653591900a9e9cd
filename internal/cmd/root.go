// Package cmd implements the amipatch command line.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/amipatch/internal/config"
	"github.com/3leaps/amipatch/internal/observability"
)

// VersionInfo is stamped by the build.
type VersionInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var versionInfo = VersionInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

// SetVersionInfo records build metadata for the version command.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	cfgFile    string
	logLevel   string
	logProfile string
	awsRegion  string
	awsProfile string
	awsEnd     string
	readOnly   bool
	verbose    bool

	// appConfig is loaded by the root pre-run hook.
	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "amipatch",
	Short: "Patch the machine images behind deployed stacks",
	Long: `amipatch inspects deployed CloudFormation stacks, finds the EC2 instances
they own and produces patched machine images for them.

For every instance it snapshots the current image, boots a throwaway worker
from it, runs the OS update command through SSM Run Command, images the
patched worker and terminates it. Records are written to stdout as JSONL;
logs go to stderr.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadRuntime,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default: ./amipatch.yaml, then the user config dir)")
	pf.StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	pf.StringVar(&logProfile, "log-profile", "", "Log format (structured|console)")
	pf.StringVar(&awsRegion, "region", "", "AWS region")
	pf.StringVar(&awsProfile, "profile", "", "AWS shared config profile")
	pf.StringVar(&awsEnd, "endpoint", "", "Override every AWS service endpoint (emulators)")
	pf.BoolVar(&readOnly, "readonly", false, "Refuse operations that launch, image or terminate instances")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Shorthand for --log-level debug")
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func loadRuntime(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFile(cmd.Context(), cfgFile, flagOverrides(cmd))
	if err != nil {
		return exitError(ExitInvalidConfig, "Invalid configuration", err)
	}
	appConfig = cfg

	if _, err := observability.Init(cfg.Logging.Level, cfg.Logging.Profile); err != nil {
		return exitError(ExitInvalidConfig, "Invalid logging configuration", err)
	}
	observability.CLILogger.Debug("Loaded configuration",
		zap.String("command", cmd.Name()),
		zap.String("region", cfg.AWS.Region),
		zap.Bool("readonly", cfg.ReadOnly))
	return nil
}

// flagOverrides turns explicitly set persistent flags into config overrides.
func flagOverrides(cmd *cobra.Command) map[string]any {
	out := map[string]any{}
	set := func(name, key string, val any) {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			out[key] = val
		}
	}
	set("log-level", "logging.level", logLevel)
	set("log-profile", "logging.profile", logProfile)
	set("region", "aws.region", awsRegion)
	set("profile", "aws.profile", awsProfile)
	set("endpoint", "aws.endpoint", awsEnd)
	set("readonly", "readonly", readOnly)
	if verbose {
		out["logging.level"] = "debug"
	}
	return out
}

// runtimeConfig returns the loaded config, loading defaults when a command
// runs without the root pre-run hook.
func runtimeConfig(ctx context.Context) (*config.Config, error) {
	if appConfig != nil {
		return appConfig, nil
	}
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	appConfig = cfg
	return cfg, nil
}
