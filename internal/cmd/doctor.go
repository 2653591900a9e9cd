package cmd

import (
	"context"
	"fmt"
	"runtime"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/amipatch/internal/config"
	"github.com/3leaps/amipatch/internal/observability"
	awsprov "github.com/3leaps/amipatch/pkg/provider/aws"
)

var doctorAWS bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the system and suggest fixes for common issues.

Examples:
  amipatch doctor          # Environment check
  amipatch doctor --aws    # Also resolve AWS credentials and region`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorAWS, "aws", false, "Run AWS credential and region checks")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	log := observability.CLILogger
	log.Info("=== amipatch doctor ===")
	log.Info("Running diagnostic checks...")

	allChecks := true
	checkNum := 1
	totalChecks := 4
	if doctorAWS {
		totalChecks = 6
	}

	goVersion := runtime.Version()
	log.Info(fmt.Sprintf("[%d/%d] Checking Go runtime... ok %s", checkNum, totalChecks, goVersion),
		zap.String("go_version", goVersion))
	checkNum++

	version := crucible.GetVersion()
	if version.Gofulmen != "" {
		log.Info(fmt.Sprintf("[%d/%d] Checking Gofulmen access... ok v%s", checkNum, totalChecks, version.Gofulmen),
			zap.String("gofulmen_version", version.Gofulmen),
			zap.String("crucible_version", version.Crucible))
	} else {
		log.Error(fmt.Sprintf("[%d/%d] Checking Gofulmen access... failed", checkNum, totalChecks))
		allChecks = false
	}
	checkNum++

	cfg, err := runtimeConfig(cmd.Context())
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking configuration... failed", checkNum, totalChecks), zap.Error(err))
		allChecks = false
	} else {
		log.Info(fmt.Sprintf("[%d/%d] Checking configuration... ok", checkNum, totalChecks),
			zap.String("log_level", cfg.Logging.Level),
			zap.Int("workers", cfg.Workers),
			zap.Bool("readonly", cfg.ReadOnly))
	}
	checkNum++

	dataDir := gfconfig.GetAppDataDir(config.ConfigName)
	log.Info(fmt.Sprintf("[%d/%d] Checking environment... ok %s/%s", checkNum, totalChecks, runtime.GOOS, runtime.GOARCH),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH),
		zap.String("data_dir", dataDir))
	checkNum++

	if doctorAWS && cfg != nil {
		allChecks = runAWSChecks(cmd.Context(), awsConfig(cfg, nil), checkNum, totalChecks) && allChecks
	}

	log.Info("=== End Diagnostics ===")
	if !allChecks {
		return exitError(ExitUpstream, "Some checks failed", fmt.Errorf("review the output above for details"))
	}
	return nil
}

// runAWSChecks resolves credentials and the region the way the patch
// commands do.
func runAWSChecks(ctx context.Context, cfg awsprov.Config, checkNum, totalChecks int) bool {
	log := observability.CLILogger

	awsCfg, err := awsprov.LoadAWSConfig(ctx, cfg)
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... failed to load AWS config", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... cannot retrieve credentials", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	log.Info(fmt.Sprintf("[%d/%d] Checking AWS credentials... ok", checkNum, totalChecks),
		zap.String("access_key", maskAccessKey(creds.AccessKeyID)),
		zap.String("source", source))
	checkNum++

	log.Info(fmt.Sprintf("[%d/%d] Checking AWS region... ok %s", checkNum, totalChecks, awsCfg.Region),
		zap.String("region", awsCfg.Region),
		zap.Bool("imds_fallback", cfg.UseIMDSRegion))
	return true
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp() {
	log := observability.CLILogger
	log.Info("To configure AWS credentials:")
	log.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	log.Info("  2. Run 'aws configure' and pass --profile, or")
	log.Info("  3. Use an instance profile when running on EC2 (add AMIPATCH_USE_IMDS_REGION=true)")
	log.Info("amipatch needs cloudformation:Describe*, ec2:RunInstances/CreateImage/TerminateInstances/CreateTags,")
	log.Info("ssm:SendCommand/GetCommandInvocation and s3:GetObject on the command output bucket.")
}
