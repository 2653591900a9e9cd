package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/amipatch/internal/config"
	"github.com/3leaps/amipatch/internal/observability"
	"github.com/3leaps/amipatch/pkg/command"
	"github.com/3leaps/amipatch/pkg/output"
	"github.com/3leaps/amipatch/pkg/patchreport"
	"github.com/3leaps/amipatch/pkg/provider"
)

var execCmd = &cobra.Command{
	Use:   "exec",
	Short: "Run a shell command on one instance",
	Long: `Run a shell command on one instance through SSM Run Command and
wait for it to finish.

Polling is bounded: before poll n the command sleeps unit*2^n. A command
still running when the polls run out is reported as TimedOut.

Example:
  amipatch exec --instance i-0abc123 --command 'yum check-update'
  amipatch exec --instance i-0abc123 --output-bucket patch-logs --report`,
	Args: cobra.NoArgs,
	RunE: runExec,
}

var (
	execInstance     string
	execCommand      string
	execOutputBucket string
	execOutputPrefix string
	execReport       bool
	execWithOutput   bool
)

func init() {
	rootCmd.AddCommand(execCmd)

	execCmd.Flags().StringVar(&execInstance, "instance", "", "Target instance id (required)")
	execCmd.Flags().StringVar(&execCommand, "command", "", "Shell command (default from config)")
	execCmd.Flags().StringVar(&execOutputBucket, "output-bucket", "", "Bucket receiving command output")
	execCmd.Flags().StringVar(&execOutputPrefix, "output-prefix", "", "Key prefix for command output")
	execCmd.Flags().BoolVar(&execReport, "report", false, "Parse the output as a package manager report")
	execCmd.Flags().BoolVar(&execWithOutput, "include-output", true, "Include command output in the command record")

	_ = execCmd.MarkFlagRequired("instance")
}

func runExec(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := runtimeConfig(ctx)
	if err != nil {
		return exitError(ExitInvalidConfig, "Invalid configuration", err)
	}
	if cfg.ReadOnly {
		return exitError(ExitUsage, "readonly mode enabled: refusing to run a remote command", fmt.Errorf("disable --readonly or unset AMIPATCH_READONLY"))
	}

	svc, err := connect(ctx, awsConfig(cfg, nil))
	if err != nil {
		return err
	}

	execCfg := executorConfig(cfg, svc.Region)
	shell := execCommand
	if shell == "" {
		shell = cfg.Patch.Command
	}

	writer, cleanup, err := createWriter(cmd.OutOrStdout(), cfg.Output.Destination, uuid.New().String())
	if err != nil {
		return exitError(ExitOutput, "Failed to create output", err)
	}
	defer cleanup()

	ex := command.NewExecutor(svc.Commands, svc.Objects, execCfg, command.WithPollHook(func(inv *command.Invocation) {
		observability.CLILogger.Debug("Polled invocation",
			zap.String("invocation", inv.ID),
			zap.Int("attempt", inv.Attempts),
			zap.String("status", string(inv.Status)))
	}))
	return runRemote(ctx, ex, writer, execInstance, shell, execReport, execWithOutput)
}

// executorConfig derives executor settings from process config and flags.
func executorConfig(cfg *config.Config, region string) command.Config {
	out := command.DefaultConfig()
	out.MaxAttempts = cfg.Poll.MaxAttempts
	out.Unit = cfg.Poll.Unit
	out.OutputBucket = cfg.Patch.OutputBucket
	out.OutputPrefix = cfg.Patch.OutputPrefix
	if execOutputBucket != "" {
		out.OutputBucket = execOutputBucket
	}
	if execOutputPrefix != "" {
		out.OutputPrefix = execOutputPrefix
	}
	if out.OutputBucket != "" {
		out.OutputRegion = region
	}
	out.Comment = "amipatch exec"
	return out
}

// runRemote runs one command and records the invocation. A Failed or
// TimedOut invocation is recorded and then reported through the exit code.
func runRemote(ctx context.Context, ex *command.Executor, w output.Writer, instanceID, shell string, report, withOutput bool) error {
	observability.CLILogger.Info("Running command",
		zap.String("instance", instanceID),
		zap.String("command", shell))

	res, err := ex.Run(ctx, instanceID, shell)
	if res == nil {
		if errors.Is(err, command.ErrDispatchFailed) && provider.IsNotFound(err) {
			return exitError(ExitInputMissing, "Instance not found", err)
		}
		return upstreamExit("Failed to dispatch command", err)
	}

	out := res.Output
	inv := res.Invocation
	recOut := ""
	if withOutput {
		recOut = out
	}
	if werr := w.WriteCommand(context.WithoutCancel(ctx), commandRecord(inv, recOut)); werr != nil {
		return exitError(ExitOutput, "Failed to write output", werr)
	}
	if err != nil {
		if errors.Is(err, command.ErrOutputRetrievalFailed) {
			return exitError(ExitUpstream, "Command finished but its output could not be read", err)
		}
		return upstreamExit("Command polling failed", err)
	}

	if report && inv.Status == provider.InvocationSucceeded {
		if werr := w.WriteReport(ctx, reportRecord(inv.ID, instanceID, patchreport.Parse(out))); werr != nil {
			return exitError(ExitOutput, "Failed to write output", werr)
		}
	}

	if serr := command.StatusError(inv); serr != nil {
		return exitError(ExitUpstream, "Command did not succeed", serr)
	}
	return nil
}
