package cmd

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/amipatch/internal/observability"
	"github.com/3leaps/amipatch/pkg/command"
	"github.com/3leaps/amipatch/pkg/imagebuilder"
	"github.com/3leaps/amipatch/pkg/inventory"
	"github.com/3leaps/amipatch/pkg/manifest"
	"github.com/3leaps/amipatch/pkg/patcher"
	"github.com/3leaps/amipatch/pkg/resource"
)

var patchCmd = &cobra.Command{
	Use:   "patch",
	Short: "Run a patch job from manifest",
	Long: `Run a patch job as defined in a YAML or JSON manifest file.

Every selected stack is inspected and each EC2 instance it owns is patched
into a new image. A failure on one instance never stops the others. One
patch record is written per instance, followed by a summary record.

Example:
  amipatch patch --job patch.yaml
  amipatch patch --job patch.yaml --stack web-prod --stack api-prod
  amipatch patch --job patch.yaml --output file:results.jsonl
  amipatch patch --job patch.yaml --dry-run`,
	RunE: runPatch,
}

var (
	patchJobPath     string
	patchOutput      string
	patchStacks      []string
	patchConcurrency int
	patchDryRun      bool
	patchPlan        bool
)

func init() {
	rootCmd.AddCommand(patchCmd)

	patchCmd.Flags().StringVarP(&patchJobPath, "job", "j", "", "Path to job manifest (required)")
	patchCmd.Flags().StringVarP(&patchOutput, "output", "o", "", "Override output destination")
	patchCmd.Flags().StringSliceVar(&patchStacks, "stack", nil, "Restrict the run to these stack names (repeatable)")
	patchCmd.Flags().IntVar(&patchConcurrency, "concurrency", 0, "Override patch concurrency")
	patchCmd.Flags().BoolVar(&patchDryRun, "dry-run", false, "Validate manifest and show plan without executing")
	patchCmd.Flags().BoolVar(&patchPlan, "plan", false, "Alias for --dry-run")

	_ = patchCmd.MarkFlagRequired("job")
}

func runPatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	m, err := manifest.Load(patchJobPath)
	if err != nil {
		observability.CLILogger.Error("Failed to load manifest",
			zap.String("path", patchJobPath),
			zap.Error(err))
		return exitError(ExitUsage, "Invalid manifest", err)
	}

	observability.CLILogger.Debug("Loaded manifest",
		zap.String("path", patchJobPath),
		zap.String("region", m.Connection.Region),
		zap.Strings("include", m.Selection.Include))

	if patchOutput != "" {
		m.Output.Destination = patchOutput
	}
	if patchConcurrency != 0 {
		if patchConcurrency < 1 {
			return exitError(ExitUsage, "Invalid --concurrency value", fmt.Errorf("concurrency must be >= 1"))
		}
		m.Patch.Concurrency = patchConcurrency
	}

	if patchPlan || patchDryRun {
		return showPatchPlan(cmd.OutOrStdout(), m)
	}

	cfg, err := runtimeConfig(ctx)
	if err != nil {
		return exitError(ExitInvalidConfig, "Invalid configuration", err)
	}
	if cfg.ReadOnly {
		return exitError(ExitUsage, "readonly mode enabled: refusing to patch", fmt.Errorf("disable --readonly or unset AMIPATCH_READONLY"))
	}

	return executePatch(ctx, cmd.OutOrStdout(), m, patchStacks)
}

// showPatchPlan displays what would be patched without executing.
func showPatchPlan(w io.Writer, m *manifest.Manifest) error {
	execCfg, err := m.ExecutorConfig()
	if err != nil {
		return exitError(ExitUsage, "Invalid manifest", err)
	}
	pcfg, err := m.PatcherConfig()
	if err != nil {
		return exitError(ExitUsage, "Invalid manifest", err)
	}

	fmt.Fprintln(w, "=== Patch Plan (dry-run) ===")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Provider:      %s\n", m.Connection.Provider)
	if m.Connection.Region != "" {
		fmt.Fprintf(w, "Region:        %s\n", m.Connection.Region)
	}
	if m.Connection.Endpoint != "" {
		fmt.Fprintf(w, "Endpoint:      %s\n", m.Connection.Endpoint)
	}
	fmt.Fprintln(w)

	sel := m.Selection
	fmt.Fprintln(w, "Selection:")
	if len(sel.Include) == 0 {
		fmt.Fprintln(w, "  Include:     (all stacks)")
	}
	for _, p := range sel.Include {
		fmt.Fprintf(w, "  Include:     %s\n", p)
	}
	for _, p := range sel.Exclude {
		fmt.Fprintf(w, "  Exclude:     %s\n", p)
	}
	if sel.NameRegex != "" {
		fmt.Fprintf(w, "  Name Regex:  %s\n", sel.NameRegex)
	}
	if len(sel.Statuses) > 0 {
		fmt.Fprintf(w, "  Statuses:    %v\n", sel.Statuses)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Command:       %s\n", pcfg.Command)
	if pcfg.InstanceType != "" {
		fmt.Fprintf(w, "Worker Type:   %s\n", pcfg.InstanceType)
	} else {
		fmt.Fprintln(w, "Worker Type:   (source instance type)")
	}
	fmt.Fprintf(w, "Concurrency:   %d\n", m.Patch.Concurrency)
	if m.Patch.RateLimit > 0 {
		fmt.Fprintf(w, "Rate Limit:    %.1f starts/s\n", m.Patch.RateLimit)
	}
	fmt.Fprintf(w, "Polling:       %d polls, unit %s\n", execCfg.MaxAttempts, execCfg.Unit)
	if execCfg.OutputBucket != "" {
		fmt.Fprintf(w, "Command Logs:  s3://%s/%s\n", execCfg.OutputBucket, execCfg.OutputPrefix)
	}
	fmt.Fprintf(w, "Image Wait:    %s\n", pcfg.ImageWaitTimeout)
	fmt.Fprintf(w, "Parse Report:  %v\n", pcfg.ParseReport)
	fmt.Fprintf(w, "Output:        %s\n", m.Output.Destination)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Manifest validated successfully. Remove --dry-run to execute.")
	return nil
}

// executePatch runs the patch job.
func executePatch(ctx context.Context, out io.Writer, m *manifest.Manifest, only []string) error {
	jobID := uuid.New().String()

	cfg, err := runtimeConfig(ctx)
	if err != nil {
		return exitError(ExitInvalidConfig, "Invalid configuration", err)
	}
	filter, err := m.Filter()
	if err != nil {
		return exitError(ExitUsage, "Invalid selection", err)
	}
	execCfg, err := m.ExecutorConfig()
	if err != nil {
		return exitError(ExitUsage, "Invalid manifest", err)
	}
	pcfg, err := m.PatcherConfig()
	if err != nil {
		return exitError(ExitUsage, "Invalid manifest", err)
	}

	svc, err := connect(ctx, awsConfig(cfg, &m.Connection))
	if err != nil {
		observability.CLILogger.Error("Failed to create clients", zap.Error(err))
		return err
	}

	writer, cleanup, err := createWriter(out, m.Output.Destination, jobID)
	if err != nil {
		observability.CLILogger.Error("Failed to create writer", zap.Error(err))
		return exitError(ExitOutput, "Failed to create output", err)
	}
	defer cleanup()

	lister := &inventory.Lister{
		Inventory:  svc.Inventory,
		Classifier: resource.Classifier{Compute: svc.Compute, ScalingGroups: svc.ScalingGroups},
		Filter:     filter,
	}
	listing, err := lister.ListStacks(ctx)
	if err != nil {
		observability.CLILogger.Error("Failed to list stacks", zap.Error(err))
		_ = writer.WriteError(context.WithoutCancel(ctx), errorRecord(err, "", "", patcher.StepInventory))
		return upstreamExit("Failed to list stacks", err)
	}
	stacks := selectStacks(listing.Stacks, only)
	if listing.Truncated {
		observability.CLILogger.Warn("Stack listing truncated; only the first page is patched")
	}

	executor := command.NewExecutor(svc.Commands, svc.Objects, execCfg)
	p := patcher.New(imagebuilder.New(svc.Compute), executor, pcfg)
	rec := newRecorder(ctx, writer, m.Output.CommandOutput)
	runner := &patcher.Runner{
		Patcher:     p,
		Concurrency: m.Patch.Concurrency,
		RateLimit:   m.Patch.RateLimit,
		Observer:    rec,
	}

	observability.CLILogger.Info("Starting patch run",
		zap.String("job_id", jobID),
		zap.Int("stacks", len(stacks)),
		zap.Int("skipped_by_filter", listing.Skipped),
		zap.Int("concurrency", runner.Concurrency))

	summary, runErr := runner.PatchStacks(ctx, stacks)
	if runErr == nil {
		runErr = ctx.Err()
	}

	// Attempts that never started were not reported by the observer.
	for _, o := range summary.Outcomes {
		if o.Job == nil && o.Resource != "" {
			rec.check(writer.WriteError(rec.ctx, errorRecord(o.Err, o.Stack, o.Resource, patcher.StepQueued)))
		}
	}
	if err := writer.WriteSummary(rec.ctx, summaryRecord(summary, listing.Truncated)); err != nil {
		rec.check(err)
	}

	observability.CLILogger.Info("Patch run completed",
		zap.String("job_id", jobID),
		zap.Int("resources", summary.Resources),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("unsupported", summary.Unsupported),
		zap.Int("warnings", summary.Warnings),
		zap.Duration("duration", summary.Duration))

	switch {
	case runErr != nil:
		return exitError(ExitCancelled, "Patch run cancelled", runErr)
	case rec.Err() != nil:
		return exitError(ExitOutput, "Failed to write output", rec.Err())
	case summary.Failed > 0:
		return exitError(ExitUpstream, "Patch run completed with failures", fmt.Errorf("failed=%d succeeded=%d", summary.Failed, summary.Succeeded))
	}
	return nil
}

// selectStacks keeps the stacks named in only, preserving listing order.
// An empty only keeps every stack.
func selectStacks(stacks []*inventory.Stack, only []string) []*inventory.Stack {
	if len(only) == 0 {
		return stacks
	}
	var out []*inventory.Stack
	for _, s := range stacks {
		if slices.Contains(only, s.Name) || slices.Contains(only, s.ID) {
			out = append(out, s)
		}
	}
	return out
}
