package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/amipatch/internal/observability"
	"github.com/3leaps/amipatch/pkg/inventory"
	"github.com/3leaps/amipatch/pkg/match"
	"github.com/3leaps/amipatch/pkg/output"
	"github.com/3leaps/amipatch/pkg/patcher"
	"github.com/3leaps/amipatch/pkg/resource"
)

var stacksCmd = &cobra.Command{
	Use:   "stacks",
	Short: "List stacks and whether they can be patched",
	Long: `List deployed stacks as JSONL stack records.

With --inspect (the default) each stack's resources are described and the
record reports whether at least one of them can be patched.

Example:
  amipatch stacks
  amipatch stacks --include 'web-*' --status CREATE_COMPLETE --status UPDATE_COMPLETE
  amipatch stacks --inspect=false`,
	Args: cobra.NoArgs,
	RunE: runStacks,
}

var (
	stacksInclude   []string
	stacksExclude   []string
	stacksNameRegex string
	stacksStatuses  []string
	stacksAll       bool
	stacksInspect   bool
	stacksOutput    string
)

func init() {
	rootCmd.AddCommand(stacksCmd)

	stacksCmd.Flags().StringSliceVar(&stacksInclude, "include", nil, "Glob patterns for stack names to include")
	stacksCmd.Flags().StringSliceVar(&stacksExclude, "exclude", nil, "Glob patterns for stack names to exclude")
	stacksCmd.Flags().StringVar(&stacksNameRegex, "name-regex", "", "Regular expression stack names must match")
	stacksCmd.Flags().StringSliceVar(&stacksStatuses, "status", nil, "Allowed stack statuses (repeatable)")
	stacksCmd.Flags().BoolVar(&stacksAll, "all", false, "Include deleted stacks")
	stacksCmd.Flags().BoolVar(&stacksInspect, "inspect", true, "Describe resources to report patchability")
	stacksCmd.Flags().StringVarP(&stacksOutput, "output", "o", "", "Output destination (default from config)")
}

func runStacks(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := runtimeConfig(ctx)
	if err != nil {
		return exitError(ExitInvalidConfig, "Invalid configuration", err)
	}

	fc := &match.FilterConfig{
		Include:   stacksInclude,
		Exclude:   stacksExclude,
		NameRegex: stacksNameRegex,
		Statuses:  stacksStatuses,
	}
	if stacksAll {
		fc.ExcludeStatuses = []string{}
	}
	filter, err := match.NewFilterFromConfig(fc)
	if err != nil {
		return exitError(ExitUsage, "Invalid stack filters", err)
	}

	svc, err := connect(ctx, awsConfig(cfg, nil))
	if err != nil {
		return err
	}

	dest := cfg.Output.Destination
	if stacksOutput != "" {
		dest = stacksOutput
	}
	writer, cleanup, err := createWriter(cmd.OutOrStdout(), dest, uuid.New().String())
	if err != nil {
		return exitError(ExitOutput, "Failed to create output", err)
	}
	defer cleanup()

	lister := &inventory.Lister{
		Inventory:  svc.Inventory,
		Classifier: resource.Classifier{Compute: svc.Compute, ScalingGroups: svc.ScalingGroups},
		Filter:     filter,
	}
	return listStacks(ctx, lister, writer, stacksInspect)
}

// listStacks writes one stack record per listed stack. A stack whose
// resources cannot be described gets an error record and the listing goes on.
func listStacks(ctx context.Context, lister *inventory.Lister, w output.Writer, inspect bool) error {
	listing, err := lister.ListStacks(ctx)
	if err != nil {
		observability.CLILogger.Error("Failed to list stacks", zap.Error(err))
		_ = w.WriteError(ctx, errorRecord(err, "", "", patcher.StepInventory))
		return upstreamExit("Failed to list stacks", err)
	}
	if listing.Truncated {
		observability.CLILogger.Warn("Stack listing truncated; only the first page was read")
	}

	failures := 0
	for _, s := range listing.Stacks {
		rec := stackRecord(s)
		if inspect {
			resources, err := s.Resources(ctx)
			if err != nil {
				failures++
				observability.CLILogger.Warn("Failed to describe stack resources",
					zap.String("stack", s.Name),
					zap.Error(err))
				if werr := w.WriteError(ctx, errorRecord(err, s.Name, "", patcher.StepInventory)); werr != nil {
					return exitError(ExitOutput, "Failed to write output", werr)
				}
				continue
			}
			patchable, _ := s.IsPatchable(ctx)
			rec.Patchable = &patchable
			rec.Resources = len(resources)
			for _, r := range resources {
				if r.Patchable() {
					rec.PatchableResources++
				}
			}
		}
		if err := w.WriteStack(ctx, rec); err != nil {
			return exitError(ExitOutput, "Failed to write output", err)
		}
	}

	observability.CLILogger.Info("Listed stacks",
		zap.Int("stacks", len(listing.Stacks)),
		zap.Int("skipped", listing.Skipped),
		zap.Bool("truncated", listing.Truncated))

	if failures > 0 {
		return exitError(ExitUpstream, "Some stacks could not be inspected", fmt.Errorf("failures=%d", failures))
	}
	return nil
}
