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
	"github.com/3leaps/amipatch/pkg/provider"
	"github.com/3leaps/amipatch/pkg/resource"
)

var resourcesCmd = &cobra.Command{
	Use:   "resources <stack>",
	Short: "List the resources of one stack",
	Long: `List the member resources of a stack as JSONL resource records.

The stack is matched by name or id. With --describe each instance is
described and its current image id is reported.

Example:
  amipatch resources web-prod
  amipatch resources web-prod --describe`,
	Args: cobra.ExactArgs(1),
	RunE: runResources,
}

var (
	resourcesDescribe bool
	resourcesOutput   string
)

func init() {
	rootCmd.AddCommand(resourcesCmd)

	resourcesCmd.Flags().BoolVar(&resourcesDescribe, "describe", false, "Describe instances to report their current image")
	resourcesCmd.Flags().StringVarP(&resourcesOutput, "output", "o", "", "Output destination (default from config)")
}

func runResources(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := runtimeConfig(ctx)
	if err != nil {
		return exitError(ExitInvalidConfig, "Invalid configuration", err)
	}
	svc, err := connect(ctx, awsConfig(cfg, nil))
	if err != nil {
		return err
	}

	dest := cfg.Output.Destination
	if resourcesOutput != "" {
		dest = resourcesOutput
	}
	writer, cleanup, err := createWriter(cmd.OutOrStdout(), dest, uuid.New().String())
	if err != nil {
		return exitError(ExitOutput, "Failed to create output", err)
	}
	defer cleanup()

	lister := &inventory.Lister{
		Inventory:  svc.Inventory,
		Classifier: resource.Classifier{Compute: svc.Compute, ScalingGroups: svc.ScalingGroups},
	}
	return listResources(ctx, lister, writer, args[0], resourcesDescribe)
}

func findStack(ctx context.Context, lister *inventory.Lister, nameOrID string) (*inventory.Stack, error) {
	filter, err := match.NewFilterFromConfig(&match.FilterConfig{ExcludeStatuses: []string{}})
	if err != nil {
		return nil, err
	}
	lister.Filter = filter

	listing, err := lister.ListStacks(ctx)
	if err != nil {
		return nil, err
	}
	// Prefer a live stack when a deleted one shares the name.
	var found *inventory.Stack
	for _, s := range listing.Stacks {
		if s.ID != nameOrID && s.Name != nameOrID {
			continue
		}
		if found == nil || found.Status == "DELETE_COMPLETE" {
			found = s
		}
	}
	if found == nil {
		return nil, fmt.Errorf("stack %s: %w", nameOrID, provider.ErrNotFound)
	}
	return found, nil
}

func listResources(ctx context.Context, lister *inventory.Lister, w output.Writer, nameOrID string, describe bool) error {
	stack, err := findStack(ctx, lister, nameOrID)
	if err != nil {
		if provider.IsNotFound(err) && !provider.IsUpstreamUnavailable(err) {
			return exitError(ExitInputMissing, "Stack not found", err)
		}
		return upstreamExit("Failed to list stacks", err)
	}

	resources, err := stack.Resources(ctx)
	if err != nil {
		_ = w.WriteError(ctx, errorRecord(err, stack.Name, "", patcher.StepInventory))
		return upstreamExit("Failed to describe stack resources", err)
	}

	failures := 0
	for _, r := range resources {
		rec := resourceRecord(stack.Name, r)
		if inst, ok := r.(*resource.Instance); ok && describe {
			imageID, err := inst.CurrentImageID(ctx)
			if err != nil {
				failures++
				observability.CLILogger.Warn("Failed to describe instance",
					zap.String("instance", inst.PhysicalID()),
					zap.Error(err))
				if werr := w.WriteError(ctx, errorRecord(err, stack.Name, inst.PhysicalID(), patcher.StepDescribe)); werr != nil {
					return exitError(ExitOutput, "Failed to write output", werr)
				}
			}
			rec.ImageID = imageID
		}
		if err := w.WriteResource(ctx, rec); err != nil {
			return exitError(ExitOutput, "Failed to write output", err)
		}
	}

	if failures > 0 {
		return exitError(ExitUpstream, "Some instances could not be described", fmt.Errorf("failures=%d", failures))
	}
	return nil
}
