package cmd

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/amipatch/internal/observability"
	"github.com/3leaps/amipatch/pkg/command"
	"github.com/3leaps/amipatch/pkg/inventory"
	"github.com/3leaps/amipatch/pkg/output"
	"github.com/3leaps/amipatch/pkg/patcher"
	"github.com/3leaps/amipatch/pkg/patchreport"
	"github.com/3leaps/amipatch/pkg/resource"
)

func stackRecord(s *inventory.Stack) *output.StackRecord {
	return &output.StackRecord{ID: s.ID, Name: s.Name, Status: s.Status}
}

func resourceRecord(stack string, r resource.Resource) *output.ResourceRecord {
	return &output.ResourceRecord{
		Stack:      stack,
		Type:       r.Type(),
		Status:     r.Status(),
		PhysicalID: r.PhysicalID(),
		LogicalID:  r.LogicalID(),
		Variant:    r.Variant().String(),
		Patchable:  r.Patchable(),
	}
}

func patchRecord(job *patcher.PatchJob, err error) *output.PatchRecord {
	rec := &output.PatchRecord{
		PatchID:           job.ID,
		Stack:             job.StackName,
		Resource:          job.ResourceID,
		State:             string(job.State),
		Step:              string(job.Step),
		SourceImageID:     job.SourceImageID,
		PatchingImageID:   job.PatchingImageID,
		PatchingImageName: job.PatchingImageName,
		WorkerInstanceID:  job.WorkerInstanceID,
		WorkerState:       job.WorkerState,
		ResultImageID:     job.ResultImageID,
		ResultImageName:   job.ResultImageName,
		StartedAt:         job.StartedAt,
		EndedAt:           job.EndedAt,
		Duration:          job.Duration(),
		Warnings:          len(job.Warnings),
	}
	if job.Invocation != nil {
		rec.InvocationID = job.Invocation.ID
		rec.CommandStatus = string(job.Invocation.Status)
	}
	if err != nil {
		rec.ErrorCode = patcher.ErrorCode(err)
		rec.Error = err.Error()
	}
	return rec
}

func commandRecord(inv *command.Invocation, out string) *output.CommandRecord {
	return &output.CommandRecord{
		InvocationID:  inv.ID,
		InstanceID:    inv.InstanceID,
		Command:       inv.Command,
		Status:        string(inv.Status),
		RawStatus:     inv.RawStatus,
		StatusDetails: inv.StatusDetails,
		ResponseCode:  inv.ResponseCode,
		Attempts:      inv.Attempts,
		OutputURL:     inv.OutputURL,
		Output:        out,
	}
}

func reportRecord(source, resourceID string, r *patchreport.Report) *output.ReportRecord {
	return &output.ReportRecord{
		Source:      source,
		Resource:    resourceID,
		Updated:     packageRecords(r.Updated),
		Installed:   packageRecords(r.Installed),
		Removed:     packageRecords(r.Removed),
		NothingToDo: r.NothingToDo,
		Complete:    r.Complete,
		Changed:     r.Changed(),
		Planned:     r.Planned,
	}
}

func packageRecords(pkgs []patchreport.Package) []output.PackageRecord {
	if len(pkgs) == 0 {
		return nil
	}
	out := make([]output.PackageRecord, len(pkgs))
	for i, p := range pkgs {
		out[i] = output.PackageRecord{Name: p.Name, Version: p.Version}
	}
	return out
}

func errorRecord(err error, stack, resourceID string, step patcher.Step) *output.ErrorRecord {
	return &output.ErrorRecord{
		Code:     patcher.ErrorCode(err),
		Message:  err.Error(),
		Stack:    stack,
		Resource: resourceID,
		Step:     string(step),
	}
}

func summaryRecord(s *patcher.Summary, truncated bool) *output.SummaryRecord {
	images := s.Images()
	if len(images) == 0 {
		images = nil
	}
	return &output.SummaryRecord{
		Stacks:        s.Stacks,
		SkippedStacks: s.Skipped,
		Resources:     s.Resources,
		Succeeded:     s.Succeeded,
		Failed:        s.Failed,
		Unsupported:   s.Unsupported,
		Warnings:      s.Warnings,
		Truncated:     truncated,
		Duration:      s.Duration,
		DurationHuman: s.Duration.Round(time.Millisecond).String(),
		Images:        images,
	}
}

// recorder is a patcher.Observer that writes every event as records.
// Records are written even after the run is cancelled, so jobs that finish
// during shutdown still report their outcome and warnings. Write failures
// are logged; the first one is kept for the exit status.
type recorder struct {
	ctx context.Context
	w   output.Writer

	// commands enables command records.
	commands bool

	mu       sync.Mutex
	writeErr error
}

var _ patcher.Observer = (*recorder)(nil)

func newRecorder(ctx context.Context, w output.Writer, commands bool) *recorder {
	return &recorder{ctx: context.WithoutCancel(ctx), w: w, commands: commands}
}

func (r *recorder) StackPlanned(stack *inventory.Stack, patchable []resource.Resource, err error) {
	if err != nil {
		observability.CLILogger.Warn("Failed to list stack resources",
			zap.String("stack", stack.Name),
			zap.Error(err))
		r.check(r.w.WriteError(r.ctx, errorRecord(err, stack.Name, "", patcher.StepInventory)))
		return
	}

	rec := stackRecord(stack)
	ok := len(patchable) > 0
	rec.Patchable = &ok
	rec.PatchableResources = len(patchable)
	if all, err := stack.Resources(r.ctx); err == nil {
		rec.Resources = len(all)
	}
	r.check(r.w.WriteStack(r.ctx, rec))

	observability.CLILogger.Debug("Planned stack",
		zap.String("stack", stack.Name),
		zap.Int("patchable", len(patchable)))
}

func (r *recorder) JobStarted(stackName string, res resource.Resource) {
	observability.CLILogger.Info("Patching resource",
		zap.String("stack", stackName),
		zap.String("resource", res.PhysicalID()),
		zap.String("variant", res.Variant().String()))
}

func (r *recorder) JobFinished(job *patcher.PatchJob, err error) {
	for _, w := range job.Warnings {
		observability.CLILogger.Warn("Patch warning",
			zap.String("patch_id", job.ID),
			zap.String("op", w.Op),
			zap.String("target", w.Resource),
			zap.Error(w.Err))
		r.check(r.w.WriteWarning(r.ctx, &output.WarningRecord{
			PatchID:  job.ID,
			Stack:    job.StackName,
			Resource: job.ResourceID,
			Op:       w.Op,
			Target:   w.Resource,
			Message:  w.Err.Error(),
		}))
	}

	if job.Invocation != nil && r.commands {
		r.check(r.w.WriteCommand(r.ctx, commandRecord(job.Invocation, "")))
	}
	if job.Report != nil {
		r.check(r.w.WriteReport(r.ctx, reportRecord(job.ID, job.ResourceID, job.Report)))
	}
	r.check(r.w.WritePatch(r.ctx, patchRecord(job, err)))

	if err != nil {
		observability.CLILogger.Error("Patch failed",
			zap.String("patch_id", job.ID),
			zap.String("stack", job.StackName),
			zap.String("resource", job.ResourceID),
			zap.String("step", string(job.Step)),
			zap.Error(err))
		r.check(r.w.WriteError(r.ctx, errorRecord(err, job.StackName, job.ResourceID, job.Step)))
		return
	}
	observability.CLILogger.Info("Patched resource",
		zap.String("patch_id", job.ID),
		zap.String("resource", job.ResourceID),
		zap.String("image_id", job.ResultImageID),
		zap.Duration("duration", job.Duration()))
}

func (r *recorder) check(err error) {
	if err == nil {
		return
	}
	observability.CLILogger.Error("Failed to write record", zap.Error(err))
	r.mu.Lock()
	if r.writeErr == nil {
		r.writeErr = err
	}
	r.mu.Unlock()
}

// Err returns the first write failure.
func (r *recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeErr
}
