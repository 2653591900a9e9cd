// Package patcher runs the patch workflow for stack resources.
//
// One patch attempt for an instance snapshots the instance into a
// patching image, launches a disposable worker from that image, runs the
// OS update command on the worker, snapshots the worker into a patched
// image and terminates the worker. Termination runs on every path once a
// worker exists, including failures and cancellation.
package patcher

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/3leaps/amipatch/pkg/command"
	"github.com/3leaps/amipatch/pkg/imagebuilder"
	"github.com/3leaps/amipatch/pkg/patchreport"
	"github.com/3leaps/amipatch/pkg/provider"
	"github.com/3leaps/amipatch/pkg/resource"
)

// Defaults.
const (
	DefaultCommand             = "yum update -y"
	DefaultInstanceType        = "t3.micro"
	DefaultImageWaitTimeout    = 30 * time.Minute
	DefaultInstanceWaitTimeout = 10 * time.Minute
	DefaultCleanupTimeout      = 2 * time.Minute
)

// Tag keys applied to workers and patched images.
const (
	TagJobID          = "amipatch:job-id"
	TagStack          = "amipatch:stack"
	TagSourceInstance = "amipatch:source-instance"
	TagSourceImage    = "amipatch:source-image"
	TagRole           = "amipatch:role"
)

// State is the lifecycle state of a PatchJob.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Config configures a Patcher.
type Config struct {
	// Command is the OS update command run on the worker.
	Command string

	// InstanceType overrides the worker instance type. Empty uses the
	// source instance's type.
	InstanceType string

	// KeyName overrides the worker key pair. Empty uses the source instance's.
	KeyName string

	// LaunchRetry governs retries of a worker launch that fails because
	// the patching image is not available yet.
	LaunchRetry RetryPolicy

	// Wait bounds. A zero ImageWaitTimeout skips the image availability waits.
	ImageWaitTimeout    time.Duration
	InstanceWaitTimeout time.Duration

	// CleanupTimeout bounds worker termination, which runs on a context
	// that survives cancellation of the job.
	CleanupTimeout time.Duration

	// JobTimeout bounds one patch attempt. Zero means no limit.
	JobTimeout time.Duration

	// Tags are added to workers and patched images.
	Tags map[string]string

	// ParseReport parses the command output as a package manager report.
	ParseReport bool
}

// DefaultConfig returns the default patcher configuration.
func DefaultConfig() Config {
	return Config{
		Command:             DefaultCommand,
		LaunchRetry:         DefaultRetryPolicy(),
		ImageWaitTimeout:    DefaultImageWaitTimeout,
		InstanceWaitTimeout: DefaultInstanceWaitTimeout,
		CleanupTimeout:      DefaultCleanupTimeout,
		ParseReport:         true,
	}
}

// PatchJob tracks one patch attempt for one resource. It is owned by the
// goroutine running the attempt and is not safe for concurrent mutation.
type PatchJob struct {
	ID         string
	StackName  string
	ResourceID string

	// SourceImageID is the resource's image, captured before any mutation.
	SourceImageID string

	PatchingImageID   string
	PatchingImageName string

	WorkerInstanceID string

	// WorkerState is the state reported by worker termination.
	WorkerState string

	Invocation *command.Invocation

	ResultImageID   string
	ResultImageName string

	State State

	// Step is the current step, or the failed step once the job failed.
	Step Step

	// Warnings are non-fatal failures, such as a worker that could not be terminated.
	Warnings []imagebuilder.Warning

	// Report is the parsed command output when report parsing is enabled.
	Report *patchreport.Report

	StartedAt time.Time
	EndedAt   time.Time
}

// Duration returns the elapsed time of a finished job.
func (j *PatchJob) Duration() time.Duration {
	if j.EndedAt.IsZero() {
		return 0
	}
	return j.EndedAt.Sub(j.StartedAt)
}

func (j *PatchJob) warn(op, resourceID string, err error) {
	j.Warnings = append(j.Warnings, imagebuilder.Warning{Op: op, Resource: resourceID, Err: err})
}

// Patcher runs patch attempts. It holds no per-job state and is safe for
// concurrent use.
type Patcher struct {
	builder  *imagebuilder.Builder
	executor *command.Executor
	cfg      Config
	sleeper  command.Sleeper
	now      func() time.Time
	newID    func() string
}

// Option configures a Patcher.
type Option func(*Patcher)

// WithSleeper overrides the sleep primitive used between launch retries.
func WithSleeper(s command.Sleeper) Option {
	return func(p *Patcher) {
		p.sleeper = s
	}
}

// WithNow overrides the clock used for job timestamps.
func WithNow(now func() time.Time) Option {
	return func(p *Patcher) {
		p.now = now
	}
}

// WithJobIDs overrides the job id generator.
func WithJobIDs(fn func() string) Option {
	return func(p *Patcher) {
		p.newID = fn
	}
}

// New creates a Patcher.
func New(builder *imagebuilder.Builder, executor *command.Executor, cfg Config, opts ...Option) *Patcher {
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = DefaultCleanupTimeout
	}
	p := &Patcher{
		builder:  builder,
		executor: executor,
		cfg:      cfg,
		sleeper:  command.TimerSleeper,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the effective configuration.
func (p *Patcher) Config() Config {
	return p.cfg
}

// PatchResource patches one resource of a stack.
//
// Only instances are patched. An autoscaling group fails with an error
// matching resource.ErrUnsupported and any other resource with
// resource.ErrNotPatchable. No compute call is made in either case.
func (p *Patcher) PatchResource(ctx context.Context, stackName string, r resource.Resource) (*PatchJob, error) {
	switch v := r.(type) {
	case *resource.Instance:
		return p.PatchInstance(ctx, stackName, v)
	case *resource.AutoScalingGroup:
		job := p.newJob(stackName, v.PhysicalID())
		_, err := v.PatchImageID(ctx)
		if err == nil {
			err = fmt.Errorf("autoscaling group %s: %w", v.PhysicalID(), resource.ErrUnsupported)
		}
		job.Step = StepUnsupported
		return job, p.finish(job, err)
	default:
		job := p.newJob(stackName, r.PhysicalID())
		job.Step = StepNotPatchable
		return job, p.finish(job, fmt.Errorf("%s %s: %w", r.Type(), r.PhysicalID(), resource.ErrNotPatchable))
	}
}

// PatchInstance runs one patch attempt for an instance.
//
// The returned job is always non-nil. On failure the error is a
// *PatchError naming the failed step, returned after the worker (if any)
// was terminated. A worker that cannot be terminated is reported as a
// job warning, never as an error.
func (p *Patcher) PatchInstance(ctx context.Context, stackName string, inst *resource.Instance) (*PatchJob, error) {
	job := p.newJob(stackName, inst.PhysicalID())

	if p.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.JobTimeout)
		defer cancel()
	}

	job.State = StateRunning
	return job, p.finish(job, p.run(ctx, job, inst))
}

func (p *Patcher) newJob(stackName, resourceID string) *PatchJob {
	return &PatchJob{
		ID:         p.newID(),
		StackName:  stackName,
		ResourceID: resourceID,
		State:      StatePending,
		StartedAt:  p.now(),
	}
}

func (p *Patcher) finish(job *PatchJob, err error) error {
	job.EndedAt = p.now()
	if err != nil {
		job.State = StateFailed
		return &PatchError{Stack: job.StackName, Resource: job.ResourceID, Step: job.Step, Err: err}
	}
	job.State = StateSucceeded
	job.Step = StepDone
	return nil
}

func (p *Patcher) run(ctx context.Context, job *PatchJob, inst *resource.Instance) error {
	job.Step = StepDescribe
	desc, err := inst.Description(ctx)
	if err != nil {
		return err
	}
	if desc.IsWindows() {
		return fmt.Errorf("instance %s (%s): %w", inst.PhysicalID(), desc.Platform, ErrUnsupportedPlatform)
	}
	job.SourceImageID = desc.ImageID

	job.Step = StepPatchingImage
	job.PatchingImageID, job.PatchingImageName, err = p.builder.CreatePatchingImage(ctx, inst.PhysicalID(), desc.ImageID)
	if err != nil {
		return err
	}

	if p.cfg.ImageWaitTimeout > 0 {
		job.Step = StepWaitImage
		if err := p.builder.WaitImageAvailable(ctx, job.PatchingImageID, p.cfg.ImageWaitTimeout); err != nil {
			return err
		}
	}

	job.Step = StepLaunch
	if err := p.launchWorker(ctx, job, desc); err != nil {
		return err
	}
	defer p.terminateWorker(ctx, job)

	job.Step = StepWaitInstance
	if err := p.builder.WaitInstanceRunning(ctx, job.WorkerInstanceID, p.cfg.InstanceWaitTimeout); err != nil {
		return err
	}

	job.Step = StepDispatch
	output, err := p.runCommand(ctx, job)
	if err != nil {
		return err
	}
	if p.cfg.ParseReport && output != "" {
		job.Report = patchreport.Parse(output)
	}

	job.Step = StepPatchedImage
	job.ResultImageID, job.ResultImageName, err = p.builder.CreatePatchedImage(ctx, job.WorkerInstanceID, job.SourceImageID)
	if err != nil {
		return err
	}

	if p.cfg.ImageWaitTimeout > 0 {
		job.Step = StepWaitPatched
		if err := p.builder.WaitImageAvailable(ctx, job.ResultImageID, p.cfg.ImageWaitTimeout); err != nil {
			return err
		}
	}

	job.Step = StepTag
	if _, err := p.builder.TagImage(ctx, job.ResultImageID, p.imageTags(job)); err != nil {
		job.warn("tag", job.ResultImageID, err)
	}
	return nil
}

func (p *Patcher) launchWorker(ctx context.Context, job *PatchJob, desc *provider.InstanceDescription) error {
	instanceType := p.cfg.InstanceType
	if instanceType == "" {
		instanceType = desc.InstanceType
	}
	if instanceType == "" {
		instanceType = DefaultInstanceType
	}
	keyName := p.cfg.KeyName
	if keyName == "" {
		keyName = desc.KeyName
	}

	opts := []imagebuilder.LaunchOption{
		imagebuilder.WithPlacement(desc.SubnetID, desc.SecurityGroupIDs, desc.InstanceProfileArn),
		imagebuilder.WithKeyName(keyName),
		imagebuilder.WithInstanceTags(p.workerTags(job)),
	}

	return retryWithBackoff(ctx, p.cfg.LaunchRetry, p.sleeper, func() error {
		id, err := p.builder.LaunchInstance(ctx, job.PatchingImageID, instanceType, opts...)
		if err != nil {
			return err
		}
		job.WorkerInstanceID = id
		return nil
	}, provider.IsImageNotReady)
}

// runCommand runs the update command on the worker and returns its output.
// A succeeded command whose output cannot be read is a warning.
func (p *Patcher) runCommand(ctx context.Context, job *PatchJob) (string, error) {
	res, err := p.executor.Run(ctx, job.WorkerInstanceID, p.cfg.Command)
	if res == nil {
		return "", err
	}

	job.Invocation = res.Invocation
	job.Step = StepWait
	if err != nil {
		if errors.Is(err, command.ErrOutputRetrievalFailed) {
			job.warn(string(StepOutput), res.Invocation.ID, err)
			return "", nil
		}
		return "", err
	}
	if err := command.StatusError(res.Invocation); err != nil {
		return "", err
	}
	return res.Output, nil
}

// terminateWorker runs on a context detached from the job's cancellation
// so that an aborted job still releases its worker.
func (p *Patcher) terminateWorker(ctx context.Context, job *PatchJob) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.CleanupTimeout)
	defer cancel()

	state, warning := p.builder.TerminateInstance(cctx, job.WorkerInstanceID)
	if warning != nil {
		job.Warnings = append(job.Warnings, *warning)
		return
	}
	job.WorkerState = state
}

func (p *Patcher) workerTags(job *PatchJob) map[string]string {
	tags := maps.Clone(p.cfg.Tags)
	if tags == nil {
		tags = make(map[string]string)
	}
	tags["Name"] = "amipatch-worker-" + job.ResourceID
	tags[TagRole] = "worker"
	tags[TagJobID] = job.ID
	tags[TagStack] = job.StackName
	tags[TagSourceInstance] = job.ResourceID
	tags[TagSourceImage] = job.SourceImageID
	return tags
}

func (p *Patcher) imageTags(job *PatchJob) map[string]string {
	tags := maps.Clone(p.cfg.Tags)
	if tags == nil {
		tags = make(map[string]string)
	}
	tags["Name"] = job.ResultImageName
	tags[TagJobID] = job.ID
	tags[TagStack] = job.StackName
	tags[TagSourceInstance] = job.ResourceID
	tags[TagSourceImage] = job.SourceImageID
	return tags
}
