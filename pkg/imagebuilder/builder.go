// Package imagebuilder wraps the compute control plane's launch, snapshot
// and terminate primitives with deterministic image naming.
//
// Image availability is eventually consistent. A launch from an image that
// is not ready yet fails with an error matching provider.ErrImageNotReady
// so callers can retry; the Builder itself never retries.
package imagebuilder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/3leaps/amipatch/pkg/provider"
)

var (
	// ErrLaunchFailed indicates the control plane rejected or failed an instance launch.
	ErrLaunchFailed = errors.New("launch failed")

	// ErrImageCreationFailed indicates an image could not be created or never became available.
	ErrImageCreationFailed = errors.New("image creation failed")
)

// Warning is a non-fatal failure surfaced to the caller.
type Warning struct {
	Op       string
	Resource string
	Err      error
}

// String returns a human-readable description of the warning.
func (w *Warning) String() string {
	if w == nil {
		return ""
	}
	return fmt.Sprintf("%s %s: %v", w.Op, w.Resource, w.Err)
}

// Builder launches instances and snapshots them into images.
type Builder struct {
	compute provider.ComputeService
	clock   Stamper
}

// Option configures a Builder.
type Option func(*Builder)

// WithStamper overrides the timestamp source used for image names.
func WithStamper(s Stamper) Option {
	return func(b *Builder) {
		b.clock = s
	}
}

// New creates a Builder on top of a compute service.
func New(compute provider.ComputeService, opts ...Option) *Builder {
	b := &Builder{compute: compute, clock: defaultClock}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// LaunchOption adjusts a launch request.
type LaunchOption func(*provider.LaunchSpec)

// WithPlacement places the instance in a subnet with security groups and an instance profile.
func WithPlacement(subnetID string, securityGroupIDs []string, instanceProfileArn string) LaunchOption {
	return func(s *provider.LaunchSpec) {
		s.SubnetID = subnetID
		s.SecurityGroupIDs = append([]string(nil), securityGroupIDs...)
		s.InstanceProfileArn = instanceProfileArn
	}
}

// WithKeyName sets the SSH key pair.
func WithKeyName(name string) LaunchOption {
	return func(s *provider.LaunchSpec) {
		s.KeyName = name
	}
}

// WithInstanceTags tags the instance at launch.
func WithInstanceTags(tags map[string]string) LaunchOption {
	return func(s *provider.LaunchSpec) {
		s.Tags = tags
	}
}

// LaunchInstance launches exactly one instance from imageID.
//
// Errors match ErrLaunchFailed and keep the collaborator error in the
// chain, including provider.ErrImageNotReady.
func (b *Builder) LaunchInstance(ctx context.Context, imageID, instanceType string, opts ...LaunchOption) (string, error) {
	spec := provider.LaunchSpec{ImageID: imageID, InstanceType: instanceType}
	for _, opt := range opts {
		opt(&spec)
	}

	id, err := b.compute.RunInstance(ctx, spec)
	if err != nil {
		return "", fmt.Errorf("%w: from image %s: %w", ErrLaunchFailed, imageID, err)
	}
	if id == "" {
		return "", fmt.Errorf("%w: from image %s: %w", ErrLaunchFailed, imageID, provider.ErrMalformedResponse)
	}
	return id, nil
}

// CreateImage snapshots an instance without rebooting it.
// The returned image may not be usable yet.
func (b *Builder) CreateImage(ctx context.Context, instanceID, name string) (string, error) {
	id, err := b.compute.CreateImage(ctx, instanceID, name, true)
	if err != nil {
		return "", fmt.Errorf("%w: %s from %s: %w", ErrImageCreationFailed, name, instanceID, err)
	}
	if id == "" {
		return "", fmt.Errorf("%w: %s from %s: %w", ErrImageCreationFailed, name, instanceID, provider.ErrMalformedResponse)
	}
	return id, nil
}

// CreatePatchingImage snapshots the source instance as "<base>_patching_<ts>".
func (b *Builder) CreatePatchingImage(ctx context.Context, instanceID, baseImageID string) (imageID, name string, err error) {
	name = PatchingName(baseImageID, b.clock.Timestamp())
	imageID, err = b.CreateImage(ctx, instanceID, name)
	return imageID, name, err
}

// CreatePatchedImage snapshots the worker instance as "<base>_patched_<ts>".
func (b *Builder) CreatePatchedImage(ctx context.Context, workerID, baseImageID string) (imageID, name string, err error) {
	name = PatchedName(baseImageID, b.clock.Timestamp())
	imageID, err = b.CreateImage(ctx, workerID, name)
	return imageID, name, err
}

// WaitImageAvailable blocks until the image is usable or maxWait elapses.
func (b *Builder) WaitImageAvailable(ctx context.Context, imageID string, maxWait time.Duration) error {
	if err := b.compute.WaitImageAvailable(ctx, imageID, maxWait); err != nil {
		return fmt.Errorf("%w: %s not available: %w", ErrImageCreationFailed, imageID, err)
	}
	return nil
}

// WaitInstanceRunning blocks until the instance is running or maxWait elapses.
func (b *Builder) WaitInstanceRunning(ctx context.Context, instanceID string, maxWait time.Duration) error {
	if err := b.compute.WaitInstanceRunning(ctx, instanceID, maxWait); err != nil {
		return fmt.Errorf("%w: %s not running: %w", ErrLaunchFailed, instanceID, err)
	}
	return nil
}

// TagImage tags an image when the compute service supports it.
// It reports false when tagging is not supported.
func (b *Builder) TagImage(ctx context.Context, imageID string, tags map[string]string) (bool, error) {
	tagger, ok := b.compute.(provider.ImageTagger)
	if !ok {
		return false, nil
	}
	return true, tagger.TagImage(ctx, imageID, tags)
}

// TerminateInstance terminates an instance on a best-effort basis.
// Failure is returned as a Warning, never as an error.
func (b *Builder) TerminateInstance(ctx context.Context, instanceID string) (string, *Warning) {
	state, err := b.compute.TerminateInstance(ctx, instanceID)
	if err != nil {
		return "", &Warning{Op: "terminate", Resource: instanceID, Err: err}
	}
	return state, nil
}
