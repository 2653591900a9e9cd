// Package resource is the typed view over a stack's member resources.
//
// Each descriptor returned by the inventory service is classified into one
// of three variants by its resource-type tag. Only the variant decides
// whether a resource is patchable; the flag never changes after
// construction.
package resource

import (
	"context"
	"errors"
	"fmt"

	"github.com/3leaps/amipatch/pkg/provider"
)

// Resource-type tags recognized by the classifier.
const (
	TypeInstance         = "AWS::EC2::Instance"
	TypeAutoScalingGroup = "AWS::AutoScaling::AutoScalingGroup"
)

var (
	// ErrUnsupported marks a code path that exists but is deliberately not implemented.
	ErrUnsupported = errors.New("unsupported")

	// ErrNotPatchable indicates the resource variant cannot be patched.
	ErrNotPatchable = errors.New("resource is not patchable")
)

// Variant selects resource-specific behavior.
type Variant int

const (
	VariantGeneric Variant = iota
	VariantInstance
	VariantAutoScalingGroup
)

// String returns the string representation of the variant.
func (v Variant) String() string {
	switch v {
	case VariantInstance:
		return "instance"
	case VariantAutoScalingGroup:
		return "autoscaling-group"
	default:
		return "generic"
	}
}

// Patchable reports whether resources of this variant are eligible for patching.
// AutoScalingGroup is eligible but its patch path is unsupported.
func (v Variant) Patchable() bool {
	return v == VariantInstance || v == VariantAutoScalingGroup
}

// VariantOf classifies a resource-type tag. Tags are matched exactly.
func VariantOf(typeTag string) Variant {
	switch typeTag {
	case TypeInstance:
		return VariantInstance
	case TypeAutoScalingGroup:
		return VariantAutoScalingGroup
	default:
		return VariantGeneric
	}
}

// Resource is one member of a stack.
type Resource interface {
	// Type is the resource-type tag, passed through verbatim.
	Type() string

	// Status is the resource status, passed through verbatim.
	Status() string

	// PhysicalID is the provider id of the resource.
	PhysicalID() string

	// LogicalID is the template-local name of the resource.
	LogicalID() string

	Variant() Variant
	Patchable() bool

	// Describe fetches and memoizes variant-specific details.
	// It is a no-op for variants that have none.
	Describe(ctx context.Context) error
}

type base struct {
	desc provider.ResourceDescriptor
}

func (b *base) Type() string       { return b.desc.Type }
func (b *base) Status() string     { return b.desc.Status }
func (b *base) PhysicalID() string { return b.desc.PhysicalID }
func (b *base) LogicalID() string  { return b.desc.LogicalID }

// Generic is any resource the patcher does not understand.
type Generic struct {
	base
}

func (g *Generic) Variant() Variant                   { return VariantGeneric }
func (g *Generic) Patchable() bool                    { return false }
func (g *Generic) Describe(ctx context.Context) error { return nil }

// Classifier turns descriptors into resources, injecting the collaborators
// that the Instance and AutoScalingGroup variants need.
type Classifier struct {
	Compute       provider.ComputeService
	ScalingGroups provider.ScalingGroupService
}

// Classify builds the resource variant selected by the descriptor's type tag.
func (c Classifier) Classify(d provider.ResourceDescriptor) Resource {
	switch VariantOf(d.Type) {
	case VariantInstance:
		return NewInstance(d, c.Compute)
	case VariantAutoScalingGroup:
		return NewAutoScalingGroup(d, c.ScalingGroups)
	default:
		return &Generic{base{desc: d}}
	}
}

// upstream makes sure a collaborator failure matches provider.ErrUpstreamUnavailable.
func upstream(what, id string, err error) error {
	if errors.Is(err, provider.ErrUpstreamUnavailable) {
		return fmt.Errorf("%s %s: %w", what, id, err)
	}
	return fmt.Errorf("%s %s: %w: %w", what, id, provider.ErrUpstreamUnavailable, err)
}
