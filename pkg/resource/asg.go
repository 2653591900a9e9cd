package resource

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/3leaps/amipatch/pkg/provider"
)

var errNoScalingGroups = errors.New("no scaling group service configured")

// AutoScalingGroup is an autoscaling group member of a stack.
//
// It is patchable by variant but its patch image discovery is not
// implemented: whether patching means the launch template image or the
// current members is an open product decision. PatchImageID always fails
// with ErrUnsupported.
type AutoScalingGroup struct {
	base
	groups provider.ScalingGroupService

	mu          sync.Mutex
	description *provider.ScalingGroupDescription
}

// NewAutoScalingGroup builds an AutoScalingGroup resource.
func NewAutoScalingGroup(d provider.ResourceDescriptor, groups provider.ScalingGroupService) *AutoScalingGroup {
	return &AutoScalingGroup{base: base{desc: d}, groups: groups}
}

func (g *AutoScalingGroup) Variant() Variant { return VariantAutoScalingGroup }
func (g *AutoScalingGroup) Patchable() bool  { return true }

// Describe fetches and memoizes the group description. Without a scaling
// group service it is a no-op.
func (g *AutoScalingGroup) Describe(ctx context.Context) error {
	if g.groups == nil {
		return nil
	}
	_, err := g.Description(ctx)
	return err
}

// Description returns the memoized group description, fetching it on first use.
func (g *AutoScalingGroup) Description(ctx context.Context) (*provider.ScalingGroupDescription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.description != nil {
		return g.description, nil
	}
	if g.groups == nil {
		return nil, upstream("describe autoscaling group", g.PhysicalID(), errNoScalingGroups)
	}

	desc, err := g.groups.DescribeAutoScalingGroup(ctx, g.PhysicalID())
	if err != nil {
		return nil, upstream("describe autoscaling group", g.PhysicalID(), err)
	}
	if desc == nil {
		return nil, upstream("describe autoscaling group", g.PhysicalID(), provider.ErrMalformedResponse)
	}

	g.description = desc
	return desc, nil
}

// PatchImageID would return the image to patch for this group.
func (g *AutoScalingGroup) PatchImageID(ctx context.Context) (string, error) {
	return "", fmt.Errorf("autoscaling group %s: patch image discovery: %w", g.PhysicalID(), ErrUnsupported)
}
