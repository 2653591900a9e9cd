package resource

import (
	"context"
	"errors"
	"sync"

	"github.com/3leaps/amipatch/pkg/provider"
)

var errNoCompute = errors.New("no compute service configured")

// Instance is a compute instance member of a stack.
//
// Its description is fetched from the compute control plane at most once
// successfully and then memoized for the life of the value. Failed fetches
// are not cached.
type Instance struct {
	base
	compute provider.ComputeService

	mu          sync.Mutex
	description *provider.InstanceDescription
}

// NewInstance builds an Instance resource.
func NewInstance(d provider.ResourceDescriptor, compute provider.ComputeService) *Instance {
	return &Instance{base: base{desc: d}, compute: compute}
}

func (i *Instance) Variant() Variant { return VariantInstance }
func (i *Instance) Patchable() bool  { return true }

// Describe fetches and memoizes the instance description.
func (i *Instance) Describe(ctx context.Context) error {
	_, err := i.Description(ctx)
	return err
}

// Description returns the memoized instance description, fetching it on
// first use. Errors match provider.ErrUpstreamUnavailable.
func (i *Instance) Description(ctx context.Context) (*provider.InstanceDescription, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.description != nil {
		return i.description, nil
	}
	if i.compute == nil {
		return nil, upstream("describe instance", i.PhysicalID(), errNoCompute)
	}

	desc, err := i.compute.DescribeInstance(ctx, i.PhysicalID())
	if err != nil {
		return nil, upstream("describe instance", i.PhysicalID(), err)
	}
	if desc == nil || desc.ImageID == "" {
		return nil, upstream("describe instance", i.PhysicalID(), provider.ErrMalformedResponse)
	}

	i.description = desc
	return desc, nil
}

// CurrentImageID returns the image the instance was launched from.
func (i *Instance) CurrentImageID(ctx context.Context) (string, error) {
	desc, err := i.Description(ctx)
	if err != nil {
		return "", err
	}
	return desc.ImageID, nil
}
