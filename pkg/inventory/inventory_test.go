package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/amipatch/pkg/match"
	"github.com/3leaps/amipatch/pkg/provider"
	"github.com/3leaps/amipatch/pkg/provider/providertest"
	"github.com/3leaps/amipatch/pkg/resource"
)

func newInventory() *providertest.Inventory {
	return &providertest.Inventory{
		Page: &provider.StackPage{Stacks: []provider.StackSummary{
			{ID: "arn:web", Name: "web", Status: "CREATE_COMPLETE"},
			{ID: "arn:data", Name: "data", Status: "UPDATE_COMPLETE"},
			{ID: "arn:old", Name: "old", Status: "DELETE_COMPLETE"},
		}},
		Resources: map[string][]provider.ResourceDescriptor{
			"arn:web": {
				{Type: "AWS::EC2::SecurityGroup", PhysicalID: "sg-1"},
				{Type: resource.TypeInstance, PhysicalID: "i-1"},
				{Type: resource.TypeInstance, PhysicalID: "i-2"},
			},
			"arn:data": {
				{Type: "AWS::S3::Bucket", PhysicalID: "bucket"},
				{Type: "AWS::Autoscaling::Autoscaling", PhysicalID: "typo"},
			},
		},
	}
}

func TestLister_ListStacks(t *testing.T) {
	inv := newInventory()
	l := &Lister{Inventory: inv}

	listing, err := l.ListStacks(context.Background())
	require.NoError(t, err)
	require.Len(t, listing.Stacks, 3)
	assert.Equal(t, "web", listing.Stacks[0].Name)
	assert.Equal(t, "arn:data", listing.Stacks[1].ID)
	assert.Equal(t, "DELETE_COMPLETE", listing.Stacks[2].Status)
	assert.False(t, listing.Truncated)
	assert.Zero(t, listing.Skipped)

	// listing does not describe resources
	assert.Zero(t, inv.DescribeCalls("arn:web"))
}

func TestLister_ListStacks_Truncated(t *testing.T) {
	inv := newInventory()
	inv.Page.NextToken = "more"

	listing, err := (&Lister{Inventory: inv}).ListStacks(context.Background())
	require.NoError(t, err)
	assert.True(t, listing.Truncated)
}

func TestLister_ListStacks_Filter(t *testing.T) {
	filter, err := match.NewFilterFromConfig(nil)
	require.NoError(t, err)

	listing, err := (&Lister{Inventory: newInventory(), Filter: filter}).ListStacks(context.Background())
	require.NoError(t, err)
	require.Len(t, listing.Stacks, 2)
	assert.Equal(t, 1, listing.Skipped)
}

func TestLister_ListStacks_Error(t *testing.T) {
	inv := &providertest.Inventory{ListErr: errors.New("timeout")}

	_, err := (&Lister{Inventory: inv}).ListStacks(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrUpstreamUnavailable)

	_, err = (&Lister{}).ListStacks(context.Background())
	assert.ErrorIs(t, err, provider.ErrUpstreamUnavailable)
}

func TestStack_ResourcesCached(t *testing.T) {
	inv := newInventory()
	s := NewStack(provider.StackSummary{ID: "arn:web", Name: "web"}, inv, resource.Classifier{})
	ctx := context.Background()

	for range 4 {
		resources, err := s.Resources(ctx)
		require.NoError(t, err)
		require.Len(t, resources, 3)
		assert.Equal(t, resource.VariantGeneric, resources[0].Variant())
		assert.Equal(t, "i-1", resources[1].PhysicalID())
	}
	_, _ = s.IsPatchable(ctx)
	_, _ = s.PatchableResources(ctx)

	assert.Equal(t, 1, inv.DescribeCalls("arn:web"))
}

func TestStack_ResourcesSnapshot(t *testing.T) {
	inv := newInventory()
	s := NewStack(provider.StackSummary{ID: "arn:web", Name: "web"}, inv, resource.Classifier{})
	ctx := context.Background()

	first, err := s.Resources(ctx)
	require.NoError(t, err)
	first[0] = nil

	inv.Resources["arn:web"] = nil
	second, err := s.Resources(ctx)
	require.NoError(t, err)
	require.Len(t, second, 3)
	assert.NotNil(t, second[0])
}

func TestStack_EmptyCached(t *testing.T) {
	inv := newInventory()
	s := NewStack(provider.StackSummary{ID: "arn:empty", Name: "empty"}, inv, resource.Classifier{})

	for range 2 {
		resources, err := s.Resources(context.Background())
		require.NoError(t, err)
		assert.Empty(t, resources)
	}
	assert.Equal(t, 1, inv.DescribeCalls("arn:empty"))
}

func TestStack_ResourcesFailureNotCached(t *testing.T) {
	inv := newInventory()
	inv.DescribeErr = errors.New("boom")
	s := NewStack(provider.StackSummary{ID: "arn:web", Name: "web"}, inv, resource.Classifier{})
	ctx := context.Background()

	_, err := s.Resources(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrUpstreamUnavailable)
	assert.Contains(t, err.Error(), "stack web")

	ok, err := s.IsPatchable(ctx)
	require.Error(t, err)
	assert.False(t, ok)

	inv.DescribeErr = nil
	resources, err := s.Resources(ctx)
	require.NoError(t, err)
	assert.Len(t, resources, 3)
}

func TestStack_IsPatchable(t *testing.T) {
	inv := newInventory()
	ctx := context.Background()

	web := NewStack(provider.StackSummary{ID: "arn:web", Name: "web"}, inv, resource.Classifier{})
	ok, err := web.IsPatchable(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	patchable, err := web.PatchableResources(ctx)
	require.NoError(t, err)
	require.Len(t, patchable, 2)
	assert.Equal(t, "i-1", patchable[0].PhysicalID())
	assert.Equal(t, "i-2", patchable[1].PhysicalID())

	data := NewStack(provider.StackSummary{ID: "arn:data", Name: "data"}, inv, resource.Classifier{})
	ok, err = data.IsPatchable(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	patchable, err = data.PatchableResources(ctx)
	require.NoError(t, err)
	assert.Empty(t, patchable)
}
