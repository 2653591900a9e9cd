// Package inventory lists stacks and exposes their member resources.
//
// A Stack fetches its resource list on first use and caches it for the
// life of the value. The cache is never invalidated: observing inventory
// drift requires listing the stacks again.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/3leaps/amipatch/pkg/match"
	"github.com/3leaps/amipatch/pkg/provider"
	"github.com/3leaps/amipatch/pkg/resource"
)

// Stack is one deployed stack and its lazily loaded resources.
type Stack struct {
	// ID is the opaque stack identity.
	ID string

	Name   string
	Status string

	inventory  provider.InventoryService
	classifier resource.Classifier

	mu        sync.Mutex
	loaded    bool
	resources []resource.Resource
}

// NewStack builds a Stack from a listing entry.
func NewStack(summary provider.StackSummary, inventory provider.InventoryService, classifier resource.Classifier) *Stack {
	return &Stack{
		ID:         summary.ID,
		Name:       summary.Name,
		Status:     summary.Status,
		inventory:  inventory,
		classifier: classifier,
	}
}

// Resources returns the stack's member resources in inventory order.
//
// The first successful call issues exactly one describe request; later
// calls return the cached snapshot. Failures are not cached.
func (s *Stack) Resources(ctx context.Context) ([]resource.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		if s.inventory == nil {
			return nil, s.upstream(errors.New("no inventory service configured"))
		}
		descriptors, err := s.inventory.DescribeStackResources(ctx, s.ID)
		if err != nil {
			return nil, s.upstream(err)
		}
		resources := make([]resource.Resource, 0, len(descriptors))
		for _, d := range descriptors {
			resources = append(resources, s.classifier.Classify(d))
		}
		s.resources = resources
		s.loaded = true
	}

	return append([]resource.Resource(nil), s.resources...), nil
}

func (s *Stack) upstream(err error) error {
	if errors.Is(err, provider.ErrUpstreamUnavailable) {
		return fmt.Errorf("stack %s: describe resources: %w", s.Name, err)
	}
	return fmt.Errorf("stack %s: describe resources: %w: %w", s.Name, provider.ErrUpstreamUnavailable, err)
}

// IsPatchable reports whether at least one resource is patchable.
func (s *Stack) IsPatchable(ctx context.Context) (bool, error) {
	resources, err := s.Resources(ctx)
	if err != nil {
		return false, err
	}
	for _, r := range resources {
		if r.Patchable() {
			return true, nil
		}
	}
	return false, nil
}

// PatchableResources returns the patchable resources in inventory order.
func (s *Stack) PatchableResources(ctx context.Context) ([]resource.Resource, error) {
	resources, err := s.Resources(ctx)
	if err != nil {
		return nil, err
	}
	var out []resource.Resource
	for _, r := range resources {
		if r.Patchable() {
			out = append(out, r)
		}
	}
	return out, nil
}

// Listing is the result of one stack listing.
type Listing struct {
	Stacks []*Stack

	// Truncated is set when the inventory service had more pages.
	// Only the first page is returned.
	Truncated bool

	// Skipped counts stacks dropped by the Lister's filter.
	Skipped int
}

// Lister lists stacks from the inventory service.
type Lister struct {
	Inventory  provider.InventoryService
	Classifier resource.Classifier

	// Filter, when set, drops stacks that do not match. Nil lists every stack.
	Filter match.Filter
}

// ListStacks returns one Stack per listed entry, in service order.
func (l *Lister) ListStacks(ctx context.Context) (*Listing, error) {
	if l.Inventory == nil {
		return nil, fmt.Errorf("list stacks: %w: no inventory service configured", provider.ErrUpstreamUnavailable)
	}

	page, err := l.Inventory.ListStacks(ctx)
	if err != nil {
		if errors.Is(err, provider.ErrUpstreamUnavailable) {
			return nil, fmt.Errorf("list stacks: %w", err)
		}
		return nil, fmt.Errorf("list stacks: %w: %w", provider.ErrUpstreamUnavailable, err)
	}
	if page == nil {
		return nil, fmt.Errorf("list stacks: %w: %w", provider.ErrUpstreamUnavailable, provider.ErrMalformedResponse)
	}

	listing := &Listing{
		Stacks:    make([]*Stack, 0, len(page.Stacks)),
		Truncated: page.Truncated(),
	}
	for _, summary := range page.Stacks {
		if l.Filter != nil && !l.Filter.Match(summary) {
			listing.Skipped++
			continue
		}
		listing.Stacks = append(listing.Stacks, NewStack(summary, l.Inventory, l.Classifier))
	}
	return listing, nil
}
