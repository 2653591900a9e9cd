package patcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/3leaps/amipatch/pkg/inventory"
	"github.com/3leaps/amipatch/pkg/resource"
)

// DefaultConcurrency is the number of patch attempts run in parallel.
const DefaultConcurrency = 4

// Observer receives progress from a Runner. Methods may be called from
// multiple goroutines concurrently.
type Observer interface {
	// StackPlanned is called once per stack after its resources are listed.
	// err is set when the listing failed.
	StackPlanned(stack *inventory.Stack, patchable []resource.Resource, err error)

	// JobStarted is called before a patch attempt starts.
	JobStarted(stackName string, r resource.Resource)

	// JobFinished is called after a patch attempt reached a terminal state.
	JobFinished(job *PatchJob, err error)
}

// Outcome is the result of one patch attempt, or of a stack whose
// resources could not be listed (Resource and Job empty).
type Outcome struct {
	Stack    string
	Resource string
	Job      *PatchJob
	Err      error
}

// Summary aggregates a fan-out run.
type Summary struct {
	Stacks      int `json:"stacks"`
	Skipped     int `json:"skipped_stacks"`
	Resources   int `json:"resources"`
	Succeeded   int `json:"succeeded"`
	Failed      int `json:"failed"`
	Unsupported int `json:"unsupported"`
	Warnings    int `json:"warnings"`

	Duration time.Duration `json:"duration_ns"`

	// Outcomes are ordered by stack, then by resource inventory order.
	Outcomes []Outcome `json:"-"`
}

// Images returns the patched image id per resource id for succeeded attempts.
func (s *Summary) Images() map[string]string {
	out := make(map[string]string)
	for _, o := range s.Outcomes {
		if o.Err == nil && o.Job != nil {
			out[o.Resource] = o.Job.ResultImageID
		}
	}
	return out
}

// Runner fans patch attempts out over the patchable resources of stacks.
//
// Each resource is an isolated unit of work: a failure is recorded in its
// Outcome and never stops sibling resources or stacks. Stacks without
// patchable resources cause no compute or command calls.
type Runner struct {
	Patcher *Patcher

	// Concurrency bounds parallel patch attempts. Zero uses DefaultConcurrency.
	Concurrency int

	// RateLimit bounds patch attempt starts per second. Zero is unlimited.
	RateLimit float64

	Observer Observer
}

type task struct {
	index    int
	stack    string
	resource resource.Resource
}

// PatchStack patches every patchable resource of one stack.
func (r *Runner) PatchStack(ctx context.Context, stack *inventory.Stack) (*Summary, error) {
	return r.PatchStacks(ctx, []*inventory.Stack{stack})
}

// PatchStacks patches every patchable resource of the given stacks.
//
// The returned error is set only when ctx ended before every attempt was
// started; the summary then covers the attempts that ran.
func (r *Runner) PatchStacks(ctx context.Context, stacks []*inventory.Stack) (*Summary, error) {
	start := time.Now()
	summary := &Summary{Stacks: len(stacks)}

	var tasks []task
	for _, stack := range stacks {
		patchable, err := stack.PatchableResources(ctx)
		if r.Observer != nil {
			r.Observer.StackPlanned(stack, patchable, err)
		}
		if err != nil {
			summary.Outcomes = append(summary.Outcomes, Outcome{
				Stack: stack.Name,
				Err:   &PatchError{Stack: stack.Name, Step: StepInventory, Err: err},
			})
			continue
		}
		if len(patchable) == 0 {
			summary.Skipped++
			continue
		}
		for _, res := range patchable {
			tasks = append(tasks, task{index: len(summary.Outcomes), stack: stack.Name, resource: res})
			summary.Outcomes = append(summary.Outcomes, Outcome{Stack: stack.Name, Resource: res.PhysicalID()})
		}
	}

	runErr := r.run(ctx, tasks, summary.Outcomes)

	for _, o := range summary.Outcomes {
		if o.Resource == "" {
			summary.Failed++
			continue
		}
		summary.Resources++
		if o.Job != nil {
			summary.Warnings += len(o.Job.Warnings)
		}
		switch {
		case o.Err == nil && o.Job != nil:
			summary.Succeeded++
		case errors.Is(o.Err, resource.ErrUnsupported):
			summary.Unsupported++
		default:
			summary.Failed++
		}
	}
	summary.Duration = time.Since(start)
	return summary, runErr
}

// run executes tasks on a bounded pool, writing each result to its own
// slot of outcomes.
func (r *Runner) run(ctx context.Context, tasks []task, outcomes []Outcome) error {
	concurrency := r.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	var limiter *rate.Limiter
	if r.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(r.RateLimit), 1)
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var firstErr error

	for _, t := range tasks {
		// Tasks never started keep the context error as their outcome.
		if firstErr == nil {
			firstErr = acquire(ctx, sem, limiter)
		}
		if firstErr != nil {
			outcomes[t.index].Err = &PatchError{Stack: t.stack, Resource: t.resource.PhysicalID(), Step: StepQueued, Err: firstErr}
			continue
		}

		wg.Add(1)
		go func(t task) {
			defer wg.Done()
			defer func() { <-sem }()

			if r.Observer != nil {
				r.Observer.JobStarted(t.stack, t.resource)
			}
			job, err := r.Patcher.PatchResource(ctx, t.stack, t.resource)
			outcomes[t.index].Job = job
			outcomes[t.index].Err = err
			if r.Observer != nil {
				r.Observer.JobFinished(job, err)
			}
		}(t)
	}

	wg.Wait()
	return firstErr
}

// acquire takes a pool slot and a rate limit token, or fails on cancellation.
func acquire(ctx context.Context, sem chan struct{}, limiter *rate.Limiter) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case sem <- struct{}{}:
	}
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		<-sem
		return err
	}
	return nil
}
