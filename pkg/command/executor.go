// Package command runs a shell command on one instance through the remote
// command service.
//
// An invocation moves Dispatched -> Polling -> {Succeeded | Failed | TimedOut}.
// Polling is bounded: before poll n (1-based) the executor sleeps
// Unit * 2^n, so the default budget of five polls sleeps 2, 4, 8, 16 and 32
// units. A budget exhausted while the command is still running yields
// TimedOut, which is a result and not an error.
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/3leaps/amipatch/pkg/provider"
)

var (
	// ErrDispatchFailed indicates the command could not be sent to the target.
	ErrDispatchFailed = errors.New("dispatch failed")

	// ErrOutputRetrievalFailed indicates captured output was missing or unreadable.
	ErrOutputRetrievalFailed = errors.New("output retrieval failed")

	// ErrTimedOut is returned by StatusError for a TimedOut invocation.
	ErrTimedOut = errors.New("timed out")

	// ErrCommandFailed is returned by StatusError for a Failed invocation.
	ErrCommandFailed = errors.New("command failed")
)

// Defaults.
const (
	DefaultMaxAttempts = 5
	DefaultUnit        = time.Second
	DefaultDocument    = "AWS-RunShellScript"

	// cancelTimeout bounds the best-effort cancel issued when a poll is abandoned.
	cancelTimeout = 10 * time.Second
)

// Config configures an Executor.
type Config struct {
	// MaxAttempts is the poll budget.
	MaxAttempts int

	// Unit is the backoff time unit.
	Unit time.Duration

	// Document is the command document name.
	Document string

	// OutputBucket receives captured output. Empty keeps output inline.
	OutputBucket string
	OutputPrefix string
	OutputRegion string

	// Comment is attached to every invocation.
	Comment string
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: DefaultMaxAttempts,
		Unit:        DefaultUnit,
		Document:    DefaultDocument,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Unit <= 0 {
		c.Unit = DefaultUnit
	}
	if c.Document == "" {
		c.Document = DefaultDocument
	}
	return c
}

// Backoff returns the sleep before poll attempt (1-based).
func (c Config) Backoff(attempt int) time.Duration {
	return c.Unit * time.Duration(int64(1)<<uint(attempt))
}

// Invocation tracks one dispatched command.
type Invocation struct {
	ID         string
	InstanceID string
	Command    string

	Status provider.InvocationStatus

	// RawStatus is the command service's own status string.
	RawStatus     string
	StatusDetails string
	ResponseCode  int

	// OutputURL is the reported location of captured stdout.
	OutputURL string

	// OutputContent is the inline (possibly truncated) stdout.
	OutputContent string

	// Attempts is the number of polls performed.
	Attempts int

	DispatchedAt time.Time
}

// StatusError maps a terminal invocation to an error for callers that treat
// anything but success as fatal. It returns nil for Succeeded.
func StatusError(inv *Invocation) error {
	switch inv.Status {
	case provider.InvocationSucceeded:
		return nil
	case provider.InvocationTimedOut:
		return fmt.Errorf("invocation %s on %s after %d polls: %w", inv.ID, inv.InstanceID, inv.Attempts, ErrTimedOut)
	case provider.InvocationFailed:
		return fmt.Errorf("invocation %s on %s: %s (exit %d): %w", inv.ID, inv.InstanceID, inv.RawStatus, inv.ResponseCode, ErrCommandFailed)
	default:
		return fmt.Errorf("invocation %s on %s: not terminal (%s): %w", inv.ID, inv.InstanceID, inv.Status, ErrTimedOut)
	}
}

// Result is the outcome of Run.
type Result struct {
	Invocation *Invocation

	// Output is the retrieved stdout. Set only for Succeeded invocations.
	Output string
}

// Executor dispatches commands and polls them to completion.
type Executor struct {
	commands provider.CommandService
	objects  provider.ObjectStore
	cfg      Config
	sleeper  Sleeper
	onPoll   func(*Invocation)
	now      func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithSleeper overrides the sleep primitive used between polls.
func WithSleeper(s Sleeper) Option {
	return func(e *Executor) {
		e.sleeper = s
	}
}

// WithPollHook registers a callback invoked after every poll.
// The hook must not retain or modify the invocation.
func WithPollHook(fn func(*Invocation)) Option {
	return func(e *Executor) {
		e.onPoll = fn
	}
}

// NewExecutor creates an Executor. objects may be nil when no output bucket is configured.
func NewExecutor(commands provider.CommandService, objects provider.ObjectStore, cfg Config, opts ...Option) *Executor {
	e := &Executor{
		commands: commands,
		objects:  objects,
		cfg:      cfg.withDefaults(),
		sleeper:  TimerSleeper,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Executor) Config() Config {
	return e.cfg
}

// Dispatch sends command to the instance and returns the new invocation.
func (e *Executor) Dispatch(ctx context.Context, instanceID, command string) (*Invocation, error) {
	id, err := e.commands.SendCommand(ctx, provider.CommandRequest{
		InstanceID:   instanceID,
		Command:      command,
		Document:     e.cfg.Document,
		OutputBucket: e.cfg.OutputBucket,
		OutputPrefix: e.cfg.OutputPrefix,
		OutputRegion: e.cfg.OutputRegion,
		Comment:      e.cfg.Comment,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDispatchFailed, instanceID, err)
	}
	if id == "" {
		return nil, fmt.Errorf("%w: %s: %w", ErrDispatchFailed, instanceID, provider.ErrMalformedResponse)
	}

	return &Invocation{
		ID:           id,
		InstanceID:   instanceID,
		Command:      command,
		Status:       provider.InvocationPending,
		ResponseCode: -1,
		DispatchedAt: e.now(),
	}, nil
}

// Wait polls the invocation until it is terminal or the budget runs out,
// updating inv in place.
//
// A poll reporting an unknown invocation counts as Pending; the command
// service may not list an invocation right after dispatch. Any other poll
// failure is returned. On cancellation Wait asks the service to cancel the
// invocation (when supported) and returns the context error.
func (e *Executor) Wait(ctx context.Context, inv *Invocation) error {
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if err := e.sleeper.Sleep(ctx, e.cfg.Backoff(attempt)); err != nil {
			e.cancel(ctx, inv)
			return fmt.Errorf("invocation %s: %w", inv.ID, err)
		}

		report, err := e.commands.GetInvocation(ctx, inv.ID, inv.InstanceID)
		inv.Attempts = attempt
		switch {
		case err == nil && report == nil:
			return fmt.Errorf("invocation %s: %w: %w", inv.ID, provider.ErrUpstreamUnavailable, provider.ErrMalformedResponse)
		case err == nil:
			inv.apply(report)
		case provider.IsInvocationNotFound(err):
			inv.Status = provider.InvocationPending
		case ctx.Err() != nil:
			e.cancel(ctx, inv)
			return fmt.Errorf("invocation %s: %w", inv.ID, ctx.Err())
		default:
			return fmt.Errorf("invocation %s: poll: %w", inv.ID, err)
		}

		if e.onPoll != nil {
			e.onPoll(inv)
		}
		if inv.Status.Terminal() {
			return nil
		}
	}

	inv.Status = provider.InvocationTimedOut
	return nil
}

func (inv *Invocation) apply(r *provider.InvocationReport) {
	inv.Status = r.Status
	inv.RawStatus = r.RawStatus
	inv.StatusDetails = r.StatusDetails
	inv.ResponseCode = r.ResponseCode
	if r.OutputURL != "" {
		inv.OutputURL = r.OutputURL
	}
	if r.OutputContent != "" {
		inv.OutputContent = r.OutputContent
	}
}

func (e *Executor) cancel(ctx context.Context, inv *Invocation) {
	canceller, ok := e.commands.(provider.InvocationCanceller)
	if !ok {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()
	_ = canceller.CancelInvocation(cctx, inv.ID, inv.InstanceID)
}

// FetchOutput retrieves the captured stdout of a finished invocation.
//
// With an output bucket configured the object key is derived from the
// reported output URL; otherwise the inline output is returned.
func (e *Executor) FetchOutput(ctx context.Context, inv *Invocation) (string, error) {
	if e.cfg.OutputBucket == "" {
		return inv.OutputContent, nil
	}
	if e.objects == nil {
		return "", fmt.Errorf("%w: invocation %s: no object store configured", ErrOutputRetrievalFailed, inv.ID)
	}

	key, err := OutputKey(inv.OutputURL, e.cfg.OutputBucket, e.cfg.OutputRegion)
	if err != nil {
		return "", fmt.Errorf("%w: invocation %s: %w", ErrOutputRetrievalFailed, inv.ID, err)
	}

	data, err := e.objects.GetObject(ctx, e.cfg.OutputBucket, key)
	if err != nil {
		return "", fmt.Errorf("%w: invocation %s: %w", ErrOutputRetrievalFailed, inv.ID, err)
	}
	return string(data), nil
}

// Run dispatches command, waits for a terminal status and, on success,
// retrieves the output.
//
// A Failed or TimedOut invocation is returned without error; use
// StatusError to interpret it. Errors are dispatch, poll, cancellation or
// output retrieval failures. The invocation is returned alongside any
// error raised after dispatch.
func (e *Executor) Run(ctx context.Context, instanceID, command string) (*Result, error) {
	inv, err := e.Dispatch(ctx, instanceID, command)
	if err != nil {
		return nil, err
	}

	res := &Result{Invocation: inv}
	if err := e.Wait(ctx, inv); err != nil {
		return res, err
	}
	if inv.Status != provider.InvocationSucceeded {
		return res, nil
	}

	out, err := e.FetchOutput(ctx, inv)
	if err != nil {
		return res, err
	}
	res.Output = out
	return res, nil
}
