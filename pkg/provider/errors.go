package provider

import (
	"errors"
	"fmt"
)

// Sentinel errors for collaborator operations.
var (
	// ErrUpstreamUnavailable indicates a collaborator call failed or returned
	// malformed data. Every ProviderError matches it.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrNotFound indicates the requested stack, instance, image or object does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAccessDenied indicates insufficient permissions.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrThrottled indicates the request was rate limited by the provider.
	ErrThrottled = errors.New("request throttled")

	// ErrImageNotReady indicates an image exists but cannot be used yet.
	// Image creation is eventually consistent; callers retry with backoff.
	ErrImageNotReady = errors.New("image not yet available")

	// ErrTargetNotRegistered indicates the instance is not reachable by the
	// command service (agent not running or not registered).
	ErrTargetNotRegistered = errors.New("target not registered with command service")

	// ErrInvocationNotFound indicates the command service does not know the
	// invocation yet. Seen briefly right after dispatch.
	ErrInvocationNotFound = errors.New("invocation not found")

	// ErrMalformedResponse indicates a collaborator returned data the core cannot use.
	ErrMalformedResponse = errors.New("malformed response")
)

// ProviderError wraps collaborator errors with context.
type ProviderError struct {
	// Op is the operation that failed (e.g., "DescribeInstances", "SendCommand").
	Op string

	// Service is the collaborator that failed (e.g., "ec2", "ssm").
	Service string

	// Resource identifies the stack, instance, image or object, if applicable.
	Resource string

	// Err is the underlying error, usually one of the sentinels above.
	Err error

	// Cause is the raw SDK error, kept for diagnostics.
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Service, e.Op)
	if e.Resource != "" {
		msg += ": " + e.Resource
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Cause != nil && e.Cause != e.Err {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the classified sentinel and the raw cause for errors.Is/As support.
func (e *ProviderError) Unwrap() []error {
	errs := []error{ErrUpstreamUnavailable}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Cause != nil && e.Cause != e.Err {
		errs = append(errs, e.Cause)
	}
	return errs
}

// IsUpstreamUnavailable returns true if the error came from a failed collaborator call.
func IsUpstreamUnavailable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable)
}

// IsNotFound returns true if the error indicates the target was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAccessDenied returns true if the error indicates insufficient permissions.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsInvalidCredentials returns true if the error indicates authentication failed.
func IsInvalidCredentials(err error) bool {
	return errors.Is(err, ErrInvalidCredentials)
}

// IsThrottled returns true if the error indicates the request was rate limited.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}

// IsImageNotReady returns true if the image exists but is not yet usable.
func IsImageNotReady(err error) bool {
	return errors.Is(err, ErrImageNotReady)
}

// IsTargetNotRegistered returns true if the command target is unreachable.
func IsTargetNotRegistered(err error) bool {
	return errors.Is(err, ErrTargetNotRegistered)
}

// IsInvocationNotFound returns true if the command service does not know the invocation.
func IsInvocationNotFound(err error) bool {
	return errors.Is(err, ErrInvocationNotFound)
}
