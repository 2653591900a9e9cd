package patcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/3leaps/amipatch/pkg/command"
	"github.com/3leaps/amipatch/pkg/imagebuilder"
	"github.com/3leaps/amipatch/pkg/provider"
	"github.com/3leaps/amipatch/pkg/resource"
)

// ErrUnsupportedPlatform indicates no patch command exists for the instance platform.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// Step names one stage of a patch attempt.
type Step string

const (
	StepDescribe       Step = "describe"
	StepPatchingImage  Step = "patching-image"
	StepWaitImage      Step = "wait-image"
	StepLaunch         Step = "launch"
	StepWaitInstance   Step = "wait-instance"
	StepDispatch       Step = "dispatch"
	StepWait           Step = "wait"
	StepOutput         Step = "output"
	StepPatchedImage   Step = "patched-image"
	StepWaitPatched    Step = "wait-patched-image"
	StepTag            Step = "tag"
	StepDone           Step = "done"
	StepInventory      Step = "inventory"
	StepUnsupported    Step = "unsupported"
	StepNotPatchable   Step = "not-patchable"
	StepQueued         Step = "queued"
)

// PatchError reports a failed patch attempt with the resource identity
// and the step that failed.
type PatchError struct {
	Stack    string
	Resource string
	Step     Step
	Err      error
}

// Error implements the error interface.
func (e *PatchError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("patch %s: %s: %v", e.Stack, e.Step, e.Err)
	}
	return fmt.Sprintf("patch %s/%s: %s: %v", e.Stack, e.Resource, e.Step, e.Err)
}

// Unwrap returns the underlying error.
func (e *PatchError) Unwrap() error {
	return e.Err
}

// Machine-readable error codes for output records.
const (
	CodeUpstreamUnavailable   = "UPSTREAM_UNAVAILABLE"
	CodeAccessDenied          = "ACCESS_DENIED"
	CodeThrottled             = "THROTTLED"
	CodeNotFound              = "NOT_FOUND"
	CodeDispatchFailed        = "DISPATCH_FAILED"
	CodeOutputRetrievalFailed = "OUTPUT_RETRIEVAL_FAILED"
	CodeTimedOut              = "TIMED_OUT"
	CodeCommandFailed         = "COMMAND_FAILED"
	CodeLaunchFailed          = "LAUNCH_FAILED"
	CodeImageCreationFailed   = "IMAGE_CREATION_FAILED"
	CodeUnsupportedPlatform   = "UNSUPPORTED_PLATFORM"
	CodeUnsupported           = "UNSUPPORTED"
	CodeNotPatchable          = "NOT_PATCHABLE"
	CodeCancelled             = "CANCELLED"
	CodeInternal              = "INTERNAL"
)

// ErrorCode maps an error to its machine-readable code. The most specific
// classification wins.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCancelled
	case errors.Is(err, ErrUnsupportedPlatform):
		return CodeUnsupportedPlatform
	case errors.Is(err, resource.ErrUnsupported):
		return CodeUnsupported
	case errors.Is(err, resource.ErrNotPatchable):
		return CodeNotPatchable
	case errors.Is(err, command.ErrTimedOut):
		return CodeTimedOut
	case errors.Is(err, command.ErrCommandFailed):
		return CodeCommandFailed
	case errors.Is(err, command.ErrDispatchFailed):
		return CodeDispatchFailed
	case errors.Is(err, command.ErrOutputRetrievalFailed):
		return CodeOutputRetrievalFailed
	case errors.Is(err, imagebuilder.ErrLaunchFailed):
		return CodeLaunchFailed
	case errors.Is(err, imagebuilder.ErrImageCreationFailed):
		return CodeImageCreationFailed
	case errors.Is(err, provider.ErrAccessDenied), errors.Is(err, provider.ErrInvalidCredentials):
		return CodeAccessDenied
	case errors.Is(err, provider.ErrThrottled):
		return CodeThrottled
	case errors.Is(err, provider.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, provider.ErrUpstreamUnavailable):
		return CodeUpstreamUnavailable
	default:
		return CodeInternal
	}
}
