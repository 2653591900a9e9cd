package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProviderError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ProviderError
		expected string
	}{
		{
			name: "with resource",
			err: &ProviderError{
				Op:       "DescribeInstances",
				Service:  "ec2",
				Resource: "i-0abc",
				Err:      ErrNotFound,
			},
			expected: "ec2 DescribeInstances: i-0abc: not found",
		},
		{
			name: "without resource",
			err: &ProviderError{
				Op:      "ListStacks",
				Service: "cloudformation",
				Err:     ErrAccessDenied,
			},
			expected: "cloudformation ListStacks: access denied",
		},
		{
			name: "with cause",
			err: &ProviderError{
				Op:      "SendCommand",
				Service: "ssm",
				Err:     ErrThrottled,
				Cause:   errors.New("ThrottlingException: slow down"),
			},
			expected: "ssm SendCommand: request throttled: ThrottlingException: slow down",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestProviderError_Unwrap(t *testing.T) {
	cause := errors.New("raw sdk failure")
	err := &ProviderError{
		Op:       "RunInstances",
		Service:  "ec2",
		Resource: "ami-111",
		Err:      ErrImageNotReady,
		Cause:    cause,
	}

	assert.True(t, errors.Is(err, ErrImageNotReady))
	assert.True(t, errors.Is(err, ErrUpstreamUnavailable))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrNotFound))

	var pe *ProviderError
	assert.True(t, errors.As(err, &pe))
	assert.Equal(t, "RunInstances", pe.Op)
}

func TestProviderError_AlwaysUpstreamUnavailable(t *testing.T) {
	err := &ProviderError{Op: "GetObject", Service: "s3"}
	assert.True(t, IsUpstreamUnavailable(err))
	assert.False(t, IsUpstreamUnavailable(errors.New("local failure")))
}

func TestIsHelpers(t *testing.T) {
	wrap := func(e error) error { return &ProviderError{Err: e} }

	assert.True(t, IsNotFound(wrap(ErrNotFound)))
	assert.False(t, IsNotFound(wrap(ErrAccessDenied)))

	assert.True(t, IsAccessDenied(wrap(ErrAccessDenied)))
	assert.True(t, IsInvalidCredentials(wrap(ErrInvalidCredentials)))
	assert.True(t, IsThrottled(wrap(ErrThrottled)))
	assert.False(t, IsThrottled(wrap(ErrNotFound)))

	assert.True(t, IsImageNotReady(wrap(ErrImageNotReady)))
	assert.True(t, IsTargetNotRegistered(wrap(ErrTargetNotRegistered)))
	assert.True(t, IsInvocationNotFound(wrap(ErrInvocationNotFound)))
	assert.False(t, IsInvocationNotFound(ErrTargetNotRegistered))
}

func TestInvocationStatus_Terminal(t *testing.T) {
	tests := []struct {
		status   InvocationStatus
		terminal bool
	}{
		{InvocationPending, false},
		{InvocationInProgress, false},
		{InvocationSucceeded, true},
		{InvocationFailed, true},
		{InvocationTimedOut, true},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.Terminal())
		})
	}
}

func TestStackPage_Truncated(t *testing.T) {
	var nilPage *StackPage
	assert.False(t, nilPage.Truncated())
	assert.False(t, (&StackPage{}).Truncated())
	assert.True(t, (&StackPage{NextToken: "abc"}).Truncated())
}
