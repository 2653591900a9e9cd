package aws

import (
	"errors"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/3leaps/amipatch/pkg/provider"
)

// Service names used in ProviderError.
const (
	serviceCloudFormation = "cloudformation"
	serviceEC2            = "ec2"
	serviceSSM            = "ssm"
	serviceS3             = "s3"
	serviceAutoScaling    = "autoscaling"
)

// wrapError converts SDK errors to provider errors with appropriate sentinel errors.
func wrapError(service, op, resource string, err error) error {
	return &provider.ProviderError{
		Op:       op,
		Service:  service,
		Resource: resource,
		Err:      classify(err),
		Cause:    err,
	}
}

// wrapLaunchError is wrapError for RunInstances, where image lookup failures
// right after CreateImage are eventual consistency rather than a bad image id.
func wrapLaunchError(imageID string, err error) error {
	wrapped := wrapError(serviceEC2, "RunInstances", imageID, err).(*provider.ProviderError)

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InvalidAMIID.Unavailable", "InvalidAMIID.NotFound", "IncorrectState":
			wrapped.Err = provider.ErrImageNotReady
		}
	}
	return wrapped
}

// malformed returns a provider error for a response missing required data.
func malformed(service, op, resource, detail string) error {
	return &provider.ProviderError{
		Op:       op,
		Service:  service,
		Resource: resource,
		Err:      provider.ErrMalformedResponse,
		Cause:    errors.New(detail),
	}
}

// classify maps an SDK error to a provider sentinel. Unknown errors map to
// provider.ErrUpstreamUnavailable.
func classify(err error) error {
	// Check smithy API errors for error codes
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch code {
		case "NoSuchKey", "NotFound", "NoSuchBucket",
			"InvalidInstanceID.NotFound", "InvalidInstanceID.Malformed",
			"InvalidAMIID.NotFound", "InvalidAMIID.Malformed",
			"ValidationError":
			// CloudFormation reports a missing stack as ValidationError.
			if code == "ValidationError" && !strings.Contains(apiErr.ErrorMessage(), "does not exist") {
				return provider.ErrUpstreamUnavailable
			}
			return provider.ErrNotFound
		case "InvalidAMIID.Unavailable":
			return provider.ErrImageNotReady
		case "InvalidInstanceId":
			// SSM: instance not registered, not running, or unsupported platform.
			return provider.ErrTargetNotRegistered
		case "InvocationDoesNotExist":
			return provider.ErrInvocationNotFound
		case "AccessDenied", "AccessDeniedException", "Forbidden", "UnauthorizedOperation":
			return provider.ErrAccessDenied
		case "InvalidAccessKeyId", "SignatureDoesNotMatch", "AuthFailure",
			"UnrecognizedClientException", "InvalidClientTokenId", "ExpiredToken":
			return provider.ErrInvalidCredentials
		case "SlowDown", "Throttling", "ThrottlingException", "RequestLimitExceeded":
			return provider.ErrThrottled
		}
		return provider.ErrUpstreamUnavailable
	}

	// Fallback: check error message for common cases
	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "NoSuchKey") || strings.Contains(errMsg, "NotFound") || strings.Contains(errMsg, "404"):
		return provider.ErrNotFound
	case strings.Contains(errMsg, "AccessDenied") || strings.Contains(errMsg, "403"):
		return provider.ErrAccessDenied
	case strings.Contains(errMsg, "Throttling") || strings.Contains(errMsg, "SlowDown") || strings.Contains(errMsg, "429"):
		return provider.ErrThrottled
	}

	return provider.ErrUpstreamUnavailable
}
