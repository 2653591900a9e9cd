package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/3leaps/amipatch/pkg/provider"
)

// DefaultDocument is the SSM document used to run shell commands on Linux.
const DefaultDocument = "AWS-RunShellScript"

// ssmAPI is the subset of the SSM client used by Commands.
type ssmAPI interface {
	SendCommand(ctx context.Context, params *ssm.SendCommandInput, optFns ...func(*ssm.Options)) (*ssm.SendCommandOutput, error)
	GetCommandInvocation(ctx context.Context, params *ssm.GetCommandInvocationInput, optFns ...func(*ssm.Options)) (*ssm.GetCommandInvocationOutput, error)
	CancelCommand(ctx context.Context, params *ssm.CancelCommandInput, optFns ...func(*ssm.Options)) (*ssm.CancelCommandOutput, error)
}

// Commands implements provider.CommandService on SSM Run Command.
type Commands struct {
	client ssmAPI
}

var (
	_ provider.CommandService      = (*Commands)(nil)
	_ provider.InvocationCanceller = (*Commands)(nil)
)

// NewCommands wraps an SSM client.
func NewCommands(client ssmAPI) *Commands {
	return &Commands{client: client}
}

// SendCommand dispatches a shell command to one instance.
func (c *Commands) SendCommand(ctx context.Context, req provider.CommandRequest) (string, error) {
	document := req.Document
	if document == "" {
		document = DefaultDocument
	}

	input := &ssm.SendCommandInput{
		DocumentName: aws.String(document),
		InstanceIds:  []string{req.InstanceID},
		Parameters:   map[string][]string{"commands": {req.Command}},
	}
	if req.OutputBucket != "" {
		input.OutputS3BucketName = aws.String(req.OutputBucket)
		if req.OutputPrefix != "" {
			input.OutputS3KeyPrefix = aws.String(req.OutputPrefix)
		}
		if req.OutputRegion != "" {
			input.OutputS3Region = aws.String(req.OutputRegion)
		}
	}
	if req.Comment != "" {
		input.Comment = aws.String(req.Comment)
	}

	out, err := c.client.SendCommand(ctx, input)
	if err != nil {
		return "", wrapError(serviceSSM, "SendCommand", req.InstanceID, err)
	}
	if out.Command == nil || aws.ToString(out.Command.CommandId) == "" {
		return "", malformed(serviceSSM, "SendCommand", req.InstanceID, "response without CommandId")
	}
	return aws.ToString(out.Command.CommandId), nil
}

// GetInvocation returns the current status of an invocation.
func (c *Commands) GetInvocation(ctx context.Context, invocationID, instanceID string) (*provider.InvocationReport, error) {
	out, err := c.client.GetCommandInvocation(ctx, &ssm.GetCommandInvocationInput{
		CommandId:  aws.String(invocationID),
		InstanceId: aws.String(instanceID),
	})
	if err != nil {
		return nil, wrapError(serviceSSM, "GetCommandInvocation", invocationID, err)
	}

	return &provider.InvocationReport{
		Status:        mapInvocationStatus(out.Status),
		RawStatus:     string(out.Status),
		StatusDetails: aws.ToString(out.StatusDetails),
		ResponseCode:  int(out.ResponseCode),
		OutputURL:     aws.ToString(out.StandardOutputUrl),
		ErrorURL:      aws.ToString(out.StandardErrorUrl),
		OutputContent: aws.ToString(out.StandardOutputContent),
	}, nil
}

// CancelInvocation cancels an in-flight invocation on one instance.
func (c *Commands) CancelInvocation(ctx context.Context, invocationID, instanceID string) error {
	_, err := c.client.CancelCommand(ctx, &ssm.CancelCommandInput{
		CommandId:   aws.String(invocationID),
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return wrapError(serviceSSM, "CancelCommand", invocationID, err)
	}
	return nil
}

// mapInvocationStatus folds SSM invocation states into the core vocabulary.
//
// SSM's own TimedOut and Cancelled are command failures, not poll budget
// exhaustion, so both map to InvocationFailed.
func mapInvocationStatus(s types.CommandInvocationStatus) provider.InvocationStatus {
	switch s {
	case types.CommandInvocationStatusSuccess:
		return provider.InvocationSucceeded
	case types.CommandInvocationStatusFailed,
		types.CommandInvocationStatusCancelled,
		types.CommandInvocationStatusTimedOut:
		return provider.InvocationFailed
	case types.CommandInvocationStatusInProgress,
		types.CommandInvocationStatusCancelling:
		return provider.InvocationInProgress
	default:
		// Pending, Delayed and anything new
		return provider.InvocationPending
	}
}
