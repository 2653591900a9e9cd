// Package provider defines the collaborator contracts consumed by the patching core.
//
// The core never talks to a cloud SDK directly. It depends on five small
// interfaces: an inventory service listing stacks and their resources, a
// compute control plane, a remote command service, an object store used as
// the command output side channel, and a scaling group describer.
// Implementations live in subpackages (see provider/aws); tests substitute
// in-memory fakes.
//
// Implementations should:
//   - Use SDK default credential chains
//   - Return *ProviderError values that unwrap to the sentinels in errors.go
//   - Be safe for concurrent use
package provider

import (
	"context"
	"strings"
	"time"
)

// InventoryService lists stacks and their member resources.
type InventoryService interface {
	// ListStacks returns one page of stack summaries.
	// Multi-page inventories are not followed; StackPage.NextToken reports truncation.
	ListStacks(ctx context.Context) (*StackPage, error)

	// DescribeStackResources returns the member resources of a stack.
	DescribeStackResources(ctx context.Context, stackID string) ([]ResourceDescriptor, error)
}

// ComputeService is the compute control plane.
type ComputeService interface {
	// DescribeInstance returns the full attribute snapshot of an instance.
	DescribeInstance(ctx context.Context, instanceID string) (*InstanceDescription, error)

	// RunInstance launches exactly one instance and returns its id.
	RunInstance(ctx context.Context, spec LaunchSpec) (string, error)

	// CreateImage snapshots an instance into a new image and returns the image id.
	CreateImage(ctx context.Context, instanceID, name string, noReboot bool) (string, error)

	// TerminateInstance terminates an instance and returns its resulting state name.
	TerminateInstance(ctx context.Context, instanceID string) (string, error)

	// WaitImageAvailable blocks until the image can be used or maxWait elapses.
	WaitImageAvailable(ctx context.Context, imageID string, maxWait time.Duration) error

	// WaitInstanceRunning blocks until the instance is running or maxWait elapses.
	WaitInstanceRunning(ctx context.Context, instanceID string, maxWait time.Duration) error
}

// CommandService is the remote command execution service.
type CommandService interface {
	// SendCommand dispatches a shell command to one instance and returns the invocation id.
	SendCommand(ctx context.Context, req CommandRequest) (string, error)

	// GetInvocation returns the current status of an invocation on one instance.
	GetInvocation(ctx context.Context, invocationID, instanceID string) (*InvocationReport, error)
}

// ObjectStore reads objects from the command output side channel.
type ObjectStore interface {
	// GetObject returns the full content of an object.
	// Returns ErrNotFound if the object does not exist.
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
}

// ScalingGroupService describes autoscaling groups.
type ScalingGroupService interface {
	// DescribeAutoScalingGroup returns the group's configuration and members.
	DescribeAutoScalingGroup(ctx context.Context, name string) (*ScalingGroupDescription, error)
}

// StackSummary is one entry of a stack listing.
type StackSummary struct {
	// ID is the opaque stack identity (an ARN for CloudFormation).
	ID string

	// Name is the human stack name.
	Name string

	// Status is the lifecycle status, passed through verbatim.
	Status string
}

// StackPage is a single page of stack summaries.
type StackPage struct {
	Stacks []StackSummary

	// NextToken is non-empty when the service has more pages.
	NextToken string
}

// Truncated reports whether the listing has more pages than were returned.
func (p *StackPage) Truncated() bool {
	return p != nil && p.NextToken != ""
}

// ResourceDescriptor describes one member resource of a stack.
type ResourceDescriptor struct {
	// Type is the resource-type tag (e.g., "AWS::EC2::Instance").
	Type string

	// Status is the resource status, passed through verbatim.
	Status string

	// PhysicalID is the provider id of the resource (instance id, group name, ...).
	PhysicalID string

	// LogicalID is the template-local name of the resource.
	LogicalID string
}

// InstanceDescription is the attribute snapshot of a compute instance.
type InstanceDescription struct {
	InstanceID   string
	ImageID      string
	InstanceType string

	// Platform is "Windows" for Windows instances and empty for Linux.
	Platform string

	// PlatformDetails is the long form (e.g., "Linux/UNIX", "Red Hat Enterprise Linux").
	PlatformDetails string

	// State is the instance state name (e.g., "running", "stopped").
	State string

	SubnetID           string
	SecurityGroupIDs   []string
	InstanceProfileArn string
	KeyName            string
	Tags               map[string]string
}

// IsWindows reports whether the instance runs Windows.
func (d *InstanceDescription) IsWindows() bool {
	if d == nil {
		return false
	}
	return strings.EqualFold(d.Platform, PlatformWindows) ||
		strings.HasPrefix(strings.ToLower(d.PlatformDetails), PlatformWindows)
}

// PlatformWindows is the platform value reported for Windows instances.
const PlatformWindows = "windows"

// LaunchSpec configures a single-instance launch.
type LaunchSpec struct {
	ImageID      string
	InstanceType string

	// Optional placement. Empty values use account defaults.
	SubnetID           string
	SecurityGroupIDs   []string
	InstanceProfileArn string
	KeyName            string

	// Tags are applied to the instance at launch.
	Tags map[string]string
}

// CommandRequest configures a remote command dispatch.
type CommandRequest struct {
	InstanceID string
	Command    string

	// Document is the command document name (e.g., "AWS-RunShellScript").
	Document string

	// Output side channel. Empty OutputBucket keeps output inline only.
	OutputBucket string
	OutputPrefix string
	OutputRegion string

	// Comment is free text attached to the invocation.
	Comment string
}

// InvocationStatus is the lifecycle state of a command invocation.
type InvocationStatus string

const (
	InvocationPending    InvocationStatus = "Pending"
	InvocationInProgress InvocationStatus = "InProgress"
	InvocationSucceeded  InvocationStatus = "Succeeded"
	InvocationFailed     InvocationStatus = "Failed"

	// InvocationTimedOut means the poll budget ran out while the command
	// was still running. It is not an error.
	InvocationTimedOut InvocationStatus = "TimedOut"
)

// Terminal reports whether no further transitions are expected.
func (s InvocationStatus) Terminal() bool {
	switch s {
	case InvocationSucceeded, InvocationFailed, InvocationTimedOut:
		return true
	}
	return false
}

// String returns the string representation of the status.
func (s InvocationStatus) String() string {
	return string(s)
}

// InvocationReport is the status of an invocation as reported by the command service.
type InvocationReport struct {
	Status InvocationStatus

	// RawStatus is the service-specific status (e.g., "Cancelled", "Delayed").
	RawStatus string

	// StatusDetails is free text from the service.
	StatusDetails string

	// ResponseCode is the command exit code, or -1 when not yet known.
	ResponseCode int

	// OutputURL points at the captured stdout in the object store.
	OutputURL string

	// ErrorURL points at the captured stderr in the object store.
	ErrorURL string

	// OutputContent is the (possibly truncated) inline stdout.
	OutputContent string
}

// ScalingGroupDescription is the configuration snapshot of an autoscaling group.
type ScalingGroupDescription struct {
	Name                    string
	LaunchTemplateID        string
	LaunchTemplateName      string
	LaunchTemplateVersion   string
	LaunchConfigurationName string
	InstanceIDs             []string
	DesiredCapacity         int
}
