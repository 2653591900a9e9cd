// Package providertest provides in-memory collaborators for tests.
//
// Every fake is safe for concurrent use and records the calls it receives.
// Scripted failures are expressed as error queues: each call pops the next
// entry, a nil entry means success, and an empty queue means success.
package providertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/3leaps/amipatch/pkg/provider"
)

// Inventory is an in-memory provider.InventoryService.
type Inventory struct {
	mu sync.Mutex

	Page        *provider.StackPage
	ListErr     error
	Resources   map[string][]provider.ResourceDescriptor
	DescribeErr error

	listCalls     int
	describeCalls map[string]int
}

var _ provider.InventoryService = (*Inventory)(nil)

// ListStacks returns the configured page.
func (f *Inventory) ListStacks(ctx context.Context) (*provider.StackPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	if f.Page == nil {
		return &provider.StackPage{}, nil
	}
	page := *f.Page
	page.Stacks = append([]provider.StackSummary(nil), f.Page.Stacks...)
	return &page, nil
}

// DescribeStackResources returns the resources configured for stackID.
func (f *Inventory) DescribeStackResources(ctx context.Context, stackID string) ([]provider.ResourceDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.describeCalls == nil {
		f.describeCalls = make(map[string]int)
	}
	f.describeCalls[stackID]++
	if f.DescribeErr != nil {
		return nil, f.DescribeErr
	}
	return append([]provider.ResourceDescriptor(nil), f.Resources[stackID]...), nil
}

// ListCalls returns how many times ListStacks was called.
func (f *Inventory) ListCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

// DescribeCalls returns how many times stackID was described.
func (f *Inventory) DescribeCalls(stackID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.describeCalls[stackID]
}

// CreatedImage records one CreateImage call.
type CreatedImage struct {
	InstanceID string
	Name       string
	NoReboot   bool
	ImageID    string
}

// Compute is an in-memory provider.ComputeService and provider.ImageTagger.
type Compute struct {
	mu sync.Mutex

	// Instances answers DescribeInstance by id.
	Instances   map[string]*provider.InstanceDescription
	DescribeErr error

	// LaunchIDs are handed out in order; afterwards ids are "i-w<n>".
	LaunchIDs  []string
	LaunchErrs []error

	// ImageIDs are handed out in order; afterwards ids are "ami-gen<n>".
	ImageIDs        []string
	CreateImageErrs []error

	TerminateErr    error
	WaitImageErr    error
	WaitInstanceErr error
	TagErr          error

	describeCalls int
	launches      []provider.LaunchSpec
	images        []CreatedImage
	terminated    []string
	tags          map[string]map[string]string
	imageWaits    []string
	instanceWaits []string
}

var (
	_ provider.ComputeService = (*Compute)(nil)
	_ provider.ImageTagger    = (*Compute)(nil)
)

// DescribeInstance returns the configured description.
func (f *Compute) DescribeInstance(ctx context.Context, instanceID string) (*provider.InstanceDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.describeCalls++
	if f.DescribeErr != nil {
		return nil, f.DescribeErr
	}
	desc, ok := f.Instances[instanceID]
	if !ok {
		return nil, &provider.ProviderError{Op: "DescribeInstance", Service: "fake", Resource: instanceID, Err: provider.ErrNotFound}
	}
	cp := *desc
	return &cp, nil
}

// RunInstance records the launch and returns the next instance id.
func (f *Compute) RunInstance(ctx context.Context, spec provider.LaunchSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launches = append(f.launches, spec)
	if err := pop(&f.LaunchErrs); err != nil {
		return "", err
	}
	if len(f.LaunchIDs) > 0 {
		id := f.LaunchIDs[0]
		f.LaunchIDs = f.LaunchIDs[1:]
		return id, nil
	}
	return fmt.Sprintf("i-w%d", len(f.launches)), nil
}

// CreateImage records the image and returns the next image id.
func (f *Compute) CreateImage(ctx context.Context, instanceID, name string, noReboot bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := pop(&f.CreateImageErrs); err != nil {
		f.images = append(f.images, CreatedImage{InstanceID: instanceID, Name: name, NoReboot: noReboot})
		return "", err
	}
	id := fmt.Sprintf("ami-gen%d", len(f.images)+1)
	if len(f.ImageIDs) > 0 {
		id = f.ImageIDs[0]
		f.ImageIDs = f.ImageIDs[1:]
	}
	f.images = append(f.images, CreatedImage{InstanceID: instanceID, Name: name, NoReboot: noReboot, ImageID: id})
	return id, nil
}

// TerminateInstance records the termination.
func (f *Compute) TerminateInstance(ctx context.Context, instanceID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, instanceID)
	if f.TerminateErr != nil {
		return "", f.TerminateErr
	}
	return "shutting-down", nil
}

// WaitImageAvailable records the wait.
func (f *Compute) WaitImageAvailable(ctx context.Context, imageID string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imageWaits = append(f.imageWaits, imageID)
	return f.WaitImageErr
}

// WaitInstanceRunning records the wait.
func (f *Compute) WaitInstanceRunning(ctx context.Context, instanceID string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instanceWaits = append(f.instanceWaits, instanceID)
	return f.WaitInstanceErr
}

// TagImage records the tags.
func (f *Compute) TagImage(ctx context.Context, imageID string, tags map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TagErr != nil {
		return f.TagErr
	}
	if f.tags == nil {
		f.tags = make(map[string]map[string]string)
	}
	f.tags[imageID] = tags
	return nil
}

// DescribeCalls returns how many times DescribeInstance was called.
func (f *Compute) DescribeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.describeCalls
}

// Launches returns the recorded launch specs.
func (f *Compute) Launches() []provider.LaunchSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.LaunchSpec(nil), f.launches...)
}

// Images returns the recorded CreateImage calls, failed ones included.
func (f *Compute) Images() []CreatedImage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CreatedImage(nil), f.images...)
}

// Terminated returns the instance ids passed to TerminateInstance.
func (f *Compute) Terminated() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.terminated...)
}

// Tags returns the tags recorded for imageID.
func (f *Compute) Tags(imageID string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tags[imageID]
}

// ImageWaits returns the image ids waited on.
func (f *Compute) ImageWaits() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.imageWaits...)
}

// InstanceWaits returns the instance ids waited on.
func (f *Compute) InstanceWaits() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.instanceWaits...)
}

// Commands is an in-memory provider.CommandService and provider.InvocationCanceller.
type Commands struct {
	mu sync.Mutex

	// InvocationID is returned by SendCommand. Defaults to "cmd-1".
	InvocationID string
	SendErr      error

	// Statuses is the sequence returned by successive polls. The last
	// entry repeats once the sequence is exhausted.
	Statuses []provider.InvocationStatus

	// GetErrs are popped before each poll.
	GetErrs []error

	OutputURL     string
	OutputContent string
	ResponseCode  int
	CancelErr     error

	sent      []provider.CommandRequest
	polls     int
	cancelled []string
}

var (
	_ provider.CommandService      = (*Commands)(nil)
	_ provider.InvocationCanceller = (*Commands)(nil)
)

// SendCommand records the request.
func (f *Commands) SendCommand(ctx context.Context, req provider.CommandRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	if f.SendErr != nil {
		return "", f.SendErr
	}
	if f.InvocationID == "" {
		return "cmd-1", nil
	}
	return f.InvocationID, nil
}

// GetInvocation returns the next scripted status.
func (f *Commands) GetInvocation(ctx context.Context, invocationID, instanceID string) (*provider.InvocationReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if err := pop(&f.GetErrs); err != nil {
		return nil, err
	}

	status := provider.InvocationPending
	if n := len(f.Statuses); n > 0 {
		i := f.polls - 1
		if i >= n {
			i = n - 1
		}
		status = f.Statuses[i]
	}
	return &provider.InvocationReport{
		Status:        status,
		RawStatus:     string(status),
		ResponseCode:  f.ResponseCode,
		OutputURL:     f.OutputURL,
		OutputContent: f.OutputContent,
	}, nil
}

// CancelInvocation records the cancellation.
func (f *Commands) CancelInvocation(ctx context.Context, invocationID, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, invocationID)
	return f.CancelErr
}

// Sent returns the recorded requests.
func (f *Commands) Sent() []provider.CommandRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.CommandRequest(nil), f.sent...)
}

// Polls returns how many times GetInvocation was called.
func (f *Commands) Polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

// Cancelled returns the cancelled invocation ids.
func (f *Commands) Cancelled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

// ObjectStore is an in-memory provider.ObjectStore keyed by "bucket/key".
type ObjectStore struct {
	mu sync.Mutex

	Objects map[string][]byte
	Err     error

	gets []string
}

var _ provider.ObjectStore = (*ObjectStore)(nil)

// GetObject returns the stored object.
func (f *ObjectStore) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, bucket+"/"+key)
	if f.Err != nil {
		return nil, f.Err
	}
	data, ok := f.Objects[bucket+"/"+key]
	if !ok {
		return nil, &provider.ProviderError{Op: "GetObject", Service: "fake", Resource: bucket + "/" + key, Err: provider.ErrNotFound}
	}
	return data, nil
}

// Gets returns the "bucket/key" paths requested.
func (f *ObjectStore) Gets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.gets...)
}

// ScalingGroups is an in-memory provider.ScalingGroupService.
type ScalingGroups struct {
	mu sync.Mutex

	Groups map[string]*provider.ScalingGroupDescription
	Err    error

	calls int
}

var _ provider.ScalingGroupService = (*ScalingGroups)(nil)

// DescribeAutoScalingGroup returns the configured group.
func (f *ScalingGroups) DescribeAutoScalingGroup(ctx context.Context, name string) (*provider.ScalingGroupDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.Err != nil {
		return nil, f.Err
	}
	g, ok := f.Groups[name]
	if !ok {
		return nil, &provider.ProviderError{Op: "DescribeAutoScalingGroup", Service: "fake", Resource: name, Err: provider.ErrNotFound}
	}
	cp := *g
	return &cp, nil
}

// Calls returns how many times DescribeAutoScalingGroup was called.
func (f *ScalingGroups) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Upstream returns a ProviderError classified as err, for scripting failures.
func Upstream(op string, err error) error {
	return &provider.ProviderError{Op: op, Service: "fake", Err: err}
}

func pop(q *[]error) error {
	if len(*q) == 0 {
		return nil
	}
	err := (*q)[0]
	*q = (*q)[1:]
	return err
}
