package aws

import (
	"context"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/3leaps/amipatch/pkg/provider"
)

// ec2API is the subset of the EC2 client used by Compute.
//
// It also satisfies ec2.DescribeImagesAPIClient and
// ec2.DescribeInstancesAPIClient so the SDK waiters can use it.
type ec2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	DescribeImages(ctx context.Context, params *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error)
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	CreateImage(ctx context.Context, params *ec2.CreateImageInput, optFns ...func(*ec2.Options)) (*ec2.CreateImageOutput, error)
	CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

// Compute implements provider.ComputeService on EC2.
type Compute struct {
	client ec2API
}

var (
	_ provider.ComputeService = (*Compute)(nil)
	_ provider.ImageTagger    = (*Compute)(nil)
)

// NewCompute wraps an EC2 client.
func NewCompute(client ec2API) *Compute {
	return &Compute{client: client}
}

// DescribeInstance returns the attribute snapshot of one instance.
func (c *Compute) DescribeInstance(ctx context.Context, instanceID string) (*provider.InstanceDescription, error) {
	resp, err := c.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return nil, wrapError(serviceEC2, "DescribeInstances", instanceID, err)
	}

	if len(resp.Reservations) == 0 || len(resp.Reservations[0].Instances) == 0 {
		return nil, &provider.ProviderError{
			Op:       "DescribeInstances",
			Service:  serviceEC2,
			Resource: instanceID,
			Err:      provider.ErrNotFound,
		}
	}

	inst := resp.Reservations[0].Instances[0]
	if aws.ToString(inst.ImageId) == "" {
		return nil, malformed(serviceEC2, "DescribeInstances", instanceID, "instance without ImageId")
	}

	desc := &provider.InstanceDescription{
		InstanceID:      aws.ToString(inst.InstanceId),
		ImageID:         aws.ToString(inst.ImageId),
		InstanceType:    string(inst.InstanceType),
		Platform:        string(inst.Platform),
		PlatformDetails: aws.ToString(inst.PlatformDetails),
		SubnetID:        aws.ToString(inst.SubnetId),
		KeyName:         aws.ToString(inst.KeyName),
		Tags:            make(map[string]string, len(inst.Tags)),
	}
	if desc.InstanceID == "" {
		desc.InstanceID = instanceID
	}
	if inst.State != nil {
		desc.State = string(inst.State.Name)
	}
	if inst.IamInstanceProfile != nil {
		desc.InstanceProfileArn = aws.ToString(inst.IamInstanceProfile.Arn)
	}
	for _, sg := range inst.SecurityGroups {
		if id := aws.ToString(sg.GroupId); id != "" {
			desc.SecurityGroupIDs = append(desc.SecurityGroupIDs, id)
		}
	}
	for _, t := range inst.Tags {
		desc.Tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}

	return desc, nil
}

// RunInstance launches exactly one instance.
func (c *Compute) RunInstance(ctx context.Context, spec provider.LaunchSpec) (string, error) {
	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(spec.ImageID),
		InstanceType: types.InstanceType(spec.InstanceType),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
	}
	if spec.SubnetID != "" {
		input.SubnetId = aws.String(spec.SubnetID)
	}
	if len(spec.SecurityGroupIDs) > 0 {
		input.SecurityGroupIds = spec.SecurityGroupIDs
	}
	if spec.InstanceProfileArn != "" {
		input.IamInstanceProfile = &types.IamInstanceProfileSpecification{
			Arn: aws.String(spec.InstanceProfileArn),
		}
	}
	if spec.KeyName != "" {
		input.KeyName = aws.String(spec.KeyName)
	}
	if len(spec.Tags) > 0 {
		input.TagSpecifications = []types.TagSpecification{
			{
				ResourceType: types.ResourceTypeInstance,
				Tags:         toTags(spec.Tags),
			},
		}
	}

	resp, err := c.client.RunInstances(ctx, input)
	if err != nil {
		return "", wrapLaunchError(spec.ImageID, err)
	}

	if len(resp.Instances) == 0 || aws.ToString(resp.Instances[0].InstanceId) == "" {
		return "", malformed(serviceEC2, "RunInstances", spec.ImageID, "no instances created")
	}
	return aws.ToString(resp.Instances[0].InstanceId), nil
}

// CreateImage snapshots an instance into a new image.
func (c *Compute) CreateImage(ctx context.Context, instanceID, name string, noReboot bool) (string, error) {
	resp, err := c.client.CreateImage(ctx, &ec2.CreateImageInput{
		InstanceId: aws.String(instanceID),
		Name:       aws.String(name),
		NoReboot:   aws.Bool(noReboot),
	})
	if err != nil {
		return "", wrapError(serviceEC2, "CreateImage", instanceID, err)
	}

	imageID := aws.ToString(resp.ImageId)
	if imageID == "" {
		return "", malformed(serviceEC2, "CreateImage", instanceID, "response without ImageId")
	}
	return imageID, nil
}

// TagImage attaches tags to an image.
func (c *Compute) TagImage(ctx context.Context, imageID string, tags map[string]string) error {
	if len(tags) == 0 {
		return nil
	}
	_, err := c.client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{imageID},
		Tags:      toTags(tags),
	})
	if err != nil {
		return wrapError(serviceEC2, "CreateTags", imageID, err)
	}
	return nil
}

// TerminateInstance terminates an instance and returns its resulting state name.
func (c *Compute) TerminateInstance(ctx context.Context, instanceID string) (string, error) {
	resp, err := c.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return "", wrapError(serviceEC2, "TerminateInstances", instanceID, err)
	}

	if len(resp.TerminatingInstances) == 0 || resp.TerminatingInstances[0].CurrentState == nil {
		return "", malformed(serviceEC2, "TerminateInstances", instanceID, "response without instance state")
	}
	return string(resp.TerminatingInstances[0].CurrentState.Name), nil
}

// WaitImageAvailable blocks until the image reaches the available state.
func (c *Compute) WaitImageAvailable(ctx context.Context, imageID string, maxWait time.Duration) error {
	waiter := ec2.NewImageAvailableWaiter(c.client)
	if err := waiter.Wait(ctx, &ec2.DescribeImagesInput{
		ImageIds: []string{imageID},
	}, maxWait); err != nil {
		return wrapError(serviceEC2, "WaitImageAvailable", imageID, err)
	}
	return nil
}

// WaitInstanceRunning blocks until the instance reaches the running state.
func (c *Compute) WaitInstanceRunning(ctx context.Context, instanceID string, maxWait time.Duration) error {
	waiter := ec2.NewInstanceRunningWaiter(c.client)
	if err := waiter.Wait(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	}, maxWait); err != nil {
		return wrapError(serviceEC2, "WaitInstanceRunning", instanceID, err)
	}
	return nil
}

// toTags converts a map to EC2 tags in key order.
func toTags(m map[string]string) []types.Tag {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tags := make([]types.Tag, 0, len(keys))
	for _, k := range keys {
		tags = append(tags, types.Tag{Key: aws.String(k), Value: aws.String(m[k])})
	}
	return tags
}
