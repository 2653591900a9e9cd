package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"

	"github.com/3leaps/amipatch/pkg/provider"
)

// autoscalingAPI is the subset of the Auto Scaling client used by ScalingGroups.
type autoscalingAPI interface {
	DescribeAutoScalingGroups(ctx context.Context, params *autoscaling.DescribeAutoScalingGroupsInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error)
}

// ScalingGroups implements provider.ScalingGroupService on Auto Scaling.
type ScalingGroups struct {
	client autoscalingAPI
}

var _ provider.ScalingGroupService = (*ScalingGroups)(nil)

// NewScalingGroups wraps an Auto Scaling client.
func NewScalingGroups(client autoscalingAPI) *ScalingGroups {
	return &ScalingGroups{client: client}
}

// DescribeAutoScalingGroup returns the configuration snapshot of one group.
func (s *ScalingGroups) DescribeAutoScalingGroup(ctx context.Context, name string) (*provider.ScalingGroupDescription, error) {
	out, err := s.client.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{name},
	})
	if err != nil {
		return nil, wrapError(serviceAutoScaling, "DescribeAutoScalingGroups", name, err)
	}
	if len(out.AutoScalingGroups) == 0 {
		return nil, &provider.ProviderError{
			Op:       "DescribeAutoScalingGroups",
			Service:  serviceAutoScaling,
			Resource: name,
			Err:      provider.ErrNotFound,
		}
	}

	g := out.AutoScalingGroups[0]
	desc := &provider.ScalingGroupDescription{
		Name:                    aws.ToString(g.AutoScalingGroupName),
		LaunchConfigurationName: aws.ToString(g.LaunchConfigurationName),
		DesiredCapacity:         int(aws.ToInt32(g.DesiredCapacity)),
	}
	if lt := g.LaunchTemplate; lt != nil {
		desc.LaunchTemplateID = aws.ToString(lt.LaunchTemplateId)
		desc.LaunchTemplateName = aws.ToString(lt.LaunchTemplateName)
		desc.LaunchTemplateVersion = aws.ToString(lt.Version)
	}
	for _, inst := range g.Instances {
		if id := aws.ToString(inst.InstanceId); id != "" {
			desc.InstanceIDs = append(desc.InstanceIDs, id)
		}
	}
	return desc, nil
}
