package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"

	"github.com/3leaps/amipatch/pkg/provider"
)

// cloudFormationAPI is the subset of the CloudFormation client used by Inventory.
type cloudFormationAPI interface {
	ListStacks(ctx context.Context, params *cloudformation.ListStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.ListStacksOutput, error)
	DescribeStackResources(ctx context.Context, params *cloudformation.DescribeStackResourcesInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackResourcesOutput, error)
}

// Inventory implements provider.InventoryService on CloudFormation.
type Inventory struct {
	client cloudFormationAPI
}

var _ provider.InventoryService = (*Inventory)(nil)

// NewInventory wraps a CloudFormation client.
func NewInventory(client cloudFormationAPI) *Inventory {
	return &Inventory{client: client}
}

// ListStacks returns the first page of stack summaries.
//
// Pagination is not followed. A non-empty NextToken on the result marks
// the listing as truncated.
func (i *Inventory) ListStacks(ctx context.Context) (*provider.StackPage, error) {
	out, err := i.client.ListStacks(ctx, &cloudformation.ListStacksInput{})
	if err != nil {
		return nil, wrapError(serviceCloudFormation, "ListStacks", "", err)
	}

	page := &provider.StackPage{
		Stacks:    make([]provider.StackSummary, 0, len(out.StackSummaries)),
		NextToken: aws.ToString(out.NextToken),
	}
	for _, s := range out.StackSummaries {
		id := aws.ToString(s.StackId)
		if id == "" {
			return nil, malformed(serviceCloudFormation, "ListStacks", aws.ToString(s.StackName), "stack summary without StackId")
		}
		page.Stacks = append(page.Stacks, provider.StackSummary{
			ID:     id,
			Name:   aws.ToString(s.StackName),
			Status: string(s.StackStatus),
		})
	}
	return page, nil
}

// DescribeStackResources returns the member resources of a stack.
func (i *Inventory) DescribeStackResources(ctx context.Context, stackID string) ([]provider.ResourceDescriptor, error) {
	out, err := i.client.DescribeStackResources(ctx, &cloudformation.DescribeStackResourcesInput{
		StackName: aws.String(stackID),
	})
	if err != nil {
		return nil, wrapError(serviceCloudFormation, "DescribeStackResources", stackID, err)
	}

	resources := make([]provider.ResourceDescriptor, 0, len(out.StackResources))
	for _, r := range out.StackResources {
		typ := aws.ToString(r.ResourceType)
		if typ == "" {
			return nil, malformed(serviceCloudFormation, "DescribeStackResources", stackID, "stack resource without ResourceType")
		}
		resources = append(resources, provider.ResourceDescriptor{
			Type:       typ,
			Status:     string(r.ResourceStatus),
			PhysicalID: aws.ToString(r.PhysicalResourceId),
			LogicalID:  aws.ToString(r.LogicalResourceId),
		})
	}
	return resources, nil
}
