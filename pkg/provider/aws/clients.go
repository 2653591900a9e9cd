package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/3leaps/amipatch/pkg/provider"
)

// Clients bundles every collaborator built from one AWS configuration.
type Clients struct {
	Inventory     *Inventory
	Compute       *Compute
	Commands      *Commands
	Objects       *ObjectStore
	ScalingGroups *ScalingGroups

	// Region is the resolved region the clients talk to.
	Region string
}

// New loads AWS configuration and builds all collaborator clients.
//
// The clients use AWS SDK v2's default credential chain unless explicit
// credentials are provided in the config.
func New(ctx context.Context, cfg Config) (*Clients, error) {
	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &provider.ProviderError{
			Op:      "New",
			Service: "aws",
			Err:     err,
		}
	}
	return NewFromAWSConfig(awsCfg, cfg.Endpoint), nil
}

// NewFromAWSConfig builds all collaborator clients from a loaded configuration.
// A non-empty endpoint overrides the base endpoint of every service.
func NewFromAWSConfig(awsCfg aws.Config, endpoint string) *Clients {
	var base *string
	if endpoint != "" {
		base = aws.String(endpoint)
	}

	cfnClient := cloudformation.NewFromConfig(awsCfg, func(o *cloudformation.Options) {
		o.BaseEndpoint = base
	})
	ec2Client := ec2.NewFromConfig(awsCfg, func(o *ec2.Options) {
		o.BaseEndpoint = base
	})
	ssmClient := ssm.NewFromConfig(awsCfg, func(o *ssm.Options) {
		o.BaseEndpoint = base
	})
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = base
		// Emulators generally need path-style addressing.
		if base != nil {
			o.UsePathStyle = true
		}
	})
	asgClient := autoscaling.NewFromConfig(awsCfg, func(o *autoscaling.Options) {
		o.BaseEndpoint = base
	})

	return &Clients{
		Inventory:     NewInventory(cfnClient),
		Compute:       NewCompute(ec2Client),
		Commands:      NewCommands(ssmClient),
		Objects:       NewObjectStore(s3Client),
		ScalingGroups: NewScalingGroups(asgClient),
		Region:        awsCfg.Region,
	}
}
