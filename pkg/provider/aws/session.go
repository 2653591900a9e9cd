package aws

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
)

// imdsTimeout bounds the instance metadata region lookup. Off EC2 the
// endpoint is unreachable and the SDK would otherwise retry for seconds.
const imdsTimeout = 2 * time.Second

// regionFetcher is the subset of the IMDS client used for region lookup.
type regionFetcher interface {
	GetRegion(ctx context.Context, params *imds.GetRegionInput, optFns ...func(*imds.Options)) (*imds.GetRegionOutput, error)
}

// LoadAWSConfig builds the AWS configuration with appropriate credentials.
func LoadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	if err := cfg.Validate(); err != nil {
		return aws.Config{}, err
	}

	var opts []func(*config.LoadOptions) error

	// Only apply explicit region if user set one in config.
	// Let SDK resolve from env/profile first.
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		staticCreds := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"", // session token (empty for long-term credentials)
		)
		opts = append(opts, config.WithCredentialsProvider(staticCreds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}

	var fetcher regionFetcher
	if cfg.UseIMDSRegion && awsCfg.Region == "" {
		fetcher = imds.NewFromConfig(awsCfg)
	}
	awsCfg.Region = resolveRegion(ctx, awsCfg.Region, fetcher)

	return awsCfg, nil
}

// resolveRegion determines the final region after SDK config loading.
//
// The sdkRegion parameter already incorporates an explicit region or
// env/profile resolution. This function only applies the fallbacks:
//  1. Instance metadata, when a fetcher is supplied
//  2. DefaultAWSRegion
func resolveRegion(ctx context.Context, sdkRegion string, fetcher regionFetcher) string {
	if sdkRegion != "" {
		return sdkRegion
	}

	if fetcher != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, imdsTimeout)
		defer cancel()
		out, err := fetcher.GetRegion(lookupCtx, &imds.GetRegionInput{})
		if err == nil && out != nil && out.Region != "" {
			return out.Region
		}
	}

	return DefaultAWSRegion
}
