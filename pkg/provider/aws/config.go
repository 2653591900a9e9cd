// Package aws implements the collaborator contracts on top of AWS SDK v2:
// CloudFormation for inventory, EC2 for compute, SSM Run Command for remote
// execution, S3 for command output and Auto Scaling for group descriptions.
package aws

// Config configures the AWS clients.
//
// Authentication priority (AWS SDK v2 default chain):
//  1. Explicit AccessKeyID/SecretAccessKey (if provided)
//  2. Environment variables (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY)
//  3. Shared credentials file (~/.aws/credentials)
//  4. Shared config file (~/.aws/config) with profile
//  5. EC2 instance metadata / ECS task role / Lambda execution role
//
// Region handling:
//   - Explicit Region wins, then AWS_REGION / profile resolution.
//   - With UseIMDSRegion, an unresolved region is read from instance metadata.
//   - Otherwise an unresolved region defaults to us-east-1.
type Config struct {
	// Region is the AWS region. Optional.
	Region string

	// Endpoint overrides the service endpoint for every client.
	// Leave empty for AWS. Useful for local emulators (moto, localstack).
	Endpoint string

	// Profile is the AWS profile name to use from shared config.
	Profile string

	// AccessKeyID is an explicit access key. If set, SecretAccessKey must also be set.
	AccessKeyID string

	// SecretAccessKey is an explicit secret key. Required if AccessKeyID is set.
	SecretAccessKey string

	// UseIMDSRegion reads the region from EC2 instance metadata when it is
	// not resolvable from config or environment.
	UseIMDSRegion bool
}

// DefaultAWSRegion is the fallback region when none can be resolved.
const DefaultAWSRegion = "us-east-1"

// Validate checks that the configuration is consistent.
func (c *Config) Validate() error {
	// If one explicit credential is set, both must be set
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	if c.Endpoint != "" && c.UseIMDSRegion {
		return &ConfigError{
			Field:   "UseIMDSRegion",
			Message: "instance metadata region lookup cannot be combined with a custom endpoint",
		}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "aws config: " + e.Field + ": " + e.Message
}
