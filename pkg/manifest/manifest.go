// Package manifest provides loading and validation of amipatch patch manifests.
//
// A patch manifest is a YAML or JSON file that configures a patch run:
// provider connection, stack selection, patch behavior and output.
//
// Manifests are validated against an embedded JSON Schema before use. The
// schema enforces strict typing and disallows unknown properties.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	connection:
//	  provider: aws
//	  region: us-east-1
//	selection:
//	  include:
//	    - "web-*"
//	  statuses:
//	    - CREATE_COMPLETE
//	    - UPDATE_COMPLETE
//	patch:
//	  command: "yum update -y"
//	  concurrency: 2
//	  command_output:
//	    bucket: patch-logs
//	    prefix: amipatch/
//	output:
//	  destination: stdout
package manifest

import (
	"time"

	"github.com/3leaps/amipatch/pkg/match"
)

// Manifest represents a validated patch manifest.
//
// Version and Connection are required. Selection, Patch and Output are
// optional with defaults.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Connection configures the cloud provider.
	Connection ConnectionConfig `json:"connection" yaml:"connection"`

	// Selection chooses which stacks are patched. Empty selects every
	// stack except deleted ones.
	Selection match.FilterConfig `json:"selection,omitempty" yaml:"selection,omitempty"`

	// Patch configures the patch workflow.
	Patch PatchConfig `json:"patch,omitempty" yaml:"patch,omitempty"`

	// Output configures output destination.
	Output OutputConfig `json:"output,omitempty" yaml:"output,omitempty"`
}

// ConnectionConfig configures the cloud provider connection.
type ConnectionConfig struct {
	// Provider is the cloud provider. Currently only "aws" is supported.
	Provider string `json:"provider" yaml:"provider"`

	// Region is the AWS region (e.g., "us-east-1"). Optional.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`

	// Profile is the AWS credential profile name. Optional.
	Profile string `json:"profile,omitempty" yaml:"profile,omitempty"`

	// Endpoint overrides every service endpoint, for emulators. Optional.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
}

// PatchConfig configures the patch workflow.
type PatchConfig struct {
	// Command is the OS update command. Default: "yum update -y".
	Command string `json:"command,omitempty" yaml:"command,omitempty"`

	// Platform is the expected worker platform. Only "linux" can be patched.
	Platform string `json:"platform,omitempty" yaml:"platform,omitempty"`

	// InstanceType overrides the worker instance type.
	InstanceType string `json:"instance_type,omitempty" yaml:"instance_type,omitempty"`

	// KeyName overrides the worker key pair.
	KeyName string `json:"key_name,omitempty" yaml:"key_name,omitempty"`

	// Concurrency is the number of resources patched in parallel.
	// Range: 1-64. Default: 4.
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`

	// RateLimit is the maximum patch attempt starts per second (0 = unlimited).
	RateLimit float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`

	// ParseReport parses the command output as a package report. Default: true.
	ParseReport *bool `json:"parse_report,omitempty" yaml:"parse_report,omitempty"`

	// Tags are added to workers and patched images.
	Tags map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`

	Poll          PollConfig           `json:"poll,omitempty" yaml:"poll,omitempty"`
	CommandOutput *CommandOutputConfig `json:"command_output,omitempty" yaml:"command_output,omitempty"`
	Timeouts      TimeoutConfig        `json:"timeouts,omitempty" yaml:"timeouts,omitempty"`
	LaunchRetry   LaunchRetryConfig    `json:"launch_retry,omitempty" yaml:"launch_retry,omitempty"`
}

// PollConfig configures command status polling.
type PollConfig struct {
	// MaxAttempts is the poll budget. Default: 5.
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`

	// Unit is the backoff time unit; poll n sleeps Unit * 2^n. Default: "1s".
	Unit string `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// CommandOutputConfig routes command output to an object store bucket.
type CommandOutputConfig struct {
	Bucket string `json:"bucket" yaml:"bucket"`
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`

	// Region is the bucket region. Defaults to the connection region.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`
}

// TimeoutConfig bounds the waits of one patch attempt. Values are Go
// duration strings ("30m", "90s").
type TimeoutConfig struct {
	ImageWait    string `json:"image_wait,omitempty" yaml:"image_wait,omitempty"`
	InstanceWait string `json:"instance_wait,omitempty" yaml:"instance_wait,omitempty"`
	Cleanup      string `json:"cleanup,omitempty" yaml:"cleanup,omitempty"`

	// Job bounds a whole attempt. Empty means no limit.
	Job string `json:"job,omitempty" yaml:"job,omitempty"`
}

// LaunchRetryConfig configures retries of worker launches from an image
// that is not available yet.
type LaunchRetryConfig struct {
	MaxRetries *int   `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	BaseDelay  string `json:"base_delay,omitempty" yaml:"base_delay,omitempty"`
	MaxDelay   string `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
}

// OutputConfig configures output destination.
type OutputConfig struct {
	// Destination is the output target.
	// Values: "stdout" or "file:/path/to/output.jsonl"
	// Default: "stdout".
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`

	// CommandOutput includes command records in the output. Default: false.
	CommandOutput bool `json:"command_output,omitempty" yaml:"command_output,omitempty"`
}

// Default values for optional configuration fields.
const (
	// DefaultVersion is the current manifest schema version.
	DefaultVersion = "1.0"

	// DefaultProvider is the only supported provider.
	DefaultProvider = "aws"

	DefaultCommand     = "yum update -y"
	DefaultPlatform    = "linux"
	DefaultConcurrency = 4

	DefaultPollAttempts = 5
	DefaultPollUnit     = "1s"

	DefaultImageWait    = "30m"
	DefaultInstanceWait = "10m"
	DefaultCleanup      = "2m"

	DefaultLaunchRetries   = 5
	DefaultLaunchBaseDelay = "5s"
	DefaultLaunchMaxDelay  = "1m"

	// DefaultDestination is the default output destination.
	DefaultDestination = "stdout"

	// DefaultParseReport is the default value for report parsing.
	DefaultParseReport = true
)

// ApplyDefaults fills in default values for optional fields.
//
// This should be called after loading and validating the manifest so that
// callers never reason about empty values.
func (m *Manifest) ApplyDefaults() {
	if m.Version == "" {
		m.Version = DefaultVersion
	}
	if m.Connection.Provider == "" {
		m.Connection.Provider = DefaultProvider
	}

	p := &m.Patch
	if p.Command == "" {
		p.Command = DefaultCommand
	}
	if p.Platform == "" {
		p.Platform = DefaultPlatform
	}
	if p.Concurrency == 0 {
		p.Concurrency = DefaultConcurrency
	}
	// RateLimit: 0 is a valid value (unlimited), so no default needed
	if p.ParseReport == nil {
		parse := DefaultParseReport
		p.ParseReport = &parse
	}
	if p.Poll.MaxAttempts == 0 {
		p.Poll.MaxAttempts = DefaultPollAttempts
	}
	if p.Poll.Unit == "" {
		p.Poll.Unit = DefaultPollUnit
	}
	if p.CommandOutput != nil && p.CommandOutput.Region == "" {
		p.CommandOutput.Region = m.Connection.Region
	}
	if p.Timeouts.ImageWait == "" {
		p.Timeouts.ImageWait = DefaultImageWait
	}
	if p.Timeouts.InstanceWait == "" {
		p.Timeouts.InstanceWait = DefaultInstanceWait
	}
	if p.Timeouts.Cleanup == "" {
		p.Timeouts.Cleanup = DefaultCleanup
	}
	if p.LaunchRetry.MaxRetries == nil {
		retries := DefaultLaunchRetries
		p.LaunchRetry.MaxRetries = &retries
	}
	if p.LaunchRetry.BaseDelay == "" {
		p.LaunchRetry.BaseDelay = DefaultLaunchBaseDelay
	}
	if p.LaunchRetry.MaxDelay == "" {
		p.LaunchRetry.MaxDelay = DefaultLaunchMaxDelay
	}

	if m.Output.Destination == "" {
		m.Output.Destination = DefaultDestination
	}
}

// ParseReportEnabled returns whether command output is parsed.
// Returns the configured value, or DefaultParseReport if not set.
func (p *PatchConfig) ParseReportEnabled() bool {
	if p.ParseReport == nil {
		return DefaultParseReport
	}
	return *p.ParseReport
}

// parseDuration parses an optional duration. Empty yields zero.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
