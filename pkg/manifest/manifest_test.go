package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/amipatch/pkg/provider"
)

// validManifestYAML returns a minimal valid manifest in YAML format.
func validManifestYAML() string {
	return `version: "1.0"
connection:
  provider: aws
  region: us-east-1
`
}

// validManifestJSON returns a minimal valid manifest in JSON format.
func validManifestJSON() string {
	return `{
  "version": "1.0",
  "connection": {
    "provider": "aws",
    "region": "us-east-1"
  }
}`
}

// fullManifestYAML returns a complete manifest with all optional fields.
func fullManifestYAML() string {
	return `$schema: https://schemas.3leaps.dev/amipatch/v1.0.0/patch-manifest.schema.json
version: "1.0"
connection:
  provider: aws
  region: eu-west-1
  profile: production
  endpoint: http://localhost:5000
selection:
  include:
    - "web-*"
  exclude:
    - "web-canary"
  name_regex: "-(prod|stage)$"
  statuses:
    - CREATE_COMPLETE
    - UPDATE_COMPLETE
  exclude_statuses: []
patch:
  command: "dnf -y upgrade --security"
  platform: linux
  instance_type: m5.large
  key_name: ops
  concurrency: 8
  rate_limit: 0.5
  parse_report: false
  tags:
    team: platform
  poll:
    max_attempts: 7
    unit: 2s
  command_output:
    bucket: patch-logs
    prefix: amipatch/
  timeouts:
    image_wait: 45m
    instance_wait: 5m
    cleanup: 90s
    job: 2h
  launch_retry:
    max_retries: 3
    base_delay: 10s
    max_delay: 2m
output:
  destination: file:/tmp/patch.jsonl
  command_output: true
`
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		ext      string
		wantErr  bool
		errMatch string
		validate func(t *testing.T, m *Manifest)
	}{
		{
			name:    "minimal YAML",
			content: validManifestYAML(),
			ext:     ".yaml",
			validate: func(t *testing.T, m *Manifest) {
				assert.Equal(t, "1.0", m.Version)
				assert.Equal(t, "aws", m.Connection.Provider)
				assert.Equal(t, "us-east-1", m.Connection.Region)
				assert.Equal(t, DefaultCommand, m.Patch.Command)
				assert.Equal(t, DefaultConcurrency, m.Patch.Concurrency)
				assert.Equal(t, DefaultDestination, m.Output.Destination)
				assert.True(t, m.Patch.ParseReportEnabled())
				assert.Nil(t, m.Patch.CommandOutput)
			},
		},
		{
			name:    "minimal JSON",
			content: validManifestJSON(),
			ext:     ".json",
			validate: func(t *testing.T, m *Manifest) {
				assert.Equal(t, "aws", m.Connection.Provider)
			},
		},
		{
			name:    "full manifest",
			content: fullManifestYAML(),
			ext:     ".yml",
			validate: func(t *testing.T, m *Manifest) {
				assert.Equal(t, "production", m.Connection.Profile)
				assert.Equal(t, []string{"web-*"}, m.Selection.Include)
				assert.NotNil(t, m.Selection.ExcludeStatuses)
				assert.Empty(t, m.Selection.ExcludeStatuses)
				assert.Equal(t, 8, m.Patch.Concurrency)
				assert.InDelta(t, 0.5, m.Patch.RateLimit, 1e-9)
				assert.False(t, m.Patch.ParseReportEnabled())
				require.NotNil(t, m.Patch.CommandOutput)
				assert.Equal(t, "eu-west-1", m.Patch.CommandOutput.Region, "bucket region defaults to the connection region")
				assert.Equal(t, "file:/tmp/patch.jsonl", m.Output.Destination)
				assert.True(t, m.Output.CommandOutput)
			},
		},
		{
			name:     "unknown field rejected",
			content:  validManifestYAML() + "surprise: true\n",
			ext:      ".yaml",
			wantErr:  true,
			errMatch: "",
		},
		{
			name: "unsupported provider",
			content: `version: "1.0"
connection:
  provider: gcp
`,
			ext:     ".yaml",
			wantErr: true,
		},
		{
			name: "missing connection",
			content: `version: "1.0"
`,
			ext:     ".yaml",
			wantErr: true,
		},
		{
			name: "bad duration",
			content: validManifestYAML() + `patch:
  timeouts:
    job: soon
`,
			ext:     ".yaml",
			wantErr: true,
		},
		{
			name: "windows platform",
			content: validManifestYAML() + `patch:
  platform: windows
`,
			ext:      ".yaml",
			wantErr:  true,
			errMatch: "not supported",
		},
		{
			name: "invalid selection regex",
			content: validManifestYAML() + `selection:
  name_regex: "([a-z"
`,
			ext:      ".yaml",
			wantErr:  true,
			errMatch: "/selection",
		},
		{
			name: "job timeout shorter than image wait",
			content: validManifestYAML() + `patch:
  timeouts:
    image_wait: 30m
    job: 10m
`,
			ext:      ".yaml",
			wantErr:  true,
			errMatch: "shorter than image_wait",
		},
		{
			name:    "invalid YAML",
			content: "version: [unterminated",
			ext:     ".yaml",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "manifest"+tt.ext)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			m, err := Load(path)
			if tt.wantErr {
				require.Error(t, err)
				if tt.errMatch != "" {
					assert.Contains(t, err.Error(), tt.errMatch)
				}
				return
			}
			require.NoError(t, err)
			if tt.validate != nil {
				tt.validate(t, m)
			}
		})
	}
}

func TestLoad_FileErrors(t *testing.T) {
	t.Run("file not found", func(t *testing.T) {
		_, err := Load("/nonexistent/path/manifest.yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.yaml")
		require.NoError(t, os.WriteFile(path, []byte("\n  \n"), 0o644))
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty")
	})
}

func TestParse(t *testing.T) {
	t.Run("YAML without extension", func(t *testing.T) {
		m, err := Parse([]byte(validManifestYAML()), "")
		require.NoError(t, err)
		assert.Equal(t, "us-east-1", m.Connection.Region)
	})

	t.Run("JSON without extension", func(t *testing.T) {
		m, err := Parse([]byte(validManifestJSON()), "")
		require.NoError(t, err)
		assert.Equal(t, "us-east-1", m.Connection.Region)
	})

	t.Run("tab indented JSON", func(t *testing.T) {
		doc := "{\n\t\"version\": \"1.0\",\n\t\"connection\": {\"provider\": \"aws\", \"region\": \"eu-west-1\"}\n}"
		m, err := Parse([]byte(doc), "plan.yaml")
		require.NoError(t, err)
		assert.Equal(t, "eu-west-1", m.Connection.Region)
		assert.Equal(t, DefaultConcurrency, m.Patch.Concurrency, "defaults applied")
	})

	t.Run("unknown field in JSON", func(t *testing.T) {
		_, err := Parse([]byte(`{"version": "1.0", "connection": {"provider": "aws"}, "extra": 1}`), "plan.json")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrValidationFailed)
	})

	t.Run("non-string keys", func(t *testing.T) {
		_, err := Parse([]byte("1: one\n2: two\n"), "plan.yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "plan.yaml")
	})

	t.Run("value checks run after defaults", func(t *testing.T) {
		_, err := Parse([]byte(validManifestYAML()+"patch:\n  timeouts:\n    job: 1m\n"), "plan.yaml")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrValidationFailed)
		assert.Contains(t, err.Error(), "shorter than image_wait")
	})
}

func TestApplyDefaults(t *testing.T) {
	m := &Manifest{}
	m.ApplyDefaults()

	assert.Equal(t, DefaultVersion, m.Version)
	assert.Equal(t, DefaultProvider, m.Connection.Provider)
	assert.Equal(t, DefaultPlatform, m.Patch.Platform)
	assert.Equal(t, DefaultPollAttempts, m.Patch.Poll.MaxAttempts)
	assert.Equal(t, DefaultPollUnit, m.Patch.Poll.Unit)
	assert.Equal(t, DefaultImageWait, m.Patch.Timeouts.ImageWait)
	assert.Empty(t, m.Patch.Timeouts.Job)
	require.NotNil(t, m.Patch.LaunchRetry.MaxRetries)
	assert.Equal(t, DefaultLaunchRetries, *m.Patch.LaunchRetry.MaxRetries)

	t.Run("keeps explicit zero retries", func(t *testing.T) {
		zero := 0
		m := &Manifest{Patch: PatchConfig{LaunchRetry: LaunchRetryConfig{MaxRetries: &zero}}}
		m.ApplyDefaults()
		assert.Equal(t, 0, *m.Patch.LaunchRetry.MaxRetries)
	})
}

func TestManifest_RuntimeConfigs(t *testing.T) {
	m, err := Parse([]byte(fullManifestYAML()), "plan.yaml")
	require.NoError(t, err)

	exec, err := m.ExecutorConfig()
	require.NoError(t, err)
	assert.Equal(t, 7, exec.MaxAttempts)
	assert.Equal(t, 2*time.Second, exec.Unit)
	assert.Equal(t, "patch-logs", exec.OutputBucket)
	assert.Equal(t, "amipatch/", exec.OutputPrefix)
	assert.Equal(t, "eu-west-1", exec.OutputRegion)

	pc, err := m.PatcherConfig()
	require.NoError(t, err)
	assert.Equal(t, "dnf -y upgrade --security", pc.Command)
	assert.Equal(t, "m5.large", pc.InstanceType)
	assert.Equal(t, "ops", pc.KeyName)
	assert.False(t, pc.ParseReport)
	assert.Equal(t, 45*time.Minute, pc.ImageWaitTimeout)
	assert.Equal(t, 5*time.Minute, pc.InstanceWaitTimeout)
	assert.Equal(t, 90*time.Second, pc.CleanupTimeout)
	assert.Equal(t, 2*time.Hour, pc.JobTimeout)
	assert.Equal(t, 3, pc.LaunchRetry.MaxRetries)
	assert.Equal(t, 10*time.Second, pc.LaunchRetry.BaseDelay)
	assert.Equal(t, 2*time.Minute, pc.LaunchRetry.MaxDelay)
	assert.Equal(t, map[string]string{"team": "platform"}, pc.Tags)

	f, err := m.Filter()
	require.NoError(t, err)
	assert.True(t, f.Match(provider.StackSummary{Name: "web-prod", Status: "UPDATE_COMPLETE"}))
	assert.False(t, f.Match(provider.StackSummary{Name: "web-canary", Status: "UPDATE_COMPLETE"}))
	assert.False(t, f.Match(provider.StackSummary{Name: "web-prod", Status: "ROLLBACK_COMPLETE"}))
}

func TestManifest_DefaultFilterSkipsDeleted(t *testing.T) {
	m, err := Parse([]byte(validManifestYAML()), "plan.yaml")
	require.NoError(t, err)

	f, err := m.Filter()
	require.NoError(t, err)
	assert.True(t, f.Match(provider.StackSummary{Name: "any", Status: "CREATE_COMPLETE"}))
	assert.False(t, f.Match(provider.StackSummary{Name: "any", Status: "DELETE_COMPLETE"}))
}

func TestValidationErrors(t *testing.T) {
	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{{Path: "/version", Message: "required"}}
		assert.Equal(t, "/version: required", errs.Error())
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Path: "/version", Message: "required"},
			{Path: "/connection/provider", Message: "must be aws"},
		}
		errStr := errs.Error()
		assert.Contains(t, errStr, "2 errors")
		assert.Contains(t, errStr, "/version")
		assert.Contains(t, errStr, "/connection/provider")
	})

	t.Run("empty path", func(t *testing.T) {
		errs := ValidationErrors{{Path: "", Message: "root error"}}
		assert.Equal(t, "root error", errs.Error())
	})

	t.Run("unwrap returns ErrValidationFailed", func(t *testing.T) {
		errs := ValidationErrors{{Path: "/x", Message: "bad"}}
		assert.True(t, errors.Is(errs, ErrValidationFailed))
	})
}

func TestValidate(t *testing.T) {
	t.Run("valid manifest passes", func(t *testing.T) {
		m := &Manifest{Version: "1.0", Connection: ConnectionConfig{Provider: "aws"}}
		m.ApplyDefaults()
		assert.NoError(t, Validate(m))
	})

	t.Run("schema violation fails", func(t *testing.T) {
		m := &Manifest{Version: "1.0", Connection: ConnectionConfig{Provider: "azure"}}
		err := Validate(m)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrValidationFailed)
	})

	t.Run("value check fails", func(t *testing.T) {
		m := &Manifest{Version: "1.0", Connection: ConnectionConfig{Provider: "aws"}}
		m.Patch.Timeouts.Cleanup = "-1m"
		err := Validate(m)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrValidationFailed)
	})
}

func TestValidate_EmbeddedSchema(t *testing.T) {
	originalDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() {
		_ = os.Chdir(originalDir)
	})

	m := &Manifest{Version: "1.0", Connection: ConnectionConfig{Provider: "aws"}}
	assert.NoError(t, Validate(m), "validation should work from any directory using embedded schema")
}
