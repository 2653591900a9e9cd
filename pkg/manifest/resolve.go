package manifest

import (
	"fmt"
	"maps"
	"time"

	"github.com/3leaps/amipatch/pkg/command"
	"github.com/3leaps/amipatch/pkg/match"
	"github.com/3leaps/amipatch/pkg/patcher"
)

// Filter builds the stack selection filter.
func (m *Manifest) Filter() (match.Filter, error) {
	return match.NewFilterFromConfig(&m.Selection)
}

// ExecutorConfig returns the remote command settings.
func (m *Manifest) ExecutorConfig() (command.Config, error) {
	unit, err := parseDuration(m.Patch.Poll.Unit)
	if err != nil {
		return command.Config{}, fmt.Errorf("poll unit: %w", err)
	}

	cfg := command.DefaultConfig()
	if m.Patch.Poll.MaxAttempts > 0 {
		cfg.MaxAttempts = m.Patch.Poll.MaxAttempts
	}
	if unit > 0 {
		cfg.Unit = unit
	}
	if out := m.Patch.CommandOutput; out != nil {
		cfg.OutputBucket = out.Bucket
		cfg.OutputPrefix = out.Prefix
		cfg.OutputRegion = out.Region
	}
	cfg.Comment = "amipatch"
	return cfg, nil
}

// PatcherConfig returns the patch workflow settings.
func (m *Manifest) PatcherConfig() (patcher.Config, error) {
	cfg := patcher.DefaultConfig()
	p := m.Patch

	if p.Command != "" {
		cfg.Command = p.Command
	}
	cfg.InstanceType = p.InstanceType
	cfg.KeyName = p.KeyName
	cfg.ParseReport = p.ParseReportEnabled()
	cfg.Tags = maps.Clone(p.Tags)

	var err error
	if cfg.ImageWaitTimeout, err = durationOr(p.Timeouts.ImageWait, cfg.ImageWaitTimeout); err != nil {
		return cfg, fmt.Errorf("image_wait: %w", err)
	}
	if cfg.InstanceWaitTimeout, err = durationOr(p.Timeouts.InstanceWait, cfg.InstanceWaitTimeout); err != nil {
		return cfg, fmt.Errorf("instance_wait: %w", err)
	}
	if cfg.CleanupTimeout, err = durationOr(p.Timeouts.Cleanup, cfg.CleanupTimeout); err != nil {
		return cfg, fmt.Errorf("cleanup: %w", err)
	}
	if cfg.JobTimeout, err = durationOr(p.Timeouts.Job, 0); err != nil {
		return cfg, fmt.Errorf("job: %w", err)
	}

	if p.LaunchRetry.MaxRetries != nil {
		cfg.LaunchRetry.MaxRetries = *p.LaunchRetry.MaxRetries
	}
	if cfg.LaunchRetry.BaseDelay, err = durationOr(p.LaunchRetry.BaseDelay, cfg.LaunchRetry.BaseDelay); err != nil {
		return cfg, fmt.Errorf("launch_retry.base_delay: %w", err)
	}
	if cfg.LaunchRetry.MaxDelay, err = durationOr(p.LaunchRetry.MaxDelay, cfg.LaunchRetry.MaxDelay); err != nil {
		return cfg, fmt.Errorf("launch_retry.max_delay: %w", err)
	}

	return cfg, nil
}

// durationOr parses s, returning def when s is empty.
func durationOr(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return parseDuration(s)
}
