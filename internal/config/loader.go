// Package config loads process-level settings for the amipatch CLI.
//
// Settings come from, in increasing precedence: built-in defaults, an
// optional amipatch.yaml, AMIPATCH_* environment variables and runtime
// overrides supplied by the caller (typically CLI flags).
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment variable read by Load.
	EnvPrefix = "AMIPATCH"

	// ConfigName is the base name of the optional config file.
	ConfigName = "amipatch"
)

// ErrInvalidConfig is returned when loaded settings fail validation.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds process-level settings.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	AWS     AWSConfig     `mapstructure:"aws"`
	Patch   PatchConfig   `mapstructure:"patch"`
	Poll    PollConfig    `mapstructure:"poll"`
	Output  OutputConfig  `mapstructure:"output"`

	// Workers bounds concurrent patch jobs when no manifest sets it.
	Workers int `mapstructure:"workers"`

	// RateLimit caps patch starts per second. Zero is unlimited.
	RateLimit float64 `mapstructure:"rate_limit"`

	// ReadOnly refuses every operation that launches, images or terminates.
	ReadOnly bool `mapstructure:"readonly"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

type AWSConfig struct {
	Region        string `mapstructure:"region"`
	Profile       string `mapstructure:"profile"`
	Endpoint      string `mapstructure:"endpoint"`
	UseIMDSRegion bool   `mapstructure:"use_imds_region"`
}

type PatchConfig struct {
	Command      string   `mapstructure:"command"`
	InstanceType string   `mapstructure:"instance_type"`
	OutputBucket string   `mapstructure:"output_bucket"`
	OutputPrefix string   `mapstructure:"output_prefix"`
	Stacks       []string `mapstructure:"stacks"`
}

type PollConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Unit        time.Duration `mapstructure:"unit"`
}

type OutputConfig struct {
	Destination string `mapstructure:"destination"`
}

// EnvSpec maps one environment variable to a config key.
type EnvSpec struct {
	Name string
	Path string
}

var envSpecs = []EnvSpec{
	{Name: "LOG_LEVEL", Path: "logging.level"},
	{Name: "LOG_PROFILE", Path: "logging.profile"},
	{Name: "REGION", Path: "aws.region"},
	{Name: "PROFILE", Path: "aws.profile"},
	{Name: "ENDPOINT", Path: "aws.endpoint"},
	{Name: "USE_IMDS_REGION", Path: "aws.use_imds_region"},
	{Name: "COMMAND", Path: "patch.command"},
	{Name: "INSTANCE_TYPE", Path: "patch.instance_type"},
	{Name: "OUTPUT_BUCKET", Path: "patch.output_bucket"},
	{Name: "OUTPUT_PREFIX", Path: "patch.output_prefix"},
	{Name: "STACKS", Path: "patch.stacks"},
	{Name: "POLL_ATTEMPTS", Path: "poll.max_attempts"},
	{Name: "POLL_UNIT", Path: "poll.unit"},
	{Name: "OUTPUT", Path: "output.destination"},
	{Name: "WORKERS", Path: "workers"},
	{Name: "RATE_LIMIT", Path: "rate_limit"},
	{Name: "READONLY", Path: "readonly"},
}

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// Load reads settings from defaults, the optional config file, the
// environment and overrides. Later overrides win over earlier ones.
// The result is also retained for GetConfig.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	return LoadFile(ctx, "", overrides...)
}

// LoadFile is Load with an explicit config file. A missing explicit file is
// an error; the default search paths are skipped.
func LoadFile(ctx context.Context, path string, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		for _, dir := range configPaths() {
			v.AddConfigPath(dir)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range EnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()

	return &cfg, nil
}

// GetConfig returns the most recently loaded config, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// SetDefaults registers built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")
	v.SetDefault("aws.region", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.use_imds_region", false)
	v.SetDefault("patch.command", "yum update -y")
	v.SetDefault("patch.instance_type", "")
	v.SetDefault("patch.output_bucket", "")
	v.SetDefault("patch.output_prefix", "")
	v.SetDefault("patch.stacks", []string{})
	v.SetDefault("poll.max_attempts", 5)
	v.SetDefault("poll.unit", "1s")
	v.SetDefault("output.destination", "stdout")
	v.SetDefault("workers", 4)
	v.SetDefault("rate_limit", 0)
	v.SetDefault("readonly", false)
}

// EnvSpecs returns the environment variables Load binds, with the prefix applied.
func EnvSpecs() []EnvSpec {
	out := make([]EnvSpec, len(envSpecs))
	for i, s := range envSpecs {
		out[i] = EnvSpec{Name: EnvPrefix + "_" + s.Name, Path: s.Path}
	}
	return out
}

var validLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

var validProfiles = map[string]bool{
	"structured": true, "console": true,
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var problems []string
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		problems = append(problems, fmt.Sprintf("logging.level %q", c.Logging.Level))
	}
	if !validProfiles[strings.ToLower(c.Logging.Profile)] {
		problems = append(problems, fmt.Sprintf("logging.profile %q", c.Logging.Profile))
	}
	if c.Workers < 1 {
		problems = append(problems, fmt.Sprintf("workers %d < 1", c.Workers))
	}
	if c.RateLimit < 0 {
		problems = append(problems, fmt.Sprintf("rate_limit %g < 0", c.RateLimit))
	}
	if c.Poll.MaxAttempts < 1 {
		problems = append(problems, fmt.Sprintf("poll.max_attempts %d < 1", c.Poll.MaxAttempts))
	}
	if c.Poll.Unit <= 0 {
		problems = append(problems, fmt.Sprintf("poll.unit %s <= 0", c.Poll.Unit))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func configPaths() []string {
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, ConfigName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", ConfigName))
	}
	return paths
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}
