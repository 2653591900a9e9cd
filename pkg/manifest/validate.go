package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/schema"

	schemasassets "github.com/3leaps/amipatch/internal/assets/schemas"
	"github.com/3leaps/amipatch/pkg/match"
)

// SchemaID is the schema identifier for patch manifests.
const SchemaID = "amipatch/v1.0.0/patch-manifest"

// Validation errors
var (
	// ErrSchemaNotFound indicates the schema could not be located.
	ErrSchemaNotFound = errors.New("manifest schema not found")

	// ErrValidationFailed indicates the manifest failed validation.
	ErrValidationFailed = errors.New("manifest validation failed")
)

// Cached validator instance (compiled once from embedded schema)
var (
	validatorOnce sync.Once
	validator     *schema.Validator
	validatorErr  error
)

// ValidationError represents a single validation issue.
type ValidationError struct {
	// Path is the JSON pointer to the problematic field (e.g., "/patch/timeouts/job").
	Path string

	// Message describes the validation failure.
	Message string
}

// Error implements error interface.
func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "manifest validation failed with %d errors:\n", len(e))
	for i, err := range e {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error type.
func (e ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

// Validate checks the manifest against the JSON schema and then checks the
// values the schema cannot express: duration ranges, the stack selection
// patterns and the platform.
//
// Returns nil if validation succeeds, or a ValidationErrors with details
// about all validation failures.
//
// Note: This validates the struct representation, which loses unknown fields.
// For strict validation including additionalProperties checks, use ValidateRaw
// on the original input data.
func Validate(m *Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to serialize manifest for validation: %w", err)
	}
	if err := ValidateRaw(data); err != nil {
		return err
	}
	if errs := m.checkValues(); len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateRaw checks raw JSON data against the manifest schema.
//
// The schema is embedded at compile time, so validation works correctly
// in installed binaries and library consumers without requiring schema
// files to be present on disk.
func ValidateRaw(jsonData []byte) error {
	v, err := getValidator()
	if err != nil {
		return err
	}

	diags, err := v.ValidateJSON(jsonData)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if len(diags) == 0 {
		return nil
	}

	var errs ValidationErrors
	for _, d := range diags {
		// Only include errors, not warnings
		if d.Severity == schema.SeverityError {
			errs = append(errs, ValidationError{
				Path:    d.Pointer,
				Message: d.Message,
			})
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// checkValues validates what the schema cannot.
func (m *Manifest) checkValues() ValidationErrors {
	var errs ValidationErrors
	add := func(path, format string, args ...any) {
		errs = append(errs, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if m.Patch.Platform != "" && m.Patch.Platform != DefaultPlatform {
		add("/patch/platform", "%s patching is not supported", m.Patch.Platform)
	}

	if _, err := match.NewFilterFromConfig(&m.Selection); err != nil {
		add("/selection", "%v", err)
	}

	durations := []struct {
		path  string
		value string
	}{
		{"/patch/poll/unit", m.Patch.Poll.Unit},
		{"/patch/timeouts/image_wait", m.Patch.Timeouts.ImageWait},
		{"/patch/timeouts/instance_wait", m.Patch.Timeouts.InstanceWait},
		{"/patch/timeouts/cleanup", m.Patch.Timeouts.Cleanup},
		{"/patch/timeouts/job", m.Patch.Timeouts.Job},
		{"/patch/launch_retry/base_delay", m.Patch.LaunchRetry.BaseDelay},
		{"/patch/launch_retry/max_delay", m.Patch.LaunchRetry.MaxDelay},
	}
	for _, d := range durations {
		v, err := parseDuration(d.value)
		if err != nil {
			add(d.path, "invalid duration %q", d.value)
			continue
		}
		if v < 0 {
			add(d.path, "duration must not be negative")
		}
	}

	job, _ := parseDuration(m.Patch.Timeouts.Job)
	imageWait, _ := parseDuration(m.Patch.Timeouts.ImageWait)
	if job > 0 && imageWait > 0 && job < imageWait {
		add("/patch/timeouts/job", "job timeout %s is shorter than image_wait %s", m.Patch.Timeouts.Job, m.Patch.Timeouts.ImageWait)
	}

	return errs
}

// getValidator returns a cached validator compiled from the embedded schema.
func getValidator() (*schema.Validator, error) {
	validatorOnce.Do(func() {
		if len(schemasassets.PatchManifestSchema) == 0 {
			validatorErr = fmt.Errorf("%w: embedded patch-manifest schema is empty", ErrSchemaNotFound)
			return
		}
		validator, validatorErr = schema.NewValidator(schemasassets.PatchManifestSchema)
		if validatorErr != nil {
			validatorErr = fmt.Errorf("failed to compile manifest schema: %w", validatorErr)
		}
	})
	return validator, validatorErr
}
