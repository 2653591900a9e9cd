// Package output provides JSONL output for patch runs.
//
// Output is structured as typed record envelopes containing stacks,
// resources, patch results, warnings, errors and summaries. Each line is
// a self-contained JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: amipatch.<type>.v<version>
const (
	// TypeStack identifies stack listing records.
	TypeStack = "amipatch.stack.v1"

	// TypeResource identifies stack member resource records.
	TypeResource = "amipatch.resource.v1"

	// TypePatch identifies patch job result records.
	TypePatch = "amipatch.patch.v1"

	// TypeWarning identifies non-fatal failure records, such as a leaked worker.
	TypeWarning = "amipatch.warning.v1"

	// TypeError identifies error records.
	TypeError = "amipatch.error.v1"

	// TypeCommand identifies remote command invocation records.
	TypeCommand = "amipatch.command.v1"

	// TypeReport identifies parsed package manager report records.
	TypeReport = "amipatch.report.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "amipatch.summary.v1"
)

// Record is the envelope for all JSONL output.
//
// Each line of JSONL output contains a Record with a type-specific
// payload in the Data field. The type field determines how to
// interpret the Data payload.
type Record struct {
	// Type identifies the record type (e.g., "amipatch.patch.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// JobID is the correlation ID for this run.
	JobID string `json:"job_id"`

	// Provider identifies the cloud provider (e.g., "aws").
	Provider string `json:"provider"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// StackRecord is the data payload for stack listings.
type StackRecord struct {
	// ID is the opaque stack identity (an ARN for CloudFormation).
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`

	// Patchable is set when at least one member resource can be patched.
	// Nil when resources were not inspected.
	Patchable *bool `json:"patchable,omitempty"`

	Resources          int `json:"resources,omitempty"`
	PatchableResources int `json:"patchable_resources,omitempty"`
}

// ResourceRecord is the data payload for stack member resources.
type ResourceRecord struct {
	Stack      string `json:"stack"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	PhysicalID string `json:"physical_id"`
	LogicalID  string `json:"logical_id,omitempty"`
	Variant    string `json:"variant"`
	Patchable  bool   `json:"patchable"`

	// ImageID is the current image of an instance, when described.
	ImageID string `json:"image_id,omitempty"`
}

// PatchRecord is the data payload for a finished patch attempt.
type PatchRecord struct {
	PatchID  string `json:"patch_id"`
	Stack    string `json:"stack"`
	Resource string `json:"resource"`
	State    string `json:"state"`
	Step     string `json:"step"`

	SourceImageID     string `json:"source_image_id,omitempty"`
	PatchingImageID   string `json:"patching_image_id,omitempty"`
	PatchingImageName string `json:"patching_image_name,omitempty"`
	WorkerInstanceID  string `json:"worker_instance_id,omitempty"`
	WorkerState       string `json:"worker_state,omitempty"`
	InvocationID      string `json:"invocation_id,omitempty"`
	CommandStatus     string `json:"command_status,omitempty"`
	ResultImageID     string `json:"result_image_id,omitempty"`
	ResultImageName   string `json:"result_image_name,omitempty"`

	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Duration  time.Duration `json:"duration_ns"`

	// ErrorCode and Error are set for failed attempts.
	ErrorCode string `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`

	Warnings int `json:"warnings,omitempty"`
}

// WarningRecord is the data payload for non-fatal failures.
//
// A worker that could not be terminated is reported here so monitoring
// can alert on leaked instances.
type WarningRecord struct {
	PatchID  string `json:"patch_id,omitempty"`
	Stack    string `json:"stack,omitempty"`
	Resource string `json:"resource,omitempty"`

	// Op is the operation that failed (e.g., "terminate").
	Op string `json:"op"`

	// Target is the id the operation acted on.
	Target  string `json:"target"`
	Message string `json:"message"`
}

// ErrorRecord is the data payload for errors.
//
// Errors are emitted as records rather than failing the entire run,
// allowing partial results when some resources fail.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Stack is the stack related to this error, if applicable.
	Stack string `json:"stack,omitempty"`

	// Resource is the resource related to this error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Step is the patch step that failed, if applicable.
	Step string `json:"step,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord that are not tied to a patch step.
const (
	// ErrCodeAccessDenied indicates permission failure.
	ErrCodeAccessDenied = "ACCESS_DENIED"

	// ErrCodeNotFound indicates the stack, instance or object was not found.
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeTimeout indicates an operation timed out.
	ErrCodeTimeout = "TIMEOUT"

	// ErrCodeThrottled indicates rate limiting.
	ErrCodeThrottled = "THROTTLED"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// CommandRecord is the data payload for a remote command invocation.
type CommandRecord struct {
	InvocationID  string `json:"invocation_id"`
	InstanceID    string `json:"instance_id"`
	Command       string `json:"command"`
	Status        string `json:"status"`
	RawStatus     string `json:"raw_status,omitempty"`
	StatusDetails string `json:"status_details,omitempty"`

	// ResponseCode is the exit code, or -1 when not known.
	ResponseCode int `json:"response_code"`

	// Attempts is the number of status polls performed.
	Attempts int `json:"attempts"`

	OutputURL string `json:"output_url,omitempty"`

	// Output is the retrieved stdout, when requested.
	Output string `json:"output,omitempty"`
}

// PackageRecord is one package of a ReportRecord.
type PackageRecord struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// ReportRecord is the data payload for a parsed package manager report.
type ReportRecord struct {
	// Source is where the report came from (a patch id, invocation id or file).
	Source   string `json:"source"`
	Resource string `json:"resource,omitempty"`

	Updated   []PackageRecord `json:"updated,omitempty"`
	Installed []PackageRecord `json:"installed,omitempty"`
	Removed   []PackageRecord `json:"removed,omitempty"`

	NothingToDo bool           `json:"nothing_to_do"`
	Complete    bool           `json:"complete"`
	Changed     int            `json:"changed"`
	Planned     map[string]int `json:"planned,omitempty"`
}

// SummaryRecord is the data payload for final summaries.
//
// A summary record is emitted at the end of a run with aggregate
// statistics.
type SummaryRecord struct {
	// Stacks is the number of stacks considered.
	Stacks int `json:"stacks"`

	// SkippedStacks is the number of stacks without patchable resources.
	SkippedStacks int `json:"skipped_stacks"`

	Resources   int `json:"resources"`
	Succeeded   int `json:"succeeded"`
	Failed      int `json:"failed"`
	Unsupported int `json:"unsupported"`
	Warnings    int `json:"warnings"`

	// Truncated is set when the stack listing had more pages than were read.
	Truncated bool `json:"truncated,omitempty"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`

	// Images maps resource ids to their patched image ids.
	Images map[string]string `json:"images,omitempty"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
