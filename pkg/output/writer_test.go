package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, line []byte, payload any) Record {
	t.Helper()
	var record Record
	require.NoError(t, json.Unmarshal(line, &record))
	if payload != nil {
		require.NoError(t, json.Unmarshal(record.Data, payload))
	}
	return record
}

func TestNewJSONLWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "aws")

	assert.NotNil(t, w)
	assert.Equal(t, "job-123", w.JobID())
	assert.Equal(t, "aws", w.provider)
}

func TestJSONLWriter_WritePatch(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "aws")
	fixed := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	patch := &PatchRecord{
		PatchID:          "p-1",
		Stack:            "web",
		Resource:         "i-src",
		State:            "succeeded",
		Step:             "done",
		SourceImageID:    "ami-111",
		WorkerInstanceID: "i-w1",
		ResultImageID:    "ami-222",
		ResultImageName:  "ami-111_patched_1700000000.000002",
		StartedAt:        fixed.Add(-time.Minute),
		EndedAt:          fixed,
		Duration:         time.Minute,
	}
	require.NoError(t, w.WritePatch(context.Background(), patch))

	var got PatchRecord
	record := decodeLine(t, buf.Bytes(), &got)

	assert.Equal(t, TypePatch, record.Type)
	assert.Equal(t, "job-123", record.JobID)
	assert.Equal(t, "aws", record.Provider)
	assert.Equal(t, fixed, record.TS)
	assert.Equal(t, *patch, got)
}

func TestJSONLWriter_RecordTypes(t *testing.T) {
	tests := []struct {
		name  string
		write func(w *JSONLWriter) error
		want  string
	}{
		{"stack", func(w *JSONLWriter) error {
			return w.WriteStack(context.Background(), &StackRecord{ID: "arn:web", Name: "web", Status: "CREATE_COMPLETE"})
		}, TypeStack},
		{"resource", func(w *JSONLWriter) error {
			return w.WriteResource(context.Background(), &ResourceRecord{Stack: "web", Type: "AWS::EC2::Instance", PhysicalID: "i-1", Variant: "instance", Patchable: true})
		}, TypeResource},
		{"warning", func(w *JSONLWriter) error {
			return w.WriteWarning(context.Background(), &WarningRecord{Op: "terminate", Target: "i-w1", Message: "throttled"})
		}, TypeWarning},
		{"error", func(w *JSONLWriter) error {
			return w.WriteError(context.Background(), &ErrorRecord{Code: ErrCodeThrottled, Message: "slow down"})
		}, TypeError},
		{"command", func(w *JSONLWriter) error {
			return w.WriteCommand(context.Background(), &CommandRecord{InvocationID: "cmd-1", InstanceID: "i-1", Status: "Succeeded"})
		}, TypeCommand},
		{"report", func(w *JSONLWriter) error {
			return w.WriteReport(context.Background(), &ReportRecord{Source: "yum.log", Complete: true})
		}, TypeReport},
		{"summary", func(w *JSONLWriter) error {
			return w.WriteSummary(context.Background(), &SummaryRecord{Stacks: 1})
		}, TypeSummary},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := NewJSONLWriter(&buf, "job-123", "aws")
			require.NoError(t, tt.write(w))

			record := decodeLine(t, buf.Bytes(), nil)
			assert.Equal(t, tt.want, record.Type)
			assert.True(t, strings.HasPrefix(record.Type, "amipatch."))
		})
	}
}

func TestJSONLWriter_WriteError(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "aws")

	errRec := &ErrorRecord{
		Code:     "TIMED_OUT",
		Message:  "invocation cmd-1 on i-w1 after 5 polls: timed out",
		Stack:    "web",
		Resource: "i-src",
		Step:     "wait",
	}
	require.NoError(t, w.WriteError(context.Background(), errRec))

	var got ErrorRecord
	decodeLine(t, buf.Bytes(), &got)
	assert.Equal(t, *errRec, got)
}

func TestJSONLWriter_WriteSummary(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "aws")

	sum := &SummaryRecord{
		Stacks:        3,
		SkippedStacks: 1,
		Resources:     2,
		Succeeded:     1,
		Failed:        1,
		Warnings:      1,
		Truncated:     true,
		Duration:      90 * time.Second,
		DurationHuman: "1m30s",
		Images:        map[string]string{"i-b": "ami-222"},
	}
	require.NoError(t, w.WriteSummary(context.Background(), sum))

	var got SummaryRecord
	decodeLine(t, buf.Bytes(), &got)
	assert.Equal(t, *sum, got)
}

func TestJSONLWriter_NewlineTerminated(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "aws")

	require.NoError(t, w.WriteStack(context.Background(), &StackRecord{Name: "web"}))
	require.NoError(t, w.WriteStack(context.Background(), &StackRecord{Name: "data"}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	for _, line := range lines {
		var record Record
		assert.NoError(t, json.Unmarshal([]byte(line), &record))
	}
}

func TestJSONLWriter_Close(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "aws")

	require.NoError(t, w.Close())

	err := w.WriteStack(context.Background(), &StackRecord{Name: "web"})
	assert.ErrorIs(t, err, ErrWriterClosed)
}

func TestJSONLWriter_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "aws")

	const numWriters = 10
	const writesPerWriter = 100

	var wg sync.WaitGroup
	wg.Add(numWriters)

	for i := 0; i < numWriters; i++ {
		go func(writerID int) {
			defer wg.Done()
			for j := 0; j < writesPerWriter; j++ {
				_ = w.WritePatch(context.Background(), &PatchRecord{
					Stack:    "web",
					Resource: "i-1",
					Warnings: writerID*writesPerWriter + j,
				})
			}
		}(i)
	}

	wg.Wait()

	// No interleaving: every line is a complete record.
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, numWriters*writesPerWriter)
	for i, line := range lines {
		var record Record
		assert.NoError(t, json.Unmarshal([]byte(line), &record), "line %d should be valid JSON: %s", i, line)
	}
}

func TestJSONLWriter_ContextCancellation(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "aws")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.WriteStack(ctx, &StackRecord{Name: "web"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, buf.String())
}

func TestJSONLWriter_WriteFailure(t *testing.T) {
	w := NewJSONLWriter(&failingWriter{err: errors.New("disk full")}, "job-123", "aws")

	err := w.WriteStack(context.Background(), &StackRecord{Name: "web"})
	require.Error(t, err)

	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, "write", writeErr.Op)
}

func TestJSONLWriter_MarshalFailure(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "aws")

	err := w.WriteError(context.Background(), &ErrorRecord{Code: "X", Details: make(chan int)})
	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, "marshal_data", writeErr.Op)
	assert.Empty(t, buf.String())
}

// failingWriter is an io.Writer that always returns an error.
type failingWriter struct {
	err error
}

func (f *failingWriter) Write(p []byte) (n int, err error) {
	return 0, f.err
}

func TestJSONLWriter_ShortWrite(t *testing.T) {
	shortWriter := &shortWriteWriter{bytesPerWrite: 10}
	w := NewJSONLWriter(shortWriter, "job-123", "aws")

	err := w.WritePatch(context.Background(), &PatchRecord{Stack: "web", Resource: "i-src", ResultImageID: "ami-222"})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(shortWriter.buf.String()), "\n")
	require.Len(t, lines, 1)

	record := decodeLine(t, []byte(lines[0]), nil)
	assert.Equal(t, TypePatch, record.Type)
}

func TestJSONLWriter_ZeroWrite(t *testing.T) {
	w := NewJSONLWriter(&zeroWriteWriter{}, "job-123", "aws")

	err := w.WriteStack(context.Background(), &StackRecord{Name: "web"})
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

// shortWriteWriter writes at most bytesPerWrite bytes per call, returning nil error.
type shortWriteWriter struct {
	buf           bytes.Buffer
	bytesPerWrite int
}

func (sw *shortWriteWriter) Write(p []byte) (n int, err error) {
	toWrite := len(p)
	if toWrite > sw.bytesPerWrite {
		toWrite = sw.bytesPerWrite
	}
	return sw.buf.Write(p[:toWrite])
}

// zeroWriteWriter always returns 0 bytes written with nil error.
type zeroWriteWriter struct{}

func (zw *zeroWriteWriter) Write(p []byte) (n int, err error) {
	return 0, nil
}

func TestWriteError(t *testing.T) {
	underlying := errors.New("underlying error")
	err := &WriteError{Op: "marshal", Err: underlying}

	assert.Equal(t, "output: marshal: underlying error", err.Error())
	assert.ErrorIs(t, err, underlying)
}

func TestStackRecord_OmitEmpty(t *testing.T) {
	data, err := json.Marshal(&StackRecord{ID: "arn:web", Name: "web", Status: "CREATE_COMPLETE"})
	require.NoError(t, err)

	assert.NotContains(t, string(data), "patchable")
	assert.NotContains(t, string(data), "resources")

	patchable := false
	data, err = json.Marshal(&StackRecord{Name: "web", Patchable: &patchable})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"patchable":false`)
}

func BenchmarkJSONLWriter_WritePatch(b *testing.B) {
	w := NewJSONLWriter(io.Discard, "job-123", "aws")
	rec := &PatchRecord{
		PatchID:         "p-1",
		Stack:           "web",
		Resource:        "i-src",
		State:           "succeeded",
		ResultImageID:   "ami-222",
		ResultImageName: "ami-111_patched_1700000000.000002",
	}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = w.WritePatch(ctx, rec)
	}
}
