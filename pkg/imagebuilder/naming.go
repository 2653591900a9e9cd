package imagebuilder

import (
	"fmt"
	"sync"
	"time"
)

// Image name infixes. Produced names are "<baseImageID><infix><timestamp>".
const (
	PatchingInfix = "_patching_"
	PatchedInfix  = "_patched_"
)

// PatchingName names the snapshot taken before patching.
func PatchingName(baseImageID, timestamp string) string {
	return baseImageID + PatchingInfix + timestamp
}

// PatchedName names the snapshot taken after a successful patch.
func PatchedName(baseImageID, timestamp string) string {
	return baseImageID + PatchedInfix + timestamp
}

// Stamper produces image name timestamps. Successive values must differ.
type Stamper interface {
	Timestamp() string
}

// Clock produces epoch timestamps formatted as "<seconds>.<microseconds>".
//
// Values are strictly increasing per Clock: when the wall clock has not
// advanced by a full microsecond since the previous call, the previous
// value plus one microsecond is used instead. Clock is safe for
// concurrent use.
type Clock struct {
	now func() time.Time

	mu   sync.Mutex
	last int64
}

// NewClock returns a Clock reading the wall clock.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// Timestamp returns the next timestamp.
func (c *Clock) Timestamp() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now
	if c.now != nil {
		now = c.now
	}
	micros := now().UnixMicro()
	if micros <= c.last {
		micros = c.last + 1
	}
	c.last = micros
	return fmt.Sprintf("%d.%06d", micros/1_000_000, micros%1_000_000)
}

// defaultClock is shared so that builders in one process never reuse a timestamp.
var defaultClock = NewClock()
