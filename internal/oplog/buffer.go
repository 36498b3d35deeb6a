package oplog

import (
	"sync"
	"time"
)

const (
	severityInfoStringConstant    = "info"
	severitySuccessStringConstant = "success"
	severityErrorStringConstant   = "error"
	defaultCapacityConstant       = 500
)

// Severity grades an operation record.
type Severity string

// Supported record severities.
const (
	SeverityInfo    Severity = Severity(severityInfoStringConstant)
	SeveritySuccess Severity = Severity(severitySuccessStringConstant)
	SeverityError   Severity = Severity(severityErrorStringConstant)
)

// Record is a single timestamped entry in the operational log.
type Record struct {
	Sequence  uint64
	Timestamp time.Time
	Severity  Severity
	Message   string
}

// Clock abstracts time acquisition for deterministic testing.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using the system time source.
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Buffer is a bounded, thread-safe, append-only ring of operation records.
// When the buffer is full the oldest record is evicted.
type Buffer struct {
	mutex        sync.Mutex
	records      []Record
	capacity     int
	nextSequence uint64
	clock        Clock
}

// NewBuffer constructs a Buffer with the requested capacity. Non-positive
// capacities fall back to the default.
func NewBuffer(capacity int) *Buffer {
	return NewBufferWithClock(capacity, SystemClock{})
}

// NewBufferWithClock constructs a Buffer using the supplied clock.
func NewBufferWithClock(capacity int, clock Clock) *Buffer {
	if capacity <= 0 {
		capacity = defaultCapacityConstant
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Buffer{
		records:  make([]Record, 0, capacity),
		capacity: capacity,
		clock:    clock,
	}
}

// Append adds a record with the next sequence number, evicting the oldest
// record when the buffer is at capacity.
func (buffer *Buffer) Append(severity Severity, message string) Record {
	buffer.mutex.Lock()
	defer buffer.mutex.Unlock()

	buffer.nextSequence++
	appendedRecord := Record{
		Sequence:  buffer.nextSequence,
		Timestamp: buffer.clock.Now(),
		Severity:  severity,
		Message:   message,
	}

	if len(buffer.records) == buffer.capacity {
		copy(buffer.records, buffer.records[1:])
		buffer.records[len(buffer.records)-1] = appendedRecord
		return appendedRecord
	}

	buffer.records = append(buffer.records, appendedRecord)
	return appendedRecord
}

// Recent returns up to limit of the newest records in chronological order.
// A non-positive limit returns every retained record.
func (buffer *Buffer) Recent(limit int) []Record {
	buffer.mutex.Lock()
	defer buffer.mutex.Unlock()

	retainedCount := len(buffer.records)
	if limit <= 0 || limit > retainedCount {
		limit = retainedCount
	}

	recentRecords := make([]Record, limit)
	copy(recentRecords, buffer.records[retainedCount-limit:])
	return recentRecords
}

// Len reports the number of retained records.
func (buffer *Buffer) Len() int {
	buffer.mutex.Lock()
	defer buffer.mutex.Unlock()
	return len(buffer.records)
}
