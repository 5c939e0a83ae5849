package splithttp

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
)

var (
	ErrUnreachableResource = errors.New("resource unreachable")
	ErrNoFileName          = errors.New("no file name could be derived")
	ErrFileSystem          = errors.New("file system error")
	ErrTransport           = errors.New("transport error")
	ErrInvalidSegments     = errors.New("invalid segment layout")
)

// DownloadRequest is immutable once handed to the coordinator.
type DownloadRequest struct {
	URL            string
	DestinationDir string
	SegmentCount   int
}

type ResourceInfo struct {
	TotalSize      int64
	FileName       string
	RangeSupported bool
}

// Segment is the half-open byte range [Start, End) owned by one fetcher.
// Only that fetcher advances the flushed counter; anyone may read it.
type Segment struct {
	Index   int
	Start   int64
	End     int64
	flushed atomic.Int64
	done    atomic.Bool
}

func (s *Segment) Length() int64 {
	return s.End - s.Start
}

func (s *Segment) Flushed() int64 {
	return s.flushed.Load()
}

// Progress is the segment completion percentage in [0, 100]. It only reads
// exactly 100 once every byte of the range has been written.
func (s *Segment) Progress() float64 {
	if s.done.Load() {
		return 100
	}
	length := s.Length()
	if length <= 0 {
		return 0
	}
	return math.Min(float64(s.flushed.Load())/float64(length)*100, 100)
}

// SegmentError ties a fetch failure to the segment it happened on.
type SegmentError struct {
	Index int
	Err   error
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("segment %d: %v", e.Index, e.Err)
}

func (e *SegmentError) Unwrap() error {
	return e.Err
}

type EventKind int

const (
	EventProgress EventKind = iota
	EventCompleted
	EventCancelled
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventCompleted:
		return "completed"
	case EventCancelled:
		return "cancelled"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is one entry of a session's progress stream. Every kind except
// EventProgress is terminal and is the last value sent before the stream closes.
type Event struct {
	Kind       EventKind
	Percent    float64
	Downloaded int64
	Total      int64
	Err        error // set for EventFailed
}

func (e Event) Terminal() bool {
	return e.Kind != EventProgress
}
