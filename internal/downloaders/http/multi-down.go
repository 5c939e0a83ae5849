package splithttp

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/tanq16/splitdl/internal/utils"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const eventBuffer = 16

// Coordinator runs segmented download sessions against preallocated files.
type Coordinator struct {
	client utils.HTTPDoer
	fs     afero.Fs
	cfg    utils.SegmentConfig
}

func NewCoordinator(client utils.HTTPDoer, fs afero.Fs, cfg utils.SegmentConfig) *Coordinator {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = utils.DefaultChunkSize
	}
	if cfg.BatchChunks <= 0 {
		cfg.BatchChunks = utils.DefaultBatchChunks
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = utils.DefaultPollInterval
	}
	return &Coordinator{client: client, fs: fs, cfg: cfg}
}

// Session is one running download. Its event stream ends with exactly one
// terminal event, after which the channel is closed.
type Session struct {
	ID         string
	Request    DownloadRequest
	Info       ResourceInfo
	TargetPath string
	Segments   []*Segment

	parent    context.Context
	events    chan Event
	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}
	result    Event
	log       zerolog.Logger
}

// Start splits the resource into segments, launches one fetcher per segment
// and begins polling their progress. The target file must already exist with
// the resource's full size.
func (c *Coordinator) Start(ctx context.Context, req DownloadRequest, info ResourceInfo, targetPath string) (*Session, error) {
	segments, err := PlanSegments(info.TotalSize, req.SegmentCount)
	if err != nil {
		return nil, err
	}
	if len(segments) < req.SegmentCount {
		log.Warn().Str("op", "http/coordinator").Int("requested", req.SegmentCount).Int("used", len(segments)).Msg("Segment count capped at resource size")
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	id := uuid.New().String()
	s := &Session{
		ID:         id,
		Request:    req,
		Info:       info,
		TargetPath: targetPath,
		Segments:   segments,
		parent:     ctx,
		events:     make(chan Event, eventBuffer),
		cancel:     cancel,
		done:       make(chan struct{}),
		log:        log.With().Str("op", "http/coordinator").Str("session", id).Logger(),
	}

	fetcher := &segmentFetcher{
		client:      c.client,
		fs:          c.fs,
		url:         req.URL,
		target:      targetPath,
		total:       info.TotalSize,
		chunkSize:   c.cfg.ChunkSize,
		batchChunks: c.cfg.BatchChunks,
	}
	if c.cfg.RateLimit > 0 {
		burst := max(int(c.cfg.RateLimit), c.cfg.ChunkSize)
		fetcher.limiter = rate.NewLimiter(rate.Limit(c.cfg.RateLimit), burst)
	}

	s.log.Info().Str("target", filepath.Base(targetPath)).Int64("size", info.TotalSize).Int("segments", len(segments)).Msg("Starting segmented download")
	group, groupCtx := errgroup.WithContext(sessionCtx)
	for _, seg := range segments {
		group.Go(func() error {
			return fetcher.fetch(groupCtx, seg)
		})
	}
	go s.supervise(group, c.cfg.PollInterval)
	return s, nil
}

func (s *Session) supervise(group *errgroup.Group, interval time.Duration) {
	waitCh := make(chan error, 1)
	go func() {
		waitCh <- group.Wait()
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var err error
poll:
	for {
		select {
		case <-ticker.C:
			s.emit(s.snapshot(EventProgress))
		case err = <-waitCh:
			break poll
		}
	}
	s.cancel()

	s.result = s.snapshot(s.classify(err))
	switch s.result.Kind {
	case EventCompleted:
		s.result.Percent = 100
		s.log.Info().Msg("Download completed")
	case EventCancelled:
		s.log.Info().Float64("percent", s.result.Percent).Msg("Download cancelled")
	default:
		s.result.Err = err
		s.log.Error().Err(err).Msg("Download failed")
	}
	s.events <- s.result
	close(s.events)
	close(s.done)
}

// classify maps the fetcher group's result to a terminal kind. A segment
// error always means Failed, even when Cancel arrived right after it; network
// timeouts match context.DeadlineExceeded under errors.Is, so only the
// session's own cancel flag or a done parent context count as cancellation.
func (s *Session) classify(err error) EventKind {
	var segErr *SegmentError
	switch {
	case err == nil:
		return EventCompleted
	case errors.As(err, &segErr):
		return EventFailed
	case s.cancelled.Load() || s.parent.Err() != nil:
		return EventCancelled
	default:
		return EventFailed
	}
}

// emit never blocks: a lagging consumer misses intermediate progress, and one
// slot is always left free for the terminal event.
func (s *Session) emit(ev Event) {
	if len(s.events) < cap(s.events)-1 {
		s.events <- ev
	}
}

func (s *Session) snapshot(kind EventKind) Event {
	var sum float64
	var downloaded int64
	for _, seg := range s.Segments {
		sum += seg.Progress()
		downloaded += seg.Flushed()
	}
	return Event{
		Kind:       kind,
		Percent:    sum / float64(len(s.Segments)),
		Downloaded: downloaded,
		Total:      s.Info.TotalSize,
	}
}

func (s *Session) Events() <-chan Event {
	return s.events
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Cancel stops every fetcher and returns once all of them have exited.
// Calling it again, or after the session finished, does nothing.
func (s *Session) Cancel() {
	select {
	case <-s.done:
		return
	default:
	}
	s.cancelled.Store(true)
	s.cancel()
	<-s.done
}

// Wait blocks until the session reaches a terminal state and returns it.
func (s *Session) Wait() Event {
	<-s.done
	return s.result
}

// Err maps the terminal event to an error; nil only for a completed session.
func (s *Session) Err() error {
	ev := s.Wait()
	switch ev.Kind {
	case EventCompleted:
		return nil
	case EventCancelled:
		return context.Canceled
	default:
		return fmt.Errorf("download of %s failed: %w", s.Request.URL, ev.Err)
	}
}
