package splithttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/tanq16/splitdl/internal/utils"
	"golang.org/x/time/rate"
)

// PlanSegments splits [0, total) into count contiguous ranges of total/count
// bytes. The last range absorbs the division remainder. More segments than
// bytes are capped so that no range is empty.
func PlanSegments(total int64, count int) ([]*Segment, error) {
	if total <= 0 {
		return nil, fmt.Errorf("%w: total size %d", ErrInvalidSegments, total)
	}
	if count < 1 {
		return nil, fmt.Errorf("%w: segment count %d", ErrInvalidSegments, count)
	}
	if int64(count) > total {
		count = int(total)
	}
	rangeSize := total / int64(count)
	segments := make([]*Segment, count)
	for t := range count {
		segments[t] = &Segment{
			Index: t,
			Start: int64(t) * rangeSize,
			End:   int64(t+1) * rangeSize,
		}
	}
	segments[count-1].End = total
	return segments, nil
}

type segmentFetcher struct {
	client      utils.HTTPDoer
	fs          afero.Fs
	url         string
	target      string
	total       int64
	chunkSize   int
	batchChunks int
	limiter     *rate.Limiter
}

// fetch streams one segment into its range of the target file. Chunks are
// buffered in memory and written batchChunks at a time; the segment's flushed
// counter only moves at those flush points. On cancellation the loop stops
// before the next read and drops whatever is still buffered.
func (f *segmentFetcher) fetch(ctx context.Context, seg *Segment) error {
	logger := log.With().Str("op", "http/segment").Int("segment", seg.Index).Logger()
	if err := ctx.Err(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return f.transportError(ctx, seg, err)
	}
	rangeHeader := fmt.Sprintf("bytes=%d-%d", seg.Start, seg.End-1)
	req.Header.Set("Range", rangeHeader)
	req.Header.Set("Connection", "keep-alive")
	logger.Debug().Str("range", rangeHeader).Msg("Sending range request")
	resp, err := f.client.Do(req)
	if err != nil {
		return f.transportError(ctx, seg, err)
	}
	defer resp.Body.Close()

	wholeResource := seg.Start == 0 && seg.End == f.total
	if resp.StatusCode != http.StatusPartialContent && !(wholeResource && resp.StatusCode == http.StatusOK) {
		return f.transportError(ctx, seg, fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}
	if resp.StatusCode == http.StatusPartialContent {
		if err := f.checkContentRange(resp.Header.Get("Content-Range"), seg); err != nil {
			return &SegmentError{Index: seg.Index, Err: fmt.Errorf("%w: %w", ErrTransport, err)}
		}
	}

	file, err := f.fs.OpenFile(f.target, os.O_WRONLY, 0)
	if err != nil {
		return &SegmentError{Index: seg.Index, Err: fmt.Errorf("%w: %w", ErrFileSystem, err)}
	}
	defer file.Close()

	body := io.LimitReader(resp.Body, seg.Length())
	buffer := make([]byte, f.chunkSize*f.batchChunks)
	buffered, chunks := 0, 0
	cursor := seg.Start

	flush := func() error {
		if buffered == 0 {
			return nil
		}
		if _, err := file.WriteAt(buffer[:buffered], cursor); err != nil {
			return &SegmentError{Index: seg.Index, Err: fmt.Errorf("%w: %w", ErrFileSystem, err)}
		}
		cursor += int64(buffered)
		seg.flushed.Add(int64(buffered))
		buffered = 0
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			logger.Debug().Int("discarded", buffered).Msg("Segment cancelled")
			return err
		}
		if f.limiter != nil {
			if err := f.limiter.WaitN(ctx, f.chunkSize); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &SegmentError{Index: seg.Index, Err: err}
			}
		}
		n, readErr := io.ReadFull(body, buffer[buffered:buffered+f.chunkSize])
		buffered += n
		if n > 0 {
			chunks++
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return f.transportError(ctx, seg, readErr)
		}
		if chunks%f.batchChunks == 0 {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	if cursor != seg.End {
		return f.transportError(ctx, seg, fmt.Errorf("body ended after %d of %d bytes: %w", cursor-seg.Start, seg.Length(), io.ErrUnexpectedEOF))
	}
	seg.done.Store(true)
	logger.Debug().Int64("bytes", seg.Length()).Int("chunks", chunks).Msg("Segment completed")
	return nil
}

// transportError reports cancellation as such even when it surfaces as a
// failed read or request.
func (f *segmentFetcher) transportError(ctx context.Context, seg *Segment, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &SegmentError{Index: seg.Index, Err: fmt.Errorf("%w: %w", ErrTransport, err)}
}

// checkContentRange rejects a 206 whose range differs from the one requested,
// since writing it at the segment offset would corrupt the file.
func (f *segmentFetcher) checkContentRange(header string, seg *Segment) error {
	start, end, total, err := parseContentRange(header)
	if err != nil {
		return err
	}
	if start != seg.Start || end != seg.End-1 {
		return fmt.Errorf("server sent range %d-%d, requested %d-%d", start, end, seg.Start, seg.End-1)
	}
	if total >= 0 && total != f.total {
		return fmt.Errorf("server reports size %d, expected %d", total, f.total)
	}
	return nil
}

// parseContentRange reads "bytes start-end/total"; total is -1 for "*".
func parseContentRange(header string) (start, end, total int64, err error) {
	spec, ok := strings.CutPrefix(header, "bytes ")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range: %q", header)
	}
	rng, size, ok := strings.Cut(spec, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range: %q", header)
	}
	first, last, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range: %q", header)
	}
	if start, err = strconv.ParseInt(first, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range start: %w", err)
	}
	if end, err = strconv.ParseInt(last, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range end: %w", err)
	}
	total = -1
	if size != "*" {
		if total, err = strconv.ParseInt(size, 10, 64); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid Content-Range size: %w", err)
		}
	}
	return start, end, total, nil
}
