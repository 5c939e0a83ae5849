package splithttp

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/tanq16/splitdl/internal/utils"
)

var filenameRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-\. ]+`)

// HTTPDownloader drives a job through probe, preallocation and a segmented
// download session.
type HTTPDownloader struct {
	fs afero.Fs
}

func NewHTTPDownloader(fs afero.Fs) *HTTPDownloader {
	return &HTTPDownloader{fs: fs}
}

func (d *HTTPDownloader) ValidateJob(job *utils.SplitJob) error {
	parsedURL, err := url.Parse(job.URL)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", parsedURL.Scheme)
	}
	if job.Segments < 1 {
		return fmt.Errorf("segment count must be at least 1, got %d", job.Segments)
	}
	return nil
}

func (d *HTTPDownloader) BuildJob(ctx context.Context, job *utils.SplitJob) error {
	job.HTTPClientConfig.HighThreadMode = job.Segments > 5
	client := utils.NewSplitHTTPClient(job.HTTPClientConfig)

	info, err := Probe(ctx, client, job.URL)
	if err != nil {
		return err
	}
	if !info.RangeSupported && job.Segments > 1 {
		log.Warn().Str("op", "http/initial").Str("url", job.URL).Msg("Server did not advertise byte ranges")
	}

	dir := job.OutputDir
	if dir == "" {
		dir = "."
	}
	if err := d.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: creating %s: %w", ErrFileSystem, dir, err)
	}
	candidate := filepath.Join(dir, info.FileName)
	var target string
	// another job may claim the same name between the check and the create
	for attempt := 0; ; attempt++ {
		target, err = utils.RenewOutputPath(d.fs, candidate)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrFileSystem, err)
		}
		err = Preallocate(d.fs, target, info.TotalSize)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) || attempt >= 5 {
			return err
		}
	}
	if target != candidate {
		log.Warn().Str("op", "http/initial").Str("existing", candidate).Str("target", target).Msg("File exists, saving under a new name")
	}

	job.OutputPath = target
	job.Metadata["resourceInfo"] = info
	return nil
}

func (d *HTTPDownloader) Download(ctx context.Context, job *utils.SplitJob) error {
	info, ok := job.Metadata["resourceInfo"].(ResourceInfo)
	if !ok {
		return fmt.Errorf("job for %s was not built", job.URL)
	}
	client := utils.NewSplitHTTPClient(job.HTTPClientConfig)
	coordinator := NewCoordinator(client, d.fs, job.SegmentConfig)
	req := DownloadRequest{
		URL:            job.URL,
		DestinationDir: job.OutputDir,
		SegmentCount:   job.Segments,
	}

	startTime := time.Now()
	session, err := coordinator.Start(ctx, req, info, job.OutputPath)
	if err != nil {
		return err
	}
	job.Metadata["sessionID"] = session.ID
	for ev := range session.Events() {
		if job.ProgressFunc != nil {
			job.ProgressFunc(ev.Downloaded, ev.Total)
		}
	}
	job.Metadata["totalTime"] = time.Since(startTime)
	return session.Err()
}

// Probe asks the server for the resource size and a local file name without
// fetching the body.
func Probe(ctx context.Context, client utils.HTTPDoer, link string) (ResourceInfo, error) {
	parsedURL, err := url.Parse(link)
	if err != nil {
		return ResourceInfo{}, fmt.Errorf("%w: invalid URL: %w", ErrUnreachableResource, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, link, nil)
	if err != nil {
		return ResourceInfo{}, fmt.Errorf("%w: %w", ErrUnreachableResource, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return ResourceInfo{}, fmt.Errorf("%w: %w", ErrUnreachableResource, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ResourceInfo{}, fmt.Errorf("%w: server returned status %d", ErrUnreachableResource, resp.StatusCode)
	}
	if resp.ContentLength < 0 {
		return ResourceInfo{}, fmt.Errorf("%w: server didn't provide Content-Length header", ErrUnreachableResource)
	}

	fileName := fileNameFromDisposition(resp.Header.Get("Content-Disposition"))
	if fileName == "" {
		fileName = fileNameFromPath(parsedURL.Path)
	}
	if !hasExtension(fileName) {
		return ResourceInfo{}, fmt.Errorf("%w: %q", ErrNoFileName, link)
	}
	return ResourceInfo{
		TotalSize:      resp.ContentLength,
		FileName:       fileName,
		RangeSupported: resp.Header.Get("Accept-Ranges") == "bytes",
	}, nil
}

func fileNameFromDisposition(contentDisposition string) string {
	if contentDisposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentDisposition)
	if err != nil {
		return ""
	}
	// mime decodes RFC 2231 filename* into filename
	if fn, ok := params["filename"]; ok && fn != "" {
		return filenameRegex.ReplaceAllString(path.Base(fn), "_")
	}
	return ""
}

func fileNameFromPath(urlPath string) string {
	if urlPath == "" || strings.HasSuffix(urlPath, "/") {
		return ""
	}
	return filenameRegex.ReplaceAllString(path.Base(urlPath), "_")
}

func hasExtension(fileName string) bool {
	return len(filepath.Ext(fileName)) > 1
}
