package splithttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/splitdl/internal/utils"
)

func TestProbe(t *testing.T) {
	data := testPayload(4096)
	server := newRangeServer(t, data)

	info, err := Probe(context.Background(), newTrackingDoer(), server.URL+"/files/archive.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, int64(4096), info.TotalSize)
	assert.Equal(t, "archive.tar.gz", info.FileName)
	assert.True(t, info.RangeSupported)
}

func TestProbeUsesHeadOnly(t *testing.T) {
	var mu sync.Mutex
	var methods []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		methods = append(methods, r.Method)
		mu.Unlock()
		w.Header().Set("Content-Length", "10")
	}))
	defer server.Close()

	_, err := Probe(context.Background(), newTrackingDoer(), server.URL+"/a.txt")
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{http.MethodHead}, methods)
}

func TestProbeContentDisposition(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "128")
		w.Header().Set("Content-Disposition", `attachment; filename*=UTF-8''quarterly%20report.pdf`)
	}))
	defer server.Close()

	info, err := Probe(context.Background(), newTrackingDoer(), server.URL+"/download")
	require.NoError(t, err)
	assert.Equal(t, "quarterly report.pdf", info.FileName)
	assert.False(t, info.RangeSupported)
}

func TestProbeMissingContentLength(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	_, err := Probe(context.Background(), newTrackingDoer(), server.URL+"/file.bin")
	require.ErrorIs(t, err, ErrUnreachableResource)
}

func TestProbeErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	_, err := Probe(context.Background(), newTrackingDoer(), server.URL+"/file.bin")
	require.ErrorIs(t, err, ErrUnreachableResource)
}

func TestProbeNoFileName(t *testing.T) {
	server := newRangeServer(t, testPayload(64))
	for _, path := range []string{"/download", "/dir/", ""} {
		_, err := Probe(context.Background(), newTrackingDoer(), server.URL+path)
		assert.ErrorIs(t, err, ErrNoFileName, "path %q", path)
	}
}

func TestValidateJob(t *testing.T) {
	d := NewHTTPDownloader(afero.NewMemMapFs())
	assert.NoError(t, d.ValidateJob(&utils.SplitJob{URL: "https://example.com/a.zip", Segments: 4}))
	assert.Error(t, d.ValidateJob(&utils.SplitJob{URL: "ftp://example.com/a.zip", Segments: 4}))
	assert.Error(t, d.ValidateJob(&utils.SplitJob{URL: "https://example.com/a.zip", Segments: 0}))
}

func newTestJob(url, dir string, segments int) *utils.SplitJob {
	return &utils.SplitJob{
		JobType:   "http",
		URL:       url,
		OutputDir: dir,
		Segments:  segments,
		Metadata:  make(map[string]any),
		SegmentConfig: utils.SegmentConfig{
			ChunkSize:    128,
			BatchChunks:  4,
			PollInterval: 5 * time.Millisecond,
		},
	}
}

func TestHTTPDownloaderEndToEnd(t *testing.T) {
	data := testPayload(50_000)
	server := newRangeServer(t, data)
	fs := afero.NewMemMapFs()
	d := NewHTTPDownloader(fs)

	job := newTestJob(server.URL+"/media/video.mp4", "downloads", 5)
	var lastDownloaded, lastTotal int64
	job.ProgressFunc = func(downloaded, total int64) {
		assert.GreaterOrEqual(t, downloaded, lastDownloaded)
		lastDownloaded, lastTotal = downloaded, total
	}

	require.NoError(t, d.ValidateJob(job))
	require.NoError(t, d.BuildJob(context.Background(), job))
	assert.Equal(t, filepath.Join("downloads", "video.mp4"), job.OutputPath)

	require.NoError(t, d.Download(context.Background(), job))
	got, err := afero.ReadFile(fs, job.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, int64(len(data)), lastDownloaded)
	assert.Equal(t, int64(len(data)), lastTotal)
	assert.NotEmpty(t, job.Metadata["sessionID"])
	assert.IsType(t, time.Duration(0), job.Metadata["totalTime"])
}

func TestBuildJobRenamesExistingFile(t *testing.T) {
	server := newRangeServer(t, testPayload(1000))
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, filepath.Join("out", "name.ext"), []byte("keep me"), 0644))

	job := newTestJob(server.URL+"/name.ext", "out", 2)
	require.NoError(t, NewHTTPDownloader(fs).BuildJob(context.Background(), job))
	assert.Equal(t, filepath.Join("out", "name (1).ext"), job.OutputPath)

	original, err := afero.ReadFile(fs, filepath.Join("out", "name.ext"))
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(original))
	info, err := fs.Stat(job.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), info.Size())
}

func TestBuildJobProbeFailureCreatesNothing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	fs := afero.NewMemMapFs()

	job := newTestJob(server.URL+"/file.bin", "out", 2)
	err := NewHTTPDownloader(fs).BuildJob(context.Background(), job)
	require.ErrorIs(t, err, ErrUnreachableResource)
	exists, err := afero.Exists(fs, "out")
	require.NoError(t, err)
	assert.False(t, exists)
}
