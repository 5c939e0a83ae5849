package utils

import (
	"context"
	"time"
)

type Downloader interface {
	ValidateJob(job *SplitJob) error
	BuildJob(ctx context.Context, job *SplitJob) error
	Download(ctx context.Context, job *SplitJob) error
}

type SplitJob struct {
	ID               string
	JobType          string
	URL              string
	OutputDir        string
	OutputPath       string // resolved by BuildJob
	Segments         int
	ProgressFunc     func(downloaded, total int64)
	Metadata         map[string]any
	HTTPClientConfig HTTPClientConfig
	SegmentConfig    SegmentConfig
}

// SegmentConfig tunes how each segment streams its byte range to disk.
type SegmentConfig struct {
	ChunkSize    int           // bytes per body read
	BatchChunks  int           // chunks buffered before each flush
	PollInterval time.Duration // coordinator aggregation interval
	RateLimit    int64         // bytes per second across all segments, 0 disables
}

type BatchEntry struct {
	Link      string `yaml:"link"`
	OutputDir string `yaml:"dir,omitempty"`
	Segments  int    `yaml:"segments,omitempty"`
}
