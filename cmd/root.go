package cmd

import (
	"context"
	"fmt"
	"io"
	u "net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/tanq16/splitdl/internal/output"
	"github.com/tanq16/splitdl/internal/scheduler"
	"github.com/tanq16/splitdl/internal/utils"
)

var (
	segments      int
	workers       int
	timeout       time.Duration
	kaTimeout     time.Duration
	userAgent     string
	proxyURL      string
	proxyUsername string
	proxyPassword string
	headers       []string
	chunkSize     int
	batchChunks   int
	rateLimit     int64
	pollInterval  time.Duration
	debug         bool
	logFile       string
)

var (
	globalHTTPConfig    utils.HTTPClientConfig
	globalSegmentConfig utils.SegmentConfig
	logCloser           io.Closer
)

var SplitdlVersion = "dev"

var rootCmd = &cobra.Command{
	Use:           "splitdl [URL]",
	Short:         "splitdl downloads a file over several parallel byte-range connections",
	Version:       SplitdlVersion,
	Args:          cobra.MaximumNArgs(1),
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setupLogging(); err != nil {
			return err
		}
		return buildGlobalConfig()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			cmd.Help()
			return
		}
		runJobs([]utils.SplitJob{newHTTPJob(args[0], outputDir, segments)})
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		output.PrintError(fmt.Sprintf("Error: %v", err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&segments, "segments", "s", utils.DefaultSegments, "Number of byte-range segments downloaded in parallel")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", 1, "Number of files to download in parallel")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", time.Minute, "Connect and response-header timeout (eg. 5s, 2m)")
	rootCmd.PersistentFlags().DurationVarP(&kaTimeout, "keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for idle connections")
	rootCmd.PersistentFlags().StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent ('randomize' picks a browser agent)")
	rootCmd.PersistentFlags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	rootCmd.PersistentFlags().StringVar(&proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	rootCmd.PersistentFlags().StringVar(&proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	rootCmd.PersistentFlags().StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Referer: https://example.com'); can be repeated")
	rootCmd.PersistentFlags().IntVar(&chunkSize, "chunk-size", utils.DefaultChunkSize, "Bytes read from the connection per chunk")
	rootCmd.PersistentFlags().IntVar(&batchChunks, "batch-chunks", utils.DefaultBatchChunks, "Chunks buffered in memory before each disk write")
	rootCmd.PersistentFlags().Int64Var(&rateLimit, "limit", 0, "Bandwidth limit in bytes per second across all segments of a file (0 = unlimited)")
	rootCmd.PersistentFlags().DurationVar(&pollInterval, "poll-interval", utils.DefaultPollInterval, "How often segment progress is aggregated")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging (written to the log file)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to this file (defaults to "+utils.LogFile+" with --debug)")
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", "", "Destination directory (defaults to the current directory)")

	rootCmd.AddCommand(newHTTPCmd())
	rootCmd.AddCommand(newBatchCmd())
}

func setupLogging() error {
	path := logFile
	if path == "" && debug {
		path = utils.LogFile
	}
	if path == "" {
		output.InitLogger(false, io.Discard)
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("error opening log file: %w", err)
	}
	logCloser = f
	output.InitLogger(debug, f)
	return nil
}

func buildGlobalConfig() error {
	if segments < 1 {
		return fmt.Errorf("--segments must be at least 1")
	}
	if chunkSize < 1 || batchChunks < 1 {
		return fmt.Errorf("--chunk-size and --batch-chunks must be positive")
	}
	if userAgent == "randomize" {
		userAgent = utils.GetRandomUserAgent()
	}
	// credentials embedded in the proxy URL win over empty flags
	parsedProxy, err := u.Parse(proxyURL)
	if err == nil && parsedProxy.User != nil && proxyUsername == "" {
		proxyUsername = parsedProxy.User.Username()
		if password, set := parsedProxy.User.Password(); set {
			proxyPassword = password
		}
		parsedProxy.User = nil
		proxyURL = parsedProxy.String()
	}
	globalHTTPConfig = utils.HTTPClientConfig{
		Timeout:       timeout,
		KATimeout:     kaTimeout,
		ProxyURL:      proxyURL,
		ProxyUsername: proxyUsername,
		ProxyPassword: proxyPassword,
		UserAgent:     userAgent,
		Headers:       utils.ParseHeaderArgs(headers),
	}
	globalSegmentConfig = utils.SegmentConfig{
		ChunkSize:    chunkSize,
		BatchChunks:  batchChunks,
		PollInterval: pollInterval,
		RateLimit:    rateLimit,
	}
	return nil
}

func newHTTPJob(url, dir string, segmentCount int) utils.SplitJob {
	return utils.SplitJob{
		JobType:          "http",
		URL:              url,
		OutputDir:        dir,
		Segments:         segmentCount,
		HTTPClientConfig: globalHTTPConfig,
		SegmentConfig:    globalSegmentConfig,
		Metadata:         make(map[string]any),
	}
}

// runJobs runs jobs until they finish or the process is interrupted; an
// interrupt cancels every running session and waits for its segments to stop.
func runJobs(jobs []utils.SplitJob) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outputMgr := output.NewManager()
	outputMgr.StartDisplay()
	unfinished := scheduler.Run(ctx, jobs, workers, scheduler.NewRegistry(afero.NewOsFs()), outputMgr)
	outputMgr.StopDisplay()
	if unfinished > 0 {
		if logCloser != nil {
			logCloser.Close()
		}
		os.Exit(1)
	}
}
