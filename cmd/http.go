package cmd

import (
	"github.com/spf13/cobra"
	"github.com/tanq16/splitdl/internal/utils"
)

var outputDir string

func newHTTPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "http [URL] [--output OUTPUT_DIR]",
		Short: "Download a file via HTTP/HTTPS using parallel byte ranges",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			job := newHTTPJob(args[0], outputDir, segments)
			runJobs([]utils.SplitJob{job})
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Destination directory")
	return cmd
}
