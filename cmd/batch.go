package cmd

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/tanq16/splitdl/internal/output"
	"github.com/tanq16/splitdl/internal/utils"
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE] [OPTIONS]",
		Short: "Process multiple downloads from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := utils.ReadBatchFile(afero.NewOsFs(), args[0])
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				return fmt.Errorf("no valid jobs found in %s", args[0])
			}
			runJobs(buildJobsFromBatch(entries))
			return nil
		},
	}
	return cmd
}

// buildJobsFromBatch keeps the total number of open connections within
// MaxTotalSegments unless an entry asks for its own segment count.
func buildJobsFromBatch(entries []utils.BatchEntry) []utils.SplitJob {
	perJob := utils.SegmentsPerJob(segments, workers)
	if perJob != segments {
		output.PrintWarning(fmt.Sprintf("Using %d segments per file to keep %d workers under %d connections", perJob, workers, utils.MaxTotalSegments))
	}
	jobs := make([]utils.SplitJob, 0, len(entries))
	for _, entry := range entries {
		count := perJob
		if entry.Segments > 0 {
			count = entry.Segments
		}
		jobs = append(jobs, newHTTPJob(entry.Link, entry.OutputDir, count))
	}
	return jobs
}
