package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

func GetRandomUserAgent() string {
	return userAgents[time.Now().UnixNano()%int64(len(userAgents))]
}

// RenewOutputPath returns outputPath unchanged when nothing exists there,
// otherwise the first free "name (n).ext" sibling.
func RenewOutputPath(fs afero.Fs, outputPath string) (string, error) {
	if _, err := fs.Stat(outputPath); os.IsNotExist(err) {
		return outputPath, nil
	} else if err != nil {
		return "", err
	}
	dir := filepath.Dir(outputPath)
	base := filepath.Base(outputPath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	for index := 1; ; index++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", name, index, ext))
		_, err := fs.Stat(candidate)
		if os.IsNotExist(err) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
	}
}

func ParseHeaderArgs(headers []string) map[string]string {
	result := make(map[string]string)
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			result[key] = value
		}
	}
	return result
}

// SegmentsPerJob keeps workers*segments under MaxTotalSegments when several
// downloads run in parallel.
func SegmentsPerJob(segments, workers int) int {
	if workers > 1 && workers*segments > MaxTotalSegments {
		return max(MaxTotalSegments/workers, 1)
	}
	return segments
}

func ReadBatchFile(fs afero.Fs, path string) ([]BatchEntry, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("error reading batch file: %w", err)
	}
	var entries []BatchEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("error parsing batch file: %w", err)
	}
	valid := entries[:0]
	for _, entry := range entries {
		if strings.TrimSpace(entry.Link) == "" {
			continue
		}
		valid = append(valid, entry)
	}
	return valid, nil
}
