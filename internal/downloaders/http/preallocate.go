package splithttp

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Preallocate creates a new file at path sized to exactly size bytes so that
// segments can write at their own offsets in any order. It never overwrites an
// existing file and leaves whatever it managed to create on failure.
func Preallocate(fs afero.Fs, path string, size int64) error {
	if size <= 0 {
		return fmt.Errorf("%w: refusing to preallocate %d bytes for %s", ErrFileSystem, size, path)
	}
	file, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("%w: creating %s: %w", ErrFileSystem, path, err)
	}
	defer file.Close()
	if err := file.Truncate(size); err != nil {
		return fmt.Errorf("%w: sizing %s: %w", ErrFileSystem, path, err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("%w: syncing %s: %w", ErrFileSystem, path, err)
	}
	log.Debug().Str("op", "http/preallocate").Str("path", path).Int64("size", size).Msg("Target file preallocated")
	return nil
}
