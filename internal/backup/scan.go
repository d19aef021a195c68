package backup

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"backo/internal/model"

	"go.uber.org/zap"
)

type FileEntry struct {
	RelPath string
	Size    int64
	Mode    os.FileMode
	ModTime time.Time
}

// ScanTree walks the source tree and collects every regular file with its
// size and modification time. Failure to enumerate the tree aborts the
// scan; failure to stat an individual file only skips that entry.
func ScanTree(ctx context.Context, root string, log *zap.Logger) ([]FileEntry, int64, error) {
	var entries []FileEntry
	var totalSize int64

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			log.Warn("failed to stat file, skipping",
				zap.String("file", path),
				zap.Error(err))
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		entries = append(entries, FileEntry{
			RelPath: rel,
			Size:    info.Size(),
			Mode:    info.Mode(),
			ModTime: info.ModTime(),
		})
		totalSize += info.Size()
		return nil
	})

	if err != nil {
		return nil, 0, fmt.Errorf("failed to map source tree %s: %w", root, err)
	}

	return entries, totalSize, nil
}

// NeedsCopy decides whether a source entry must be copied. Full jobs
// always copy. Incremental jobs copy when the destination is missing or
// strictly older than the source; a destination stat error also copies,
// favoring completeness over efficiency.
func NeedsCopy(jobType model.JobType, entry FileEntry, dstPath string) bool {
	if jobType == model.JobTypeFull {
		return true
	}

	info, err := os.Stat(dstPath)
	if err != nil {
		return true
	}

	return entry.ModTime.After(info.ModTime())
}
