package backup

import (
	"fmt"
	"os"
	"path/filepath"

	"backo/internal/util"
)

// CopyFile copies one source file to dstRoot preserving the source's
// relative path, mode and modification time. The write itself goes
// through a temp file and rename so a crash mid-copy never leaves a
// half-written destination in place.
func CopyFile(srcRoot, dstRoot string, entry FileEntry) error {
	srcPath := filepath.Join(srcRoot, entry.RelPath)
	dstPath := filepath.Join(dstRoot, entry.RelPath)

	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open src: %w", err)
	}

	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	if err := util.AtomicWrite(dstPath, f); err != nil {
		return err
	}

	if err := os.Chmod(dstPath, entry.Mode.Perm()); err != nil {
		return fmt.Errorf("failed to set mode: %w", err)
	}

	if err := os.Chtimes(dstPath, entry.ModTime, entry.ModTime); err != nil {
		return fmt.Errorf("failed to set mtime: %w", err)
	}

	return nil
}

// DestinationPath mirrors the source's relative structure under dstRoot.
func DestinationPath(dstRoot string, entry FileEntry) string {
	return filepath.Join(dstRoot, entry.RelPath)
}
