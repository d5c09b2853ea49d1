// Package diskspace checks that a destination volume can hold the bytes a
// run is about to write.
package diskspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"
)

// EnsureFree verifies the volume holding path has at least required bytes
// free. The path itself may not exist yet; the nearest existing parent
// directory is measured instead.
func EnsureFree(path string, required uint64, logger *logrus.Logger) error {
	if logger == nil {
		logger = logrus.New()
	}

	dir, err := existingParent(path)
	if err != nil {
		return err
	}

	usage, err := disk.Usage(dir)
	if err != nil {
		return fmt.Errorf("reading disk usage for %s: %w", dir, err)
	}

	logger.WithFields(logrus.Fields{
		"path":     dir,
		"free":     usage.Free,
		"required": required,
	}).Debug("destination free-space preflight")

	if usage.Free < required {
		return fmt.Errorf("insufficient free space on %s: %d bytes free, %d required", dir, usage.Free, required)
	}
	return nil
}

// existingParent walks up from path until it finds a directory that exists.
func existingParent(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}

	current := filepath.Dir(abs)
	for {
		info, err := os.Stat(current)
		if err == nil {
			if !info.IsDir() {
				current = filepath.Dir(current)
				continue
			}
			return current, nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("inspecting %s: %w", current, err)
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("no existing parent for %s", path)
		}
		current = parent
	}
}
