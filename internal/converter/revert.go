package converter

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"nextgen-optimizer/internal/codec"
	"nextgen-optimizer/internal/logger"
)

// RevertResult summarizes a reversion sweep.
type RevertResult struct {
	Removed int `json:"removed"`
	Errors  int `json:"errors"`
}

// RemoveAllDerived walks root and deletes every derived file in the given
// formats whose original still exists. A derived file is recognized by its
// double extension, e.g. photo.jpg.webp, matched case-insensitively. Files
// whose original is gone are left alone: deleting them would destroy the
// only remaining copy of the image. Removal failures are counted, the sweep
// never aborts.
func RemoveAllDerived(root string, formats []codec.Format, log *logrus.Logger) RevertResult {
	var result RevertResult

	exts := make([]string, len(formats))
	for i, f := range formats {
		exts[i] = regexp.QuoteMeta(f.Extension())
	}
	pattern := regexp.MustCompile(`(?i)\.(jpg|jpeg|png)\.(` + strings.Join(exts, "|") + `)$`)

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			result.Errors++
			return nil
		}
		if info.IsDir() {
			return nil
		}

		m := pattern.FindStringSubmatch(path)
		if m == nil {
			return nil
		}

		original := path[:len(path)-len(m[2])-1]
		if _, err := os.Stat(original); err != nil {
			return nil
		}

		if err := os.Remove(path); err != nil {
			logger.WithFile(log, path).WithError(err).Warn("Failed to remove derived file")
			result.Errors++
			return nil
		}
		result.Removed++
		return nil
	})
	if err != nil {
		result.Errors++
	}

	log.WithFields(logrus.Fields{
		"removed": result.Removed,
		"errors":  result.Errors,
	}).Info("Reversion sweep finished")
	return result
}
