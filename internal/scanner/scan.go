// Package scanner walks the media library, classifies every image record
// against the conversion thresholds and drives batched conversions over the
// resulting pending queue.
package scanner

import (
	"os"

	"github.com/sirupsen/logrus"

	"nextgen-optimizer/internal/codec"
	"nextgen-optimizer/internal/config"
	"nextgen-optimizer/internal/converter"
	"nextgen-optimizer/internal/library"
	"nextgen-optimizer/internal/statistics"
)

// IgnoredBreakdown counts the records excluded from conversion by reason.
type IgnoredBreakdown struct {
	Total              int `json:"total"`
	TooSmallDimensions int `json:"too_small_dimensions"`
	TooSmallFilesize   int `json:"too_small_filesize"`
	Unreadable         int `json:"unreadable"`
}

// Summary is the result of one full library scan.
type Summary struct {
	TotalImages     int              `json:"total_images"`
	ConvertedImages int              `json:"converted_images"`
	PendingImages   int              `json:"pending_images"`
	Ignored         IgnoredBreakdown `json:"ignored"`
	TotalFiles      int              `json:"total_files"`
	ConvertedFiles  int              `json:"converted_files"`
	SpaceSavedMB    float64          `json:"space_saved_mb"`
}

// Scanner classifies library records and converts them in batches.
type Scanner struct {
	lib   library.Library
	cfg   *config.Config
	conv  *converter.Converter
	stats *statistics.Statistics
	log   *logrus.Logger
}

// NewScanner creates a Scanner over the given library.
func NewScanner(lib library.Library, cfg *config.Config, conv *converter.Converter, stats *statistics.Statistics, log *logrus.Logger) *Scanner {
	return &Scanner{lib: lib, cfg: cfg, conv: conv, stats: stats, log: log}
}

// Scan walks every convertible record and splits the library into converted,
// pending and ignored. A record counts as pending when at least one of its
// selected files still needs conversion, even if other files of the same
// record are already done. The ignored histogram counts individual failing
// files, so its sum always matches the number of files the thresholds
// rejected. It returns the summary and the IDs of the pending records in
// library order.
func (s *Scanner) Scan() (*Summary, []string, error) {
	records, err := s.lib.ListConvertibleImageRecords()
	if err != nil {
		return nil, nil, err
	}

	formats := codec.FormatsFor(s.cfg.Conversion.OutputFormat)
	summary := &Summary{}
	var pending []string
	var spaceSavedB int64

	for _, rec := range records {
		summary.TotalImages++

		paths := converter.AllFilePaths(rec, s.cfg.Conversion)
		if len(paths) == 0 {
			summary.Ignored.Unreadable++
			continue
		}

		hasPending, hasConverted := false, false

		for _, path := range paths {
			summary.TotalFiles++

			if derivedExists(path, formats) {
				summary.ConvertedFiles++
				spaceSavedB += savedBytes(path, formats)
				hasConverted = true
				continue
			}

			if !s.cfg.Conversion.ForceAll {
				if reason, _ := converter.CheckThresholds(path, s.cfg.Conversion); reason != converter.ReasonNone {
					s.tallyIgnored(summary, reason)
					continue
				}
			}
			hasPending = true
		}

		if hasPending {
			summary.PendingImages++
			pending = append(pending, rec.ID)
		} else if hasConverted {
			summary.ConvertedImages++
		}
	}

	summary.Ignored.Total = summary.Ignored.TooSmallDimensions +
		summary.Ignored.TooSmallFilesize + summary.Ignored.Unreadable
	summary.SpaceSavedMB = float64(spaceSavedB) / 1024 / 1024

	s.stats.SetScanResult(
		int64(summary.TotalImages),
		int64(summary.ConvertedImages),
		int64(summary.PendingImages),
		int64(summary.Ignored.TooSmallDimensions),
		int64(summary.Ignored.TooSmallFilesize),
		int64(summary.Ignored.Unreadable),
		int64(summary.TotalFiles),
		int64(summary.ConvertedFiles),
		spaceSavedB,
	)

	s.log.WithFields(logrus.Fields{
		"total":     summary.TotalImages,
		"converted": summary.ConvertedImages,
		"pending":   summary.PendingImages,
		"ignored":   summary.Ignored.Total,
	}).Info("Library scan finished")

	return summary, pending, nil
}

// tallyIgnored counts one rejected file under its reason. An unknown reason
// falls back to the unreadable bucket.
func (s *Scanner) tallyIgnored(summary *Summary, reason converter.Reason) {
	switch reason {
	case converter.ReasonTooSmallDimensions:
		summary.Ignored.TooSmallDimensions++
	case converter.ReasonTooSmallFilesize:
		summary.Ignored.TooSmallFilesize++
	default:
		summary.Ignored.Unreadable++
	}
}

// derivedExists reports whether the derived file is present for every
// requested format.
func derivedExists(src string, formats []codec.Format) bool {
	for _, f := range formats {
		if _, err := os.Stat(converter.TargetPath(src, f)); err != nil {
			return false
		}
	}
	return true
}

// savedBytes sums the size difference between the original and each of its
// derived files.
func savedBytes(src string, formats []codec.Format) int64 {
	orig, err := os.Stat(src)
	if err != nil {
		return 0
	}
	var saved int64
	for _, f := range formats {
		derived, err := os.Stat(converter.TargetPath(src, f))
		if err != nil {
			continue
		}
		saved += orig.Size() - derived.Size()
	}
	return saved
}
