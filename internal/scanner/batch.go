package scanner

import (
	"strings"

	"github.com/sirupsen/logrus"

	"nextgen-optimizer/internal/codec"
	"nextgen-optimizer/internal/converter"
	"nextgen-optimizer/internal/library"
)

// RecordOutcome describes what happened to one record during a batch run.
type RecordOutcome struct {
	ID        string            `json:"id"`
	Converted bool              `json:"converted"`
	Details   map[string]string `json:"details"`
}

// BatchResult is the outcome of one ConvertBatch invocation.
type BatchResult struct {
	Results   []RecordOutcome `json:"results"`
	Converted int             `json:"converted"`
	Errors    int             `json:"errors"`
	Remaining int             `json:"remaining"`
}

// ConvertBatch takes the first batchSize IDs off the pending queue, converts
// each record and returns the outcome plus the queue that is left. Records
// whose files dropped below the thresholds since the scan are skipped, not
// failed; records that vanished from the library count as errors. Re-running
// a batch over already converted records is harmless, existing derived files
// are left untouched.
func (s *Scanner) ConvertBatch(pending []string, batchSize int) (*BatchResult, []string) {
	if batchSize <= 0 {
		batchSize = s.cfg.Performance.BatchSize
	}
	if batchSize > len(pending) {
		batchSize = len(pending)
	}

	take := pending[:batchSize]
	remaining := pending[batchSize:]
	formats := codec.FormatsFor(s.cfg.Conversion.OutputFormat)

	result := &BatchResult{Remaining: len(remaining)}

	for _, id := range take {
		rec, err := s.lib.Get(id)
		if err != nil || rec == nil {
			result.Errors++
			s.stats.IncrementErrors()
			result.Results = append(result.Results, RecordOutcome{
				ID:      id,
				Details: map[string]string{"record": "error: no longer exists"},
			})
			continue
		}

		rr := s.conv.ConvertRecord(rec, formats)
		outcome := RecordOutcome{ID: id, Converted: rr.Converted, Details: rr.Details}
		result.Results = append(result.Results, outcome)

		if rr.Converted {
			result.Converted++
			s.stats.IncrementConvertedImages()
			s.tallyConvertedFiles(rec, rr.Details, formats)
		}
		for _, detail := range rr.Details {
			if strings.HasPrefix(detail, "error:") {
				result.Errors++
				s.stats.IncrementErrors()
				break
			}
		}
	}

	s.log.WithFields(logrus.Fields{
		"processed": len(take),
		"converted": result.Converted,
		"errors":    result.Errors,
		"remaining": result.Remaining,
	}).Info("Conversion batch finished")

	return result, remaining
}

// tallyConvertedFiles updates the running file and space-saved counters for
// every file the batch newly finished. A file counts once it has all its
// formats on disk with at least one produced by this run, matching how a
// scan counts converted files.
func (s *Scanner) tallyConvertedFiles(rec *library.ImageRecord, details map[string]string, formats []codec.Format) {
	for size, path := range converter.AllFilePaths(rec, s.cfg.Conversion) {
		newlyConverted, complete := false, true
		for _, f := range formats {
			switch details[size+"_"+string(f)] {
			case "converted":
				newlyConverted = true
			case "already exists":
			default:
				complete = false
			}
		}
		if !newlyConverted || !complete {
			continue
		}

		s.stats.IncrementConvertedFiles()
		s.stats.AddSpaceSaved(savedBytes(path, formats))
	}
}
