package statistics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Statistics contains all counters of the optimization state. Scan runs
// overwrite the snapshot counters, conversion runs increment the running
// counters, and a reversion sweep resets everything.
type Statistics struct {
	TotalImages     int64
	ConvertedImages int64
	PendingImages   int64

	IgnoredImages         int64
	IgnoredSmallDimension int64
	IgnoredSmallFilesize  int64
	IgnoredUnreadable     int64

	TotalFiles     int64
	ConvertedFiles int64
	SpaceSavedB    int64

	ErrorsTotal int64

	mutex         sync.RWMutex
	lastScan      time.Time
	lastConverted time.Time
}

// NewStatistics returns a zeroed Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{}
}

// IncrementConvertedImages increases the count of converted image records by 1.
func (s *Statistics) IncrementConvertedImages() {
	atomic.AddInt64(&s.ConvertedImages, 1)
	atomic.AddInt64(&s.PendingImages, -1)
	s.mutex.Lock()
	s.lastConverted = time.Now()
	s.mutex.Unlock()
}

// IncrementConvertedFiles increases the count of converted files by 1.
func (s *Statistics) IncrementConvertedFiles() {
	atomic.AddInt64(&s.ConvertedFiles, 1)
}

// IncrementErrors increases the error count by 1.
func (s *Statistics) IncrementErrors() {
	atomic.AddInt64(&s.ErrorsTotal, 1)
}

// AddSpaceSaved adds the byte difference between an original and its
// derived file to the running total.
func (s *Statistics) AddSpaceSaved(bytes int64) {
	atomic.AddInt64(&s.SpaceSavedB, bytes)
}

// SetScanResult overwrites the snapshot counters with the result of a
// completed scan.
func (s *Statistics) SetScanResult(total, converted, pending, ignoredDim, ignoredSize, ignoredUnreadable, totalFiles, convertedFiles, spaceSavedB int64) {
	atomic.StoreInt64(&s.TotalImages, total)
	atomic.StoreInt64(&s.ConvertedImages, converted)
	atomic.StoreInt64(&s.PendingImages, pending)
	atomic.StoreInt64(&s.IgnoredSmallDimension, ignoredDim)
	atomic.StoreInt64(&s.IgnoredSmallFilesize, ignoredSize)
	atomic.StoreInt64(&s.IgnoredUnreadable, ignoredUnreadable)
	atomic.StoreInt64(&s.IgnoredImages, ignoredDim+ignoredSize+ignoredUnreadable)
	atomic.StoreInt64(&s.TotalFiles, totalFiles)
	atomic.StoreInt64(&s.ConvertedFiles, convertedFiles)
	atomic.StoreInt64(&s.SpaceSavedB, spaceSavedB)

	s.mutex.Lock()
	s.lastScan = time.Now()
	s.mutex.Unlock()
}

// Reset zeroes every counter. Called after a reversion sweep.
func (s *Statistics) Reset() {
	atomic.StoreInt64(&s.TotalImages, 0)
	atomic.StoreInt64(&s.ConvertedImages, 0)
	atomic.StoreInt64(&s.PendingImages, 0)
	atomic.StoreInt64(&s.IgnoredImages, 0)
	atomic.StoreInt64(&s.IgnoredSmallDimension, 0)
	atomic.StoreInt64(&s.IgnoredSmallFilesize, 0)
	atomic.StoreInt64(&s.IgnoredUnreadable, 0)
	atomic.StoreInt64(&s.TotalFiles, 0)
	atomic.StoreInt64(&s.ConvertedFiles, 0)
	atomic.StoreInt64(&s.SpaceSavedB, 0)
	atomic.StoreInt64(&s.ErrorsTotal, 0)

	s.mutex.Lock()
	s.lastScan = time.Time{}
	s.lastConverted = time.Time{}
	s.mutex.Unlock()
}

// SpaceSavedMB returns the saved disk space in megabytes.
func (s *Statistics) SpaceSavedMB() float64 {
	return float64(atomic.LoadInt64(&s.SpaceSavedB)) / 1024 / 1024
}

// Snapshot is a JSON-serializable view of the current counters.
type Snapshot struct {
	TotalImages     int64   `json:"total_images"`
	ConvertedImages int64   `json:"converted_images"`
	PendingImages   int64   `json:"pending_images"`
	IgnoredImages   int64   `json:"ignored_images"`
	TotalFiles      int64   `json:"total_files"`
	ConvertedFiles  int64   `json:"converted_files"`
	SpaceSavedMB    float64 `json:"space_saved_mb"`
	Errors          int64   `json:"errors"`
	LastScan        string  `json:"last_scan,omitempty"`
	LastConverted   string  `json:"last_converted,omitempty"`
}

// GetSnapshot returns the current counters as a Snapshot.
func (s *Statistics) GetSnapshot() Snapshot {
	snap := Snapshot{
		TotalImages:     atomic.LoadInt64(&s.TotalImages),
		ConvertedImages: atomic.LoadInt64(&s.ConvertedImages),
		PendingImages:   atomic.LoadInt64(&s.PendingImages),
		IgnoredImages:   atomic.LoadInt64(&s.IgnoredImages),
		TotalFiles:      atomic.LoadInt64(&s.TotalFiles),
		ConvertedFiles:  atomic.LoadInt64(&s.ConvertedFiles),
		SpaceSavedMB:    s.SpaceSavedMB(),
		Errors:          atomic.LoadInt64(&s.ErrorsTotal),
	}

	s.mutex.RLock()
	if !s.lastScan.IsZero() {
		snap.LastScan = s.lastScan.Format(time.RFC3339)
	}
	if !s.lastConverted.IsZero() {
		snap.LastConverted = s.lastConverted.Format(time.RFC3339)
	}
	s.mutex.RUnlock()
	return snap
}

// GetSummary returns a formatted summary of all counters.
func (s *Statistics) GetSummary() string {
	return fmt.Sprintf(`Optimization Statistics Summary:

Images:
		Total: %d
		Converted: %d
		Pending: %d
		Ignored: %d (dimensions: %d, filesize: %d, unreadable: %d)

Files:
		Total: %d
		Converted: %d

Space Saved: %.2f MB
Errors: %d`,
		atomic.LoadInt64(&s.TotalImages),
		atomic.LoadInt64(&s.ConvertedImages),
		atomic.LoadInt64(&s.PendingImages),
		atomic.LoadInt64(&s.IgnoredImages),
		atomic.LoadInt64(&s.IgnoredSmallDimension),
		atomic.LoadInt64(&s.IgnoredSmallFilesize),
		atomic.LoadInt64(&s.IgnoredUnreadable),
		atomic.LoadInt64(&s.TotalFiles),
		atomic.LoadInt64(&s.ConvertedFiles),
		s.SpaceSavedMB(),
		atomic.LoadInt64(&s.ErrorsTotal))
}
