// Package converter turns JPEG and PNG files into next-generation image
// formats. It owns the eligibility thresholds, the derived-path contract and
// the atomic write discipline around the codec backends.
package converter

import (
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/barasher/go-exiftool"
	"github.com/sirupsen/logrus"

	"nextgen-optimizer/internal/codec"
	"nextgen-optimizer/internal/config"
	"nextgen-optimizer/internal/library"
	"nextgen-optimizer/internal/logger"
)

// QualityTransform adjusts the configured quality per output format before
// encoding. The default transform returns the quality unchanged.
type QualityTransform func(quality int, f codec.Format) int

// Converter performs file and record conversions using whatever codec
// backend the probe prefers.
type Converter struct {
	cfg   *config.Config
	probe *codec.Probe
	log   *logrus.Logger

	// Quality lets callers tune the encoding quality per format without
	// touching the configuration.
	Quality QualityTransform

	exif *exiftool.Exiftool
}

// NewConverter creates a Converter. The exiftool handle may be nil, in which
// case metadata preservation is silently skipped.
func NewConverter(cfg *config.Config, probe *codec.Probe, log *logrus.Logger, et *exiftool.Exiftool) *Converter {
	return &Converter{
		cfg:     cfg,
		probe:   probe,
		log:     log,
		Quality: func(q int, _ codec.Format) int { return q },
		exif:    et,
	}
}

// RecordResult describes the outcome of converting one record.
type RecordResult struct {
	// Converted is true when at least one file of the record produced a new
	// derived file in this run.
	Converted bool
	// Details maps each size key to a human-readable outcome: "converted",
	// "already exists", "skipped: <reason>" or "error: <message>".
	Details map[string]string
}

// ConvertFile converts one source file to the given format. It returns true
// when a new derived file was written and false when the derived file was
// already present. All failures carry a codec.Error kind.
func (c *Converter) ConvertFile(src string, f codec.Format) (bool, error) {
	dst := TargetPath(src, f)
	if _, err := os.Stat(dst); err == nil {
		return false, nil
	}

	if !c.probe.SupportsFormat(f) {
		return false, codec.NewError(codec.KindFormatUnsupported, fmt.Errorf("no backend can encode %s", f))
	}
	if err := checkSourceMIME(src); err != nil {
		return false, err
	}

	backend := c.probe.PreferredCodec()
	if backend == nil {
		return false, codec.NewError(codec.KindFormatUnsupported, fmt.Errorf("no codec backend available"))
	}
	if !backend.Supports(f) {
		return false, codec.NewError(codec.KindBackendFormatLimited,
			fmt.Errorf("backend %s cannot encode %s", backend.Name(), f))
	}

	quality := c.Quality(c.cfg.Conversion.Quality, f)

	// Encode into a temp file next to the destination and rename it into
	// place, so a crashed encode never leaves a half-written derived file.
	tmp := dst + ".tmp"
	if err := backend.Encode(src, tmp, quality, f); err != nil {
		os.Remove(tmp)
		return false, err
	}

	if c.cfg.Conversion.PreserveMetadata && c.exif != nil {
		c.copyMetadata(src, tmp)
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return false, codec.NewError(codec.KindBackendWriteFailed, err)
	}

	logger.WithFile(c.log, src).WithFields(logrus.Fields{
		"target": dst,
		"format": string(f),
		"engine": backend.Name(),
	}).Debug("File converted")
	return true, nil
}

// ConvertRecord converts every selected file of the record to every format
// the output setting resolves to. Thresholds are checked per file and each
// format is attempted independently, so a record can end up partially
// converted: a failed AVIF never undoes or blocks the WebP next to it.
// Per-format outcomes are keyed "<size>_<format>" in the details.
func (c *Converter) ConvertRecord(rec *library.ImageRecord, formats []codec.Format) RecordResult {
	result := RecordResult{Details: make(map[string]string)}

	if !rec.Convertible() {
		result.Details[SizeOriginal] = "skipped: unsupported type"
		return result
	}

	paths := AllFilePaths(rec, c.cfg.Conversion)
	if len(paths) == 0 {
		result.Details[SizeOriginal] = "skipped: unreadable"
		return result
	}

	for size, path := range paths {
		if !c.cfg.Conversion.ForceAll {
			if reason, _ := CheckThresholds(path, c.cfg.Conversion); reason != ReasonNone {
				result.Details[size] = "skipped: " + reason.String()
				continue
			}
		}

		for _, f := range formats {
			key := size + "_" + string(f)
			created, err := c.ConvertFile(path, f)
			switch {
			case err != nil:
				result.Details[key] = "error: " + err.Error()
			case created:
				result.Details[key] = "converted"
				result.Converted = true
			default:
				result.Details[key] = "already exists"
			}
		}
	}

	logger.WithRecord(c.log, rec.ID).WithField("converted", result.Converted).Debug("Record processed")
	return result
}

// RemoveRecordDerived deletes every derived file belonging to the record,
// in all formats, and returns how many files were removed.
func (c *Converter) RemoveRecordDerived(rec *library.ImageRecord) int {
	removed := 0
	logicalCfg := c.cfg.Conversion
	// The removal pass ignores the originals/thumbnails toggles so that
	// turning a toggle off never strands derived files on disk.
	logicalCfg.ConvertOriginals = true
	logicalCfg.ConvertThumbnails = true

	for _, path := range AllFilePaths(rec, logicalCfg) {
		for _, f := range []codec.Format{codec.FormatWebP, codec.FormatAVIF} {
			dst := TargetPath(path, f)
			if _, err := os.Stat(dst); err != nil {
				continue
			}
			if err := os.Remove(dst); err != nil {
				c.log.WithError(err).WithField("file", dst).Warn("Failed to remove derived file")
				continue
			}
			removed++
		}
	}
	return removed
}

// SortedSizeKeys returns the detail keys of a record result in stable order:
// the original's entries first, then renditions alphabetically.
func SortedSizeKeys(details map[string]string) []string {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		oi := strings.HasPrefix(keys[i], SizeOriginal)
		oj := strings.HasPrefix(keys[j], SizeOriginal)
		if oi != oj {
			return oi
		}
		return keys[i] < keys[j]
	})
	return keys
}

// checkSourceMIME sniffs the file header and rejects anything that is not a
// real JPEG or PNG, regardless of the file's extension.
func checkSourceMIME(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return codec.NewError(codec.KindUnsupportedSource, err)
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return codec.NewError(codec.KindUnsupportedSource, err)
	}

	mime := http.DetectContentType(buf[:n])
	if mime != library.MIMEJPEG && mime != library.MIMEPNG {
		return codec.NewError(codec.KindUnsupportedSource, fmt.Errorf("source is %s, not a JPEG or PNG", mime))
	}
	return nil
}

// copyMetadata carries the source file's EXIF tags into the freshly encoded
// file. Failures are logged and ignored, a derived file without metadata is
// still a valid derived file.
func (c *Converter) copyMetadata(src, dst string) {
	metas := c.exif.ExtractMetadata(src)
	if len(metas) != 1 || metas[0].Err != nil {
		return
	}
	out := []exiftool.FileMetadata{{File: dst, Fields: metas[0].Fields}}
	c.exif.WriteMetadata(out)
	if out[0].Err != nil {
		c.log.WithError(out[0].Err).WithField("file", dst).Debug("Metadata copy failed")
	}
}
