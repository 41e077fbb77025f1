package converter

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/rwcarlsen/goexif/exif"

	"nextgen-optimizer/internal/config"
)

// Reason classifies why a file was excluded from conversion.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonUnreadable
	ReasonTooSmallDimensions
	ReasonTooSmallFilesize
)

func (r Reason) String() string {
	switch r {
	case ReasonUnreadable:
		return "unreadable"
	case ReasonTooSmallDimensions:
		return "too_small_dimensions"
	case ReasonTooSmallFilesize:
		return "too_small_filesize"
	default:
		return ""
	}
}

// Measurement carries what was read from a file while checking thresholds.
// The fields are zero when the file could not be read.
type Measurement struct {
	Width  int
	Height int
	SizeKB int64
}

// CheckThresholds decides whether the file at path is worth converting and
// returns what was measured along the way. Checks run in a fixed order:
// readability, pixel dimensions, then file size. Callers that want a force
// override skip the call entirely.
func CheckThresholds(path string, cfg config.ConversionConfig) (Reason, Measurement) {
	var m Measurement

	f, err := os.Open(path)
	if err != nil {
		return ReasonUnreadable, m
	}
	defer f.Close()

	// Header-only decode, the pixel data is never loaded.
	imgCfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return ReasonUnreadable, m
	}

	m.Width, m.Height = imgCfg.Width, imgCfg.Height
	if orientationSwapsAxes(f) {
		m.Width, m.Height = m.Height, m.Width
	}

	info, err := f.Stat()
	if err != nil {
		return ReasonUnreadable, m
	}
	// Size rounds up to whole kilobytes before comparing.
	m.SizeKB = (info.Size() + 1023) / 1024

	if m.Width < cfg.MinWidth || m.Height < cfg.MinHeight {
		return ReasonTooSmallDimensions, m
	}
	if m.SizeKB < int64(cfg.MinSizeKB) {
		return ReasonTooSmallFilesize, m
	}

	return ReasonNone, m
}

// orientationSwapsAxes reports whether the file's EXIF orientation rotates
// the image by 90 or 270 degrees, in which case the decoded width and
// height describe the transposed axes.
func orientationSwapsAxes(f *os.File) bool {
	if _, err := f.Seek(0, 0); err != nil {
		return false
	}
	defer f.Seek(0, 0)

	x, err := exif.Decode(f)
	if err != nil {
		return false
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return false
	}
	orientation, err := tag.Int(0)
	if err != nil {
		return false
	}
	return orientation >= 5
}
