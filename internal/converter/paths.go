package converter

import (
	"os"
	"path/filepath"

	"nextgen-optimizer/internal/codec"
	"nextgen-optimizer/internal/config"
	"nextgen-optimizer/internal/library"
)

// SizeOriginal is the map key used for a record's full-size file.
const SizeOriginal = "original"

// TargetPath derives the output path for a source file: the source path with
// the format's extension appended. photo.jpg becomes photo.jpg.webp, so the
// derived file always sits next to its original and the mapping is
// reversible by stripping the suffix.
func TargetPath(src string, f codec.Format) string {
	return src + "." + f.Extension()
}

// AllFilePaths collects the on-disk files of a record that the conversion
// settings select: the original when ConvertOriginals is on and every
// rendition when ConvertThumbnails is on. Files missing from disk are left
// out. Keys are SizeOriginal for the full-size file and "thumb_<name>" for
// renditions.
func AllFilePaths(rec *library.ImageRecord, cfg config.ConversionConfig) map[string]string {
	paths := make(map[string]string)

	if cfg.ConvertOriginals && rec.OriginalPath != "" {
		if _, err := os.Stat(rec.OriginalPath); err == nil {
			paths[SizeOriginal] = rec.OriginalPath
		}
	}

	if cfg.ConvertThumbnails {
		dir := filepath.Dir(rec.OriginalPath)
		for name, file := range rec.Renditions {
			p := filepath.Join(dir, file)
			if _, err := os.Stat(p); err == nil {
				paths["thumb_"+name] = p
			}
		}
	}

	return paths
}
