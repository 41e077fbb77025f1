// Package library enumerates the media corpus: logical image records
// (an original plus its generated renditions) discovered on disk.
package library

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// MIME types the optimizer is able to convert. Anything else is invisible
// to the scan and batch machinery.
const (
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
)

// ImageRecord represents one logical uploaded image: the original file and
// zero or more named renditions generated by the upload pipeline.
type ImageRecord struct {
	// ID is the stable identity of the record: the original's path relative
	// to the library root, using forward slashes.
	ID string
	// MIME is the record's MIME type derived from the original's extension.
	MIME string
	// OriginalPath is the absolute path of the full-size file.
	OriginalPath string
	// Renditions maps a rendition name (e.g. "300x200") to the file name of
	// that rendition, relative to the original's directory.
	Renditions map[string]string
}

// Convertible reports whether the record's MIME type is one the optimizer
// can convert.
func (r *ImageRecord) Convertible() bool {
	return r.MIME == MIMEJPEG || r.MIME == MIMEPNG
}

// Library is the surrounding media system seen by the optimizer core.
type Library interface {
	// ListConvertibleImageRecords enumerates every record with a convertible
	// MIME type, ordered by ID.
	ListConvertibleImageRecords() ([]*ImageRecord, error)
	// Get returns the record with the given ID, or nil if it does not exist.
	Get(id string) (*ImageRecord, error)
	// Root returns the absolute path of the library root directory.
	Root() string
}

// renditionPattern matches the upload pipeline's rendition naming convention:
// the original's base name plus a -<width>x<height> suffix before the extension.
var renditionPattern = regexp.MustCompile(`^(.+)-(\d+x\d+)$`)

// DirLibrary is a Library backed by a directory tree. Records are grouped by
// matching rendition files to their original via the naming convention.
type DirLibrary struct {
	root string
}

// NewDirLibrary returns a DirLibrary rooted at the given directory.
func NewDirLibrary(root string) *DirLibrary {
	return &DirLibrary{root: root}
}

// Root returns the library root directory.
func (l *DirLibrary) Root() string {
	return l.root
}

// ListConvertibleImageRecords walks the root directory and groups every
// JPEG/PNG file into records: files matching the rendition naming convention
// attach to their original, everything else becomes an original.
func (l *DirLibrary) ListConvertibleImageRecords() ([]*ImageRecord, error) {
	records := make(map[string]*ImageRecord)
	var renditions []string

	err := filepath.Walk(l.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal
			return nil
		}
		if info.IsDir() {
			return nil
		}

		mime := mimeForExt(filepath.Ext(path))
		if mime == "" {
			return nil
		}

		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if renditionPattern.MatchString(base) {
			renditions = append(renditions, path)
			return nil
		}

		id, relErr := filepath.Rel(l.root, path)
		if relErr != nil {
			return nil
		}
		id = filepath.ToSlash(id)
		records[originalKey(path)] = &ImageRecord{
			ID:           id,
			MIME:         mime,
			OriginalPath: path,
			Renditions:   make(map[string]string),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Attach renditions to their originals. A rendition with no matching
	// original is ignored: it belongs to a record this library cannot see.
	for _, path := range renditions {
		ext := filepath.Ext(path)
		base := strings.TrimSuffix(filepath.Base(path), ext)
		m := renditionPattern.FindStringSubmatch(base)
		if m == nil {
			continue
		}
		key := filepath.Join(filepath.Dir(path), m[1]+ext)
		rec, ok := records[originalKey(key)]
		if !ok {
			continue
		}
		rec.Renditions[m[2]] = filepath.Base(path)
	}

	out := make([]*ImageRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns the record whose ID matches, or nil when the original no
// longer exists on disk.
func (l *DirLibrary) Get(id string) (*ImageRecord, error) {
	records, err := l.ListConvertibleImageRecords()
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return nil, nil
}

func originalKey(path string) string {
	return filepath.Clean(path)
}

func mimeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return MIMEJPEG
	case ".png":
		return MIMEPNG
	default:
		return ""
	}
}
