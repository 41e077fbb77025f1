package converter

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nextgen-optimizer/internal/codec"
	"nextgen-optimizer/internal/config"
	"nextgen-optimizer/internal/library"
)

// fakeCodec records encode calls and writes a marker file as output.
type fakeCodec struct {
	name    string
	webp    bool
	avif    bool
	fail    bool
	encodes int
}

func (f *fakeCodec) Name() string    { return f.name }
func (f *fakeCodec) Available() bool { return true }
func (f *fakeCodec) Supports(fm codec.Format) bool {
	return (fm == codec.FormatWebP && f.webp) || (fm == codec.FormatAVIF && f.avif)
}
func (f *fakeCodec) Encode(src, dst string, quality int, fm codec.Format) error {
	f.encodes++
	if f.fail {
		return codec.NewError(codec.KindBackendError, fmt.Errorf("encode failed"))
	}
	return os.WriteFile(dst, []byte("derived"), 0644)
}

func writeJPEG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), uint8(x + y), 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, jpeg.Encode(f, img, &jpeg.Options{Quality: 90}))
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Conversion.MinWidth = 150
	cfg.Conversion.MinHeight = 150
	cfg.Conversion.MinSizeKB = 1
	return cfg
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestConverter(cfg *config.Config, backends ...codec.Codec) *Converter {
	return NewConverter(cfg, codec.NewProbe(backends...), testLogger(), nil)
}

func TestTargetPath(t *testing.T) {
	assert.Equal(t, "/media/photo.jpg.webp", TargetPath("/media/photo.jpg", codec.FormatWebP))
	assert.Equal(t, "/media/photo.jpg.avif", TargetPath("/media/photo.jpg", codec.FormatAVIF))
	assert.Equal(t, "/media/pic.PNG.webp", TargetPath("/media/pic.PNG", codec.FormatWebP))
}

func TestCheckThresholds(t *testing.T) {
	dir := t.TempDir()

	big := filepath.Join(dir, "big.jpg")
	writeJPEG(t, big, 200, 200)

	small := filepath.Join(dir, "small.jpg")
	writeJPEG(t, small, 50, 50)

	bogus := filepath.Join(dir, "bogus.jpg")
	require.NoError(t, os.WriteFile(bogus, []byte("not an image"), 0644))

	cfg := testConfig().Conversion

	tests := []struct {
		name string
		path string
		want Reason
	}{
		{"above thresholds", big, ReasonNone},
		{"too small dimensions", small, ReasonTooSmallDimensions},
		{"unreadable", bogus, ReasonUnreadable},
		{"missing file", filepath.Join(dir, "gone.jpg"), ReasonUnreadable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, _ := CheckThresholds(tt.path, cfg)
			assert.Equal(t, tt.want, reason)
		})
	}
}

func TestCheckThresholdsMeasurement(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photo.jpg")
	writeJPEG(t, path, 200, 120)

	reason, m := CheckThresholds(path, testConfig().Conversion)
	assert.Equal(t, ReasonTooSmallDimensions, reason)
	assert.Equal(t, 200, m.Width)
	assert.Equal(t, 120, m.Height)
	assert.Greater(t, m.SizeKB, int64(0))
}

func TestCheckThresholdsFilesize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photo.jpg")
	writeJPEG(t, path, 200, 200)

	cfg := testConfig().Conversion
	cfg.MinSizeKB = 1 << 20
	reason, _ := CheckThresholds(path, cfg)
	assert.Equal(t, ReasonTooSmallFilesize, reason)
}

func TestAllFilePaths(t *testing.T) {
	dir := t.TempDir()
	writeJPEG(t, filepath.Join(dir, "photo.jpg"), 200, 200)
	writeJPEG(t, filepath.Join(dir, "photo-150x150.jpg"), 150, 150)

	rec := &library.ImageRecord{
		ID:           "photo.jpg",
		MIME:         library.MIMEJPEG,
		OriginalPath: filepath.Join(dir, "photo.jpg"),
		Renditions: map[string]string{
			"150x150": "photo-150x150.jpg",
			"300x300": "photo-300x300.jpg", // not on disk
		},
	}

	cfg := testConfig().Conversion
	paths := AllFilePaths(rec, cfg)
	require.Len(t, paths, 2)
	assert.Equal(t, rec.OriginalPath, paths[SizeOriginal])
	assert.Equal(t, filepath.Join(dir, "photo-150x150.jpg"), paths["thumb_150x150"])

	cfg.ConvertThumbnails = false
	paths = AllFilePaths(rec, cfg)
	require.Len(t, paths, 1)
	assert.Contains(t, paths, SizeOriginal)

	cfg.ConvertOriginals = false
	assert.Empty(t, AllFilePaths(rec, cfg))
}

func TestConvertFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "photo.jpg")
	writeJPEG(t, src, 200, 200)

	backend := &fakeCodec{name: "fake", webp: true}
	conv := newTestConverter(testConfig(), backend)

	created, err := conv.ConvertFile(src, codec.FormatWebP)
	require.NoError(t, err)
	assert.True(t, created)
	assert.FileExists(t, src+".webp")

	// Second call short-circuits on the existing derived file
	created, err = conv.ConvertFile(src, codec.FormatWebP)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, backend.encodes)
}

func TestConvertFileNoBackendForFormat(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "photo.jpg")
	writeJPEG(t, src, 200, 200)

	conv := newTestConverter(testConfig(), &fakeCodec{name: "fake", webp: true})

	_, err := conv.ConvertFile(src, codec.FormatAVIF)
	require.Error(t, err)
	assert.Equal(t, codec.KindFormatUnsupported, codec.KindOf(err))
}

func TestConvertFileRejectsMismatchedContent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "fake.jpg")
	require.NoError(t, os.WriteFile(src, []byte("<html>not an image</html>"), 0644))

	conv := newTestConverter(testConfig(), &fakeCodec{name: "fake", webp: true})

	_, err := conv.ConvertFile(src, codec.FormatWebP)
	require.Error(t, err)
	assert.Equal(t, codec.KindUnsupportedSource, codec.KindOf(err))
	assert.NoFileExists(t, src+".webp")
}

func TestConvertFileEncodeFailureLeavesNoOutput(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "photo.png")
	writePNG(t, src, 200, 200)

	conv := newTestConverter(testConfig(), &fakeCodec{name: "fake", webp: true, fail: true})

	_, err := conv.ConvertFile(src, codec.FormatWebP)
	require.Error(t, err)
	assert.Equal(t, codec.KindBackendError, codec.KindOf(err))
	assert.NoFileExists(t, src+".webp")
	assert.NoFileExists(t, src+".webp.tmp")
}

func TestConvertFileQualityTransform(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "photo.jpg")
	writeJPEG(t, src, 200, 200)

	var seen int
	backend := &fakeCodec{name: "fake", webp: true}
	conv := newTestConverter(testConfig(), backend)
	conv.Quality = func(q int, _ codec.Format) int {
		seen = q
		return q / 2
	}

	// The transform observes the configured quality; the backend gets the
	// transformed value, which the fake simply ignores.
	_, err := conv.ConvertFile(src, codec.FormatWebP)
	require.NoError(t, err)
	assert.Equal(t, 80, seen)
}

func TestConvertRecord(t *testing.T) {
	dir := t.TempDir()
	writeJPEG(t, filepath.Join(dir, "photo.jpg"), 200, 200)
	writeJPEG(t, filepath.Join(dir, "photo-50x50.jpg"), 50, 50)

	rec := &library.ImageRecord{
		ID:           "photo.jpg",
		MIME:         library.MIMEJPEG,
		OriginalPath: filepath.Join(dir, "photo.jpg"),
		Renditions:   map[string]string{"50x50": "photo-50x50.jpg"},
	}

	conv := newTestConverter(testConfig(), &fakeCodec{name: "fake", webp: true})

	result := conv.ConvertRecord(rec, []codec.Format{codec.FormatWebP})
	assert.True(t, result.Converted)
	assert.Equal(t, "converted", result.Details[SizeOriginal+"_webp"])
	assert.Equal(t, "skipped: too_small_dimensions", result.Details["thumb_50x50"])

	// A re-run finds the derived file and converts nothing new
	result = conv.ConvertRecord(rec, []codec.Format{codec.FormatWebP})
	assert.False(t, result.Converted)
	assert.Equal(t, "already exists", result.Details[SizeOriginal+"_webp"])
}

func TestConvertRecordForceBypassesThresholds(t *testing.T) {
	dir := t.TempDir()
	writeJPEG(t, filepath.Join(dir, "small.jpg"), 10, 10)

	rec := &library.ImageRecord{
		ID:           "small.jpg",
		MIME:         library.MIMEJPEG,
		OriginalPath: filepath.Join(dir, "small.jpg"),
		Renditions:   map[string]string{},
	}

	cfg := testConfig()
	cfg.Conversion.ForceAll = true
	conv := newTestConverter(cfg, &fakeCodec{name: "fake", webp: true})

	result := conv.ConvertRecord(rec, []codec.Format{codec.FormatWebP})
	assert.True(t, result.Converted)
	assert.Equal(t, "converted", result.Details[SizeOriginal+"_webp"])
	assert.FileExists(t, filepath.Join(dir, "small.jpg.webp"))
}

func TestConvertRecordPartialBackendSupport(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "photo.jpg")
	writeJPEG(t, src, 200, 200)

	rec := &library.ImageRecord{
		ID:           "photo.jpg",
		MIME:         library.MIMEJPEG,
		OriginalPath: src,
		Renditions:   map[string]string{},
	}

	// Only webp is encodable; the avif failure must not mask the webp success.
	conv := newTestConverter(testConfig(), &fakeCodec{name: "fake", webp: true})

	result := conv.ConvertRecord(rec, []codec.Format{codec.FormatWebP, codec.FormatAVIF})
	assert.True(t, result.Converted)
	assert.Equal(t, "converted", result.Details[SizeOriginal+"_webp"])
	assert.Contains(t, result.Details[SizeOriginal+"_avif"], "error:")
	assert.FileExists(t, src+".webp")
	assert.NoFileExists(t, src+".avif")
}

func TestConvertRecordUnreadableOriginal(t *testing.T) {
	rec := &library.ImageRecord{
		ID:           "gone.jpg",
		MIME:         library.MIMEJPEG,
		OriginalPath: filepath.Join(t.TempDir(), "gone.jpg"),
		Renditions:   map[string]string{},
	}

	conv := newTestConverter(testConfig(), &fakeCodec{name: "fake", webp: true})

	result := conv.ConvertRecord(rec, []codec.Format{codec.FormatWebP})
	assert.False(t, result.Converted)
	assert.Equal(t, "skipped: unreadable", result.Details[SizeOriginal])
}

func TestRemoveRecordDerived(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "photo.jpg")
	writeJPEG(t, src, 200, 200)
	require.NoError(t, os.WriteFile(src+".webp", []byte("derived"), 0644))
	require.NoError(t, os.WriteFile(src+".avif", []byte("derived"), 0644))

	rec := &library.ImageRecord{
		ID:           "photo.jpg",
		MIME:         library.MIMEJPEG,
		OriginalPath: src,
		Renditions:   map[string]string{},
	}

	cfg := testConfig()
	cfg.Conversion.ConvertThumbnails = false
	conv := newTestConverter(cfg, &fakeCodec{name: "fake", webp: true})

	removed := conv.RemoveRecordDerived(rec)
	assert.Equal(t, 2, removed)
	assert.NoFileExists(t, src+".webp")
	assert.NoFileExists(t, src+".avif")
	assert.FileExists(t, src)
}

func TestSortedSizeKeys(t *testing.T) {
	details := map[string]string{
		"thumb_300x300_webp":   "converted",
		SizeOriginal + "_webp": "converted",
		SizeOriginal + "_avif": "converted",
		"thumb_150x150":        "skipped: too_small_dimensions",
	}
	assert.Equal(t,
		[]string{SizeOriginal + "_avif", SizeOriginal + "_webp", "thumb_150x150", "thumb_300x300_webp"},
		SortedSizeKeys(details))
}
