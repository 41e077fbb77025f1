package rewrite

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nextgen-optimizer/internal/codec"
)

type fakeCodec struct {
	webp bool
	avif bool
}

func (f *fakeCodec) Name() string    { return "fake" }
func (f *fakeCodec) Available() bool { return true }
func (f *fakeCodec) Supports(fm codec.Format) bool {
	return (fm == codec.FormatWebP && f.webp) || (fm == codec.FormatAVIF && f.avif)
}
func (f *fakeCodec) Encode(src, dst string, quality int, fm codec.Format) error { return nil }

func TestPreferredFormat(t *testing.T) {
	full := codec.NewProbe(&fakeCodec{webp: true, avif: true})
	webpOnly := codec.NewProbe(&fakeCodec{webp: true})

	acceptBoth := "image/avif,image/webp,image/*"
	acceptWebP := "image/webp,image/*"
	acceptNone := "image/*"

	tests := []struct {
		name    string
		setting string
		accept  string
		probe   *codec.Probe
		want    codec.Format
		ok      bool
	}{
		{"both setting prefers avif", "both", acceptBoth, full, codec.FormatAVIF, true},
		{"both falls back to webp without browser avif", "both", acceptWebP, full, codec.FormatWebP, true},
		{"both falls back to webp without server avif", "both", acceptBoth, webpOnly, codec.FormatWebP, true},
		{"webp setting ignores avif support", "webp", acceptBoth, full, codec.FormatWebP, true},
		{"avif setting has no fallback", "avif", acceptWebP, full, "", false},
		{"no browser support", "both", acceptNone, full, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := PreferredFormat(tt.setting, tt.accept, tt.probe)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func newTestRewriter(t *testing.T) (*Rewriter, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "pic.jpg"), []byte("jpeg"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pic.jpg.webp"), []byte("webp"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bare.jpg"), []byte("jpeg"), 0644))

	probe := codec.NewProbe(&fakeCodec{webp: true})
	return NewRewriter(root, "/media/", "webp", probe), root
}

func TestNextGenURL(t *testing.T) {
	rw, _ := newTestRewriter(t)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"derived exists", "/media/pic.jpg", "/media/pic.jpg.webp"},
		{"query string preserved", "/media/pic.jpg?v=2", "/media/pic.jpg.webp?v=2"},
		{"no derived sibling", "/media/bare.jpg", "/media/bare.jpg"},
		{"outside the prefix", "/assets/pic.jpg", "/assets/pic.jpg"},
		{"not an image", "/media/doc.pdf", "/media/doc.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rw.NextGenURL(tt.in, codec.FormatWebP))
		})
	}
}

func TestRewriteHTML(t *testing.T) {
	rw, _ := newTestRewriter(t)

	in := `<html><body>
<img src="/media/pic.jpg" srcset="/media/pic.jpg 1x, /media/bare.jpg 2x">
<img src="/assets/logo.png">
</body></html>`

	var out strings.Builder
	require.NoError(t, rw.RewriteHTML(strings.NewReader(in), &out, "image/webp"))

	html := out.String()
	assert.Contains(t, html, `src="/media/pic.jpg.webp"`)
	assert.Contains(t, html, `/media/pic.jpg.webp 1x`)
	assert.Contains(t, html, `/media/bare.jpg 2x`)
	assert.Contains(t, html, `src="/assets/logo.png"`)
}

func TestRewriteHTMLWithoutBrowserSupport(t *testing.T) {
	rw, _ := newTestRewriter(t)

	in := `<html><body><img src="/media/pic.jpg"></body></html>`

	var out strings.Builder
	require.NoError(t, rw.RewriteHTML(strings.NewReader(in), &out, "image/png"))
	assert.Contains(t, out.String(), `src="/media/pic.jpg"`)
	assert.NotContains(t, out.String(), "webp")
}
