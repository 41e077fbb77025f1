package codec

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCodec struct {
	name      string
	available bool
	webp      bool
	avif      bool
}

func (f *fakeCodec) Name() string    { return f.name }
func (f *fakeCodec) Available() bool { return f.available }
func (f *fakeCodec) Supports(fm Format) bool {
	switch fm {
	case FormatWebP:
		return f.webp
	case FormatAVIF:
		return f.avif
	}
	return false
}
func (f *fakeCodec) Encode(src, dst string, quality int, fm Format) error { return nil }

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"webp", FormatWebP, false},
		{"avif", FormatAVIF, false},
		{"WEBP", FormatWebP, false},
		{"jpeg", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatsFor(t *testing.T) {
	assert.Equal(t, []Format{FormatWebP}, FormatsFor("webp"))
	assert.Equal(t, []Format{FormatAVIF}, FormatsFor("avif"))
	assert.Equal(t, []Format{FormatWebP, FormatAVIF}, FormatsFor("both"))
	assert.Equal(t, []Format{FormatWebP}, FormatsFor("unknown"))
}

func TestFormatExtensionAndMIME(t *testing.T) {
	assert.Equal(t, "webp", FormatWebP.Extension())
	assert.Equal(t, "image/webp", FormatWebP.MIME())
	assert.Equal(t, "avif", FormatAVIF.Extension())
	assert.Equal(t, "image/avif", FormatAVIF.MIME())
}

func TestProbePrefersFirstCapableBackend(t *testing.T) {
	rich := &fakeCodec{name: "rich", available: true, webp: true, avif: true}
	limited := &fakeCodec{name: "limited", available: true, webp: true}

	probe := NewProbe(rich, limited)
	assert.Equal(t, "rich", probe.PreferredEngine())
	assert.True(t, probe.SupportsFormat(FormatAVIF))
}

func TestProbeSkipsUnavailableBackend(t *testing.T) {
	down := &fakeCodec{name: "down", available: false, webp: true, avif: true}
	limited := &fakeCodec{name: "limited", available: true, webp: true}

	probe := NewProbe(down, limited)
	assert.Equal(t, "limited", probe.PreferredEngine())
	assert.True(t, probe.SupportsFormat(FormatWebP))
	assert.False(t, probe.SupportsFormat(FormatAVIF))
}

func TestProbeCapabilities(t *testing.T) {
	rich := &fakeCodec{name: "rich", available: true, webp: true, avif: true}
	down := &fakeCodec{name: "down", available: false, webp: true}

	caps := NewProbe(rich, down).Capabilities()
	require.Len(t, caps, 2)

	assert.True(t, caps["rich"].Available)
	assert.True(t, caps["rich"].WebP)
	assert.True(t, caps["rich"].AVIF)

	assert.False(t, caps["down"].Available)
	assert.False(t, caps["down"].WebP)
	assert.False(t, caps["down"].AVIF)
}

func TestProbeRefreshPicksUpChanges(t *testing.T) {
	backend := &fakeCodec{name: "toggle", available: false, webp: true}
	probe := NewProbe(backend)

	assert.Nil(t, probe.PreferredCodec())

	backend.available = true
	// The preference is cached until a refresh
	assert.Nil(t, probe.PreferredCodec())

	probe.Refresh()
	require.NotNil(t, probe.PreferredCodec())
	assert.Equal(t, "toggle", probe.PreferredEngine())
}

func TestErrorKind(t *testing.T) {
	base := fmt.Errorf("boom")
	err := NewError(KindUnsupportedSource, base)

	assert.Equal(t, KindUnsupportedSource, KindOf(err))
	assert.Equal(t, KindUnsupportedSource, KindOf(fmt.Errorf("wrapped: %w", err)))
	assert.True(t, errors.Is(err, base))
	assert.Equal(t, ErrorKind(""), KindOf(fmt.Errorf("plain")))
}
