package codec

import (
	"fmt"
	"os"

	"github.com/disintegration/imaging"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
)

// NativeCodec is the limited backend: a pure in-process encoder built on
// disintegration/imaging and libwebp bindings. It only produces WebP.
type NativeCodec struct{}

// NewNativeCodec returns the built-in backend.
func NewNativeCodec() *NativeCodec {
	return &NativeCodec{}
}

// Name implements Codec.
func (c *NativeCodec) Name() string {
	return "native"
}

// Available implements Codec. The backend is compiled in and always usable.
func (c *NativeCodec) Available() bool {
	return true
}

// Supports implements Codec.
func (c *NativeCodec) Supports(f Format) bool {
	return f == FormatWebP
}

// Encode decodes srcPath and writes a WebP to dstPath. Requesting any other
// format is a backend-format-limited error. PNG sources are decoded into
// true-color NRGBA so the alpha channel survives re-encoding.
func (c *NativeCodec) Encode(srcPath, dstPath string, quality int, f Format) error {
	if f != FormatWebP {
		return NewError(KindBackendFormatLimited, fmt.Errorf("built-in encoder only supports WebP, not %s", f))
	}

	img, err := imaging.Open(srcPath)
	if err != nil {
		return NewError(KindBackendOpenFailed, err)
	}
	// imaging decodes into NRGBA; Clone normalizes any other color model.
	nrgba := imaging.Clone(img)

	opts, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, float32(quality))
	if err != nil {
		return NewError(KindBackendWriteFailed, err)
	}

	out, err := os.Create(dstPath)
	if err != nil {
		return NewError(KindBackendWriteFailed, err)
	}
	defer out.Close()

	if err := webp.Encode(out, nrgba, opts); err != nil {
		_ = out.Close()
		_ = os.Remove(dstPath)
		return NewError(KindBackendWriteFailed, err)
	}
	return nil
}
