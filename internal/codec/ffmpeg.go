package codec

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// FFmpegCodec is the rich backend: it shells out to ffmpeg and supports both
// WebP and AVIF, depending on which encoders the installed build carries.
type FFmpegCodec struct {
	once      sync.Once
	available bool
	webp      bool
	avif      bool
	avifEnc   string
}

// NewFFmpegCodec returns the ffmpeg backend. Encoder support is probed
// lazily on first use.
func NewFFmpegCodec() *FFmpegCodec {
	return &FFmpegCodec{}
}

// Name implements Codec.
func (c *FFmpegCodec) Name() string {
	return "ffmpeg"
}

// Available reports whether ffmpeg is on PATH and its encoder list could be
// read. Any probe failure yields false rather than an error.
func (c *FFmpegCodec) Available() bool {
	c.probe()
	return c.available
}

// Supports implements Codec.
func (c *FFmpegCodec) Supports(f Format) bool {
	c.probe()
	if !c.available {
		return false
	}
	switch f {
	case FormatWebP:
		return c.webp
	case FormatAVIF:
		return c.avif
	default:
		return false
	}
}

func (c *FFmpegCodec) probe() {
	c.once.Do(func() {
		if _, err := exec.LookPath("ffmpeg"); err != nil {
			return
		}

		out, err := exec.Command("ffmpeg", "-hide_banner", "-encoders").Output()
		if err != nil {
			return
		}

		encoders := string(out)
		c.available = true
		c.webp = strings.Contains(encoders, "libwebp")
		switch {
		case strings.Contains(encoders, "libaom-av1"):
			c.avif = true
			c.avifEnc = "libaom-av1"
		case strings.Contains(encoders, "libsvtav1"):
			c.avif = true
			c.avifEnc = "libsvtav1"
		}
	})
}

// Encode re-encodes srcPath into dstPath. The muxer is passed explicitly so
// callers may hand in temp paths without a format extension.
func (c *FFmpegCodec) Encode(srcPath, dstPath string, quality int, f Format) error {
	if !c.Supports(f) {
		return NewError(KindBackendFormatLimited, fmt.Errorf("ffmpeg build lacks a %s encoder", f))
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-y", "-i", srcPath}

	switch f {
	case FormatWebP:
		args = append(args, "-c:v", "libwebp", "-quality", strconv.Itoa(quality))
	case FormatAVIF:
		// AV1 encoders want even dimensions and a planar pixel format.
		crf := 63 - (quality*63)/100
		args = append(args,
			"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2",
			"-c:v", c.avifEnc,
			"-crf", strconv.Itoa(crf),
			"-b:v", "0",
			"-pix_fmt", "yuv420p",
			"-still-picture", "1",
		)
	}
	args = append(args, "-f", f.Extension(), dstPath)

	cmd := exec.Command("ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		_ = os.Remove(dstPath)
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return NewError(KindBackendError, fmt.Errorf("ffmpeg: %s", msg))
	}
	return nil
}
