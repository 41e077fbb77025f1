// Package codec provides the image codec backends and the capability probe
// that discovers which next-gen output formats the host can produce.
package codec

import (
	"fmt"
	"strings"
	"sync"
)

// Format is a next-gen output format.
type Format string

const (
	FormatWebP Format = "webp"
	FormatAVIF Format = "avif"
)

// Extension returns the file name extension for the format, without a dot.
func (f Format) Extension() string {
	return string(f)
}

// MIME returns the MIME type served for the format.
func (f Format) MIME() string {
	switch f {
	case FormatAVIF:
		return "image/avif"
	default:
		return "image/webp"
	}
}

// ParseFormat validates a format string.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "webp":
		return FormatWebP, nil
	case "avif":
		return FormatAVIF, nil
	default:
		return "", fmt.Errorf("unknown format: %s", s)
	}
}

// FormatsFor expands an output-format setting (webp, avif, or both) into the
// concrete list of formats to produce.
func FormatsFor(setting string) []Format {
	switch strings.ToLower(setting) {
	case "avif":
		return []Format{FormatAVIF}
	case "both":
		return []Format{FormatWebP, FormatAVIF}
	default:
		return []Format{FormatWebP}
	}
}

// Codec is one installed image-processing backend.
type Codec interface {
	// Name identifies the backend (e.g. "ffmpeg", "native").
	Name() string
	// Available reports whether the backend can be used on this host.
	Available() bool
	// Supports reports whether the backend can encode the given format.
	Supports(f Format) bool
	// Encode re-encodes srcPath into dstPath at the given quality (0..100).
	Encode(srcPath, dstPath string, quality int, f Format) error
}

// Capability describes one backend's probed abilities.
type Capability struct {
	Available bool `json:"available"`
	WebP      bool `json:"webp"`
	AVIF      bool `json:"avif"`
}

// Probe interrogates a priority-ordered list of codec backends. The preferred
// engine is cached for the process lifetime but can be recomputed.
type Probe struct {
	codecs []Codec

	mu        sync.Mutex
	preferred Codec
	probed    bool
}

// NewProbe returns a Probe over the given backends, in priority order
// (richest first).
func NewProbe(codecs ...Codec) *Probe {
	return &Probe{codecs: codecs}
}

// DefaultProbe returns the standard backend set: ffmpeg first, then the
// built-in encoder.
func DefaultProbe() *Probe {
	return NewProbe(NewFFmpegCodec(), NewNativeCodec())
}

// Capabilities reports the probed abilities of every backend. A backend that
// errors during interrogation reports available=false rather than failing
// the probe.
func (p *Probe) Capabilities() map[string]Capability {
	caps := make(map[string]Capability, len(p.codecs))
	for _, c := range p.codecs {
		cap := Capability{Available: c.Available()}
		if cap.Available {
			cap.WebP = c.Supports(FormatWebP)
			cap.AVIF = c.Supports(FormatAVIF)
		}
		caps[c.Name()] = cap
	}
	return caps
}

// SupportsFormat reports whether any available backend can encode the format.
func (p *Probe) SupportsFormat(f Format) bool {
	for _, c := range p.codecs {
		if c.Available() && c.Supports(f) {
			return true
		}
	}
	return false
}

// PreferredEngine returns the name of the first backend, in priority order,
// that supports at least one target format, or "" when none does.
func (p *Probe) PreferredEngine() string {
	if c := p.PreferredCodec(); c != nil {
		return c.Name()
	}
	return ""
}

// PreferredCodec returns the preferred backend itself, or nil.
func (p *Probe) PreferredCodec() Codec {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.probed {
		p.preferred = p.computePreferred()
		p.probed = true
	}
	return p.preferred
}

// Refresh drops the cached engine choice so the next call recomputes it.
func (p *Probe) Refresh() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probed = false
	p.preferred = nil
}

func (p *Probe) computePreferred() Codec {
	for _, c := range p.codecs {
		if !c.Available() {
			continue
		}
		if c.Supports(FormatWebP) || c.Supports(FormatAVIF) {
			return c
		}
	}
	return nil
}
