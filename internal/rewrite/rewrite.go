// Package rewrite negotiates the output format against a browser's Accept
// header and rewrites image URLs in HTML documents to their next-generation
// siblings.
package rewrite

import (
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"

	"nextgen-optimizer/internal/codec"
)

// AcceptsFormat reports whether the Accept header advertises support for
// the format's MIME type.
func AcceptsFormat(accept string, f codec.Format) bool {
	return strings.Contains(accept, f.MIME())
}

// PreferredFormat resolves which format to serve a client. With the "both"
// setting AVIF wins when both the browser and a codec backend support it,
// otherwise WebP is used. It returns false when no format is deliverable.
func PreferredFormat(setting, accept string, probe *codec.Probe) (codec.Format, bool) {
	for _, f := range preferenceOrder(setting) {
		if AcceptsFormat(accept, f) && probe.SupportsFormat(f) {
			return f, true
		}
	}
	return "", false
}

// preferenceOrder lists candidate formats most preferred first.
func preferenceOrder(setting string) []codec.Format {
	switch setting {
	case "both":
		return []codec.Format{codec.FormatAVIF, codec.FormatWebP}
	case "avif":
		return []codec.Format{codec.FormatAVIF}
	default:
		return []codec.Format{codec.FormatWebP}
	}
}

// Rewriter maps image URLs under a prefix to files under a root directory
// and swaps them for their derived siblings when those exist on disk.
type Rewriter struct {
	root      string
	urlPrefix string
	setting   string
	probe     *codec.Probe
}

// NewRewriter creates a Rewriter. urlPrefix is the URL path under which the
// library root is served, e.g. "/media/".
func NewRewriter(root, urlPrefix, setting string, probe *codec.Probe) *Rewriter {
	if !strings.HasSuffix(urlPrefix, "/") {
		urlPrefix += "/"
	}
	return &Rewriter{root: root, urlPrefix: urlPrefix, setting: setting, probe: probe}
}

// NextGenURL returns the derived sibling URL for u in the given format, or
// the input unchanged when u is not a convertible image under the prefix
// or its derived file does not exist.
func (r *Rewriter) NextGenURL(u string, f codec.Format) string {
	base, query, hasQuery := strings.Cut(u, "?")
	if !strings.HasPrefix(base, r.urlPrefix) {
		return u
	}

	switch strings.ToLower(path.Ext(base)) {
	case ".jpg", ".jpeg", ".png":
	default:
		return u
	}

	rel := strings.TrimPrefix(base, r.urlPrefix)
	derived := filepath.Join(r.root, filepath.FromSlash(rel)) + "." + f.Extension()
	if _, err := os.Stat(derived); err != nil {
		return u
	}

	out := base + "." + f.Extension()
	if hasQuery {
		out += "?" + query
	}
	return out
}

// RewriteHTML parses the document from in, rewrites every img src and
// srcset to the format the Accept header negotiates and renders the result
// to out. When no format is deliverable the document passes through
// unchanged.
func (r *Rewriter) RewriteHTML(in io.Reader, out io.Writer, accept string) error {
	doc, err := html.Parse(in)
	if err != nil {
		return err
	}

	if f, ok := PreferredFormat(r.setting, accept, r.probe); ok {
		r.rewriteNode(doc, f)
	}
	return html.Render(out, doc)
}

func (r *Rewriter) rewriteNode(n *html.Node, f codec.Format) {
	if n.Type == html.ElementNode && (n.Data == "img" || n.Data == "source") {
		for i, attr := range n.Attr {
			switch attr.Key {
			case "src":
				n.Attr[i].Val = r.NextGenURL(attr.Val, f)
			case "srcset":
				n.Attr[i].Val = r.rewriteSrcset(attr.Val, f)
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		r.rewriteNode(c, f)
	}
}

// rewriteSrcset rewrites each URL of a srcset value, preserving the width
// and density descriptors.
func (r *Rewriter) rewriteSrcset(srcset string, f codec.Format) string {
	entries := strings.Split(srcset, ",")
	for i, entry := range entries {
		fields := strings.Fields(strings.TrimSpace(entry))
		if len(fields) == 0 {
			continue
		}
		fields[0] = r.NextGenURL(fields[0], f)
		entries[i] = strings.Join(fields, " ")
	}
	return strings.Join(entries, ", ")
}
