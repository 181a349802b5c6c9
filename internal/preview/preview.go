// Package preview renders markdown blob content to HTML via goldmark, for
// callers (internal/server) that want a rendered preview of a file from a
// ReadOnlyFS or IndexFS snapshot without shipping the raw bytes to a
// browser. goldmark is present in the teacher's go.mod; this package gives
// it a concrete use.
package preview

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	"github.com/yuin/goldmark"
)

var markdownExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".mdown":    true,
}

// IsMarkdown reports whether p's extension marks it as a markdown file.
func IsMarkdown(p string) bool {
	return markdownExtensions[strings.ToLower(path.Ext(p))]
}

// RenderMarkdown converts markdown source to sanitized-by-default HTML
// (goldmark does not execute raw HTML unless explicitly configured to).
func RenderMarkdown(source []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert(source, &buf); err != nil {
		return nil, fmt.Errorf("preview: rendering markdown: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderPath renders content as HTML if path looks like markdown,
// otherwise returns it escaped-as-plain-text within a <pre> block so every
// blob has a renderable preview.
func RenderPath(p string, content []byte) ([]byte, error) {
	if IsMarkdown(p) {
		return RenderMarkdown(content)
	}
	var buf bytes.Buffer
	buf.WriteString("<pre>")
	for _, b := range content {
		switch b {
		case '&':
			buf.WriteString("&amp;")
		case '<':
			buf.WriteString("&lt;")
		case '>':
			buf.WriteString("&gt;")
		default:
			buf.WriteByte(b)
		}
	}
	buf.WriteString("</pre>")
	return buf.Bytes(), nil
}
