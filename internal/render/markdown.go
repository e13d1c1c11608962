// Package render converts answer text to HTML that is safe to embed.
package render

import (
	"bytes"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	markdownInstance goldmark.Markdown
	markdownOnce     sync.Once
)

// The renderer keeps goldmark's safe defaults: raw HTML is dropped and
// dangerous link schemes are not emitted.
func markdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownInstance = goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
			),
		)
	})
	return markdownInstance
}

// Markdown renders text as sanitized HTML.
func Markdown(text string) (string, error) {
	if text == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := markdown().Convert([]byte(text), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
