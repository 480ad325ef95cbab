package coaching

import (
	"bytes"

	"github.com/yuin/goldmark"
)

// renderMarkdown converts the model's markdown explanation text into HTML
// for the editor UI to display, mirroring nevindra-oasis's use of goldmark
// to turn LLM markdown output into UI-ready content. Unlike that teacher's
// custom Telegram node renderer, coaching messages go straight to a web
// UI that already renders HTML, so the default goldmark renderer suffices.
func renderMarkdown(md string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return md
	}
	return buf.String()
}
