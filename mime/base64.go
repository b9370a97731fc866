package mime

import (
	"strings"
)

var base64Whitespace = strings.NewReplacer("\r", "", "\n", "", " ", "", "\t", "")

// WrapBase64 splits already base64-encoded content into CRLF-terminated lines
// of at most width characters. Existing whitespace in content is discarded
// first so callers may pass pre-wrapped input.
func WrapBase64(content string, width int) string {
	content = base64Whitespace.Replace(content)
	if content == "" {
		return ""
	}
	if width <= 0 {
		width = Base64LineLength
	}

	var sb strings.Builder
	sb.Grow(len(content) + 2*(len(content)/width+1))
	for len(content) > width {
		sb.WriteString(content[:width])
		sb.WriteString("\r\n")
		content = content[width:]
	}
	sb.WriteString(content)
	sb.WriteString("\r\n")
	return sb.String()
}
