package mime

import (
	"io"
	"mime/quotedprintable"
	"strings"
)

const upperHex = "0123456789ABCDEF"

// EncodeQuotedPrintable encodes text as quoted-printable (RFC 2045 §6.7).
//
// LF and CRLF become CRLF hard line breaks; a bare CR is escaped. Control
// characters, '=', bytes above 126 and whitespace immediately before a line
// break (or the end of input) are escaped as =XX. A soft line break is
// inserted before any token that would push the line past lineLength-3
// characters, so no output line exceeds lineLength.
func EncodeQuotedPrintable(text string, lineLength int) string {
	limit := lineLength - 3
	if limit < 3 {
		limit = 3
	}

	var sb strings.Builder
	sb.Grow(len(text) + len(text)/8)

	lineLen := 0
	for i := 0; i < len(text); i++ {
		c := text[i]

		switch {
		case c == '\n':
			sb.WriteString("\r\n")
			lineLen = 0
			continue
		case c == '\r' && i+1 < len(text) && text[i+1] == '\n':
			sb.WriteString("\r\n")
			lineLen = 0
			i++
			continue
		}

		var token []byte
		if needsEscape(text, i) {
			token = []byte{'=', upperHex[c>>4], upperHex[c&0x0f]}
		} else {
			token = []byte{c}
		}

		if lineLen+len(token) > limit {
			sb.WriteString("=\r\n")
			lineLen = 0
		}
		sb.Write(token)
		lineLen += len(token)
	}

	return sb.String()
}

// needsEscape reports whether text[i] must be written as =XX.
func needsEscape(text string, i int) bool {
	c := text[i]
	if c == ' ' || c == '\t' {
		return i+1 >= len(text) || text[i+1] == '\n' || text[i+1] == '\r'
	}
	return c < 32 || c > 126 || c == '='
}

// DecodeQuotedPrintable reverses EncodeQuotedPrintable, removing soft line
// breaks and resolving =XX escapes.
func DecodeQuotedPrintable(encoded string) ([]byte, error) {
	return io.ReadAll(quotedprintable.NewReader(strings.NewReader(encoded)))
}
