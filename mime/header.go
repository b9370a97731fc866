package mime

import (
	"strings"
	"unicode/utf8"

	"github.com/synqronlabs/mailer/utils"
)

const (
	// MaxHeaderLineLength is the RFC 5322 recommended line limit.
	MaxHeaderLineLength = 78

	encodedWordPrefix = "=?UTF-8?Q?"
	encodedWordSuffix = "?="
	// maxEncodedWordLength is the RFC 2047 §2 limit on a single encoded-word.
	maxEncodedWordLength = 75
	maxEncodedText       = maxEncodedWordLength - len(encodedWordPrefix) - len(encodedWordSuffix)
)

// qSpecials are printable characters that are escaped inside Q-encoded words
// so the words stay valid in phrase (display name) position as well as in
// unstructured fields.
const qSpecials = "?=_\"(),.:;<>@[\\]"

// EncodeHeader encodes text as one or more RFC 2047 Q-encoded words when it
// contains non-ASCII characters, and returns it unchanged otherwise. Words are
// split on rune boundaries so that none exceeds 75 characters; consecutive
// words are separated by a single space, which decoders discard.
func EncodeHeader(text string) string {
	if !utils.ContainsNonASCII(text) {
		return text
	}

	var words []string
	var cur strings.Builder
	for len(text) > 0 {
		_, size := utf8.DecodeRuneInString(text)
		enc := qEncode(text[:size])
		text = text[size:]

		if cur.Len()+len(enc) > maxEncodedText && cur.Len() > 0 {
			words = append(words, encodedWordPrefix+cur.String()+encodedWordSuffix)
			cur.Reset()
		}
		cur.WriteString(enc)
	}
	if cur.Len() > 0 {
		words = append(words, encodedWordPrefix+cur.String()+encodedWordSuffix)
	}
	return strings.Join(words, " ")
}

func qEncode(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == ' ':
			sb.WriteByte('_')
		case c >= 33 && c <= 126 && !strings.ContainsRune(qSpecials, rune(c)):
			sb.WriteByte(c)
		default:
			sb.WriteByte('=')
			sb.WriteByte(upperHex[c>>4])
			sb.WriteByte(upperHex[c&0x0f])
		}
	}
	return sb.String()
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// FoldHeader renders "name: value" and folds it at whitespace so that lines
// stay within MaxHeaderLineLength where the value allows it (RFC 5322
// §2.2.3). Embedded line breaks in value are replaced by spaces. The result
// carries no trailing CRLF.
func FoldHeader(name, value string) string {
	value = lineBreaks.Replace(value)

	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteString(": ")
	lineLen := len(name) + 2

	for i, word := range strings.Split(value, " ") {
		if i > 0 {
			if lineLen+1+len(word) > MaxHeaderLineLength && lineLen > 1 {
				sb.WriteString("\r\n ")
				lineLen = 1
			} else {
				sb.WriteByte(' ')
				lineLen++
			}
		}
		sb.WriteString(word)
		lineLen += len(word)
	}
	return sb.String()
}
