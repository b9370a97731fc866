package mailer

import (
	"strings"
	"time"

	"github.com/synqronlabs/mailer/io"
	"github.com/synqronlabs/mailer/mime"
	"github.com/synqronlabs/mailer/utils"
)

// Message serializes the email as a multipart/mixed MIME document, CRLF
// line endings throughout, without SMTP transparency applied.
//
// Layout:
//
//	multipart/mixed
//	├── multipart/related        (only with inline attachments)
//	│   ├── multipart/alternative
//	│   │   ├── text/plain       (quoted-printable)
//	│   │   └── text/html        (quoted-printable)
//	│   └── inline parts         (base64, Content-ID)
//	└── attachment parts         (base64)
//
// Each call draws fresh boundaries.
func (e *Email) Message() ([]byte, error) {
	mixed, err := mime.Boundary(e.rand, mime.KindMixed)
	if err != nil {
		return nil, err
	}
	related, err := mime.Boundary(e.rand, mime.KindRelated)
	if err != nil {
		return nil, err
	}
	alternative, err := mime.Boundary(e.rand, mime.KindAlternative)
	if err != nil {
		return nil, err
	}

	var inline, regular []Attachment
	for _, a := range e.Attachments {
		if a.IsInline() {
			inline = append(inline, a)
		} else {
			regular = append(regular, a)
		}
	}

	var sb strings.Builder

	sb.WriteString("MIME-Version: 1.0\r\n")
	for _, h := range e.Headers {
		sb.WriteString(mime.FoldHeader(h.Name, h.Value))
		sb.WriteString("\r\n")
	}
	sb.WriteString(`Content-Type: multipart/mixed; boundary="` + mixed + "\"\r\n\r\n")

	sb.WriteString("--" + mixed + "\r\n")
	if len(inline) > 0 {
		sb.WriteString(`Content-Type: multipart/related; boundary="` + related + "\"\r\n\r\n")
		sb.WriteString("--" + related + "\r\n")
	}

	sb.WriteString(`Content-Type: multipart/alternative; boundary="` + alternative + "\"\r\n\r\n")
	writeTextPart(&sb, alternative, "text/plain", e.Text)
	writeTextPart(&sb, alternative, "text/html", e.HTML)
	sb.WriteString("--" + alternative + "--\r\n")

	for _, a := range inline {
		sb.WriteString("--" + related + "\r\n")
		sb.WriteString("Content-Type: " + mediaType(a) + "; name=" + quoteParam(a.Filename) + "\r\n")
		sb.WriteString("Content-Transfer-Encoding: base64\r\n")
		sb.WriteString("Content-ID: <" + a.CID + ">\r\n")
		sb.WriteString("Content-Disposition: inline; filename=" + quoteParam(a.Filename) + "\r\n\r\n")
		sb.WriteString(mime.WrapBase64(a.Content, mime.Base64LineLength))
		sb.WriteString("\r\n")
	}
	if len(inline) > 0 {
		sb.WriteString("--" + related + "--\r\n")
	}

	created := e.now().Format(time.RFC1123Z)
	for _, a := range regular {
		sb.WriteString("--" + mixed + "\r\n")
		sb.WriteString("Content-Type: " + mediaType(a) + "; name=" + quoteParam(a.Filename) + "\r\n")
		sb.WriteString(mime.FoldHeader("Content-Description", mime.EncodeHeader(a.Filename)) + "\r\n")
		sb.WriteString("Content-Disposition: attachment; filename=" + quoteParam(a.Filename) + ";\r\n")
		sb.WriteString(` creation-date="` + created + "\"\r\n")
		sb.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
		sb.WriteString(mime.WrapBase64(a.Content, mime.Base64LineLength))
		sb.WriteString("\r\n")
	}

	sb.WriteString("--" + mixed + "--\r\n")

	return utils.Encode(sb.String()), nil
}

// Render returns the DATA payload: the message with dot-stuffing applied and
// the terminating "." line appended.
func (e *Email) Render() ([]byte, error) {
	msg, err := e.Message()
	if err != nil {
		return nil, err
	}
	stuffed := io.DotStuff(msg)
	return append(stuffed, '.', '\r', '\n'), nil
}

func writeTextPart(sb *strings.Builder, boundary, contentType, body string) {
	if body == "" {
		return
	}
	sb.WriteString("--" + boundary + "\r\n")
	sb.WriteString("Content-Type: " + contentType + "; charset=\"UTF-8\"\r\n")
	sb.WriteString("Content-Transfer-Encoding: " + string(mime.EncodingQuotedPrintable) + "\r\n\r\n")
	sb.WriteString(mime.EncodeQuotedPrintable(body, mime.QuotedPrintableLineLength))
	sb.WriteString("\r\n\r\n")
}

func mediaType(a Attachment) string {
	if a.MimeType != "" {
		return a.MimeType
	}
	return mime.TypeByFilename(a.Filename)
}

var paramEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\r", "", "\n", "")

// quoteParam renders a parameter value as a quoted-string, RFC 2047 encoding
// non-ASCII names.
func quoteParam(v string) string {
	return `"` + paramEscaper.Replace(mime.EncodeHeader(v)) + `"`
}
