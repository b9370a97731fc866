// Package mime implements the encoders used to serialize outbound MIME
// messages (RFC 2045, RFC 2046, RFC 2047).
package mime

import (
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"
)

// ContentTransferEncoding represents the encoding used for the MIME part's body.
type ContentTransferEncoding string

const (
	// Encoding7Bit is for 7-bit ASCII data (RFC 2045 default).
	Encoding7Bit ContentTransferEncoding = "7bit"
	// EncodingQuotedPrintable is for quoted-printable encoding.
	EncodingQuotedPrintable ContentTransferEncoding = "quoted-printable"
	// EncodingBase64 is for base64 encoding.
	EncodingBase64 ContentTransferEncoding = "base64"
)

// Line widths used when serializing message bodies.
const (
	// QuotedPrintableLineLength is the RFC 2045 maximum encoded line length.
	QuotedPrintableLineLength = 76
	// Base64LineLength is the wrap width used for attachment bodies.
	Base64LineLength = 72
)

// PartKind tags a multipart boundary with the kind of container it delimits.
type PartKind string

const (
	KindMixed       PartKind = "mixed"
	KindRelated     PartKind = "related"
	KindAlternative PartKind = "alternative"
)

// boundaryRandomBytes is the number of random octets in a boundary token.
const boundaryRandomBytes = 28

// boundarySpecials are characters that may not appear unquoted in a boundary
// parameter value (RFC 2045 tspecials plus space).
const boundarySpecials = "<>@,;:\\/[]?=\" "

// Boundary generates a multipart boundary for the given kind, drawing its
// randomness from rand. The result is "<kind>_<hex>" with any character
// illegal in a boundary token replaced by '_'.
func Boundary(rand io.Reader, kind PartKind) (string, error) {
	b := make([]byte, boundaryRandomBytes)
	if _, err := io.ReadFull(rand, b); err != nil {
		return "", fmt.Errorf("mime: reading boundary entropy: %w", err)
	}
	return sanitizeBoundary(string(kind) + "_" + hex.EncodeToString(b)), nil
}

func sanitizeBoundary(s string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(boundarySpecials, r) {
			return '_'
		}
		return r
	}, s)
}

// mediaTypes maps lower-case file extensions to media types.
var mediaTypes = map[string]string{
	"txt":  "text/plain",
	"html": "text/html",
	"csv":  "text/csv",
	"pdf":  "application/pdf",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"zip":  "application/zip",
}

// DefaultMediaType is used for attachments with an unknown extension.
const DefaultMediaType = "application/octet-stream"

// TypeByFilename infers a media type from the extension of filename.
func TypeByFilename(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	if t, ok := mediaTypes[ext]; ok {
		return t
	}
	return DefaultMediaType
}
