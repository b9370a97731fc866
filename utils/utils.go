package utils

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ErrInvalidUTF8 is returned by Decode when the input is not valid UTF-8.
var ErrInvalidUTF8 = errors.New("utils: invalid UTF-8 sequence")

const (
	maxLocalPartLength = 64
	maxDomainLength    = 255
	minTLDLength       = 2
)

// emailPattern is a simplified RFC 5322 addr-spec: a dot-atom-like local part
// and one or more LDH domain labels of at most 63 characters.
var emailPattern = regexp.MustCompile(
	"^[a-zA-Z0-9.!#$%&'*+/=?^_`{|}~-]+@" +
		"[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?" +
		"(?:\\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$",
)

// IsValidEmail reports whether address is syntactically acceptable as an
// envelope address. Display names and angle brackets are not accepted.
func IsValidEmail(address string) bool {
	if address == "" || !emailPattern.MatchString(address) {
		return false
	}

	local, domain, ok := strings.Cut(address, "@")
	if !ok || strings.Contains(domain, "@") {
		return false
	}
	if len(local) > maxLocalPartLength || len(domain) > maxDomainLength {
		return false
	}

	dot := strings.LastIndexByte(domain, '.')
	if dot < 0 {
		return false
	}
	return len(domain)-dot-1 >= minTLDLength
}

// ValidateEmails returns the addresses that fail IsValidEmail, in input order.
// Duplicates are reported as many times as they occur.
func ValidateEmails(addresses []string) []string {
	var invalid []string
	for _, addr := range addresses {
		if !IsValidEmail(addr) {
			invalid = append(invalid, addr)
		}
	}
	return invalid
}

// Domain returns the part of address after the last '@', or "" if there is none.
func Domain(address string) string {
	i := strings.LastIndexByte(address, '@')
	if i < 0 || i == len(address)-1 {
		return ""
	}
	return address[i+1:]
}

// Encode returns the UTF-8 bytes of s.
func Encode(s string) []byte {
	return []byte(s)
}

// Decode converts b to a string, failing if b is not valid UTF-8.
func Decode(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}

// ContainsNonASCII checks if a string contains any non-ASCII characters (bytes > 127).
// This works for both string validation (addresses, headers) and message content validation.
func ContainsNonASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return true
		}
	}
	return false
}
