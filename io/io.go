// Package io implements the line-level pieces of the SMTP client wire
// protocol: multi-line reply parsing (RFC 5321 §4.2) and the transparency
// procedure applied to message content (RFC 5321 §4.5.2).
package io

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MaxReplyLineLength bounds a single reply line, terminator included.
// RFC 5321 §4.5.3.1.5 allows 512 octets; servers are given some slack.
const MaxReplyLineLength = 4096

var (
	ErrLineTooLong    = errors.New("smtp: reply line too long")
	ErrMalformedReply = errors.New("smtp: malformed reply")
)

// Reply is a complete, possibly multi-line, server reply.
type Reply struct {
	// Code is the three digit reply code taken from the first line.
	Code int
	// Lines holds the text of each line after the code and separator.
	// A line that is not valid UTF-8 contributes an empty string.
	Lines []string
	// Raw holds each decoded line as received, without its terminator.
	Raw []string
}

// Message returns the reply text with lines joined by "\n".
func (r *Reply) Message() string {
	return strings.Join(r.Lines, "\n")
}

// String returns the reply as received, lines joined by CRLF.
func (r *Reply) String() string {
	return strings.Join(r.Raw, "\r\n")
}

// Class returns the first digit of the reply code.
func (r *Reply) Class() int {
	return r.Code / 100
}

// Positive reports a 2yz completion reply.
func (r *Reply) Positive() bool { return r.Class() == 2 }

// Intermediate reports a 3yz reply.
func (r *Reply) Intermediate() bool { return r.Class() == 3 }

// EnhancedCode returns the RFC 3463 status code at the start of the first
// line, or "" if there is none.
func (r *Reply) EnhancedCode() string {
	if len(r.Lines) == 0 {
		return ""
	}
	return ParseEnhancedCode(r.Lines[0])
}

// ReadReply reads lines until it sees a final line, one whose fourth
// character is not '-'. The reply code is taken from the first line.
func ReadReply(reader *bufio.Reader) (*Reply, error) {
	reply := &Reply{}
	for {
		line, err := ReadLine(reader, MaxReplyLineLength)
		if err != nil {
			return nil, err
		}
		if len(line) < 3 {
			return nil, fmt.Errorf("%w: line too short: %q", ErrMalformedReply, line)
		}

		if len(reply.Raw) == 0 {
			code, err := strconv.Atoi(string(line[:3]))
			if err != nil || code < 100 || code > 599 {
				return nil, fmt.Errorf("%w: invalid code: %q", ErrMalformedReply, line)
			}
			reply.Code = code
		}

		text, raw := "", ""
		if utf8.Valid(line) {
			raw = string(line)
			if len(line) > 4 {
				text = raw[4:]
			}
		}
		reply.Lines = append(reply.Lines, text)
		reply.Raw = append(reply.Raw, raw)

		if len(line) == 3 || line[3] != '-' {
			return reply, nil
		}
	}
}

// ReadLine reads one newline-terminated line and returns it without the
// trailing LF or CRLF. Lines longer than max are drained and rejected with
// ErrLineTooLong.
func ReadLine(reader *bufio.Reader, max int) ([]byte, error) {
	line, err := reader.ReadSlice('\n')
	if err == nil {
		if len(line) > max {
			return nil, ErrLineTooLong
		}
		return trimEOL(append([]byte(nil), line...)), nil
	}
	if err != bufio.ErrBufferFull {
		return nil, err
	}

	// The line is larger than the bufio buffer; accumulate chunks.
	buf := append([]byte(nil), line...)
	for {
		line, err = reader.ReadSlice('\n')
		if len(buf)+len(line) > max {
			if err == bufio.ErrBufferFull {
				drainLine(reader)
			}
			return nil, ErrLineTooLong
		}
		buf = append(buf, line...)
		if err == nil {
			return trimEOL(buf), nil
		}
		if err != bufio.ErrBufferFull {
			return nil, err
		}
	}
}

func trimEOL(b []byte) []byte {
	b = b[:len(b)-1]
	if len(b) > 0 && b[len(b)-1] == '\r' {
		b = b[:len(b)-1]
	}
	return b
}

// drainLine discards the rest of the current line to recover protocol synchronization.
func drainLine(reader *bufio.Reader) {
	for {
		_, err := reader.ReadSlice('\n')
		if err != bufio.ErrBufferFull {
			return
		}
	}
}

// ParseEnhancedCode extracts a "class.subject.detail" status code from the
// start of msg.
func ParseEnhancedCode(msg string) string {
	end := strings.IndexByte(msg, ' ')
	if end < 0 {
		end = len(msg)
	}
	candidate := msg[:end]

	parts := strings.Split(candidate, ".")
	if len(parts) != 3 {
		return ""
	}
	if len(parts[0]) != 1 || (parts[0] != "2" && parts[0] != "4" && parts[0] != "5") {
		return ""
	}
	for _, p := range parts[1:] {
		if len(p) == 0 || len(p) > 3 {
			return ""
		}
		for i := 0; i < len(p); i++ {
			if p[i] < '0' || p[i] > '9' {
				return ""
			}
		}
	}
	return candidate
}

// DotStuff applies SMTP transparency: any line beginning with a period gets
// an additional period prepended.
func DotStuff(data []byte) []byte {
	count := 0
	atLineStart := true
	for _, b := range data {
		if atLineStart && b == '.' {
			count++
		}
		atLineStart = b == '\n'
	}
	if count == 0 {
		return data
	}

	result := make([]byte, 0, len(data)+count)
	atLineStart = true
	for _, b := range data {
		if atLineStart && b == '.' {
			result = append(result, '.')
		}
		result = append(result, b)
		atLineStart = b == '\n'
	}
	return result
}
