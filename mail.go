package mailer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// User is a mailbox with an optional display name.
type User struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Recipient is either a bare address or a User. It is normalized to a User
// as soon as a message is built.
type Recipient struct {
	address string
	user    *User
}

// Addr returns a Recipient for a bare address.
func Addr(email string) Recipient {
	return Recipient{address: email}
}

// Named returns a Recipient with a display name.
func Named(email, name string) Recipient {
	return FromUser(User{Email: email, Name: name})
}

// FromUser wraps u as a Recipient.
func FromUser(u User) Recipient {
	return Recipient{user: &u}
}

// Addrs converts a list of bare addresses.
func Addrs(emails ...string) []Recipient {
	rs := make([]Recipient, len(emails))
	for i, e := range emails {
		rs[i] = Addr(e)
	}
	return rs
}

// User returns the normalized form of r.
func (r Recipient) User() User {
	if r.user != nil {
		return *r.user
	}
	return User{Email: r.address}
}

// IsBare reports whether r was built from a bare address.
func (r Recipient) IsBare() bool {
	return r.user == nil
}

// IsZero reports whether r is unset.
func (r Recipient) IsZero() bool {
	return r.user == nil && r.address == ""
}

func (r Recipient) String() string {
	return formatAddress(r.User())
}

// MarshalJSON writes a bare address as a JSON string and a User as an object.
func (r Recipient) MarshalJSON() ([]byte, error) {
	if r.user != nil {
		return json.Marshal(*r.user)
	}
	return json.Marshal(r.address)
}

// UnmarshalJSON accepts either a string or an {"email", "name"} object.
func (r *Recipient) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = Addr(s)
		return nil
	}

	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return fmt.Errorf("recipient must be a string or an object: %w", err)
	}
	*r = FromUser(u)
	return nil
}

func usersOf(rs []Recipient) []User {
	if len(rs) == 0 {
		return nil
	}
	users := make([]User, len(rs))
	for i, r := range rs {
		users[i] = r.User()
	}
	return users
}

// Attachment is a file carried in the message. Content is base64 text.
// A non-empty CID routes the attachment into the related part as an inline
// resource; Inline is informational only.
type Attachment struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	MimeType string `json:"mime_type,omitempty"`
	CID      string `json:"cid,omitempty"`
	Inline   bool   `json:"inline,omitempty"`
}

// IsInline reports whether the attachment is rendered as an inline part.
func (a Attachment) IsInline() bool {
	return a.CID != ""
}

// DSNRet selects how much of the message a bounce returns (RFC 3461 §4.3).
// Full wins when both are set.
type DSNRet struct {
	Headers bool `json:"headers,omitempty" yaml:"headers"`
	Full    bool `json:"full,omitempty" yaml:"full"`
}

// DSNNotify selects the events that produce a notification (RFC 3461 §4.1).
// No field set means NEVER.
type DSNNotify struct {
	Delay   bool `json:"delay,omitempty" yaml:"delay"`
	Failure bool `json:"failure,omitempty" yaml:"failure"`
	Success bool `json:"success,omitempty" yaml:"success"`
}

// DSNOptions are the session-wide delivery status notification defaults.
type DSNOptions struct {
	Ret    *DSNRet    `json:"ret,omitempty" yaml:"ret"`
	Notify *DSNNotify `json:"notify,omitempty" yaml:"notify"`
}

// DSNOverride replaces the session DSN defaults for one message.
type DSNOverride struct {
	EnvelopeID string     `json:"envelope_id,omitempty"`
	Ret        *DSNRet    `json:"ret,omitempty"`
	Notify     *DSNNotify `json:"notify,omitempty"`
}

// EmailOptions is the caller's description of a message. An empty Text or
// HTML means that body is absent; at least one must be set.
type EmailOptions struct {
	From        Recipient         `json:"from"`
	To          []Recipient       `json:"to"`
	Reply       *Recipient        `json:"reply,omitempty"`
	Cc          []Recipient       `json:"cc,omitempty"`
	Bcc         []Recipient       `json:"bcc,omitempty"`
	Subject     string            `json:"subject"`
	Text        string            `json:"text,omitempty"`
	HTML        string            `json:"html,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	DSNOverride *DSNOverride      `json:"dsn_override,omitempty"`
}

// Recipients returns the envelope recipients: to, then cc, then bcc.
func (o *EmailOptions) Recipients() []Recipient {
	all := make([]Recipient, 0, len(o.To)+len(o.Cc)+len(o.Bcc))
	all = append(all, o.To...)
	all = append(all, o.Cc...)
	return append(all, o.Bcc...)
}

// Header is a single resolved header field.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Headers is an ordered header list.
type Headers []Header

// Get returns the first header value with the given name (case-insensitive).
func (h Headers) Get(name string) string {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			return hdr.Value
		}
	}
	return ""
}

// Has reports whether a header with the given name is present.
func (h Headers) Has(name string) bool {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			return true
		}
	}
	return false
}

// Email is a validated message with resolved headers, ready to render.
// Headers are fixed at build time; rendering never regenerates them.
type Email struct {
	From        User
	To          []User
	Reply       *User
	Cc          []User
	Bcc         []User
	Subject     string
	Text        string
	HTML        string
	Headers     Headers
	Attachments []Attachment
	DSNOverride *DSNOverride

	rand io.Reader
	now  func() time.Time
}

// Recipients returns the envelope recipient addresses: to, then cc, then bcc.
func (e *Email) Recipients() []string {
	all := make([]string, 0, len(e.To)+len(e.Cc)+len(e.Bcc))
	for _, list := range [][]User{e.To, e.Cc, e.Bcc} {
		for _, u := range list {
			all = append(all, u.Email)
		}
	}
	return all
}

// MessageID returns the resolved Message-ID header.
func (e *Email) MessageID() string {
	return e.Headers.Get("Message-ID")
}
