package mailer

import (
	"crypto/rand"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/synqronlabs/mailer/mime"
	"github.com/synqronlabs/mailer/utils"
)

// reservedHeaders are emitted by the renderer and cannot be supplied by the
// caller.
var reservedHeaders = []string{"MIME-Version", "Content-Type", "Content-Transfer-Encoding"}

// Builder turns EmailOptions into an Email. Rand feeds Message-ID and
// boundary generation and Now stamps Date and attachment creation dates;
// both default to the system sources.
type Builder struct {
	Rand io.Reader
	Now  func() time.Time
}

// NewBuilder returns a Builder using crypto/rand and the wall clock.
func NewBuilder() *Builder {
	return &Builder{Rand: rand.Reader, Now: time.Now}
}

var defaultBuilder = NewBuilder()

// Build validates opts and resolves its headers using the default Builder.
func Build(opts EmailOptions) (*Email, error) {
	return defaultBuilder.Build(opts)
}

// Build validates opts and resolves its headers.
//
// It fails with *InvalidContentError when neither body is present, with
// ErrNoRecipients when To is empty, and with *InvalidEmailError listing every
// malformed address (from, to, reply, cc, bcc, in that order).
func (b *Builder) Build(opts EmailOptions) (*Email, error) {
	if opts.Text == "" && opts.HTML == "" {
		return nil, &InvalidContentError{Reason: "at least one of text or html must be provided"}
	}
	if len(opts.To) == 0 {
		return nil, ErrNoRecipients
	}

	e := &Email{
		From:        opts.From.User(),
		To:          usersOf(opts.To),
		Cc:          usersOf(opts.Cc),
		Bcc:         usersOf(opts.Bcc),
		Subject:     opts.Subject,
		Text:        opts.Text,
		HTML:        opts.HTML,
		Attachments: opts.Attachments,
		DSNOverride: opts.DSNOverride,
		rand:        b.Rand,
		now:         b.Now,
	}
	if opts.Reply != nil {
		reply := opts.Reply.User()
		e.Reply = &reply
	}
	if e.rand == nil {
		e.rand = rand.Reader
	}
	if e.now == nil {
		e.now = time.Now
	}

	if invalid := invalidAddresses(e); len(invalid) > 0 {
		return nil, &InvalidEmailError{Addresses: invalid}
	}

	headers, err := resolveHeaders(e, opts.Headers)
	if err != nil {
		return nil, err
	}
	e.Headers = headers
	return e, nil
}

func invalidAddresses(e *Email) []string {
	addrs := []string{e.From.Email}
	for _, u := range e.To {
		addrs = append(addrs, u.Email)
	}
	if e.Reply != nil {
		addrs = append(addrs, e.Reply.Email)
	}
	for _, list := range [][]User{e.Cc, e.Bcc} {
		for _, u := range list {
			addrs = append(addrs, u.Email)
		}
	}
	return utils.ValidateEmails(addrs)
}

// resolveHeaders fills in the default headers in fixed order. A caller header
// with the same name (case-insensitive) replaces the default in its slot; the
// remaining caller headers follow, sorted by name.
func resolveHeaders(e *Email, custom map[string]string) (Headers, error) {
	overrides := make(map[string]string, len(custom))
	names := make([]string, 0, len(custom))
	for name, value := range custom {
		if !validHeaderName(name) {
			return nil, &InvalidContentError{Reason: fmt.Sprintf("invalid header name %q", name)}
		}
		if isReserved(name) {
			return nil, &InvalidContentError{Reason: fmt.Sprintf("header %q is set by the renderer", name)}
		}
		overrides[strings.ToLower(name)] = value
		names = append(names, name)
	}
	sort.Strings(names)

	var headers Headers
	used := make(map[string]bool)
	set := func(name string, value func() (string, error)) error {
		key := strings.ToLower(name)
		if v, ok := overrides[key]; ok {
			headers = append(headers, Header{Name: name, Value: v})
			used[key] = true
			return nil
		}
		v, err := value()
		if err != nil {
			return err
		}
		headers = append(headers, Header{Name: name, Value: v})
		return nil
	}
	static := func(v string) func() (string, error) {
		return func() (string, error) { return v, nil }
	}

	steps := []struct {
		name  string
		value func() (string, error)
		when  bool
	}{
		{"From", static(formatAddress(e.From)), true},
		{"To", static(formatAddressList(e.To)), true},
		{"Subject", static(mime.EncodeHeader(e.Subject)), true},
		{"Reply-To", func() (string, error) { return formatAddress(*e.Reply), nil }, e.Reply != nil},
		{"Cc", static(formatAddressList(e.Cc)), len(e.Cc) > 0},
		{"Bcc", static(formatAddressList(e.Bcc)), len(e.Bcc) > 0},
		{"Date", func() (string, error) { return e.now().Format(time.RFC1123Z), nil }, true},
		{"Message-ID", func() (string, error) { return newMessageID(e.rand, e.From.Email) }, true},
	}
	for _, step := range steps {
		if !step.when {
			continue
		}
		if err := set(step.name, step.value); err != nil {
			return nil, err
		}
	}

	for _, name := range names {
		key := strings.ToLower(name)
		if used[key] {
			continue
		}
		used[key] = true
		headers = append(headers, Header{Name: name, Value: overrides[key]})
	}
	return headers, nil
}

// newMessageID returns "<uuid@domain>" with the uuid drawn from rand. The
// domain is the sender's, or "local" when the sender has none.
func newMessageID(rand io.Reader, from string) (string, error) {
	id, err := uuid.NewRandomFromReader(rand)
	if err != nil {
		return "", fmt.Errorf("mailer: generating Message-ID: %w", err)
	}
	domain := utils.Domain(from)
	if domain == "" {
		domain = "local"
	}
	return "<" + id.String() + "@" + domain + ">", nil
}

func validHeaderName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < 33 || c > 126 || c == ':' {
			return false
		}
	}
	return true
}

func isReserved(name string) bool {
	for _, r := range reservedHeaders {
		if strings.EqualFold(r, name) {
			return true
		}
	}
	return false
}

// formatAddress formats a user for a header. Non-ASCII display names are
// RFC 2047 encoded; names with specials are quoted. The address itself is
// never encoded.
func formatAddress(u User) string {
	if u.Name == "" {
		return u.Email
	}
	displayName := u.Name
	if utils.ContainsNonASCII(displayName) {
		displayName = mime.EncodeHeader(displayName)
	} else if strings.ContainsAny(displayName, `"(),.:;<>@[\]`) {
		displayName = `"` + quotedPairs.Replace(displayName) + `"`
	}
	return displayName + " <" + u.Email + ">"
}

var quotedPairs = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// formatAddressList formats multiple addresses for use in headers.
func formatAddressList(users []User) string {
	formatted := make([]string, len(users))
	for i, u := range users {
		formatted[i] = formatAddress(u)
	}
	return strings.Join(formatted, ", ")
}
