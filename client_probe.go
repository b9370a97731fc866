package mailer

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/synqronlabs/mailer/sasl"
)

// Extension keywords the client acts on.
const (
	ExtSTARTTLS = "STARTTLS"
	ExtAuth     = "AUTH"
	ExtDSN      = "DSN"
)

// Capabilities is what the server advertised in its last EHLO reply. It is
// empty after a HELO fallback and reset by STARTTLS.
type Capabilities struct {
	ESMTP    bool
	StartTLS bool
	DSN      bool
	Auth     bool
	// AuthTypes lists the recognized mechanisms in advertised order.
	AuthTypes []sasl.Mechanism
	// Extensions maps every advertised keyword (upper-cased) to its
	// parameters.
	Extensions map[string]string
}

// parseCapabilities reads the keyword lines of an EHLO reply; the first line
// carries the server's domain and greeting and is skipped. Both
// "AUTH mech..." and the legacy "AUTH=mech..." forms are accepted.
func parseCapabilities(lines []string) Capabilities {
	caps := Capabilities{ESMTP: true, Extensions: make(map[string]string)}
	seen := make(map[sasl.Mechanism]bool)

	if len(lines) > 0 {
		lines = lines[1:]
	}
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		keyword := strings.ToUpper(fields[0])
		params := fields[1:]
		if rest, ok := strings.CutPrefix(keyword, "AUTH="); ok {
			keyword = ExtAuth
			params = append([]string{rest}, params...)
		}

		switch keyword {
		case ExtSTARTTLS:
			caps.StartTLS = true
		case ExtDSN:
			caps.DSN = true
		case ExtAuth:
			caps.Auth = true
			for _, p := range params {
				m, ok := sasl.ParseMechanism(p)
				if !ok || seen[m] {
					continue
				}
				seen[m] = true
				caps.AuthTypes = append(caps.AuthTypes, m)
			}
		}

		if prev, ok := caps.Extensions[keyword]; ok && keyword == ExtAuth {
			caps.Extensions[keyword] = strings.TrimSpace(prev + " " + strings.Join(params, " "))
		} else {
			caps.Extensions[keyword] = strings.Join(params, " ")
		}
	}
	return caps
}

// Has reports whether the keyword was advertised.
func (c Capabilities) Has(keyword string) bool {
	_, ok := c.Extensions[strings.ToUpper(keyword)]
	return ok
}

// SupportsAuth checks if a specific auth mechanism is supported.
func (c Capabilities) SupportsAuth(m sasl.Mechanism) bool {
	for _, am := range c.AuthTypes {
		if am == m {
			return true
		}
	}
	return false
}

// String returns a human-readable summary of the server capabilities.
func (c Capabilities) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "ESMTP: %v\n", c.ESMTP)
	fmt.Fprintf(&sb, "STARTTLS: %v\n", c.StartTLS)
	fmt.Fprintf(&sb, "DSN: %v\n", c.DSN)
	if c.Auth {
		fmt.Fprintf(&sb, "AUTH: %s\n", joinMechanisms(c.AuthTypes))
	}
	return sb.String()
}

// Capabilities returns a copy of the capabilities currently in effect.
func (c *Client) Capabilities() Capabilities {
	c.mu.Lock()
	defer c.mu.Unlock()

	caps := c.caps
	caps.AuthTypes = append([]sasl.Mechanism(nil), c.caps.AuthTypes...)
	caps.Extensions = maps.Clone(c.caps.Extensions)
	return caps
}

// TLS returns the state of the session's TLS layer.
func (c *Client) TLS() TLSInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.t == nil {
		return TLSInfo{}
	}
	return c.t.tls
}

// Greeting returns the text of the server's 220 greeting.
func (c *Client) Greeting() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.greeting
}

// LastReply returns the text of the most recent server reply.
func (c *Client) LastReply() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastReply == nil {
		return ""
	}
	return c.lastReply.String()
}

// Probe connects, negotiates (including STARTTLS unless disabled) and returns
// the server's capabilities without authenticating or sending mail.
func Probe(ctx context.Context, opts Options) (Capabilities, error) {
	c := newClient(opts)
	if err := c.open(ctx, false); err != nil {
		return Capabilities{}, err
	}
	caps := c.Capabilities()
	return caps, c.Close(ctx)
}
