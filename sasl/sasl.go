// Package sasl implements the client side of SMTP authentication (RFC 4954).
package sasl

import (
	"errors"
	"fmt"
	"strings"
)

// Mechanism names a SASL mechanism as advertised in an EHLO AUTH line.
type Mechanism string

const (
	MechanismPlain   Mechanism = "PLAIN"
	MechanismLogin   Mechanism = "LOGIN"
	MechanismCramMD5 Mechanism = "CRAM-MD5"
)

// Mechanisms lists every mechanism this package knows by name.
var Mechanisms = []Mechanism{MechanismPlain, MechanismLogin, MechanismCramMD5}

var (
	// ErrMechanismUnsupported is returned for a recognized mechanism that has
	// no client implementation.
	ErrMechanismUnsupported = errors.New("sasl: mechanism not supported")

	// ErrUnexpectedChallenge is returned when the server keeps challenging
	// after the exchange should have completed.
	ErrUnexpectedChallenge = errors.New("sasl: unexpected server challenge")
)

// ParseMechanism maps an advertised token to a known mechanism,
// case-insensitively. "crammd5" is accepted as an alias for CRAM-MD5.
func ParseMechanism(s string) (Mechanism, bool) {
	m := Mechanism(strings.ToUpper(strings.TrimSpace(s)))
	if m == "CRAMMD5" {
		m = MechanismCramMD5
	}
	for _, known := range Mechanisms {
		if m == known {
			return m, true
		}
	}
	return "", false
}

func (m Mechanism) String() string {
	return string(m)
}

func (m Mechanism) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(string(m))), nil
}

func (m *Mechanism) UnmarshalText(text []byte) error {
	parsed, ok := ParseMechanism(string(text))
	if !ok {
		return fmt.Errorf("sasl: unknown mechanism %q", string(text))
	}
	*m = parsed
	return nil
}

// Credentials holds the secret material used by every mechanism.
type Credentials struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

// Client drives one authentication exchange.
type Client interface {
	// Mechanism returns the mechanism this client speaks.
	Mechanism() Mechanism
	// Start returns the initial response to send with the AUTH command, or
	// nil when the mechanism waits for a server challenge first.
	Start() (ir []byte, err error)
	// Next answers a decoded server challenge.
	Next(challenge []byte) (response []byte, err error)
	// Done reports whether every credential has been sent. A server that
	// accepts the exchange before then has not authenticated anyone.
	Done() bool
}

// NewClient returns a client for mechanism m.
func NewClient(m Mechanism, creds Credentials) (Client, error) {
	switch m {
	case MechanismPlain:
		return newPlain(creds), nil
	case MechanismLogin:
		return newLogin(creds), nil
	case MechanismCramMD5:
		return nil, fmt.Errorf("%w: %s", ErrMechanismUnsupported, m)
	default:
		return nil, fmt.Errorf("%w: %q", ErrMechanismUnsupported, string(m))
	}
}
