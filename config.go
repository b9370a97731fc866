package mailer

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/synqronlabs/mailer/dns"
	"github.com/synqronlabs/mailer/sasl"
)

// LogLevel selects the verbosity of the logger built when Options.Logger is nil.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
	LogNone  LogLevel = "none"
)

// UnmarshalText accepts the level names case-insensitively.
func (l *LogLevel) UnmarshalText(text []byte) error {
	switch v := LogLevel(strings.ToLower(strings.TrimSpace(string(text)))); v {
	case LogDebug, LogInfo, LogWarn, LogError, LogNone:
		*l = v
		return nil
	case "":
		*l = LogInfo
		return nil
	default:
		return fmt.Errorf("mailer: unknown log level %q", text)
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Options configures a session.
//
// The zero value of every field is usable: Port defaults to 587, STARTTLS is
// attempted when the server offers it, and authentication prefers PLAIN then
// LOGIN.
type Options struct {
	// Host is the SMTP server, or the recipient domain when ResolveMX is set.
	Host string
	// Port defaults to 587.
	Port int
	// Secure dials with implicit TLS (typically port 465).
	Secure bool
	// DisableStartTLS skips the STARTTLS upgrade even when it is advertised.
	DisableStartTLS bool

	// Credentials enables AUTH when the server advertises it.
	Credentials *sasl.Credentials
	// AuthTypes is the mechanism preference order. Default: PLAIN, LOGIN.
	AuthTypes []sasl.Mechanism

	// DSN holds the session-wide delivery status notification defaults.
	DSN *DSNOptions

	// SocketTimeout bounds the dial and each write. Default: 60s.
	SocketTimeout time.Duration
	// ResponseTimeout bounds each reply read. Default: 30s.
	ResponseTimeout time.Duration

	// LocalName is the EHLO/HELO argument. Default: "localhost".
	LocalName string
	// TLSConfig is used for implicit TLS and STARTTLS. ServerName defaults
	// to Host.
	TLSConfig *tls.Config

	// Proxy is a proxy URL (socks5://, socks5h://) the connection is dialed
	// through.
	Proxy string

	// ResolveMX treats Host as a mail domain and connects to its preferred
	// exchanger.
	ResolveMX bool
	// Resolver is used when ResolveMX is set. Default: dns.NewResolver with
	// the system configuration.
	Resolver dns.Resolver

	// Logger receives session logs. When nil a text handler on stderr is
	// built at LogLevel.
	Logger *slog.Logger
	// LogLevel applies only when Logger is nil. Default: info.
	LogLevel LogLevel

	Hooks Hooks
}

// Default option values.
const (
	DefaultPort            = 587
	DefaultLocalName       = "localhost"
	DefaultSocketTimeout   = 60 * time.Second
	DefaultResponseTimeout = 30 * time.Second
)

// DefaultAuthTypes is the mechanism preference used when Options.AuthTypes is
// empty.
var DefaultAuthTypes = []sasl.Mechanism{sasl.MechanismPlain, sasl.MechanismLogin}

// DefaultOptions returns Options for host with every default filled in.
func DefaultOptions(host string) Options {
	return Options{Host: host}.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.LocalName == "" {
		o.LocalName = DefaultLocalName
	}
	if o.SocketTimeout <= 0 {
		o.SocketTimeout = DefaultSocketTimeout
	}
	if o.ResponseTimeout <= 0 {
		o.ResponseTimeout = DefaultResponseTimeout
	}
	if len(o.AuthTypes) == 0 {
		o.AuthTypes = append([]sasl.Mechanism(nil), DefaultAuthTypes...)
	}
	if o.LogLevel == "" {
		o.LogLevel = LogInfo
	}
	return o
}

// logger returns the configured logger, or builds one from LogLevel.
func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	if o.LogLevel == LogNone {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: o.LogLevel.slogLevel()}))
}
