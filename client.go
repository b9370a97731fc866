package mailer

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	smtpio "github.com/synqronlabs/mailer/io"
	"github.com/synqronlabs/mailer/sasl"
)

// maxAuthRounds bounds the number of 334 challenges accepted in one exchange.
const maxAuthRounds = 8

var (
	errNoHost         = errors.New("no host configured")
	errAuthIncomplete = errors.New("server accepted before all credentials were sent")
)

// Client is a single SMTP session. It is safe for concurrent use, but
// commands are serialized: one transaction runs at a time.
type Client struct {
	opts    Options
	logger  *slog.Logger
	hooks   Hooks
	builder *Builder

	mu         sync.Mutex
	state      State
	t          *transport
	serverName string
	caps       Capabilities
	greeting   string
	lastReply  *smtpio.Reply

	// pending holds hook calls queued under mu; unlock runs them.
	pending []func()
}

func newClient(opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		opts:    opts,
		logger:  opts.logger(),
		hooks:   opts.Hooks,
		builder: defaultBuilder,
		state:   StateDisconnected,
	}
}

// Connect opens a session: it dials, reads the greeting, negotiates
// capabilities, upgrades with STARTTLS when offered and authenticates when
// AUTH is advertised. The returned Client is Ready.
//
// On failure the transport is closed, OnError and OnClose fire, and the error
// is one of *ConnectionError, *AuthError or *TimeoutError.
func Connect(ctx context.Context, opts Options) (*Client, error) {
	c := newClient(opts)
	if err := c.open(ctx, true); err != nil {
		return nil, err
	}
	c.hooks.connected()
	return c, nil
}

// open runs the session setup. Any failure closes the session.
func (c *Client) open(ctx context.Context, authenticate bool) error {
	c.mu.Lock()
	defer c.unlock()

	if c.opts.Host == "" {
		return c.setupFailed(ctx, &ConnectionError{Op: "connect", Err: errNoHost})
	}

	host, err := c.resolveHost(ctx)
	if err != nil {
		return c.setupFailed(ctx, err)
	}
	c.serverName = host
	c.logger = c.logger.With(slog.String("host", host), slog.Int("port", c.opts.Port))

	conn, err := dial(ctx, c.opts, host)
	if err != nil {
		err = c.ioError(ctx, "dial", err)
		c.logger.Warn("smtp dial failed", slog.Any("error", err))
		return c.setupFailed(ctx, err)
	}
	c.t = newTransport(conn, c.opts.SocketTimeout, c.opts.ResponseTimeout)

	if err := c.handshake(ctx, authenticate); err != nil {
		return c.setupFailed(ctx, err)
	}

	c.state = StateReady
	c.logger.Info("smtp session ready",
		slog.Bool("tls", c.t.tls.Enabled),
		slog.Bool("esmtp", c.caps.ESMTP),
		slog.Bool("dsn", c.caps.DSN),
		slog.String("state", c.state.String()),
	)
	return nil
}

func (c *Client) setupFailed(ctx context.Context, err error) error {
	c.notify(func() { c.hooks.failed(nil, err) })
	c.abort(ctx, err)
	return err
}

func (c *Client) handshake(ctx context.Context, authenticate bool) error {
	reply, err := c.reply(ctx, "greeting")
	if err != nil {
		return err
	}
	if reply.Code != 220 {
		return &ConnectionError{Op: "greeting", Reply: reply.String()}
	}
	c.greeting = reply.Message()
	c.state = StateConnected

	if err := c.hello(ctx); err != nil {
		return err
	}

	if !c.opts.Secure && !c.opts.DisableStartTLS && c.caps.StartTLS {
		if err := c.startTLS(ctx); err != nil {
			return err
		}
		if err := c.hello(ctx); err != nil {
			return err
		}
	}

	if !authenticate {
		return nil
	}
	return c.authenticate(ctx)
}

// hello sends EHLO, falling back to HELO when the server rejects it. A 421
// reply is final.
func (c *Client) hello(ctx context.Context) error {
	reply, err := c.cmd(ctx, "ehlo", "EHLO "+c.opts.LocalName)
	if err != nil {
		return err
	}

	switch {
	case reply.Code == 421:
		return &ConnectionError{Op: "ehlo", Reply: reply.String()}
	case reply.Positive():
		c.caps = parseCapabilities(reply.Lines)
	default:
		reply, err = c.cmd(ctx, "helo", "HELO "+c.opts.LocalName)
		if err != nil {
			return err
		}
		if !reply.Positive() {
			return &ConnectionError{Op: "helo", Reply: reply.String()}
		}
		c.caps = Capabilities{}
	}

	c.state = StateNegotiated
	return nil
}

func (c *Client) startTLS(ctx context.Context) error {
	reply, err := c.cmd(ctx, "starttls", "STARTTLS")
	if err != nil {
		return err
	}
	if !reply.Positive() {
		return &ConnectionError{Op: "starttls", Reply: reply.String()}
	}

	if err := c.t.upgradeTLS(ctx, tlsConfig(c.opts, c.serverName)); err != nil {
		return c.ioError(ctx, "starttls", err)
	}

	// Capabilities must be rediscovered over the new channel (RFC 3207 §4.2).
	c.caps = Capabilities{}
	c.logger.Debug("smtp connection upgraded to TLS",
		slog.String("tls_version", tls.VersionName(c.t.tls.Version)))
	return nil
}

// authenticate runs a SASL exchange with the first mechanism from the
// caller's preference list that the server advertised.
func (c *Client) authenticate(ctx context.Context) error {
	if !c.caps.Auth {
		c.logger.Debug("smtp server does not advertise AUTH, skipping authentication")
		return nil
	}

	creds := c.opts.Credentials
	if creds == nil || creds.Username == "" {
		return &AuthError{Err: errors.New("credentials are required")}
	}

	mech, ok := selectMechanism(c.opts.AuthTypes, c.caps.AuthTypes)
	if !ok {
		return &AuthError{Err: fmt.Errorf("no supported mechanism among %s", joinMechanisms(c.caps.AuthTypes))}
	}

	client, err := sasl.NewClient(mech, *creds)
	if err != nil {
		return &AuthError{Mechanism: mech, Err: err}
	}
	ir, err := client.Start()
	if err != nil {
		return &AuthError{Mechanism: mech, Err: err}
	}

	line := "AUTH " + mech.String()
	if ir != nil {
		line += " " + encodeSASL(ir)
	}
	reply, err := c.send(ctx, "auth", line, "AUTH "+mech.String()+redacted(ir != nil))
	if err != nil {
		return err
	}

	for round := 0; ; round++ {
		switch {
		case reply.Positive() && !client.Done():
			return &AuthError{Mechanism: mech, Reply: reply.String(), Err: errAuthIncomplete}
		case reply.Positive():
			c.state = StateAuthenticated
			c.logger.Info("smtp authenticated",
				slog.String("mechanism", mech.String()),
				slog.String("username", creds.Username))
			return nil
		case reply.Intermediate() && round < maxAuthRounds:
			challenge, err := base64.StdEncoding.DecodeString(strings.TrimSpace(reply.Message()))
			if err != nil {
				c.cancelAuth(ctx)
				return &AuthError{Mechanism: mech, Reply: reply.String(), Err: fmt.Errorf("malformed challenge: %w", err)}
			}
			resp, err := client.Next(challenge)
			if err != nil {
				c.cancelAuth(ctx)
				return &AuthError{Mechanism: mech, Reply: reply.String(), Err: err}
			}
			reply, err = c.send(ctx, "auth", encodeSASL(resp), redacted(true))
			if err != nil {
				return err
			}
		default:
			return &AuthError{Mechanism: mech, Reply: reply.String()}
		}
	}
}

// cancelAuth aborts a SASL exchange with "*" (RFC 4954 §4).
func (c *Client) cancelAuth(ctx context.Context) {
	if _, err := c.send(ctx, "auth", "*", "*"); err != nil {
		c.logger.Debug("smtp auth cancel failed", slog.Any("error", err))
	}
}

func encodeSASL(b []byte) string {
	if len(b) == 0 {
		return "="
	}
	return base64.StdEncoding.EncodeToString(b)
}

func redacted(present bool) string {
	if present {
		return " ***"
	}
	return ""
}

// selectMechanism returns the first preferred mechanism the server offers.
func selectMechanism(preferred, offered []sasl.Mechanism) (sasl.Mechanism, bool) {
	for _, pref := range preferred {
		for _, srv := range offered {
			if pref == srv {
				return pref, true
			}
		}
	}
	return "", false
}

func joinMechanisms(ms []sasl.Mechanism) string {
	if len(ms) == 0 {
		return "(none)"
	}
	names := make([]string, len(ms))
	for i, m := range ms {
		names[i] = m.String()
	}
	return strings.Join(names, ", ")
}

// State returns the current session state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close ends the session with a best-effort QUIT. It is idempotent; OnClose
// fires on the first call only.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.unlock()

	if c.state == StateClosed {
		return nil
	}
	return c.shutdown(ctx, nil, true)
}

// abort closes the session after a failure. QUIT is skipped when the
// transport itself failed.
func (c *Client) abort(ctx context.Context, cause error) {
	if c.state == StateClosed {
		return
	}
	c.shutdown(ctx, cause, !transportFailed(cause))
}

func (c *Client) shutdown(ctx context.Context, cause error, quit bool) error {
	var err error
	if c.t != nil {
		if quit {
			if _, qerr := c.cmd(ctx, "quit", "QUIT"); qerr != nil {
				c.logger.Debug("smtp QUIT failed", slog.Any("error", qerr))
			}
		}
		err = c.t.close()
	}
	c.state = StateClosed

	if cause != nil {
		c.logger.Warn("smtp session closed", slog.Any("error", cause))
	} else {
		c.logger.Debug("smtp session closed")
	}
	c.notify(func() { c.hooks.closed(cause) })
	return err
}

// notify queues a hook call until mu is released, so hooks may call back
// into the client.
func (c *Client) notify(fire func()) {
	c.pending = append(c.pending, fire)
}

// unlock releases mu and runs the queued hook calls.
func (c *Client) unlock() {
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, fire := range pending {
		fire()
	}
}

func transportFailed(err error) bool {
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return true
	}
	var connErr *ConnectionError
	return errors.As(err, &connErr) && connErr.Err != nil
}

// cmd writes a command line and reads its reply.
func (c *Client) cmd(ctx context.Context, op, line string) (*smtpio.Reply, error) {
	return c.send(ctx, op, line, line)
}

// send is cmd with a separate form of the line for the debug log.
func (c *Client) send(ctx context.Context, op, line, logLine string) (*smtpio.Reply, error) {
	c.logger.Debug("smtp client", slog.String("line", logLine))
	if err := c.t.writeLine(ctx, line); err != nil {
		return nil, c.ioError(ctx, op, err)
	}
	return c.reply(ctx, op)
}

func (c *Client) reply(ctx context.Context, op string) (*smtpio.Reply, error) {
	reply, err := c.t.readReply(ctx)
	if err != nil {
		return nil, c.ioError(ctx, op, err)
	}
	c.lastReply = reply
	c.logger.Debug("smtp server",
		slog.Int("code", reply.Code),
		slog.String("reply", reply.Message()))
	return reply, nil
}

// ioError maps a transport failure to *TimeoutError or *ConnectionError.
func (c *Client) ioError(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Err: err}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &ConnectionError{Op: op, Err: ctxErr}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Op: op, Err: err}
	}
	return &ConnectionError{Op: op, Err: err}
}

func replyError(command string, reply *smtpio.Reply) *SMTPError {
	return &SMTPError{
		Command:      command,
		ReplyCode:    reply.Code,
		EnhancedCode: reply.EnhancedCode(),
		Message:      reply.Message(),
	}
}
