package mailer

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"time"

	smtpio "github.com/synqronlabs/mailer/io"
)

// State is the session's position in the client state machine.
type State int

const (
	// StateDisconnected is the state before the transport is opened.
	StateDisconnected State = iota
	// StateConnected indicates the greeting has been read.
	StateConnected
	// StateNegotiated indicates EHLO (or HELO) has been accepted.
	StateNegotiated
	// StateAuthenticated indicates AUTH succeeded.
	StateAuthenticated
	// StateReady indicates the session accepts mail transactions.
	StateReady
	// StateClosed is terminal.
	StateClosed
)

// String returns the string representation of the session state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnected:
		return "CONNECTED"
	case StateNegotiated:
		return "NEGOTIATED"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateReady:
		return "READY"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// TLSInfo describes the TLS layer of a session, if any.
type TLSInfo struct {
	// Enabled indicates whether TLS is active on this connection.
	Enabled bool
	// Version is the TLS version (e.g., tls.VersionTLS13).
	Version uint16
	// CipherSuite is the negotiated cipher suite.
	CipherSuite uint16
	// ServerName is the name the server certificate was verified against.
	ServerName string
	// PeerCertificates contains the server's certificate chain.
	PeerCertificates [][]byte
}

func tlsInfo(conn *tls.Conn) TLSInfo {
	state := conn.ConnectionState()
	info := TLSInfo{
		Enabled:     true,
		Version:     state.Version,
		CipherSuite: state.CipherSuite,
		ServerName:  state.ServerName,
	}
	for _, cert := range state.PeerCertificates {
		info.PeerCertificates = append(info.PeerCertificates, cert.Raw)
	}
	return info
}

// transport is the single connection slot owned by a Client. The conn and
// its buffered reader and writer are always replaced together.
type transport struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	tls    TLSInfo

	socketTimeout   time.Duration
	responseTimeout time.Duration
}

func newTransport(conn net.Conn, socketTimeout, responseTimeout time.Duration) *transport {
	t := &transport{
		socketTimeout:   socketTimeout,
		responseTimeout: responseTimeout,
	}
	t.attach(conn)
	if tlsConn, ok := conn.(*tls.Conn); ok {
		t.tls = tlsInfo(tlsConn)
	}
	return t
}

func (t *transport) attach(conn net.Conn) {
	t.conn = conn
	t.reader = bufio.NewReader(conn)
	t.writer = bufio.NewWriter(conn)
}

// deadline returns now+d, or the context deadline when it is earlier.
func deadline(ctx context.Context, d time.Duration) time.Time {
	dl := time.Now().Add(d)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(dl) {
		return ctxDeadline
	}
	return dl
}

// interruptOn unblocks pending I/O when ctx is canceled. The returned func
// must be called once the operation is done.
func (t *transport) interruptOn(ctx context.Context) func() bool {
	conn := t.conn
	return context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
}

func (t *transport) write(ctx context.Context, data []byte) error {
	defer t.interruptOn(ctx)()
	if err := t.conn.SetWriteDeadline(deadline(ctx, t.socketTimeout)); err != nil {
		return err
	}
	if _, err := t.writer.Write(data); err != nil {
		return err
	}
	return t.writer.Flush()
}

func (t *transport) writeLine(ctx context.Context, line string) error {
	return t.write(ctx, []byte(line+"\r\n"))
}

func (t *transport) readReply(ctx context.Context) (*smtpio.Reply, error) {
	defer t.interruptOn(ctx)()
	if err := t.conn.SetReadDeadline(deadline(ctx, t.responseTimeout)); err != nil {
		return nil, err
	}
	return smtpio.ReadReply(t.reader)
}

// upgradeTLS runs the client handshake over the current connection and swaps
// the slot to the TLS connection in one step. On failure the slot is left
// untouched.
func (t *transport) upgradeTLS(ctx context.Context, config *tls.Config) error {
	tlsConn := tls.Client(t.conn, config)

	hsCtx, cancel := context.WithDeadline(ctx, deadline(ctx, t.socketTimeout))
	defer cancel()
	if err := tlsConn.HandshakeContext(hsCtx); err != nil {
		return err
	}

	t.attach(tlsConn)
	t.tls = tlsInfo(tlsConn)
	return nil
}

func (t *transport) close() error {
	return t.conn.Close()
}
