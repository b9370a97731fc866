package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"

	"golang.org/x/net/proxy"

	"github.com/synqronlabs/mailer/dns"
)

// Send is a convenience function that connects, sends one message and
// closes the session.
func Send(ctx context.Context, opts Options, email EmailOptions) (*SendResult, error) {
	client, err := Connect(ctx, opts)
	if err != nil {
		return nil, err
	}

	result, err := client.SendOne(ctx, email)
	if err != nil {
		// Validation errors leave the session open.
		client.Close(ctx)
		return nil, err
	}

	if err := client.Close(ctx); err != nil {
		client.logger.Debug("smtp close failed", slog.Any("error", err))
	}
	return result, nil
}

// resolveHost returns the host to dial: Options.Host, or the preferred mail
// exchanger of that domain when ResolveMX is set.
func (c *Client) resolveHost(ctx context.Context) (string, error) {
	if !c.opts.ResolveMX {
		return c.opts.Host, nil
	}

	resolver := c.opts.Resolver
	if resolver == nil {
		resolver = dns.NewResolver(dns.ResolverConfig{})
	}
	host, err := dns.PreferredMX(ctx, resolver, c.opts.Host)
	if err != nil {
		return "", &ConnectionError{Op: "resolve", Err: fmt.Errorf("MX lookup for %s: %w", c.opts.Host, err)}
	}
	c.logger.Debug("smtp resolved mail exchanger",
		slog.String("domain", c.opts.Host),
		slog.String("mx", host))
	return host, nil
}

// dial opens the TCP connection to host, through Options.Proxy when set, and
// completes the TLS handshake when Options.Secure is set. SocketTimeout bounds
// the whole operation.
func dial(ctx context.Context, opts Options, host string) (net.Conn, error) {
	ctx, cancel := context.WithDeadline(ctx, deadline(ctx, opts.SocketTimeout))
	defer cancel()

	dialer, err := contextDialer(opts.Proxy)
	if err != nil {
		return nil, err
	}

	address := net.JoinHostPort(host, strconv.Itoa(opts.Port))
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}

	if !opts.Secure {
		return conn, nil
	}

	tlsConn := tls.Client(conn, tlsConfig(opts, host))
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("TLS handshake with %s: %w", address, err)
	}
	return tlsConn, nil
}

func contextDialer(proxyURL string) (proxy.ContextDialer, error) {
	direct := &net.Dialer{}
	if proxyURL == "" {
		return direct, nil
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}
	d, err := proxy.FromURL(u, direct)
	if err != nil {
		return nil, fmt.Errorf("proxy %s: %w", u.Redacted(), err)
	}
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd, nil
	}
	return contextDialerFunc(func(ctx context.Context, network, address string) (net.Conn, error) {
		return d.Dial(network, address)
	}), nil
}

type contextDialerFunc func(ctx context.Context, network, address string) (net.Conn, error)

func (f contextDialerFunc) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return f(ctx, network, address)
}

// tlsConfig returns the TLS configuration for serverName, cloning the caller's
// configuration when it has no ServerName.
func tlsConfig(opts Options, serverName string) *tls.Config {
	config := opts.TLSConfig
	if config == nil {
		return &tls.Config{ServerName: serverName, MinVersion: tls.VersionTLS12}
	}
	if config.ServerName == "" {
		config = config.Clone()
		config.ServerName = serverName
	}
	return config
}
