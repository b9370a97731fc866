package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	mdns "github.com/miekg/dns"
)

const (
	defaultTimeout = 5 * time.Second
	defaultRetries = 2
	resolvConf     = "/etc/resolv.conf"
)

var fallbackNameservers = []string{"8.8.8.8:53", "1.1.1.1:53"}

// ResolverConfig configures a DNSResolver.
type ResolverConfig struct {
	// Nameservers as host:port. Empty means the servers in /etc/resolv.conf,
	// or public resolvers when that file is unusable.
	Nameservers []string `yaml:"nameservers"`

	// DNSSEC sets the DO bit; Result.Authentic then reports the AD flag.
	DNSSEC bool `yaml:"dnssec"`

	// Timeout per query. Default 5s.
	Timeout time.Duration `yaml:"timeout"`

	// Retries over the whole nameserver list. Default 2.
	Retries int `yaml:"retries"`
}

// DNSResolver queries nameservers directly with github.com/miekg/dns.
type DNSResolver struct {
	config ResolverConfig
	client *mdns.Client
}

var _ Resolver = (*DNSResolver)(nil)

// NewResolver fills in defaults and returns a resolver.
func NewResolver(config ResolverConfig) *DNSResolver {
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.Retries <= 0 {
		config.Retries = defaultRetries
	}
	if len(config.Nameservers) == 0 {
		config.Nameservers = systemNameservers(resolvConf)
	}

	return &DNSResolver{
		config: config,
		client: &mdns.Client{Timeout: config.Timeout},
	}
}

func systemNameservers(path string) []string {
	cc, err := mdns.ClientConfigFromFile(path)
	if err != nil || len(cc.Servers) == 0 {
		return fallbackNameservers
	}
	servers := make([]string, 0, len(cc.Servers))
	for _, s := range cc.Servers {
		servers = append(servers, net.JoinHostPort(s, cc.Port))
	}
	return servers
}

// Config returns the resolver's effective configuration.
func (r *DNSResolver) Config() ResolverConfig {
	return r.config
}

// LookupMX retrieves the MX records of name.
func (r *DNSResolver) LookupMX(ctx context.Context, name string) (Result[*net.MX], error) {
	resp, authentic, err := r.query(ctx, name, mdns.TypeMX)
	if err != nil {
		return Result[*net.MX]{Authentic: authentic}, err
	}

	var records []*net.MX
	for _, rr := range resp.Answer {
		if mx, ok := rr.(*mdns.MX); ok {
			records = append(records, &net.MX{Host: mx.Mx, Pref: mx.Preference})
		}
	}
	if len(records) == 0 {
		return Result[*net.MX]{Authentic: authentic}, ErrDNSNotFound
	}
	return Result[*net.MX]{Records: records, Authentic: authentic}, nil
}

// query asks every nameserver in turn, Retries+1 times over, and returns the
// first definitive answer. NXDOMAIN is definitive; SERVFAIL, REFUSED and
// transport errors move on to the next server.
func (r *DNSResolver) query(ctx context.Context, name string, qtype uint16) (*mdns.Msg, bool, error) {
	m := new(mdns.Msg)
	m.SetQuestion(mdns.Fqdn(name), qtype)
	m.RecursionDesired = true
	if r.config.DNSSEC {
		m.SetEdns0(4096, true)
	}

	lastErr := ErrDNSServFail
	for attempt := 0; attempt <= r.config.Retries; attempt++ {
		for _, server := range r.config.Nameservers {
			if err := ctx.Err(); err != nil {
				return nil, false, err
			}

			resp, _, err := r.client.ExchangeContext(ctx, m, server)
			if err != nil {
				lastErr = exchangeError(err)
				continue
			}

			authentic := r.config.DNSSEC && resp.AuthenticatedData
			if err := r.rcodeError(resp.Rcode); err != nil {
				if errors.Is(err, ErrDNSNotFound) {
					return nil, authentic, err
				}
				lastErr = err
				continue
			}
			return resp, authentic, nil
		}
	}
	return nil, false, lastErr
}

func (r *DNSResolver) rcodeError(rcode int) error {
	switch rcode {
	case mdns.RcodeSuccess:
		return nil
	case mdns.RcodeNameError:
		return ErrDNSNotFound
	case mdns.RcodeServerFailure:
		// With DNSSEC requested a SERVFAIL usually means validation failed.
		if r.config.DNSSEC {
			return ErrDNSBogus
		}
		return ErrDNSServFail
	case mdns.RcodeRefused:
		return ErrDNSRefused
	default:
		return fmt.Errorf("dns: unexpected rcode %s", mdns.RcodeToString[rcode])
	}
}

func exchangeError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrDNSTimeout
	}
	return fmt.Errorf("dns query failed: %w", err)
}
