// Package dns resolves the mail exchangers of a domain.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
)

var (
	ErrDNSNotFound = errors.New("dns: record not found")
	ErrDNSTimeout  = errors.New("dns: query timed out")
	ErrDNSServFail = errors.New("dns: server failure")
	ErrDNSRefused  = errors.New("dns: query refused")
	ErrDNSBogus    = errors.New("dns: DNSSEC validation failed")

	// ErrNullMX is returned when a domain publishes a null MX record
	// (RFC 7505), declaring that it accepts no mail.
	ErrNullMX = errors.New("dns: domain does not accept mail")
)

// Result holds the records of one lookup.
type Result[T any] struct {
	Records []T
	// Authentic is true when the answer was DNSSEC validated.
	Authentic bool
}

// Resolver looks up MX records.
type Resolver interface {
	LookupMX(ctx context.Context, name string) (Result[*net.MX], error)
}

func IsNotFound(err error) bool { return errors.Is(err, ErrDNSNotFound) }
func IsTimeout(err error) bool  { return errors.Is(err, ErrDNSTimeout) }
func IsServFail(err error) bool { return errors.Is(err, ErrDNSServFail) || errors.Is(err, ErrDNSBogus) }

// IsTemporary reports whether retrying the lookup later may succeed.
func IsTemporary(err error) bool {
	return IsTimeout(err) || IsServFail(err)
}

// PreferredMX returns the exchanger host with the lowest preference value
// for domain, without its trailing dot. Ties keep the resolver's order.
func PreferredMX(ctx context.Context, r Resolver, domain string) (string, error) {
	res, err := r.LookupMX(ctx, domain)
	if err != nil {
		return "", err
	}
	if len(res.Records) == 0 {
		return "", ErrDNSNotFound
	}

	records := make([]*net.MX, len(res.Records))
	copy(records, res.Records)
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Pref < records[j].Pref
	})

	host := strings.TrimSuffix(records[0].Host, ".")
	if host == "" {
		return "", fmt.Errorf("%w: %s", ErrNullMX, domain)
	}
	return host, nil
}
