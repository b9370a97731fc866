package dns

import (
	"context"
	"net"
	"slices"
)

// MockResolver is a Resolver used for testing. MX maps FQDNs (with trailing
// dot) to records.
type MockResolver struct {
	MX map[string][]*net.MX

	// Fail lists FQDNs whose lookup returns ErrDNSServFail.
	Fail []string

	// AllAuthentic sets Authentic on every answer.
	AllAuthentic bool
}

var _ Resolver = MockResolver{}

// LookupMX returns the configured MX records for name.
func (r MockResolver) LookupMX(ctx context.Context, name string) (Result[*net.MX], error) {
	result := Result[*net.MX]{Authentic: r.AllAuthentic}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	fqdn := ensureFQDN(name)
	if slices.Contains(r.Fail, fqdn) {
		return result, ErrDNSServFail
	}

	records, ok := r.MX[fqdn]
	if !ok || len(records) == 0 {
		return result, ErrDNSNotFound
	}
	result.Records = records
	return result, nil
}

func ensureFQDN(name string) string {
	if len(name) == 0 || name[len(name)-1] != '.' {
		return name + "."
	}
	return name
}
