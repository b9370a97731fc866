package sasl

import (
	gosasl "github.com/emersion/go-sasl"
)

// plain implements PLAIN (RFC 4616) on top of go-sasl. The whole exchange
// fits in the initial response.
type plain struct {
	c       gosasl.Client
	started bool
}

func newPlain(creds Credentials) *plain {
	return &plain{c: gosasl.NewPlainClient("", creds.Username, creds.Password)}
}

func (p *plain) Mechanism() Mechanism {
	return MechanismPlain
}

func (p *plain) Start() ([]byte, error) {
	_, ir, err := p.c.Start()
	p.started = err == nil
	return ir, err
}

func (p *plain) Next(challenge []byte) ([]byte, error) {
	return nil, ErrUnexpectedChallenge
}

func (p *plain) Done() bool {
	return p.started
}
