// Package queue moves messages through a broker so that sending can happen
// out of band.
//
// A producer enqueues a Message holding the session settings and the email.
// A consumer receives a batch of deliveries and hands it to ProcessBatch,
// which sends every message, acknowledges the ones that went out and asks the
// broker to retry the rest.
//
//	q, err := queue.OpenBadger(queue.BadgerConfig{Dir: "/var/spool/mailer"})
//	if err != nil {
//		return err
//	}
//	defer q.Close()
//
//	msg := queue.NewMessage(opts, email)
//	if err := queue.Enqueue(ctx, q, msg); err != nil {
//		return err
//	}
//
//	deliveries, err := q.Receive(ctx, 10)
//	if err != nil {
//		return err
//	}
//	for _, res := range queue.ProcessBatch(ctx, deliveries, nil) {
//		if !res.Success {
//			log.Printf("%s: %v", res.ID, res.Err)
//		}
//	}
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/synqronlabs/mailer"
	"github.com/synqronlabs/mailer/sasl"
)

// ErrEmptyBatch is returned by EnqueueBatch when there is nothing to send.
var ErrEmptyBatch = errors.New("queue: empty batch")

// SenderOptions is the part of mailer.Options that survives serialization.
// Hooks, loggers, TLS configuration and resolvers stay with the process that
// sends.
type SenderOptions struct {
	Host            string
	Port            int
	Secure          bool
	DisableStartTLS bool
	Username        string
	Password        string
	AuthTypes       []sasl.Mechanism
	DSN             *mailer.DSNOptions
	SocketTimeout   time.Duration
	ResponseTimeout time.Duration
	LocalName       string
	Proxy           string
	ResolveMX       bool
	LogLevel        mailer.LogLevel
}

// SenderOptionsFrom copies the serializable fields of opts.
func SenderOptionsFrom(opts mailer.Options) SenderOptions {
	so := SenderOptions{
		Host:            opts.Host,
		Port:            opts.Port,
		Secure:          opts.Secure,
		DisableStartTLS: opts.DisableStartTLS,
		AuthTypes:       append([]sasl.Mechanism(nil), opts.AuthTypes...),
		DSN:             opts.DSN,
		SocketTimeout:   opts.SocketTimeout,
		ResponseTimeout: opts.ResponseTimeout,
		LocalName:       opts.LocalName,
		Proxy:           opts.Proxy,
		ResolveMX:       opts.ResolveMX,
		LogLevel:        opts.LogLevel,
	}
	if opts.Credentials != nil {
		so.Username = opts.Credentials.Username
		so.Password = opts.Credentials.Password
	}
	return so
}

// Options rebuilds session options. Credentials are set only when a username
// was recorded.
func (so SenderOptions) Options() mailer.Options {
	opts := mailer.Options{
		Host:            so.Host,
		Port:            so.Port,
		Secure:          so.Secure,
		DisableStartTLS: so.DisableStartTLS,
		AuthTypes:       append([]sasl.Mechanism(nil), so.AuthTypes...),
		DSN:             so.DSN,
		SocketTimeout:   so.SocketTimeout,
		ResponseTimeout: so.ResponseTimeout,
		LocalName:       so.LocalName,
		Proxy:           so.Proxy,
		ResolveMX:       so.ResolveMX,
		LogLevel:        so.LogLevel,
	}
	if so.Username != "" {
		opts.Credentials = &sasl.Credentials{Username: so.Username, Password: so.Password}
	}
	return opts
}

// Message is one queued email.
type Message struct {
	ID ulid.ULID
	// Attempts counts the deliveries that ended in Retry.
	Attempts int
	Sender   SenderOptions
	Email    mailer.EmailOptions
}

// NewMessage returns a message with a fresh ID.
func NewMessage(opts mailer.Options, email mailer.EmailOptions) *Message {
	return &Message{
		ID:     NewID(),
		Sender: SenderOptionsFrom(opts),
		Email:  email,
	}
}

// NewID returns a new lexically sortable message ID.
func NewID() ulid.ULID {
	return ulid.Make()
}

// Producer is the sending half of a broker.
type Producer interface {
	Send(ctx context.Context, msg *Message) error
	SendBatch(ctx context.Context, msgs []*Message) error
}

// Enqueue sends msg to p, assigning an ID when it has none.
func Enqueue(ctx context.Context, p Producer, msg *Message) error {
	if msg == nil {
		return errors.New("queue: nil message")
	}
	if msg.ID.IsZero() {
		msg.ID = NewID()
	}
	if err := p.Send(ctx, msg); err != nil {
		return fmt.Errorf("queue: enqueue %s: %w", msg.ID, err)
	}
	return nil
}

// EnqueueBatch sends msgs to p in one call.
func EnqueueBatch(ctx context.Context, p Producer, msgs []*Message) error {
	if len(msgs) == 0 {
		return ErrEmptyBatch
	}
	for i, msg := range msgs {
		if msg == nil {
			return fmt.Errorf("queue: nil message at index %d", i)
		}
		if msg.ID.IsZero() {
			msg.ID = NewID()
		}
	}
	if err := p.SendBatch(ctx, msgs); err != nil {
		return fmt.Errorf("queue: enqueue batch of %d: %w", len(msgs), err)
	}
	return nil
}

// Delivery is a received message awaiting a verdict. Exactly one of Ack or
// Retry should be called.
type Delivery interface {
	Message() *Message
	// Ack removes the message from the broker.
	Ack() error
	// Retry returns the message to the broker for another attempt.
	Retry() error
}

// Result reports the outcome for one delivery.
type Result struct {
	ID      ulid.ULID
	Success bool
	// Err is the send failure, or the broker error when the verdict could
	// not be recorded.
	Err   error
	Email mailer.EmailOptions
}

// SendFunc delivers one email. mailer.Send satisfies it.
type SendFunc func(ctx context.Context, opts mailer.Options, email mailer.EmailOptions) (*mailer.SendResult, error)

// ProcessBatch sends every delivery in order, each over its own session.
// Sent messages are acknowledged and failed ones retried. A nil send uses
// mailer.Send.
func ProcessBatch(ctx context.Context, deliveries []Delivery, send SendFunc) []Result {
	if send == nil {
		send = mailer.Send
	}

	results := make([]Result, 0, len(deliveries))
	for _, d := range deliveries {
		msg := d.Message()
		res := Result{ID: msg.ID, Email: msg.Email}

		if _, err := send(ctx, msg.Sender.Options(), msg.Email); err != nil {
			res.Err = err
			if rerr := d.Retry(); rerr != nil {
				res.Err = errors.Join(err, fmt.Errorf("queue: retry %s: %w", msg.ID, rerr))
			}
			results = append(results, res)
			continue
		}

		res.Success = true
		if err := d.Ack(); err != nil {
			res.Err = fmt.Errorf("queue: ack %s: %w", msg.ID, err)
		}
		results = append(results, res)
	}
	return results
}
