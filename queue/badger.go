package queue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	badger "github.com/dgraph-io/badger/v3"
)

// Key prefixes. Ready keys are ordered by a fresh ULID so iteration is FIFO
// and retried messages go to the back.
var (
	readyPrefix = []byte("ready/")
	leasePrefix = []byte("lease/")
	deadPrefix  = []byte("dead/")
)

// ErrSettled is returned when Ack or Retry is called on a delivery that
// already has a verdict.
var ErrSettled = errors.New("queue: delivery already settled")

// BadgerConfig configures a BadgerQueue.
type BadgerConfig struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string
	// InMemory keeps everything in memory; nothing survives Close.
	InMemory bool
	// MaxAttempts moves a message to the dead letter set once it has been
	// retried this many times. Zero retries forever.
	MaxAttempts int
	// Logger receives badger's own logs at warn and above, and queue events
	// at debug.
	Logger *slog.Logger
}

// BadgerQueue is a persistent FIFO queue on an embedded BadgerDB.
//
// Received messages are leased: they stay in the database under a lease key
// until Ack deletes them or Retry puts them back. Leases left behind by a
// crashed consumer are returned to the queue when the database is reopened.
type BadgerQueue struct {
	db          *badger.DB
	maxAttempts int
	logger      *slog.Logger
}

var _ Producer = (*BadgerQueue)(nil)

// OpenBadger opens (or creates) the queue database. It is up to the caller
// to close it with Close.
func OpenBadger(conf BadgerConfig) (*BadgerQueue, error) {
	logger := conf.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	opts := badger.DefaultOptions(conf.Dir).WithLogger(badgerLogger{logger})
	if conf.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(badgerLogger{logger})
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("queue: can't open the db: %w", err)
	}

	q := &BadgerQueue{db: db, maxAttempts: conf.MaxAttempts, logger: logger}
	n, err := q.recover()
	if err != nil {
		db.Close()
		return nil, err
	}
	if n > 0 {
		logger.Info("queue recovered leased messages", slog.Int("count", n))
	}
	return q, nil
}

// Close closes the database. Outstanding leases are recovered on the next
// open.
func (q *BadgerQueue) Close() error {
	if err := q.db.Close(); err != nil {
		return fmt.Errorf("queue: could not close the db: %w", err)
	}
	return nil
}

// Send appends msg to the queue.
func (q *BadgerQueue) Send(ctx context.Context, msg *Message) error {
	return q.SendBatch(ctx, []*Message{msg})
}

// SendBatch appends msgs in order within one transaction.
func (q *BadgerQueue) SendBatch(ctx context.Context, msgs []*Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := q.db.Update(func(txn *badger.Txn) error {
		for _, msg := range msgs {
			val, err := msg.MarshalMsg(nil)
			if err != nil {
				return fmt.Errorf("encoding %s: %w", msg.ID, err)
			}
			if err := txn.Set(newKey(readyPrefix), val); err != nil {
				return fmt.Errorf("could not set %s: %w", msg.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("queue: transaction failed: %w", err)
	}
	for _, msg := range msgs {
		q.logger.Debug("queue message added", slog.String("id", msg.ID.String()))
	}
	return nil
}

// Receive leases up to limit messages from the head of the queue. It returns
// an empty slice when the queue is empty.
func (q *BadgerQueue) Receive(ctx context.Context, limit int) ([]Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	var deliveries []Delivery
	err := q.db.Update(func(txn *badger.Txn) error {
		type entry struct{ key, val []byte }
		var entries []entry
		err := iterate(txn, readyPrefix, func(item *badger.Item) error {
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			entries = append(entries, entry{item.KeyCopy(nil), val})
			if len(entries) == limit {
				return errStop
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, e := range entries {
			msg := new(Message)
			if _, err := msg.UnmarshalMsg(e.val); err != nil {
				return fmt.Errorf("decoding %s: %w", e.key, err)
			}
			lease := rekey(e.key, readyPrefix, leasePrefix)
			if err := txn.Delete(e.key); err != nil {
				return err
			}
			if err := txn.Set(lease, e.val); err != nil {
				return err
			}
			deliveries = append(deliveries, &badgerDelivery{q: q, key: lease, msg: msg})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("queue: receive failed: %w", err)
	}
	return deliveries, nil
}

// Len returns the number of messages waiting to be received.
func (q *BadgerQueue) Len() (int, error) {
	return q.count(readyPrefix)
}

// Dead returns the messages that exhausted MaxAttempts, oldest first.
func (q *BadgerQueue) Dead() ([]*Message, error) {
	var msgs []*Message
	err := q.db.View(func(txn *badger.Txn) error {
		return iterate(txn, deadPrefix, func(item *badger.Item) error {
			return item.Value(func(val []byte) error {
				msg := new(Message)
				if _, err := msg.UnmarshalMsg(val); err != nil {
					return err
				}
				msgs = append(msgs, msg)
				return nil
			})
		})
	})
	if err != nil {
		return nil, fmt.Errorf("queue: reading dead letters: %w", err)
	}
	return msgs, nil
}

// Cleanup runs BadgerDB's value log garbage collection.
func (q *BadgerQueue) Cleanup() error {
	err := q.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return err
}

func (q *BadgerQueue) count(prefix []byte) (int, error) {
	n := 0
	err := q.db.View(func(txn *badger.Txn) error {
		return iterate(txn, prefix, func(*badger.Item) error {
			n++
			return nil
		})
	})
	return n, err
}

// recover moves every leased message back to the queue.
func (q *BadgerQueue) recover() (int, error) {
	n := 0
	err := q.db.Update(func(txn *badger.Txn) error {
		var keys, vals [][]byte
		err := iterate(txn, leasePrefix, func(item *badger.Item) error {
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			keys = append(keys, item.KeyCopy(nil))
			vals = append(vals, val)
			return nil
		})
		if err != nil {
			return err
		}
		for i, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
			if err := txn.Set(rekey(key, leasePrefix, readyPrefix), vals[i]); err != nil {
				return err
			}
		}
		n = len(keys)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("queue: recovering leases: %w", err)
	}
	return n, nil
}

type badgerDelivery struct {
	q       *BadgerQueue
	key     []byte
	msg     *Message
	settled bool
}

func (d *badgerDelivery) Message() *Message { return d.msg }

func (d *badgerDelivery) Ack() error {
	if d.settled {
		return ErrSettled
	}
	err := d.q.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(d.key)
	})
	if err != nil {
		return err
	}
	d.settled = true
	d.q.logger.Debug("queue message acknowledged", slog.String("id", d.msg.ID.String()))
	return nil
}

func (d *badgerDelivery) Retry() error {
	if d.settled {
		return ErrSettled
	}

	d.msg.Attempts++
	target := readyPrefix
	if d.q.maxAttempts > 0 && d.msg.Attempts >= d.q.maxAttempts {
		target = deadPrefix
	}

	val, err := d.msg.MarshalMsg(nil)
	if err != nil {
		return err
	}
	err = d.q.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(d.key); err != nil {
			return err
		}
		return txn.Set(newKey(target), val)
	})
	if err != nil {
		return err
	}
	d.settled = true

	if bytes.Equal(target, deadPrefix) {
		d.q.logger.Warn("queue message dead-lettered",
			slog.String("id", d.msg.ID.String()),
			slog.Int("attempts", d.msg.Attempts))
	} else {
		d.q.logger.Debug("queue message requeued",
			slog.String("id", d.msg.ID.String()),
			slog.Int("attempts", d.msg.Attempts))
	}
	return nil
}

var errStop = errors.New("stop")

// iterate calls fn for every item under prefix in key order. fn may return
// errStop to end early.
func iterate(txn *badger.Txn, prefix []byte, fn func(*badger.Item) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := fn(it.Item()); err != nil {
			if errors.Is(err, errStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

func newKey(prefix []byte) []byte {
	id := NewID()
	key := make([]byte, 0, len(prefix)+len(id))
	key = append(key, prefix...)
	return append(key, id[:]...)
}

func rekey(key, from, to []byte) []byte {
	out := make([]byte, 0, len(to)+len(key)-len(from))
	out = append(out, to...)
	return append(out, key[len(from):]...)
}

// badgerLogger forwards badger's warnings and errors to slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)), slog.String("component", "badger"))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)), slog.String("component", "badger"))
}

func (l badgerLogger) Infof(string, ...interface{}) {}

func (l badgerLogger) Debugf(string, ...interface{}) {}
