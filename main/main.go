// Command mailer sends email over SMTP, directly or through a persistent
// queue.
//
//	mailer -config mailer.yaml -email welcome.json              # send now
//	mailer -config mailer.yaml -email batch.json -mode enqueue  # spool
//	mailer -config mailer.yaml -mode drain -poll 30s            # deliver the spool
//	mailer -config mailer.yaml -mode probe                      # show server extensions
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docker/go-units"

	"github.com/synqronlabs/mailer"
	"github.com/synqronlabs/mailer/config"
	"github.com/synqronlabs/mailer/queue"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	emailPath := flag.String("email", "", "path to a JSON email, or a JSON array of emails (\"-\" for stdin)")
	mode := flag.String("mode", "send", "send, enqueue, drain or probe")
	queueDir := flag.String("queue", "", "queue database directory (overrides queue.dir)")
	batch := flag.Int("batch", 0, "messages per drain batch (overrides queue.batch_size)")
	poll := flag.Duration("poll", 0, "keep draining, polling an empty queue at this interval")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *queueDir != "" {
		cfg.Queue.Dir = *queueDir
	}
	if *batch > 0 {
		cfg.Queue.BatchSize = *batch
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}
	opts, err := cfg.Options(logger)
	if err != nil {
		logger.Error("failed to build session options", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "send":
		err = runSend(ctx, cfg, opts, *emailPath)
	case "enqueue":
		err = runEnqueue(ctx, cfg, opts, *emailPath, logger)
	case "drain":
		err = runDrain(ctx, cfg, opts, *poll, logger)
	case "probe":
		err = runProbe(ctx, opts)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		logger.Error("mailer failed", "mode", *mode, "error", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func runSend(ctx context.Context, cfg *config.Config, opts mailer.Options, path string) error {
	emails, err := readEmails(cfg, path)
	if err != nil {
		return err
	}

	client, err := mailer.Connect(ctx, opts)
	if err != nil {
		return err
	}
	defer client.Close(ctx)

	for _, email := range emails {
		res, err := client.SendOne(ctx, email)
		if err != nil {
			return err
		}
		fmt.Printf("%s %d %s\n", res.MessageID, res.Code, res.Response)
	}
	return nil
}

func runEnqueue(ctx context.Context, cfg *config.Config, opts mailer.Options, path string, logger *slog.Logger) error {
	emails, err := readEmails(cfg, path)
	if err != nil {
		return err
	}

	q, err := queue.OpenBadger(cfg.BadgerConfig(logger))
	if err != nil {
		return err
	}
	defer q.Close()

	msgs := make([]*queue.Message, len(emails))
	for i, email := range emails {
		msgs[i] = queue.NewMessage(opts, email)
	}
	if err := queue.EnqueueBatch(ctx, q, msgs); err != nil {
		return err
	}

	for _, msg := range msgs {
		fmt.Println(msg.ID)
	}
	logger.Info("messages enqueued", "count", len(msgs), "dir", cfg.Queue.Dir)
	return nil
}

func runDrain(ctx context.Context, cfg *config.Config, opts mailer.Options, poll time.Duration, logger *slog.Logger) error {
	q, err := queue.OpenBadger(cfg.BadgerConfig(logger))
	if err != nil {
		return err
	}
	defer q.Close()

	// Queued options carry no logger or TLS settings; take them from this
	// process.
	send := func(ctx context.Context, queued mailer.Options, email mailer.EmailOptions) (*mailer.SendResult, error) {
		queued.Logger = opts.Logger
		if queued.TLSConfig == nil {
			queued.TLSConfig = opts.TLSConfig
		}
		return mailer.Send(ctx, queued, email)
	}

	var sent, failed int
	for {
		deliveries, err := q.Receive(ctx, cfg.Queue.BatchSize)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			return err
		}

		if len(deliveries) == 0 {
			if poll <= 0 {
				break
			}
			select {
			case <-ctx.Done():
			case <-time.After(poll):
			}
			if ctx.Err() != nil {
				break
			}
			continue
		}

		for _, res := range queue.ProcessBatch(ctx, deliveries, send) {
			if res.Success {
				sent++
				if res.Err != nil {
					logger.Warn("message sent but not acknowledged", "id", res.ID.String(), "error", res.Err)
				}
				continue
			}
			failed++
			logger.Warn("message delivery failed",
				"id", res.ID.String(),
				"subject", res.Email.Subject,
				"code", mailer.ErrorCode(res.Err),
				"error", res.Err)
		}
	}

	if err := q.Cleanup(); err != nil {
		logger.Debug("queue cleanup failed", "error", err)
	}
	logger.Info("queue drained", "sent", sent, "failed", failed)
	return nil
}

func runProbe(ctx context.Context, opts mailer.Options) error {
	caps, err := mailer.Probe(ctx, opts)
	if err != nil {
		return err
	}
	fmt.Print(caps.String())
	return nil
}

// readEmails decodes one email object or an array of them, refusing input
// larger than queue.max_message_size.
func readEmails(cfg *config.Config, path string) ([]mailer.EmailOptions, error) {
	if path == "" {
		return nil, errors.New("-email is required")
	}
	limit, err := cfg.MaxMessageBytes()
	if err != nil {
		return nil, err
	}

	r := io.Reader(os.Stdin)
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%s is larger than %s", path, units.BytesSize(float64(limit)))
	}

	var emails []mailer.EmailOptions
	if err := json.Unmarshal(data, &emails); err == nil {
		return emails, nil
	}
	var email mailer.EmailOptions
	if err := json.Unmarshal(data, &email); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return []mailer.EmailOptions{email}, nil
}
