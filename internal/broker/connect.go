package broker

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Backoff computes the delay before a reconnect attempt
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultBackoff is used by Connect
var DefaultBackoff = Backoff{
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     10 * time.Second,
	Multiplier:   2,
}

// Next returns the delay after the given number of failed attempts
func (b Backoff) Next(attempt int) time.Duration {
	delay := float64(b.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= b.Multiplier
	}

	if delay > float64(b.MaxDelay) {
		return b.MaxDelay
	}
	return time.Duration(delay)
}

// ConnectOptions configures Connect
type ConnectOptions struct {
	URL         string
	Name        string
	MaxAttempts int
	Backoff     Backoff
}

// Connect dials NATS, retrying with backoff, and returns the connection and
// its JetStream context
func Connect(opts ConnectOptions, logger *zap.Logger) (*nats.Conn, nats.JetStreamContext, error) {
	logger = logger.Named("nats")
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Backoff.Multiplier == 0 {
		opts.Backoff = DefaultBackoff
	}

	natsOpts := []nats.Option{
		nats.Name(opts.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS connection error",
				zap.String("subject", subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var (
		nc  *nats.Conn
		err error
	)
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		nc, err = nats.Connect(opts.URL, natsOpts...)
		if err == nil {
			break
		}
		if attempt == opts.MaxAttempts-1 {
			break
		}
		delay := opts.Backoff.Next(attempt)
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		time.Sleep(delay)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", opts.MaxAttempts, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Info("Connected to NATS", zap.String("url", nc.ConnectedUrl()))
	return nc, js, nil
}
