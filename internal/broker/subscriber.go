package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/multisim/internal/model"
)

// Subscriber consumes what a Publisher with the same prefix publishes
type Subscriber struct {
	logger *zap.Logger
	js     nats.JetStreamContext
	prefix string
}

// NewSubscriber creates a new subscriber
func NewSubscriber(js nats.JetStreamContext, prefix string, logger *zap.Logger) *Subscriber {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Subscriber{
		logger: logger.Named("subscriber"),
		js:     js,
		prefix: prefix,
	}
}

// SubscribeRecords calls handler for every run record of batch, or of all
// batches when batch is empty, until ctx is done
func (s *Subscriber) SubscribeRecords(ctx context.Context, batch string, handler func(RecordEnvelope)) error {
	if batch == "" {
		batch = "*"
	}
	subject := fmt.Sprintf("%s.run.%s", s.prefix, batch)

	return s.subscribe(ctx, subject, func(msg *nats.Msg) error {
		var env RecordEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			return err
		}
		handler(env)
		return nil
	})
}

// SubscribeAlerts calls handler for every alert until ctx is done
func (s *Subscriber) SubscribeAlerts(ctx context.Context, handler func(*model.Alert)) error {
	return s.subscribe(ctx, s.prefix+".alert.*", func(msg *nats.Msg) error {
		var alert model.Alert
		if err := json.Unmarshal(msg.Data, &alert); err != nil {
			return err
		}
		handler(&alert)
		return nil
	})
}

func (s *Subscriber) subscribe(ctx context.Context, subject string, decode func(*nats.Msg) error) error {
	sub, err := s.js.Subscribe(subject, func(msg *nats.Msg) {
		if err := decode(msg); err != nil {
			s.logger.Error("Failed to unmarshal message",
				zap.String("subject", msg.Subject),
				zap.Error(err))
			msg.Term()
			return
		}
		msg.Ack()
	}, nats.ManualAck(), nats.DeliverAll())
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()

	return nil
}
