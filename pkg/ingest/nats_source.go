package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/meridianbank/sentinel/pkg/config"
	"github.com/meridianbank/sentinel/pkg/event"
	"github.com/meridianbank/sentinel/pkg/schema"
)

// NATSSource consumes banking events from NATS subjects. A queue group
// name spreads subjects across engine replicas.
type NATSSource struct {
	name      string
	url       string
	subjects  []string
	queue     string
	conn      *nats.Conn
	subs      []*nats.Subscription
	validator *schema.EventValidator
	logger    *zap.Logger
}

// NewNATSSource creates a NATS source from config. The connection is
// established in Start.
func NewNATSSource(cfg config.NATSSourceConfig, validator *schema.EventValidator, logger *zap.Logger) (*NATSSource, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("no NATS URL specified")
	}
	if len(cfg.Subjects) == 0 {
		return nil, fmt.Errorf("no NATS subjects specified")
	}
	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("nats-%s", cfg.Subjects[0])
	}

	return &NATSSource{
		name:      name,
		url:       cfg.URL,
		subjects:  cfg.Subjects,
		queue:     cfg.Queue,
		validator: validator,
		logger:    logger,
	}, nil
}

// Name returns the source name.
func (n *NATSSource) Name() string {
	return n.name
}

// Start connects, subscribes to every subject and forwards decoded
// events until the context is cancelled.
func (n *NATSSource) Start(ctx context.Context, out chan<- *event.Event) error {
	n.logger.Info("Starting NATS source",
		zap.String("source", n.name),
		zap.String("url", n.url),
		zap.Strings("subjects", n.subjects),
		zap.String("queue", n.queue))

	conn, err := nats.Connect(n.url,
		nats.Name(n.name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			n.logger.Warn("NATS disconnected", zap.String("source", n.name), zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			n.logger.Info("NATS reconnected", zap.String("source", n.name), zap.String("server", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	n.conn = conn

	handler := func(msg *nats.Msg) {
		ev, err := n.validator.Decode(msg.Data)
		if err != nil {
			n.logger.Warn("Skipping malformed event",
				zap.String("source", n.name),
				zap.String("subject", msg.Subject),
				zap.Error(err))
			return
		}
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	}

	for _, subject := range n.subjects {
		var sub *nats.Subscription
		if n.queue != "" {
			sub, err = conn.QueueSubscribe(subject, n.queue, handler)
		} else {
			sub, err = conn.Subscribe(subject, handler)
		}
		if err != nil {
			conn.Close()
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		n.subs = append(n.subs, sub)
	}

	<-ctx.Done()
	n.logger.Info("NATS source stopping", zap.String("source", n.name))
	return nil
}

// Stop drains subscriptions and closes the connection.
func (n *NATSSource) Stop() error {
	n.logger.Info("Stopping NATS source", zap.String("source", n.name))
	if n.conn == nil {
		return nil
	}
	for _, sub := range n.subs {
		if err := sub.Drain(); err != nil {
			n.logger.Warn("NATS drain failed", zap.String("subject", sub.Subject), zap.Error(err))
		}
	}
	n.conn.Close()
	return nil
}
