// Package ingest provides the event sources feeding the engine: Kafka
// consumer groups, NATS queue subscriptions and a WebSocket listener.
// Every source validates payloads against the event schema before
// handing them to the router.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/meridianbank/sentinel/pkg/config"
	"github.com/meridianbank/sentinel/pkg/event"
	"github.com/meridianbank/sentinel/pkg/schema"
)

// KafkaSource consumes banking events from Kafka topics.
type KafkaSource struct {
	name      string
	topics    []string
	groupID   string
	consumer  *kafka.Consumer
	validator *schema.EventValidator
	logger    *zap.Logger
}

// NewKafkaSource creates a consumer-group source from config.
func NewKafkaSource(cfg config.KafkaSourceConfig, validator *schema.EventValidator, logger *zap.Logger) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no Kafka brokers specified")
	}
	if len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("no Kafka topics specified")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "sentinel-consumer-group"
	}
	if cfg.AutoOffsetReset == "" {
		cfg.AutoOffsetReset = "earliest"
	}
	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("kafka-%s", cfg.Topics[0])
	}

	kafkaConfig := &kafka.ConfigMap{
		"bootstrap.servers":  strings.Join(cfg.Brokers, ","),
		"group.id":           cfg.GroupID,
		"auto.offset.reset":  cfg.AutoOffsetReset,
		"enable.auto.commit": true,
	}

	consumer, err := kafka.NewConsumer(kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	return &KafkaSource{
		name:      name,
		topics:    cfg.Topics,
		groupID:   cfg.GroupID,
		consumer:  consumer,
		validator: validator,
		logger:    logger,
	}, nil
}

// Name returns the source name.
func (k *KafkaSource) Name() string {
	return k.name
}

// Start consumes until the context is cancelled. Malformed payloads are
// logged and skipped so one bad producer cannot stall the partition.
func (k *KafkaSource) Start(ctx context.Context, out chan<- *event.Event) error {
	k.logger.Info("Starting Kafka source",
		zap.String("source", k.name),
		zap.Strings("topics", k.topics),
		zap.String("group_id", k.groupID))

	if err := k.consumer.SubscribeTopics(k.topics, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topics: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			k.logger.Info("Kafka source stopping", zap.String("source", k.name))
			return nil
		default:
			msg, err := k.consumer.ReadMessage(100 * time.Millisecond)
			if err != nil {
				if kafkaErr, ok := err.(kafka.Error); ok && kafkaErr.Code() == kafka.ErrTimedOut {
					continue
				}
				k.logger.Error("Error reading Kafka message", zap.Error(err))
				continue
			}

			ev, err := k.decode(msg)
			if err != nil {
				k.logger.Warn("Skipping malformed event",
					zap.String("source", k.name),
					zap.String("topic", *msg.TopicPartition.Topic),
					zap.Int64("offset", int64(msg.TopicPartition.Offset)),
					zap.Error(err))
				continue
			}

			select {
			case out <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// decode validates the payload and stamps the event with its source
// position so downstream logs and replay tools can locate it.
func (k *KafkaSource) decode(msg *kafka.Message) (*event.Event, error) {
	ev, err := k.validator.Decode(msg.Value)
	if err != nil {
		return nil, err
	}
	ev.Partition = msg.TopicPartition.Partition
	ev.Offset = int64(msg.TopicPartition.Offset)
	return ev, nil
}

// Stop closes the consumer, releasing its group membership.
func (k *KafkaSource) Stop() error {
	k.logger.Info("Stopping Kafka source", zap.String("source", k.name))
	return k.consumer.Close()
}
