// Package sink delivers alert mutations to downstream systems: a Kafka
// alert topic, a Postgres case table and an in-memory sink for tests.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/meridianbank/sentinel/pkg/alert"
	"github.com/meridianbank/sentinel/pkg/config"
	"github.com/meridianbank/sentinel/pkg/schema"
)

// KafkaSink publishes alert mutations to a Kafka topic. Messages are
// keyed by rule id and window key so all mutations of one alert land on
// one partition in order. With a schema registry configured the payload
// is Confluent-framed Avro, otherwise JSON.
type KafkaSink struct {
	name     string
	producer *kafka.Producer
	topic    string
	codec    *schema.AlertCodec
	logger   *zap.Logger
}

// NewKafkaSink creates an idempotent producer for the alert topic.
func NewKafkaSink(cfg config.KafkaSinkConfig, logger *zap.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no Kafka brokers specified")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("no Kafka topic specified")
	}
	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("kafka-%s", cfg.Topic)
	}

	producerConfig := &kafka.ConfigMap{
		"bootstrap.servers": strings.Join(cfg.Brokers, ","),
		"acks":              "all",
		"retries":           3,
		"idempotence":       true,
	}

	producer, err := kafka.NewProducer(producerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	var codec *schema.AlertCodec
	if cfg.SchemaRegistryURL != "" {
		codec, err = schema.NewRegisteredAlertCodec(schema.RegistryConfig{
			URL:     cfg.SchemaRegistryURL,
			Subject: cfg.Subject,
		}, logger)
		if err != nil {
			producer.Close()
			return nil, err
		}
	}

	return &KafkaSink{
		name:     name,
		producer: producer,
		topic:    cfg.Topic,
		codec:    codec,
		logger:   logger,
	}, nil
}

// Name returns the sink name.
func (k *KafkaSink) Name() string {
	return k.name
}

// Deliver produces one mutation and waits for the broker ack, so the
// dispatcher's retry policy sees real failures.
func (k *KafkaSink) Deliver(ctx context.Context, m alert.Mutation) error {
	var payload []byte
	var err error
	if k.codec != nil {
		payload, err = k.codec.Encode(m)
	} else {
		payload, err = json.Marshal(m)
	}
	if err != nil {
		return fmt.Errorf("failed to encode mutation: %w", err)
	}

	key := fmt.Sprintf("%s|%s", m.Alert.RuleID, m.Alert.WindowKey)
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &k.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "mutation_kind", Value: []byte(m.Kind)},
			{Key: "rule_id", Value: []byte(m.Alert.RuleID)},
		},
	}

	deliveryChan := make(chan kafka.Event, 1)
	if err := k.producer.Produce(msg, deliveryChan); err != nil {
		return fmt.Errorf("failed to produce mutation: %w", err)
	}

	select {
	case e := <-deliveryChan:
		ack, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event %T", e)
		}
		if ack.TopicPartition.Error != nil {
			return fmt.Errorf("Kafka delivery failed: %w", ack.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes outstanding messages and shuts the producer down.
func (k *KafkaSink) Close() error {
	k.logger.Info("Closing Kafka sink", zap.String("sink", k.name))
	remaining := k.producer.Flush(int((30 * time.Second).Milliseconds()))
	if remaining > 0 {
		k.logger.Warn("Messages still in queue", zap.Int("count", remaining))
	}
	k.producer.Close()
	return nil
}
