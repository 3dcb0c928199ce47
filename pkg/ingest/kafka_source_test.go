package ingest

import (
	"testing"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meridianbank/sentinel/pkg/schema"
)

func TestKafkaSourceDecodeStampsSourcePosition(t *testing.T) {
	v, err := schema.NewEventValidator(zap.NewNop())
	require.NoError(t, err)
	src := &KafkaSource{name: "kafka-test", validator: v, logger: zap.NewNop()}

	topic := "banking-events"
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: 3, Offset: kafka.Offset(42)},
		Value: []byte(`{
			"event_id": "e1",
			"kind": "transaction",
			"timestamp": "2025-06-01T12:00:00Z",
			"account_id": "acc-1",
			"amount": 120.50,
			"currency": "EUR",
			"txn_type": "debit",
			"status": "completed"
		}`),
	}

	ev, err := src.decode(msg)
	require.NoError(t, err)
	assert.Equal(t, "e1", ev.ID)
	assert.Equal(t, int32(3), ev.Partition)
	assert.Equal(t, int64(42), ev.Offset)
}

func TestKafkaSourceDecodeRejectsMalformed(t *testing.T) {
	v, err := schema.NewEventValidator(zap.NewNop())
	require.NoError(t, err)
	src := &KafkaSource{name: "kafka-test", validator: v, logger: zap.NewNop()}

	topic := "banking-events"
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: 0, Offset: kafka.Offset(7)},
		Value:          []byte(`{"event_id": "e1"}`),
	}

	_, err = src.decode(msg)
	assert.Error(t, err)
}
