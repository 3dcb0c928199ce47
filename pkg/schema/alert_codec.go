package schema

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/linkedin/goavro/v2"
	"github.com/riferrei/srclient"
	"go.uber.org/zap"

	"github.com/meridianbank/sentinel/pkg/alert"
)

// Confluent wire format framing.
const magicByte byte = 0x0

// mutationSchema is the Avro contract for alert mutations published to
// Kafka. Notes are flattened out; downstream consumers read them from
// the case-management store instead.
const mutationSchema = `{
  "type": "record",
  "name": "AlertMutation",
  "namespace": "com.meridianbank.sentinel",
  "fields": [
    {"name": "mutation_kind", "type": "string"},
    {"name": "mutation_at", "type": {"type": "long", "logicalType": "timestamp-millis"}},
    {"name": "alert_id", "type": "string"},
    {"name": "rule_id", "type": "string"},
    {"name": "rule_name", "type": "string"},
    {"name": "severity", "type": "string"},
    {"name": "score", "type": "double"},
    {"name": "window_key", "type": "string"},
    {"name": "dimension", "type": "string"},
    {"name": "value", "type": "string"},
    {"name": "status", "type": "string"},
    {"name": "detail", "type": "string"},
    {"name": "event_id", "type": "string"},
    {"name": "trigger_count", "type": "long"},
    {"name": "triggered_at", "type": {"type": "long", "logicalType": "timestamp-millis"}},
    {"name": "created_at", "type": {"type": "long", "logicalType": "timestamp-millis"}},
    {"name": "updated_at", "type": {"type": "long", "logicalType": "timestamp-millis"}}
  ]
}`

// AlertCodec encodes alert mutations as Confluent-framed Avro. When a
// schema registry is configured the schema is registered once under the
// sink's subject and its id is stamped into every message.
type AlertCodec struct {
	codec    *goavro.Codec
	schemaID int
	logger   *zap.Logger
}

// RegistryConfig points the codec at a Confluent schema registry.
type RegistryConfig struct {
	URL      string
	Subject  string
	Username string
	Password string
	Timeout  time.Duration
}

// NewAlertCodec builds the Avro codec without registry integration. The
// wire format then carries schema id 0, which is fine for consumers that
// pin the schema out of band.
func NewAlertCodec(logger *zap.Logger) (*AlertCodec, error) {
	codec, err := goavro.NewCodec(mutationSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to create avro codec: %w", err)
	}
	return &AlertCodec{codec: codec, logger: logger}, nil
}

// NewRegisteredAlertCodec registers the mutation schema with the
// registry and returns a codec stamping the assigned schema id.
func NewRegisteredAlertCodec(cfg RegistryConfig, logger *zap.Logger) (*AlertCodec, error) {
	c, err := NewAlertCodec(logger)
	if err != nil {
		return nil, err
	}

	client := srclient.CreateSchemaRegistryClient(cfg.URL)
	if cfg.Username != "" {
		client.SetCredentials(cfg.Username, cfg.Password)
	}
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	registered, err := client.CreateSchema(cfg.Subject, mutationSchema, srclient.Avro)
	if err != nil {
		return nil, fmt.Errorf("failed to register schema for subject %s: %w", cfg.Subject, err)
	}
	c.schemaID = registered.ID()

	logger.Info("alert schema registered",
		zap.String("subject", cfg.Subject),
		zap.Int("schema_id", c.schemaID))
	return c, nil
}

// SchemaID reports the registry-assigned schema id, or 0 when running
// without a registry.
func (c *AlertCodec) SchemaID() int {
	return c.schemaID
}

// Encode serializes one mutation in the Confluent wire format: magic
// byte, big-endian schema id, Avro binary body.
func (c *AlertCodec) Encode(m alert.Mutation) ([]byte, error) {
	if m.Alert.ID == "" {
		return nil, fmt.Errorf("mutation has no alert")
	}

	native := map[string]interface{}{
		"mutation_kind": string(m.Kind),
		"mutation_at":   m.At,
		"alert_id":      m.Alert.ID,
		"rule_id":       m.Alert.RuleID,
		"rule_name":     m.Alert.RuleName,
		"severity":      string(m.Alert.Severity),
		"score":         m.Alert.Score,
		"window_key":    m.Alert.WindowKey,
		"dimension":     m.Alert.Dimension,
		"value":         m.Alert.Value,
		"status":        string(m.Alert.Status),
		"detail":        m.Alert.Detail,
		"event_id":      m.Alert.EventID,
		"trigger_count": int64(m.Alert.TriggerCount),
		"triggered_at":  m.Alert.TriggeredAt,
		"created_at":    m.Alert.CreatedAt,
		"updated_at":    m.Alert.UpdatedAt,
	}

	body, err := c.codec.BinaryFromNative(nil, native)
	if err != nil {
		return nil, fmt.Errorf("failed to encode mutation: %w", err)
	}

	out := make([]byte, 0, 5+len(body))
	out = append(out, magicByte)
	idBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(idBytes, uint32(c.schemaID))
	out = append(out, idBytes...)
	out = append(out, body...)
	return out, nil
}

// Decode parses a Confluent-framed mutation back into a generic map,
// used by tests and debugging tools.
func (c *AlertCodec) Decode(data []byte) (map[string]interface{}, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("message too short for wire format: %d bytes", len(data))
	}
	if data[0] != magicByte {
		return nil, fmt.Errorf("unexpected magic byte: %#x", data[0])
	}

	native, _, err := c.codec.NativeFromBinary(data[5:])
	if err != nil {
		return nil, fmt.Errorf("failed to decode mutation: %w", err)
	}
	fields, ok := native.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected avro native type %T", native)
	}
	return fields, nil
}
