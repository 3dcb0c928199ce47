// Package schema owns the engine's data contracts: JSON Schema validation
// for inbound events and the Avro encoding of outbound alert mutations.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/meridianbank/sentinel/pkg/event"
)

// eventSchema is the envelope contract every source enforces before an
// event reaches the router. Kind-specific required fields are checked by
// event.Validate afterwards; the schema guards types and enums.
const eventSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["event_id", "kind", "timestamp"],
  "properties": {
    "event_id":         {"type": "string", "minLength": 1},
    "kind":             {"enum": ["transaction", "login"]},
    "timestamp":        {"type": "string", "format": "date-time"},
    "account_id":       {"type": "string"},
    "customer_id":      {"type": "string"},
    "card_id":          {"type": "string"},
    "card_hash":        {"type": "string"},
    "merchant_id":      {"type": "string"},
    "ip_address":       {"type": "string"},
    "device_id":        {"type": "string"},
    "country":          {"type": "string"},
    "city":             {"type": "string"},
    "merchant_country": {"type": "string"},
    "merchant_city":    {"type": "string"},
    "amount":           {"type": "number", "minimum": 0},
    "currency":         {"type": "string"},
    "txn_type":         {"enum": ["debit", "credit", "refund"]},
    "status":           {"enum": ["completed", "failed", "pending", "reversed"]},
    "channel":          {"type": "string"},
    "success":          {"type": "boolean"}
  },
  "additionalProperties": false
}`

// EventValidator validates and decodes inbound event payloads.
type EventValidator struct {
	schema *jsonschema.Schema
	logger *zap.Logger
}

// NewEventValidator compiles the envelope schema.
func NewEventValidator(logger *zap.Logger) (*EventValidator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	const url = "schema://event"
	if err := compiler.AddResource(url, strings.NewReader(eventSchema)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("failed to compile event schema: %w", err)
	}

	return &EventValidator{schema: schema, logger: logger}, nil
}

// Validate checks a raw payload against the envelope schema.
func (v *EventValidator) Validate(raw []byte) error {
	var payload interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	if err := v.schema.Validate(payload); err != nil {
		return fmt.Errorf("event schema validation failed: %w", err)
	}
	return nil
}

// Decode validates a raw payload and unmarshals it into an event.
func (v *EventValidator) Decode(raw []byte) (*event.Event, error) {
	if err := v.Validate(raw); err != nil {
		return nil, err
	}
	var ev event.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}

// ValidationDetails flattens a jsonschema validation error into
// field/message pairs for logs.
func ValidationDetails(err error) []string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	var out []string
	out = append(out, fmt.Sprintf("%s: %s", ve.InstanceLocation, ve.Message))
	for _, cause := range ve.Causes {
		out = append(out, ValidationDetails(cause)...)
	}
	return out
}
