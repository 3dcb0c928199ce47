package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meridianbank/sentinel/pkg/alert"
	"github.com/meridianbank/sentinel/pkg/event"
	"github.com/meridianbank/sentinel/pkg/rules"
)

func TestEventValidatorAcceptsTransaction(t *testing.T) {
	v, err := NewEventValidator(zap.NewNop())
	require.NoError(t, err)

	raw := []byte(`{
		"event_id": "e1",
		"kind": "transaction",
		"timestamp": "2025-06-01T12:00:00Z",
		"account_id": "acc-1",
		"amount": 120.50,
		"currency": "EUR",
		"txn_type": "debit",
		"status": "completed"
	}`)

	ev, err := v.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "e1", ev.ID)
	assert.Equal(t, event.KindTransaction, ev.Kind)
	assert.Equal(t, "acc-1", ev.AccountID)
	assert.Equal(t, 120.50, ev.Amount)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), ev.Timestamp)
}

func TestEventValidatorRejections(t *testing.T) {
	v, err := NewEventValidator(zap.NewNop())
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{"event_id": `},
		{"missing kind", `{"event_id": "e1", "timestamp": "2025-06-01T12:00:00Z"}`},
		{"bad kind enum", `{"event_id": "e1", "kind": "wire", "timestamp": "2025-06-01T12:00:00Z"}`},
		{"bad status enum", `{"event_id": "e1", "kind": "transaction", "timestamp": "2025-06-01T12:00:00Z", "account_id": "a", "status": "done"}`},
		{"negative amount", `{"event_id": "e1", "kind": "transaction", "timestamp": "2025-06-01T12:00:00Z", "account_id": "a", "amount": -5}`},
		{"unknown field", `{"event_id": "e1", "kind": "login", "timestamp": "2025-06-01T12:00:00Z", "customer_id": "c", "extra": true}`},
		{"transaction without account", `{"event_id": "e1", "kind": "transaction", "timestamp": "2025-06-01T12:00:00Z"}`},
		{"login without customer", `{"event_id": "e1", "kind": "login", "timestamp": "2025-06-01T12:00:00Z"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Decode([]byte(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestAlertCodecRoundtrip(t *testing.T) {
	c, err := NewAlertCodec(zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 0, c.SchemaID())

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := alert.Mutation{
		Kind: alert.MutationCreated,
		Alert: alert.Alert{
			ID:           "al-1",
			RuleID:       "velocity-burst",
			RuleName:     "Velocity burst",
			Severity:     rules.SeverityHigh,
			Score:        70,
			WindowKey:    "txn-account-1m|account|acc-1",
			Dimension:    "account",
			Value:        "acc-1",
			Status:       alert.StatusOpen,
			Detail:       "11 transactions in 1m",
			EventID:      "e10",
			TriggerCount: 1,
			TriggeredAt:  at,
			CreatedAt:    at,
			UpdatedAt:    at,
		},
		At: at,
	}

	data, err := c.Encode(m)
	require.NoError(t, err)

	// Confluent wire format: magic byte then big-endian schema id.
	require.Greater(t, len(data), 5)
	assert.Equal(t, byte(0x0), data[0])
	assert.Equal(t, []byte{0, 0, 0, 0}, data[1:5])

	fields, err := c.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "created", fields["mutation_kind"])
	assert.Equal(t, "al-1", fields["alert_id"])
	assert.Equal(t, "velocity-burst", fields["rule_id"])
	assert.Equal(t, float64(70), fields["score"])
	assert.Equal(t, int64(1), fields["trigger_count"])
	assert.Equal(t, at, fields["triggered_at"].(time.Time).UTC())
}

func TestAlertCodecRejectsEmptyMutation(t *testing.T) {
	c, err := NewAlertCodec(zap.NewNop())
	require.NoError(t, err)

	_, err = c.Encode(alert.Mutation{Kind: alert.MutationCreated})
	assert.Error(t, err)
}

func TestAlertCodecRejectsBadFrame(t *testing.T) {
	c, err := NewAlertCodec(zap.NewNop())
	require.NoError(t, err)

	_, err = c.Decode([]byte{0x0, 0x0})
	assert.Error(t, err)

	_, err = c.Decode([]byte{0x7, 0, 0, 0, 0, 1, 2, 3})
	assert.Error(t, err)
}
