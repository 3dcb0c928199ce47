package event

import (
	"fmt"
	"time"
)

// Kind distinguishes the two event families sharing the common envelope.
type Kind string

const (
	KindTransaction Kind = "transaction"
	KindLogin       Kind = "login"
)

// TxnType is the direction/category of a monetary transaction.
type TxnType string

const (
	TxnDebit  TxnType = "debit"
	TxnCredit TxnType = "credit"
	TxnRefund TxnType = "refund"
)

// Status is the processing outcome of a transaction.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusPending   Status = "pending"
	StatusReversed  Status = "reversed"
)

// Event is an immutable transaction or login fact consumed by the engine.
// One event fans out to several window keys (account, customer, card, ip...).
type Event struct {
	ID        string    `json:"event_id"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	// Subject keys
	AccountID  string `json:"account_id,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
	CardID     string `json:"card_id,omitempty"`
	CardHash   string `json:"card_hash,omitempty"`
	MerchantID string `json:"merchant_id,omitempty"`
	IPAddress  string `json:"ip_address,omitempty"`
	DeviceID   string `json:"device_id,omitempty"`

	// Location
	Country         string `json:"country,omitempty"`
	City            string `json:"city,omitempty"`
	MerchantCountry string `json:"merchant_country,omitempty"`
	MerchantCity    string `json:"merchant_city,omitempty"`

	// Transaction payload
	Amount   float64 `json:"amount,omitempty"`
	Currency string  `json:"currency,omitempty"`
	TxnType  TxnType `json:"txn_type,omitempty"`
	Status   Status  `json:"status,omitempty"`
	Channel  string  `json:"channel,omitempty"`

	// Login payload
	Success bool `json:"success,omitempty"`

	// Source position, for replay and dedupe diagnostics
	Partition int32 `json:"-"`
	Offset    int64 `json:"-"`
}

// Dimension identifies which subject key a window is built over.
type Dimension string

const (
	DimAccount  Dimension = "account"
	DimCustomer Dimension = "customer"
	DimCard     Dimension = "card"
	DimCardHash Dimension = "card_hash"
	DimMerchant Dimension = "merchant"
	DimIP       Dimension = "ip"
	DimDevice   Dimension = "device"
)

// DimensionValue extracts the subject key value for a dimension.
// Empty string means the event does not carry that dimension.
func (e *Event) DimensionValue(dim Dimension) string {
	switch dim {
	case DimAccount:
		return e.AccountID
	case DimCustomer:
		return e.CustomerID
	case DimCard:
		return e.CardID
	case DimCardHash:
		return e.CardHash
	case DimMerchant:
		return e.MerchantID
	case DimIP:
		return e.IPAddress
	case DimDevice:
		return e.DeviceID
	default:
		return ""
	}
}

// Validate checks the minimal envelope invariants before routing.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event missing id")
	}
	if e.Kind != KindTransaction && e.Kind != KindLogin {
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("event %s missing timestamp", e.ID)
	}
	if e.Kind == KindTransaction && e.AccountID == "" {
		return fmt.Errorf("transaction %s missing account id", e.ID)
	}
	if e.Kind == KindLogin && e.CustomerID == "" {
		return fmt.Errorf("login %s missing customer id", e.ID)
	}
	return nil
}

// IsFailed reports whether a transaction failed or a login was unsuccessful.
func (e *Event) IsFailed() bool {
	if e.Kind == KindLogin {
		return !e.Success
	}
	return e.Status == StatusFailed
}
