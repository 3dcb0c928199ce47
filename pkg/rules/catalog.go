package rules

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/meridianbank/sentinel/pkg/aggstore"
	"github.com/meridianbank/sentinel/pkg/config"
	"github.com/meridianbank/sentinel/pkg/event"
	"github.com/meridianbank/sentinel/pkg/refdata"
)

// Spec ids referenced by the windowed rules below.
const (
	SpecTxnAccount1m     = "txn-account-1m"
	SpecTxnAccount1d     = "txn-account-1d"
	SpecDebitAccount1d   = "debit-account-1d"
	SpecFailedTxnAccount = "failed-txn-account"
	SpecSmallTxnAccount  = "small-txn-account"
	SpecRefundAccount    = "refund-account"
	SpecCustomerActivity = "customer-activity"
	SpecIPActivity       = "ip-activity"
	SpecFailedLogin      = "failed-login-customer"
	SpecLoginAccounts    = "login-accounts-customer"
	SpecCardSession      = "card-session"
	SpecCardHashAccounts = "cardhash-accounts"
	SpecMerchantReach    = "merchant-customers"
)

// Catalog holds the active rule set, indexed for the evaluator: per-event
// rules in one list, windowed rules grouped by the spec feeding them.
type Catalog struct {
	rules    []*Rule
	byID     map[string]*Rule
	bySpec   map[string][]*Rule
	perEvent []*Rule
	specs    []*aggstore.Spec
}

// NewCatalog builds an empty catalog over the given aggregation specs.
func NewCatalog(specs []*aggstore.Spec) *Catalog {
	return &Catalog{
		byID:   make(map[string]*Rule),
		bySpec: make(map[string][]*Rule),
		specs:  specs,
	}
}

// Register adds a rule, rejecting duplicates and rules referencing
// unknown specs.
func (c *Catalog) Register(r *Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if _, dup := c.byID[r.ID]; dup {
		return fmt.Errorf("rule %s: duplicate id", r.ID)
	}
	if r.SpecID != "" {
		found := false
		for _, spec := range c.specs {
			if spec.ID == r.SpecID {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("rule %s: unknown spec %s", r.ID, r.SpecID)
		}
	}

	c.rules = append(c.rules, r)
	c.byID[r.ID] = r
	if r.PerEvent() {
		c.perEvent = append(c.perEvent, r)
		sort.Slice(c.perEvent, func(i, j int) bool { return c.perEvent[i].ID < c.perEvent[j].ID })
	} else {
		c.bySpec[r.SpecID] = append(c.bySpec[r.SpecID], r)
		sort.Slice(c.bySpec[r.SpecID], func(i, j int) bool {
			return c.bySpec[r.SpecID][i].ID < c.bySpec[r.SpecID][j].ID
		})
	}
	sort.Slice(c.rules, func(i, j int) bool { return c.rules[i].ID < c.rules[j].ID })
	return nil
}

// Rules returns all registered rules sorted by id.
func (c *Catalog) Rules() []*Rule {
	return c.rules
}

// Rule looks up a rule by id.
func (c *Catalog) Rule(id string) (*Rule, bool) {
	r, ok := c.byID[id]
	return r, ok
}

// PerEventRules returns single-event rules sorted by id.
func (c *Catalog) PerEventRules() []*Rule {
	return c.perEvent
}

// RulesForSpec returns the windowed rules fed by one spec, sorted by id.
func (c *Catalog) RulesForSpec(specID string) []*Rule {
	return c.bySpec[specID]
}

// Specs returns the aggregation specs the catalog's windowed rules read.
func (c *Catalog) Specs() []*aggstore.Spec {
	return c.specs
}

// DefaultSpecs builds the aggregation specs backing the standard rule set.
func DefaultSpecs(cfg config.RulesConfig) []*aggstore.Spec {
	isTxn := func(ev *event.Event) bool { return ev.Kind == event.KindTransaction }
	isLogin := func(ev *event.Event) bool { return ev.Kind == event.KindLogin }

	return []*aggstore.Spec{
		{
			ID:        SpecTxnAccount1m,
			Dimension: event.DimAccount,
			Window:    aggstore.Window{Kind: aggstore.Tumbling, Size: cfg.VelocityWindow},
			Filter:    isTxn,
		},
		{
			ID:        SpecTxnAccount1d,
			Dimension: event.DimAccount,
			Window:    aggstore.Window{Kind: aggstore.Tumbling, Size: 24 * time.Hour},
			Filter:    isTxn,
			Distinct: map[string]aggstore.DistinctFn{
				"country": func(ev *event.Event) string { return ev.MerchantCountry },
			},
		},
		{
			ID:        SpecDebitAccount1d,
			Dimension: event.DimAccount,
			Window:    aggstore.Window{Kind: aggstore.Tumbling, Size: 24 * time.Hour},
			Filter: func(ev *event.Event) bool {
				return ev.Kind == event.KindTransaction && ev.TxnType == event.TxnDebit
			},
		},
		{
			ID:        SpecFailedTxnAccount,
			Dimension: event.DimAccount,
			Window:    aggstore.Window{Kind: aggstore.Rolling},
			Filter: func(ev *event.Event) bool {
				return ev.Kind == event.KindTransaction && ev.IsFailed()
			},
			Retention: time.Hour,
		},
		{
			ID:        SpecSmallTxnAccount,
			Dimension: event.DimAccount,
			Window:    aggstore.Window{Kind: aggstore.Rolling},
			Filter: func(ev *event.Event) bool {
				return ev.Kind == event.KindTransaction && ev.Amount > 0 && ev.Amount < cfg.StructuringAmount
			},
			Retention: 24 * time.Hour,
		},
		{
			ID:        SpecRefundAccount,
			Dimension: event.DimAccount,
			Window:    aggstore.Window{Kind: aggstore.Rolling},
			Filter: func(ev *event.Event) bool {
				return ev.Kind == event.KindTransaction && ev.TxnType == event.TxnRefund
			},
			Retention: 24 * time.Hour,
		},
		{
			ID:        SpecCustomerActivity,
			Dimension: event.DimCustomer,
			Window:    aggstore.Window{Kind: aggstore.Rolling},
			Distinct: map[string]aggstore.DistinctFn{
				"ip":     func(ev *event.Event) string { return ev.IPAddress },
				"device": func(ev *event.Event) string { return ev.DeviceID },
			},
		},
		{
			ID:        SpecIPActivity,
			Dimension: event.DimIP,
			Window:    aggstore.Window{Kind: aggstore.Rolling},
			Distinct: map[string]aggstore.DistinctFn{
				"customer": func(ev *event.Event) string { return ev.CustomerID },
			},
		},
		{
			ID:        SpecFailedLogin,
			Dimension: event.DimCustomer,
			Window:    aggstore.Window{Kind: aggstore.Rolling},
			Filter: func(ev *event.Event) bool {
				return ev.Kind == event.KindLogin && !ev.Success
			},
			Retention: time.Hour,
		},
		{
			ID:        SpecLoginAccounts,
			Dimension: event.DimCustomer,
			Window:    aggstore.Window{Kind: aggstore.Rolling},
			Filter:    isLogin,
			Distinct: map[string]aggstore.DistinctFn{
				"account": func(ev *event.Event) string { return ev.AccountID },
			},
		},
		{
			ID:        SpecCardSession,
			Dimension: event.DimCard,
			Window:    aggstore.Window{Kind: aggstore.Rolling},
			Filter:    isTxn,
			Distinct: map[string]aggstore.DistinctFn{
				"city": func(ev *event.Event) string { return ev.MerchantCity },
			},
			// Sessions idle out quickly so a fresh spending run starts a
			// new first-to-last span.
			Retention: time.Hour,
		},
		{
			ID:        SpecCardHashAccounts,
			Dimension: event.DimCardHash,
			Window:    aggstore.Window{Kind: aggstore.Unbounded},
			Filter:    isTxn,
			Distinct: map[string]aggstore.DistinctFn{
				"account": func(ev *event.Event) string { return ev.AccountID },
			},
		},
		{
			ID:        SpecMerchantReach,
			Dimension: event.DimMerchant,
			Window:    aggstore.Window{Kind: aggstore.Rolling},
			Filter:    isTxn,
			Distinct: map[string]aggstore.DistinctFn{
				"customer": func(ev *event.Event) string { return ev.CustomerID },
			},
		},
	}
}

// DefaultCatalog builds the standard rule set with thresholds from
// configuration. Rules listed in cfg.Disabled are left out.
func DefaultCatalog(cfg config.RulesConfig) (*Catalog, error) {
	c := NewCatalog(DefaultSpecs(cfg))

	cooldown := func(id string) time.Duration {
		if d, ok := cfg.Cooldowns[id]; ok {
			return d
		}
		return cfg.DefaultCooldown
	}

	all := []*Rule{
		{
			ID:          "velocity-burst",
			Name:        "Transaction velocity burst",
			Description: fmt.Sprintf("more than %d transactions on one account within %s", cfg.VelocityCount, cfg.VelocityWindow),
			Severity:    SeverityHigh,
			Score:       70,
			SpecID:      SpecTxnAccount1m,
			Predicate:   Predicate{Field: FieldCount, Op: OpGreaterThan, Threshold: float64(cfg.VelocityCount)},
		},
		{
			ID:          "large-amount",
			Name:        "Large transaction amount",
			Description: fmt.Sprintf("single transaction above %.0f", cfg.LargeAmount),
			Severity:    SeverityHigh,
			Score:       75,
			KeyDimension: event.DimAccount,
			Check: func(_ context.Context, ev *event.Event, _ refdata.Provider) (bool, string, error) {
				if ev.Kind != event.KindTransaction {
					return false, "", nil
				}
				// Strictly greater: an amount exactly at the threshold
				// does not fire.
				if ev.Amount > cfg.LargeAmount {
					return true, fmt.Sprintf("amount %.2f %s exceeds %.0f", ev.Amount, ev.Currency, cfg.LargeAmount), nil
				}
				return false, "", nil
			},
		},
		{
			ID:          "late-night-activity",
			Name:        "Late night transaction",
			Description: fmt.Sprintf("transaction between %02d:00 and %02d:59", cfg.LateNightStartHour, cfg.LateNightEndHour),
			Severity:    SeverityLow,
			Score:       25,
			KeyDimension: event.DimAccount,
			Check: func(_ context.Context, ev *event.Event, _ refdata.Provider) (bool, string, error) {
				if ev.Kind != event.KindTransaction {
					return false, "", nil
				}
				hour := ev.Timestamp.UTC().Hour()
				if hour >= cfg.LateNightStartHour && hour <= cfg.LateNightEndHour {
					return true, fmt.Sprintf("transaction at %s UTC", ev.Timestamp.UTC().Format("15:04")), nil
				}
				return false, "", nil
			},
		},
		{
			ID:          "multi-ip-customer",
			Name:        "Customer active from many IPs",
			Description: fmt.Sprintf("one customer seen from more than %d IP addresses", cfg.MultiIPCount),
			Severity:    SeverityMedium,
			Score:       55,
			SpecID:      SpecCustomerActivity,
			Predicate:   Predicate{Field: FieldDistinct, Distinct: "ip", Op: OpGreaterThan, Threshold: float64(cfg.MultiIPCount)},
		},
		{
			ID:          "multi-device-customer",
			Name:        "Customer active from many devices",
			Description: fmt.Sprintf("one customer seen from more than %d devices", cfg.MultiDeviceCount),
			Severity:    SeverityMedium,
			Score:       50,
			SpecID:      SpecCustomerActivity,
			Predicate:   Predicate{Field: FieldDistinct, Distinct: "device", Op: OpGreaterThan, Threshold: float64(cfg.MultiDeviceCount)},
		},
		{
			ID:          "shared-ip-fanout",
			Name:        "Shared IP fan-out",
			Description: fmt.Sprintf("one IP address serving more than %d customers", cfg.SharedIPCustomers),
			Severity:    SeverityHigh,
			Score:       65,
			SpecID:      SpecIPActivity,
			Predicate:   Predicate{Field: FieldDistinct, Distinct: "customer", Op: OpGreaterThan, Threshold: float64(cfg.SharedIPCustomers)},
		},
		{
			ID:          "failed-txn-burst",
			Name:        "Failed transaction burst",
			Description: fmt.Sprintf("more than %d failed transactions on one account", cfg.FailedTxnCount),
			Severity:    SeverityMedium,
			Score:       55,
			SpecID:      SpecFailedTxnAccount,
			Predicate:   Predicate{Field: FieldCount, Op: OpGreaterThan, Threshold: float64(cfg.FailedTxnCount)},
		},
		{
			ID:          "large-daily-outflow",
			Name:        "Large daily outflow",
			Description: fmt.Sprintf("debits summing above %.0f in one day", cfg.DailyOutflowSum),
			Severity:    SeverityHigh,
			Score:       80,
			SpecID:      SpecDebitAccount1d,
			Predicate:   Predicate{Field: FieldSum, Op: OpGreaterThan, Threshold: cfg.DailyOutflowSum},
		},
		{
			ID:          "structuring",
			Name:        "Structuring pattern",
			Description: fmt.Sprintf("more than %d transactions below %.0f on one account", cfg.StructuringCount, cfg.StructuringAmount),
			Severity:    SeverityHigh,
			Score:       70,
			SpecID:      SpecSmallTxnAccount,
			Predicate:   Predicate{Field: FieldCount, Op: OpGreaterThan, Threshold: float64(cfg.StructuringCount)},
		},
		{
			ID:          "multi-country-day",
			Name:        "Multi-country activity",
			Description: fmt.Sprintf("transactions in more than %d countries in one day", cfg.DailyCountries),
			Severity:    SeverityHigh,
			Score:       65,
			SpecID:      SpecTxnAccount1d,
			Predicate:   Predicate{Field: FieldDistinct, Distinct: "country", Op: OpGreaterThan, Threshold: float64(cfg.DailyCountries)},
		},
		{
			ID:          "impossible-travel",
			Name:        "Impossible travel",
			Description: fmt.Sprintf("one card used in different cities within %s", cfg.TravelWindow),
			Severity:    SeverityCritical,
			Score:       90,
			SpecID:      SpecCardSession,
			Predicate: Predicate{
				Field:       FieldElapsed,
				Op:          OpLessThan,
				Within:      cfg.TravelWindow,
				MinCount:    2,
				MinDistinct: map[string]int{"city": 2},
			},
		},
		{
			ID:          "login-failure-burst",
			Name:        "Login failure burst",
			Description: fmt.Sprintf("more than %d failed logins for one customer", cfg.LoginFailureCount),
			Severity:    SeverityMedium,
			Score:       50,
			SpecID:      SpecFailedLogin,
			Predicate:   Predicate{Field: FieldCount, Op: OpGreaterThan, Threshold: float64(cfg.LoginFailureCount)},
		},
		{
			ID:          "card-token-reuse",
			Name:        "Card token reuse",
			Description: fmt.Sprintf("one card hash charged across more than %d accounts", cfg.CardReuseAccounts),
			Severity:    SeverityCritical,
			Score:       85,
			SpecID:      SpecCardHashAccounts,
			Predicate:   Predicate{Field: FieldDistinct, Distinct: "account", Op: OpGreaterThan, Threshold: float64(cfg.CardReuseAccounts)},
		},
		{
			ID:          "merchant-exposure",
			Name:        "Merchant exposure spike",
			Description: fmt.Sprintf("one merchant charging more than %d distinct customers", cfg.MerchantCustomers),
			Severity:    SeverityMedium,
			Score:       45,
			SpecID:      SpecMerchantReach,
			Predicate:   Predicate{Field: FieldDistinct, Distinct: "customer", Op: OpGreaterThan, Threshold: float64(cfg.MerchantCustomers)},
		},
		{
			ID:          "account-takeover",
			Name:        "Possible account takeover",
			Description: fmt.Sprintf("one customer login touching more than %d accounts", cfg.TakeoverAccounts),
			Severity:    SeverityCritical,
			Score:       85,
			SpecID:      SpecLoginAccounts,
			Predicate:   Predicate{Field: FieldDistinct, Distinct: "account", Op: OpGreaterThan, Threshold: float64(cfg.TakeoverAccounts)},
		},
		{
			ID:          "repeated-refunds",
			Name:        "Repeated refunds",
			Description: fmt.Sprintf("more than %d refunds on one account", cfg.RefundCount),
			Severity:    SeverityMedium,
			Score:       50,
			SpecID:      SpecRefundAccount,
			Predicate:   Predicate{Field: FieldCount, Op: OpGreaterThan, Threshold: float64(cfg.RefundCount)},
		},
		{
			ID:          "high-risk-mcc",
			Name:        "High-risk merchant category",
			Description: "transaction at a merchant whose category code is listed high risk",
			Severity:    SeverityMedium,
			Score:       40,
			KeyDimension: event.DimAccount,
			Check: func(ctx context.Context, ev *event.Event, ref refdata.Provider) (bool, string, error) {
				if ev.Kind != event.KindTransaction || ev.MerchantID == "" {
					return false, "", nil
				}
				mcc, err := ref.MerchantCategory(ctx, ev.MerchantID)
				if err != nil {
					return false, "", err
				}
				risky, err := ref.IsHighRiskMCC(ctx, mcc)
				if err != nil {
					return false, "", err
				}
				if risky {
					return true, fmt.Sprintf("merchant %s has high-risk MCC %s", ev.MerchantID, mcc), nil
				}
				return false, "", nil
			},
		},
		{
			ID:          "high-risk-country",
			Name:        "High-risk country",
			Description: "transaction routed through a listed high-risk country",
			Severity:    SeverityMedium,
			Score:       45,
			KeyDimension: event.DimAccount,
			Check: func(ctx context.Context, ev *event.Event, ref refdata.Provider) (bool, string, error) {
				if ev.Kind != event.KindTransaction || ev.MerchantCountry == "" {
					return false, "", nil
				}
				risky, err := ref.IsHighRiskCountry(ctx, ev.MerchantCountry)
				if err != nil {
					return false, "", err
				}
				if risky {
					return true, fmt.Sprintf("merchant country %s is listed high risk", ev.MerchantCountry), nil
				}
				return false, "", nil
			},
		},
		{
			ID:          "high-risk-city",
			Name:        "High-risk city",
			Description: "transaction located in a listed high-risk city",
			Severity:    SeverityLow,
			Score:       30,
			KeyDimension: event.DimAccount,
			Check: func(ctx context.Context, ev *event.Event, ref refdata.Provider) (bool, string, error) {
				if ev.Kind != event.KindTransaction || ev.MerchantCity == "" {
					return false, "", nil
				}
				risky, err := ref.IsHighRiskCity(ctx, ev.MerchantCity)
				if err != nil {
					return false, "", err
				}
				if risky {
					return true, fmt.Sprintf("merchant city %s is listed high risk", ev.MerchantCity), nil
				}
				return false, "", nil
			},
		},
	}

	disabled := make(map[string]bool, len(cfg.Disabled))
	for _, id := range cfg.Disabled {
		disabled[id] = true
	}

	for _, r := range all {
		if disabled[r.ID] {
			continue
		}
		r.Cooldown = cooldown(r.ID)
		if err := c.Register(r); err != nil {
			return nil, err
		}
	}
	return c, nil
}
