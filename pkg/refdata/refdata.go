// Package refdata provides read-only reference lookups used by per-event
// rules: merchant category codes and high-risk merchant/country/city lists.
// Lookups failing (not found or backend unavailable) cause the dependent
// rule to be skipped for that event, never a fatal error.
package refdata

import (
	"context"
	"fmt"
	"strings"

	senterrors "github.com/meridianbank/sentinel/pkg/errors"
)

// Provider is the read-only reference data interface.
type Provider interface {
	// MerchantCategory returns the MCC for a merchant id.
	MerchantCategory(ctx context.Context, merchantID string) (string, error)
	// IsHighRiskMCC reports whether a merchant category code is listed
	// as high risk.
	IsHighRiskMCC(ctx context.Context, mcc string) (bool, error)
	// IsHighRiskCountry reports whether a country code is listed.
	IsHighRiskCountry(ctx context.Context, country string) (bool, error)
	// IsHighRiskCity reports whether a city is listed.
	IsHighRiskCity(ctx context.Context, city string) (bool, error)
}

// StaticProvider serves reference data from in-memory lists, typically
// loaded from configuration. Lookups are case-insensitive.
type StaticProvider struct {
	merchantMCC       map[string]string
	highRiskMCCs      map[string]struct{}
	highRiskCountries map[string]struct{}
	highRiskCities    map[string]struct{}
}

// NewStaticProvider builds a provider from plain lists.
func NewStaticProvider(merchantMCC map[string]string, mccs, countries, cities []string) *StaticProvider {
	p := &StaticProvider{
		merchantMCC:       make(map[string]string, len(merchantMCC)),
		highRiskMCCs:      make(map[string]struct{}, len(mccs)),
		highRiskCountries: make(map[string]struct{}, len(countries)),
		highRiskCities:    make(map[string]struct{}, len(cities)),
	}
	for id, mcc := range merchantMCC {
		p.merchantMCC[strings.ToLower(id)] = mcc
	}
	for _, v := range mccs {
		p.highRiskMCCs[strings.ToLower(v)] = struct{}{}
	}
	for _, v := range countries {
		p.highRiskCountries[strings.ToLower(v)] = struct{}{}
	}
	for _, v := range cities {
		p.highRiskCities[strings.ToLower(v)] = struct{}{}
	}
	return p
}

// MerchantCategory returns the configured MCC for a merchant.
func (p *StaticProvider) MerchantCategory(_ context.Context, merchantID string) (string, error) {
	mcc, ok := p.merchantMCC[strings.ToLower(merchantID)]
	if !ok {
		return "", fmt.Errorf("merchant %s: %w", merchantID, senterrors.ErrReferenceDataUnavailable)
	}
	return mcc, nil
}

// IsHighRiskMCC checks the configured MCC list.
func (p *StaticProvider) IsHighRiskMCC(_ context.Context, mcc string) (bool, error) {
	_, ok := p.highRiskMCCs[strings.ToLower(mcc)]
	return ok, nil
}

// IsHighRiskCountry checks the configured country list.
func (p *StaticProvider) IsHighRiskCountry(_ context.Context, country string) (bool, error) {
	_, ok := p.highRiskCountries[strings.ToLower(country)]
	return ok, nil
}

// IsHighRiskCity checks the configured city list.
func (p *StaticProvider) IsHighRiskCity(_ context.Context, city string) (bool, error) {
	_, ok := p.highRiskCities[strings.ToLower(city)]
	return ok, nil
}

var _ Provider = (*StaticProvider)(nil)
