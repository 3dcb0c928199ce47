package refdata

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	senterrors "github.com/meridianbank/sentinel/pkg/errors"
)

func TestStaticProviderLookups(t *testing.T) {
	p := NewStaticProvider(
		map[string]string{"Merch-Casino": "7995"},
		[]string{"7995", "6051"},
		[]string{"KP", "IR"},
		[]string{"Shadowville"},
	)
	ctx := context.Background()

	mcc, err := p.MerchantCategory(ctx, "merch-casino")
	require.NoError(t, err)
	assert.Equal(t, "7995", mcc)

	// Lookups are case-insensitive both ways.
	mcc, err = p.MerchantCategory(ctx, "MERCH-CASINO")
	require.NoError(t, err)
	assert.Equal(t, "7995", mcc)

	risky, err := p.IsHighRiskMCC(ctx, "7995")
	require.NoError(t, err)
	assert.True(t, risky)
	risky, err = p.IsHighRiskMCC(ctx, "5411")
	require.NoError(t, err)
	assert.False(t, risky)

	risky, err = p.IsHighRiskCountry(ctx, "kp")
	require.NoError(t, err)
	assert.True(t, risky)

	risky, err = p.IsHighRiskCity(ctx, "SHADOWVILLE")
	require.NoError(t, err)
	assert.True(t, risky)
}

func TestStaticProviderUnknownMerchant(t *testing.T) {
	p := NewStaticProvider(nil, nil, nil, nil)

	_, err := p.MerchantCategory(context.Background(), "merch-unknown")
	require.Error(t, err)
	assert.ErrorIs(t, err, senterrors.ErrReferenceDataUnavailable)
}
