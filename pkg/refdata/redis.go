package refdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	senterrors "github.com/meridianbank/sentinel/pkg/errors"
)

// Redis key layout maintained by the reference data loader (external to
// this engine):
//
//	merchant:<id>          hash, field "mcc"
//	highrisk:mcc           set of MCC codes
//	highrisk:country       set of ISO country codes
//	highrisk:city          set of city names (lowercased)
const (
	merchantKeyPrefix  = "merchant:"
	highRiskMCCKey     = "highrisk:mcc"
	highRiskCountryKey = "highrisk:country"
	highRiskCityKey    = "highrisk:city"
)

// RedisConfig holds connection settings for the reference data cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
}

// RedisProvider serves reference data from a Redis cache kept warm by the
// upstream loader. Unreachable Redis maps to ErrReferenceDataUnavailable,
// which downgrades to a skipped rule at the call site.
type RedisProvider struct {
	client  *redis.Client
	timeout time.Duration
	logger  *zap.Logger
}

// NewRedisProvider connects to the cache and verifies it with a ping.
func NewRedisProvider(cfg RedisConfig, logger *zap.Logger) (*RedisProvider, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 500 * time.Millisecond
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("reference data redis ping: %w", err)
	}

	logger.Info("Reference data cache connected", zap.String("addr", cfg.Addr))
	return &RedisProvider{client: client, timeout: cfg.Timeout, logger: logger}, nil
}

// MerchantCategory fetches the MCC stored for a merchant.
func (p *RedisProvider) MerchantCategory(ctx context.Context, merchantID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	mcc, err := p.client.HGet(ctx, merchantKeyPrefix+strings.ToLower(merchantID), "mcc").Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("merchant %s: %w", merchantID, senterrors.ErrReferenceDataUnavailable)
	}
	if err != nil {
		return "", fmt.Errorf("merchant %s: %v: %w", merchantID, err, senterrors.ErrReferenceDataUnavailable)
	}
	return mcc, nil
}

// IsHighRiskMCC checks set membership in the high-risk MCC list.
func (p *RedisProvider) IsHighRiskMCC(ctx context.Context, mcc string) (bool, error) {
	return p.isMember(ctx, highRiskMCCKey, strings.ToLower(mcc))
}

// IsHighRiskCountry checks set membership in the high-risk country list.
func (p *RedisProvider) IsHighRiskCountry(ctx context.Context, country string) (bool, error) {
	return p.isMember(ctx, highRiskCountryKey, strings.ToLower(country))
}

// IsHighRiskCity checks set membership in the high-risk city list.
func (p *RedisProvider) IsHighRiskCity(ctx context.Context, city string) (bool, error) {
	return p.isMember(ctx, highRiskCityKey, strings.ToLower(city))
}

func (p *RedisProvider) isMember(ctx context.Context, key, member string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ok, err := p.client.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, fmt.Errorf("%s lookup: %v: %w", key, err, senterrors.ErrReferenceDataUnavailable)
	}
	return ok, nil
}

// Close releases the Redis connection.
func (p *RedisProvider) Close() error {
	return p.client.Close()
}

var _ Provider = (*RedisProvider)(nil)
