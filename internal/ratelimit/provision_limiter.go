package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Phillboard/mobul-sub000/internal/config"
	obsmetrics "github.com/Phillboard/mobul-sub000/internal/observability/metrics"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	keyProvisionCaller = "provision:caller:%s"
	keyProvisionLock   = "provision:lock:%s:%s"
)

// ProvisionLimiter throttles the provisioning endpoints per caller. When
// Redis is unreachable the limiter fails open: a degraded cache must not
// take card issuance down with it.
type ProvisionLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker
	log    *zap.Logger
	obs    *obsmetrics.Metrics

	rate  float64
	burst int
}

type ProvisionLimiterParams struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func NewProvisionLimiter(p ProvisionLimiterParams) (*ProvisionLimiter, error) {
	limitCfg := p.Cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.ProvisionRate <= 0 || limitCfg.ProvisionBurst <= 0 {
		return nil, errors.New("provision rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &ProvisionLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		locker:  NewLocker(client),
		log:     p.Log.Named("ratelimit.provision"),
		obs:     p.ObsMetrics,
		rate:    limitCfg.ProvisionRate,
		burst:   limitCfg.ProvisionBurst,
	}, nil
}

func (l *ProvisionLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// Allow decides whether one provisioning call from caller may proceed.
func (l *ProvisionLimiter) Allow(ctx context.Context, caller string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}

	caller = strings.TrimSpace(caller)
	if caller == "" {
		caller = "anonymous"
	}

	result, err := l.bucket.Allow(ctx, fmt.Sprintf(keyProvisionCaller, caller), l.rate, l.burst)
	if err != nil {
		// Fail open on limiter errors.
		l.log.Warn("rate limiter unavailable; allowing request", zap.Error(err))
		return &RateLimitResult{Allowed: true, Limit: l.burst}, nil
	}

	if result.Allowed {
		l.obs.RecordRateLimitAllowed(ctx, "provision")
	} else {
		l.obs.RecordRateLimitDenied(ctx, "provision", "rate")
	}
	return result, nil
}

// TryLockRecipient takes a short exclusive lock for one campaign/recipient
// pair so a double-submitted form cannot race two vendor purchases before
// the idempotency token lands.
func (l *ProvisionLimiter) TryLockRecipient(ctx context.Context, campaignID, recipientID string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	key := fmt.Sprintf(keyProvisionLock, strings.TrimSpace(campaignID), strings.TrimSpace(recipientID))
	token, ok, err := l.locker.TryLock(ctx, key, 30*time.Second)
	if err != nil {
		l.log.Warn("recipient lock unavailable; allowing request", zap.Error(err))
		return "", true, nil
	}
	return token, ok, nil
}

func (l *ProvisionLimiter) ReleaseRecipient(ctx context.Context, campaignID, recipientID, token string) error {
	if !l.Enabled() || token == "" {
		return nil
	}
	key := fmt.Sprintf(keyProvisionLock, strings.TrimSpace(campaignID), strings.TrimSpace(recipientID))
	return l.locker.Release(ctx, key, token)
}
