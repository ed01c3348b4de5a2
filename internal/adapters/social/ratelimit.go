package social

import (
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultRateLimits are conservative per-platform quotas for Graph API calls.
func DefaultRateLimits() map[string]RateLimitConfig {
	return map[string]RateLimitConfig{
		"instagram": {RequestsPerSecond: 1, Burst: 2},
		"facebook":  {RequestsPerSecond: 1, Burst: 2},
	}
}

// RateLimitFromEnv overrides def from SOCIAL_<PLATFORM>_RPS and SOCIAL_<PLATFORM>_BURST.
func RateLimitFromEnv(getenv func(string) string, platform string, def RateLimitConfig) RateLimitConfig {
	if getenv == nil {
		return def
	}
	prefix := "SOCIAL_" + strings.ToUpper(platform) + "_"
	if v := getenv(prefix + "RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			def.RequestsPerSecond = f
		}
	}
	if v := getenv(prefix + "BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			def.Burst = n
		}
	}
	return def
}

// Limiters hands out one limiter per platform, created on first use.
type Limiters struct {
	mu     sync.Mutex
	getenv func(string) string
	byName map[string]*rate.Limiter
}

func NewLimiters(getenv func(string) string) *Limiters {
	return &Limiters{getenv: getenv, byName: map[string]*rate.Limiter{}}
}

func (l *Limiters) For(platform string) *rate.Limiter {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.byName[platform]; ok {
		return lim
	}
	cfg, ok := DefaultRateLimits()[platform]
	if !ok {
		cfg = RateLimitConfig{RequestsPerSecond: 1, Burst: 1}
	}
	cfg = RateLimitFromEnv(l.getenv, platform, cfg)
	lim := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	l.byName[platform] = lim
	return lim
}
