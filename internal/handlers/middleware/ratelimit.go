package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/time/rate"

	"github.com/nkiryanov/chronoflow/internal/apperrors"
	"github.com/nkiryanov/chronoflow/internal/handlers/render"
)

const (
	defaultLimiterTTL = 10 * time.Minute
	defaultMaxClients = 100_000
)

type RateLimitConfig struct {
	// Sustained requests per second and burst allowed per client
	RPS   float64
	Burst int

	// Idle client limiter is forgotten after TTL
	TTL time.Duration

	// Upper bound of tracked clients
	MaxClients int64
}

// Per client token bucket limiters kept in ristretto with TTL
// So idle clients do not pile up in memory
type RateLimiter struct {
	rps   rate.Limit
	burst int
	ttl   time.Duration

	// Serializes limiter creation, lookups are lock free
	mu      sync.Mutex
	clients *ristretto.Cache
}

func NewRateLimiter(cfg RateLimitConfig) (*RateLimiter, error) {
	if cfg.RPS <= 0 || cfg.Burst <= 0 {
		return nil, fmt.Errorf("rate limit must be positive, got rps=%v burst=%d", cfg.RPS, cfg.Burst)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultLimiterTTL
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = defaultMaxClients
	}

	clients, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.MaxClients * 10,
		MaxCost:     cfg.MaxClients,
		BufferItems: 64,
		// Cost is count of clients, not bytes
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("can't create limiter cache. Err: %w", err)
	}

	return &RateLimiter{
		rps:     rate.Limit(cfg.RPS),
		burst:   cfg.Burst,
		ttl:     cfg.TTL,
		clients: clients,
	}, nil
}

func (rl *RateLimiter) Close() {
	rl.clients.Close()
}

// Allow reports whether the client may proceed now
func (rl *RateLimiter) Allow(client string) bool {
	return rl.limiter(client).Allow()
}

func (rl *RateLimiter) limiter(client string) *rate.Limiter {
	if v, ok := rl.clients.Get(client); ok {
		return v.(*rate.Limiter)
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double check, another request may have created it
	if v, ok := rl.clients.Get(client); ok {
		return v.(*rate.Limiter)
	}

	limiter := rate.NewLimiter(rl.rps, rl.burst)
	if rl.clients.SetWithTTL(client, limiter, 1, rl.ttl) {
		// Wait until value is visible to Get
		rl.clients.Wait()
	}
	return limiter
}

// Middleware responds 429 when client exceeds its rate
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(ClientIP(r)) {
			render.Error(w, r, apperrors.TooManyRequests("Too many requests, try again later"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
