package idempotency

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lotopoints/backend/pkg/config"
	pkgerrors "github.com/lotopoints/backend/pkg/errors"
	"github.com/lotopoints/backend/pkg/logger"
	"github.com/lotopoints/backend/pkg/redis"
)

const lockToken = "1"

// Guard deduplicates mutating financial requests. Each (scope, key) pair is
// serialized through an exclusive Redis lock with a bounded TTL, and a
// committed outcome is cached so replays observe the original result.
type Guard struct {
	store      redis.GuardStore
	lockTTL    time.Duration
	outcomeTTL time.Duration
	logg       *logger.Logger
}

// NewGuard wires a guard over the provided store.
func NewGuard(store redis.GuardStore, cfg config.IdempotencyConfig, logg *logger.Logger) (*Guard, error) {
	if store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "guard store required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	outcomeTTL := cfg.OutcomeTTL
	if outcomeTTL <= 0 {
		outcomeTTL = 168 * time.Hour
	}
	return &Guard{
		store:      store,
		lockTTL:    lockTTL,
		outcomeTTL: outcomeTTL,
		logg:       logg,
	}, nil
}

// Result carries the outcome of a guarded run.
type Result struct {
	// Payload is the JSON outcome, either freshly produced or replayed.
	Payload json.RawMessage
	// Replayed is true when the outcome came from the cache instead of fn.
	Replayed bool
}

// Run executes fn at most once per (scope, key). A caller re-submitting a
// completed key gets the cached outcome verbatim; a caller racing an
// in-flight execution gets a retryable OperationInProgress.
func (g *Guard) Run(ctx context.Context, scope, key string, fn func(ctx context.Context) (any, error)) (*Result, error) {
	scope = strings.TrimSpace(scope)
	key = strings.TrimSpace(key)
	if scope == "" || key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency scope and key are required")
	}

	outcomeKey := g.store.OutcomeKey(scope, key)
	if cached, err := g.lookupOutcome(ctx, outcomeKey); err != nil {
		return nil, err
	} else if cached != nil {
		return &Result{Payload: cached, Replayed: true}, nil
	}

	lockKey := g.store.LockKey(scope, key)
	acquired, err := g.store.SetNX(ctx, lockKey, lockToken, g.lockTTL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquiring idempotency lock")
	}
	if !acquired {
		// The lock holder may have finished between our outcome check and
		// the SetNX. Look again before declaring the operation in flight.
		if cached, err := g.lookupOutcome(ctx, outcomeKey); err != nil {
			return nil, err
		} else if cached != nil {
			return &Result{Payload: cached, Replayed: true}, nil
		}
		return nil, pkgerrors.New(pkgerrors.CodeInProgress, "operation with this key is still executing").
			WithDetails(map[string]any{"scope": scope, "key": key})
	}

	defer func() {
		if err := g.store.Del(ctx, lockKey); err != nil {
			g.logg.Warn(g.logg.WithFields(ctx, map[string]any{
				"scope": scope,
				"key":   key,
				"error": err.Error(),
			}), "failed to release idempotency lock, TTL will reclaim it")
		}
	}()

	value, err := fn(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding idempotency outcome")
	}
	if err := g.store.Set(ctx, outcomeKey, string(payload), g.outcomeTTL); err != nil {
		// The operation committed; a lost outcome cache only costs a replay
		// lookup against primary storage.
		g.logg.Warn(g.logg.WithFields(ctx, map[string]any{
			"scope": scope,
			"key":   key,
			"error": err.Error(),
		}), "failed to cache idempotency outcome")
	}
	return &Result{Payload: payload}, nil
}

func (g *Guard) lookupOutcome(ctx context.Context, outcomeKey string) (json.RawMessage, error) {
	value, err := g.store.Get(ctx, outcomeKey)
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading idempotency outcome")
	}
	if value == "" {
		return nil, nil
	}
	return json.RawMessage(value), nil
}
