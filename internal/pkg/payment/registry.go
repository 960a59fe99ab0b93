package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	planLockTTL      = 30 * time.Second
	planLockAttempts = 10
	planLockBackoff  = 200 * time.Millisecond
)

// Locker serializes remote plan provisioning across processes.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisLocker implements Locker on a shared redis instance via SET NX.
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, key, "1", ttl).Result()
}

func (l *RedisLocker) Release(ctx context.Context, key string) error {
	return l.client.Del(ctx, key).Err()
}

// MemoryLocker implements Locker in-process, for tests and single-node
// deployments without redis.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return false, nil
	}
	l.held[key] = struct{}{}
	return true, nil
}

func (l *MemoryLocker) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

// RemotePlanRegistry maps a local subscribable entity and billing cycle to
// the provider-side plan, creating the remote plan on first use. Concurrent
// callers converge on a single plan ref per (entity, cycle, provider): a
// persisted ref short-circuits, a shared lock serializes provisioning, and
// the deterministic plan name makes the remote create itself idempotent.
type RemotePlanRegistry struct {
	repo   Repository
	locker Locker
	codec  *CorrelationCodec
}

func NewRemotePlanRegistry(repo Repository, locker Locker, codec *CorrelationCodec) *RemotePlanRegistry {
	return &RemotePlanRegistry{repo: repo, locker: locker, codec: codec}
}

// Ensure returns the remote plan for the entity and cycle, provisioning it
// through the gateway when no local ref exists yet.
func (r *RemotePlanRegistry) Ensure(ctx context.Context, gateway ProviderGateway, entity PlanEntity, cycle BillingCycle, quote PriceQuote) (RemotePlan, error) {
	provider := gateway.Name()

	ref, err := r.findRef(ctx, entity, provider, cycle)
	if err != nil {
		return RemotePlan{}, err
	}
	if ref != nil {
		return *ref, nil
	}

	lockKey := fmt.Sprintf("payment:plan:%s:%s:%d:%s", provider, entity.Type, entity.ID, cycle)
	acquired := false
	for i := 0; i < planLockAttempts; i++ {
		ok, err := r.locker.Acquire(ctx, lockKey, planLockTTL)
		if err != nil {
			return RemotePlan{}, err
		}
		if ok {
			acquired = true
			break
		}
		// Another caller is provisioning; it may have finished meanwhile.
		ref, err := r.findRef(ctx, entity, provider, cycle)
		if err != nil {
			return RemotePlan{}, err
		}
		if ref != nil {
			return *ref, nil
		}
		select {
		case <-ctx.Done():
			return RemotePlan{}, ctx.Err()
		case <-time.After(planLockBackoff):
		}
	}
	if acquired {
		defer r.locker.Release(ctx, lockKey)
	}
	// Without the lock the flow still converges: the deterministic name
	// makes the gateway reuse an existing plan, and the upsert below keeps
	// exactly one ref row.

	ref, err = r.findRef(ctx, entity, provider, cycle)
	if err != nil {
		return RemotePlan{}, err
	}
	if ref != nil {
		return *ref, nil
	}

	name, err := r.codec.EncodeEntity(entity, cycle)
	if err != nil {
		return RemotePlan{}, err
	}
	plan, err := gateway.EnsurePlan(ctx, name, cycle, quote)
	if err != nil {
		return RemotePlan{}, err
	}

	persisted, err := r.repo.UpsertRemotePlanRef(ctx, entity, provider, cycle, plan)
	if err != nil {
		return RemotePlan{}, err
	}
	return RemotePlan{Provider: provider, PlanID: persisted.ExternalPlanID, ProductID: persisted.ExternalProductID}, nil
}

// findRef loads the persisted plan ref. A nil ref with a nil error means no
// ref exists yet; any other repository failure propagates, so an outage is
// never mistaken for a missing ref.
func (r *RemotePlanRegistry) findRef(ctx context.Context, entity PlanEntity, provider string, cycle BillingCycle) (*RemotePlan, error) {
	ref, err := r.repo.FindRemotePlanRef(ctx, entity, provider, cycle)
	if err == nil {
		return &RemotePlan{Provider: provider, PlanID: ref.ExternalPlanID, ProductID: ref.ExternalProductID}, nil
	}
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return nil, err
}
