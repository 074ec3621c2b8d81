package cache

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"

	pipelineerrors "github.com/korrelate/triangulate/internal/errors"
)

// renewScript extends the lease's TTL only if value still matches owner,
// so a process can never renew a lease it no longer holds.
const renewScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

// releaseScript deletes the lease only if value still matches owner: a
// compare-and-delete so release is safe to call even after expiry or
// takeover by another owner (spec.md §5 "Lease-protected singletons").
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Lease is a distributed, renewable, compare-and-delete-released lock
// keyed on rootPath, used by Scout's filesystem walker so only one
// process walks a given root at a time.
type Lease struct {
	rdb     *redis.Client
	renew   *redis.Script
	release *redis.Script
	log     logr.Logger
}

func NewLease(rdb *redis.Client, log logr.Logger) *Lease {
	return &Lease{
		rdb:     rdb,
		renew:   redis.NewScript(renewScript),
		release: redis.NewScript(releaseScript),
		log:     log,
	}
}

// Acquire attempts to take the lease for rootPath, returning false if
// another owner currently holds it.
func (l *Lease) Acquire(ctx context.Context, rootPath, owner string, ttl time.Duration) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, LeaseKey(rootPath), owner, ttl).Result()
	if err != nil {
		return false, pipelineerrors.NewTransientError("lease acquire", err)
	}
	l.log.V(1).Info("lease acquire attempted", "root_path", rootPath, "owner", owner, "acquired", ok)
	return ok, nil
}

// Renew extends the lease's TTL if owner still holds it. Callers should
// renew well before ttl elapses (e.g. every renewal interval) and treat a
// false result as lost-lease: stop work immediately.
func (l *Lease) Renew(ctx context.Context, rootPath, owner string, ttl time.Duration) (bool, error) {
	res, err := l.renew.Run(ctx, l.rdb, []string{LeaseKey(rootPath)}, owner, ttl.Milliseconds()).Result()
	if err != nil {
		return false, pipelineerrors.NewTransientError("lease renew", err)
	}
	renewed := res.(int64) == 1
	if !renewed {
		l.log.Info("lease renewal failed, owner no longer holds lease", "root_path", rootPath, "owner", owner)
	}
	return renewed, nil
}

// Release drops the lease if owner still holds it. Idempotent: calling it
// twice, or after the lease already expired, is a no-op.
func (l *Lease) Release(ctx context.Context, rootPath, owner string) error {
	_, err := l.release.Run(ctx, l.rdb, []string{LeaseKey(rootPath)}, owner).Result()
	if err != nil {
		return pipelineerrors.NewTransientError("lease release", err)
	}
	return nil
}

// KeepAlive renews the lease on renewalInterval until ctx is cancelled or
// a renewal is lost, in which case lost is closed so the caller can stop
// work (spec.md §5: "Loss of lease triggers shutdown").
func (l *Lease) KeepAlive(ctx context.Context, rootPath, owner string, ttl, renewalInterval time.Duration) (lost <-chan struct{}) {
	lostCh := make(chan struct{})
	go func() {
		ticker := time.NewTicker(renewalInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := l.Renew(ctx, rootPath, owner, ttl)
				if err != nil || !ok {
					close(lostCh)
					return
				}
			}
		}
	}()
	return lostCh
}
