package console

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"agent-console/internal/fault"
	"agent-console/pkg/utils"
)

// Factory builds and initialises the controller of one agent.
type Factory func(ctx context.Context, agentID string) (*Controller, error)

// Lease guards against one agent running two consoles on different instances.
type Lease interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) error
}

// RedisLease stores leases in Redis.
type RedisLease struct {
	RDB *redis.Client
}

func (l RedisLease) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return utils.AcquireLease(ctx, l.RDB, key, owner, ttl)
}

func (l RedisLease) Release(ctx context.Context, key, owner string) error {
	return utils.ReleaseLease(ctx, l.RDB, key, owner)
}

const DefaultLeaseTTL = 2 * time.Minute

var ErrOpenElsewhere = errors.New("console: agent console is open on another instance")

type RegistryOptions struct {
	// Lease is optional; without it consoles are only unique per process.
	Lease    Lease
	LeaseTTL time.Duration
	// Owner identifies this process. Defaults to a random id.
	Owner  string
	Logger *slog.Logger
}

// Registry holds one controller per agent.
type Registry struct {
	factory Factory
	lease   Lease
	ttl     time.Duration
	owner   string
	log     *slog.Logger

	mu       sync.Mutex
	consoles map[string]*entry
}

// entry is reserved before the console is built. ready is closed once ctrl
// or err is set.
type entry struct {
	ready     chan struct{}
	err       error
	ctrl      *Controller
	stopRenew chan struct{}
	renewDone chan struct{}
}

func NewRegistry(factory Factory, opts RegistryOptions) *Registry {
	r := &Registry{
		factory:  factory,
		lease:    opts.Lease,
		ttl:      opts.LeaseTTL,
		owner:    opts.Owner,
		log:      opts.Logger,
		consoles: map[string]*entry{},
	}
	if r.ttl <= 0 {
		r.ttl = DefaultLeaseTTL
	}
	if r.owner == "" {
		r.owner = uuid.NewString()
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

func leaseKey(agentID string) string { return "console:lease:" + agentID }

// Open returns the agent's controller, creating it on first use. The lease
// and the factory run outside the registry lock; concurrent opens for the same
// agent wait for the first one.
func (r *Registry) Open(ctx context.Context, agentID string) (*Controller, error) {
	r.mu.Lock()
	if e, ok := r.consoles[agentID]; ok {
		r.mu.Unlock()
		select {
		case <-e.ready:
			return e.ctrl, e.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	e := &entry{ready: make(chan struct{})}
	r.consoles[agentID] = e
	r.mu.Unlock()

	ctrl, err := r.build(ctx, agentID)

	r.mu.Lock()
	if err != nil {
		if r.consoles[agentID] == e {
			delete(r.consoles, agentID)
		}
	} else {
		e.ctrl = ctrl
		if r.lease != nil {
			e.stopRenew, e.renewDone = make(chan struct{}), make(chan struct{})
			go r.renew(agentID, ctrl, e.stopRenew, e.renewDone)
		}
		r.log.Info("console opened", "agent_id", agentID, "total_consoles", len(r.consoles))
	}
	e.err = err
	close(e.ready)
	r.mu.Unlock()
	return ctrl, err
}

func (r *Registry) build(ctx context.Context, agentID string) (*Controller, error) {
	const op = "console.open"

	if r.lease != nil {
		ok, err := r.lease.Acquire(ctx, leaseKey(agentID), r.owner, r.ttl)
		if err != nil {
			return nil, fault.Network(op, err)
		}
		if !ok {
			return nil, &fault.Error{Kind: fault.ErrPrecondition, Op: op, Err: ErrOpenElsewhere}
		}
	}
	ctrl, err := r.factory(ctx, agentID)
	if err != nil {
		r.releaseLease(agentID)
		return nil, err
	}
	return ctrl, nil
}

func (r *Registry) Get(agentID string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.consoles[agentID]
	if !ok || e.ctrl == nil {
		return nil, false
	}
	return e.ctrl, true
}

// Agents lists agents with an open console, sorted.
func (r *Registry) Agents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.consoles))
	for id, e := range r.consoles {
		if e.ctrl != nil {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Close disposes the agent's controller and releases its lease. It reports
// whether a console was open.
func (r *Registry) Close(ctx context.Context, agentID string) bool {
	r.mu.Lock()
	e, ok := r.consoles[agentID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	<-e.ready

	r.mu.Lock()
	ok = e.err == nil && r.consoles[agentID] == e
	if ok {
		delete(r.consoles, agentID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	if e.stopRenew != nil {
		close(e.stopRenew)
		<-e.renewDone
	}
	e.ctrl.Dispose(ctx)
	r.releaseLease(agentID)
	r.log.Info("console closed", "agent_id", agentID)
	return true
}

// CloseAll disposes every console. Used on shutdown.
func (r *Registry) CloseAll(ctx context.Context) {
	for _, id := range r.Agents() {
		r.Close(ctx, id)
	}
}

func (r *Registry) releaseLease(agentID string) {
	if r.lease == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.lease.Release(ctx, leaseKey(agentID), r.owner); err != nil {
		r.log.Warn("console lease release failed", "agent_id", agentID, "err", err)
	}
}

func (r *Registry) renew(agentID string, ctrl *Controller, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
			ok, err := r.lease.Acquire(ctx, leaseKey(agentID), r.owner, r.ttl)
			cancel()
			if err != nil {
				r.log.Warn("console lease renewal failed", "agent_id", agentID, "err", err)
				continue
			}
			if !ok {
				r.log.Error("console lease lost", "agent_id", agentID)
				ctrl.Notifier().Warning("This console was opened elsewhere. Close this window.")
				return
			}
		}
	}
}
