package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/aretw0/stepflow/internal/logging"
	"github.com/aretw0/stepflow/internal/runtime"
	"github.com/aretw0/stepflow/pkg/domain"
	"github.com/aretw0/stepflow/pkg/ports"
	"github.com/google/uuid"
)

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager hosts many flow instances, serializing access to each one.
// It uses reference counting to garbage collect unused locks.
type Manager struct {
	flows  ports.FlowSource
	store  ports.StateStore
	caller ports.Caller

	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active locks

	locker      ports.DistributedLocker // Optional distributed locker
	lockTTL     time.Duration
	busyTimeout time.Duration
	logger      *slog.Logger
	hooks       domain.LifecycleHooks
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL bounds how long a crashed replica can hold a distributed lock.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.lockTTL = ttl
	}
}

// WithBusyTimeout sets how long a persisted busy flag may stand before the call behind
// it is treated as abandoned, for instance after a crash between the two halves of a
// submission. Defaults to the lock TTL.
func WithBusyTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.busyTimeout = d
	}
}

// WithLogger configures a logger for the Manager and its controllers.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithLifecycleHooks registers hooks on every controller the Manager builds.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(m *Manager) {
		m.hooks = m.hooks.Merge(hooks)
	}
}

// NewManager creates a Manager resolving flows from flows, persisting snapshots in store
// and sending calls through caller.
func NewManager(flows ports.FlowSource, store ports.StateStore, caller ports.Caller, opts ...Option) *Manager {
	m := &Manager{
		flows:   flows,
		store:   store,
		caller:  caller,
		locks:   make(map[string]*lockEntry),
		lockTTL: 30 * time.Second,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(instanceID) after unlocking.
func (m *Manager) acquire(instanceID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[instanceID]
	if !exists {
		entry = &lockEntry{}
		m.locks[instanceID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(instanceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[instanceID]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, instanceID)
	}
}

// WithLock executes a function while holding the lock for the instance.
func (m *Manager) WithLock(ctx context.Context, instanceID string, fn func(context.Context) error) error {
	entry := m.acquire(instanceID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(instanceID)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, instanceID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("failed to release distributed lock (will expire via TTL)",
					"instance", instanceID,
					"error", err,
				)
			}
		}()
	}

	return fn(ctx)
}

func (m *Manager) options(instanceID string) []runtime.Option {
	busyTimeout := m.busyTimeout
	if busyTimeout <= 0 {
		busyTimeout = m.lockTTL
	}
	return []runtime.Option{
		runtime.WithLogger(m.logger),
		runtime.WithLifecycleHooks(m.hooks),
		runtime.WithInstanceID(instanceID),
		runtime.WithBusyTimeout(busyTimeout),
	}
}

// Start creates and persists a new instance of the named flow.
// params become the host context read by request builders.
func (m *Manager) Start(ctx context.Context, flowName string, params map[string]any) (*domain.State, error) {
	def, err := m.flows.Get(flowName)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	opts := append(m.options(id), runtime.WithContext(params))
	c, err := runtime.New(def, m.caller, opts...)
	if err != nil {
		return nil, err
	}

	var state *domain.State
	err = m.WithLock(ctx, id, func(ctx context.Context) error {
		if err := c.Start(ctx); err != nil {
			return err
		}
		state = c.Snapshot()
		return m.store.Save(ctx, id, state)
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("instance started", "flow", flowName, "instance", id)
	return state, nil
}

// restore loads an instance and rebuilds its controller. Must run under the instance lock.
// released reports that a stale busy flag was dropped while restoring.
func (m *Manager) restore(ctx context.Context, instanceID string) (c *runtime.Controller, released bool, err error) {
	state, err := m.store.Load(ctx, instanceID)
	if err != nil {
		return nil, false, err
	}
	def, err := m.flows.Get(state.FlowID)
	if err != nil {
		return nil, false, err
	}
	c, err = runtime.Restore(def, state, m.caller, m.options(instanceID)...)
	if err != nil {
		return nil, false, err
	}
	return c, state.Busy && !c.Busy(), nil
}

// Do runs fn against the controller of an instance under its lock, then persists the
// resulting snapshot if it changed. The snapshot is returned even when fn fails.
func (m *Manager) Do(ctx context.Context, instanceID string, fn func(context.Context, *runtime.Controller) error) (*domain.State, error) {
	var state *domain.State
	var opErr error
	err := m.WithLock(ctx, instanceID, func(ctx context.Context) error {
		c, released, err := m.restore(ctx, instanceID)
		if err != nil {
			return err
		}
		before := c.Snapshot()
		opErr = fn(ctx, c)
		state = c.Snapshot()
		if !released && reflect.DeepEqual(before, state) {
			return nil
		}
		return m.store.Save(ctx, instanceID, state)
	})
	if err != nil {
		return state, err
	}
	return state, opErr
}

// Submit completes an instance. The busy flag is persisted before the call is sent and
// the lock is not held while it is in flight, so other replicas see the instance as busy.
func (m *Manager) Submit(ctx context.Context, instanceID string) (json.RawMessage, *domain.State, error) {
	return m.call(ctx, instanceID, func(ctx context.Context, c *runtime.Controller) (*runtime.Submission, error) {
		return c.BeginSubmit(ctx)
	})
}

// RunAction sends a named action of the current step of an instance, like Submit.
func (m *Manager) RunAction(ctx context.Context, instanceID, action string) (json.RawMessage, *domain.State, error) {
	return m.call(ctx, instanceID, func(ctx context.Context, c *runtime.Controller) (*runtime.Submission, error) {
		return c.BeginAction(ctx, action)
	})
}

func (m *Manager) call(ctx context.Context, instanceID string, begin func(context.Context, *runtime.Controller) (*runtime.Submission, error)) (json.RawMessage, *domain.State, error) {
	var sub *runtime.Submission
	state, err := m.Do(ctx, instanceID, func(ctx context.Context, c *runtime.Controller) error {
		var err error
		sub, err = begin(ctx, c)
		return err
	})
	if err != nil {
		return nil, state, err
	}

	result, callErr := m.caller.Call(ctx, sub.Operation, sub.Params)

	// The outcome is recorded even if the request context ended meanwhile.
	state, err = m.Do(context.WithoutCancel(ctx), instanceID, func(ctx context.Context, c *runtime.Controller) error {
		return c.FinishSubmit(ctx, sub, result, callErr)
	})
	if err != nil {
		return nil, state, err
	}
	return result, state, nil
}

// Load retrieves an instance snapshot.
func (m *Manager) Load(ctx context.Context, instanceID string) (*domain.State, error) {
	var state *domain.State
	err := m.WithLock(ctx, instanceID, func(ctx context.Context) error {
		var err error
		state, err = m.store.Load(ctx, instanceID)
		return err
	})
	return state, err
}

// Delete removes an instance. Deleting a busy instance discards its in-flight result.
func (m *Manager) Delete(ctx context.Context, instanceID string) error {
	return m.WithLock(ctx, instanceID, func(ctx context.Context) error {
		if _, err := m.store.Load(ctx, instanceID); err != nil {
			return err
		}
		return m.store.Delete(ctx, instanceID)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Flows returns the flow source.
func (m *Manager) Flows() ports.FlowSource {
	return m.flows
}

// IsNotFound reports whether err means the instance or its flow does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrInstanceNotFound) || errors.Is(err, domain.ErrFlowNotFound)
}
