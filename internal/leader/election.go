// Package leader decides which daemon instance drives pages. It is a
// last-writer-wins lock with a heartbeat: an owner whose heartbeat goes
// stale is superseded by whoever claims next.
package leader

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/autoaccept/pkg/models"
)

// DefaultStaleAfter is how old a heartbeat may get before the lock is up for grabs
const DefaultStaleAfter = 10 * time.Second

// Store holds the shared lock record
type Store interface {
	Load(ctx context.Context) (models.LockRecord, bool, error)
	Save(ctx context.Context, rec models.LockRecord) error
	Clear(ctx context.Context, ownerID string) error
}

// Elector is what callers gate their work on. A stronger lock can replace
// Election behind it.
type Elector interface {
	Tick(ctx context.Context) models.ElectionStatus
	Status() models.ElectionStatus
	Release(ctx context.Context) error
	ID() string
}

// Options configure an Election
type Options struct {
	StaleAfter time.Duration
	Logger     *zap.Logger
	Now        func() time.Time
}

// Election is the lock-and-heartbeat elector
type Election struct {
	store  Store
	id     string
	stale  time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu   sync.Mutex
	last models.ElectionStatus
}

// NewOwnerID returns a process-unique owner id
func NewOwnerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString())
}

// NewElection creates an elector for ownerID
func NewElection(store Store, ownerID string, opts Options) *Election {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Election{
		store:  store,
		id:     ownerID,
		stale:  opts.StaleAfter,
		logger: opts.Logger,
		now:    opts.Now,
		last:   models.ElectionStatus{Role: models.RoleStandby, Self: ownerID},
	}
}

// ID returns this instance's owner id
func (e *Election) ID() string {
	return e.id
}

// Tick runs one election round. It never fails: store errors are logged and
// the instance keeps acting as leader, since a duplicate start is idempotent
// while a missing controller is not.
func (e *Election) Tick(ctx context.Context) models.ElectionStatus {
	now := e.now()
	status := models.ElectionStatus{Role: models.RoleLeader, OwnerID: e.id, Self: e.id}

	rec, ok, err := e.store.Load(ctx)
	switch {
	case err != nil:
		e.logger.Warn("failed to load lock record", zap.Error(err))
	case ok && rec.OwnerID != "" && rec.OwnerID != e.id && now.Sub(rec.LastHeartbeatAt) <= e.stale:
		status = models.ElectionStatus{
			Role:         models.RoleStandby,
			OwnerID:      rec.OwnerID,
			Self:         e.id,
			HeartbeatAge: now.Sub(rec.LastHeartbeatAt),
		}
	default:
		if ok && rec.OwnerID != "" && rec.OwnerID != e.id {
			e.logger.Info("taking over stale lock",
				zap.String("previous_owner", rec.OwnerID),
				zap.Duration("heartbeat_age", now.Sub(rec.LastHeartbeatAt)))
		}
		if err := e.store.Save(ctx, models.LockRecord{OwnerID: e.id, LastHeartbeatAt: now}); err != nil {
			e.logger.Warn("failed to write heartbeat", zap.Error(err))
		}
	}

	e.mu.Lock()
	prev := e.last.Role
	e.last = status
	e.mu.Unlock()

	if prev != status.Role {
		e.logger.Info("election role changed",
			zap.String("role", string(status.Role)),
			zap.String("owner", status.OwnerID))
	}
	return status
}

// Status returns the outcome of the last tick
func (e *Election) Status() models.ElectionStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Release clears the lock if this instance holds it
func (e *Election) Release(ctx context.Context) error {
	e.mu.Lock()
	e.last = models.ElectionStatus{Role: models.RoleStandby, Self: e.id}
	e.mu.Unlock()

	if err := e.store.Clear(ctx, e.id); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu  sync.Mutex
	rec *models.LockRecord
}

// NewMemoryStore creates an empty in-process lock store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(_ context.Context) (models.LockRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec == nil {
		return models.LockRecord{}, false, nil
	}
	return *m.rec, true, nil
}

func (m *MemoryStore) Save(_ context.Context, rec models.LockRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = &rec
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec != nil && m.rec.OwnerID == ownerID {
		m.rec = nil
	}
	return nil
}
