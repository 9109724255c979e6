package audit

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/docdesk/docdesk/internal/shared"
)

// Recorder is the write side of the audit trail.
type Recorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MemoryStore keeps the audit trail in process for the memory backend and
// forwards every record to next, if set.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	next    Recorder
	now     func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(next Recorder) *MemoryStore {
	return &MemoryStore{next: next, now: time.Now}
}

// Record appends log to the trail.
func (m *MemoryStore) Record(ctx context.Context, log shared.AuditLog) error {
	if m.next != nil {
		if err := m.next.Record(ctx, log); err != nil {
			return err
		}
	}
	at := log.At
	if at.IsZero() {
		at = m.now()
	}
	m.mu.Lock()
	m.entries = append(m.entries, Entry{
		At:       at.UTC(),
		Actor:    log.ActorID,
		Action:   log.Action,
		Entity:   log.Entity,
		EntityID: log.EntityID,
		Meta:     maps.Clone(log.Meta),
	})
	m.mu.Unlock()
	return nil
}

// Window returns matching entries, most recently recorded first.
func (m *MemoryStore) Window(_ context.Context, q Query) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	skipped := 0
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if !q.matches(e) {
			continue
		}
		if skipped < q.Offset {
			skipped++
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}
