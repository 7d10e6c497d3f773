package cache

import (
	"context"
	"sync"
	"time"

	"github.com/erp/treasury/internal/domain/shared"
	"github.com/google/uuid"
)

// InMemoryIdempotencyStore implements IdempotencyStore using an in-memory map.
// It is suitable for single-instance deployments and tests.
type InMemoryIdempotencyStore struct {
	mu        sync.Mutex
	records   map[string]*shared.IdempotencyRecord
	now       func() time.Time
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemoryIdempotencyStore creates a store that purges expired records every interval.
// A non-positive interval disables the background purge.
func NewInMemoryIdempotencyStore(interval time.Duration) *InMemoryIdempotencyStore {
	store := &InMemoryIdempotencyStore{
		records:  make(map[string]*shared.IdempotencyRecord),
		now:      func() time.Time { return time.Now().UTC() },
		stopChan: make(chan struct{}),
	}

	if interval > 0 {
		store.wg.Add(1)
		go store.cleanupLoop(interval)
	}
	return store
}

func recordKey(tenantID uuid.UUID, key string) string {
	return tenantID.String() + ":" + key
}

func cloneRecord(r *shared.IdempotencyRecord) *shared.IdempotencyRecord {
	c := *r
	if r.StoredResult != nil {
		c.StoredResult = append([]byte(nil), r.StoredResult...)
	}
	return &c
}

// Begin claims the key, overwriting FAILED and expired records
func (s *InMemoryIdempotencyStore) Begin(ctx context.Context, tenantID uuid.UUID, key, operation string, ttl time.Duration) (*shared.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := recordKey(tenantID, key)
	if existing, ok := s.records[k]; ok && !existing.CanReenter(s.now()) {
		return cloneRecord(existing), false, nil
	}

	record := shared.NewIdempotencyRecord(tenantID, key, operation, ttl)
	s.records[k] = record
	return cloneRecord(record), true, nil
}

// Complete stores the result and marks the record COMPLETED
func (s *InMemoryIdempotencyStore) Complete(ctx context.Context, tenantID uuid.UUID, key string, result []byte) error {
	return s.finish(tenantID, key, func(r *shared.IdempotencyRecord) {
		r.Status = shared.IdempotencyStatusCompleted
		r.StoredResult = append([]byte(nil), result...)
	})
}

// Fail marks the record FAILED
func (s *InMemoryIdempotencyStore) Fail(ctx context.Context, tenantID uuid.UUID, key, reason string) error {
	return s.finish(tenantID, key, func(r *shared.IdempotencyRecord) {
		r.Status = shared.IdempotencyStatusFailed
		r.ErrorMessage = reason
	})
}

func (s *InMemoryIdempotencyStore) finish(tenantID uuid.UUID, key string, apply func(*shared.IdempotencyRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[recordKey(tenantID, key)]
	if !ok || r.Status != shared.IdempotencyStatusProcessing {
		return shared.NewDomainError(shared.CodeInvalidState, "Idempotency record is not in progress")
	}
	apply(r)
	r.UpdatedAt = s.now()
	return nil
}

// PurgeExpired deletes records that expired before now
func (s *InMemoryIdempotencyStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for k, r := range s.records {
		if r.IsExpired(now) {
			delete(s.records, k)
			purged++
		}
	}
	return purged, nil
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (s *InMemoryIdempotencyStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
	})
	return nil
}

func (s *InMemoryIdempotencyStore) cleanupLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			_, _ = s.PurgeExpired(context.Background(), s.now())
		}
	}
}

// Size returns the number of records held
func (s *InMemoryIdempotencyStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

var _ shared.IdempotencyStore = (*InMemoryIdempotencyStore)(nil)
