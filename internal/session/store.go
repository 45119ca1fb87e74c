package session

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// Store is the durable map of session records shared by every tab.
//
// Reads never fail: entries that cannot be decoded are logged and treated as
// absent. Writes return errors wrapping ErrStorageFailure.
type Store interface {
	// Put inserts or replaces the record keyed by rec.SessionID.
	Put(ctx context.Context, rec *Record) error

	// Get returns the record, or false if it is missing or corrupt.
	Get(ctx context.Context, sessionID string) (*Record, bool)

	// Update applies fn to the stored record and writes the result back.
	// It returns ErrSessionNotFound if the record does not exist, and never
	// recreates a record removed concurrently. fn may run more than once.
	Update(ctx context.Context, sessionID string, fn func(*Record) error) error

	// Remove deletes the record. Removing a missing record is not an error.
	Remove(ctx context.Context, sessionID string) error

	// All lazily yields every valid record in creation order. Key-value
	// stores order by session id, which for minted ULIDs is the same thing.
	All(ctx context.Context) iter.Seq[*Record]
}

// applyUpdate runs fn on a copy of rec and pins the immutable fields.
func applyUpdate(rec *Record, fn func(*Record) error) (*Record, error) {
	next := rec.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.SessionID = rec.SessionID
	next.CreatedAt = rec.CreatedAt
	return next, nil
}

// MemoryStore is a process-local Store. It keeps encoded payloads, so it
// behaves like the networked stores with respect to corrupt entries.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	logger *zap.Logger
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		data:   make(map[string][]byte),
		logger: logger.Named("session.memstore"),
	}
}

func (s *MemoryStore) Put(_ context.Context, rec *Record) error {
	payload, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[rec.SessionID] = payload
	return nil
}

// PutRaw stores payload as-is under sessionID.
func (s *MemoryStore) PutRaw(sessionID string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[sessionID] = slices.Clone(payload)
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (*Record, bool) {
	s.mu.RLock()
	payload, ok := s.data[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return s.decode(sessionID, payload)
}

func (s *MemoryStore) decode(sessionID string, payload []byte) (*Record, bool) {
	rec, err := decodeRecord(payload)
	if err == nil && rec.SessionID != sessionID {
		err = fmt.Errorf("%w: key %q holds session %q", ErrCorruptRecord, sessionID, rec.SessionID)
	}
	if err != nil {
		s.logger.Warn("ignoring corrupt session record", zap.String("session_id", sessionID), zap.Error(err))
		return nil, false
	}
	return rec, true
}

func (s *MemoryStore) Update(_ context.Context, sessionID string, fn func(*Record) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, ok := s.data[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	rec, ok := s.decode(sessionID, payload)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	next, err := applyUpdate(rec, fn)
	if err != nil {
		return err
	}
	payload, err = encodeRecord(next)
	if err != nil {
		return err
	}
	s.data[sessionID] = payload
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sessionID)
	return nil
}

func (s *MemoryStore) All(ctx context.Context) iter.Seq[*Record] {
	return func(yield func(*Record) bool) {
		s.mu.RLock()
		ids := make([]string, 0, len(s.data))
		for id := range s.data {
			ids = append(ids, id)
		}
		s.mu.RUnlock()
		slices.Sort(ids)

		for _, id := range ids {
			rec, ok := s.Get(ctx, id)
			if !ok {
				continue
			}
			if !yield(rec) {
				return
			}
		}
	}
}
