package session

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisScanCount     = 100
	redisUpdateRetries = 5
)

// RedisStore keeps one JSON value per record under <prefix>:record:<id>.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client, prefix string, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client: client,
		prefix: prefix + ":record:",
		logger: logger.Named("session.redisstore"),
	}
}

func (s *RedisStore) key(sessionID string) string {
	var b strings.Builder
	b.Grow(len(s.prefix) + len(sessionID))
	b.WriteString(s.prefix)
	b.WriteString(sessionID)
	return b.String()
}

func (s *RedisStore) Put(ctx context.Context, rec *Record) error {
	payload, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(rec.SessionID), payload, 0).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*Record, bool) {
	payload, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("session record read failed", zap.String("session_id", sessionID), zap.Error(err))
		}
		return nil, false
	}
	return s.decode(sessionID, payload)
}

func (s *RedisStore) decode(sessionID string, payload []byte) (*Record, bool) {
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

// Update is an optimistic WATCH/MULTI transaction. A concurrent write to the
// same key aborts the attempt and fn is re-applied to the fresh value; a
// concurrent delete ends in ErrSessionNotFound.
func (s *RedisStore) Update(ctx context.Context, sessionID string, fn func(*Record) error) error {
	key := s.key(sessionID)

	txf := func(tx *redis.Tx) error {
		payload, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStorageFailure, err)
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

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < redisUpdateRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug("session record changed during update, retrying",
				zap.String("session_id", sessionID), zap.Int("attempt", attempt+1))
			continue
		}
		return err
	}
	return fmt.Errorf("%w: update of %s kept conflicting", ErrStorageFailure, sessionID)
}

func (s *RedisStore) Remove(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return nil
}

func (s *RedisStore) ids(ctx context.Context) []string {
	var (
		cursor uint64
		ids    []string
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", redisScanCount).Result()
		if err != nil {
			s.logger.Warn("session record scan failed", zap.Error(err))
			return ids
		}
		for _, k := range keys {
			ids = append(ids, strings.TrimPrefix(k, s.prefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	slices.Sort(ids)
	return slices.Compact(ids)
}

func (s *RedisStore) All(ctx context.Context) iter.Seq[*Record] {
	return func(yield func(*Record) bool) {
		for _, id := range s.ids(ctx) {
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
