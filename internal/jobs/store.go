package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "session:"
	maxTxRetries     = 16
)

// RedisRegistry はセッション状態を Redis に保存します。
type RedisRegistry struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// NewRedisRegistry は RedisRegistry を作成します。ttl が 0 の場合はキーを失効させません。
func NewRedisRegistry(rdb *redis.Client, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{
		rdb: rdb,
		ttl: ttl,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Create は queued 状態のセッションを作成します（既に存在する場合はエラー）。
func (s *RedisRegistry) Create(ctx context.Context, sessionID, formatMode string) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID is required")
	}
	record := newRecord(sessionID, formatMode, s.now(), s.ttl)
	payload, err := json.Marshal(&record)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, sessionKey(sessionID), payload, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
	}
	return nil
}

// Get はセッション情報を取得します。
func (s *RedisRegistry) Get(ctx context.Context, sessionID string) (*Record, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: empty id", ErrSessionNotFound)
	}
	data, err := s.rdb.Get(ctx, sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Transition は WATCH/MULTI で読み取りと置き換えを一括で行います。
func (s *RedisRegistry) Transition(ctx context.Context, sessionID string, next Status, upd Update) error {
	key := sessionKey(sessionID)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
			}
			return err
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}
		now := s.now()
		updated, err := record.apply(next, upd, now)
		if err != nil {
			return err
		}
		if s.ttl > 0 {
			updated.ExpiresAt = now.Add(s.ttl)
		}
		payload, err := json.Marshal(&updated)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("transition %s: too many concurrent updates", sessionID)
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}
