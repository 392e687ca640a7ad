package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Registry はセッションIDから状態レコードを引く唯一の情報源です。
// 実装は複数ワーカーとポーリングからの同時呼び出しに耐え、各操作は原子的でなければなりません。
type Registry interface {
	Create(ctx context.Context, sessionID, formatMode string) error
	Transition(ctx context.Context, sessionID string, next Status, upd Update) error
	Get(ctx context.Context, sessionID string) (*Record, error)
}

// MemoryRegistry はプロセス内のマップでセッションを保持します。
type MemoryRegistry struct {
	mu       sync.RWMutex
	sessions map[string]Record
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryRegistry は MemoryRegistry を作成します。ttl が 0 の場合は削除しません。
func NewMemoryRegistry(ttl time.Duration) *MemoryRegistry {
	return &MemoryRegistry{
		sessions: make(map[string]Record),
		ttl:      ttl,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create は queued 状態のセッションを登録します。
func (m *MemoryRegistry) Create(ctx context.Context, sessionID, formatMode string) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if existing, ok := m.sessions[sessionID]; ok && !m.expired(existing, now) {
		return fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
	}
	m.sessions[sessionID] = newRecord(sessionID, formatMode, now, m.ttl)
	return nil
}

// Transition は状態レコードを丸ごと置き換えます。
func (m *MemoryRegistry) Transition(ctx context.Context, sessionID string, next Status, upd Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	current, ok := m.sessions[sessionID]
	if !ok || m.expired(current, now) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	updated, err := current.apply(next, upd, now)
	if err != nil {
		return err
	}
	if m.ttl > 0 {
		updated.ExpiresAt = now.Add(m.ttl)
	}
	m.sessions[sessionID] = updated
	return nil
}

// Get はレコードのコピーを返します。
func (m *MemoryRegistry) Get(ctx context.Context, sessionID string) (*Record, error) {
	m.mu.RLock()
	record, ok := m.sessions[sessionID]
	m.mu.RUnlock()

	if !ok || m.expired(record, m.now()) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return &record, nil
}

// Sweep は期限切れのセッションを削除し、削除件数を返します。
func (m *MemoryRegistry) Sweep() int {
	if m.ttl <= 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, record := range m.sessions {
		if m.expired(record, now) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// RunSweeper は ctx が終了するまで interval ごとに Sweep を実行します。
func (m *MemoryRegistry) RunSweeper(ctx context.Context, interval time.Duration) {
	if m.ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *MemoryRegistry) expired(record Record, now time.Time) bool {
	return !record.ExpiresAt.IsZero() && now.After(record.ExpiresAt)
}
