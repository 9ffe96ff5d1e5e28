package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"ice-telegram/models"
)

// State is the position of one user in the conversation.
type State string

const (
	StateIdle                  State = "idle"
	StateCollectingVenueName   State = "venue_name"
	StateCollectingAddress     State = "address"
	StateSelectingAmount       State = "amount"
	StateSelectingDate         State = "date"
	StateSelectingCancellation State = "cancel"
)

// Session is the scratch state kept between two messages of the same user.
// Nothing in it is an order until the date step succeeds.
type Session struct {
	State        State             `json:"state"`
	Amount       int               `json:"amount,omitempty"`
	UnitPrice    decimal.Decimal   `json:"unit_price"` // quoted at the amount step; the order is priced again when placed
	AwaitingDate bool              `json:"awaiting_date,omitempty"`
	Shown        []models.OrderRef `json:"shown,omitempty"` // listing offered for cancellation
}

func newSession() *Session { return &Session{State: StateIdle} }

// reset drops everything and returns to Idle.
func (s *Session) reset() {
	*s = Session{State: StateIdle}
}

// SessionStore keeps scratch state per user. Load never returns nil: an
// unknown user gets an Idle session.
type SessionStore interface {
	Load(ctx context.Context, userID int64) (*Session, error)
	Save(ctx context.Context, userID int64, s *Session) error
	Delete(ctx context.Context, userID int64) error
}

// MemorySessionStore is the single-process store.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[int64]Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[int64]Session)}
}

func (m *MemorySessionStore) Load(_ context.Context, userID int64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return newSession(), nil
	}
	s.Shown = append([]models.OrderRef(nil), s.Shown...)
	return &s, nil
}

func (m *MemorySessionStore) Save(_ context.Context, userID int64, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.State == StateIdle {
		delete(m.sessions, userID)
		return nil
	}
	cp := *s
	cp.Shown = append([]models.OrderRef(nil), s.Shown...)
	m.sessions[userID] = cp
	return nil
}

func (m *MemorySessionStore) Delete(_ context.Context, userID int64) error {
	m.mu.Lock()
	delete(m.sessions, userID)
	m.mu.Unlock()
	return nil
}

// DefaultSessionTTL bounds how long an abandoned conversation is remembered.
const DefaultSessionTTL = 24 * time.Hour

// RedisSessionStore keeps sessions as JSON values so several bot replicas
// can share them and a restart does not lose a half-finished order.
type RedisSessionStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisSessionStore(client *redis.Client, prefix string, ttl time.Duration) *RedisSessionStore {
	if prefix == "" {
		prefix = "ice:session"
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisSessionStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisSessionStore) key(userID int64) string {
	return fmt.Sprintf("%s:%d", r.prefix, userID)
}

func (r *RedisSessionStore) Load(ctx context.Context, userID int64) (*Session, error) {
	data, err := r.client.Get(ctx, r.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return newSession(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %d: %w", userID, err)
	}
	s := newSession()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("decode session %d: %w", userID, err)
	}
	return s, nil
}

func (r *RedisSessionStore) Save(ctx context.Context, userID int64, s *Session) error {
	if s.State == StateIdle {
		return r.Delete(ctx, userID)
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %d: %w", userID, err)
	}
	if err := r.client.Set(ctx, r.key(userID), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("save session %d: %w", userID, err)
	}
	return nil
}

func (r *RedisSessionStore) Delete(ctx context.Context, userID int64) error {
	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("delete session %d: %w", userID, err)
	}
	return nil
}
