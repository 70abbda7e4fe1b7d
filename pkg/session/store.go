// Package session provides redis-backed conversation history so a patient
// can continue a conversation across requests. The store is an optional
// collaborator of the HTTP surface; when redis is down, requests proceed
// with only the current message.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"careflow/pkg/logx"
	"careflow/pkg/workflow"
)

// Config configures the session store.
type Config struct {
	Addr     string        `yaml:"addr" json:"addr"`
	Password string        `yaml:"password,omitempty" json:"password,omitempty"`
	DB       int           `yaml:"db,omitempty" json:"db,omitempty"`
	TTL      time.Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`
	MaxTurns int           `yaml:"max_turns,omitempty" json:"max_turns,omitempty"`
}

// Store keeps per-session conversation history in redis.
type Store struct {
	client   *redis.Client
	ttl      time.Duration
	maxTurns int
	logger   *logx.Logger
}

// NewStore creates a session store. TTL defaults to 24h and MaxTurns to 40
// when unset.
func NewStore(cfg Config) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 40
	}
	return &Store{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ttl:      cfg.TTL,
		maxTurns: cfg.MaxTurns,
		logger:   logx.NewLogger("session"),
	}
}

// NewStoreWithClient creates a session store over an existing client.
// Used by tests running against miniature redis servers.
func NewStoreWithClient(client *redis.Client, ttl time.Duration, maxTurns int) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if maxTurns <= 0 {
		maxTurns = 40
	}
	return &Store{client: client, ttl: ttl, maxTurns: maxTurns, logger: logx.NewLogger("session")}
}

func key(tenantID, sessionID string) string {
	return fmt.Sprintf("careflow:session:%s:%s", tenantID, sessionID)
}

// History returns the stored conversation for the session, oldest first.
func (s *Store) History(ctx context.Context, tenantID, sessionID string) ([]workflow.Message, error) {
	raw, err := s.client.LRange(ctx, key(tenantID, sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session history: %w", err)
	}

	messages := make([]workflow.Message, 0, len(raw))
	for _, item := range raw {
		var msg workflow.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("corrupt session entry: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Append stores messages at the end of the session history, trims it to
// the configured turn budget, and refreshes the TTL.
func (s *Store) Append(ctx context.Context, tenantID, sessionID string, messages ...workflow.Message) error {
	if len(messages) == 0 {
		return nil
	}

	k := key(tenantID, sessionID)
	encoded := make([]any, 0, len(messages))
	for _, msg := range messages {
		item, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to encode session message: %w", err)
		}
		encoded = append(encoded, item)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, k, encoded...)
	pipe.LTrim(ctx, k, int64(-s.maxTurns), -1)
	pipe.Expire(ctx, k, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append session history: %w", err)
	}
	return nil
}

// Clear removes the session history.
func (s *Store) Clear(ctx context.Context, tenantID, sessionID string) error {
	if err := s.client.Del(ctx, key(tenantID, sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// Ping verifies connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis unreachable: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return nil
}
