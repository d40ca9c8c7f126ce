//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package session keeps the turns of a conversation in Redis so clients
// can send only the current question.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pgEdge/pgedge-chat-server/internal/chat"
	"github.com/pgEdge/pgedge-chat-server/internal/config"
)

const keyPrefix = "pgedge-chat:session:"

// ErrSessionNotFound is returned for unknown or expired session IDs.
var ErrSessionNotFound = errors.New("session not found")

// commander is the subset of the Redis client the store uses.
type commander interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	RPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

var _ commander = (*redis.Client)(nil)

// Store persists session history as one Redis list per session.
type Store struct {
	rdb         commander
	ttl         time.Duration
	maxMessages int
}

// New connects to the Redis server named by cfg.RedisURL.
func New(ctx context.Context, cfg config.SessionsConfig) (*Store, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return newStore(rdb, cfg), nil
}

func newStore(rdb commander, cfg config.SessionsConfig) *Store {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = config.DefaultSessionTTL
	}
	maxMessages := cfg.MaxMessages
	if maxMessages <= 0 {
		maxMessages = config.DefaultMaxMessages
	}
	return &Store{rdb: rdb, ttl: ttl, maxMessages: maxMessages}
}

func metaKey(id string) string     { return keyPrefix + id }
func messagesKey(id string) string { return keyPrefix + id + ":messages" }

// Create starts an empty session and returns its ID.
func (s *Store) Create(ctx context.Context) (string, error) {
	id := uuid.New().String()

	created := time.Now().UTC().Format(time.RFC3339)
	if err := s.rdb.Set(ctx, metaKey(id), created, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return id, nil
}

func (s *Store) exists(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrSessionNotFound
	}
	n, err := s.rdb.Exists(ctx, metaKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to look up session: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Load returns the stored turns, oldest first.
func (s *Store) Load(ctx context.Context, id string) ([]chat.Message, error) {
	if err := s.exists(ctx, id); err != nil {
		return nil, err
	}

	raw, err := s.rdb.LRange(ctx, messagesKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	messages := make([]chat.Message, 0, len(raw))
	for _, r := range raw {
		var m chat.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("failed to decode session message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// Append adds turns to the session, keeps only the newest maxMessages and
// refreshes the expiry.
func (s *Store) Append(ctx context.Context, id string, messages ...chat.Message) error {
	if len(messages) == 0 {
		return nil
	}
	if err := s.exists(ctx, id); err != nil {
		return err
	}

	values := make([]any, len(messages))
	for i, m := range messages {
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to encode session message: %w", err)
		}
		values[i] = string(b)
	}

	key := messagesKey(id)
	if err := s.rdb.RPush(ctx, key, values...).Err(); err != nil {
		return fmt.Errorf("failed to append to session: %w", err)
	}
	if err := s.rdb.LTrim(ctx, key, int64(-s.maxMessages), -1).Err(); err != nil {
		return fmt.Errorf("failed to trim session: %w", err)
	}
	for _, k := range []string{key, metaKey(id)} {
		if err := s.rdb.Expire(ctx, k, s.ttl).Err(); err != nil {
			return fmt.Errorf("failed to refresh session expiry: %w", err)
		}
	}
	return nil
}

// Delete removes the session and its turns.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrSessionNotFound
	}
	n, err := s.rdb.Del(ctx, metaKey(id), messagesKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Ping checks that Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}
