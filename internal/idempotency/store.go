package idempotency

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// State is the outcome of Store.Begin
type State string

const (
	StateNew        State = "new"
	StateReplay     State = "replay"
	StateConflict   State = "conflict"
	StateInProgress State = "in_progress"
)

// CachedResponse is the first response recorded for a key
type CachedResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// BeginResult is returned by Store.Begin. Cached is set only for StateReplay.
type BeginResult struct {
	State  State
	Cached *CachedResponse
}

var beginScript = redis.NewScript(`
local key = KEYS[1]
local fingerprint = ARGV[1]
local ttl_ms = ARGV[2]

if redis.call("EXISTS", key) == 0 then
  redis.call("HSET", key, "fingerprint", fingerprint, "status", "new")
  redis.call("PEXPIRE", key, ttl_ms)
  return {"new"}
end

if redis.call("HGET", key, "fingerprint") ~= fingerprint then
  return {"conflict"}
end

if redis.call("HGET", key, "status") == "completed" then
  return {"replay", redis.call("HGET", key, "response_status") or "", redis.call("HGET", key, "content_type") or "", redis.call("HGET", key, "response_body") or ""}
end

return {"in_progress"}
`)

var completeScript = redis.NewScript(`
local key = KEYS[1]
local fingerprint = ARGV[1]
local ttl_ms = ARGV[2]

if redis.call("EXISTS", key) == 0 then
  return 0
end
if redis.call("HGET", key, "fingerprint") ~= fingerprint then
  return -1
end

redis.call("HSET", key, "status", "completed", "response_status", ARGV[3], "content_type", ARGV[4], "response_body", ARGV[5])
redis.call("PEXPIRE", key, ttl_ms)
return 1
`)

var releaseScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("HGET", KEYS[1], "fingerprint") == ARGV[1] and redis.call("HGET", KEYS[1], "status") ~= "completed" then
  return redis.call("DEL", key)
end
return 0
`)

// Store records request fingerprints and first responses in Redis
type Store struct {
	client redis.UniversalClient
	prefix string
}

// NewStore creates a new Store. Keys are namespaced by prefix.
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "idem"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) redisKey(scope, key string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, scope, key)
}

// Begin claims key for fingerprint, or reports a replay, a conflict or an in-flight request
func (s *Store) Begin(ctx context.Context, scope, key, fingerprint string, ttl time.Duration) (BeginResult, error) {
	raw, err := beginScript.Run(ctx, s.client, []string{s.redisKey(scope, key)}, fingerprint, ttl.Milliseconds()).Result()
	if err != nil {
		return BeginResult{}, fmt.Errorf("failed to begin idempotent request: %w", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) == 0 {
		return BeginResult{}, errors.New("unexpected idempotency begin result")
	}

	state := State(asString(values[0]))
	switch state {
	case StateNew, StateConflict, StateInProgress:
		return BeginResult{State: state}, nil
	case StateReplay:
		if len(values) < 4 {
			return BeginResult{}, errors.New("unexpected idempotency replay payload")
		}
		status, err := strconv.Atoi(asString(values[1]))
		if err != nil {
			return BeginResult{}, fmt.Errorf("failed to parse replay status: %w", err)
		}
		body, err := base64.StdEncoding.DecodeString(asString(values[3]))
		if err != nil {
			return BeginResult{}, fmt.Errorf("failed to decode replay body: %w", err)
		}
		return BeginResult{
			State: StateReplay,
			Cached: &CachedResponse{
				StatusCode:  status,
				ContentType: asString(values[2]),
				Body:        body,
			},
		}, nil
	default:
		return BeginResult{}, fmt.Errorf("unknown idempotency state %q", state)
	}
}

// Complete stores the response replayed to later requests with the same key
func (s *Store) Complete(ctx context.Context, scope, key, fingerprint string, resp CachedResponse, ttl time.Duration) error {
	err := completeScript.Run(ctx, s.client, []string{s.redisKey(scope, key)},
		fingerprint,
		ttl.Milliseconds(),
		resp.StatusCode,
		resp.ContentType,
		base64.StdEncoding.EncodeToString(resp.Body),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to complete idempotent request: %w", err)
	}
	return nil
}

// Release drops an uncompleted claim so the request can be retried
func (s *Store) Release(ctx context.Context, scope, key, fingerprint string) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.redisKey(scope, key)}, fingerprint).Err(); err != nil {
		return fmt.Errorf("failed to release idempotent request: %w", err)
	}
	return nil
}

func asString(v interface{}) string {
	switch typed := v.(type) {
	case string:
		return typed
	case []byte:
		return string(typed)
	default:
		return fmt.Sprint(v)
	}
}
