package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// createScript stores one entry and indexes it under its user. The index
// lives as long as the user's longest-lived session.
const createScript = `
local ttl = tonumber(ARGV[2])
redis.call("SET", KEYS[1], ARGV[1], "PX", ttl)
redis.call("SADD", KEYS[2], ARGV[3])
if redis.call("PTTL", KEYS[2]) < ttl then
  redis.call("PEXPIRE", KEYS[2], ttl)
end
return 1
`

// revokeScript deletes one entry and its user-index membership atomically.
// The user id is read from the stored blob (byte 2 is its length).
const revokeScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
redis.call("DEL", KEYS[1])
local n = string.byte(data, 2)
if n and #data >= 2 + n then
  redis.call("SREM", ARGV[1] .. string.sub(data, 3, 2 + n), ARGV[2])
end
return 1
`

// revokeAllScript deletes every indexed entry for a user and the index itself.
const revokeAllScript = `
local ids = redis.call("SMEMBERS", KEYS[1])
local removed = 0
for _, id in ipairs(ids) do
  removed = removed + redis.call("DEL", ARGV[1] .. id)
end
redis.call("DEL", KEYS[1])
return removed
`

var (
	createLua    = redis.NewScript(createScript)
	revokeLua    = redis.NewScript(revokeScript)
	revokeAllLua = redis.NewScript(revokeAllScript)
)

// RedisRegistry stores entries in Redis so every instance behind a load
// balancer sees the same sessions. Keys:
//
//	<prefix>:s:<sessionID>  encoded Entry, PX set to the token expiry
//	<prefix>:u:<userID>     set of session IDs, PX set to the latest expiry
type RedisRegistry struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ Registry = (*RedisRegistry)(nil)

// NewRedisRegistry returns a registry using client. An empty prefix defaults
// to "fs"; a nil clock means time.Now.
func NewRedisRegistry(client redis.UniversalClient, prefix string, now func() time.Time) *RedisRegistry {
	if prefix == "" {
		prefix = "fs"
	}
	if now == nil {
		now = time.Now
	}
	return &RedisRegistry{redis: client, prefix: prefix, now: now}
}

func (r *RedisRegistry) sessionPrefix() string { return r.prefix + ":s:" }
func (r *RedisRegistry) userPrefix() string    { return r.prefix + ":u:" }

func (r *RedisRegistry) key(sessionID string) string { return r.sessionPrefix() + sessionID }
func (r *RedisRegistry) userKey(userID string) string {
	return r.userPrefix() + userID
}

func (r *RedisRegistry) Create(ctx context.Context, e Entry) error {
	now := r.now()
	if err := validateEntry(e, now); err != nil {
		return err
	}
	data, err := Encode(e)
	if err != nil {
		return err
	}

	ttl := max(e.ExpiresAt.Sub(now).Milliseconds(), 1)
	keys := []string{r.key(e.SessionID), r.userKey(e.UserID)}
	if err := createLua.Run(ctx, r.redis, keys, data, ttl, e.SessionID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *RedisRegistry) Get(ctx context.Context, sessionID string) (*Entry, error) {
	data, err := r.redis.Get(ctx, r.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	e, err := Decode(data)
	if err != nil {
		_ = r.Revoke(ctx, sessionID)
		return nil, ErrNotFound
	}
	e.SessionID = sessionID

	if e.Expired(r.now()) {
		if err := r.Revoke(ctx, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return &e, nil
}

func (r *RedisRegistry) Revoke(ctx context.Context, sessionID string) error {
	err := revokeLua.Run(ctx, r.redis, []string{r.key(sessionID)}, r.userPrefix(), sessionID).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *RedisRegistry) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	n, err := revokeAllLua.Run(ctx, r.redis, []string{r.userKey(userID)}, r.sessionPrefix()).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// ListForUser returns live entries for userID ordered by creation time and
// prunes index members whose entry has gone.
func (r *RedisRegistry) ListForUser(ctx context.Context, userID string) ([]Entry, error) {
	userKey := r.userKey(userID)
	ids, err := r.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(ids) == 0 {
		return []Entry{}, nil
	}

	pipe := r.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, r.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	now := r.now()
	out := make([]Entry, 0, len(ids))
	var stale []interface{}
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			stale = append(stale, ids[i])
			continue
		}
		e, err := Decode(data)
		if err != nil || e.Expired(now) {
			stale = append(stale, ids[i])
			continue
		}
		e.SessionID = ids[i]
		out = append(out, e)
	}

	if len(stale) > 0 {
		if err := r.redis.SRem(ctx, userKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	sortEntries(out)
	return out, nil
}

// Ping reports backend reachability and round-trip latency.
func (r *RedisRegistry) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return time.Since(start), nil
}
