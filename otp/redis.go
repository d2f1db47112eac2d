package otp

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	challengeRecordVersion = 1
	challengeRecordSize    = 1 + 2 + 8 + 32
)

// consumeChallengeLua performs the whole Consume decision on the server.
// KEYS[1] = challenge key
// ARGV[1] = provided hash (32 bytes)
// ARGV[2] = now, unix milliseconds
//
// Record: version(1) attempts(2 BE) expiresAtMs(8 BE) hash(32).
// Returns the record on success or an error string: not_found, expired,
// exhausted, mismatch.
var consumeChallengeLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return {err='not_found'}
end
if string.byte(data, 1) ~= 1 or #data ~= 43 then
  redis.call('DEL', KEYS[1])
  return {err='not_found'}
end

local remaining = string.byte(data, 2) * 256 + string.byte(data, 3)
local expiresAt = 0
for i = 4, 11 do
  expiresAt = expiresAt * 256 + string.byte(data, i)
end

if tonumber(ARGV[2]) > expiresAt then
  redis.call('DEL', KEYS[1])
  return {err='expired'}
end
if remaining <= 0 then
  return {err='exhausted'}
end

if string.sub(data, 12, 43) ~= ARGV[1] then
  remaining = remaining - 1
  local ttl = redis.call('PTTL', KEYS[1])
  if ttl <= 0 then
    redis.call('DEL', KEYS[1])
    return {err='expired'}
  end
  local updated = string.sub(data, 1, 1) .. string.char(math.floor(remaining / 256), remaining % 256) .. string.sub(data, 4)
  redis.call('SET', KEYS[1], updated, 'PX', ttl)
  return {err='mismatch'}
end

redis.call('DEL', KEYS[1])
return data
`)

// RedisStore keeps challenges in Redis so any instance can verify a code
// issued by another. Consume runs as a Lua script.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a store using client. An empty prefix defaults to
// "fo"; a nil clock means time.Now.
func NewRedisStore(client redis.UniversalClient, prefix string, now func() time.Time) *RedisStore {
	if prefix == "" {
		prefix = "fo"
	}
	if now == nil {
		now = time.Now
	}
	return &RedisStore{redis: client, prefix: prefix, now: now}
}

func (s *RedisStore) key(email string, purpose Purpose) string {
	return s.prefix + ":" + string(purpose) + ":" + email
}

func (s *RedisStore) Put(ctx context.Context, c Challenge) error {
	ttl := c.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return errors.New("otp: challenge already expired")
	}
	record, err := encodeChallenge(c)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(c.Email, c.Purpose), record, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Consume(ctx context.Context, email string, purpose Purpose, codeHash [32]byte, now time.Time) error {
	result, err := consumeChallengeLua.Run(ctx, s.redis,
		[]string{s.key(email, purpose)},
		string(codeHash[:]),
		now.UnixMilli(),
	).Result()
	if err != nil {
		switch err.Error() {
		case "not_found", "mismatch":
			return ErrMismatch
		case "expired":
			return ErrExpired
		case "exhausted":
			return ErrExhausted
		default:
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	data, ok := result.(string)
	if !ok || len(data) != challengeRecordSize {
		return fmt.Errorf("%w: unexpected lua result", ErrUnavailable)
	}
	// Lua string comparison is not constant-time; repeat the check here.
	if subtle.ConstantTimeCompare([]byte(data[11:]), codeHash[:]) != 1 {
		return ErrMismatch
	}
	return nil
}

func encodeChallenge(c Challenge) ([]byte, error) {
	if c.AttemptsRemaining < 0 || c.AttemptsRemaining > 0xFFFF {
		return nil, errors.New("otp: attempts out of range")
	}

	var buf bytes.Buffer
	buf.Grow(challengeRecordSize)
	buf.WriteByte(challengeRecordVersion)
	if err := binary.Write(&buf, binary.BigEndian, uint16(c.AttemptsRemaining)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, c.ExpiresAt.UnixMilli()); err != nil {
		return nil, err
	}
	buf.Write(c.CodeHash[:])
	return buf.Bytes(), nil
}
