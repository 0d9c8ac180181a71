package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	consumeStatusNotFound    int64 = 0
	consumeStatusExpired     int64 = 1
	consumeStatusRevoked     int64 = 2
	consumeStatusConsumed    int64 = 3
	consumeStatusInvalidBlob int64 = 4
	rotateStatusDuplicate    int64 = 5
)

const scanBatch = 500

// recordLuaHelpers parses the blob layout written by Encode.
const recordLuaHelpers = `
local function read_be64(s, i)
  local b1 = string.byte(s, i)
  local b2 = string.byte(s, i + 1)
  local b3 = string.byte(s, i + 2)
  local b4 = string.byte(s, i + 3)
  local b5 = string.byte(s, i + 4)
  local b6 = string.byte(s, i + 5)
  local b7 = string.byte(s, i + 6)
  local b8 = string.byte(s, i + 7)
  if not b8 then
    return nil
  end
  return ((((((((b1 * 256) + b2) * 256 + b3) * 256 + b4) * 256 + b5) * 256 + b6) * 256 + b7) * 256 + b8)
end

local function parse_record(data)
  local version = string.byte(data, 1)
  if not version or version ~= 1 then
    return nil
  end
  local flags = string.byte(data, 2)
  if not flags then
    return nil
  end

  local idx = 3
  local sub_len = string.byte(data, idx)
  if not sub_len then
    return nil
  end
  idx = idx + 1
  if #data < idx + sub_len - 1 then
    return nil
  end
  local subject = string.sub(data, idx, idx + sub_len - 1)
  idx = idx + sub_len

  local fam_len = string.byte(data, idx)
  if not fam_len then
    return nil
  end
  idx = idx + 1
  if #data < idx + fam_len - 1 then
    return nil
  end
  local family = string.sub(data, idx, idx + fam_len - 1)
  idx = idx + fam_len

  if #data < idx + 15 then
    return nil
  end
  idx = idx + 8
  local expires_at = read_be64(data, idx)
  if not expires_at then
    return nil
  end

  return {
    revoked = (flags % 2) == 1,
    subject = subject,
    family = family,
    expires_at = expires_at
  }
end

local function unlink(prefix, token_id, parsed)
  local fam_key = prefix .. ":fam:" .. parsed.family
  redis.call("SREM", fam_key, token_id)
  if redis.call("SCARD", fam_key) == 0 then
    redis.call("SREM", prefix .. ":sub:" .. parsed.subject, parsed.family)
  end
end
`

const registerScript = `
if not redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[2]) then
  return 0
end
redis.call("SADD", KEYS[2], ARGV[4])
redis.call("SADD", KEYS[3], ARGV[3])
return 1
`

var registerLua = redis.NewScript(registerScript)

const consumeScript = recordLuaHelpers + `
local token_key = KEYS[1]
local prefix = ARGV[1]
local token_id = ARGV[2]
local now_ms = tonumber(ARGV[3])

local data = redis.call("GET", token_key)
if not data then
  return 0
end

local parsed = parse_record(data)
if not parsed then
  return 4
end
if parsed.revoked then
  return 2
end

redis.call("DEL", token_key)
unlink(prefix, token_id, parsed)

if parsed.expires_at < now_ms then
  return 1
end
return 3
`

var consumeLua = redis.NewScript(consumeScript)

// rotateScript replaces a live record by its successor in one step. The
// successor joins the family set before the old id leaves it.
const rotateScript = recordLuaHelpers + `
local old_key = KEYS[1]
local new_key = KEYS[2]
local fam_key = KEYS[3]
local sub_key = KEYS[4]
local old_id = ARGV[1]
local now_ms = tonumber(ARGV[2])
local new_id = ARGV[5]
local subject = ARGV[6]
local family = ARGV[7]

local data = redis.call("GET", old_key)
if not data then
  return 0
end

local parsed = parse_record(data)
if not parsed then
  return 4
end
if parsed.revoked then
  return 2
end
if parsed.family ~= family or parsed.subject ~= subject then
  return 0
end
if parsed.expires_at < now_ms then
  redis.call("DEL", old_key)
  unlink(ARGV[8], old_id, parsed)
  return 1
end

if not redis.call("SET", new_key, ARGV[3], "NX", "PX", ARGV[4]) then
  return 5
end
redis.call("SADD", fam_key, new_id)
redis.call("SADD", sub_key, family)
redis.call("DEL", old_key)
redis.call("SREM", fam_key, old_id)
return 3
`

var rotateLua = redis.NewScript(rotateScript)

const deleteRecordScript = recordLuaHelpers + `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
local parsed = parse_record(data)
if not parsed then
  return 0
end
redis.call("DEL", KEYS[1])
unlink(ARGV[1], ARGV[2], parsed)
return 1
`

var deleteRecordLua = redis.NewScript(deleteRecordScript)

const revokeFamilyScript = `
local fam_key = KEYS[1]
local prefix = ARGV[1]
local ids = redis.call("SMEMBERS", fam_key)
local revoked = 0
for _, id in ipairs(ids) do
  local key = prefix .. ":tok:" .. id
  local data = redis.call("GET", key)
  if data then
    local flags = string.byte(data, 2)
    if flags and (flags % 2) == 0 then
      local ttl = redis.call("PTTL", key)
      if ttl > 0 then
        local updated = string.sub(data, 1, 1) .. string.char(flags + 1) .. string.sub(data, 3)
        redis.call("SET", key, updated, "PX", ttl)
        revoked = revoked + 1
      end
    end
  else
    redis.call("SREM", fam_key, id)
  end
end
return revoked
`

var revokeFamilyLua = redis.NewScript(revokeFamilyScript)

// pruneSubjectScript checks family existence inside the script so a family
// re-created by a concurrent rotation is never unlinked.
const pruneSubjectScript = `
local families = redis.call("SMEMBERS", KEYS[1])
local removed = 0
for _, family in ipairs(families) do
  if redis.call("EXISTS", ARGV[1] .. ":fam:" .. family) == 0 then
    redis.call("SREM", KEYS[1], family)
    removed = removed + 1
  end
end
return removed
`

var pruneSubjectLua = redis.NewScript(pruneSubjectScript)

var _ Registry = (*Store)(nil)

// Store is a Redis-backed [Registry].
//
// Key layout under prefix:
//
//	prefix:tok:<tokenID>   binary record (see Encode), PX TTL = remaining lifetime
//	prefix:fam:<family>    SET of token ids
//	prefix:sub:<subject>   SET of family ids
//
// Consume, Rotate and RevokeFamily run as Lua scripts so each is atomic with respect to
// concurrent rotations of the same token.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewStore creates a Redis registry under the given key prefix.
func NewStore(client redis.UniversalClient, prefix string, opts ...Option) *Store {
	o := NewOptions(opts...)
	if prefix == "" {
		prefix = "rt"
	}
	return &Store{
		redis:  client,
		prefix: prefix,
		now:    o.Now,
	}
}

func (s *Store) tokenKey(tokenID string) string {
	return s.prefix + ":tok:" + tokenID
}

func (s *Store) familyKey(family string) string {
	return s.prefix + ":fam:" + family
}

func (s *Store) subjectKey(subject string) string {
	return s.prefix + ":sub:" + subject
}

// Register implements [Registry].
//
//	Performance: 1 Lua EVALSHA (SET NX PX + 2 SADD).
func (s *Store) Register(ctx context.Context, rec Record) error {
	now := s.now()
	if err := rec.Validate(now); err != nil {
		return err
	}
	rec.Revoked = false

	data, err := Encode(&rec)
	if err != nil {
		return errors.Join(ErrInvalidRecord, err)
	}

	ttl := rec.ExpiresAt.Sub(now)
	ok, err := registerLua.Run(
		ctx,
		s.redis,
		[]string{s.tokenKey(rec.TokenID), s.familyKey(rec.Family), s.subjectKey(rec.Subject)},
		data,
		ttl.Milliseconds()+1,
		rec.Family,
		rec.TokenID,
	).Int64()
	if err != nil {
		return unavailable(err)
	}
	if ok == 0 {
		return ErrDuplicateToken
	}
	return nil
}

// Lookup implements [Registry].
//
//	Performance: 1 Redis GET, plus 1 EVALSHA when the record has expired.
func (s *Store) Lookup(ctx context.Context, tokenID string) (*Record, error) {
	data, err := s.redis.Get(ctx, s.tokenKey(tokenID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, unavailable(err)
	}

	rec, err := Decode(data)
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, ErrRecordCorrupt, err)
	}
	rec.TokenID = tokenID

	if rec.Revoked {
		return nil, nil
	}
	if rec.Expired(s.now()) {
		if err := s.deleteRecord(ctx, tokenID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return rec, nil
}

// Consume implements [Registry].
//
//	Performance: 1 Lua EVALSHA.
func (s *Store) Consume(ctx context.Context, tokenID string) (bool, error) {
	code, err := consumeLua.Run(
		ctx,
		s.redis,
		[]string{s.tokenKey(tokenID)},
		s.prefix,
		tokenID,
		s.now().UnixMilli(),
	).Int64()
	if err != nil {
		return false, unavailable(err)
	}

	switch code {
	case consumeStatusConsumed:
		return true, nil
	case consumeStatusNotFound, consumeStatusExpired, consumeStatusRevoked:
		return false, nil
	case consumeStatusInvalidBlob:
		return false, errors.Join(ErrStoreUnavailable, ErrRecordCorrupt)
	default:
		return false, fmt.Errorf("%w: unknown consume script status %d", ErrStoreUnavailable, code)
	}
}

// Rotate implements [Registry].
//
//	Performance: 1 Lua EVALSHA.
func (s *Store) Rotate(ctx context.Context, oldTokenID string, next Record) (bool, error) {
	now := s.now()
	if err := next.Validate(now); err != nil {
		return false, err
	}
	next.Revoked = false

	data, err := Encode(&next)
	if err != nil {
		return false, errors.Join(ErrInvalidRecord, err)
	}

	code, err := rotateLua.Run(
		ctx,
		s.redis,
		[]string{
			s.tokenKey(oldTokenID),
			s.tokenKey(next.TokenID),
			s.familyKey(next.Family),
			s.subjectKey(next.Subject),
		},
		oldTokenID,
		now.UnixMilli(),
		data,
		next.ExpiresAt.Sub(now).Milliseconds()+1,
		next.TokenID,
		next.Subject,
		next.Family,
		s.prefix,
	).Int64()
	if err != nil {
		return false, unavailable(err)
	}

	switch code {
	case consumeStatusConsumed:
		return true, nil
	case consumeStatusNotFound, consumeStatusExpired, consumeStatusRevoked:
		return false, nil
	case rotateStatusDuplicate:
		return false, ErrDuplicateToken
	case consumeStatusInvalidBlob:
		return false, errors.Join(ErrStoreUnavailable, ErrRecordCorrupt)
	default:
		return false, fmt.Errorf("%w: unknown rotate script status %d", ErrStoreUnavailable, code)
	}
}

// RevokeFamily implements [Registry].
func (s *Store) RevokeFamily(ctx context.Context, family string) (int, error) {
	n, err := revokeFamilyLua.Run(ctx, s.redis, []string{s.familyKey(family)}, s.prefix).Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

// FamiliesForSubject implements [Registry].
func (s *Store) FamiliesForSubject(ctx context.Context, subject string) ([]string, error) {
	families, err := s.redis.SMembers(ctx, s.subjectKey(subject)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, unavailable(err)
	}
	return families, nil
}

// SweepExpired implements [Registry].
//
// Redis drops record keys on their own TTL, so the sweep prunes index entries
// that point at vanished records. The returned count is the number of token ids
// pruned from family sets. This is an O(n) admin operation.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	pruned := 0
	err := s.scan(ctx, s.prefix+":fam:*", func(keys []string) error {
		stale := make(map[string][]string, len(keys))
		for _, famKey := range keys {
			ids, err := s.redis.SMembers(ctx, famKey).Result()
			if err != nil {
				return unavailable(err)
			}
			gone, err := s.missing(ctx, ids, s.tokenKey)
			if err != nil {
				return err
			}
			if len(gone) > 0 {
				stale[famKey] = gone
			}
		}
		if len(stale) == 0 {
			return nil
		}
		_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for famKey, ids := range stale {
				pipe.SRem(ctx, famKey, toAny(ids)...)
			}
			return nil
		})
		if err != nil {
			return unavailable(err)
		}
		for _, ids := range stale {
			pruned += len(ids)
		}
		return nil
	})
	if err != nil {
		return pruned, err
	}

	err = s.scan(ctx, s.prefix+":sub:*", func(keys []string) error {
		for _, subKey := range keys {
			if err := pruneSubjectLua.Run(ctx, s.redis, []string{subKey}, s.prefix).Err(); err != nil {
				return unavailable(err)
			}
		}
		return nil
	})
	return pruned, err
}

// Stats implements [Registry]. It scans every record key and is meant for
// introspection endpoints, not request hot paths.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	now := s.now()
	err := s.scan(ctx, s.prefix+":tok:*", func(keys []string) error {
		pipe := s.redis.Pipeline()
		cmds := make([]*redis.StringCmd, len(keys))
		for i, key := range keys {
			cmds[i] = pipe.Get(ctx, key)
		}
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return unavailable(err)
		}
		for _, cmd := range cmds {
			data, err := cmd.Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				return unavailable(err)
			}
			st.Total++
			rec, err := Decode(data)
			if err != nil {
				// Corrupt records still occupy the registry; they are
				// never active.
				continue
			}
			if rec.Active(now) {
				st.Active++
			}
		}
		return nil
	})
	return st, err
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), unavailable(err)
	}
	return time.Since(start), nil
}

func (s *Store) deleteRecord(ctx context.Context, tokenID string) error {
	if err := deleteRecordLua.Run(ctx, s.redis, []string{s.tokenKey(tokenID)}, s.prefix, tokenID).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) scan(ctx context.Context, pattern string, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return unavailable(err)
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// missing returns the members whose backing key no longer exists.
func (s *Store) missing(ctx context.Context, members []string, keyOf func(string) string) ([]string, error) {
	if len(members) == 0 {
		return nil, nil
	}
	pipe := s.redis.Pipeline()
	cmds := make([]*redis.IntCmd, len(members))
	for i, m := range members {
		cmds[i] = pipe.Exists(ctx, keyOf(m))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, unavailable(err)
	}
	var stale []string
	for i, cmd := range cmds {
		if cmd.Val() == 0 {
			stale = append(stale, members[i])
		}
	}
	return stale, nil
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
