package redisstore

import "github.com/redis/go-redis/v9"

// All scripts take the users set as KEYS[1]-or-later and build per-record
// keys from the prefixes passed in ARGV. The prefix carries a hash tag so
// every key of one store maps to the same cluster slot.

// upsertScript returns 0 when the token belongs to another user.
// KEYS: user hash, token key, users set
// ARGV: user id, token, expires_at (unix µs), referrer, token key prefix
var upsertScript = redis.NewScript(`
local owner = redis.call('GET', KEYS[2])
if owner and owner ~= ARGV[1] then
	return 0
end
local prev = redis.call('HGET', KEYS[1], 'token')
if prev and prev ~= ARGV[2] then
	redis.call('DEL', ARGV[5] .. prev)
end
redis.call('HSET', KEYS[1], 'token', ARGV[2], 'expires_at', ARGV[3], 'referrer', ARGV[4])
redis.call('SET', KEYS[2], ARGV[1])
redis.call('SADD', KEYS[3], ARGV[1])
return 1
`)

// KEYS: token key, users set
// ARGV: user key prefix
var invalidateTokenScript = redis.NewScript(`
local owner = redis.call('GET', KEYS[1])
if not owner then
	return 0
end
redis.call('DEL', KEYS[1], ARGV[1] .. owner)
redis.call('SREM', KEYS[2], owner)
return 1
`)

// KEYS: user hash, users set
// ARGV: user id, token key prefix
var invalidateUserScript = redis.NewScript(`
local tok = redis.call('HGET', KEYS[1], 'token')
if not tok then
	return 0
end
redis.call('DEL', KEYS[1], ARGV[2] .. tok)
redis.call('SREM', KEYS[2], ARGV[1])
return 1
`)

// KEYS: users set
// ARGV: user key prefix, token key prefix
var clearScript = redis.NewScript(`
local users = redis.call('SMEMBERS', KEYS[1])
for _, uid in ipairs(users) do
	local tok = redis.call('HGET', ARGV[1] .. uid, 'token')
	if tok then
		redis.call('DEL', ARGV[2] .. tok)
	end
	redis.call('DEL', ARGV[1] .. uid)
end
redis.call('DEL', KEYS[1])
return #users
`)

// KEYS: users set
// ARGV: user key prefix, token key prefix, now (unix µs)
var deleteExpiredScript = redis.NewScript(`
local now = tonumber(ARGV[3])
local removed = 0
local users = redis.call('SMEMBERS', KEYS[1])
for _, uid in ipairs(users) do
	local rec = redis.call('HMGET', ARGV[1] .. uid, 'token', 'expires_at')
	if rec[2] and tonumber(rec[2]) <= now then
		if rec[1] then
			redis.call('DEL', ARGV[2] .. rec[1])
		end
		redis.call('DEL', ARGV[1] .. uid)
		redis.call('SREM', KEYS[1], uid)
		removed = removed + 1
	end
end
return removed
`)
