package redis

import "github.com/go-redis/redis/v8"

// Every script replies {status, HGETALL...} so callers get the account as
// it was at the end of the atomic step.

// KEYS[1] account hash. ARGV: id, identity, hash, balance, plan, created, updated.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return {'duplicate'}
end
redis.call('HSET', KEYS[1],
  'id', ARGV[1], 'identity', ARGV[2], 'password_hash', ARGV[3],
  'usage_balance', ARGV[4], 'plan', ARGV[5],
  'created_at', ARGV[6], 'updated_at', ARGV[7])
return {'ok'}
`)

// KEYS[1] account hash. ARGV[1] now.
var consumeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {'missing'}
end
if redis.call('HGET', KEYS[1], 'plan') == 'unlimited' then
  return {'ok', unpack(redis.call('HGETALL', KEYS[1]))}
end
local bal = tonumber(redis.call('HGET', KEYS[1], 'usage_balance'))
if bal == nil or bal <= 0 then
  return {'exhausted', unpack(redis.call('HGETALL', KEYS[1]))}
end
redis.call('HINCRBY', KEYS[1], 'usage_balance', -1)
redis.call('HSET', KEYS[1], 'updated_at', ARGV[1])
return {'ok', unpack(redis.call('HGETALL', KEYS[1]))}
`)

// KEYS[1] account hash, KEYS[2] applied-keys set.
// ARGV[1] mode (credit|grant), ARGV[2] amount, ARGV[3] idempotency key,
// ARGV[4] now, ARGV[5] balance limit.
// Scripts do not roll back, so every check runs before the first write.
var applyScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {'missing'}
end
if ARGV[3] ~= '' and redis.call('SISMEMBER', KEYS[2], ARGV[3]) == 1 then
  return {'applied', unpack(redis.call('HGETALL', KEYS[1]))}
end
if ARGV[1] == 'grant' then
  redis.call('HSET', KEYS[1], 'plan', 'unlimited')
else
  local bal = tonumber(redis.call('HGET', KEYS[1], 'usage_balance')) or 0
  if bal + tonumber(ARGV[2]) > tonumber(ARGV[5]) then
    return {'limit', unpack(redis.call('HGETALL', KEYS[1]))}
  end
  redis.call('HINCRBY', KEYS[1], 'usage_balance', ARGV[2])
  if redis.call('HGET', KEYS[1], 'plan') ~= 'unlimited' then
    redis.call('HSET', KEYS[1], 'plan', 'metered')
  end
end
if ARGV[3] ~= '' then
  redis.call('SADD', KEYS[2], ARGV[3])
end
redis.call('HSET', KEYS[1], 'updated_at', ARGV[4])
return {'ok', unpack(redis.call('HGETALL', KEYS[1]))}
`)
