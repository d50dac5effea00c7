package queue

import "github.com/redis/go-redis/v9"

// KEYS: job, ready. ARGV: id, name, data, opts, runAt, createdAt, state.
var enqueueScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'state')
if st and st ~= 'completed' and st ~= 'failed' then
	return 0
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'name', ARGV[2], 'data', ARGV[3], 'opts', ARGV[4], 'state', ARGV[7],
	'attempts', 0, 'last_error', '', 'reclaimed', 0, 'created_at', ARGV[6])
redis.call('ZADD', KEYS[2], ARGV[5], ARGV[1])
return 1
`)

// KEYS: ready, active. ARGV: now, visibility, prefix.
var dequeueScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
	return false
end
local id = ids[1]
redis.call('ZREM', KEYS[1], id)
local jobKey = ARGV[3] .. ':job:' .. id
if redis.call('EXISTS', jobKey) == 0 then
	return false
end
redis.call('ZADD', KEYS[2], tonumber(ARGV[1]) + tonumber(ARGV[2]), id)
redis.call('HSET', jobKey, 'state', 'active')
return {id, redis.call('HGETALL', jobKey)}
`)

// KEYS: job, active. ARGV: id, remove.
var ackScript = redis.NewScript(`
redis.call('ZREM', KEYS[2], ARGV[1])
if ARGV[2] == '1' then
	redis.call('DEL', KEYS[1])
else
	redis.call('HSET', KEYS[1], 'state', 'completed')
end
return 1
`)

// KEYS: job, active, ready. ARGV: id, maxAttempts, runAt, lastError, removeOnFail.
var retryScript = redis.NewScript(`
if redis.call('ZREM', KEYS[2], ARGV[1]) == 0 then
	return -1
end
local attempts = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
redis.call('HSET', KEYS[1], 'last_error', ARGV[4], 'reclaimed', 0)
if attempts >= tonumber(ARGV[2]) then
	if ARGV[5] == '1' then
		redis.call('DEL', KEYS[1])
	else
		redis.call('HSET', KEYS[1], 'state', 'failed')
	end
	return 0
end
redis.call('HSET', KEYS[1], 'state', 'delayed')
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
return 1
`)

// KEYS: job, active. ARGV: id, lastError, removeOnFail.
var failScript = redis.NewScript(`
redis.call('ZREM', KEYS[2], ARGV[1])
if ARGV[3] == '1' then
	redis.call('DEL', KEYS[1])
else
	redis.call('HINCRBY', KEYS[1], 'attempts', 1)
	redis.call('HSET', KEYS[1], 'state', 'failed', 'last_error', ARGV[2])
end
return 1
`)

// KEYS: job, active, ready. ARGV: id, runAt.
var releaseScript = redis.NewScript(`
if redis.call('ZREM', KEYS[2], ARGV[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], 'state', 'delayed')
redis.call('ZADD', KEYS[3], ARGV[2], ARGV[1])
return 1
`)

// KEYS: active, ready. ARGV: now, prefix.
var reclaimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local n = 0
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	local jobKey = ARGV[2] .. ':job:' .. id
	if redis.call('EXISTS', jobKey) == 1 then
		redis.call('HSET', jobKey, 'state', 'waiting', 'reclaimed', 1)
		redis.call('ZADD', KEYS[2], ARGV[1], id)
		n = n + 1
	end
end
return n
`)
