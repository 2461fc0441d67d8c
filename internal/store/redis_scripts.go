package store

import "github.com/redis/go-redis/v9"

// Every job transition runs as a single script so that status checks and
// writes are one atomic step on the server.

const luaHelpers = `
local function num(v)
  return tonumber(v) or 0
end
local function owns(key, worker)
  return redis.call('HGET', key, 'status') == 'processing' and redis.call('HGET', key, 'worker_id') == worker
end
local progressFields = {'processed', 'valid', 'invalid', 'duplicate', 'errors'}
local function mergeProgress(key, args, offset)
  for i, f in ipairs(progressFields) do
    local v = num(args[offset + i - 1])
    if v > num(redis.call('HGET', key, f)) then
      redis.call('HSET', key, f, v)
    end
  end
end
`

// KEYS: ready, processing, status
// ARGV: now ms, worker id, job key prefix, scan limit
var claimScript = redis.NewScript(luaHelpers + `
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[4]))
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  local key = ARGV[3] .. id
  local status = redis.call('HGET', key, 'status')
  if status == 'pending' or status == 'retry_pending' then
    redis.call('HINCRBY', key, 'attempts', 1)
    redis.call('HSET', key, 'status', 'processing', 'worker_id', ARGV[2],
      'started_at', ARGV[1], 'heartbeat_at', ARGV[1])
    redis.call('ZADD', KEYS[2], ARGV[1], id)
    redis.call('HINCRBY', KEYS[3], 'claimed', 1)
    return id
  end
end
return false
`)

// KEYS: job, processing
// ARGV: worker id, now ms, job id
var heartbeatScript = redis.NewScript(luaHelpers + `
if not owns(KEYS[1], ARGV[1]) then
  return -1
end
redis.call('HSET', KEYS[1], 'heartbeat_at', ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
if redis.call('HGET', KEYS[1], 'cancel_requested') == '1' then
  return 1
end
return 0
`)

// KEYS: job
// ARGV: worker id, processed, valid, invalid, duplicate, errors
var progressScript = redis.NewScript(luaHelpers + `
if not owns(KEYS[1], ARGV[1]) then
  return -1
end
mergeProgress(KEYS[1], ARGV, 2)
if redis.call('HGET', KEYS[1], 'cancel_requested') == '1' then
  return 1
end
return 0
`)

// KEYS: job, processing, ready, status
// ARGV: worker id, target status, now ms, last error, next run ms, job id,
// ttl seconds, processed, valid, invalid, duplicate, errors
var finishScript = redis.NewScript(luaHelpers + `
if not owns(KEYS[1], ARGV[1]) then
  return false
end
redis.call('ZREM', KEYS[2], ARGV[6])
mergeProgress(KEYS[1], ARGV, 8)
local target = ARGV[2]
if target == 'retry_pending' and num(redis.call('HGET', KEYS[1], 'attempts')) >= num(redis.call('HGET', KEYS[1], 'max_attempts')) then
  target = 'failed'
end
if target == 'retry_pending' then
  redis.call('HSET', KEYS[1], 'status', target, 'worker_id', '', 'last_error', ARGV[4],
    'next_run_at', ARGV[5], 'heartbeat_at', '')
  redis.call('ZADD', KEYS[3], ARGV[5], ARGV[6])
  redis.call('HINCRBY', KEYS[4], 'retried', 1)
else
  redis.call('HSET', KEYS[1], 'status', target, 'worker_id', '', 'last_error', ARGV[4],
    'finished_at', ARGV[3])
  if num(ARGV[7]) > 0 then
    redis.call('EXPIRE', KEYS[1], ARGV[7])
  end
  redis.call('HINCRBY', KEYS[4], target, 1)
end
redis.call('HSET', KEYS[4], 'last_activity_at', ARGV[3])
return target
`)

// KEYS: job, ready, status
// ARGV: now ms, job id, ttl seconds
var cancelScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
  return false
end
if status == 'pending' or status == 'retry_pending' then
  redis.call('ZREM', KEYS[2], ARGV[2])
  redis.call('HSET', KEYS[1], 'status', 'cancelled', 'finished_at', ARGV[1])
  redis.call('HINCRBY', KEYS[3], 'cancelled', 1)
  if tonumber(ARGV[3]) > 0 then
    redis.call('EXPIRE', KEYS[1], ARGV[3])
  end
  return 'cancelled'
end
if status == 'processing' then
  redis.call('HSET', KEYS[1], 'cancel_requested', '1')
  return 'requested'
end
return 'noop'
`)

// KEYS: processing, ready, status
// ARGV: stale-before ms, now ms, job key prefix, ttl seconds
var reclaimScript = redis.NewScript(luaHelpers + `
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
local out = {}
for _, id in ipairs(ids) do
  local key = ARGV[3] .. id
  redis.call('ZREM', KEYS[1], id)
  if redis.call('HGET', key, 'status') == 'processing' then
    local hb = num(redis.call('HGET', key, 'heartbeat_at'))
    if hb < num(ARGV[1]) then
      if num(redis.call('HGET', key, 'attempts')) < num(redis.call('HGET', key, 'max_attempts')) then
        redis.call('HSET', key, 'status', 'retry_pending', 'worker_id', '',
          'last_error', 'orphaned: heartbeat expired', 'next_run_at', ARGV[2], 'heartbeat_at', '')
        redis.call('ZADD', KEYS[2], ARGV[2], id)
        redis.call('HINCRBY', KEYS[3], 'reclaimed', 1)
        table.insert(out, id)
        table.insert(out, 'retry_pending')
      else
        redis.call('HSET', key, 'status', 'failed', 'worker_id', '',
          'last_error', 'orphaned: heartbeat expired', 'finished_at', ARGV[2])
        if num(ARGV[4]) > 0 then
          redis.call('EXPIRE', key, ARGV[4])
        end
        redis.call('HINCRBY', KEYS[3], 'failed', 1)
        table.insert(out, id)
        table.insert(out, 'failed')
      end
    else
      redis.call('ZADD', KEYS[1], hb, id)
    end
  end
end
return out
`)
