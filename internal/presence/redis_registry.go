package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"

	"github.com/nikolaospapagiannis/OpenMeet-sub007/internal/observability"
)

var presenceRegisterScript = redis.NewScript(`
redis.call("ZADD", KEYS[1], ARGV[1], ARGV[2])
redis.call("HSET", KEYS[2], ARGV[3], ARGV[2])
redis.call("SADD", KEYS[3], ARGV[4])
redis.call("PEXPIRE", KEYS[1], ARGV[5])
redis.call("PEXPIRE", KEYS[2], ARGV[5])
return 1
`)

var presenceUnregisterScript = redis.NewScript(`
local member = redis.call("HGET", KEYS[2], ARGV[1])
if not member then
  return 0
end
redis.call("HDEL", KEYS[2], ARGV[1])
redis.call("ZREM", KEYS[1], member)
if redis.call("ZCARD", KEYS[1]) == 0 then
  redis.call("DEL", KEYS[2])
  redis.call("SREM", KEYS[3], ARGV[2])
end
return 1
`)

var presenceHeartbeatScript = redis.NewScript(`
local member = redis.call("HGET", KEYS[2], ARGV[1])
if not member then
  return 0
end
redis.call("ZADD", KEYS[1], "XX", ARGV[2], member)
redis.call("PEXPIRE", KEYS[1], ARGV[3])
redis.call("PEXPIRE", KEYS[2], ARGV[3])
return 1
`)

var presenceSweepScript = redis.NewScript(`
local dead = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if #dead > 0 then
  redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
  local deadset = {}
  for _, m in ipairs(dead) do
    deadset[m] = true
  end
  local all = redis.call("HGETALL", KEYS[2])
  for i = 1, #all, 2 do
    if deadset[all[i + 1]] then
      redis.call("HDEL", KEYS[2], all[i])
    end
  end
end
if redis.call("ZCARD", KEYS[1]) == 0 then
  redis.call("DEL", KEYS[2])
  redis.call("SREM", KEYS[3], ARGV[2])
end
return #dead
`)

// RedisRegistry keeps one sorted set per organization (member "userID:socketID",
// score = last heartbeat in unix milliseconds), a socket-to-member hash for
// O(1) unregister/heartbeat, and a set of organizations with any entry. Keys
// expire on their own at several heartbeat timeouts so an abandoned
// organization cleans up even if no sweeper runs.
type RedisRegistry struct {
	client   redis.UniversalClient
	prefix   string
	entryTTL time.Duration
	clk      clock.Clock
}

func NewRedisRegistry(client redis.UniversalClient, prefix string, heartbeatTimeout time.Duration, clk clock.Clock) *RedisRegistry {
	if prefix == "" {
		prefix = "presence"
	}
	if clk == nil {
		clk = clock.New()
	}
	ttl := 4 * heartbeatTimeout
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return &RedisRegistry{client: client, prefix: prefix, entryTTL: ttl, clk: clk}
}

func (r *RedisRegistry) Register(ctx context.Context, organizationID, userID, socketID string) error {
	now := r.clk.Now().UnixMilli()
	err := presenceRegisterScript.Run(ctx, r.client,
		[]string{r.orgKey(organizationID), r.socketKey(organizationID), r.orgsKey()},
		now, presenceMember(userID, socketID), socketID, organizationID, r.entryTTL.Milliseconds(),
	).Err()
	if err != nil {
		observability.RecordPresenceOperation(ctx, "register", "error")
		return fmt.Errorf("presence register: %w", err)
	}
	observability.RecordPresenceOperation(ctx, "register", "success")
	return nil
}

func (r *RedisRegistry) Unregister(ctx context.Context, organizationID, socketID string) error {
	res, err := presenceUnregisterScript.Run(ctx, r.client,
		[]string{r.orgKey(organizationID), r.socketKey(organizationID), r.orgsKey()},
		socketID, organizationID,
	).Int64()
	if err != nil {
		observability.RecordPresenceOperation(ctx, "unregister", "error")
		return fmt.Errorf("presence unregister: %w", err)
	}
	if res == 0 {
		observability.RecordPresenceOperation(ctx, "unregister", "not_found")
		return ErrNotRegistered
	}
	observability.RecordPresenceOperation(ctx, "unregister", "success")
	return nil
}

func (r *RedisRegistry) Heartbeat(ctx context.Context, organizationID, socketID string) error {
	now := r.clk.Now().UnixMilli()
	res, err := presenceHeartbeatScript.Run(ctx, r.client,
		[]string{r.orgKey(organizationID), r.socketKey(organizationID), r.orgsKey()},
		socketID, now, r.entryTTL.Milliseconds(),
	).Int64()
	if err != nil {
		observability.RecordPresenceOperation(ctx, "heartbeat", "error")
		return fmt.Errorf("presence heartbeat: %w", err)
	}
	if res == 0 {
		observability.RecordPresenceOperation(ctx, "heartbeat", "not_found")
		return ErrNotRegistered
	}
	observability.RecordPresenceOperation(ctx, "heartbeat", "success")
	return nil
}

func (r *RedisRegistry) CountActive(ctx context.Context, organizationID string, window time.Duration) (int64, error) {
	cutoff := r.clk.Now().Add(-window).UnixMilli()
	count, err := r.client.ZCount(ctx, r.orgKey(organizationID), fmt.Sprintf("%d", cutoff), "+inf").Result()
	if err != nil {
		observability.RecordPresenceOperation(ctx, "count_active", "error")
		return 0, fmt.Errorf("presence count: %w", err)
	}
	observability.RecordPresenceOperation(ctx, "count_active", "success")
	return count, nil
}

func (r *RedisRegistry) ActiveByOrganization(ctx context.Context, window time.Duration) (map[string]int64, error) {
	orgs, err := r.client.SMembers(ctx, r.orgsKey()).Result()
	if err != nil {
		observability.RecordPresenceOperation(ctx, "active_by_org", "error")
		return nil, fmt.Errorf("presence organizations: %w", err)
	}
	cutoff := fmt.Sprintf("%d", r.clk.Now().Add(-window).UnixMilli())

	pipe := r.client.Pipeline()
	cmds := make(map[string]*redis.IntCmd, len(orgs))
	for _, org := range orgs {
		cmds[org] = pipe.ZCount(ctx, r.orgKey(org), cutoff, "+inf")
	}
	if _, err := pipe.Exec(ctx); err != nil {
		observability.RecordPresenceOperation(ctx, "active_by_org", "error")
		return nil, fmt.Errorf("presence organization counts: %w", err)
	}

	out := make(map[string]int64, len(orgs))
	for org, cmd := range cmds {
		if n := cmd.Val(); n > 0 {
			out[org] = n
		}
	}
	observability.RecordPresenceOperation(ctx, "active_by_org", "success")
	return out, nil
}

func (r *RedisRegistry) Sweep(ctx context.Context, maxAge time.Duration) (int64, error) {
	orgs, err := r.client.SMembers(ctx, r.orgsKey()).Result()
	if err != nil {
		observability.RecordPresenceOperation(ctx, "sweep", "error")
		return 0, fmt.Errorf("presence sweep organizations: %w", err)
	}
	cutoff := r.clk.Now().Add(-maxAge).UnixMilli()

	var removed int64
	for _, org := range orgs {
		n, err := presenceSweepScript.Run(ctx, r.client,
			[]string{r.orgKey(org), r.socketKey(org), r.orgsKey()},
			cutoff, org,
		).Int64()
		if err != nil {
			observability.RecordPresenceOperation(ctx, "sweep", "error")
			return removed, fmt.Errorf("presence sweep %s: %w", org, err)
		}
		removed += n
	}
	observability.RecordPresenceOperation(ctx, "sweep", "success")
	return removed, nil
}

func (r *RedisRegistry) orgKey(organizationID string) string {
	return fmt.Sprintf("%s:org:%s", r.prefix, organizationID)
}

func (r *RedisRegistry) socketKey(organizationID string) string {
	return fmt.Sprintf("%s:org:%s:sockets", r.prefix, organizationID)
}

func (r *RedisRegistry) orgsKey() string {
	return fmt.Sprintf("%s:orgs", r.prefix)
}
