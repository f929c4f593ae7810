package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ignatzorin/booking-core/internal/domain/valueobject"
	"github.com/ignatzorin/booking-core/internal/models"
)

const (
	redisHoldPrefix    = "booking:hold:"
	redisSlotPrefix    = "booking:slot:"
	redisActiveHolds   = "booking:holds:active"
	redisHoldRetention = 7 * 24 * time.Hour
)

// Захват слота: ключ слота указывает на активный резерв. Если текущий резерв
// уже просрочен по часам приложения, он помечается expired и слот переходит новому владельцу.
var acquireHoldScript = redis.NewScript(`
local slot_key = KEYS[1]
local hold_key = KEYS[2]
local active_set = KEYS[3]
local hold_prefix = ARGV[1]
local hold_id = ARGV[2]
local now = tonumber(ARGV[3])
local expires_at = tonumber(ARGV[4])
local retain_until = tonumber(ARGV[5])

local current = redis.call('GET', slot_key)
if current then
  local cur_key = hold_prefix .. current
  local st = redis.call('HGET', cur_key, 'status')
  local exp = tonumber(redis.call('HGET', cur_key, 'expires_at') or '0')
  if st == 'active' and exp > now then
    return 0
  end
  if st == 'active' then
    redis.call('HSET', cur_key, 'status', 'expired', 'resolved_at', ARGV[3])
    redis.call('ZREM', active_set, current)
  end
end

redis.call('SET', slot_key, hold_id, 'PXAT', expires_at)
local fields = {}
for i = 6, #ARGV do
  fields[#fields + 1] = ARGV[i]
end
redis.call('HSET', hold_key, unpack(fields))
redis.call('PEXPIREAT', hold_key, retain_until)
redis.call('ZADD', active_set, expires_at, hold_id)
return 1
`)

// Переход из active. При check_expiry=1 просроченный резерв не переводится.
// Ключ слота удаляется, только если всё ещё указывает на этот резерв.
var transitionHoldScript = redis.NewScript(`
local hold_key = KEYS[1]
local active_set = KEYS[2]
local to = ARGV[1]
local now = tonumber(ARGV[2])
local check_expiry = ARGV[3]
local hold_id = ARGV[4]
local slot_prefix = ARGV[5]

local st = redis.call('HGET', hold_key, 'status')
if not st then
  return -1
end
if st ~= 'active' then
  return 0
end
if check_expiry == '1' then
  local exp = tonumber(redis.call('HGET', hold_key, 'expires_at'))
  if exp <= now then
    return 0
  end
end

redis.call('HSET', hold_key, 'status', to, 'resolved_at', ARGV[2])
redis.call('ZREM', active_set, hold_id)
local slot_key = slot_prefix .. redis.call('HGET', hold_key, 'slot_key')
if redis.call('GET', slot_key) == hold_id then
  redis.call('DEL', slot_key)
end
return 1
`)

// RedisHoldRepository - альтернативное хранилище резервов на Redis.
// Атомарность захвата обеспечивает Lua-скрипт, исполняемый сервером целиком.
type RedisHoldRepository struct {
	client *redis.Client
}

func NewRedisHoldRepository(client *redis.Client) *RedisHoldRepository {
	return &RedisHoldRepository{client: client}
}

func (r *RedisHoldRepository) Acquire(ctx context.Context, hold *models.SlotHold) error {
	id := hold.ID.String()
	args := []any{
		redisHoldPrefix,
		id,
		hold.CreatedAt.UnixMilli(),
		hold.ExpiresAt.UnixMilli(),
		hold.ExpiresAt.Add(redisHoldRetention).UnixMilli(),
		"id", id,
		"slot_key", hold.SlotKey,
		"holder_id", hold.HolderID.String(),
		"status", string(hold.Status),
		"estimated_amount", hold.EstimatedAmount,
		"created_at", hold.CreatedAt.UnixMilli(),
		"expires_at", hold.ExpiresAt.UnixMilli(),
	}
	keys := []string{redisSlotPrefix + hold.SlotKey, redisHoldPrefix + id, redisActiveHolds}

	ok, err := acquireHoldScript.Run(ctx, r.client, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("redis hold repository: acquire: %w", err)
	}
	if ok == 0 {
		return ErrSlotTaken
	}
	return nil
}

func (r *RedisHoldRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SlotHold, error) {
	fields, err := r.client.HGetAll(ctx, redisHoldPrefix+id.String()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hold repository: get: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrHoldNotFound
	}
	return decodeRedisHold(fields)
}

func (r *RedisHoldRepository) Consume(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	return r.transition(ctx, id, valueobject.HoldStatusConsumed, now, true)
}

func (r *RedisHoldRepository) SetStatusIfActive(ctx context.Context, id uuid.UUID, to valueobject.HoldStatus, now time.Time) (bool, error) {
	return r.transition(ctx, id, to, now, false)
}

// ExpireStale проходит по индексу активных резервов с истёкшим сроком.
func (r *RedisHoldRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	ids, err := r.client.ZRangeByScore(ctx, redisActiveHolds, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis hold repository: list stale: %w", err)
	}

	var expired int64
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			r.client.ZRem(ctx, redisActiveHolds, raw)
			continue
		}
		ok, err := r.transition(ctx, id, valueobject.HoldStatusExpired, now, false)
		if err != nil && !errors.Is(err, ErrHoldNotFound) {
			return expired, err
		}
		if errors.Is(err, ErrHoldNotFound) {
			// хэш резерва уже вычищен по retention
			r.client.ZRem(ctx, redisActiveHolds, raw)
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (r *RedisHoldRepository) transition(ctx context.Context, id uuid.UUID, to valueobject.HoldStatus, now time.Time, checkExpiry bool) (bool, error) {
	check := "0"
	if checkExpiry {
		check = "1"
	}
	keys := []string{redisHoldPrefix + id.String(), redisActiveHolds}
	res, err := transitionHoldScript.Run(ctx, r.client, keys,
		string(to), now.UnixMilli(), check, id.String(), redisSlotPrefix,
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis hold repository: transition to %s: %w", to, err)
	}
	switch res {
	case -1:
		return false, ErrHoldNotFound
	case 1:
		return true, nil
	default:
		return false, nil
	}
}

func decodeRedisHold(f map[string]string) (*models.SlotHold, error) {
	id, err := uuid.Parse(f["id"])
	if err != nil {
		return nil, fmt.Errorf("redis hold repository: decode id: %w", err)
	}
	holder, err := uuid.Parse(f["holder_id"])
	if err != nil {
		return nil, fmt.Errorf("redis hold repository: decode holder: %w", err)
	}
	amount, err := strconv.ParseInt(f["estimated_amount"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis hold repository: decode amount: %w", err)
	}
	created, err := parseMillis(f["created_at"])
	if err != nil {
		return nil, err
	}
	expires, err := parseMillis(f["expires_at"])
	if err != nil {
		return nil, err
	}

	h := &models.SlotHold{
		ID:              id,
		SlotKey:         f["slot_key"],
		HolderID:        holder,
		Status:          valueobject.HoldStatus(f["status"]),
		EstimatedAmount: amount,
		CreatedAt:       created,
		ExpiresAt:       expires,
	}
	if raw, ok := f["resolved_at"]; ok && raw != "" {
		resolved, err := parseMillis(raw)
		if err != nil {
			return nil, err
		}
		h.ResolvedAt = &resolved
	}
	return h, nil
}

func parseMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("redis hold repository: decode timestamp %q: %w", raw, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}
