package mutationqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const redisDefaultPrefix = "fieldsync"

// RedisStore keeps records in a hash and their ids in a sorted set scored by
// id. Ids come from INCR on a counter key that Clear leaves in place, inside
// the same script that stores the record.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(dsn, queueKey string) (*RedisStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, err
	}
	return NewRedisStoreWithClient(redis.NewClient(opts), queueKey), nil
}

func NewRedisStoreWithClient(client *redis.Client, queueKey string) *RedisStore {
	queueKey = strings.TrimSpace(queueKey)
	if queueKey == "" {
		queueKey = postgresQueueKey
	}
	return &RedisStore{
		client: client,
		prefix: redisDefaultPrefix + ":" + queueKey,
	}
}

func (s *RedisStore) seqKey() string     { return s.prefix + ":seq" }
func (s *RedisStore) idsKey() string     { return s.prefix + ":ids" }
func (s *RedisStore) recordsKey() string { return s.prefix + ":records" }

func (s *RedisStore) Load(ctx context.Context) ([]QueuedMutation, error) {
	ids, err := s.client.ZRange(ctx, s.idsKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []QueuedMutation{}, nil
	}
	values, err := s.client.HMGet(ctx, s.recordsKey(), ids...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]QueuedMutation, 0, len(values))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			// id without a payload: a half-applied Remove from another client
			continue
		}
		var record QueuedMutation
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, fmt.Errorf("decode mutation %s: %w", ids[i], err)
		}
		id, err := strconv.ParseInt(ids[i], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode mutation id %q: %w", ids[i], err)
		}
		record.ID = id
		out = append(out, record)
	}
	return out, nil
}

// appendScript issues the id and stores the record in one step, so a Load
// never sees id N+1 without id N. The stored payload carries no id; Load
// takes it from the member.
var appendScript = redis.NewScript(`
local id = redis.call("INCR", KEYS[1])
redis.call("HSET", KEYS[3], tostring(id), ARGV[1])
redis.call("ZADD", KEYS[2], id, tostring(id))
return id
`)

func (s *RedisStore) Append(ctx context.Context, record QueuedMutation) (int64, error) {
	if err := validateRecord(record); err != nil {
		return 0, err
	}
	record = record.Clone()
	record.ID = 0
	payload, err := json.Marshal(record)
	if err != nil {
		return 0, err
	}
	keys := []string{s.seqKey(), s.idsKey(), s.recordsKey()}
	return appendScript.Run(ctx, s.client, keys, string(payload)).Int64()
}

func (s *RedisStore) Remove(ctx context.Context, id int64) error {
	member := strconv.FormatInt(id, 10)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.idsKey(), member)
		pipe.HDel(ctx, s.recordsKey(), member)
		return nil
	})
	return err
}

func (s *RedisStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.idsKey(), s.recordsKey()).Err()
}

func (s *RedisStore) Len(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, s.idsKey()).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
