package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash holding the settings; change notifications go
// to the same name with a ":changes" suffix.
const DefaultRedisKey = "thumbfix:settings"

// RedisStore keeps settings in a Redis hash and announces every write on a
// pub/sub channel tagged with the writer's origin id, so any number of
// processes can share one set of preferences.
type RedisStore struct {
	client  *redis.Client
	hash    string
	channel string
	origin  string
	logger  *log.Logger

	mu      sync.Mutex
	subs    map[int]func(Change)
	nextSub int
}

var _ Store = (*RedisStore)(nil)

type redisChange struct {
	Origin  string `json:"origin"`
	Key     string `json:"key"`
	Old     string `json:"old"`
	New     string `json:"new"`
	Present bool   `json:"present"`
}

// DialRedis connects to a redis:// URL.
func DialRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisStore uses key as the hash name; empty means DefaultRedisKey.
func NewRedisStore(client *redis.Client, key string, logger *log.Logger) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	if logger == nil {
		logger = log.Default()
	}
	return &RedisStore{
		client:  client,
		hash:    key,
		channel: key + ":changes",
		origin:  uuid.NewString(),
		logger:  logger,
		subs:    map[int]func(Change){},
	}
}

// Origin identifies this store's writes on the change channel.
func (s *RedisStore) Origin() string { return s.origin }

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.HGet(ctx, s.hash, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis hget %s: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	return s.write(ctx, key, value, true)
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.write(ctx, key, "", false)
}

func (s *RedisStore) write(ctx context.Context, key, value string, present bool) error {
	var old *redis.StringCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		old = p.HGet(ctx, s.hash, key)
		if present {
			p.HSet(ctx, s.hash, key, value)
		} else {
			p.HDel(ctx, s.hash, key)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis write %s: %w", key, err)
	}
	change := Change{Key: key, Old: old.Val(), New: value, Present: present}

	payload, err := json.Marshal(redisChange{Origin: s.origin, Key: key, Old: change.Old, New: value, Present: present})
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}

	s.mu.Lock()
	subs := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(change)
	}
	return nil
}

// Subscribe delivers local writes directly and other origins' writes from the
// change channel. It returns once the channel subscription is confirmed.
func (s *RedisStore) Subscribe(ctx context.Context, fn func(Change)) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("redis subscribe %s: %w", s.channel, err)
	}

	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn
	s.mu.Unlock()

	go func() {
		defer pubsub.Close()
		defer func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		}()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var rc redisChange
				if err := json.Unmarshal([]byte(msg.Payload), &rc); err != nil {
					s.logger.Warn("ignoring malformed settings change", "channel", msg.Channel, "err", err)
					continue
				}
				if rc.Origin == s.origin {
					continue
				}
				fn(Change{Key: rc.Key, Old: rc.Old, New: rc.New, Present: rc.Present, Remote: true})
			}
		}
	}()
	return nil
}
