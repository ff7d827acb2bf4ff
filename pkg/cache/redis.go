package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

// RedisStore keeps results in Redis so that several processes share them.
// Entries carry their canonical text and creation time; each type has a set
// of the keys depending on it.
type RedisStore struct {
	client redis.UniversalClient
	opts   Options
	now    func() time.Time
	log    logrus.FieldLogger
}

// RedisConfig holds connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NewRedisStore returns a store over an existing client.
func NewRedisStore(client redis.UniversalClient, opts Options, log logrus.FieldLogger) *RedisStore {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RedisStore{client: client, opts: opts, now: time.Now, log: log}
}

// DialRedis connects to a single Redis server and checks the connection.
func DialRedis(ctx context.Context, cfg RedisConfig, opts Options, log logrus.FieldLogger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return NewRedisStore(client, opts, log), nil
}

type record struct {
	Text    string    `msgpack:"text"`
	Created time.Time `msgpack:"created"`
	Payload []byte    `msgpack:"payload"`
}

func typeSetKey(typ string) string {
	return keyPrefix + ":types:" + typ
}

// Get returns the payload stored for key and renews its sliding window.
func (s *RedisStore) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	var data []byte
	var err error
	if s.opts.SlidingExpiration > 0 {
		data, err = s.client.GetEx(ctx, key.ID, s.opts.SlidingExpiration).Bytes()
	} else {
		data, err = s.client.Get(ctx, key.ID).Bytes()
	}
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key.ID, err)
	}

	rec, err := decodeRecord(data)
	if err != nil || rec.Text != key.Text {
		s.log.WithField("key", key.ID).Warn("cache entry does not match its key")
		return nil, false, s.client.Del(ctx, key.ID).Err()
	}
	if s.opts.AbsoluteExpiration > 0 && s.now().Sub(rec.Created) >= s.opts.AbsoluteExpiration {
		return nil, false, s.client.Del(ctx, key.ID).Err()
	}
	return rec.Payload, true, nil
}

// Set stores a payload and registers it under its types.
func (s *RedisStore) Set(ctx context.Context, key Key, payload []byte) error {
	data, err := encodeRecord(record{Text: key.Text, Created: s.now(), Payload: payload})
	if err != nil {
		return err
	}
	ttl := s.opts.ttl()
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key.ID, data, ttl)
	for _, t := range key.Types {
		pipe.SAdd(ctx, typeSetKey(t), key.ID)
		if ttl > 0 {
			pipe.Expire(ctx, typeSetKey(t), 2*max(s.opts.AbsoluteExpiration, ttl))
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set %s: %w", key.ID, err)
	}
	return nil
}

// Invalidate drops the entries registered under the types.
func (s *RedisStore) Invalidate(ctx context.Context, types ...string) error {
	for _, t := range types {
		set := typeSetKey(t)
		ids, err := s.client.SMembers(ctx, set).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis members of %s: %w", set, err)
		}
		if err := s.client.Del(ctx, append(ids, set)...).Err(); err != nil {
			return fmt.Errorf("redis invalidate %s: %w", t, err)
		}
	}
	return nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func encodeRecord(r record) ([]byte, error) {
	return msgpack.Marshal(&r)
}

func decodeRecord(data []byte) (record, error) {
	var r record
	err := msgpack.Unmarshal(data, &r)
	return r, err
}
