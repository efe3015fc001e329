package treestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix     = "tree:"
	redisChangeChannel = "tree:changes"
)

// RedisStore keeps the tree in Redis, one key per record, and broadcasts
// mutated paths on a pub/sub channel so subscriptions work across
// processes.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Read(ctx context.Context, path string) (Snapshot, error) {
	return readPath(ctx, redisLeaves{s.client}, path)
}

func (s *RedisStore) Write(ctx context.Context, path string, value any) error {
	if err := writePath(ctx, redisLeaves{s.client}, path, value); err != nil {
		return err
	}
	s.publish(ctx, path)
	return nil
}

func (s *RedisStore) Merge(ctx context.Context, path string, partial map[string]any) error {
	if err := mergePath(ctx, redisLeaves{s.client}, path, partial); err != nil {
		return err
	}
	s.publish(ctx, path)
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, path string) error {
	if err := deletePath(ctx, redisLeaves{s.client}, path); err != nil {
		return err
	}
	s.publish(ctx, path)
	return nil
}

// publish is best-effort: a lost notification only delays subscribers
// until the next change, it never corrupts stored data.
func (s *RedisStore) publish(ctx context.Context, path string) {
	if err := s.client.Publish(ctx, redisChangeChannel, path).Err(); err != nil {
		log.Printf("treestore: failed to publish change for %s: %v", path, err)
	}
}

func (s *RedisStore) Subscribe(ctx context.Context, path string) (*Subscription, error) {
	initial, err := s.Read(ctx, path)
	if err != nil {
		return nil, err
	}

	pubsub := s.client.Subscribe(context.Background(), redisChangeChannel)
	if _, err := pubsub.Receive(context.Background()); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", path, err)
	}

	out := make(chan Snapshot, subscriptionBuffer)
	out <- initial
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			if !pathAffects(msg.Payload, path) {
				continue
			}
			snap, err := s.Read(context.Background(), path)
			if err != nil {
				log.Printf("treestore: re-read of %s for subscription failed: %v", path, err)
				continue
			}
			deliver(out, snap)
		}
	}()

	sub := newSubscription(out, func() {
		if err := pubsub.Close(); err != nil {
			log.Printf("treestore: failed to close pubsub for %s: %v", path, err)
		}
	})
	bindContext(ctx, sub)
	return sub, nil
}

type redisLeaves struct {
	client *redis.Client
}

func (r redisLeaves) getLeaf(ctx context.Context, path string) (json.RawMessage, bool, error) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+path).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return raw, true, nil
}

func (r redisLeaves) scanLeaves(ctx context.Context, prefix string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage)
	iter := r.client.Scan(ctx, 0, globEscape(redisKeyPrefix+prefix)+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // deleted between scan and get
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}
		out[strings.TrimPrefix(key, redisKeyPrefix+prefix)] = raw
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", prefix, err)
	}
	return out, nil
}

func (r redisLeaves) putLeaf(ctx context.Context, path string, raw json.RawMessage) error {
	if err := r.client.Set(ctx, redisKeyPrefix+path, []byte(raw), 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (r redisLeaves) deleteLeaf(ctx context.Context, path string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+path).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

func (r redisLeaves) deletePrefix(ctx context.Context, prefix string) error {
	iter := r.client.Scan(ctx, 0, globEscape(redisKeyPrefix+prefix)+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan %s: %w", prefix, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete under %s: %w", prefix, err)
	}
	return nil
}

func globEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
