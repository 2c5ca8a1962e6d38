package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"catalog-showcase/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisDocumentStore keeps catalog documents in a Redis hash, creation order
// in a sorted set, and announces writes on a pub/sub channel.
type RedisDocumentStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

func NewRedisDocumentStore(client *redis.Client, prefix string, logger *zap.Logger) *RedisDocumentStore {
	if prefix == "" {
		prefix = "catalogs"
	}
	return &RedisDocumentStore{client: client, prefix: prefix, logger: logger}
}

func (s *RedisDocumentStore) docsKey() string    { return s.prefix + ":docs" }
func (s *RedisDocumentStore) orderKey() string   { return s.prefix + ":order" }
func (s *RedisDocumentStore) changesKey() string { return s.prefix + ":changes" }

func (s *RedisDocumentStore) Get(ctx context.Context, id string) (*domain.Catalog, error) {
	data, err := s.client.HGet(ctx, s.docsKey(), id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get catalog document: %w", err)
	}

	var doc domain.Catalog
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode catalog document %q: %w", id, err)
	}
	return &doc, nil
}

func (s *RedisDocumentStore) Put(ctx context.Context, doc *domain.Catalog) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode catalog document: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.docsKey(), doc.ID, data)
		pipe.ZAddNX(ctx, s.orderKey(), redis.Z{
			Score:  float64(time.Now().UnixNano()),
			Member: doc.ID,
		})
		pipe.Publish(ctx, s.changesKey(), doc.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to put catalog document: %w", err)
	}
	return nil
}

// updateScript rewrites a document only while it is still in the hash, so a
// concurrent delete cannot be undone by a late write.
var updateScript = redis.NewScript(`
if redis.call("HEXISTS", KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
redis.call("PUBLISH", KEYS[2], ARGV[1])
return 1
`)

func (s *RedisDocumentStore) Update(ctx context.Context, doc *domain.Catalog) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode catalog document: %w", err)
	}

	updated, err := updateScript.Run(ctx, s.client, []string{s.docsKey(), s.changesKey()}, doc.ID, data).Int()
	if err != nil {
		return fmt.Errorf("failed to update catalog document: %w", err)
	}
	if updated == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisDocumentStore) Delete(ctx context.Context, id string) error {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.HDel(ctx, s.docsKey(), id)
		pipe.ZRem(ctx, s.orderKey(), id)
		pipe.Publish(ctx, s.changesKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete catalog document: %w", err)
	}
	if removed.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisDocumentStore) List(ctx context.Context) ([]domain.Catalog, error) {
	ids, err := s.client.ZRange(ctx, s.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog ids: %w", err)
	}
	if len(ids) == 0 {
		return []domain.Catalog{}, nil
	}

	values, err := s.client.HMGet(ctx, s.docsKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog documents: %w", err)
	}

	catalogs := make([]domain.Catalog, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// order entry without a document: a delete raced with the read
			continue
		}
		var doc domain.Catalog
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("failed to decode catalog document %q: %w", ids[i], err)
		}
		catalogs = append(catalogs, doc)
	}
	return catalogs, nil
}

func (s *RedisDocumentStore) Watch(ctx context.Context, onChange func(id string)) (func(), error) {
	pubsub := s.client.Subscribe(ctx, s.changesKey())

	// Wait for the subscription to be confirmed so no write is missed after
	// Watch returns.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", s.changesKey(), err)
	}

	ch := pubsub.Channel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ch {
			onChange(msg.Payload)
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			if err := pubsub.Close(); err != nil {
				s.logger.Warn("Failed to close catalog subscription", zap.Error(err))
			}
			<-done
		})
	}
	return stop, nil
}

func (s *RedisDocumentStore) Close() error {
	return s.client.Close()
}
