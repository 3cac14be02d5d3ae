package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/thera-pipeline/matcher/pkg/logger"
)

// Entry is one cached candidate vector together with the content hash it was
// generated from. A matching hash means the vector is current.
type Entry struct {
	CompanyKey  string    `json:"company_key"`
	ContentHash string    `json:"content_hash"`
	Vector      []float32 `json:"vector"`
	GeneratedAt time.Time `json:"generated_at"`
}

// VectorStore persists candidate vectors between batch runs.
type VectorStore interface {
	Get(ctx context.Context, companyKey string) (*Entry, bool, error)
	GetHash(ctx context.Context, companyKey string) (string, bool, error)
	Put(ctx context.Context, entry Entry) error
	Keys(ctx context.Context) ([]string, error)
}

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(host string, port int, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Vector store initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func vectorKey(companyKey string) string {
	return fmt.Sprintf("embedding:%s", companyKey)
}

func hashKey(companyKey string) string {
	return fmt.Sprintf("embedding_hash:%s", companyKey)
}

func (s *RedisStore) Get(ctx context.Context, companyKey string) (*Entry, bool, error) {
	data, err := s.client.Get(ctx, vectorKey(companyKey)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get embedding: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal embedding entry: %w", err)
	}

	return &entry, true, nil
}

// GetHash reads only the content hash, so change detection never deserializes
// full vectors.
func (s *RedisStore) GetHash(ctx context.Context, companyKey string) (string, bool, error) {
	hash, err := s.client.Get(ctx, hashKey(companyKey)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get embedding hash: %w", err)
	}

	return hash, true, nil
}

func (s *RedisStore) Put(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding entry: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, vectorKey(entry.CompanyKey), data, 0)
	pipe.Set(ctx, hashKey(entry.CompanyKey), entry.ContentHash, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set embedding entry: %w", err)
	}

	logger.Debug("Embedding stored", zap.String("company_key", entry.CompanyKey))
	return nil
}

func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string

	iter := s.client.Scan(ctx, 0, "embedding:*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len("embedding:"):])
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate embedding keys: %w", err)
	}

	return keys, nil
}
