package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/thera-pipeline/matcher/pkg/logger"
)

// ErrNoModel means no version has ever been promoted. Callers fail open to
// the neutral score.
var ErrNoModel = errors.New("no model promoted")

// ArtifactStore is durable versioned storage for model artifacts plus a
// single current-version pointer with atomic swap semantics.
type ArtifactStore interface {
	PutModel(ctx context.Context, m *Model) error
	GetModel(ctx context.Context, version string) (*Model, error)
	CurrentVersion(ctx context.Context) (string, error)
	Promote(ctx context.Context, version string) error
}

// Current resolves the promoted version and loads it in one call.
func Current(ctx context.Context, store ArtifactStore) (*Model, error) {
	version, err := store.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	return store.GetModel(ctx, version)
}

type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Store(ctx context.Context, bucket, prefix, region string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}

	logger.Info("Model artifact store initialized",
		zap.String("bucket", bucket),
		zap.String("prefix", prefix),
	)

	return &S3Store{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
	}, nil
}

func (s *S3Store) modelKey(version string) string {
	return s.prefix + version + ".json"
}

func (s *S3Store) currentKey() string {
	return s.prefix + "current"
}

func (s *S3Store) PutModel(ctx context.Context, m *Model) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.modelKey(m.ModelVersion)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload model artifact: %w", err)
	}

	logger.Info("Model artifact stored",
		zap.String("version", m.ModelVersion),
		zap.Float64("auc", m.AUC),
	)
	return nil
}

func (s *S3Store) GetModel(ctx context.Context, version string) (*Model, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.modelKey(version)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get model artifact %s: %w", version, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact: %w", err)
	}

	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model artifact: %w", err)
	}

	return &m, nil
}

// CurrentVersion reads the pointer object. A missing pointer means no model
// was ever promoted.
func (s *S3Store) CurrentVersion(ctx context.Context) (string, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.currentKey()),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return "", ErrNoModel
		}
		return "", fmt.Errorf("failed to get current model pointer: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read current model pointer: %w", err)
	}

	version := strings.TrimSpace(string(data))
	if version == "" {
		return "", ErrNoModel
	}
	return version, nil
}

// Promote swaps the pointer with a single PUT, so readers see either the old
// or the new version, never a partial state.
func (s *S3Store) Promote(ctx context.Context, version string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.currentKey()),
		Body:        strings.NewReader(version),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("failed to promote model %s: %w", version, err)
	}

	logger.Info("Model promoted", zap.String("version", version))
	return nil
}

// MemoryStore backs tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	models  map[string]*Model
	current string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{models: make(map[string]*Model)}
}

func (s *MemoryStore) PutModel(_ context.Context, m *Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[m.ModelVersion] = m
	return nil
}

func (s *MemoryStore) GetModel(_ context.Context, version string) (*Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[version]
	if !ok {
		return nil, fmt.Errorf("model %s not found", version)
	}
	return m, nil
}

func (s *MemoryStore) CurrentVersion(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == "" {
		return "", ErrNoModel
	}
	return s.current, nil
}

func (s *MemoryStore) Promote(_ context.Context, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.models[version]; !ok {
		return fmt.Errorf("cannot promote unknown model %s", version)
	}
	s.current = version
	return nil
}
