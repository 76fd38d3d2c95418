package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/config"
	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/models"
)

// Envelope is the cached form of one scope root's latest reconciliation
type Envelope struct {
	RunID       string      `json:"run_id"`
	ScopeRoot   int64       `json:"scope_root"`
	GeneratedAt time.Time   `json:"generated_at"`
	WindowStart time.Time   `json:"window_start"`
	WindowEnd   time.Time   `json:"window_end"`
	Tree        models.Tree `json:"tree"`
}

// Key returns the cache key holding the latest tree for a scope root
func Key(scopeRoot int64) string {
	return fmt.Sprintf("reconciliation:%d", scopeRoot)
}

// keyValue is the part of *redis.Client the publisher uses
type keyValue interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Pipeline() redis.Pipeliner
	Close() error
}

// RedisPublisher caches the latest annotated tree per scope root
type RedisPublisher struct {
	client keyValue
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisPublisher parses the Redis URL and verifies the connection
func NewRedisPublisher(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*RedisPublisher, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opt.Password = cfg.Password
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisPublisher{
		client: client,
		ttl:    cfg.TTL,
		logger: logger.With("component", "redis_publisher"),
	}, nil
}

// Name identifies the sink in logs and metrics
func (p *RedisPublisher) Name() string { return "redis" }

// Publish stores every snapshot under its scope root key. All snapshots of
// one run share a run id.
func (p *RedisPublisher) Publish(ctx context.Context, snapshots []models.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	startTime := time.Now()

	payloads, err := encode(uuid.NewString(), snapshots)
	if err != nil {
		return err
	}

	pipe := p.client.Pipeline()
	for key, payload := range payloads {
		pipe.Set(ctx, key, payload, p.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis SET failed: %w", err)
	}

	p.logger.Debug("snapshots_cached",
		"keys", len(payloads),
		"ttl_sec", p.ttl.Seconds(),
		"latency_ms", time.Since(startTime).Milliseconds(),
	)
	return nil
}

// Get reads the cached envelope for a scope root. A missing key returns
// nil with no error.
func (p *RedisPublisher) Get(ctx context.Context, scopeRoot int64) (*Envelope, error) {
	raw, err := p.client.Get(ctx, Key(scopeRoot)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis GET failed: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode %s: %w", Key(scopeRoot), err)
	}
	return &env, nil
}

// Close closes the Redis connection
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

func encode(runID string, snapshots []models.Snapshot) (map[string][]byte, error) {
	out := make(map[string][]byte, len(snapshots))
	for _, snap := range snapshots {
		b, err := json.Marshal(Envelope{
			RunID:       runID,
			ScopeRoot:   snap.ScopeRoot,
			GeneratedAt: snap.GeneratedAt,
			WindowStart: snap.WindowStart,
			WindowEnd:   snap.WindowEnd,
			Tree:        snap.Tree,
		})
		if err != nil {
			return nil, fmt.Errorf("json marshal failed: %w", err)
		}
		out[Key(snap.ScopeRoot)] = b
	}
	return out, nil
}
