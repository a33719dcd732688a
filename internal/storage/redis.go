package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/good-yellow-bee/keywatch/internal/models"
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisClient creates a Redis client from config.
func NewRedisClient(cfg *RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// RedisStateRepo stores alarm states as JSON in one hash per project.
type RedisStateRepo struct {
	client *redis.Client
	prefix string
}

// NewRedisStateRepo creates a state repository. prefix defaults to "keywatch".
func NewRedisStateRepo(client *redis.Client, prefix string) *RedisStateRepo {
	if prefix == "" {
		prefix = "keywatch"
	}
	return &RedisStateRepo{client: client, prefix: prefix}
}

func (r *RedisStateRepo) hashKey(projectID string) string {
	return r.prefix + ":states:" + projectID
}

// Get returns nil, nil when no state exists.
func (r *RedisStateRepo) Get(ctx context.Context, projectID, key string) (*models.AlarmState, error) {
	val, err := r.client.HGet(ctx, r.hashKey(projectID), key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get alarm state: %w", err)
	}
	var s models.AlarmState
	if err := json.Unmarshal([]byte(val), &s); err != nil {
		return nil, fmt.Errorf("decode alarm state: %w", err)
	}
	return &s, nil
}

func (r *RedisStateRepo) Put(ctx context.Context, s *models.AlarmState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode alarm state: %w", err)
	}
	if err := r.client.HSet(ctx, r.hashKey(s.ProjectID), s.Key, data).Err(); err != nil {
		return fmt.Errorf("redis put alarm state: %w", err)
	}
	return nil
}

// List returns states ordered by project then key.
func (r *RedisStateRepo) List(ctx context.Context, projectID string) ([]*models.AlarmState, error) {
	var hashes []string
	if projectID != "" {
		hashes = []string{r.hashKey(projectID)}
	} else {
		iter := r.client.Scan(ctx, 0, r.hashKey("*"), 100).Iterator()
		for iter.Next(ctx) {
			hashes = append(hashes, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("redis scan alarm states: %w", err)
		}
	}

	var states []*models.AlarmState
	for _, h := range hashes {
		fields, err := r.client.HGetAll(ctx, h).Result()
		if err != nil {
			return nil, fmt.Errorf("redis list alarm states: %w", err)
		}
		for _, val := range fields {
			var s models.AlarmState
			if err := json.Unmarshal([]byte(val), &s); err != nil {
				return nil, fmt.Errorf("decode alarm state: %w", err)
			}
			states = append(states, &s)
		}
	}
	sort.Slice(states, func(i, j int) bool {
		if states[i].ProjectID != states[j].ProjectID {
			return states[i].ProjectID < states[j].ProjectID
		}
		return states[i].Key < states[j].Key
	})
	return states, nil
}

func (r *RedisStateRepo) Delete(ctx context.Context, projectID, key string) error {
	n, err := r.client.HDel(ctx, r.hashKey(projectID), key).Result()
	if err != nil {
		return fmt.Errorf("redis delete alarm state: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RedisCheckpointRepo stores project checkpoints in a single hash.
type RedisCheckpointRepo struct {
	client *redis.Client
	key    string
}

// NewRedisCheckpointRepo creates a checkpoint repository. prefix defaults to "keywatch".
func NewRedisCheckpointRepo(client *redis.Client, prefix string) *RedisCheckpointRepo {
	if prefix == "" {
		prefix = "keywatch"
	}
	return &RedisCheckpointRepo{client: client, key: prefix + ":checkpoints"}
}

func (r *RedisCheckpointRepo) Get(ctx context.Context, projectID string) (time.Time, error) {
	val, err := r.client.HGet(ctx, r.key, projectID).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("redis get checkpoint: %w", err)
	}
	return parseCheckpoint(val)
}

func (r *RedisCheckpointRepo) Put(ctx context.Context, projectID string, at time.Time) error {
	if err := r.client.HSet(ctx, r.key, projectID, at.UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return fmt.Errorf("redis put checkpoint: %w", err)
	}
	return nil
}

func (r *RedisCheckpointRepo) List(ctx context.Context) (map[string]time.Time, error) {
	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list checkpoints: %w", err)
	}
	out := make(map[string]time.Time, len(fields))
	for id, val := range fields {
		t, err := parseCheckpoint(val)
		if err != nil {
			return nil, err
		}
		out[id] = t
	}
	return out, nil
}

func parseCheckpoint(val string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(val))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse checkpoint %q: %w", val, err)
	}
	return t.UTC(), nil
}
