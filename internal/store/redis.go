// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ecosync/internal/job"
)

// RedisStore is an alternate job store for deployments where the agent
// already runs beside a local Redis. Each job is a JSON value keyed by id,
// with a sorted set over the unsynced ids scored by creation time for
// ordered scans. Terminal jobs leave the set, so listing unsynced work
// stays proportional to the backlog, not to history.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed job store.
// prefix namespaces the keys (e.g. "ecosync").
func NewRedisStore(client *redis.Client, prefix string) (*RedisStore, error) {
	if prefix == "" {
		prefix = "ecosync"
	}

	log.Printf("NewRedisStore: prefix=%s", prefix)

	if err := client.Ping(context.Background()).Err(); err != nil {
		log.Printf("NewRedisStore: failed to ping Redis: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

// Close closes the Redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) jobKey(id string) string {
	return r.prefix + ":jobs:" + id
}

func (r *RedisStore) indexKey() string {
	return r.prefix + ":jobs:index"
}

// Add persists a new job record.
func (r *RedisStore) Add(ctx context.Context, j job.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.jobKey(j.ID), data, 0)
	pipe.ZAdd(ctx, r.indexKey(), redis.Z{
		Score:  float64(j.CreatedAt.UnixNano()),
		Member: j.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store job: %w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Get returns the job with the given id.
func (r *RedisStore) Get(ctx context.Context, id string) (job.Job, error) {
	data, err := r.client.Get(ctx, r.jobKey(id)).Bytes()
	if err == redis.Nil {
		return job.Job{}, ErrNotFound
	}
	if err != nil {
		return job.Job{}, fmt.Errorf("failed to get job: %w: %v", ErrStoreUnavailable, err)
	}

	var j job.Job
	if err := json.Unmarshal(data, &j); err != nil {
		return job.Job{}, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	return j, nil
}

// ListUnsynced returns all pending jobs, oldest first. The index holds only
// unsynced ids, scored by creation time, so range order is creation order
// and the scan never touches terminal history.
func (r *RedisStore) ListUnsynced(ctx context.Context) ([]job.Job, error) {
	ids, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w: %v", ErrStoreUnavailable, err)
	}

	var jobs []job.Job
	for _, id := range ids {
		j, err := r.Get(ctx, id)
		if err == ErrNotFound {
			// index entry for a removed job; drop it
			r.client.ZRem(ctx, r.indexKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if j.Status == job.StatusPending {
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

// Update applies a patch to one job and keeps the unsynced index in step:
// a transition to a terminal status drops the id from the index, a reset
// back to pending (manual retry) re-adds it.
func (r *RedisStore) Update(ctx context.Context, id string, p Patch) error {
	j, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	if p.Status != nil {
		// synced is terminal and monotonic
		if j.Status != job.StatusSynced || *p.Status == job.StatusSynced {
			j.Status = *p.Status
		}
	}
	if p.Attempts != nil {
		j.Attempts = *p.Attempts
	}
	if p.LastError != nil {
		j.LastError = *p.LastError
	}
	if p.TxHash != nil {
		j.TxHash = *p.TxHash
	}
	if p.NextAttemptAt != nil {
		j.NextAttemptAt = *p.NextAttemptAt
	}

	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.jobKey(id), data, 0)
	if j.Terminal() {
		pipe.ZRem(ctx, r.indexKey(), id)
	} else {
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{
			Score:  float64(j.CreatedAt.UnixNano()),
			Member: id,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update job: %w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Remove deletes a job record and its index entry.
func (r *RedisStore) Remove(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.jobKey(id))
	pipe.ZRem(ctx, r.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete job: %w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// scanIDs walks every job key. Terminal jobs are not in the index, so
// whole-history operations go through SCAN instead.
func (r *RedisStore) scanIDs(ctx context.Context) ([]string, error) {
	keyPrefix := r.prefix + ":jobs:"
	var ids []string

	iter := r.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if key == r.indexKey() {
			continue
		}
		ids = append(ids, strings.TrimPrefix(key, keyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan jobs: %w: %v", ErrStoreUnavailable, err)
	}
	return ids, nil
}

// Stats recomputes queue statistics over all job records.
func (r *RedisStore) Stats(ctx context.Context) (job.QueueStats, error) {
	ids, err := r.scanIDs(ctx)
	if err != nil {
		return job.QueueStats{}, err
	}

	var stats job.QueueStats
	for _, id := range ids {
		j, err := r.Get(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return job.QueueStats{}, err
		}
		stats.Total++
		switch j.Status {
		case job.StatusPending:
			stats.Pending++
		case job.StatusFailed:
			stats.Failed++
		case job.StatusSynced:
			stats.Synced++
		}
	}
	return stats, nil
}

// Prune deletes terminal jobs created before the cutoff.
func (r *RedisStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := r.scanIDs(ctx)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, id := range ids {
		j, err := r.Get(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return pruned, err
		}
		if !j.Terminal() || !j.CreatedAt.Before(cutoff) {
			continue
		}
		if err := r.Remove(ctx, id); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}
