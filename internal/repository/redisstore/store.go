// Package redisstore keeps run state in Redis so several processes can share one run.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"SessionScan/internal/domain/models"
)

// Store implements repository.Store on Redis. Read-modify-write updates run
// as WATCH transactions so that concurrent processes never overwrite each
// other's changes.
//
// Keys (under prefix):
//
//	queue:items      hash symbol -> QueueItem JSON
//	queue:pending    zset symbol scored by position
//	queue:completed  set
//	queue:error      set
//	queue:seq        position counter
//	run              RunState JSON
//	log              list, newest first
type Store struct {
	client   *redis.Client
	prefix   string
	logLimit int
}

// maxTxAttempts bounds the retries of a WATCH transaction under contention.
const maxTxAttempts = 100

func New(client *redis.Client, prefix string, logLimit int) *Store {
	if logLimit <= 0 {
		logLimit = 200
	}
	return &Store{client: client, prefix: prefix, logLimit: logLimit}
}

// Close is a no-op; the client is owned by the caller.
func (s *Store) Close() error { return nil }

func (s *Store) key(parts string) string { return s.prefix + ":" + parts }

// atomically runs fn under WATCH on keys and retries when another client
// changed one of them before EXEC.
func (s *Store) atomically(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxAttempts; i++ {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("redis transaction on %v: %w", keys, redis.TxFailedErr)
}

func (s *Store) Enqueue(ctx context.Context, symbol string, modes models.ModeSet) error {
	items := s.key("queue:items")
	err := s.atomically(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, items, symbol).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			pos, err := tx.Incr(ctx, s.key("queue:seq")).Result()
			if err != nil {
				return err
			}
			item := models.QueueItem{Symbol: symbol, Modes: models.NewModeSet(modes...), Status: models.ItemPending, Position: int(pos - 1)}
			data, err := json.Marshal(item)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.HSet(ctx, items, symbol, data)
				p.ZAdd(ctx, s.key("queue:pending"), redis.Z{Score: float64(item.Position), Member: symbol})
				return nil
			})
			return err
		case err != nil:
			return err
		}

		var item models.QueueItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return fmt.Errorf("decode queue item %s: %w", symbol, err)
		}
		item.Modes = item.Modes.Union(modes)
		data, err := json.Marshal(item)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, items, symbol, data)
			return nil
		})
		return err
	}, items)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", symbol, err)
	}
	return nil
}

func (s *Store) ClaimBatch(ctx context.Context, max int) ([]models.QueueItem, error) {
	if max <= 0 {
		return nil, nil
	}
	symbols, err := s.client.ZRange(ctx, s.key("queue:pending"), 0, int64(max-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	if len(symbols) == 0 {
		return nil, nil
	}
	vals, err := s.client.HMGet(ctx, s.key("queue:items"), symbols...).Result()
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}

	items := make([]models.QueueItem, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var item models.QueueItem
		if err := json.Unmarshal([]byte(str), &item); err != nil {
			return nil, fmt.Errorf("decode queue item: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *Store) MarkCompleted(ctx context.Context, runID, symbol string) error {
	return s.setStatus(ctx, runID, symbol, models.ItemCompleted, "queue:completed")
}

func (s *Store) MarkError(ctx context.Context, runID, symbol string) error {
	return s.setStatus(ctx, runID, symbol, models.ItemError, "queue:error")
}

func (s *Store) setStatus(ctx context.Context, runID, symbol string, status models.ItemStatus, set string) error {
	items := s.key("queue:items")
	err := s.atomically(ctx, func(tx *redis.Tx) error {
		st, err := s.loadRunState(ctx, tx)
		if err != nil {
			return err
		}
		if st.RunID != runID {
			return models.ErrRunSuperseded
		}
		raw, err := tx.HGet(ctx, items, symbol).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var item models.QueueItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return err
		}
		item.Status = status
		data, err := json.Marshal(item)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, items, symbol, data)
			p.ZRem(ctx, s.key("queue:pending"), symbol)
			p.SRem(ctx, s.key("queue:completed"), symbol)
			p.SRem(ctx, s.key("queue:error"), symbol)
			p.SAdd(ctx, s.key(set), symbol)
			return nil
		})
		return err
	}, s.key("run"), items)
	if err != nil {
		return fmt.Errorf("mark %s %s: %w", symbol, status, err)
	}
	return nil
}

func (s *Store) CountByStatus(ctx context.Context) (models.Progress, error) {
	var pending *redis.IntCmd
	var completed, failed *redis.IntCmd
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		pending = p.ZCard(ctx, s.key("queue:pending"))
		completed = p.SCard(ctx, s.key("queue:completed"))
		failed = p.SCard(ctx, s.key("queue:error"))
		return nil
	})
	if err != nil {
		return models.Progress{}, fmt.Errorf("count queue: %w", err)
	}
	return models.Progress{
		Pending:   int(pending.Val()),
		Completed: int(completed.Val()),
		Error:     int(failed.Val()),
	}, nil
}

func (s *Store) Reset(ctx context.Context) error {
	return s.client.Del(ctx,
		s.key("queue:items"),
		s.key("queue:pending"),
		s.key("queue:completed"),
		s.key("queue:error"),
		s.key("queue:seq"),
	).Err()
}

// stringGetter is satisfied by both *redis.Client and *redis.Tx.
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *Store) LoadRunState(ctx context.Context) (models.RunState, error) {
	return s.loadRunState(ctx, s.client)
}

func (s *Store) loadRunState(ctx context.Context, c stringGetter) (models.RunState, error) {
	raw, err := c.Get(ctx, s.key("run")).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.IdleRunState(), nil
	}
	if err != nil {
		return models.RunState{}, fmt.Errorf("load run state: %w", err)
	}
	var st models.RunState
	if err := json.Unmarshal(raw, &st); err != nil {
		return models.RunState{}, fmt.Errorf("decode run state: %w", err)
	}
	if st.Initialized == nil {
		st.Initialized = map[models.Mode]bool{}
	}
	return st, nil
}

func (s *Store) SaveRunState(ctx context.Context, st models.RunState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key("run"), data, 0).Err()
}

// updateRunState applies fn to the stored run state inside a WATCH transaction.
func (s *Store) updateRunState(ctx context.Context, fn func(st *models.RunState) error) error {
	run := s.key("run")
	return s.atomically(ctx, func(tx *redis.Tx) error {
		st, err := s.loadRunState(ctx, tx)
		if err != nil {
			return err
		}
		if err := fn(&st); err != nil {
			return err
		}
		data, err := json.Marshal(st)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, run, data, 0)
			return nil
		})
		return err
	}, run)
}

func (s *Store) SetRunStatus(ctx context.Context, status models.RunStatus) error {
	return s.updateRunState(ctx, func(st *models.RunState) error {
		st.Status = status
		return nil
	})
}

func (s *Store) MarkInitialized(ctx context.Context, runID string, mode models.Mode) error {
	return s.updateRunState(ctx, func(st *models.RunState) error {
		if st.RunID != runID {
			return models.ErrRunSuperseded
		}
		st.Initialized[mode] = true
		return nil
	})
}

func (s *Store) ClearRunState(ctx context.Context) error {
	return s.client.Del(ctx, s.key("run")).Err()
}

func (s *Store) AppendLog(ctx context.Context, entry models.LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, s.key("log"), data)
		p.LTrim(ctx, s.key("log"), 0, int64(s.logLimit-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

func (s *Store) RecentLogs(ctx context.Context, limit int) ([]models.LogEntry, error) {
	if limit <= 0 || limit > s.logLimit {
		limit = s.logLimit
	}
	vals, err := s.client.LRange(ctx, s.key("log"), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("recent logs: %w", err)
	}
	out := make([]models.LogEntry, 0, len(vals))
	for _, v := range vals {
		var e models.LogEntry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, fmt.Errorf("decode log entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}
