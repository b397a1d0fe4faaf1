package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"SessionScan/pkg/logger"
)

// RedisQueue is a delayed job queue on Redis. Messages wait in a sorted set
// until due, then move to a list that workers pop from.
type RedisQueue struct {
	logger    *logger.Logger
	config    *QueueConfig
	client    *redis.Client
	jobs      map[string]Job
	wg        sync.WaitGroup
	mu        sync.RWMutex
	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
	keyPrefix string
}

// RedisQueueOption configures RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix sets custom key prefix.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		r.keyPrefix = prefix
	}
}

// NewRedisQueue creates a new Redis queue.
func NewRedisQueue(lgr *logger.Logger, config *QueueConfig, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	if config == nil {
		config = &QueueConfig{}
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 10 * time.Second
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if lgr == nil {
		lgr = logger.Nop()
	}

	rq := &RedisQueue{
		logger:    lgr,
		config:    config,
		client:    client,
		jobs:      make(map[string]Job),
		keyPrefix: "sessionscan:queue",
	}
	for _, opt := range opts {
		opt(rq)
	}
	return rq
}

// RegisterJob registers a handler for its message type.
func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.Type()]; exists {
		r.logger.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	r.jobs[job.Type()] = job
	r.logger.Info("job registered",
		logger.String("job", job.Name()),
		logger.String("type", job.Type()))
}

// Start pings Redis and starts the workers and the promoter.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isRunning {
		return fmt.Errorf("queue already running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.isRunning = true
	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.wg.Add(1)
	go r.promoter()

	r.logger.Info("redis queue started",
		logger.Int("workers", r.config.Workers),
		logger.String("addr", r.client.Options().Addr))
	return nil
}

// Stop cancels workers and waits for in-flight handlers.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = false
	r.cancel()
	r.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-ctx.Done():
		r.logger.Warn("timeout waiting for queue workers", logger.Error(ctx.Err()))
		return fmt.Errorf("timeout: %w", ctx.Err())
	case <-doneCh:
		r.logger.Info("redis queue stopped")
		return nil
	}
}

// EnqueueAt schedules a message to become due at at.
func (r *RedisQueue) EnqueueAt(ctx context.Context, msgType string, payload interface{}, at time.Time) error {
	msg := Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	return r.schedule(ctx, msg, at)
}

// EnqueueUnique schedules a message unless one with the same id is already
// waiting. It reports whether a message was added.
func (r *RedisQueue) EnqueueUnique(ctx context.Context, id, msgType string, payload interface{}, delay time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.uniqueKey(id), "1", 0).Result()
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}
	if !ok {
		return false, nil
	}
	msg := Message{
		ID:        id,
		Type:      msgType,
		Payload:   payload,
		Unique:    true,
		Timestamp: time.Now(),
	}
	if err := r.schedule(ctx, msg, time.Now().Add(delay)); err != nil {
		_ = r.client.Del(ctx, r.uniqueKey(id)).Err()
		return false, err
	}
	return true, nil
}

// Remove drops waiting messages with id and releases its unique marker.
func (r *RedisQueue) Remove(ctx context.Context, id string) (int, error) {
	removed := 0
	for _, key := range []string{r.scheduledKey(), r.queueKey()} {
		var members []string
		var err error
		if key == r.scheduledKey() {
			members, err = r.client.ZRange(ctx, key, 0, -1).Result()
		} else {
			members, err = r.client.LRange(ctx, key, 0, -1).Result()
		}
		if err != nil {
			return removed, fmt.Errorf("list %s: %w", key, err)
		}
		for _, m := range members {
			var msg Message
			if json.Unmarshal([]byte(m), &msg) != nil || msg.ID != id {
				continue
			}
			var n int64
			if key == r.scheduledKey() {
				n, err = r.client.ZRem(ctx, key, m).Result()
			} else {
				n, err = r.client.LRem(ctx, key, 0, m).Result()
			}
			if err != nil {
				return removed, fmt.Errorf("remove from %s: %w", key, err)
			}
			removed += int(n)
		}
	}
	if err := r.client.Del(ctx, r.uniqueKey(id)).Err(); err != nil {
		return removed, fmt.Errorf("del unique: %w", err)
	}
	return removed, nil
}

func (r *RedisQueue) schedule(ctx context.Context, msg Message, at time.Time) error {
	msgData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := r.client.ZAdd(ctx, r.scheduledKey(), redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: msgData,
	}).Err(); err != nil {
		return fmt.Errorf("zadd: %w", err)
	}
	return nil
}

func (r *RedisQueue) worker(id int) {
	defer r.wg.Done()
	r.logger.Debug("queue worker started", logger.Int("worker_id", id))
	for {
		select {
		case <-r.ctx.Done():
			r.logger.Debug("queue worker stopping", logger.Int("worker_id", id))
			return
		default:
			r.processNextMessage()
		}
	}
}

func (r *RedisQueue) processNextMessage() {
	result, err := r.client.BRPop(r.ctx, r.config.PollInterval, r.queueKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		r.logger.Error("brpop error", logger.Error(err))
		sleepCtx(r.ctx, r.config.PollInterval)
		return
	}
	if len(result) < 2 {
		return
	}

	var msg Message
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		r.logger.Error("unmarshal message", logger.Error(err))
		return
	}
	r.processMessage(msg)
}

func (r *RedisQueue) processMessage(msg Message) {
	r.mu.RLock()
	job, exists := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !exists {
		r.logger.Error("no job found",
			logger.String("type", msg.Type),
			logger.String("id", msg.ID))
		return
	}

	// Release the marker first so a handler can schedule its own successor.
	if msg.Unique {
		if err := r.client.Del(r.ctx, r.uniqueKey(msg.ID)).Err(); err != nil {
			r.logger.Warn("release unique marker", logger.String("id", msg.ID), logger.Error(err))
		}
	}

	start := time.Now()
	err := job.Handle(r.ctx, r.convertPayload(msg.Payload))
	if err == nil {
		r.logger.Debug("message handled",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Int64("elapsed_ms", time.Since(start).Milliseconds()))
		return
	}
	if errors.Is(err, context.Canceled) {
		r.logger.Warn("message cancelled",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()))
		return
	}
	r.handleProcessingError(msg, job, err)
}

func (r *RedisQueue) convertPayload(payload interface{}) interface{} {
	switch payload.(type) {
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(payload)
		if err != nil {
			r.logger.Error("convert payload", logger.Error(err))
			return payload
		}
		return json.RawMessage(b)
	}
	return payload
}

func (r *RedisQueue) handleProcessingError(msg Message, job Job, err error) {
	r.logger.Error("message processing error",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts+1),
		logger.Error(err))

	if msg.Attempts >= r.config.RetryLimit {
		r.logger.Error("max retries reached",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()))
		r.moveToDeadLetterQueue(msg)
		return
	}
	msg.Attempts++
	msg.Unique = false
	retryAt := time.Now().Add(r.config.RetryDelay)
	if err := r.schedule(context.Background(), msg, retryAt); err != nil {
		r.logger.Error("schedule retry", logger.Error(err))
		return
	}
	r.logger.Info("scheduled retry",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts),
		logger.String("retry_at", retryAt.Format(time.RFC3339)))
}

func (r *RedisQueue) moveToDeadLetterQueue(msg Message) {
	msgData, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal dlq", logger.Error(err))
		return
	}
	if err := r.client.LPush(context.Background(), r.deadLetterKey(), msgData).Err(); err != nil {
		r.logger.Error("lpush dlq", logger.Error(err))
	}
}

func (r *RedisQueue) promoter() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.promoteDue()
		}
	}
}

// promoteDue moves due messages to the work list. ZRem decides ownership so
// concurrent promoters never push the same message twice.
func (r *RedisQueue) promoteDue() {
	now := time.Now().UnixMilli()
	due, err := r.client.ZRangeByScore(r.ctx, r.scheduledKey(), &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(now, 10),
	}).Result()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.logger.Error("fetch due messages", logger.Error(err))
		}
		return
	}

	for _, m := range due {
		n, err := r.client.ZRem(r.ctx, r.scheduledKey(), m).Result()
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				r.logger.Error("claim due message", logger.Error(err))
			}
			return
		}
		if n == 0 {
			continue
		}
		if err := r.client.LPush(r.ctx, r.queueKey(), m).Err(); err != nil {
			r.logger.Error("push due message", logger.Error(err))
		}
	}
}

// Pending returns the number of waiting and ready messages.
func (r *RedisQueue) Pending(ctx context.Context) (int64, error) {
	z, err := r.client.ZCard(ctx, r.scheduledKey()).Result()
	if err != nil {
		return 0, err
	}
	l, err := r.client.LLen(ctx, r.queueKey()).Result()
	if err != nil {
		return 0, err
	}
	return z + l, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (r *RedisQueue) queueKey() string {
	return fmt.Sprintf("%s:messages", r.keyPrefix)
}

func (r *RedisQueue) scheduledKey() string {
	return fmt.Sprintf("%s:scheduled", r.keyPrefix)
}

func (r *RedisQueue) deadLetterKey() string {
	return fmt.Sprintf("%s:dlq", r.keyPrefix)
}

func (r *RedisQueue) uniqueKey(id string) string {
	return fmt.Sprintf("%s:unique:%s", r.keyPrefix, id)
}
