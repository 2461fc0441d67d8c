package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/leefowlercu/mailroom/internal/jobs"
)

const (
	// claimScanLimit bounds how many stale ready entries one claim may skip.
	claimScanLimit = 32
	scanBatch      = 500
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	URL          string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// JobTTL is the retention applied to terminal job records.
	JobTTL time.Duration
}

// RedisStore implements Store on a Redis-compatible server.
type RedisStore struct {
	rdb    *redis.Client
	jobTTL time.Duration
}

// NewRedisStore connects to the server described by opts and verifies it
// answers PING.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	ropt, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url; %w", err)
	}
	if opts.PoolSize > 0 {
		ropt.PoolSize = opts.PoolSize
	}
	if opts.DialTimeout > 0 {
		ropt.DialTimeout = opts.DialTimeout
	}
	if opts.ReadTimeout > 0 {
		ropt.ReadTimeout = opts.ReadTimeout
	}
	if opts.WriteTimeout > 0 {
		ropt.WriteTimeout = opts.WriteTimeout
	}

	s := NewRedisStoreFromClient(redis.NewClient(ropt), opts.JobTTL)
	if err := s.Ping(ctx); err != nil {
		s.rdb.Close()
		return nil, err
	}
	return s, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(rdb *redis.Client, jobTTL time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, jobTTL: jobTTL}
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return classify("ping", s.rdb.Ping(ctx).Err())
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// EnqueueJob writes the record, its ready entry and index entry in one transaction.
func (s *RedisStore) EnqueueJob(ctx context.Context, job *jobs.Job) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, JobKey(job.Queue, job.ID), jobToHash(job))
		pipe.ZAdd(ctx, ReadyKey(job.Queue), redis.Z{Score: float64(job.NextRunAt.UnixMilli()), Member: job.ID})
		pipe.ZAdd(ctx, IndexKey(job.Queue), redis.Z{Score: float64(job.CreatedAt.UnixMilli()), Member: job.ID})
		pipe.HIncrBy(ctx, StatusKey(job.Queue), CounterEnqueued, 1)
		pipe.HSet(ctx, StatusKey(job.Queue), "last_enqueued_at", job.CreatedAt.UnixMilli())
		return nil
	})
	return classify("enqueue", err)
}

// ClaimJob atomically claims the oldest ready job.
func (s *RedisStore) ClaimJob(ctx context.Context, queue, workerID string, now time.Time) (*jobs.Job, error) {
	keys := []string{ReadyKey(queue), ProcessingKey(queue), StatusKey(queue)}
	id, err := claimScript.Run(ctx, s.rdb, keys, now.UnixMilli(), workerID, jobKeyPrefix(queue), claimScanLimit).Text()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, classify("claim", err)
	}
	return s.GetJob(ctx, queue, id)
}

// GetJob loads one job record.
func (s *RedisStore) GetJob(ctx context.Context, queue, id string) (*jobs.Job, error) {
	fields, err := s.rdb.HGetAll(ctx, JobKey(queue, id)).Result()
	if err != nil {
		return nil, classify("get job", err)
	}
	if len(fields) == 0 {
		return nil, jobs.ErrNotFound
	}
	return jobFromHash(fields)
}

// ListJobs returns the newest jobs of a queue.
func (s *RedisStore) ListJobs(ctx context.Context, queue string, limit int) ([]*jobs.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.rdb.ZRevRange(ctx, IndexKey(queue), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, classify("list jobs", err)
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, JobKey(queue, id))
		}
		return nil
	})
	if err != nil {
		return nil, classify("list jobs", err)
	}

	out := make([]*jobs.Job, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		job, err := jobFromHash(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

// Heartbeat refreshes the liveness timestamp of a processing job.
func (s *RedisStore) Heartbeat(ctx context.Context, queue, id, workerID string, now time.Time) (bool, error) {
	keys := []string{JobKey(queue, id), ProcessingKey(queue)}
	res, err := heartbeatScript.Run(ctx, s.rdb, keys, workerID, now.UnixMilli(), id).Int()
	if err != nil {
		return false, classify("heartbeat", err)
	}
	if res < 0 {
		return false, jobs.ErrNotOwner
	}
	return res == 1, nil
}

// ReportProgress merges progress counters.
func (s *RedisStore) ReportProgress(ctx context.Context, queue, id, workerID string, p jobs.Progress) (bool, error) {
	res, err := progressScript.Run(ctx, s.rdb, []string{JobKey(queue, id)},
		workerID, p.Processed, p.Valid, p.Invalid, p.Duplicate, p.Errors).Int()
	if err != nil {
		return false, classify("report progress", err)
	}
	if res < 0 {
		return false, jobs.ErrNotOwner
	}
	return res == 1, nil
}

// FinishJob ends the current attempt.
func (s *RedisStore) FinishJob(ctx context.Context, queue, id, workerID string, f Finish) (jobs.Status, error) {
	if f.Status == jobs.StatusProcessing || f.Status == jobs.StatusPending || !f.Status.Valid() {
		return "", fmt.Errorf("%w; cannot finish with status %q", jobs.ErrInvalidTransition, f.Status)
	}
	keys := []string{JobKey(queue, id), ProcessingKey(queue), ReadyKey(queue), StatusKey(queue)}
	p := f.Progress
	res, err := finishScript.Run(ctx, s.rdb, keys,
		workerID, string(f.Status), f.At.UnixMilli(), f.LastError, f.NextRunAt.UnixMilli(), id,
		int64(s.jobTTL/time.Second), p.Processed, p.Valid, p.Invalid, p.Duplicate, p.Errors).Text()
	if errors.Is(err, redis.Nil) {
		return "", jobs.ErrNotOwner
	}
	if err != nil {
		return "", classify("finish job", err)
	}
	return jobs.Status(res), nil
}

// CancelJob cancels a claimable job or flags a processing one.
func (s *RedisStore) CancelJob(ctx context.Context, queue, id string, now time.Time) (CancelResult, error) {
	keys := []string{JobKey(queue, id), ReadyKey(queue), StatusKey(queue)}
	res, err := cancelScript.Run(ctx, s.rdb, keys, now.UnixMilli(), id, int64(s.jobTTL/time.Second)).Text()
	if errors.Is(err, redis.Nil) {
		return "", jobs.ErrNotFound
	}
	if err != nil {
		return "", classify("cancel job", err)
	}
	return CancelResult(res), nil
}

// ReclaimOrphans resets processing jobs with an expired heartbeat.
func (s *RedisStore) ReclaimOrphans(ctx context.Context, queue string, staleBefore, now time.Time) ([]Reclaimed, error) {
	keys := []string{ProcessingKey(queue), ReadyKey(queue), StatusKey(queue)}
	vals, err := reclaimScript.Run(ctx, s.rdb, keys,
		staleBefore.UnixMilli(), now.UnixMilli(), jobKeyPrefix(queue), int64(s.jobTTL/time.Second)).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, classify("reclaim", err)
	}

	out := make([]Reclaimed, 0, len(vals)/2)
	for i := 0; i+1 < len(vals); i += 2 {
		out = append(out, Reclaimed{ID: vals[i], Status: jobs.Status(vals[i+1])})
	}
	return out, nil
}

// Backlog counts pending and retry-pending jobs.
func (s *RedisStore) Backlog(ctx context.Context, queue string) (int64, error) {
	n, err := s.rdb.ZCard(ctx, ReadyKey(queue)).Result()
	return n, classify("backlog", err)
}

// QueueCounters returns the counter hash of a queue.
func (s *RedisStore) QueueCounters(ctx context.Context, queue string) (map[string]int64, error) {
	fields, err := s.rdb.HGetAll(ctx, StatusKey(queue)).Result()
	if err != nil {
		return nil, classify("queue counters", err)
	}
	out := make(map[string]int64, len(fields))
	for k, v := range fields {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}

// PruneJobIndex removes index entries whose record has expired.
func (s *RedisStore) PruneJobIndex(ctx context.Context, queue string) (int64, error) {
	var removed int64
	var start int64
	for {
		ids, err := s.rdb.ZRange(ctx, IndexKey(queue), start, start+scanBatch-1).Result()
		if err != nil {
			return removed, classify("prune index", err)
		}
		if len(ids) == 0 {
			return removed, nil
		}

		cmds := make([]*redis.IntCmd, len(ids))
		_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, id := range ids {
				cmds[i] = pipe.Exists(ctx, JobKey(queue, id))
			}
			return nil
		})
		if err != nil {
			return removed, classify("prune index", err)
		}

		var stale []any
		for i, cmd := range cmds {
			if cmd.Val() == 0 {
				stale = append(stale, ids[i])
			}
		}
		if len(stale) > 0 {
			n, err := s.rdb.ZRem(ctx, IndexKey(queue), stale...).Result()
			if err != nil {
				return removed, classify("prune index", err)
			}
			removed += n
		}
		start += int64(len(ids) - len(stale))
	}
}

// MirrorImportProgress writes the import progress hash with a TTL.
func (s *RedisStore) MirrorImportProgress(ctx context.Context, id string, status jobs.Status, p jobs.Progress, ttl time.Duration) error {
	key := ImportKey(id)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"status", string(status),
			"processed", p.Processed,
			"valid", p.Valid,
			"invalid", p.Invalid,
			"duplicate", p.Duplicate,
			"errors", p.Errors,
			"updated_at", time.Now().UnixMilli(),
		)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	return classify("mirror import progress", err)
}

// ImportProgress reads the import progress hash.
func (s *RedisStore) ImportProgress(ctx context.Context, id string) (map[string]string, error) {
	fields, err := s.rdb.HGetAll(ctx, ImportKey(id)).Result()
	if err != nil {
		return nil, classify("import progress", err)
	}
	if len(fields) == 0 {
		return nil, jobs.ErrNotFound
	}
	return fields, nil
}

// PutWorker upserts a worker registration.
func (s *RedisStore) PutWorker(ctx context.Context, w WorkerRecord) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to encode worker record; %w", err)
	}
	return classify("put worker", s.rdb.HSet(ctx, WorkersKey(w.Queue), w.ID, data).Err())
}

// RemoveWorker deletes a worker registration.
func (s *RedisStore) RemoveWorker(ctx context.Context, queue, id string) error {
	return classify("remove worker", s.rdb.HDel(ctx, WorkersKey(queue), id).Err())
}

// ListWorkers returns every registration of a queue.
func (s *RedisStore) ListWorkers(ctx context.Context, queue string) ([]WorkerRecord, error) {
	fields, err := s.rdb.HGetAll(ctx, WorkersKey(queue)).Result()
	if err != nil {
		return nil, classify("list workers", err)
	}
	out := make([]WorkerRecord, 0, len(fields))
	for _, raw := range fields {
		var w WorkerRecord
		if err := json.Unmarshal([]byte(raw), &w); err != nil {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

type pointMember struct {
	Value float64           `json:"v"`
	TS    int64             `json:"t"`
	Tags  map[string]string `json:"g,omitempty"`
	Nonce string            `json:"n"`
}

// AppendPoint adds one point to the metric's sorted set.
func (s *RedisStore) AppendPoint(ctx context.Context, p MetricPoint) error {
	member, err := json.Marshal(pointMember{
		Value: p.Value,
		TS:    p.Timestamp.UnixMilli(),
		Tags:  p.Tags,
		Nonce: uuid.NewString()[:8],
	})
	if err != nil {
		return fmt.Errorf("failed to encode metric point; %w", err)
	}
	err = s.rdb.ZAdd(ctx, MetricsKey(p.Name), redis.Z{
		Score:  float64(p.Timestamp.UnixMilli()),
		Member: member,
	}).Err()
	return classify("append point", err)
}

// RangePoints returns points of a metric inside [from, to].
func (s *RedisStore) RangePoints(ctx context.Context, name string, from, to time.Time) ([]MetricPoint, error) {
	members, err := s.rdb.ZRangeByScore(ctx, MetricsKey(name), &redis.ZRangeBy{
		Min: strconv.FormatInt(from.UnixMilli(), 10),
		Max: strconv.FormatInt(to.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, classify("range points", err)
	}

	out := make([]MetricPoint, 0, len(members))
	for _, m := range members {
		var pm pointMember
		if err := json.Unmarshal([]byte(m), &pm); err != nil {
			continue
		}
		out = append(out, MetricPoint{
			Name:      name,
			Value:     pm.Value,
			Timestamp: time.UnixMilli(pm.TS),
			Tags:      pm.Tags,
		})
	}
	return out, nil
}

// MetricNames enumerates metric keys by prefix.
func (s *RedisStore) MetricNames(ctx context.Context) ([]string, error) {
	keys, err := s.scanPrefix(ctx, metricsKeyPrefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = strings.TrimPrefix(k, metricsKeyPrefix)
	}
	return names, nil
}

// TrimPoints deletes points older than before across every metric.
func (s *RedisStore) TrimPoints(ctx context.Context, before time.Time) (int64, error) {
	keys, err := s.scanPrefix(ctx, metricsKeyPrefix)
	if err != nil {
		return 0, err
	}
	upper := "(" + strconv.FormatInt(before.UnixMilli(), 10)
	var removed int64
	for _, k := range keys {
		n, err := s.rdb.ZRemRangeByScore(ctx, k, "-inf", upper).Result()
		if err != nil {
			return removed, classify("trim points", err)
		}
		removed += n
	}
	return removed, nil
}

// PutAlert writes an incident hash and indexes it by triggered-at.
func (s *RedisStore) PutAlert(ctx context.Context, id string, triggeredAt time.Time, fields map[string]string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, AlertKey(id), fields)
		pipe.ZAdd(ctx, alertIndexKey, redis.Z{Score: float64(triggeredAt.UnixMilli()), Member: id})
		return nil
	})
	return classify("put alert", err)
}

// GetAlert reads one incident hash.
func (s *RedisStore) GetAlert(ctx context.Context, id string) (map[string]string, error) {
	fields, err := s.rdb.HGetAll(ctx, AlertKey(id)).Result()
	if err != nil {
		return nil, classify("get alert", err)
	}
	if len(fields) == 0 {
		return nil, ErrAlertNotFound
	}
	return fields, nil
}

// ListAlerts returns every incident hash ordered by triggered-at.
func (s *RedisStore) ListAlerts(ctx context.Context) ([]map[string]string, error) {
	ids, err := s.rdb.ZRange(ctx, alertIndexKey, 0, -1).Result()
	if err != nil {
		return nil, classify("list alerts", err)
	}
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, AlertKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, classify("list alerts", err)
	}
	out := make([]map[string]string, 0, len(ids))
	for _, cmd := range cmds {
		if fields := cmd.Val(); len(fields) > 0 {
			out = append(out, fields)
		}
	}
	return out, nil
}

// DeleteAlerts removes incident hashes and their index entries.
func (s *RedisStore) DeleteAlerts(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		members := make([]any, len(ids))
		for i, id := range ids {
			pipe.Del(ctx, AlertKey(id))
			members[i] = id
		}
		pipe.ZRem(ctx, alertIndexKey, members...)
		return nil
	})
	return classify("delete alerts", err)
}

// PutRuleState writes a rule's bookkeeping hash.
func (s *RedisStore) PutRuleState(ctx context.Context, ruleID string, fields map[string]string) error {
	return classify("put rule state", s.rdb.HSet(ctx, RuleKey(ruleID), fields).Err())
}

// RuleStates enumerates rule bookkeeping hashes by prefix.
func (s *RedisStore) RuleStates(ctx context.Context) (map[string]map[string]string, error) {
	keys, err := s.scanPrefix(ctx, ruleKeyPrefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]string, len(keys))
	for _, k := range keys {
		fields, err := s.rdb.HGetAll(ctx, k).Result()
		if err != nil {
			return nil, classify("rule states", err)
		}
		out[strings.TrimPrefix(k, ruleKeyPrefix)] = fields
	}
	return out, nil
}

func (s *RedisStore) scanPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, classify("scan "+prefix, err)
	}
	return keys, nil
}

// classify wraps connectivity failures as UnavailableError.
func classify(op string, err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return err
	}
	var netErr net.Error
	switch {
	case errors.As(err, &netErr),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, redis.ErrClosed),
		errors.Is(err, redis.ErrPoolTimeout):
		return &UnavailableError{Op: op, Err: err}
	}
	return fmt.Errorf("failed to %s; %w", op, err)
}

func jobToHash(j *jobs.Job) map[string]any {
	return map[string]any{
		"id":               j.ID,
		"queue":            j.Queue,
		"kind":             string(j.Kind),
		"payload":          string(j.Payload),
		"status":           string(j.Status),
		"attempts":         j.Attempts,
		"max_attempts":     j.MaxAttempts,
		"worker_id":        j.WorkerID,
		"last_error":       j.LastError,
		"cancel_requested": boolField(j.CancelRequested),
		"processed":        j.Progress.Processed,
		"valid":            j.Progress.Valid,
		"invalid":          j.Progress.Invalid,
		"duplicate":        j.Progress.Duplicate,
		"errors":           j.Progress.Errors,
		"created_at":       j.CreatedAt.UnixMilli(),
		"next_run_at":      j.NextRunAt.UnixMilli(),
		"started_at":       timeField(j.StartedAt),
		"heartbeat_at":     timeField(j.HeartbeatAt),
		"finished_at":      timeField(j.FinishedAt),
	}
}

func jobFromHash(h map[string]string) (*jobs.Job, error) {
	j := &jobs.Job{
		ID:              h["id"],
		Queue:           h["queue"],
		Kind:            jobs.Kind(h["kind"]),
		Payload:         json.RawMessage(h["payload"]),
		Status:          jobs.Status(h["status"]),
		Attempts:        int(intField(h["attempts"])),
		MaxAttempts:     int(intField(h["max_attempts"])),
		WorkerID:        h["worker_id"],
		LastError:       h["last_error"],
		CancelRequested: h["cancel_requested"] == "1",
		Progress: jobs.Progress{
			Processed: intField(h["processed"]),
			Valid:     intField(h["valid"]),
			Invalid:   intField(h["invalid"]),
			Duplicate: intField(h["duplicate"]),
			Errors:    intField(h["errors"]),
		},
		CreatedAt:   time.UnixMilli(intField(h["created_at"])),
		NextRunAt:   time.UnixMilli(intField(h["next_run_at"])),
		StartedAt:   parseTimeField(h["started_at"]),
		HeartbeatAt: parseTimeField(h["heartbeat_at"]),
		FinishedAt:  parseTimeField(h["finished_at"]),
	}
	if j.ID == "" || !j.Status.Valid() {
		return nil, fmt.Errorf("corrupt job record %q with status %q", j.ID, j.Status)
	}
	return j, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func timeField(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseTimeField(v string) *time.Time {
	ms := intField(v)
	if ms <= 0 {
		return nil
	}
	t := time.UnixMilli(ms)
	return &t
}

func intField(v string) int64 {
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}
