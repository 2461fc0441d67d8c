package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/leefowlercu/mailroom/internal/jobs"
)

// MemoryStore is an in-process Store. Every operation holds a single mutex,
// which gives the same atomicity the Redis scripts provide.
type MemoryStore struct {
	mu       sync.Mutex
	jobs     map[string]map[string]*jobs.Job
	counters map[string]map[string]int64
	workers  map[string]map[string]WorkerRecord
	points   map[string][]MetricPoint
	alerts   map[string]memAlert
	rules    map[string]map[string]string
	imports  map[string]map[string]string
	jobTTL   time.Duration
	closed   bool

	// unavailable makes every call fail with ErrUnavailable.
	unavailable bool
}

var errMemoryOffline = errors.New("memory store offline")

type memAlert struct {
	triggeredAt time.Time
	fields      map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[string]map[string]*jobs.Job),
		counters: make(map[string]map[string]int64),
		workers:  make(map[string]map[string]WorkerRecord),
		points:   make(map[string][]MetricPoint),
		alerts:   make(map[string]memAlert),
		rules:    make(map[string]map[string]string),
		imports:  make(map[string]map[string]string),
	}
}

// SetUnavailable toggles simulated unavailability.
func (m *MemoryStore) SetUnavailable(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = v
}

func (m *MemoryStore) check(op string) error {
	if m.closed || m.unavailable {
		return &UnavailableError{Op: op, Err: errMemoryOffline}
	}
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.check("ping")
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryStore) queueJobs(queue string) map[string]*jobs.Job {
	q, ok := m.jobs[queue]
	if !ok {
		q = make(map[string]*jobs.Job)
		m.jobs[queue] = q
	}
	return q
}

func (m *MemoryStore) incr(queue, field string, n int64) {
	c, ok := m.counters[queue]
	if !ok {
		c = make(map[string]int64)
		m.counters[queue] = c
	}
	c[field] += n
}

func cloneJob(j *jobs.Job) *jobs.Job {
	c := *j
	c.Payload = slices.Clone(j.Payload)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.HeartbeatAt != nil {
		t := *j.HeartbeatAt
		c.HeartbeatAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

func (m *MemoryStore) EnqueueJob(ctx context.Context, job *jobs.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("enqueue"); err != nil {
		return err
	}
	m.queueJobs(job.Queue)[job.ID] = cloneJob(job)
	m.incr(job.Queue, CounterEnqueued, 1)
	return nil
}

func (m *MemoryStore) ClaimJob(ctx context.Context, queue, workerID string, now time.Time) (*jobs.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("claim"); err != nil {
		return nil, err
	}

	var next *jobs.Job
	for _, j := range m.jobs[queue] {
		if !j.Status.IsClaimable() || j.NextRunAt.After(now) {
			continue
		}
		if next == nil || j.NextRunAt.Before(next.NextRunAt) ||
			(j.NextRunAt.Equal(next.NextRunAt) && j.CreatedAt.Before(next.CreatedAt)) {
			next = j
		}
	}
	if next == nil {
		return nil, ErrEmpty
	}

	started := now
	next.Status = jobs.StatusProcessing
	next.Attempts++
	next.WorkerID = workerID
	next.StartedAt = &started
	hb := now
	next.HeartbeatAt = &hb
	m.incr(queue, CounterClaimed, 1)
	return cloneJob(next), nil
}

func (m *MemoryStore) GetJob(ctx context.Context, queue, id string) (*jobs.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("get job"); err != nil {
		return nil, err
	}
	j, ok := m.jobs[queue][id]
	if !ok {
		return nil, jobs.ErrNotFound
	}
	return cloneJob(j), nil
}

func (m *MemoryStore) ListJobs(ctx context.Context, queue string, limit int) ([]*jobs.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("list jobs"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	out := make([]*jobs.Job, 0, len(m.jobs[queue]))
	for _, j := range m.jobs[queue] {
		out = append(out, cloneJob(j))
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) owned(queue, id, workerID string) (*jobs.Job, error) {
	j, ok := m.jobs[queue][id]
	if !ok || j.Status != jobs.StatusProcessing || j.WorkerID != workerID {
		return nil, jobs.ErrNotOwner
	}
	return j, nil
}

func (m *MemoryStore) Heartbeat(ctx context.Context, queue, id, workerID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("heartbeat"); err != nil {
		return false, err
	}
	j, err := m.owned(queue, id, workerID)
	if err != nil {
		return false, err
	}
	hb := now
	j.HeartbeatAt = &hb
	return j.CancelRequested, nil
}

func (m *MemoryStore) ReportProgress(ctx context.Context, queue, id, workerID string, p jobs.Progress) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("report progress"); err != nil {
		return false, err
	}
	j, err := m.owned(queue, id, workerID)
	if err != nil {
		return false, err
	}
	j.Progress = j.Progress.Merge(p)
	return j.CancelRequested, nil
}

func (m *MemoryStore) FinishJob(ctx context.Context, queue, id, workerID string, f Finish) (jobs.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("finish job"); err != nil {
		return "", err
	}
	if f.Status == jobs.StatusProcessing || f.Status == jobs.StatusPending || !f.Status.Valid() {
		return "", fmt.Errorf("%w; cannot finish with status %q", jobs.ErrInvalidTransition, f.Status)
	}
	j, err := m.owned(queue, id, workerID)
	if err != nil {
		return "", err
	}

	target := f.Status
	if target == jobs.StatusRetryPending && !j.AttemptsRemaining() {
		target = jobs.StatusFailed
	}
	j.Progress = j.Progress.Merge(f.Progress)
	j.WorkerID = ""
	j.LastError = f.LastError
	j.Status = target

	if target == jobs.StatusRetryPending {
		j.NextRunAt = f.NextRunAt
		j.HeartbeatAt = nil
		m.incr(queue, CounterRetried, 1)
	} else {
		at := f.At
		j.FinishedAt = &at
		m.incr(queue, string(target), 1)
	}
	return target, nil
}

func (m *MemoryStore) CancelJob(ctx context.Context, queue, id string, now time.Time) (CancelResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("cancel job"); err != nil {
		return "", err
	}
	j, ok := m.jobs[queue][id]
	if !ok {
		return "", jobs.ErrNotFound
	}
	switch {
	case j.Status.IsClaimable():
		j.Status = jobs.StatusCancelled
		at := now
		j.FinishedAt = &at
		m.incr(queue, CounterCancelled, 1)
		return CancelApplied, nil
	case j.Status == jobs.StatusProcessing:
		j.CancelRequested = true
		return CancelRequested, nil
	}
	return CancelNoop, nil
}

func (m *MemoryStore) ReclaimOrphans(ctx context.Context, queue string, staleBefore, now time.Time) ([]Reclaimed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("reclaim"); err != nil {
		return nil, err
	}
	var out []Reclaimed
	for _, j := range m.jobs[queue] {
		if j.Status != jobs.StatusProcessing || j.HeartbeatAt == nil || !j.HeartbeatAt.Before(staleBefore) {
			continue
		}
		j.WorkerID = ""
		j.LastError = "orphaned: heartbeat expired"
		if j.AttemptsRemaining() {
			j.Status = jobs.StatusRetryPending
			j.NextRunAt = now
			j.HeartbeatAt = nil
			m.incr(queue, CounterReclaimed, 1)
		} else {
			j.Status = jobs.StatusFailed
			at := now
			j.FinishedAt = &at
			m.incr(queue, CounterFailed, 1)
		}
		out = append(out, Reclaimed{ID: j.ID, Status: j.Status})
	}
	return out, nil
}

func (m *MemoryStore) Backlog(ctx context.Context, queue string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("backlog"); err != nil {
		return 0, err
	}
	var n int64
	for _, j := range m.jobs[queue] {
		if j.Status.IsClaimable() {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) QueueCounters(ctx context.Context, queue string) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("queue counters"); err != nil {
		return nil, err
	}
	return maps.Clone(m.counters[queue]), nil
}

// PruneJobIndex drops terminal jobs older than the configured TTL.
func (m *MemoryStore) PruneJobIndex(ctx context.Context, queue string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("prune index"); err != nil {
		return 0, err
	}
	if m.jobTTL <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-m.jobTTL)
	var n int64
	for id, j := range m.jobs[queue] {
		if j.Status.IsTerminal() && j.FinishedAt != nil && j.FinishedAt.Before(cutoff) {
			delete(m.jobs[queue], id)
			n++
		}
	}
	return n, nil
}

// SetJobTTL sets the retention of terminal jobs.
func (m *MemoryStore) SetJobTTL(ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobTTL = ttl
}

func (m *MemoryStore) MirrorImportProgress(ctx context.Context, id string, status jobs.Status, p jobs.Progress, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("mirror import progress"); err != nil {
		return err
	}
	m.imports[id] = map[string]string{
		"status":    string(status),
		"processed": fmt.Sprint(p.Processed),
		"valid":     fmt.Sprint(p.Valid),
		"invalid":   fmt.Sprint(p.Invalid),
		"duplicate": fmt.Sprint(p.Duplicate),
		"errors":    fmt.Sprint(p.Errors),
	}
	return nil
}

func (m *MemoryStore) ImportProgress(ctx context.Context, id string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("import progress"); err != nil {
		return nil, err
	}
	fields, ok := m.imports[id]
	if !ok {
		return nil, jobs.ErrNotFound
	}
	return maps.Clone(fields), nil
}

func (m *MemoryStore) PutWorker(ctx context.Context, w WorkerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("put worker"); err != nil {
		return err
	}
	q, ok := m.workers[w.Queue]
	if !ok {
		q = make(map[string]WorkerRecord)
		m.workers[w.Queue] = q
	}
	q[w.ID] = w
	return nil
}

func (m *MemoryStore) RemoveWorker(ctx context.Context, queue, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("remove worker"); err != nil {
		return err
	}
	delete(m.workers[queue], id)
	return nil
}

func (m *MemoryStore) ListWorkers(ctx context.Context, queue string) ([]WorkerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("list workers"); err != nil {
		return nil, err
	}
	return slices.Collect(maps.Values(m.workers[queue])), nil
}

func (m *MemoryStore) AppendPoint(ctx context.Context, p MetricPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("append point"); err != nil {
		return err
	}
	p.Tags = maps.Clone(p.Tags)
	pts := m.points[p.Name]
	i := sort.Search(len(pts), func(i int) bool { return pts[i].Timestamp.After(p.Timestamp) })
	m.points[p.Name] = slices.Insert(pts, i, p)
	return nil
}

func (m *MemoryStore) RangePoints(ctx context.Context, name string, from, to time.Time) ([]MetricPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("range points"); err != nil {
		return nil, err
	}
	var out []MetricPoint
	for _, p := range m.points[name] {
		if p.Timestamp.Before(from) || p.Timestamp.After(to) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *MemoryStore) MetricNames(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("metric names"); err != nil {
		return nil, err
	}
	names := slices.Collect(maps.Keys(m.points))
	slices.Sort(names)
	return names, nil
}

func (m *MemoryStore) TrimPoints(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("trim points"); err != nil {
		return 0, err
	}
	var removed int64
	for name, pts := range m.points {
		kept := pts[:0]
		for _, p := range pts {
			if p.Timestamp.Before(before) {
				removed++
				continue
			}
			kept = append(kept, p)
		}
		m.points[name] = kept
	}
	return removed, nil
}

func (m *MemoryStore) PutAlert(ctx context.Context, id string, triggeredAt time.Time, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("put alert"); err != nil {
		return err
	}
	existing, ok := m.alerts[id]
	if !ok {
		existing = memAlert{fields: make(map[string]string)}
	}
	existing.triggeredAt = triggeredAt
	maps.Copy(existing.fields, fields)
	m.alerts[id] = existing
	return nil
}

func (m *MemoryStore) GetAlert(ctx context.Context, id string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("get alert"); err != nil {
		return nil, err
	}
	a, ok := m.alerts[id]
	if !ok {
		return nil, ErrAlertNotFound
	}
	return maps.Clone(a.fields), nil
}

func (m *MemoryStore) ListAlerts(ctx context.Context) ([]map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("list alerts"); err != nil {
		return nil, err
	}
	all := slices.Collect(maps.Values(m.alerts))
	sort.SliceStable(all, func(i, k int) bool {
		if all[i].triggeredAt.Equal(all[k].triggeredAt) {
			return strings.Compare(all[i].fields["id"], all[k].fields["id"]) < 0
		}
		return all[i].triggeredAt.Before(all[k].triggeredAt)
	})
	out := make([]map[string]string, len(all))
	for i, a := range all {
		out[i] = maps.Clone(a.fields)
	}
	return out, nil
}

func (m *MemoryStore) DeleteAlerts(ctx context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("delete alerts"); err != nil {
		return err
	}
	for _, id := range ids {
		delete(m.alerts, id)
	}
	return nil
}

func (m *MemoryStore) PutRuleState(ctx context.Context, ruleID string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("put rule state"); err != nil {
		return err
	}
	existing, ok := m.rules[ruleID]
	if !ok {
		existing = make(map[string]string)
		m.rules[ruleID] = existing
	}
	maps.Copy(existing, fields)
	return nil
}

func (m *MemoryStore) RuleStates(ctx context.Context) (map[string]map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("rule states"); err != nil {
		return nil, err
	}
	out := make(map[string]map[string]string, len(m.rules))
	for id, fields := range m.rules {
		out[id] = maps.Clone(fields)
	}
	return out, nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)
