package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leefowlercu/mailroom/internal/jobs"
)

type storeFactory func(t *testing.T) Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			s := NewRedisStoreFromClient(rdb, time.Hour)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

// base is truncated to milliseconds because the Redis backend stores
// timestamps at that resolution.
var base = time.Now().Truncate(time.Millisecond)

func newJob(t *testing.T, id, queue string, maxAttempts int, at time.Time) *jobs.Job {
	t.Helper()
	raw, err := json.Marshal(jobs.ImportPayload{WorkspaceID: "w", ListID: "l", SourcePath: "/tmp/x.csv"})
	require.NoError(t, err)
	return jobs.New(id, queue, jobs.KindImport, raw, maxAttempts, at)
}

func TestStore_EnqueueClaimComplete(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)

			require.NoError(t, s.EnqueueJob(ctx, newJob(t, "j1", "imports", 3, base)))

			backlog, err := s.Backlog(ctx, "imports")
			require.NoError(t, err)
			assert.Equal(t, int64(1), backlog)

			claimed, err := s.ClaimJob(ctx, "imports", "w1", base.Add(time.Second))
			require.NoError(t, err)
			assert.Equal(t, "j1", claimed.ID)
			assert.Equal(t, jobs.StatusProcessing, claimed.Status)
			assert.Equal(t, 1, claimed.Attempts)
			assert.Equal(t, "w1", claimed.WorkerID)
			require.NotNil(t, claimed.StartedAt)

			_, err = s.ClaimJob(ctx, "imports", "w2", base.Add(time.Second))
			assert.ErrorIs(t, err, ErrEmpty)

			_, err = s.ReportProgress(ctx, "imports", "j1", "w1", jobs.Progress{Processed: 10, Valid: 9, Invalid: 1})
			require.NoError(t, err)
			// Lower values never overwrite higher ones.
			_, err = s.ReportProgress(ctx, "imports", "j1", "w1", jobs.Progress{Processed: 4})
			require.NoError(t, err)

			status, err := s.FinishJob(ctx, "imports", "j1", "w1", Finish{
				Status:   jobs.StatusCompleted,
				Progress: jobs.Progress{Processed: 12, Valid: 11, Invalid: 1},
				At:       base.Add(2 * time.Second),
			})
			require.NoError(t, err)
			assert.Equal(t, jobs.StatusCompleted, status)

			got, err := s.GetJob(ctx, "imports", "j1")
			require.NoError(t, err)
			assert.Equal(t, jobs.StatusCompleted, got.Status)
			assert.Equal(t, jobs.Progress{Processed: 12, Valid: 11, Invalid: 1}, got.Progress)
			require.NotNil(t, got.FinishedAt)
			assert.False(t, got.FinishedAt.Before(*got.StartedAt))
			assert.False(t, got.StartedAt.Before(got.CreatedAt))

			counters, err := s.QueueCounters(ctx, "imports")
			require.NoError(t, err)
			assert.Equal(t, int64(1), counters[CounterEnqueued])
			assert.Equal(t, int64(1), counters[CounterCompleted])
		})
	}
}

func TestStore_FinishRequiresOwnership(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			require.NoError(t, s.EnqueueJob(ctx, newJob(t, "j1", "q", 3, base)))
			_, err := s.ClaimJob(ctx, "q", "owner", base)
			require.NoError(t, err)

			_, err = s.FinishJob(ctx, "q", "j1", "intruder", Finish{Status: jobs.StatusCompleted, At: base})
			assert.ErrorIs(t, err, jobs.ErrNotOwner)

			_, err = s.Heartbeat(ctx, "q", "j1", "intruder", base)
			assert.ErrorIs(t, err, jobs.ErrNotOwner)

			_, err = s.FinishJob(ctx, "q", "j1", "owner", Finish{Status: jobs.StatusPending, At: base})
			assert.ErrorIs(t, err, jobs.ErrInvalidTransition)
		})
	}
}

func TestStore_RetryHonorsBackoffAndMaxAttempts(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			require.NoError(t, s.EnqueueJob(ctx, newJob(t, "j1", "q", 2, base)))

			_, err := s.ClaimJob(ctx, "q", "w", base)
			require.NoError(t, err)
			status, err := s.FinishJob(ctx, "q", "j1", "w", Finish{
				Status:    jobs.StatusRetryPending,
				LastError: "timeout",
				NextRunAt: base.Add(time.Minute),
				At:        base,
			})
			require.NoError(t, err)
			assert.Equal(t, jobs.StatusRetryPending, status)

			_, err = s.ClaimJob(ctx, "q", "w", base.Add(30*time.Second))
			assert.ErrorIs(t, err, ErrEmpty, "retry must not be claimable before its delay")

			claimed, err := s.ClaimJob(ctx, "q", "w", base.Add(time.Minute))
			require.NoError(t, err)
			assert.Equal(t, 2, claimed.Attempts)

			status, err = s.FinishJob(ctx, "q", "j1", "w", Finish{
				Status:    jobs.StatusRetryPending,
				LastError: "timeout",
				NextRunAt: base.Add(2 * time.Minute),
				At:        base.Add(time.Minute),
			})
			require.NoError(t, err)
			assert.Equal(t, jobs.StatusFailed, status, "exhausted retries become failed")

			got, err := s.GetJob(ctx, "q", "j1")
			require.NoError(t, err)
			assert.Equal(t, jobs.StatusFailed, got.Status)
			assert.Equal(t, "timeout", got.LastError)
			assert.LessOrEqual(t, got.Attempts, got.MaxAttempts)
			assert.NotNil(t, got.FinishedAt)
		})
	}
}

func TestStore_ConcurrentClaimIsExclusive(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)

			const numJobs = 40
			const numWorkers = 8
			for i := 0; i < numJobs; i++ {
				require.NoError(t, s.EnqueueJob(ctx, newJob(t, fmt.Sprintf("j%02d", i), "q", 1, base.Add(time.Duration(i)*time.Millisecond))))
			}

			var mu sync.Mutex
			seen := make(map[string]string)
			var wg sync.WaitGroup
			for w := 0; w < numWorkers; w++ {
				worker := fmt.Sprintf("w%d", w)
				wg.Add(1)
				go func() {
					defer wg.Done()
					for {
						job, err := s.ClaimJob(ctx, "q", worker, base.Add(time.Hour))
						if errors.Is(err, ErrEmpty) {
							return
						}
						if err != nil {
							t.Errorf("claim: %v", err)
							return
						}
						mu.Lock()
						if prev, dup := seen[job.ID]; dup {
							t.Errorf("job %s claimed by %s and %s", job.ID, prev, worker)
						}
						seen[job.ID] = worker
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			assert.Len(t, seen, numJobs)
		})
	}
}

func TestStore_ReclaimOrphans(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			require.NoError(t, s.EnqueueJob(ctx, newJob(t, "retry", "q", 3, base)))
			require.NoError(t, s.EnqueueJob(ctx, newJob(t, "exhausted", "q", 1, base.Add(time.Millisecond))))
			require.NoError(t, s.EnqueueJob(ctx, newJob(t, "alive", "q", 3, base.Add(2*time.Millisecond))))

			for _, w := range []string{"a", "b", "c"} {
				_, err := s.ClaimJob(ctx, "q", w, base.Add(time.Second))
				require.NoError(t, err)
			}
			_, err := s.Heartbeat(ctx, "q", "alive", "c", base.Add(time.Minute))
			require.NoError(t, err)

			reclaimed, err := s.ReclaimOrphans(ctx, "q", base.Add(30*time.Second), base.Add(time.Minute))
			require.NoError(t, err)

			byID := make(map[string]jobs.Status)
			for _, r := range reclaimed {
				byID[r.ID] = r.Status
			}
			assert.Equal(t, map[string]jobs.Status{
				"retry":     jobs.StatusRetryPending,
				"exhausted": jobs.StatusFailed,
			}, byID)

			alive, err := s.GetJob(ctx, "q", "alive")
			require.NoError(t, err)
			assert.Equal(t, jobs.StatusProcessing, alive.Status)

			// The orphan's former worker can no longer finish it.
			_, err = s.FinishJob(ctx, "q", "retry", "a", Finish{Status: jobs.StatusCompleted, At: base})
			assert.ErrorIs(t, err, jobs.ErrNotOwner)

			job, err := s.ClaimJob(ctx, "q", "d", base.Add(time.Minute))
			require.NoError(t, err)
			assert.Equal(t, "retry", job.ID)
			assert.Equal(t, 2, job.Attempts)
		})
	}
}

func TestStore_Cancel(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			require.NoError(t, s.EnqueueJob(ctx, newJob(t, "pending", "q", 3, base)))
			require.NoError(t, s.EnqueueJob(ctx, newJob(t, "running", "q", 3, base.Add(time.Millisecond))))

			// Claims "pending" first because it is older; cancel the second one before claim.
			res, err := s.CancelJob(ctx, "q", "running", base)
			require.NoError(t, err)
			assert.Equal(t, CancelApplied, res)

			claimed, err := s.ClaimJob(ctx, "q", "w", base.Add(time.Second))
			require.NoError(t, err)
			assert.Equal(t, "pending", claimed.ID)

			_, err = s.ClaimJob(ctx, "q", "w2", base.Add(time.Second))
			assert.ErrorIs(t, err, ErrEmpty, "cancelled job must not be claimable")

			res, err = s.CancelJob(ctx, "q", "pending", base)
			require.NoError(t, err)
			assert.Equal(t, CancelRequested, res)

			requested, err := s.Heartbeat(ctx, "q", "pending", "w", base.Add(2*time.Second))
			require.NoError(t, err)
			assert.True(t, requested)

			_, err = s.CancelJob(ctx, "q", "missing", base)
			assert.ErrorIs(t, err, jobs.ErrNotFound)
		})
	}
}

func TestStore_Workers(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			w := WorkerRecord{ID: "w1", Queue: "email", State: WorkerIdle, StartedAt: base}
			require.NoError(t, s.PutWorker(ctx, w))
			w.State = WorkerActive
			w.CurrentJob = "j1"
			require.NoError(t, s.PutWorker(ctx, w))

			list, err := s.ListWorkers(ctx, "email")
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, WorkerActive, list[0].State)
			assert.Equal(t, "j1", list[0].CurrentJob)

			require.NoError(t, s.RemoveWorker(ctx, "email", "w1"))
			list, err = s.ListWorkers(ctx, "email")
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestStore_MetricPoints(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			for i := 0; i < 5; i++ {
				require.NoError(t, s.AppendPoint(ctx, MetricPoint{
					Name:      "email.jobs_completed",
					Value:     1,
					Timestamp: base.Add(time.Duration(i) * time.Minute),
					Tags:      map[string]string{"queue": "email"},
				}))
			}

			pts, err := s.RangePoints(ctx, "email.jobs_completed", base.Add(time.Minute), base.Add(3*time.Minute))
			require.NoError(t, err)
			require.Len(t, pts, 3)
			assert.True(t, pts[0].Timestamp.Before(pts[2].Timestamp))
			assert.Equal(t, "email", pts[0].Tags["queue"])

			names, err := s.MetricNames(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"email.jobs_completed"}, names)

			removed, err := s.TrimPoints(ctx, base.Add(2*time.Minute))
			require.NoError(t, err)
			assert.Equal(t, int64(2), removed)
		})
	}
}

func TestStore_Alerts(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			require.NoError(t, s.PutAlert(ctx, "b", base.Add(time.Minute), map[string]string{"id": "b", "state": "open"}))
			require.NoError(t, s.PutAlert(ctx, "a", base, map[string]string{"id": "a", "state": "open"}))
			require.NoError(t, s.PutAlert(ctx, "a", base, map[string]string{"state": "resolved"}))

			got, err := s.GetAlert(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, "resolved", got["state"])

			all, err := s.ListAlerts(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "a", all[0]["id"])

			require.NoError(t, s.DeleteAlerts(ctx, "a"))
			_, err = s.GetAlert(ctx, "a")
			assert.ErrorIs(t, err, ErrAlertNotFound)

			require.NoError(t, s.PutRuleState(ctx, "r1", map[string]string{"trigger_count": "2"}))
			states, err := s.RuleStates(ctx)
			require.NoError(t, err)
			assert.Equal(t, "2", states["r1"]["trigger_count"])
		})
	}
}

func TestStore_ImportProgressMirror(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			require.NoError(t, s.MirrorImportProgress(ctx, "j1", jobs.StatusProcessing, jobs.Progress{Processed: 5, Valid: 4, Invalid: 1}, time.Hour))
			fields, err := s.ImportProgress(ctx, "j1")
			require.NoError(t, err)
			assert.Equal(t, "5", fields["processed"])
			assert.Equal(t, "processing", fields["status"])
		})
	}
}

func TestMemoryStore_Unavailable(t *testing.T) {
	s := NewMemoryStore()
	s.SetUnavailable(true)
	_, err := s.ClaimJob(context.Background(), "q", "w", base)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Error(t, s.Ping(context.Background()))
}

func TestRedisStore_ClosedClientIsUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour)
	require.NoError(t, s.Close())
	err := s.Ping(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRedisStore_PruneJobIndex(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	s := NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour)
	defer s.Close()

	require.NoError(t, s.EnqueueJob(ctx, newJob(t, "keep", "q", 1, base)))
	require.NoError(t, s.EnqueueJob(ctx, newJob(t, "gone", "q", 1, base.Add(time.Millisecond))))
	mr.Del(JobKey("q", "gone"))

	removed, err := s.PruneJobIndex(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	list, err := s.ListJobs(ctx, "q", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "keep", list[0].ID)
}
