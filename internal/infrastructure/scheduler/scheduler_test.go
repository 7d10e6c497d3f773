package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type funcExecutor func(ctx context.Context, job *Job) error

func (f funcExecutor) Execute(ctx context.Context, job *Job) error {
	return f(ctx, job)
}

func startScheduler(t *testing.T, cfg SchedulerConfig, exec JobExecutor) *Scheduler {
	t.Helper()
	s := NewScheduler(cfg, exec, zap.NewNop())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

// waitIdle waits until no job is queued or running
func waitIdle(t *testing.T, s *Scheduler) {
	t.Helper()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.inflight) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestJob_Lifecycle(t *testing.T) {
	job := NewJob(JobTypeIdempotencyPurge, 1)
	assert.Equal(t, JobStatusPending, job.Status)

	job.Start()
	assert.Equal(t, JobStatusRunning, job.Status)
	require.NotNil(t, job.StartedAt)

	job.Fail("boom")
	assert.Equal(t, "boom", job.Error)
	assert.True(t, job.ShouldRetry())

	job.ScheduleRetry(time.Second)
	assert.Equal(t, 1, job.RetryCount)
	assert.Equal(t, JobStatusPending, job.Status)
	require.NotNil(t, job.NextRetryAt)

	job.Start()
	job.Fail("boom again")
	assert.False(t, job.ShouldRetry())

	job.Start()
	job.Complete()
	assert.Equal(t, JobStatusSuccess, job.Status)
}

func TestScheduler_SubmitRequiresRunning(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig(), funcExecutor(func(context.Context, *Job) error { return nil }), nil)
	assert.ErrorIs(t, s.Submit(JobTypeIdempotencyPurge), ErrSchedulerNotRunning)
	assert.ErrorIs(t, s.Submit(JobType("REPORT")), ErrInvalidJobType)
}

func TestScheduler_OneJobPerType(t *testing.T) {
	release := make(chan struct{})
	var runs atomic.Int32
	s := startScheduler(t, SchedulerConfig{MaxConcurrentJobs: 2, JobTimeout: time.Second}, funcExecutor(func(ctx context.Context, job *Job) error {
		if job.Type == JobTypeIdempotencyPurge {
			<-release
		}
		runs.Add(1)
		return nil
	}))

	require.NoError(t, s.Submit(JobTypeIdempotencyPurge))
	assert.ErrorIs(t, s.Submit(JobTypeIdempotencyPurge), ErrJobAlreadyQueued)
	require.NoError(t, s.Submit(JobTypeAttachmentPurge), "other types are independent")

	close(release)
	require.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return s.Submit(JobTypeIdempotencyPurge) == nil }, time.Second, 5*time.Millisecond)
}

func TestScheduler_RetriesFailedJob(t *testing.T) {
	var calls atomic.Int32
	s := startScheduler(t, SchedulerConfig{
		MaxConcurrentJobs: 1,
		JobTimeout:        time.Second,
		RetryAttempts:     2,
		RetryDelay:        10 * time.Millisecond,
	}, funcExecutor(func(ctx context.Context, job *Job) error {
		if calls.Add(1) == 1 {
			return errors.New("database unavailable")
		}
		return nil
	}))

	require.NoError(t, s.Submit(JobTypeAttachmentPurge))
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return s.Submit(JobTypeAttachmentPurge) == nil }, time.Second, 5*time.Millisecond)
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig(), funcExecutor(func(context.Context, *Job) error { return nil }), nil)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	assert.ErrorIs(t, s.Submit(JobTypeIdempotencyPurge), ErrSchedulerNotRunning)
}

func TestIntervalTrigger_CheckAndTrigger(t *testing.T) {
	var mu sync.Mutex
	seen := map[JobType]int{}
	s := startScheduler(t, SchedulerConfig{MaxConcurrentJobs: 1, JobTimeout: time.Second}, funcExecutor(func(ctx context.Context, job *Job) error {
		mu.Lock()
		seen[job.Type]++
		mu.Unlock()
		return nil
	}))
	count := func(jt JobType) int {
		mu.Lock()
		defer mu.Unlock()
		return seen[jt]
	}

	base := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
	now := base
	trigger := NewIntervalTrigger(TriggerConfig{
		Intervals: []Interval{
			{Type: JobTypeIdempotencyPurge, Every: time.Hour},
			{Type: JobTypeAttachmentPurge, Every: 6 * time.Hour},
		},
	}, s, nil)
	trigger.now = func() time.Time { return now }

	// Nothing has run yet, so everything is due.
	assert.ElementsMatch(t, []JobType{JobTypeIdempotencyPurge, JobTypeAttachmentPurge}, trigger.checkAndTrigger())
	require.Eventually(t, func() bool {
		return count(JobTypeIdempotencyPurge) == 1 && count(JobTypeAttachmentPurge) == 1
	}, time.Second, 5*time.Millisecond)
	waitIdle(t, s)

	now = base.Add(30 * time.Minute)
	assert.Empty(t, trigger.checkAndTrigger())

	now = base.Add(61 * time.Minute)
	assert.Equal(t, []JobType{JobTypeIdempotencyPurge}, trigger.checkAndTrigger())
	require.Eventually(t, func() bool { return count(JobTypeIdempotencyPurge) == 2 }, time.Second, 5*time.Millisecond)
	waitIdle(t, s)

	now = base.Add(6*time.Hour + time.Minute)
	assert.ElementsMatch(t, []JobType{JobTypeIdempotencyPurge, JobTypeAttachmentPurge}, trigger.checkAndTrigger())
}

func TestIntervalTrigger_DisabledInterval(t *testing.T) {
	s := startScheduler(t, DefaultSchedulerConfig(), funcExecutor(func(context.Context, *Job) error { return nil }))
	trigger := NewIntervalTrigger(TriggerConfig{
		Intervals: []Interval{{Type: JobTypeAttachmentPurge, Every: 0}},
	}, s, nil)
	assert.Empty(t, trigger.checkAndTrigger())

	require.NoError(t, trigger.Start(context.Background()))
	require.NoError(t, trigger.Stop(context.Background()))
}
