package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Interval runs a job type every Every
type Interval struct {
	Type  JobType
	Every time.Duration
}

// TriggerConfig holds configuration for the interval trigger
type TriggerConfig struct {
	Intervals []Interval
	// CheckInterval is how often due jobs are looked for
	CheckInterval time.Duration
	// RunOnStart submits every job type on the first check
	RunOnStart bool
}

// IntervalTrigger submits maintenance jobs to the scheduler when they are due
type IntervalTrigger struct {
	config    TriggerConfig
	scheduler *Scheduler
	logger    *zap.Logger
	now       func() time.Time

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	lastRun   map[JobType]time.Time
}

// NewIntervalTrigger creates a new trigger. Intervals with a non-positive
// period are disabled.
func NewIntervalTrigger(config TriggerConfig, scheduler *Scheduler, logger *zap.Logger) *IntervalTrigger {
	if config.CheckInterval <= 0 {
		config.CheckInterval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntervalTrigger{
		config:    config,
		scheduler: scheduler,
		logger:    logger,
		now:       time.Now,
		lastRun:   make(map[JobType]time.Time),
	}
}

// Start starts the trigger loop
func (c *IntervalTrigger) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = true
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	if !c.config.RunOnStart {
		c.mu.Lock()
		start := c.now()
		for _, iv := range c.config.Intervals {
			c.lastRun[iv.Type] = start
		}
		c.mu.Unlock()
	}

	c.wg.Add(1)
	go c.runLoop(ctx)

	c.logger.Info("Maintenance trigger started",
		zap.Int("jobs", len(c.config.Intervals)),
		zap.Duration("check_interval", c.config.CheckInterval),
	)
	return nil
}

// Stop stops the trigger loop
func (c *IntervalTrigger) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = false
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("Maintenance trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *IntervalTrigger) runLoop(ctx context.Context) {
	defer c.wg.Done()

	if c.config.RunOnStart {
		c.checkAndTrigger()
	}

	ticker := time.NewTicker(c.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkAndTrigger()
		}
	}
}

// checkAndTrigger submits every job whose interval elapsed. A job that could
// not be queued keeps its old timestamp and is retried on the next check.
func (c *IntervalTrigger) checkAndTrigger() []JobType {
	now := c.now()
	var submitted []JobType

	for _, iv := range c.config.Intervals {
		if iv.Every <= 0 {
			continue
		}
		c.mu.Lock()
		last, ran := c.lastRun[iv.Type]
		c.mu.Unlock()
		if ran && now.Sub(last) < iv.Every {
			continue
		}

		if err := c.scheduler.Submit(iv.Type); err != nil {
			c.logger.Debug("Maintenance job not submitted",
				zap.String("job_type", string(iv.Type)),
				zap.Error(err),
			)
			continue
		}
		c.mu.Lock()
		c.lastRun[iv.Type] = now
		c.mu.Unlock()
		submitted = append(submitted, iv.Type)
	}
	return submitted
}
