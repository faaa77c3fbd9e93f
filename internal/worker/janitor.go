package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const DefaultJanitorCron = "*/15 * * * *"

type ExpiredCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// CacheJanitor periodically deletes expired cache rows.
type CacheJanitor struct {
	scheduler gocron.Scheduler
	cleaner   ExpiredCleaner
	expr      string
	timeout   time.Duration
	log       logrus.FieldLogger
}

// ValidateCron checks a standard five-field cron expression.
func ValidateCron(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid janitor cron %q: %w", expr, err)
	}
	return nil
}

func NewCacheJanitor(cleaner ExpiredCleaner, expr string, timeout time.Duration, log logrus.FieldLogger) (*CacheJanitor, error) {
	if expr == "" {
		expr = DefaultJanitorCron
	}
	if err := ValidateCron(expr); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create janitor scheduler failed: %w", err)
	}
	return &CacheJanitor{
		scheduler: scheduler,
		cleaner:   cleaner,
		expr:      expr,
		timeout:   timeout,
		log:       log.WithField("worker", "cache_janitor"),
	}, nil
}

func (j *CacheJanitor) Start() error {
	_, err := j.scheduler.NewJob(
		gocron.CronJob(j.expr, false),
		gocron.NewTask(j.RunOnce),
		gocron.WithName("cache_cleanup_expired"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule cache janitor failed: %w", err)
	}
	j.scheduler.Start()
	j.log.WithField("cron", j.expr).Info("cache janitor started")
	return nil
}

// RunOnce runs a single cleanup pass.
func (j *CacheJanitor) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	start := time.Now()
	n, err := j.cleaner.CleanupExpired(ctx)
	if err != nil {
		j.log.WithError(err).Error("cleanup expired cache entries failed")
		return
	}
	j.log.WithFields(logrus.Fields{"deleted": n, "elapsed": time.Since(start).String()}).Info("expired cache entries cleaned")
}

func (j *CacheJanitor) Close() error {
	if err := j.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("shutdown cache janitor failed: %w", err)
	}
	return nil
}
