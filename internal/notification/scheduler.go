package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/resolveit/platform/internal/case/domain"
	"github.com/resolveit/platform/internal/shared/auth"
	"github.com/resolveit/platform/internal/shared/metrics"
	"github.com/resolveit/platform/internal/shared/types"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CaseSource lists cases
type CaseSource interface {
	FindMany(ctx context.Context, filter domain.ListFilter) ([]domain.Case, error)
}

// Notifier records that an opposite party was contacted
type Notifier interface {
	MarkNotified(ctx context.Context, caseID types.ID, actor *auth.User) (*domain.Case, error)
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	Interval  time.Duration
	BatchSize int
	// ClientURL is where invitation links point
	ClientURL string
	// RunTimeout bounds one sweep
	RunTimeout time.Duration
}

// Result summarizes one sweep
type Result struct {
	Sent   int
	Failed int
	// Deliveries holds one record per invitation attempted, in send order
	Deliveries []*Notification
}

// Scheduler invites the opposite parties of newly registered cases to
// mediation and marks them notified once the email is out
type Scheduler struct {
	cron     *cron.Cron
	cases    CaseSource
	notifier Notifier
	email    EmailProvider
	config   SchedulerConfig
	logger   *zap.Logger

	mu      sync.Mutex
	started bool
}

// NewScheduler creates a new scheduler
func NewScheduler(cases CaseSource, notifier Notifier, email EmailProvider, config SchedulerConfig, logger *zap.Logger) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Minute
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = 2 * time.Minute
	}

	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		cases:    cases,
		notifier: notifier,
		email:    email,
		config:   config,
		logger:   logger,
	}
}

// Start registers the sweep and starts the cron runner
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler already started")
	}

	spec := "@every " + s.config.Interval.String()
	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return fmt.Errorf("failed to register outreach job: %w", err)
	}

	s.cron.Start()
	s.started = true
	s.logger.Info("Outreach scheduler started", zap.Duration("interval", s.config.Interval))
	return nil
}

// Stop waits for a running sweep to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.started = false
	s.logger.Info("Outreach scheduler stopped")
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.RunTimeout)
	defer cancel()

	result, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error("Outreach sweep failed", zap.Error(err))
		return
	}
	if result.Sent > 0 || result.Failed > 0 {
		s.logger.Info("Outreach sweep finished",
			zap.Int("sent", result.Sent),
			zap.Int("failed", result.Failed),
		)
	}
}

// RunOnce emails every pending opposite party in one batch. Failures are
// logged per case and retried on the next run.
func (s *Scheduler) RunOnce(ctx context.Context) (Result, error) {
	registered := domain.CaseStatusRegistered
	pending, err := s.cases.FindMany(ctx, domain.ListFilter{
		Status:     &registered,
		Unnotified: true,
		Limit:      s.config.BatchSize,
	})
	if err != nil {
		return Result{}, err
	}

	var result Result
	for i := range pending {
		if ctx.Err() != nil {
			break
		}
		n, ok := s.invite(ctx, &pending[i])
		if n != nil {
			result.Deliveries = append(result.Deliveries, n)
		}
		if ok {
			result.Sent++
		} else {
			result.Failed++
		}
	}
	return result, nil
}

// invite returns the delivery record, nil when the party has no address
func (s *Scheduler) invite(ctx context.Context, c *domain.Case) (*Notification, bool) {
	n, ok := NewInvitation(c, s.config.ClientURL)
	if !ok {
		return nil, false
	}

	if err := s.email.Send(ctx, n); err != nil {
		n.Status = StatusFailed
		n.ErrorMessage = err.Error()
		metrics.RecordOutreachEmail(false)
		s.logger.Warn("Failed to send mediation invitation",
			zap.String("case_id", c.ID.String()),
			zap.Error(err),
		)
		return n, false
	}

	now := time.Now().UTC()
	n.Status = StatusSent
	n.SentAt = &now
	metrics.RecordOutreachEmail(true)

	if _, err := s.notifier.MarkNotified(ctx, c.ID, nil); err != nil {
		// the case moved on since it was listed; nothing to retry
		n.ErrorMessage = err.Error()
		s.logger.Warn("Failed to mark case notified",
			zap.String("case_id", c.ID.String()),
			zap.Error(err),
		)
		return n, false
	}
	return n, true
}
