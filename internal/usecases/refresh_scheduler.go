package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"saldobot/internal/entities"
)

type Triggerer interface {
	TriggerUpdate(ctx context.Context, service, accountNumber string) (TriggerResult, error)
}

// RefreshScheduler periodically asks providers for the balances of a fixed
// account list. Accounts of the same service are spaced by stagger so a
// conversation is not overwritten before it finishes.
type RefreshScheduler struct {
	triggerer Triggerer
	targets   []entities.RefreshTarget
	stagger   time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running context.CancelFunc
}

func NewRefreshScheduler(triggerer Triggerer, targets []entities.RefreshTarget, stagger time.Duration, logger *slog.Logger) *RefreshScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshScheduler{
		triggerer: triggerer,
		targets:   targets,
		stagger:   stagger,
		logger:    logger.With(slog.String("component", "refresh")),
	}
}

// RunOnce triggers every target. Services run concurrently; targets of one
// service run in order with stagger between them. Returns how many triggers
// succeeded and the joined failures.
func (s *RefreshScheduler) RunOnce(ctx context.Context) (int, error) {
	groups := make(map[string][]entities.RefreshTarget)
	var order []string
	for _, t := range s.targets {
		if _, ok := groups[t.Service]; !ok {
			order = append(order, t.Service)
		}
		groups[t.Service] = append(groups[t.Service], t)
	}

	var (
		mu        sync.Mutex
		triggered int
		errs      []error
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, service := range order {
		targets := groups[service]
		g.Go(func() error {
			for i, t := range targets {
				if i > 0 && !sleepCtx(gctx, s.stagger) {
					return gctx.Err()
				}
				_, err := s.triggerer.TriggerUpdate(gctx, t.Service, t.AccountNumber)
				mu.Lock()
				if err != nil {
					errs = append(errs, fmt.Errorf("%s:%s: %w", t.Service, t.AccountNumber, err))
				} else {
					triggered++
				}
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}
	return triggered, errors.Join(errs...)
}

// Start runs RunOnce on schedule (standard 5-field cron syntax or descriptors
// such as "@every 1h"). A run still in progress is skipped rather than stacked.
func (s *RefreshScheduler) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("refresh scheduler already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(schedule, func() {
		n, err := s.RunOnce(ctx)
		if err != nil {
			s.logger.Warn("refresh run finished with errors", slog.Int("triggered", n), slog.Any("error", err))
			return
		}
		s.logger.Info("refresh run finished", slog.Int("triggered", n))
	})
	if err != nil {
		cancel()
		return fmt.Errorf("unable to schedule balance refresh: %w", err)
	}

	c.Start()
	s.cron = c
	s.running = cancel
	s.logger.Info("balance refresh scheduled", slog.String("schedule", schedule), slog.Int("accounts", len(s.targets)))
	return nil
}

// Stop cancels an in-flight run and waits for it to return
func (s *RefreshScheduler) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.running
	s.cron, s.running = nil, nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
