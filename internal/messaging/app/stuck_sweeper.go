package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/campussite/messaging/internal/messaging/repository"
)

// jobPublisher is the slice of the message broker client the sweeper
// needs to re-announce lost dispatch jobs.
type jobPublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// SweeperConfig holds configuration specific to the StuckSweeper.
// RequeueSubject is the NATS subject lost dispatch jobs are re-published
// on; empty disables requeueing.
type SweeperConfig struct {
	Interval       time.Duration
	Threshold      time.Duration
	RequeueSubject string
}

// StuckSweeper covers the two ways a message can stall off the happy
// path. A crashed dispatcher leaves rows in sending; those are force-
// failed with a timeout reason, never re-sent, because the provider call
// may have gone out. A lost trigger (broker hiccup, no consumer up when
// the job fired) leaves rows in queued; those get their dispatch job
// re-published, which is safe because the claim compare-and-swap drops
// duplicates.
type StuckSweeper struct {
	messageRepo repository.MessageRepository
	publisher   jobPublisher
	logger      *slog.Logger
	cfg         SweeperConfig
}

// NewStuckSweeper creates a StuckSweeper. publisher may be nil, which
// disables queued-row requeueing.
func NewStuckSweeper(messageRepo repository.MessageRepository, publisher jobPublisher, logger *slog.Logger, cfg SweeperConfig) *StuckSweeper {
	if cfg.Interval == 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = 5 * time.Minute
	}
	return &StuckSweeper{
		messageRepo: messageRepo,
		publisher:   publisher,
		logger:      logger.With("component", "stuck_sweeper"),
		cfg:         cfg,
	}
}

// Run blocks until ctx is cancelled, sweeping on every tick.
func (s *StuckSweeper) Run(ctx context.Context) {
	s.logger.Info("Stuck-message sweeper started", "interval", s.cfg.Interval, "threshold", s.cfg.Threshold)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stuck-message sweeper stopping")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single sweep cycle.
func (s *StuckSweeper) SweepOnce(ctx context.Context) {
	s.sweepStuckSending(ctx)
	s.requeueStaleQueued(ctx)
}

func (s *StuckSweeper) sweepStuckSending(ctx context.Context) {
	swept, err := s.messageRepo.FailStuckSending(ctx, s.cfg.Threshold)
	if err != nil {
		s.logger.ErrorContext(ctx, "Stuck-sending sweep failed", "error", err)
		return
	}
	if swept > 0 {
		stuckMessagesSweptCounter.Add(float64(swept))
		s.logger.WarnContext(ctx, "Force-failed messages stuck in sending", "count", swept, "threshold", s.cfg.Threshold)
	}
}

func (s *StuckSweeper) requeueStaleQueued(ctx context.Context) {
	if s.publisher == nil || s.cfg.RequeueSubject == "" {
		return
	}
	ids, err := s.messageRepo.FindStaleQueued(ctx, s.cfg.Threshold)
	if err != nil {
		s.logger.ErrorContext(ctx, "Stale-queued scan failed", "error", err)
		return
	}
	for _, id := range ids {
		payload, err := json.Marshal(NATSJobPayload{MessageID: id})
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to marshal requeue payload", "error", err, "message_id", id)
			continue
		}
		if err := s.publisher.Publish(ctx, s.cfg.RequeueSubject, payload); err != nil {
			s.logger.ErrorContext(ctx, "Failed to re-publish dispatch job", "error", err, "message_id", id)
			continue
		}
		staleQueuedRequeuedCounter.Inc()
		s.logger.WarnContext(ctx, "Re-published dispatch job for stale queued message", "message_id", id, "threshold", s.cfg.Threshold)
	}
}
