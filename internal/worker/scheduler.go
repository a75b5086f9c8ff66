package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"nightfall-server/internal/models"
	"nightfall-server/internal/repository"
	"nightfall-server/internal/service"
)

// Config holds the scheduler intervals.
type Config struct {
	// ResolveInterval is how often lapsed voting windows are resolved.
	ResolveInterval time.Duration
	// MaintenanceInterval is how often housekeeping runs.
	MaintenanceInterval time.Duration
	// VoteRetentionTTL is how long superseded chapters keep their voting
	// keys before the store expires them.
	VoteRetentionTTL time.Duration
	// VotingWindow is used to extend sessions that lapse with zero votes.
	VotingWindow time.Duration
}

// Scheduler drives the two scheduled jobs: periodic vote resolution
// (end session, determine winner, advance) and daily maintenance.
type Scheduler struct {
	progression *service.ProgressionService
	voting      *service.VotingService
	votes       repository.VoteRepository
	cfg         Config
	logger      *zap.Logger
}

// NewScheduler creates the scheduled job runner.
func NewScheduler(
	progression *service.ProgressionService,
	voting *service.VotingService,
	votes repository.VoteRepository,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		progression: progression,
		voting:      voting,
		votes:       votes,
		cfg:         cfg,
		logger:      logger.Named("Scheduler"),
	}
}

// Run blocks until ctx is cancelled, firing the resolution and maintenance
// jobs at their configured intervals.
func (s *Scheduler) Run(ctx context.Context) {
	resolve := time.NewTicker(s.cfg.ResolveInterval)
	maintain := time.NewTicker(s.cfg.MaintenanceInterval)
	defer resolve.Stop()
	defer maintain.Stop()

	s.logger.Info("Scheduler started",
		zap.Duration("resolveInterval", s.cfg.ResolveInterval),
		zap.Duration("maintenanceInterval", s.cfg.MaintenanceInterval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return
		case <-resolve.C:
			s.ResolveAll(ctx)
		case <-maintain.C:
			s.MaintainAll(ctx)
		}
	}
}

// ResolveAll resolves every instance whose voting window has lapsed.
func (s *Scheduler) ResolveAll(ctx context.Context) {
	instances, err := s.progression.Instances(ctx)
	if err != nil {
		s.logger.Error("Failed to list instances for resolution", zap.Error(err))
		return
	}
	for _, instanceID := range instances {
		if err := s.ResolveInstance(ctx, instanceID); err != nil {
			s.logger.Warn("Instance resolution failed", zap.Error(err),
				zap.String("instanceID", instanceID))
		}
	}
}

// ResolveInstance ends a lapsed session and advances the story. A window
// that lapses with zero votes is extended instead: a chapter nobody voted on
// must not advance.
func (s *Scheduler) ResolveInstance(ctx context.Context, instanceID string) error {
	storyCtx, chapter, err := s.progression.CurrentChapter(ctx, instanceID)
	if errors.Is(err, models.ErrInstanceNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if storyCtx.Ended() {
		return nil
	}

	session, err := s.voting.GetSession(ctx, instanceID, chapter.ID)
	if err != nil {
		return err
	}

	if session.Status == models.SessionCompleted {
		// A previous run completed the session but crashed before the
		// transition became visible; finish the job.
		if session.WinningChoiceID == "" {
			return nil
		}
		_, err := s.progression.Advance(ctx, instanceID, session.WinningChoiceID)
		return err
	}

	if !session.Expired(time.Now()) {
		return nil
	}

	winner, err := s.progression.DetermineWinner(ctx, instanceID, chapter.ID)
	if err != nil {
		return err
	}
	if winner.ChoiceID == "" {
		s.logger.Info("Voting window lapsed with zero votes, extending",
			zap.String("instanceID", instanceID),
			zap.String("chapterID", chapter.ID))
		return s.voting.ExtendSession(ctx, instanceID, chapter.ID, time.Now().Add(s.cfg.VotingWindow))
	}

	result, err := s.voting.EndSession(ctx, instanceID, chapter.ID)
	if err != nil {
		return err
	}
	if result.WinningChoiceID == "" {
		return nil
	}
	if _, err := s.progression.Advance(ctx, instanceID, result.WinningChoiceID); err != nil {
		// Conflicts mean another worker already advanced; nothing to do.
		if errors.Is(err, models.ErrTransitionConflict) || errors.Is(err, models.ErrStoryEnded) {
			return nil
		}
		return err
	}
	return nil
}

// MaintainAll runs housekeeping for every instance: superseded chapters'
// voting keys get a retention TTL so the store does not accumulate dead
// vote hashes forever.
func (s *Scheduler) MaintainAll(ctx context.Context) {
	instances, err := s.progression.Instances(ctx)
	if err != nil {
		s.logger.Error("Failed to list instances for maintenance", zap.Error(err))
		return
	}
	for _, instanceID := range instances {
		if err := s.maintainInstance(ctx, instanceID); err != nil {
			s.logger.Warn("Instance maintenance failed", zap.Error(err),
				zap.String("instanceID", instanceID))
		}
	}
}

func (s *Scheduler) maintainInstance(ctx context.Context, instanceID string) error {
	storyCtx, _, err := s.progression.CurrentChapter(ctx, instanceID)
	if errors.Is(err, models.ErrInstanceNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	expired := 0
	for _, chapterID := range storyCtx.PathTaken {
		if chapterID == storyCtx.CurrentChapterID && !storyCtx.Ended() {
			continue
		}
		if err := s.votes.ExpireChapter(ctx, instanceID, chapterID, s.cfg.VoteRetentionTTL); err != nil {
			return err
		}
		expired++
	}
	s.logger.Debug("Maintenance pass finished",
		zap.String("instanceID", instanceID),
		zap.Int("chaptersExpired", expired))
	return nil
}
