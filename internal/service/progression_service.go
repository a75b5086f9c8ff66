package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nightfall-server/internal/metrics"
	"nightfall-server/internal/models"
	"nightfall-server/internal/narrative"
	"nightfall-server/internal/realtime"
	"nightfall-server/internal/repository"
)

const (
	transitionTokenChapter = "chapter:"
	transitionTokenEnding  = "ending:"
)

// ProgressionConfig tunes the progression engine.
type ProgressionConfig struct {
	// VotingWindow is how long each new chapter accepts votes.
	VotingWindow time.Duration
	// MaxPathLength forces an ending once a path reaches this many chapters,
	// guaranteeing termination even on malformed cyclic graphs.
	MaxPathLength int
}

// ProgressionService decides winners, advances or terminates the story, and
// keeps context, history and progression consistent. A transition's writes
// are ordered so that the context pointer flip is the last externally
// visible step: a reader either sees the old chapter fully or the new one
// fully.
type ProgressionService struct {
	graph   *narrative.Graph
	story   repository.StoryRepository
	votes   repository.VoteRepository
	history repository.HistoryRepository
	voting  *VotingService
	fanout  *realtime.Fanout
	feed    *realtime.ContentFeedPublisher
	logger  *zap.Logger
	cfg     ProgressionConfig

	now func() time.Time
}

// NewProgressionService creates a progression engine. feed may be nil.
func NewProgressionService(
	graph *narrative.Graph,
	story repository.StoryRepository,
	votes repository.VoteRepository,
	history repository.HistoryRepository,
	voting *VotingService,
	fanout *realtime.Fanout,
	feed *realtime.ContentFeedPublisher,
	cfg ProgressionConfig,
	logger *zap.Logger,
) *ProgressionService {
	if cfg.MaxPathLength <= 0 {
		cfg.MaxPathLength = 12
	}
	if cfg.VotingWindow <= 0 {
		cfg.VotingWindow = time.Hour
	}
	return &ProgressionService{
		graph:   graph,
		story:   story,
		votes:   votes,
		history: history,
		voting:  voting,
		fanout:  fanout,
		feed:    feed,
		logger:  logger.Named("ProgressionService"),
		cfg:     cfg,
		now:     time.Now,
	}
}

// deriveChapterID derives the next chapter's ID from the transition that
// creates it. Deterministic on purpose: a retried advance for the same
// (parent chapter, winning choice) re-derives the same chapter instead of
// creating a duplicate.
func deriveChapterID(instanceID, parentChapterID, choiceID string) string {
	name := fmt.Sprintf("nightfall:%s:%s:%s", instanceID, parentChapterID, choiceID)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// entryChapterID includes the story start time so each run of an instance
// gets a fresh chapter lineage after a reset.
func entryChapterID(instanceID string, start time.Time) string {
	name := fmt.Sprintf("nightfall:%s:entry:%d", instanceID, start.UnixNano())
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// StartStory bootstraps an instance at the catalogue's entry branch. Calling
// it on an already started instance returns the current chapter unchanged.
func (s *ProgressionService) StartStory(ctx context.Context, instanceID string) (*models.Chapter, error) {
	if instanceID == "" {
		return nil, fmt.Errorf("%w: instance id is required", models.ErrInvalidInput)
	}

	existing, err := s.story.GetContext(ctx, instanceID)
	if err == nil {
		return s.story.GetChapter(ctx, instanceID, existing.CurrentChapterID)
	}
	if !errors.Is(err, models.ErrInstanceNotFound) {
		return nil, err
	}

	start := s.now().UTC()
	entry := s.graph.EntryBranch()
	chapterID := entryChapterID(instanceID, start)
	chapter := narrative.Materialize(entry, narrative.MaterializeParams{
		ChapterID:    chapterID,
		InstanceID:   instanceID,
		PathPosition: 0,
		VotingWindow: s.cfg.VotingWindow,
		Now:          start,
	})

	if err := s.story.SaveChapter(ctx, chapter); err != nil {
		return nil, err
	}
	if err := s.votes.CreateSession(ctx, &models.VotingSession{
		InstanceID: instanceID,
		ChapterID:  chapterID,
		StartTime:  start,
		EndTime:    start.Add(s.cfg.VotingWindow),
		Status:     models.SessionActive,
	}); err != nil {
		return nil, err
	}
	if err := s.saveProgression(ctx, instanceID, chapter, 1, false); err != nil {
		return nil, err
	}
	storyCtx := &models.StoryContext{
		InstanceID:       instanceID,
		CurrentChapterID: chapterID,
		PreviousChoices:  []string{},
		PathTaken:        []string{chapterID},
		StoryStartTime:   start,
	}
	if err := s.story.SaveContext(ctx, storyCtx); err != nil {
		return nil, err
	}
	if err := s.story.RegisterInstance(ctx, instanceID); err != nil {
		return nil, err
	}

	s.logger.Info("Story instance started",
		zap.String("instanceID", instanceID),
		zap.String("chapterID", chapterID),
		zap.String("branchID", entry.ID))
	return chapter, nil
}

// DetermineWinner ranks the chapter's choices by count. Zero votes across
// all choices yields an empty ChoiceID and the caller must not advance.
func (s *ProgressionService) DetermineWinner(ctx context.Context, instanceID, chapterID string) (*models.WinnerResult, error) {
	chapter, err := s.story.GetChapter(ctx, instanceID, chapterID)
	if err != nil {
		return nil, err
	}
	raw, err := s.votes.GetCounts(ctx, instanceID, chapterID)
	if err != nil {
		return nil, err
	}
	counts, _ := buildVoteCounts(chapter, raw)
	winner := s.voting.PickWinner(counts)
	return &winner, nil
}

// Advance resolves the winning choice against the narrative graph and moves
// the story forward, or terminates it at an ending. Retrying with the same
// winning choice after a success is a no-op that returns the same result;
// two racers advancing with different choices are serialized by the context
// pointer CAS, and the loser gets ErrTransitionConflict.
func (s *ProgressionService) Advance(ctx context.Context, instanceID, winningChoiceID string) (*models.AdvanceResult, error) {
	if instanceID == "" || winningChoiceID == "" {
		return nil, fmt.Errorf("%w: instance and winning choice are required", models.ErrInvalidInput)
	}

	storyCtx, err := s.story.GetContext(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if done := s.replayedResult(ctx, storyCtx, winningChoiceID); done != nil {
		return done, nil
	}
	if storyCtx.Ended() {
		return nil, models.ErrStoryEnded
	}

	parentID := storyCtx.CurrentChapterID
	parent, err := s.story.GetChapter(ctx, instanceID, parentID)
	if err != nil {
		return nil, err
	}
	if !parent.HasChoice(winningChoiceID) {
		return nil, fmt.Errorf("%w: choice %q on chapter %q", models.ErrUnknownChoice, winningChoiceID, parentID)
	}

	ending, nextBranch := s.resolveChoice(parent, winningChoiceID, len(storyCtx.PathTaken))
	if ending != nil {
		return s.finishStory(ctx, storyCtx, parent, winningChoiceID, ending)
	}
	return s.transition(ctx, storyCtx, parent, winningChoiceID, nextBranch)
}

// replayedResult detects an Advance retried after a successful transition
// with the same winning choice and rebuilds its original result.
func (s *ProgressionService) replayedResult(ctx context.Context, storyCtx *models.StoryContext, winningChoiceID string) *models.AdvanceResult {
	n := len(storyCtx.PreviousChoices)
	if n == 0 || storyCtx.PreviousChoices[n-1] != winningChoiceID {
		return nil
	}
	if storyCtx.Ended() {
		return &models.AdvanceResult{Ended: true, Ending: s.graph.Ending(storyCtx.EndingID)}
	}
	if len(storyCtx.PathTaken) < 2 {
		return nil
	}
	grandparent := storyCtx.PathTaken[len(storyCtx.PathTaken)-2]
	if deriveChapterID(storyCtx.InstanceID, grandparent, winningChoiceID) != storyCtx.CurrentChapterID {
		return nil
	}
	// The previous transition used this same choice ID. If the current
	// chapter's session has already been completed, the caller is advancing
	// anew from the current chapter, not retrying the old transition.
	if session, err := s.votes.GetSession(ctx, storyCtx.InstanceID, storyCtx.CurrentChapterID); err == nil && session.Status == models.SessionCompleted {
		return nil
	}
	chapter, err := s.story.GetChapter(ctx, storyCtx.InstanceID, storyCtx.CurrentChapterID)
	if err != nil {
		return nil
	}
	return &models.AdvanceResult{NewChapter: chapter}
}

// resolveChoice maps a winning choice to either an ending or the next
// branch. The path length guard overrides the graph; a nil branch with a nil
// ending means the graph missed and a chapter must be synthesized.
func (s *ProgressionService) resolveChoice(parent *models.Chapter, choiceID string, pathLen int) (*models.Ending, *models.Branch) {
	if pathLen >= s.cfg.MaxPathLength {
		return s.graph.FallbackEnding(), nil
	}
	if parent.BranchID == "" {
		return nil, nil
	}
	if ending := s.graph.EndingFor(parent.BranchID, choiceID); ending != nil {
		return ending, nil
	}
	if nextID := s.graph.NextBranch(parent.BranchID, choiceID); nextID != "" {
		return nil, s.graph.Branch(nextID)
	}
	return nil, nil
}

func (s *ProgressionService) transition(ctx context.Context, storyCtx *models.StoryContext, parent *models.Chapter, choiceID string, nextBranch *models.Branch) (*models.AdvanceResult, error) {
	instanceID := storyCtx.InstanceID
	now := s.now().UTC()
	nextID := deriveChapterID(instanceID, parent.ID, choiceID)

	stored, mine, err := s.story.ClaimTransition(ctx, instanceID, parent.ID, choiceID, transitionTokenChapter+nextID)
	if err != nil {
		return nil, err
	}
	if !mine {
		// A previous attempt claimed this transition; its token is the truth.
		if strings.HasPrefix(stored, transitionTokenEnding) {
			ending := s.graph.Ending(strings.TrimPrefix(stored, transitionTokenEnding))
			return &models.AdvanceResult{Ended: true, Ending: ending}, nil
		}
		nextID = strings.TrimPrefix(stored, transitionTokenChapter)
	}

	params := narrative.MaterializeParams{
		ChapterID:    nextID,
		InstanceID:   instanceID,
		PathPosition: parent.PathPosition + 1,
		VotingWindow: s.cfg.VotingWindow,
		Now:          now,
	}
	var newChapter *models.Chapter
	if nextBranch != nil {
		newChapter = narrative.Materialize(nextBranch, params)
	} else {
		newChapter = narrative.Synthesize(params, narrative.PathContext{
			InstanceID:     instanceID,
			PathPosition:   parent.PathPosition + 1,
			LastChoiceText: choiceText(parent, choiceID),
		})
		s.logger.Warn("Graph lookup missed, synthesized fallback chapter",
			zap.String("instanceID", instanceID),
			zap.String("parentChapterID", parent.ID),
			zap.String("choiceID", choiceID))
	}

	// Ordered writes: chapter, session, history and progression land before
	// the pointer flip, so a failure anywhere here leaves the previous
	// chapter externally current and the whole operation safely retriable.
	if err := s.story.SaveChapter(ctx, newChapter); err != nil {
		return nil, err
	}
	if err := s.votes.CreateSession(ctx, &models.VotingSession{
		InstanceID: instanceID,
		ChapterID:  nextID,
		StartTime:  now,
		EndTime:    now.Add(s.cfg.VotingWindow),
		Status:     models.SessionActive,
	}); err != nil {
		return nil, err
	}
	if _, _, err := s.votes.CompleteSession(ctx, instanceID, parent.ID, choiceID); err != nil && !errors.Is(err, models.ErrSessionNotFound) {
		return nil, err
	}
	if _, err := s.history.Append(ctx, instanceID, &models.HistoryEntry{
		ChapterID:       parent.ID,
		WinningChoiceID: choiceID,
		Timestamp:       now,
	}); err != nil {
		return nil, err
	}
	if err := s.saveProgression(ctx, instanceID, newChapter, len(storyCtx.PathTaken)+1, false); err != nil {
		return nil, err
	}

	newCtx := *storyCtx
	newCtx.CurrentChapterID = nextID
	newCtx.PathTaken = append(append([]string{}, storyCtx.PathTaken...), nextID)
	newCtx.PreviousChoices = append(append([]string{}, storyCtx.PreviousChoices...), choiceID)
	if err := s.story.SwapContext(ctx, &newCtx, parent.ID); err != nil {
		if errors.Is(err, models.ErrTransitionConflict) {
			// A racer may have completed this very transition.
			if current, rerr := s.story.GetContext(ctx, instanceID); rerr == nil && current.CurrentChapterID == nextID {
				return &models.AdvanceResult{NewChapter: newChapter}, nil
			}
		}
		return nil, err
	}

	parent.Status = models.ChapterStatusSuperseded
	if err := s.story.SaveChapter(ctx, parent); err != nil {
		// The transition is already visible; losing the status flag is
		// harmless and repaired by maintenance.
		s.logger.Warn("Failed to mark parent chapter superseded", zap.Error(err),
			zap.String("chapterID", parent.ID))
	}

	metrics.ChapterTransitions.Inc()
	s.fanout.ChapterTransition(instanceID, models.ChapterTransitionPayload{
		PreviousChapterID: parent.ID,
		WinningChoiceID:   choiceID,
		Chapter:           newChapter,
	})
	s.publishFeed(ctx, realtime.ContentFeedPayload{
		InstanceID:      instanceID,
		ChapterTitle:    newChapter.Title,
		ChapterContent:  newChapter.Content,
		WinningChoiceID: choiceID,
		Timestamp:       now,
	})
	s.logger.Info("Story advanced",
		zap.String("instanceID", instanceID),
		zap.String("fromChapterID", parent.ID),
		zap.String("toChapterID", nextID),
		zap.String("choiceID", choiceID),
		zap.String("source", string(newChapter.Source)))

	return &models.AdvanceResult{NewChapter: newChapter}, nil
}

func (s *ProgressionService) finishStory(ctx context.Context, storyCtx *models.StoryContext, parent *models.Chapter, choiceID string, ending *models.Ending) (*models.AdvanceResult, error) {
	instanceID := storyCtx.InstanceID
	now := s.now().UTC()

	stored, mine, err := s.story.ClaimTransition(ctx, instanceID, parent.ID, choiceID, transitionTokenEnding+ending.ID)
	if err != nil {
		return nil, err
	}
	if !mine {
		if strings.HasPrefix(stored, transitionTokenChapter) {
			chapterID := strings.TrimPrefix(stored, transitionTokenChapter)
			chapter, err := s.story.GetChapter(ctx, instanceID, chapterID)
			if err != nil {
				return nil, err
			}
			return &models.AdvanceResult{NewChapter: chapter}, nil
		}
		if storedID := strings.TrimPrefix(stored, transitionTokenEnding); storedID != ending.ID {
			ending = s.graph.Ending(storedID)
		}
	}

	if _, _, err := s.votes.CompleteSession(ctx, instanceID, parent.ID, choiceID); err != nil && !errors.Is(err, models.ErrSessionNotFound) {
		return nil, err
	}
	if _, err := s.history.Append(ctx, instanceID, &models.HistoryEntry{
		ChapterID:       parent.ID,
		WinningChoiceID: choiceID,
		Timestamp:       now,
	}); err != nil {
		return nil, err
	}
	if err := s.history.RecordCompletedPath(ctx, instanceID, ending.ID); err != nil {
		return nil, err
	}
	if err := s.saveProgression(ctx, instanceID, parent, len(storyCtx.PathTaken), true); err != nil {
		return nil, err
	}

	newCtx := *storyCtx
	newCtx.PreviousChoices = append(append([]string{}, storyCtx.PreviousChoices...), choiceID)
	newCtx.EndedAt = &now
	newCtx.EndingID = ending.ID
	if err := s.story.SwapContext(ctx, &newCtx, parent.ID); err != nil {
		if errors.Is(err, models.ErrTransitionConflict) {
			if current, rerr := s.story.GetContext(ctx, instanceID); rerr == nil && current.Ended() && current.EndingID == ending.ID {
				return &models.AdvanceResult{Ended: true, Ending: ending}, nil
			}
		}
		return nil, err
	}

	parent.Status = models.ChapterStatusEnded
	if err := s.story.SaveChapter(ctx, parent); err != nil {
		s.logger.Warn("Failed to mark final chapter ended", zap.Error(err),
			zap.String("chapterID", parent.ID))
	}

	metrics.StoriesEnded.WithLabelValues(string(ending.OutcomeKind)).Inc()
	s.fanout.ChapterTransition(instanceID, models.ChapterTransitionPayload{
		PreviousChapterID: parent.ID,
		WinningChoiceID:   choiceID,
		Ended:             true,
		Ending:            ending,
	})
	s.publishFeed(ctx, realtime.ContentFeedPayload{
		InstanceID:      instanceID,
		ChapterTitle:    ending.Title,
		ChapterContent:  ending.BodyText,
		WinningChoiceID: choiceID,
		Ended:           true,
		OutcomeKind:     string(ending.OutcomeKind),
		Timestamp:       now,
	})
	s.logger.Info("Story ended",
		zap.String("instanceID", instanceID),
		zap.String("endingID", ending.ID),
		zap.String("outcome", string(ending.OutcomeKind)),
		zap.Int("pathLength", len(storyCtx.PathTaken)))

	return &models.AdvanceResult{Ended: true, Ending: ending}, nil
}

// Reset clears the instance's chapters, context, sessions, votes and
// progression. History and completed-path records survive when
// preserveHistory is set.
func (s *ProgressionService) Reset(ctx context.Context, instanceID string, preserveHistory bool) error {
	storyCtx, err := s.story.GetContext(ctx, instanceID)
	if err != nil {
		return err
	}

	for _, chapterID := range storyCtx.PathTaken {
		if err := s.votes.ClearChapter(ctx, instanceID, chapterID); err != nil {
			return err
		}
	}
	if err := s.story.ClearInstance(ctx, instanceID, storyCtx.PathTaken); err != nil {
		return err
	}
	if !preserveHistory {
		if err := s.history.Clear(ctx, instanceID); err != nil {
			return err
		}
	}

	s.fanout.StoryReset(instanceID, models.StoryResetPayload{HistoryPreserved: preserveHistory})
	s.logger.Info("Story instance reset",
		zap.String("instanceID", instanceID),
		zap.Bool("preserveHistory", preserveHistory))
	return nil
}

// CurrentChapter returns the instance's context and current chapter.
func (s *ProgressionService) CurrentChapter(ctx context.Context, instanceID string) (*models.StoryContext, *models.Chapter, error) {
	storyCtx, err := s.story.GetContext(ctx, instanceID)
	if err != nil {
		return nil, nil, err
	}
	chapter, err := s.story.GetChapter(ctx, instanceID, storyCtx.CurrentChapterID)
	if err != nil {
		return nil, nil, err
	}
	return storyCtx, chapter, nil
}

// History returns the instance's transition ledger.
func (s *ProgressionService) History(ctx context.Context, instanceID string) ([]models.HistoryEntry, error) {
	return s.history.List(ctx, instanceID)
}

// Stats builds the read-only roll-up served to clients.
func (s *ProgressionService) Stats(ctx context.Context, instanceID string) (*models.StoryStats, error) {
	entries, err := s.history.List(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	stats := &models.StoryStats{
		InstanceID: instanceID,
		History:    entries,
	}
	storyCtx, err := s.story.GetContext(ctx, instanceID)
	if errors.Is(err, models.ErrInstanceNotFound) {
		return stats, nil
	}
	if err != nil {
		return nil, err
	}
	stats.ChaptersSeen = len(storyCtx.PathTaken)
	stats.PathTaken = storyCtx.PathTaken
	stats.Ended = storyCtx.Ended()
	end := s.now()
	if storyCtx.Ended() {
		end = *storyCtx.EndedAt
	}
	stats.StoryDuration = end.Sub(storyCtx.StoryStartTime)
	if p, err := s.story.GetProgression(ctx, instanceID); err == nil {
		stats.Progress = p.ProgressPercentage
	}
	return stats, nil
}

// State derives the per-instance state machine position from context and
// session.
func (s *ProgressionService) State(storyCtx *models.StoryContext, session *models.VotingSession) models.InstanceState {
	if storyCtx.Ended() {
		return models.StateEnded
	}
	if session == nil {
		return models.StateTransitioning
	}
	if session.Status == models.SessionCompleted {
		return models.StateTransitioning
	}
	if session.Expired(s.now()) {
		return models.StateDetermining
	}
	return models.StateAwaitingVotes
}

// Instances lists all registered story instances.
func (s *ProgressionService) Instances(ctx context.Context) ([]string, error) {
	return s.story.ListInstances(ctx)
}

func (s *ProgressionService) saveProgression(ctx context.Context, instanceID string, chapter *models.Chapter, pathLen int, ended bool) error {
	completed, err := s.history.ListCompletedPaths(ctx, instanceID)
	if err != nil {
		return err
	}
	available := make([]string, 0, len(chapter.Choices))
	for _, c := range chapter.Choices {
		available = append(available, c.ID)
	}
	pct := pathLen * 100 / s.cfg.MaxPathLength
	if ended {
		pct = 100
		available = nil
	} else if pct > 99 {
		pct = 99
	}
	return s.story.SaveProgression(ctx, &models.Progression{
		InstanceID:         instanceID,
		TotalChapters:      s.graph.BranchCount(),
		CurrentPosition:    pathLen,
		CompletedPaths:     completed,
		AvailablePaths:     available,
		ProgressPercentage: pct,
	})
}

func (s *ProgressionService) publishFeed(ctx context.Context, payload realtime.ContentFeedPayload) {
	if s.feed == nil {
		return
	}
	if err := s.feed.Publish(ctx, payload); err != nil {
		// Best-effort, same policy as the realtime path.
		s.logger.Warn("Content feed publish failed", zap.Error(err),
			zap.String("instanceID", payload.InstanceID))
	}
}

func choiceText(chapter *models.Chapter, choiceID string) string {
	for _, c := range chapter.Choices {
		if c.ID == choiceID {
			return c.Text
		}
	}
	return ""
}
