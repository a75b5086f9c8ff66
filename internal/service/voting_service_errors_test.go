package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"nightfall-server/internal/models"
	"nightfall-server/internal/realtime"
	"nightfall-server/internal/repository/mocks"
)

// Storage fault paths are driven through mocks; the happy paths run against
// a real store in voting_service_test.go.
func newMockedVotingService(t *testing.T) (*VotingService, *mocks.VoteRepository, *mocks.StoryRepository) {
	t.Helper()
	votes := new(mocks.VoteRepository)
	story := new(mocks.StoryRepository)
	fanout := realtime.NewFanout(nopServicePublisher{}, realtime.Options{
		ThrottleWindow: time.Millisecond,
		ThrottleCap:    4,
		BatchMaxItems:  10,
		BatchDelay:     time.Minute,
		BatchCap:       4,
	}, zap.NewNop())
	t.Cleanup(fanout.Close)
	svc := NewVotingService(votes, story, fanout, VotingConfig{TieBreakSeed: 1}, zap.NewNop())
	return svc, votes, story
}

type nopServicePublisher struct{}

func (nopServicePublisher) Publish(ctx context.Context, channel string, event models.Event) error {
	return nil
}

func activeMockSession() *models.VotingSession {
	return &models.VotingSession{
		InstanceID: "main",
		ChapterID:  "chap-1",
		StartTime:  time.Now().UTC(),
		EndTime:    time.Now().Add(time.Hour).UTC(),
		Status:     models.SessionActive,
	}
}

func mockChapter() *models.Chapter {
	return &models.Chapter{
		ID:         "chap-1",
		InstanceID: "main",
		Choices:    []models.ChapterChoice{{ID: "c0", Text: "Go"}},
		Status:     models.ChapterStatusActive,
	}
}

func TestCastVoteStorageFault(t *testing.T) {
	ctx := context.Background()
	svc, votes, story := newMockedVotingService(t)

	votes.On("GetSession", mock.Anything, "main", "chap-1").Return(activeMockSession(), nil)
	story.On("GetChapter", mock.Anything, "main", "chap-1").Return(mockChapter(), nil)

	votes.On("CastVote", mock.Anything, "main", mock.AnythingOfType("*models.Vote")).
		Return(int64(0), models.ErrStorage)

	res, err := svc.CastVote(ctx, "main", "user-1", "chap-1", "c0")
	require.ErrorIs(t, err, models.ErrStorage)
	assert.Nil(t, res)
	votes.AssertExpectations(t)
	story.AssertExpectations(t)
}

func TestGetVoteCountsStorageFault(t *testing.T) {
	ctx := context.Background()
	svc, votes, story := newMockedVotingService(t)

	story.On("GetChapter", mock.Anything, "main", "chap-1").Return(mockChapter(), nil)
	votes.On("GetCounts", mock.Anything, "main", "chap-1").
		Return(nil, models.ErrStorage)

	_, err := svc.GetVoteCounts(ctx, "main", "chap-1")
	assert.ErrorIs(t, err, models.ErrStorage)
}

func TestEndSessionStorageFault(t *testing.T) {
	ctx := context.Background()
	svc, votes, story := newMockedVotingService(t)

	story.On("GetChapter", mock.Anything, "main", "chap-1").Return(mockChapter(), nil)
	votes.On("GetCounts", mock.Anything, "main", "chap-1").
		Return(map[string]int64{"c0": 3}, nil)
	votes.On("CompleteSession", mock.Anything, "main", "chap-1", "c0").
		Return(nil, false, models.ErrStorage)

	_, err := svc.EndSession(ctx, "main", "chap-1")
	assert.ErrorIs(t, err, models.ErrStorage)
	votes.AssertExpectations(t)
}

func TestHasVotedStorageFault(t *testing.T) {
	ctx := context.Background()
	svc, votes, _ := newMockedVotingService(t)

	votes.On("GetVote", mock.Anything, "main", "user-1", "chap-1").
		Return(nil, models.ErrStorage)

	_, _, err := svc.HasVoted(ctx, "main", "user-1", "chap-1")
	assert.ErrorIs(t, err, models.ErrStorage)
}
