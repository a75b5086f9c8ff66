package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"nightfall-server/internal/models"
	"nightfall-server/internal/service"
)

// StoryHandler exposes the operational HTTP surface over the voting and
// progression engines.
type StoryHandler struct {
	voting      *service.VotingService
	progression *service.ProgressionService
	logger      *zap.Logger
}

// NewStoryHandler creates the HTTP handler.
func NewStoryHandler(voting *service.VotingService, progression *service.ProgressionService, logger *zap.Logger) *StoryHandler {
	return &StoryHandler{
		voting:      voting,
		progression: progression,
		logger:      logger.Named("StoryHandler"),
	}
}

// RegisterRoutes mounts the public and admin routes.
func (h *StoryHandler) RegisterRoutes(r *gin.Engine, jwtSecret string, logger *zap.Logger) {
	api := r.Group("/api")
	api.Use(Auth(jwtSecret, false, logger))
	{
		api.GET("/story/:instanceID", h.GetCurrentStory)
		api.POST("/story/:instanceID/vote", h.CastVote)
		api.GET("/story/:instanceID/votes/:chapterID", h.GetVoteCounts)
		api.GET("/story/:instanceID/voted/:chapterID", h.HasVoted)
		api.GET("/story/:instanceID/history", h.GetHistory)
		api.GET("/story/:instanceID/stats", h.GetStats)
	}

	admin := r.Group("/api/admin")
	admin.Use(Auth(jwtSecret, true, logger, models.RoleAdmin))
	{
		admin.POST("/story/:instanceID/advance", h.ForceAdvance)
		admin.POST("/story/:instanceID/reset", h.Reset)
	}
}

type voteRequest struct {
	ChapterID string `json:"chapterId" binding:"required"`
	ChoiceID  string `json:"choiceId" binding:"required"`
}

type resetRequest struct {
	PreserveHistory bool `json:"preserveHistory"`
}

// GetCurrentStory returns the instance's current chapter, voting session
// state and live counts. For authenticated callers it also reports whether
// they already voted.
func (h *StoryHandler) GetCurrentStory(c *gin.Context) {
	instanceID := c.Param("instanceID")

	storyCtx, chapter, err := h.progression.CurrentChapter(c.Request.Context(), instanceID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	session, err := h.voting.GetSession(c.Request.Context(), instanceID, chapter.ID)
	if err != nil && !errors.Is(err, models.ErrSessionNotFound) {
		h.respondError(c, err)
		return
	}
	counts, err := h.voting.GetVoteCounts(c.Request.Context(), instanceID, chapter.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := gin.H{
		"chapter": chapter,
		"state":   h.progression.State(storyCtx, session),
		"counts":  counts,
	}
	if session != nil {
		resp["session"] = session
	}
	if storyCtx.Ended() {
		resp["endingId"] = storyCtx.EndingID
	}
	if userID := CurrentUserID(c); userID != "" {
		voted, choiceID, err := h.voting.HasVoted(c.Request.Context(), instanceID, userID, chapter.ID)
		if err == nil {
			resp["hasVoted"] = voted
			if voted {
				resp["votedChoiceId"] = choiceID
			}
		}
	}

	c.JSON(http.StatusOK, resp)
}

// CastVote records one vote for the authenticated user.
func (h *StoryHandler) CastVote(c *gin.Context) {
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chapterId and choiceId are required"})
		return
	}

	result, err := h.voting.CastVote(c.Request.Context(),
		c.Param("instanceID"), CurrentUserID(c), req.ChapterID, req.ChoiceID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !result.Accepted {
		c.JSON(rejectionStatus(result.Reason), result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetVoteCounts serves the (possibly slightly stale) per-choice tallies.
func (h *StoryHandler) GetVoteCounts(c *gin.Context) {
	counts, err := h.voting.GetVoteCounts(c.Request.Context(), c.Param("instanceID"), c.Param("chapterID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

// HasVoted reports whether the authenticated user voted on a chapter.
func (h *StoryHandler) HasVoted(c *gin.Context) {
	userID := CurrentUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	voted, choiceID, err := h.voting.HasVoted(c.Request.Context(), c.Param("instanceID"), userID, c.Param("chapterID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	resp := gin.H{"voted": voted}
	if voted {
		resp["choiceId"] = choiceID
	}
	c.JSON(http.StatusOK, resp)
}

// GetHistory serves the instance's transition ledger.
func (h *StoryHandler) GetHistory(c *gin.Context) {
	entries, err := h.progression.History(c.Request.Context(), c.Param("instanceID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}

// GetStats serves the read-only story roll-up.
func (h *StoryHandler) GetStats(c *gin.Context) {
	stats, err := h.progression.Stats(c.Request.Context(), c.Param("instanceID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ForceAdvance ends the current voting session and advances immediately.
// Admin-only; used when a story should not wait for the scheduled resolver.
func (h *StoryHandler) ForceAdvance(c *gin.Context) {
	instanceID := c.Param("instanceID")

	_, chapter, err := h.progression.CurrentChapter(c.Request.Context(), instanceID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	result, err := h.voting.EndSession(c.Request.Context(), instanceID, chapter.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if result.WinningChoiceID == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "no votes cast, nothing to advance"})
		return
	}
	advance, err := h.progression.Advance(c.Request.Context(), instanceID, result.WinningChoiceID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, advance)
}

// Reset clears the instance, optionally preserving history.
func (h *StoryHandler) Reset(c *gin.Context) {
	var req resetRequest
	_ = c.ShouldBindJSON(&req)

	instanceID := c.Param("instanceID")
	if err := h.progression.Reset(c.Request.Context(), instanceID, req.PreserveHistory); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": true, "historyPreserved": req.PreserveHistory})
}

// respondError maps engine errors to HTTP statuses. Only short reason
// strings cross this boundary; store key names and internals stay in logs.
func (h *StoryHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrUnknownChoice):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	case errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrChapterNotFound),
		errors.Is(err, models.ErrInstanceNotFound),
		errors.Is(err, models.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, models.ErrStoryEnded), errors.Is(err, models.ErrTransitionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "story state changed, re-read and retry"})
	case errors.Is(err, models.ErrStorage):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
	default:
		h.logger.Error("Unhandled error", zap.Error(err), zap.String("path", c.FullPath()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func rejectionStatus(reason string) int {
	switch reason {
	case "IdentityRequired":
		return http.StatusUnauthorized
	case "UnknownChoice":
		return http.StatusBadRequest
	default: // AlreadyVoted, SessionNotActive
		return http.StatusConflict
	}
}
