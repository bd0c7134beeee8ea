package api

import (
	"context"
	"net/http"
	"time"

	"trading-journal/internal/auth"
	"trading-journal/internal/billing"
	"trading-journal/internal/dayclock"
	"trading-journal/internal/discipline"

	"github.com/gin-gonic/gin"
)

// TimezoneHeader carries the caller's IANA zone as a hint for users who
// have not stored one.
const TimezoneHeader = "X-Timezone"

type zoneHintKey struct{}

func timezoneMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		hint := c.GetHeader(TimezoneHeader)
		if hint == "" {
			hint = c.Query("tz")
		}
		if hint != "" && dayclock.ValidZone(hint) {
			c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), zoneHintKey{}, hint))
		}
		c.Next()
	}
}

func zoneHint(ctx context.Context) string {
	hint, _ := ctx.Value(zoneHintKey{}).(string)
	return hint
}

// zone resolves the user's zone: stored settings, then the request hint.
func (s *Server) zone(ctx context.Context, userID string) string {
	return s.svc.Zone(ctx, userID, zoneHint(ctx))
}

// ============================================================================
// SETTINGS
// ============================================================================

type updateSettingsRequest struct {
	Enabled    *bool `json:"enabled" binding:"required"`
	DefaultMax *int  `json:"default_max"`
}

type timezoneRequest struct {
	Timezone string `json:"timezone" binding:"required"`
}

func (s *Server) handleGetSettings(c *gin.Context) {
	settings, err := s.svc.Settings(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		errorResponse(c, err)
		return
	}
	successResponse(c, settings)
}

func (s *Server) handleUpdateSettings(c *gin.Context) {
	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	settings, err := s.svc.SetDisciplineMode(c.Request.Context(), auth.GetUserID(c), *req.Enabled, req.DefaultMax)
	if err != nil {
		errorResponse(c, err)
		return
	}
	successResponse(c, settings)
}

func (s *Server) handleSetTimezone(c *gin.Context) {
	var req timezoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	settings, err := s.svc.SetTimezone(c.Request.Context(), auth.GetUserID(c), req.Timezone)
	if err != nil {
		errorResponse(c, err)
		return
	}
	successResponse(c, settings)
}

// ============================================================================
// READS
// ============================================================================

// dayView is a record plus the values the UI derives from it.
type dayView struct {
	Date      string                `json:"date"`
	Record    *discipline.DayRecord `json:"record"`
	Remaining int                   `json:"remaining"`
	Late      bool                  `json:"late"`
}

func (s *Server) handleGetToday(c *gin.Context) {
	ctx := c.Request.Context()
	userID := auth.GetUserID(c)
	tz := s.zone(ctx, userID)

	rec, err := s.svc.Today(ctx, userID, tz)
	if err != nil {
		errorResponse(c, err)
		return
	}

	view := dayView{
		Date:   s.svc.Clock().Today(tz),
		Record: rec,
		Late:   s.svc.Clock().IsLate(tz),
	}
	if rec != nil {
		view.Remaining = rec.Remaining()
	}
	successResponse(c, view)
}

func (s *Server) handleGetDay(c *gin.Context) {
	ctx := c.Request.Context()
	userID := auth.GetUserID(c)
	date := c.Param("date")

	if !dayclock.ValidDate(date) {
		badRequest(c, "date must be YYYY-MM-DD")
		return
	}

	today := s.svc.Clock().Today(s.zone(ctx, userID))
	if !billing.HistoryAllowed(auth.GetUserTier(c), daysBetween(date, today)) {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   auth.ErrForbidden.Code,
			"message": "date is outside the history available on your plan",
		})
		return
	}

	rec, err := s.svc.Day(ctx, userID, date)
	if err != nil {
		errorResponse(c, err)
		return
	}
	if rec == nil {
		errorResponse(c, discipline.ErrNotFound)
		return
	}
	successResponse(c, rec)
}

// daysBetween returns how many days from precedes to, 0 for future dates.
func daysBetween(from, to string) int {
	a, errA := time.Parse(dayclock.DateLayout, from)
	b, errB := time.Parse(dayclock.DateLayout, to)
	if errA != nil || errB != nil || !a.Before(b) {
		return 0
	}
	return int(b.Sub(a).Hours() / 24)
}

func (s *Server) handleGetWeek(c *gin.Context) {
	ctx := c.Request.Context()
	userID := auth.GetUserID(c)

	review, err := s.svc.WeeklyReview(ctx, userID, s.zone(ctx, userID))
	if err != nil {
		errorResponse(c, err)
		return
	}
	successResponse(c, review)
}

// ============================================================================
// TRANSITIONS
// ============================================================================

type checkInRequest struct {
	MaxTrades int `json:"max_trades" binding:"required"`
}

type overrideRequest struct {
	Reason string `json:"reason"`
}

type eodRequest struct {
	ActualTrades   *int  `json:"actual_trades" binding:"required"`
	RespectedLimit *bool `json:"respected_limit" binding:"required"`
}

func (s *Server) handleCheckIn(c *gin.Context) {
	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	userID := auth.GetUserID(c)
	rec, err := s.svc.CheckInDay(ctx, userID, s.zone(ctx, userID), req.MaxTrades)
	if err != nil {
		errorResponse(c, err)
		return
	}
	successResponse(c, rec)
}

func (s *Server) handleQuickLog(c *gin.Context) {
	ctx := c.Request.Context()
	userID := auth.GetUserID(c)
	rec, err := s.svc.QuickLogTrade(ctx, userID, s.zone(ctx, userID))
	if err != nil {
		errorResponse(c, err)
		return
	}
	successResponse(c, rec)
}

// overrideSubmitter binds OverrideDay to a user. The zone is resolved when
// the override is confirmed.
func (s *Server) overrideSubmitter(userID string) func(ctx context.Context, reason string) (*discipline.DayRecord, error) {
	return func(ctx context.Context, reason string) (*discipline.DayRecord, error) {
		return s.svc.OverrideDay(ctx, userID, s.zone(ctx, userID), reason)
	}
}

func (s *Server) handleArmOverride(c *gin.Context) {
	userID := auth.GetUserID(c)
	gate := s.gates.For(userID, s.overrideSubmitter(userID))
	readyAt := gate.Arm()

	successResponse(c, gin.H{
		"ready_at":          readyAt,
		"hold_seconds":      gate.Remaining().Seconds(),
		"min_reason_length": s.svc.MinReasonLength(),
	})
}

func (s *Server) handleCancelOverride(c *gin.Context) {
	userID := auth.GetUserID(c)
	s.gates.For(userID, s.overrideSubmitter(userID)).Disarm()
	successResponse(c, gin.H{"armed": false})
}

func (s *Server) handleConfirmOverride(c *gin.Context) {
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	userID := auth.GetUserID(c)
	gate := s.gates.For(userID, s.overrideSubmitter(userID))
	rec, err := gate.Confirm(c.Request.Context(), req.Reason)
	if err != nil {
		errorResponse(c, err)
		return
	}
	successResponse(c, rec)
}

func (s *Server) handleSubmitEOD(c *gin.Context) {
	var req eodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	userID := auth.GetUserID(c)
	rec, err := s.svc.SubmitEOD(ctx, userID, s.zone(ctx, userID), *req.ActualTrades, *req.RespectedLimit)
	if err != nil {
		errorResponse(c, err)
		return
	}
	successResponse(c, rec)
}

// ============================================================================
// REWARDS
// ============================================================================

func (s *Server) handleGetRewards(c *gin.Context) {
	if s.ledger == nil {
		errorResponse(c, discipline.ErrNotFound)
		return
	}
	state, err := s.ledger.Get(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		errorResponse(c, &discipline.Error{Code: discipline.CodeStoreUnavailable, Message: "rewards unavailable", Err: err})
		return
	}
	successResponse(c, state)
}
