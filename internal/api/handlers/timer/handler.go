package timer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/haneulk/tarot-timer/internal/api/dto"
	"github.com/haneulk/tarot-timer/internal/api/respond"
	"github.com/haneulk/tarot-timer/internal/draw"
	"github.com/haneulk/tarot-timer/internal/model"
	"github.com/haneulk/tarot-timer/internal/queue"
	"github.com/haneulk/tarot-timer/internal/repository/userdir"
	timersvc "github.com/haneulk/tarot-timer/internal/service/timer"
)

// timerService defines the interface that the Handler depends on.
type timerService interface {
	Enroll(ctx context.Context, userID string) error
	Unenroll(ctx context.Context, userID string) error
	Enrolled(userID string) bool
	TriggerMidnightReset(ctx context.Context, userID string) error
	CardAt(ctx context.Context, userID string, hour int, isoDate string) (model.Card, error)
	DailyDraw(ctx context.Context, userID, isoDate string) ([]model.Card, error)
	SaveSession(ctx context.Context, userID, memo string) error
	QueueStats() queue.Stats
	RecentFailures() []queue.FailureRecord
}

// Handler handles HTTP requests for the tarot timer.
type Handler struct {
	service   timerService
	validator *validator.Validate
}

// NewHandler creates a new Handler instance.
func NewHandler(s timerService, v *validator.Validate) *Handler {
	return &Handler{service: s, validator: v}
}

// Enroll handles HTTP POST requests to register a user's recurring jobs.
func (h *Handler) Enroll(c *ginext.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("missing user id"))
		return
	}

	if err := h.service.Enroll(c.Request.Context(), userID); err != nil {
		if errors.Is(err, userdir.ErrUserNotFound) {
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("user not found"))
			return
		}
		if errors.Is(err, timersvc.ErrInvalidTimezone) {
			respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid user timezone"))
			return
		}

		zlog.Logger.Error().Err(err).Str("user_id", userID).Msg("failed to enroll user")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.Created(c.Writer, "enrolled")
}

// Unenroll handles HTTP DELETE requests to remove a user's registrations.
func (h *Handler) Unenroll(c *ginext.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("missing user id"))
		return
	}

	if err := h.service.Unenroll(c.Request.Context(), userID); err != nil {
		zlog.Logger.Error().Err(err).Str("user_id", userID).Msg("failed to unenroll user")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, "unenrolled")
}

// Status handles HTTP GET requests for a user's enrollment state.
func (h *Handler) Status(c *ginext.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("missing user id"))
		return
	}

	respond.OK(c.Writer, map[string]bool{"enrolled": h.service.Enrolled(userID)})
}

// Cards handles HTTP GET requests for a user's full daily card set. The
// optional date query selects a day other than the user's local today.
func (h *Handler) Cards(c *ginext.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("missing user id"))
		return
	}

	cards, err := h.service.DailyDraw(c.Request.Context(), userID, c.Query("date"))
	if err != nil {
		h.failDraw(c, userID, err)
		return
	}

	respond.OK(c.Writer, cards)
}

// CardAt handles HTTP GET requests for the card of a single hour.
func (h *Handler) CardAt(c *ginext.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("missing user id"))
		return
	}

	hour, err := strconv.Atoi(c.Param("hour"))
	if err != nil {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid hour"))
		return
	}

	card, err := h.service.CardAt(c.Request.Context(), userID, hour, c.Query("date"))
	if err != nil {
		if errors.Is(err, draw.ErrCardNotFound) {
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("no card for this hour"))
			return
		}

		h.failDraw(c, userID, err)
		return
	}

	respond.OK(c.Writer, card)
}

// Reset handles HTTP POST requests to trigger an immediate midnight reset.
func (h *Handler) Reset(c *ginext.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("missing user id"))
		return
	}

	if err := h.service.TriggerMidnightReset(c.Request.Context(), userID); err != nil {
		if errors.Is(err, userdir.ErrUserNotFound) {
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("user not found"))
			return
		}

		zlog.Logger.Error().Err(err).Str("user_id", userID).Msg("failed to trigger reset")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, "reset triggered")
}

// SaveSession handles HTTP POST requests recording that the user saved
// today's reading.
func (h *Handler) SaveSession(c *ginext.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("missing user id"))
		return
	}

	var req dto.SaveSessionRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}

	if err := h.validator.Struct(req); err != nil {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("validation error: %s", err.Error()))
		return
	}

	if err := h.service.SaveSession(c.Request.Context(), userID, req.Memo); err != nil {
		if errors.Is(err, userdir.ErrUserNotFound) {
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("user not found"))
			return
		}

		zlog.Logger.Error().Err(err).Str("user_id", userID).Msg("failed to save session")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.Created(c.Writer, "session saved")
}

// Health handles HTTP GET liveness checks.
func (h *Handler) Health(c *ginext.Context) {
	respond.OK(c.Writer, "ok")
}

// QueueStats handles HTTP GET requests for a queue health snapshot.
func (h *Handler) QueueStats(c *ginext.Context) {
	respond.OK(c.Writer, h.service.QueueStats())
}

// QueueFailures handles HTTP GET requests for the retained failed runs.
func (h *Handler) QueueFailures(c *ginext.Context) {
	failures := h.service.RecentFailures()
	if failures == nil {
		failures = []queue.FailureRecord{}
	}

	respond.OK(c.Writer, failures)
}

func (h *Handler) failDraw(c *ginext.Context, userID string, err error) {
	switch {
	case errors.Is(err, userdir.ErrUserNotFound):
		respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("user not found"))
	case errors.Is(err, draw.ErrInvalidDate):
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid date, expected YYYY-MM-DD"))
	case errors.Is(err, draw.ErrInvalidHour):
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid hour, expected 0-23"))
	case errors.Is(err, timersvc.ErrInvalidTimezone):
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid user timezone"))
	default:
		zlog.Logger.Error().Err(err).Str("user_id", userID).Msg("failed to draw cards")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
	}
}
