// Package notification contains the HTTP handlers for the notification API.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/orbita/neurolink/internal/api/dto"
	"github.com/orbita/neurolink/internal/api/respond"
	"github.com/orbita/neurolink/internal/model"
	"github.com/orbita/neurolink/internal/priority"
	"github.com/orbita/neurolink/internal/queue"
	notificationrepo "github.com/orbita/neurolink/internal/repository/notification"
	taskrepo "github.com/orbita/neurolink/internal/repository/task"
	userrepo "github.com/orbita/neurolink/internal/repository/user"
	service "github.com/orbita/neurolink/internal/service/notification"
)

// notificationService defines the interface the Handler depends on.
type notificationService interface {
	Create(ctx context.Context, req queue.Request) (*model.Notification, error)
	GetByID(ctx context.Context, userID, id uuid.UUID) (model.Notification, error)
	GetStatusByID(ctx context.Context, id uuid.UUID) (model.Status, error)
	ListByUser(ctx context.Context, userID uuid.UUID, f notificationrepo.Filter) ([]model.Notification, error)
	MarkRead(ctx context.Context, userID, id uuid.UUID) error
	Dismiss(ctx context.Context, userID, id uuid.UUID) error
	RecordFeedback(ctx context.Context, fb model.Feedback) (uuid.UUID, error)
	GetSettings(ctx context.Context, userID uuid.UUID) (model.Settings, error)
	UpdateSettings(ctx context.Context, settings model.Settings) error
	Weights() priority.Stats
	UpdateWeights(raw map[string]float64) error
	Stats(ctx context.Context) (service.Stats, error)
	HandleTaskEvent(ctx context.Context, event model.TaskEvent, taskID uuid.UUID) error
}

// Handler handles HTTP requests related to notifications, settings and
// scoring configuration.
type Handler struct {
	service   notificationService
	validator *validator.Validate
}

// NewHandler creates a new Handler instance.
func NewHandler(s notificationService, v *validator.Validate) *Handler {
	return &Handler{service: s, validator: v}
}

// Create handles POST /api/notifications.
func (h *Handler) Create(c *ginext.Context) {
	var req dto.CreateNotificationRequest
	if !h.decode(c, &req) {
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid user_id"))
		return
	}

	var taskID *uuid.UUID
	if req.TaskID != "" {
		id, err := uuid.Parse(req.TaskID)
		if err != nil {
			respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid task_id"))
			return
		}
		taskID = &id
	}

	typ := model.Type(req.Type)
	if !typ.Valid() {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("unknown notification type %q", req.Type))
		return
	}

	n, err := h.service.Create(c.Request.Context(), queue.Request{
		UserID:    userID,
		TaskID:    taskID,
		Type:      typ,
		Objective: req.Objective,
		Delay:     time.Duration(req.DelayMinutes) * time.Minute,
	})
	if err != nil {
		if errors.Is(err, userrepo.ErrUserNotFound) {
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("user not found"))
			return
		}
		zlog.Logger.Error().Err(err).Str("user_id", req.UserID).Msg("failed to create notification")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	// The guards dropped the request; tell the caller nothing was queued.
	if n == nil {
		respond.OK(c.Writer, map[string]string{"result": "skipped"})
		return
	}

	respond.Created(c.Writer, n)
}

// Get handles GET /api/notifications/:id.
func (h *Handler) Get(c *ginext.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	userID, ok := h.queryUserID(c)
	if !ok {
		return
	}

	n, err := h.service.GetByID(c.Request.Context(), userID, id)
	if err != nil {
		h.failLookup(c, id, err, "failed to get notification")
		return
	}

	respond.OK(c.Writer, n)
}

// GetStatus handles GET /api/notifications/:id/status.
func (h *Handler) GetStatus(c *ginext.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	status, err := h.service.GetStatusByID(c.Request.Context(), id)
	if err != nil {
		h.failLookup(c, id, err, "failed to get notification status")
		return
	}

	respond.OK(c.Writer, map[string]model.Status{"status": status})
}

// List handles GET /api/users/:id/notifications with optional status, type
// and limit query filters.
func (h *Handler) List(c *ginext.Context) {
	userID, ok := h.pathID(c)
	if !ok {
		return
	}

	filter := notificationrepo.Filter{
		Status: model.Status(c.Query("status")),
		Type:   model.Type(c.Query("type")),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid limit"))
			return
		}
		filter.Limit = limit
	}

	notifications, err := h.service.ListByUser(c.Request.Context(), userID, filter)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("user_id", userID.String()).Msg("failed to list notifications")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, notifications)
}

// MarkRead handles POST /api/notifications/:id/read.
func (h *Handler) MarkRead(c *ginext.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	var req dto.MarkReadRequest
	if !h.decode(c, &req) {
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid user_id"))
		return
	}

	if err := h.service.MarkRead(c.Request.Context(), userID, id); err != nil {
		if errors.Is(err, service.ErrAlreadyTerminal) {
			respond.Fail(c.Writer, http.StatusConflict, err)
			return
		}
		h.failLookup(c, id, err, "failed to mark notification read")
		return
	}

	respond.OK(c.Writer, map[string]string{"result": "read"})
}

// Dismiss handles DELETE /api/notifications/:id.
func (h *Handler) Dismiss(c *ginext.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	userID, ok := h.queryUserID(c)
	if !ok {
		return
	}

	if err := h.service.Dismiss(c.Request.Context(), userID, id); err != nil {
		if errors.Is(err, service.ErrAlreadyTerminal) {
			respond.Fail(c.Writer, http.StatusConflict, err)
			return
		}
		h.failLookup(c, id, err, "failed to dismiss notification")
		return
	}

	respond.OK(c.Writer, map[string]string{"result": "dismissed"})
}

// Feedback handles POST /api/notifications/:id/feedback.
func (h *Handler) Feedback(c *ginext.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	var req dto.FeedbackRequest
	if !h.decode(c, &req) {
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid user_id"))
		return
	}

	feedbackID, err := h.service.RecordFeedback(c.Request.Context(), model.Feedback{
		NotificationID: id,
		UserID:         userID,
		Kind:           req.Kind,
		Comment:        model.Sanitize(req.Comment, 500),
	})
	if err != nil {
		h.failLookup(c, id, err, "failed to record feedback")
		return
	}

	respond.Created(c.Writer, map[string]uuid.UUID{"id": feedbackID})
}

// TaskEvent handles POST /api/events/task.
func (h *Handler) TaskEvent(c *ginext.Context) {
	var req dto.TaskEventRequest
	if !h.decode(c, &req) {
		return
	}

	taskID, err := uuid.Parse(req.TaskID)
	if err != nil {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid task_id"))
		return
	}

	err = h.service.HandleTaskEvent(c.Request.Context(), model.TaskEvent(req.Event), taskID)
	if err != nil {
		if errors.Is(err, taskrepo.ErrTaskNotFound) {
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("task not found"))
			return
		}
		zlog.Logger.Error().Err(err).Str("event", req.Event).Msg("failed to handle task event")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, map[string]string{"result": "scheduled"})
}

// GetSettings handles GET /api/users/:id/settings.
func (h *Handler) GetSettings(c *ginext.Context) {
	userID, ok := h.pathID(c)
	if !ok {
		return
	}

	settings, err := h.service.GetSettings(c.Request.Context(), userID)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("user_id", userID.String()).Msg("failed to get settings")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, settings)
}

// UpdateSettings handles PUT /api/users/:id/settings.
func (h *Handler) UpdateSettings(c *ginext.Context) {
	userID, ok := h.pathID(c)
	if !ok {
		return
	}

	var req dto.UpdateSettingsRequest
	if !h.decode(c, &req) {
		return
	}

	types := make([]model.Type, 0, len(req.EnabledTypes))
	for _, t := range req.EnabledTypes {
		types = append(types, model.Type(t))
	}

	err := h.service.UpdateSettings(c.Request.Context(), model.Settings{
		UserID:          userID,
		Personality:     req.Personality,
		QuietHoursStart: req.QuietHoursStart,
		QuietHoursEnd:   req.QuietHoursEnd,
		MaxPerDay:       req.MaxPerDay,
		EnabledTypes:    types,
		Timezone:        req.Timezone,
		Channel:         req.Channel,
		TelegramChatID:  req.TelegramChatID,
	})
	if err != nil {
		respond.Fail(c.Writer, http.StatusBadRequest, err)
		return
	}

	respond.OK(c.Writer, map[string]string{"result": "updated"})
}

// Weights handles GET /api/admin/weights.
func (h *Handler) Weights(c *ginext.Context) {
	respond.OK(c.Writer, h.service.Weights())
}

// UpdateWeights handles PUT /api/admin/weights.
func (h *Handler) UpdateWeights(c *ginext.Context) {
	var req dto.UpdateWeightsRequest
	if !h.decode(c, &req) {
		return
	}

	if err := h.service.UpdateWeights(req.Weights); err != nil {
		respond.Fail(c.Writer, http.StatusBadRequest, err)
		return
	}

	respond.OK(c.Writer, h.service.Weights())
}

// Stats handles GET /api/admin/stats.
func (h *Handler) Stats(c *ginext.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to collect stats")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, stats)
}

// decode reads and validates a JSON request body. It writes the error
// response itself and reports success.
func (h *Handler) decode(c *ginext.Context, req interface{}) bool {
	if err := json.NewDecoder(c.Request.Body).Decode(req); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to decode request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return false
	}

	if err := h.validator.Struct(req); err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to validate request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("validation error: %s", err.Error()))
		return false
	}

	return true
}

// pathID parses the :id path parameter.
func (h *Handler) pathID(c *ginext.Context) (uuid.UUID, bool) {
	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil || id == uuid.Nil {
		zlog.Logger.Warn().Str("id", idStr).Msg("invalid id in path")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid id"))
		return uuid.Nil, false
	}
	return id, true
}

// queryUserID parses the user_id query parameter.
func (h *Handler) queryUserID(c *ginext.Context) (uuid.UUID, bool) {
	raw := c.Query("user_id")
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid user_id"))
		return uuid.Nil, false
	}
	return id, true
}

// failLookup maps lookup errors to status codes shared by several handlers.
func (h *Handler) failLookup(c *ginext.Context, id uuid.UUID, err error, msg string) {
	switch {
	case errors.Is(err, notificationrepo.ErrNotificationNotFound):
		respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("notification not found"))
	case errors.Is(err, service.ErrNotOwner):
		respond.Fail(c.Writer, http.StatusForbidden, fmt.Errorf("forbidden"))
	default:
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg(msg)
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
	}
}
