package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/taskmaster/tasklist/internal/adapters/notify"
	"github.com/taskmaster/tasklist/internal/application/services"
	"github.com/taskmaster/tasklist/internal/infrastructure/logger"
	"github.com/taskmaster/tasklist/internal/ports"
)

// Server-sent event names
const (
	EventTasks   = "tasks"
	EventNotice  = "notice"
	EventSession = "session"
)

// StreamHandler pushes the task view and notices as server-sent events
type StreamHandler struct {
	tasks     *services.TaskStore
	notices   *notify.Hub
	logger    *logger.Logger
	keepalive time.Duration
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(tasks *services.TaskStore, notices *notify.Hub, logger *logger.Logger) *StreamHandler {
	return &StreamHandler{
		tasks:     tasks,
		notices:   notices,
		logger:    logger,
		keepalive: 25 * time.Second,
	}
}

// Stream handles the live view
// @Summary Live task view
// @Description Server-sent events: "tasks" carries the ordered view, "notice" carries notices, "session" ends the stream when the user changes
// @Tags tasks
// @Produce text/event-stream
// @Security BearerAuth
// @Router /tasks/stream [get]
func (h *StreamHandler) Stream(c echo.Context) error {
	userID, _ := c.Get("user").(string)
	ctx := c.Request().Context()

	updates := h.tasks.Subscribe(ctx)
	notices := h.notices.Subscribe(ctx)

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := io.WriteString(res, ": keepalive\n\n"); err != nil {
				return nil
			}
			res.Flush()
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			if snap.UserID != userID {
				writeEvent(res, EventSession, MessageResponse{Message: "session changed"})
				res.Flush()
				return nil
			}
			if err := writeEvent(res, EventTasks, ports.NewTaskListResponse(snap.Tasks, snap.IsLoading)); err != nil {
				h.logger.Debugw("Stream write failed", "user_id", userID, "error", err)
				return nil
			}
			res.Flush()
		case notice, ok := <-notices:
			if !ok {
				return nil
			}
			if err := writeEvent(res, EventNotice, notice); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}

func writeEvent(w io.Writer, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
