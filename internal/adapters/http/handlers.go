package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/taskmaster/tasklist/internal/application/services"
	"github.com/taskmaster/tasklist/internal/infrastructure/logger"
	"github.com/taskmaster/tasklist/internal/ports"
)

// AuthHandler handles authentication-related requests
type AuthHandler struct {
	session     *services.SessionManager
	authService *services.AuthService
	logger      *logger.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(session *services.SessionManager, authService *services.AuthService, logger *logger.Logger) *AuthHandler {
	return &AuthHandler{
		session:     session,
		authService: authService,
		logger:      logger,
	}
}

// Login handles user login
// @Summary Log in
// @Description Make the user identified by the credentials the active user
// @Tags auth
// @Accept json
// @Produce json
// @Param request body ports.CredentialsRequest true "Credentials"
// @Success 200 {object} ports.AuthResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(c echo.Context) error {
	var req ports.CredentialsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}

	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	user, err := h.session.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}

	response, err := h.authService.IssueToken(user)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, response)
}

// Register handles user registration
// @Summary Register
// @Description Create an identity and make it the active user
// @Tags auth
// @Accept json
// @Produce json
// @Param request body ports.CredentialsRequest true "Credentials"
// @Success 201 {object} ports.AuthResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(c echo.Context) error {
	var req ports.CredentialsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}

	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	user, err := h.session.Register(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}

	response, err := h.authService.IssueToken(user)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, response)
}

// Logout handles user logout
// @Summary Log out
// @Tags auth
// @Produce json
// @Success 200 {object} MessageResponse
// @Failure 401 {object} ErrorResponse
// @Security BearerAuth
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c echo.Context) error {
	h.session.Logout(c.Request().Context())
	return c.JSON(http.StatusOK, MessageResponse{Message: "Logged out successfully"})
}

// Session reports the active user
// @Summary Current session
// @Tags auth
// @Produce json
// @Success 200 {object} ports.SessionResponse
// @Router /session [get]
func (h *AuthHandler) Session(c echo.Context) error {
	return c.JSON(http.StatusOK, ports.SessionResponse{
		User:      h.session.CurrentUser(),
		IsLoading: h.session.IsLoading(),
	})
}

// TaskHandler handles task-related requests
type TaskHandler struct {
	tasks  *services.TaskStore
	logger *logger.Logger
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(tasks *services.TaskStore, logger *logger.Logger) *TaskHandler {
	return &TaskHandler{
		tasks:  tasks,
		logger: logger,
	}
}

// ListTasks handles listing the active user's tasks
// @Summary List tasks
// @Description Incomplete tasks first, newest first within each group
// @Tags tasks
// @Produce json
// @Success 200 {object} ports.TaskListResponse
// @Failure 401 {object} ErrorResponse
// @Security BearerAuth
// @Router /tasks [get]
func (h *TaskHandler) ListTasks(c echo.Context) error {
	// One read so tasks and loading state come from the same view.
	snap := h.tasks.Snapshot()
	return c.JSON(http.StatusOK, ports.NewTaskListResponse(snap.Tasks, snap.IsLoading))
}

// CreateTask handles task creation
// @Summary Create a task
// @Tags tasks
// @Accept json
// @Produce json
// @Param request body ports.CreateTaskRequest true "Task data"
// @Success 202 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Security BearerAuth
// @Router /tasks [post]
func (h *TaskHandler) CreateTask(c echo.Context) error {
	var req ports.CreateTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}

	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := h.tasks.AddTask(c.Request().Context(), req.Title, req.Description); err != nil {
		return err
	}
	return accepted(c)
}

// UpdateTask handles replacing a task's title and description
// @Summary Update a task
// @Tags tasks
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Param request body ports.UpdateTaskRequest true "Task data"
// @Success 202 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Security BearerAuth
// @Router /tasks/{id} [put]
func (h *TaskHandler) UpdateTask(c echo.Context) error {
	var req ports.UpdateTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}

	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := h.tasks.UpdateTask(c.Request().Context(), c.Param("id"), req.Title, req.Description); err != nil {
		return err
	}
	return accepted(c)
}

// DeleteTask handles task deletion
// @Summary Delete a task
// @Tags tasks
// @Produce json
// @Param id path string true "Task ID"
// @Success 202 {object} MessageResponse
// @Failure 401 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Security BearerAuth
// @Router /tasks/{id} [delete]
func (h *TaskHandler) DeleteTask(c echo.Context) error {
	if err := h.tasks.DeleteTask(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return accepted(c)
}

// ToggleTask handles flipping a task's completion
// @Summary Toggle task completion
// @Tags tasks
// @Produce json
// @Param id path string true "Task ID"
// @Success 202 {object} MessageResponse
// @Failure 401 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Security BearerAuth
// @Router /tasks/{id}/toggle [post]
func (h *TaskHandler) ToggleTask(c echo.Context) error {
	if err := h.tasks.ToggleTaskCompletion(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return accepted(c)
}

// AddSubTask handles appending a sub-task
// @Summary Add a sub-task
// @Tags subtasks
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Param request body ports.CreateSubTaskRequest true "Sub-task data"
// @Success 202 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Security BearerAuth
// @Router /tasks/{id}/subtasks [post]
func (h *TaskHandler) AddSubTask(c echo.Context) error {
	var req ports.CreateSubTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}

	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := h.tasks.AddSubTask(c.Request().Context(), c.Param("id"), req.Time, req.Details); err != nil {
		return err
	}
	return accepted(c)
}

// DeleteSubTask handles sub-task deletion
// @Summary Delete a sub-task
// @Tags subtasks
// @Produce json
// @Param id path string true "Task ID"
// @Param subId path string true "Sub-task ID"
// @Success 202 {object} MessageResponse
// @Security BearerAuth
// @Router /tasks/{id}/subtasks/{subId} [delete]
func (h *TaskHandler) DeleteSubTask(c echo.Context) error {
	if err := h.tasks.DeleteSubTask(c.Request().Context(), c.Param("id"), c.Param("subId")); err != nil {
		return err
	}
	return accepted(c)
}

// ToggleSubTask handles flipping a sub-task's completion
// @Summary Toggle sub-task completion
// @Tags subtasks
// @Produce json
// @Param id path string true "Task ID"
// @Param subId path string true "Sub-task ID"
// @Success 202 {object} MessageResponse
// @Security BearerAuth
// @Router /tasks/{id}/subtasks/{subId}/toggle [post]
func (h *TaskHandler) ToggleSubTask(c echo.Context) error {
	if err := h.tasks.ToggleSubTaskCompletion(c.Request().Context(), c.Param("id"), c.Param("subId")); err != nil {
		return err
	}
	return accepted(c)
}

// Writes are fire-and-forget: the change shows up in the next view.
func accepted(c echo.Context) error {
	return c.JSON(http.StatusAccepted, MessageResponse{Message: "accepted"})
}

// Request/Response types

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}
