package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmaster/tasklist/internal/adapters/backend/local"
	"github.com/taskmaster/tasklist/internal/adapters/notify"
	"github.com/taskmaster/tasklist/internal/adapters/repository"
	"github.com/taskmaster/tasklist/internal/application/services"
	"github.com/taskmaster/tasklist/internal/infrastructure/config"
	"github.com/taskmaster/tasklist/internal/infrastructure/kvstore"
	"github.com/taskmaster/tasklist/internal/infrastructure/logger"
	"github.com/taskmaster/tasklist/internal/infrastructure/metrics"
	"github.com/taskmaster/tasklist/internal/ports"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()
	log := logger.NewNop()

	kv, err := kvstore.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	m := metrics.New()
	hub := notify.NewHub(8)
	session := services.NewSessionManager(repository.NewIdentityRepository(kv), services.NewPlaceholderProvider(), 6, hub, m, log)
	backend, err := local.New(ctx, kv, log)
	require.NoError(t, err)
	tasks := services.NewTaskStore(backend, config.BackendLocal, session, hub, m, log)
	t.Cleanup(func() { tasks.Close() })
	auth, err := services.NewAuthService(config.JWTConfig{Secret: "test", ExpiresIn: time.Hour}, log)
	require.NoError(t, err)

	cfg := &config.Config{
		App:      config.AppConfig{Version: "test"},
		Storage:  config.StorageConfig{Backend: config.BackendLocal},
		Security: config.SecurityConfig{CORSAllowedOrigins: "*"},
		Metrics:  config.MetricsConfig{Enabled: true},
	}

	srv, err := New(cfg, Dependencies{
		Session: session,
		Tasks:   tasks,
		Auth:    auth,
		Notices: hub,
		Metrics: m,
		Checks:  []HealthCheck{{Name: "local_store", Check: kv.HealthCheck}},
	}, log)
	require.NoError(t, err)
	return srv
}

func do(t *testing.T, srv *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, srv *Server, email string) string {
	t.Helper()
	rec := do(t, srv, http.MethodPost, "/api/v1/auth/login", "", ports.CredentialsRequest{Email: email, Password: "longenough"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ports.AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

func listTasks(t *testing.T, srv *Server, token string) ports.TaskListResponse {
	t.Helper()
	rec := do(t, srv, http.MethodGet, "/api/v1/tasks", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ports.TaskListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestServer_LoginRejectsShortPassword(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/v1/auth/login", "", ports.CredentialsRequest{Email: "a@b.com", Password: "short"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/v1/session", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var session ports.SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.Nil(t, session.User)
}

func TestServer_TaskLifecycle(t *testing.T) {
	srv := newTestServer(t)
	token := login(t, srv, "a@b.com")

	assert.Empty(t, listTasks(t, srv, token).Tasks)

	rec := do(t, srv, http.MethodPost, "/api/v1/tasks", token, ports.CreateTaskRequest{Title: "first"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	time.Sleep(2 * time.Millisecond)
	rec = do(t, srv, http.MethodPost, "/api/v1/tasks", token, ports.CreateTaskRequest{Title: "second", Description: "details"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	for _, blank := range []string{"", "   "} {
		rec = do(t, srv, http.MethodPost, "/api/v1/tasks", token, ports.CreateTaskRequest{Title: blank})
		assert.Equal(t, http.StatusAccepted, rec.Code, "blank title %q", blank)
	}

	view := listTasks(t, srv, token)
	require.Len(t, view.Tasks, 2)
	first := view.Tasks[1]
	assert.Equal(t, "first", first.Title)

	rec = do(t, srv, http.MethodPost, "/api/v1/tasks/"+first.ID+"/toggle", token, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/v1/tasks/"+first.ID+"/subtasks", token, ports.CreateSubTaskRequest{Time: "9am-10am", Details: "Homework"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = do(t, srv, http.MethodPost, "/api/v1/tasks/"+first.ID+"/subtasks", token, ports.CreateSubTaskRequest{Time: "noon", Details: " "})
	require.Equal(t, http.StatusAccepted, rec.Code)

	view = listTasks(t, srv, token)
	require.Len(t, view.Tasks, 2)
	assert.Equal(t, "second", view.Tasks[0].Title)
	done := view.Tasks[1]
	assert.True(t, done.IsCompleted)
	require.Len(t, done.SubTasks, 1)
	assert.Equal(t, 0, done.SubTasksCompleted)
	assert.Equal(t, 1, done.SubTasksTotal)

	subID := done.SubTasks[0].ID
	rec = do(t, srv, http.MethodPost, "/api/v1/tasks/"+first.ID+"/subtasks/"+subID+"/toggle", token, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, listTasks(t, srv, token).Tasks[1].SubTasksCompleted)

	rec = do(t, srv, http.MethodDelete, "/api/v1/tasks/"+first.ID+"/subtasks/"+subID, token, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, srv, http.MethodPut, "/api/v1/tasks/"+first.ID, token, ports.UpdateTaskRequest{Title: "renamed"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, srv, http.MethodDelete, "/api/v1/tasks/does-not-exist", token, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	view = listTasks(t, srv, token)
	require.Len(t, view.Tasks, 2)
	assert.Equal(t, "renamed", view.Tasks[1].Title)
	assert.Empty(t, view.Tasks[1].SubTasks)

	rec = do(t, srv, http.MethodDelete, "/api/v1/tasks/"+first.ID, token, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, listTasks(t, srv, token).Tasks, 1)
}

func TestServer_TokenRequiresActiveSession(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/v1/tasks", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/v1/tasks", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	first := login(t, srv, "x@example.com")
	rec = do(t, srv, http.MethodPost, "/api/v1/tasks", first, ports.CreateTaskRequest{Title: "x's task"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	second := login(t, srv, "y@example.com")

	// x's token no longer matches the active user.
	rec = do(t, srv, http.MethodGet, "/api/v1/tasks", first, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Empty(t, listTasks(t, srv, second).Tasks)

	rec = do(t, srv, http.MethodPost, "/api/v1/auth/logout", second, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/v1/tasks", second, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_OpsEndpoints(t *testing.T) {
	srv := newTestServer(t)
	token := login(t, srv, "a@b.com")
	do(t, srv, http.MethodPost, "/api/v1/tasks", token, ports.CreateTaskRequest{Title: "counted"})

	rec := do(t, srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/health/detailed", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "local_store")

	rec = do(t, srv, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `tasklist_task_mutations_total{operation="add_task",outcome="success"} 1`)
	assert.Contains(t, body, `tasklist_session_events_total{event="login",outcome="success"} 1`)
	assert.Contains(t, body, "http_requests_total")
}

func TestServer_StreamPushesViewAndNotices(t *testing.T) {
	srv := newTestServer(t)
	token := login(t, srv, "a@b.com")

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/tasks/stream?access_token="+token, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan [2]string, 16)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		var event string
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				events <- [2]string{event, strings.TrimPrefix(line, "data: ")}
			}
		}
	}()

	next := func(name string) string {
		t.Helper()
		for {
			select {
			case ev, ok := <-events:
				require.True(t, ok, "stream ended before %q event", name)
				if ev[0] == name {
					return ev[1]
				}
			case <-ctx.Done():
				t.Fatalf("timed out waiting for %q event", name)
			}
		}
	}

	var view ports.TaskListResponse
	require.NoError(t, json.Unmarshal([]byte(next("tasks")), &view))
	assert.Empty(t, view.Tasks)

	rec := do(t, srv, http.MethodPost, "/api/v1/tasks", token, ports.CreateTaskRequest{Title: "live"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	// The view and the notice travel on separate channels, so their order
	// on the wire is not fixed.
	var sawView, sawNotice bool
	for !sawView || !sawNotice {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "stream ended early")
			switch ev[0] {
			case "tasks":
				require.NoError(t, json.Unmarshal([]byte(ev[1]), &view))
				if len(view.Tasks) == 1 {
					assert.Equal(t, "live", view.Tasks[0].Title)
					sawView = true
				}
			case "notice":
				assert.Contains(t, ev[1], "Task added successfully!")
				sawNotice = true
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for the new view and notice")
		}
	}

	do(t, srv, http.MethodPost, "/api/v1/auth/logout", token, nil)
	assert.Contains(t, next("session"), "session changed")
}
