package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"kyri56xcaesar/teamcore/internal/models"
	"kyri56xcaesar/teamcore/internal/mproject"
	"kyri56xcaesar/teamcore/internal/mtask"
	"kyri56xcaesar/teamcore/internal/muser"
)

const (
	testAdminEmail    = "admin@team.core"
	testAdminPassword = "bootstrap-pass"
	testCronSecret    = "cron-secret"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	a, err := NewApp(context.Background(), Config{
		Profile:        ProfileMemory,
		ApiGinMode:     "test",
		AuthMode:       AuthLocal,
		JWTSecret:      "test-secret-0123456789",
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "Idempotency-Key"},
		CronSecret:     testCronSecret,
		AdminEmail:     testAdminEmail,
		AdminPassword:  testAdminPassword,
		SeedPassword:   "seed-pass",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func do(t *testing.T, a *App, method, path, token, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, req)
	return w
}

func expect(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode %q: %v", w.Body.String(), err)
	}
	return out
}

// login signs in and immediately replaces the temporary password.
func login(t *testing.T, a *App, email, password string) string {
	t.Helper()
	w := do(t, a, http.MethodPost, "/api/auth/login", "", `{"email":"`+email+`","password":"`+password+`"}`, nil)
	expect(t, w, http.StatusOK)
	sess := decode[muser.Session](t, w)
	if !sess.User.MustChangePassword {
		return sess.Token
	}

	w = do(t, a, http.MethodGet, "/api/projects", sess.Token, "", nil)
	expect(t, w, http.StatusForbidden)

	w = do(t, a, http.MethodPost, "/api/auth/change-password", sess.Token, `{"password":"changed-pass"}`, nil)
	expect(t, w, http.StatusOK)
	changed := decode[muser.Session](t, w)
	if changed.User.MustChangePassword || changed.Token == "" {
		t.Fatalf("expected a fresh session without a pending change, got %+v", changed)
	}
	return changed.Token
}

func TestEndToEnd(t *testing.T) {
	a := newTestApp(t)

	admin := login(t, a, testAdminEmail, testAdminPassword)

	w := do(t, a, http.MethodPost, "/api/projects", admin, `{"name":"Demo","branches":["Core"," Core ","Docs"]}`, nil)
	expect(t, w, http.StatusCreated)
	project := decode[mproject.ProjectSummary](t, w)
	if len(project.Branches) != 2 {
		t.Fatalf("expected duplicate branch names to collapse, got %+v", project.Branches)
	}
	branchID := strconv.FormatInt(project.Branches[0].ID, 10)

	w = do(t, a, http.MethodPost, "/api/tasks", admin, `{"branchid":`+branchID+`,"title":"Build it","points":8}`, nil)
	expect(t, w, http.StatusCreated)
	task := decode[models.Task](t, w)
	if task.Status != models.TaskAvailable {
		t.Fatalf("expected new task to be AVAILABLE, got %s", task.Status)
	}
	taskID := strconv.FormatInt(task.ID, 10)

	w = do(t, a, http.MethodPost, "/api/invite", admin, `{"email":"dev@team.core"}`, nil)
	expect(t, w, http.StatusCreated)
	inv := decode[muser.Invitation](t, w)
	if inv.Provisioned || inv.TemporaryPassword == "" {
		t.Fatalf("unexpected invitation %+v", inv)
	}

	w = do(t, a, http.MethodPost, "/api/invite", admin, `{"email":"dev@team.core"}`, nil)
	expect(t, w, http.StatusConflict)

	member := login(t, a, "dev@team.core", inv.TemporaryPassword)

	w = do(t, a, http.MethodPost, "/api/tasks", member, `{"branchid":`+branchID+`,"title":"Nope"}`, nil)
	expect(t, w, http.StatusForbidden)

	w = do(t, a, http.MethodPost, "/api/branches/"+branchID+"/own", member, "", nil)
	expect(t, w, http.StatusCreated)

	key := map[string]string{"Idempotency-Key": "k-1"}
	w = do(t, a, http.MethodPost, "/api/tasks/take", member, `{"taskid":`+taskID+`}`, key)
	expect(t, w, http.StatusOK)
	w = do(t, a, http.MethodPost, "/api/tasks/take", member, `{"taskid":`+taskID+`}`, key)
	expect(t, w, http.StatusOK)
	if w.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected the retried take to be replayed")
	}

	w = do(t, a, http.MethodPost, "/api/tasks/submit", member, `{"taskid":`+taskID+`,"output_url":"https://example.com/out"}`, nil)
	expect(t, w, http.StatusOK)

	w = do(t, a, http.MethodGet, "/api/projects/"+strconv.FormatInt(project.ID, 10), member, "", nil)
	expect(t, w, http.StatusOK)
	detail := decode[mproject.ProjectDetail](t, w)
	if detail.Stats.Progress != 100 || len(detail.Deliverables) != 1 {
		t.Fatalf("unexpected project detail %+v", detail)
	}

	w = do(t, a, http.MethodGet, "/api/users", member, "", nil)
	expect(t, w, http.StatusOK)
	board := decode[[]muser.LeaderboardEntry](t, w)
	if len(board) != 2 || board[0].Email != "dev@team.core" || board[0].TotalScore != 8 || !board[0].IsOnline {
		t.Fatalf("unexpected leaderboard %+v", board)
	}

	w = do(t, a, http.MethodDelete, "/api/projects/"+strconv.FormatInt(project.ID, 10), admin, "", nil)
	expect(t, w, http.StatusOK)
	w = do(t, a, http.MethodGet, "/api/tasks/"+taskID, member, "", nil)
	expect(t, w, http.StatusNotFound)
}

func TestPasswordChangeRetiresPendingToken(t *testing.T) {
	a := newTestApp(t)

	w := do(t, a, http.MethodPost, "/api/auth/login", "", `{"email":"`+testAdminEmail+`","password":"`+testAdminPassword+`"}`, nil)
	expect(t, w, http.StatusOK)
	pending := decode[muser.Session](t, w).Token

	w = do(t, a, http.MethodPost, "/api/auth/change-password", pending, `{"password":"changed-pass"}`, nil)
	expect(t, w, http.StatusOK)

	w = do(t, a, http.MethodPost, "/api/auth/change-password", pending, `{"password":"again-pass"}`, nil)
	expect(t, w, http.StatusUnauthorized)

	w = do(t, a, http.MethodPost, "/api/auth/login", "", `{"email":"`+testAdminEmail+`","password":"changed-pass"}`, nil)
	expect(t, w, http.StatusOK)
}

func TestCronRequiresSecret(t *testing.T) {
	a := newTestApp(t)

	w := do(t, a, http.MethodGet, "/api/cron/check-expired", "", "", nil)
	expect(t, w, http.StatusUnauthorized)

	w = do(t, a, http.MethodGet, "/api/cron/check-expired", "", "", map[string]string{cronSecretHeader: "wrong"})
	expect(t, w, http.StatusUnauthorized)

	w = do(t, a, http.MethodPost, "/api/cron/check-expired", "", "", map[string]string{cronSecretHeader: testCronSecret})
	expect(t, w, http.StatusOK)
	body := decode[map[string]any](t, w)
	if body["success"] != true || body["expiredCount"] != float64(0) {
		t.Fatalf("unexpected sweep response %v", body)
	}
}

func TestHealth(t *testing.T) {
	a := newTestApp(t)
	admin := login(t, a, testAdminEmail, testAdminPassword)

	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer up.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()

	tests := []struct {
		name       string
		path       string
		token      string
		wantCode   int
		wantStatus string
	}{
		{"liveness", "/healthz", "", http.StatusOK, "alive"},
		{"self", "/api/health", "", http.StatusOK, "ok"},
		{"anonymous url check", "/api/health?url=" + up.URL, "", http.StatusUnauthorized, ""},
		{"url up", "/api/health?url=" + up.URL, admin, http.StatusOK, "up"},
		{"url down", "/api/health?url=" + down.URL, admin, http.StatusOK, "down"},
		{"url unreachable", "/api/health?url=http://127.0.0.1:1", admin, http.StatusOK, "error"},
		{"bad scheme", "/api/health?url=ftp://example.com", admin, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, a, http.MethodGet, tt.path, tt.token, "", nil)
			expect(t, w, tt.wantCode)
			if w.Header().Get(requestIDHeader) == "" {
				t.Fatalf("expected a request id header")
			}
			if tt.wantStatus == "" {
				return
			}
			body := decode[map[string]any](t, w)
			if body["status"] != tt.wantStatus {
				t.Fatalf("expected status %q, got %v", tt.wantStatus, body)
			}
		})
	}
}

func TestRequestIDIsPropagated(t *testing.T) {
	a := newTestApp(t)
	const rid = "0b7a1f3e-3c55-4c3c-9d0e-6f1b5b8a2e11"

	w := do(t, a, http.MethodGet, "/healthz", "", "", map[string]string{requestIDHeader: rid})
	expect(t, w, http.StatusOK)
	if got := w.Header().Get(requestIDHeader); got != rid {
		t.Fatalf("expected request id %s to be kept, got %s", rid, got)
	}

	w = do(t, a, http.MethodGet, "/healthz", "", "", map[string]string{requestIDHeader: "not a uuid"})
	if got := w.Header().Get(requestIDHeader); got == "not a uuid" || got == "" {
		t.Fatalf("expected a malformed request id to be replaced, got %q", got)
	}
}

func TestSeed(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	if err := a.Seed(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.Seed(ctx); err != nil {
		t.Fatalf("unexpected error on reseed: %v", err)
	}

	projects, err := a.projects.ListWithStats(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(projects) != 1 || projects[0].Name != seedProjectName || len(projects[0].Branches) != len(seedBranches) {
		t.Fatalf("unexpected seeded projects %+v", projects)
	}
	if projects[0].Stats.Total != seedTasks {
		t.Fatalf("expected %d tasks, got %d", seedTasks, projects[0].Stats.Total)
	}

	taken, err := a.tasks.List(ctx, mtask.ListFilter{Status: models.TaskTaken})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(taken) != seedTakenTasks {
		t.Fatalf("expected %d taken tasks, got %d", seedTakenTasks, len(taken))
	}

	board, err := a.users.Leaderboard(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// bootstrap admin plus the seeded accounts
	if len(board) != seedUsers+1 {
		t.Fatalf("expected %d users, got %d", seedUsers+1, len(board))
	}

	w := do(t, a, http.MethodPost, "/api/auth/login", "", `{"email":"member3@team.core","password":"seed-pass"}`, nil)
	expect(t, w, http.StatusOK)
}
