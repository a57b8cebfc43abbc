package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"

	"upkeep/internal/config"
	"upkeep/internal/db"
	"upkeep/internal/domain"
	"upkeep/internal/engine"
	"upkeep/internal/migrate"
	"upkeep/internal/repo"
)

const testSecret = "test-secret"

type testServer struct {
	URL      string
	Engine   engine.Engine
	Building domain.Building
	Owner    domain.User
	Employee domain.User
	client   *http.Client
	close    func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	ctx := context.Background()
	b, err := e.Seed(ctx, engine.SeedOptions{
		BuildingName: "Maple Court",
		Users: []engine.SeedUser{
			{Name: "Olive Owner", Email: "olive@example.com", Role: domain.RoleOwner},
			{Name: "Eddie Employee", Email: "eddie@example.com", Role: domain.RoleEmployee},
		},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	owner, err := e.Repo.GetUserByEmail(ctx, "olive@example.com")
	if err != nil {
		t.Fatalf("lookup owner: %v", err)
	}
	employee, err := e.Repo.GetUserByEmail(ctx, "eddie@example.com")
	if err != nil {
		t.Fatalf("lookup employee: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret, EnableDevAuth: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:      "http://" + ln.Addr().String(),
		Engine:   e,
		Building: b,
		Owner:    owner,
		Employee: employee,
		client:   &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func authHeader(t *testing.T, userID string) map[string]string {
	t.Helper()
	token, err := signDevToken(testSecret, userID)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	env := decodeError(t, data)
	if env.Error.Code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %q", env.Error.Code)
	}
}

func TestDevLoginAndMe(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{
		"email": "olive@example.com",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("expected token, got %s", string(data))
	}

	meRes, meBody := doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if meRes.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", meRes.StatusCode, string(meBody))
	}
	var me struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if err := json.Unmarshal(meBody, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.ID != srv.Owner.ID || me.Role != "owner" {
		t.Fatalf("unexpected me response: %+v", me)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()

	rawKey := "uk_test_" + uuid.New().String()
	key := domain.APIKey{
		ID:      uuid.New().String(),
		UserID:  srv.Employee.ID,
		Name:    "ci",
		KeyHash: repo.HashAPIKey(rawKey),
	}
	if err := srv.Engine.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		t.Fatalf("insert api key: %v", err)
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{
		"X-Api-Key": rawKey,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me via api key status %d: %s", res.StatusCode, string(data))
	}
	var me struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(data, &me)
	if me.ID != srv.Employee.ID {
		t.Fatalf("expected employee identity, got %s", string(data))
	}
}

func TestTaskLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	ownerAuth := authHeader(t, srv.Owner.ID)

	createRes, createBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"building_id": srv.Building.ID,
		"summary":     "Replace hallway bulbs",
		"assignee":    srv.Employee.ID,
	}, ownerAuth)
	if createRes.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", createRes.StatusCode, string(createBody))
	}
	var created struct {
		ID       string           `json:"id"`
		Status   string           `json:"status"`
		Assignee *string          `json:"assignee"`
		Comments []map[string]any `json:"comments"`
	}
	if err := json.Unmarshal(createBody, &created); err != nil {
		t.Fatalf("unmarshal created: %v", err)
	}
	if created.Status != "open" {
		t.Fatalf("expected open, got %s", created.Status)
	}
	if created.Comments == nil || len(created.Comments) != 0 {
		t.Fatalf("expected empty comments array: %s", string(createBody))
	}
	if created.Assignee == nil || *created.Assignee != srv.Employee.ID {
		t.Fatalf("expected assignee set: %s", string(createBody))
	}

	patchRes, patchBody := doJSON(t, client, http.MethodPatch, srv.URL+"/v1/tasks/"+created.ID, map[string]any{
		"status": "in_progress",
	}, ownerAuth)
	if patchRes.StatusCode != http.StatusOK {
		t.Fatalf("patch status %d: %s", patchRes.StatusCode, string(patchBody))
	}
	var patched struct {
		Status   string  `json:"status"`
		Assignee *string `json:"assignee"`
	}
	_ = json.Unmarshal(patchBody, &patched)
	if patched.Status != "in_progress" {
		t.Fatalf("expected in_progress, got %s", patched.Status)
	}
	if patched.Assignee == nil || *patched.Assignee != srv.Employee.ID {
		t.Fatalf("status-only patch must keep assignee: %s", string(patchBody))
	}

	clearRes, clearBody := doJSON(t, client, http.MethodPatch, srv.URL+"/v1/tasks/"+created.ID, map[string]any{
		"assignee": nil,
	}, ownerAuth)
	if clearRes.StatusCode != http.StatusOK {
		t.Fatalf("clear status %d: %s", clearRes.StatusCode, string(clearBody))
	}
	var cleared struct {
		Assignee *string `json:"assignee"`
	}
	_ = json.Unmarshal(clearBody, &cleared)
	if cleared.Assignee != nil {
		t.Fatalf("expected assignee null after explicit null: %s", string(clearBody))
	}

	delRes, delBody := doJSON(t, client, http.MethodDelete, srv.URL+"/v1/tasks/"+created.ID, nil, ownerAuth)
	if delRes.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d: %s", delRes.StatusCode, string(delBody))
	}

	getRes, getBody := doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/"+created.ID, nil, ownerAuth)
	if getRes.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d: %s", getRes.StatusCode, string(getBody))
	}
	env := decodeError(t, getBody)
	if env.Error.Code != "not_found" {
		t.Fatalf("expected not_found code, got %q", env.Error.Code)
	}
}

func TestCreateTaskEmployeeGets403(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	// payload is also invalid; authorization must win
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"building_id": srv.Building.ID,
		"summary":     "",
	}, authHeader(t, srv.Employee.ID))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
	env := decodeError(t, data)
	if env.Error.Code != "forbidden" {
		t.Fatalf("expected forbidden code, got %q", env.Error.Code)
	}
}

func TestCreateTaskValidation422(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ownerAuth := authHeader(t, srv.Owner.ID)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"building_id": srv.Building.ID,
		"summary":     "   ",
	}, ownerAuth)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	env := decodeError(t, data)
	if env.Error.Code != "validation_failed" {
		t.Fatalf("expected validation_failed code, got %q", env.Error.Code)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"building_id": srv.Building.ID,
		"summary":     "ok",
		"assignee":    "no-such-user",
	}, ownerAuth)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad assignee, got %d: %s", res.StatusCode, string(data))
	}
}

func TestCommentEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	ownerAuth := authHeader(t, srv.Owner.ID)
	employeeAuth := authHeader(t, srv.Employee.ID)

	_, createBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"building_id": srv.Building.ID,
		"summary":     "Unclog drain",
	}, ownerAuth)
	var created struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(createBody, &created)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+created.ID+"/comments", map[string]any{
		"text": "started on it",
	}, employeeAuth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("comment status %d: %s", res.StatusCode, string(data))
	}
	var task struct {
		Comments []struct {
			UserID    string `json:"user_id"`
			Text      string `json:"text"`
			Timestamp string `json:"timestamp"`
		} `json:"comments"`
	}
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(task.Comments) != 1 || task.Comments[0].Text != "started on it" || task.Comments[0].UserID != srv.Employee.ID {
		t.Fatalf("unexpected comments: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+created.ID+"/comments", map[string]any{
		"text": "   ",
	}, employeeAuth)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for blank comment, got %d: %s", res.StatusCode, string(data))
	}
}

func TestListTasksAssigneeFilter(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	ownerAuth := authHeader(t, srv.Owner.ID)

	_, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"building_id": srv.Building.ID,
		"summary":     "unassigned",
	}, ownerAuth)
	_, assignedBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"building_id": srv.Building.ID,
		"summary":     "assigned",
		"assignee":    srv.Employee.ID,
	}, ownerAuth)
	var assigned struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(assignedBody, &assigned)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks?assignee="+srv.Employee.ID, nil, ownerAuth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var tasks []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &tasks); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != assigned.ID {
		t.Fatalf("assignee filter wrong: %s", string(data))
	}
}

func TestListTasksDateOnlyFilters(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	ownerAuth := authHeader(t, srv.Owner.ID)

	_, createBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"building_id": srv.Building.ID,
		"summary":     "dated",
	}, ownerAuth)
	var created struct {
		ID        string `json:"id"`
		CreatedAt string `json:"created_at"`
	}
	if err := json.Unmarshal(createBody, &created); err != nil {
		t.Fatalf("unmarshal created task: %v", err)
	}
	ts, err := time.Parse(time.RFC3339, created.CreatedAt)
	if err != nil {
		t.Fatalf("parse created_at: %v", err)
	}
	day := ts.UTC().Format("2006-01-02")
	nextDay := ts.UTC().AddDate(0, 0, 1).Format("2006-01-02")

	listIDs := func(query string) []string {
		t.Helper()
		res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks?"+query, nil, ownerAuth)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("list %q status %d: %s", query, res.StatusCode, string(data))
		}
		var tasks []struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(data, &tasks); err != nil {
			t.Fatalf("unmarshal list: %v", err)
		}
		ids := make([]string, 0, len(tasks))
		for _, task := range tasks {
			ids = append(ids, task.ID)
		}
		return ids
	}

	if ids := listIDs("date_from=" + day); len(ids) != 1 || ids[0] != created.ID {
		t.Fatalf("date_from=%s should match the task, got %v", day, ids)
	}
	// a bare date as upper bound covers the whole day
	if ids := listIDs("date_to=" + day); len(ids) != 1 || ids[0] != created.ID {
		t.Fatalf("date_to=%s should match the task, got %v", day, ids)
	}
	if ids := listIDs("date_from=" + nextDay); len(ids) != 0 {
		t.Fatalf("date_from=%s should match nothing, got %v", nextDay, ids)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks?date_from=not-a-date", nil, ownerAuth)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed date, got %d: %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Code != "bad_request" {
		t.Fatalf("expected bad_request code, got %s", env.Error.Code)
	}
}

func TestGetBuildingScoping(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	ownerAuth := authHeader(t, srv.Owner.ID)

	other, err := srv.Engine.Seed(context.Background(), engine.SeedOptions{BuildingName: "Oak Towers"})
	if err != nil {
		t.Fatalf("seed other building: %v", err)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/buildings/"+srv.Building.ID, nil, ownerAuth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("own building status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/buildings/"+other.ID, nil, ownerAuth)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign building, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/buildings/missing", nil, ownerAuth)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for missing building, got %d: %s", res.StatusCode, string(data))
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	ownerAuth := authHeader(t, srv.Owner.ID)

	_, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"building_id": srv.Building.ID,
		"summary":     "evented",
	}, ownerAuth)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?type=task.created", nil, ownerAuth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var page struct {
		Items []struct {
			Type string `json:"type"`
		} `json:"items"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Type != "task.created" {
		t.Fatalf("unexpected events page: %s", string(data))
	}
}

func TestHealthNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}
