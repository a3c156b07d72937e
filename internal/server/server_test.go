package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"opsdesk/internal/config"
	"opsdesk/internal/conversation"
	"opsdesk/internal/db"
	"opsdesk/internal/domain"
	"opsdesk/internal/engine"
	"opsdesk/internal/events"
	"opsdesk/internal/logging"
	"opsdesk/internal/migrate"
)

const testSecret = "test-secret"

func testConfig() *config.Config {
	cfg := config.Default("portal-1")
	cfg.Directory = config.Directory{
		Members: []config.MemberSeed{
			{ID: "lead1", Name: "Lan", Role: "lead"},
			{ID: "u1", Name: "Minh", Role: "staff"},
			{ID: "u3", Name: "Tuan", Role: "staff"},
		},
		Departments: []config.DepartmentSeed{{ID: "d_kho", Name: "Kho"}},
		Groups: []config.GroupSeed{
			{
				ID: "g1", Name: "Nhận hàng", Members: []string{"lead1", "u1"},
				WorkTypes: []config.WorkTypeSeed{{
					ID: "wt_nhan_hang", Name: "Nhận hàng",
					Variants: []config.VariantSeed{
						{ID: "v1", Name: "A", Default: true, Template: []string{"Kiểm đếm", "Ký xác nhận"}},
					},
				}},
			},
			{
				ID: "g2", Name: "Giao hàng", Members: []string{"lead1", "u3"},
				WorkTypes: []config.WorkTypeSeed{{ID: "wt_giao", Name: "Giao hàng"}},
			},
		},
	}
	return cfg
}

type testServer struct {
	*httptest.Server
	Engine engine.Engine
}

func newTestEngine(t *testing.T, cfg *config.Config) engine.Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Logger = logging.Discard()
	e.Now = func() time.Time { return time.Date(2024, 1, 1, 8, 30, 0, 0, time.UTC) }
	e.Conversations = conversation.Store{DB: conn, Now: e.Now}
	ctx := context.Background()
	if err := e.Repo.UpsertPortalConfig(ctx, cfg.Portal.ID, cfg); err != nil {
		t.Fatalf("seed portal config: %v", err)
	}
	if _, err := e.ImportDirectory(ctx, cfg, "admin"); err != nil {
		t.Fatalf("import directory: %v", err)
	}
	return e
}

func newTestServer(t *testing.T, mutate func(*engine.Engine)) *testServer {
	t.Helper()
	return newTestServerWithAuth(t, mutate, AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true})
}

func newTestServerWithAuth(t *testing.T, mutate func(*engine.Engine), authCfg AuthConfig) *testServer {
	t.Helper()
	e := newTestEngine(t, testConfig())
	if mutate != nil {
		mutate(&e)
	}
	authCfg.Logger = logging.Discard()
	store := conversation.Store{DB: e.DB, Now: e.Now}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     authCfg,
		Messages: &store,
		Logger:   logging.Discard(),
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, Engine: e}
}

func as(actorID string) map[string]string {
	return map[string]string{"X-Actor-Id": actorID}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
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
	Error apiErrorBody `json:"error"`
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, data)
	}
	return env.Error
}

func (s *testServer) createTask(t *testing.T, title string) domain.Task {
	t.Helper()
	res, data := doJSON(t, s.Client(), http.MethodPost, s.URL+"/v0/tasks", map[string]any{
		"work_type_id": "wt_nhan_hang",
		"assign_to":    "u1",
		"title":        title,
	}, as("lead1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, data)
	}
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	return task
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t, nil)
	client := srv.Client()
	task := srv.createTask(t, "PO#1")
	if task.Status.Code != domain.StatusTodo || len(task.Checklist) != 2 {
		t.Fatalf("unexpected created task %+v", task)
	}

	statusURL := srv.URL + "/v0/tasks/" + task.ID + "/status"
	for _, next := range []string{domain.StatusDoing, domain.StatusNeedToVerified} {
		res, data := doJSON(t, client, http.MethodPost, statusURL, map[string]any{"status": next}, as("u1"))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("move to %s: %d %s", next, res.StatusCode, data)
		}
	}

	res, data := doJSON(t, client, http.MethodPost, statusURL, map[string]any{"status": domain.StatusFinished}, as("u1"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("staff finish: expected 409, got %d %s", res.StatusCode, data)
	}
	apiErr := decodeError(t, data)
	if apiErr.Code != "illegal_transition" || apiErr.Details["from"] != domain.StatusNeedToVerified || apiErr.Details["to"] != domain.StatusFinished {
		t.Fatalf("unexpected error body %+v", apiErr)
	}

	res, data = doJSON(t, client, http.MethodPost, statusURL, map[string]any{"status": domain.StatusFinished}, as("lead1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("lead finish: %d %s", res.StatusCode, data)
	}
	var finished domain.Task
	if err := json.Unmarshal(data, &finished); err != nil {
		t.Fatal(err)
	}
	if finished.Status.Code != domain.StatusFinished || finished.FinishedAt == nil {
		t.Fatalf("unexpected finished task %+v", finished)
	}
	if finished.Permissions == nil || *finished.Permissions != (domain.Permissions{}) {
		t.Fatalf("finished task must allow no moves, got %+v", finished.Permissions)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/groups/g1/status", nil, as("u1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("group status: %d %s", res.StatusCode, data)
	}
	var counts map[string]int
	if err := json.Unmarshal(data, &counts); err != nil {
		t.Fatal(err)
	}
	want := map[string]int{
		domain.StatusTodo:           0,
		domain.StatusDoing:          0,
		domain.StatusNeedToVerified: 0,
		domain.StatusFinished:       1,
	}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Fatalf("counts mismatch (-want +got):\n%s", diff)
	}
}

func TestStaffCannotCreateTask(t *testing.T) {
	srv := newTestServer(t, nil)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"work_type_id": "wt_nhan_hang",
		"assign_to":    "u1",
		"title":        "PO#2",
	}, as("u1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, data)
	}
	if apiErr := decodeError(t, data); apiErr.Code != "forbidden" {
		t.Fatalf("unexpected code %q", apiErr.Code)
	}
}

func TestUnknownTaskIsNotFound(t *testing.T) {
	srv := newTestServer(t, nil)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks/missing", nil, as("lead1"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, data)
	}
	if apiErr := decodeError(t, data); apiErr.Code != "not_found" {
		t.Fatalf("unexpected code %q", apiErr.Code)
	}
}

func TestAuthentication(t *testing.T) {
	srv := newTestServerWithAuth(t, nil, AuthConfig{JWTSecret: testSecret, EnableDevLogin: true})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": "u1"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, data)
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("missing token: %v %s", err, data)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, data)
	}
	var me WhoAmIResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(WhoAmIResponse{ActorID: "u1", Role: "staff", Source: "jwt"}, me); diff != "" {
		t.Fatalf("me mismatch (-want +got):\n%s", diff)
	}
}

func TestDevLoginDisabledByDefault(t *testing.T) {
	srv := newTestServer(t, nil)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": "u1"}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for dev login when disabled, got %d %s", res.StatusCode, data)
	}
}

func TestDevLoginRejectsUnknownActor(t *testing.T) {
	srv := newTestServerWithAuth(t, nil, AuthConfig{JWTSecret: testSecret, EnableDevLogin: true})
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": "ghost"}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown actor, got %d %s", res.StatusCode, data)
	}
}

func TestTokenRoleClaimDoesNotOverrideDirectory(t *testing.T) {
	srv := newTestServer(t, nil)
	token, err := signDevToken(testSecret, "u1", "lead")
	if err != nil {
		t.Fatal(err)
	}
	bearer := map[string]string{"Authorization": "Bearer " + token}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, bearer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, data)
	}
	var me WhoAmIResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatal(err)
	}
	if me.Role != "staff" {
		t.Fatalf("expected directory role staff, got %q", me.Role)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"work_type_id": "wt_nhan_hang",
		"assign_to":    "u1",
		"title":        "PO#3",
	}, bearer)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("staff with lead claim: expected 403, got %d %s", res.StatusCode, data)
	}

	token, err = signDevToken(testSecret, "ghost", "lead")
	if err != nil {
		t.Fatal(err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"work_type_id": "wt_nhan_hang",
		"assign_to":    "u1",
		"title":        "PO#4",
	}, map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("unknown actor with lead claim: expected 403, got %d %s", res.StatusCode, data)
	}
}

func TestIntakeReceiveDuplicateAndResolve(t *testing.T) {
	srv := newTestServer(t, nil)
	client := srv.Client()
	body := map[string]any{"message_id": "m1", "group_id": "g1", "sender": "Khách", "text": "Hàng về kho\nchi tiết"}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/intake", body, as("u1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("receive: %d %s", res.StatusCode, data)
	}
	var first ReceiveResponse
	if err := json.Unmarshal(data, &first); err != nil {
		t.Fatal(err)
	}
	if first.Duplicate || first.Info.Title != "Hàng về kho" || first.Info.Status != domain.IntakeWaiting {
		t.Fatalf("unexpected receive response %+v", first)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/intake", body, as("u1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("duplicate receive: expected 200, got %d %s", res.StatusCode, data)
	}
	var dup ReceiveResponse
	if err := json.Unmarshal(data, &dup); err != nil {
		t.Fatal(err)
	}
	if !dup.Duplicate || dup.Info.ID != first.Info.ID || dup.Notice == "" {
		t.Fatalf("unexpected duplicate response %+v", dup)
	}

	assignURL := srv.URL + "/v0/intake/" + first.Info.ID + "/assign"
	assign := map[string]any{"work_type_id": "wt_nhan_hang", "assign_to": "u1"}
	res, data = doJSON(t, client, http.MethodPost, assignURL, assign, as("lead1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("assign: %d %s", res.StatusCode, data)
	}
	var resolved ResolveResponse
	if err := json.Unmarshal(data, &resolved); err != nil {
		t.Fatal(err)
	}
	if resolved.Info.Status != domain.IntakeAssigned || resolved.Task == nil || resolved.Task.Title != "Hàng về kho" {
		t.Fatalf("unexpected resolve response %+v", resolved)
	}

	res, data = doJSON(t, client, http.MethodPost, assignURL, assign, as("lead1"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second assign: expected 409, got %d %s", res.StatusCode, data)
	}
	if apiErr := decodeError(t, data); apiErr.Code != "already_resolved" {
		t.Fatalf("unexpected code %q", apiErr.Code)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/groups/g1/messages", nil, as("u1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list messages: %d %s", res.StatusCode, data)
	}
	var msgs paginatedMessages
	if err := json.Unmarshal(data, &msgs); err != nil {
		t.Fatal(err)
	}
	var receipts, annotated int
	for _, m := range msgs.Items {
		if m.Kind == conversation.KindSystem && m.Text == "u1 received this message at 2024-01-01T08:30:00Z" {
			receipts++
		}
		if m.MessageID != nil && *m.MessageID == "m1" && m.TaskID != nil && *m.TaskID == resolved.Task.ID {
			annotated++
		}
	}
	if receipts != 1 || annotated != 1 {
		t.Fatalf("expected one receipt and one annotated message, got %+v", msgs.Items)
	}
}

func TestTaskListPagination(t *testing.T) {
	srv := newTestServer(t, nil)
	client := srv.Client()
	a := srv.createTask(t, "PO#1")
	b := srv.createTask(t, "PO#2")

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks?group_id=g1&limit=1", nil, as("lead1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list page 1: %d %s", res.StatusCode, data)
	}
	var page1 paginatedTasks
	if err := json.Unmarshal(data, &page1); err != nil {
		t.Fatal(err)
	}
	if len(page1.Items) != 1 || page1.NextCursor == "" {
		t.Fatalf("unexpected first page %+v", page1)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks?group_id=g1&limit=1&cursor="+page1.NextCursor, nil, as("lead1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list page 2: %d %s", res.StatusCode, data)
	}
	var page2 paginatedTasks
	if err := json.Unmarshal(data, &page2); err != nil {
		t.Fatal(err)
	}
	if len(page2.Items) != 1 || page2.NextCursor != "" {
		t.Fatalf("unexpected second page %+v", page2)
	}
	got := map[string]bool{page1.Items[0].ID: true, page2.Items[0].ID: true}
	if !got[a.ID] || !got[b.ID] {
		t.Fatalf("pages must cover both tasks, got %v", got)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks?cursor=broken", nil, as("lead1"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad cursor: expected 400, got %d %s", res.StatusCode, data)
	}
}

type rejectingCommitter struct{}

func (rejectingCommitter) Commit(context.Context, engine.Mutation) error {
	return errors.New("remote unavailable")
}

func TestRemoteCommitFailureIsBadGateway(t *testing.T) {
	srv := newTestServer(t, func(e *engine.Engine) { e.Committer = rejectingCommitter{} })
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"work_type_id": "wt_nhan_hang",
		"assign_to":    "u1",
		"title":        "PO#1",
	}, as("lead1"))
	if res.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d %s", res.StatusCode, data)
	}
	apiErr := decodeError(t, data)
	if apiErr.Code != "remote_commit_failed" || apiErr.Details["retryable"] != true || apiErr.Details["op"] != engine.OpTaskCreate {
		t.Fatalf("unexpected error body %+v", apiErr)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks", nil, as("lead1"))
	var page paginatedTasks
	if err := json.Unmarshal(data, &page); err != nil || res.StatusCode != http.StatusOK {
		t.Fatalf("list tasks: %d %s", res.StatusCode, data)
	}
	if len(page.Items) != 0 {
		t.Fatalf("rejected create must not persist, got %d tasks", len(page.Items))
	}
}

type capturedHook struct {
	headers http.Header
	body    webhookEvent
}

func TestWebhookDispatcherDeliversScopedEvents(t *testing.T) {
	var (
		mu       sync.Mutex
		received []capturedHook
	)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		received = append(received, capturedHook{headers: r.Header.Clone(), body: evt})
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(receiver.Close)

	cfg := testConfig()
	cfg.Webhooks = []config.WebhookConfig{{
		URL:    receiver.URL,
		Events: []string{events.TaskCreated},
		Groups: []string{"g2"},
		Secret: "s3cret",
	}}
	e := newTestEngine(t, cfg)
	d := newWebhookDispatcher(e, logging.Discard())
	if d == nil {
		t.Fatal("expected dispatcher for configured webhook")
	}
	ctx := context.Background()
	d.dispatchAll(ctx)

	lead := e.Auth.ResolveActor(ctx, "lead1")
	if _, err := e.CreateFromIntake(ctx, lead, engine.CreateTaskOptions{WorkTypeID: "wt_nhan_hang", AssignTo: "u1", Title: "g1 task"}); err != nil {
		t.Fatal(err)
	}
	created, err := e.CreateFromIntake(ctx, lead, engine.CreateTaskOptions{WorkTypeID: "wt_giao", AssignTo: "u3", Title: "g2 task"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.ChangeStatus(ctx, e.Auth.ResolveActor(ctx, "u3"), created.ID, domain.StatusDoing); err != nil {
		t.Fatal(err)
	}
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(received))
	}
	got := received[0]
	if got.body.Type != events.TaskCreated || got.body.GroupID != "g2" || got.body.EntityID != created.ID || got.body.PortalID != "portal-1" {
		t.Fatalf("unexpected delivery %+v", got.body)
	}
	if got.headers.Get("X-Opsdesk-Event") != events.TaskCreated || got.headers.Get("X-Opsdesk-Secret") != "s3cret" || got.headers.Get("X-Opsdesk-Portal") != "portal-1" {
		t.Fatalf("unexpected headers %v", got.headers)
	}
}

func TestWebhookDispatcherDisabledWithoutHooks(t *testing.T) {
	e := newTestEngine(t, testConfig())
	if d := newWebhookDispatcher(e, nil); d != nil {
		t.Fatal("expected no dispatcher without webhooks")
	}
}
