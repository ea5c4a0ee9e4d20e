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

	"golang.org/x/net/websocket"

	"github.com/Anomyking/RP/internal/app"
	"github.com/Anomyking/RP/internal/db"
	"github.com/Anomyking/RP/internal/domain"
	"github.com/Anomyking/RP/internal/engine"
	"github.com/Anomyking/RP/internal/migrate"
	"github.com/Anomyking/RP/internal/notify"
	"github.com/Anomyking/RP/internal/repo"
	"github.com/Anomyking/RP/internal/ws"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Repo   repo.Repo
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn)
	r := e.Repo
	hub := ws.NewHub(r)
	rt := notify.NewRouter(r, hub)
	handler, err := New(Config{
		Engine:   e,
		Router:   rt,
		Hub:      hub,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret},
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
		URL:    "http://" + ln.Addr().String(),
		Repo:   r,
		client: &http.Client{},
		close: func() {
			hub.Shutdown()
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
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

func registerAccount(t *testing.T, srv *testServer, name, email string) (string, PrincipalResponse) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/register", map[string]any{
		"name":     name,
		"email":    email,
		"password": "hunter2hunter2",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register status %d: %s", res.StatusCode, string(data))
	}
	var out LoginResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	return out.Token, out.Principal
}

func loginStaff(t *testing.T, srv *testServer, email string, role domain.Role) (string, domain.Principal) {
	t.Helper()
	p, err := app.CreatePrincipal(context.Background(), srv.Repo, email, email, "hunter2hunter2", role)
	if err != nil {
		t.Fatalf("seed %s: %v", role, err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/login", map[string]any{
		"email":    email,
		"password": "hunter2hunter2",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", res.StatusCode, string(data))
	}
	var out LoginResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	return out.Token, p
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestRegisterLoginMe(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	token, principal := registerAccount(t, srv, "Jane", "jane@example.com")
	if principal.Role != "user" {
		t.Fatalf("registered role = %s, want user", principal.Role)
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, bearer(token))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var me PrincipalResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatal(err)
	}
	if me.ID != principal.ID {
		t.Fatalf("me.id = %s, want %s", me.ID, principal.ID)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated me = %d, want 401", res.StatusCode)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/login", map[string]any{
		"email":    "jane@example.com",
		"password": "wrong-password",
	}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login = %d, want 401", res.StatusCode)
	}
}

func TestDuplicateEmailConflicts(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	registerAccount(t, srv, "Jane", "jane@example.com")
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/register", map[string]any{
		"name":     "Other Jane",
		"email":    "jane@example.com",
		"password": "hunter2hunter2",
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register = %d: %s", res.StatusCode, string(data))
	}
}

func TestReportLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	userToken, _ := registerAccount(t, srv, "Jane", "jane@example.com")
	adminToken, _ := loginStaff(t, srv, "admin@example.com", domain.RoleAdmin)
	superToken, _ := loginStaff(t, srv, "super@example.com", domain.RoleSuperadmin)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports", map[string]any{
		"title":       "Pothole",
		"description": "Deep one on Main St",
	}, bearer(userToken))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create report %d: %s", res.StatusCode, string(data))
	}
	var rep ReportResponse
	if err := json.Unmarshal(data, &rep); err != nil {
		t.Fatal(err)
	}
	if rep.Status != "submitted" {
		t.Fatalf("new report status = %s", rep.Status)
	}

	// Reporter may not move the lifecycle.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports/"+rep.ID+"/transition", map[string]any{
		"target_status": "in_review",
	}, bearer(userToken))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("user transition = %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports/"+rep.ID+"/transition", map[string]any{
		"target_status": "in_review",
	}, bearer(adminToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin review = %d: %s", res.StatusCode, string(data))
	}
	var moved struct {
		Report     ReportResponse     `json:"report"`
		Transition TransitionResponse `json:"transition"`
	}
	if err := json.Unmarshal(data, &moved); err != nil {
		t.Fatal(err)
	}
	if moved.Report.Status != "in_review" || moved.Report.AssignedTo == nil {
		t.Fatalf("review result: %+v", moved.Report)
	}
	if moved.Transition.Seq != 1 {
		t.Fatalf("transition seq = %d", moved.Transition.Seq)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports/"+rep.ID+"/transition", map[string]any{
		"target_status": "escalated",
	}, bearer(adminToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("escalate = %d: %s", res.StatusCode, string(data))
	}

	// Escalations are the superadmin pool's to settle.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports/"+rep.ID+"/transition", map[string]any{
		"target_status": "resolved",
	}, bearer(adminToken))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("admin on escalated = %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports/"+rep.ID+"/transition", map[string]any{
		"target_status": "resolved",
	}, bearer(superToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("super resolve = %d: %s", res.StatusCode, string(data))
	}

	// Terminal: no edges out.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports/"+rep.ID+"/transition", map[string]any{
		"target_status": "in_review",
	}, bearer(superToken))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("transition after resolved = %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/reports/"+rep.ID+"/history", nil, bearer(userToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history = %d: %s", res.StatusCode, string(data))
	}
	var history struct {
		Items []TransitionResponse `json:"items"`
	}
	if err := json.Unmarshal(data, &history); err != nil {
		t.Fatal(err)
	}
	if len(history.Items) != 3 {
		t.Fatalf("history entries = %d, want 3", len(history.Items))
	}

	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports/missing/transition", map[string]any{
		"target_status": "in_review",
	}, bearer(adminToken))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing report = %d", res.StatusCode)
	}
}

func TestReportVisibilityScoping(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	janeToken, _ := registerAccount(t, srv, "Jane", "jane@example.com")
	bobToken, _ := registerAccount(t, srv, "Bob", "bob@example.com")
	adminToken, _ := loginStaff(t, srv, "admin@example.com", domain.RoleAdmin)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports", map[string]any{
		"title":       "Jane's report",
		"description": "private",
	}, bearer(janeToken))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d: %s", res.StatusCode, string(data))
	}
	var rep ReportResponse
	if err := json.Unmarshal(data, &rep); err != nil {
		t.Fatal(err)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/reports/"+rep.ID, nil, bearer(bobToken))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("cross-owner get = %d, want 404", res.StatusCode)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/reports", nil, bearer(bobToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list = %d", res.StatusCode)
	}
	var listing paginatedReports
	if err := json.Unmarshal(data, &listing); err != nil {
		t.Fatal(err)
	}
	if len(listing.Items) != 0 {
		t.Fatalf("bob sees %d foreign reports", len(listing.Items))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/reports", nil, bearer(adminToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("staff list = %d", res.StatusCode)
	}
	if err := json.Unmarshal(data, &listing); err != nil {
		t.Fatal(err)
	}
	if len(listing.Items) != 1 {
		t.Fatalf("staff sees %d reports, want 1", len(listing.Items))
	}
}

func TestNotificationInboxAndAck(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	userToken, _ := registerAccount(t, srv, "Jane", "jane@example.com")
	adminToken, _ := loginStaff(t, srv, "admin@example.com", domain.RoleAdmin)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports", map[string]any{
		"title":       "Pothole",
		"description": "Deep one",
	}, bearer(userToken))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d: %s", res.StatusCode, string(data))
	}
	var rep ReportResponse
	if err := json.Unmarshal(data, &rep); err != nil {
		t.Fatal(err)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports/"+rep.ID+"/transition", map[string]any{
		"target_status": "in_review",
	}, bearer(adminToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("transition = %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/notifications", nil, bearer(userToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("inbox = %d: %s", res.StatusCode, string(data))
	}
	var inbox paginatedNotifications
	if err := json.Unmarshal(data, &inbox); err != nil {
		t.Fatal(err)
	}
	if len(inbox.Items) != 1 {
		t.Fatalf("inbox size = %d, want 1", len(inbox.Items))
	}
	note := inbox.Items[0]
	if note.ReadAt != nil {
		t.Fatal("fresh notification already read")
	}

	// A recipient can only ack their own records.
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/notifications/"+note.ID+"/ack", nil, bearer(adminToken))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("cross-recipient ack = %d, want 404", res.StatusCode)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/notifications/"+note.ID+"/ack", nil, bearer(userToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("ack = %d: %s", res.StatusCode, string(data))
	}
	var acked NotificationResponse
	if err := json.Unmarshal(data, &acked); err != nil {
		t.Fatal(err)
	}
	if acked.ReadAt == nil {
		t.Fatal("ack did not set read_at")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/notifications?unread=true", nil, bearer(userToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("unread filter = %d", res.StatusCode)
	}
	if err := json.Unmarshal(data, &inbox); err != nil {
		t.Fatal(err)
	}
	if len(inbox.Items) != 0 {
		t.Fatalf("unread inbox size = %d after ack, want 0", len(inbox.Items))
	}
}

func TestAdminEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	userToken, _ := registerAccount(t, srv, "Jane", "jane@example.com")
	superToken, _ := loginStaff(t, srv, "super@example.com", domain.RoleSuperadmin)

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/admin/principals", nil, bearer(userToken))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("user on admin surface = %d, want 403", res.StatusCode)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/admin/principals", map[string]any{
		"name":     "New Admin",
		"email":    "new-admin@example.com",
		"password": "hunter2hunter2",
		"role":     "admin",
	}, bearer(superToken))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create principal = %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/admin/principals?role=admin", nil, bearer(superToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list principals = %d", res.StatusCode)
	}
	var listing struct {
		Items []PrincipalResponse `json:"items"`
	}
	if err := json.Unmarshal(data, &listing); err != nil {
		t.Fatal(err)
	}
	if len(listing.Items) != 1 {
		t.Fatalf("admin listing = %d, want 1", len(listing.Items))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/admin/events", nil, bearer(superToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events = %d: %s", res.StatusCode, string(data))
	}
}

type wireFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func readFrame(t *testing.T, conn *websocket.Conn) wireFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f wireFrame
	if err := json.NewDecoder(conn).Decode(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func TestWebSocketLiveDelivery(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	userToken, _ := registerAccount(t, srv, "Jane", "jane@example.com")
	adminToken, _ := loginStaff(t, srv, "admin@example.com", domain.RoleAdmin)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports", map[string]any{
		"title":       "Pothole",
		"description": "Deep one",
	}, bearer(userToken))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d: %s", res.StatusCode, string(data))
	}
	var rep ReportResponse
	if err := json.Unmarshal(data, &rep); err != nil {
		t.Fatal(err)
	}

	wsURL := "ws" + srv.URL[len("http"):] + "/ws?token=" + userToken
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()

	if f := readFrame(t, conn); f.Type != ws.FrameConnectionStatus {
		t.Fatalf("first frame = %s, want %s", f.Type, ws.FrameConnectionStatus)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports/"+rep.ID+"/transition", map[string]any{
		"target_status": "in_review",
	}, bearer(adminToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("transition = %d: %s", res.StatusCode, string(data))
	}

	f := readFrame(t, conn)
	if f.Type != ws.FrameNotification {
		t.Fatalf("frame type = %s, want %s", f.Type, ws.FrameNotification)
	}
	var note NotificationResponse
	if err := json.Unmarshal(f.Payload, &note); err != nil {
		t.Fatalf("decode notification: %v", err)
	}
	if note.ReportID != rep.ID {
		t.Fatalf("notification report = %s, want %s", note.ReportID, rep.ID)
	}

	// Ack over the socket, expect the echoed record with read_at set.
	ack := map[string]any{
		"type":    ws.FrameAck,
		"payload": map[string]string{"notification_id": note.ID},
	}
	if err := json.NewEncoder(conn).Encode(ack); err != nil {
		t.Fatalf("send ack: %v", err)
	}
	reply := readFrame(t, conn)
	if reply.Type != ws.FrameAck {
		t.Fatalf("reply type = %s, want %s", reply.Type, ws.FrameAck)
	}
	var acked NotificationResponse
	if err := json.Unmarshal(reply.Payload, &acked); err != nil {
		t.Fatal(err)
	}
	if acked.ReadAt == nil {
		t.Fatal("socket ack did not set read_at")
	}
}

func TestWebSocketBacklogDrainOnConnect(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	userToken, _ := registerAccount(t, srv, "Jane", "jane@example.com")
	adminToken, _ := loginStaff(t, srv, "admin@example.com", domain.RoleAdmin)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports", map[string]any{
		"title":       "Pothole",
		"description": "Deep one",
	}, bearer(userToken))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d: %s", res.StatusCode, string(data))
	}
	var rep ReportResponse
	if err := json.Unmarshal(data, &rep); err != nil {
		t.Fatal(err)
	}

	// Transition while the reporter is offline.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports/"+rep.ID+"/transition", map[string]any{
		"target_status": "in_review",
	}, bearer(adminToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("transition = %d: %s", res.StatusCode, string(data))
	}

	wsURL := "ws" + srv.URL[len("http"):] + "/ws?token=" + userToken
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()

	if f := readFrame(t, conn); f.Type != ws.FrameConnectionStatus {
		t.Fatalf("first frame = %s", f.Type)
	}
	f := readFrame(t, conn)
	if f.Type != ws.FrameNotification {
		t.Fatalf("backlog frame = %s, want %s", f.Type, ws.FrameNotification)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/notifications", nil, bearer(userToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("inbox = %d", res.StatusCode)
	}
	var inbox paginatedNotifications
	if err := json.Unmarshal(data, &inbox); err != nil {
		t.Fatal(err)
	}
	if len(inbox.Items) != 1 || inbox.Items[0].DeliveredAt == nil {
		t.Fatalf("backlog record not marked delivered: %+v", inbox.Items)
	}
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	wsURL := "ws" + srv.URL[len("http"):] + "/ws?token=garbage"
	if _, err := websocket.Dial(wsURL, "", srv.URL); err == nil {
		t.Fatal("expected dial failure with invalid token")
	}
}
