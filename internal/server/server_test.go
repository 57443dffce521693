package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"dispatchline/internal/config"
	"dispatchline/internal/db"
	"dispatchline/internal/domain"
	"dispatchline/internal/migrate"
	"dispatchline/internal/repo"
	"dispatchline/internal/routing"
)

const testAPIKey = "test-api-key"
const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	Repo   repo.Repo
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, appCfg *config.Config) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if appCfg == nil {
		appCfg = config.Default()
	}
	r := repo.Repo{DB: conn}
	if err := r.InsertAPIKey(context.Background(), domain.APIKey{
		ID:        "key-test",
		ActorID:   "tester",
		Name:      "tests",
		KeyHash:   repo.HashAPIKey(testAPIKey),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		t.Fatalf("seed api key: %v", err)
	}
	eng := routing.New(r, appCfg)
	handler, err := New(Config{
		Repo:      r,
		Engine:    eng,
		AppConfig: appCfg,
		BasePath:  "/v0",
		Auth:      AuthConfig{JWTSecret: testJWTSecret},
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
	req.Header.Set("X-Api-Key", testAPIKey)
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

// seedCatalog provisions one vendor handling svc-logo through the API.
func seedCatalog(t *testing.T, srv *testServer) {
	t.Helper()
	seedVendorOnline(t, srv)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/rules", map[string]any{
		"id":       "rule-1",
		"name":     "default",
		"target":   "vendor",
		"priority": 10,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create rule: %d %s", res.StatusCode, string(data))
	}
}

// seedVendorOnline brings vendor-a into routable shape for svc-logo
// without touching rules.
func seedVendorOnline(t *testing.T, srv *testServer) {
	t.Helper()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/vendors", map[string]any{
		"id":   "vendor-a",
		"name": "Studio A",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create vendor: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/vendors/vendor-a/capacities/svc-logo", map[string]any{
		"daily_capacity": 5,
		"auto_assign":    true,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set capacity: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/vendors/vendor-a/prices/svc-logo", map[string]any{
		"price_cents": 4900,
		"active":      true,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set price: %d %s", res.StatusCode, string(data))
	}
}

func TestCreateRequestAutoAssigns(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	seedCatalog(t, srv)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests", map[string]any{
		"service_id": "svc-logo",
		"client_id":  "client-1",
		"title":      "logo refresh",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create request: %d %s", res.StatusCode, string(data))
	}
	var run RouteRunResponse
	if err := json.Unmarshal(data, &run); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if run.Result.Status != domain.AutoAssignAssigned {
		t.Fatalf("result status %s: %s", run.Result.Status, string(data))
	}
	if run.Request.VendorID == nil || *run.Request.VendorID != "vendor-a" {
		t.Fatalf("vendor not persisted: %+v", run.Request)
	}

	auditRes, auditData := doJSON(t, client, http.MethodGet, srv.URL+"/v0/requests/"+run.Request.ID+"/audit", nil, nil)
	if auditRes.StatusCode != http.StatusOK {
		t.Fatalf("audit: %d %s", auditRes.StatusCode, string(auditData))
	}
	var entries []domain.AuditLogEntry
	if err := json.Unmarshal(auditData, &entries); err != nil {
		t.Fatalf("unmarshal audit: %v", err)
	}
	if len(entries) != 2 || entries[1].Outcome != domain.AuditOutcomeSelected {
		t.Fatalf("unexpected audit trail: %+v", entries)
	}
}

func TestCreateRequestWithoutRules(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests", map[string]any{
		"service_id": "svc-logo",
		"client_id":  "client-1",
		"title":      "no rules yet",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create request: %d %s", res.StatusCode, string(data))
	}
	var run RouteRunResponse
	_ = json.Unmarshal(data, &run)
	if run.Result.Status != domain.AutoAssignNotAttempted {
		t.Fatalf("expected not_attempted, got %s", run.Result.Status)
	}
}

func TestRouteRerunAfterCapacityAppears(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()

	// Rule exists but no vendor capacity yet.
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/rules", map[string]any{
		"id": "rule-1", "name": "default", "target": "vendor", "priority": 1,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create rule: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests", map[string]any{
		"service_id": "svc-logo", "client_id": "client-1", "title": "early bird",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create request: %d %s", res.StatusCode, string(data))
	}
	var run RouteRunResponse
	_ = json.Unmarshal(data, &run)
	if run.Result.Status != domain.AutoAssignFailedNoVendor {
		t.Fatalf("expected failed_no_vendor, got %s", run.Result.Status)
	}

	seedVendorOnline(t, srv) // vendor comes online, rule-1 already exists
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+run.Request.ID+"/route", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("route rerun: %d %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &run)
	if run.Result.Status != domain.AutoAssignAssigned {
		t.Fatalf("expected assigned after rerun, got %s: %s", run.Result.Status, string(data))
	}
}

func TestRouteRerunSkipsLocked(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	seedCatalog(t, srv)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests", map[string]any{
		"service_id": "svc-logo", "client_id": "client-1", "title": "locked", "auto_assign": false,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}
	var run RouteRunResponse
	_ = json.Unmarshal(data, &run)

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/requests/"+run.Request.ID+"/lock", map[string]any{"locked": true}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("lock: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+run.Request.ID+"/route", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("route: %d %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &run)
	if run.Result.Status != domain.AutoAssignNotAttempted || run.Request.VendorID != nil {
		t.Fatalf("locked request was routed: %s", string(data))
	}
}

func TestManualAssignRejectsForeignDesigner(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	seedCatalog(t, srv)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/vendors", map[string]any{
		"id": "vendor-b", "name": "Studio B",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create vendor-b: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/vendors/vendor-b/designers", map[string]any{
		"id": "designer-b", "name": "Bea",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create designer: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests", map[string]any{
		"service_id": "svc-logo", "client_id": "client-1", "title": "manual", "auto_assign": false,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create request: %d %s", res.StatusCode, string(data))
	}
	var run RouteRunResponse
	_ = json.Unmarshal(data, &run)

	// designer-b belongs to vendor-b, not vendor-a
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+run.Request.ID+"/assign", map[string]any{
		"vendor_id": "vendor-a", "designer_id": "designer-b",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+run.Request.ID+"/assign", map[string]any{
		"vendor_id": "vendor-b", "designer_id": "designer-b",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("manual assign: %d %s", res.StatusCode, string(data))
	}
	var assigned domain.ServiceRequest
	_ = json.Unmarshal(data, &assigned)
	if assigned.Status != domain.RequestStatusInProgress || assigned.DesignerID == nil {
		t.Fatalf("unexpected request after manual assign: %s", string(data))
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/vendors", nil)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}

	// Health stays open.
	healthRes, err := srv.Client().Get(srv.URL + "/v0/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer healthRes.Body.Close()
	if healthRes.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", healthRes.StatusCode)
	}
}

func TestJWTAuth(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "jwt-user"})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/vendors", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d", res.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/v0/vendors", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	res, err = srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", res.StatusCode)
	}
}

func TestWebhookDelivery(t *testing.T) {
	received := make(chan webhookPayload, 16)
	hookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload webhookPayload
		_ = json.NewDecoder(r.Body).Decode(&payload)
		received <- payload
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hookSrv.Close()

	appCfg := config.Default()
	appCfg.Webhooks = []config.WebhookConfig{{
		URL:      hookSrv.URL,
		Outcomes: []string{domain.AuditOutcomeSelected},
	}}
	srv, cleanup := newTestServer(t, appCfg)
	defer cleanup()
	seedCatalog(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/requests", map[string]any{
		"service_id": "svc-logo", "client_id": "client-1", "title": "hooked",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create request: %d %s", res.StatusCode, string(data))
	}

	select {
	case payload := <-received:
		if payload.Outcome != domain.AuditOutcomeSelected {
			t.Fatalf("unexpected outcome %s", payload.Outcome)
		}
		if payload.ChosenID == nil || *payload.ChosenID != "vendor-a" {
			t.Fatalf("unexpected payload: %+v", payload)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("webhook delivery timed out")
	}
}
