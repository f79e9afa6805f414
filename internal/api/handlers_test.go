package api

import (
    "bytes"
    "context"
    "encoding/json"
    "net/http"
    "net/http/httptest"
    "testing"

    "fleetvision/internal/config"
    "fleetvision/internal/model"
    "fleetvision/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Memory) {
    t.Helper()
    s, err := NewServer(&config.Config{Port: "0", WebhookMaxAttempts: 3})
    if err != nil { t.Fatalf("NewServer: %v", err) }
    return s, s.Store.(*store.Memory)
}

func TestHealthReady(t *testing.T) {
    s, _ := newTestServer(t)
    rr := httptest.NewRecorder()
    s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
    if rr.Code != 200 { t.Fatalf("health: got %d", rr.Code) }
    rr = httptest.NewRecorder()
    s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
    if rr.Code != 200 { t.Fatalf("ready: got %d", rr.Code) }
}

func TestTelemetryWebhookBatch(t *testing.T) {
    s, mem := newTestServer(t)
    mem.SeedVehicle(model.Vehicle{TenantID: "t_demo", DeviceID: 7, Name: "Truck 7"})

    body := []byte(`[{"deviceId":7,"latitude":-23.5,"longitude":-46.6,"speed":10,"attributes":{"ignition":true}},{"deviceId":999,"latitude":1,"longitude":1}]`)
    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, "/v1/telemetry/positions", bytes.NewReader(body))
    req.Header.Set("Content-Type", "application/json")
    s.TelemetryHandler(rr, req)
    if rr.Code != 200 { t.Fatalf("telemetry: got %d body=%s", rr.Code, rr.Body) }
    var res struct{ Processed, Skipped int }
    if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil { t.Fatal(err) }
    if res.Processed != 1 || res.Skipped != 1 {
        t.Fatalf("result = %+v", res)
    }
}

func TestTelemetryWebhookSingleObject(t *testing.T) {
    s, mem := newTestServer(t)
    mem.SeedVehicle(model.Vehicle{TenantID: "t_demo", DeviceID: 7})

    body := []byte(`{"deviceId":7,"latitude":1,"longitude":2,"speed":0}`)
    rr := httptest.NewRecorder()
    s.TelemetryHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/telemetry/positions", bytes.NewReader(body)))
    if rr.Code != 200 { t.Fatalf("telemetry single: got %d", rr.Code) }
}

func TestTelemetryWebhookBadJSON(t *testing.T) {
    s, _ := newTestServer(t)
    rr := httptest.NewRecorder()
    s.TelemetryHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/telemetry/positions", bytes.NewReader([]byte(`{nope`))))
    if rr.Code != http.StatusBadRequest { t.Fatalf("got %d", rr.Code) }
}

func TestRouteCreateGetOptimize(t *testing.T) {
    s, _ := newTestServer(t)
    body := []byte(`{"name":"morning run","date":"2026-03-14","stops":[
        {"address":"A","latitude":0,"longitude":0},
        {"address":"B","latitude":0,"longitude":1},
        {"address":"C","latitude":0,"longitude":3},
        {"address":"D","latitude":0,"longitude":0.5}]}`)
    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, "/v1/routes", bytes.NewReader(body))
    s.RoutesHandler(rr, req)
    if rr.Code != http.StatusCreated { t.Fatalf("create: %d body=%s", rr.Code, rr.Body) }
    var rt model.Route
    if err := json.Unmarshal(rr.Body.Bytes(), &rt); err != nil { t.Fatal(err) }
    if rt.Status != model.RouteDraft { t.Fatalf("status = %q", rt.Status) }

    rr = httptest.NewRecorder()
    s.RouteByIDHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/routes/"+rt.ID+"/optimize", nil))
    if rr.Code != 200 { t.Fatalf("optimize: %d body=%s", rr.Code, rr.Body) }
    var res struct {
        Status  string       `json:"status"`
        TotalKm float64      `json:"total_km_previsto"`
        Stops   []model.Stop `json:"stops"`
    }
    if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil { t.Fatal(err) }
    if res.Status != model.RouteOptimized { t.Fatalf("status = %q", res.Status) }
    if res.TotalKm <= 0 { t.Fatalf("total km = %v", res.TotalKm) }
    // greedy order from the first stop: A, D, B, C
    wantAddr := []string{"A", "D", "B", "C"}
    if len(res.Stops) != 4 { t.Fatalf("stops = %d", len(res.Stops)) }
    for i, st := range res.Stops {
        if st.Address != wantAddr[i] { t.Fatalf("stop %d = %q, want %q", i, st.Address, wantAddr[i]) }
        if st.Sequence != i+1 { t.Fatalf("stop %d sequence = %d", i, st.Sequence) }
    }

    rr = httptest.NewRecorder()
    s.RouteByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/routes/"+rt.ID, nil))
    if rr.Code != 200 { t.Fatalf("get: %d", rr.Code) }
}

func TestOptimizeRouteNotFound(t *testing.T) {
    s, _ := newTestServer(t)
    rr := httptest.NewRecorder()
    s.RouteByIDHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/routes/nope/optimize", nil))
    if rr.Code != http.StatusNotFound { t.Fatalf("got %d body=%s", rr.Code, rr.Body) }
    var prob Problem
    if err := json.Unmarshal(rr.Body.Bytes(), &prob); err != nil { t.Fatal(err) }
    if prob.Status != 404 || prob.Title == "" { t.Fatalf("problem = %+v", prob) }
}

func TestRouteCreateValidation(t *testing.T) {
    s, _ := newTestServer(t)
    rr := httptest.NewRecorder()
    s.RoutesHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/routes", bytes.NewReader([]byte(`{"name":"x","stops":[{"latitude":91,"longitude":0}]}`))))
    if rr.Code != http.StatusBadRequest { t.Fatalf("got %d", rr.Code) }
}

func TestScoringPolicyRoundTrip(t *testing.T) {
    s, _ := newTestServer(t)
    body := []byte(`{"weightOverspeed":10,"weightHarshAcceleration":5,"weightHarshBraking":5,"weightHarshCornering":3}`)
    rr := httptest.NewRecorder()
    s.ScoringPolicyHandler(rr, httptest.NewRequest(http.MethodPut, "/v1/admin/scoring-policy", bytes.NewReader(body)))
    if rr.Code != 200 { t.Fatalf("put: %d body=%s", rr.Code, rr.Body) }

    rr = httptest.NewRecorder()
    s.ScoringPolicyHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/admin/scoring-policy", nil))
    if rr.Code != 200 { t.Fatalf("get: %d", rr.Code) }
    var pol model.ScoringPolicy
    json.Unmarshal(rr.Body.Bytes(), &pol)
    if pol.WeightOverspeed != 10 || pol.WeightHarshCornering != 3 {
        t.Fatalf("policy = %+v", pol)
    }
}

func TestScoringPolicyRejectsNegativeWeights(t *testing.T) {
    s, _ := newTestServer(t)
    rr := httptest.NewRecorder()
    s.ScoringPolicyHandler(rr, httptest.NewRequest(http.MethodPut, "/v1/admin/scoring-policy", bytes.NewReader([]byte(`{"weightOverspeed":-1}`))))
    if rr.Code != http.StatusBadRequest { t.Fatalf("got %d", rr.Code) }
}

func TestScoresRanking(t *testing.T) {
    s, mem := newTestServer(t)
    v1 := mem.SeedVehicle(model.Vehicle{TenantID: "t_demo", DeviceID: 1})
    v2 := mem.SeedVehicle(model.Vehicle{TenantID: "t_demo", DeviceID: 2})
    ctx := context.Background()
    mem.SaveDailyScore(ctx, model.DailyScore{TenantID: "t_demo", VehicleID: v1.ID, Date: "2026-03-14", Score: 70})
    mem.SaveDailyScore(ctx, model.DailyScore{TenantID: "t_demo", VehicleID: v2.ID, Date: "2026-03-14", Score: 95})
    mem.SaveDailyScore(ctx, model.DailyScore{TenantID: "t_demo", VehicleID: v1.ID, Date: "2026-03-13", Score: 99})

    rr := httptest.NewRecorder()
    s.ScoresHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/scores?date=2026-03-14", nil))
    if rr.Code != 200 { t.Fatalf("got %d", rr.Code) }
    var res struct{ Items []model.DailyScore `json:"items"` }
    json.Unmarshal(rr.Body.Bytes(), &res)
    if len(res.Items) != 2 { t.Fatalf("items = %d", len(res.Items)) }
    if res.Items[0].Score < res.Items[1].Score {
        t.Fatalf("ranking not descending: %+v", res.Items)
    }

    // without a date the full history comes back, newest day first
    rr = httptest.NewRecorder()
    s.ScoresHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/scores", nil))
    if rr.Code != 200 { t.Fatalf("got %d", rr.Code) }
    res.Items = nil
    json.Unmarshal(rr.Body.Bytes(), &res)
    if len(res.Items) != 3 { t.Fatalf("items = %d, want all days", len(res.Items)) }
    if res.Items[0].Date != "2026-03-14" || res.Items[2].Date != "2026-03-13" {
        t.Fatalf("ordering = %+v", res.Items)
    }
}

func TestVehiclesTenantIsolation(t *testing.T) {
    s, mem := newTestServer(t)
    mem.SeedVehicle(model.Vehicle{TenantID: "t_demo", DeviceID: 1, Name: "mine"})
    mem.SeedVehicle(model.Vehicle{TenantID: "t_other", DeviceID: 2, Name: "theirs"})

    rr := httptest.NewRecorder()
    s.VehiclesHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/vehicles", nil))
    var res struct{ Items []model.Vehicle `json:"items"` }
    json.Unmarshal(rr.Body.Bytes(), &res)
    if len(res.Items) != 1 || res.Items[0].Name != "mine" {
        t.Fatalf("items = %+v", res.Items)
    }
}

func TestSubscriptionsCreate(t *testing.T) {
    s, _ := newTestServer(t)
    rr := httptest.NewRecorder()
    s.SubscriptionsHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/subscriptions", bytes.NewReader([]byte(`{"url":"https://example.com/hook","events":["score.violation"],"secret":"s"}`))))
    if rr.Code != http.StatusCreated { t.Fatalf("got %d body=%s", rr.Code, rr.Body) }
    var sub model.Subscription
    json.Unmarshal(rr.Body.Bytes(), &sub)
    if sub.ID == "" || sub.TenantID != "t_demo" { t.Fatalf("sub = %+v", sub) }
}

func TestDeviceSyncRequiresAdminAndUpstream(t *testing.T) {
    s, _ := newTestServer(t)
    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, "/v1/admin/devices/sync", nil)
    req.Header.Set("X-Role", "user")
    s.DeviceSyncHandler(rr, req)
    if rr.Code != http.StatusForbidden { t.Fatalf("got %d", rr.Code) }

    // admin but no upstream configured
    rr = httptest.NewRecorder()
    s.DeviceSyncHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/admin/devices/sync", nil))
    if rr.Code != http.StatusServiceUnavailable { t.Fatalf("got %d", rr.Code) }
}

func TestRateLimit(t *testing.T) {
    hits := 0
    h := RateLimit(1, 1, func(w http.ResponseWriter, r *http.Request) { hits++ })
    for i := 0; i < 5; i++ {
        rr := httptest.NewRecorder()
        h(rr, httptest.NewRequest(http.MethodPost, "/v1/telemetry/positions", nil))
    }
    if hits == 0 || hits == 5 {
        t.Fatalf("hits = %d, want some requests limited", hits)
    }
}
