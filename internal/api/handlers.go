package api

import (
    "encoding/json"
    "io"
    "net/http"
    "strconv"
    "strings"

    "fleetvision/internal/buildinfo"
    "fleetvision/internal/metrics"
    "fleetvision/internal/model"
    "fleetvision/internal/store"
)

// TelemetryHandler handles POST /v1/telemetry/positions, the webhook the
// upstream tracking server pushes position batches to. The body is either
// a JSON array of positions or a single position object.
func (s *Server) TelemetryHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
    if err != nil {
        writeProblem(w, http.StatusBadRequest, "Read failed", err.Error(), r.URL.Path)
        return
    }
    var reports []model.TelemetryReport
    if err := json.Unmarshal(body, &reports); err != nil {
        var one model.TelemetryReport
        if err2 := json.Unmarshal(body, &one); err2 != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        reports = []model.TelemetryReport{one}
    }
    res := s.Ingestor.IngestBatch(r.Context(), reports)
    writeJSON(w, http.StatusOK, res)
}

// VehiclesHandler handles GET /v1/vehicles.
func (s *Server) VehiclesHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    p := s.getPrincipal(r)
    items, err := s.Store.ListVehicles(r.Context(), p.Tenant)
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "List vehicles failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// LiveVehiclesHandler handles GET /v1/vehicles/live: the latest broadcast
// snapshot per vehicle, served from the in-process cache.
func (s *Server) LiveVehiclesHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    p := s.getPrincipal(r)
    writeJSON(w, http.StatusOK, map[string]any{"items": s.Live.ListByTenant(p.Tenant)})
}

// DeviceSyncHandler handles POST /v1/admin/devices/sync: pulls the device
// registry from the upstream tracking server and upserts it for the tenant.
func (s *Server) DeviceSyncHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    p := s.getPrincipal(r)
    if !p.IsAdmin() {
        writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
        return
    }
    if s.Traccar == nil {
        writeProblem(w, http.StatusServiceUnavailable, "Sync unavailable", "TRACCAR_URL not configured", r.URL.Path)
        return
    }
    devices, err := s.Traccar.Devices(r.Context())
    if err != nil {
        writeProblem(w, http.StatusBadGateway, "Device sync failed", err.Error(), r.URL.Path)
        return
    }
    created := 0
    for _, d := range devices {
        isNew, err := s.Store.UpsertDevice(r.Context(), p.Tenant, d.ID, d.Name, d.LastUpdate)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Device sync failed", err.Error(), r.URL.Path)
            return
        }
        if isNew { created++ }
    }
    writeJSON(w, http.StatusOK, map[string]any{"synced": len(devices), "created": created})
}

// ScoresHandler handles GET /v1/scores?date=YYYY-MM-DD. Without a date the
// full ranking comes back, newest day first, best score first within a day.
func (s *Server) ScoresHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    p := s.getPrincipal(r)
    date := r.URL.Query().Get("date")
    items, err := s.Store.ListDailyScores(r.Context(), p.Tenant, date)
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "List scores failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"date": date, "items": items})
}

// ScoringPolicyHandler handles GET/PUT /v1/admin/scoring-policy.
func (s *Server) ScoringPolicyHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    switch r.Method {
    case http.MethodGet:
        pol, err := s.Store.GetScoringPolicy(r.Context(), p.Tenant)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Get policy failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, pol)
    case http.MethodPut:
        if !p.IsAdmin() {
            writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
            return
        }
        var pol model.ScoringPolicy
        if err := json.NewDecoder(r.Body).Decode(&pol); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if pol.WeightOverspeed < 0 || pol.WeightHarshAcceleration < 0 || pol.WeightHarshBraking < 0 || pol.WeightHarshCornering < 0 {
            writeProblem(w, http.StatusBadRequest, "Invalid policy", "weights must be non-negative", r.URL.Path)
            return
        }
        if err := s.Store.SaveScoringPolicy(r.Context(), p.Tenant, pol); err != nil {
            writeProblem(w, http.StatusInternalServerError, "Save policy failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, pol)
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// RoutesHandler handles POST /v1/routes.
func (s *Server) RoutesHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    p := s.getPrincipal(r)
    var req struct {
        Name  string         `json:"name"`
        Date  string         `json:"date"`
        Stops []model.StopIn `json:"stops"`
    }
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if req.Name == "" {
        writeProblem(w, http.StatusBadRequest, "Invalid route", "name is required", r.URL.Path)
        return
    }
    for i, st := range req.Stops {
        if st.Latitude < -90 || st.Latitude > 90 || st.Longitude < -180 || st.Longitude > 180 {
            writeProblem(w, http.StatusBadRequest, "Invalid route", "stop "+strconv.Itoa(i)+" has out-of-range coordinates", r.URL.Path)
            return
        }
    }
    rt, err := s.Store.CreateRoute(r.Context(), p.Tenant, req.Name, req.Date, req.Stops)
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Create route failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusCreated, rt)
}

// RouteByIDHandler handles /v1/routes/{id} and /v1/routes/{id}/optimize.
func (s *Server) RouteByIDHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    rest := strings.TrimPrefix(r.URL.Path, "/v1/routes/")
    parts := strings.Split(strings.Trim(rest, "/"), "/")
    if len(parts) == 0 || parts[0] == "" {
        writeProblem(w, http.StatusNotFound, "Not found", "missing route id", r.URL.Path)
        return
    }
    id := parts[0]
    if len(parts) == 2 && parts[1] == "optimize" {
        s.optimizeRoute(w, r, p.Tenant, id)
        return
    }
    if len(parts) != 1 || r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    rt, err := s.Store.GetRoute(r.Context(), p.Tenant, id)
    if err == store.ErrNotFound {
        writeProblem(w, http.StatusNotFound, "Route not found", "no route "+id, r.URL.Path)
        return
    }
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Get route failed", err.Error(), r.URL.Path)
        return
    }
    stops, err := s.Store.ListRouteStops(r.Context(), p.Tenant, id)
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Get route failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"route": rt, "stops": stops})
}

func (s *Server) optimizeRoute(w http.ResponseWriter, r *http.Request, tenant, id string) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    rt, stops, err := s.Store.OptimizeRoute(r.Context(), tenant, id)
    if err == store.ErrNotFound {
        writeProblem(w, http.StatusNotFound, "Route not found", "no route "+id, r.URL.Path)
        return
    }
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Optimize failed", err.Error(), r.URL.Path)
        return
    }
    metrics.RouteOptimizations.Observe(float64(len(stops)))
    s.Pub.Emit(r.Context(), tenant, "route.optimized", map[string]any{
        "routeId": rt.ID, "total_km_previsto": rt.TotalKmPredicted, "stops": len(stops),
    })
    writeJSON(w, http.StatusOK, map[string]any{
        "status":            rt.Status,
        "total_km_previsto": rt.TotalKmPredicted,
        "stops":             stops,
    })
}

// SubscriptionsHandler handles POST /v1/subscriptions.
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    p := s.getPrincipal(r)
    var req model.SubscriptionRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    req.TenantID = p.Tenant
    if req.URL == "" || len(req.Events) == 0 {
        writeProblem(w, http.StatusBadRequest, "Invalid subscription", "url and events are required", r.URL.Path)
        return
    }
    sub, err := s.Store.CreateSubscription(r.Context(), req)
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusCreated, sub)
}

// HealthHandler handles GET /healthz.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "build": buildinfo.Info()})
}

// ReadyHandler handles GET /readyz.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    if pg, ok := s.Store.(*store.Postgres); ok {
        if err := pg.Ping(r.Context()); err != nil {
            writeProblem(w, http.StatusServiceUnavailable, "Not ready", err.Error(), r.URL.Path)
            return
        }
    }
    writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
