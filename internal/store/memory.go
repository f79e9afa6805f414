package store

import (
    "context"
    "sort"
    "sync"
    "time"

    "github.com/google/uuid"
    "fleetvision/internal/model"
    "fleetvision/internal/opt"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
    mu        sync.Mutex
    vehicles  map[string]model.Vehicle        // id -> vehicle
    byDevice  map[int]string                  // deviceId -> vehicle id
    byTenant  map[string][]string             // tenant -> vehicle ids
    scores    map[string]model.DailyScore     // vehicleId|date -> score
    policies  map[string]model.ScoringPolicy  // tenant -> policy
    routes    map[string]model.Route          // id -> route
    stops     map[string][]model.Stop         // routeId -> stops (sequence order)
    subs      map[string][]model.Subscription // tenant -> subscriptions
    // Webhook queue state
    deliveries    map[string]*memDelivery
    deliveryOrder []string
}

func NewMemory() *Memory {
    return &Memory{
        vehicles:   map[string]model.Vehicle{},
        byDevice:   map[int]string{},
        byTenant:   map[string][]string{},
        scores:     map[string]model.DailyScore{},
        policies:   map[string]model.ScoringPolicy{},
        routes:     map[string]model.Route{},
        stops:      map[string][]model.Stop{},
        subs:       map[string][]model.Subscription{},
        deliveries: map[string]*memDelivery{},
    }
}

// memDelivery augments WebhookDelivery with scheduling state
type memDelivery struct {
    WebhookDelivery
    NextAttemptAt time.Time
    LastError     string
    ResponseCode  int
    LatencyMs     int
    DeliveredAt   *time.Time
}

// SeedVehicle registers a vehicle directly; used by tests and dev setup in
// place of the external CRUD layer.
func (m *Memory) SeedVehicle(v model.Vehicle) model.Vehicle {
    m.mu.Lock(); defer m.mu.Unlock()
    if v.ID == "" { v.ID = uuid.New().String() }
    m.vehicles[v.ID] = v
    m.byDevice[v.DeviceID] = v.ID
    m.byTenant[v.TenantID] = append(m.byTenant[v.TenantID], v.ID)
    return v
}

func (m *Memory) GetVehicleByDevice(ctx context.Context, deviceID int) (model.Vehicle, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    id, ok := m.byDevice[deviceID]
    if !ok { return model.Vehicle{}, ErrNotFound }
    return m.vehicles[id], nil
}

func (m *Memory) SaveVehicleTelemetry(ctx context.Context, v model.Vehicle) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, ok := m.vehicles[v.ID]; !ok { return ErrNotFound }
    m.vehicles[v.ID] = v
    return nil
}

func (m *Memory) UpsertDevice(ctx context.Context, tenantID string, deviceID int, name string, lastUpdate time.Time) (bool, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if id, ok := m.byDevice[deviceID]; ok {
        v := m.vehicles[id]
        v.Name = name
        if !lastUpdate.IsZero() { v.LastUpdate = lastUpdate }
        m.vehicles[id] = v
        return false, nil
    }
    id := uuid.New().String()
    m.vehicles[id] = model.Vehicle{ID: id, TenantID: tenantID, DeviceID: deviceID, Name: name, LastUpdate: lastUpdate}
    m.byDevice[deviceID] = id
    m.byTenant[tenantID] = append(m.byTenant[tenantID], id)
    return true, nil
}

func (m *Memory) ListVehicles(ctx context.Context, tenantID string) ([]model.Vehicle, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    ids := m.byTenant[tenantID]
    out := make([]model.Vehicle, 0, len(ids))
    for _, id := range ids { out = append(out, m.vehicles[id]) }
    sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
    return out, nil
}

func scoreKey(vehicleID, date string) string { return vehicleID + "|" + date }

func (m *Memory) GetOrCreateDailyScore(ctx context.Context, tenantID, vehicleID, date string) (model.DailyScore, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    k := scoreKey(vehicleID, date)
    if sc, ok := m.scores[k]; ok { return sc, nil }
    sc := model.DailyScore{TenantID: tenantID, VehicleID: vehicleID, Date: date, Score: model.InitialScore}
    m.scores[k] = sc
    return sc, nil
}

func (m *Memory) SaveDailyScore(ctx context.Context, sc model.DailyScore) error {
    m.mu.Lock(); defer m.mu.Unlock()
    m.scores[scoreKey(sc.VehicleID, sc.Date)] = sc
    return nil
}

func (m *Memory) ListDailyScores(ctx context.Context, tenantID, date string) ([]model.DailyScore, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.DailyScore{}
    for _, sc := range m.scores {
        if sc.TenantID != tenantID { continue }
        if date != "" && sc.Date != date { continue }
        out = append(out, sc)
    }
    // Ranking order: newest day first, best score first within a day.
    sort.Slice(out, func(i, j int) bool {
        if out[i].Date != out[j].Date { return out[i].Date > out[j].Date }
        if out[i].Score != out[j].Score { return out[i].Score > out[j].Score }
        return out[i].VehicleID < out[j].VehicleID
    })
    return out, nil
}

func (m *Memory) GetScoringPolicy(ctx context.Context, tenantID string) (model.ScoringPolicy, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.policies[tenantID], nil
}

func (m *Memory) SaveScoringPolicy(ctx context.Context, tenantID string, p model.ScoringPolicy) error {
    m.mu.Lock(); defer m.mu.Unlock()
    m.policies[tenantID] = p
    return nil
}

func (m *Memory) CreateRoute(ctx context.Context, tenantID, name, date string, stops []model.StopIn) (model.Route, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    id := uuid.New().String()
    r := model.Route{ID: id, TenantID: tenantID, Name: name, Date: date, Status: model.RouteDraft}
    m.routes[id] = r
    list := make([]model.Stop, 0, len(stops))
    for i, in := range stops {
        seq := in.Sequence
        if seq == 0 { seq = i + 1 }
        list = append(list, model.Stop{
            ID: uuid.New().String(), RouteID: id, Sequence: seq,
            Address: in.Address, Latitude: in.Latitude, Longitude: in.Longitude,
            Status: model.StopPending,
        })
    }
    sort.SliceStable(list, func(i, j int) bool { return list[i].Sequence < list[j].Sequence })
    m.stops[id] = list
    return r, nil
}

func (m *Memory) GetRoute(ctx context.Context, tenantID, routeID string) (model.Route, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    r, ok := m.routes[routeID]
    if !ok || r.TenantID != tenantID { return model.Route{}, ErrNotFound }
    return r, nil
}

func (m *Memory) ListRouteStops(ctx context.Context, tenantID, routeID string) ([]model.Stop, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    r, ok := m.routes[routeID]
    if !ok || r.TenantID != tenantID { return nil, ErrNotFound }
    out := append([]model.Stop(nil), m.stops[routeID]...)
    sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
    return out, nil
}

func (m *Memory) OptimizeRoute(ctx context.Context, tenantID, routeID string) (model.Route, []model.Stop, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    r, ok := m.routes[routeID]
    if !ok || r.TenantID != tenantID { return model.Route{}, nil, ErrNotFound }

    all := m.stops[routeID]
    pending := make([]model.Stop, 0, len(all))
    for _, s := range all {
        if s.Status == model.StopPending { pending = append(pending, s) }
    }
    sort.SliceStable(pending, func(i, j int) bool { return pending[i].Sequence < pending[j].Sequence })

    nodes := make([]opt.StopNode, len(pending))
    for i, s := range pending { nodes[i] = opt.StopNode{Lat: s.Latitude, Lng: s.Longitude} }
    order, totalKm := opt.NearestNeighbor(nodes)

    reordered := make(map[string]int, len(order))
    for seq, idx := range order { reordered[pending[idx].ID] = seq + 1 }
    for i := range all {
        if seq, ok := reordered[all[i].ID]; ok { all[i].Sequence = seq }
    }
    sort.SliceStable(all, func(i, j int) bool { return all[i].Sequence < all[j].Sequence })
    m.stops[routeID] = all

    r.Status = model.RouteOptimized
    r.TotalKmPredicted = totalKm
    m.routes[routeID] = r
    return r, append([]model.Stop(nil), all...), nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
    m.subs[req.TenantID] = append(m.subs[req.TenantID], s)
    return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    var out []model.Subscription
    for _, s := range m.subs[tenantID] {
        for _, e := range s.Events { if e == eventType { out = append(out, s); break } }
    }
    return out, nil
}

func (m *Memory) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    id := uuid.New().String()
    m.deliveries[id] = &memDelivery{WebhookDelivery: WebhookDelivery{
        ID: id, TenantID: tenantID, SubscriptionID: subscriptionID,
        EventType: eventType, URL: url, Secret: secret, Payload: payload,
        Status: "pending",
    }, NextAttemptAt: time.Now()}
    m.deliveryOrder = append(m.deliveryOrder, id)
    return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if limit <= 0 { limit = 50 }
    now := time.Now()
    out := []WebhookDelivery{}
    for _, id := range m.deliveryOrder {
        d := m.deliveries[id]
        if d == nil || d.Status != "pending" || d.NextAttemptAt.After(now) { continue }
        out = append(out, d.WebhookDelivery)
        if len(out) >= limit { break }
    }
    return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d, ok := m.deliveries[id]
    if !ok { return ErrNotFound }
    d.Attempts++
    d.LastError = lastError
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    if success {
        d.Status = "delivered"
        now := time.Now()
        d.DeliveredAt = &now
    } else if nextAttemptAt != nil {
        d.NextAttemptAt = *nextAttemptAt
    }
    return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d, ok := m.deliveries[id]
    if !ok { return ErrNotFound }
    d.Attempts++
    d.Status = "failed"
    d.LastError = lastError
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    return nil
}
