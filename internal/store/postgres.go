package store

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "time"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "fleetvision/internal/model"
    "fleetvision/internal/opt"
)

type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

// Ping reports whether the database is reachable.
func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies .sql files from dir in lexical order (dev helper).
func (p *Postgres) MigrateDir(dir string) error {
    entries, err := os.ReadDir(dir)
    if err != nil { return err }
    names := []string{}
    for _, e := range entries {
        if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") { names = append(names, e.Name()) }
    }
    sort.Strings(names)
    for _, n := range names {
        b, err := os.ReadFile(filepath.Join(dir, n))
        if err != nil { return err }
        if _, err := p.db.Exec(string(b)); err != nil {
            return fmt.Errorf("migrate %s: %w", n, err)
        }
    }
    return nil
}

func (p *Postgres) GetVehicleByDevice(ctx context.Context, deviceID int) (model.Vehicle, error) {
    row := p.db.QueryRowContext(ctx, `SELECT id::text, tenant_id::text, device_id, name, COALESCE(plate,''), lat, lng, speed_kmh, ignition, odometer_km, last_update
        FROM vehicles WHERE device_id=$1`, deviceID)
    var v model.Vehicle
    var lastUpdate sql.NullTime
    err := row.Scan(&v.ID, &v.TenantID, &v.DeviceID, &v.Name, &v.Plate, &v.Lat, &v.Lng, &v.SpeedKmh, &v.Ignition, &v.OdometerKm, &lastUpdate)
    if errors.Is(err, sql.ErrNoRows) { return model.Vehicle{}, ErrNotFound }
    if err != nil { return model.Vehicle{}, err }
    if lastUpdate.Valid { v.LastUpdate = lastUpdate.Time }
    return v, nil
}

func (p *Postgres) SaveVehicleTelemetry(ctx context.Context, v model.Vehicle) error {
    res, err := p.db.ExecContext(ctx, `UPDATE vehicles SET lat=$2, lng=$3, speed_kmh=$4, ignition=$5, odometer_km=$6, last_update=$7 WHERE id=$1`,
        v.ID, v.Lat, v.Lng, v.SpeedKmh, v.Ignition, v.OdometerKm, v.LastUpdate)
    if err != nil { return err }
    n, _ := res.RowsAffected()
    if n == 0 { return ErrNotFound }
    return nil
}

func (p *Postgres) UpsertDevice(ctx context.Context, tenantID string, deviceID int, name string, lastUpdate time.Time) (bool, error) {
    var lu any
    if !lastUpdate.IsZero() { lu = lastUpdate }
    // xmax = 0 only holds for freshly inserted rows, so sync can report
    // how many vehicles were new.
    row := p.db.QueryRowContext(ctx, `INSERT INTO vehicles (id, tenant_id, device_id, name, last_update)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (device_id) DO UPDATE SET name=EXCLUDED.name, last_update=COALESCE(EXCLUDED.last_update, vehicles.last_update)
        RETURNING (xmax = 0)`,
        uuid.New(), tenantID, deviceID, name, lu)
    var created bool
    if err := row.Scan(&created); err != nil { return false, err }
    return created, nil
}

func (p *Postgres) ListVehicles(ctx context.Context, tenantID string) ([]model.Vehicle, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, tenant_id::text, device_id, name, COALESCE(plate,''), lat, lng, speed_kmh, ignition, odometer_km, last_update
        FROM vehicles WHERE tenant_id=$1 ORDER BY name`, tenantID)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Vehicle{}
    for rows.Next() {
        var v model.Vehicle
        var lastUpdate sql.NullTime
        if err := rows.Scan(&v.ID, &v.TenantID, &v.DeviceID, &v.Name, &v.Plate, &v.Lat, &v.Lng, &v.SpeedKmh, &v.Ignition, &v.OdometerKm, &lastUpdate); err != nil {
            return nil, err
        }
        if lastUpdate.Valid { v.LastUpdate = lastUpdate.Time }
        out = append(out, v)
    }
    return out, rows.Err()
}

func (p *Postgres) GetOrCreateDailyScore(ctx context.Context, tenantID, vehicleID, date string) (model.DailyScore, error) {
    // Single-statement upsert closes the get-or-create race at the database
    // level; the unique constraint on (vehicle_id, date) guarantees one row
    // per vehicle per day.
    _, err := p.db.ExecContext(ctx, `INSERT INTO daily_scores (tenant_id, vehicle_id, date, score)
        VALUES ($1,$2,$3,$4) ON CONFLICT (vehicle_id, date) DO NOTHING`,
        tenantID, vehicleID, date, model.InitialScore)
    if err != nil { return model.DailyScore{}, err }
    row := p.db.QueryRowContext(ctx, `SELECT tenant_id::text, vehicle_id::text, date::text, score, overspeed_count, harsh_acceleration_count, harsh_braking_count, harsh_cornering_count
        FROM daily_scores WHERE vehicle_id=$1 AND date=$2`, vehicleID, date)
    var sc model.DailyScore
    err = row.Scan(&sc.TenantID, &sc.VehicleID, &sc.Date, &sc.Score, &sc.OverspeedCount, &sc.HarshAccelerationCount, &sc.HarshBrakingCount, &sc.HarshCorneringCount)
    if err != nil { return model.DailyScore{}, err }
    return sc, nil
}

func (p *Postgres) SaveDailyScore(ctx context.Context, sc model.DailyScore) error {
    _, err := p.db.ExecContext(ctx, `UPDATE daily_scores SET score=$3, overspeed_count=$4, harsh_acceleration_count=$5, harsh_braking_count=$6, harsh_cornering_count=$7
        WHERE vehicle_id=$1 AND date=$2`,
        sc.VehicleID, sc.Date, sc.Score, sc.OverspeedCount, sc.HarshAccelerationCount, sc.HarshBrakingCount, sc.HarshCorneringCount)
    return err
}

func (p *Postgres) ListDailyScores(ctx context.Context, tenantID, date string) ([]model.DailyScore, error) {
    var rows *sql.Rows
    var err error
    if date != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT tenant_id::text, vehicle_id::text, date::text, score, overspeed_count, harsh_acceleration_count, harsh_braking_count, harsh_cornering_count
            FROM daily_scores WHERE tenant_id=$1 AND date=$2 ORDER BY date DESC, score DESC`, tenantID, date)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT tenant_id::text, vehicle_id::text, date::text, score, overspeed_count, harsh_acceleration_count, harsh_braking_count, harsh_cornering_count
            FROM daily_scores WHERE tenant_id=$1 ORDER BY date DESC, score DESC`, tenantID)
    }
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.DailyScore{}
    for rows.Next() {
        var sc model.DailyScore
        if err := rows.Scan(&sc.TenantID, &sc.VehicleID, &sc.Date, &sc.Score, &sc.OverspeedCount, &sc.HarshAccelerationCount, &sc.HarshBrakingCount, &sc.HarshCorneringCount); err != nil {
            return nil, err
        }
        out = append(out, sc)
    }
    return out, rows.Err()
}

func (p *Postgres) GetScoringPolicy(ctx context.Context, tenantID string) (model.ScoringPolicy, error) {
    row := p.db.QueryRowContext(ctx, `SELECT weight_overspeed, weight_harsh_acceleration, weight_harsh_braking, weight_harsh_cornering
        FROM scoring_policies WHERE tenant_id=$1`, tenantID)
    var pol model.ScoringPolicy
    err := row.Scan(&pol.WeightOverspeed, &pol.WeightHarshAcceleration, &pol.WeightHarshBraking, &pol.WeightHarshCornering)
    if errors.Is(err, sql.ErrNoRows) { return model.ScoringPolicy{}, nil }
    if err != nil { return model.ScoringPolicy{}, err }
    return pol, nil
}

func (p *Postgres) SaveScoringPolicy(ctx context.Context, tenantID string, pol model.ScoringPolicy) error {
    _, err := p.db.ExecContext(ctx, `INSERT INTO scoring_policies (tenant_id, weight_overspeed, weight_harsh_acceleration, weight_harsh_braking, weight_harsh_cornering)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (tenant_id) DO UPDATE SET weight_overspeed=$2, weight_harsh_acceleration=$3, weight_harsh_braking=$4, weight_harsh_cornering=$5`,
        tenantID, pol.WeightOverspeed, pol.WeightHarshAcceleration, pol.WeightHarshBraking, pol.WeightHarshCornering)
    return err
}

func (p *Postgres) CreateRoute(ctx context.Context, tenantID, name, date string, stops []model.StopIn) (model.Route, error) {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return model.Route{}, err }
    defer func(){ _ = tx.Rollback() }()

    rid := uuid.New()
    var d any
    if date != "" { d = date }
    _, err = tx.ExecContext(ctx, `INSERT INTO routes (id, tenant_id, name, date, status, total_km_predicted) VALUES ($1,$2,$3,$4,$5,0)`,
        rid, tenantID, name, d, model.RouteDraft)
    if err != nil { return model.Route{}, err }
    for i, s := range stops {
        seq := s.Sequence
        if seq == 0 { seq = i + 1 }
        _, err = tx.ExecContext(ctx, `INSERT INTO route_stops (id, route_id, sequence, address, lat, lng, status) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
            uuid.New(), rid, seq, s.Address, s.Latitude, s.Longitude, model.StopPending)
        if err != nil { return model.Route{}, err }
    }
    if err := tx.Commit(); err != nil { return model.Route{}, err }
    return model.Route{ID: rid.String(), TenantID: tenantID, Name: name, Date: date, Status: model.RouteDraft}, nil
}

func (p *Postgres) GetRoute(ctx context.Context, tenantID, routeID string) (model.Route, error) {
    row := p.db.QueryRowContext(ctx, `SELECT id::text, tenant_id::text, name, COALESCE(date::text,''), status, total_km_predicted
        FROM routes WHERE id=$1 AND tenant_id=$2`, routeID, tenantID)
    var r model.Route
    err := row.Scan(&r.ID, &r.TenantID, &r.Name, &r.Date, &r.Status, &r.TotalKmPredicted)
    if errors.Is(err, sql.ErrNoRows) { return model.Route{}, ErrNotFound }
    if err != nil { return model.Route{}, err }
    return r, nil
}

func (p *Postgres) ListRouteStops(ctx context.Context, tenantID, routeID string) ([]model.Stop, error) {
    if _, err := p.GetRoute(ctx, tenantID, routeID); err != nil { return nil, err }
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, route_id::text, sequence, COALESCE(address,''), lat, lng, status
        FROM route_stops WHERE route_id=$1 ORDER BY sequence`, routeID)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Stop{}
    for rows.Next() {
        var s model.Stop
        if err := rows.Scan(&s.ID, &s.RouteID, &s.Sequence, &s.Address, &s.Latitude, &s.Longitude, &s.Status); err != nil {
            return nil, err
        }
        out = append(out, s)
    }
    return out, rows.Err()
}

func (p *Postgres) OptimizeRoute(ctx context.Context, tenantID, routeID string) (model.Route, []model.Stop, error) {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return model.Route{}, nil, err }
    defer func(){ _ = tx.Rollback() }()

    // Row lock serializes concurrent optimizations of the same route.
    row := tx.QueryRowContext(ctx, `SELECT id::text, tenant_id::text, name, COALESCE(date::text,''), status, total_km_predicted
        FROM routes WHERE id=$1 AND tenant_id=$2 FOR UPDATE`, routeID, tenantID)
    var r model.Route
    err = row.Scan(&r.ID, &r.TenantID, &r.Name, &r.Date, &r.Status, &r.TotalKmPredicted)
    if errors.Is(err, sql.ErrNoRows) { return model.Route{}, nil, ErrNotFound }
    if err != nil { return model.Route{}, nil, err }

    rows, err := tx.QueryContext(ctx, `SELECT id::text, route_id::text, sequence, COALESCE(address,''), lat, lng, status
        FROM route_stops WHERE route_id=$1 AND status=$2 ORDER BY sequence`, routeID, model.StopPending)
    if err != nil { return model.Route{}, nil, err }
    pending := []model.Stop{}
    for rows.Next() {
        var s model.Stop
        if err := rows.Scan(&s.ID, &s.RouteID, &s.Sequence, &s.Address, &s.Latitude, &s.Longitude, &s.Status); err != nil {
            rows.Close()
            return model.Route{}, nil, err
        }
        pending = append(pending, s)
    }
    rows.Close()
    if err := rows.Err(); err != nil { return model.Route{}, nil, err }

    nodes := make([]opt.StopNode, len(pending))
    for i, s := range pending { nodes[i] = opt.StopNode{Lat: s.Latitude, Lng: s.Longitude} }
    order, totalKm := opt.NearestNeighbor(nodes)

    for seq, idx := range order {
        _, err = tx.ExecContext(ctx, `UPDATE route_stops SET sequence=$2 WHERE id=$1`, pending[idx].ID, seq+1)
        if err != nil { return model.Route{}, nil, err }
    }
    _, err = tx.ExecContext(ctx, `UPDATE routes SET status=$2, total_km_predicted=$3 WHERE id=$1`, routeID, model.RouteOptimized, totalKm)
    if err != nil { return model.Route{}, nil, err }
    if err := tx.Commit(); err != nil { return model.Route{}, nil, err }

    r.Status = model.RouteOptimized
    r.TotalKmPredicted = totalKm
    stops, err := p.ListRouteStops(ctx, tenantID, routeID)
    if err != nil { return model.Route{}, nil, err }
    return r, stops, nil
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    id := uuid.New()
    _, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, tenant_id, url, events, secret) VALUES ($1,$2,$3,$4,$5)`,
        id, req.TenantID, req.URL, pqStringArray(req.Events), req.Secret)
    if err != nil { return model.Subscription{}, err }
    return model.Subscription{ID: id.String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, tenant_id::text, url, array_to_string(events, ','), COALESCE(secret,'') FROM subscriptions
        WHERE tenant_id=$1 AND $2 = ANY(events)`, tenantID, eventType)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Subscription{}
    for rows.Next() {
        var s model.Subscription
        var events string
        if err := rows.Scan(&s.ID, &s.TenantID, &s.URL, &events, &s.Secret); err != nil { return nil, err }
        if events != "" { s.Events = strings.Split(events, ",") }
        out = append(out, s)
    }
    return out, rows.Err()
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    id := uuid.New()
    var subID any
    if subscriptionID != "" { subID = subscriptionID }
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, tenant_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',0,now())`,
        id, tenantID, subID, eventType, url, secret, payload)
    if err != nil { return "", err }
    return id.String(), nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    if limit <= 0 || limit > 500 { limit = 50 }
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, tenant_id::text, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM webhook_deliveries WHERE status='pending' AND next_attempt_at <= now() ORDER BY next_attempt_at LIMIT $1`, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []WebhookDelivery{}
    for rows.Next() {
        var d WebhookDelivery
        if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
            return nil, err
        }
        out = append(out, d)
    }
    return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    if success {
        _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='delivered', attempts=attempts+1, last_error=$2, response_code=$3, latency_ms=$4, delivered_at=now() WHERE id=$1`,
            id, lastError, responseCode, latencyMs)
        return err
    }
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, last_error=$2, response_code=$3, latency_ms=$4, next_attempt_at=$5 WHERE id=$1`,
        id, lastError, responseCode, latencyMs, nextAttemptAt)
    return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='failed', attempts=attempts+1, last_error=$2, response_code=$3, latency_ms=$4 WHERE id=$1`,
        id, lastError, responseCode, latencyMs)
    return err
}

// pqStringArray renders a Postgres text[] literal.
func pqStringArray(items []string) string {
    if len(items) == 0 { return "{}" }
    quoted := make([]string, len(items))
    for i, s := range items {
        quoted[i] = `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
    }
    return "{" + strings.Join(quoted, ",") + "}"
}
