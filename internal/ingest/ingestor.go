package ingest

import (
    "context"
    "log"
    "math"
    "time"

    "fleetvision/internal/metrics"
    "fleetvision/internal/model"
    "fleetvision/internal/realtime"
    "fleetvision/internal/score"
    "fleetvision/internal/store"
)

// EventEmitter fans processed violations out to registered webhook
// subscribers. Nil-safe on the Ingestor.
type EventEmitter interface {
    Emit(ctx context.Context, tenantID, eventType string, data any)
}

// Ingestor applies batches of provider position reports to the fleet state:
// it updates the vehicle snapshot, records alarm violations against the
// daily score, and fans the resulting update out to realtime subscribers.
type Ingestor struct {
    Store  store.Store
    Ledger *score.Ledger
    Broker realtime.GroupBroker
    Live   *realtime.LiveCache
    Events EventEmitter
    // Now is overridable in tests; defaults to time.Now.
    Now func() time.Time
}

func New(s store.Store, led *score.Ledger, b realtime.GroupBroker, live *realtime.LiveCache) *Ingestor {
    return &Ingestor{Store: s, Ledger: led, Broker: b, Live: live, Now: time.Now}
}

// BatchResult summarizes one IngestBatch call.
type BatchResult struct {
    Processed int `json:"processed"`
    Skipped   int `json:"skipped"`
}

// IngestBatch processes each report independently: a malformed or unknown
// report is counted as skipped and never aborts the rest of the batch.
func (in *Ingestor) IngestBatch(ctx context.Context, reports []model.TelemetryReport) BatchResult {
    var res BatchResult
    for _, r := range reports {
        ok, err := in.ingestOne(ctx, r)
        if err != nil {
            log.Printf("ingest: device %d: %v", r.DeviceID, err)
            metrics.TelemetryReports.WithLabelValues(metrics.OutcomeError).Inc()
            res.Skipped++
            continue
        }
        if !ok { res.Skipped++; continue }
        res.Processed++
    }
    return res
}

func (in *Ingestor) ingestOne(ctx context.Context, r model.TelemetryReport) (bool, error) {
    if r.DeviceID == 0 {
        metrics.TelemetryReports.WithLabelValues(metrics.OutcomeSkipped).Inc()
        return false, nil
    }
    v, err := in.Store.GetVehicleByDevice(ctx, r.DeviceID)
    if err == store.ErrNotFound {
        // Devices not registered to any tenant are silently discarded.
        metrics.TelemetryReports.WithLabelValues(metrics.OutcomeUnknownDevice).Inc()
        return false, nil
    }
    if err != nil { return false, err }

    now := in.Now()
    v.Lat = r.Latitude
    v.Lng = r.Longitude
    v.SpeedKmh = r.SpeedKnots * model.KnotsToKmh
    // ignition is overwritten on every report; a missing attribute reads
    // as off
    ign, _ := r.Ignition()
    v.Ignition = ign
    if m, ok := r.TotalDistanceM(); ok { v.OdometerKm = m / 1000.0 }
    v.LastUpdate = now
    if err := in.Store.SaveVehicleTelemetry(ctx, v); err != nil { return false, err }

    upd := model.VehicleUpdate{
        ID:       v.ID,
        Name:     v.Name,
        Lat:      v.Lat,
        Lng:      v.Lng,
        SpeedKmh: math.Round(v.SpeedKmh*10) / 10,
        Ignition: v.Ignition,
    }

    if alarm := r.Alarm(); alarm != "" {
        sc, recorded, err := in.recordAlarm(ctx, v, alarm, now)
        if err != nil {
            log.Printf("ingest: score device %d: %v", r.DeviceID, err)
        } else if recorded {
            s := sc.Score
            upd.Score = &s
        }
    }

    if in.Live != nil { in.Live.Upsert(v.TenantID, upd) }
    in.publish(v.TenantID, upd)
    metrics.TelemetryReports.WithLabelValues(metrics.OutcomeOK).Inc()
    return true, nil
}

func (in *Ingestor) recordAlarm(ctx context.Context, v model.Vehicle, category string, now time.Time) (model.DailyScore, bool, error) {
    policy, err := in.Store.GetScoringPolicy(ctx, v.TenantID)
    if err != nil { return model.DailyScore{}, false, err }
    date := now.UTC().Format("2006-01-02")
    sc, recorded, err := in.Ledger.RecordViolation(ctx, v.TenantID, v.ID, date, policy, category)
    if err != nil { return model.DailyScore{}, false, err }
    if !recorded { return sc, false, nil }
    metrics.Violations.WithLabelValues(category).Inc()
    if in.Events != nil {
        in.Events.Emit(ctx, v.TenantID, "score.violation", map[string]any{
            "vehicleId": v.ID,
            "name":      v.Name,
            "category":  category,
            "date":      date,
            "score":     sc.Score,
        })
    }
    return sc, true, nil
}

// publish fans the update out to the vehicle's tenant group and to the
// cross-tenant admin group.
func (in *Ingestor) publish(tenantID string, upd model.VehicleUpdate) {
    if in.Broker == nil { return }
    evt := realtime.GroupEvent{Type: "vehicle.update", Data: map[string]any{
        "id":       upd.ID,
        "name":     upd.Name,
        "lat":      upd.Lat,
        "lng":      upd.Lng,
        "speed":    upd.SpeedKmh,
        "ignition": upd.Ignition,
        "score":    upd.Score,
    }}
    in.Broker.Publish(realtime.TenantGroup(tenantID), evt)
    in.Broker.Publish(realtime.GlobalAdminGroup, evt)
}
