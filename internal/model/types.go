package model

import "time"

// Vehicle carries the tenant-owned identity and the live telemetry snapshot
// mutated by the ingestion path. Lifecycle (create/delete) belongs to the
// surrounding CRUD layer; the core only updates the telemetry fields.
type Vehicle struct {
    ID         string    `json:"id"`
    TenantID   string    `json:"tenantId"`
    DeviceID   int       `json:"deviceId"`
    Name       string    `json:"name"`
    Plate      string    `json:"plate,omitempty"`
    Lat        float64   `json:"lat"`
    Lng        float64   `json:"lng"`
    SpeedKmh   float64   `json:"speedKmh"`
    Ignition   bool      `json:"ignition"`
    OdometerKm float64   `json:"odometerKm"`
    LastUpdate time.Time `json:"lastUpdate"`
}

// TelemetryReport is one position object as delivered by the upstream
// tracking provider. Speed arrives in knots; attributes are free-form
// key/values that may carry ignition, totalDistance (meters) and alarm.
type TelemetryReport struct {
    DeviceID   int            `json:"deviceId"`
    Latitude   float64        `json:"latitude"`
    Longitude  float64        `json:"longitude"`
    SpeedKnots float64        `json:"speed"`
    Attributes map[string]any `json:"attributes,omitempty"`
}

// KnotsToKmh is the conversion factor applied to reported speeds.
const KnotsToKmh = 1.852

// Ignition returns the ignition attribute and whether it was present.
func (r TelemetryReport) Ignition() (bool, bool) {
    v, ok := r.Attributes["ignition"]
    if !ok { return false, false }
    b, ok := v.(bool)
    return b, ok
}

// TotalDistanceM returns the cumulative distance attribute in meters, if present.
func (r TelemetryReport) TotalDistanceM() (float64, bool) {
    v, ok := r.Attributes["totalDistance"]
    if !ok { return 0, false }
    switch n := v.(type) {
    case float64:
        return n, true
    case int:
        return float64(n), true
    }
    return 0, false
}

// Alarm returns the alarm category attribute, empty when absent.
func (r TelemetryReport) Alarm() string {
    if v, ok := r.Attributes["alarm"].(string); ok { return v }
    return ""
}

// VehicleUpdate is the payload fanned out to realtime subscribers after a
// report is applied. Score is set only when this report carried an alarm.
type VehicleUpdate struct {
    ID       string  `json:"id"`
    Name     string  `json:"name"`
    Lat      float64 `json:"lat"`
    Lng      float64 `json:"lng"`
    SpeedKmh float64 `json:"speed"`
    Ignition bool    `json:"ignition"`
    Score    *int    `json:"score"`
}

// Violation categories as reported by the tracking hardware.
const (
    ViolationOverspeed         = "overspeed"
    ViolationHarshAcceleration = "hardAcceleration"
    ViolationHarshBraking      = "hardBraking"
    ViolationHarshCornering    = "hardCornering"
)

// DailyScore holds one vehicle's safety score for one calendar day.
// Score starts at 100 and is decremented per violation, floored at 0.
type DailyScore struct {
    TenantID               string `json:"tenantId"`
    VehicleID              string `json:"vehicleId"`
    Date                   string `json:"date"` // YYYY-MM-DD
    Score                  int    `json:"score"`
    OverspeedCount         int    `json:"overspeedCount"`
    HarshAccelerationCount int    `json:"harshAccelerationCount"`
    HarshBrakingCount      int    `json:"harshBrakingCount"`
    HarshCorneringCount    int    `json:"harshCorneringCount"`
}

// InitialScore is the per-day starting score.
const InitialScore = 100

// ScoringPolicy is the tenant's configured penalty weight per violation
// category. Read-only to the core.
type ScoringPolicy struct {
    WeightOverspeed         int `json:"weightOverspeed"`
    WeightHarshAcceleration int `json:"weightHarshAcceleration"`
    WeightHarshBraking      int `json:"weightHarshBraking"`
    WeightHarshCornering    int `json:"weightHarshCornering"`
}

// Route statuses.
const (
    RouteDraft      = "DRAFT"
    RouteOptimized  = "OPTIMIZED"
    RouteInProgress = "IN_PROGRESS"
    RouteCompleted  = "COMPLETED"
    RouteCanceled   = "CANCELED"
)

// Stop statuses.
const (
    StopPending = "PENDING"
    StopVisited = "VISITED"
    StopFailed  = "FAILED"
)

type Route struct {
    ID               string  `json:"id"`
    TenantID         string  `json:"tenantId"`
    Name             string  `json:"name"`
    Date             string  `json:"date,omitempty"`
    Status           string  `json:"status"`
    TotalKmPredicted float64 `json:"total_km_previsto"`
}

type Stop struct {
    ID        string  `json:"id"`
    RouteID   string  `json:"routeId"`
    Sequence  int     `json:"sequence"`
    Address   string  `json:"address,omitempty"`
    Latitude  float64 `json:"latitude"`
    Longitude float64 `json:"longitude"`
    Status    string  `json:"status"`
}

// StopIn is the creation shape accepted when registering a route.
type StopIn struct {
    Address   string  `json:"address,omitempty"`
    Latitude  float64 `json:"latitude"`
    Longitude float64 `json:"longitude"`
    Sequence  int     `json:"sequence,omitempty"`
}

// Subscription registers a tenant callback URL for outbound event deliveries.
type Subscription struct {
    ID       string   `json:"id"`
    TenantID string   `json:"tenantId"`
    URL      string   `json:"url"`
    Events   []string `json:"events"`
    Secret   string   `json:"secret,omitempty"`
}

type SubscriptionRequest struct {
    TenantID string   `json:"tenantId"`
    URL      string   `json:"url"`
    Events   []string `json:"events"`
    Secret   string   `json:"secret"`
}
