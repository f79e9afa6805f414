package store

import (
    "context"
    "errors"
    "time"

    "fleetvision/internal/model"
)

// Store is the persistence interface used by the ingestion path, the score
// ledger and the API server. Implementations must be safe for concurrent use.
type Store interface {
    // Vehicles
    GetVehicleByDevice(ctx context.Context, deviceID int) (model.Vehicle, error)
    SaveVehicleTelemetry(ctx context.Context, v model.Vehicle) error
    UpsertDevice(ctx context.Context, tenantID string, deviceID int, name string, lastUpdate time.Time) (created bool, err error)
    ListVehicles(ctx context.Context, tenantID string) ([]model.Vehicle, error)

    // Daily scores. GetOrCreateDailyScore initializes the row at the
    // starting score on first touch for (vehicle, date); callers that need
    // the read-modify-write to be atomic serialize above this layer.
    GetOrCreateDailyScore(ctx context.Context, tenantID, vehicleID, date string) (model.DailyScore, error)
    SaveDailyScore(ctx context.Context, sc model.DailyScore) error
    ListDailyScores(ctx context.Context, tenantID, date string) ([]model.DailyScore, error)

    // Scoring policy, per tenant. A missing policy reads as all-zero weights.
    GetScoringPolicy(ctx context.Context, tenantID string) (model.ScoringPolicy, error)
    SaveScoringPolicy(ctx context.Context, tenantID string, p model.ScoringPolicy) error

    // Routes
    CreateRoute(ctx context.Context, tenantID, name, date string, stops []model.StopIn) (model.Route, error)
    GetRoute(ctx context.Context, tenantID, routeID string) (model.Route, error)
    ListRouteStops(ctx context.Context, tenantID, routeID string) ([]model.Stop, error)
    // OptimizeRoute orders the route's pending stops with the
    // nearest-neighbor heuristic, persists the new sequence and predicted
    // distance, and moves the route to OPTIMIZED. Concurrent calls for the
    // same route serialize; different routes do not contend beyond the
    // implementation's own locking.
    OptimizeRoute(ctx context.Context, tenantID, routeID string) (model.Route, []model.Stop, error)

    // Outbound webhook subscriptions and deliveries
    CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
    GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error)
    EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
    FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
    MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
    FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
}

// WebhookDelivery is one queued outbound delivery attempt.
type WebhookDelivery struct {
    ID             string
    TenantID       string
    SubscriptionID string
    EventType      string
    URL            string
    Secret         string
    Payload        []byte
    Status         string
    Attempts       int
}

var ErrNotFound = errors.New("not found")
