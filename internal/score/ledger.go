// Package score maintains per-vehicle-per-day safety scores.
package score

import (
    "context"
    "hash/fnv"
    "sync"

    "fleetvision/internal/model"
    "fleetvision/internal/store"
)

// lockStripes bounds the memory held for serialization regardless of how
// many vehicle-days pass through the ledger.
const lockStripes = 128

// Ledger applies violation penalties to daily scores. The get-or-create and
// decrement for one (vehicle, date) pair are serialized behind a striped
// mutex so concurrent reports never lose updates.
type Ledger struct {
    store   store.Store
    stripes [lockStripes]sync.Mutex
}

func NewLedger(s store.Store) *Ledger {
    return &Ledger{store: s}
}

func (l *Ledger) keyLock(vehicleID, date string) *sync.Mutex {
    h := fnv.New32a()
    h.Write([]byte(vehicleID))
    h.Write([]byte{'|'})
    h.Write([]byte(date))
    return &l.stripes[h.Sum32()%lockStripes]
}

// RecordViolation registers one violation of the given category against the
// vehicle's score for date, weighted by the tenant's policy. The returned
// bool reports whether the category was recognized; unknown categories leave
// the score untouched and return it as-is.
func (l *Ledger) RecordViolation(ctx context.Context, tenantID, vehicleID, date string, policy model.ScoringPolicy, category string) (model.DailyScore, bool, error) {
    mu := l.keyLock(vehicleID, date)
    mu.Lock()
    defer mu.Unlock()

    sc, err := l.store.GetOrCreateDailyScore(ctx, tenantID, vehicleID, date)
    if err != nil {
        return model.DailyScore{}, false, err
    }

    penalty := 0
    switch category {
    case model.ViolationOverspeed:
        sc.OverspeedCount++
        penalty = policy.WeightOverspeed
    case model.ViolationHarshAcceleration:
        sc.HarshAccelerationCount++
        penalty = policy.WeightHarshAcceleration
    case model.ViolationHarshBraking:
        sc.HarshBrakingCount++
        penalty = policy.WeightHarshBraking
    case model.ViolationHarshCornering:
        sc.HarshCorneringCount++
        penalty = policy.WeightHarshCornering
    default:
        return sc, false, nil
    }

    sc.Score -= penalty
    if sc.Score < 0 { sc.Score = 0 }

    if err := l.store.SaveDailyScore(ctx, sc); err != nil {
        return model.DailyScore{}, true, err
    }
    return sc, true, nil
}
