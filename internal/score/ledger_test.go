package score

import (
    "context"
    "strconv"
    "sync"
    "testing"

    "fleetvision/internal/model"
    "fleetvision/internal/store"
)

func TestRecordViolationPenaltyAndCounters(t *testing.T) {
    l := NewLedger(store.NewMemory())
    pol := model.ScoringPolicy{WeightOverspeed: 10}

    var sc model.DailyScore
    for i := 0; i < 3; i++ {
        var ok bool
        var err error
        sc, ok, err = l.RecordViolation(context.Background(), "t1", "v1", "2026-09-01", pol, model.ViolationOverspeed)
        if err != nil { t.Fatalf("RecordViolation: %v", err) }
        if !ok { t.Fatal("overspeed should be a recognized category") }
    }
    if sc.Score != 70 { t.Fatalf("score = %d, want 70", sc.Score) }
    if sc.OverspeedCount != 3 { t.Fatalf("overspeed count = %d, want 3", sc.OverspeedCount) }
}

func TestRecordViolationClampsAtZero(t *testing.T) {
    l := NewLedger(store.NewMemory())
    pol := model.ScoringPolicy{WeightHarshBraking: 40}

    var sc model.DailyScore
    for i := 0; i < 4; i++ {
        sc, _, _ = l.RecordViolation(context.Background(), "t1", "v1", "2026-09-01", pol, model.ViolationHarshBraking)
    }
    if sc.Score != 0 { t.Fatalf("score = %d, want clamp at 0", sc.Score) }
    if sc.HarshBrakingCount != 4 { t.Fatalf("braking count = %d, want 4", sc.HarshBrakingCount) }
}

func TestRecordViolationUnknownCategoryIsNoop(t *testing.T) {
    mem := store.NewMemory()
    l := NewLedger(mem)
    pol := model.ScoringPolicy{WeightOverspeed: 10}

    sc, ok, err := l.RecordViolation(context.Background(), "t1", "v1", "2026-09-01", pol, "lowBattery")
    if err != nil { t.Fatalf("RecordViolation: %v", err) }
    if ok { t.Fatal("unknown category reported as recognized") }
    if sc.Score != model.InitialScore { t.Fatalf("score = %d, want untouched %d", sc.Score, model.InitialScore) }

    // No mutation persisted beyond the lazily created row.
    stored, err := mem.GetOrCreateDailyScore(context.Background(), "t1", "v1", "2026-09-01")
    if err != nil { t.Fatal(err) }
    if stored.OverspeedCount != 0 || stored.Score != model.InitialScore {
        t.Fatalf("state mutated by unknown category: %+v", stored)
    }
}

func TestRecordViolationSeparateDays(t *testing.T) {
    l := NewLedger(store.NewMemory())
    pol := model.ScoringPolicy{WeightOverspeed: 25}

    d1, _, _ := l.RecordViolation(context.Background(), "t1", "v1", "2026-09-01", pol, model.ViolationOverspeed)
    d2, _, _ := l.RecordViolation(context.Background(), "t1", "v1", "2026-09-02", pol, model.ViolationOverspeed)
    if d1.Score != 75 || d2.Score != 75 {
        t.Fatalf("days should not share score state: %d, %d", d1.Score, d2.Score)
    }
}

func TestRecordViolationConcurrentNoLostUpdates(t *testing.T) {
    mem := store.NewMemory()
    l := NewLedger(mem)
    pol := model.ScoringPolicy{WeightHarshAcceleration: 2}

    const workers = 50
    var wg sync.WaitGroup
    wg.Add(workers)
    for i := 0; i < workers; i++ {
        go func() {
            defer wg.Done()
            _, _, _ = l.RecordViolation(context.Background(), "t1", "v1", "2026-09-01", pol, model.ViolationHarshAcceleration)
        }()
    }
    wg.Wait()

    sc, err := mem.GetOrCreateDailyScore(context.Background(), "t1", "v1", "2026-09-01")
    if err != nil { t.Fatal(err) }
    if sc.HarshAccelerationCount != workers {
        t.Fatalf("lost updates: count = %d, want %d", sc.HarshAccelerationCount, workers)
    }
    if sc.Score != 0 { // 100 - 50*2
        t.Fatalf("score = %d, want 0", sc.Score)
    }
}

func TestRecordViolationConcurrentManyVehicleDays(t *testing.T) {
    mem := store.NewMemory()
    l := NewLedger(mem)
    pol := model.ScoringPolicy{WeightOverspeed: 1}

    // far more distinct keys than lock stripes, several hits each
    const vehicles = 300
    const hits = 4
    var wg sync.WaitGroup
    for i := 0; i < vehicles; i++ {
        id := "v" + strconv.Itoa(i)
        for j := 0; j < hits; j++ {
            wg.Add(1)
            go func() {
                defer wg.Done()
                _, _, _ = l.RecordViolation(context.Background(), "t1", id, "2026-09-01", pol, model.ViolationOverspeed)
            }()
        }
    }
    wg.Wait()

    for i := 0; i < vehicles; i++ {
        id := "v" + strconv.Itoa(i)
        sc, err := mem.GetOrCreateDailyScore(context.Background(), "t1", id, "2026-09-01")
        if err != nil { t.Fatal(err) }
        if sc.OverspeedCount != hits || sc.Score != model.InitialScore-hits {
            t.Fatalf("%s: count = %d score = %d", id, sc.OverspeedCount, sc.Score)
        }
    }
}
