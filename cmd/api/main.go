package main

import (
    "context"
    "log"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"
    "golang.org/x/sync/errgroup"

    "fleetvision/internal/api"
    "fleetvision/internal/config"
    "fleetvision/internal/metrics"
)

func main() {
    cfg, err := config.Load()
    if err != nil {
        log.Fatalf("config: %v", err)
    }
    metrics.RegisterDefault()

    srvDeps, err := api.NewServer(cfg)
    if err != nil {
        log.Fatalf("failed to init server: %v", err)
    }

    mux := http.NewServeMux()

    // Telemetry intake
    mux.HandleFunc("/v1/telemetry/positions", api.RateLimit(cfg.RateRPS, cfg.RateBurst, srvDeps.TelemetryHandler))

    // Fleet
    mux.HandleFunc("/v1/vehicles", srvDeps.VehiclesHandler)
    mux.HandleFunc("/v1/vehicles/live", srvDeps.LiveVehiclesHandler)
    mux.HandleFunc("/ws/fleet", srvDeps.FleetWSHandler)

    // Scores
    mux.HandleFunc("/v1/scores", srvDeps.ScoresHandler)
    mux.HandleFunc("/v1/admin/scoring-policy", srvDeps.ScoringPolicyHandler)

    // Routes
    mux.HandleFunc("/v1/routes", srvDeps.RoutesHandler)
    mux.HandleFunc("/v1/routes/", srvDeps.RouteByIDHandler) // includes /optimize

    // Subscriptions, admin
    mux.HandleFunc("/v1/subscriptions", srvDeps.SubscriptionsHandler)
    mux.HandleFunc("/v1/admin/devices/sync", srvDeps.DeviceSyncHandler)

    // Health, metrics
    mux.HandleFunc("/healthz", srvDeps.HealthHandler)
    mux.HandleFunc("/readyz", srvDeps.ReadyHandler)
    mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

    srv := &http.Server{
        Addr:              ":" + cfg.Port,
        Handler:           api.LogMiddleware(mux),
        ReadHeaderTimeout: 5 * time.Second,
    }

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()

    worker := srvDeps.NewWebhookWorker()
    worker.Start()

    g, ctx := errgroup.WithContext(ctx)
    g.Go(func() error {
        log.Printf("API listening on %s", srv.Addr)
        if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
            return err
        }
        return nil
    })
    g.Go(func() error {
        <-ctx.Done()
        close(worker.Stop)
        shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
        defer cancel()
        return srv.Shutdown(shutCtx)
    })
    if err := g.Wait(); err != nil {
        log.Fatalf("server error: %v", err)
    }
}
