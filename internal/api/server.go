// Package api implements the HTTP surface of the fleet service.
package api

import (
    "log"
    "net/http"
    "strings"

    "fleetvision/internal/auth"
    "fleetvision/internal/config"
    "fleetvision/internal/ingest"
    "fleetvision/internal/metrics"
    "fleetvision/internal/realtime"
    "fleetvision/internal/score"
    "fleetvision/internal/store"
    "fleetvision/internal/traccar"
    "fleetvision/internal/webhooks"
)

type Server struct {
    Cfg      *config.Config
    Store    store.Store
    Broker   realtime.GroupBroker
    Live     *realtime.LiveCache
    Ledger   *score.Ledger
    Ingestor *ingest.Ingestor
    Pub      *webhooks.Publisher
    Auth     *auth.Verifier
    Traccar  *traccar.Client
}

// NewServer wires the service from config. An empty DATABASE_URL selects
// the in-memory store; an empty REDIS_URL selects the in-process broker.
func NewServer(cfg *config.Config) (*Server, error) {
    var s store.Store
    if strings.TrimSpace(cfg.DatabaseURL) == "" {
        s = store.NewMemory()
    } else {
        sp, err := store.NewPostgres(cfg.DatabaseURL)
        if err != nil {
            return nil, err
        }
        if err := sp.MigrateDir(cfg.MigrationsDir); err != nil {
            log.Printf("migrate: %v", err)
        }
        s = sp
    }
    var broker realtime.GroupBroker
    if cfg.RedisURL != "" {
        rb, err := realtime.NewRedisBroker(cfg.RedisURL)
        if err != nil {
            log.Printf("redis broker unavailable, using in-process: %v", err)
            broker = newLocalBroker()
        } else {
            broker = rb
        }
    } else {
        broker = newLocalBroker()
    }

    srv := &Server{
        Cfg:    cfg,
        Store:  s,
        Broker: broker,
        Live:   realtime.NewLiveCache(),
        Ledger: score.NewLedger(s),
        Pub:    webhooks.NewPublisher(s),
        Auth:   auth.NewVerifierFromEnv(),
    }
    srv.Ingestor = ingest.New(s, srv.Ledger, broker, srv.Live)
    srv.Ingestor.Events = srv.Pub
    if cfg.TraccarURL != "" {
        srv.Traccar = traccar.NewClient(cfg.TraccarURL, cfg.TraccarUser, cfg.TraccarPassword)
    }
    return srv, nil
}

func newLocalBroker() *realtime.Broker {
    b := realtime.NewBroker()
    b.OnDrop(func(string) { metrics.BroadcastDrops.Inc() })
    return b
}

// NewWebhookWorker creates the background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
    return webhooks.NewWorker(s.Store, s.Cfg.WebhookMaxAttempts)
}

// getPrincipal extracts tenant and role from the bearer token, falling
// back to headers for dev setups.
func (s *Server) getPrincipal(r *http.Request) auth.Principal {
    authz := r.Header.Get("Authorization")
    if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
        tok := strings.TrimSpace(authz[len("Bearer "):])
        if pr, err := s.Auth.Verify(tok); err == nil {
            return pr
        }
    }
    tenant := r.Header.Get("X-Tenant-Id")
    role := r.Header.Get("X-Role")
    if tenant == "" {
        tenant = "t_demo"
    }
    if role == "" {
        role = "admin"
    }
    return auth.Principal{Tenant: tenant, Role: strings.ToLower(role)}
}
