package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"consentledger/internal/consent/anonymizer"
	"consentledger/internal/consent/handler"
	consentmetrics "consentledger/internal/consent/metrics"
	"consentledger/internal/consent/registry"
	consentservice "consentledger/internal/consent/service"
	eventstore "consentledger/internal/consent/store/event"
	purposestore "consentledger/internal/consent/store/purpose"
	jwttoken "consentledger/internal/jwt_token"
	"consentledger/internal/platform/config"
	"consentledger/internal/platform/kafka"
	"consentledger/internal/platform/metrics"
	"consentledger/internal/platform/middleware"
	"consentledger/internal/platform/postgres"
	"consentledger/internal/platform/redis"
	"consentledger/pkg/platform/audit"
	"consentledger/pkg/platform/audit/publishers/compliance"
	auditmemory "consentledger/pkg/platform/audit/store/memory"
	auditpostgres "consentledger/pkg/platform/audit/store/postgres"
	"consentledger/pkg/platform/httputil"
	"consentledger/pkg/platform/middleware/metadata"
	"consentledger/pkg/platform/middleware/requesttime"
	"consentledger/pkg/platform/pseudonym"
	"consentledger/pkg/platform/tx"
)

const lockPrefix = "consentd:lock:"

type schemaInitializer interface {
	InitializeSchema(ctx context.Context) error
}

// app holds the wired components and the resources they own.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db       *sql.DB
	redis    *redis.Client
	producer *kafka.Producer

	// schemas are initialized in order: purposes before events before audit.
	schemas       []schemaInitializer
	auditPostgres *auditpostgres.Store

	handler     *handler.Handler
	jwt         *jwttoken.JWTServiceAdapter
	httpMetrics *metrics.Metrics
}

func buildApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: log}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	hasher, err := pseudonym.New([]byte(cfg.Ledger.PseudonymPepper))
	if err != nil {
		return nil, fmt.Errorf("create pseudonym hasher: %w", err)
	}

	if a.db, err = postgres.Open(ctx, cfg.Postgres); err != nil {
		return nil, err
	}
	if a.redis, err = redis.New(ctx, cfg.Redis); err != nil {
		return nil, err
	}
	if len(cfg.Kafka.Brokers) > 0 {
		if a.producer, err = kafka.NewProducer(cfg.Kafka, log); err != nil {
			return nil, err
		}
	}

	// ledgerStore is what both the ledger and the anonymizer need from the event store.
	type ledgerStore interface {
		consentservice.EventStore
		anonymizer.Redactor
	}
	var (
		purposes   registry.Store
		events     ledgerStore
		auditStore audit.Store
		runner     tx.Runner
	)
	if a.db != nil {
		ps := purposestore.NewPostgres(a.db)
		es := eventstore.NewPostgres(a.db, hasher)
		as := auditpostgres.New(a.db)
		purposes, events, auditStore = ps, es, as
		a.auditPostgres = as
		a.schemas = []schemaInitializer{ps, es, as}
		runner = tx.NewSQLRunner(a.db, cfg.Postgres.TxTimeout)
		log.Info("using postgres stores")
	} else {
		ps := purposestore.NewInMemory()
		purposes = ps
		events = eventstore.NewInMemory(ps, hasher)
		auditStore = auditmemory.NewInMemoryStore()
		runner = tx.NewShardedRunner(cfg.Postgres.TxTimeout)
		log.Warn("using in-memory stores; data is lost on restart")
	}

	consentMetrics := consentmetrics.New()
	publisher := compliance.New(auditStore,
		compliance.WithLogger(log),
		compliance.WithMetrics(compliance.NewMetrics()),
	)

	purposeRegistry := registry.New(purposes,
		registry.WithLogger(log),
		registry.WithMetrics(consentMetrics),
		registry.WithAuditPublisher(publisher),
		registry.WithTx(runner),
	)
	ledger := consentservice.New(events, purposeRegistry, hasher,
		consentservice.WithLogger(log),
		consentservice.WithMetrics(consentMetrics),
		consentservice.WithAuditPublisher(publisher),
		consentservice.WithTx(runner),
		consentservice.WithGate(cfg.Ledger.ConsentGateEnabled),
	)

	authorizer := middleware.NewRoleAuthorizer(cfg.Auth.AdminRole, cfg.Auth.AdminAllowlist)
	anonOpts := []anonymizer.Option{
		anonymizer.WithLogger(log),
		anonymizer.WithMetrics(consentMetrics),
		anonymizer.WithAuditPublisher(publisher),
		anonymizer.WithSecurityLog(auditStore),
		anonymizer.WithTx(runner),
	}
	if a.redis != nil {
		anonOpts = append(anonOpts, anonymizer.WithLocker(redis.NewLocker(a.redis.Client, lockPrefix), cfg.Redis.LockTTL))
	}
	anon := anonymizer.New(events, authorizer, hasher, anonOpts...)

	a.handler = handler.New(ledger, purposeRegistry, anon, middleware.ContextIdentity{}, authorizer, log)
	a.jwt = jwttoken.NewJWTServiceAdapter(jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer))
	a.httpMetrics = metrics.New()
	ok = true
	return a, nil
}

// migrate creates the tables for every durable store.
func (a *app) migrate(ctx context.Context) error {
	for _, s := range a.schemas {
		if err := s.InitializeSchema(ctx); err != nil {
			return err
		}
	}
	a.logger.InfoContext(ctx, "schema initialized", "stores", len(a.schemas))
	return nil
}

func (a *app) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.Logger(a.logger))
	r.Use(middleware.Latency(a.httpMetrics))
	r.Use(middleware.ContentTypeJSON)
	r.Use(chimw.Timeout(a.cfg.HTTP.RequestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", a.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(a.jwt, a.logger))
		a.handler.Register(r)
	})
	return r
}

func (a *app) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}
	status := http.StatusOK
	check := func(name string, fn func(context.Context) error) {
		if err := fn(ctx); err != nil {
			a.logger.WarnContext(ctx, "readiness check failed", "dependency", name, "error", err)
			checks[name] = "unavailable"
			status = http.StatusServiceUnavailable
			return
		}
		checks[name] = "ok"
	}
	if a.db != nil {
		check("postgres", a.db.PingContext)
	}
	if a.redis != nil {
		check("redis", a.redis.Health)
	}
	if a.producer != nil {
		check("kafka", a.producer.Health)
	}
	httputil.WriteJSON(w, status, checks)
}

func (a *app) Close() {
	if a.producer != nil {
		a.producer.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
