// Command bankledgerd runs the account ledger's write side (command bus)
// and read side (the account_balance projector) as a single long-lived
// process, plus an optional embedded NATS notifier that lets the
// projector react to new events faster than its poll interval.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/plaenen/bankledger/pkg/bankaccount"
	"github.com/plaenen/bankledger/pkg/bankerrors"
	"github.com/plaenen/bankledger/pkg/bus"
	embeddednats "github.com/plaenen/bankledger/pkg/infrastructure/nats"
	"github.com/plaenen/bankledger/pkg/messaging"
	natseventbus "github.com/plaenen/bankledger/pkg/messaging/nats"
	"github.com/plaenen/bankledger/pkg/middleware"
	"github.com/plaenen/bankledger/pkg/observability"
	"github.com/plaenen/bankledger/pkg/projector"
	"github.com/plaenen/bankledger/pkg/runner"
	runtimeeventbus "github.com/plaenen/bankledger/pkg/runtime/eventbus"
	"github.com/plaenen/bankledger/pkg/store/sqlite"
)

// config holds the two connection strings and projector name SPEC_FULL's
// configuration section calls for, plus the optional NATS wake channel.
type config struct {
	eventStoreDSN       string
	readModelDSN        string
	projectorName       string
	enableNATS          bool
	natsStoreDir        string
	natsServerName      string
	healthAddr          string
	enableObservability bool
	observabilityDSN    string
}

func loadConfig() config {
	return config{
		eventStoreDSN:       getEnv("BANKLEDGER_EVENTSTORE_DSN", "file:bankledger-events.db"),
		readModelDSN:        getEnv("BANKLEDGER_READMODEL_DSN", "file:bankledger-readmodel.db"),
		projectorName:       getEnv("BANKLEDGER_PROJECTOR_NAME", bankaccount.ProjectorName),
		enableNATS:          getEnvBool("BANKLEDGER_ENABLE_NATS", false),
		natsStoreDir:        getEnv("BANKLEDGER_NATS_STORE_DIR", ""),
		natsServerName:      getEnv("BANKLEDGER_NATS_SERVER_NAME", "bankledgerd"),
		healthAddr:          getEnv("BANKLEDGER_HEALTH_ADDR", ":8090"),
		enableObservability: getEnvBool("BANKLEDGER_ENABLE_OBSERVABILITY", true),
		observabilityDSN:    getEnv("BANKLEDGER_OBSERVABILITY_DSN", "file:bankledger-observability.db"),
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func main() {
	logger := slog.Default()
	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		log.Fatal(err)
	}
}

func run(cfg config, logger *slog.Logger) error {
	ctx := context.Background()
	runnerLogger := slogRunnerLogger{logger}

	var services []runner.Service
	var wakeChannel messaging.EventBus

	// The embedded NATS notifier, when enabled, must be up before the
	// event store and projector are built: both take it as a
	// constructor option (sqlite.WithEventBus, projector.WithWakeChannel)
	// rather than discovering it later.
	if cfg.enableNATS {
		serverOpts := []embeddednats.Option{embeddednats.WithServerName(cfg.natsServerName)}
		if cfg.natsStoreDir != "" {
			serverOpts = append(serverOpts, embeddednats.WithStoreDir(cfg.natsStoreDir))
		}

		busService := runtimeeventbus.New(
			runtimeeventbus.WithConfig(natseventbus.DefaultConfig()),
			runtimeeventbus.WithLogger(logger),
			runtimeeventbus.WithServerOptions(serverOpts...),
		)
		if err := busService.Start(ctx); err != nil {
			return fmt.Errorf("start embedded nats notifier: %w", err)
		}
		wakeChannel = busService.EventBus()
		services = append(services, &startedService{name: busService.Name(), svc: busService})
	}

	eventStoreOpts := []sqlite.Option{sqlite.WithDSN(cfg.eventStoreDSN)}
	if wakeChannel != nil {
		eventStoreOpts = append(eventStoreOpts, sqlite.WithEventBus(wakeChannel))
	}
	eventStore, err := sqlite.NewEventStore(eventStoreOpts...)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer eventStore.Close()

	// Same-file-or-separate-file storage, per the "EventStore" and
	// "ReadModel" connection strings: most deployments point both at the
	// same SQLite file, but they are independently configurable so the
	// read model can live on its own disk/volume.
	readModelStore, err := sqlite.NewEventStore(sqlite.WithDSN(cfg.readModelDSN))
	if err != nil {
		return fmt.Errorf("open read model store: %w", err)
	}
	defer readModelStore.Close()

	checkpointStore, err := sqlite.NewCheckpointStore(readModelStore.DB())
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}

	balanceProjection, err := bankaccount.NewBalanceProjection(readModelStore.DB(), checkpointStore, eventStore)
	if err != nil {
		return fmt.Errorf("build balance projection: %w", err)
	}

	metrics, obsQueries, shutdownTelemetry, err := setupTelemetry(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer shutdownTelemetry(ctx)

	balanceProjector := projector.New(cfg.projectorName, balanceProjection, eventStore,
		projector.WithLogger(logger),
		projector.WithMetrics(metrics),
		projector.WithWakeChannel(wakeChannel),
	)
	services = append(services, balanceProjector)

	commandBus := bus.NewCommandBus()
	commandBus.Use(middleware.RecoveryMiddleware(logger))
	commandBus.Use(middleware.LoggingMiddleware(logger))
	commandBus.Use(middleware.MetadataValidationMiddleware())
	commandBus.Use(middleware.TracingMiddleware(""))

	repo := bankaccount.NewRepository(eventStore)
	handlers := bankaccount.NewCommandHandlers(repo)
	handlers.RegisterOn(commandBus)

	r := runner.New(services,
		runner.WithLogger(runnerLogger),
		runner.WithStartupTimeout(30*time.Second),
		runner.WithShutdownTimeout(15*time.Second),
	)

	healthServer := newHealthServer(cfg.healthAddr, r, obsQueries, readModelStore.DB())
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server stopped", "error", err)
		}
	}()
	defer healthServer.Shutdown(ctx)

	logger.Info("bankledgerd starting",
		"event_store_dsn", cfg.eventStoreDSN,
		"read_model_dsn", cfg.readModelDSN,
		"projector", cfg.projectorName,
		"nats_enabled", cfg.enableNATS,
		"health_addr", cfg.healthAddr,
	)

	return r.Run(ctx)
}

// setupTelemetry wires the account ledger's otel instruments to a local
// SQLite sink instead of an external collector: traces and metrics land
// in their own tables in cfg.observabilityDSN, queryable through
// obsQueries without standing up a Jaeger/Prometheus deployment. When
// disabled, it falls back to the bare otel global meter (a no-op unless
// something else in the process configured a provider).
func setupTelemetry(ctx context.Context, cfg config, logger *slog.Logger) (*observability.Metrics, *observability.SQLiteObservabilityQueries, func(context.Context) error, error) {
	noopShutdown := func(context.Context) error { return nil }

	if !cfg.enableObservability {
		metrics, err := observability.NewMetrics(otel.Meter("github.com/plaenen/bankledger"))
		if err != nil {
			return nil, nil, noopShutdown, fmt.Errorf("init metrics: %w", err)
		}
		return metrics, nil, noopShutdown, nil
	}

	obsDB, err := sql.Open("sqlite", cfg.observabilityDSN)
	if err != nil {
		return nil, nil, noopShutdown, fmt.Errorf("open observability store: %w", err)
	}

	obsConfig := observability.DefaultSQLiteExporterConfig(obsDB)

	traceExporter, err := observability.NewSQLiteTraceExporter(obsConfig)
	if err != nil {
		obsDB.Close()
		return nil, nil, noopShutdown, fmt.Errorf("init trace exporter: %w", err)
	}

	metricExporter, err := observability.NewSQLiteMetricExporter(obsConfig)
	if err != nil {
		obsDB.Close()
		return nil, nil, noopShutdown, fmt.Errorf("init metric exporter: %w", err)
	}

	tel, err := observability.Init(ctx, observability.Config{
		ServiceName:     "bankledgerd",
		ServiceVersion:  "dev",
		Environment:     getEnv("BANKLEDGER_ENVIRONMENT", "local"),
		TraceExporter:   traceExporter,
		TraceSampleRate: 1.0,
		MetricReader:    sdkmetric.NewPeriodicReader(metricExporter),
		Logger:          logger,
	})
	if err != nil {
		obsDB.Close()
		return nil, nil, noopShutdown, fmt.Errorf("init telemetry: %w", err)
	}

	obsQueries := observability.NewSQLiteObservabilityQueries(obsDB, obsConfig)

	shutdown := func(ctx context.Context) error {
		telErr := tel.Shutdown(ctx)
		dbErr := obsDB.Close()
		if telErr != nil {
			return telErr
		}
		return dbErr
	}

	return tel.Metrics, obsQueries, shutdown, nil
}

// startedService adapts a runner.Service/runner.HealthChecker that has
// already been started outside the runner (the embedded NATS notifier,
// which must be running before the event store and projector are
// constructed) so runner.Runner still owns its graceful shutdown and
// health-check aggregation.
type startedService struct {
	name string
	svc  interface {
		Stop(ctx context.Context) error
		HealthCheck(ctx context.Context) error
	}
}

func (s *startedService) Name() string { return s.name }

func (s *startedService) Start(ctx context.Context) error { return nil }

func (s *startedService) Stop(ctx context.Context) error { return s.svc.Stop(ctx) }

func (s *startedService) HealthCheck(ctx context.Context) error { return s.svc.HealthCheck(ctx) }

var (
	_ runner.Service       = (*startedService)(nil)
	_ runner.HealthChecker = (*startedService)(nil)
)

func newHealthServer(addr string, r *runner.Runner, obsQueries *observability.SQLiteObservabilityQueries, readModelDB *sql.DB) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := r.HealthCheck(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "unhealthy: %v\n", err)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	registerAccountQueryRoutes(mux, readModelDB)

	if obsQueries != nil {
		mux.HandleFunc("/debug/traces", func(w http.ResponseWriter, req *http.Request) {
			limit := 50
			if v := req.URL.Query().Get("limit"); v != "" {
				if n, err := strconv.Atoi(v); err == nil {
					limit = n
				}
			}
			traces, err := obsQueries.QueryTraces(time.Time{}, time.Time{}, limit)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(traces)
		})

		mux.HandleFunc("/debug/metrics", func(w http.ResponseWriter, req *http.Request) {
			name := req.URL.Query().Get("name")
			if name == "" {
				http.Error(w, "name query parameter is required", http.StatusBadRequest)
				return
			}
			summary, err := obsQueries.GetMetricSummary(name, time.Time{}, time.Time{})
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(summary)
		})
	}

	return &http.Server{Addr: addr, Handler: mux}
}

// registerAccountQueryRoutes exposes the account_balance query surface
// over HTTP: a point lookup, a filtered/sorted list, the overdrawn
// ranking, and the status/currency summary. Every handler reads straight
// from readModelDB through pkg/bankaccount's query functions, which take
// sort columns only from their own whitelist.
func registerAccountQueryRoutes(mux *http.ServeMux, readModelDB *sql.DB) {
	mux.HandleFunc("GET /accounts/overdrawn", func(w http.ResponseWriter, req *http.Request) {
		limit := 0
		if v := req.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				limit = n
			}
		}
		rows, err := bankaccount.Overdrawn(readModelDB, limit)
		if err != nil {
			writeQueryError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rows)
	})

	mux.HandleFunc("GET /accounts/summary", func(w http.ResponseWriter, req *http.Request) {
		summary, err := bankaccount.GetSummary(readModelDB)
		if err != nil {
			writeQueryError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(summary)
	})

	mux.HandleFunc("GET /accounts/{id}", func(w http.ResponseWriter, req *http.Request) {
		row, err := bankaccount.GetAccount(readModelDB, req.PathValue("id"))
		if err != nil {
			writeQueryError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(row)
	})

	mux.HandleFunc("GET /accounts", func(w http.ResponseWriter, req *http.Request) {
		query := req.URL.Query()
		filter := bankaccount.ListFilter{
			Status:     query.Get("status"),
			SortBy:     query.Get("sort"),
			Descending: query.Get("desc") == "true",
		}
		if v := query.Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				filter.Limit = n
			}
		}
		if v := query.Get("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				filter.Offset = n
			}
		}

		rows, err := bankaccount.ListAccounts(readModelDB, filter)
		if err != nil {
			writeQueryError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rows)
	})
}

// writeQueryError maps the account query error taxonomy to an HTTP
// status, mirroring the core's error-to-status mapping for the command
// surface: invalid argument/not found are client errors, everything
// else is a server error.
func writeQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bankerrors.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, bankerrors.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// slogRunnerLogger adapts *slog.Logger to runner.Logger's
// keysAndValues-pairs signature.
type slogRunnerLogger struct {
	logger *slog.Logger
}

func (l slogRunnerLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, keysAndValues...)
}

func (l slogRunnerLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, keysAndValues...)
}

func (l slogRunnerLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}
