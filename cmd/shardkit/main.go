// Command shardkit wires a Config into a running set of ShardSets and
// serves the read-only diagnostics surface over them. It is boundary
// glue, not the library: every query a real application issues goes
// through pkg/sharding directly, in-process. Adapted from the teacher's
// cmd/manager (config load, signal-driven graceful shutdown), narrowed
// from a control-plane process to a diagnostics host for this library's
// ambient + domain stack.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/shardkit/shardkit/internal/diagnostics"
	"github.com/shardkit/shardkit/pkg/config"
	"github.com/shardkit/shardkit/pkg/credentials"
	"github.com/shardkit/shardkit/pkg/housekeeping"
	"github.com/shardkit/shardkit/pkg/logging"
	"github.com/shardkit/shardkit/pkg/observability"
	"github.com/shardkit/shardkit/pkg/sharding"
	"github.com/shardkit/shardkit/pkg/sqldriver/mysql"
	"github.com/shardkit/shardkit/pkg/sqldriver/postgres"
)

func main() {
	configPath := os.Getenv("SHARDKIT_CONFIG")
	if configPath == "" {
		configPath = "configs/shardkit.json"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	logger, err := logging.NewLogger(logging.LogConfig{
		Level:        logging.LogLevel(cfg.Logging.Level),
		Format:       logging.LogFormat(cfg.Logging.Format),
		EnableCaller: cfg.Logging.EnableCaller,
		EnableStack:  cfg.Logging.EnableStack,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	recorder := observability.NewPrometheusRecorder(logger.Logger)
	scheduler := housekeeping.New(logger.Logger)

	shardSets, err := buildShardSets(cfg, logger.Logger, recorder, scheduler)
	if err != nil {
		logger.Fatal("failed to build shard sets", zap.Error(err))
	}

	if _, err := scheduler.ScheduleBreakerProbe(cfg.Housekeeping.BreakerProbeSchedule, cfg.Housekeeping.BreakerProbeTestInterval); err != nil {
		logger.Fatal("failed to schedule breaker probe", zap.Error(err))
	}
	if _, err := scheduler.ScheduleCredentialRefresh(cfg.Housekeeping.CredentialRefreshSchedule, cfg.Housekeeping.CredentialRefreshThreshold); err != nil {
		logger.Fatal("failed to schedule credential refresh", zap.Error(err))
	}
	scheduler.Start()
	defer scheduler.Stop()

	server := diagnostics.NewServer(shardSets, recorder, logger.Logger)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("diagnostics server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("diagnostics server failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// buildShardSets turns the declarative config into live ShardSets,
// resolving each referenced Endpoint's driver and credential provider
// and registering its Connection Managers' breakers with the
// housekeeping scheduler.
func buildShardSets(cfg *config.Config, logger *zap.Logger, recorder sharding.Recorder, scheduler *housekeeping.Scheduler) (map[string]*sharding.ShardSet, error) {
	managers := make(map[string]*sharding.ConnectionManager, len(cfg.Endpoints))
	for name, ep := range cfg.Endpoints {
		policy := sharding.DefaultPolicy()
		if rs, ok := cfg.Resilience[ep.ResilienceKey]; ok {
			policy = rs.ToPolicy()
		}

		driver, err := driverFor(ep.Driver)
		if err != nil {
			return nil, fmt.Errorf("endpoint %q: %w", name, err)
		}

		resolver, err := resolverFor(ep)
		if err != nil {
			return nil, fmt.Errorf("endpoint %q: %w", name, err)
		}

		endpoint := sharding.Endpoint{Description: ep.Description, ResilienceKey: ep.ResilienceKey, Resolve: resolver}
		cm := sharding.NewConnectionManager(endpoint, driver, policy, logger, recorder)
		managers[name] = cm
		scheduler.Watch(ep.Description, cm)
	}

	shardSets := make(map[string]*sharding.ShardSet, len(cfg.ShardSets))
	for name, spec := range cfg.ShardSets {
		entries := make([]sharding.ShardEntry, 0, len(spec.Shards))
		for _, m := range spec.Shards {
			read, ok := managers[m.ReadEndpoint]
			if !ok {
				return nil, fmt.Errorf("shard set %q: shard %q references unknown endpoint %q", name, m.Id, m.ReadEndpoint)
			}
			write := read
			if m.WriteEndpoint != "" {
				write, ok = managers[m.WriteEndpoint]
				if !ok {
					return nil, fmt.Errorf("shard set %q: shard %q references unknown write endpoint %q", name, m.Id, m.WriteEndpoint)
				}
			}
			entries = append(entries, sharding.ShardEntry{Id: sharding.ShardId(m.Id), Database: sharding.NewDatabase(read, write)})
		}

		var defaultShard *sharding.ShardId
		if spec.DefaultShard != "" {
			id := sharding.ShardId(spec.DefaultShard)
			defaultShard = &id
		}
		shardSets[name] = sharding.NewShardSet(name, entries, defaultShard, logger, recorder)
	}
	return shardSets, nil
}

func driverFor(name string) (sharding.Driver, error) {
	switch name {
	case "postgres":
		return postgres.New(), nil
	case "mysql":
		return mysql.New(), nil
	default:
		return nil, fmt.Errorf("unknown driver %q (want \"postgres\" or \"mysql\")", name)
	}
}

// resolverFor builds a CredentialResolver from an EndpointSpec: a fixed
// string for local development, or an environment-sourced secret for
// deployments that inject it via the platform's secret store rather
// than OAuth2 token exchange (pkg/credentials.OAuth2Provider covers the
// latter for callers that construct an Endpoint directly).
func resolverFor(ep config.EndpointSpec) (sharding.CredentialResolver, error) {
	switch {
	case ep.StaticConnectionString != "":
		p, err := credentials.NewStaticProvider(ep.StaticConnectionString)
		if err != nil {
			return nil, err
		}
		return p.AsResolver(), nil
	case ep.CredentialEnv != "":
		value := os.Getenv(ep.CredentialEnv)
		if value == "" {
			return nil, fmt.Errorf("environment variable %q is not set", ep.CredentialEnv)
		}
		p, err := credentials.NewStaticProvider(value)
		if err != nil {
			return nil, err
		}
		return p.AsResolver(), nil
	default:
		return nil, fmt.Errorf("endpoint declares neither static_connection_string nor credential_env")
	}
}
