package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/theblitlabs/misuse-detection/internal/api"
	"github.com/theblitlabs/misuse-detection/internal/api/handlers"
	"github.com/theblitlabs/misuse-detection/internal/execution/training"
	"github.com/theblitlabs/misuse-detection/internal/featurestore"
	"github.com/theblitlabs/misuse-detection/internal/metrics"
	"github.com/theblitlabs/misuse-detection/internal/monitoring/health"
	"github.com/theblitlabs/misuse-detection/internal/server"
	"github.com/theblitlabs/misuse-detection/internal/storage/repositories"
)

// RunServer loads the model artifact and serves predictions until ctx is
// cancelled.
func RunServer(ctx context.Context, app *App) error {
	log := app.Log
	model, artifact, err := training.LoadArtifact(app.Cfg.Server.ModelPath)
	if err != nil {
		return err
	}
	log.Info().
		Str("model", string(artifact.Kind)).
		Strs("features", artifact.FeatureNames).
		Time("created_at", artifact.CreatedAt).
		Msg("Model loaded")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.NewPrometheus(reg)

	checker := health.NewHealthChecker(30*time.Second, log)
	checker.Register("model", func(context.Context) (string, error) {
		return fmt.Sprintf("%s with %d features", model.Kind(), model.NumFeatures()), nil
	})
	deps := api.Deps{Metrics: prom, Gatherer: reg, Health: checker}

	var lookup handlers.FeatureLookup
	rcfg := app.Cfg.FeatureStore.Redis
	if rcfg.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: rcfg.Addr, Password: rcfg.Password, DB: rcfg.DB})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("addr", rcfg.Addr).Msg("Online feature store unavailable, entity predictions disabled")
			client.Close()
		} else {
			store := featurestore.NewRedisStore(client)
			defer store.Close()
			checker.Register("redis", func(ctx context.Context) (string, error) {
				return client.Ping(ctx).Result()
			})
			lookup = handlers.OnlineLookup(store, app.FeatureDefinition())
		}
	}
	deps.Predict = handlers.NewPredictHandler(log, model, prom, lookup)

	db, err := app.OpenDatabase(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Run history unavailable")
	} else if db != nil {
		defer db.Close()
		checker.Register("database", func(ctx context.Context) (string, error) {
			return "reachable", db.PingContext(ctx)
		})
		deps.Runs = handlers.NewRunHandler(log, repositories.NewRunRepository(db))
	}

	checker.Start(ctx)
	router := api.NewRouter(log, deps)
	srv := server.NewServer(app.Cfg.Server, router, log,
		server.WithSystemMetrics(metrics.NewSystemCollector(log, 5*time.Second), prom))
	return srv.Run(ctx)
}
