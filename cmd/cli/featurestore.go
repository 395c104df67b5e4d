package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/theblitlabs/misuse-detection/internal/featurestore"
	"github.com/theblitlabs/misuse-detection/internal/metrics"
	"github.com/theblitlabs/misuse-detection/internal/pipeline"
)

// ExportFeatures runs the transformation stages and writes the selected
// features to the offline store.
func ExportFeatures(ctx context.Context, app *App, source string, out io.Writer) error {
	opts, err := pipeline.OptionsFromConfig(app.Cfg)
	if err != nil {
		return err
	}
	if source != "" {
		opts.Source = source
	}

	p, cleanup := NewPipeline(ctx, app, metrics.Nop{})
	defer cleanup()

	t, err := p.Features(ctx, opts)
	if err != nil {
		return err
	}

	def := app.FeatureDefinition()
	if err := featurestore.ExportParquet(ctx, t, def, def.SourcePath, time.Now()); err != nil {
		return err
	}
	app.Log.Info().Str("path", def.SourcePath).Int("rows", t.NumRows()).Msg("Features exported")
	fmt.Fprintf(out, "exported %d rows to %s\n", t.NumRows(), def.SourcePath)
	return nil
}

// MaterializeFeatures loads the offline store and pushes it to redis.
func MaterializeFeatures(ctx context.Context, app *App, out io.Writer) error {
	def := app.FeatureDefinition()
	t, err := featurestore.ReadParquet(ctx, def.SourcePath)
	if err != nil {
		return err
	}

	rcfg := app.Cfg.FeatureStore.Redis
	store := featurestore.NewRedisStore(redis.NewClient(&redis.Options{
		Addr:     rcfg.Addr,
		Password: rcfg.Password,
		DB:       rcfg.DB,
	}))
	defer store.Close()

	n, err := featurestore.Materialize(ctx, store, t, def)
	if err != nil {
		return err
	}
	app.Log.Info().Int("rows", n).Str("view", def.View).Dur("ttl", def.TTL).Msg("Features materialized")
	fmt.Fprintf(out, "materialized %d rows into %s\n", n, def.View)
	return nil
}
