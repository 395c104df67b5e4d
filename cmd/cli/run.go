package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/theblitlabs/misuse-detection/internal/execution/evaluation"
	"github.com/theblitlabs/misuse-detection/internal/execution/ingestion"
	"github.com/theblitlabs/misuse-detection/internal/execution/training"
	"github.com/theblitlabs/misuse-detection/internal/metrics"
	"github.com/theblitlabs/misuse-detection/internal/pipeline"
	"github.com/theblitlabs/misuse-detection/internal/storage/repositories"
	"github.com/theblitlabs/misuse-detection/internal/telemetry"
	"github.com/theblitlabs/misuse-detection/internal/utils/errorutil"
	"github.com/theblitlabs/misuse-detection/pkg/ipfs"
)

// RunOverrides replace configured values for one invocation.
type RunOverrides struct {
	Source string
	Model  string
}

// NewPipeline builds the pipeline with the IPFS fetcher and, when a database
// is configured, the run store.
func NewPipeline(ctx context.Context, app *App, recorder metrics.Recorder) (*pipeline.Pipeline, func()) {
	fetcher := ipfs.New(ipfs.Config{APIEndpoint: app.Cfg.Data.IPFSAPI}, app.Log)
	ingester := ingestion.New(app.Log, ingestion.WithFetcher(fetcher, app.Cfg.Data.CacheDir))

	var opts []pipeline.Option
	cleanup := func() {}
	db, err := app.OpenDatabase(ctx)
	if err != nil {
		app.Log.Warn().Err(err).Msg("Run history disabled, database unavailable")
	} else if db != nil {
		opts = append(opts, pipeline.WithRunStore(repositories.NewRunRepository(db)))
		cleanup = func() { errorutil.HandleError(app.Log, db.Close(), "Failed to close database") }
	}
	return pipeline.New(app.Log, ingester, recorder, opts...), cleanup
}

// RunPipeline executes the configured pipeline, saves the model artifact and
// writes the score to out.
func RunPipeline(ctx context.Context, app *App, overrides RunOverrides, out io.Writer) error {
	shutdown, err := telemetry.InitTelemetry(ctx, app.Cfg.Telemetry, app.Log)
	if err != nil {
		return err
	}
	defer func() {
		errorutil.HandleError(app.Log, shutdown(context.Background()), "Telemetry shutdown failed")
	}()

	opts, err := pipeline.OptionsFromConfig(app.Cfg)
	if err != nil {
		return err
	}
	if overrides.Source != "" {
		opts.Source = overrides.Source
	}
	if overrides.Model != "" {
		if opts.Model, err = training.ParseKind(overrides.Model); err != nil {
			return err
		}
	}
	if opts.Source == "" {
		return fmt.Errorf("no data source: set data.source or pass --source")
	}

	p, cleanup := NewPipeline(ctx, app, metrics.NewPrometheus(prometheus.NewRegistry()))
	defer cleanup()

	res, err := p.Run(ctx, opts)
	if err != nil {
		return err
	}

	if path := app.Cfg.Model.ArtifactPath; path != "" {
		if err := training.SaveArtifact(path, res.Model, res.FeatureNames); err != nil {
			return err
		}
		app.Log.Info().Str("path", path).Msg("Model artifact saved")
	}

	fmt.Fprintf(out, "run %s: model %s, accuracy %.4f\n", res.RunID, res.Model.Kind(), res.Score.Accuracy)
	if res.Score.Metric != evaluation.MetricAccuracy {
		fmt.Fprintln(out, res.Score.String())
	}
	for _, stage := range []string{
		pipeline.StageIngest, pipeline.StageClean, pipeline.StagePreprocess, pipeline.StageEngineer,
		pipeline.StageSelect, pipeline.StageSplit, pipeline.StageTrain, pipeline.StageEvaluate,
	} {
		fmt.Fprintf(out, "  %-10s %s\n", stage, res.Durations[stage].Round(time.Millisecond))
	}
	return nil
}
