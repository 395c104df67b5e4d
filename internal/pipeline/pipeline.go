// Package pipeline runs the misuse detection workflow end to end:
// ingest, clean, preprocess, engineer, select, split, train and evaluate.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/theblitlabs/misuse-detection/internal/core/dataset"
	"github.com/theblitlabs/misuse-detection/internal/execution/cleaning"
	"github.com/theblitlabs/misuse-detection/internal/execution/engineering"
	"github.com/theblitlabs/misuse-detection/internal/execution/evaluation"
	"github.com/theblitlabs/misuse-detection/internal/execution/preprocessing"
	"github.com/theblitlabs/misuse-detection/internal/execution/selection"
	"github.com/theblitlabs/misuse-detection/internal/execution/split"
	"github.com/theblitlabs/misuse-detection/internal/execution/stage"
	"github.com/theblitlabs/misuse-detection/internal/execution/training"
	"github.com/theblitlabs/misuse-detection/internal/metrics"
	"github.com/theblitlabs/misuse-detection/internal/models"
	"github.com/theblitlabs/misuse-detection/internal/telemetry"
	"github.com/theblitlabs/misuse-detection/internal/utils/errorutil"
)

// Stage names, used for spans, durations and metrics.
const (
	StageIngest     = "ingest"
	StageClean      = "clean"
	StagePreprocess = "preprocess"
	StageEngineer   = "engineer"
	StageSelect     = "select"
	StageSplit      = "split"
	StageTrain      = "train"
	StageEvaluate   = "evaluate"
)

// Policy decides whether a failing sub-step aborts the run.
type Policy = stage.Policy

// Source loads the raw table for a run.
type Source interface {
	Ingest(ctx context.Context, source string) (*dataset.Table, error)
}

// RunStore records finished runs.
type RunStore interface {
	Create(ctx context.Context, run *models.Run) error
}

// Result is the terminal output of a successful run.
type Result struct {
	RunID        uuid.UUID
	Model        training.Classifier
	FeatureNames []string
	Predictions  []string
	Score        *evaluation.Score
	Split        *split.Split
	Rows         int
	Durations    map[string]time.Duration
}

type Pipeline struct {
	log      zerolog.Logger
	source   Source
	recorder metrics.Recorder
	runs     RunStore
	tracer   trace.Tracer
	runCount metric.Int64Counter
}

type Option func(*Pipeline)

// WithRunStore persists a record of every run, successful or not.
func WithRunStore(s RunStore) Option {
	return func(p *Pipeline) { p.runs = s }
}

func New(log zerolog.Logger, source Source, recorder metrics.Recorder, opts ...Option) *Pipeline {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	p := &Pipeline{
		log:      log.With().Str("component", "pipeline").Logger(),
		source:   source,
		recorder: recorder,
		tracer:   telemetry.Tracer(),
	}
	for _, opt := range opts {
		opt(p)
	}

	counter, err := otel.Meter(telemetry.InstrumentationName).Int64Counter("pipeline.runs",
		metric.WithDescription("Number of pipeline runs by outcome"))
	if err != nil {
		p.log.Warn().Err(err).Msg("Failed to create run counter")
	} else {
		p.runCount = counter
	}
	return p
}

// Run ingests opts.Source and executes every stage on it.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Result, error) {
	return p.execute(ctx, opts, func(ctx context.Context) (*dataset.Table, error) {
		return p.source.Ingest(ctx, opts.Source)
	})
}

// RunTable executes the pipeline on an already loaded table. t is not
// modified.
func (p *Pipeline) RunTable(ctx context.Context, t *dataset.Table, opts Options) (*Result, error) {
	return p.execute(ctx, opts, func(context.Context) (*dataset.Table, error) {
		if t == nil {
			return nil, errorutil.Wrapf(errorutil.ErrInvalidInput, "nil table")
		}
		return t, nil
	})
}

// Features runs ingestion and the transformation stages only and returns the
// selected feature table with the label last.
func (p *Pipeline) Features(ctx context.Context, opts Options) (*dataset.Table, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	durations := make(map[string]time.Duration)
	var t *dataset.Table
	err = p.stage(ctx, StageIngest, durations, func(ctx context.Context) error {
		var err error
		t, err = p.source.Ingest(ctx, opts.Source)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p.transform(ctx, t, opts, durations)
}

func (p *Pipeline) execute(ctx context.Context, opts Options, load func(context.Context) (*dataset.Table, error)) (*Result, error) {
	// invalid options are left as given and reported by stages
	if norm, err := opts.Normalize(); err == nil {
		opts = norm
	}
	runID := uuid.New()
	log := p.log.With().Str("run_id", runID.String()).Logger()
	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", runID.String()),
		attribute.String("model", string(opts.Model)),
	))
	defer span.End()

	started := time.Now()
	log.Info().
		Str("model", string(opts.Model)).
		Str("metric", string(opts.Metric)).
		Bool("fail_fast", opts.Policy.FailFast).
		Msg("Pipeline run started")

	res, err := p.stages(ctx, opts, load)
	if res != nil {
		res.RunID = runID
	}
	p.record(ctx, runID, opts, started, res, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error().Err(err).Dur("elapsed", time.Since(started)).Msg("Pipeline run failed")
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	log.Info().
		Float64("accuracy", res.Score.Accuracy).
		Dur("elapsed", time.Since(started)).
		Msg("Pipeline run completed")
	return res, nil
}

func (p *Pipeline) stages(ctx context.Context, opts Options, load func(context.Context) (*dataset.Table, error)) (*Result, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	res := &Result{Durations: make(map[string]time.Duration)}

	var t *dataset.Table
	err = p.stage(ctx, StageIngest, res.Durations, func(ctx context.Context) error {
		var err error
		t, err = load(ctx)
		return err
	})
	if err != nil {
		return res, err
	}

	t, err = p.transform(ctx, t, opts, res.Durations)
	if err != nil {
		return res, err
	}
	res.Rows = t.NumRows()

	err = p.stage(ctx, StageSplit, res.Durations, func(context.Context) error {
		var err error
		res.Split, err = split.New(p.log).Split(t, opts.TestFraction, opts.SplitSeed)
		return err
	})
	if err != nil {
		return res, err
	}
	res.FeatureNames = res.Split.XTrain.Names()

	err = p.stage(ctx, StageTrain, res.Durations, func(ctx context.Context) error {
		var err error
		res.Predictions, res.Model, err = training.New(p.log, p.recorder).
			Train(ctx, opts.Model, res.Split.XTrain, res.Split.YTrain, res.Split.XTest)
		return err
	})
	if err != nil {
		return res, err
	}

	err = p.stage(ctx, StageEvaluate, res.Durations, func(context.Context) error {
		var err error
		res.Score, err = evaluation.Evaluate(res.Split.YTest, res.Predictions, opts.Metric)
		return err
	})
	if err != nil {
		return res, err
	}
	return res, nil
}

// transform runs the four table stages S1..S4 in order.
func (p *Pipeline) transform(ctx context.Context, t *dataset.Table, opts Options, durations map[string]time.Duration) (*dataset.Table, error) {
	steps := []struct {
		name string
		fn   func(*dataset.Table) (*dataset.Table, error)
	}{
		{StageClean, func(t *dataset.Table) (*dataset.Table, error) {
			return cleaning.New(p.log, opts.Policy, p.recorder).Clean(t, string(opts.CleaningMethod), opts.FillValue)
		}},
		{StagePreprocess, func(t *dataset.Table) (*dataset.Table, error) {
			return preprocessing.New(p.log, opts.Policy, p.recorder).Process(t, opts.Preprocessing)
		}},
		{StageEngineer, func(t *dataset.Table) (*dataset.Table, error) {
			return engineering.New(p.log, opts.Policy, p.recorder).Engineer(t, opts.Engineering)
		}},
		{StageSelect, func(t *dataset.Table) (*dataset.Table, error) {
			return selection.New(p.log, opts.Policy, p.recorder).Select(t, opts.Selection)
		}},
	}

	for _, s := range steps {
		err := p.stage(ctx, s.name, durations, func(context.Context) error {
			next, err := s.fn(t)
			if err != nil {
				return err
			}
			t = next
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return t, nil
}

// stage wraps one stage in a span, times it and reports the duration.
func (p *Pipeline) stage(ctx context.Context, name string, durations map[string]time.Duration, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	durations[name] = elapsed

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%s: %w", name, err)
	}
	p.recorder.StageCompleted(name, elapsed)
	p.log.Debug().Str("stage", name).Dur("elapsed", elapsed).Msg("Stage completed")
	return nil
}

// record stores the run outcome. Storage failures are logged and never fail
// the run.
func (p *Pipeline) record(ctx context.Context, id uuid.UUID, opts Options, started time.Time, res *Result, runErr error) {
	status := models.RunStatusSucceeded
	if runErr != nil {
		status = models.RunStatusFailed
	}
	if p.runCount != nil {
		p.runCount.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", string(status)),
			attribute.String("model", string(opts.Model)),
		))
	}
	if p.runs == nil {
		return
	}

	run := &models.Run{
		ID:         id,
		Model:      string(opts.Model),
		Metric:     string(opts.Metric),
		StartedAt:  started,
		FinishedAt: time.Now(),
		Status:     status,
	}
	if res != nil {
		run.Rows = res.Rows
		if res.Score != nil {
			acc := res.Score.Accuracy
			run.Score = &acc
		}
	}
	if runErr != nil {
		msg := runErr.Error()
		run.Error = &msg
	}

	if err := p.runs.Create(ctx, run); err != nil {
		p.log.Warn().Err(err).Str("run_id", id.String()).Msg("Failed to record pipeline run")
	}
}
