package pipeline

import (
	"github.com/theblitlabs/misuse-detection/internal/config"
	"github.com/theblitlabs/misuse-detection/internal/execution/cleaning"
	"github.com/theblitlabs/misuse-detection/internal/execution/engineering"
	"github.com/theblitlabs/misuse-detection/internal/execution/evaluation"
	"github.com/theblitlabs/misuse-detection/internal/execution/preprocessing"
	"github.com/theblitlabs/misuse-detection/internal/execution/selection"
	"github.com/theblitlabs/misuse-detection/internal/execution/split"
	"github.com/theblitlabs/misuse-detection/internal/execution/training"
	"github.com/theblitlabs/misuse-detection/internal/utils/errorutil"
)

// Options configures every stage of one run.
type Options struct {
	Source         string
	CleaningMethod cleaning.Method
	FillValue      string
	Preprocessing  preprocessing.Options
	Engineering    engineering.Options
	Selection      selection.Options
	TestFraction   float64
	SplitSeed      int64
	Model          training.Kind
	Metric         evaluation.Metric
	Policy         Policy
}

// DefaultOptions returns the stock run: drop cleaning, log scaling, nine
// principal components, a KNN model scored by accuracy.
func DefaultOptions() Options {
	return Options{
		CleaningMethod: cleaning.MethodDrop,
		Engineering:    engineering.Options{Smoothing: 1, TimestampFormat: engineering.DefaultTimestampFormat},
		Selection: selection.Options{
			Scaling:       selection.ScalingLog,
			PCAComponents: selection.DefaultComponents,
			KNeighbors:    selection.DefaultNeighbors,
			Seed:          selection.DefaultSeed,
		},
		TestFraction: split.DefaultTestFraction,
		SplitSeed:    split.DefaultSeed,
		Model:        training.KindKNN,
		Metric:       evaluation.MetricAccuracy,
	}
}

// Normalize resolves enumeration aliases ("K Nearest Neighbors Classifier",
// "classification report", "LOG") to the canonical names the stages accept.
func (o Options) Normalize() (Options, error) {
	var err error
	if o.CleaningMethod, err = cleaning.ParseMethod(string(o.CleaningMethod)); err != nil {
		return o, err
	}
	if o.Selection.Scaling, err = selection.ParseScaling(string(o.Selection.Scaling)); err != nil {
		return o, err
	}
	if o.Model, err = training.ParseKind(string(o.Model)); err != nil {
		return o, err
	}
	if o.Metric, err = evaluation.ParseMetric(string(o.Metric)); err != nil {
		return o, err
	}
	if o.TestFraction <= 0 || o.TestFraction >= 1 {
		return o, errorutil.Wrapf(errorutil.ErrInvalidFraction, "test fraction must be in (0,1), got %v", o.TestFraction)
	}
	return o, nil
}

// Validate checks the enumerations before any stage runs.
func (o Options) Validate() error {
	_, err := o.Normalize()
	return err
}

// OptionsFromConfig maps the loaded configuration onto run options,
// normalising enumeration aliases.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	method, err := cleaning.ParseMethod(cfg.Cleaning.Method)
	if err != nil {
		return Options{}, err
	}
	scaling, err := selection.ParseScaling(cfg.Selection.Scaling)
	if err != nil {
		return Options{}, err
	}
	kind, err := training.ParseKind(cfg.Model.Name)
	if err != nil {
		return Options{}, err
	}
	metric, err := evaluation.ParseMetric(cfg.Evaluation.Metric)
	if err != nil {
		return Options{}, err
	}

	caps := make([]preprocessing.Cap, 0, len(cfg.Preprocessing.CapValues))
	for _, c := range cfg.Preprocessing.CapValues {
		caps = append(caps, preprocessing.Cap{Column: c.Column, Max: c.Max})
	}

	return Options{
		Source:         cfg.Data.Source,
		CleaningMethod: method,
		FillValue:      cfg.Cleaning.FillValue,
		Preprocessing: preprocessing.Options{
			CapColumns:           cfg.Preprocessing.CapColumns,
			CapValues:            caps,
			RemoveOutlierColumns: cfg.Preprocessing.RemoveOutlierColumns,
		},
		Engineering: engineering.Options{
			FrequencyColumns: cfg.Engineering.FrequencyColumns,
			TargetColumns:    cfg.Engineering.TargetColumns,
			Target:           cfg.Engineering.Target,
			Smoothing:        cfg.Engineering.Smoothing,
			TimestampColumns: cfg.Engineering.TimestampColumns,
			TimestampFormat:  cfg.Engineering.TimestampFormat,
		},
		Selection: selection.Options{
			Scaling:       scaling,
			PCAComponents: cfg.Selection.PCAComponents,
			KNeighbors:    cfg.Selection.KNeighbors,
			Seed:          cfg.Selection.Seed,
			Undersampling: classTargets(cfg.Selection.Undersampling),
			Oversampling:  classTargets(cfg.Selection.Oversampling),
		},
		TestFraction: cfg.Split.TestFraction,
		SplitSeed:    cfg.Split.Seed,
		Model:        kind,
		Metric:       metric,
		Policy:       Policy{FailFast: cfg.Policy.FailFast},
	}, nil
}

func classTargets(in []config.ClassCount) []selection.ClassTarget {
	if len(in) == 0 {
		return nil
	}
	out := make([]selection.ClassTarget, len(in))
	for i, c := range in {
		out[i] = selection.ClassTarget{Label: c.Label, Count: c.Count}
	}
	return out
}
