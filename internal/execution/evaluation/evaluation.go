// Package evaluation scores predicted labels against the ground truth.
package evaluation

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"text/tabwriter"

	golearn "github.com/sjwhitworth/golearn/evaluation"

	"github.com/theblitlabs/misuse-detection/internal/utils/errorutil"
)

type Metric string

const (
	MetricAccuracy             Metric = "accuracy"
	MetricConfusionMatrix      Metric = "confusion_matrix"
	MetricClassificationReport Metric = "classification_report"
)

// ParseMetric accepts the metric identifiers and their space separated forms
// such as "classification report".
func ParseMetric(s string) (Metric, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
	switch Metric(name) {
	case MetricAccuracy, MetricConfusionMatrix, MetricClassificationReport:
		return Metric(name), nil
	}
	return "", errorutil.Wrapf(errorutil.ErrInvalidConfig, "unknown metric %q", s)
}

// Confusion counts predictions per (truth, predicted) class pair. Rows follow
// the truth and both axes use Classes order.
type Confusion struct {
	Classes []string
	Counts  [][]int
}

type ClassReport struct {
	Class     string
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

type Average struct {
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

type Report struct {
	Classes     []ClassReport
	Accuracy    float64
	MacroAvg    Average
	WeightedAvg Average
}

// Score is the outcome of one evaluation. Accuracy is always set; Confusion
// and Report are only filled for their metric.
type Score struct {
	Metric    Metric
	Accuracy  float64
	Confusion *Confusion
	Report    *Report
}

// Evaluate compares yTrue and yPred element-wise under metric.
func Evaluate(yTrue, yPred []string, metric Metric) (*Score, error) {
	if len(yTrue) != len(yPred) {
		return nil, errorutil.Wrapf(errorutil.ErrShapeMismatch,
			"y_true has %d labels but y_pred has %d", len(yTrue), len(yPred))
	}
	if len(yTrue) == 0 {
		return nil, errorutil.Wrapf(errorutil.ErrEmptyInput, "no labels to evaluate")
	}
	switch metric {
	case MetricAccuracy, MetricConfusionMatrix, MetricClassificationReport:
	default:
		return nil, errorutil.Wrapf(errorutil.ErrInvalidConfig, "unknown metric %q", metric)
	}

	classes, cm := confusionMatrix(yTrue, yPred)
	score := &Score{Metric: metric, Accuracy: golearn.GetAccuracy(cm)}
	switch metric {
	case MetricConfusionMatrix:
		score.Confusion = toConfusion(classes, cm)
	case MetricClassificationReport:
		score.Report = report(classes, cm, score.Accuracy)
	}
	return score, nil
}

// confusionMatrix builds the golearn matrix with a row for every class seen
// in either vector.
func confusionMatrix(yTrue, yPred []string) ([]string, golearn.ConfusionMatrix) {
	cm := make(golearn.ConfusionMatrix)
	for _, labels := range [][]string{yTrue, yPred} {
		for _, l := range labels {
			if _, ok := cm[l]; !ok {
				cm[l] = make(map[string]int)
			}
		}
	}
	for i := range yTrue {
		cm[yTrue[i]][yPred[i]]++
	}
	classes := make([]string, 0, len(cm))
	for c := range cm {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	return classes, cm
}

func toConfusion(classes []string, cm golearn.ConfusionMatrix) *Confusion {
	counts := make([][]int, len(classes))
	for i, truth := range classes {
		counts[i] = make([]int, len(classes))
		for j, pred := range classes {
			counts[i][j] = cm[truth][pred]
		}
	}
	return &Confusion{Classes: classes, Counts: counts}
}

func report(classes []string, cm golearn.ConfusionMatrix, accuracy float64) *Report {
	r := &Report{Accuracy: accuracy}
	total := 0
	for _, class := range classes {
		support := 0
		for _, n := range cm[class] {
			support += n
		}
		precision := zeroIfNaN(golearn.GetPrecision(class, cm))
		recall := zeroIfNaN(golearn.GetRecall(class, cm))
		f1 := 0.0
		if precision+recall > 0 {
			f1 = 2 * precision * recall / (precision + recall)
		}
		r.Classes = append(r.Classes, ClassReport{
			Class: class, Precision: precision, Recall: recall, F1: f1, Support: support,
		})
		total += support
	}
	n := float64(len(r.Classes))
	for _, c := range r.Classes {
		r.MacroAvg.Precision += c.Precision / n
		r.MacroAvg.Recall += c.Recall / n
		r.MacroAvg.F1 += c.F1 / n
		w := float64(c.Support) / float64(total)
		r.WeightedAvg.Precision += c.Precision * w
		r.WeightedAvg.Recall += c.Recall * w
		r.WeightedAvg.F1 += c.F1 * w
	}
	r.MacroAvg.Support = total
	r.WeightedAvg.Support = total
	return r
}

func zeroIfNaN(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func (s *Score) String() string {
	var b strings.Builder
	switch {
	case s.Confusion != nil:
		w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprint(w, "\t")
		for _, c := range s.Confusion.Classes {
			fmt.Fprintf(w, "%s\t", c)
		}
		fmt.Fprintln(w)
		for i, c := range s.Confusion.Classes {
			fmt.Fprintf(w, "%s\t", c)
			for _, n := range s.Confusion.Counts[i] {
				fmt.Fprintf(w, "%d\t", n)
			}
			fmt.Fprintln(w)
		}
		w.Flush()
	case s.Report != nil:
		w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "\tprecision\trecall\tf1-score\tsupport\t")
		for _, c := range s.Report.Classes {
			fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%.2f\t%d\t\n", c.Class, c.Precision, c.Recall, c.F1, c.Support)
		}
		fmt.Fprintf(w, "accuracy\t\t\t%.2f\t%d\t\n", s.Report.Accuracy, s.Report.MacroAvg.Support)
		for _, a := range []struct {
			name string
			avg  Average
		}{{"macro avg", s.Report.MacroAvg}, {"weighted avg", s.Report.WeightedAvg}} {
			fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%.2f\t%d\t\n", a.name, a.avg.Precision, a.avg.Recall, a.avg.F1, a.avg.Support)
		}
		w.Flush()
	default:
		fmt.Fprintf(&b, "%.4f", s.Accuracy)
	}
	return b.String()
}
