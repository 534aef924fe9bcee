// Package metrics implements the validation metrics of each task.
package metrics

import (
	"math"
	"sort"

	"affectmtl/pkg/model"

	"github.com/nlpodyssey/spago/pkg/ml/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var ErrShape = errors.New("metric input shape mismatch")

// Scores is the result of a metric function. Values holds (F1, accuracy) for
// AU and EXPR and (valence CCC, arousal CCC) for VA.
type Scores struct {
	Values   []float64
	PerClass []float64
}

// Func computes a task metric from activated predictions and labels.
type Func func(preds, labels *mat.Dense) (Scores, error)

type Registry map[model.Task]Func

func Default() Registry {
	return Registry{
		model.AU:   ActionUnits,
		model.EXPR: Expressions,
		model.VA:   ValenceArousal,
	}
}

func checkShape(preds, labels *mat.Dense) (int, int, error) {
	if preds == nil || labels == nil {
		return 0, 0, errors.Wrap(ErrShape, "empty input")
	}
	rows, cols := preds.Dims()
	labelRows, labelCols := labels.Dims()
	if rows != labelRows || cols != labelCols {
		return 0, 0, errors.Wrapf(ErrShape, "predictions are %dx%d, labels are %dx%d", rows, cols, labelRows, labelCols)
	}
	return rows, cols, nil
}

func f1(m *stats.ClassMetrics) float64 {
	v := m.F1Score()
	if math.IsNaN(v) {
		return 0
	}
	return v
}

// ActionUnits takes binary predictions and returns the F1 averaged over the
// AU columns and the element-wise accuracy.
func ActionUnits(preds, labels *mat.Dense) (Scores, error) {
	rows, cols, err := checkShape(preds, labels)
	if err != nil {
		return Scores{}, err
	}
	perAU := make([]*stats.ClassMetrics, cols)
	for j := range perAU {
		perAU[j] = stats.NewMetricCounter()
	}
	correct := 0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			predicted, actual := preds.At(i, j) > 0, labels.At(i, j) > 0
			switch {
			case predicted && actual:
				perAU[j].IncTruePos()
			case predicted:
				perAU[j].IncFalsePos()
			case actual:
				perAU[j].IncFalseNeg()
			}
			if predicted == actual {
				correct++
			}
		}
	}

	result := Scores{PerClass: make([]float64, cols)}
	meanF1 := 0.0
	for j, m := range perAU {
		result.PerClass[j] = f1(m)
		meanF1 += result.PerClass[j]
	}
	meanF1 /= float64(cols)
	result.Values = []float64{meanF1, float64(correct) / float64(rows*cols)}
	return result, nil
}

// Expressions takes class indices in a single column and returns the macro
// F1 over every class seen in predictions or labels, and the accuracy.
func Expressions(preds, labels *mat.Dense) (Scores, error) {
	rows, cols, err := checkShape(preds, labels)
	if err != nil {
		return Scores{}, err
	}
	if cols != 1 {
		return Scores{}, errors.Wrapf(ErrShape, "expression metric needs one column, got %d", cols)
	}

	counters := map[int]*stats.ClassMetrics{}
	counter := func(class int) *stats.ClassMetrics {
		m, ok := counters[class]
		if !ok {
			m = stats.NewMetricCounter()
			counters[class] = m
		}
		return m
	}
	correct := 0
	for i := 0; i < rows; i++ {
		predicted, actual := int(preds.At(i, 0)), int(labels.At(i, 0))
		labelCounter := counter(actual)
		predictedCounter := counter(predicted)
		if predicted == actual {
			labelCounter.IncTruePos()
			correct++
		} else {
			labelCounter.IncFalseNeg()
			predictedCounter.IncFalsePos()
		}
	}

	// Sort classes for deterministic output
	classes := make([]int, 0, len(counters))
	for class := range counters {
		classes = append(classes, class)
	}
	sort.Ints(classes)

	result := Scores{PerClass: make([]float64, len(classes))}
	macroF1 := 0.0
	for i, class := range classes {
		result.PerClass[i] = f1(counters[class])
		macroF1 += result.PerClass[i]
	}
	macroF1 /= float64(len(classes))
	result.Values = []float64{macroF1, float64(correct) / float64(rows)}
	return result, nil
}

// ValenceArousal returns the concordance correlation coefficient of the
// valence and arousal columns.
func ValenceArousal(preds, labels *mat.Dense) (Scores, error) {
	_, cols, err := checkShape(preds, labels)
	if err != nil {
		return Scores{}, err
	}
	if cols != model.VADim {
		return Scores{}, errors.Wrapf(ErrShape, "VA metric needs %d columns, got %d", model.VADim, cols)
	}
	valence := Concordance(mat.Col(nil, 0, preds), mat.Col(nil, 0, labels))
	arousal := Concordance(mat.Col(nil, 1, preds), mat.Col(nil, 1, labels))
	return Scores{Values: []float64{valence, arousal}}, nil
}

// Concordance is Lin's concordance correlation coefficient of x and y. It is
// 0 for fewer than two samples or when both series are constant and equal.
func Concordance(x, y []float64) float64 {
	n := len(x)
	if n < 2 || len(y) != n {
		return 0
	}
	meanX, varX := stat.MeanVariance(x, nil)
	meanY, varY := stat.MeanVariance(y, nil)
	// population estimates
	scale := float64(n-1) / float64(n)
	covariance := stat.Covariance(x, y, nil) * scale
	denominator := varX*scale + varY*scale + (meanX-meanY)*(meanX-meanY)
	if denominator == 0 {
		return 0
	}
	return 2 * covariance / denominator
}
