package pkg

import (
	"fmt"
	"math"

	"affectmtl/pkg/codec"
	"affectmtl/pkg/io"
	"affectmtl/pkg/logging"
	"affectmtl/pkg/metrics"
	"affectmtl/pkg/model"

	"github.com/dustin/go-humanize"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var ErrNoSamples = errors.New("dataloader produced no samples")

// StepOutput is what a validation step keeps for the end of the epoch.
type StepOutput struct {
	Predictions *mat.Dense
	Labels      *mat.Dense
}

// Validator scores the validation dataloaders of an epoch. Which tasks a
// dataloader is evaluated on is decided by the width of its labels.
type Validator struct {
	meta    *model.Metadata
	codec   *codec.Codec
	metrics metrics.Registry
	sink    logging.Sink
}

func NewValidator(meta *model.Metadata, registry metrics.Registry, sink logging.Sink) (*Validator, error) {
	c, err := codec.New(meta)
	if err != nil {
		return nil, err
	}
	for _, t := range model.Tasks {
		if registry[t] == nil {
			return nil, errors.Errorf("no metric for task %s", t)
		}
	}
	return &Validator{meta: meta, codec: c, metrics: registry, sink: sink}, nil
}

// ValidationStep runs the forwarder on one validation batch and keeps a copy
// of its predictions.
func (v *Validator) ValidationStep(f model.Forwarder, p io.Pair) (StepOutput, error) {
	g := ag.NewGraph()
	defer g.Clear()
	out, err := f.Forward(g, p.Inputs)
	if err != nil {
		return StepOutput{}, err
	}
	for i, x := range out.Predictions {
		if size := x.Value().Size(); size != v.meta.PredictionWidth() {
			return StepOutput{}, errors.Wrapf(codec.ErrWidthMismatch, "prediction vector %d has %d values, expected %d", i, size, v.meta.PredictionWidth())
		}
	}
	return StepOutput{Predictions: model.Values(out.Predictions), Labels: p.Labels}, nil
}

// EpochEnd scores every dataloader and logs the unweighted sum of the scores as val_total.
func (v *Validator) EpochEnd(outputs [][]StepOutput) (float64, error) {
	total := 0.0
	for idx, dataloaderOutputs := range outputs {
		score, err := v.Dataloader(idx, dataloaderOutputs)
		if err != nil {
			return 0, err
		}
		total += score
	}
	v.sink.Log("val_total", total)
	return total, nil
}

// Dataloader concatenates the outputs of one dataloader and returns its score:
// the task score for single task labels, the mean of the task scores for jointly
// labeled dataloaders.
func (v *Validator) Dataloader(idx int, outputs []StepOutput) (float64, error) {
	predictionParts := make([]*mat.Dense, len(outputs))
	labelParts := make([]*mat.Dense, len(outputs))
	for i, o := range outputs {
		predictionParts[i] = o.Predictions
		labelParts[i] = o.Labels
	}
	allPredictions, err := codec.StackRows(predictionParts...)
	if err != nil {
		return 0, errors.Wrapf(err, "dataloader %d predictions", idx)
	}
	labels, err := codec.StackRows(labelParts...)
	if err != nil {
		return 0, errors.Wrapf(err, "dataloader %d labels", idx)
	}
	if labels == nil {
		return 0, errors.Wrapf(ErrNoSamples, "dataloader %d", idx)
	}
	if codec.Rows(allPredictions) != codec.Rows(labels) {
		return 0, errors.Wrapf(ErrRowMismatch, "dataloader %d: %d predictions, %d labels", idx, codec.Rows(allPredictions), codec.Rows(labels))
	}
	predictions, err := v.codec.SplitPredictions(allPredictions)
	if err != nil {
		return 0, errors.Wrapf(err, "dataloader %d", idx)
	}

	_, width := labels.Dims()
	composition, err := v.codec.Classify(width)
	if err != nil {
		return 0, errors.Wrapf(err, "dataloader %d", idx)
	}
	log.Debug().Int("dataloader", idx).Str("tasks", composition.String()).
		Str("samples", humanize.Comma(int64(codec.Rows(labels)))).Msg("validation")

	if task, ok := composition.Single(); ok {
		return v.taskScore(idx, task, predictions, labels)
	}

	blocks, err := v.codec.SplitLabels(labels, composition)
	if err != nil {
		return 0, errors.Wrapf(err, "dataloader %d", idx)
	}
	tasks := composition.Tasks()
	total := 0.0
	for _, task := range tasks {
		score, err := v.taskScore(idx, task, predictions, blocks[task])
		if err != nil {
			return 0, err
		}
		total += score
	}
	return total / float64(len(tasks)), nil
}

func (v *Validator) taskScore(idx int, task model.Task, predictions model.TaskTensors, labels *mat.Dense) (float64, error) {
	prefix := fmt.Sprintf("D%d/", idx)
	switch task {
	case model.EXPR:
		classes := softmaxArgmax(predictions[model.EXPR])
		score, err := v.logMetric(prefix+fmt.Sprintf("EXPR%d", v.meta.NumEmotions()), task, classes, labels)
		if err != nil {
			return 0, err
		}
		if v.meta.NumEmotions() > model.UnknownExpression {
			known := knownExpressionRows(labels)
			if len(known) > 0 {
				_, err = v.logMetric(prefix+fmt.Sprintf("EXPR%d", v.meta.NumEmotions()-1), task,
					selectRows(classes, known), selectRows(labels, known))
				if err != nil {
					return 0, err
				}
			}
		}
		return score, nil
	case model.AU:
		return v.logMetric(prefix+"AU", task, threshold(predictions[model.AU], 0.5), labels)
	default:
		return v.logMetric(prefix+"VA", task, predictions[model.VA], labels)
	}
}

// logMetric logs the metric components of a task under name and returns the
// task score: F1 for AU and EXPR, the mean of valence and arousal for VA.
func (v *Validator) logMetric(name string, task model.Task, predictions, labels *mat.Dense) (float64, error) {
	scores, err := v.metrics[task](predictions, labels)
	if err != nil {
		return 0, err
	}
	if len(scores.Values) < 2 {
		return 0, errors.Errorf("%s metric returned %d values", task, len(scores.Values))
	}
	if task != model.VA {
		v.sink.Log(name+"_F1", scores.Values[0])
		v.sink.Log(name+"_Acc", scores.Values[1])
		return scores.Values[0], nil
	}
	v.sink.Log(name+"_valence", scores.Values[0])
	v.sink.Log(name+"_arousal", scores.Values[1])
	return 0.5*scores.Values[0] + 0.5*scores.Values[1], nil
}

func softmaxArgmax(logits *mat.Dense) *mat.Dense {
	rows, cols := logits.Dims()
	result := mat.NewDense(rows, 1, nil)
	probabilities := make([]float64, cols)
	for i := 0; i < rows; i++ {
		row := logits.RawRowView(i)
		maxLogit := floats.Max(row)
		for j, x := range row {
			probabilities[j] = math.Exp(x - maxLogit)
		}
		floats.Scale(1/floats.Sum(probabilities), probabilities)
		result.Set(i, 0, float64(floats.MaxIdx(probabilities)))
	}
	return result
}

func threshold(logits *mat.Dense, level float64) *mat.Dense {
	rows, cols := logits.Dims()
	result := mat.NewDense(rows, cols, nil)
	result.Apply(func(_, _ int, x float64) float64 {
		if 1/(1+math.Exp(-x)) > level {
			return 1
		}
		return 0
	}, logits)
	return result
}

func knownExpressionRows(labels *mat.Dense) []int {
	var rows []int
	for i := 0; i < codec.Rows(labels); i++ {
		if int(labels.At(i, 0)) != model.UnknownExpression {
			rows = append(rows, i)
		}
	}
	return rows
}

func selectRows(m *mat.Dense, indices []int) *mat.Dense {
	_, cols := m.Dims()
	result := mat.NewDense(len(indices), cols, nil)
	for i, index := range indices {
		result.SetRow(i, m.RawRowView(index))
	}
	return result
}
