package pkg

import (
	"affectmtl/pkg/codec"
	"affectmtl/pkg/io"
	"affectmtl/pkg/logging"
	"affectmtl/pkg/losses"
	"affectmtl/pkg/model"

	"github.com/dustin/go-humanize"
	"github.com/nlpodyssey/spago/pkg/mat/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/nlpodyssey/spago/pkg/ml/optimizers/gd"
	"github.com/nlpodyssey/spago/pkg/ml/optimizers/gd/adam"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrRowMismatch = errors.New("predictions, labels and embeddings have different row counts")
	ErrBadGroup    = errors.New("invalid batch group")
)

// Supervision is everything a task loss needs for one step. Predictions and
// embeddings hold one graph node per label row.
type Supervision struct {
	Predictions []ag.Node
	Labels      *mat.Dense
	Embeddings  []ag.Node
}

func (s Supervision) Rows() int {
	return codec.Rows(s.Labels)
}

type StepResult struct {
	TaskLosses map[model.Task]float64
	Total      float64
}

// Trainer routes the groups of a batch to the per-task losses.
type Trainer struct {
	meta       *model.Metadata
	codec      *codec.Codec
	forwarder  model.Forwarder
	aggregator *losses.Aggregator
	sink       logging.Sink
	rndSeed    uint64
}

func NewTrainer(meta *model.Metadata, forwarder model.Forwarder, aggregator *losses.Aggregator, sink logging.Sink, rndSeed uint64) (*Trainer, error) {
	c, err := codec.New(meta)
	if err != nil {
		return nil, err
	}
	return &Trainer{
		meta:       meta,
		codec:      c,
		forwarder:  forwarder,
		aggregator: aggregator,
		sink:       sink,
		rndSeed:    rndSeed,
	}, nil
}

type jointOutput struct {
	composition codec.Composition
	predictions model.TaskNodes
	labels      model.TaskTensors
	embeddings  model.TaskNodes
}

func (t *Trainer) forwardJoint(g *ag.Graph, index int, p io.Pair) (jointOutput, error) {
	if p.Labels == nil || p.Inputs == nil {
		return jointOutput{}, errors.Wrapf(ErrBadGroup, "multiple[%d] is empty", index)
	}
	_, width := p.Labels.Dims()
	composition, err := t.codec.Classify(width)
	if err != nil {
		return jointOutput{}, errors.Wrapf(err, "multiple[%d]", index)
	}
	if composition != codec.AUVA && composition != codec.AUExprVA {
		return jointOutput{}, errors.Wrapf(ErrBadGroup, "multiple[%d] holds %s labels", index, composition)
	}

	out, err := t.forwarder.Forward(g, p.Inputs)
	if err != nil {
		return jointOutput{}, err
	}
	predictions, err := t.codec.SplitPredictionNodes(g, out.Predictions)
	if err != nil {
		return jointOutput{}, errors.Wrapf(err, "multiple[%d]", index)
	}
	labels, err := t.codec.SplitLabels(p.Labels, composition)
	if err != nil {
		return jointOutput{}, errors.Wrapf(err, "multiple[%d]", index)
	}
	return jointOutput{
		composition: composition,
		predictions: predictions,
		labels:      labels,
		embeddings:  out.Embeddings,
	}, nil
}

func (t *Trainer) forwardSingle(g *ag.Graph, task model.Task, p io.Pair) (Supervision, error) {
	if p.Labels == nil || p.Inputs == nil {
		return Supervision{}, errors.Wrapf(ErrBadGroup, "single %s group is empty", task)
	}
	_, width := p.Labels.Dims()
	composition, err := t.codec.Classify(width)
	if err != nil {
		return Supervision{}, errors.Wrapf(err, "single %s group", task)
	}
	if only, ok := composition.Single(); !ok || only != task {
		return Supervision{}, errors.Wrapf(ErrBadGroup, "single %s group holds %s labels", task, composition)
	}

	out, err := t.forwarder.Forward(g, p.Inputs)
	if err != nil {
		return Supervision{}, err
	}
	predictions, err := t.codec.SplitPredictionNodes(g, out.Predictions)
	if err != nil {
		return Supervision{}, errors.Wrapf(err, "single %s group", task)
	}
	return Supervision{
		Predictions: predictions[task],
		Labels:      p.Labels,
		Embeddings:  out.Embeddings[task],
	}, nil
}

// BuildTaskSupervision runs the forwarder on g over every group of the batch
// and concatenates, per task, the single group first and then every jointly
// labeled group covering the task, in declared order.
func (t *Trainer) BuildTaskSupervision(g *ag.Graph, batch *io.Batch) (map[model.Task]Supervision, error) {
	joint := make([]jointOutput, 0, len(batch.Multiple))
	for i, p := range batch.Multiple {
		out, err := t.forwardJoint(g, i, p)
		if err != nil {
			return nil, err
		}
		joint = append(joint, out)
	}

	result := make(map[model.Task]Supervision, len(t.meta.Tasks))
	for _, task := range t.meta.Tasks {
		single, err := t.forwardSingle(g, task, batch.Single[task])
		if err != nil {
			return nil, err
		}
		s := Supervision{
			Predictions: append([]ag.Node(nil), single.Predictions...),
			Embeddings:  append([]ag.Node(nil), single.Embeddings...),
		}
		labels := []*mat.Dense{single.Labels}
		for _, j := range joint {
			if !j.composition.Has(task) {
				continue
			}
			s.Predictions = append(s.Predictions, j.predictions[task]...)
			s.Embeddings = append(s.Embeddings, j.embeddings[task]...)
			labels = append(labels, j.labels[task])
		}
		if s.Labels, err = codec.StackRows(labels...); err != nil {
			return nil, errors.Wrapf(err, "%s labels", task)
		}
		rows := s.Rows()
		if len(s.Predictions) != rows || len(s.Embeddings) != rows {
			return nil, errors.Wrapf(ErrRowMismatch, "%s: %d predictions, %d labels, %d embeddings",
				task, len(s.Predictions), rows, len(s.Embeddings))
		}
		log.Debug().Str("task", task.String()).Str("samples", humanize.Comma(int64(rows))).Msg("supervision")
		result[task] = s
	}
	return result, nil
}

// Step computes the loss of every task for one batch on a fresh graph, logs
// loss_<TASK> for each task followed by total_loss, and backpropagates the
// total into the parameters of the forwarder.
func (t *Trainer) Step(batch *io.Batch) (StepResult, error) {
	g := ag.NewGraph(ag.Rand(rand.NewLockedRand(t.rndSeed)))
	defer g.Clear()

	supervision, err := t.BuildTaskSupervision(g, batch)
	if err != nil {
		return StepResult{}, err
	}
	result := StepResult{TaskLosses: make(map[model.Task]float64, len(t.meta.Tasks))}
	var total ag.Node
	for _, task := range t.meta.Tasks {
		s := supervision[task]
		loss, err := t.aggregator.Compute(g, task, s.Predictions, s.Labels, s.Embeddings)
		if err != nil {
			return StepResult{}, err
		}
		if total == nil {
			total = loss
		} else {
			total = g.Add(total, loss)
		}
		t.sink.Log("loss_"+task.String(), loss.ScalarValue())
		result.TaskLosses[task] = loss.ScalarValue()
	}
	result.Total = total.ScalarValue()
	t.sink.Log("total_loss", result.Total)

	if total.RequiresGrad() {
		g.Backward(total)
	}
	return result, nil
}

// GradientClipThreshold bounds every gradient value before an update.
const GradientClipThreshold = 2000.0

// NewOptimizer returns an Adam optimizer over the parameters of m.
func NewOptimizer(m nn.Model, learningRate float64) *gd.GradientDescent {
	updaterConfig := adam.NewDefaultConfig()
	updaterConfig.StepSize = learningRate
	updater := adam.New(updaterConfig)
	return gd.NewOptimizer(updater, nn.NewDefaultParamsIterator(m), gd.ClipGradByValue(GradientClipThreshold))
}
