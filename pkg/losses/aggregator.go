package losses

import (
	"affectmtl/pkg/model"

	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

var ErrMissingLoss = errors.New("task has no classification loss")

// ClassificationLoss compares a task's prediction vectors, one per row, with
// its labels and returns a scalar node.
type ClassificationLoss func(g *ag.Graph, preds []ag.Node, labels *mat.Dense) (ag.Node, error)

// MetricLoss is a metric-learning loss over a task's embeddings.
type MetricLoss func(g *ag.Graph, embeddings []ag.Node, labels *mat.Dense) (ag.Node, error)

// TaskLoss is the supervision of one task. Metric may be nil.
type TaskLoss struct {
	Classification ClassificationLoss
	Metric         MetricLoss
}

// Aggregator computes the loss of each supervised task.
type Aggregator struct {
	losses map[model.Task]TaskLoss
}

func NewAggregator(tasks []model.Task, losses map[model.Task]TaskLoss) (*Aggregator, error) {
	a := &Aggregator{losses: map[model.Task]TaskLoss{}}
	for _, t := range tasks {
		l, ok := losses[t]
		if !ok || l.Classification == nil {
			return nil, errors.Wrapf(ErrMissingLoss, "%s", t)
		}
		a.losses[t] = l
	}
	return a, nil
}

// Compute returns the classification loss of the task plus, when the task has
// one, its metric-learning loss.
func (a *Aggregator) Compute(g *ag.Graph, task model.Task, preds []ag.Node, labels *mat.Dense, embeddings []ag.Node) (ag.Node, error) {
	l, ok := a.losses[task]
	if !ok {
		return nil, errors.Wrapf(ErrMissingLoss, "%s", task)
	}
	loss, err := l.Classification(g, preds, labels)
	if err != nil {
		return nil, err
	}
	if l.Metric == nil {
		return loss, nil
	}
	metricLoss, err := l.Metric(g, embeddings, labels)
	if err != nil {
		return nil, err
	}
	return g.Add(loss, metricLoss), nil
}
