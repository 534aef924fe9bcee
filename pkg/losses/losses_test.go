package losses

import (
	"math"
	"testing"

	"affectmtl/pkg/metrics"
	"affectmtl/pkg/model"

	spagomat "github.com/nlpodyssey/spago/pkg/mat"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func constantLoss(v float64) ClassificationLoss {
	return func(g *ag.Graph, _ []ag.Node, _ *mat.Dense) (ag.Node, error) {
		return g.NewScalar(v), nil
	}
}

func TestAggregatorWithoutMetricLoss(t *testing.T) {
	a, err := NewAggregator([]model.Task{model.AU}, map[model.Task]TaskLoss{
		model.AU: {Classification: constantLoss(0.7)},
	})
	require.NoError(t, err)

	g := ag.NewGraph()
	defer g.Clear()
	labels := mat.NewDense(3, 1, []float64{1, 0, 1})
	loss, err := a.Compute(g, model.AU, model.Nodes(g, labels), labels, nil)
	require.NoError(t, err)
	require.Equal(t, 0.7, loss.ScalarValue())
}

func TestAggregatorAddsMetricLoss(t *testing.T) {
	a, err := NewAggregator([]model.Task{model.VA}, map[model.Task]TaskLoss{
		model.VA: {
			Classification: constantLoss(0.5),
			Metric: func(g *ag.Graph, _ []ag.Node, _ *mat.Dense) (ag.Node, error) {
				return g.NewScalar(0.25), nil
			},
		},
	})
	require.NoError(t, err)
	g := ag.NewGraph()
	defer g.Clear()
	loss, err := a.Compute(g, model.VA, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 0.75, loss.ScalarValue())
}

func TestAggregatorPropagatesErrors(t *testing.T) {
	failure := errors.New("collaborator failure")
	a, err := NewAggregator([]model.Task{model.EXPR}, map[model.Task]TaskLoss{
		model.EXPR: {
			Classification: constantLoss(1),
			Metric: func(_ *ag.Graph, _ []ag.Node, _ *mat.Dense) (ag.Node, error) {
				return nil, failure
			},
		},
	})
	require.NoError(t, err)
	g := ag.NewGraph()
	defer g.Clear()
	_, err = a.Compute(g, model.EXPR, nil, nil, nil)
	require.Equal(t, failure, err)

	_, err = a.Compute(g, model.AU, nil, nil, nil)
	require.True(t, errors.Is(err, ErrMissingLoss))
}

func TestNewAggregatorMissingLoss(t *testing.T) {
	_, err := NewAggregator(model.Tasks, map[model.Task]TaskLoss{
		model.AU:   {Classification: constantLoss(1)},
		model.EXPR: {Metric: TripletMargin(0.1)},
	})
	require.True(t, errors.Is(err, ErrMissingLoss))
}

// evaluate runs loss over preds and labels on a fresh graph.
func evaluate(t *testing.T, loss ClassificationLoss, preds, labels *mat.Dense) float64 {
	g := ag.NewGraph()
	defer g.Clear()
	node, err := loss(g, model.Nodes(g, preds), labels)
	require.NoError(t, err)
	return node.ScalarValue()
}

func TestBCEWithLogits(t *testing.T) {
	labels := mat.NewDense(2, 3, []float64{1, 0, 1, 0, 0, 1})
	require.InDelta(t, math.Ln2, evaluate(t, BCEWithLogits, mat.NewDense(2, 3, nil), labels), 1e-9)

	confident := mat.NewDense(2, 3, []float64{10, -10, 10, -10, -10, 10})
	require.Less(t, evaluate(t, BCEWithLogits, confident, labels), 1e-3)

	wrong := mat.NewDense(2, 3, []float64{-10, 10, -10, 10, 10, -10})
	require.InDelta(t, 10.0, evaluate(t, BCEWithLogits, wrong, labels), 1e-3)
}

func TestBCEWithLogitsPerfectIsPositiveZero(t *testing.T) {
	loss := evaluate(t, BCEWithLogits, mat.NewDense(1, 2, []float64{-800, 800}), mat.NewDense(1, 2, []float64{0, 1}))
	require.Equal(t, 0.0, loss)
	require.False(t, math.Signbit(loss))
}

func TestCrossEntropy(t *testing.T) {
	logits := mat.NewDense(2, 8, nil)
	labels := mat.NewDense(2, 1, []float64{3, 7})
	require.InDelta(t, math.Log(8), evaluate(t, CrossEntropy, logits, labels), 1e-9)

	g := ag.NewGraph()
	defer g.Clear()
	_, err := CrossEntropy(g, model.Nodes(g, logits), mat.NewDense(2, 1, []float64{0, 8}))
	require.True(t, errors.Is(err, ErrShape))
}

func TestMSE(t *testing.T) {
	labels := mat.NewDense(2, 2, []float64{0.1, -0.3, 0.5, 0.9})
	require.InDelta(t, 0.0, evaluate(t, MSE, labels, labels), 1e-12)

	near := evaluate(t, MSE, mat.NewDense(2, 2, []float64{0.2, -0.3, 0.5, 0.9}), labels)
	far := evaluate(t, MSE, mat.NewDense(2, 2, []float64{1, -1, -1, 1}), labels)
	require.InDelta(t, 0.5*0.01/4, near, 1e-12)
	require.Greater(t, far, near)

	g := ag.NewGraph()
	defer g.Clear()
	_, err := MSE(g, model.Nodes(g, labels), mat.NewDense(3, 2, nil))
	require.True(t, errors.Is(err, ErrShape))
	_, err = MSE(g, model.Nodes(g, labels), mat.NewDense(2, 3, nil))
	require.True(t, errors.Is(err, ErrShape))
}

func TestCCCLoss(t *testing.T) {
	labels := mat.NewDense(3, 2, []float64{-1, 0.5, 0, 0.1, 1, -0.2})
	require.InDelta(t, 0.0, evaluate(t, CCCLoss, labels, labels), 1e-9)

	preds := mat.NewDense(3, 2, []float64{-0.5, 0.2, 0.3, 0.3, 0.4, 0.1})
	expected := 1 - 0.5*(metrics.Concordance(mat.Col(nil, 0, preds), mat.Col(nil, 0, labels))+
		metrics.Concordance(mat.Col(nil, 1, preds), mat.Col(nil, 1, labels)))
	require.InDelta(t, expected, evaluate(t, CCCLoss, preds, labels), 1e-9)

	// a single sample has no concordance
	require.Equal(t, 1.0, evaluate(t, CCCLoss, mat.NewDense(1, 2, nil), mat.NewDense(1, 2, nil)))
}

func TestTripletMargin(t *testing.T) {
	labels := mat.NewDense(4, 1, []float64{0, 0, 1, 1})
	separated := mat.NewDense(4, 2, []float64{
		0, 0,
		0, 0.1,
		5, 5,
		5, 5.1,
	})
	loss := ClassificationLoss(TripletMargin(0.2))
	require.Equal(t, 0.0, evaluate(t, loss, separated, labels))

	collapsed := mat.NewDense(4, 2, nil)
	require.InDelta(t, 0.2, evaluate(t, loss, collapsed, labels), 1e-9)
	require.Equal(t, 0.0, evaluate(t, loss, collapsed, mat.NewDense(4, 1, nil)))
}

func TestCrossEntropyGradient(t *testing.T) {
	g := ag.NewGraph()
	defer g.Clear()
	x := g.NewVariable(spagomat.NewEmptyVecDense(8), true)
	loss, err := CrossEntropy(g, []ag.Node{x}, mat.NewDense(1, 1, []float64{2}))
	require.NoError(t, err)
	g.Backward(loss)

	grad := x.Grad().Data()
	for j, v := range grad {
		if j == 2 {
			require.InDelta(t, 1.0/8-1, v, 1e-9)
		} else {
			require.InDelta(t, 1.0/8, v, 1e-9)
		}
	}
}

func TestFromConfig(t *testing.T) {
	meta := model.NewMetadata(model.DefaultAUNames, model.DefaultEmotionNames, model.AU, model.VA)
	result, err := FromConfig(meta, model.LossConfig{VA: "mse", MetricTasks: []string{"AU"}, MetricMargin: 0.1})
	require.NoError(t, err)
	require.Len(t, result, 2)
	require.NotNil(t, result[model.AU].Metric)
	require.Nil(t, result[model.VA].Metric)

	_, err = FromConfig(meta, model.LossConfig{VA: "huber"})
	require.Error(t, err)
}
