package losses

import (
	"affectmtl/pkg/model"

	spagomat "github.com/nlpodyssey/spago/pkg/mat"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	aglosses "github.com/nlpodyssey/spago/pkg/ml/losses"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var ErrShape = errors.New("loss input shape mismatch")

// distanceEpsilon keeps the gradient of the euclidean distance finite when
// two embeddings coincide.
const distanceEpsilon = 1e-12

// checkShape returns the number of rows shared by preds and labels. With
// sameWidth every prediction vector must have one value per label column.
func checkShape(preds []ag.Node, labels *mat.Dense, sameWidth bool) (int, error) {
	if len(preds) == 0 || labels == nil {
		return 0, errors.Wrap(ErrShape, "empty input")
	}
	rows, cols := labels.Dims()
	if len(preds) != rows {
		return 0, errors.Wrapf(ErrShape, "%d predictions for %d labels", len(preds), rows)
	}
	if sameWidth {
		for i, x := range preds {
			if size := x.Value().Size(); size != cols {
				return 0, errors.Wrapf(ErrShape, "prediction %d has %d values for %d label columns", i, size, cols)
			}
		}
	}
	return rows, nil
}

func constant(g *ag.Graph, values []float64) ag.Node {
	return g.NewVariable(spagomat.NewVecDense(append([]float64(nil), values...)), false)
}

// mean divides the sum of the scalar nodes xs by n.
func mean(g *ag.Graph, xs []ag.Node, n int) ag.Node {
	return g.Div(g.Sum(xs...), g.NewScalar(float64(n)))
}

// BCEWithLogits is the binary cross entropy of sigmoid(preds) against 0/1
// labels, averaged over every element.
func BCEWithLogits(g *ag.Graph, preds []ag.Node, labels *mat.Dense) (ag.Node, error) {
	rows, err := checkShape(preds, labels, true)
	if err != nil {
		return nil, err
	}
	_, cols := labels.Dims()
	one := g.NewScalar(1)
	terms := make([]ag.Node, rows)
	for i, x := range preds {
		y := constant(g, labels.RawRowView(i))
		// max(x, 0) - x*y + log(1 + exp(-|x|))
		softplus := g.Log(g.AddScalar(g.Exp(g.Neg(g.Abs(x))), one))
		terms[i] = g.ReduceSum(g.Add(g.Sub(g.ReLU(x), g.Prod(x, y)), softplus))
	}
	return mean(g, terms, rows*cols), nil
}

// CrossEntropy is the softmax cross entropy of the preds logits against
// class indices stored in a single label column, averaged over the batch.
func CrossEntropy(g *ag.Graph, preds []ag.Node, labels *mat.Dense) (ag.Node, error) {
	rows, err := checkShape(preds, labels, false)
	if err != nil {
		return nil, err
	}
	if _, cols := labels.Dims(); cols != 1 {
		return nil, errors.Wrapf(ErrShape, "expression labels need one column, got %d", cols)
	}
	terms := make([]ag.Node, rows)
	for i, x := range preds {
		class, numClasses := int(labels.At(i, 0)), x.Value().Size()
		if class < 0 || class >= numClasses {
			return nil, errors.Wrapf(ErrShape, "class %d out of range for %d logits", class, numClasses)
		}
		terms[i] = aglosses.CrossEntropy(g, x, class)
	}
	return mean(g, terms, rows), nil
}

// MSE is spago's halved squared error, averaged over every element.
func MSE(g *ag.Graph, preds []ag.Node, labels *mat.Dense) (ag.Node, error) {
	rows, err := checkShape(preds, labels, true)
	if err != nil {
		return nil, err
	}
	terms := make([]ag.Node, rows)
	for i, x := range preds {
		terms[i] = aglosses.MSE(g, x, constant(g, labels.RawRowView(i)), true)
	}
	return mean(g, terms, rows), nil
}

// CCCLoss is one minus the mean concordance correlation coefficient of the
// prediction and label columns.
func CCCLoss(g *ag.Graph, preds []ag.Node, labels *mat.Dense) (ag.Node, error) {
	if _, err := checkShape(preds, labels, true); err != nil {
		return nil, err
	}
	_, cols := labels.Dims()
	terms := make([]ag.Node, cols)
	for j := range terms {
		terms[j] = concordance(g, column(g, preds, j), mat.Col(nil, j, labels))
	}
	return g.Sub(g.NewScalar(1), mean(g, terms, cols)), nil
}

// column gathers the j-th value of every vector of xs into one vector.
func column(g *ag.Graph, xs []ag.Node, j int) ag.Node {
	items := make([]ag.Node, len(xs))
	for i, x := range xs {
		items[i] = g.AtVec(x, j)
	}
	return g.Concat(items...)
}

// concordance is the graph form of metrics.Concordance, with population
// estimates. It is a constant 0 for fewer than two samples or a zero
// denominator.
func concordance(g *ag.Graph, x ag.Node, y []float64) ag.Node {
	n := len(y)
	if n < 2 {
		return g.NewScalar(0)
	}
	meanY, varY := stat.PopMeanVariance(y, nil)
	centeredY := append([]float64(nil), y...)
	floats.AddConst(-meanY, centeredY)

	meanX := g.ReduceMean(x)
	centeredX := g.SubScalar(x, meanX)
	varX := g.ReduceMean(g.Square(centeredX))
	covariance := g.ReduceMean(g.Prod(centeredX, constant(g, centeredY)))
	shift := g.Sub(meanX, g.NewScalar(meanY))
	denominator := g.Add(g.AddScalar(varX, g.NewScalar(varY)), g.Square(shift))
	if denominator.ScalarValue() == 0 {
		return g.NewScalar(0)
	}
	return g.Div(g.ProdScalar(covariance, g.NewScalar(2)), denominator)
}

// TripletMargin returns a metric-learning loss pulling together embeddings
// with identical label rows and pushing apart the others, averaged over all
// (anchor, positive, negative) triplets.
func TripletMargin(margin float64) MetricLoss {
	return func(g *ag.Graph, embeddings []ag.Node, labels *mat.Dense) (ag.Node, error) {
		rows, err := checkShape(embeddings, labels, false)
		if err != nil {
			return nil, err
		}
		epsilon := g.NewScalar(distanceEpsilon)
		distances := make([][]ag.Node, rows)
		for i := range distances {
			distances[i] = make([]ag.Node, rows)
		}
		for i := 0; i < rows; i++ {
			for j := i + 1; j < rows; j++ {
				squared := g.ReduceSum(g.Square(g.Sub(embeddings[i], embeddings[j])))
				d := g.Sqrt(g.AddScalar(squared, epsilon))
				distances[i][j], distances[j][i] = d, d
			}
		}

		marginNode := g.NewScalar(margin)
		var active []ag.Node
		count := 0
		for a := 0; a < rows; a++ {
			for p := 0; p < rows; p++ {
				if p == a || !floats.Equal(labels.RawRowView(a), labels.RawRowView(p)) {
					continue
				}
				for n := 0; n < rows; n++ {
					if floats.Equal(labels.RawRowView(a), labels.RawRowView(n)) {
						continue
					}
					count++
					v := g.Add(g.Sub(distances[a][p], distances[a][n]), marginNode)
					if v.ScalarValue() > 0 {
						active = append(active, v)
					}
				}
			}
		}
		if len(active) == 0 {
			return g.NewScalar(0), nil
		}
		return mean(g, active, count), nil
	}
}

// FromConfig builds the default task losses for the tasks of meta.
func FromConfig(meta *model.Metadata, config model.LossConfig) (map[model.Task]TaskLoss, error) {
	result := map[model.Task]TaskLoss{
		model.AU:   {Classification: BCEWithLogits},
		model.EXPR: {Classification: CrossEntropy},
	}
	switch config.VA {
	case "", "ccc":
		result[model.VA] = TaskLoss{Classification: CCCLoss}
	case "mse":
		result[model.VA] = TaskLoss{Classification: MSE}
	default:
		return nil, errors.Errorf("unknown VA loss %q", config.VA)
	}

	metricTasks, err := model.ParseTasks(config.MetricTasks)
	if err != nil {
		return nil, err
	}
	for _, t := range metricTasks {
		l := result[t]
		l.Metric = TripletMargin(config.MetricMargin)
		result[t] = l
	}

	for t := range result {
		if !contains(meta.Tasks, t) {
			delete(result, t)
		}
	}
	return result, nil
}

func contains(tasks []model.Task, t model.Task) bool {
	for _, x := range tasks {
		if x == t {
			return true
		}
	}
	return false
}
