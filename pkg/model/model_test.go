package model

import (
	"strings"
	"testing"

	"github.com/nlpodyssey/spago/pkg/mat/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

const testBatchSize = 5

func TestMultitaskHead_Forward(t *testing.T) {
	tests := []struct {
		featureDim int
		metricDim  int
	}{
		{featureDim: 8, metricDim: 4},
		{featureDim: 3, metricDim: 16},
	}

	for _, tt := range tests {
		meta := NewDefaultMetadata()
		head := NewMultitaskHead(IdentityBackbone{}, meta, HeadConfig{FeatureDim: tt.featureDim, MetricDim: tt.metricDim})
		head.Init(rand.NewLockedRand(42))

		g := ag.NewGraph()
		out, err := head.Forward(g, mat.NewDense(testBatchSize, tt.featureDim, nil))
		require.NoError(t, err)
		rows, cols := Values(out.Predictions).Dims()
		require.Equal(t, testBatchSize, rows)
		require.Equal(t, meta.PredictionWidth(), cols)
		for _, task := range Tasks {
			r, c := Values(out.Embeddings[task]).Dims()
			require.Equal(t, testBatchSize, r)
			require.Equal(t, tt.metricDim, c)
		}
		g.Clear()
	}
}

func TestMultitaskHead_Bias(t *testing.T) {
	meta := NewDefaultMetadata()
	head := NewMultitaskHead(IdentityBackbone{}, meta, HeadConfig{FeatureDim: 2, MetricDim: 2})
	head.Classifiers[VA].B.Value().SetVec(1, 0.5)
	head.Classifiers[AU].B.Value().SetVec(0, -1)

	g := ag.NewGraph()
	defer g.Clear()
	out, err := head.Forward(g, mat.NewDense(1, 2, nil))
	require.NoError(t, err)
	predictions := Values(out.Predictions)
	require.Equal(t, -1.0, predictions.At(0, 0))
	require.Equal(t, 0.5, predictions.At(0, meta.PredictionWidth()-1))
}

func TestMultitaskHead_Init(t *testing.T) {
	head := NewMultitaskHead(IdentityBackbone{}, NewDefaultMetadata(), HeadConfig{FeatureDim: 6, MetricDim: 4})
	head.Init(rand.NewLockedRand(1))

	weights, biases := 0, 0
	nn.ForEachParam(head, func(param *nn.Param) {
		switch param.Name() {
		case "w":
			weights++
			require.NotZero(t, param.Value().Sum())
		case "b":
			biases++
			require.Zero(t, param.Value().Sum())
		}
	})
	require.Equal(t, 2*NumTasks, weights)
	require.Equal(t, 2*NumTasks, biases)
}

func TestMultitaskHead_WrongFeatureDim(t *testing.T) {
	head := NewMultitaskHead(IdentityBackbone{}, NewDefaultMetadata(), HeadConfig{FeatureDim: 4, MetricDim: 2})
	g := ag.NewGraph()
	defer g.Clear()
	_, err := head.Forward(g, mat.NewDense(2, 3, nil))
	require.Error(t, err)
}

func TestValues(t *testing.T) {
	g := ag.NewGraph()
	defer g.Clear()
	m := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	require.True(t, mat.Equal(m, Values(Nodes(g, m))))
	require.Nil(t, Values(nil))
	require.Nil(t, Nodes(g, nil))
}

func TestParseTask(t *testing.T) {
	task, err := ParseTask("expr")
	require.NoError(t, err)
	require.Equal(t, EXPR, task)
	require.Equal(t, "EXPR", task.String())

	_, err = ParseTask("pose")
	require.True(t, errors.Is(err, ErrUnknownTask))
}

func TestMetadata(t *testing.T) {
	meta := NewMetadata(DefaultAUNames, DefaultEmotionNames, VA, AU, VA)
	require.Equal(t, []Task{AU, VA}, meta.Tasks)
	require.Equal(t, 12, meta.NumAU())
	require.Equal(t, 8, meta.NumEmotions())
	require.Equal(t, 22, meta.PredictionWidth())
	require.Equal(t, DefaultEmotionNames, meta.EmotionNames.Names())
	index, ok := meta.AUNames.ContainsName("AU12")
	require.True(t, ok)
	require.Equal(t, 6, index)
}

func TestLoadConfig(t *testing.T) {
	config, err := LoadConfig(strings.NewReader(`
au_names: [AU1, AU2, AU4]
tasks: [AU, VA]
losses:
  va: mse
  metric_tasks: [AU]
`))
	require.NoError(t, err)
	require.Equal(t, "mse", config.Losses.VA)
	require.Equal(t, 0.2, config.Losses.MetricMargin)

	meta, err := config.Metadata()
	require.NoError(t, err)
	require.Equal(t, 3, meta.NumAU())
	require.Equal(t, 8, meta.NumEmotions())
	require.Equal(t, []Task{AU, VA}, meta.Tasks)

	config, err = LoadConfig(strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), config)

	config.Tasks = []string{"pose"}
	_, err = config.Metadata()
	require.True(t, errors.Is(err, ErrUnknownTask))
}

func TestLoadConfigFile(t *testing.T) {
	config, err := LoadConfigFile("../../configs/tasks.yaml")
	require.NoError(t, err)
	require.Equal(t, []string{"AU", "EXPR"}, config.Losses.MetricTasks)
	meta, err := config.Metadata()
	require.NoError(t, err)
	require.Equal(t, NewDefaultMetadata(), meta)

	_, err = LoadConfigFile("missing.yaml")
	require.Error(t, err)
}
