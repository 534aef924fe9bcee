package io

import (
	"bytes"
	"strings"
	"testing"

	"github.com/nlpodyssey/spago/pkg/mat/rand"
	"github.com/stretchr/testify/require"
)

const testTable = `f0,f1,au,v,a
0.5,1.0,1,0.1,0.2
0.1,0.2,0,-0.1,-0.2
x,0.3,1,0.0,0.0
0.7,0.8,1,0.3,0.4
`

func TestReadTable(t *testing.T) {
	pair, dataErrors, err := ReadTable(strings.NewReader(testTable), 2)
	require.NoError(t, err)
	require.Equal(t, 1, len(dataErrors)) // Line 4 has a non numeric feature
	require.Equal(t, 4, dataErrors[0].Line)
	require.Equal(t, 3, pair.Size())

	rows, cols := pair.Inputs.Dims()
	require.Equal(t, 3, rows)
	require.Equal(t, 2, cols)
	_, cols = pair.Labels.Dims()
	require.Equal(t, 3, cols)
	require.Equal(t, []float64{1, 0.3, 0.4}, pair.Labels.RawRowView(2))

	_, _, err = ReadTable(strings.NewReader(testTable), 5)
	require.Error(t, err)
}

func TestReadTableLabelsOnly(t *testing.T) {
	pair, dataErrors, err := ReadTable(strings.NewReader("expr\n3\n7\n"), 0)
	require.NoError(t, err)
	require.Empty(t, dataErrors)
	require.Nil(t, pair.Inputs)
	require.Equal(t, 2, pair.Size())
}

func TestDataSetBatches(t *testing.T) {
	pair, _, err := ReadTable(strings.NewReader(testTable), 2)
	require.NoError(t, err)

	ds := NewDataSet(pair, 2)
	batches := ds.Batches()
	require.Equal(t, 2, len(batches))
	require.Equal(t, 2, batches[0].Size())
	require.Equal(t, 1, batches[1].Size())
	require.Equal(t, pair.Labels.RawRowView(2), batches[1].Labels.RawRowView(0))

	ds.ResetOrder(RandomOrder)
	total := 0
	for _, b := range ds.Batches() {
		total += b.Size()
	}
	require.Equal(t, pair.Size(), total)
}

func TestDataSetRandomOrder(t *testing.T) {
	pair, _, err := ReadTable(strings.NewReader(testTable), 2)
	require.NoError(t, err)

	shuffled := func(seed uint64) []float64 {
		ds := NewDataSet(pair, pair.Size())
		ds.Rand = rand.NewLockedRand(seed)
		ds.ResetOrder(RandomOrder)
		batch := ds.Next()
		require.Equal(t, 0, ds.Next().Size())
		return batch.Labels.RawMatrix().Data
	}
	first := shuffled(7)
	require.Equal(t, first, shuffled(7))
	require.ElementsMatch(t, pair.Labels.RawMatrix().Data, first)
}

func TestReportRoundTrip(t *testing.T) {
	report := &Report{
		RunID:   "run",
		Keys:    []string{"D0/AU_F1", "val_total"},
		Metrics: map[string]float64{"D0/AU_F1": 0.5, "val_total": 0.5},
		Total:   0.5,
	}
	var b bytes.Buffer
	require.NoError(t, SaveReport(report, &b))
	loaded, err := LoadReport(&b)
	require.NoError(t, err)
	require.Equal(t, report, loaded)
}
