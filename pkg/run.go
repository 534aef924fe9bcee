package pkg

import (
	"fmt"
	gio "io"
	"os"

	"affectmtl/pkg/io"
	"affectmtl/pkg/logging"
	"affectmtl/pkg/losses"
	"affectmtl/pkg/metrics"
	"affectmtl/pkg/model"

	"github.com/google/uuid"
	"github.com/nlpodyssey/spago/pkg/mat/rand"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
)

type EvaluateParameters struct {
	ConfigFile string

	// DataFiles holds one prediction dump per validation dataloader
	DataFiles  []string
	BatchSize  int
	ReportFile string

	// Progress receives the loading progress bar; nil disables it
	Progress gio.Writer
}

type LossParameters struct {
	ConfigFile string

	// Single-task labeled groups
	AUFile   string
	EXPRFile string
	VAFile   string

	// Jointly labeled groups
	AUVAFile     string
	AUEXPRVAFile string

	FeatureDim int
	MetricDim  int
	RndSeed    int64

	// Steps is the number of optimizer updates run over the batch
	Steps        int
	LearningRate float64
}

func printDataErrors(file string, errors []io.DataError) {
	for _, err := range errors {
		log.Error().Str("file", file).Msgf("Error parsing data at line %d: %s", err.Line, err.Error)
	}
}

func loadMetadata(configFile string) (*model.Config, *model.Metadata, error) {
	config, err := model.LoadConfigFile(configFile)
	if err != nil {
		return nil, nil, err
	}
	meta, err := config.Metadata()
	if err != nil {
		return nil, nil, err
	}
	return config, meta, nil
}

func loadGroup(file string, inputWidth int) (io.Pair, error) {
	pair, dataErrors, err := io.LoadTable(io.TableParameters{DataFile: file, InputWidth: inputWidth})
	if err != nil {
		return io.Pair{}, errors.Wrapf(err, "error loading %s", file)
	}
	printDataErrors(file, dataErrors)
	if pair.Size() == 0 {
		return io.Pair{}, errors.Errorf("no data in %s", file)
	}
	return pair, nil
}

// Evaluate scores prediction dumps, one per validation dataloader, and
// returns the logged metrics.
func Evaluate(p EvaluateParameters) (*io.Report, error) {
	_, meta, err := loadMetadata(p.ConfigFile)
	if err != nil {
		return nil, err
	}
	if len(p.DataFiles) == 0 {
		return nil, errors.New("no dataloader to evaluate")
	}
	if p.BatchSize <= 0 {
		return nil, errors.Errorf("invalid batch size %d", p.BatchSize)
	}

	runID := uuid.NewString()
	recorder := logging.NewRecorder()
	sink := logging.Tee{recorder, logging.Zerolog{Logger: log.With().Str("run", runID).Logger()}}
	validator, err := NewValidator(meta, metrics.Default(), sink)
	if err != nil {
		return nil, err
	}

	progress := p.Progress
	if progress == nil {
		progress = gio.Discard
	}
	bar := progressbar.NewOptions(len(p.DataFiles),
		progressbar.OptionSetDescription("loading dataloaders"),
		progressbar.OptionSetWriter(progress))

	outputs := make([][]StepOutput, 0, len(p.DataFiles))
	for _, file := range p.DataFiles {
		pair, err := loadGroup(file, meta.PredictionWidth())
		if err != nil {
			return nil, err
		}
		var steps []StepOutput
		for _, batch := range io.NewDataSet(pair, p.BatchSize).Batches() {
			steps = append(steps, StepOutput{Predictions: batch.Inputs, Labels: batch.Labels})
		}
		outputs = append(outputs, steps)
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	total, err := validator.EpochEnd(outputs)
	if err != nil {
		return nil, err
	}
	report := &io.Report{
		RunID:   runID,
		Keys:    recorder.Keys,
		Metrics: recorder.Values,
		Total:   total,
	}

	if p.ReportFile != "" {
		outputFile, err := os.Create(p.ReportFile)
		if err != nil {
			return nil, fmt.Errorf("error creating report file %s: %w", p.ReportFile, err)
		}
		defer outputFile.Close()
		if err := io.SaveReport(report, outputFile); err != nil {
			return nil, fmt.Errorf("error saving report to %s: %w", p.ReportFile, err)
		}
	}
	return report, nil
}

// TrainLoss trains a freshly initialized linear head for the requested number
// of steps. Every step sees all the rows of every group, reshuffled, as one
// batch. It returns the per-task losses of the last step.
func TrainLoss(p LossParameters) (StepResult, error) {
	config, meta, err := loadMetadata(p.ConfigFile)
	if err != nil {
		return StepResult{}, err
	}
	if p.Steps <= 0 {
		return StepResult{}, errors.Errorf("invalid number of steps %d", p.Steps)
	}

	generator := rand.NewLockedRand(uint64(p.RndSeed))
	shuffled := func(file string) (*io.DataSet, error) {
		pair, err := loadGroup(file, p.FeatureDim)
		if err != nil {
			return nil, err
		}
		ds := io.NewDataSet(pair, pair.Size())
		ds.Rand = generator
		return ds, nil
	}

	singleFiles := map[model.Task]string{model.AU: p.AUFile, model.EXPR: p.EXPRFile, model.VA: p.VAFile}
	single := map[model.Task]*io.DataSet{}
	for _, task := range meta.Tasks {
		file := singleFiles[task]
		if file == "" {
			return StepResult{}, errors.Errorf("missing single %s group file", task)
		}
		if single[task], err = shuffled(file); err != nil {
			return StepResult{}, err
		}
	}
	var multiple []*io.DataSet
	for _, file := range []string{p.AUVAFile, p.AUEXPRVAFile} {
		if file == "" {
			continue
		}
		ds, err := shuffled(file)
		if err != nil {
			return StepResult{}, err
		}
		multiple = append(multiple, ds)
	}
	// nextBatch reshuffles every group and takes all of its rows
	nextBatch := func() *io.Batch {
		var batch io.Batch
		for _, task := range meta.Tasks {
			single[task].ResetOrder(io.RandomOrder)
			batch.Single[task] = single[task].Next()
		}
		for _, ds := range multiple {
			ds.ResetOrder(io.RandomOrder)
			batch.Multiple = append(batch.Multiple, ds.Next())
		}
		return &batch
	}

	head := model.NewMultitaskHead(model.IdentityBackbone{}, meta, model.HeadConfig{
		FeatureDim: p.FeatureDim,
		MetricDim:  p.MetricDim,
	})
	head.Init(generator)

	taskLosses, err := losses.FromConfig(meta, config.Losses)
	if err != nil {
		return StepResult{}, err
	}
	aggregator, err := losses.NewAggregator(meta.Tasks, taskLosses)
	if err != nil {
		return StepResult{}, err
	}
	trainer, err := NewTrainer(meta, head, aggregator, logging.Zerolog{Logger: log.Logger}, uint64(p.RndSeed))
	if err != nil {
		return StepResult{}, err
	}

	optimizer := NewOptimizer(head, p.LearningRate)
	var result StepResult
	for step := 0; step < p.Steps; step++ {
		optimizer.IncExample()
		if result, err = trainer.Step(nextBatch()); err != nil {
			return StepResult{}, errors.Wrapf(err, "step %d", step)
		}
		optimizer.Optimize()
	}
	return result, nil
}
