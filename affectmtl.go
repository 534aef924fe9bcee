package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"affectmtl/pkg"
	"affectmtl/pkg/model"

	"github.com/spf13/cobra"
)

func EvaluateCommand() *cobra.Command {

	var params pkg.EvaluateParameters

	var cmd = &cobra.Command{
		Use:   "evaluate -i dataloader.csv [-i dataloader.csv ...] [-r reportFile]",
		Short: "Scores prediction dumps of the validation dataloaders and reports val_total",
		Long: "Each input file holds the dump of one validation dataloader: a header line, then one line per " +
			"sample with the combined AU, EXPR and VA predictions followed by the sample labels.",
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params.Progress = cmd.ErrOrStderr()
			report, err := pkg.Evaluate(params)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "val_total: %.5f\n", report.Total)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&params.DataFiles, "input", "i", nil, "prediction dump of a validation dataloader, in dataloader order")
	cmd.Flags().StringVarP(&params.ConfigFile, "config", "c", "", "task configuration file (optional)")
	cmd.Flags().IntVarP(&params.BatchSize, "batch-size", "b", 64, "validation batch size")
	cmd.Flags().StringVarP(&params.ReportFile, "report", "r", "", "name of the file to save the metric report to (optional)")

	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func LossCommand() *cobra.Command {

	var params pkg.LossParameters

	var cmd = &cobra.Command{
		Use:   "loss -f featureDim --au auFile --expr exprFile --va vaFile [--au-va file] [--au-expr-va file] [-s steps]",
		Short: "Trains a freshly initialized multitask head on one batch of labeled groups and reports the task losses of the last step",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := pkg.TrainLoss(params)
			if err != nil {
				return err
			}
			for _, task := range model.Tasks {
				if loss, ok := result.TaskLosses[task]; ok {
					fmt.Fprintf(cmd.OutOrStdout(), "loss_%s: %.5f\n", task, loss)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "total_loss: %.5f\n", result.Total)
			return nil
		},
	}

	cmd.Flags().StringVarP(&params.ConfigFile, "config", "c", "", "task configuration file (optional)")
	cmd.Flags().StringVarP(&params.AUFile, "au", "", "", "AU labeled group")
	cmd.Flags().StringVarP(&params.EXPRFile, "expr", "", "", "EXPR labeled group")
	cmd.Flags().StringVarP(&params.VAFile, "va", "", "", "VA labeled group")
	cmd.Flags().StringVarP(&params.AUVAFile, "au-va", "", "", "AU and VA jointly labeled group (optional)")
	cmd.Flags().StringVarP(&params.AUEXPRVAFile, "au-expr-va", "", "", "AU, EXPR and VA jointly labeled group (optional)")
	cmd.Flags().IntVarP(&params.FeatureDim, "feature-dim", "f", 0, "number of leading feature columns in each group file")
	cmd.Flags().IntVarP(&params.MetricDim, "metric-dim", "m", 16, "embedding dimension of each task")
	cmd.Flags().Int64VarP(&params.RndSeed, "random-seed", "x", 42, "random seed")
	cmd.Flags().IntVarP(&params.Steps, "steps", "s", 1, "number of training steps over the batch")
	cmd.Flags().Float64VarP(&params.LearningRate, "learning-rate", "l", 0.001, "Adam step size")

	_ = cmd.MarkFlagRequired("feature-dim")

	return cmd
}

var logLevel string
var logFormat string

func main() {

	Main := &cobra.Command{Use: "affectmtl", PersistentPreRun: setupLogging}

	Main.PersistentFlags().StringVarP(&logLevel, "log-level", "", "info", "Logging level: info error or debug")
	Main.PersistentFlags().StringVarP(&logFormat, "log-format", "", "pretty", "Logging format: pretty or json")

	Main.AddCommand(EvaluateCommand())
	Main.AddCommand(LossCommand())

	if err := Main.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(cmd *cobra.Command, args []string) {

	switch logLevel {
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	default:
		panic("Invalid logging level specified")
	}

	switch logFormat {
	case "pretty":
		setupPrettyLogging()
	case "json":
	default:
		panic("Invalid log format specified")

	}

}

func setupPrettyLogging() {
	writer := zerolog.ConsoleWriter{Out: os.Stderr}
	writer.FormatFieldValue = func(i interface{}) string {
		switch v := i.(type) {
		case json.Number:
			val, _ := v.Float64()
			return fmt.Sprintf("%.3f", val)
		default:
			return fmt.Sprintf("%s", i)
		}

	}
	log.Logger = log.Output(writer)

}
