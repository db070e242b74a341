// Command medcharge trains a decision tree on the medical insurance dataset
// and predicts charges from a web form or the command line.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/YuminosukeSato/medcharge/config"
	"github.com/YuminosukeSato/medcharge/insurance"
	"github.com/YuminosukeSato/medcharge/pkg/log"
	"github.com/YuminosukeSato/medcharge/ui"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

type cli struct {
	cfg *config.Config
}

func newRootCommand() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "medcharge",
		Short:         "Predict medical insurance charges with a decision tree",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			if err := log.SetupLogger(cfg.Log.Level, cfg.Log.Console); err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringP("config", "c", "", "Configuration file path (TOML or YAML).")
	root.PersistentFlags().String("data", "", "Dataset CSV path.")
	root.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error.")
	root.PersistentFlags().Int("max-depth", 0, "Maximum tree depth (0 grows until leaves are pure).")

	root.AddCommand(c.serveCommand(), c.predictCommand(), c.evaluateCommand(), versionCommand())
	return root
}

func (c *cli) trainOptions() insurance.TrainOptions {
	return insurance.TrainOptions{
		TestSize:        c.cfg.Model.TestSize,
		RandomState:     c.cfg.Model.RandomState,
		MaxDepth:        c.cfg.Model.MaxDepth,
		MinSamplesSplit: c.cfg.Model.MinSamplesSplit,
		MinSamplesLeaf:  c.cfg.Model.MinSamplesLeaf,
	}
}

func (c *cli) train() (*insurance.Predictor, error) {
	return insurance.TrainFromFile(c.cfg.Data.Path, insurance.WithOptions(c.trainOptions()))
}

func (c *cli) serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Train the model and serve the prediction form over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			predictor, err := c.train()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := ui.NewWebServer(predictor, ui.ServerConfig{
				Addr:            c.cfg.Server.Addr,
				ReadTimeout:     c.cfg.Server.ReadTimeout,
				WriteTimeout:    c.cfg.Server.WriteTimeout,
				IdleTimeout:     ui.DefaultServerConfig().IdleTimeout,
				ShutdownTimeout: c.cfg.Server.ShutdownTimeout,
			})
			fmt.Fprintf(cmd.OutOrStdout(), "Serving %s on http://%s\n", ui.WindowTitle, c.cfg.Server.Addr)
			return srv.Run(ctx)
		},
	}
	cmd.Flags().String("addr", "", "Listen address (host:port).")
	return cmd
}

func (c *cli) predictCommand() *cobra.Command {
	var age, bmi, children, smoker string
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict charges for one person",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			predictor, err := c.train()
			if err != nil {
				return err
			}
			form := ui.NewForm(predictor, ui.DialogFunc(func(title, message string) {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", title, message)
			}))
			form.Age, form.BMI, form.Children, form.Smoker = age, bmi, children, smoker
			if err := form.OnPredictClicked(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), form.Output)
			return nil
		},
	}
	cmd.Flags().StringVar(&age, "age", "", "Age in years.")
	cmd.Flags().StringVar(&bmi, "bmi", "", "Body-mass index.")
	cmd.Flags().StringVar(&children, "children", "", "Number of children.")
	cmd.Flags().StringVar(&smoker, "smoker", insurance.SmokerNo, `Smoker status, "yes" or "no".`)
	return cmd
}

func (c *cli) evaluateCommand() *cobra.Command {
	var plotPath string
	var crossValidate bool
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score the model on the held-out partition against a linear baseline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			predictor, err := c.train()
			if err != nil {
				return err
			}
			eval, err := predictor.Evaluate()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if err := writeEvaluation(out, eval); err != nil {
				return err
			}
			if err := writeImportances(out, predictor.FeatureImportances()); err != nil {
				return err
			}
			if crossValidate {
				cv, err := predictor.CrossValidate(c.cfg.Model.CVFolds)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%d-fold cross-validation R²: %.4f (+/- %.4f)\n", len(cv.TestScores), cv.Mean(), cv.Std())
			}
			if plotPath != "" {
				if err := insurance.SavePredictionPlot(predictor, plotPath); err != nil {
					return err
				}
				fmt.Fprintf(out, "Saved prediction plot to %s\n", plotPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&plotPath, "plot", "", "Write a predicted-vs-actual scatter plot (png, svg or pdf).")
	cmd.Flags().BoolVar(&crossValidate, "cv", false, "Also run k-fold cross-validation on the training partition.")
	return cmd
}

func writeEvaluation(w io.Writer, eval *insurance.Evaluation) error {
	fmt.Fprintf(w, "Train samples: %d, test samples: %d, tree depth: %d, leaves: %d\n",
		eval.TrainSamples, eval.TestSamples, eval.Depth, eval.Leaves)

	table := tablewriter.NewWriter(w)
	table.Header("Metric", "Decision tree", "Linear baseline")
	rows := [][]string{
		{"R²", fmt.Sprintf("%.4f", eval.Tree.R2), fmt.Sprintf("%.4f", eval.Baseline.R2)},
		{"MAE", fmt.Sprintf("%.2f", eval.Tree.MAE), fmt.Sprintf("%.2f", eval.Baseline.MAE)},
		{"RMSE", fmt.Sprintf("%.2f", eval.Tree.RMSE), fmt.Sprintf("%.2f", eval.Baseline.RMSE)},
	}
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

func writeImportances(w io.Writer, importances map[string]float64) error {
	names := make([]string, 0, len(importances))
	for name := range importances {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return importances[names[i]] > importances[names[j]]
	})

	table := tablewriter.NewWriter(w)
	table.Header("Feature", "Importance")
	for _, name := range names {
		if err := table.Append([]string{name, fmt.Sprintf("%.4f", importances[name])}); err != nil {
			return err
		}
	}
	return table.Render()
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		// config and logging are not needed
		PersistentPreRun: func(cmd *cobra.Command, args []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		log.GetLogger().Error("medcharge failed", err)
		os.Exit(1)
	}
}
