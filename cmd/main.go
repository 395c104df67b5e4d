package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/theblitlabs/misuse-detection/cmd/cli"
	"github.com/theblitlabs/misuse-detection/internal/config"
)

var flags cli.Flags

var rootCmd = &cobra.Command{
	Use:           "misuse-detection",
	Short:         "Misuse detection pipeline",
	Long:          `Train, evaluate and serve classifiers that detect misuse in container network flows`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// withApp loads the configuration and logger, runs fn with a context that is
// cancelled on SIGINT or SIGTERM, and closes the log file afterwards.
func withApp(fn func(ctx context.Context, app *cli.App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		app, err := cli.Setup(flags)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := fn(ctx, app); err != nil {
			app.Log.Error().Err(err).Str("command", cmd.Name()).Msg("Command failed")
			return err
		}
		return nil
	}
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the training pipeline and save the model artifact",
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		model, _ := cmd.Flags().GetString("model")
		return withApp(func(ctx context.Context, app *cli.App) error {
			return cli.RunPipeline(ctx, app, cli.RunOverrides{Source: source, Model: model}, cmd.OutOrStdout())
		})(cmd, args)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve predictions from the saved model",
	RunE: withApp(func(ctx context.Context, app *cli.App) error {
		return cli.RunServer(ctx, app)
	}),
}

var featurestoreCmd = &cobra.Command{
	Use:   "featurestore",
	Short: "Manage the offline and online feature stores",
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the selected features to the offline parquet store",
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		return withApp(func(ctx context.Context, app *cli.App) error {
			return cli.ExportFeatures(ctx, app, source, cmd.OutOrStdout())
		})(cmd, args)
	},
}

var materializeCmd = &cobra.Command{
	Use:   "materialize",
	Short: "Load the offline store into the online redis store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *cli.App) error {
			return cli.MaterializeFeatures(ctx, app, cmd.OutOrStdout())
		})(cmd, args)
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the pipeline run history",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent pipeline runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(func(ctx context.Context, app *cli.App) error {
			return cli.ListRuns(ctx, app, limit, cmd.OutOrStdout())
		})(cmd, args)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the run history database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		down, _ := cmd.Flags().GetBool("down")
		return withApp(func(ctx context.Context, app *cli.App) error {
			return cli.RunMigrate(ctx, app, down)
		})(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", config.DefaultConfigPath, "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&flags.LogMode, "log", "", "Log mode: debug, pretty, info, prod, test (overrides logging.mode)")

	runCmd.Flags().String("source", "", "Dataset path or ipfs://<cid>/<name> (overrides data.source)")
	runCmd.Flags().String("model", "", "Model kind (overrides model.name)")
	exportCmd.Flags().String("source", "", "Dataset path or ipfs://<cid>/<name> (overrides data.source)")
	runsListCmd.Flags().Int("limit", 20, "Number of runs to show")
	migrateCmd.Flags().Bool("down", false, "Revert the schema instead of applying it")

	featurestoreCmd.AddCommand(exportCmd, materializeCmd)
	runsCmd.AddCommand(runsListCmd)
	rootCmd.AddCommand(runCmd, serveCmd, featurestoreCmd, runsCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
