package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/NikhilOO7/llm-bias-analyzer/config"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/app"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/logging"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "biasctl",
		Short:        "Probe language models for social bias",
		Long:         "biasctl runs the bias analyzer in-process against the configured model registry and audit log store.",
		SilenceUsage: true,
	}

	cmd.AddCommand(newModelsCmd())
	cmd.AddCommand(newAnalyzeCmd())
	cmd.AddCommand(newDashboardCmd())
	cmd.AddCommand(newReportCmd())
	cmd.AddCommand(newFineTuneCmd())
	cmd.AddCommand(newEvaluateCmd())
	return cmd
}

// withApp builds the application from the environment, runs fn and closes
// everything afterwards. Ctrl-C cancels fn's context.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}
	config.LoadEnv(env)
	logging.InitLogger(env)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, config.Load())
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

func execute(cmd *cobra.Command) int {
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
