package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/NikhilOO7/llm-bias-analyzer/internal/app"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/models"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/report"
	"github.com/spf13/cobra"
)

const jobPollInterval = 2 * time.Second

func newReportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render the latest audit records as a PDF",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				data, err := a.Reports.Generate(ctx)
				if err != nil {
					return err
				}
				if err := os.WriteFile(output, data, 0o644); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", output, len(data))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", report.REPORT_FILENAME, "output file")
	return cmd
}

func newFineTuneCmd() *cobra.Command {
	var filters string

	cmd := &cobra.Command{
		Use:   "finetune BASE_MODEL",
		Short: "Train a debiasing head for a masked model and wait for it",
		Long:  "Filters is a JSON object over audit log fields, e.g. '{\"model\":\"gpt2\",\"sentiment\":\"negative\"}'.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := models.FineTuneRequest{BaseModel: args[0]}
			if filters != "" {
				req.Filters = json.RawMessage(filters)
			}

			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				job, err := a.FineTune.Submit(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "job %s started for %s\n", job.ID, job.BaseModel)

				job, err = waitForJob(ctx, a, job.ID)
				if err != nil {
					return err
				}
				if job.Status == models.JobFailed {
					return fmt.Errorf("job %s failed: %s", job.ID, job.Error)
				}
				return printJSON(cmd.OutOrStdout(), job)
			})
		},
	}

	cmd.Flags().StringVar(&filters, "filters", "", "JSON filter over audit records")
	return cmd
}

func waitForJob(ctx context.Context, a *app.App, id string) (models.FineTuneJob, error) {
	ticker := time.NewTicker(jobPollInterval)
	defer ticker.Stop()

	for {
		job, err := a.FineTune.Get(ctx, id)
		if err != nil {
			return job, err
		}
		if job.Done() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

func newEvaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate BASE_MODEL",
		Short: "Compare probe outputs before and after fine-tuning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				result, err := a.Evaluator.Evaluate(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
}
