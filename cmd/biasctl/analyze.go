package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/NikhilOO7/llm-bias-analyzer/internal/app"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/models"
	"github.com/spf13/cobra"
)

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List registered models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tTYPE\tPATH")
				for _, name := range a.Registry.Names() {
					h, _ := a.Registry.Get(name)
					fmt.Fprintf(w, "%s\t%s\t%s\n", h.Name, h.Type, h.Path)
				}
				return w.Flush()
			})
		},
	}
}

func newAnalyzeCmd() *cobra.Command {
	var (
		modelNames []string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "analyze PROMPT",
		Short: "Run a prompt through one or more models and flag bias",
		Long:  "Masked models need the model's mask token in PROMPT, e.g. \"The nurse said [MASK] was tired.\"",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				results, err := a.Analyzer.Analyze(ctx, models.AnalyzeRequest{
					Prompt:     args[0],
					ModelNames: modelNames,
				})
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), models.AnalyzeResponse{Results: results})
				}
				return writeResults(cmd, results)
			})
		},
	}

	cmd.Flags().StringSliceVarP(&modelNames, "model", "m", []string{"bert-base-uncased"}, "model names to query (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw response")
	return cmd
}

func writeResults(cmd *cobra.Command, results []models.ModelResult) error {
	out := cmd.OutOrStdout()
	for _, r := range results {
		marker := ""
		if r.Biased {
			marker = "  [BIASED]"
		}
		fmt.Fprintf(out, "%s (%s) sentiment=%s%s\n", r.Model, r.Type, r.Sentiment, marker)
		fmt.Fprintf(out, "  predictions: %s\n", strings.Join(r.TopPredictions, " | "))
		for _, flag := range r.BiasFlags {
			fmt.Fprintf(out, "  - %s\n", flag)
		}
	}
	return nil
}

func newDashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Summarize bias rates across the audit log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				summary, err := a.Dashboard.Summarize(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "MODEL\tTOTAL\tBIASED\tBIAS %")
				for _, s := range summary.Dashboard {
					fmt.Fprintf(w, "%s\t%d\t%d\t%.2f\n", s.Model, s.TotalResponses, s.BiasedResponses, s.BiasPercentage)
				}
				fmt.Fprintf(w, "\nsentiment\tpositive=%d\tneutral=%d\tnegative=%d\n",
					summary.SentimentDistribution[models.SentimentPositive],
					summary.SentimentDistribution[models.SentimentNeutral],
					summary.SentimentDistribution[models.SentimentNegative])
				fmt.Fprintf(w, "total logs\t%d\n", summary.TotalLogs)
				return w.Flush()
			})
		},
	}
}
