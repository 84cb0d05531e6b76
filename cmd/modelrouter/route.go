package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	mr "github.com/ineyio/modelrouter"
)

type routeOptions struct {
	task       string
	priority   string
	preference string
	maxTokens  int
	dryRun     bool
	jsonOut    bool
	metrics    bool
}

func newRouteCmd(a *app) *cobra.Command {
	var o routeOptions

	cmd := &cobra.Command{
		Use:   "route [prompt...]",
		Short: "Send a prompt to the best model the budget allows",
		Long: `Send a prompt to the best model the budget allows.

The prompt is taken from the arguments, or from stdin when none are given
or the only argument is "-".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			router, closer, err := a.newRouter(reg)
			if err != nil {
				return err
			}
			defer closer.Close()

			req := mr.TaskRequest{
				TaskType:       mr.TaskType(o.task),
				Prompt:         prompt,
				MaxTokens:      o.maxTokens,
				Priority:       mr.Priority(o.priority),
				CostPreference: mr.CostPreference(o.preference),
			}

			if o.dryRun {
				d, err := router.Select(cmd.Context(), req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) quality=%s speed=%s cost_per_1k=$%.4f\n",
					d.Name, d.Provider, d.Quality, d.Speed, d.CostPer1K)
				return nil
			}

			result, err := router.RouteTask(cmd.Context(), req)
			if err != nil {
				return err
			}

			if o.jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(resultJSON(result)); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), result.Response)
				fmt.Fprintf(cmd.ErrOrStderr(), "model=%s provider=%s attempts=%d cost=%s remaining=%s\n",
					result.Model, result.Provider, result.Attempts, result.Cost, result.BudgetRemaining)
			}

			if o.metrics {
				return writeMetrics(cmd.ErrOrStderr(), reg)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.task, "task", "t", string(mr.TaskQuickAnalysis), "task type (quick-analysis, code-generation, architecture, creative-writing, multimodal)")
	f.StringVarP(&o.priority, "priority", "p", string(mr.PriorityMedium), "priority (low, medium, high, critical)")
	f.StringVar(&o.preference, "preference", string(mr.Balanced), "cost preference (cost-optimized, balanced, quality-first)")
	f.IntVar(&o.maxTokens, "max-tokens", 0, "completion token limit (0 = config default)")
	f.BoolVar(&o.dryRun, "dry-run", false, "print the selected model without calling it")
	f.BoolVar(&o.jsonOut, "json", false, "print the result as JSON")
	f.BoolVar(&o.metrics, "metrics", false, "print Prometheus metrics for this run to stderr")
	return cmd
}

func readPrompt(stdin io.Reader, args []string) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(b))
	if prompt == "" {
		return "", fmt.Errorf("empty prompt")
	}
	return prompt, nil
}

type routeResult struct {
	ID               string  `json:"id"`
	Response         string  `json:"response"`
	Model            string  `json:"model"`
	Provider         string  `json:"provider"`
	Free             bool    `json:"free"`
	Attempts         int     `json:"attempts"`
	CostUSD          float64 `json:"cost_usd"`
	BudgetRemaining  float64 `json:"budget_remaining_usd"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
}

func resultJSON(r mr.Result) routeResult {
	return routeResult{
		ID:               r.ID,
		Response:         r.Response,
		Model:            r.Model,
		Provider:         r.Provider,
		Free:             r.Free,
		Attempts:         r.Attempts,
		CostUSD:          r.Cost.Dollars(),
		BudgetRemaining:  r.BudgetRemaining.Dollars(),
		PromptTokens:     r.Usage.PromptTokens,
		CompletionTokens: r.Usage.CompletionTokens,
	}
}

func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
