package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/metrics"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/trace"
)

func newMetricsCmd() *cobra.Command {
	var tracePath string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Reduce a trace log into aggregate recovery metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := trace.ReadEvents(tracePath)
			if err != nil {
				return fmt.Errorf("awrr: reading trace log: %w", err)
			}
			report := metrics.Reduce(events)

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printReport(cmd, report)
			return nil
		},
	}

	cmd.Flags().StringVar(&tracePath, "trace-path", "", "trace log to reduce (required)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the report as JSON instead of a table")
	_ = cmd.MarkFlagRequired("trace-path")

	return cmd
}

func printReport(cmd *cobra.Command, r metrics.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "tasks=%d completed=%d escalated=%d failed=%d error_tasks=%d recovered_tasks=%d\n",
		r.TotalTasks, r.CompletedTasks, r.EscalatedTasks, r.FailedTasks, r.ErrorTasks, r.RecoveredTasks)
	fmt.Fprintf(out, "WCR=%.3f HIR=%.3f RR_task=%.3f RR_event=%.3f MTTR_event=%.1fms\n",
		r.WCR, r.HIR, r.RRTask, r.RREvent, r.MTTREvent)
	fmt.Fprintf(out, "CPT=%.3f CPS=%.3f RCO=%.3f UAR=%.3f SRR=%.3f LLM_calls=%d\n",
		r.CPT, r.CPS, r.RCO, r.UAR, r.SRR, r.LLMCalls)
	for _, kc := range r.FirstErrorKindBreakdown {
		fmt.Fprintf(out, "first_error_kind[%s]=%d\n", kc.Kind, kc.Count)
	}
	for _, kc := range r.EventErrorKindBreakdown {
		fmt.Fprintf(out, "event_error_kind[%s]=%d\n", kc.Kind, kc.Count)
	}
}
