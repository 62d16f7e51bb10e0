package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

// statsColumns are printed in this order by the stats command.
var statsColumns = []struct {
	label  string
	metric string
}{
	{"packets", "senseflow_packets_sent_total"},
	{"reports", "senseflow_sender_reports_total"},
	{"failures", "senseflow_send_failures_total"},
	{"dropped", "senseflow_dropped_updates_total"},
	{"registrations", "senseflow_registrations"},
	{"sensors", "senseflow_active_sensors"},
	{"req_queue", "senseflow_request_queue_length"},
	{"resp_queue", "senseflow_response_queue_length"},
}

func newStatsCmd() *cobra.Command {
	var (
		url      string
		interval time.Duration
		once     bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Poll the Prometheus metrics endpoint and print live counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if once {
				return printMetricsSnapshot(cmd.Context(), out, url)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			fmt.Fprintf(out, "Streaming metrics from %s (Ctrl+C to stop)\n", url)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := printMetricsSnapshot(ctx, out, url); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "stats error: %v\n", err)
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&url, "url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Refresh interval")
	cmd.Flags().BoolVar(&once, "once", false, "Print a single snapshot and exit")
	return cmd
}

func printMetricsSnapshot(ctx context.Context, out io.Writer, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return fmt.Errorf("parse metrics: %w", err)
	}

	fmt.Fprintf(out, "[%s]", time.Now().Format(time.RFC3339))
	for _, col := range statsColumns {
		fmt.Fprintf(out, " %s=%g", col.label, metricValue(families[col.metric]))
	}
	fmt.Fprintln(out)
	return nil
}

// metricValue sums every series of a counter or gauge family.
func metricValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var sum float64
	for _, m := range f.GetMetric() {
		switch f.GetType() {
		case dto.MetricType_COUNTER:
			sum += m.GetCounter().GetValue()
		case dto.MetricType_GAUGE:
			sum += m.GetGauge().GetValue()
		case dto.MetricType_UNTYPED:
			sum += m.GetUntyped().GetValue()
		}
	}
	return sum
}
