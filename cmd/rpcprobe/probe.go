package main

import (
	"context"
	"fmt"
	"time"

	"resilient-rpc/client"
	"resilient-rpc/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newProbeCommand(a *app) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "probe [METHOD...]",
		Short: "Check connectivity with the first method the node answers",
		Long: "Tries each METHOD in order (system_chain, system_name, rpc_methods by default) and prints the first result.\n" +
			"With --interval the probe repeats until interrupted, exporting client metrics on --metrics-addr.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			reg := prometheus.NewRegistry()
			collector, err := metrics.NewCollector(reg, "rpcprobe")
			if err != nil {
				return err
			}
			c, err := a.newClient(ctx, client.WithMetrics(collector))
			if err != nil {
				return err
			}

			if interval <= 0 {
				return a.probeOnce(ctx, c, args)
			}

			a.serveMetrics(ctx, reg)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				if err := a.probeOnce(ctx, c, args); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					a.logger.Warn("probe failed", zap.Error(err))
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "repeat the probe at this interval")
	return cmd
}

func (a *app) probeOnce(ctx context.Context, c *client.Client, methods []string) error {
	res, err := c.Probe(ctx, methods...)
	if err != nil {
		return err
	}
	state := c.State()
	fmt.Fprintf(a.out, "%s\t%s\t%s\n", state.Endpoint, res.Method, res.Raw)
	return nil
}
