package main

import (
	"context"
	"errors"
	"time"

	"resilient-rpc/middleware"
	"resilient-rpc/registry"
	"resilient-rpc/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type serveOptions struct {
	addr        string
	advertise   string
	chain       string
	name        string
	priority    int
	unavailable bool
	limit       float64
}

func newServeCommand(a *app) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a mock JSON-RPC node answering system_* methods",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context(), opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", ":9944", "listen address")
	flags.StringVar(&opts.advertise, "advertise", "", "URL registered in etcd (default http://<addr>)")
	flags.StringVar(&opts.chain, "chain", "Development", "value of system_chain")
	flags.StringVar(&opts.name, "name", "rpcprobe-mock", "value of system_name")
	flags.IntVar(&opts.priority, "priority", 0, "priority registered in etcd, lower ranks first")
	flags.BoolVar(&opts.unavailable, "unavailable", false, "answer every request with HTTP 503")
	flags.Float64Var(&opts.limit, "limit", 0, "server-side requests per second, 0 disables")
	return cmd
}

func (a *app) serve(ctx context.Context, opts serveOptions) error {
	svr := server.NewServer(
		server.WithLogger(a.logger.Named("node")),
		server.WithNetwork(a.v.GetString("network"), opts.priority),
	)
	if err := svr.Register("system", server.NewSystem(opts.chain, opts.name, "0.1.0")); err != nil {
		return err
	}
	svr.Use(middleware.LoggingMiddleware(a.logger.Named("node")))
	if opts.limit > 0 {
		svr.Use(middleware.RateLimitMiddleware(opts.limit, 1))
	}
	svr.SetAvailable(!opts.unavailable)

	var reg registry.Registry
	if len(a.v.GetStringSlice("etcd")) > 0 {
		if a.v.GetString("network") == "" {
			return errors.New("--network is required to register with etcd")
		}
		etcd, err := a.registry()
		if err != nil {
			return err
		}
		defer etcd.Close()
		reg = etcd
	}
	advertise := opts.advertise
	if advertise == "" {
		advertise = "http://" + opts.addr
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.serveMetrics(ctx, promReg)

	errc := make(chan error, 1)
	go func() { errc <- svr.Serve(opts.addr, advertise, reg) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svr.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("shutdown", zap.Error(err))
	}
	return <-errc
}
