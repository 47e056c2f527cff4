package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"resilient-rpc/client"
	"resilient-rpc/registry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// app holds what every subcommand shares: flags resolved through viper, the logger
// and where results are printed.
type app struct {
	v      *viper.Viper
	out    io.Writer
	logger *zap.Logger
}

func newRootCommand(out io.Writer) *cobra.Command {
	a := &app{v: viper.New(), out: out, logger: zap.NewNop()}

	root := &cobra.Command{
		Use:           "rpcprobe",
		Short:         "Call and probe JSON-RPC nodes with retries and failover",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.loadConfigFile(); err != nil {
				return err
			}
			logger, err := newLogger(a.v.GetString("log-level"), a.v.GetBool("dev"))
			if err != nil {
				return err
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "path to a YAML/JSON/TOML config file")
	flags.StringSlice("endpoint", nil, "ranked JSON-RPC endpoint URL (repeatable, primary first)")
	flags.StringSlice("etcd", nil, "etcd endpoints used to resolve --network")
	flags.String("network", "", "network whose endpoints are read from etcd")
	flags.Int("max-retries", client.DefaultMaxRetries, "retries after the first attempt")
	flags.Duration("base-retry-delay", client.DefaultBaseRetryDelay, "backoff unit; attempt k waits k-1 units")
	flags.Duration("request-timeout", client.DefaultRequestTimeout, "timeout of a single attempt")
	flags.Float64("rate-limit", 0, "client-side requests per second, 0 disables")
	flags.Int("rate-burst", 0, "client-side burst, defaults to 1 when --rate-limit is set")
	flags.Bool("keep-failover", false, "stay on the fallback endpoint after a call exhausts its retries")
	flags.String("metrics-addr", "", "serve Prometheus /metrics on this address while running")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")
	flags.Bool("dev", false, "human-friendly development logging")
	a.bindFlags(flags)

	root.AddCommand(
		newCallCommand(a),
		newProbeCommand(a),
		newServeCommand(a),
		newEndpointsCommand(a),
	)
	return root
}

func (a *app) bindFlags(flags *pflag.FlagSet) {
	flags.VisitAll(func(flag *pflag.Flag) {
		if err := a.v.BindPFlag(flag.Name, flag); err != nil {
			panic(err)
		}
	})
	a.v.SetEnvPrefix("RPCPROBE")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
}

func (a *app) loadConfigFile() error {
	path := strings.TrimSpace(a.v.GetString("config"))
	if path == "" {
		return nil
	}
	a.v.SetConfigFile(path)
	if err := a.v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

func newLogger(level string, dev bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	if dev {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

// clientConfig maps the resolved flags onto client.Config. Endpoints are resolved
// separately because they may come from etcd.
func (a *app) clientConfig(endpoints []string) client.Config {
	return client.Config{
		Endpoints:                endpoints,
		MaxRetries:               a.v.GetInt("max-retries"),
		BaseRetryDelay:           a.v.GetDuration("base-retry-delay"),
		RequestTimeout:           a.v.GetDuration("request-timeout"),
		RateLimit:                a.v.GetFloat64("rate-limit"),
		RateBurst:                a.v.GetInt("rate-burst"),
		KeepFailoverOnExhaustion: a.v.GetBool("keep-failover"),
	}
}

// resolveEndpoints prefers explicit --endpoint values and falls back to the ranked
// endpoints registered for --network in etcd.
func (a *app) resolveEndpoints(ctx context.Context) ([]string, error) {
	if endpoints := a.v.GetStringSlice("endpoint"); len(endpoints) > 0 {
		return endpoints, nil
	}
	network := a.v.GetString("network")
	if network == "" {
		return nil, errors.New("no endpoints: pass --endpoint or --etcd with --network")
	}
	reg, err := a.registry()
	if err != nil {
		return nil, err
	}
	defer reg.Close()

	eps, err := reg.Discover(ctx, network)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", network, err)
	}
	a.logger.Debug("resolved endpoints from etcd", zap.String("network", network), zap.Int("count", len(eps)))
	return registry.URLs(eps), nil
}

func (a *app) registry() (*registry.EtcdRegistry, error) {
	etcd := a.v.GetStringSlice("etcd")
	if len(etcd) == 0 {
		return nil, errors.New("--etcd is required")
	}
	return registry.NewEtcdRegistry(etcd)
}

func (a *app) newClient(ctx context.Context, opts ...client.Option) (*client.Client, error) {
	endpoints, err := a.resolveEndpoints(ctx)
	if err != nil {
		return nil, err
	}
	opts = append([]client.Option{client.WithLogger(a.logger)}, opts...)
	return client.New(a.clientConfig(endpoints), opts...)
}

// serveMetrics exposes reg on --metrics-addr until ctx is done. It is a no-op when the
// flag is empty.
func (a *app) serveMetrics(ctx context.Context, reg *prometheus.Registry) {
	addr := a.v.GetString("metrics-addr")
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.logger.Info("metrics listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
}
