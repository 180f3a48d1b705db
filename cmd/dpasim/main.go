// Command dpasim computes DPA move lists and neighborhood distances.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/urfave/cli.v1"

	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/internal/config"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/internal/logging"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/internal/observability"
	"github.com/Wireless-Innovation-Forum/Spectrum-Access-System-sub002/internal/pool"
)

var (
	configFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "YAML configuration file",
	}
	metricsAddrFlag = cli.StringFlag{
		Name:  "metrics-addr",
		Usage: "serve Prometheus metrics on this address (overrides metrics.addr)",
	}
	dpaFlag = cli.StringFlag{
		Name:  "dpa",
		Usage: "DPA name",
	}
	portalFlag = cli.StringFlag{
		Name:  "portal",
		Usage: "KML or GeoJSON portal DPA file (overrides simulation.portal_dpa_file)",
	}
)

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "dpasim"
	app.Usage = "DPA move list and neighborhood simulator"
	app.Flags = []cli.Flag{configFileFlag, metricsAddrFlag}
	app.Commands = []cli.Command{moveListCommand, neighborhoodCommand}
	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env is the shared runtime of a command.
type env struct {
	cfg     config.Config
	log     logging.Logger
	metrics *observability.SimCollector
	pool    *pool.Pool

	closers []func()
}

// setup loads the configuration and starts logging, tracing, the metrics
// endpoint and the worker pool. The caller must call close.
func setup(ctx context.Context, c *cli.Context) (*env, error) {
	cfg, err := config.Load(c.GlobalString(configFileFlag.Name))
	if err != nil {
		return nil, err
	}
	if addr := c.GlobalString(metricsAddrFlag.Name); addr != "" {
		cfg.Metrics.Addr = addr
	}
	if portal := c.String(portalFlag.Name); portal != "" {
		cfg.Simulation.PortalDpaFile = portal
	}

	e := &env{cfg: cfg, log: logging.New(cfg.Logging)}
	shutdown, err := observability.InitTracing(ctx, cfg.Tracing, e.log)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	e.closers = append(e.closers, func() {
		observability.ShutdownWithTimeout(context.Background(), shutdown, e.log)
	})

	reg := prometheus.NewRegistry()
	if e.metrics, err = observability.NewSimCollector(reg); err != nil {
		e.close()
		return nil, err
	}
	if cfg.Metrics.Addr != "" {
		if err := e.serveMetrics(ctx, cfg.Metrics.Addr); err != nil {
			e.close()
			return nil, err
		}
	}

	e.pool, err = pool.New(pool.Options{
		NumWorkers: cfg.Pool.NumWorkers,
		Geodata:    cfg.Geodata,
		Logger:     e.log,
		Metrics:    e.metrics,
	})
	if err != nil {
		e.close()
		return nil, err
	}
	e.closers = append(e.closers, e.pool.Close)
	return e, nil
}

func (e *env) serveMetrics(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.log.Error(ctx, "metrics server stopped", logging.Err(err))
		}
	}()
	e.log.Info(ctx, "serving metrics", logging.String("addr", ln.Addr().String()))
	e.closers = append(e.closers, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	})
	return nil
}

// close runs the closers in reverse order.
func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
