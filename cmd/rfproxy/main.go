// Command rfproxy runs next to RealFlight and serves remote bridges over
// the binary remote protocol.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rflink/bridge/internal/config"
	"github.com/rflink/bridge/internal/monitor"
	"github.com/rflink/bridge/internal/recorder"
	"github.com/rflink/bridge/pkg/core"
	"github.com/rflink/bridge/pkg/proxy"
	"github.com/spf13/pflag"
)

// Exit codes.
const (
	exitOK     = 0
	exitConfig = 1
	exitBind   = 2
	exitServe  = 3
)

// onListening is called once the listener is bound and shutdown signals
// are being handled.
var onListening = func(net.Addr) {}

type options struct {
	configDir string
	async     bool
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	startTime := time.Now()

	fs := pflag.NewFlagSet("rfproxy", pflag.ContinueOnError)
	var opts options
	fs.StringVar(&opts.configDir, "config", ".", "directory holding "+config.FileName)
	fs.BoolVar(&opts.async, "async", false, "serve with the context-driven server and bridge")
	fs.String("bind", "0.0.0.0:8080", "address to listen on")
	fs.Bool("stubbed", false, "answer every request without a simulator")
	fs.String("record", "none", "recording backend: none, memory, sqlite, postgres, influx, websocket")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitConfig
	}

	if err := config.Load(opts.configDir); err != nil {
		fmt.Fprintf(os.Stderr, "rfproxy: %v\n", err)
		return exitConfig
	}
	for key, name := range map[string]string{
		"proxy.bind":        "bind",
		"proxy.stubbed":     "stubbed",
		"recording.backend": "record",
		"logLevel":          "log-level",
	} {
		if err := config.BindFlag(key, fs.Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "rfproxy: %v\n", err)
			return exitConfig
		}
	}

	tel, err := setupTelemetry(startTime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rfproxy: %v\n", err)
		return exitConfig
	}
	defer tel.close()
	logger := tel.logger

	proxyCfg, err := config.GetProxy()
	if err != nil {
		logger.Error("Invalid proxy config", "error", err)
		return exitConfig
	}

	ln, err := net.Listen("tcp", proxyCfg.Bind)
	if err != nil {
		logger.Error("Failed to bind", "addr", proxyCfg.Bind, "error", err)
		return exitBind
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	onListening(ln.Addr())

	serverOpts := []proxy.Option{
		proxy.WithLogger(logger),
		proxy.WithIdleTimeout(proxyCfg.IdleTimeout),
		proxy.WithMaxClients(proxyCfg.MaxClients),
	}

	if opts.async {
		err = serveAsync(ctx, ln, proxyCfg, tel, serverOpts)
	} else {
		err = serveBlocking(ctx, ln, proxyCfg, tel, serverOpts)
	}
	if err != nil {
		logger.Error("Proxy failed", "error", err)
		return exitServe
	}
	logger.Info("Proxy shut down", "uptime", time.Since(startTime).Round(time.Second))
	return exitOK
}

func serveBlocking(ctx context.Context, ln net.Listener, cfg config.Proxy, tel *telemetry, opts []proxy.Option) error {
	b, rec, err := newBridge(cfg.Stubbed, tel)
	if err != nil {
		_ = ln.Close()
		return err
	}
	srv, err := proxy.NewServer(b, opts...)
	if err != nil {
		closeQuietly(b)
		_ = ln.Close()
		return err
	}
	tel.setStatistics(srv.Statistics)
	defer startMonitor(cfg, tel, srv.Statistics, srv.Clients, rec)()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	select {
	case err := <-serveErr:
		_ = shutdown(srv.Shutdown, cfg.ShutdownTimeout, tel.logger)
		return err
	case <-ctx.Done():
	}
	tel.logger.Info("Shutting down", "timeout", cfg.ShutdownTimeout)
	err = shutdown(srv.Shutdown, cfg.ShutdownTimeout, tel.logger)
	if serr := <-serveErr; !errors.Is(serr, proxy.ErrServerClosed) {
		return serr
	}
	return err
}

func shutdown(fn func(context.Context) error, timeout time.Duration, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := fn(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("Shutdown timed out, clients closed forcibly")
		return nil
	}
	return err
}

func serveAsync(ctx context.Context, ln net.Listener, cfg config.Proxy, tel *telemetry, opts []proxy.Option) error {
	b, rec, err := newAsyncBridge(ctx, cfg.Stubbed, tel)
	if err != nil {
		_ = ln.Close()
		return err
	}
	srv, err := proxy.NewAsyncServer(b, opts...)
	if err != nil {
		closeQuietly(b)
		_ = ln.Close()
		return err
	}
	srv.SetShutdownGrace(cfg.ShutdownTimeout)
	tel.setStatistics(srv.Statistics)
	defer startMonitor(cfg, tel, srv.Statistics, srv.Clients, rec)()
	return srv.Serve(ctx, ln)
}

// startMonitor runs the status file writer and returns its stop function.
func startMonitor(cfg config.Proxy, tel *telemetry, stats func() core.Statistics, clients func() int, rec *recorder.Recorder) func() {
	logsDir := config.GetString("logsDir")
	if cfg.StatusInterval <= 0 || logsDir == "" {
		return func() {}
	}
	mon := monitor.NewService(monitor.Dependencies{
		Statistics: stats,
		Clients:    clients,
		Recorder:   rec,
		StatusPath: filepath.Join(logsDir, "status.json"),
		Interval:   cfg.StatusInterval,
		Logger:     tel.logger.With("component", "monitor"),
	})
	if err := mon.Start(); err != nil {
		tel.logger.Warn("Status monitor disabled", "error", err)
		return func() {}
	}
	return mon.Stop
}
