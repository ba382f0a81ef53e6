package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the knob daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		serveOverrides(cmd).Apply(&cfg)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		level, _ := parseLogLevel(cfg.Logging.Level) // checked by Validate
		logger := setupLogger(os.Stderr, level)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runServe(ctx, cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.String("log-level", "info", "Log level: error, warn, info, debug")
	f.String("http-listen", defaultHTTPListen, "HTTP API listen address (empty disables)")
	f.String("ipc-socket", defaultIPCSocket, "Unix domain socket path for IPC (empty disables)")
	f.Int("update-hz", defaultUpdateHz, "Animation frame rate in Hz")
	f.Bool("redis", false, "Publish commits to Redis")
	f.String("redis-addr", "127.0.0.1:6379", "Redis address")
}

// serveOverrides collects only the flags the user actually set, so a config
// file value is never clobbered by a flag default.
func serveOverrides(cmd *cobra.Command) FlagOverrides {
	f := cmd.Flags()
	var o FlagOverrides
	if f.Changed("log-level") {
		v, _ := f.GetString("log-level")
		o.LogLevel = &v
	}
	if f.Changed("http-listen") {
		v, _ := f.GetString("http-listen")
		o.HTTPListen = &v
	}
	if f.Changed("ipc-socket") {
		v, _ := f.GetString("ipc-socket")
		o.IPCSocketPath = &v
	}
	if f.Changed("update-hz") {
		v, _ := f.GetInt("update-hz")
		o.UpdateHz = &v
	}
	if f.Changed("redis") {
		v, _ := f.GetBool("redis")
		o.RedisEnabled = &v
	}
	if f.Changed("redis-addr") {
		v, _ := f.GetString("redis-addr")
		o.RedisAddr = &v
	}
	return o
}

// runServe wires the fleet, the daemon loop and every transport, and blocks
// until ctx is canceled or a transport fails.
func runServe(ctx context.Context, cfg Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fleet, err := NewFleet(cfg.Knobs, cfg.ToRotaryConfig(), logger)
	if err != nil {
		return fmt.Errorf("build knobs: %w", err)
	}

	metrics := NewMetrics()
	fleet.seedMetrics(metrics)

	events := make(chan Event, 64)
	wsBroadcasts := make(chan Broadcast, 256)
	sinks := Sinks{WS: wsBroadcasts, Metrics: metrics}

	var publisher *Publisher
	var publishCh chan Broadcast
	if cfg.Redis.Enabled {
		publisher = NewPublisher(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, WithPrefix(cfg.Redis.ChannelPrefix))
		defer publisher.Close()
		publishCh = make(chan Broadcast, 64)
		sinks.Publish = publishCh
	}

	ws := NewServer(logger, events, ServerConfig{})

	var wg sync.WaitGroup
	errCh := make(chan error, 4)
	goRun := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	goRun(func() { runDaemon(ctx, events, fleet, sinks, cfg.UpdateHz, logger) })
	goRun(func() { ws.Hub().Run(ctx) })
	goRun(func() { RunBroadcaster(ctx, ws.Hub(), wsBroadcasts, logger) })

	if publisher != nil {
		goRun(func() { RunPublisher(ctx, publisher, publishCh, logger) })
	}

	if cfg.IPC.SocketPath != "" {
		goRun(func() {
			if err := runIPCServer(ctx, cfg.IPC.SocketPath, events, logger); err != nil {
				errCh <- fmt.Errorf("ipc: %w", err)
			}
		})
	}

	if cfg.HTTP.Listen != "" {
		router := newRouter(events, ws, metrics, logger)
		goRun(func() {
			if err := runHTTPServer(ctx, cfg.HTTP.Listen, router, logger); err != nil {
				errCh <- fmt.Errorf("http: %w", err)
			}
		})
	}

	closeInputs, err := startInputs(ctx, cfg.Knobs, events, logger)
	if err != nil {
		cancel()
		wg.Wait()
		return err
	}
	defer closeInputs()

	logger.Info("knobd running",
		"version", version,
		"knobs", len(cfg.Knobs),
		"http", cfg.HTTP.Listen,
		"ipc", cfg.IPC.SocketPath,
		"update_hz", cfg.UpdateHz,
		"redis", cfg.Redis.Enabled)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("transport failed", "error", runErr)
	}

	cancel()
	wg.Wait()
	return runErr
}

// startInputs opens every configured encoder device and forwards translated
// events to the daemon. The returned func closes the devices.
func startInputs(ctx context.Context, profiles []KnobProfile, events chan<- Event, logger *slog.Logger) (func(), error) {
	var files []*os.File
	byDevice := make(map[string]string)

	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}

	for _, p := range profiles {
		if p.Input == nil {
			continue
		}
		f, err := os.Open(p.Input.Device)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("open input device %s for knob %s (run as root or add user to 'input' group): %w", p.Input.Device, p.ID, err)
		}
		files = append(files, f)
		byDevice[f.Name()] = p.ID
	}
	if len(files) == 0 {
		return func() {}, nil
	}

	raw := make(chan deviceEvent, 64)
	readErr := make(chan error, len(files))
	go readDevices(files, raw, readErr)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-readErr:
				// Encoders are optional; keep serving the other transports.
				logger.Error("input reader stopped", "error", err)
			case de := <-raw:
				id, ok := byDevice[de.Device]
				if !ok {
					continue
				}
				ev, ok := translateInput(id, de.Event)
				if !ok {
					continue
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	logger.Info("encoder input started", "devices", len(files))
	return closeAll, nil
}
