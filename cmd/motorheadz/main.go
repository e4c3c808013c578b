package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("motorheadz v%s\n", version)
	fmt.Println("tap-tempo rhythm actuator daemon")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  motorheadz [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Taps a tempo from a key, picks an overlay ratio from a light sensor and")
	fmt.Println("  drives an actuator on both rhythms. Keys come from Linux input devices")
	fmt.Println("  or IPC; the actuator can be a MIDI note, a serial relay or the log.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        YAML config file (defaults are used when omitted)")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (overrides logging.level)")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Println("        Unix domain socket path for IPC (overrides ipc.socket_path)")
	fmt.Println()
	fmt.Println("  -ws-listen string")
	fmt.Println("        State websocket listen address, empty disables (overrides state_ws.listen)")
	fmt.Println()
	fmt.Println("  -sensor-source string")
	fmt.Println("        Sensor source: static|serial (overrides sensor.source)")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Run with defaults, keys over IPC only, actuator on the log")
	fmt.Println("  motorheadz -log-level debug")
	fmt.Println()
	fmt.Println("  # Full hardware setup from a config file")
	fmt.Println("  motorheadz -config /etc/motorheadz.yaml")
	fmt.Println()
	fmt.Println("  # Tap from another shell")
	fmt.Println("  motorheadz-ctl tap; sleep 0.5; motorheadz-ctl tap")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Reading input devices requires root or membership in the 'input' group")
	fmt.Println("  - Rhythm lengths in the config are in fast ticks (base tick * fast divider)")
	fmt.Println()
}

func main() {
	var (
		configPath   = flag.String("config", "", "YAML config file")
		logLevelStr  = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		ipcSocket    = flag.String("ipc-socket", "", "Unix domain socket path for IPC")
		wsListen     = flag.String("ws-listen", "", "State websocket listen address (empty disables)")
		sensorSource = flag.String("sensor-source", "", "Sensor source: static|serial")
		showVersion  = flag.Bool("version", false, "Print version and exit")
		showHelp     = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	// Only flags given on the command line override the config file.
	var overrides FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-level":
			overrides.LogLevel = logLevelStr
		case "ipc-socket":
			overrides.IPCSocketPath = ipcSocket
		case "ws-listen":
			overrides.WSListen = wsListen
		case "sensor-source":
			overrides.SensorSource = sensorSource
		}
	})

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	overrides.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, _ := parseLogLevel(cfg.Logging.Level)
	logger := setupLogger(os.Stdout, logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("motorheadz stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// run wires every component and blocks until ctx is canceled or one of them
// fails.
func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	bindings, err := parseBindings(cfg.Keys.Bindings)
	if err != nil {
		return err
	}

	sensor, err := openSensor(cfg.Sensor)
	if err != nil {
		return err
	}
	if c, ok := sensor.(io.Closer); ok {
		defer c.Close()
	}

	outputs, err := openOutputs(cfg.Actuator, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := outputs.Close(); err != nil {
			logger.Warn("closing outputs", "error", err)
		}
	}()

	var devices []*os.File
	if len(cfg.Keys.Devices) > 0 {
		devices, err = openInputDevices(cfg.Keys.Devices)
		if err != nil {
			return fmt.Errorf("%w (run as root or add user to 'input' group)", err)
		}
		defer func() {
			for _, f := range devices {
				_ = f.Close()
			}
		}()
	}

	lines := NewKeyLines()
	keys := NewKeyDebouncer(uint8(cfg.Keys.RepeatStart), uint8(cfg.Keys.RepeatNext))
	flags := NewTickFlags()
	calibrator := NewSensorCalibrator(cfg.Sensor.Ratios)
	tempo := NewTempoController(cfg.ToRhythmConfig(), calibrator.Default(), outputs)
	ticks := NewTickSource(cfg.BaseTick(), uint8(cfg.Clock.FastDivider), uint8(cfg.Clock.SlowDivider), lines, keys, flags)

	requests := make(chan Event, 16)

	// Broadcasts only have a consumer when the state websocket is enabled.
	var broadcasts chan StateBroadcast
	if cfg.StateWS.Listen != "" {
		broadcasts = make(chan StateBroadcast, 256)
	}

	scheduler := NewScheduler(SchedulerConfig{
		Flags:      flags,
		Keys:       keys,
		Lines:      lines,
		Sensor:     sensor,
		Calibrator: calibrator,
		Tempo:      tempo,
		Broadcasts: broadcasts,
		Logger:     logger,
	})

	logger.Info("starting motorheadz",
		"version", version,
		"base_tick", cfg.BaseTick().String(),
		"rhythm_ticks", tempo.ActualLength(),
		"ratio", tempo.Ratio().String(),
		"sensor", cfg.Sensor.Source,
		"outputs", outputs.Names(),
		"input_devices", len(devices),
		"ipc", cfg.IPC.SocketPath,
		"state_ws", cfg.StateWS.Listen)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ticks.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx, requests) })

	ipc := &ipcHandler{lines: lines, sensor: sensor, requests: requests, logger: logger}
	g.Go(func() error { return runIPCServer(gctx, cfg.IPC.SocketPath, ipc, logger) })

	if len(devices) > 0 {
		g.Go(func() error { return readInputDevices(gctx, devices, bindings, lines, logger) })
	}

	if cfg.StateWS.Listen != "" {
		srv := NewServer(logger, requests, ServerConfig{})
		mux := http.NewServeMux()
		srv.Register(mux, cfg.StateWS.Path)

		g.Go(func() error {
			srv.Hub().Run(gctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(gctx, srv.Hub(), broadcasts, logger)
			return nil
		})
		g.Go(func() error { return runHTTPServer(gctx, cfg.StateWS.Listen, mux, logger) })
	}

	return g.Wait()
}
