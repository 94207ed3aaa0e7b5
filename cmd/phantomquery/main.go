package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"PhantomQuery/internal/api"
	"PhantomQuery/internal/chat"
	"PhantomQuery/internal/config"
	"PhantomQuery/internal/event"
	"PhantomQuery/internal/telemetry"
	"PhantomQuery/internal/transport"
	"PhantomQuery/internal/tui"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	config.LoadEnv()
	cfg, err := config.DefaultClient()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	flag.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "Backend base URL (http or https)")
	flag.StringVar(&cfg.SocketPath, "socket-path", cfg.SocketPath, "Path of the live event socket")
	flag.DurationVar(&cfg.HTTPTimeout, "http-timeout", cfg.HTTPTimeout, "Timeout for REST calls")
	flag.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Directory for log, trace and metric files")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	flag.Int64Var(&cfg.NodeID, "node-id", cfg.NodeID, "Snowflake node for local message ids")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		return err
	}

	// The terminal belongs to the UI, so logs only go to the file
	logger, logFile, err := telemetry.InitLogger(telemetry.LogOptions{
		Dir:   cfg.LogDir,
		File:  "phantomquery.log",
		Debug: cfg.Debug,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logFile.Close()

	ctx := context.Background()
	_, _, shutdown, err := telemetry.InitTelemetry(ctx, "phantomquery", version, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer shutdown()

	store, err := chat.NewStore(cfg.NodeID, logger)
	if err != nil {
		return fmt.Errorf("failed to create chat store: %w", err)
	}
	dispatcher, err := event.NewDispatcher(store, logger)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}
	client, err := api.NewClient(cfg.ServerURL, cfg.HTTPTimeout, logger)
	if err != nil {
		return fmt.Errorf("failed to create api client: %w", err)
	}

	socketURL, err := cfg.SocketURL()
	if err != nil {
		return err
	}

	// Frames reach the store only through the program's update loop
	var program *tea.Program
	conn, err := transport.NewConn(socketURL,
		func(data []byte) { program.Send(tui.FrameMsg{Data: data}) },
		func(err error) { program.Send(tui.TransportClosedMsg{Err: err}) },
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}

	model, err := tui.New(store, dispatcher, client, conn, logger)
	if err != nil {
		return fmt.Errorf("failed to create view: %w", err)
	}
	program = tea.NewProgram(model, tea.WithAltScreen())

	logger.Info("phantomquery starting", "server", cfg.ServerURL, "socket", socketURL)
	if err := conn.Start(ctx); err != nil {
		logger.Error("live channel unavailable", "error", err)
		store.ReportError(err)
	}
	defer conn.Stop()

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("ui failed: %w", err)
	}
	logger.Info("phantomquery exiting")
	return nil
}
