package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lcalzada-xor/vulnintel/internal/app"
	"github.com/lcalzada-xor/vulnintel/internal/config"
	"github.com/lcalzada-xor/vulnintel/internal/telemetry"
	"github.com/spf13/cobra"
)

// globalFlags override the loaded configuration when set on the command line.
type globalFlags struct {
	configPath string
	debug      bool
	dbPath     string
	traceFile  string
}

type cli struct {
	flags          globalFlags
	cfg            *config.Config
	shutdownTracer func(context.Context) error
	traceOut       io.Closer
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "vulnintel",
		Short:         "Vulnerability intelligence aggregation and assessment",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return c.teardown()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&c.flags.configPath, "config", "c", os.Getenv("VULNINTEL_CONFIG"), "Path to YAML config file")
	pf.BoolVar(&c.flags.debug, "debug", false, "Enable verbose debug logging")
	pf.StringVar(&c.flags.dbPath, "db", "", "Path to SQLite database")
	pf.StringVar(&c.flags.traceFile, "trace-file", "", "Write OpenTelemetry spans to this file")

	root.AddCommand(
		newIngestCmd(c),
		newSeedCmd(c),
		newAssessCmd(c),
		newResumeCmd(c),
		newCoverageCmd(c),
		newServeCmd(c),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(c.flags.configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("debug") {
		cfg.Debug = c.flags.debug
	}
	if flags.Changed("db") {
		cfg.DBPath = c.flags.dbPath
	}
	c.cfg = cfg

	// Setup Structured Logging
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Initialize Tracing
	var traceOut io.Writer = io.Discard
	if c.flags.traceFile != "" {
		f, err := os.Create(c.flags.traceFile)
		if err != nil {
			return fmt.Errorf("failed to open trace file: %w", err)
		}
		c.traceOut = f
		traceOut = f
	}
	shutdown, err := telemetry.InitTracer(traceOut)
	if err != nil {
		slog.Error("Failed to init tracer", "error", err)
		return nil
	}
	c.shutdownTracer = shutdown
	return nil
}

func (c *cli) teardown() error {
	if c.shutdownTracer != nil {
		if err := c.shutdownTracer(context.Background()); err != nil {
			slog.Error("Failed to shutdown tracer", "error", err)
		}
	}
	if c.traceOut != nil {
		return c.traceOut.Close()
	}
	return nil
}

// withApp bootstraps the application for one command and closes it after.
func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, application *app.Application) error) error {
	ctx := cmd.Context()

	application, err := app.New(ctx, c.cfg)
	if err != nil {
		slog.Error("Failed to initialize application", "error", err)
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			slog.Error("Failed to release resources", "error", err)
		}
	}()

	if err := fn(ctx, application); err != nil {
		slog.Error("Command failed", "command", cmd.Name(), "error", err)
		return err
	}
	return nil
}
