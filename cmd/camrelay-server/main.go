package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/contrib/fiberzerolog"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/vtpl1/camrelay/api"
	"github.com/vtpl1/camrelay/db"
	"github.com/vtpl1/camrelay/eventlog"
	"github.com/vtpl1/camrelay/logutil"
	"github.com/vtpl1/camrelay/recorder"
	"github.com/vtpl1/camrelay/registry"
	"github.com/vtpl1/camrelay/retention"
	"github.com/vtpl1/camrelay/store"
)

const applicationName = "camrelay-server"

func main() {
	cmd := &cli.Command{
		EnableShellCompletion: true,
		Name:                  applicationName,
		Version:               logutil.Version(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Value: "0.0.0.0",
				Usage: "The host address for the server",
			},
			&cli.IntFlag{
				Name:    "port",
				Value:   5000,
				Usage:   "The port number for the server",
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "recordings-dir",
				Value:   "recordings",
				Usage:   "Directory holding per-camera recording segments",
				Sources: cli.EnvVars("RECORDINGS_DIR"),
			},
			&cli.IntFlag{
				Name:    "max-age-hours",
				Value:   48,
				Usage:   "Rolling retention window in hours",
				Sources: cli.EnvVars("MAX_AGE_HOURS"),
			},
			&cli.DurationFlag{
				Name:    "segment-duration",
				Value:   5 * time.Minute,
				Usage:   "Wall-clock rotation boundary for recording segments",
				Sources: cli.EnvVars("SEGMENT_DURATION"),
			},
			&cli.DurationFlag{
				Name:    "heartbeat-interval",
				Value:   15 * time.Second,
				Usage:   "Expected agent heartbeat interval; liveness timeout is three misses",
				Sources: cli.EnvVars("HEARTBEAT_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "sweep-interval",
				Value:   15 * time.Minute,
				Usage:   "Retention sweep interval",
				Sources: cli.EnvVars("SWEEP_INTERVAL"),
			},
			&cli.StringFlag{
				Name:     "shared-secret",
				Usage:    "Secret agents must present to register",
				Required: true,
				Sources:  cli.EnvVars("RELAY_SHARED_SECRET"),
			},
			&cli.StringFlag{
				Name:    "mongo-connection-string",
				Value:   "",
				Usage:   "MongoDB connection string; empty keeps metadata in memory",
				Sources: cli.EnvVars("MONGO_CONNECTION_STRING"),
			},
			&cli.StringFlag{
				Name:  "logfile",
				Value: fmt.Sprintf("%s.log", filepath.Join(logutil.GetLogFolder(applicationName), applicationName)),
				Usage: "The log file path for the rotating logger",
			},
			&cli.StringFlag{
				Name:  "logLevel",
				Value: "debug",
				Usage: "The log level",
			},
		},
		Action: startServer,
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		log.Fatal().Err(err).Send()
	}
	fmt.Println("Server shut down gracefully")
}

func startServer(ctx context.Context, cmd *cli.Command) error {
	bufferedWriter, err := logutil.InitLogger(applicationName, cmd.String("logfile"), cmd.String("logLevel"))
	if err != nil {
		return err
	}
	defer bufferedWriter.Close()

	address := fmt.Sprintf("%s:%d", cmd.String("host"), cmd.Int("port"))
	recordingsDir := cmd.String("recordings-dir")
	maxAge := time.Duration(cmd.Int("max-age-hours")) * time.Hour
	if err := os.MkdirAll(recordingsDir, 0o755); err != nil {
		return fmt.Errorf("create recordings directory: %w", err)
	}

	var st store.Store
	if conn := cmd.String("mongo-connection-string"); conn != "" {
		mongoClient, err := db.GetMongoClient(ctx, conn)
		if err != nil {
			return fmt.Errorf("connect to MongoDB: %w", err)
		}
		defer mongoClient.Disconnect(ctx) //nolint:errcheck
		st = store.NewMongoStore(mongoClient)
	} else {
		log.Warn().Msg("No MongoDB connection string, metadata is in-memory only")
		st = store.NewMemStore()
	}

	events := eventlog.New(st, 0)
	defer events.Close()

	reg := registry.New(st, events, registry.Config{
		SharedSecret:      cmd.String("shared-secret"),
		HeartbeatInterval: cmd.Duration("heartbeat-interval"),
	})
	reg.Start(10 * time.Second)
	defer reg.Stop()

	manager := recorder.NewManager(recordingsDir, cmd.Duration("segment-duration"), st, events)
	if err := manager.FinalizeOrphans(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to finalize orphaned segments")
	}
	runCtx, cancelRun := context.WithCancel(ctx)
	go manager.Run(runCtx, reg.Changes())

	sweeper := retention.New(st, events, recordingsDir, maxAge)
	sweeper.Start(cmd.Duration("sweep-interval"))
	defer sweeper.Stop()

	app := fiber.New(fiber.Config{
		ServerHeader: "Videonetics",
		AppName:      fmt.Sprintf("Camera Relay Server %v", logutil.Version()),
	})
	app.Use(fiberzerolog.New(fiberzerolog.Config{
		Logger: &log.Logger,
	}))
	api.NewServer(reg, manager, events, st, cmd.String("shared-secret")).RegisterRoutes(app)

	go func() {
		log.Info().Msgf("Starting server at %s", address)
		if err := app.Listen(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()
	waitForTerminationRequest()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	log.Info().Msg("Starting shutdown")
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during server shutdown")
	}
	// Stops all pipelines, finalizing open segments.
	cancelRun()
	manager.StopAll()
	log.Info().Msg("Server shut down gracefully")
	return nil
}

// waitForTerminationRequest handles termination signals to gracefully shut down the server.
func waitForTerminationRequest() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info().Msg("Shutting down server...")
}
