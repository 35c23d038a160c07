package main

import (
	"context"
	"errors"
	"fmt"
	"net"
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

	"github.com/vtpl1/camrelay/agent"
	"github.com/vtpl1/camrelay/logutil"
)

const applicationName = "camrelay-agent"

func main() {
	cmd := &cli.Command{
		EnableShellCompletion: true,
		Name:                  applicationName,
		Version:               logutil.Version(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "server-url",
				Usage:    "Central server base URL, e.g. http://192.168.1.50:5000",
				Required: true,
				Sources:  cli.EnvVars("RELAY_SERVER_URL"),
			},
			&cli.StringFlag{
				Name:     "agent-name",
				Usage:    "Stable name identifying this agent to the server",
				Required: true,
				Sources:  cli.EnvVars("RELAY_AGENT_NAME"),
			},
			&cli.StringFlag{
				Name:     "shared-secret",
				Usage:    "Secret presented to the server on registration",
				Required: true,
				Sources:  cli.EnvVars("RELAY_SHARED_SECRET"),
			},
			&cli.StringFlag{
				Name:    "camera-addr",
				Value:   "192.168.2.100:80",
				Usage:   "Camera HTTP interface host:port",
				Sources: cli.EnvVars("CAMERA_ADDR"),
			},
			&cli.StringFlag{
				Name:    "camera-user",
				Value:   "admin",
				Usage:   "Camera username",
				Sources: cli.EnvVars("CAMERA_USER"),
			},
			&cli.StringFlag{
				Name:     "camera-pass",
				Usage:    "Camera password",
				Required: true,
				Sources:  cli.EnvVars("CAMERA_PASS"),
			},
			&cli.StringFlag{
				Name:  "stream-channel",
				Value: "101",
				Usage: "Camera stream channel (101=main, 102=sub)",
			},
			&cli.StringFlag{
				Name:  "camera-model",
				Value: "",
				Usage: "Camera model reported to the server",
			},
			&cli.IntFlag{
				Name:    "agent-port",
				Value:   8554,
				Usage:   "Port for the agent's local control API",
				Sources: cli.EnvVars("AGENT_PORT"),
			},
			&cli.StringFlag{
				Name:  "advertise-addr",
				Value: "",
				Usage: "host:port the server should use to reach this agent; detected when empty",
			},
			&cli.DurationFlag{
				Name:    "heartbeat-interval",
				Value:   15 * time.Second,
				Usage:   "Heartbeat period",
				Sources: cli.EnvVars("HEARTBEAT_INTERVAL"),
			},
			&cli.BoolFlag{
				Name:  "no-motion",
				Usage: "Disable motion detection",
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
		Action: startAgent,
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		log.Fatal().Err(err).Send()
	}
	fmt.Println("Agent shut down gracefully")
}

func startAgent(ctx context.Context, cmd *cli.Command) error {
	bufferedWriter, err := logutil.InitLogger(applicationName, cmd.String("logfile"), cmd.String("logLevel"))
	if err != nil {
		return err
	}
	defer bufferedWriter.Close()

	port := cmd.Int("agent-port")
	advertise := cmd.String("advertise-addr")
	if advertise == "" {
		advertise = fmt.Sprintf("%s:%d", localIP(), port)
	}

	a := agent.New(agent.Config{
		ServerURL:    cmd.String("server-url"),
		AgentName:    cmd.String("agent-name"),
		AgentAddress: advertise,
		SharedSecret: cmd.String("shared-secret"),
		Camera: agent.CameraConfig{
			Addr:    cmd.String("camera-addr"),
			User:    cmd.String("camera-user"),
			Pass:    cmd.String("camera-pass"),
			Channel: cmd.String("stream-channel"),
		},
		CameraModel:       cmd.String("camera-model"),
		HeartbeatInterval: cmd.Duration("heartbeat-interval"),
		MotionDisabled:    cmd.Bool("no-motion"),
	})

	app := fiber.New(fiber.Config{
		ServerHeader: "Videonetics",
		AppName:      fmt.Sprintf("Camera Relay Agent %v", logutil.Version()),
	})
	app.Use(fiberzerolog.New(fiberzerolog.Config{
		Logger: &log.Logger,
	}))
	a.RegisterLocalRoutes(app)

	address := fmt.Sprintf("0.0.0.0:%d", port)
	go func() {
		log.Info().Msgf("Starting agent control API at %s", address)
		if err := app.Listen(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Agent control API failed to start")
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	fatal := make(chan error, 1)
	go func() {
		fatal <- a.Run(runCtx)
	}()

	select {
	case err := <-fatal:
		if err != nil {
			log.Error().Err(err).Msg("Agent stopped")
		}
		cancel()
		return err
	case <-terminationRequest():
		log.Info().Msg("Shutting down agent...")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 5*time.Second)
	defer shutdownCancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during agent shutdown")
	}
	log.Info().Msg("Agent shut down gracefully")
	return nil
}

func terminationRequest() <-chan os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	return quit
}

// localIP finds the address the agent is reachable on from the WiFi side
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close() //nolint:errcheck
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
