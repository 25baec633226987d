package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/craftops/craftops/internal/config"
	"github.com/craftops/craftops/internal/mcping"
	"github.com/craftops/craftops/internal/mcstatus"
	"github.com/craftops/craftops/internal/server"
	"github.com/craftops/craftops/internal/vm"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var (
	version   string
	buildDate string
	gitCommit string
	gitBranch string
)

const shutdownTimeout = 5 * time.Second

func prepareLogger(level string, json bool) *logrus.Entry {
	logger := logrus.New()
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)
	if json {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logrus.NewEntry(logger)
}

func run(c *cli.Context) error {
	cfg := config.NewConfig(c)
	log := prepareLogger(c.String("log-level"), c.Bool("json"))
	if cfg.DevelopMode {
		log = prepareLogger("debug", false)
	}
	log.WithFields(logrus.Fields{
		"version":    version,
		"build-date": buildDate,
		"git-commit": gitCommit,
		"git-branch": gitBranch,
	}).Info("starting craftops")

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager, err := vm.NewGCPManager(ctx, log, cfg.Project, cfg.OperationTimeout)
	if err != nil {
		return errors.Wrap(err, "failed to create instance manager")
	}
	aggregator := mcstatus.New(manager, mcping.New(cfg.ProbeTimeout), cfg.ProbePort, log)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.New(manager, aggregator, log).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("address", cfg.ListenAddress).Info("listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err = <-errCh:
		return errors.Wrap(err, "http server failed")
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err = httpSrv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "failed to shut down http server")
	}
	log.Info("craftops stopped")
	return nil
}

func main() {
	app := &cli.App{
		Name:  "craftops",
		Usage: "HTTP control surface for a game server VM on Compute Engine",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run craftops",
				Action: run,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "listen-address",
						Usage:    "address the HTTP server binds to",
						Value:    ":8080",
						EnvVars:  []string{"LISTEN_ADDRESS"},
						Category: "Server",
					},
					&cli.StringFlag{
						Name:     "project",
						Usage:    "name of the GCP project (resolved from the metadata server when empty)",
						EnvVars:  []string{"PROJECT"},
						Category: "Compute",
					},
					&cli.DurationFlag{
						Name:     "operation-timeout",
						Usage:    "maximum time to wait for a compute operation to complete",
						Value:    10 * time.Minute,
						EnvVars:  []string{"OPERATION_TIMEOUT"},
						Category: "Compute",
					},
					&cli.IntFlag{
						Name:     "probe-port",
						Usage:    "game server query port",
						Value:    mcping.DefaultPort,
						EnvVars:  []string{"PROBE_PORT"},
						Category: "Probe",
					},
					&cli.DurationFlag{
						Name:     "probe-timeout",
						Usage:    "maximum time for a single game server probe",
						Value:    5 * time.Second,
						EnvVars:  []string{"PROBE_TIMEOUT"},
						Category: "Probe",
					},
					&cli.BoolFlag{
						Name:     "develop-mode",
						Usage:    "enable develop mode",
						EnvVars:  []string{"DEV_MODE"},
						Category: "Logging",
					},
					&cli.StringFlag{
						Name:     "log-level",
						Usage:    "set log level (debug, info, warning, error, fatal, panic)",
						Value:    "info",
						EnvVars:  []string{"LOG_LEVEL"},
						Category: "Logging",
					},
					&cli.BoolFlag{
						Name:     "json",
						Usage:    "produce log in JSON format",
						EnvVars:  []string{"LOG_JSON"},
						Category: "Logging",
					},
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("craftops failed")
	}
}
