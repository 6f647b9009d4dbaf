package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/sensordash/internal/api"
	"codeberg.org/mutker/sensordash/internal/config"
	"codeberg.org/mutker/sensordash/internal/errors"
	"codeberg.org/mutker/sensordash/internal/history"
	"codeberg.org/mutker/sensordash/internal/logger"
	"codeberg.org/mutker/sensordash/internal/metrics"
	"codeberg.org/mutker/sensordash/internal/observability"
	"codeberg.org/mutker/sensordash/internal/pid"
	"codeberg.org/mutker/sensordash/internal/session"
	"codeberg.org/mutker/sensordash/internal/status"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

const shutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// A missing .env is normal; anything else is worth mentioning.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())
	logger.Debug().Msg("Config loaded")
	log := logger.Default()

	pidPath := pid.Path(cfg.PIDFile)
	if err := pid.Write(pidPath); err != nil {
		logError(err, "Failed to write PID file")
		return 1
	}
	defer func() {
		if err := pid.Remove(pidPath); err != nil {
			logError(err, "Failed to remove PID file")
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	recorder, err := metrics.NewService(recorderConfig(cfg), log)
	if err != nil {
		logError(err, "Failed to initialize sample recorder")
		return 1
	}
	defer func() {
		if err := recorder.Close(); err != nil {
			logError(err, "Failed to close sample recorder")
		}
	}()

	obs := observability.NewPromObs(nil, nil)
	buf := history.New(history.DefaultCapacity)
	obs.TrackHistory(buf)

	reporter := status.NewReporter()
	reporter.Subscribe(obs)
	reporter.Subscribe(status.Funcs{Notice: logNotice})

	sess := session.New(session.Options{
		History:  buf,
		Reporter: reporter,
		Logger:   log,
		Metrics:  obs,
	})
	sess.AddRenderer(&consoleRenderer{log: log.With("console"), debug: cfg.Debug, verbose: cfg.Verbose})
	sess.AddRenderer(metrics.AsRenderer(context.Background(), recorder, log))

	var server *api.Server
	if cfg.Listen != "" {
		server = api.New(sess, api.Options{
			Addr:     cfg.Listen,
			WebRoot:  cfg.WebRoot,
			Defaults: cfg.Session(),
			Metrics:  obs.Handler(),
			Logger:   log,
		})
		go func() {
			if err := server.ListenAndServe(); err != nil {
				logError(err, "Dashboard API stopped")
				cancel()
			}
		}()
	}

	if cfg.Autostart {
		// Start failures are already reported as notices.
		if err := sess.Start(ctx, cfg.Session()); err != nil {
			logger.Debug().Err(err).Msg("Autostart skipped")
		}
	} else {
		logger.Info().Msg("Waiting for a start request")
	}

	<-ctx.Done()
	logger.Info().Msg("Received termination signal.")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logError(err, "Failed to shut down dashboard API")
		}
	}
	if err := sess.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Session did not stop in time")
	}

	logger.Info().Msg("Exiting...")

	return 0
}

func recorderConfig(cfg *config.Config) metrics.Config {
	return metrics.Config{
		Backend:      metrics.Backend(cfg.Recorder.Backend),
		DBPath:       cfg.Recorder.DBPath,
		BatchSize:    cfg.Recorder.BatchSize,
		BatchTimeout: cfg.Recorder.BatchTimeout,
		InfluxURL:    cfg.Recorder.InfluxURL,
		InfluxToken:  cfg.Recorder.InfluxToken,
		InfluxOrg:    cfg.Recorder.InfluxOrg,
		InfluxBucket: cfg.Recorder.InfluxBucket,
	}
}

func logNotice(n status.Notice) {
	if n.Severity == status.SeverityError {
		logger.Warn().Msg(n.Message)
		return
	}
	logger.Info().Msg(n.Message)
}

func logError(err error, msg string) {
	var e errors.Error
	if errors.As(err, &e) {
		logger.ErrorWithCode(e).Msg(msg)
		return
	}
	logger.Error().Err(err).Msg(msg)
}
