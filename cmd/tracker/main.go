package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"golang.org/x/xerrors"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/sloghuman"

	"github.com/PratikDhanave/wheel-activity-tracker/internal/app"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/config"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/dispatcher"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/finalizer"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/httpserver"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/ingress"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/metrics"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/monitor"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/notify"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/report"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/retention"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/state"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/store"
)

// main boots the tracker: config → DB → schema → live state → services.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flagSet := pflag.NewFlagSet("tracker", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "YAML config file (default: $TRACKER_CONFIG)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	logger := slog.Make(sloghuman.Sink(os.Stderr))
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		logger = logger.Leveled(slog.LevelDebug)
	}
	ctx := context.Background()

	cfg, err := config.Load(configPath)
	if err != nil {
		return xerrors.Errorf("load config: %w", err)
	}

	// Connect to durable storage (Postgres) using a connection pool.
	db, err := store.NewPostgresStore(cfg.DBURL)
	if err != nil {
		return xerrors.Errorf("connect database: %w", err)
	}
	defer db.Close()

	// Ensure required tables exist so `docker compose up --build` is enough.
	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	clk := quartz.NewReal()
	live := state.NewStore()
	bus := ingress.New(logger.Named("ingress"), clk, m)
	sub, err := bus.Subscribe("dispatcher", cfg.IngressBuffer)
	if err != nil {
		return err
	}

	alerts, err := notifier(logger, cfg)
	if err != nil {
		return err
	}
	defer alerts.Wait()

	disp := dispatcher.New(logger.Named("dispatcher"), live, sub, m, dispatcher.Options{
		Workers:       cfg.Workers,
		DedupWindow:   cfg.DedupWindow(),
		RoundDuration: cfg.RoundDuration(),
		Location:      cfg.Location,
	})
	mon := monitor.New(logger.Named("monitor"), clk, live, alerts, m, monitor.Options{
		Interval:         cfg.MonitorInterval(),
		HamsterThreshold: cfg.HamsterInactivity(),
		SensorThreshold:  cfg.SensorInactivity(),
		Location:         cfg.Location,
	})
	fin := finalizer.New(logger.Named("finalizer"), clk, live, db, m, finalizer.Options{
		Schedule:        cfg.ExportCron,
		Location:        cfg.Location,
		DaysBack:        cfg.ExportDaysBack,
		ActiveThreshold: cfg.ActiveThreshold,
	})
	reports := report.NewService(clk, live, db, cfg.Location, cfg.ActiveThreshold)

	router := httpserver.NewRouter(httpserver.Options{
		Logger:    logger.Named("http"),
		APIKeys:   cfg.APIKeys,
		DB:        db,
		Bus:       bus,
		Reports:   reports,
		Gatherer:  reg,
		TapBuffer: cfg.TapBuffer,
	})
	server := httpserver.NewServer(logger.Named("http"), cfg.Addr, router)

	return app.NewApp(logger).
		WithSignals().
		WithService("http", app.ServiceFunc(func(ctx context.Context) error {
			// No more producers once the server is down; closing the bus lets
			// the dispatcher drain what is queued and exit.
			defer bus.Close()
			return server.Run(ctx)
		})).
		WithService("dispatcher", app.Detached(disp)).
		WithService("monitor", mon).
		WithService("finalizer", fin).
		WithService("retention", app.Closer(func(ctx context.Context) io.Closer {
			return retention.New(ctx, logger.Named("retention"), clk, live, m, cfg.CleanupInterval(), cfg.DedupRetention())
		})).
		Run(ctx)
}

func notifier(logger slog.Logger, cfg config.Config) (*notify.Async, error) {
	channels := notify.Multi{notify.NewLog(logger.Named("alerts"))}
	if cfg.SMTP.Smarthost != "" {
		mail, err := notify.NewSMTP(notify.SMTPConfig{
			Smarthost: cfg.SMTP.Smarthost,
			From:      cfg.SMTP.From,
			To:        cfg.SMTP.To,
			Username:  cfg.SMTP.Username,
			Password:  cfg.SMTP.Password,
		})
		if err != nil {
			return nil, xerrors.Errorf("smtp alerts: %w", err)
		}
		channels = append(channels, mail)
	}
	return notify.NewAsync(logger.Named("alerts"), channels, 10*time.Second), nil
}
