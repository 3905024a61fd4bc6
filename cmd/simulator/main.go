package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/coder/quartz"
	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/sloghuman"

	"github.com/PratikDhanave/wheel-activity-tracker/internal/app"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/httpserver"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/simulator"
)

// main feeds a running tracker with synthetic sensor traffic until interrupted.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	opts := simulator.DefaultOptions()
	var (
		url     string
		apiKey  string
		timeout time.Duration
		listen  string
	)
	fs := pflag.NewFlagSet("simulator", pflag.ContinueOnError)
	fs.StringVar(&url, "url", "http://localhost:8080", "tracker base URL")
	fs.StringVar(&apiKey, "api-key", "tracker-key-123", "API key sent as X-API-Key")
	fs.DurationVar(&timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&listen, "listen", ":8081", "address of the runtime config API (empty disables it)")
	fs.IntVar(&opts.Wheels, "wheels", opts.Wheels, "number of wheels")
	fs.IntVar(&opts.SensorsPerWheel, "sensors-per-wheel", opts.SensorsPerWheel, "sensors relaying each wheel")
	fs.IntVar(&opts.Hamsters, "hamsters", opts.Hamsters, "number of hamsters")
	fs.DurationVar(&opts.Tick, "tick", opts.Tick, "simulation step")
	fs.Float64Var(&opts.EnterPerMinute, "enter-per-minute", opts.EnterPerMinute, "probability per minute that a free wheel gets a hamster (also used for leaving)")
	fs.Float64Var(&opts.FailPerMinute, "fail-per-minute", opts.FailPerMinute, "probability per minute that a sensor fails")
	fs.Float64Var(&opts.TemporaryFailShare, "temporary-fail-share", opts.TemporaryFailShare, "share of failures the sensor recovers from")
	fs.DurationVar(&opts.SpinMin, "spin-min", opts.SpinMin, "shortest spin")
	fs.DurationVar(&opts.SpinMax, "spin-max", opts.SpinMax, "longest spin")
	fs.DurationVar(&opts.RestAfterExit, "rest", opts.RestAfterExit, "rest before a hamster enters again")
	fs.IntVar(&opts.Concurrency, "concurrency", opts.Concurrency, "max in-flight requests")
	fs.Uint64Var(&opts.Seed, "seed", 0, "random seed (0 picks one)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	logger := slog.Make(sloghuman.Sink(os.Stderr))
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		logger = logger.Leveled(slog.LevelDebug)
	}

	sender := simulator.NewHTTPSender(url, apiKey, timeout)
	defer sender.Close()
	sim := simulator.New(logger.Named("simulator"), quartz.NewReal(), sender, opts)

	a := app.NewApp(logger).
		WithSignals().
		WithService("simulator", sim)
	if listen != "" {
		gin.SetMode(gin.ReleaseMode)
		r := gin.New()
		r.Use(gin.Recovery())
		simulator.RegisterRoutes(r, sim)
		a = a.WithService("http", httpserver.NewServer(logger.Named("http"), listen, r))
	}
	return a.Run(context.Background())
}
