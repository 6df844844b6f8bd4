package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"ticketwatch/internal/botgate"
	"ticketwatch/internal/broadcast"
	"ticketwatch/internal/browser"
	"ticketwatch/internal/capture"
	"ticketwatch/internal/components/chrono"
	"ticketwatch/internal/components/telemetry"
	"ticketwatch/internal/extract"
	"ticketwatch/internal/metrics"
	"ticketwatch/internal/monitor"
	"ticketwatch/internal/navigate"
	"ticketwatch/internal/notify"
	"ticketwatch/internal/pipeline"
	"ticketwatch/internal/server"
	"ticketwatch/internal/snapcache"
	"ticketwatch/internal/store"
	"ticketwatch/lib/configutil"
	"ticketwatch/lib/serviceutil"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func openBroker(ctx context.Context, cfg Config, tel telemetry.API) (broadcast.Broker, error) {
	if cfg.RedisURL == "" {
		return broadcast.NewHub(broadcast.DefaultBuffer, tel), nil
	}
	return broadcast.NewRedisBroker(ctx, cfg.RedisURL, tel)
}

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	configPath := flag.String("config", "config.json5", "Path to the config file.")
	pollNow := flag.Bool("poll", false, "Poll every monitored endpoint immediately on run.")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	InitTelemetry(ctx, *verbose)

	cfg, err := configutil.Load(*configPath, defaultConfig())
	if err != nil {
		serviceutil.Fatal("read config", err)
	}

	tel := telemetry.SlogAPI{}
	clock := chrono.NewStandardTime()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	database, err := store.Open(ctx, cfg.Database)
	if err != nil {
		serviceutil.Fatal("open database", err)
	}
	defer database.Close()

	broker, err := openBroker(ctx, cfg, tel)
	if err != nil {
		serviceutil.Fatal("open broker", err)
	}

	runtime := pipeline.NewRuntime(pipeline.Params{
		Options:     cfg.pipelineOptions(),
		Sessions:    browser.NewSessions(browser.ChromeLauncher(cfg.chromeOptions(), tel)),
		Cache:       snapcache.New(snapcache.DefaultSize, cfg.CacheTTL.Duration, clock),
		Broker:      broker,
		Navigator:   navigate.NewController(cfg.navigateOptions(), tel),
		Gate:        botgate.NewSequencer(cfg.gateOptions(), tel),
		Extractor:   extract.NewExtractor(cfg.extractOptions(), clock, tel),
		Capture:     capture.New(cfg.CaptureTimeout.Duration, clock, tel),
		Diagnostics: browser.NewDiagnostics(cfg.DiagnosticsDir, clock, tel),
		Clock:       clock,
		Metrics:     m,
		Telemetry:   tel,
	})
	defer func() {
		err := runtime.Close()
		if err != nil {
			slog.Warn("close runtime", "err", err)
		}
	}()

	notifiers := notify.Multi{notify.NewBrokerNotifier(broker)}
	email := notify.NewEmailNotifier(cfg.Smtp, tel)
	if email.Enabled() {
		notifiers = append(notifiers, email)
	} else {
		slog.Info("no smtp recipients configured, change emails are disabled")
	}

	service := monitor.NewService(monitor.ServiceParams{
		Store:    store.NewStore(database),
		Fetcher:  runtime,
		Notifier: notifiers,
		Clock:    clock,
		Metrics:  m,
		Tel:      tel,
	})

	cron := chrono.NewStandardCron(tel)
	poller := monitor.NewPoller(monitor.PollerParams{
		Service:  service,
		Cron:     cron,
		Interval: cfg.PollInterval.Duration,
		Clock:    clock,
		Metrics:  m,
		Tel:      tel,
	})
	err = poller.Start(ctx)
	if err != nil {
		serviceutil.Fatal(fmt.Sprintf("schedule poller every %s", cfg.PollInterval.Duration), err)
	}
	defer poller.Stop()
	if *pollNow {
		go poller.PollOnce(ctx)
	}

	srv := server.New(server.Params{
		Monitor:  service,
		Broker:   broker,
		Gatherer: registry,
		Tel:      tel,
	})
	serviceutil.StartHttpServer(ctx, cfg.Port, srv.Handler())
}
