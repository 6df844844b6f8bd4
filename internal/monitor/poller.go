package monitor

import (
	"context"
	"sync/atomic"
	"ticketwatch/internal/components/chrono"
	"ticketwatch/internal/components/telemetry"
	"ticketwatch/internal/metrics"
	"time"
)

const DefaultPollInterval = 5 * time.Second

// Poller refreshes every monitored endpoint on a schedule. Endpoints are
// refreshed one after the other, and a tick that arrives while a poll is
// still running is dropped.
type Poller struct {
	service  *Service
	cron     chrono.CronAPI
	interval time.Duration
	clock    chrono.TimeAPI
	metrics  *metrics.Metrics
	tel      telemetry.API

	inProgress atomic.Bool
}

type PollerParams struct {
	Service  *Service
	Cron     chrono.CronAPI
	Interval time.Duration
	Clock    chrono.TimeAPI
	Metrics  *metrics.Metrics
	Tel      telemetry.API
}

func NewPoller(p PollerParams) *Poller {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		service:  p.Service,
		cron:     p.Cron,
		interval: interval,
		clock:    p.Clock,
		metrics:  p.Metrics,
		tel:      telemetry.NewScopedAPI("monitor", p.Tel),
	}
}

// PollOnce refreshes every endpoint. It returns false without doing
// anything if another poll is in progress.
func (p *Poller) PollOnce(ctx context.Context) bool {
	if !p.inProgress.CompareAndSwap(false, true) {
		p.metrics.PollsSkipped.Inc()
		p.tel.ReportDebug("poll skipped, previous poll still running")
		return false
	}
	defer p.inProgress.Store(false)

	start := p.clock.Now()
	defer func() {
		p.metrics.PollSeconds.Observe(p.clock.Now().Sub(start).Seconds())
	}()

	endpoints, err := p.service.List(ctx)
	if err != nil {
		p.tel.ReportBroken("poller.poll", err)
		return true
	}
	p.tel.ReportCount("poller.endpoints", int64(len(endpoints)))

	for _, endpoint := range endpoints {
		if ctx.Err() != nil {
			return true
		}
		res, err := p.service.Refresh(ctx, endpoint.URL)
		if err != nil {
			p.metrics.RefreshErrors.Inc()
			p.tel.ReportWarning("poller.poll", err, endpoint.URL)
			continue
		}
		if !res.Result.OK() && res.Result.Failure != nil {
			p.tel.ReportWarning("poller.poll", "fetch failed", endpoint.URL, res.Result.Failure.Reason)
		}
	}
	return true
}

// Start schedules PollOnce every interval until Stop.
func (p *Poller) Start(ctx context.Context) error {
	return p.cron.Every(p.interval, func() {
		p.PollOnce(ctx)
	})
}

func (p *Poller) Stop() {
	p.cron.Stop()
}
