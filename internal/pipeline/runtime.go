// Package pipeline runs a fetch cycle for an event page and owns every
// resource shared between cycles.
package pipeline

import (
	"ticketwatch/internal/botgate"
	"ticketwatch/internal/broadcast"
	"ticketwatch/internal/browser"
	"ticketwatch/internal/capture"
	"ticketwatch/internal/components/chrono"
	"ticketwatch/internal/components/telemetry"
	"ticketwatch/internal/extract"
	"ticketwatch/internal/metrics"
	"ticketwatch/internal/navigate"
	"ticketwatch/internal/snapcache"
	"time"
)

const DefaultSessionName = "default"

type Options struct {
	// SessionName is the browser every cycle runs in.
	SessionName string
	// CycleTimeout bounds a whole fetch cycle, retries included.
	CycleTimeout time.Duration
	// KeepPagesOpen leaves pages open after a cycle for inspection.
	KeepPagesOpen bool
}

func DefaultOptions() Options {
	return Options{
		SessionName:  DefaultSessionName,
		CycleTimeout: 3 * time.Minute,
	}
}

// Runtime is created once at process start and closed at shutdown.
type Runtime struct {
	opts Options

	sessions    *browser.Sessions
	cache       *snapcache.Cache
	broker      broadcast.Broker
	navigator   navigate.Controller
	gate        *botgate.Sequencer
	extractor   extract.Extractor
	capture     capture.Capture
	diagnostics browser.Diagnostics
	clock       chrono.TimeAPI
	metrics     *metrics.Metrics
	tel         telemetry.API
}

type Params struct {
	Options     Options
	Sessions    *browser.Sessions
	Cache       *snapcache.Cache
	Broker      broadcast.Broker
	Navigator   navigate.Controller
	Gate        *botgate.Sequencer
	Extractor   extract.Extractor
	Capture     capture.Capture
	Diagnostics browser.Diagnostics
	Clock       chrono.TimeAPI
	Metrics     *metrics.Metrics
	Telemetry   telemetry.API
}

func NewRuntime(p Params) *Runtime {
	opts := p.Options
	if opts.SessionName == "" {
		opts.SessionName = DefaultSessionName
	}
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = DefaultOptions().CycleTimeout
	}
	return &Runtime{
		opts:        opts,
		sessions:    p.Sessions,
		cache:       p.Cache,
		broker:      p.Broker,
		navigator:   p.Navigator,
		gate:        p.Gate,
		extractor:   p.Extractor,
		capture:     p.Capture,
		diagnostics: p.Diagnostics,
		clock:       p.Clock,
		metrics:     p.Metrics,
		tel:         telemetry.NewScopedAPI("pipeline", p.Telemetry),
	}
}

func (rt *Runtime) Broker() broadcast.Broker {
	return rt.broker
}

func (rt *Runtime) Cache() *snapcache.Cache {
	return rt.cache
}

// Close disposes the browsers and the broker.
func (rt *Runtime) Close() error {
	sessionsErr := rt.sessions.Close()
	brokerErr := rt.broker.Close()
	if sessionsErr != nil {
		return sessionsErr
	}
	return brokerErr
}
