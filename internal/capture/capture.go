// Package capture listens to the network traffic of a page for the JSON
// payload the marketplace loads for an event.
package capture

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"ticketwatch/internal/browser"
	"ticketwatch/internal/components/chrono"
	"ticketwatch/internal/components/telemetry"
	"ticketwatch/internal/models"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("internal/capture")

const DefaultTimeout = 10 * time.Second

type Capture struct {
	timeout time.Duration
	clock   chrono.TimeAPI
	tel     telemetry.API
}

func New(timeout time.Duration, clock chrono.TimeAPI, tel telemetry.API) Capture {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return Capture{
		timeout: timeout,
		clock:   clock,
		tel:     telemetry.NewScopedAPI("capture", tel),
	}
}

// Pending is an armed capture. The page listener is removed as soon as a
// payload is captured, or when Wait returns or Stop is called.
type Pending struct {
	parent  Capture
	eventID string

	found    chan *models.NetworkSnapshot
	captured atomic.Bool
	cancel   context.CancelFunc
	detach func()
	once   sync.Once
}

// Start registers a response listener on page that resolves with the first
// async data response whose url mentions eventID and whose body is JSON.
func (c Capture) Start(page browser.Page, eventID string) *Pending {
	bodyCtx, cancel := context.WithCancel(context.Background())
	p := &Pending{
		parent:  c,
		eventID: eventID,
		found:   make(chan *models.NetworkSnapshot, 1),
		cancel:  cancel,
	}

	p.detach = page.OnResponse(func(res browser.Response) {
		if p.captured.Load() {
			return
		}
		if !res.IsAsyncData() || !strings.Contains(res.URL, eventID) || res.Body == nil {
			return
		}
		body, err := res.Body(bodyCtx)
		if err != nil {
			if bodyCtx.Err() == nil {
				c.tel.ReportWarning("pending.listen", err, res.URL)
			}
			return
		}
		if !json.Valid(body) {
			c.tel.ReportDebug("ignored non json response", "url", res.URL)
			return
		}

		snapshot := &models.NetworkSnapshot{
			EventID:    eventID,
			URL:        res.URL,
			Payload:    json.RawMessage(body),
			CapturedAt: c.clock.Now(),
		}
		if !p.captured.CompareAndSwap(false, true) {
			return
		}
		p.found <- snapshot
		p.Stop()
	})
	return p
}

// Stop removes the page listener. It is safe to call more than once.
func (p *Pending) Stop() {
	p.once.Do(func() {
		p.cancel()
		p.detach()
	})
}

// Wait returns the captured payload, or nil when nothing matched before the
// capture timeout or ctx ended.
func (p *Pending) Wait(ctx context.Context) *models.NetworkSnapshot {
	defer p.Stop()

	_, span := tracer.Start(ctx, "Wait")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", p.eventID))

	timer := time.NewTimer(p.parent.timeout)
	defer timer.Stop()

	select {
	case snapshot := <-p.found:
		span.SetAttributes(attribute.String("url", snapshot.URL))
		return snapshot
	case <-timer.C:
		p.parent.tel.ReportDebug("no network payload before timeout", "event_id", p.eventID)
		return nil
	case <-ctx.Done():
		return nil
	}
}

// Payload is Start followed by Wait.
func (c Capture) Payload(ctx context.Context, page browser.Page, eventID string) *models.NetworkSnapshot {
	return c.Start(page, eventID).Wait(ctx)
}
