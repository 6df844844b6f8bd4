package pipeline

import (
	"context"
	"fmt"
	"ticketwatch/internal/metrics"
	"ticketwatch/internal/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("internal/pipeline")

// Fetch returns the current snapshot of the event at url.
//
// Errors are reserved for invalid urls, navigation failures and
// cancellation. A page that could not be passed is a result with
// Status == StatusFailed.
func (rt *Runtime) Fetch(ctx context.Context, url string) (models.FetchResult, error) {
	res, _, err := rt.FetchWithSource(ctx, url)
	return res, err
}

// FetchWithSource is Fetch, and also reports whether the result was served
// from the snapshot cache or from a cycle started by another caller.
func (rt *Runtime) FetchWithSource(ctx context.Context, url string) (models.FetchResult, bool, error) {
	ctx, span := tracer.Start(ctx, "Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("url", url))

	eventID, err := models.ExtractEventID(url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid url")
		rt.metrics.RecordFetch(metrics.OutcomeError)
		return models.FetchResult{}, false, err
	}
	span.SetAttributes(attribute.String("event_id", eventID))

	res, cached, err := rt.cache.GetOrFetch(ctx, eventID, func(ctx context.Context) (models.FetchResult, error) {
		return rt.cycle(ctx, url, eventID)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch cycle failed")
		rt.metrics.RecordFetch(metrics.OutcomeError)
		return models.FetchResult{}, false, err
	}
	if cached {
		rt.metrics.RecordFetch(metrics.OutcomeCached)
	}
	span.SetAttributes(attribute.Bool("cached", cached))
	return res, cached, nil
}

func (rt *Runtime) cycle(ctx context.Context, url, eventID string) (models.FetchResult, error) {
	ctx, span := tracer.Start(ctx, "cycle")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, rt.opts.CycleTimeout)
	defer cancel()

	start := rt.clock.Now()
	res, attempts, err := rt.run(ctx, url, eventID)
	rt.metrics.RecordCycle(rt.clock.Now().Sub(start), attempts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.FetchResult{}, err
	}

	if !res.OK() {
		rt.metrics.RecordFetch(metrics.OutcomeFailed)
		return res, nil
	}
	rt.metrics.RecordFetch(metrics.OutcomeOK)

	err = rt.broker.Publish(ctx, eventID, res)
	if err != nil {
		rt.tel.ReportBroken("runtime.publish", err, eventID)
	}
	return res, nil
}

func (rt *Runtime) run(ctx context.Context, url, eventID string) (models.FetchResult, int, error) {
	b, err := rt.sessions.Acquire(ctx, rt.opts.SessionName)
	if err != nil {
		return models.FetchResult{}, 0, err
	}
	page, err := b.NewPage(ctx)
	if err != nil {
		return models.FetchResult{}, 0, fmt.Errorf("open page: %w", err)
	}
	if rt.opts.KeepPagesOpen {
		// left open until the next navigation closes extraneous pages
		defer page.Release()
	} else {
		defer func() {
			err := page.Close()
			if err != nil {
				rt.tel.ReportWarning("runtime.run", fmt.Errorf("close page: %w", err))
			}
		}()
	}

	capt := rt.diagnostics.ForEvent(eventID)

	// armed before navigation, the payload is usually requested while the
	// page is still loading
	pending := rt.capture.Start(page, eventID)
	defer pending.Stop()

	err = rt.navigator.Navigate(ctx, page, url, capt)
	if err != nil {
		return models.FetchResult{}, 0, err
	}

	outcome, err := rt.gate.Run(ctx, page, eventID, capt)
	if err != nil {
		return models.FetchResult{}, outcome.Attempts, err
	}
	if !outcome.Passed() {
		return models.FailedResult(eventID, outcome.Kind, outcome.Reason, rt.clock.Now()), outcome.Attempts, nil
	}

	res := models.FetchResult{
		EventID: eventID,
		Status:  models.StatusOK,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		layout, err := rt.extractor.Stadium(groupCtx, page)
		res.StadiumData = layout
		return err
	})
	group.Go(func() error {
		tickets, err := rt.extractor.Tickets(groupCtx, page)
		res.Tickets = tickets
		return err
	})
	group.Go(func() error {
		res.NetworkData = pending.Wait(groupCtx)
		return nil
	})
	err = group.Wait()
	if err != nil {
		return models.FetchResult{}, outcome.Attempts, fmt.Errorf("extract: %w", err)
	}

	if res.Tickets == nil {
		res.Tickets = []models.TicketListing{}
	}
	res.Timestamp = rt.clock.Now()
	return res, outcome.Attempts, nil
}
