// Package monitor keeps the stored snapshot of every monitored endpoint up
// to date and records what changed between fetches.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"ticketwatch/internal/changes"
	"ticketwatch/internal/components/chrono"
	"ticketwatch/internal/components/telemetry"
	"ticketwatch/internal/metrics"
	"ticketwatch/internal/models"
	"ticketwatch/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("internal/monitor")

// Fetcher runs (or reuses) a fetch cycle for an event page.
//
// note: fault injection point
type Fetcher interface {
	FetchWithSource(ctx context.Context, url string) (result models.FetchResult, cached bool, err error)
}

// Notifier is told about every non empty set of changes.
type Notifier interface {
	NotifyChanges(ctx context.Context, endpoint models.MonitoredEndpoint, changes []models.ChangeEvent) error
}

type Service struct {
	store    store.Store
	fetcher  Fetcher
	notifier Notifier
	clock    chrono.TimeAPI
	metrics  *metrics.Metrics
	tel      telemetry.API

	// one refresh per url at a time, the change log is read, extended and
	// written back
	locks sync.Map
}

type ServiceParams struct {
	Store    store.Store
	Fetcher  Fetcher
	Notifier Notifier
	Clock    chrono.TimeAPI
	Metrics  *metrics.Metrics
	Tel      telemetry.API
}

func NewService(p ServiceParams) *Service {
	return &Service{
		store:    p.Store,
		fetcher:  p.Fetcher,
		notifier: p.Notifier,
		clock:    p.Clock,
		metrics:  p.Metrics,
		tel:      telemetry.NewScopedAPI("monitor", p.Tel),
	}
}

func (s *Service) lock(url string) func() {
	value, _ := s.locks.LoadOrStore(url, &sync.Mutex{})
	mutex := value.(*sync.Mutex)
	mutex.Lock()
	return mutex.Unlock
}

// Add starts monitoring url. Adding the same url again returns the existing
// endpoint.
func (s *Service) Add(ctx context.Context, url string) (models.MonitoredEndpoint, bool, error) {
	eventID, err := models.ExtractEventID(url)
	if err != nil {
		return models.MonitoredEndpoint{}, false, err
	}
	endpoint, created, err := s.store.Create(ctx, url, eventID, s.clock.Now())
	if err != nil {
		return models.MonitoredEndpoint{}, false, err
	}
	if created {
		s.tel.ReportDebug("added endpoint", "url", url, "event_id", eventID)
	}
	return endpoint, created, nil
}

func (s *Service) List(ctx context.Context) ([]models.MonitoredEndpoint, error) {
	return s.store.List(ctx)
}

func (s *Service) Remove(ctx context.Context, url string) error {
	return s.store.Delete(ctx, url)
}

// Changes returns the change log of the endpoint monitoring eventID, oldest
// first.
func (s *Service) Changes(ctx context.Context, eventID string) ([]models.ChangeEvent, error) {
	endpoint, err := s.store.GetByEventID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return endpoint.Changes, nil
}

type RefreshResult struct {
	Result models.FetchResult `json:"result"`
	// Changes are the changes this refresh added to the log.
	Changes []models.ChangeEvent `json:"changes"`
	// Cached is true when the result came from the snapshot cache and
	// nothing was persisted.
	Cached bool `json:"cached"`
}

// Fetch adds url if needed and refreshes it.
func (s *Service) Fetch(ctx context.Context, url string) (RefreshResult, error) {
	_, _, err := s.Add(ctx, url)
	if err != nil {
		return RefreshResult{}, err
	}
	return s.Refresh(ctx, url)
}

// Refresh fetches the endpoint at url. A fresh successful result is diffed
// against the stored tickets, the changes are appended to the bounded change
// log and the snapshot is written back. Cached and failed results are
// returned as is.
func (s *Service) Refresh(ctx context.Context, url string) (RefreshResult, error) {
	ctx, span := tracer.Start(ctx, "Refresh")
	defer span.End()
	span.SetAttributes(attribute.String("url", url))

	res, cached, err := s.fetcher.FetchWithSource(ctx, url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return RefreshResult{}, err
	}
	out := RefreshResult{Result: res, Changes: []models.ChangeEvent{}, Cached: cached}
	if cached || !res.OK() {
		return out, nil
	}

	unlock := s.lock(url)
	defer unlock()

	endpoint, err := s.store.Get(ctx, url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load endpoint")
		return RefreshResult{}, err
	}

	var prior []models.TicketListing
	if endpoint.Metadata.FetchCount > 0 {
		prior = endpoint.Tickets
		if prior == nil {
			prior = []models.TicketListing{}
		}
	}
	found := changes.Diff(prior, res.Tickets, res.Timestamp)

	now := s.clock.Now()
	completed := res.Timestamp
	endpoint.LastChecked = &now
	endpoint.Tickets = res.Tickets
	endpoint.Stadium = res.StadiumData
	endpoint.Changes = models.AppendChanges(endpoint.Changes, found, models.MaxChanges)
	endpoint.Metadata.FetchCount++
	endpoint.Metadata.LastSuccessfulFetch = &completed
	if res.NetworkData != nil {
		endpoint.Metadata.LastNetworkSnapshot = res.NetworkData
	}

	err = s.store.SaveSnapshot(ctx, endpoint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save snapshot")
		return RefreshResult{}, fmt.Errorf("save snapshot: %w", err)
	}

	for _, change := range found {
		s.metrics.RecordChange(string(change.Type))
	}
	span.SetAttributes(attribute.Int("changes", len(found)))

	if len(found) > 0 && s.notifier != nil {
		err = s.notifier.NotifyChanges(ctx, endpoint, found)
		if err != nil {
			s.tel.ReportBroken("service.refresh", fmt.Errorf("notify: %w", err), url)
		}
	}

	out.Changes = found
	return out, nil
}
