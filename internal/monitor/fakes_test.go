package monitor

import (
	"context"
	"sync"
	"testing"
	"ticketwatch/internal/components/chrono"
	"ticketwatch/internal/components/telemetry"
	"ticketwatch/internal/metrics"
	"ticketwatch/internal/models"
	"ticketwatch/internal/store"
	"ticketwatch/internal/store/db"
	"ticketwatch/lib/testutil"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type fetchReply struct {
	result models.FetchResult
	cached bool
	err    error
}

type fakeFetcher struct {
	lock    sync.Mutex
	replies map[string][]fetchReply
	calls   []string

	// gate, when set, blocks every fetch until it is closed
	gate    chan struct{}
	started chan string

	active    int
	maxActive int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{replies: make(map[string][]fetchReply)}
}

func (f *fakeFetcher) queue(url string, replies ...fetchReply) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.replies[url] = append(f.replies[url], replies...)
}

func (f *fakeFetcher) FetchWithSource(ctx context.Context, url string) (models.FetchResult, bool, error) {
	f.lock.Lock()
	f.calls = append(f.calls, url)
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	var reply fetchReply
	queued := f.replies[url]
	if len(queued) > 0 {
		reply = queued[0]
		f.replies[url] = queued[1:]
	}
	gate := f.gate
	started := f.started
	f.lock.Unlock()

	if started != nil {
		started <- url
	}
	if gate != nil {
		<-gate
	}

	f.lock.Lock()
	f.active--
	f.lock.Unlock()
	return reply.result, reply.cached, reply.err
}

func (f *fakeFetcher) Calls() []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]string(nil), f.calls...)
}

type notification struct {
	endpoint models.MonitoredEndpoint
	changes  []models.ChangeEvent
}

type fakeNotifier struct {
	lock          sync.Mutex
	notifications []notification
}

func (n *fakeNotifier) NotifyChanges(ctx context.Context, endpoint models.MonitoredEndpoint, changes []models.ChangeEvent) error {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.notifications = append(n.notifications, notification{endpoint: endpoint, changes: changes})
	return nil
}

type fakeCron struct {
	interval time.Duration
	callback func()
	stopped  bool
}

func (c *fakeCron) Every(interval time.Duration, callback func()) error {
	c.interval = interval
	c.callback = callback
	return nil
}

func (c *fakeCron) Stop() {
	c.stopped = true
}

type fixture struct {
	service  *Service
	store    store.Store
	fetcher  *fakeFetcher
	notifier *fakeNotifier
	metrics  *metrics.Metrics
	rec      *telemetry.Recorder
	clock    chrono.TimeAPI
}

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func setup(t testing.TB) fixture {
	res, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "internal/monitor",
		DbSchema: db.Schema,
	})
	t.Cleanup(cleanup)

	st := store.NewStore(res.DB)
	fetcher := newFakeFetcher()
	notifier := &fakeNotifier{}
	m := metrics.New(prometheus.NewRegistry())
	rec := telemetry.NewRecorder()
	clock := chrono.FixedTime{At: now}

	return fixture{
		service: NewService(ServiceParams{
			Store:    st,
			Fetcher:  fetcher,
			Notifier: notifier,
			Clock:    clock,
			Metrics:  m,
			Tel:      rec,
		}),
		store:    st,
		fetcher:  fetcher,
		notifier: notifier,
		metrics:  m,
		rec:      rec,
		clock:    clock,
	}
}

func okResult(eventID string, at time.Time, tickets ...models.TicketListing) models.FetchResult {
	if tickets == nil {
		tickets = []models.TicketListing{}
	}
	return models.FetchResult{
		EventID:   eventID,
		Status:    models.StatusOK,
		Tickets:   tickets,
		Timestamp: at,
	}
}

func listing(row, price string) models.TicketListing {
	return models.TicketListing{SectionRow: row, Price: price, Type: "Standard", Timestamp: now}
}
