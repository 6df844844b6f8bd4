package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"ticketwatch/internal/botgate"
	"ticketwatch/internal/broadcast"
	"ticketwatch/internal/browser"
	"ticketwatch/internal/browser/browsertest"
	"ticketwatch/internal/capture"
	"ticketwatch/internal/components/chrono"
	"ticketwatch/internal/components/telemetry"
	"ticketwatch/internal/extract"
	"ticketwatch/internal/metrics"
	"ticketwatch/internal/models"
	"ticketwatch/internal/navigate"
	"ticketwatch/internal/snapcache"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const (
	eventID  = "1E00625CD153457B"
	eventURL = "https://www.ticketmaster.com/show/event/" + eventID
)

const eventPage = `
<html><body>
	<div data-testid="venue-map"><svg><path id="section-101" data-section-name="Section 101"></path></svg></div>
	<div data-testid="listing">
		<span data-testid="section-row">Sec 101 Row A</span>
		<span data-testid="price">$50</span>
		<span data-testid="ticket-type">Standard</span>
	</div>
</body></html>`

type fixture struct {
	runtime *Runtime
	browser *browsertest.Browser
	hub     *broadcast.Hub
	dir     string
	rec     *telemetry.Recorder
}

func readyPage() *browsertest.Page {
	page := browsertest.NewPage()
	page.SetHTML(eventPage)
	page.SetText("Sec 101 Row A $50")
	page.SetPresent(`[data-testid="venue-map"] svg`, true)
	page.OnNavigate = func(p *browsertest.Page, url string) {
		p.Emit(browser.Response{
			URL:          "https://api.example.com/quickpicks/" + eventID,
			ResourceType: browser.ResourceXHR,
			Body: func(ctx context.Context) ([]byte, error) {
				return []byte(`{"picks":[{"section":"101"}]}`), nil
			},
		})
	}
	return page
}

func setup(t *testing.T, opts Options, launch browser.LaunchFunc, newPage func() *browsertest.Page) fixture {
	rec := telemetry.NewRecorder()
	clock := chrono.NewStandardTime()
	dir := t.TempDir()

	fake := &browsertest.Browser{NewPageFn: newPage}
	if launch == nil {
		launch = func(ctx context.Context) (browser.Browser, error) {
			return fake, nil
		}
	}

	gateOpts := botgate.DefaultOptions()
	gateOpts.LoadingTimeout = 0
	gateOpts.HumanPause = 0
	gateOpts.ActionPause = 0
	gateOpts.ProbeTimeout = 0
	gateOpts.ConsentTimeout = 0

	extractOpts := extract.DefaultOptions()
	extractOpts.ProbeTimeout = 0
	extractOpts.StadiumRetryPause = 0

	hub := broadcast.NewHub(8, rec)
	rt := NewRuntime(Params{
		Options:  opts,
		Sessions: browser.NewSessions(launch),
		Cache:    snapcache.New(16, time.Minute, clock),
		Broker:   hub,
		Navigator: navigate.NewController(navigate.Options{
			Attempts: 3,
			Timeout:  time.Second,
		}, rec),
		Gate:        botgate.NewSequencer(gateOpts, rec),
		Extractor:   extract.NewExtractor(extractOpts, clock, rec),
		Capture:     capture.New(time.Second, clock, rec),
		Diagnostics: browser.NewDiagnostics(dir, clock, rec),
		Clock:       clock,
		Metrics:     metrics.New(prometheus.NewRegistry()),
		Telemetry:   rec,
	})
	t.Cleanup(func() {
		rt.Close()
	})

	return fixture{runtime: rt, browser: fake, hub: hub, dir: dir, rec: rec}
}

func screenshots(f fixture) int {
	total := 0
	for _, page := range f.browser.Pages() {
		total += page.Stats().Screenshots
	}
	return total
}

func TestFetch(t *testing.T) {
	f := setup(t, DefaultOptions(), nil, readyPage)

	sub, err := f.hub.Subscribe(context.Background(), eventID)
	require.NoError(t, err)

	res, err := f.runtime.Fetch(context.Background(), eventURL)
	require.NoError(t, err)
	require.True(t, res.OK())
	require.False(t, res.BotCheck)
	require.Nil(t, res.Failure)
	require.Equal(t, eventID, res.EventID)
	require.Len(t, res.Tickets, 1)
	require.Equal(t, "Sec 101 Row A", res.Tickets[0].SectionRow)
	require.Equal(t, "$50", res.Tickets[0].Price)
	require.NotNil(t, res.StadiumData)
	require.Len(t, res.StadiumData.LayoutData, 1)
	require.NotNil(t, res.NetworkData)
	require.JSONEq(t, `{"picks":[{"section":"101"}]}`, string(res.NetworkData.Payload))

	select {
	case msg := <-sub.C:
		var published models.FetchResult
		require.NoError(t, json.Unmarshal(msg.Payload, &published))
		require.Equal(t, eventID, published.EventID)
		require.Len(t, published.Tickets, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("result was not published")
	}

	pages := f.browser.Pages()
	require.Len(t, pages, 1)
	stats := pages[0].Stats()
	require.True(t, stats.Closed)
	require.Equal(t, 1, stats.Navigations)
	require.Equal(t, 1, stats.OthersClosed)
	require.Equal(t, 0, stats.Listeners)
	require.Equal(t, 1, stats.Detaches)
}

func TestFetchCacheHitHasNoSideEffects(t *testing.T) {
	f := setup(t, DefaultOptions(), nil, readyPage)

	first, cached, err := f.runtime.FetchWithSource(context.Background(), eventURL)
	require.NoError(t, err)
	require.False(t, cached)
	captured := screenshots(f)
	require.Greater(t, captured, 0)

	entries, err := os.ReadDir(filepath.Join(f.dir, eventID))
	require.NoError(t, err)
	files := len(entries)

	second, cached, err := f.runtime.FetchWithSource(context.Background(), eventURL)
	require.NoError(t, err)
	require.True(t, cached)
	require.Equal(t, first, second)

	require.Len(t, f.browser.Pages(), 1)
	require.Equal(t, captured, screenshots(f))
	entries, err = os.ReadDir(filepath.Join(f.dir, eventID))
	require.NoError(t, err)
	require.Len(t, entries, files)
}

func TestFetchInvalidURL(t *testing.T) {
	f := setup(t, DefaultOptions(), nil, readyPage)

	_, err := f.runtime.Fetch(context.Background(), "https://www.ticketmaster.com/show")
	require.ErrorIs(t, err, models.ErrInvalidURL)
	require.Empty(t, f.browser.Pages())
}

func TestFetchNavigationError(t *testing.T) {
	f := setup(t, DefaultOptions(), nil, func() *browsertest.Page {
		page := readyPage()
		page.NavigateErr = func(attempt int) error {
			return errors.New("net::ERR_NAME_NOT_RESOLVED")
		}
		return page
	})

	_, err := f.runtime.Fetch(context.Background(), eventURL)
	var navErr *navigate.Error
	require.ErrorAs(t, err, &navErr)
	require.Equal(t, 3, navErr.Attempts)

	_, ok := f.runtime.Cache().Get(eventID)
	require.False(t, ok)
	require.True(t, f.browser.Pages()[0].Stats().Closed)
}

func TestFetchBotGateFailure(t *testing.T) {
	f := setup(t, DefaultOptions(), nil, func() *browsertest.Page {
		page := readyPage()
		page.SetPresent("#px-captcha", true)
		return page
	})

	sub, err := f.hub.Subscribe(context.Background(), eventID)
	require.NoError(t, err)

	res, err := f.runtime.Fetch(context.Background(), eventURL)
	require.NoError(t, err)
	require.False(t, res.OK())
	require.True(t, res.BotCheck)
	require.Equal(t, models.StatusFailed, res.Status)
	require.Equal(t, models.FailureBotGate, res.Failure.Kind)
	require.Empty(t, res.Tickets)
	require.Nil(t, res.StadiumData)
	require.Nil(t, res.NetworkData)

	select {
	case msg := <-sub.C:
		t.Fatalf("failed result was published: %s", msg.Payload)
	case <-time.After(50 * time.Millisecond):
	}

	// failures are not cached, the next fetch runs again
	_, err = f.runtime.Fetch(context.Background(), eventURL)
	require.NoError(t, err)
	require.Len(t, f.browser.Pages(), 2)
}

func TestFetchKeepPagesOpen(t *testing.T) {
	opts := DefaultOptions()
	opts.KeepPagesOpen = true
	f := setup(t, opts, nil, readyPage)

	_, err := f.runtime.Fetch(context.Background(), eventURL)
	require.NoError(t, err)
	require.False(t, f.browser.Pages()[0].Stats().Closed)

	// the next cycle's navigation closes the page left behind
	f.runtime.Cache().Remove(eventID)
	_, err = f.runtime.Fetch(context.Background(), eventURL)
	require.NoError(t, err)
	pages := f.browser.Pages()
	require.Len(t, pages, 2)
	require.True(t, pages[0].Stats().Closed)
	require.False(t, pages[1].Stats().Closed)
}

func TestFetchLaunchFailure(t *testing.T) {
	boom := errors.New("chrome failed to start")
	launches := 0
	f := setup(t, DefaultOptions(), func(ctx context.Context) (browser.Browser, error) {
		launches++
		return nil, boom
	}, readyPage)

	_, err := f.runtime.Fetch(context.Background(), eventURL)
	require.ErrorIs(t, err, boom)
	_, err = f.runtime.Fetch(context.Background(), eventURL)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 2, launches)
}

func TestFetchCycleTimeout(t *testing.T) {
	opts := DefaultOptions()
	opts.CycleTimeout = 20 * time.Millisecond
	f := setup(t, opts, nil, func() *browsertest.Page {
		page := readyPage()
		page.NavigateErr = func(attempt int) error {
			time.Sleep(30 * time.Millisecond)
			return errors.New("timeout")
		}
		return page
	})

	_, err := f.runtime.Fetch(context.Background(), eventURL)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
