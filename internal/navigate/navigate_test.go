package navigate

import (
	"context"
	"errors"
	"os"
	"testing"
	"ticketwatch/internal/browser"
	"ticketwatch/internal/browser/browsertest"
	"ticketwatch/internal/components/chrono"
	"ticketwatch/internal/components/telemetry"
	"time"

	"github.com/stretchr/testify/require"
)

const eventURL = "https://www.ticketmaster.com/show/event/1E00625CD153457B"

func fastOptions() Options {
	return Options{
		Attempts: 3,
		Timeout:  time.Second,
		Backoff:  time.Millisecond,
		Settle:   time.Millisecond,
	}
}

func setup(t *testing.T) (Controller, browser.Diagnostics, string, *telemetry.Recorder) {
	rec := telemetry.NewRecorder()
	dir := t.TempDir()
	return NewController(fastOptions(), rec),
		browser.NewDiagnostics(dir, chrono.NewStandardTime(), rec),
		dir,
		rec
}

func TestNavigateRetriesThenSucceeds(t *testing.T) {
	ctrl, diag, _, rec := setup(t)
	page := browsertest.NewPage()
	page.NavigateErr = func(attempt int) error {
		if attempt < 3 {
			return errors.New("net::ERR_TIMED_OUT")
		}
		return nil
	}

	err := ctrl.Navigate(context.Background(), page, eventURL, diag.ForEvent("1E00625CD153457B"))
	require.NoError(t, err)

	stats := page.Stats()
	require.Equal(t, 3, stats.Navigations)
	require.Equal(t, 2, stats.Screenshots)
	require.Equal(t, 1, stats.OthersClosed)
	require.Len(t, rec.Reports("warning", "controller.navigate"), 2)

	loc, _ := page.Location(context.Background())
	require.Equal(t, eventURL, loc)
}

func TestNavigateExhausted(t *testing.T) {
	ctrl, diag, dir, _ := setup(t)
	boom := errors.New("net::ERR_CONNECTION_RESET")
	page := browsertest.NewPage()
	page.NavigateErr = func(attempt int) error { return boom }

	err := ctrl.Navigate(context.Background(), page, eventURL, diag.ForEvent("1E00625CD153457B"))

	var navErr *Error
	require.ErrorAs(t, err, &navErr)
	require.Equal(t, 3, navErr.Attempts)
	require.ErrorIs(t, err, boom)

	stats := page.Stats()
	require.Equal(t, 3, stats.Navigations)
	require.Equal(t, 0, stats.OthersClosed)

	entries, err := os.ReadDir(dir + "/1E00625CD153457B")
	require.NoError(t, err)
	require.Len(t, entries, 3)
}

func TestNavigateCancelled(t *testing.T) {
	ctrl, diag, _, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	page := browsertest.NewPage()
	page.NavigateErr = func(attempt int) error {
		cancel()
		return errors.New("aborted")
	}

	err := ctrl.Navigate(ctx, page, eventURL, diag.ForEvent("EVT"))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, page.Stats().Navigations)
}

func TestNavigateLeavesConcurrentPagesOpen(t *testing.T) {
	ctrl, diag, _, _ := setup(t)
	ctx := context.Background()
	fake := &browsertest.Browser{}

	a, err := fake.NewPage(ctx)
	require.NoError(t, err)
	b, err := fake.NewPage(ctx)
	require.NoError(t, err)
	popup := fake.OpenStray()

	err = ctrl.Navigate(ctx, b, eventURL, diag.ForEvent("1E00625CD153457B"))
	require.NoError(t, err)

	require.False(t, a.(*browsertest.Page).Stats().Closed)
	require.False(t, b.(*browsertest.Page).Stats().Closed)
	require.True(t, popup.Stats().Closed)
}
