package capture

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"ticketwatch/internal/browser"
	"ticketwatch/internal/browser/browsertest"
	"ticketwatch/internal/components/chrono"
	"ticketwatch/internal/components/telemetry"
	"time"

	"github.com/stretchr/testify/require"
)

const eventID = "1E00625CD153457B"

func response(url, resourceType, body string) browser.Response {
	return browser.Response{
		URL:          url,
		ResourceType: resourceType,
		MimeType:     "application/json",
		Status:       200,
		Body: func(ctx context.Context) ([]byte, error) {
			return []byte(body), nil
		},
	}
}

func newCapture(timeout time.Duration) Capture {
	return New(timeout, chrono.FixedTime{At: time.Unix(1714560000, 0)}, telemetry.NewRecorder())
}

// waitListening blocks until the page has a registered listener.
func waitListening(t *testing.T, page *browsertest.Page) {
	require.Eventually(t, func() bool {
		return page.Stats().Listeners > 0
	}, time.Second, time.Millisecond)
}

func TestCaptureFirstMatchingPayload(t *testing.T) {
	page := browsertest.NewPage()
	capture := newCapture(5 * time.Second)
	pending := capture.Start(page, eventID)
	waitListening(t, page)

	// documents, other events and non json bodies are ignored
	page.Emit(response("https://www.ticketmaster.com/event/"+eventID, "Document", `{"doc":true}`))
	page.Emit(response("https://api.example.com/offers/OTHER", browser.ResourceXHR, `{"other":true}`))
	page.Emit(response("https://api.example.com/quickpicks/"+eventID, browser.ResourceFetch, `<html>`))
	time.Sleep(20 * time.Millisecond)
	page.Emit(response("https://api.example.com/quickpicks/"+eventID, browser.ResourceXHR, `{"picks":[1,2]}`))

	snapshot := pending.Wait(context.Background())
	require.NotNil(t, snapshot)
	require.Equal(t, eventID, snapshot.EventID)
	require.JSONEq(t, `{"picks":[1,2]}`, string(snapshot.Payload))
	require.Equal(t, time.Unix(1714560000, 0), snapshot.CapturedAt)

	stats := page.Stats()
	require.Equal(t, 1, stats.Detaches)
	require.Equal(t, 0, stats.Listeners)

	pending.Stop()
	require.Equal(t, 1, page.Stats().Detaches)
}

func TestCaptureTimeout(t *testing.T) {
	page := browsertest.NewPage()
	capture := newCapture(30 * time.Millisecond)

	start := time.Now()
	snapshot := capture.Payload(context.Background(), page, eventID)
	require.Nil(t, snapshot)
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	stats := page.Stats()
	require.Equal(t, 1, stats.Detaches)
	require.Equal(t, 0, stats.Listeners)
}

func TestCaptureContextCancelled(t *testing.T) {
	page := browsertest.NewPage()
	capture := newCapture(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Nil(t, capture.Payload(ctx, page, eventID))
	require.Equal(t, 1, page.Stats().Detaches)
}

func TestCaptureStopWithoutWait(t *testing.T) {
	page := browsertest.NewPage()
	capture := newCapture(time.Minute)

	pending := capture.Start(page, eventID)
	pending.Stop()
	pending.Stop()
	require.Equal(t, 1, page.Stats().Detaches)
	require.Equal(t, 0, page.Stats().Listeners)
}

func TestCaptureBodyError(t *testing.T) {
	page := browsertest.NewPage()
	rec := telemetry.NewRecorder()
	capture := New(50*time.Millisecond, chrono.NewStandardTime(), rec)

	pending := capture.Start(page, eventID)
	page.Emit(browser.Response{
		URL:          "https://api.example.com/quickpicks/" + eventID,
		ResourceType: browser.ResourceXHR,
		Body: func(ctx context.Context) ([]byte, error) {
			return nil, errors.New("No resource with given identifier found")
		},
	})

	require.Nil(t, pending.Wait(context.Background()))
	require.Eventually(t, func() bool {
		return len(rec.Reports("warning", "pending.listen")) == 1
	}, time.Second, time.Millisecond)
}

func TestCaptureDetachesOnFirstMatch(t *testing.T) {
	page := browsertest.NewPage()
	capture := newCapture(time.Minute)
	pending := capture.Start(page, eventID)
	waitListening(t, page)

	page.Emit(response("https://api.example.com/quickpicks/"+eventID, browser.ResourceXHR, `{"first":true}`))
	require.Eventually(t, func() bool {
		return page.Stats().Listeners == 0
	}, time.Second, time.Millisecond)
	require.Equal(t, 1, page.Stats().Detaches)

	var reads atomic.Int32
	late := response("https://api.example.com/quickpicks/"+eventID, browser.ResourceXHR, `{"second":true}`)
	late.Body = func(ctx context.Context) ([]byte, error) {
		reads.Add(1)
		return []byte(`{"second":true}`), nil
	}
	page.Emit(late)
	time.Sleep(20 * time.Millisecond)

	snapshot := pending.Wait(context.Background())
	require.NotNil(t, snapshot)
	require.JSONEq(t, `{"first":true}`, string(snapshot.Payload))
	require.EqualValues(t, 0, reads.Load())
}
