package monitor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newPoller(f fixture, cron *fakeCron) *Poller {
	return NewPoller(PollerParams{
		Service:  f.service,
		Cron:     cron,
		Interval: 5 * time.Second,
		Clock:    f.clock,
		Metrics:  f.metrics,
		Tel:      f.rec,
	})
}

func addEndpoints(t *testing.T, f fixture, n int) []string {
	var urls []string
	for i := 0; i < n; i++ {
		url := fmt.Sprintf("https://www.ticketmaster.com/show/event/EVT%d", i)
		_, _, err := f.service.Add(context.Background(), url)
		require.NoError(t, err)
		urls = append(urls, url)
	}
	return urls
}

func TestPollOnceIsolatesFailures(t *testing.T) {
	f := setup(t)
	urls := addEndpoints(t, f, 3)

	f.fetcher.queue(urls[0], fetchReply{result: okResult("EVT0", now, listing("A", "$1"))})
	f.fetcher.queue(urls[1], fetchReply{err: errors.New("navigation failed")})
	f.fetcher.queue(urls[2], fetchReply{result: okResult("EVT2", now, listing("B", "$2"))})

	require.True(t, newPoller(f, &fakeCron{}).PollOnce(context.Background()))
	require.ElementsMatch(t, urls, f.fetcher.Calls())
	require.Len(t, f.rec.Reports("warning", "poller.poll"), 1)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RefreshErrors))

	for _, url := range []string{urls[0], urls[2]} {
		endpoint, err := f.store.Get(context.Background(), url)
		require.NoError(t, err)
		require.EqualValues(t, 1, endpoint.Metadata.FetchCount)
	}
}

func TestPollOnceSkipsWhileInProgress(t *testing.T) {
	f := setup(t)
	addEndpoints(t, f, 2)

	f.fetcher.gate = make(chan struct{})
	f.fetcher.started = make(chan string, 2)
	poller := newPoller(f, &fakeCron{})

	done := make(chan bool)
	go func() {
		done <- poller.PollOnce(context.Background())
	}()
	<-f.fetcher.started

	require.False(t, poller.PollOnce(context.Background()))
	require.False(t, poller.PollOnce(context.Background()))
	require.Equal(t, 2.0, testutil.ToFloat64(f.metrics.PollsSkipped))

	close(f.fetcher.gate)
	require.True(t, <-done)

	// endpoints were processed one at a time
	require.Len(t, f.fetcher.Calls(), 2)
	require.Equal(t, 1, f.fetcher.maxActive)

	// the flag is released once the poll is done
	f.fetcher.started = nil
	require.True(t, poller.PollOnce(context.Background()))
}

func TestPollerStart(t *testing.T) {
	f := setup(t)
	addEndpoints(t, f, 1)

	cron := &fakeCron{}
	poller := newPoller(f, cron)
	require.NoError(t, poller.Start(context.Background()))
	require.Equal(t, 5*time.Second, cron.interval)

	cron.callback()
	require.Len(t, f.fetcher.Calls(), 1)

	poller.Stop()
	require.True(t, cron.stopped)
}
