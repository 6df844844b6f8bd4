// Package snapcache keeps recently fetched results for a short time so repeated
// requests for the same event do not start another browser cycle.
package snapcache

import (
	"context"
	"sync/atomic"
	"ticketwatch/internal/components/chrono"
	"ticketwatch/internal/models"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL  = 5 * time.Second
	DefaultSize = 1024
)

type FetchFunc func(ctx context.Context) (models.FetchResult, error)

type Cache struct {
	lru    *expirable.LRU[string, models.FetchResult]
	flight singleflight.Group
	ttl    time.Duration
	clock  chrono.TimeAPI
}

// New creates a cache whose entries expire ttl after the result was captured.
// The LRU also drops entries ttl after they are put, whichever comes first.
func New(size int, ttl time.Duration, clock chrono.TimeAPI) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = chrono.NewStandardTime()
	}
	return &Cache{
		lru:   expirable.NewLRU[string, models.FetchResult](size, nil, ttl),
		ttl:   ttl,
		clock: clock,
	}
}

func (c *Cache) Get(eventID string) (models.FetchResult, bool) {
	res, ok := c.lru.Get(eventID)
	if !ok {
		return models.FetchResult{}, false
	}
	if !res.Timestamp.IsZero() && c.clock.Now().Sub(res.Timestamp) >= c.ttl {
		c.lru.Remove(eventID)
		return models.FetchResult{}, false
	}
	return res, true
}

func (c *Cache) Put(eventID string, result models.FetchResult) {
	c.lru.Add(eventID, result)
}

func (c *Cache) Remove(eventID string) {
	c.lru.Remove(eventID)
}

func (c *Cache) Len() int {
	return c.lru.Len()
}

// fresh is the outcome of one shared call. The first caller to claim a fresh
// result owns it; every other caller treats it as a cache hit.
type fresh struct {
	result  models.FetchResult
	fetched bool
	claimed atomic.Bool
}

func (f *fresh) claim() bool {
	return f.fetched && f.claimed.CompareAndSwap(false, true)
}

// GetOrFetch returns the cached result for eventID when there is one.
// Otherwise it calls fetch, with concurrent callers for the same eventID
// sharing a single call. Only successful results are stored.
//
// hit is false for exactly one caller of a call that ran fetch. Every other
// caller, including those that joined the shared call, gets hit set. If the
// caller that started the call gives up, one of the remaining callers takes
// the result as its own.
//
// The shared call is detached from the caller's cancellation so one caller
// going away does not fail the others. Each caller still stops waiting when
// its own ctx is done.
func (c *Cache) GetOrFetch(ctx context.Context, eventID string, fetch FetchFunc) (result models.FetchResult, hit bool, err error) {
	cached, ok := c.Get(eventID)
	if ok {
		return cached, true, nil
	}

	ch := c.flight.DoChan(eventID, func() (any, error) {
		// another caller may have filled the entry while this one waited
		cached, ok := c.Get(eventID)
		if ok {
			return &fresh{result: cached}, nil
		}
		res, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		if res.OK() {
			c.lru.Add(eventID, res)
		}
		return &fresh{result: res, fetched: true}, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return models.FetchResult{}, false, r.Err
		}
		f := r.Val.(*fresh)
		return f.result, !f.claim(), nil
	case <-ctx.Done():
		return models.FetchResult{}, false, ctx.Err()
	}
}
