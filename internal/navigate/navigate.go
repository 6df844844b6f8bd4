// Package navigate loads event pages with bounded retries.
package navigate

import (
	"context"
	"fmt"
	"ticketwatch/internal/browser"
	"ticketwatch/internal/components/chrono"
	"ticketwatch/internal/components/telemetry"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("internal/navigate")

// Error is returned once every navigation attempt has failed.
type Error struct {
	URL      string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("navigate to %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Options struct {
	Attempts int
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// Backoff is the pause between two attempts.
	Backoff time.Duration
	// Settle is the pause after a successful load, for slow assets.
	Settle time.Duration
}

func DefaultOptions() Options {
	return Options{
		Attempts: 3,
		Timeout:  60 * time.Second,
		Backoff:  5 * time.Second,
		Settle:   3 * time.Second,
	}
}

type Controller struct {
	opts Options
	tel  telemetry.API
}

func NewController(opts Options, tel telemetry.API) Controller {
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	return Controller{
		opts: opts,
		tel:  telemetry.NewScopedAPI("navigate", tel),
	}
}

// Navigate loads url in page. Every failed attempt is captured with capt.
// After a successful load every other page of the browser is closed and
// Navigate waits for the settle delay.
func (c Controller) Navigate(ctx context.Context, page browser.Page, url string, capt browser.Capturer) error {
	ctx, span := tracer.Start(ctx, "Navigate")
	defer span.End()
	span.SetAttributes(attribute.String("url", url))

	var lastErr error
	attempt := 0
	for attempt < c.opts.Attempts {
		attempt++

		attemptCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		lastErr = page.Navigate(attemptCtx, url)
		cancel()
		if lastErr == nil {
			break
		}

		c.tel.ReportWarning("controller.navigate", lastErr, url, attempt)
		capt.Capture(ctx, page, fmt.Sprintf("navigation-failed-attempt-%d", attempt))

		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		if attempt < c.opts.Attempts {
			err := chrono.Sleep(ctx, c.opts.Backoff)
			if err != nil {
				lastErr = err
				break
			}
		}
	}
	span.SetAttributes(attribute.Int("attempts", attempt))

	if lastErr != nil {
		err := &Error{URL: url, Attempts: attempt, Err: lastErr}
		span.RecordError(err)
		span.SetStatus(codes.Error, "navigation retries exhausted")
		return err
	}

	err := page.CloseOthers(ctx)
	if err != nil {
		c.tel.ReportWarning("controller.navigate", fmt.Errorf("close extraneous pages: %w", err))
	}

	return chrono.Sleep(ctx, c.opts.Settle)
}
