package botgate

import (
	"context"
	"ticketwatch/internal/browser"
)

type captureNothing struct{}

func (captureNothing) Capture(ctx context.Context, page browser.Page, label string) {}

type countingCapturer struct {
	labels []string
}

func (c *countingCapturer) Capture(ctx context.Context, page browser.Page, label string) {
	c.labels = append(c.labels, label)
}
