// Package notify tells subscribers about detected listing changes.
package notify

import (
	"context"
	"errors"
	"ticketwatch/internal/models"
)

type Notifier interface {
	NotifyChanges(ctx context.Context, endpoint models.MonitoredEndpoint, changes []models.ChangeEvent) error
}

// Multi notifies every notifier in order, a failing notifier does not stop the
// ones after it.
type Multi []Notifier

func (m Multi) NotifyChanges(ctx context.Context, endpoint models.MonitoredEndpoint, changes []models.ChangeEvent) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		err := n.NotifyChanges(ctx, endpoint, changes)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
