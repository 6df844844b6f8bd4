package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"ticketwatch/internal/components/chrono"
	"ticketwatch/internal/components/telemetry"
	"time"
)

// Capturer records the state of a page at some point of a fetch cycle.
type Capturer interface {
	Capture(ctx context.Context, page Page, label string)
}

// Diagnostics writes full page screenshots under
// `<dir>/<event id>/<unix ms>-<label>.png`. An empty dir disables it.
type Diagnostics struct {
	dir     string
	timeout time.Duration
	clock   chrono.TimeAPI
	tel     telemetry.API
}

func NewDiagnostics(dir string, clock chrono.TimeAPI, tel telemetry.API) Diagnostics {
	return Diagnostics{
		dir:     dir,
		timeout: 10 * time.Second,
		clock:   clock,
		tel:     telemetry.NewScopedAPI("browser", tel),
	}
}

func (d Diagnostics) Enabled() bool {
	return d.dir != ""
}

// ForEvent returns a Capturer that files screenshots under eventID.
func (d Diagnostics) ForEvent(eventID string) Capturer {
	return eventDiagnostics{parent: d, eventID: eventID}
}

type eventDiagnostics struct {
	parent  Diagnostics
	eventID string
}

var unsafeLabelChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Capture never fails the caller, errors are only reported.
func (e eventDiagnostics) Capture(ctx context.Context, page Page, label string) {
	d := e.parent
	if !d.Enabled() {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	png, err := page.Screenshot(ctx)
	if err != nil {
		d.tel.ReportWarning("diagnostics.capture", err, label)
		return
	}

	dir := filepath.Join(d.dir, unsafeLabelChars.ReplaceAllString(e.eventID, "_"))
	err = os.MkdirAll(dir, 0755)
	if err != nil {
		d.tel.ReportBroken("diagnostics.capture", err, dir)
		return
	}

	name := fmt.Sprintf(
		"%d-%s.png",
		d.clock.Now().UnixMilli(),
		unsafeLabelChars.ReplaceAllString(label, "_"),
	)
	err = os.WriteFile(filepath.Join(dir, name), png, 0644)
	if err != nil {
		d.tel.ReportBroken("diagnostics.capture", err, name)
		return
	}
	d.tel.ReportDebug("captured diagnostics", "file", filepath.Join(dir, name))
}
