package configutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration that can be written in config files as either
// a Go duration string ("1.5s", "250ms") or a number of milliseconds.
type Duration struct {
	time.Duration
}

// Millis is shorthand for a Duration of n milliseconds.
func Millis(n int64) Duration {
	return Duration{Duration: time.Duration(n) * time.Millisecond}
}

func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(raw)
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}
	// json5 permits single quoted strings
	raw = strings.Trim(raw, `"'`)
	parsed, err := parseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %s: %w", string(data), err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(d.Duration.String())), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := parseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}
