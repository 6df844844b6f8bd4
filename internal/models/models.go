// Package models holds the data shared by the fetch pipeline, the change detector
// and the persistence layer.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// MaxChanges is the number of change events kept per monitored endpoint.
const MaxChanges = 100

var ErrInvalidURL = errors.New("invalid event url")

var eventIDPattern = regexp.MustCompile(`/event/([A-Za-z0-9]+)`)

// ExtractEventID returns the event identifier in a URL of the form `.../event/<ID>`.
func ExtractEventID(url string) (string, error) {
	match := eventIDPattern.FindStringSubmatch(url)
	if len(match) < 2 {
		return "", fmt.Errorf("%w: no event id in %q", ErrInvalidURL, url)
	}
	return match[1], nil
}

type TicketListing struct {
	// SectionRow is the key listings are correlated by across snapshots.
	SectionRow string    `json:"sectionRow"`
	Price      string    `json:"price"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
}

type Section struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Coordinates *string `json:"coordinates"`
}

type StadiumLayout struct {
	// StadiumImage is the serialized markup of the venue map.
	StadiumImage *string   `json:"stadiumImage"`
	LayoutData   []Section `json:"layoutData"`
}

// NetworkSnapshot is the raw JSON payload of the first async data response that
// referenced the event.
type NetworkSnapshot struct {
	EventID    string          `json:"eventId"`
	URL        string          `json:"url"`
	Payload    json.RawMessage `json:"payload"`
	CapturedAt time.Time       `json:"capturedAt"`
}

type ChangeType string

const (
	PriceChange ChangeType = "PriceChange"
	NewSection  ChangeType = "NewSection"
	// AvailabilityChange is part of the change log schema but is not produced
	// by the diff, sections that disappear are not reported.
	AvailabilityChange ChangeType = "AvailabilityChange"
)

type ChangeDetails struct {
	SectionRow string `json:"sectionRow"`
	OldPrice   string `json:"oldPrice,omitempty"`
	NewPrice   string `json:"newPrice,omitempty"`
	Price      string `json:"price,omitempty"`
}

type ChangeEvent struct {
	Timestamp time.Time     `json:"timestamp"`
	Type      ChangeType    `json:"type"`
	Details   ChangeDetails `json:"details"`
}

// AppendChanges appends `added` to `log` and evicts the oldest entries so that
// at most `limit` remain. The returned slice never aliases `log`.
func AppendChanges(log []ChangeEvent, added []ChangeEvent, limit int) []ChangeEvent {
	merged := make([]ChangeEvent, 0, len(log)+len(added))
	merged = append(merged, log...)
	merged = append(merged, added...)
	if limit >= 0 && len(merged) > limit {
		merged = merged[len(merged)-limit:]
	}
	return merged
}

type EndpointMetadata struct {
	LastNetworkSnapshot *NetworkSnapshot `json:"lastNetworkSnapshot"`
	LastSuccessfulFetch *time.Time       `json:"lastSuccessfulFetch"`
	FetchCount          int64            `json:"fetchCount"`
}

type MonitoredEndpoint struct {
	URL         string           `json:"url"`
	EventID     string           `json:"eventId"`
	LastChecked *time.Time       `json:"lastChecked"`
	Tickets     []TicketListing  `json:"tickets"`
	Stadium     *StadiumLayout   `json:"stadium"`
	Changes     []ChangeEvent    `json:"changes"`
	Metadata    EndpointMetadata `json:"metadata"`
	CreatedAt   time.Time        `json:"createdAt"`
}
