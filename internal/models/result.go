package models

import "time"

type FetchStatus string

const (
	StatusOK     FetchStatus = "ok"
	StatusFailed FetchStatus = "failed"
)

type FailureKind string

const (
	// FailureBotGate means the loading/challenge/block cycle did not settle within the attempt cap.
	FailureBotGate FailureKind = "bot_gate"
	// FailureValidation means the page settled, but on the wrong url or on a bot verification page.
	FailureValidation FailureKind = "validation"
)

type Failure struct {
	Kind   FailureKind `json:"kind"`
	Reason string      `json:"reason"`
}

// FetchResult is the outcome of one fetch cycle. A failed bot gate is not an
// error, it is a FetchResult with Status == StatusFailed and no data.
type FetchResult struct {
	EventID     string           `json:"eventId"`
	Status      FetchStatus      `json:"status"`
	Tickets     []TicketListing  `json:"tickets"`
	StadiumData *StadiumLayout   `json:"stadiumData"`
	NetworkData *NetworkSnapshot `json:"networkData"`
	Timestamp   time.Time        `json:"timestamp"`
	BotCheck    bool             `json:"botCheck,omitempty"`
	Failure     *Failure         `json:"failure,omitempty"`
}

func (r FetchResult) OK() bool {
	return r.Status == StatusOK
}

// FailedResult builds the empty result returned when the bot gate could not be passed.
func FailedResult(eventID string, kind FailureKind, reason string, at time.Time) FetchResult {
	return FetchResult{
		EventID:   eventID,
		Status:    StatusFailed,
		Tickets:   []TicketListing{},
		Timestamp: at,
		BotCheck:  true,
		Failure:   &Failure{Kind: kind, Reason: reason},
	}
}
