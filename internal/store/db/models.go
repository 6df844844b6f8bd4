package db

import (
	"database/sql"
)

type MonitoredEndpoint struct {
	Url         string
	EventID     string
	LastChecked sql.NullInt64
	Tickets     string
	Stadium     sql.NullString
	Changes     string
	Metadata    string
	CreatedAt   int64
}
