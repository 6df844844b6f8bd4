// Package store persists monitored endpoints.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"ticketwatch/internal/models"
	"ticketwatch/internal/store/db"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("endpoint not found")

// Open opens the database at dsn and makes sure the schema exists. Remote
// libsql databases are addressed with a libsql://, http:// or https:// url,
// anything else is a local sqlite file (or `:memory:`).
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("a database was not specified")
	}

	var (
		database *sql.DB
		err      error
	)
	if isRemote(dsn) {
		database, err = sql.Open("libsql", dsn)
		if err != nil {
			return nil, err
		}
	} else {
		database, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		// sqlite serializes writers anyway, and every connection to
		// :memory: would be a different database
		database.SetMaxOpenConns(1)
		if dsn != ":memory:" {
			_, err = database.ExecContext(ctx, "PRAGMA journal_mode=WAL")
			if err != nil {
				database.Close()
				return nil, err
			}
		}
	}

	_, err = database.ExecContext(ctx, db.Schema)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return database, nil
}

func isRemote(dsn string) bool {
	for _, prefix := range []string{"libsql://", "https://", "http://", "wss://", "ws://"} {
		if strings.HasPrefix(dsn, prefix) {
			return true
		}
	}
	return false
}

type Store struct {
	db  *sql.DB
	qry *db.Queries
}

func NewStore(database *sql.DB) Store {
	return Store{
		db:  database,
		qry: db.New(database),
	}
}

// Create inserts a new endpoint for url unless one already exists. The
// stored endpoint is returned either way, created reports which happened.
func (s Store) Create(ctx context.Context, url, eventID string, at time.Time) (endpoint models.MonitoredEndpoint, created bool, err error) {
	rows, err := s.qry.CreateEndpoint(ctx, db.CreateEndpointParams{
		Url:       url,
		EventID:   eventID,
		CreatedAt: at.UnixMilli(),
	})
	if err != nil {
		return models.MonitoredEndpoint{}, false, err
	}
	endpoint, err = s.Get(ctx, url)
	return endpoint, rows > 0, err
}

func (s Store) Get(ctx context.Context, url string) (models.MonitoredEndpoint, error) {
	row, err := s.qry.GetEndpoint(ctx, url)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MonitoredEndpoint{}, fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	if err != nil {
		return models.MonitoredEndpoint{}, err
	}
	return fromRow(row)
}

func (s Store) GetByEventID(ctx context.Context, eventID string) (models.MonitoredEndpoint, error) {
	row, err := s.qry.GetEndpointByEventID(ctx, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MonitoredEndpoint{}, fmt.Errorf("%w: event %s", ErrNotFound, eventID)
	}
	if err != nil {
		return models.MonitoredEndpoint{}, err
	}
	return fromRow(row)
}

func (s Store) List(ctx context.Context) ([]models.MonitoredEndpoint, error) {
	rows, err := s.qry.ListEndpoints(ctx)
	if err != nil {
		return nil, err
	}
	endpoints := make([]models.MonitoredEndpoint, 0, len(rows))
	for _, row := range rows {
		endpoint, err := fromRow(row)
		if err != nil {
			return nil, fmt.Errorf("decode endpoint %s: %w", row.Url, err)
		}
		endpoints = append(endpoints, endpoint)
	}
	return endpoints, nil
}

// SaveSnapshot overwrites the snapshot fields (tickets, stadium, changes,
// metadata and last checked) of an existing endpoint.
func (s Store) SaveSnapshot(ctx context.Context, endpoint models.MonitoredEndpoint) error {
	params, err := toSnapshotParams(endpoint)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	txqry := s.qry.WithTx(tx)

	_, err = txqry.GetEndpoint(ctx, endpoint.URL)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, endpoint.URL)
	}
	if err != nil {
		return err
	}
	err = txqry.UpdateSnapshot(ctx, params)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s Store) Delete(ctx context.Context, url string) error {
	rows, err := s.qry.DeleteEndpoint(ctx, url)
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	return nil
}

func fromRow(row db.MonitoredEndpoint) (models.MonitoredEndpoint, error) {
	endpoint := models.MonitoredEndpoint{
		URL:       row.Url,
		EventID:   row.EventID,
		CreatedAt: time.UnixMilli(row.CreatedAt).UTC(),
		Tickets:   []models.TicketListing{},
		Changes:   []models.ChangeEvent{},
	}
	if row.LastChecked.Valid {
		checked := time.UnixMilli(row.LastChecked.Int64).UTC()
		endpoint.LastChecked = &checked
	}

	err := json.Unmarshal([]byte(row.Tickets), &endpoint.Tickets)
	if err != nil {
		return models.MonitoredEndpoint{}, fmt.Errorf("tickets: %w", err)
	}
	err = json.Unmarshal([]byte(row.Changes), &endpoint.Changes)
	if err != nil {
		return models.MonitoredEndpoint{}, fmt.Errorf("changes: %w", err)
	}
	err = json.Unmarshal([]byte(row.Metadata), &endpoint.Metadata)
	if err != nil {
		return models.MonitoredEndpoint{}, fmt.Errorf("metadata: %w", err)
	}
	if row.Stadium.Valid && row.Stadium.String != "" {
		var stadium models.StadiumLayout
		err = json.Unmarshal([]byte(row.Stadium.String), &stadium)
		if err != nil {
			return models.MonitoredEndpoint{}, fmt.Errorf("stadium: %w", err)
		}
		endpoint.Stadium = &stadium
	}
	return endpoint, nil
}

func toSnapshotParams(endpoint models.MonitoredEndpoint) (db.UpdateSnapshotParams, error) {
	params := db.UpdateSnapshotParams{Url: endpoint.URL}

	if endpoint.LastChecked != nil {
		params.LastChecked = sql.NullInt64{Int64: endpoint.LastChecked.UnixMilli(), Valid: true}
	}

	tickets := endpoint.Tickets
	if tickets == nil {
		tickets = []models.TicketListing{}
	}
	encoded, err := json.Marshal(tickets)
	if err != nil {
		return db.UpdateSnapshotParams{}, err
	}
	params.Tickets = string(encoded)

	changes := endpoint.Changes
	if changes == nil {
		changes = []models.ChangeEvent{}
	}
	encoded, err = json.Marshal(changes)
	if err != nil {
		return db.UpdateSnapshotParams{}, err
	}
	params.Changes = string(encoded)

	encoded, err = json.Marshal(endpoint.Metadata)
	if err != nil {
		return db.UpdateSnapshotParams{}, err
	}
	params.Metadata = string(encoded)

	if endpoint.Stadium != nil {
		encoded, err = json.Marshal(endpoint.Stadium)
		if err != nil {
			return db.UpdateSnapshotParams{}, err
		}
		params.Stadium = sql.NullString{String: string(encoded), Valid: true}
	}
	return params, nil
}
