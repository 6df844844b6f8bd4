// source: query.sql

package db

import (
	"context"
	"database/sql"
)

const createEndpoint = `-- name: CreateEndpoint :execrows
insert into monitored_endpoints(url, event_id, created_at)
values (?, ?, ?)
on conflict (url) do nothing
`

type CreateEndpointParams struct {
	Url       string
	EventID   string
	CreatedAt int64
}

func (q *Queries) CreateEndpoint(ctx context.Context, arg CreateEndpointParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, createEndpoint, arg.Url, arg.EventID, arg.CreatedAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteEndpoint = `-- name: DeleteEndpoint :execrows
delete from monitored_endpoints
where url = ?
`

func (q *Queries) DeleteEndpoint(ctx context.Context, url string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteEndpoint, url)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const endpointColumns = `url, event_id, last_checked, tickets, stadium, changes, metadata, created_at`

func scanEndpoint(row interface{ Scan(...interface{}) error }) (MonitoredEndpoint, error) {
	var i MonitoredEndpoint
	err := row.Scan(
		&i.Url,
		&i.EventID,
		&i.LastChecked,
		&i.Tickets,
		&i.Stadium,
		&i.Changes,
		&i.Metadata,
		&i.CreatedAt,
	)
	return i, err
}

const getEndpoint = `-- name: GetEndpoint :one
select ` + endpointColumns + ` from monitored_endpoints
where url = ?
`

func (q *Queries) GetEndpoint(ctx context.Context, url string) (MonitoredEndpoint, error) {
	row := q.db.QueryRowContext(ctx, getEndpoint, url)
	return scanEndpoint(row)
}

const getEndpointByEventID = `-- name: GetEndpointByEventID :one
select ` + endpointColumns + ` from monitored_endpoints
where event_id = ?
order by created_at asc, url asc
limit 1
`

func (q *Queries) GetEndpointByEventID(ctx context.Context, eventID string) (MonitoredEndpoint, error) {
	row := q.db.QueryRowContext(ctx, getEndpointByEventID, eventID)
	return scanEndpoint(row)
}

const listEndpoints = `-- name: ListEndpoints :many
select ` + endpointColumns + ` from monitored_endpoints
order by created_at asc, url asc
`

func (q *Queries) ListEndpoints(ctx context.Context) ([]MonitoredEndpoint, error) {
	rows, err := q.db.QueryContext(ctx, listEndpoints)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []MonitoredEndpoint
	for rows.Next() {
		i, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateSnapshot = `-- name: UpdateSnapshot :exec
update monitored_endpoints
set last_checked = ?,
    tickets = ?,
    stadium = ?,
    changes = ?,
    metadata = ?
where url = ?
`

type UpdateSnapshotParams struct {
	LastChecked sql.NullInt64
	Tickets     string
	Stadium     sql.NullString
	Changes     string
	Metadata    string
	Url         string
}

func (q *Queries) UpdateSnapshot(ctx context.Context, arg UpdateSnapshotParams) error {
	_, err := q.db.ExecContext(ctx, updateSnapshot,
		arg.LastChecked,
		arg.Tickets,
		arg.Stadium,
		arg.Changes,
		arg.Metadata,
		arg.Url,
	)
	return err
}
