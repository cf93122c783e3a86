package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// Invocation is a row of the invocations table.
type Invocation struct {
	Seq          int64
	InvocationID string
	Command      string
	NodeID       string
	Legacy       bool
	Ok           bool
	ErrorCode    pgtype.Text
	ErrorMessage pgtype.Text
	ReceivedAt   pgtype.Timestamptz
	DurationMs   int64
}

const insertInvocation = `
INSERT INTO invocations (invocation_id, command, node_id, legacy, ok, error_code, error_message, received_at, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING seq
`

type InsertInvocationParams struct {
	InvocationID string
	Command      string
	NodeID       string
	Legacy       bool
	Ok           bool
	ErrorCode    pgtype.Text
	ErrorMessage pgtype.Text
	ReceivedAt   pgtype.Timestamptz
	DurationMs   int64
}

func (q *Queries) InsertInvocation(ctx context.Context, arg InsertInvocationParams) (int64, error) {
	row := q.db.QueryRow(ctx, insertInvocation,
		arg.InvocationID,
		arg.Command,
		arg.NodeID,
		arg.Legacy,
		arg.Ok,
		arg.ErrorCode,
		arg.ErrorMessage,
		arg.ReceivedAt,
		arg.DurationMs,
	)
	var seq int64
	err := row.Scan(&seq)
	return seq, err
}

const listRecentInvocations = `
SELECT seq, invocation_id, command, node_id, legacy, ok, error_code, error_message, received_at, duration_ms
FROM invocations
ORDER BY seq DESC
LIMIT $1
`

func (q *Queries) ListRecentInvocations(ctx context.Context, limit int32) ([]Invocation, error) {
	rows, err := q.db.Query(ctx, listRecentInvocations, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Invocation
	for rows.Next() {
		var i Invocation
		if err := rows.Scan(
			&i.Seq,
			&i.InvocationID,
			&i.Command,
			&i.NodeID,
			&i.Legacy,
			&i.Ok,
			&i.ErrorCode,
			&i.ErrorMessage,
			&i.ReceivedAt,
			&i.DurationMs,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const countInvocations = `SELECT COUNT(*) FROM invocations`

func (q *Queries) CountInvocations(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countInvocations).Scan(&count)
	return count, err
}
