package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/EternisAI/clawd-node/internal/db"
)

// Service stores entries in the invocations table.
type Service struct {
	queries *db.Queries
}

func NewService(queries *db.Queries) *Service {
	return &Service{queries: queries}
}

func (s *Service) Record(ctx context.Context, e Entry) error {
	_, err := s.queries.InsertInvocation(ctx, db.InsertInvocationParams{
		InvocationID: e.ID,
		Command:      e.Command,
		NodeID:       e.NodeID,
		Legacy:       e.Legacy,
		Ok:           e.OK,
		ErrorCode:    optionalText(e.ErrorCode),
		ErrorMessage: optionalText(e.ErrorMessage),
		ReceivedAt:   pgtype.Timestamptz{Time: e.ReceivedAt, Valid: true},
		DurationMs:   e.Duration.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("insert invocation: %w", err)
	}
	return nil
}

func (s *Service) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultMemoryCapacity
	}
	rows, err := s.queries.ListRecentInvocations(ctx, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("list invocations: %w", err)
	}
	entries := make([]Entry, len(rows))
	for i, r := range rows {
		entries[i] = Entry{
			ID:           r.InvocationID,
			Command:      r.Command,
			NodeID:       r.NodeID,
			Legacy:       r.Legacy,
			OK:           r.Ok,
			ErrorCode:    r.ErrorCode.String,
			ErrorMessage: r.ErrorMessage.String,
			ReceivedAt:   r.ReceivedAt.Time,
			Duration:     time.Duration(r.DurationMs) * time.Millisecond,
			DurationMs:   r.DurationMs,
		}
	}
	return entries, nil
}

func (s *Service) Count(ctx context.Context) (int64, error) {
	count, err := s.queries.CountInvocations(ctx)
	if err != nil {
		return 0, fmt.Errorf("count invocations: %w", err)
	}
	return count, nil
}

func optionalText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
