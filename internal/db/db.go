// Package db keeps an optional history of dispatch batches in Postgres.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/models"
)

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, conn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, conn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

var resultColumns = []string{"batch_id", "position", "recipient", "status", "detail"}

// RecordReport stores the batch summary and one row per recipient result in a
// single transaction.
func (s *Store) RecordReport(ctx context.Context, r models.DispatchReport) error {

	id, err := uuid.Parse(r.BatchID)
	if err != nil {
		return fmt.Errorf("batch id: %w", err)
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO dispatch_batches
		 (id, sender, total, sent, failed, started_at, finished_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		r.BatchID,
		r.Sender,
		len(r.Results),
		r.Sent(),
		r.Failed(),
		r.StartedAt,
		r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"dispatch_results"},
		resultColumns,
		pgx.CopyFromRows(resultRows(id, r.Results)),
	)
	if err != nil {
		return fmt.Errorf("copy results: %w", err)
	}

	return tx.Commit(ctx)
}

// BatchSummary is one row of the history listing.
type BatchSummary struct {
	ID         string
	Sender     string
	Total      int
	Sent       int
	Failed     int
	StartedAt  time.Time
	FinishedAt time.Time
}

// RecentBatches lists the latest batches, newest first.
func (s *Store) RecentBatches(ctx context.Context, limit int) ([]BatchSummary, error) {

	rows, err := s.Pool.Query(ctx,
		`SELECT id::text, sender, total, sent, failed, started_at, finished_at
		 FROM dispatch_batches
		 ORDER BY started_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (BatchSummary, error) {
		var b BatchSummary
		err := row.Scan(&b.ID, &b.Sender, &b.Total, &b.Sent, &b.Failed, &b.StartedAt, &b.FinishedAt)
		return b, err
	})
}

func resultRows(batch uuid.UUID, results []models.DispatchResult) [][]any {
	rows := make([][]any, 0, len(results))
	for i, res := range results {
		rows = append(rows, []any{batch, int32(i), res.Email, string(res.Status), res.Detail})
	}
	return rows
}
