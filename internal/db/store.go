package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bank_turns/backend/internal/models"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ArchiveTurn stores a terminal turn. Archiving the same ID twice keeps the
// latest snapshot.
func (s *Store) ArchiveTurn(ctx context.Context, v models.TurnView) error {
	ops, err := json.Marshal(v.Operations)
	if err != nil {
		return err
	}
	prefix, seq := splitID(v.ID)
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO turns (id, prefix, seq, priority, customer_id, card_ref, status, attended, service_type, fail_reason, operations, created_at, started_at, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			attended = EXCLUDED.attended,
			service_type = EXCLUDED.service_type,
			fail_reason = EXCLUDED.fail_reason,
			operations = EXCLUDED.operations,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at,
			archived_at = NOW()
	`, v.ID, prefix, seq, int(v.Priority), v.CustomerID, v.CardRef, string(v.Status), v.Attended, v.ServiceType, v.FailReason, ops, v.CreatedAt, v.StartedAt, v.FinishedAt)
	return err
}

// SavePending stores turns abandoned at shutdown so the next process can
// replay them.
func (s *Store) SavePending(ctx context.Context, views []models.TurnView) error {
	if len(views) == 0 {
		return nil
	}
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, v := range views {
			ops, err := json.Marshal(v.Operations)
			if err != nil {
				return fmt.Errorf("turn %s: %w", v.ID, err)
			}
			prefix, seq := splitID(v.ID)
			batch.Queue(`
				INSERT INTO pending_turns (id, prefix, seq, priority, customer_id, card_ref, operations, created_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
				ON CONFLICT (id) DO UPDATE SET
					priority = EXCLUDED.priority,
					operations = EXCLUDED.operations,
					saved_at = NOW()
			`, v.ID, prefix, seq, int(v.Priority), v.CustomerID, v.CardRef, ops, v.CreatedAt)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// LoadPending returns saved pending turns in dispatch order and deletes them
// in the same transaction.
func (s *Store) LoadPending(ctx context.Context) ([]models.TurnView, error) {
	var out []models.TurnView
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, priority, customer_id, card_ref, operations, created_at
			FROM pending_turns
			ORDER BY priority ASC, created_at ASC, id ASC
		`)
		if err != nil {
			return err
		}
		for rows.Next() {
			var (
				v        models.TurnView
				priority int
				ops      []byte
			)
			if err := rows.Scan(&v.ID, &priority, &v.CustomerID, &v.CardRef, &ops, &v.CreatedAt); err != nil {
				rows.Close()
				return err
			}
			if err := json.Unmarshal(ops, &v.Operations); err != nil {
				rows.Close()
				return fmt.Errorf("turn %s operations: %w", v.ID, err)
			}
			v.Priority = models.Priority(priority)
			v.Prefix = models.IDPrefix(v.ID)
			v.Status = models.StatusPending
			out = append(out, v)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `DELETE FROM pending_turns`)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MaxSequences returns the highest sequence ever stored per prefix, across
// archived and pending turns.
func (s *Store) MaxSequences(ctx context.Context) (map[string]int, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT prefix, MAX(seq) FROM (
			SELECT prefix, seq FROM turns
			UNION ALL
			SELECT prefix, seq FROM pending_turns
		) all_turns
		GROUP BY prefix
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var (
			prefix string
			seq    int
		)
		if err := rows.Scan(&prefix, &seq); err != nil {
			return nil, err
		}
		out[prefix] = seq
	}
	return out, rows.Err()
}

const turnColumns = `id, priority, customer_id, card_ref, status, attended, service_type, fail_reason, operations, created_at, started_at, finished_at`

func (s *Store) GetTurn(ctx context.Context, id string) (models.TurnView, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+turnColumns+` FROM turns WHERE id = $1`, id)
	v, err := scanTurn(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.TurnView{}, fmt.Errorf("%w: turn %s", ErrNotFound, id)
		}
		return models.TurnView{}, err
	}
	return v, nil
}

// ListTurns pages through archived turns, most recently finished first.
func (s *Store) ListTurns(ctx context.Context, status string, limit, offset int) ([]models.TurnView, error) {
	query := `SELECT ` + turnColumns + ` FROM turns`
	var args []any
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" WHERE status = $%d", len(args))
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY finished_at DESC NULLS LAST, id ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.TurnView{}
	for rows.Next() {
		v, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanTurn(row pgx.Row) (models.TurnView, error) {
	var (
		v          models.TurnView
		priority   int
		status     string
		ops        []byte
		startedAt  *time.Time
		finishedAt *time.Time
	)
	if err := row.Scan(&v.ID, &priority, &v.CustomerID, &v.CardRef, &status, &v.Attended, &v.ServiceType, &v.FailReason, &ops, &v.CreatedAt, &startedAt, &finishedAt); err != nil {
		return models.TurnView{}, err
	}
	if len(ops) > 0 {
		if err := json.Unmarshal(ops, &v.Operations); err != nil {
			return models.TurnView{}, err
		}
	}
	v.Priority = models.Priority(priority)
	v.Prefix = models.IDPrefix(v.ID)
	v.Status = models.Status(status)
	v.StartedAt = startedAt
	v.FinishedAt = finishedAt
	return v, nil
}

// splitID returns the prefix and numeric sequence of a ticket ID. IDs that do
// not follow the prefix+digits shape get sequence 0.
func splitID(id string) (string, int) {
	prefix := models.IDPrefix(id)
	n, err := strconv.Atoi(id[len(prefix):])
	if err != nil || n < 0 {
		return prefix, 0
	}
	return prefix, n
}
