package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"github.com/juanpasaflipz/agentic-devops/internal/ledger"
)

type Store struct {
	db *sql.DB
}

func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Durable() bool { return true }

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) CreateRun(ctx context.Context, event json.RawMessage) (int64, error) {
	if len(event) == 0 {
		event = json.RawMessage("{}")
	}
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO runs(event, status) VALUES($1::jsonb, $2) RETURNING id`,
		string(event), string(ledger.RunPending),
	).Scan(&id)
	return id, err
}

func (s *Store) UpdateRun(ctx context.Context, id int64, update ledger.RunUpdate) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM runs WHERE id = $1 FOR UPDATE`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.ErrRunNotFound
		}
		if err != nil {
			return err
		}

		sets := []string{}
		args := []any{}
		if update.Status != nil {
			if err := ledger.CheckRunTransition(ledger.RunStatus(status), *update.Status); err != nil {
				return err
			}
			args = append(args, string(*update.Status))
			sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
		}
		for _, col := range []struct {
			name string
			raw  json.RawMessage
		}{
			{"plan", update.Plan},
			{"approvals", update.Approvals},
			{"result", update.Result},
			{"links", update.Links},
		} {
			if col.raw == nil {
				continue
			}
			args = append(args, string(col.raw))
			sets = append(sets, fmt.Sprintf("%s = $%d::jsonb", col.name, len(args)))
		}
		if len(sets) == 0 {
			return nil
		}
		args = append(args, id)
		query := fmt.Sprintf(`UPDATE runs SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
		_, err = tx.ExecContext(ctx, query, args...)
		return err
	})
}

const runColumns = `id, created_at, event::text, plan::text, status, approvals::text, result::text, links::text`

func (s *Store) GetRun(ctx context.Context, id int64) (ledger.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.RunRecord{}, ledger.ErrRunNotFound
	}
	return rec, err
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]ledger.RunRecord, error) {
	if limit <= 0 {
		limit = ledger.DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.RunRecord{}
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) CreateToolCall(ctx context.Context, runID *int64, name string, params json.RawMessage) (int64, error) {
	var run any
	if runID != nil {
		run = *runID
	}
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO tool_calls(run_id, name, params, status) VALUES($1, $2, $3::jsonb, $4) RETURNING id`,
		run, name, nullableJSON(params), string(ledger.ToolCallQueued),
	).Scan(&id)
	return id, err
}

func (s *Store) StartToolCall(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM tool_calls WHERE id = $1 FOR UPDATE`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.ErrToolCallNotFound
		}
		if err != nil {
			return err
		}
		if ledger.ToolCallStatus(status) != ledger.ToolCallQueued {
			return ledger.ErrToolCallNotRunning
		}
		_, err = tx.ExecContext(ctx, `UPDATE tool_calls SET status = $1, started_at = now() WHERE id = $2`,
			string(ledger.ToolCallRunning), id)
		return err
	})
}

func (s *Store) CompleteToolCall(ctx context.Context, id int64, completion ledger.ToolCallCompletion) error {
	if completion.Status != ledger.ToolCallSucceeded && completion.Status != ledger.ToolCallFailed {
		return ledger.ErrInvalidTransition
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM tool_calls WHERE id = $1 FOR UPDATE`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.ErrToolCallNotFound
		}
		if err != nil {
			return err
		}
		if ledger.ToolCallStatus(status).Terminal() {
			return ledger.ErrToolCallCompleted
		}
		var errText any
		if completion.Error != "" {
			errText = completion.Error
		}
		_, err = tx.ExecContext(ctx, `UPDATE tool_calls
SET status = $1, result = $2::jsonb, error = $3, finished_at = now(),
    duration_ms = (EXTRACT(EPOCH FROM (now() - started_at)) * 1000)::bigint
WHERE id = $4`,
			string(completion.Status), nullableJSON(completion.Result), errText, id,
		)
		return err
	})
}

const toolCallColumns = `id, run_id, name, params::text, result::text, status, error, started_at, finished_at, duration_ms`

func (s *Store) GetToolCall(ctx context.Context, id int64) (ledger.ToolCallRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+toolCallColumns+` FROM tool_calls WHERE id = $1`, id)
	rec, err := scanToolCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ToolCallRecord{}, ledger.ErrToolCallNotFound
	}
	return rec, err
}

func (s *Store) ListToolCalls(ctx context.Context, runID int64) ([]ledger.ToolCallRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+toolCallColumns+` FROM tool_calls WHERE run_id = $1 ORDER BY id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.ToolCallRecord{}
	for rows.Next() {
		rec, err := scanToolCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (ledger.RunRecord, error) {
	var (
		rec                           ledger.RunRecord
		event, status                 string
		plan, approvals, result, link sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.CreatedAt, &event, &plan, &status, &approvals, &result, &link); err != nil {
		return ledger.RunRecord{}, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.Event = json.RawMessage(event)
	rec.Status = ledger.RunStatus(status)
	rec.Plan = rawOrNil(plan)
	rec.Approvals = rawOrNil(approvals)
	rec.Result = rawOrNil(result)
	rec.Links = rawOrNil(link)
	return rec, nil
}

func scanToolCall(row scanner) (ledger.ToolCallRecord, error) {
	var (
		rec                     ledger.ToolCallRecord
		runID, duration         sql.NullInt64
		params, result, errText sql.NullString
		status                  string
		finishedAt              sql.NullTime
	)
	if err := row.Scan(&rec.ID, &runID, &rec.Name, &params, &result, &status, &errText, &rec.StartedAt, &finishedAt, &duration); err != nil {
		return ledger.ToolCallRecord{}, err
	}
	if runID.Valid {
		id := runID.Int64
		rec.RunID = &id
	}
	rec.Params = rawOrNil(params)
	rec.Result = rawOrNil(result)
	rec.Status = ledger.ToolCallStatus(status)
	if errText.Valid {
		msg := errText.String
		rec.Error = &msg
	}
	rec.StartedAt = rec.StartedAt.UTC()
	if finishedAt.Valid {
		finished := finishedAt.Time.UTC()
		rec.FinishedAt = &finished
	}
	if duration.Valid {
		ms := duration.Int64
		rec.DurationMS = &ms
	}
	return rec, nil
}

func rawOrNil(v sql.NullString) json.RawMessage {
	if !v.Valid {
		return nil
	}
	return json.RawMessage(v.String)
}

func nullableJSON(raw json.RawMessage) any {
	if raw == nil {
		return nil
	}
	return string(raw)
}
