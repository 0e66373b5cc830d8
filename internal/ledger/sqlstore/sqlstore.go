package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/juanpasaflipz/agentic-devops/internal/ledger"
)

// timeLayout sorts lexically in the same order as the instants it encodes.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func OpenSQLite(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Durable() bool { return true }

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(timeLayout)
}

func (s *Store) CreateRun(ctx context.Context, event json.RawMessage) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(created_at, event, status) VALUES(?,?,?)`,
		s.stamp(), string(nonNullJSON(event)), string(ledger.RunPending),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) UpdateRun(ctx context.Context, id int64, update ledger.RunUpdate) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM runs WHERE id = ?`, id).Scan(&status)
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
			sets = append(sets, "status = ?")
			args = append(args, string(*update.Status))
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
			sets = append(sets, col.name+" = ?")
			args = append(args, string(col.raw))
		}
		if len(sets) == 0 {
			return nil
		}
		args = append(args, id)
		_, err = tx.ExecContext(ctx, `UPDATE runs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
		return err
	})
}

const runColumns = `id, created_at, event, plan, status, approvals, result, links`

func (s *Store) GetRun(ctx context.Context, id int64) (ledger.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
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
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
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
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_calls(run_id, name, params, status, started_at) VALUES(?,?,?,?,?)`,
		run, name, nullableJSON(params), string(ledger.ToolCallQueued), s.stamp(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) StartToolCall(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM tool_calls WHERE id = ?`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.ErrToolCallNotFound
		}
		if err != nil {
			return err
		}
		if ledger.ToolCallStatus(status) != ledger.ToolCallQueued {
			return ledger.ErrToolCallNotRunning
		}
		_, err = tx.ExecContext(ctx, `UPDATE tool_calls SET status = ?, started_at = ? WHERE id = ?`,
			string(ledger.ToolCallRunning), s.stamp(), id)
		return err
	})
}

func (s *Store) CompleteToolCall(ctx context.Context, id int64, completion ledger.ToolCallCompletion) error {
	if completion.Status != ledger.ToolCallSucceeded && completion.Status != ledger.ToolCallFailed {
		return ledger.ErrInvalidTransition
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var status, startedAt string
		err := tx.QueryRowContext(ctx, `SELECT status, started_at FROM tool_calls WHERE id = ?`, id).Scan(&status, &startedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.ErrToolCallNotFound
		}
		if err != nil {
			return err
		}
		if ledger.ToolCallStatus(status).Terminal() {
			return ledger.ErrToolCallCompleted
		}

		finished := s.now().UTC()
		var duration int64
		if started, err := time.Parse(timeLayout, startedAt); err == nil {
			duration = finished.Sub(started).Milliseconds()
		}
		var errText any
		if completion.Error != "" {
			errText = completion.Error
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE tool_calls SET status = ?, result = ?, error = ?, finished_at = ?, duration_ms = ? WHERE id = ?`,
			string(completion.Status), nullableJSON(completion.Result), errText, finished.Format(timeLayout), duration, id,
		)
		return err
	})
}

const toolCallColumns = `id, run_id, name, params, result, status, error, started_at, finished_at, duration_ms`

func (s *Store) GetToolCall(ctx context.Context, id int64) (ledger.ToolCallRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+toolCallColumns+` FROM tool_calls WHERE id = ?`, id)
	rec, err := scanToolCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ToolCallRecord{}, ledger.ErrToolCallNotFound
	}
	return rec, err
}

func (s *Store) ListToolCalls(ctx context.Context, runID int64) ([]ledger.ToolCallRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+toolCallColumns+` FROM tool_calls WHERE run_id = ? ORDER BY id ASC`, runID)
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
		createdAt, event, status      string
		plan, approvals, result, link sql.NullString
	)
	if err := row.Scan(&rec.ID, &createdAt, &event, &plan, &status, &approvals, &result, &link); err != nil {
		return ledger.RunRecord{}, err
	}
	created, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return ledger.RunRecord{}, err
	}
	rec.CreatedAt = created
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
		status, startedAt       string
		finishedAt              sql.NullString
	)
	if err := row.Scan(&rec.ID, &runID, &rec.Name, &params, &result, &status, &errText, &startedAt, &finishedAt, &duration); err != nil {
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
	started, err := time.Parse(timeLayout, startedAt)
	if err != nil {
		return ledger.ToolCallRecord{}, err
	}
	rec.StartedAt = started
	if finishedAt.Valid {
		finished, err := time.Parse(timeLayout, finishedAt.String)
		if err != nil {
			return ledger.ToolCallRecord{}, err
		}
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

func nonNullJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}
