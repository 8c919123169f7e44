package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mocoin/domain/internal/domain"
)

// TaskRepository is the durable at-least-once work queue. Tasks are never
// deleted, only transitioned, and the claim is a single atomic statement so
// concurrent pollers can never double-claim a row.
type TaskRepository struct {
	pool *pgxpool.Pool
}

func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

const taskColumns = `id, name, status, runs_at, remaining_number_of_tries, number_of_tried, last_tried_at, execution_results, data`

// Save inserts a Ready task.
func (r *TaskRepository) Save(ctx context.Context, attrs domain.TaskAttributes) (domain.Task, error) {
	task := domain.Task{
		ID:                     uuid.NewString(),
		Name:                   attrs.Name,
		Status:                 domain.TaskStatusReady,
		RunsAt:                 attrs.RunsAt,
		RemainingNumberOfTries: attrs.RemainingNumberOfTries,
		ExecutionResults:       []domain.ExecutionResult{},
		Data:                   attrs.Data,
	}

	dataJSON, err := json.Marshal(task.Data)
	if err != nil {
		return domain.Task{}, fmt.Errorf("encode task data: %w", err)
	}

	const stmt = `
INSERT INTO tasks (id, name, status, runs_at, remaining_number_of_tries, number_of_tried, execution_results, data)
VALUES ($1, $2, $3, $4, $5, 0, '[]'::jsonb, $6)`

	_, err = r.exec(ctx, stmt,
		task.ID, task.Name, task.Status, task.RunsAt, task.RemainingNumberOfTries, dataJSON,
	)
	if err != nil {
		return domain.Task{}, fmt.Errorf("save task: %w", err)
	}
	return task, nil
}

// ExecuteOneByName atomically claims the most eligible Ready task for a
// handler: least tried first, then oldest due. The select and the
// transition to Running (with the try counters moved in the same statement)
// are one statement, with SKIP LOCKED so competing pollers fall through to
// the next row. A NotFound simply means nothing is due.
func (r *TaskRepository) ExecuteOneByName(ctx context.Context, name domain.TaskName, now time.Time) (domain.Task, error) {
	query := fmt.Sprintf(`
UPDATE tasks
SET status = $1,
	last_tried_at = $2,
	remaining_number_of_tries = remaining_number_of_tries - 1,
	number_of_tried = number_of_tried + 1
WHERE id = (
	SELECT id FROM tasks
	WHERE status = $3 AND runs_at < $2 AND name = $4
	ORDER BY number_of_tried ASC, runs_at ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING %s`, taskColumns)

	task, err := scanTask(r.queryRow(ctx, query, domain.TaskStatusRunning, now, domain.TaskStatusReady, name))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Task{}, domain.NewNotFoundError("executable task")
		}
		return domain.Task{}, fmt.Errorf("execute one by name: %w", err)
	}
	return task, nil
}

// Retry rescues tasks stuck Running past the interval back to Ready, as
// long as they still have tries left. This also catches tasks orphaned by a
// crashed worker.
func (r *TaskRepository) Retry(ctx context.Context, intervalMinutes int, now time.Time) error {
	lastTriedBefore := now.Add(-time.Duration(intervalMinutes) * time.Minute)

	const stmt = `
UPDATE tasks
SET status = $1
WHERE status = $2
  AND last_tried_at IS NOT NULL
  AND last_tried_at < $3
  AND remaining_number_of_tries > 0`

	_, err := r.exec(ctx, stmt, domain.TaskStatusReady, domain.TaskStatusRunning, lastTriedBefore)
	if err != nil {
		return fmt.Errorf("retry tasks: %w", err)
	}
	return nil
}

// AbortOne picks one task stuck Running past the interval with its try
// budget exhausted and moves it to Aborted. NotFound when no such task.
func (r *TaskRepository) AbortOne(ctx context.Context, intervalMinutes int, now time.Time) (domain.Task, error) {
	lastTriedBefore := now.Add(-time.Duration(intervalMinutes) * time.Minute)

	query := fmt.Sprintf(`
UPDATE tasks
SET status = $1
WHERE id = (
	SELECT id FROM tasks
	WHERE status = $2
	  AND last_tried_at IS NOT NULL
	  AND last_tried_at < $3
	  AND remaining_number_of_tries = 0
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING %s`, taskColumns)

	task, err := scanTask(r.queryRow(ctx, query, domain.TaskStatusAborted, domain.TaskStatusRunning, lastTriedBefore))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Task{}, domain.NewNotFoundError("abortable task")
		}
		return domain.Task{}, fmt.Errorf("abort one: %w", err)
	}
	return task, nil
}

// PushExecutionResultByID appends to the execution history and sets the
// status the caller decided on. A failed handler passes the task's current
// status back in, leaving it Running for the sweeps to deal with.
func (r *TaskRepository) PushExecutionResultByID(ctx context.Context, id string, status domain.TaskStatus, result domain.ExecutionResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode execution result: %w", err)
	}

	const stmt = `
UPDATE tasks
SET status = $2, execution_results = execution_results || $3::jsonb
WHERE id = $1`

	tag, err := r.exec(ctx, stmt, id, status, resultJSON)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.NewNotFoundError("task")
		}
		return fmt.Errorf("push execution result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("task")
	}
	return nil
}

// FindByID returns one task.
func (r *TaskRepository) FindByID(ctx context.Context, id string) (domain.Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE id = $1`, taskColumns)

	task, err := scanTask(r.queryRow(ctx, query, id))
	if err != nil {
		if isInvalidUUID(err) || err == pgx.ErrNoRows {
			return domain.Task{}, domain.NewNotFoundError("task")
		}
		return domain.Task{}, fmt.Errorf("find task: %w", err)
	}
	return task, nil
}

func scanTask(row pgx.Row) (domain.Task, error) {
	var (
		task        domain.Task
		lastTriedAt *time.Time
		resultsJSON []byte
		dataJSON    []byte
	)

	err := row.Scan(
		&task.ID, &task.Name, &task.Status, &task.RunsAt,
		&task.RemainingNumberOfTries, &task.NumberOfTried,
		&lastTriedAt, &resultsJSON, &dataJSON,
	)
	if err != nil {
		return domain.Task{}, err
	}

	if err := json.Unmarshal(resultsJSON, &task.ExecutionResults); err != nil {
		return domain.Task{}, fmt.Errorf("decode execution results: %w", err)
	}
	if err := json.Unmarshal(dataJSON, &task.Data); err != nil {
		return domain.Task{}, fmt.Errorf("decode task data: %w", err)
	}
	task.LastTriedAt = lastTriedAt
	return task, nil
}

func (r *TaskRepository) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return r.pool.Exec(ctx, sql, args...)
}

func (r *TaskRepository) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return r.pool.QueryRow(ctx, sql, args...)
}
