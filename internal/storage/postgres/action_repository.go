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

// ActionRepository is the durable audit log of every coordinator-initiated
// step. Rows are only ever transitioned through the four state-machine
// moves; start and end dates are assigned here, never by callers.
type ActionRepository struct {
	pool *pgxpool.Pool
}

func NewActionRepository(pool *pgxpool.Pool) *ActionRepository {
	return &ActionRepository{pool: pool}
}

const actionColumns = `id, type_of, action_status, agent, recipient, object, purpose_type_of, purpose_id, result, error, start_date, end_date`

// Start opens an Active action.
func (r *ActionRepository) Start(ctx context.Context, attrs domain.ActionAttributes, now time.Time) (domain.Action, error) {
	action := domain.Action{
		ID:           uuid.NewString(),
		TypeOf:       attrs.TypeOf,
		ActionStatus: domain.ActionStatusActive,
		Agent:        attrs.Agent,
		Recipient:    attrs.Recipient,
		Object:       attrs.Object,
		Purpose:      attrs.Purpose,
		StartDate:    now,
	}

	agentJSON, err := json.Marshal(action.Agent)
	if err != nil {
		return domain.Action{}, fmt.Errorf("encode agent: %w", err)
	}
	recipientJSON, err := json.Marshal(action.Recipient)
	if err != nil {
		return domain.Action{}, fmt.Errorf("encode recipient: %w", err)
	}
	objectJSON, err := json.Marshal(action.Object)
	if err != nil {
		return domain.Action{}, fmt.Errorf("encode object: %w", err)
	}

	const stmt = `
INSERT INTO actions (id, type_of, action_status, agent, recipient, object, purpose_type_of, purpose_id, start_date)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.exec(ctx, stmt,
		action.ID, action.TypeOf, action.ActionStatus,
		agentJSON, recipientJSON, objectJSON,
		action.Purpose.TypeOf, action.Purpose.ID, action.StartDate,
	)
	if err != nil {
		return domain.Action{}, fmt.Errorf("start action: %w", err)
	}
	return action, nil
}

// Complete moves an action to Completed, attaching the result and setting
// the end date.
func (r *ActionRepository) Complete(ctx context.Context, typeOf domain.ActionType, id string, result domain.ActionResult, now time.Time) (domain.Action, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return domain.Action{}, fmt.Errorf("encode result: %w", err)
	}

	query := fmt.Sprintf(`
UPDATE actions
SET action_status = $3, result = $4, end_date = $5
WHERE type_of = $1 AND id = $2
RETURNING %s`, actionColumns)

	return r.scanOne(r.queryRow(ctx, query, typeOf, id, domain.ActionStatusCompleted, resultJSON, now))
}

// Cancel moves an action to Canceled.
func (r *ActionRepository) Cancel(ctx context.Context, typeOf domain.ActionType, id string, now time.Time) (domain.Action, error) {
	query := fmt.Sprintf(`
UPDATE actions
SET action_status = $3, end_date = $4
WHERE type_of = $1 AND id = $2
RETURNING %s`, actionColumns)

	return r.scanOne(r.queryRow(ctx, query, typeOf, id, domain.ActionStatusCanceled, now))
}

// GiveUp moves an action to Failed, recording why.
func (r *ActionRepository) GiveUp(ctx context.Context, typeOf domain.ActionType, id string, actionError domain.ActionError, now time.Time) (domain.Action, error) {
	errorJSON, err := json.Marshal(actionError)
	if err != nil {
		return domain.Action{}, fmt.Errorf("encode action error: %w", err)
	}

	query := fmt.Sprintf(`
UPDATE actions
SET action_status = $3, error = $4, end_date = $5
WHERE type_of = $1 AND id = $2
RETURNING %s`, actionColumns)

	return r.scanOne(r.queryRow(ctx, query, typeOf, id, domain.ActionStatusFailed, errorJSON, now))
}

// FindByID returns the action matching both type and id.
func (r *ActionRepository) FindByID(ctx context.Context, typeOf domain.ActionType, id string) (domain.Action, error) {
	query := fmt.Sprintf(`SELECT %s FROM actions WHERE type_of = $1 AND id = $2`, actionColumns)
	return r.scanOne(r.queryRow(ctx, query, typeOf, id))
}

// FindAuthorizeByTransactionID returns every authorize action serving the
// transaction, in any status. Callers filter by end date.
func (r *ActionRepository) FindAuthorizeByTransactionID(ctx context.Context, transactionID string) ([]domain.Action, error) {
	query := fmt.Sprintf(`
SELECT %s FROM actions
WHERE type_of = $1 AND purpose_id = $2
ORDER BY start_date ASC`, actionColumns)

	rows, err := r.query(ctx, query, domain.ActionTypeAuthorize, transactionID)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.NewNotFoundError("transaction")
		}
		return nil, fmt.Errorf("find authorize actions: %w", err)
	}
	defer rows.Close()

	return scanActions(rows)
}

// SearchMoneyTransfer returns money-transfer actions touching the account
// as source or destination, newest first. This is the statement read path.
func (r *ActionRepository) SearchMoneyTransfer(ctx context.Context, accountNumber string, limit int) ([]domain.Action, error) {
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
SELECT %s FROM actions
WHERE type_of = $1
  AND (
	(object -> 'fromLocation' ->> 'typeOf' = $2 AND object -> 'fromLocation' ->> 'accountNumber' = $3)
	OR
	(object -> 'toLocation' ->> 'typeOf' = $2 AND object -> 'toLocation' ->> 'accountNumber' = $3)
  )
ORDER BY end_date DESC NULLS LAST
LIMIT $4`, actionColumns)

	rows, err := r.query(ctx, query, domain.ActionTypeMoneyTransfer, domain.LocationAccount, accountNumber, limit)
	if err != nil {
		return nil, fmt.Errorf("search money transfer actions: %w", err)
	}
	defer rows.Close()

	return scanActions(rows)
}

func (r *ActionRepository) scanOne(row pgx.Row) (domain.Action, error) {
	action, err := scanAction(row)
	if err != nil {
		if isInvalidUUID(err) || err == pgx.ErrNoRows {
			return domain.Action{}, domain.NewNotFoundError("action")
		}
		return domain.Action{}, fmt.Errorf("scan action: %w", err)
	}
	return action, nil
}

func scanActions(rows pgx.Rows) ([]domain.Action, error) {
	var actions []domain.Action
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return actions, nil
}

func scanAction(row pgx.Row) (domain.Action, error) {
	var (
		action        domain.Action
		agentJSON     []byte
		recipientJSON []byte
		objectJSON    []byte
		resultJSON    []byte
		errorJSON     []byte
		endDate       *time.Time
	)

	err := row.Scan(
		&action.ID, &action.TypeOf, &action.ActionStatus,
		&agentJSON, &recipientJSON, &objectJSON,
		&action.Purpose.TypeOf, &action.Purpose.ID,
		&resultJSON, &errorJSON, &action.StartDate, &endDate,
	)
	if err != nil {
		return domain.Action{}, err
	}

	if err := json.Unmarshal(agentJSON, &action.Agent); err != nil {
		return domain.Action{}, fmt.Errorf("decode agent: %w", err)
	}
	if err := json.Unmarshal(recipientJSON, &action.Recipient); err != nil {
		return domain.Action{}, fmt.Errorf("decode recipient: %w", err)
	}
	if err := json.Unmarshal(objectJSON, &action.Object); err != nil {
		return domain.Action{}, fmt.Errorf("decode object: %w", err)
	}
	if len(resultJSON) > 0 {
		var result domain.ActionResult
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return domain.Action{}, fmt.Errorf("decode result: %w", err)
		}
		action.Result = &result
	}
	if len(errorJSON) > 0 {
		var actionError domain.ActionError
		if err := json.Unmarshal(errorJSON, &actionError); err != nil {
			return domain.Action{}, fmt.Errorf("decode action error: %w", err)
		}
		action.Error = &actionError
	}
	action.EndDate = endDate
	return action, nil
}

func (r *ActionRepository) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return r.pool.Exec(ctx, sql, args...)
}

func (r *ActionRepository) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return r.pool.QueryRow(ctx, sql, args...)
}

func (r *ActionRepository) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Query(ctx, sql, args...)
	}
	return r.pool.Query(ctx, sql, args...)
}
