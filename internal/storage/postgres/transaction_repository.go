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

// TransactionRepository persists saga instances. All mutations are
// single-row conditional updates; a transaction in a terminal status never
// re-enters InProgress.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

func (r *TransactionRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

const transactionColumns = `id, type_of, status, agent, recipient, object, expires, start_date, end_date, potential_actions, tasks_export_state`

// Start inserts a new InProgress transaction and assigns its identity.
func (r *TransactionRepository) Start(ctx context.Context, params domain.TransactionStartParams, now time.Time) (domain.Transaction, error) {
	tx := domain.Transaction{
		ID:               uuid.NewString(),
		TypeOf:           params.TypeOf,
		Status:           domain.TransactionStatusInProgress,
		Agent:            params.Agent,
		Recipient:        params.Recipient,
		Object:           params.Object,
		Expires:          params.Expires,
		StartDate:        now,
		TasksExportState: domain.TasksExportStateUnexported,
	}

	agent, recipient, object, err := marshalTransactionParts(tx)
	if err != nil {
		return domain.Transaction{}, err
	}

	const stmt = `
INSERT INTO transactions (id, type_of, status, agent, recipient, object, expires, start_date, tasks_export_state)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.exec(ctx, stmt,
		tx.ID, tx.TypeOf, tx.Status, agent, recipient, object, tx.Expires, tx.StartDate, tx.TasksExportState,
	)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("start transaction: %w", err)
	}
	return tx, nil
}

// FindByID returns the transaction matching both type and id.
func (r *TransactionRepository) FindByID(ctx context.Context, typeOf domain.TransactionType, id string) (domain.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE type_of = $1 AND id = $2`, transactionColumns)

	tx, err := scanTransaction(r.queryRow(ctx, query, typeOf, id))
	if err != nil {
		if isInvalidUUID(err) || err == pgx.ErrNoRows {
			return domain.Transaction{}, domain.NewNotFoundError("transaction")
		}
		return domain.Transaction{}, fmt.Errorf("find transaction: %w", err)
	}
	return tx, nil
}

// Confirm merges the confirmed object and potential actions into the
// transaction and moves it to Confirmed. Only an InProgress transaction can
// be confirmed.
func (r *TransactionRepository) Confirm(
	ctx context.Context,
	typeOf domain.TransactionType,
	id string,
	object domain.TransactionObject,
	potentialActions domain.PotentialActions,
	confirmDate time.Time,
) error {
	objectJSON, err := json.Marshal(object)
	if err != nil {
		return fmt.Errorf("encode object: %w", err)
	}
	potentialJSON, err := json.Marshal(potentialActions)
	if err != nil {
		return fmt.Errorf("encode potential actions: %w", err)
	}

	const stmt = `
UPDATE transactions
SET status = $4, object = $5, potential_actions = $6, end_date = $7
WHERE type_of = $1 AND id = $2 AND status = $3`

	tag, err := r.exec(ctx, stmt,
		typeOf, id, domain.TransactionStatusInProgress,
		domain.TransactionStatusConfirmed, objectJSON, potentialJSON, confirmDate,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.NewNotFoundError("transaction")
		}
		return fmt.Errorf("confirm transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("in progress transaction")
	}
	return nil
}

// Cancel moves an InProgress transaction to Canceled.
func (r *TransactionRepository) Cancel(ctx context.Context, typeOf domain.TransactionType, id string, cancelDate time.Time) error {
	return r.finish(ctx, typeOf, id, domain.TransactionStatusCanceled, cancelDate)
}

func (r *TransactionRepository) finish(ctx context.Context, typeOf domain.TransactionType, id string, status domain.TransactionStatus, endDate time.Time) error {
	const stmt = `
UPDATE transactions
SET status = $4, end_date = $5
WHERE type_of = $1 AND id = $2 AND status = $3`

	tag, err := r.exec(ctx, stmt, typeOf, id, domain.TransactionStatusInProgress, status, endDate)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.NewNotFoundError("transaction")
		}
		return fmt.Errorf("finish transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("in progress transaction")
	}
	return nil
}

// SweepExpired expires every InProgress transaction whose deadline has
// passed, so it follows the same compensation path as a canceled one.
func (r *TransactionRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	const stmt = `
UPDATE transactions
SET status = $1, end_date = expires
WHERE status = $2 AND expires < $3`

	tag, err := r.exec(ctx, stmt, domain.TransactionStatusExpired, domain.TransactionStatusInProgress, now)
	if err != nil {
		return 0, fmt.Errorf("sweep expired transactions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// StartExportTasks atomically claims one finished transaction whose tasks
// have not been exported yet, moving its export state to Exporting.
// Returns nil when no transaction is waiting.
func (r *TransactionRepository) StartExportTasks(ctx context.Context, statuses []domain.TransactionStatus) (*domain.Transaction, error) {
	states := make([]string, len(statuses))
	for i, s := range statuses {
		states[i] = string(s)
	}

	query := fmt.Sprintf(`
UPDATE transactions
SET tasks_export_state = $1
WHERE id = (
	SELECT id FROM transactions
	WHERE status = ANY($2) AND tasks_export_state = $3
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING %s`, transactionColumns)

	tx, err := scanTransaction(r.queryRow(ctx, query,
		domain.TasksExportStateExporting, states, domain.TasksExportStateUnexported,
	))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("start export tasks: %w", err)
	}
	return &tx, nil
}

// ClaimTasksExport flips the export state from Unexported to Exporting for
// one specific transaction. Returns false without error when the state was
// already claimed or exported, which makes id-based export idempotent.
func (r *TransactionRepository) ClaimTasksExport(ctx context.Context, typeOf domain.TransactionType, id string) (bool, error) {
	const stmt = `
UPDATE transactions
SET tasks_export_state = $4
WHERE type_of = $1 AND id = $2 AND tasks_export_state = $3`

	tag, err := r.exec(ctx, stmt, typeOf, id, domain.TasksExportStateUnexported, domain.TasksExportStateExporting)
	if err != nil {
		if isInvalidUUID(err) {
			return false, domain.NewNotFoundError("transaction")
		}
		return false, fmt.Errorf("claim tasks export: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetTasksExportedByID marks a transaction's task export as finished.
func (r *TransactionRepository) SetTasksExportedByID(ctx context.Context, id string) error {
	const stmt = `UPDATE transactions SET tasks_export_state = $2 WHERE id = $1`

	tag, err := r.exec(ctx, stmt, id, domain.TasksExportStateExported)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.NewNotFoundError("transaction")
		}
		return fmt.Errorf("set tasks exported: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("transaction")
	}
	return nil
}

func marshalTransactionParts(tx domain.Transaction) (agent, recipient, object []byte, err error) {
	if agent, err = json.Marshal(tx.Agent); err != nil {
		return nil, nil, nil, fmt.Errorf("encode agent: %w", err)
	}
	if recipient, err = json.Marshal(tx.Recipient); err != nil {
		return nil, nil, nil, fmt.Errorf("encode recipient: %w", err)
	}
	if object, err = json.Marshal(tx.Object); err != nil {
		return nil, nil, nil, fmt.Errorf("encode object: %w", err)
	}
	return agent, recipient, object, nil
}

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var (
		tx               domain.Transaction
		agentJSON        []byte
		recipientJSON    []byte
		objectJSON       []byte
		potentialJSON    []byte
		endDate          *time.Time
		tasksExportState string
	)

	err := row.Scan(
		&tx.ID, &tx.TypeOf, &tx.Status, &agentJSON, &recipientJSON, &objectJSON,
		&tx.Expires, &tx.StartDate, &endDate, &potentialJSON, &tasksExportState,
	)
	if err != nil {
		return domain.Transaction{}, err
	}

	if err := json.Unmarshal(agentJSON, &tx.Agent); err != nil {
		return domain.Transaction{}, fmt.Errorf("decode agent: %w", err)
	}
	if err := json.Unmarshal(recipientJSON, &tx.Recipient); err != nil {
		return domain.Transaction{}, fmt.Errorf("decode recipient: %w", err)
	}
	if err := json.Unmarshal(objectJSON, &tx.Object); err != nil {
		return domain.Transaction{}, fmt.Errorf("decode object: %w", err)
	}
	if len(potentialJSON) > 0 {
		var potential domain.PotentialActions
		if err := json.Unmarshal(potentialJSON, &potential); err != nil {
			return domain.Transaction{}, fmt.Errorf("decode potential actions: %w", err)
		}
		tx.PotentialActions = &potential
	}
	tx.EndDate = endDate
	tx.TasksExportState = domain.TasksExportState(tasksExportState)
	return tx, nil
}

func (r *TransactionRepository) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return r.pool.Exec(ctx, sql, args...)
}

func (r *TransactionRepository) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return r.pool.QueryRow(ctx, sql, args...)
}
