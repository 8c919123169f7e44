package app

import (
	"context"
	"time"

	"github.com/mocoin/domain/internal/clock"
	"github.com/mocoin/domain/internal/domain"
)

type TaskRepository interface {
	Save(ctx context.Context, attrs domain.TaskAttributes) (domain.Task, error)
	ExecuteOneByName(ctx context.Context, name domain.TaskName, now time.Time) (domain.Task, error)
	Retry(ctx context.Context, intervalMinutes int, now time.Time) error
	AbortOne(ctx context.Context, intervalMinutes int, now time.Time) (domain.Task, error)
	PushExecutionResultByID(ctx context.Context, id string, status domain.TaskStatus, result domain.ExecutionResult) error
}

// taskTryBudget is the try budget every exported task starts with.
const taskTryBudget = 10

// Exporter turns finished transactions into tasks: Confirmed becomes a
// MoneyTransfer task, Canceled and Expired become a CancelMoneyTransfer
// task. The export flag on the transaction guarantees each one exports at
// most once, no matter how many workers sweep or how often ByID is called.
type Exporter struct {
	transactions TransactionRepository
	tasks        TaskRepository
	clock        clock.Clock
}

func NewExporter(transactions TransactionRepository, tasks TaskRepository, clk clock.Clock) *Exporter {
	return &Exporter{transactions: transactions, tasks: tasks, clock: clk}
}

// ExportTasks claims one unexported finished transaction in the given
// statuses, exports its task and marks it Exported. Claim, task insert and
// flag flip run in one database transaction, so a failure part-way leaves
// the transaction Unexported for the next sweep. Returns false when no
// transaction was waiting.
func (e *Exporter) ExportTasks(ctx context.Context, statuses []domain.TransactionStatus) (bool, error) {
	exported := false
	err := e.transactions.WithTx(ctx, func(ctx context.Context) error {
		tx, err := e.transactions.StartExportTasks(ctx, statuses)
		if err != nil {
			return err
		}
		if tx == nil {
			return nil
		}

		if err := e.saveTaskFor(ctx, *tx); err != nil {
			return err
		}
		if err := e.transactions.SetTasksExportedByID(ctx, tx.ID); err != nil {
			return err
		}
		exported = true
		return nil
	})
	return exported, err
}

// ExportTasksByID exports one specific transaction's task. The export flag
// is claimed atomically first, so a second call (or a sweep racing this
// one) is a no-op rather than a duplicate task. An in-progress transaction
// has no outcome to export yet.
func (e *Exporter) ExportTasksByID(ctx context.Context, typeOf domain.TransactionType, id string) error {
	tx, err := e.transactions.FindByID(ctx, typeOf, id)
	if err != nil {
		return err
	}
	if tx.Status == domain.TransactionStatusInProgress {
		return domain.NewNotImplementedError("transaction has not finished yet")
	}

	return e.transactions.WithTx(ctx, func(ctx context.Context) error {
		claimed, err := e.transactions.ClaimTasksExport(ctx, typeOf, id)
		if err != nil {
			return err
		}
		if !claimed {
			return nil
		}

		if err := e.saveTaskFor(ctx, tx); err != nil {
			return err
		}
		return e.transactions.SetTasksExportedByID(ctx, tx.ID)
	})
}

func (e *Exporter) saveTaskFor(ctx context.Context, tx domain.Transaction) error {
	attrs := domain.TaskAttributes{
		RunsAt:                 e.clock.Now(),
		RemainingNumberOfTries: taskTryBudget,
	}

	switch tx.Status {
	case domain.TransactionStatusConfirmed:
		if tx.PotentialActions == nil {
			return domain.NewArgumentError("transaction", "confirmed without potential actions")
		}
		attrs.Name = domain.TaskNameMoneyTransfer
		attrs.Data = domain.TaskData{ActionAttributes: &tx.PotentialActions.MoneyTransfer}
	case domain.TransactionStatusCanceled, domain.TransactionStatusExpired:
		attrs.Name = domain.TaskNameCancelMoneyTransfer
		attrs.Data = domain.TaskData{Transaction: &domain.TransactionRef{TypeOf: tx.TypeOf, ID: tx.ID}}
	default:
		return domain.NewNotImplementedError("no tasks for status " + string(tx.Status))
	}

	_, err := e.tasks.Save(ctx, attrs)
	return err
}
