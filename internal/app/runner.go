package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mocoin/domain/internal/clock"
	"github.com/mocoin/domain/internal/domain"
)

// TaskHandler executes a task's payload. The dispatcher is the production
// implementation.
type TaskHandler interface {
	MoneyTransfer(ctx context.Context, attrs domain.MoneyTransferAttributes) error
	CancelMoneyTransfer(ctx context.Context, ref domain.TransactionRef) error
}

// Notifier reports operational events somewhere a developer will see them.
type Notifier interface {
	Notify(ctx context.Context, subject, content string) error
}

// Runner polls the task queue and runs tasks through their handlers. A
// handler failure is recorded on the task and otherwise swallowed; the
// retry and abort sweeps decide what happens to the task next.
type Runner struct {
	tasks    TaskRepository
	handler  TaskHandler
	notifier Notifier
	clock    clock.Clock
	log      *zap.SugaredLogger
}

func NewRunner(tasks TaskRepository, handler TaskHandler, notifier Notifier, clk clock.Clock, log *zap.SugaredLogger) *Runner {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Runner{
		tasks:    tasks,
		handler:  handler,
		notifier: notifier,
		clock:    clk,
		log:      log,
	}
}

// ExecuteByName claims and runs one due task for the handler. An empty
// queue is not an error.
func (r *Runner) ExecuteByName(ctx context.Context, name domain.TaskName) error {
	task, err := r.tasks.ExecuteOneByName(ctx, name, r.clock.Now())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	return r.Execute(ctx, task)
}

// Execute runs one claimed task and appends the outcome to its execution
// history. Success moves the task to Executed; failure records the error
// and leaves the status as it is, so the task stays Running until a sweep
// retries or aborts it.
func (r *Runner) Execute(ctx context.Context, task domain.Task) error {
	handlerErr := r.run(ctx, task)

	result := domain.ExecutionResult{ExecutedAt: r.clock.Now()}
	status := domain.TaskStatusExecuted
	if handlerErr != nil {
		result.Error = handlerErr.Error()
		status = task.Status
		r.log.Warnw("task failed",
			"taskID", task.ID, "name", task.Name, "numberOfTried", task.NumberOfTried, "error", handlerErr)
	}

	return r.tasks.PushExecutionResultByID(ctx, task.ID, status, result)
}

func (r *Runner) run(ctx context.Context, task domain.Task) error {
	switch task.Name {
	case domain.TaskNameMoneyTransfer:
		if task.Data.ActionAttributes == nil {
			return domain.NewArgumentError("task", "money transfer task without action attributes")
		}
		return r.handler.MoneyTransfer(ctx, *task.Data.ActionAttributes)
	case domain.TaskNameCancelMoneyTransfer:
		if task.Data.Transaction == nil {
			return domain.NewArgumentError("task", "cancel task without transaction reference")
		}
		return r.handler.CancelMoneyTransfer(ctx, *task.Data.Transaction)
	default:
		return domain.NewNotImplementedError("unknown task name " + string(task.Name))
	}
}

// Retry returns tasks stuck Running past the interval to Ready while they
// still have tries left.
func (r *Runner) Retry(ctx context.Context, intervalMinutes int) error {
	return r.tasks.Retry(ctx, intervalMinutes, r.clock.Now())
}

// Abort gives up on one task that is out of tries and reports it. A
// notifier failure is logged but never masks the abort itself.
func (r *Runner) Abort(ctx context.Context, intervalMinutes int) error {
	task, err := r.tasks.AbortOne(ctx, intervalMinutes, r.clock.Now())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}

	r.log.Errorw("task aborted",
		"taskID", task.ID, "name", task.Name, "numberOfTried", task.NumberOfTried)

	lastError := ""
	if n := len(task.ExecutionResults); n > 0 {
		lastError = task.ExecutionResults[n-1].Error
	}
	content := fmt.Sprintf(
		"id: %s\nname: %s\nrunsAt: %s\nlastTriedAt: %v\nnumberOfTried: %d\nlastError: %s",
		task.ID, task.Name, task.RunsAt, task.LastTriedAt, task.NumberOfTried, lastError,
	)
	if err := r.notifier.Notify(ctx, "task aborted", content); err != nil {
		r.log.Errorw("notify aborted task", "taskID", task.ID, "error", err)
	}
	return nil
}
