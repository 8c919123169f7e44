package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mocoin/domain/internal/domain"
)

type fakeTransactionRepo struct {
	transactions map[string]domain.Transaction
	nextID       int
}

func newFakeTransactionRepo() *fakeTransactionRepo {
	return &fakeTransactionRepo{transactions: map[string]domain.Transaction{}}
}

func (r *fakeTransactionRepo) put(tx domain.Transaction) {
	r.transactions[tx.ID] = tx
}

// WithTx mimics a rollback: transaction state written inside fn is restored
// when fn fails.
func (r *fakeTransactionRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	snapshot := make(map[string]domain.Transaction, len(r.transactions))
	for id, tx := range r.transactions {
		snapshot[id] = tx
	}
	if err := fn(ctx); err != nil {
		r.transactions = snapshot
		return err
	}
	return nil
}

func (r *fakeTransactionRepo) Start(_ context.Context, params domain.TransactionStartParams, now time.Time) (domain.Transaction, error) {
	r.nextID++
	tx := domain.Transaction{
		ID:               fmt.Sprintf("tx-%d", r.nextID),
		TypeOf:           params.TypeOf,
		Status:           domain.TransactionStatusInProgress,
		Agent:            params.Agent,
		Recipient:        params.Recipient,
		Object:           params.Object,
		Expires:          params.Expires,
		StartDate:        now,
		TasksExportState: domain.TasksExportStateUnexported,
	}
	r.transactions[tx.ID] = tx
	return tx, nil
}

func (r *fakeTransactionRepo) FindByID(_ context.Context, typeOf domain.TransactionType, id string) (domain.Transaction, error) {
	tx, ok := r.transactions[id]
	if !ok || tx.TypeOf != typeOf {
		return domain.Transaction{}, domain.NewNotFoundError("transaction")
	}
	return tx, nil
}

func (r *fakeTransactionRepo) Confirm(_ context.Context, typeOf domain.TransactionType, id string, object domain.TransactionObject, potentialActions domain.PotentialActions, confirmDate time.Time) error {
	tx, ok := r.transactions[id]
	if !ok || tx.TypeOf != typeOf || tx.Status != domain.TransactionStatusInProgress {
		return domain.NewNotFoundError("in progress transaction")
	}
	tx.Status = domain.TransactionStatusConfirmed
	tx.Object = object
	tx.PotentialActions = &potentialActions
	tx.EndDate = &confirmDate
	r.transactions[id] = tx
	return nil
}

func (r *fakeTransactionRepo) Cancel(_ context.Context, typeOf domain.TransactionType, id string, cancelDate time.Time) error {
	tx, ok := r.transactions[id]
	if !ok || tx.TypeOf != typeOf || tx.Status != domain.TransactionStatusInProgress {
		return domain.NewNotFoundError("in progress transaction")
	}
	tx.Status = domain.TransactionStatusCanceled
	tx.EndDate = &cancelDate
	r.transactions[id] = tx
	return nil
}

func (r *fakeTransactionRepo) SweepExpired(_ context.Context, now time.Time) (int64, error) {
	var count int64
	for id, tx := range r.transactions {
		if tx.Status == domain.TransactionStatusInProgress && tx.Expires.Before(now) {
			tx.Status = domain.TransactionStatusExpired
			tx.EndDate = &now
			r.transactions[id] = tx
			count++
		}
	}
	return count, nil
}

func (r *fakeTransactionRepo) StartExportTasks(_ context.Context, statuses []domain.TransactionStatus) (*domain.Transaction, error) {
	ids := make([]string, 0, len(r.transactions))
	for id := range r.transactions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		tx := r.transactions[id]
		if tx.TasksExportState != domain.TasksExportStateUnexported {
			continue
		}
		for _, status := range statuses {
			if tx.Status == status {
				tx.TasksExportState = domain.TasksExportStateExporting
				r.transactions[id] = tx
				return &tx, nil
			}
		}
	}
	return nil, nil
}

func (r *fakeTransactionRepo) ClaimTasksExport(_ context.Context, typeOf domain.TransactionType, id string) (bool, error) {
	tx, ok := r.transactions[id]
	if !ok || tx.TypeOf != typeOf {
		return false, domain.NewNotFoundError("transaction")
	}
	if tx.TasksExportState != domain.TasksExportStateUnexported {
		return false, nil
	}
	tx.TasksExportState = domain.TasksExportStateExporting
	r.transactions[id] = tx
	return true, nil
}

func (r *fakeTransactionRepo) SetTasksExportedByID(_ context.Context, id string) error {
	tx, ok := r.transactions[id]
	if !ok {
		return domain.NewNotFoundError("transaction")
	}
	tx.TasksExportState = domain.TasksExportStateExported
	r.transactions[id] = tx
	return nil
}

type fakeActionRepo struct {
	actions []domain.Action
	nextID  int

	startErr error
}

func newFakeActionRepo() *fakeActionRepo {
	return &fakeActionRepo{}
}

func (r *fakeActionRepo) Start(_ context.Context, attrs domain.ActionAttributes, now time.Time) (domain.Action, error) {
	if r.startErr != nil {
		return domain.Action{}, r.startErr
	}
	r.nextID++
	action := domain.Action{
		ID:           fmt.Sprintf("action-%d", r.nextID),
		TypeOf:       attrs.TypeOf,
		ActionStatus: domain.ActionStatusActive,
		Agent:        attrs.Agent,
		Recipient:    attrs.Recipient,
		Object:       attrs.Object,
		Purpose:      attrs.Purpose,
		StartDate:    now,
	}
	r.actions = append(r.actions, action)
	return action, nil
}

func (r *fakeActionRepo) transition(typeOf domain.ActionType, id string, status domain.ActionStatus, now time.Time, mutate func(*domain.Action)) (domain.Action, error) {
	for i := range r.actions {
		if r.actions[i].ID != id || r.actions[i].TypeOf != typeOf {
			continue
		}
		r.actions[i].ActionStatus = status
		r.actions[i].EndDate = &now
		if mutate != nil {
			mutate(&r.actions[i])
		}
		return r.actions[i], nil
	}
	return domain.Action{}, domain.NewNotFoundError("action")
}

func (r *fakeActionRepo) Complete(_ context.Context, typeOf domain.ActionType, id string, result domain.ActionResult, now time.Time) (domain.Action, error) {
	return r.transition(typeOf, id, domain.ActionStatusCompleted, now, func(a *domain.Action) {
		a.Result = &result
	})
}

func (r *fakeActionRepo) Cancel(_ context.Context, typeOf domain.ActionType, id string, now time.Time) (domain.Action, error) {
	return r.transition(typeOf, id, domain.ActionStatusCanceled, now, nil)
}

func (r *fakeActionRepo) GiveUp(_ context.Context, typeOf domain.ActionType, id string, actionError domain.ActionError, now time.Time) (domain.Action, error) {
	return r.transition(typeOf, id, domain.ActionStatusFailed, now, func(a *domain.Action) {
		a.Error = &actionError
	})
}

func (r *fakeActionRepo) FindAuthorizeByTransactionID(_ context.Context, transactionID string) ([]domain.Action, error) {
	var found []domain.Action
	for _, action := range r.actions {
		if action.TypeOf == domain.ActionTypeAuthorize && action.Purpose.ID == transactionID {
			found = append(found, action)
		}
	}
	return found, nil
}

func (r *fakeActionRepo) SearchMoneyTransfer(_ context.Context, accountNumber string, _ int) ([]domain.Action, error) {
	var found []domain.Action
	for _, action := range r.actions {
		if action.TypeOf != domain.ActionTypeMoneyTransfer {
			continue
		}
		from := action.Object.FromLocation
		to := action.Object.ToLocation
		if (from != nil && from.TypeOf == domain.LocationAccount && from.AccountNumber == accountNumber) ||
			(to != nil && to.TypeOf == domain.LocationAccount && to.AccountNumber == accountNumber) {
			found = append(found, action)
		}
	}
	return found, nil
}

func (r *fakeActionRepo) byStatus(status domain.ActionStatus) []domain.Action {
	var found []domain.Action
	for _, action := range r.actions {
		if action.ActionStatus == status {
			found = append(found, action)
		}
	}
	return found
}

// fakeLedger records every call. Error fields make the next matching call
// fail.
type fakeLedger struct {
	name   string
	nextID int

	depositErr  error
	withdrawErr error
	transferErr error
	settleErr   error
	voidErr     error

	authorized []domain.Hold
	settled    []domain.Hold
	voided     []domain.Hold
}

func (l *fakeLedger) hold(typeOf domain.ActionObjectType) domain.Hold {
	l.nextID++
	hold := domain.Hold{
		TypeOf:   typeOf,
		ID:       fmt.Sprintf("%s-hold-%d", l.name, l.nextID),
		Endpoint: "https://" + l.name + ".example.com",
	}
	l.authorized = append(l.authorized, hold)
	return hold
}

func (l *fakeLedger) AuthorizeDeposit(_ context.Context, _ domain.Transaction) (domain.Hold, error) {
	if l.depositErr != nil {
		return domain.Hold{}, l.depositErr
	}
	return l.hold(domain.ActionObjectDeposit), nil
}

func (l *fakeLedger) AuthorizeWithdraw(_ context.Context, _ domain.Transaction) (domain.Hold, error) {
	if l.withdrawErr != nil {
		return domain.Hold{}, l.withdrawErr
	}
	return l.hold(domain.ActionObjectWithdraw), nil
}

func (l *fakeLedger) AuthorizeTransfer(_ context.Context, _ domain.Transaction) (domain.Hold, error) {
	if l.transferErr != nil {
		return domain.Hold{}, l.transferErr
	}
	return l.hold(domain.ActionObjectTransfer), nil
}

func (l *fakeLedger) Settle(_ context.Context, hold domain.Hold) error {
	if l.settleErr != nil {
		return l.settleErr
	}
	l.settled = append(l.settled, hold)
	return nil
}

func (l *fakeLedger) Void(_ context.Context, hold domain.Hold) error {
	if l.voidErr != nil {
		return l.voidErr
	}
	l.voided = append(l.voided, hold)
	return nil
}

type fakeTaskRepo struct {
	tasks  []domain.Task
	nextID int

	saveErr error
}

func (r *fakeTaskRepo) Save(_ context.Context, attrs domain.TaskAttributes) (domain.Task, error) {
	if r.saveErr != nil {
		return domain.Task{}, r.saveErr
	}
	r.nextID++
	task := domain.Task{
		ID:                     fmt.Sprintf("task-%d", r.nextID),
		Name:                   attrs.Name,
		Status:                 domain.TaskStatusReady,
		RunsAt:                 attrs.RunsAt,
		RemainingNumberOfTries: attrs.RemainingNumberOfTries,
		ExecutionResults:       []domain.ExecutionResult{},
		Data:                   attrs.Data,
	}
	r.tasks = append(r.tasks, task)
	return task, nil
}

func (r *fakeTaskRepo) ExecuteOneByName(_ context.Context, name domain.TaskName, now time.Time) (domain.Task, error) {
	for i := range r.tasks {
		task := &r.tasks[i]
		if task.Status != domain.TaskStatusReady || task.Name != name || !task.RunsAt.Before(now) {
			continue
		}
		task.Status = domain.TaskStatusRunning
		task.LastTriedAt = &now
		task.RemainingNumberOfTries--
		task.NumberOfTried++
		return *task, nil
	}
	return domain.Task{}, domain.NewNotFoundError("executable task")
}

func (r *fakeTaskRepo) Retry(_ context.Context, intervalMinutes int, now time.Time) error {
	cutoff := now.Add(-time.Duration(intervalMinutes) * time.Minute)
	for i := range r.tasks {
		task := &r.tasks[i]
		if task.Status == domain.TaskStatusRunning && task.LastTriedAt != nil &&
			task.LastTriedAt.Before(cutoff) && task.RemainingNumberOfTries > 0 {
			task.Status = domain.TaskStatusReady
		}
	}
	return nil
}

func (r *fakeTaskRepo) AbortOne(_ context.Context, intervalMinutes int, now time.Time) (domain.Task, error) {
	cutoff := now.Add(-time.Duration(intervalMinutes) * time.Minute)
	for i := range r.tasks {
		task := &r.tasks[i]
		if task.Status == domain.TaskStatusRunning && task.LastTriedAt != nil &&
			task.LastTriedAt.Before(cutoff) && task.RemainingNumberOfTries == 0 {
			task.Status = domain.TaskStatusAborted
			return *task, nil
		}
	}
	return domain.Task{}, domain.NewNotFoundError("abortable task")
}

func (r *fakeTaskRepo) PushExecutionResultByID(_ context.Context, id string, status domain.TaskStatus, result domain.ExecutionResult) error {
	for i := range r.tasks {
		if r.tasks[i].ID != id {
			continue
		}
		r.tasks[i].Status = status
		r.tasks[i].ExecutionResults = append(r.tasks[i].ExecutionResults, result)
		return nil
	}
	return domain.NewNotFoundError("task")
}

type notification struct {
	subject string
	content string
}

type fakeNotifier struct {
	err  error
	sent []notification
}

func (n *fakeNotifier) Notify(_ context.Context, subject, content string) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, notification{subject: subject, content: content})
	return nil
}

// fakeHandler records task executions for runner tests.
type fakeHandler struct {
	transferErr error
	cancelErr   error

	transfers []domain.MoneyTransferAttributes
	cancels   []domain.TransactionRef
}

func (h *fakeHandler) MoneyTransfer(_ context.Context, attrs domain.MoneyTransferAttributes) error {
	if h.transferErr != nil {
		return h.transferErr
	}
	h.transfers = append(h.transfers, attrs)
	return nil
}

func (h *fakeHandler) CancelMoneyTransfer(_ context.Context, ref domain.TransactionRef) error {
	if h.cancelErr != nil {
		return h.cancelErr
	}
	h.cancels = append(h.cancels, ref)
	return nil
}
