package app

import (
	"context"
	"testing"
	"time"

	"github.com/mocoin/domain/internal/clock"
	"github.com/mocoin/domain/internal/domain"
)

// The full saga against fakes: start places holds, confirm fixes the
// outcome, export materializes the task, and the runner settles or voids
// exactly once.
func TestFlow(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	exportable := []domain.TransactionStatus{
		domain.TransactionStatusConfirmed,
		domain.TransactionStatusCanceled,
		domain.TransactionStatusExpired,
	}

	type fixture struct {
		*coordinatorFixture
		tasks      *fakeTaskRepo
		exporter   *Exporter
		dispatcher *Dispatcher
		runner     *Runner
	}

	// The runner's clock sits after the exporter's so exported tasks are
	// already due when the runner polls.
	newFixture := func(exportAt time.Time) *fixture {
		base := newCoordinatorFixture(now)
		tasks := &fakeTaskRepo{}
		runAt := clock.NewFixed(exportAt.Add(time.Minute))
		dispatcher := NewDispatcher(base.transactions, base.actions, base.coin, base.bank, runAt, nil)
		return &fixture{
			coordinatorFixture: base,
			tasks:              tasks,
			exporter:           NewExporter(base.transactions, tasks, clock.NewFixed(exportAt)),
			dispatcher:         dispatcher,
			runner:             NewRunner(tasks, dispatcher, &fakeNotifier{}, runAt, nil),
		}
	}

	t.Run("confirmed withdraw settles its hold exactly once", func(t *testing.T) {
		fx := newFixture(now.Add(2 * time.Minute))

		started, err := fx.coordinator.Start(context.Background(), validStartParams(domain.TransactionTypeWithdrawCoin, now))
		if err != nil {
			t.Fatalf("start: %v", err)
		}

		fx.coordinator.clock = clock.NewFixed(now.Add(time.Minute))
		if _, err := fx.coordinator.Confirm(context.Background(), ConfirmParams{Token: started.Token}); err != nil {
			t.Fatalf("confirm: %v", err)
		}

		exported, err := fx.exporter.ExportTasks(context.Background(), exportable)
		if err != nil || !exported {
			t.Fatalf("export: exported=%v err=%v", exported, err)
		}

		if err := fx.runner.ExecuteByName(context.Background(), domain.TaskNameMoneyTransfer); err != nil {
			t.Fatalf("execute: %v", err)
		}

		if len(fx.coin.settled) != 1 {
			t.Fatalf("expected exactly 1 settle, got %d", len(fx.coin.settled))
		}
		if len(fx.coin.voided) != 0 {
			t.Fatalf("expected no voids, got %d", len(fx.coin.voided))
		}
		if fx.tasks.tasks[0].Status != domain.TaskStatusExecuted {
			t.Fatalf("expected Executed task, got %s", fx.tasks.tasks[0].Status)
		}

		// A repeated export is a no-op, so the settle cannot run twice.
		if err := fx.exporter.ExportTasksByID(context.Background(), started.Transaction.TypeOf, started.Transaction.ID); err != nil {
			t.Fatalf("re-export: %v", err)
		}
		if len(fx.tasks.tasks) != 1 {
			t.Fatalf("expected 1 task after re-export, got %d", len(fx.tasks.tasks))
		}
	})

	t.Run("canceled transfer voids its hold", func(t *testing.T) {
		fx := newFixture(now.Add(2 * time.Minute))

		started, err := fx.coordinator.Start(context.Background(), validStartParams(domain.TransactionTypeTransferCoin, now))
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		if started.Token != "" {
			t.Fatalf("transfer should carry no token")
		}

		if err := fx.coordinator.Cancel(context.Background(), domain.TransactionTypeTransferCoin, started.Transaction.ID); err != nil {
			t.Fatalf("cancel: %v", err)
		}

		exported, err := fx.exporter.ExportTasks(context.Background(), exportable)
		if err != nil || !exported {
			t.Fatalf("export: exported=%v err=%v", exported, err)
		}
		if fx.tasks.tasks[0].Name != domain.TaskNameCancelMoneyTransfer {
			t.Fatalf("expected a cancel task, got %s", fx.tasks.tasks[0].Name)
		}

		if err := fx.runner.ExecuteByName(context.Background(), domain.TaskNameCancelMoneyTransfer); err != nil {
			t.Fatalf("execute: %v", err)
		}

		if len(fx.coin.voided) != 1 {
			t.Fatalf("expected exactly 1 void, got %d", len(fx.coin.voided))
		}
		if len(fx.coin.settled) != 0 {
			t.Fatalf("expected no settles, got %d", len(fx.coin.settled))
		}
	})

	t.Run("expired deposit follows the compensation path", func(t *testing.T) {
		fx := newFixture(now.Add(time.Hour))

		if _, err := fx.coordinator.Start(context.Background(), validStartParams(domain.TransactionTypeDepositCoin, now)); err != nil {
			t.Fatalf("start: %v", err)
		}

		fx.coordinator.clock = clock.NewFixed(now.Add(time.Hour))
		if err := fx.coordinator.SweepExpired(context.Background()); err != nil {
			t.Fatalf("sweep: %v", err)
		}

		exported, err := fx.exporter.ExportTasks(context.Background(), exportable)
		if err != nil || !exported {
			t.Fatalf("export: exported=%v err=%v", exported, err)
		}
		if err := fx.runner.ExecuteByName(context.Background(), domain.TaskNameCancelMoneyTransfer); err != nil {
			t.Fatalf("execute: %v", err)
		}

		if len(fx.coin.voided) != 1 {
			t.Fatalf("expected the deposit hold voided, got %d", len(fx.coin.voided))
		}
	})
}
