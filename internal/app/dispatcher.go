package app

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mocoin/domain/internal/clock"
	"github.com/mocoin/domain/internal/domain"
)

// Dispatcher executes the deferred outcome of a finished transaction:
// settling every hold of a confirmed one, voiding every hold of a canceled
// or expired one. Both operations are safe to repeat; the ledgers treat a
// repeated confirm or cancel of the same hold as a no-op.
type Dispatcher struct {
	transactions TransactionRepository
	actions      ActionRepository
	coin         LedgerService
	bank         LedgerService
	clock        clock.Clock
	log          *zap.SugaredLogger
}

func NewDispatcher(
	transactions TransactionRepository,
	actions ActionRepository,
	coin, bank LedgerService,
	clk clock.Clock,
	log *zap.SugaredLogger,
) *Dispatcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Dispatcher{
		transactions: transactions,
		actions:      actions,
		coin:         coin,
		bank:         bank,
		clock:        clk,
		log:          log,
	}
}

// MoneyTransfer settles every hold the confirmed transaction placed,
// recorded as one money-transfer action. The holds to settle come from the
// authorize actions attached to the transaction at confirm time, so a hold
// that completed after the confirm is never settled.
func (d *Dispatcher) MoneyTransfer(ctx context.Context, attrs domain.MoneyTransferAttributes) error {
	action, err := d.actions.Start(ctx, domain.ActionAttributes{
		TypeOf:    domain.ActionTypeMoneyTransfer,
		Agent:     attrs.Agent,
		Recipient: attrs.Recipient,
		Object: domain.ActionObject{
			TypeOf:       domain.ActionObjectTransfer,
			Amount:       attrs.Amount,
			FromLocation: &attrs.FromLocation,
			ToLocation:   &attrs.ToLocation,
			Notes:        attrs.Description,
		},
		Purpose: attrs.Purpose,
	}, d.clock.Now())
	if err != nil {
		return err
	}

	if err := d.settleAll(ctx, attrs.Purpose); err != nil {
		actionError := domain.ActionError{Message: err.Error()}
		var derr *domain.Error
		if errors.As(err, &derr) {
			actionError.Code = string(derr.Code)
		}
		if _, gerr := d.actions.GiveUp(ctx, domain.ActionTypeMoneyTransfer, action.ID, actionError, d.clock.Now()); gerr != nil {
			d.log.Errorw("give up money transfer action", "actionID", action.ID, "error", gerr)
		}
		return err
	}

	_, err = d.actions.Complete(ctx, domain.ActionTypeMoneyTransfer, action.ID, domain.ActionResult{
		Amount: attrs.Amount,
	}, d.clock.Now())
	return err
}

func (d *Dispatcher) settleAll(ctx context.Context, purpose domain.ActionPurpose) error {
	tx, err := d.transactions.FindByID(ctx, purpose.TypeOf, purpose.ID)
	if err != nil {
		return err
	}
	if tx.Status != domain.TransactionStatusConfirmed {
		return domain.NewArgumentError("transaction", "not confirmed")
	}

	group, gctx := errgroup.WithContext(ctx)
	for _, authorize := range tx.Object.AuthorizeActions {
		hold, ledger, ok, err := d.holdToDispatch(tx.TypeOf, authorize)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		group.Go(func() error {
			return ledger.Settle(gctx, hold)
		})
	}
	return group.Wait()
}

// CancelMoneyTransfer voids every hold the finished transaction still has.
// The authorize actions are read from the action ledger because a canceled
// or expired transaction never had them attached to its object.
func (d *Dispatcher) CancelMoneyTransfer(ctx context.Context, ref domain.TransactionRef) error {
	tx, err := d.transactions.FindByID(ctx, ref.TypeOf, ref.ID)
	if err != nil {
		return err
	}
	switch tx.Status {
	case domain.TransactionStatusCanceled, domain.TransactionStatusExpired:
	default:
		return domain.NewArgumentError("transaction", "not canceled or expired")
	}

	authorizeActions, err := d.actions.FindAuthorizeByTransactionID(ctx, tx.ID)
	if err != nil {
		return err
	}

	group, gctx := errgroup.WithContext(ctx)
	for _, authorize := range authorizeActions {
		hold, ledger, ok, err := d.holdToDispatch(tx.TypeOf, authorize)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		group.Go(func() error {
			return ledger.Void(gctx, hold)
		})
	}
	return group.Wait()
}

// holdToDispatch extracts the hold from a completed authorize action and
// picks the ledger it lives on. Actions without a completed result carry no
// hold and are skipped.
func (d *Dispatcher) holdToDispatch(typeOf domain.TransactionType, action domain.Action) (domain.Hold, LedgerService, bool, error) {
	if action.ActionStatus != domain.ActionStatusCompleted || action.Result == nil || action.Result.Hold == nil {
		return domain.Hold{}, nil, false, nil
	}
	hold := *action.Result.Hold

	switch typeOf {
	case domain.TransactionTypeBuyCoin:
		switch hold.TypeOf {
		case domain.ActionObjectWithdraw:
			return hold, d.bank, true, nil
		case domain.ActionObjectDeposit:
			return hold, d.coin, true, nil
		}
	case domain.TransactionTypeDepositCoin:
		if hold.TypeOf == domain.ActionObjectDeposit {
			return hold, d.coin, true, nil
		}
	case domain.TransactionTypeReturnCoin:
		switch hold.TypeOf {
		case domain.ActionObjectWithdraw:
			return hold, d.coin, true, nil
		case domain.ActionObjectDeposit:
			return hold, d.bank, true, nil
		}
	case domain.TransactionTypeTransferCoin:
		if hold.TypeOf == domain.ActionObjectTransfer {
			return hold, d.coin, true, nil
		}
	case domain.TransactionTypeWithdrawCoin:
		if hold.TypeOf == domain.ActionObjectWithdraw {
			return hold, d.coin, true, nil
		}
	default:
		return domain.Hold{}, nil, false, domain.NewArgumentError("typeOf", "unknown transaction type "+string(typeOf))
	}
	return domain.Hold{}, nil, false, domain.NewArgumentError("hold", "unexpected "+string(hold.TypeOf)+" hold on "+string(typeOf))
}
