// Package app holds the coordinator, the task export, the settlement
// dispatcher and the task runner. Everything here dispatches over the
// transaction type with an exhaustive switch; an unknown type is always an
// Argument error, never a silent default.
package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mocoin/domain/internal/clock"
	"github.com/mocoin/domain/internal/domain"
)

type TransactionRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	Start(ctx context.Context, params domain.TransactionStartParams, now time.Time) (domain.Transaction, error)
	FindByID(ctx context.Context, typeOf domain.TransactionType, id string) (domain.Transaction, error)
	Confirm(ctx context.Context, typeOf domain.TransactionType, id string, object domain.TransactionObject, potentialActions domain.PotentialActions, confirmDate time.Time) error
	Cancel(ctx context.Context, typeOf domain.TransactionType, id string, cancelDate time.Time) error
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
	StartExportTasks(ctx context.Context, statuses []domain.TransactionStatus) (*domain.Transaction, error)
	ClaimTasksExport(ctx context.Context, typeOf domain.TransactionType, id string) (bool, error)
	SetTasksExportedByID(ctx context.Context, id string) error
}

type ActionRepository interface {
	Start(ctx context.Context, attrs domain.ActionAttributes, now time.Time) (domain.Action, error)
	Complete(ctx context.Context, typeOf domain.ActionType, id string, result domain.ActionResult, now time.Time) (domain.Action, error)
	Cancel(ctx context.Context, typeOf domain.ActionType, id string, now time.Time) (domain.Action, error)
	GiveUp(ctx context.Context, typeOf domain.ActionType, id string, actionError domain.ActionError, now time.Time) (domain.Action, error)
	FindAuthorizeByTransactionID(ctx context.Context, transactionID string) ([]domain.Action, error)
	SearchMoneyTransfer(ctx context.Context, accountNumber string, limit int) ([]domain.Action, error)
}

// LedgerService is one external ledger's hold lifecycle. The coordinator
// holds two: the coin-account ledger and the bank-account ledger.
type LedgerService interface {
	AuthorizeDeposit(ctx context.Context, tx domain.Transaction) (domain.Hold, error)
	AuthorizeWithdraw(ctx context.Context, tx domain.Transaction) (domain.Hold, error)
	AuthorizeTransfer(ctx context.Context, tx domain.Transaction) (domain.Hold, error)
	Settle(ctx context.Context, hold domain.Hold) error
	Void(ctx context.Context, hold domain.Hold) error
}

type TokenSigner interface {
	Sign(tx domain.Transaction) (string, error)
	Verify(token string) (domain.Transaction, error)
}

// Coordinator drives the saga: start places holds, confirm fixes the
// outcome and synthesizes the deferred money transfer, export materializes
// it as a task. The coordinator never settles or voids anything itself;
// settlement is the dispatcher's job.
type Coordinator struct {
	transactions TransactionRepository
	actions      ActionRepository
	coin         LedgerService
	bank         LedgerService
	signer       TokenSigner
	clock        clock.Clock
	log          *zap.SugaredLogger
}

func NewCoordinator(
	transactions TransactionRepository,
	actions ActionRepository,
	coin, bank LedgerService,
	signer TokenSigner,
	clk clock.Clock,
	log *zap.SugaredLogger,
) *Coordinator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Coordinator{
		transactions: transactions,
		actions:      actions,
		coin:         coin,
		bank:         bank,
		signer:       signer,
		clock:        clk,
		log:          log,
	}
}

// StartParams describes the transaction a caller wants to open.
type StartParams struct {
	TypeOf       domain.TransactionType
	Agent        domain.Party
	Recipient    domain.Party
	Amount       int64
	FromLocation *domain.Location
	ToLocation   *domain.Location
	Notes        string
	Expires      time.Time
}

// StartResult is the opened transaction plus its portable token. Token is
// empty for TransferCoin, which is confirmed by id by the same caller.
type StartResult struct {
	Transaction domain.Transaction
	Token       string
}

// Start validates the request, opens the transaction and places every hold
// the type requires, each recorded as an authorize action. If a later hold
// fails after an earlier one succeeded, the earlier holds are voided and
// their actions canceled before the failure is returned.
func (c *Coordinator) Start(ctx context.Context, params StartParams) (StartResult, error) {
	now := c.clock.Now()
	if err := c.validateStart(params, now); err != nil {
		return StartResult{}, err
	}

	tx, err := c.transactions.Start(ctx, domain.TransactionStartParams{
		TypeOf:    params.TypeOf,
		Agent:     params.Agent,
		Recipient: params.Recipient,
		Object: domain.TransactionObject{
			Amount:           params.Amount,
			FromLocation:     params.FromLocation,
			ToLocation:       params.ToLocation,
			Notes:            params.Notes,
			AuthorizeActions: []domain.Action{},
		},
		Expires: params.Expires,
	}, now)
	if err != nil {
		return StartResult{}, err
	}

	if err := c.placeHolds(ctx, tx); err != nil {
		return StartResult{}, err
	}

	result := StartResult{Transaction: tx}
	if params.TypeOf != domain.TransactionTypeTransferCoin {
		token, err := c.signer.Sign(tx)
		if err != nil {
			return StartResult{}, err
		}
		result.Token = token
	}
	return result, nil
}

func (c *Coordinator) validateStart(params StartParams, now time.Time) error {
	if !validTransactionType(params.TypeOf) {
		return domain.NewArgumentError("typeOf", "unknown transaction type "+string(params.TypeOf))
	}
	if params.Amount <= 0 {
		return domain.NewArgumentError("amount", "must be positive")
	}
	if !params.Expires.After(now) {
		return domain.NewArgumentError("expires", "must be in the future")
	}

	from, to, err := locationKinds(params.TypeOf)
	if err != nil {
		return err
	}
	if err := validateLocation("fromLocation", params.FromLocation, from); err != nil {
		return err
	}
	return validateLocation("toLocation", params.ToLocation, to)
}

// locationKinds returns the required from/to location kinds per transaction
// type. WithdrawCoin's destination is outside any ledger, so its toLocation
// requirement is Anonymous.
func locationKinds(typeOf domain.TransactionType) (domain.LocationType, domain.LocationType, error) {
	switch typeOf {
	case domain.TransactionTypeBuyCoin, domain.TransactionTypeDepositCoin:
		return domain.LocationPaymentMethod, domain.LocationAccount, nil
	case domain.TransactionTypeReturnCoin:
		return domain.LocationAccount, domain.LocationPaymentMethod, nil
	case domain.TransactionTypeTransferCoin:
		return domain.LocationAccount, domain.LocationAccount, nil
	case domain.TransactionTypeWithdrawCoin:
		return domain.LocationAccount, domain.LocationAnonymous, nil
	default:
		return "", "", domain.NewArgumentError("typeOf", "unknown transaction type "+string(typeOf))
	}
}

func validateLocation(name string, loc *domain.Location, want domain.LocationType) error {
	if loc == nil {
		return domain.NewArgumentError(name, "required")
	}
	if loc.TypeOf != want {
		return domain.NewArgumentError(name, "must be "+string(want))
	}
	if want == domain.LocationAnonymous {
		return nil
	}
	if loc.AccountNumber == "" {
		return domain.NewArgumentError(name, "accountNumber required")
	}
	return nil
}

// authorization is one hold the transaction type requires: which ledger,
// which operation.
type authorization struct {
	ledger    LedgerService
	operation domain.ActionObjectType
}

func (c *Coordinator) holdPlan(typeOf domain.TransactionType) ([]authorization, error) {
	switch typeOf {
	case domain.TransactionTypeBuyCoin:
		return []authorization{
			{c.bank, domain.ActionObjectWithdraw},
			{c.coin, domain.ActionObjectDeposit},
		}, nil
	case domain.TransactionTypeDepositCoin:
		return []authorization{{c.coin, domain.ActionObjectDeposit}}, nil
	case domain.TransactionTypeReturnCoin:
		return []authorization{
			{c.coin, domain.ActionObjectWithdraw},
			{c.bank, domain.ActionObjectDeposit},
		}, nil
	case domain.TransactionTypeTransferCoin:
		return []authorization{{c.coin, domain.ActionObjectTransfer}}, nil
	case domain.TransactionTypeWithdrawCoin:
		return []authorization{{c.coin, domain.ActionObjectWithdraw}}, nil
	default:
		return nil, domain.NewArgumentError("typeOf", "unknown transaction type "+string(typeOf))
	}
}

func (c *Coordinator) placeHolds(ctx context.Context, tx domain.Transaction) error {
	plan, err := c.holdPlan(tx.TypeOf)
	if err != nil {
		return err
	}

	var placed []domain.Action
	for _, auth := range plan {
		action, err := c.placeHold(ctx, tx, auth)
		if err != nil {
			c.voidPlaced(ctx, placed)
			return err
		}
		placed = append(placed, action)
	}
	return nil
}

// placeHold records one authorize action around one gateway call: open the
// action, place the hold, complete the action with the hold reference. A
// gateway failure gives the action up with the classified error and
// returns it.
func (c *Coordinator) placeHold(ctx context.Context, tx domain.Transaction, auth authorization) (domain.Action, error) {
	action, err := c.actions.Start(ctx, domain.ActionAttributes{
		TypeOf:    domain.ActionTypeAuthorize,
		Agent:     tx.Agent,
		Recipient: tx.Recipient,
		Object: domain.ActionObject{
			TypeOf:       auth.operation,
			Amount:       tx.Object.Amount,
			FromLocation: tx.Object.FromLocation,
			ToLocation:   tx.Object.ToLocation,
			Notes:        tx.Object.Notes,
		},
		Purpose: domain.ActionPurpose{TypeOf: tx.TypeOf, ID: tx.ID},
	}, c.clock.Now())
	if err != nil {
		return domain.Action{}, err
	}

	hold, err := c.authorize(ctx, auth, tx)
	if err != nil {
		actionError := domain.ActionError{Message: err.Error()}
		var derr *domain.Error
		if errors.As(err, &derr) {
			actionError.Code = string(derr.Code)
		}
		if _, gerr := c.actions.GiveUp(ctx, domain.ActionTypeAuthorize, action.ID, actionError, c.clock.Now()); gerr != nil {
			c.log.Errorw("give up authorize action", "actionID", action.ID, "error", gerr)
		}
		return domain.Action{}, err
	}

	return c.actions.Complete(ctx, domain.ActionTypeAuthorize, action.ID, domain.ActionResult{
		Amount: tx.Object.Amount,
		Hold:   &hold,
	}, c.clock.Now())
}

func (c *Coordinator) authorize(ctx context.Context, auth authorization, tx domain.Transaction) (domain.Hold, error) {
	switch auth.operation {
	case domain.ActionObjectDeposit:
		return auth.ledger.AuthorizeDeposit(ctx, tx)
	case domain.ActionObjectWithdraw:
		return auth.ledger.AuthorizeWithdraw(ctx, tx)
	case domain.ActionObjectTransfer:
		return auth.ledger.AuthorizeTransfer(ctx, tx)
	default:
		return domain.Hold{}, domain.NewArgumentError("operation", "unknown operation "+string(auth.operation))
	}
}

// voidPlaced best-effort compensates the holds already placed when a later
// one fails: void the hold, cancel its action. Failures are logged and
// otherwise swallowed; the transaction will expire and follow the
// compensation path anyway.
func (c *Coordinator) voidPlaced(ctx context.Context, placed []domain.Action) {
	for _, action := range placed {
		if action.Result == nil || action.Result.Hold == nil {
			continue
		}
		if err := c.gatewayFor(action.Purpose.TypeOf, action.Result.Hold.TypeOf).Void(ctx, *action.Result.Hold); err != nil {
			c.log.Errorw("void hold after partial authorization",
				"actionID", action.ID, "holdID", action.Result.Hold.ID, "error", err)
			continue
		}
		if _, err := c.actions.Cancel(ctx, domain.ActionTypeAuthorize, action.ID, c.clock.Now()); err != nil {
			c.log.Errorw("cancel authorize action", "actionID", action.ID, "error", err)
		}
	}
}

// gatewayFor maps a (transaction type, hold operation) pair back to the
// ledger that placed the hold.
func (c *Coordinator) gatewayFor(typeOf domain.TransactionType, operation domain.ActionObjectType) LedgerService {
	if typeOf == domain.TransactionTypeBuyCoin && operation == domain.ActionObjectWithdraw {
		return c.bank
	}
	if typeOf == domain.TransactionTypeReturnCoin && operation == domain.ActionObjectDeposit {
		return c.bank
	}
	return c.coin
}

// ConfirmParams resolves the transaction to confirm: a signed token for the
// tokenized types, or a direct id for TransferCoin.
type ConfirmParams struct {
	Token  string
	TypeOf domain.TransactionType
	ID     string
}

// Confirm fixes the transaction's outcome. It attaches the completed
// authorize actions to the object, synthesizes the deferred money transfer
// and persists Confirmed. It never talks to a ledger; the holds stay in
// place until the dispatcher settles them.
func (c *Coordinator) Confirm(ctx context.Context, params ConfirmParams) (domain.Transaction, error) {
	confirmDate := c.clock.Now()

	typeOf, id, err := c.resolveConfirmTarget(params)
	if err != nil {
		return domain.Transaction{}, err
	}

	tx, err := c.transactions.FindByID(ctx, typeOf, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if tx.Status != domain.TransactionStatusInProgress {
		return domain.Transaction{}, domain.NewArgumentError("transaction", "not in progress")
	}

	authorizeActions, err := c.actions.FindAuthorizeByTransactionID(ctx, tx.ID)
	if err != nil {
		return domain.Transaction{}, err
	}

	object := tx.Object
	object.AuthorizeActions = endedBefore(authorizeActions, confirmDate)

	toLocation, err := settlementToLocation(tx)
	if err != nil {
		return domain.Transaction{}, err
	}

	potentialActions := domain.PotentialActions{
		MoneyTransfer: domain.MoneyTransferAttributes{
			TypeOf:       domain.ActionTypeMoneyTransfer,
			Description:  tx.Object.Notes,
			Amount:       tx.Object.Amount,
			Agent:        tx.Agent,
			Recipient:    tx.Recipient,
			FromLocation: *tx.Object.FromLocation,
			ToLocation:   toLocation,
			Purpose:      domain.ActionPurpose{TypeOf: tx.TypeOf, ID: tx.ID},
		},
	}

	if err := c.transactions.Confirm(ctx, tx.TypeOf, tx.ID, object, potentialActions, confirmDate); err != nil {
		return domain.Transaction{}, err
	}

	tx.Status = domain.TransactionStatusConfirmed
	tx.Object = object
	tx.PotentialActions = &potentialActions
	tx.EndDate = &confirmDate
	return tx, nil
}

func (c *Coordinator) resolveConfirmTarget(params ConfirmParams) (domain.TransactionType, string, error) {
	if params.Token != "" {
		tx, err := c.signer.Verify(params.Token)
		if err != nil {
			return "", "", err
		}
		return tx.TypeOf, tx.ID, nil
	}
	// Only TransferCoin is confirmed by bare id; every other type must
	// present its token.
	if params.TypeOf != domain.TransactionTypeTransferCoin {
		return "", "", domain.NewArgumentError("token", "required")
	}
	if params.ID == "" {
		return "", "", domain.NewArgumentError("id", "required")
	}
	return params.TypeOf, params.ID, nil
}

// endedBefore keeps the authorize actions that ended strictly before the
// confirm date, whatever their outcome; failed ones stay on the record and
// the dispatcher settles only the completed ones. A hold completing
// concurrently with the confirm is left out; its funds come back when the
// hold expires on the ledger.
func endedBefore(actions []domain.Action, confirmDate time.Time) []domain.Action {
	ended := make([]domain.Action, 0, len(actions))
	for _, action := range actions {
		if action.EndDate == nil || !action.EndDate.Before(confirmDate) {
			continue
		}
		ended = append(ended, action)
	}
	return ended
}

// settlementToLocation is where the money ends up from the settled
// transfer's point of view. WithdrawCoin pays out to a party outside any
// ledger, so its destination becomes Anonymous under the recipient's name.
func settlementToLocation(tx domain.Transaction) (domain.Location, error) {
	switch tx.TypeOf {
	case domain.TransactionTypeWithdrawCoin:
		return domain.Location{TypeOf: domain.LocationAnonymous, Name: tx.Recipient.Name}, nil
	case domain.TransactionTypeBuyCoin, domain.TransactionTypeDepositCoin,
		domain.TransactionTypeReturnCoin, domain.TransactionTypeTransferCoin:
		if tx.Object.ToLocation == nil {
			return domain.Location{}, domain.NewArgumentError("toLocation", "required")
		}
		return *tx.Object.ToLocation, nil
	default:
		return domain.Location{}, domain.NewArgumentError("typeOf", "unknown transaction type "+string(tx.TypeOf))
	}
}

// Cancel moves an in-progress transaction to Canceled. The holds are voided
// later, by the exported CancelMoneyTransfer task.
func (c *Coordinator) Cancel(ctx context.Context, typeOf domain.TransactionType, id string) error {
	return c.transactions.Cancel(ctx, typeOf, id, c.clock.Now())
}

// SweepExpired expires every in-progress transaction past its deadline so
// it follows the same compensation path as a canceled one.
func (c *Coordinator) SweepExpired(ctx context.Context) error {
	count, err := c.transactions.SweepExpired(ctx, c.clock.Now())
	if err != nil {
		return err
	}
	if count > 0 {
		c.log.Infow("expired transactions", "count", count)
	}
	return nil
}

// SearchMoneyTransferActions returns the settled movements touching an
// account, newest first. This is the statement read path.
func (c *Coordinator) SearchMoneyTransferActions(ctx context.Context, accountNumber string, limit int) ([]domain.Action, error) {
	if accountNumber == "" {
		return nil, domain.NewArgumentError("accountNumber", "required")
	}
	return c.actions.SearchMoneyTransfer(ctx, accountNumber, limit)
}

func validTransactionType(typeOf domain.TransactionType) bool {
	for _, t := range domain.TransactionTypes {
		if t == typeOf {
			return true
		}
	}
	return false
}
