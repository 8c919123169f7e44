package ledger

import (
	"context"
	"time"

	"github.com/mocoin/domain/internal/domain"
)

// holdExpiryGrace extends every hold past the transaction's own expiry so a
// confirm racing the deadline still finds a live hold.
const holdExpiryGrace = time.Hour

// Service exposes the hold lifecycle of one ledger: authorize places a hold,
// Settle makes it permanent, Void releases it. The coin-account ledger and
// the bank-account ledger are two instances of this type. Every returned
// error is already classified.
type Service struct {
	client *Client
}

func NewService(client *Client) *Service {
	return &Service{client: client}
}

func (s *Service) Endpoint() string {
	return s.client.Endpoint()
}

// AuthorizeWithdraw places a withdraw hold on the transaction's from
// location.
func (s *Service) AuthorizeWithdraw(ctx context.Context, tx domain.Transaction) (domain.Hold, error) {
	started, err := s.client.StartWithdraw(ctx, s.startParams(tx))
	if err != nil {
		return domain.Hold{}, Classify(err)
	}
	return s.hold(domain.ActionObjectWithdraw, started), nil
}

// AuthorizeDeposit places a deposit hold on the transaction's to location.
func (s *Service) AuthorizeDeposit(ctx context.Context, tx domain.Transaction) (domain.Hold, error) {
	started, err := s.client.StartDeposit(ctx, s.startParams(tx))
	if err != nil {
		return domain.Hold{}, Classify(err)
	}
	return s.hold(domain.ActionObjectDeposit, started), nil
}

// AuthorizeTransfer places a transfer hold covering both locations.
func (s *Service) AuthorizeTransfer(ctx context.Context, tx domain.Transaction) (domain.Hold, error) {
	started, err := s.client.StartTransfer(ctx, s.startParams(tx))
	if err != nil {
		return domain.Hold{}, Classify(err)
	}
	return s.hold(domain.ActionObjectTransfer, started), nil
}

// Settle confirms a previously placed hold, making the movement permanent.
// The ledger treats a repeated confirm as a no-op, so settling is idempotent
// from this side.
func (s *Service) Settle(ctx context.Context, hold domain.Hold) error {
	switch hold.TypeOf {
	case domain.ActionObjectDeposit:
		return Classify(s.client.ConfirmDeposit(ctx, hold.ID))
	case domain.ActionObjectWithdraw:
		return Classify(s.client.ConfirmWithdraw(ctx, hold.ID))
	case domain.ActionObjectTransfer:
		return Classify(s.client.ConfirmTransfer(ctx, hold.ID))
	default:
		return domain.NewArgumentError("hold", "unknown hold type "+string(hold.TypeOf))
	}
}

// Void cancels a previously placed hold, releasing the reserved funds.
func (s *Service) Void(ctx context.Context, hold domain.Hold) error {
	switch hold.TypeOf {
	case domain.ActionObjectDeposit:
		return Classify(s.client.CancelDeposit(ctx, hold.ID))
	case domain.ActionObjectWithdraw:
		return Classify(s.client.CancelWithdraw(ctx, hold.ID))
	case domain.ActionObjectTransfer:
		return Classify(s.client.CancelTransfer(ctx, hold.ID))
	default:
		return domain.NewArgumentError("hold", "unknown hold type "+string(hold.TypeOf))
	}
}

func (s *Service) startParams(tx domain.Transaction) StartParams {
	params := StartParams{
		Agent:     tx.Agent,
		Recipient: tx.Recipient,
		Amount:    tx.Object.Amount,
		Notes:     tx.Object.Notes,
		Expires:   tx.Expires.Add(holdExpiryGrace),
	}
	if tx.Object.FromLocation != nil {
		params.FromAccountNumber = tx.Object.FromLocation.AccountNumber
	}
	if tx.Object.ToLocation != nil {
		params.ToAccountNumber = tx.Object.ToLocation.AccountNumber
	}
	return params
}

func (s *Service) hold(typeOf domain.ActionObjectType, started StartedTransaction) domain.Hold {
	return domain.Hold{
		TypeOf:   typeOf,
		ID:       started.ID,
		Endpoint: s.client.Endpoint(),
	}
}
