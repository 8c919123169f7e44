package domain

import "time"

// TransactionType enumerates the supported transaction kinds. Dispatch over
// this type always goes through an exhaustive switch with a default branch
// returning an Argument error, so an unknown value can never move money.
type TransactionType string

const (
	TransactionTypeBuyCoin      TransactionType = "BuyCoin"
	TransactionTypeDepositCoin  TransactionType = "DepositCoin"
	TransactionTypeReturnCoin   TransactionType = "ReturnCoin"
	TransactionTypeTransferCoin TransactionType = "TransferCoin"
	TransactionTypeWithdrawCoin TransactionType = "WithdrawCoin"
)

// TransactionTypes lists every valid transaction type.
var TransactionTypes = []TransactionType{
	TransactionTypeBuyCoin,
	TransactionTypeDepositCoin,
	TransactionTypeReturnCoin,
	TransactionTypeTransferCoin,
	TransactionTypeWithdrawCoin,
}

type TransactionStatus string

const (
	TransactionStatusInProgress TransactionStatus = "InProgress"
	TransactionStatusConfirmed  TransactionStatus = "Confirmed"
	TransactionStatusCanceled   TransactionStatus = "Canceled"
	TransactionStatusExpired    TransactionStatus = "Expired"
)

// TasksExportState tracks whether a finished transaction's deferred work has
// been materialized into tasks yet.
type TasksExportState string

const (
	TasksExportStateUnexported TasksExportState = "Unexported"
	TasksExportStateExporting  TasksExportState = "Exporting"
	TasksExportStateExported   TasksExportState = "Exported"
)

// TransactionObject carries the what of a transaction: the amount and where
// it moves from and to. AuthorizeActions stays empty until confirm time,
// when the completed holds are merged in.
type TransactionObject struct {
	Amount           int64     `json:"amount"`
	FromLocation     *Location `json:"fromLocation,omitempty"`
	ToLocation       *Location `json:"toLocation,omitempty"`
	Notes            string    `json:"notes,omitempty"`
	AuthorizeActions []Action  `json:"authorizeActions"`
}

// PotentialActions holds the deferred work computed at confirm time. It is
// absent for transactions that never reached Confirmed.
type PotentialActions struct {
	MoneyTransfer MoneyTransferAttributes `json:"moneyTransfer"`
}

// Transaction is one saga instance: holds placed at start, an outcome fixed
// at confirm/cancel/expire, and settlement or compensation exported as tasks.
type Transaction struct {
	ID               string            `json:"id"`
	TypeOf           TransactionType   `json:"typeOf"`
	Status           TransactionStatus `json:"status"`
	Agent            Party             `json:"agent"`
	Recipient        Party             `json:"recipient"`
	Object           TransactionObject `json:"object"`
	Expires          time.Time         `json:"expires"`
	StartDate        time.Time         `json:"startDate"`
	EndDate          *time.Time        `json:"endDate,omitempty"`
	PotentialActions *PotentialActions `json:"potentialActions,omitempty"`
	TasksExportState TasksExportState  `json:"tasksExportState"`
}

// TransactionRef identifies a transaction from a task payload.
type TransactionRef struct {
	TypeOf TransactionType `json:"typeOf"`
	ID     string          `json:"id"`
}

// TransactionStartParams carries what a caller supplies to open a
// transaction; identity, status and dates are assigned on insert.
type TransactionStartParams struct {
	TypeOf    TransactionType
	Agent     Party
	Recipient Party
	Object    TransactionObject
	Expires   time.Time
}
