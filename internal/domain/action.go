package domain

import "time"

type ActionType string

const (
	ActionTypeAuthorize     ActionType = "AuthorizeAction"
	ActionTypeMoneyTransfer ActionType = "MoneyTransfer"
)

// ActionStatus follows a small state machine: Active is the only
// non-terminal state, and every transition out of it sets an end date.
type ActionStatus string

const (
	ActionStatusActive    ActionStatus = "Active"
	ActionStatusCompleted ActionStatus = "Completed"
	ActionStatusCanceled  ActionStatus = "Canceled"
	ActionStatusFailed    ActionStatus = "Failed"
)

// ActionObjectType narrows what an action does on the external ledger.
type ActionObjectType string

const (
	ActionObjectDeposit  ActionObjectType = "Deposit"
	ActionObjectWithdraw ActionObjectType = "Withdraw"
	ActionObjectTransfer ActionObjectType = "Transfer"
)

// ActionObject describes the ledger operation an action stands for.
type ActionObject struct {
	TypeOf       ActionObjectType `json:"typeOf"`
	Amount       int64            `json:"amount"`
	FromLocation *Location        `json:"fromLocation,omitempty"`
	ToLocation   *Location        `json:"toLocation,omitempty"`
	Notes        string           `json:"notes,omitempty"`
}

// ActionPurpose links an action to the transaction it serves.
type ActionPurpose struct {
	TypeOf TransactionType `json:"typeOf"`
	ID     string          `json:"id"`
}

// Hold is the reference to an authorization hold on an external ledger: the
// ledger's own transaction id and endpoint, keyed by operation type. It is
// the system's only handle on the hold.
type Hold struct {
	TypeOf   ActionObjectType `json:"typeOf"`
	ID       string           `json:"id"`
	Endpoint string           `json:"endpoint"`
}

// ActionResult is present only on Completed actions. For authorize actions
// it carries the hold reference later used to settle or void.
type ActionResult struct {
	Amount int64 `json:"amount"`
	Hold   *Hold `json:"hold,omitempty"`
}

// ActionError records why an action was given up.
type ActionError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Action is the audit record of one coordinator-initiated step. StartDate
// and EndDate are set by the action ledger on transition, never by callers.
type Action struct {
	ID           string        `json:"id"`
	TypeOf       ActionType    `json:"typeOf"`
	ActionStatus ActionStatus  `json:"actionStatus"`
	Agent        Party         `json:"agent"`
	Recipient    Party         `json:"recipient"`
	Object       ActionObject  `json:"object"`
	Purpose      ActionPurpose `json:"purpose"`
	Result       *ActionResult `json:"result,omitempty"`
	Error        *ActionError  `json:"error,omitempty"`
	StartDate    time.Time     `json:"startDate"`
	EndDate      *time.Time    `json:"endDate,omitempty"`
}

// ActionAttributes is what callers supply to open an action; identity,
// status and dates are assigned by the action ledger.
type ActionAttributes struct {
	TypeOf    ActionType    `json:"typeOf"`
	Agent     Party         `json:"agent"`
	Recipient Party         `json:"recipient"`
	Object    ActionObject  `json:"object"`
	Purpose   ActionPurpose `json:"purpose"`
}

// MoneyTransferAttributes is the potential action synthesized at confirm
// time and executed asynchronously by the dispatcher.
type MoneyTransferAttributes struct {
	TypeOf       ActionType    `json:"typeOf"`
	Description  string        `json:"description,omitempty"`
	Amount       int64         `json:"amount"`
	Agent        Party         `json:"agent"`
	Recipient    Party         `json:"recipient"`
	FromLocation Location      `json:"fromLocation"`
	ToLocation   Location      `json:"toLocation"`
	Purpose      ActionPurpose `json:"purpose"`
}
