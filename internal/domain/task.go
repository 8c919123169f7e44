package domain

import "time"

// TaskName identifies which handler runs a task.
type TaskName string

const (
	TaskNameMoneyTransfer       TaskName = "MoneyTransfer"
	TaskNameCancelMoneyTransfer TaskName = "CancelMoneyTransfer"
)

// TaskNames lists every task name a runner can poll for.
var TaskNames = []TaskName{
	TaskNameMoneyTransfer,
	TaskNameCancelMoneyTransfer,
}

type TaskStatus string

const (
	TaskStatusReady    TaskStatus = "Ready"
	TaskStatusRunning  TaskStatus = "Running"
	TaskStatusExecuted TaskStatus = "Executed"
	TaskStatusAborted  TaskStatus = "Aborted"
)

// ExecutionResult is one entry in a task's append-only execution history.
// Error is empty on success.
type ExecutionResult struct {
	ExecutedAt time.Time `json:"executedAt"`
	Error      string    `json:"error"`
}

// TaskData is the task payload, tagged by task name: MoneyTransfer tasks
// carry the action attributes to execute, CancelMoneyTransfer tasks carry a
// reference to the transaction whose holds must be voided.
type TaskData struct {
	ActionAttributes *MoneyTransferAttributes `json:"actionAttributes,omitempty"`
	Transaction      *TransactionRef          `json:"transaction,omitempty"`
}

// Task is a unit of deferred, retryable work. Tasks are never deleted, only
// transitioned, so the rows double as a durable execution history.
type Task struct {
	ID                     string            `json:"id"`
	Name                   TaskName          `json:"name"`
	Status                 TaskStatus        `json:"status"`
	RunsAt                 time.Time         `json:"runsAt"`
	RemainingNumberOfTries int               `json:"remainingNumberOfTries"`
	NumberOfTried          int               `json:"numberOfTried"`
	LastTriedAt            *time.Time        `json:"lastTriedAt,omitempty"`
	ExecutionResults       []ExecutionResult `json:"executionResults"`
	Data                   TaskData          `json:"data"`
}

// TaskAttributes is what export supplies to enqueue a task.
type TaskAttributes struct {
	Name                   TaskName  `json:"name"`
	RunsAt                 time.Time `json:"runsAt"`
	RemainingNumberOfTries int       `json:"remainingNumberOfTries"`
	Data                   TaskData  `json:"data"`
}
