// Package bankaccount implements the bank account aggregate: a
// deterministic state machine whose state is the fold of its event
// history, with business invariants enforced at command time.
package bankaccount

import "github.com/plaenen/bankledger/pkg/money"

// Event type tags. These are the canonical, on-wire names used by the
// codec (see codec.go) and are never renamed without a schema migration.
const (
	EventBankAccountOpened        = "BankAccountOpened"
	EventMoneyDeposited           = "MoneyDeposited"
	EventMoneyWithdrawn           = "MoneyWithdrawn"
	EventAccountFrozen            = "AccountFrozen"
	EventAccountUnfrozen          = "AccountUnfrozen"
	EventAccountClosed            = "AccountClosed"
	EventOverdraftLimitChanged    = "OverdraftLimitChanged"
	EventAccountHolderNameChanged = "AccountHolderNameChanged"
	EventFeeApplied               = "FeeApplied"
)

// BankAccountOpenedPayload is the payload of EventBankAccountOpened.
type BankAccountOpenedPayload struct {
	AccountHolder  string      `json:"accountHolder"`
	OverdraftLimit string      `json:"overdraftLimit"`
	InitialBalance money.Money `json:"initialBalance"`
}

// MoneyDepositedPayload is the payload of EventMoneyDeposited.
type MoneyDepositedPayload struct {
	Amount money.Money `json:"amount"`
}

// MoneyWithdrawnPayload is the payload of EventMoneyWithdrawn.
type MoneyWithdrawnPayload struct {
	Amount money.Money `json:"amount"`
}

// AccountFrozenPayload is the (empty) payload of EventAccountFrozen.
type AccountFrozenPayload struct{}

// AccountUnfrozenPayload is the (empty) payload of EventAccountUnfrozen.
type AccountUnfrozenPayload struct{}

// AccountClosedPayload is the (empty) payload of EventAccountClosed.
type AccountClosedPayload struct{}

// OverdraftLimitChangedPayload is the payload of EventOverdraftLimitChanged.
type OverdraftLimitChangedPayload struct {
	NewOverdraftLimit string `json:"newOverdraftLimit"`
}

// AccountHolderNameChangedPayload is the payload of EventAccountHolderNameChanged.
type AccountHolderNameChangedPayload struct {
	NewAccountHolderName string `json:"newAccountHolderName"`
}

// FeeAppliedPayload is the payload of EventFeeApplied.
type FeeAppliedPayload struct {
	FeeAmount money.Money `json:"feeAmount"`
	Reason    string      `json:"reason"`
}
