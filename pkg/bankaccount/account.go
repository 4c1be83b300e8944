package bankaccount

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/plaenen/bankledger/pkg/bankerrors"
	"github.com/plaenen/bankledger/pkg/domain"
	"github.com/plaenen/bankledger/pkg/money"
)

// AggregateType is the type name recorded on every event this aggregate raises.
const AggregateType = "BankAccount"

// Status is the closed set of account lifecycle states.
type Status string

const (
	StatusNew    Status = "New"
	StatusOpen   Status = "Open"
	StatusFrozen Status = "Frozen"
	StatusClosed Status = "Closed"
)

// Account is the bank account aggregate: a pure state machine whose
// state is the fold of its event history.
type Account struct {
	domain.AggregateRoot

	holderName     string
	status         Status
	balance        money.Money
	overdraftLimit decimal.Decimal
}

var _ domain.Aggregate = (*Account)(nil)

// newAccount constructs a zero-value account shell at status New, ready
// to either accept Open or be folded from history.
func newAccount(id string) *Account {
	return &Account{
		AggregateRoot: domain.NewAggregateRoot(id, AggregateType),
		status:        StatusNew,
	}
}

// Open creates a fresh account whose first event is BankAccountOpened.
// The event is stamped with domain.Now(); Open takes no occurred-on
// argument, so the caller cannot choose the event's timestamp.
func Open(id, holderName string, overdraftLimit decimal.Decimal, initialBalance money.Money) (*Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, bankerrors.InvalidArgument("account id must be a UUID: %v", err)
	}
	if holderName == "" {
		return nil, bankerrors.InvalidArgument("holder name must not be empty")
	}
	if overdraftLimit.IsNegative() {
		return nil, bankerrors.InvalidArgument("overdraft limit must be non-negative")
	}
	if initialBalance.IsNegative() {
		return nil, bankerrors.InvalidArgument("initial balance must be non-negative")
	}

	a := newAccount(id)

	payload := &BankAccountOpenedPayload{
		AccountHolder:  holderName,
		OverdraftLimit: overdraftLimit.String(),
		InitialBalance: initialBalance,
	}
	if err := a.raise(EventBankAccountOpened, payload); err != nil {
		return nil, err
	}
	return a, nil
}

// FromHistory rebuilds an account's state by applying each event in
// order. Returns ErrNotFound if events is empty, and ErrCodecError if
// the stream has a version gap (replay requires 0, 1, 2, ... with no
// skips, since fold assumes each event advances state by exactly one
// step from the previous).
func FromHistory(id string, events []*domain.Event) (*Account, error) {
	if len(events) == 0 {
		return nil, bankerrors.ErrNotFound
	}
	if err := checkVersionContiguity(events); err != nil {
		return nil, err
	}

	a := newAccount(id)
	for _, evt := range events {
		if err := a.ApplyEvent(evt); err != nil {
			return nil, err
		}
	}
	if err := a.LoadFromHistory(events); err != nil {
		return nil, err
	}
	return a, nil
}

// checkVersionContiguity rejects a replayed stream with a gap or
// out-of-order version, e.g. 0, 2 with 1 missing. The event store
// itself can't produce such a stream, but FromHistory asserts it
// anyway rather than silently folding a corrupted history.
func checkVersionContiguity(events []*domain.Event) error {
	for i, evt := range events {
		if evt.Version != int64(i) {
			return fmt.Errorf("%w: expected version %d, got %d at position %d",
				bankerrors.ErrCodecError, i, evt.Version, i)
		}
	}
	return nil
}

// HolderName returns the account holder's name.
func (a *Account) HolderName() string { return a.holderName }

// Status returns the account's current status.
func (a *Account) Status() Status { return a.status }

// Balance returns the account's current balance.
func (a *Account) Balance() money.Money { return a.balance }

// OverdraftLimit returns the account's current overdraft limit.
func (a *Account) OverdraftLimit() decimal.Decimal { return a.overdraftLimit }

// availableToWithdraw returns balance + overdraftLimit.
func (a *Account) availableToWithdraw() decimal.Decimal {
	return a.balance.Amount().Add(a.overdraftLimit)
}

// AvailableToWithdraw is the exported accessor for the derived value.
func (a *Account) AvailableToWithdraw() decimal.Decimal {
	return a.availableToWithdraw()
}

// Deposit credits the account. Allowed when Open or Frozen.
func (a *Account) Deposit(amount money.Money) error {
	if a.status != StatusOpen && a.status != StatusFrozen {
		return bankerrors.InvalidState("cannot deposit into account with status %s", a.status)
	}
	if !amount.IsPositive() {
		return bankerrors.InvalidArgument("deposit amount must be positive")
	}
	if !amount.SameCurrency(a.balance) {
		return fmt.Errorf("%w: deposit currency %s does not match account currency %s",
			bankerrors.ErrCurrencyMismatch, amount.Currency(), a.balance.Currency())
	}

	return a.raise(EventMoneyDeposited, &MoneyDepositedPayload{Amount: amount})
}

// Withdraw debits the account. Allowed only when Open.
func (a *Account) Withdraw(amount money.Money) error {
	if a.status != StatusOpen {
		return bankerrors.InvalidState("cannot withdraw from account with status %s", a.status)
	}
	if !amount.IsPositive() {
		return bankerrors.InvalidArgument("withdrawal amount must be positive")
	}
	if !amount.SameCurrency(a.balance) {
		return fmt.Errorf("%w: withdrawal currency %s does not match account currency %s",
			bankerrors.ErrCurrencyMismatch, amount.Currency(), a.balance.Currency())
	}
	if a.availableToWithdraw().LessThan(amount.Amount()) {
		return bankerrors.InvalidState("insufficient balance: available %s, requested %s",
			a.availableToWithdraw().String(), amount.Amount().String())
	}

	return a.raise(EventMoneyWithdrawn, &MoneyWithdrawnPayload{Amount: amount})
}

// Freeze moves an Open account to Frozen.
func (a *Account) Freeze() error {
	if a.status != StatusOpen {
		return bankerrors.InvalidState("cannot freeze account with status %s", a.status)
	}
	return a.raise(EventAccountFrozen, &AccountFrozenPayload{})
}

// Unfreeze moves a Frozen account back to Open.
func (a *Account) Unfreeze() error {
	if a.status != StatusFrozen {
		return bankerrors.InvalidState("cannot unfreeze account with status %s", a.status)
	}
	return a.raise(EventAccountUnfrozen, &AccountUnfrozenPayload{})
}

// Close moves an Open account with zero balance to Closed. A Frozen
// account must be unfrozen first. Closing an already-Closed account is
// a no-op (no event emitted).
func (a *Account) Close() error {
	switch a.status {
	case StatusClosed:
		return nil // idempotent no-op
	case StatusFrozen:
		return bankerrors.InvalidState("account is frozen, unfreeze before closing")
	case StatusOpen:
		if !a.balance.IsZero() {
			return bankerrors.InvalidState("cannot close account with non-zero balance %s", a.balance)
		}
		return a.raise(EventAccountClosed, &AccountClosedPayload{})
	default:
		return bankerrors.InvalidState("cannot close account with status %s", a.status)
	}
}

// ChangeOverdraftLimit sets a new overdraft limit. No-op (no event) if
// the new limit equals the current one.
func (a *Account) ChangeOverdraftLimit(newLimit decimal.Decimal) error {
	if a.status != StatusOpen {
		return bankerrors.InvalidState("cannot change overdraft limit on account with status %s", a.status)
	}
	if newLimit.IsNegative() {
		return bankerrors.InvalidArgument("overdraft limit must be non-negative")
	}
	if a.balance.IsNegative() && newLimit.LessThan(a.balance.Abs().Amount()) {
		return bankerrors.InvalidState("overdraft limit %s too low to cover current overdrawn balance %s",
			newLimit.String(), a.balance.Abs().Amount().String())
	}
	if newLimit.Equal(a.overdraftLimit) {
		return nil // idempotent no-op
	}

	return a.raise(EventOverdraftLimitChanged, &OverdraftLimitChangedPayload{NewOverdraftLimit: newLimit.String()})
}

// ChangeAccountHolderName renames the account holder. No-op (no event)
// if the new name equals the current one.
func (a *Account) ChangeAccountHolderName(newName string) error {
	if a.status == StatusClosed {
		return bankerrors.InvalidState("cannot rename a closed account")
	}
	if newName == "" {
		return bankerrors.InvalidArgument("holder name must not be empty")
	}
	if newName == a.holderName {
		return nil // idempotent no-op
	}

	return a.raise(EventAccountHolderNameChanged, &AccountHolderNameChangedPayload{NewAccountHolderName: newName})
}

// ApplyFee debits a fee from the balance, recording the reason.
func (a *Account) ApplyFee(amount money.Money, reason string) error {
	if a.status == StatusClosed {
		return bankerrors.InvalidState("cannot apply fee to a closed account")
	}
	if !amount.IsPositive() {
		return bankerrors.InvalidArgument("fee amount must be positive")
	}
	if !amount.SameCurrency(a.balance) {
		return fmt.Errorf("%w: fee currency %s does not match account currency %s",
			bankerrors.ErrCurrencyMismatch, amount.Currency(), a.balance.Currency())
	}

	return a.raise(EventFeeApplied, &FeeAppliedPayload{FeeAmount: amount, Reason: reason})
}

// raise encodes payload, appends it to the uncommitted buffer via
// ApplyChange, and folds it into the in-memory state immediately.
func (a *Account) raise(eventType string, payload any) error {
	data, err := EncodePayload(payload)
	if err != nil {
		return err
	}
	evt := a.ApplyChange(data, eventType, domain.EventMetadata{}, domain.Now())
	return a.fold(evt.EventType, payload)
}

// ApplyEvent decodes and folds a historical event into the aggregate's
// state. Unknown event types are fatal (CodecError), signaling store or
// schema drift.
func (a *Account) ApplyEvent(event *domain.Event) error {
	payload, err := DecodePayload(event.EventType, event.Data)
	if err != nil {
		return err
	}
	return a.fold(event.EventType, payload)
}

// fold applies a decoded payload to in-memory state. Called both for
// freshly raised events (raise) and for replayed history (ApplyEvent).
func (a *Account) fold(eventType string, payload any) error {
	switch eventType {
	case EventBankAccountOpened:
		p := payload.(*BankAccountOpenedPayload)
		limit, err := decimal.NewFromString(p.OverdraftLimit)
		if err != nil {
			return fmt.Errorf("%w: invalid overdraftLimit %q", bankerrors.ErrCodecError, p.OverdraftLimit)
		}
		a.holderName = p.AccountHolder
		a.overdraftLimit = limit
		a.balance = p.InitialBalance
		a.status = StatusOpen

	case EventMoneyDeposited:
		p := payload.(*MoneyDepositedPayload)
		sum, err := a.balance.Add(p.Amount)
		if err != nil {
			return fmt.Errorf("%w: %v", bankerrors.ErrCodecError, err)
		}
		a.balance = sum

	case EventMoneyWithdrawn:
		p := payload.(*MoneyWithdrawnPayload)
		diff, err := a.balance.Subtract(p.Amount)
		if err != nil {
			return fmt.Errorf("%w: %v", bankerrors.ErrCodecError, err)
		}
		a.balance = diff

	case EventFeeApplied:
		p := payload.(*FeeAppliedPayload)
		diff, err := a.balance.Subtract(p.FeeAmount)
		if err != nil {
			return fmt.Errorf("%w: %v", bankerrors.ErrCodecError, err)
		}
		a.balance = diff

	case EventAccountFrozen:
		a.status = StatusFrozen

	case EventAccountUnfrozen:
		a.status = StatusOpen

	case EventAccountClosed:
		a.status = StatusClosed

	case EventOverdraftLimitChanged:
		p := payload.(*OverdraftLimitChangedPayload)
		limit, err := decimal.NewFromString(p.NewOverdraftLimit)
		if err != nil {
			return fmt.Errorf("%w: invalid newOverdraftLimit %q", bankerrors.ErrCodecError, p.NewOverdraftLimit)
		}
		a.overdraftLimit = limit

	case EventAccountHolderNameChanged:
		p := payload.(*AccountHolderNameChangedPayload)
		a.holderName = p.NewAccountHolderName

	default:
		return fmt.Errorf("%w: unknown event type %q", bankerrors.ErrCodecError, eventType)
	}

	return nil
}
