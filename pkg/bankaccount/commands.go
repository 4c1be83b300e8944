package bankaccount

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/plaenen/bankledger/pkg/bankerrors"
	"github.com/plaenen/bankledger/pkg/bus"
	"github.com/plaenen/bankledger/pkg/domain"
	"github.com/plaenen/bankledger/pkg/money"
	"github.com/plaenen/bankledger/pkg/store"
	"github.com/plaenen/bankledger/pkg/validators"
)

// Command type tags, one per aggregate method in the command contract
// table. These are the keys bus.CommandBus.Register/Send dispatch on.
const (
	CommandOpenAccount             = "bankaccount.OpenAccount"
	CommandDepositMoney            = "bankaccount.DepositMoney"
	CommandWithdrawMoney           = "bankaccount.WithdrawMoney"
	CommandFreezeAccount           = "bankaccount.FreezeAccount"
	CommandUnfreezeAccount         = "bankaccount.UnfreezeAccount"
	CommandCloseAccount            = "bankaccount.CloseAccount"
	CommandChangeOverdraftLimit    = "bankaccount.ChangeOverdraftLimit"
	CommandChangeAccountHolderName = "bankaccount.ChangeAccountHolderName"
	CommandApplyFee                = "bankaccount.ApplyFee"
)

// OpenAccountCommand opens a new account.
type OpenAccountCommand struct {
	CommandID      string
	AccountID      string
	HolderName     string
	OverdraftLimit decimal.Decimal
	InitialBalance money.Money
}

func (c OpenAccountCommand) ID() string          { return c.CommandID }
func (c OpenAccountCommand) AggregateID() string { return c.AccountID }
func (c OpenAccountCommand) CommandType() string { return CommandOpenAccount }

// DepositMoneyCommand deposits amount into an Open or Frozen account.
type DepositMoneyCommand struct {
	CommandID string
	AccountID string
	Amount    money.Money
}

func (c DepositMoneyCommand) ID() string          { return c.CommandID }
func (c DepositMoneyCommand) AggregateID() string { return c.AccountID }
func (c DepositMoneyCommand) CommandType() string { return CommandDepositMoney }

// WithdrawMoneyCommand withdraws amount from an Open account.
type WithdrawMoneyCommand struct {
	CommandID string
	AccountID string
	Amount    money.Money
}

func (c WithdrawMoneyCommand) ID() string          { return c.CommandID }
func (c WithdrawMoneyCommand) AggregateID() string { return c.AccountID }
func (c WithdrawMoneyCommand) CommandType() string { return CommandWithdrawMoney }

// FreezeAccountCommand freezes an Open account.
type FreezeAccountCommand struct {
	CommandID string
	AccountID string
}

func (c FreezeAccountCommand) ID() string          { return c.CommandID }
func (c FreezeAccountCommand) AggregateID() string { return c.AccountID }
func (c FreezeAccountCommand) CommandType() string { return CommandFreezeAccount }

// UnfreezeAccountCommand unfreezes a Frozen account.
type UnfreezeAccountCommand struct {
	CommandID string
	AccountID string
}

func (c UnfreezeAccountCommand) ID() string          { return c.CommandID }
func (c UnfreezeAccountCommand) AggregateID() string { return c.AccountID }
func (c UnfreezeAccountCommand) CommandType() string { return CommandUnfreezeAccount }

// CloseAccountCommand closes an Open, zero-balance account.
type CloseAccountCommand struct {
	CommandID string
	AccountID string
}

func (c CloseAccountCommand) ID() string          { return c.CommandID }
func (c CloseAccountCommand) AggregateID() string { return c.AccountID }
func (c CloseAccountCommand) CommandType() string { return CommandCloseAccount }

// ChangeOverdraftLimitCommand sets a new overdraft limit on an Open account.
type ChangeOverdraftLimitCommand struct {
	CommandID string
	AccountID string
	NewLimit  decimal.Decimal
}

func (c ChangeOverdraftLimitCommand) ID() string          { return c.CommandID }
func (c ChangeOverdraftLimitCommand) AggregateID() string { return c.AccountID }
func (c ChangeOverdraftLimitCommand) CommandType() string { return CommandChangeOverdraftLimit }

// ChangeAccountHolderNameCommand renames the account holder on a
// non-Closed account.
type ChangeAccountHolderNameCommand struct {
	CommandID string
	AccountID string
	NewName   string
}

func (c ChangeAccountHolderNameCommand) ID() string          { return c.CommandID }
func (c ChangeAccountHolderNameCommand) AggregateID() string { return c.AccountID }
func (c ChangeAccountHolderNameCommand) CommandType() string { return CommandChangeAccountHolderName }

// ApplyFeeCommand debits a fee from a non-Closed account.
type ApplyFeeCommand struct {
	CommandID string
	AccountID string
	Amount    money.Money
	Reason    string
}

func (c ApplyFeeCommand) ID() string          { return c.CommandID }
func (c ApplyFeeCommand) AggregateID() string { return c.AccountID }
func (c ApplyFeeCommand) CommandType() string { return CommandApplyFee }

// CommandHandlers holds the account repository shared by every
// registered handler.
type CommandHandlers struct {
	repo store.Repository[*Account]
}

// NewCommandHandlers builds the handler set for the account command
// surface, backed by repo.
func NewCommandHandlers(repo store.Repository[*Account]) *CommandHandlers {
	return &CommandHandlers{repo: repo}
}

// RegisterOn registers every account command handler on b.
func (h *CommandHandlers) RegisterOn(b bus.CommandBus) {
	b.Register(CommandOpenAccount, bus.HandlerFunc(h.handleOpenAccount))
	b.Register(CommandDepositMoney, bus.HandlerFunc(h.handleDepositMoney))
	b.Register(CommandWithdrawMoney, bus.HandlerFunc(h.handleWithdrawMoney))
	b.Register(CommandFreezeAccount, bus.HandlerFunc(h.handleFreezeAccount))
	b.Register(CommandUnfreezeAccount, bus.HandlerFunc(h.handleUnfreezeAccount))
	b.Register(CommandCloseAccount, bus.HandlerFunc(h.handleCloseAccount))
	b.Register(CommandChangeOverdraftLimit, bus.HandlerFunc(h.handleChangeOverdraftLimit))
	b.Register(CommandChangeAccountHolderName, bus.HandlerFunc(h.handleChangeAccountHolderName))
	b.Register(CommandApplyFee, bus.HandlerFunc(h.handleApplyFee))
}

// validateAll collects every failing result under one error instead of
// stopping at the first field checked, so a caller that gets both the
// account ID and the holder name wrong sees both complaints at once.
func validateAll(results ...*validators.ValidationResult) error {
	builder := validators.NewValidationBuilder()
	for _, result := range results {
		builder.Add(result)
	}

	failures := builder.BuildErrors()
	if !failures.HasErrors() {
		return nil
	}

	var messages []string
	for _, field := range failures {
		for _, result := range field.Validations {
			messages = append(messages, result.ToError().Error())
		}
	}
	return bankerrors.InvalidArgument("%s", strings.Join(messages, "; "))
}

func (h *CommandHandlers) handleOpenAccount(ctx context.Context, env *bus.Envelope) ([]*domain.Event, error) {
	cmd, ok := env.Command.(OpenAccountCommand)
	if !ok {
		return nil, fmt.Errorf("bankaccount: unexpected command type for %s", CommandOpenAccount)
	}
	if err := validateAll(
		validators.ValidateUUID("account_id", cmd.AccountID),
		validators.ValidateHolderName(cmd.HolderName),
	); err != nil {
		return nil, err
	}

	account, err := Open(cmd.AccountID, cmd.HolderName, cmd.OverdraftLimit, cmd.InitialBalance)
	if err != nil {
		return nil, err
	}
	return h.saveWithCommand(account, cmd.CommandID)
}

func (h *CommandHandlers) handleDepositMoney(ctx context.Context, env *bus.Envelope) ([]*domain.Event, error) {
	cmd, ok := env.Command.(DepositMoneyCommand)
	if !ok {
		return nil, fmt.Errorf("bankaccount: unexpected command type for %s", CommandDepositMoney)
	}
	account, err := h.load(cmd.AccountID)
	if err != nil {
		return nil, err
	}
	if err := account.Deposit(cmd.Amount); err != nil {
		return nil, err
	}
	return h.saveWithCommand(account, cmd.CommandID)
}

func (h *CommandHandlers) handleWithdrawMoney(ctx context.Context, env *bus.Envelope) ([]*domain.Event, error) {
	cmd, ok := env.Command.(WithdrawMoneyCommand)
	if !ok {
		return nil, fmt.Errorf("bankaccount: unexpected command type for %s", CommandWithdrawMoney)
	}
	account, err := h.load(cmd.AccountID)
	if err != nil {
		return nil, err
	}
	if err := account.Withdraw(cmd.Amount); err != nil {
		return nil, err
	}
	return h.saveWithCommand(account, cmd.CommandID)
}

func (h *CommandHandlers) handleFreezeAccount(ctx context.Context, env *bus.Envelope) ([]*domain.Event, error) {
	cmd, ok := env.Command.(FreezeAccountCommand)
	if !ok {
		return nil, fmt.Errorf("bankaccount: unexpected command type for %s", CommandFreezeAccount)
	}
	account, err := h.load(cmd.AccountID)
	if err != nil {
		return nil, err
	}
	if err := account.Freeze(); err != nil {
		return nil, err
	}
	return h.saveWithCommand(account, cmd.CommandID)
}

func (h *CommandHandlers) handleUnfreezeAccount(ctx context.Context, env *bus.Envelope) ([]*domain.Event, error) {
	cmd, ok := env.Command.(UnfreezeAccountCommand)
	if !ok {
		return nil, fmt.Errorf("bankaccount: unexpected command type for %s", CommandUnfreezeAccount)
	}
	account, err := h.load(cmd.AccountID)
	if err != nil {
		return nil, err
	}
	if err := account.Unfreeze(); err != nil {
		return nil, err
	}
	return h.saveWithCommand(account, cmd.CommandID)
}

func (h *CommandHandlers) handleCloseAccount(ctx context.Context, env *bus.Envelope) ([]*domain.Event, error) {
	cmd, ok := env.Command.(CloseAccountCommand)
	if !ok {
		return nil, fmt.Errorf("bankaccount: unexpected command type for %s", CommandCloseAccount)
	}
	account, err := h.load(cmd.AccountID)
	if err != nil {
		return nil, err
	}
	if err := account.Close(); err != nil {
		return nil, err
	}
	return h.saveWithCommand(account, cmd.CommandID)
}

func (h *CommandHandlers) handleChangeOverdraftLimit(ctx context.Context, env *bus.Envelope) ([]*domain.Event, error) {
	cmd, ok := env.Command.(ChangeOverdraftLimitCommand)
	if !ok {
		return nil, fmt.Errorf("bankaccount: unexpected command type for %s", CommandChangeOverdraftLimit)
	}
	account, err := h.load(cmd.AccountID)
	if err != nil {
		return nil, err
	}
	if err := account.ChangeOverdraftLimit(cmd.NewLimit); err != nil {
		return nil, err
	}
	return h.saveWithCommand(account, cmd.CommandID)
}

func (h *CommandHandlers) handleChangeAccountHolderName(ctx context.Context, env *bus.Envelope) ([]*domain.Event, error) {
	cmd, ok := env.Command.(ChangeAccountHolderNameCommand)
	if !ok {
		return nil, fmt.Errorf("bankaccount: unexpected command type for %s", CommandChangeAccountHolderName)
	}
	if err := validators.ValidateHolderName(cmd.NewName).ToError(); err != nil {
		return nil, err
	}
	account, err := h.load(cmd.AccountID)
	if err != nil {
		return nil, err
	}
	if err := account.ChangeAccountHolderName(cmd.NewName); err != nil {
		return nil, err
	}
	return h.saveWithCommand(account, cmd.CommandID)
}

func (h *CommandHandlers) handleApplyFee(ctx context.Context, env *bus.Envelope) ([]*domain.Event, error) {
	cmd, ok := env.Command.(ApplyFeeCommand)
	if !ok {
		return nil, fmt.Errorf("bankaccount: unexpected command type for %s", CommandApplyFee)
	}
	account, err := h.load(cmd.AccountID)
	if err != nil {
		return nil, err
	}
	if err := account.ApplyFee(cmd.Amount, cmd.Reason); err != nil {
		return nil, err
	}
	return h.saveWithCommand(account, cmd.CommandID)
}

func (h *CommandHandlers) load(accountID string) (*Account, error) {
	if err := validators.ValidateUUID("account_id", accountID).ToError(); err != nil {
		return nil, err
	}
	return h.repo.Load(accountID)
}

// saveWithCommand persists account's uncommitted events under commandID
// for idempotent retries, and returns the events actually produced (the
// originally stored events, not an error, if commandID was already
// processed).
func (h *CommandHandlers) saveWithCommand(account *Account, commandID string) ([]*domain.Event, error) {
	events := account.UncommittedEvents()
	result, err := h.repo.SaveWithCommand(account, commandID)
	if err != nil {
		return nil, err
	}
	if result.AlreadyProcessed {
		return result.Events, nil
	}
	return events, nil
}
