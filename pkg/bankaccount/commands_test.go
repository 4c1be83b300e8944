package bankaccount_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/plaenen/bankledger/pkg/bankaccount"
	"github.com/plaenen/bankledger/pkg/bankerrors"
	"github.com/plaenen/bankledger/pkg/bus"
	"github.com/plaenen/bankledger/pkg/money"
	"github.com/plaenen/bankledger/pkg/store/sqlite"
)

func newTestBus(t *testing.T) bus.CommandBus {
	t.Helper()
	eventStore, err := sqlite.NewEventStore(sqlite.WithDSN(":memory:"), sqlite.WithWALMode(false))
	require.NoError(t, err)
	t.Cleanup(func() { eventStore.Close() })

	repo := bankaccount.NewRepository(eventStore)
	handlers := bankaccount.NewCommandHandlers(repo)

	b := bus.NewCommandBus()
	handlers.RegisterOn(b)
	return b
}

func mustMoney(t *testing.T, amount, currency string) money.Money {
	t.Helper()
	m, err := money.New(amount, currency)
	require.NoError(t, err)
	return m
}

func TestOpenAccountCommandOpensAccount(t *testing.T) {
	b := newTestBus(t)
	accountID := "11111111-1111-1111-1111-111111111111"

	events, err := b.Send(context.Background(), &bus.Envelope{
		Command: bankaccount.OpenAccountCommand{
			CommandID:      "cmd-open-1",
			AccountID:      accountID,
			HolderName:     "Ada Lovelace",
			OverdraftLimit: decimal.Zero,
			InitialBalance: mustMoney(t, "100.00", "USD"),
		},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, bankaccount.EventBankAccountOpened, events[0].EventType)
}

func TestOpenAccountCommandRejectsEmptyHolderName(t *testing.T) {
	b := newTestBus(t)

	_, err := b.Send(context.Background(), &bus.Envelope{
		Command: bankaccount.OpenAccountCommand{
			CommandID:      "cmd-open-2",
			AccountID:      "22222222-2222-2222-2222-222222222222",
			HolderName:     "",
			OverdraftLimit: decimal.Zero,
			InitialBalance: mustMoney(t, "0.00", "USD"),
		},
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, bankerrors.ErrInvalidArgument))
}

func TestDepositThenWithdrawRoundTrip(t *testing.T) {
	b := newTestBus(t)
	accountID := "33333333-3333-3333-3333-333333333333"

	_, err := b.Send(context.Background(), &bus.Envelope{
		Command: bankaccount.OpenAccountCommand{
			CommandID:      "cmd-open-3",
			AccountID:      accountID,
			HolderName:     "Ada Lovelace",
			OverdraftLimit: decimal.Zero,
			InitialBalance: mustMoney(t, "100.00", "USD"),
		},
	})
	require.NoError(t, err)

	events, err := b.Send(context.Background(), &bus.Envelope{
		Command: bankaccount.DepositMoneyCommand{
			CommandID: "cmd-deposit-1",
			AccountID: accountID,
			Amount:    mustMoney(t, "50.00", "USD"),
		},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, bankaccount.EventMoneyDeposited, events[0].EventType)

	events, err = b.Send(context.Background(), &bus.Envelope{
		Command: bankaccount.WithdrawMoneyCommand{
			CommandID: "cmd-withdraw-1",
			AccountID: accountID,
			Amount:    mustMoney(t, "30.00", "USD"),
		},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, bankaccount.EventMoneyWithdrawn, events[0].EventType)
}

func TestWithdrawMoneyCommandRejectsOverdraw(t *testing.T) {
	b := newTestBus(t)
	accountID := "44444444-4444-4444-4444-444444444444"

	_, err := b.Send(context.Background(), &bus.Envelope{
		Command: bankaccount.OpenAccountCommand{
			CommandID:      "cmd-open-4",
			AccountID:      accountID,
			HolderName:     "Ada Lovelace",
			OverdraftLimit: decimal.Zero,
			InitialBalance: mustMoney(t, "10.00", "USD"),
		},
	})
	require.NoError(t, err)

	_, err = b.Send(context.Background(), &bus.Envelope{
		Command: bankaccount.WithdrawMoneyCommand{
			CommandID: "cmd-withdraw-2",
			AccountID: accountID,
			Amount:    mustMoney(t, "50.00", "USD"),
		},
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, bankerrors.ErrInvalidState))
}

func TestDepositMoneyCommandIsIdempotentPerCommandID(t *testing.T) {
	b := newTestBus(t)
	accountID := "55555555-5555-5555-5555-555555555555"

	_, err := b.Send(context.Background(), &bus.Envelope{
		Command: bankaccount.OpenAccountCommand{
			CommandID:      "cmd-open-5",
			AccountID:      accountID,
			HolderName:     "Ada Lovelace",
			OverdraftLimit: decimal.Zero,
			InitialBalance: mustMoney(t, "0.00", "USD"),
		},
	})
	require.NoError(t, err)

	depositCmd := bus.Envelope{
		Command: bankaccount.DepositMoneyCommand{
			CommandID: "cmd-deposit-dup",
			AccountID: accountID,
			Amount:    mustMoney(t, "25.00", "USD"),
		},
	}

	first, err := b.Send(context.Background(), &depositCmd)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := b.Send(context.Background(), &depositCmd)
	require.NoError(t, err)
	require.Equal(t, first[0].ID, second[0].ID)
}

func TestFreezeAccountCommandThenDepositStillAllowed(t *testing.T) {
	b := newTestBus(t)
	accountID := "66666666-6666-6666-6666-666666666666"

	_, err := b.Send(context.Background(), &bus.Envelope{
		Command: bankaccount.OpenAccountCommand{
			CommandID:      "cmd-open-6",
			AccountID:      accountID,
			HolderName:     "Ada Lovelace",
			OverdraftLimit: decimal.Zero,
			InitialBalance: mustMoney(t, "0.00", "USD"),
		},
	})
	require.NoError(t, err)

	_, err = b.Send(context.Background(), &bus.Envelope{
		Command: bankaccount.FreezeAccountCommand{CommandID: "cmd-freeze-1", AccountID: accountID},
	})
	require.NoError(t, err)

	_, err = b.Send(context.Background(), &bus.Envelope{
		Command: bankaccount.DepositMoneyCommand{
			CommandID: "cmd-deposit-frozen",
			AccountID: accountID,
			Amount:    mustMoney(t, "10.00", "USD"),
		},
	})
	require.NoError(t, err)

	_, err = b.Send(context.Background(), &bus.Envelope{
		Command: bankaccount.WithdrawMoneyCommand{
			CommandID: "cmd-withdraw-frozen",
			AccountID: accountID,
			Amount:    mustMoney(t, "1.00", "USD"),
		},
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, bankerrors.ErrInvalidState))
}

func TestCloseAccountCommandOnUnknownAccountReturnsNotFound(t *testing.T) {
	b := newTestBus(t)

	_, err := b.Send(context.Background(), &bus.Envelope{
		Command: bankaccount.CloseAccountCommand{CommandID: "cmd-close-missing", AccountID: "77777777-7777-7777-7777-777777777777"},
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, bankerrors.ErrNotFound))
}

func TestUnfreezeAccountCommandAllowsWithdrawAgain(t *testing.T) {
	b := newTestBus(t)
	accountID := "88888888-8888-8888-8888-888888888888"

	_, err := b.Send(context.Background(), &bus.Envelope{
		Command: bankaccount.OpenAccountCommand{
			CommandID:      "cmd-open-8",
			AccountID:      accountID,
			HolderName:     "Ada Lovelace",
			OverdraftLimit: decimal.Zero,
			InitialBalance: mustMoney(t, "20.00", "USD"),
		},
	})
	require.NoError(t, err)

	_, err = b.Send(context.Background(), &bus.Envelope{
		Command: bankaccount.FreezeAccountCommand{CommandID: "cmd-freeze-2", AccountID: accountID},
	})
	require.NoError(t, err)

	events, err := b.Send(context.Background(), &bus.Envelope{
		Command: bankaccount.UnfreezeAccountCommand{CommandID: "cmd-unfreeze-1", AccountID: accountID},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, bankaccount.EventAccountUnfrozen, events[0].EventType)

	events, err = b.Send(context.Background(), &bus.Envelope{
		Command: bankaccount.WithdrawMoneyCommand{
			CommandID: "cmd-withdraw-unfrozen",
			AccountID: accountID,
			Amount:    mustMoney(t, "5.00", "USD"),
		},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestCloseAccountCommandRejectsNonZeroBalance(t *testing.T) {
	b := newTestBus(t)
	accountID := "99999999-9999-9999-9999-999999999999"

	_, err := b.Send(context.Background(), &bus.Envelope{
		Command: bankaccount.OpenAccountCommand{
			CommandID:      "cmd-open-9",
			AccountID:      accountID,
			HolderName:     "Ada Lovelace",
			OverdraftLimit: decimal.Zero,
			InitialBalance: mustMoney(t, "15.00", "USD"),
		},
	})
	require.NoError(t, err)

	_, err = b.Send(context.Background(), &bus.Envelope{
		Command: bankaccount.CloseAccountCommand{CommandID: "cmd-close-1", AccountID: accountID},
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, bankerrors.ErrInvalidState))

	events, err := b.Send(context.Background(), &bus.Envelope{
		Command: bankaccount.WithdrawMoneyCommand{
			CommandID: "cmd-withdraw-before-close",
			AccountID: accountID,
			Amount:    mustMoney(t, "15.00", "USD"),
		},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)

	events, err = b.Send(context.Background(), &bus.Envelope{
		Command: bankaccount.CloseAccountCommand{CommandID: "cmd-close-2", AccountID: accountID},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, bankaccount.EventAccountClosed, events[0].EventType)
}

func TestChangeOverdraftLimitCommandThenWithdrawIntoOverdraft(t *testing.T) {
	b := newTestBus(t)
	accountID := "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"

	_, err := b.Send(context.Background(), &bus.Envelope{
		Command: bankaccount.OpenAccountCommand{
			CommandID:      "cmd-open-a",
			AccountID:      accountID,
			HolderName:     "Ada Lovelace",
			OverdraftLimit: decimal.Zero,
			InitialBalance: mustMoney(t, "0.00", "USD"),
		},
	})
	require.NoError(t, err)

	events, err := b.Send(context.Background(), &bus.Envelope{
		Command: bankaccount.ChangeOverdraftLimitCommand{
			CommandID: "cmd-overdraft-1",
			AccountID: accountID,
			NewLimit:  decimal.NewFromInt(50),
		},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, bankaccount.EventOverdraftLimitChanged, events[0].EventType)

	events, err = b.Send(context.Background(), &bus.Envelope{
		Command: bankaccount.WithdrawMoneyCommand{
			CommandID: "cmd-withdraw-overdraft",
			AccountID: accountID,
			Amount:    mustMoney(t, "30.00", "USD"),
		},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, bankaccount.EventMoneyWithdrawn, events[0].EventType)
}

func TestChangeAccountHolderNameCommandRejectsEmptyName(t *testing.T) {
	b := newTestBus(t)
	accountID := "bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb"

	_, err := b.Send(context.Background(), &bus.Envelope{
		Command: bankaccount.OpenAccountCommand{
			CommandID:      "cmd-open-b",
			AccountID:      accountID,
			HolderName:     "Ada Lovelace",
			OverdraftLimit: decimal.Zero,
			InitialBalance: mustMoney(t, "0.00", "USD"),
		},
	})
	require.NoError(t, err)

	events, err := b.Send(context.Background(), &bus.Envelope{
		Command: bankaccount.ChangeAccountHolderNameCommand{
			CommandID: "cmd-rename-1",
			AccountID: accountID,
			NewName:   "Grace Hopper",
		},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, bankaccount.EventAccountHolderNameChanged, events[0].EventType)

	_, err = b.Send(context.Background(), &bus.Envelope{
		Command: bankaccount.ChangeAccountHolderNameCommand{
			CommandID: "cmd-rename-2",
			AccountID: accountID,
			NewName:   "",
		},
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, bankerrors.ErrInvalidArgument))
}

func TestApplyFeeCommandDebitsAccount(t *testing.T) {
	b := newTestBus(t)
	accountID := "cccccccc-cccc-cccc-cccc-cccccccccccc"

	_, err := b.Send(context.Background(), &bus.Envelope{
		Command: bankaccount.OpenAccountCommand{
			CommandID:      "cmd-open-c",
			AccountID:      accountID,
			HolderName:     "Ada Lovelace",
			OverdraftLimit: decimal.Zero,
			InitialBalance: mustMoney(t, "100.00", "USD"),
		},
	})
	require.NoError(t, err)

	events, err := b.Send(context.Background(), &bus.Envelope{
		Command: bankaccount.ApplyFeeCommand{
			CommandID: "cmd-fee-1",
			AccountID: accountID,
			Amount:    mustMoney(t, "5.00", "USD"),
			Reason:    "monthly maintenance",
		},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, bankaccount.EventFeeApplied, events[0].EventType)
}
