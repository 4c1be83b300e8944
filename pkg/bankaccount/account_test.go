package bankaccount

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaenen/bankledger/pkg/bankerrors"
	"github.com/plaenen/bankledger/pkg/money"
)

func mustMoney(t *testing.T, amount, currency string) money.Money {
	t.Helper()
	m, err := money.New(amount, currency)
	require.NoError(t, err)
	return m
}

func openTestAccount(t *testing.T, balance string) *Account {
	t.Helper()
	a, err := Open(uuid.NewString(), "Ada Lovelace", decimal.Zero, mustMoney(t, balance, "USD"))
	require.NoError(t, err)
	return a
}

func TestOpen(t *testing.T) {
	id := uuid.NewString()
	a, err := Open(id, "Ada Lovelace", decimal.NewFromInt(100), mustMoney(t, "50.00", "USD"))
	require.NoError(t, err)

	assert.Equal(t, id, a.ID())
	assert.Equal(t, StatusOpen, a.Status())
	assert.Equal(t, "Ada Lovelace", a.HolderName())
	assert.True(t, a.Balance().Equal(mustMoney(t, "50.00", "USD")))
	assert.True(t, a.OverdraftLimit().Equal(decimal.NewFromInt(100)))
	assert.Equal(t, int64(0), a.Version())
	require.Len(t, a.UncommittedEvents(), 1)
	assert.Equal(t, EventBankAccountOpened, a.UncommittedEvents()[0].EventType)
}

func TestOpenValidation(t *testing.T) {
	cases := []struct {
		name           string
		id             string
		holder         string
		overdraftLimit decimal.Decimal
		initial        money.Money
	}{
		{"bad id", "not-a-uuid", "Ada", decimal.Zero, mustMoney(t, "0", "USD")},
		{"empty holder", uuid.NewString(), "", decimal.Zero, mustMoney(t, "0", "USD")},
		{"negative overdraft", uuid.NewString(), "Ada", decimal.NewFromInt(-1), mustMoney(t, "0", "USD")},
		{"negative initial balance", uuid.NewString(), "Ada", decimal.Zero, mustMoney(t, "-1", "USD")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Open(tc.id, tc.holder, tc.overdraftLimit, tc.initial)
			require.Error(t, err)
			assert.ErrorIs(t, err, bankerrors.ErrInvalidArgument)
		})
	}
}

func TestDepositAndWithdraw(t *testing.T) {
	a := openTestAccount(t, "100.00")

	require.NoError(t, a.Deposit(mustMoney(t, "25.00", "USD")))
	assert.True(t, a.Balance().Equal(mustMoney(t, "125.00", "USD")))

	require.NoError(t, a.Withdraw(mustMoney(t, "50.00", "USD")))
	assert.True(t, a.Balance().Equal(mustMoney(t, "75.00", "USD")))

	assert.Len(t, a.UncommittedEvents(), 3) // open + deposit + withdraw
	assert.Equal(t, int64(2), a.Version())
}

func TestWithdrawUsesOverdraftLimit(t *testing.T) {
	id := uuid.NewString()
	a, err := Open(id, "Ada Lovelace", decimal.NewFromInt(100), mustMoney(t, "0.00", "USD"))
	require.NoError(t, err)

	require.NoError(t, a.Withdraw(mustMoney(t, "80.00", "USD")))
	assert.True(t, a.Balance().Equal(mustMoney(t, "-80.00", "USD")))

	err = a.Withdraw(mustMoney(t, "50.00", "USD"))
	require.Error(t, err)
	assert.ErrorIs(t, err, bankerrors.ErrInvalidState)
}

func TestWithdrawNegativeOrZeroRejected(t *testing.T) {
	a := openTestAccount(t, "100.00")
	err := a.Withdraw(mustMoney(t, "0.00", "USD"))
	require.Error(t, err)
	assert.ErrorIs(t, err, bankerrors.ErrInvalidArgument)
}

func TestDepositCurrencyMismatch(t *testing.T) {
	a := openTestAccount(t, "100.00")
	err := a.Deposit(mustMoney(t, "10.00", "EUR"))
	require.Error(t, err)
	assert.ErrorIs(t, err, bankerrors.ErrCurrencyMismatch)
}

func TestFreezeUnfreeze(t *testing.T) {
	a := openTestAccount(t, "10.00")

	require.NoError(t, a.Freeze())
	assert.Equal(t, StatusFrozen, a.Status())

	// deposits still allowed while frozen
	require.NoError(t, a.Deposit(mustMoney(t, "5.00", "USD")))

	// withdrawals are not
	err := a.Withdraw(mustMoney(t, "1.00", "USD"))
	require.Error(t, err)
	assert.ErrorIs(t, err, bankerrors.ErrInvalidState)

	require.NoError(t, a.Unfreeze())
	assert.Equal(t, StatusOpen, a.Status())
}

func TestFreezeWhenNotOpenFails(t *testing.T) {
	a := openTestAccount(t, "0.00")
	require.NoError(t, a.Close())
	err := a.Freeze()
	require.Error(t, err)
	assert.ErrorIs(t, err, bankerrors.ErrInvalidState)
}

func TestCloseRequiresZeroBalance(t *testing.T) {
	a := openTestAccount(t, "10.00")
	err := a.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, bankerrors.ErrInvalidState)
}

func TestCloseRequiresUnfrozen(t *testing.T) {
	a := openTestAccount(t, "0.00")
	require.NoError(t, a.Freeze())
	err := a.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, bankerrors.ErrInvalidState)
}

func TestCloseIsIdempotent(t *testing.T) {
	a := openTestAccount(t, "0.00")
	require.NoError(t, a.Close())
	before := len(a.UncommittedEvents())

	require.NoError(t, a.Close())
	assert.Len(t, a.UncommittedEvents(), before) // no second event emitted
}

func TestChangeOverdraftLimitNoopWhenUnchanged(t *testing.T) {
	id := uuid.NewString()
	a, err := Open(id, "Ada", decimal.NewFromInt(50), mustMoney(t, "0.00", "USD"))
	require.NoError(t, err)
	before := len(a.UncommittedEvents())

	require.NoError(t, a.ChangeOverdraftLimit(decimal.NewFromInt(50)))
	assert.Len(t, a.UncommittedEvents(), before)
}

func TestChangeOverdraftLimitRejectsBelowOverdrawnBalance(t *testing.T) {
	id := uuid.NewString()
	a, err := Open(id, "Ada", decimal.NewFromInt(100), mustMoney(t, "0.00", "USD"))
	require.NoError(t, err)
	require.NoError(t, a.Withdraw(mustMoney(t, "80.00", "USD")))

	err = a.ChangeOverdraftLimit(decimal.NewFromInt(50))
	require.Error(t, err)
	assert.ErrorIs(t, err, bankerrors.ErrInvalidState)
}

func TestChangeAccountHolderNameNoopWhenUnchanged(t *testing.T) {
	a := openTestAccount(t, "0.00")
	before := len(a.UncommittedEvents())
	require.NoError(t, a.ChangeAccountHolderName("Ada Lovelace"))
	assert.Len(t, a.UncommittedEvents(), before)
}

func TestChangeAccountHolderNameRejectsClosed(t *testing.T) {
	a := openTestAccount(t, "0.00")
	require.NoError(t, a.Close())
	err := a.ChangeAccountHolderName("Grace Hopper")
	require.Error(t, err)
	assert.ErrorIs(t, err, bankerrors.ErrInvalidState)
}

func TestApplyFee(t *testing.T) {
	a := openTestAccount(t, "20.00")
	require.NoError(t, a.ApplyFee(mustMoney(t, "5.00", "USD"), "monthly maintenance"))
	assert.True(t, a.Balance().Equal(mustMoney(t, "15.00", "USD")))
}

func TestFromHistoryRoundTrip(t *testing.T) {
	id := uuid.NewString()
	a, err := Open(id, "Ada Lovelace", decimal.NewFromInt(100), mustMoney(t, "50.00", "USD"))
	require.NoError(t, err)
	require.NoError(t, a.Deposit(mustMoney(t, "10.00", "USD")))
	require.NoError(t, a.Withdraw(mustMoney(t, "5.00", "USD")))

	events := a.UncommittedEvents()
	require.Len(t, events, 3)

	rebuilt, err := FromHistory(id, events)
	require.NoError(t, err)

	assert.Equal(t, a.Status(), rebuilt.Status())
	assert.Equal(t, a.HolderName(), rebuilt.HolderName())
	assert.True(t, a.Balance().Equal(rebuilt.Balance()))
	assert.True(t, a.OverdraftLimit().Equal(rebuilt.OverdraftLimit()))
	assert.Equal(t, a.Version(), rebuilt.Version())
	assert.Empty(t, rebuilt.UncommittedEvents())
}

func TestFromHistoryEmptyIsNotFound(t *testing.T) {
	_, err := FromHistory(uuid.NewString(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, bankerrors.ErrNotFound))
}

func TestApplyEventUnknownTypeFails(t *testing.T) {
	a := openTestAccount(t, "0.00")
	evt := a.UncommittedEvents()[0]
	bad := *evt
	bad.EventType = "SomethingElse"
	err := a.ApplyEvent(&bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, bankerrors.ErrCodecError)
}
