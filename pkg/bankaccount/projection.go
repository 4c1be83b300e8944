package bankaccount

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/plaenen/bankledger/pkg/bankerrors"
	"github.com/plaenen/bankledger/pkg/domain"
	"github.com/plaenen/bankledger/pkg/store"
	"github.com/plaenen/bankledger/pkg/store/sqlite"
)

// ProjectorName is the default name the account balance projector
// registers its checkpoint under.
const ProjectorName = "account_balance_projector_v1"

// BalanceRow is a single row of the account_balance read model.
type BalanceRow struct {
	AccountID           string
	HolderName          string
	Status              string
	BalanceAmount       decimal.Decimal
	BalanceCurrency     string
	OverdraftLimit      decimal.Decimal
	AvailableToWithdraw decimal.Decimal
	Version             int64
	UpdatedAt           time.Time
}

// NewBalanceProjection builds the account_balance read model projection:
// one transactional, idempotent, checkpointed handler per event type in
// the account event taxonomy. The concrete *sqlite.SQLiteProjection
// return type (rather than the narrower store.Projection interface) is
// deliberate: callers such as pkg/projector need its GetCheckpoint
// method, which isn't part of the generic interface.
func NewBalanceProjection(db *sql.DB, checkpointStore *sqlite.CheckpointStore, eventStore store.EventStore) (*sqlite.SQLiteProjection, error) {
	builder := sqlite.NewSQLiteProjectionBuilder(ProjectorName, db, checkpointStore, eventStore).
		WithPayloadDecoder(DecodePayload).
		OnReset(resetBalanceTable)

	builder.OnWithTx(EventBankAccountOpened, handleBankAccountOpened)
	builder.OnWithTx(EventMoneyDeposited, handleMoneyDeposited)
	builder.OnWithTx(EventMoneyWithdrawn, handleMoneyWithdrawn)
	builder.OnWithTx(EventFeeApplied, handleFeeApplied)
	builder.OnWithTx(EventAccountFrozen, handleStatusChange(StatusFrozen))
	builder.OnWithTx(EventAccountUnfrozen, handleStatusChange(StatusOpen))
	builder.OnWithTx(EventAccountClosed, handleStatusChange(StatusClosed))
	builder.OnWithTx(EventOverdraftLimitChanged, handleOverdraftLimitChanged)
	builder.OnWithTx(EventAccountHolderNameChanged, handleAccountHolderNameChanged)

	projection, err := builder.Build()
	if err != nil {
		return nil, err
	}
	return projection.(*sqlite.SQLiteProjection), nil
}

func resetBalanceTable(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.Exec(`DELETE FROM account_balance`)
	if err != nil {
		return fmt.Errorf("%w: reset account_balance: %v", bankerrors.ErrStorageError, err)
	}
	return nil
}

func handleBankAccountOpened(ctx context.Context, tx *sql.Tx, envelope *domain.EventEnvelope) error {
	p, ok := envelope.Payload.(*BankAccountOpenedPayload)
	if !ok {
		return fmt.Errorf("%w: unexpected payload type for %s", bankerrors.ErrCodecError, envelope.EventType)
	}
	limit, err := decimal.NewFromString(p.OverdraftLimit)
	if err != nil {
		return fmt.Errorf("%w: invalid overdraftLimit: %v", bankerrors.ErrCodecError, err)
	}
	available := p.InitialBalance.Amount().Add(limit)

	_, err = tx.Exec(`
		INSERT INTO account_balance (
			account_id, holder_name, status, balance_amount, balance_currency,
			overdraft_limit, available_to_withdraw, version, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			holder_name = excluded.holder_name,
			status = excluded.status,
			balance_amount = excluded.balance_amount,
			balance_currency = excluded.balance_currency,
			overdraft_limit = excluded.overdraft_limit,
			available_to_withdraw = excluded.available_to_withdraw,
			version = excluded.version,
			updated_at = excluded.updated_at
		WHERE account_balance.version < excluded.version
	`, envelope.AggregateID, p.AccountHolder, string(StatusOpen),
		p.InitialBalance.Amount().String(), p.InitialBalance.Currency(),
		limit.String(), available.String(), envelope.Version, envelope.Timestamp.Unix())
	if err != nil {
		return fmt.Errorf("%w: upsert account_balance: %v", bankerrors.ErrStorageError, err)
	}
	return nil
}

func handleMoneyDeposited(ctx context.Context, tx *sql.Tx, envelope *domain.EventEnvelope) error {
	p, ok := envelope.Payload.(*MoneyDepositedPayload)
	if !ok {
		return fmt.Errorf("%w: unexpected payload type for %s", bankerrors.ErrCodecError, envelope.EventType)
	}
	return applyBalanceDelta(tx, envelope, p.Amount.Amount())
}

func handleMoneyWithdrawn(ctx context.Context, tx *sql.Tx, envelope *domain.EventEnvelope) error {
	p, ok := envelope.Payload.(*MoneyWithdrawnPayload)
	if !ok {
		return fmt.Errorf("%w: unexpected payload type for %s", bankerrors.ErrCodecError, envelope.EventType)
	}
	return applyBalanceDelta(tx, envelope, p.Amount.Amount().Neg())
}

func handleFeeApplied(ctx context.Context, tx *sql.Tx, envelope *domain.EventEnvelope) error {
	p, ok := envelope.Payload.(*FeeAppliedPayload)
	if !ok {
		return fmt.Errorf("%w: unexpected payload type for %s", bankerrors.ErrCodecError, envelope.EventType)
	}
	return applyBalanceDelta(tx, envelope, p.FeeAmount.Amount().Neg())
}

// applyBalanceDelta reads the current row, adds delta to the balance, and
// writes it back guarded by the stored version, so a replayed event (at
// or below the stored version) is a no-op rather than double-applied.
func applyBalanceDelta(tx *sql.Tx, envelope *domain.EventEnvelope, delta decimal.Decimal) error {
	row, err := loadBalanceRowForUpdate(tx, envelope.AggregateID)
	if err != nil {
		return err
	}
	if row.Version >= envelope.Version {
		return nil // already applied
	}

	newBalance := row.BalanceAmount.Add(delta)
	newAvailable := newBalance.Add(row.OverdraftLimit)

	_, err = tx.Exec(`
		UPDATE account_balance SET balance_amount = ?, available_to_withdraw = ?, version = ?, updated_at = ?
		WHERE account_id = ? AND version < ?
	`, newBalance.String(), newAvailable.String(), envelope.Version, envelope.Timestamp.Unix(), envelope.AggregateID, envelope.Version)
	if err != nil {
		return fmt.Errorf("%w: update account_balance: %v", bankerrors.ErrStorageError, err)
	}
	return nil
}

func handleStatusChange(newStatus Status) func(context.Context, *sql.Tx, *domain.EventEnvelope) error {
	return func(ctx context.Context, tx *sql.Tx, envelope *domain.EventEnvelope) error {
		_, err := tx.Exec(`
			UPDATE account_balance SET status = ?, version = ?, updated_at = ?
			WHERE account_id = ? AND version < ?
		`, string(newStatus), envelope.Version, envelope.Timestamp.Unix(), envelope.AggregateID, envelope.Version)
		if err != nil {
			return fmt.Errorf("%w: update account_balance status: %v", bankerrors.ErrStorageError, err)
		}
		return nil
	}
}

func handleOverdraftLimitChanged(ctx context.Context, tx *sql.Tx, envelope *domain.EventEnvelope) error {
	p, ok := envelope.Payload.(*OverdraftLimitChangedPayload)
	if !ok {
		return fmt.Errorf("%w: unexpected payload type for %s", bankerrors.ErrCodecError, envelope.EventType)
	}
	newLimit, err := decimal.NewFromString(p.NewOverdraftLimit)
	if err != nil {
		return fmt.Errorf("%w: invalid newOverdraftLimit: %v", bankerrors.ErrCodecError, err)
	}

	row, err := loadBalanceRowForUpdate(tx, envelope.AggregateID)
	if err != nil {
		return err
	}
	if row.Version >= envelope.Version {
		return nil
	}
	newAvailable := row.BalanceAmount.Add(newLimit)

	_, err = tx.Exec(`
		UPDATE account_balance SET overdraft_limit = ?, available_to_withdraw = ?, version = ?, updated_at = ?
		WHERE account_id = ? AND version < ?
	`, newLimit.String(), newAvailable.String(), envelope.Version, envelope.Timestamp.Unix(), envelope.AggregateID, envelope.Version)
	if err != nil {
		return fmt.Errorf("%w: update account_balance overdraft limit: %v", bankerrors.ErrStorageError, err)
	}
	return nil
}

func handleAccountHolderNameChanged(ctx context.Context, tx *sql.Tx, envelope *domain.EventEnvelope) error {
	p, ok := envelope.Payload.(*AccountHolderNameChangedPayload)
	if !ok {
		return fmt.Errorf("%w: unexpected payload type for %s", bankerrors.ErrCodecError, envelope.EventType)
	}
	_, err := tx.Exec(`
		UPDATE account_balance SET holder_name = ?, version = ?, updated_at = ?
		WHERE account_id = ? AND version < ?
	`, p.NewAccountHolderName, envelope.Version, envelope.Timestamp.Unix(), envelope.AggregateID, envelope.Version)
	if err != nil {
		return fmt.Errorf("%w: update account_balance holder name: %v", bankerrors.ErrStorageError, err)
	}
	return nil
}

func loadBalanceRowForUpdate(tx *sql.Tx, accountID string) (*BalanceRow, error) {
	var row BalanceRow
	var balanceAmount, overdraftLimit string

	err := tx.QueryRow(`
		SELECT account_id, holder_name, status, balance_amount, balance_currency, overdraft_limit, version
		FROM account_balance WHERE account_id = ?
	`, accountID).Scan(&row.AccountID, &row.HolderName, &row.Status, &balanceAmount, &row.BalanceCurrency, &overdraftLimit, &row.Version)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: account_balance row for %s", bankerrors.ErrNotFound, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load account_balance row: %v", bankerrors.ErrStorageError, err)
	}

	row.BalanceAmount, err = decimal.NewFromString(balanceAmount)
	if err != nil {
		return nil, fmt.Errorf("%w: parse stored balance: %v", bankerrors.ErrCodecError, err)
	}
	row.OverdraftLimit, err = decimal.NewFromString(overdraftLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: parse stored overdraft limit: %v", bankerrors.ErrCodecError, err)
	}
	return &row, nil
}
