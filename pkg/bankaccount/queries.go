package bankaccount

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/plaenen/bankledger/pkg/bankerrors"
)

// sortColumnWhitelist maps a caller-facing sort key to its account_balance
// column. ListAccounts refuses any SortBy not present here rather than
// interpolating caller input into the ORDER BY clause.
var sortColumnWhitelist = map[string]string{
	"updated_at":            "updated_at",
	"balance_amount":        "balance_amount",
	"available_to_withdraw": "available_to_withdraw",
	"overdraft_limit":       "overdraft_limit",
	"holder_name":           "holder_name",
	"status":                "status",
}

// ListFilter narrows and orders a ListAccounts query.
type ListFilter struct {
	Status     string // empty matches any status
	SortBy     string // must be a key of sortColumnWhitelist; defaults to "updated_at"
	Descending bool
	Limit      int // <= 0 means unbounded
	Offset     int
}

// GetAccount looks up a single account_balance row by id.
func GetAccount(db *sql.DB, accountID string) (*BalanceRow, error) {
	row := db.QueryRow(`
		SELECT account_id, holder_name, status, balance_amount, balance_currency,
		       overdraft_limit, available_to_withdraw, version, updated_at
		FROM account_balance WHERE account_id = ?
	`, accountID)

	var r BalanceRow
	var balanceAmount, overdraftLimit, availableToWithdraw string
	var updatedAtUnix int64

	err := row.Scan(&r.AccountID, &r.HolderName, &r.Status, &balanceAmount, &r.BalanceCurrency,
		&overdraftLimit, &availableToWithdraw, &r.Version, &updatedAtUnix)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: account %s", bankerrors.ErrNotFound, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get account: %v", bankerrors.ErrStorageError, err)
	}
	if err := r.parseDecimals(balanceAmount, overdraftLimit, availableToWithdraw, updatedAtUnix); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListAccounts returns account_balance rows matching filter, ordered by
// filter.SortBy. Every read query here is parameterized; only the sort
// column name (never a value) is chosen from sortColumnWhitelist and
// spliced into the query text.
func ListAccounts(db *sql.DB, filter ListFilter) ([]*BalanceRow, error) {
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "updated_at"
	}
	column, ok := sortColumnWhitelist[sortBy]
	if !ok {
		return nil, bankerrors.InvalidArgument("unknown sort column %q", filter.SortBy)
	}

	var b strings.Builder
	b.WriteString(`
		SELECT account_id, holder_name, status, balance_amount, balance_currency,
		       overdraft_limit, available_to_withdraw, version, updated_at
		FROM account_balance
	`)
	var args []any
	if filter.Status != "" {
		b.WriteString(" WHERE status = ?")
		args = append(args, filter.Status)
	}
	b.WriteString(" ORDER BY " + column)
	if filter.Descending {
		b.WriteString(" DESC")
	}
	if filter.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			b.WriteString(" OFFSET ?")
			args = append(args, filter.Offset)
		}
	}

	rows, err := db.Query(b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list accounts: %v", bankerrors.ErrStorageError, err)
	}
	defer rows.Close()

	var result []*BalanceRow
	for rows.Next() {
		var r BalanceRow
		var balanceAmount, overdraftLimit, availableToWithdraw string
		var updatedAtUnix int64

		if err := rows.Scan(&r.AccountID, &r.HolderName, &r.Status, &balanceAmount, &r.BalanceCurrency,
			&overdraftLimit, &availableToWithdraw, &r.Version, &updatedAtUnix); err != nil {
			return nil, fmt.Errorf("%w: list accounts: %v", bankerrors.ErrStorageError, err)
		}
		if err := r.parseDecimals(balanceAmount, overdraftLimit, availableToWithdraw, updatedAtUnix); err != nil {
			return nil, err
		}
		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list accounts: %v", bankerrors.ErrStorageError, err)
	}
	return result, nil
}

// OverdrawnRow is an account_balance row ranked by overdraft usage.
type OverdrawnRow struct {
	BalanceRow
	OverdraftUsagePercent decimal.Decimal
}

// Overdrawn returns accounts with a negative balance, ranked by
// overdraft-usage percent (|balance|/overdraftLimit * 100, or 100 when
// the limit is zero) descending. limit <= 0 returns every overdrawn
// account. The percent ranking needs real decimal arithmetic, so the
// candidate rows (balance_amount stored as a '-'-prefixed string) are
// pulled with a single WHERE and ranked in Go rather than in SQL.
func Overdrawn(db *sql.DB, limit int) ([]*OverdrawnRow, error) {
	rows, err := db.Query(`
		SELECT account_id, holder_name, status, balance_amount, balance_currency,
		       overdraft_limit, available_to_withdraw, version, updated_at
		FROM account_balance
		WHERE balance_amount LIKE '-%'
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: overdrawn accounts: %v", bankerrors.ErrStorageError, err)
	}
	defer rows.Close()

	var result []*OverdrawnRow
	for rows.Next() {
		var r BalanceRow
		var balanceAmount, overdraftLimit, availableToWithdraw string
		var updatedAtUnix int64

		if err := rows.Scan(&r.AccountID, &r.HolderName, &r.Status, &balanceAmount, &r.BalanceCurrency,
			&overdraftLimit, &availableToWithdraw, &r.Version, &updatedAtUnix); err != nil {
			return nil, fmt.Errorf("%w: overdrawn accounts: %v", bankerrors.ErrStorageError, err)
		}
		if err := r.parseDecimals(balanceAmount, overdraftLimit, availableToWithdraw, updatedAtUnix); err != nil {
			return nil, err
		}

		usage := decimal.NewFromInt(100)
		if !r.OverdraftLimit.IsZero() {
			usage = r.BalanceAmount.Abs().Div(r.OverdraftLimit).Mul(decimal.NewFromInt(100))
		}
		result = append(result, &OverdrawnRow{BalanceRow: r, OverdraftUsagePercent: usage})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: overdrawn accounts: %v", bankerrors.ErrStorageError, err)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].OverdraftUsagePercent.GreaterThan(result[j].OverdraftUsagePercent)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// StatusCount is the number of accounts currently in a given status.
type StatusCount struct {
	Status string
	Count  int
}

// CurrencySum is the total balance held across accounts in a currency.
type CurrencySum struct {
	Currency string
	Total    decimal.Decimal
}

// Summary is counts per status and balance sums per currency across the
// whole account_balance table.
type Summary struct {
	StatusCounts []StatusCount
	CurrencySums []CurrencySum
}

// GetSummary aggregates account_balance into per-status counts and
// per-currency balance sums. Sums run over the stored TEXT decimal
// strings in Go rather than SQL's own SUM, since SQLite's numeric
// coercion would round to floating point.
func GetSummary(db *sql.DB) (*Summary, error) {
	statusRows, err := db.Query(`
		SELECT status, COUNT(*) FROM account_balance GROUP BY status ORDER BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: summary status counts: %v", bankerrors.ErrStorageError, err)
	}
	defer statusRows.Close()

	var statusCounts []StatusCount
	for statusRows.Next() {
		var sc StatusCount
		if err := statusRows.Scan(&sc.Status, &sc.Count); err != nil {
			return nil, fmt.Errorf("%w: summary status counts: %v", bankerrors.ErrStorageError, err)
		}
		statusCounts = append(statusCounts, sc)
	}
	if err := statusRows.Err(); err != nil {
		return nil, fmt.Errorf("%w: summary status counts: %v", bankerrors.ErrStorageError, err)
	}

	balanceRows, err := db.Query(`
		SELECT balance_currency, balance_amount FROM account_balance ORDER BY balance_currency
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: summary currency sums: %v", bankerrors.ErrStorageError, err)
	}
	defer balanceRows.Close()

	sums := make(map[string]decimal.Decimal)
	var order []string
	for balanceRows.Next() {
		var currency, amount string
		if err := balanceRows.Scan(&currency, &amount); err != nil {
			return nil, fmt.Errorf("%w: summary currency sums: %v", bankerrors.ErrStorageError, err)
		}
		parsed, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("%w: parse stored balance: %v", bankerrors.ErrCodecError, err)
		}
		if _, ok := sums[currency]; !ok {
			order = append(order, currency)
		}
		sums[currency] = sums[currency].Add(parsed)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, fmt.Errorf("%w: summary currency sums: %v", bankerrors.ErrStorageError, err)
	}

	currencySums := make([]CurrencySum, 0, len(order))
	for _, currency := range order {
		currencySums = append(currencySums, CurrencySum{Currency: currency, Total: sums[currency]})
	}

	return &Summary{StatusCounts: statusCounts, CurrencySums: currencySums}, nil
}

// parseDecimals fills in the decimal.Decimal and time.Time fields of a
// BalanceRow from the raw TEXT/INTEGER columns its three callers all
// scan the same way.
func (r *BalanceRow) parseDecimals(balanceAmount, overdraftLimit, availableToWithdraw string, updatedAtUnix int64) error {
	var err error
	r.BalanceAmount, err = decimal.NewFromString(balanceAmount)
	if err != nil {
		return fmt.Errorf("%w: parse stored balance: %v", bankerrors.ErrCodecError, err)
	}
	r.OverdraftLimit, err = decimal.NewFromString(overdraftLimit)
	if err != nil {
		return fmt.Errorf("%w: parse stored overdraft limit: %v", bankerrors.ErrCodecError, err)
	}
	r.AvailableToWithdraw, err = decimal.NewFromString(availableToWithdraw)
	if err != nil {
		return fmt.Errorf("%w: parse stored available-to-withdraw: %v", bankerrors.ErrCodecError, err)
	}
	r.UpdatedAt = time.Unix(updatedAtUnix, 0).UTC()
	return nil
}
