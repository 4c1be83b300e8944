package money_test

import (
	"encoding/json"
	"testing"

	"github.com/plaenen/bankledger/pkg/money"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
		wantErr  bool
	}{
		{name: "valid usd", amount: "12.50", currency: "USD", wantErr: false},
		{name: "lowercase currency canonicalizes", amount: "1", currency: "usd", wantErr: false},
		{name: "invalid amount", amount: "not-a-number", currency: "USD", wantErr: true},
		{name: "invalid currency", amount: "1", currency: "ZZZ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := money.New(tt.amount, tt.currency)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && m.Currency() != "USD" {
				t.Errorf("expected canonicalized currency USD, got %s", m.Currency())
			}
		})
	}
}

func TestAddSubtract(t *testing.T) {
	a, _ := money.New("10.00", "USD")
	b, _ := money.New("2.50", "USD")

	sum, err := a.Add(b)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if sum.Amount().String() != "12.5" {
		t.Errorf("expected 12.5, got %s", sum.Amount())
	}

	diff, err := a.Subtract(b)
	if err != nil {
		t.Fatalf("Subtract() error = %v", err)
	}
	if diff.Amount().String() != "7.5" {
		t.Errorf("expected 7.5, got %s", diff.Amount())
	}
}

func TestAddSubtractCurrencyMismatch(t *testing.T) {
	usd, _ := money.New("10.00", "USD")
	eur, _ := money.New("10.00", "EUR")

	if _, err := usd.Add(eur); err == nil {
		t.Error("expected CurrencyMismatch on Add, got nil")
	}
	if _, err := usd.Subtract(eur); err == nil {
		t.Error("expected CurrencyMismatch on Subtract, got nil")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	original, _ := money.New("1234.56", "USD")

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded money.Money
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if !decoded.Equal(original) {
		t.Errorf("round trip mismatch: got %v, want %v", decoded, original)
	}
}

func TestJSONDecodeCaseInsensitiveKeys(t *testing.T) {
	var m money.Money
	err := json.Unmarshal([]byte(`{"Amount":"5.00","CURRENCY":"USD"}`), &m)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if m.Amount().String() != "5" {
		t.Errorf("expected amount 5, got %s", m.Amount())
	}
}
