package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aryanduntley/fractaledger-sub002/internal/models"

	"github.com/shopspring/decimal"
)

// stubBackend implements the functions exercised below; the rest panic
// through the nil embedded interface.
type stubBackend struct {
	Backend
	wallets map[string]*models.InternalWallet
	calls   []string
	closed  bool
}

func newStubBackend() *stubBackend {
	return &stubBackend{wallets: map[string]*models.InternalWallet{}}
}

func (s *stubBackend) CreateInternalWallet(_ context.Context, blockchain, primary, id string, md map[string]any) (*models.InternalWallet, error) {
	s.calls = append(s.calls, FnCreateInternalWallet)
	if _, ok := s.wallets[id]; ok {
		return nil, ErrWalletExists
	}
	w := &models.InternalWallet{Id: id, Blockchain: blockchain, PrimaryWalletName: primary, Metadata: md}
	s.wallets[id] = w
	return w, nil
}

func (s *stubBackend) GetInternalWallet(_ context.Context, id string) (*models.InternalWallet, error) {
	s.calls = append(s.calls, FnGetInternalWallet)
	w, ok := s.wallets[id]
	if !ok {
		return nil, ErrWalletNotFound
	}
	return w, nil
}

func (s *stubBackend) FundInternalWallet(_ context.Context, id string, amount decimal.Decimal, _ string) (*models.InternalWallet, error) {
	s.calls = append(s.calls, FnFundInternalWallet)
	w, ok := s.wallets[id]
	if !ok {
		return nil, ErrWalletNotFound
	}
	w.Balance = w.Balance.Add(amount)
	return w, nil
}

func (s *stubBackend) GetBalanceDiscrepancies(_ context.Context, blockchain, primary string, includeResolved bool) ([]models.BalanceDiscrepancy, error) {
	s.calls = append(s.calls, FnGetBalanceDiscrepancies)
	return []models.BalanceDiscrepancy{{Id: "d1", Blockchain: blockchain, PrimaryWalletName: primary, Resolved: includeResolved}}, nil
}

func (s *stubBackend) Close() { s.closed = true }

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := newStubBackend()
	client := NewClient(NewLedger(backend))

	w, err := client.CreateInternalWallet(ctx, "bitcoin", "hot", "alice", map[string]any{"tier": "gold"})
	if err != nil {
		t.Fatalf("CreateInternalWallet failed: %v", err)
	}
	if w.Id != "alice" || w.Metadata["tier"] != "gold" {
		t.Errorf("unexpected wallet: %+v", w)
	}

	funded, err := client.FundInternalWallet(ctx, "alice", decimal.RequireFromString("0.12345678"), "ref-1")
	if err != nil {
		t.Fatalf("FundInternalWallet failed: %v", err)
	}
	if !funded.Balance.Equal(decimal.RequireFromString("0.12345678")) {
		t.Errorf("expected balance 0.12345678, got %s", funded.Balance)
	}

	got, err := client.GetInternalWallet(ctx, "alice")
	if err != nil {
		t.Fatalf("GetInternalWallet failed: %v", err)
	}
	if !got.Balance.Equal(funded.Balance) {
		t.Errorf("expected %s, got %s", funded.Balance, got.Balance)
	}

	ds, err := client.GetBalanceDiscrepancies(ctx, "bitcoin", "hot", true)
	if err != nil {
		t.Fatalf("GetBalanceDiscrepancies failed: %v", err)
	}
	if len(ds) != 1 || !ds[0].Resolved || ds[0].PrimaryWalletName != "hot" {
		t.Errorf("unexpected discrepancies: %+v", ds)
	}

	client.Close()
	if !backend.closed {
		t.Error("expected backend to be closed")
	}
}

func TestClientPropagatesSentinels(t *testing.T) {
	ctx := context.Background()
	client := NewClient(NewLedger(newStubBackend()))

	_, err := client.GetInternalWallet(ctx, "missing")
	if !errors.Is(err, ErrWalletNotFound) {
		t.Errorf("expected ErrWalletNotFound, got %v", err)
	}

	if _, err := client.CreateInternalWallet(ctx, "bitcoin", "hot", "dup", nil); err != nil {
		t.Fatalf("CreateInternalWallet failed: %v", err)
	}
	_, err = client.CreateInternalWallet(ctx, "bitcoin", "hot", "dup", nil)
	if !errors.Is(err, ErrWalletExists) {
		t.Errorf("expected ErrWalletExists, got %v", err)
	}
}

func TestClientRejectsLargeMetadata(t *testing.T) {
	backend := newStubBackend()
	client := NewClient(NewLedger(backend))

	_, err := client.CreateInternalWallet(context.Background(), "bitcoin", "hot", "big",
		map[string]any{"blob": strings.Repeat("a", MaxMetadataSize)})
	if !errors.Is(err, ErrMetadataTooLarge) {
		t.Errorf("expected ErrMetadataTooLarge, got %v", err)
	}
	if len(backend.calls) != 0 {
		t.Errorf("expected no ledger call, got %v", backend.calls)
	}
}

func TestLedgerDispatch(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(newStubBackend())

	tests := []struct {
		name     string
		evaluate bool
		fn       string
		args     []string
		want     error
	}{
		{name: "unknown function", fn: "mintCoins", want: ErrUnknownFunction},
		{name: "wrong arity", fn: FnGetInternalWallet, args: []string{"a", "b"}, want: ErrInvalidArgument},
		{name: "bad amount", fn: FnFundInternalWallet, args: []string{"a", "lots", "ref"}, want: ErrInvalidArgument},
		{name: "bad bool", evaluate: true, fn: FnGetBalanceDiscrepancies, args: []string{"bitcoin", "hot", "maybe"}, want: ErrInvalidArgument},
		{name: "evaluate mutation", evaluate: true, fn: FnFundInternalWallet, args: []string{"a", "1", "ref"}, want: ErrInvalidArgument},
		{name: "bad metadata", fn: FnCreateInternalWallet, args: []string{"bitcoin", "hot", "x", "{"}, want: ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.evaluate {
				_, err = ledger.Evaluate(ctx, tt.fn, tt.args...)
			} else {
				_, err = ledger.Submit(ctx, tt.fn, tt.args...)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateAmount(t *testing.T) {
	if err := ValidateAmount(decimal.RequireFromString("0.00000001")); err != nil {
		t.Errorf("expected valid amount, got %v", err)
	}
	for _, s := range []string{"0", "-1"} {
		if err := ValidateAmount(decimal.RequireFromString(s)); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("amount %s: expected ErrInvalidArgument, got %v", s, err)
		}
	}
}
