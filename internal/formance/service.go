package formance

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"time"

	"github.com/aryanduntley/fractaledger-sub002/internal/models"
	"github.com/aryanduntley/fractaledger-sub002/internal/store"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/sdkerrors"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.Backend.
var _ store.Backend = (*Service)(nil)

const defaultLedgerName = "fractaledger"

// chainAssets maps blockchains to their Formance asset and precision.
var chainAssets = map[string]struct {
	symbol    string
	precision int32
}{
	"bitcoin":  {"BTC", 8},
	"litecoin": {"LTC", 8},
}

// Formance account segments only allow these characters.
var accountSegment = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Service implements store.Backend on a Formance Stack ledger.
//
// Account layout:
//
//	primary:{blockchain}:{name}                  funding source of a primary wallet
//	primary:{blockchain}:{name}:withdrawals      sink of withdrawals
//	primary:{blockchain}:{name}:reconciliation   counterparty of base wallet updates
//	wallets:{id}                                 internal and base wallets
//	discrepancies:{id}                           discrepancy records (metadata only)
type Service struct {
	client *v3.Formance
	ledger string
}

// NewService creates a Formance-backed ledger.
// It connects to the stack, creates the ledger if it doesn't already exist, and returns ready to use.
func NewService(ctx context.Context, cfg models.FormanceConfig) (*Service, error) {
	if cfg.StackURL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("formance config requires StackURL, ClientID, and ClientSecret")
	}
	if cfg.LedgerName == "" {
		cfg.LedgerName = defaultLedgerName
	}

	zap.L().Info("Connecting to Formance Stack",
		zap.String("stack_url", cfg.StackURL),
		zap.String("ledger", cfg.LedgerName))

	client := v3.New(
		v3.WithServerURL(cfg.StackURL),
		v3.WithSecurity(shared.Security{
			ClientID:     v3.Pointer(cfg.ClientID),
			ClientSecret: v3.Pointer(cfg.ClientSecret),
		}),
	)

	svc := &Service{client: client, ledger: cfg.LedgerName}

	if err := svc.ensureLedger(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure ledger exists: %w", err)
	}

	zap.L().Info("Formance service initialized", zap.String("ledger", cfg.LedgerName))
	return svc, nil
}

// ensureLedger creates the ledger if it does not already exist.
func (s *Service) ensureLedger(ctx context.Context) error {
	_, err := s.client.Ledger.V2.CreateLedger(ctx, operations.V2CreateLedgerRequest{
		Ledger: s.ledger,
		V2CreateLedgerRequest: shared.V2CreateLedgerRequest{
			Metadata: map[string]string{
				"application": "fractaledger",
			},
		},
	})
	if err != nil {
		var apiErr *sdkerrors.V2ErrorResponse
		if errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumLedgerAlreadyExists {
			zap.L().Info("Ledger already exists", zap.String("ledger", s.ledger))
			return nil
		}
		return err
	}
	zap.L().Info("Ledger created", zap.String("ledger", s.ledger))
	return nil
}

// Close is a no-op for the Formance backend (HTTP client needs no teardown).
func (s *Service) Close() {}

// ---------- helpers ----------

// formanceAsset returns the Formance UMN notation, e.g. "BTC/8".
func formanceAsset(blockchain string) (string, error) {
	a, ok := chainAssets[blockchain]
	if !ok {
		return "", fmt.Errorf("%w: unsupported blockchain %s", store.ErrInvalidArgument, blockchain)
	}
	return fmt.Sprintf("%s/%d", a.symbol, a.precision), nil
}

func precisionFor(blockchain string) int32 {
	if a, ok := chainAssets[blockchain]; ok {
		return a.precision
	}
	return 8
}

// toMonetary converts coins to the integer smallest-unit string Numscript expects.
func toMonetary(amount decimal.Decimal, blockchain string) string {
	return amount.Shift(precisionFor(blockchain)).Truncate(0).BigInt().String()
}

// bigIntToDecimal converts a *big.Int in smallest-unit to a human-readable decimal.
func bigIntToDecimal(raw *big.Int, blockchain string) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -precisionFor(blockchain))
}

// volumeBalance extracts the balance for a specific asset from volumes.
func volumeBalance(vols map[string]shared.V2Volume, fAsset string) *big.Int {
	vol, ok := vols[fAsset]
	if !ok {
		return nil
	}
	if vol.Balance != nil {
		return vol.Balance
	}
	if vol.Input == nil {
		return nil
	}
	result := new(big.Int).Set(vol.Input)
	if vol.Output != nil {
		result.Sub(result, vol.Output)
	}
	return result
}

func validSegment(parts ...string) error {
	for _, p := range parts {
		if !accountSegment.MatchString(p) {
			return fmt.Errorf("%w: %q may only contain letters, digits, '_' and '-'", store.ErrInvalidArgument, p)
		}
	}
	return nil
}

func walletAccount(id string) string { return "wallets:" + id }

func primaryAccount(blockchain, name string) string {
	return fmt.Sprintf("primary:%s:%s", blockchain, name)
}

func discrepancyAccount(id string) string { return "discrepancies:" + id }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// isConflictError checks whether a Formance SDK error is a CONFLICT (duplicate reference).
func isConflictError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumConflict
}

// isNotFoundError checks whether a Formance SDK error is NOT_FOUND.
func isNotFoundError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumNotFound
}

func isInsufficientFundError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumInsufficientFund
}

// mapLedgerError translates Formance error codes into store sentinels.
func mapLedgerError(err error, reference string) error {
	switch {
	case err == nil:
		return nil
	case isConflictError(err):
		return fmt.Errorf("%w: reference %s already exists", store.ErrDuplicateTransaction, reference)
	case isInsufficientFundError(err):
		return fmt.Errorf("%w: %v", store.ErrInsufficientFunds, err)
	}
	return err
}

func strPtr(s string) *string { return &s }
func ptrInt64(v int64) *int64 { return &v }
