package formance

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aryanduntley/fractaledger-sub002/internal/models"
	"github.com/aryanduntley/fractaledger-sub002/internal/store"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Discrepancy metadata keys
const (
	metaOnChainBalance   = "on_chain_balance"
	metaAggregateBalance = "aggregate_internal_balance"
	metaDifference       = "difference"
	metaTimestamp        = "timestamp"
	metaResolved         = "resolved"
	metaResolution       = "resolution"
	metaResolvedAt       = "resolved_at"
)

// RecordBalanceDiscrepancy stores d as the metadata of a fresh discrepancy
// account. Recorded discrepancies are only changed by ResolveBalanceDiscrepancy.
func (s *Service) RecordBalanceDiscrepancy(ctx context.Context, d models.BalanceDiscrepancy) (*models.BalanceDiscrepancy, error) {
	if d.Blockchain == "" || d.PrimaryWalletName == "" {
		return nil, fmt.Errorf("%w: discrepancy needs blockchain and primary wallet", store.ErrInvalidArgument)
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now().UTC()
	}

	if d.Id == "" {
		d.Id = uuid.New().String()
	} else {
		if err := validSegment(d.Id); err != nil {
			return nil, err
		}
		meta, err := s.getAccountMetadata(ctx, discrepancyAccount(d.Id))
		if err != nil {
			return nil, err
		}
		if meta[metaEntityType] == entityDiscrepancy {
			return nil, fmt.Errorf("%w: discrepancy %s already exists", store.ErrInvalidArgument, d.Id)
		}
	}

	if err := s.addAccountMetadata(ctx, discrepancyAccount(d.Id), map[string]string{
		metaEntityType:        entityDiscrepancy,
		metaBlockchain:        d.Blockchain,
		metaPrimaryWalletName: d.PrimaryWalletName,
		metaOnChainBalance:    d.OnChainBalance.String(),
		metaAggregateBalance:  d.AggregateInternalBalance.String(),
		metaDifference:        d.Difference.String(),
		metaTimestamp:         formatTime(d.Timestamp),
		metaResolved:          "false",
	}); err != nil {
		return nil, fmt.Errorf("failed to record discrepancy: %w", err)
	}

	zap.L().Warn("Balance discrepancy recorded in Formance",
		zap.String("id", d.Id),
		zap.String("wallet", models.WalletKey(d.Blockchain, d.PrimaryWalletName)),
		zap.String("difference", d.Difference.String()))

	d.Resolved = false
	d.Resolution = ""
	return &d, nil
}

// GetBalanceDiscrepancies lists discrepancies oldest first. Empty blockchain or
// primaryWalletName match every wallet.
func (s *Service) GetBalanceDiscrepancies(ctx context.Context, blockchain, primaryWalletName string, includeResolved bool) ([]models.BalanceDiscrepancy, error) {
	return s.listDiscrepancies(ctx, blockchain, primaryWalletName, includeResolved)
}

func (s *Service) ResolveBalanceDiscrepancy(ctx context.Context, id, resolution string) (*models.BalanceDiscrepancy, error) {
	if resolution == "" {
		return nil, fmt.Errorf("%w: resolution is required", store.ErrInvalidArgument)
	}
	if err := validSegment(id); err != nil {
		return nil, fmt.Errorf("%w: %s", store.ErrDiscrepancyNotFound, id)
	}

	meta, err := s.getAccountMetadata(ctx, discrepancyAccount(id))
	if err != nil {
		return nil, err
	}
	if meta[metaEntityType] != entityDiscrepancy {
		return nil, fmt.Errorf("%w: %s", store.ErrDiscrepancyNotFound, id)
	}
	d := metadataToDiscrepancy(id, meta)
	if d.Resolved {
		return nil, fmt.Errorf("%w: discrepancy %s already resolved", store.ErrInvalidArgument, id)
	}

	if err := s.addAccountMetadata(ctx, discrepancyAccount(id), map[string]string{
		metaResolved:   "true",
		metaResolution: resolution,
		metaResolvedAt: formatTime(time.Now()),
	}); err != nil {
		return nil, fmt.Errorf("failed to resolve discrepancy: %w", err)
	}

	zap.L().Info("Balance discrepancy resolved in Formance", zap.String("id", id), zap.String("resolution", resolution))
	d.Resolved = true
	d.Resolution = resolution
	return &d, nil
}

// ---------- helpers ----------

func (s *Service) listDiscrepancies(ctx context.Context, blockchain, primaryWalletName string, includeResolved bool) ([]models.BalanceDiscrepancy, error) {
	resp, err := s.client.Ledger.V2.ListAccounts(ctx, operations.V2ListAccountsRequest{
		Ledger:      s.ledger,
		PageSize:    ptrInt64(1000),
		RequestBody: discrepancyFilter(blockchain, primaryWalletName, includeResolved),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list discrepancies: %w", err)
	}

	var out []models.BalanceDiscrepancy
	for i := range resp.V2AccountsCursorResponse.Cursor.Data {
		acct := &resp.V2AccountsCursorResponse.Cursor.Data[i]
		out = append(out, accountToDiscrepancy(acct))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Id < out[j].Id
	})
	return out, nil
}

// discrepancyFilter builds the ListAccounts query for discrepancy records.
func discrepancyFilter(blockchain, primaryWalletName string, includeResolved bool) map[string]any {
	clauses := []any{
		map[string]any{"$match": map[string]any{"metadata[" + metaEntityType + "]": entityDiscrepancy}},
	}
	if blockchain != "" {
		clauses = append(clauses, map[string]any{"$match": map[string]any{"metadata[" + metaBlockchain + "]": blockchain}})
	}
	if primaryWalletName != "" {
		clauses = append(clauses, map[string]any{"$match": map[string]any{"metadata[" + metaPrimaryWalletName + "]": primaryWalletName}})
	}
	if !includeResolved {
		clauses = append(clauses, map[string]any{"$match": map[string]any{"metadata[" + metaResolved + "]": "false"}})
	}
	return map[string]any{"$and": clauses}
}

func accountToDiscrepancy(acct *shared.V2Account) models.BalanceDiscrepancy {
	return metadataToDiscrepancy(strings.TrimPrefix(acct.Address, "discrepancies:"), acct.Metadata)
}

func metadataToDiscrepancy(id string, meta map[string]string) models.BalanceDiscrepancy {
	d := models.BalanceDiscrepancy{
		Id:                id,
		Blockchain:        meta[metaBlockchain],
		PrimaryWalletName: meta[metaPrimaryWalletName],
		Timestamp:         parseTime(meta[metaTimestamp]),
		Resolution:        meta[metaResolution],
	}
	d.OnChainBalance, _ = decimal.NewFromString(meta[metaOnChainBalance])
	d.AggregateInternalBalance, _ = decimal.NewFromString(meta[metaAggregateBalance])
	d.Difference, _ = decimal.NewFromString(meta[metaDifference])
	d.Resolved, _ = strconv.ParseBool(meta[metaResolved])
	return d
}
