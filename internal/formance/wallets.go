package formance

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aryanduntley/fractaledger-sub002/internal/models"
	"github.com/aryanduntley/fractaledger-sub002/internal/store"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"go.uber.org/zap"
)

// Account metadata keys
const (
	metaEntityType        = "entity_type"
	metaBlockchain        = "blockchain"
	metaPrimaryWalletName = "primary_wallet_name"
	metaAddress           = "address"
	metaIsBaseWallet      = "is_base_wallet"
	metaWalletMetadata    = "metadata"
	metaCreatedAt         = "created_at"

	entityPrimaryWallet  = "primary_wallet"
	entityInternalWallet = "internal_wallet"
	entityDiscrepancy    = "discrepancy"
)

// RegisterPrimaryWallet tags the primary account and opens its base wallet.
// Registering the same wallet again returns the existing base wallet.
func (s *Service) RegisterPrimaryWallet(ctx context.Context, blockchain, name, address string) (*models.InternalWallet, error) {
	if blockchain == "" || name == "" || address == "" {
		return nil, fmt.Errorf("%w: blockchain, name and address are required", store.ErrInvalidArgument)
	}
	if err := validSegment(blockchain, name); err != nil {
		return nil, err
	}
	if _, err := formanceAsset(blockchain); err != nil {
		return nil, err
	}

	primary := primaryAccount(blockchain, name)
	baseId := models.BaseWalletId(blockchain, name)

	meta, err := s.getAccountMetadata(ctx, primary)
	if err != nil {
		return nil, err
	}
	if meta[metaEntityType] == entityPrimaryWallet {
		if meta[metaAddress] != address {
			return nil, fmt.Errorf("%w: %s is registered with address %s", store.ErrWalletExists, models.WalletKey(blockchain, name), meta[metaAddress])
		}
		zap.L().Info("Primary wallet already registered", zap.String("base_wallet_id", baseId))
		return s.GetInternalWallet(ctx, baseId)
	}

	zap.L().Info("Registering primary wallet in Formance",
		zap.String("account", primary),
		zap.String("address", address))

	now := formatTime(time.Now())
	if err := s.addAccountMetadata(ctx, primary, map[string]string{
		metaEntityType: entityPrimaryWallet,
		metaBlockchain: blockchain,
		metaAddress:    address,
		metaCreatedAt:  now,
	}); err != nil {
		return nil, fmt.Errorf("failed to register primary wallet: %w", err)
	}
	if err := s.addAccountMetadata(ctx, walletAccount(baseId), map[string]string{
		metaEntityType:        entityInternalWallet,
		metaBlockchain:        blockchain,
		metaPrimaryWalletName: name,
		metaIsBaseWallet:      "true",
		metaCreatedAt:         now,
	}); err != nil {
		return nil, fmt.Errorf("failed to create base wallet: %w", err)
	}

	return s.GetInternalWallet(ctx, baseId)
}

func (s *Service) CreateInternalWallet(ctx context.Context, blockchain, primaryWalletName, id string, metadata map[string]any) (*models.InternalWallet, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: wallet id is required", store.ErrInvalidArgument)
	}
	if strings.HasPrefix(id, "base_wallet_") {
		return nil, fmt.Errorf("%w: %s is reserved for base wallets", store.ErrInvalidArgument, id)
	}
	if err := validSegment(id); err != nil {
		return nil, err
	}
	md, err := store.ValidateMetadata(metadata)
	if err != nil {
		return nil, err
	}

	primaryMeta, err := s.getAccountMetadata(ctx, primaryAccount(blockchain, primaryWalletName))
	if err != nil {
		return nil, err
	}
	if primaryMeta[metaEntityType] != entityPrimaryWallet {
		return nil, fmt.Errorf("%w: %s", store.ErrBaseWalletNotFound, models.WalletKey(blockchain, primaryWalletName))
	}

	existing, err := s.getAccountMetadata(ctx, walletAccount(id))
	if err != nil {
		return nil, err
	}
	if existing[metaEntityType] != "" {
		return nil, fmt.Errorf("%w: %s", store.ErrWalletExists, id)
	}

	zap.L().Info("Creating internal wallet in Formance",
		zap.String("id", id),
		zap.String("primary_wallet", models.WalletKey(blockchain, primaryWalletName)))

	if err := s.addAccountMetadata(ctx, walletAccount(id), map[string]string{
		metaEntityType:        entityInternalWallet,
		metaBlockchain:        blockchain,
		metaPrimaryWalletName: primaryWalletName,
		metaIsBaseWallet:      "false",
		metaWalletMetadata:    string(md),
		metaCreatedAt:         formatTime(time.Now()),
	}); err != nil {
		return nil, fmt.Errorf("failed to create internal wallet: %w", err)
	}

	return s.GetInternalWallet(ctx, id)
}

func (s *Service) GetInternalWallet(ctx context.Context, id string) (*models.InternalWallet, error) {
	resp, err := s.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  s.ledger,
		Address: walletAccount(id),
		Expand:  v3.Pointer("volumes"),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("%w: %s", store.ErrWalletNotFound, id)
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}

	acct := resp.V2AccountResponse.Data
	if acct.Metadata[metaEntityType] != entityInternalWallet {
		return nil, fmt.Errorf("%w: %s", store.ErrWalletNotFound, id)
	}
	return accountToWallet(&acct)
}

// GetInternalWalletsByPrimaryWallet returns the base wallet first, then the
// internal wallets in creation order.
func (s *Service) GetInternalWalletsByPrimaryWallet(ctx context.Context, blockchain, primaryWalletName string) ([]models.InternalWallet, error) {
	resp, err := s.client.Ledger.V2.ListAccounts(ctx, operations.V2ListAccountsRequest{
		Ledger:   s.ledger,
		PageSize: ptrInt64(1000),
		RequestBody: map[string]any{
			"$and": []any{
				map[string]any{"$match": map[string]any{"metadata[" + metaEntityType + "]": entityInternalWallet}},
				map[string]any{"$match": map[string]any{"metadata[" + metaBlockchain + "]": blockchain}},
				map[string]any{"$match": map[string]any{"metadata[" + metaPrimaryWalletName + "]": primaryWalletName}},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}

	var wallets []models.InternalWallet
	for i := range resp.V2AccountsCursorResponse.Cursor.Data {
		acct := &resp.V2AccountsCursorResponse.Cursor.Data[i]
		// Volumes are not part of the list response
		w, err := s.GetInternalWallet(ctx, strings.TrimPrefix(acct.Address, "wallets:"))
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, *w)
	}
	sortWallets(wallets)
	return wallets, nil
}

// ---------- helpers ----------

func accountToWallet(acct *shared.V2Account) (*models.InternalWallet, error) {
	meta := acct.Metadata
	w := &models.InternalWallet{
		Id:                strings.TrimPrefix(acct.Address, "wallets:"),
		Blockchain:        meta[metaBlockchain],
		PrimaryWalletName: meta[metaPrimaryWalletName],
		CreatedAt:         parseTime(meta[metaCreatedAt]),
	}
	w.IsBaseWallet, _ = strconv.ParseBool(meta[metaIsBaseWallet])

	if raw := meta[metaWalletMetadata]; raw != "" && raw != "{}" {
		if err := json.Unmarshal([]byte(raw), &w.Metadata); err != nil {
			return nil, fmt.Errorf("failed to parse metadata of %s: %w", w.Id, err)
		}
	}

	if fAsset, err := formanceAsset(w.Blockchain); err == nil {
		if bal := volumeBalance(acct.Volumes, fAsset); bal != nil {
			w.Balance = bigIntToDecimal(bal, w.Blockchain)
		}
	}

	w.UpdatedAt = w.CreatedAt
	if t := acct.UpdatedAt; t != nil {
		w.UpdatedAt = *t
	}
	return w, nil
}

// sortWallets orders the base wallet first, then by creation time and id.
func sortWallets(wallets []models.InternalWallet) {
	sort.SliceStable(wallets, func(i, j int) bool {
		a, b := wallets[i], wallets[j]
		if a.IsBaseWallet != b.IsBaseWallet {
			return a.IsBaseWallet
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Id < b.Id
	})
}

// getAccountMetadata returns the metadata of address, empty when the account
// has never been used.
func (s *Service) getAccountMetadata(ctx context.Context, address string) (map[string]string, error) {
	resp, err := s.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  s.ledger,
		Address: address,
	})
	if err != nil {
		if isNotFoundError(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to get account %s: %w", address, err)
	}
	if resp.V2AccountResponse.Data.Metadata == nil {
		return map[string]string{}, nil
	}
	return resp.V2AccountResponse.Data.Metadata, nil
}

func (s *Service) addAccountMetadata(ctx context.Context, address string, meta map[string]string) error {
	_, err := s.client.Ledger.V2.AddMetadataToAccount(ctx, operations.V2AddMetadataToAccountRequest{
		Ledger:      s.ledger,
		Address:     address,
		RequestBody: meta,
	})
	return err
}
