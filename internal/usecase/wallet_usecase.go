package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"custody-service/internal/chains"
	"custody-service/internal/domain"
	"custody-service/internal/repository"
	"custody-service/internal/security"
)

// WalletUsecase provisions wallets and deposit addresses and handles key
// export.
type WalletUsecase struct {
	store    repository.Store
	registry *chains.Registry
	vault    *security.KeyVault
	logger   *zap.Logger
}

func NewWalletUsecase(
	store repository.Store,
	registry *chains.Registry,
	vault *security.KeyVault,
	logger *zap.Logger,
) *WalletUsecase {
	return &WalletUsecase{
		store:    store,
		registry: registry,
		vault:    vault,
		logger:   logger,
	}
}

// GetOrCreateWallet returns the user's wallet, creating it lazily.
func (uc *WalletUsecase) GetOrCreateWallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	return uc.store.GetOrCreateWallet(ctx, userID)
}

// CreateDepositAddress provisions a receive address for (user, network).
// Idempotent: if the user already has one it is returned with existing=true —
// callers routinely re-request addresses, so a duplicate is a success, not an
// error.
func (uc *WalletUsecase) CreateDepositAddress(ctx context.Context, userID string, network domain.Network) (addr *domain.DepositAddress, existing bool, err error) {
	chain, err := uc.registry.Get(network)
	if err != nil {
		return nil, false, err
	}

	wallet, err := uc.store.GetOrCreateWallet(ctx, userID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get wallet: %w", err)
	}

	if found, err := uc.store.GetUserAddress(ctx, userID, network); err == nil {
		return found, true, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	keypair, err := chain.GenerateKeypair()
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate keypair: %w", err)
	}

	encryptedKey, err := uc.vault.Encrypt(keypair.PrivateKey)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encrypt private key: %w", err)
	}

	addr = &domain.DepositAddress{
		UserID:              userID,
		WalletID:            wallet.ID,
		Network:             network,
		Address:             keypair.Address,
		EncryptedPrivateKey: encryptedKey,
	}

	if err := uc.store.CreateAddress(ctx, addr); err != nil {
		if errors.Is(err, domain.ErrDuplicateAddress) {
			// Lost a race with a concurrent provision; theirs wins.
			found, ferr := uc.store.GetUserAddress(ctx, userID, network)
			if ferr != nil {
				return nil, false, ferr
			}
			return found, true, nil
		}
		return nil, false, fmt.Errorf("failed to persist deposit address: %w", err)
	}

	uc.logger.Info("deposit address created",
		zap.String("user_id", userID),
		zap.String("network", string(network)),
		zap.String("address", addr.Address),
		zap.Int64("derivation_index", addr.DerivationIndex),
	)

	return addr, false, nil
}

// KeyExport is the one-time-audited release of a plaintext private key.
type KeyExport struct {
	Network    domain.Network
	Address    string
	PrivateKey string
	Warning    string
}

const exportWarning = "Anyone with this private key controls the funds on this address. Store it securely and never share it."

// ExportKey decrypts and releases the private key for an address the user
// owns, durably setting the key_exported audit flag. A vault integrity
// failure is surfaced loudly: it means the stored ciphertext is corrupt or
// the master key is wrong, and it never yields partial plaintext.
func (uc *WalletUsecase) ExportKey(ctx context.Context, userID, addressID string) (*KeyExport, error) {
	addr, err := uc.store.GetAddress(ctx, addressID)
	if err != nil {
		return nil, err
	}
	if addr.UserID != userID {
		// Do not reveal that the address exists.
		return nil, fmt.Errorf("deposit address %s: %w", addressID, domain.ErrNotFound)
	}

	plaintext, err := uc.vault.Decrypt(addr.EncryptedPrivateKey)
	if err != nil {
		if errors.Is(err, domain.ErrIntegrity) {
			uc.logger.Error("key vault integrity failure",
				zap.String("address_id", addr.ID),
				zap.String("network", string(addr.Network)),
				zap.Error(err),
			)
		}
		return nil, err
	}

	flipped, err := uc.store.MarkKeyExported(ctx, addr.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to record key export: %w", err)
	}
	if flipped {
		uc.logger.Info("private key exported",
			zap.String("user_id", userID),
			zap.String("address_id", addr.ID),
			zap.String("network", string(addr.Network)),
		)
	}

	return &KeyExport{
		Network:    addr.Network,
		Address:    addr.Address,
		PrivateKey: plaintext,
		Warning:    exportWarning,
	}, nil
}

// Transactions lists the user's ledger history, newest first.
func (uc *WalletUsecase) Transactions(ctx context.Context, userID string, limit int) ([]*domain.WalletTransaction, error) {
	wallet, err := uc.store.GetWalletByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return uc.store.ListTransactions(ctx, wallet.ID, limit)
}
