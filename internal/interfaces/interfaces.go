package interfaces

import (
	"context"
	"errors"

	"family-custody/internal/models"
)

// Sentinel errors shared between the provider implementation and its
// consumers.
var (
	ErrNoWalletOnFile = errors.New("user has no embedded wallet on file")
	ErrNoEmailOnFile  = errors.New("user has no email on file")
	ErrNotFound       = errors.New("record not found")
)

// WalletProvider is the custody vendor surface the saga and the
// reconciliation loop depend on. Addresses and ids are plain strings; the
// provider is authoritative for all of them.
type WalletProvider interface {
	// CreateUser creates a provider user keyed by email and returns it.
	CreateUser(ctx context.Context, email string) (*models.ProviderUser, error)

	// GetUser returns a provider user with its linked accounts.
	GetUser(ctx context.Context, userID string) (*models.ProviderUser, error)

	// GetUserWalletAddress resolves the first embedded-wallet address linked
	// to the user, or an error when none is on file.
	GetUserWalletAddress(ctx context.Context, userID string) (string, error)

	// GetUserEmail resolves the user's contact email.
	GetUserEmail(ctx context.Context, userID string) (string, error)

	// CreateKeyQuorum creates a named signer group with a threshold and
	// returns its id. The quorum id is usable as a wallet owner.
	CreateKeyQuorum(ctx context.Context, memberUserIDs []string, threshold int) (string, error)

	// CreateWallet provisions a wallet owned by ownerID (a user or quorum id).
	CreateWallet(ctx context.Context, ownerID string) (*models.ProviderWallet, error)

	// CreateWalletPolicy attaches a signer policy to a wallet. lockedUntil of
	// zero means no time-lock.
	CreateWalletPolicy(ctx context.Context, walletID string, signerIDs []string, lockedUntil int64) (string, error)

	// GetWalletPolicy returns the current signer policy of a wallet.
	GetWalletPolicy(ctx context.Context, walletID string) (*models.WalletPolicy, error)

	// UpdateWalletPolicy replaces the signer set and time-lock of a policy.
	UpdateWalletPolicy(ctx context.Context, policyID string, signerIDs []string, lockedUntil int64) error

	// GasSponsorshipEnabled reports whether the provider sponsors gas on the
	// given chain. Advisory only.
	GasSponsorshipEnabled(ctx context.Context, chain models.ChainName) (bool, error)
}

// BaseRegistrar writes the child wallet mapping on Base.
type BaseRegistrar interface {
	RegisterChildWallets(ctx context.Context, childAddr, checkingAddr, vaultAddr string) (string, error)
}

// CeloRegistrar registers children on Celo and exposes the ChildVerified
// event stream the reconciliation loop scans.
type CeloRegistrar interface {
	RegisterChild(ctx context.Context, childAddr, parentAddr string) (string, error)
	IsChildVerified(ctx context.Context, childAddr string) (bool, error)
	FilterChildVerified(ctx context.Context, fromBlock, toBlock uint64) ([]models.VerificationEvent, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// SapphireStore holds the encrypted child profile on Sapphire.
type SapphireStore interface {
	CreateChildProfile(ctx context.Context, profile models.ChildProfile) (string, error)
	GetChildProfile(ctx context.Context, childAddr string) (*models.ChildProfile, error)
	MarkAgeVerified(ctx context.Context, childAddr string) (string, error)
}

// EventEmitter defines the interface for emitting notification events
type EventEmitter interface {
	EmitEvent(event models.NotificationEvent) error
}

// AccountStore persists child account rows and serves the saga's
// idempotency lookup.
type AccountStore interface {
	SaveChildAccount(account *models.ChildAccount) error
	GetChildAccount(parentUserID, childName string) (*models.ChildAccount, error)
	GetChildAccountByAddress(childAddress string) (*models.ChildAccount, error)
	GetChildAccountByWalletID(walletID string) (*models.ChildAccount, error)
	MarkAccountVerified(childAddress string) error
}

// CursorStore persists the last scanned block per chain so restarts resume
// instead of re-initializing to head minus lookback.
type CursorStore interface {
	GetScanState(chain string) (uint64, bool, error)
	UpdateScanState(chain string, block uint64) error
}
