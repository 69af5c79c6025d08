package database

import (
	"database/sql"
	"errors"
	"time"

	"family-custody/internal/interfaces"
	"family-custody/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = interfaces.ErrNotFound

// Store wraps the shared connection and implements the account and cursor
// store interfaces consumed by the saga and the reconciliation loop.
type Store struct {
	db *sql.DB
}

// NewStore returns a Store over the initialized connection.
func NewStore() *Store {
	return &Store{db: DB}
}

// SaveChildAccount inserts a child account row. The (parent_user_id,
// child_name) pair is unique; a conflicting insert updates nothing and
// returns no error, which keeps saga re-runs idempotent at this layer.
func (s *Store) SaveChildAccount(a *models.ChildAccount) error {
	_, err := s.db.Exec(`
		INSERT INTO child_accounts (
			parent_user_id, child_user_id, child_name, child_address,
			parent_wallet_address, checking_wallet_id, checking_wallet_address,
			vault_wallet_id, vault_wallet_address, vault_policy_id, verified
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (parent_user_id, child_name) DO NOTHING
	`, a.ParentUserID, a.ChildUserID, a.ChildName, a.ChildAddress,
		a.ParentWalletAddress, a.CheckingWalletID, a.CheckingWalletAddr,
		a.VaultWalletID, a.VaultWalletAddr, a.VaultPolicyID, a.Verified)
	return err
}

// GetChildAccount retrieves a child account by the saga's idempotency key.
func (s *Store) GetChildAccount(parentUserID, childName string) (*models.ChildAccount, error) {
	return s.scanAccount(s.db.QueryRow(selectAccount+`
		WHERE parent_user_id = $1 AND child_name = $2
	`, parentUserID, childName))
}

// GetChildAccountByAddress retrieves a child account by derived address.
func (s *Store) GetChildAccountByAddress(childAddress string) (*models.ChildAccount, error) {
	return s.scanAccount(s.db.QueryRow(selectAccount+`
		WHERE child_address = $1
	`, childAddress))
}

// GetChildAccountByWalletID retrieves the child account owning the given
// provider wallet (checking or vault).
func (s *Store) GetChildAccountByWalletID(walletID string) (*models.ChildAccount, error) {
	return s.scanAccount(s.db.QueryRow(selectAccount+`
		WHERE checking_wallet_id = $1 OR vault_wallet_id = $1
	`, walletID))
}

// MarkAccountVerified flips the verified flag for a child.
func (s *Store) MarkAccountVerified(childAddress string) error {
	_, err := s.db.Exec(`
		UPDATE child_accounts SET verified = TRUE, verified_at = NOW()
		WHERE child_address = $1
	`, childAddress)
	return err
}

const selectAccount = `
		SELECT id, parent_user_id, child_user_id, child_name, child_address,
			parent_wallet_address, checking_wallet_id, checking_wallet_address,
			vault_wallet_id, vault_wallet_address, vault_policy_id, verified, created_at
		FROM child_accounts`

func (s *Store) scanAccount(row *sql.Row) (*models.ChildAccount, error) {
	var a models.ChildAccount
	var createdAt time.Time
	err := row.Scan(&a.ID, &a.ParentUserID, &a.ChildUserID, &a.ChildName,
		&a.ChildAddress, &a.ParentWalletAddress, &a.CheckingWalletID,
		&a.CheckingWalletAddr, &a.VaultWalletID, &a.VaultWalletAddr,
		&a.VaultPolicyID, &a.Verified, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.CreatedAt = createdAt
	return &a, nil
}

// GetScanState returns the last fully scanned block for a chain. The second
// return value is false when the chain has never been scanned.
func (s *Store) GetScanState(chain string) (uint64, bool, error) {
	var block uint64
	err := s.db.QueryRow(`
		SELECT last_block FROM scan_state WHERE chain = $1
	`, chain).Scan(&block)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return block, true, nil
}

// UpdateScanState advances the cursor for a chain. The GREATEST guard keeps
// the cursor monotonically non-decreasing even under racing writers.
func (s *Store) UpdateScanState(chain string, block uint64) error {
	_, err := s.db.Exec(`
		INSERT INTO scan_state (chain, last_block, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (chain) DO UPDATE
		SET last_block = GREATEST(scan_state.last_block, EXCLUDED.last_block), updated_at = NOW()
	`, chain, block)
	return err
}
