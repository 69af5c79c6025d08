package models

// ProviderUser is a user record at the wallet provider.
type ProviderUser struct {
	ID             string
	Email          string
	LinkedAccounts []LinkedAccount
}

// LinkedAccount is one account attached to a provider user. Embedded wallets
// carry the on-chain address.
type LinkedAccount struct {
	Type    string
	Address string
}

// ProviderWallet is a wallet provisioned at the provider.
type ProviderWallet struct {
	ID      string
	Address string
	OwnerID string
}

// WalletPolicy is the signer set and optional time-lock attached to a wallet.
// LockedUntil is unix seconds; zero means no time-lock.
type WalletPolicy struct {
	ID          string
	WalletID    string
	SignerIDs   []string
	LockedUntil int64
}
