package models

import (
	"time"
)

// ChildAccount is the locally persisted record of one onboarded child. It is
// a cache of provider/chain truth plus the idempotency key for the creation
// saga; the provider and the chains remain authoritative for their parts.
type ChildAccount struct {
	ID                  string    `json:"id"`
	ParentUserID        string    `json:"parentUserId"`
	ChildUserID         string    `json:"childUserId"`
	ChildName           string    `json:"childName"`
	ChildAddress        string    `json:"childAddress"`
	ParentWalletAddress string    `json:"parentWalletAddress"`
	CheckingWalletID    string    `json:"checkingWalletId"`
	CheckingWalletAddr  string    `json:"checkingWalletAddress"`
	VaultWalletID       string    `json:"vaultWalletId"`
	VaultWalletAddr     string    `json:"vaultWalletAddress"`
	VaultPolicyID       string    `json:"vaultPolicyId"`
	Verified            bool      `json:"verified"`
	CreatedAt           time.Time `json:"createdAt"`
}

// AccountResult is what the creation saga returns. Partial success is a
// first-class outcome: the caller must inspect the individual flags, there is
// no overall success boolean.
type AccountResult struct {
	ChildUserID         string `json:"childUserId"`
	ChildAddress        string `json:"childAddress"`
	ParentWalletAddress string `json:"parentWalletAddress"`
	CheckingWalletID    string `json:"checkingWalletId"`
	CheckingWalletAddr  string `json:"checkingWalletAddress"`
	VaultWalletID       string `json:"vaultWalletId"`
	VaultWalletAddr     string `json:"vaultWalletAddress"`
	VaultUnlockTime     int64  `json:"vaultUnlockTime"`
	PoliciesCreated     bool   `json:"policiesCreated"`
	BaseRegistered      bool   `json:"baseRegistered"`
	CeloRegistered      bool   `json:"celoRegistered"`
	SapphireStored      bool   `json:"sapphireStored"`
	AlreadyExisted      bool   `json:"alreadyExisted"`
}

// ChildProfile is the encrypted profile stored on Sapphire. Provider ids live
// in their own fields so the on-chain tuple round-trips them without
// overloading the email column.
type ChildProfile struct {
	ChildAddress       string `json:"childAddress"`
	Name               string `json:"name"`
	DateOfBirth        int64  `json:"dateOfBirth"`
	Email              string `json:"email"`
	ParentWalletAddr   string `json:"parentWalletAddress"`
	CheckingWalletAddr string `json:"checkingWalletAddress"`
	VaultWalletAddr    string `json:"vaultWalletAddress"`
	ChildUserID        string `json:"childUserId"`
	ParentUserID       string `json:"parentUserId"`
	AgeVerified        bool   `json:"ageVerified"`
}

// VerificationEvent is one ChildVerified log decoded from Celo. It is never
// persisted; a reconciliation pass rebuilds it from the chain, which is what
// makes the pass safe to re-run.
type VerificationEvent struct {
	ChildAddress  string    `json:"childAddress"`
	ParentAddress string    `json:"parentAddress"`
	Timestamp     time.Time `json:"timestamp"`
	BlockNumber   uint64    `json:"blockNumber"`
	TxHash        string    `json:"txHash"`
}

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	EventsProcessed int                 `json:"eventsProcessed"`
	EventsSkipped   int                 `json:"eventsSkipped"`
	LastBlock       uint64              `json:"lastBlock"`
	Events          []VerificationEvent `json:"events"`
}

// NotificationEvent is emitted to Kafka when something a parent cares about
// happens (verification completed, deposit received).
type NotificationEvent struct {
	Type         string    `json:"type"`
	ChildAddress string    `json:"childAddress"`
	Email        string    `json:"email,omitempty"`
	WalletID     string    `json:"walletId,omitempty"`
	Amount       string    `json:"amount,omitempty"`
	TxHash       string    `json:"txHash,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Notification types.
const (
	NotifyVerificationDone = "child.verification_completed"
	NotifyDepositReceived  = "wallet.deposit_received"
)
