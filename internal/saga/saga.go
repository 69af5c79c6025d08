// Package saga implements the child account creation flow: derive the child
// identity, provision provider users and wallets, then register the child on
// Base, Celo and Sapphire. The steps span four independently writable systems
// with no shared transaction, so each step carries an explicit failure policy
// instead of ad hoc try/catch: Abort stops the saga (only allowed while
// nothing externally visible exists yet), Degrade records the failure as a
// result flag and keeps going. Nothing is ever rolled back.
package saga

import (
	"context"
	"errors"
	"fmt"

	"family-custody/internal/identity"
	"family-custody/internal/interfaces"
	"family-custody/internal/metrics"
	"family-custody/internal/models"

	"github.com/rs/zerolog"
)

// Errors that abort the saga.
var (
	ErrParentWalletMissing = errors.New("parent has no wallet on file")
	ErrMissingField        = errors.New("missing required field")
)

// adultAge is the vault time-lock horizon in seconds. Fixed 365-day years,
// matching the contracts.
const adultAge = 18 * 365 * 24 * 3600

// Request carries the creation parameters from the HTTP layer.
type Request struct {
	ParentUserID     string `json:"parentUserId"`
	ChildName        string `json:"childName"`
	ChildDateOfBirth int64  `json:"childDateOfBirth"`
	ParentEmail      string `json:"parentEmail"`
}

// Validate reports the first missing required field.
func (r Request) Validate() error {
	switch {
	case r.ParentUserID == "":
		return fmt.Errorf("%w: parentUserId", ErrMissingField)
	case r.ChildName == "":
		return fmt.Errorf("%w: childName", ErrMissingField)
	case r.ChildDateOfBirth == 0:
		return fmt.Errorf("%w: childDateOfBirth", ErrMissingField)
	case r.ParentEmail == "":
		return fmt.Errorf("%w: parentEmail", ErrMissingField)
	}
	return nil
}

type failurePolicy int

const (
	abort failurePolicy = iota
	degrade
)

// step is one saga action with its failure policy.
type step struct {
	name   string
	policy failurePolicy
	run    func(ctx context.Context) error
}

// Saga orchestrates child account creation.
type Saga struct {
	provider  interfaces.WalletProvider
	registry  interfaces.BaseRegistrar
	vault     interfaces.CeloRegistrar
	dataStore interfaces.SapphireStore
	accounts  interfaces.AccountStore
	logger    *zerolog.Logger
}

// New wires a Saga from its collaborators.
func New(provider interfaces.WalletProvider, registry interfaces.BaseRegistrar,
	vault interfaces.CeloRegistrar, dataStore interfaces.SapphireStore,
	accounts interfaces.AccountStore, logger *zerolog.Logger) *Saga {
	return &Saga{
		provider:  provider,
		registry:  registry,
		vault:     vault,
		dataStore: dataStore,
		accounts:  accounts,
		logger:    logger,
	}
}

// runState accumulates step outputs across the ordered step list.
type runState struct {
	req            Request
	parentWallet   string
	childUserID    string
	childAddress   string
	quorumID       string
	checkingWallet *models.ProviderWallet
	vaultWallet    *models.ProviderWallet
	vaultPolicyID  string
	result         *models.AccountResult
}

// Run executes the saga. A nil error with partially false result flags is the
// normal shape of a degraded run; a non-nil error means the saga aborted
// before any wallet existed.
func (s *Saga) Run(ctx context.Context, req Request) (*models.AccountResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// Idempotency: a child already created for this parent+name is returned
	// as-is instead of provisioning duplicates at the provider.
	if existing, err := s.accounts.GetChildAccount(req.ParentUserID, req.ChildName); err == nil {
		s.logger.Info().
			Str("parentUserId", req.ParentUserID).
			Str("childName", req.ChildName).
			Msg("Child account already exists, returning stored result")
		metrics.SagaRuns.WithLabelValues("already_existed").Inc()
		return resultFromAccount(existing), nil
	} else if !errors.Is(err, interfaces.ErrNotFound) {
		// A broken lookup must not block onboarding; worst case is a
		// duplicate, which the unique index catches at persist time.
		s.logger.Warn().Err(err).Msg("Idempotency lookup failed, proceeding")
	}

	st := &runState{req: req, result: &models.AccountResult{
		VaultUnlockTime: req.ChildDateOfBirth + adultAge,
	}}

	for _, step := range s.steps(st) {
		err := step.run(ctx)
		if err == nil {
			continue
		}

		metrics.SagaStepFailures.WithLabelValues(step.name).Inc()

		if step.policy == abort {
			s.logger.Error().
				Err(err).
				Str("step", step.name).
				Str("parentUserId", req.ParentUserID).
				Msg("Saga aborted")
			metrics.SagaRuns.WithLabelValues("aborted").Inc()
			return nil, fmt.Errorf("%s: %w", step.name, err)
		}

		s.logger.Warn().
			Err(err).
			Str("step", step.name).
			Str("childAddress", st.childAddress).
			Msg("Saga step degraded, continuing")
	}

	s.persist(st)

	metrics.SagaRuns.WithLabelValues("completed").Inc()
	return st.result, nil
}

// steps is the ordered step list. Order matters: later steps consume earlier
// outputs, and the Abort policy is only legal while nothing on-chain or at
// the provider has been created that the caller would need back.
func (s *Saga) steps(st *runState) []step {
	return []step{
		{"check-gas-sponsorship", degrade, func(ctx context.Context) error {
			enabled, err := s.provider.GasSponsorshipEnabled(ctx, models.Base)
			if err != nil {
				return err
			}
			if !enabled {
				s.logger.Warn().Msg("Gas sponsorship disabled, transactions will cost the child")
			}
			return nil
		}},
		{"resolve-parent-wallet", abort, func(ctx context.Context) error {
			addr, err := s.provider.GetUserWalletAddress(ctx, st.req.ParentUserID)
			if errors.Is(err, interfaces.ErrNoWalletOnFile) {
				return ErrParentWalletMissing
			}
			if err != nil {
				return err
			}
			st.parentWallet = addr
			st.result.ParentWalletAddress = addr
			return nil
		}},
		{"create-child-user", abort, func(ctx context.Context) error {
			email := identity.DeriveChildEmail(st.req.ParentUserID, st.req.ChildName)
			user, err := s.provider.CreateUser(ctx, email)
			if err != nil {
				return err
			}
			st.childUserID = user.ID
			st.result.ChildUserID = user.ID
			return nil
		}},
		{"derive-child-address", abort, func(ctx context.Context) error {
			// Derived from the caller-supplied parent id, not the child's
			// freshly minted one, so the address is reproducible from the
			// request alone without a provider round-trip.
			addr, err := identity.DeriveChildAddress(st.req.ParentUserID, st.req.ChildName)
			if err != nil {
				return err
			}
			st.childAddress = addr.Hex()
			st.result.ChildAddress = addr.Hex()
			return nil
		}},
		{"create-key-quorum", abort, func(ctx context.Context) error {
			// Joint control of the checking wallet: a parent+child quorum
			// with threshold 1, used directly as the wallet owner.
			id, err := s.provider.CreateKeyQuorum(ctx, []string{st.req.ParentUserID, st.childUserID}, 1)
			if err != nil {
				return err
			}
			st.quorumID = id
			return nil
		}},
		{"create-checking-wallet", abort, func(ctx context.Context) error {
			wallet, err := s.provider.CreateWallet(ctx, st.quorumID)
			if err != nil {
				return err
			}
			st.checkingWallet = wallet
			st.result.CheckingWalletID = wallet.ID
			st.result.CheckingWalletAddr = wallet.Address
			return nil
		}},
		{"create-vault-wallet", abort, func(ctx context.Context) error {
			// Parent-only until verification clears the time-lock.
			wallet, err := s.provider.CreateWallet(ctx, st.req.ParentUserID)
			if err != nil {
				return err
			}
			st.vaultWallet = wallet
			st.result.VaultWalletID = wallet.ID
			st.result.VaultWalletAddr = wallet.Address
			return nil
		}},
		{"create-wallet-policies", degrade, func(ctx context.Context) error {
			// From here on real wallets exist and must be returned to the
			// caller, so failures only clear flags.
			if _, err := s.provider.CreateWalletPolicy(ctx, st.checkingWallet.ID,
				[]string{st.req.ParentUserID, st.childUserID}, 0); err != nil {
				return err
			}
			policyID, err := s.provider.CreateWalletPolicy(ctx, st.vaultWallet.ID,
				[]string{st.req.ParentUserID}, st.req.ChildDateOfBirth+adultAge)
			if err != nil {
				return err
			}
			st.vaultPolicyID = policyID
			st.result.PoliciesCreated = true
			return nil
		}},
		{"register-base", degrade, func(ctx context.Context) error {
			_, err := s.registry.RegisterChildWallets(ctx, st.childAddress,
				st.checkingWallet.Address, st.vaultWallet.Address)
			if err != nil {
				return err
			}
			st.result.BaseRegistered = true
			return nil
		}},
		{"register-celo", degrade, func(ctx context.Context) error {
			_, err := s.vault.RegisterChild(ctx, st.childAddress, st.parentWallet)
			if err != nil {
				return err
			}
			st.result.CeloRegistered = true
			return nil
		}},
		{"store-profile-sapphire", degrade, func(ctx context.Context) error {
			_, err := s.dataStore.CreateChildProfile(ctx, models.ChildProfile{
				ChildAddress:       st.childAddress,
				Name:               st.req.ChildName,
				DateOfBirth:        st.req.ChildDateOfBirth,
				Email:              st.req.ParentEmail,
				ParentWalletAddr:   st.parentWallet,
				CheckingWalletAddr: st.checkingWallet.Address,
				VaultWalletAddr:    st.vaultWallet.Address,
				ChildUserID:        st.childUserID,
				ParentUserID:       st.req.ParentUserID,
			})
			if err != nil {
				return err
			}
			st.result.SapphireStored = true
			return nil
		}},
	}
}

// persist caches the account locally for idempotency and webhook lookups.
// Failure degrades: provider and chain state already exist, the caller still
// gets its result.
func (s *Saga) persist(st *runState) {
	err := s.accounts.SaveChildAccount(&models.ChildAccount{
		ParentUserID:        st.req.ParentUserID,
		ChildUserID:         st.childUserID,
		ChildName:           st.req.ChildName,
		ChildAddress:        st.childAddress,
		ParentWalletAddress: st.parentWallet,
		CheckingWalletID:    st.checkingWallet.ID,
		CheckingWalletAddr:  st.checkingWallet.Address,
		VaultWalletID:       st.vaultWallet.ID,
		VaultWalletAddr:     st.vaultWallet.Address,
		VaultPolicyID:       st.vaultPolicyID,
	})
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("childAddress", st.childAddress).
			Msg("Failed to persist child account record")
	}
}

func resultFromAccount(a *models.ChildAccount) *models.AccountResult {
	return &models.AccountResult{
		ChildUserID:         a.ChildUserID,
		ChildAddress:        a.ChildAddress,
		ParentWalletAddress: a.ParentWalletAddress,
		CheckingWalletID:    a.CheckingWalletID,
		CheckingWalletAddr:  a.CheckingWalletAddr,
		VaultWalletID:       a.VaultWalletID,
		VaultWalletAddr:     a.VaultWalletAddr,
		AlreadyExisted:      true,
	}
}
