// Package reconcile implements the verification reconciliation pass: scan
// Celo for ChildVerified events past the persisted cursor, and for each new
// event bring the wallet provider and Sapphire in line with what the chain
// says. The pass derives everything from on-chain and provider truth, never
// from local memory, which is what makes it safe to re-run.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"family-custody/internal/interfaces"
	"family-custody/internal/metrics"
	"family-custody/internal/models"

	"github.com/rs/zerolog"
)

// ErrPassInProgress is returned when a pass is requested while another one
// is still running. Passes are single-flight; racing two scans over the same
// cursor would double-process or skip events.
var ErrPassInProgress = errors.New("reconciliation pass already in progress")

// Reconciler drives verification reconciliation against Celo.
type Reconciler struct {
	vault     interfaces.CeloRegistrar
	dataStore interfaces.SapphireStore
	provider  interfaces.WalletProvider
	accounts  interfaces.AccountStore
	cursor    interfaces.CursorStore
	emitter   interfaces.EventEmitter
	lookback  uint64
	logger    *zerolog.Logger

	mu      sync.Mutex
	running bool
}

// New wires a Reconciler. lookback bounds the first scan on a fresh cursor
// store so it never walks back to genesis.
func New(vault interfaces.CeloRegistrar, dataStore interfaces.SapphireStore,
	provider interfaces.WalletProvider, accounts interfaces.AccountStore,
	cursor interfaces.CursorStore, emitter interfaces.EventEmitter,
	lookback uint64, logger *zerolog.Logger) *Reconciler {
	return &Reconciler{
		vault:     vault,
		dataStore: dataStore,
		provider:  provider,
		accounts:  accounts,
		cursor:    cursor,
		emitter:   emitter,
		lookback:  lookback,
		logger:    logger,
	}
}

// CheckVerifications runs one reconciliation pass. After the batch the
// cursor advances to the scanned head unconditionally: an event whose
// mark-verified call failed is not retried on the next pass. That trades
// at-most-once-ish processing for guaranteed forward progress; revisit only
// together with the contract's duplicate-mark behavior.
func (r *Reconciler) CheckVerifications(ctx context.Context) (*models.ReconcileResult, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, ErrPassInProgress
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	head, err := r.vault.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("get celo head: %w", err)
	}

	from, err := r.scanStart(head)
	if err != nil {
		return nil, err
	}

	result := &models.ReconcileResult{LastBlock: head, Events: []models.VerificationEvent{}}

	if from > head {
		// Nothing new since the last pass.
		return result, nil
	}

	events, err := r.vault.FilterChildVerified(ctx, from, head)
	if err != nil {
		return nil, fmt.Errorf("scan verification events: %w", err)
	}

	r.logger.Info().
		Uint64("fromBlock", from).
		Uint64("toBlock", head).
		Int("eventCount", len(events)).
		Msg("Scanning ChildVerified events")

	for _, event := range events {
		processed, err := r.processEvent(ctx, event)
		if err != nil {
			// Per-event abort: log, count, move to the next event. The
			// cursor still advances past it at the end of the batch.
			r.logger.Error().
				Err(err).
				Str("childAddress", event.ChildAddress).
				Str("txHash", event.TxHash).
				Msg("Failed to process verification event")
			metrics.ReconcileEvents.WithLabelValues("failed").Inc()
			continue
		}
		if !processed {
			result.EventsSkipped++
			metrics.ReconcileEvents.WithLabelValues("skipped").Inc()
			continue
		}

		result.EventsProcessed++
		result.Events = append(result.Events, event)
		metrics.ReconcileEvents.WithLabelValues("done").Inc()
	}

	if err := r.cursor.UpdateScanState(models.Celo.String(), head); err != nil {
		return nil, fmt.Errorf("advance cursor: %w", err)
	}

	return result, nil
}

// scanStart resolves the first block of this pass: cursor+1 when a cursor
// exists, head minus the lookback window on a fresh store.
func (r *Reconciler) scanStart(head uint64) (uint64, error) {
	last, found, err := r.cursor.GetScanState(models.Celo.String())
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	if found {
		return last + 1, nil
	}

	if head <= r.lookback {
		return 0, nil
	}
	return head - r.lookback, nil
}

// processEvent walks one event through its states. Returns false when the
// event was skipped because no provider identity is on file; an error aborts
// only this event.
func (r *Reconciler) processEvent(ctx context.Context, event models.VerificationEvent) (bool, error) {
	// Confirm the flag still reads true at head before acting. A log whose
	// flag reads false was reorged out; skip it rather than unlock on stale
	// evidence.
	verified, err := r.vault.IsChildVerified(ctx, event.ChildAddress)
	if err != nil {
		return false, fmt.Errorf("confirm verification flag: %w", err)
	}
	if !verified {
		r.logger.Warn().
			Str("childAddress", event.ChildAddress).
			Str("txHash", event.TxHash).
			Msg("ChildVerified log not reflected at head, skipping event")
		return false, nil
	}

	// PROFILE_LOOKED_UP
	profile, err := r.dataStore.GetChildProfile(ctx, event.ChildAddress)
	if err != nil {
		return false, fmt.Errorf("look up profile: %w", err)
	}
	if profile.ChildUserID == "" {
		// Old data shape or never linked; nothing to act on.
		r.logger.Warn().
			Str("childAddress", event.ChildAddress).
			Msg("Profile has no provider identity, skipping event")
		return false, nil
	}

	// POLICY_UPDATED: unlock the vault and add the child as signer. Degrades
	// on failure; the chain mark still happens.
	if err := r.unlockVault(ctx, event.ChildAddress, profile.ChildUserID); err != nil {
		r.logger.Warn().
			Err(err).
			Str("childAddress", event.ChildAddress).
			Msg("Vault policy update failed, continuing with chain mark")
	}

	// CHAIN_MARKED: failure aborts this event.
	if _, err := r.dataStore.MarkAgeVerified(ctx, event.ChildAddress); err != nil {
		return false, fmt.Errorf("mark age verified: %w", err)
	}

	if err := r.accounts.MarkAccountVerified(event.ChildAddress); err != nil {
		r.logger.Warn().
			Err(err).
			Str("childAddress", event.ChildAddress).
			Msg("Failed to flag local account as verified")
	}

	// NOTIFIED: never blocks completion.
	r.notify(ctx, event, profile)

	return true, nil
}

// unlockVault appends the child to the vault signer set and clears the
// time-lock, based on the provider's current policy rather than anything
// cached locally.
func (r *Reconciler) unlockVault(ctx context.Context, childAddress, childUserID string) error {
	account, err := r.accounts.GetChildAccountByAddress(childAddress)
	if err != nil {
		return fmt.Errorf("no local account for %s: %w", childAddress, err)
	}

	policy, err := r.provider.GetWalletPolicy(ctx, account.VaultWalletID)
	if err != nil {
		return fmt.Errorf("get vault policy: %w", err)
	}

	signers := policy.SignerIDs
	if !contains(signers, childUserID) {
		signers = append(signers, childUserID)
	}

	if err := r.provider.UpdateWalletPolicy(ctx, policy.ID, signers, 0); err != nil {
		return fmt.Errorf("update vault policy: %w", err)
	}

	r.logger.Info().
		Str("childAddress", childAddress).
		Str("policyId", policy.ID).
		Msg("Vault unlocked and child added as signer")

	return nil
}

func (r *Reconciler) notify(ctx context.Context, event models.VerificationEvent, profile *models.ChildProfile) {
	email, err := r.provider.GetUserEmail(ctx, profile.ChildUserID)
	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("childUserId", profile.ChildUserID).
			Msg("Could not resolve contact email for notification")
	}

	if r.emitter == nil {
		return
	}

	err = r.emitter.EmitEvent(models.NotificationEvent{
		Type:         models.NotifyVerificationDone,
		ChildAddress: event.ChildAddress,
		Email:        email,
		TxHash:       event.TxHash,
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("childAddress", event.ChildAddress).
			Msg("Failed to emit verification notification")
	}
}

// RunLoop re-runs CheckVerifications on a fixed interval until the context
// is cancelled. The manual HTTP trigger shares the same single-flight guard.
func (r *Reconciler) RunLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Reconciliation loop shutting down")
			return
		case <-ticker.C:
			result, err := r.CheckVerifications(ctx)
			if err != nil {
				if !errors.Is(err, ErrPassInProgress) {
					r.logger.Error().Err(err).Msg("Scheduled reconciliation pass failed")
				}
				continue
			}
			r.logger.Info().
				Int("eventsProcessed", result.EventsProcessed).
				Int("eventsSkipped", result.EventsSkipped).
				Uint64("lastBlock", result.LastBlock).
				Msg("Scheduled reconciliation pass complete")
		}
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
