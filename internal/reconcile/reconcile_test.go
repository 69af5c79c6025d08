package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"family-custody/internal/interfaces"
	"family-custody/internal/models"

	"github.com/rs/zerolog"
)

type mockVault struct {
	head       uint64
	events     []models.VerificationEvent
	unverified map[string]bool
	scanCalls  [][2]uint64
}

func (m *mockVault) RegisterChild(ctx context.Context, child, parent string) (string, error) {
	return "", errors.New("not used")
}

func (m *mockVault) IsChildVerified(ctx context.Context, child string) (bool, error) {
	return !m.unverified[child], nil
}

func (m *mockVault) BlockNumber(ctx context.Context) (uint64, error) {
	return m.head, nil
}

func (m *mockVault) FilterChildVerified(ctx context.Context, from, to uint64) ([]models.VerificationEvent, error) {
	m.scanCalls = append(m.scanCalls, [2]uint64{from, to})
	var out []models.VerificationEvent
	for _, e := range m.events {
		if e.BlockNumber >= from && e.BlockNumber <= to {
			out = append(out, e)
		}
	}
	return out, nil
}

type mockDataStore struct {
	profiles  map[string]*models.ChildProfile
	marked    []string
	failMark  map[string]bool
	markCalls int
}

func (m *mockDataStore) CreateChildProfile(ctx context.Context, p models.ChildProfile) (string, error) {
	return "", errors.New("not used")
}

func (m *mockDataStore) GetChildProfile(ctx context.Context, addr string) (*models.ChildProfile, error) {
	p, ok := m.profiles[addr]
	if !ok {
		return nil, errors.New("profile not found")
	}
	return p, nil
}

func (m *mockDataStore) MarkAgeVerified(ctx context.Context, addr string) (string, error) {
	m.markCalls++
	if m.failMark[addr] {
		return "", errors.New("sapphire tx reverted")
	}
	m.marked = append(m.marked, addr)
	return "0xmark", nil
}

type mockProvider struct {
	policy          *models.WalletPolicy
	updates         []updateCall
	failGetPolicy   bool
	failUpdate      bool
	email           string
	emailLookups    int
	failEmailLookup bool
}

type updateCall struct {
	policyID    string
	signers     []string
	lockedUntil int64
}

func (m *mockProvider) CreateUser(ctx context.Context, email string) (*models.ProviderUser, error) {
	return nil, errors.New("not used")
}

func (m *mockProvider) GetUser(ctx context.Context, id string) (*models.ProviderUser, error) {
	return nil, errors.New("not used")
}

func (m *mockProvider) GetUserWalletAddress(ctx context.Context, id string) (string, error) {
	return "", errors.New("not used")
}

func (m *mockProvider) GetUserEmail(ctx context.Context, id string) (string, error) {
	m.emailLookups++
	if m.failEmailLookup {
		return "", interfaces.ErrNoEmailOnFile
	}
	return m.email, nil
}

func (m *mockProvider) CreateKeyQuorum(ctx context.Context, members []string, threshold int) (string, error) {
	return "", errors.New("not used")
}

func (m *mockProvider) CreateWallet(ctx context.Context, ownerID string) (*models.ProviderWallet, error) {
	return nil, errors.New("not used")
}

func (m *mockProvider) CreateWalletPolicy(ctx context.Context, walletID string, signers []string, lockedUntil int64) (string, error) {
	return "", errors.New("not used")
}

func (m *mockProvider) GetWalletPolicy(ctx context.Context, walletID string) (*models.WalletPolicy, error) {
	if m.failGetPolicy {
		return nil, errors.New("policy api down")
	}
	return m.policy, nil
}

func (m *mockProvider) UpdateWalletPolicy(ctx context.Context, policyID string, signers []string, lockedUntil int64) error {
	if m.failUpdate {
		return errors.New("policy api down")
	}
	m.updates = append(m.updates, updateCall{policyID, signers, lockedUntil})
	return nil
}

func (m *mockProvider) GasSponsorshipEnabled(ctx context.Context, chain models.ChainName) (bool, error) {
	return true, nil
}

type mockAccounts struct {
	byAddress map[string]*models.ChildAccount
	verified  []string
}

func (m *mockAccounts) SaveChildAccount(a *models.ChildAccount) error { return nil }

func (m *mockAccounts) GetChildAccount(parent, name string) (*models.ChildAccount, error) {
	return nil, interfaces.ErrNotFound
}

func (m *mockAccounts) GetChildAccountByAddress(addr string) (*models.ChildAccount, error) {
	a, ok := m.byAddress[addr]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return a, nil
}

func (m *mockAccounts) GetChildAccountByWalletID(id string) (*models.ChildAccount, error) {
	return nil, interfaces.ErrNotFound
}

func (m *mockAccounts) MarkAccountVerified(addr string) error {
	m.verified = append(m.verified, addr)
	return nil
}

type mockCursor struct {
	mu    sync.Mutex
	block uint64
	set   bool
}

func (m *mockCursor) GetScanState(chain string) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.block, m.set, nil
}

func (m *mockCursor) UpdateScanState(chain string, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if block > m.block || !m.set {
		m.block = block
	}
	m.set = true
	return nil
}

type mockEmitter struct {
	mu     sync.Mutex
	events []models.NotificationEvent
}

func (m *mockEmitter) EmitEvent(event models.NotificationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

const childAddr = "0x1111111111111111111111111111111111111111"

func newTestReconciler(head uint64) (*Reconciler, *mockVault, *mockDataStore, *mockProvider, *mockAccounts, *mockCursor, *mockEmitter) {
	vault := &mockVault{head: head}
	dataStore := &mockDataStore{
		profiles: map[string]*models.ChildProfile{
			childAddr: {
				ChildAddress: childAddr,
				Name:         "Alex",
				ChildUserID:  "did:privy:child1",
				ParentUserID: "did:privy:parent1",
			},
		},
		failMark: map[string]bool{},
	}
	provider := &mockProvider{
		policy: &models.WalletPolicy{
			ID:          "pol-vault",
			WalletID:    "wallet-vault",
			SignerIDs:   []string{"did:privy:parent1"},
			LockedUntil: 99999999999,
		},
		email: "child@family.example",
	}
	accounts := &mockAccounts{
		byAddress: map[string]*models.ChildAccount{
			childAddr: {ChildAddress: childAddr, VaultWalletID: "wallet-vault"},
		},
	}
	cursor := &mockCursor{}
	emitter := &mockEmitter{}
	logger := zerolog.New(nil)

	r := New(vault, dataStore, provider, accounts, cursor, emitter, 100, &logger)
	return r, vault, dataStore, provider, accounts, cursor, emitter
}

func verificationEvent(block uint64) models.VerificationEvent {
	return models.VerificationEvent{
		ChildAddress:  childAddr,
		ParentAddress: "0x2222222222222222222222222222222222222222",
		Timestamp:     time.Unix(1700000000, 0).UTC(),
		BlockNumber:   block,
		TxHash:        "0xevent1",
	}
}

func TestCheckVerificationsProcessesEvent(t *testing.T) {
	r, vault, dataStore, provider, accounts, cursor, emitter := newTestReconciler(1000)
	vault.events = []models.VerificationEvent{verificationEvent(950)}

	result, err := r.CheckVerifications(context.Background())
	if err != nil {
		t.Fatalf("pass failed: %v", err)
	}

	if result.EventsProcessed != 1 {
		t.Errorf("eventsProcessed = %d, want 1", result.EventsProcessed)
	}
	if result.LastBlock != 1000 {
		t.Errorf("lastBlock = %d, want 1000", result.LastBlock)
	}
	if len(dataStore.marked) != 1 || dataStore.marked[0] != childAddr {
		t.Errorf("markAgeVerified not called for child: %v", dataStore.marked)
	}
	if len(provider.updates) != 1 {
		t.Fatalf("vault policy updates = %d, want 1", len(provider.updates))
	}
	update := provider.updates[0]
	if update.lockedUntil != 0 {
		t.Errorf("time-lock not cleared: %d", update.lockedUntil)
	}
	wantSigners := 2
	if len(update.signers) != wantSigners {
		t.Errorf("signer set = %v, want parent+child", update.signers)
	}
	if len(accounts.verified) != 1 {
		t.Errorf("local account not flagged verified")
	}
	if len(emitter.events) != 1 || emitter.events[0].Type != models.NotifyVerificationDone {
		t.Errorf("notification not emitted: %v", emitter.events)
	}
	if !cursor.set || cursor.block != 1000 {
		t.Errorf("cursor = (%d, %v), want (1000, true)", cursor.block, cursor.set)
	}
}

func TestCheckVerificationsFirstRunLookback(t *testing.T) {
	r, vault, _, _, _, _, _ := newTestReconciler(1000)

	if _, err := r.CheckVerifications(context.Background()); err != nil {
		t.Fatalf("pass failed: %v", err)
	}

	if len(vault.scanCalls) != 1 {
		t.Fatalf("scan calls = %d, want 1", len(vault.scanCalls))
	}
	if vault.scanCalls[0][0] != 900 {
		t.Errorf("first scan started at %d, want head-lookback = 900", vault.scanCalls[0][0])
	}
}

func TestCheckVerificationsReplaySafety(t *testing.T) {
	r, vault, dataStore, provider, _, _, emitter := newTestReconciler(1000)
	vault.events = []models.VerificationEvent{verificationEvent(950)}

	if _, err := r.CheckVerifications(context.Background()); err != nil {
		t.Fatalf("first pass failed: %v", err)
	}

	// No new blocks, no new events.
	result, err := r.CheckVerifications(context.Background())
	if err != nil {
		t.Fatalf("second pass failed: %v", err)
	}
	if result.EventsProcessed != 0 {
		t.Errorf("second pass processed %d events, want 0", result.EventsProcessed)
	}
	if len(dataStore.marked) != 1 {
		t.Errorf("mark called %d times across both passes, want 1", len(dataStore.marked))
	}
	if len(provider.updates) != 1 {
		t.Errorf("policy updated %d times across both passes, want 1", len(provider.updates))
	}
	if len(emitter.events) != 1 {
		t.Errorf("notifications across both passes = %d, want 1", len(emitter.events))
	}
}

func TestCheckVerificationsSkipsUnlinkedProfile(t *testing.T) {
	r, vault, dataStore, _, _, cursor, emitter := newTestReconciler(1000)
	vault.events = []models.VerificationEvent{verificationEvent(950)}
	dataStore.profiles[childAddr].ChildUserID = ""

	result, err := r.CheckVerifications(context.Background())
	if err != nil {
		t.Fatalf("pass failed: %v", err)
	}

	if result.EventsProcessed != 0 || result.EventsSkipped != 1 {
		t.Errorf("processed=%d skipped=%d, want 0/1", result.EventsProcessed, result.EventsSkipped)
	}
	if len(dataStore.marked) != 0 {
		t.Error("skipped event must not be marked on chain")
	}
	if len(emitter.events) != 0 {
		t.Error("skipped event must not notify")
	}
	// Cursor still advances past skipped events.
	if cursor.block != 1000 {
		t.Errorf("cursor = %d, want 1000", cursor.block)
	}
}

func TestCheckVerificationsSkipsUnconfirmedEvent(t *testing.T) {
	r, vault, dataStore, _, _, cursor, emitter := newTestReconciler(1000)
	vault.events = []models.VerificationEvent{verificationEvent(950)}
	vault.unverified = map[string]bool{childAddr: true}

	result, err := r.CheckVerifications(context.Background())
	if err != nil {
		t.Fatalf("pass failed: %v", err)
	}

	// The log is present but the flag reads false at head, so nothing may
	// be unlocked or notified on its evidence.
	if result.EventsProcessed != 0 || result.EventsSkipped != 1 {
		t.Errorf("processed=%d skipped=%d, want 0/1", result.EventsProcessed, result.EventsSkipped)
	}
	if len(dataStore.marked) != 0 {
		t.Error("unconfirmed event must not be marked on chain")
	}
	if len(emitter.events) != 0 {
		t.Error("unconfirmed event must not notify")
	}
	if cursor.block != 1000 {
		t.Errorf("cursor = %d, want 1000", cursor.block)
	}
}

func TestCheckVerificationsPolicyFailureStillMarksChain(t *testing.T) {
	r, vault, dataStore, provider, _, _, _ := newTestReconciler(1000)
	vault.events = []models.VerificationEvent{verificationEvent(950)}
	provider.failUpdate = true

	result, err := r.CheckVerifications(context.Background())
	if err != nil {
		t.Fatalf("pass failed: %v", err)
	}
	if result.EventsProcessed != 1 {
		t.Errorf("eventsProcessed = %d, want 1", result.EventsProcessed)
	}
	if len(dataStore.marked) != 1 {
		t.Error("chain mark must run despite policy failure")
	}
}

func TestCheckVerificationsMarkFailureAdvancesCursor(t *testing.T) {
	r, vault, dataStore, _, _, cursor, emitter := newTestReconciler(1000)
	vault.events = []models.VerificationEvent{verificationEvent(950)}
	dataStore.failMark[childAddr] = true

	result, err := r.CheckVerifications(context.Background())
	if err != nil {
		t.Fatalf("batch must not fail on one event: %v", err)
	}
	if result.EventsProcessed != 0 {
		t.Errorf("failed event counted as processed")
	}
	if len(emitter.events) != 0 {
		t.Error("failed event must not notify")
	}
	// The documented trade-off: cursor advances anyway, the event is gone.
	if cursor.block != 1000 {
		t.Errorf("cursor = %d, want 1000", cursor.block)
	}

	// And the next pass does not retry it.
	dataStore.markCalls = 0
	if _, err := r.CheckVerifications(context.Background()); err != nil {
		t.Fatalf("second pass failed: %v", err)
	}
	if dataStore.markCalls != 0 {
		t.Error("permanently failed event was retried")
	}
}

func TestCheckVerificationsNotificationFailureDoesNotBlock(t *testing.T) {
	r, vault, _, provider, _, _, _ := newTestReconciler(1000)
	vault.events = []models.VerificationEvent{verificationEvent(950)}
	provider.failEmailLookup = true

	result, err := r.CheckVerifications(context.Background())
	if err != nil {
		t.Fatalf("pass failed: %v", err)
	}
	if result.EventsProcessed != 1 {
		t.Errorf("eventsProcessed = %d, want 1", result.EventsProcessed)
	}
}

func TestCheckVerificationsSingleFlight(t *testing.T) {
	r, _, _, _, _, _, _ := newTestReconciler(1000)

	r.mu.Lock()
	r.running = true
	r.mu.Unlock()

	_, err := r.CheckVerifications(context.Background())
	if !errors.Is(err, ErrPassInProgress) {
		t.Errorf("expected ErrPassInProgress, got %v", err)
	}
}

func TestCheckVerificationsAscendingOrder(t *testing.T) {
	r, vault, _, _, _, _, emitter := newTestReconciler(1000)
	second := verificationEvent(960)
	second.TxHash = "0xevent2"
	vault.events = []models.VerificationEvent{verificationEvent(950), second}

	result, err := r.CheckVerifications(context.Background())
	if err != nil {
		t.Fatalf("pass failed: %v", err)
	}
	if result.EventsProcessed != 2 {
		t.Fatalf("eventsProcessed = %d, want 2", result.EventsProcessed)
	}
	if result.Events[0].BlockNumber > result.Events[1].BlockNumber {
		t.Error("events not in ascending block order")
	}
	if len(emitter.events) != 2 {
		t.Errorf("notifications = %d, want 2", len(emitter.events))
	}
}
