package identity

import (
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestDeriveChildAddressDeterministic(t *testing.T) {
	a1, err := DeriveChildAddress("did:privy:abc123", "Alex")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a2, err := DeriveChildAddress("did:privy:abc123", "Alex")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a1 != a2 {
		t.Errorf("same inputs produced different addresses: %s vs %s", a1.Hex(), a2.Hex())
	}
}

func TestDeriveChildAddressDistinctInputs(t *testing.T) {
	a1, _ := DeriveChildAddress("did:privy:user1", "Alex")
	a2, _ := DeriveChildAddress("did:privy:user2", "Alex")
	if a1 == a2 {
		t.Errorf("different user ids produced the same address: %s", a1.Hex())
	}

	a3, _ := DeriveChildAddress("did:privy:user1", "Sam")
	if a1 == a3 {
		t.Errorf("different names produced the same address: %s", a1.Hex())
	}
}

func TestDeriveChildAddressMatchesHashPrefix(t *testing.T) {
	addr, err := DeriveChildAddress("did:x:1", "Alex")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := crypto.Keccak256([]byte("did:x:1Alex"))[:20]
	for i, b := range addr.Bytes() {
		if b != want[i] {
			t.Fatalf("address byte %d = %x, want %x", i, b, want[i])
		}
	}
}

func TestDeriveChildAddressEmptyUserID(t *testing.T) {
	_, err := DeriveChildAddress("", "Alex")
	if !errors.Is(err, ErrEmptyUserID) {
		t.Errorf("expected ErrEmptyUserID, got %v", err)
	}
}

func TestDeriveChildAddressChecksummed(t *testing.T) {
	addr, _ := DeriveChildAddress("did:privy:abc123", "Alex")
	hex := addr.Hex()
	if !strings.HasPrefix(hex, "0x") || len(hex) != 42 {
		t.Errorf("unexpected address format: %s", hex)
	}
}

func TestDeriveChildEmail(t *testing.T) {
	e1 := DeriveChildEmail("did:privy:parent1", "Alex")
	e2 := DeriveChildEmail("did:privy:parent1", "Alex")
	if e1 != e2 {
		t.Errorf("email derivation is not deterministic: %s vs %s", e1, e2)
	}
	if !strings.HasSuffix(e1, "@family-custody.internal") {
		t.Errorf("unexpected email domain: %s", e1)
	}

	e3 := DeriveChildEmail("did:privy:parent1", "Sam")
	if e1 == e3 {
		t.Errorf("different children got the same email: %s", e1)
	}
}
