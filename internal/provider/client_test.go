package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	logger := zerolog.New(nil)
	client := NewClient(server.URL, "app-id", "app-secret", 100, 5*time.Second, &logger)
	return client, server
}

func TestCreateUser(t *testing.T) {
	var gotAppID string
	var gotBody map[string]interface{}

	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/users" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAppID = r.Header.Get("privy-app-id")
		if _, _, ok := r.BasicAuth(); !ok {
			t.Error("missing basic auth")
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "did:privy:child1",
			"linked_accounts": []map[string]string{
				{"type": "email", "address": "child-abc@family-custody.internal"},
			},
		})
	})
	defer server.Close()

	user, err := client.CreateUser(context.Background(), "child-abc@family-custody.internal")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if user.ID != "did:privy:child1" {
		t.Errorf("unexpected user id: %s", user.ID)
	}
	if user.Email != "child-abc@family-custody.internal" {
		t.Errorf("unexpected email: %s", user.Email)
	}
	if gotAppID != "app-id" {
		t.Errorf("privy-app-id header = %q", gotAppID)
	}
	if gotBody["linked_accounts"] == nil {
		t.Error("request body missing linked_accounts")
	}
}

func TestGetUserWalletAddress(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "did:privy:parent1",
			"linked_accounts": []map[string]string{
				{"type": "email", "address": "p@x.com"},
				{"type": "wallet", "address": "0xAAA0000000000000000000000000000000000001"},
			},
		})
	})
	defer server.Close()

	addr, err := client.GetUserWalletAddress(context.Background(), "did:privy:parent1")
	if err != nil {
		t.Fatalf("GetUserWalletAddress failed: %v", err)
	}
	if addr != "0xAAA0000000000000000000000000000000000001" {
		t.Errorf("unexpected address: %s", addr)
	}
}

func TestGetUserWalletAddressMissing(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "did:privy:parent1",
			"linked_accounts": []map[string]string{
				{"type": "email", "address": "p@x.com"},
			},
		})
	})
	defer server.Close()

	_, err := client.GetUserWalletAddress(context.Background(), "did:privy:parent1")
	if !errors.Is(err, ErrNoWalletOnFile) {
		t.Errorf("expected ErrNoWalletOnFile, got %v", err)
	}
}

func TestCreateKeyQuorum(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/key_quorums" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["authorization_threshold"].(float64) != 1 {
			t.Errorf("unexpected threshold: %v", body["authorization_threshold"])
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "quorum-1"})
	})
	defer server.Close()

	id, err := client.CreateKeyQuorum(context.Background(), []string{"parent", "child"}, 1)
	if err != nil {
		t.Fatalf("CreateKeyQuorum failed: %v", err)
	}
	if id != "quorum-1" {
		t.Errorf("unexpected quorum id: %s", id)
	}
}

func TestCreateWalletPolicyAndUpdate(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/policies":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"id": "pol-1"})
		case r.Method == http.MethodPatch && r.URL.Path == "/policies/pol-1":
			var body policyRequest
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body.LockedUntil != 0 {
				t.Errorf("expected cleared time-lock, got %d", body.LockedUntil)
			}
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	})
	defer server.Close()

	id, err := client.CreateWalletPolicy(context.Background(), "w1", []string{"parent"}, 12345)
	if err != nil {
		t.Fatalf("CreateWalletPolicy failed: %v", err)
	}
	if id != "pol-1" {
		t.Errorf("unexpected policy id: %s", id)
	}

	if err := client.UpdateWalletPolicy(context.Background(), "pol-1", []string{"parent", "child"}, 0); err != nil {
		t.Fatalf("UpdateWalletPolicy failed: %v", err)
	}
}

func TestProviderErrorStatus(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
	})
	defer server.Close()

	_, err := client.GetUser(context.Background(), "did:privy:x")
	if err == nil {
		t.Fatal("expected error on 401 response")
	}
}
