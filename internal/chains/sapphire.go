package chains

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"family-custody/internal/models"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const childDataStoreABI = `[
	{"type":"function","name":"createChildProfile","stateMutability":"nonpayable",
	 "inputs":[{"name":"childAddress","type":"address"},
	           {"name":"name","type":"string"},
	           {"name":"dateOfBirth","type":"uint256"},
	           {"name":"email","type":"string"},
	           {"name":"parentWallet","type":"address"},
	           {"name":"checkingWallet","type":"address"},
	           {"name":"vaultWallet","type":"address"},
	           {"name":"childUserId","type":"string"},
	           {"name":"parentUserId","type":"string"}],
	 "outputs":[]},
	{"type":"function","name":"getChildProfile","stateMutability":"view",
	 "inputs":[{"name":"childAddress","type":"address"}],
	 "outputs":[{"name":"name","type":"string"},
	            {"name":"dateOfBirth","type":"uint256"},
	            {"name":"email","type":"string"},
	            {"name":"parentWallet","type":"address"},
	            {"name":"checkingWallet","type":"address"},
	            {"name":"vaultWallet","type":"address"},
	            {"name":"childUserId","type":"string"},
	            {"name":"parentUserId","type":"string"},
	            {"name":"ageVerified","type":"bool"}]},
	{"type":"function","name":"markAgeVerified","stateMutability":"nonpayable",
	 "inputs":[{"name":"childAddress","type":"address"}],
	 "outputs":[]}
]`

// ChildDataStore is the Sapphire contract holding the confidential child
// profile. Provider user ids are dedicated tuple fields so they round-trip
// without being folded into the email column.
type ChildDataStore struct {
	client   *Client
	contract common.Address
	abi      abi.ABI
}

// NewChildDataStore binds the data store contract on Sapphire.
func NewChildDataStore(client *Client, contractAddr string) (*ChildDataStore, error) {
	parsed, err := abi.JSON(strings.NewReader(childDataStoreABI))
	if err != nil {
		return nil, fmt.Errorf("parse child data store abi: %w", err)
	}

	return &ChildDataStore{
		client:   client,
		contract: common.HexToAddress(contractAddr),
		abi:      parsed,
	}, nil
}

// CreateChildProfile writes the full encrypted profile.
func (s *ChildDataStore) CreateChildProfile(ctx context.Context, profile models.ChildProfile) (string, error) {
	input, err := s.abi.Pack("createChildProfile",
		common.HexToAddress(profile.ChildAddress),
		profile.Name,
		new(big.Int).SetInt64(profile.DateOfBirth),
		profile.Email,
		common.HexToAddress(profile.ParentWalletAddr),
		common.HexToAddress(profile.CheckingWalletAddr),
		common.HexToAddress(profile.VaultWalletAddr),
		profile.ChildUserID,
		profile.ParentUserID)
	if err != nil {
		return "", fmt.Errorf("pack createChildProfile: %w", err)
	}

	return s.client.transact(ctx, s.contract, input)
}

// GetChildProfile reads the stored profile for a child address.
func (s *ChildDataStore) GetChildProfile(ctx context.Context, childAddr string) (*models.ChildProfile, error) {
	input, err := s.abi.Pack("getChildProfile", common.HexToAddress(childAddr))
	if err != nil {
		return nil, fmt.Errorf("pack getChildProfile: %w", err)
	}

	output, err := s.client.call(ctx, s.contract, input)
	if err != nil {
		return nil, fmt.Errorf("call getChildProfile: %w", err)
	}

	results, err := s.abi.Unpack("getChildProfile", output)
	if err != nil {
		return nil, fmt.Errorf("unpack getChildProfile: %w", err)
	}
	if len(results) != 9 {
		return nil, fmt.Errorf("getChildProfile returned %d values, want 9", len(results))
	}

	dob, _ := results[1].(*big.Int)
	if dob == nil {
		dob = new(big.Int)
	}

	return &models.ChildProfile{
		ChildAddress:       common.HexToAddress(childAddr).Hex(),
		Name:               results[0].(string),
		DateOfBirth:        dob.Int64(),
		Email:              results[2].(string),
		ParentWalletAddr:   results[3].(common.Address).Hex(),
		CheckingWalletAddr: results[4].(common.Address).Hex(),
		VaultWalletAddr:    results[5].(common.Address).Hex(),
		ChildUserID:        results[6].(string),
		ParentUserID:       results[7].(string),
		AgeVerified:        results[8].(bool),
	}, nil
}

// MarkAgeVerified flips the on-chain verification flag for a child.
func (s *ChildDataStore) MarkAgeVerified(ctx context.Context, childAddr string) (string, error) {
	input, err := s.abi.Pack("markAgeVerified", common.HexToAddress(childAddr))
	if err != nil {
		return "", fmt.Errorf("pack markAgeVerified: %w", err)
	}

	return s.client.transact(ctx, s.contract, input)
}
