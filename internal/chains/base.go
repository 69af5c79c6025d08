package chains

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const walletRegistryABI = `[
	{"type":"function","name":"registerChildWallets","stateMutability":"nonpayable",
	 "inputs":[{"name":"childAddress","type":"address"},
	           {"name":"checkingWallet","type":"address"},
	           {"name":"vaultWallet","type":"address"}],
	 "outputs":[]}
]`

// WalletRegistry is the Base contract mapping a child address to its two
// provider wallets.
type WalletRegistry struct {
	client   *Client
	contract common.Address
	abi      abi.ABI
}

// NewWalletRegistry binds the registry contract on Base.
func NewWalletRegistry(client *Client, contractAddr string) (*WalletRegistry, error) {
	parsed, err := abi.JSON(strings.NewReader(walletRegistryABI))
	if err != nil {
		return nil, fmt.Errorf("parse wallet registry abi: %w", err)
	}

	return &WalletRegistry{
		client:   client,
		contract: common.HexToAddress(contractAddr),
		abi:      parsed,
	}, nil
}

// RegisterChildWallets writes the (child, checking, vault) mapping. Duplicate
// registrations are rejected by the contract, which is what makes the call
// safe to re-invoke.
func (r *WalletRegistry) RegisterChildWallets(ctx context.Context, childAddr, checkingAddr, vaultAddr string) (string, error) {
	input, err := r.abi.Pack("registerChildWallets",
		common.HexToAddress(childAddr),
		common.HexToAddress(checkingAddr),
		common.HexToAddress(vaultAddr))
	if err != nil {
		return "", fmt.Errorf("pack registerChildWallets: %w", err)
	}

	return r.client.transact(ctx, r.contract, input)
}
