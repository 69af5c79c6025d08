package chains

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"family-custody/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const familyVaultABI = `[
	{"type":"function","name":"registerChild","stateMutability":"nonpayable",
	 "inputs":[{"name":"childAddress","type":"address"},
	           {"name":"parentAddress","type":"address"}],
	 "outputs":[]},
	{"type":"function","name":"isChildVerified","stateMutability":"view",
	 "inputs":[{"name":"childAddress","type":"address"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"event","name":"ChildVerified","anonymous":false,
	 "inputs":[{"name":"childAddress","type":"address","indexed":true},
	           {"name":"parentAddress","type":"address","indexed":true},
	           {"name":"timestamp","type":"uint256","indexed":false},
	           {"name":"proofOutput","type":"bytes","indexed":false}]}
]`

// FamilyVault is the Celo contract holding parent/child linkage. Age
// verification completes on this chain and is announced with ChildVerified.
type FamilyVault struct {
	client   *Client
	contract common.Address
	abi      abi.ABI
}

// NewFamilyVault binds the vault contract on Celo.
func NewFamilyVault(client *Client, contractAddr string) (*FamilyVault, error) {
	parsed, err := abi.JSON(strings.NewReader(familyVaultABI))
	if err != nil {
		return nil, fmt.Errorf("parse family vault abi: %w", err)
	}

	return &FamilyVault{
		client:   client,
		contract: common.HexToAddress(contractAddr),
		abi:      parsed,
	}, nil
}

// RegisterChild links a child address to its parent's wallet on Celo.
func (v *FamilyVault) RegisterChild(ctx context.Context, childAddr, parentAddr string) (string, error) {
	input, err := v.abi.Pack("registerChild",
		common.HexToAddress(childAddr),
		common.HexToAddress(parentAddr))
	if err != nil {
		return "", fmt.Errorf("pack registerChild: %w", err)
	}

	return v.client.transact(ctx, v.contract, input)
}

// IsChildVerified reads the on-chain verification flag.
func (v *FamilyVault) IsChildVerified(ctx context.Context, childAddr string) (bool, error) {
	input, err := v.abi.Pack("isChildVerified", common.HexToAddress(childAddr))
	if err != nil {
		return false, fmt.Errorf("pack isChildVerified: %w", err)
	}

	output, err := v.client.call(ctx, v.contract, input)
	if err != nil {
		return false, fmt.Errorf("call isChildVerified: %w", err)
	}

	results, err := v.abi.Unpack("isChildVerified", output)
	if err != nil {
		return false, fmt.Errorf("unpack isChildVerified: %w", err)
	}

	verified, ok := results[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected isChildVerified result type %T", results[0])
	}

	return verified, nil
}

// BlockNumber returns the current Celo height.
func (v *FamilyVault) BlockNumber(ctx context.Context) (uint64, error) {
	return v.client.BlockNumber(ctx)
}

// FilterChildVerified scans [fromBlock, toBlock] for ChildVerified logs and
// decodes them in the order the node returns them (ascending block order).
func (v *FamilyVault) FilterChildVerified(ctx context.Context, fromBlock, toBlock uint64) ([]models.VerificationEvent, error) {
	eventID := v.abi.Events["ChildVerified"].ID

	logs, err := v.client.ec.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{v.contract},
		Topics:    [][]common.Hash{{eventID}},
	})
	if err != nil {
		return nil, fmt.Errorf("filter ChildVerified logs: %w", err)
	}

	events := make([]models.VerificationEvent, 0, len(logs))
	for _, lg := range logs {
		event, err := v.decodeChildVerified(lg)
		if err != nil {
			v.client.logger.Warn().
				Err(err).
				Str("txHash", lg.TxHash.Hex()).
				Uint64("blockNumber", lg.BlockNumber).
				Msg("Skipping undecodable ChildVerified log")
			continue
		}
		events = append(events, event)
	}

	return events, nil
}

func (v *FamilyVault) decodeChildVerified(lg types.Log) (models.VerificationEvent, error) {
	if len(lg.Topics) < 3 {
		return models.VerificationEvent{}, fmt.Errorf("log has %d topics, want 3", len(lg.Topics))
	}

	unpacked, err := v.abi.Unpack("ChildVerified", lg.Data)
	if err != nil {
		return models.VerificationEvent{}, fmt.Errorf("unpack ChildVerified data: %w", err)
	}

	ts, ok := unpacked[0].(*big.Int)
	if !ok {
		return models.VerificationEvent{}, fmt.Errorf("unexpected timestamp type %T", unpacked[0])
	}

	return models.VerificationEvent{
		ChildAddress:  common.HexToAddress(lg.Topics[1].Hex()).Hex(),
		ParentAddress: common.HexToAddress(lg.Topics[2].Hex()).Hex(),
		Timestamp:     time.Unix(ts.Int64(), 0).UTC(),
		BlockNumber:   lg.BlockNumber,
		TxHash:        lg.TxHash.Hex(),
	}, nil
}
