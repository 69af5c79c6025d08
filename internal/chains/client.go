// Package chains wraps the per-chain contract surface: the wallet registry
// on Base, the family vault on Celo and the child data store on Sapphire.
// All writes are signed with a single server-held key injected at dial time.
package chains

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"family-custody/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

var ErrTxReverted = errors.New("transaction reverted")

const receiptPollInterval = 2 * time.Second

// Client is one chain connection with its signing identity.
type Client struct {
	Chain   models.ChainName
	ec      *ethclient.Client
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	logger  *zerolog.Logger
}

// Dial connects to the chain RPC endpoint and loads the signer key. The key
// is scoped to this client, not a package global.
func Dial(ctx context.Context, chain models.ChainName, rpcURL, signerKeyHex string, logger *zerolog.Logger) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s rpc: %w", chain, err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(signerKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", err)
	}

	chainID, err := ec.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("get %s chain id: %w", chain, err)
	}

	c := &Client{
		Chain:   chain,
		ec:      ec,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		logger:  logger,
	}

	logger.Info().
		Str("chain", chain.String()).
		Str("signer", c.from.Hex()).
		Str("chainId", chainID.String()).
		Msg("Connected to chain")

	return c, nil
}

// BlockNumber returns the current chain height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.ec.BlockNumber(ctx)
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.ec.Close()
}

// call performs a read-only contract call.
func (c *Client) call(ctx context.Context, to common.Address, input []byte) ([]byte, error) {
	return c.ec.CallContract(ctx, ethereum.CallMsg{From: c.from, To: &to, Data: input}, nil)
}

// transact signs, submits and waits for one contract write. Returns the tx
// hash once the transaction is mined successfully.
func (c *Client) transact(ctx context.Context, to common.Address, input []byte) (string, error) {
	nonce, err := c.ec.PendingNonceAt(ctx, c.from)
	if err != nil {
		return "", fmt.Errorf("get nonce: %w", err)
	}

	gasPrice, err := c.ec.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w", err)
	}

	gasLimit, err := c.ec.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: &to, Data: input})
	if err != nil {
		return "", fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     input,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}

	if err := c.ec.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send tx: %w", err)
	}

	hash := signed.Hash()
	c.logger.Info().
		Str("chain", c.Chain.String()).
		Str("txHash", hash.Hex()).
		Uint64("nonce", nonce).
		Msg("Submitted transaction")

	receipt, err := c.waitMined(ctx, hash)
	if err != nil {
		return hash.Hex(), err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return hash.Hex(), fmt.Errorf("%w: %s", ErrTxReverted, hash.Hex())
	}

	return hash.Hex(), nil
}

// waitMined polls for the receipt until the transaction lands or the context
// is cancelled.
func (c *Client) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.ec.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			c.logger.Debug().
				Err(err).
				Str("txHash", hash.Hex()).
				Msg("Receipt not available yet")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
