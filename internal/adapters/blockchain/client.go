package blockchain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/bindings"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/config"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/models"
	"github.com/trebuchet-org/treb-upgrade/internal/usecase"
)

const (
	defaultPollInterval = 2 * time.Second
	// gas estimates are padded by 20%
	gasMarginPercent = 20
)

// Backend is the subset of ethclient.Client the client uses
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// Client implements usecase.NetworkClient for one network
type Client struct {
	network      *config.Network
	backend      Backend
	chainID      *big.Int
	pollInterval time.Duration
	log          *slog.Logger
}

// NewClient wraps backend and checks that it serves the configured chain.
// A zero ChainID in network is filled in from the endpoint.
func NewClient(ctx context.Context, network *config.Network, backend Backend, log *slog.Logger) (*Client, error) {
	networkChainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	if network.ChainID != 0 && networkChainID.Uint64() != network.ChainID {
		return nil, fmt.Errorf("chain ID mismatch on %s: expected %d, got %d", network.Name, network.ChainID, networkChainID.Uint64())
	}

	return &Client{
		network:      network,
		backend:      backend,
		chainID:      networkChainID,
		pollInterval: defaultPollInterval,
		log:          log.With("component", "NetworkClient", "network", network.Name),
	}, nil
}

// SetPollInterval changes how often receipts are polled
func (c *Client) SetPollInterval(d time.Duration) {
	c.pollInterval = d
}

func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	return c.chainID.Uint64(), nil
}

// Deploy sends a contract creation and waits for it to be mined
func (c *Client) Deploy(ctx context.Context, bytecode []byte, signer usecase.Signer) (common.Address, *models.TxHandle, error) {
	handle, err := c.send(ctx, nil, bytecode, signer)
	if err != nil {
		return common.Address{}, handle, err
	}

	receipt, err := c.waitForReceipt(ctx, handle.Hash)
	if err != nil {
		return common.Address{}, handle, fmt.Errorf("waiting for deployment %s: %w", handle.Hash.Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return common.Address{}, handle, fmt.Errorf("deployment %s reverted", handle.Hash.Hex())
	}

	addr := receipt.ContractAddress
	if addr == (common.Address{}) {
		addr = crypto.CreateAddress(handle.From, handle.Nonce)
	}
	c.log.Debug("deployed contract", "address", addr, "tx", handle.Hash, "gasUsed", receipt.GasUsed)
	return addr, handle, nil
}

func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

// SendTransaction signs and broadcasts a call. When the broadcast itself
// errors after signing, the handle is returned with the error because the
// node may still have accepted the transaction.
func (c *Client) SendTransaction(ctx context.Context, to common.Address, data []byte, signer usecase.Signer) (*models.TxHandle, error) {
	return c.send(ctx, &to, data, signer)
}

func (c *Client) send(ctx context.Context, to *common.Address, data []byte, signer usecase.Signer) (*models.TxHandle, error) {
	from := signer.Address()

	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("get nonce: %w", err)
	}
	tipCap, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas tip: %w", err)
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("get head: %w", err)
	}
	feeCap := new(big.Int).Set(tipCap)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	gas += gas * gasMarginPercent / 100

	// EIP-1559 only
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        to,
		Data:      data,
	})
	signed, err := signer.SignTx(tx, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}

	handle := &models.TxHandle{
		Hash:    signed.Hash(),
		Network: c.network.Name,
		From:    from,
		Nonce:   nonce,
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return handle, fmt.Errorf("send tx %s: %w", handle.Hash.Hex(), err)
		}
		return nil, fmt.Errorf("send tx: %w", err)
	}
	c.log.Debug("sent transaction", "tx", handle.Hash, "nonce", nonce, "gas", gas)
	return handle, nil
}

// AwaitConfirmation polls for the receipt and the configured number of
// confirmations. Reaching timeout yields a Pending confirmation, not an error.
func (c *Client) AwaitConfirmation(ctx context.Context, tx *models.TxHandle, timeout time.Duration) (*models.Confirmation, error) {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	receipt, err := c.waitForReceipt(waitCtx, tx.Hash)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return &models.Confirmation{Status: models.ConfirmationPending}, nil
		}
		return nil, err
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return &models.Confirmation{
			Status:      models.ConfirmationFailed,
			BlockNumber: receipt.BlockNumber.Uint64(),
			GasUsed:     receipt.GasUsed,
			Reason:      "execution reverted",
		}, nil
	}

	if err := c.waitForDepth(waitCtx, receipt.BlockNumber.Uint64()); err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return &models.Confirmation{Status: models.ConfirmationPending, BlockNumber: receipt.BlockNumber.Uint64()}, nil
		}
		return nil, err
	}

	return &models.Confirmation{
		Status:      models.ConfirmationConfirmed,
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
		Upgrades:    bindings.UpgradedEvents(receipt.Logs),
	}, nil
}

func (c *Client) ReadStorageSlot(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error) {
	value, err := c.backend.StorageAt(ctx, addr, slot, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("read slot %s of %s: %w", slot.Hex(), addr.Hex(), err)
	}
	return common.BytesToHash(value), nil
}

func (c *Client) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	code, err := c.backend.CodeAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("read code of %s: %w", addr.Hex(), err)
	}
	return code, nil
}

func (c *Client) waitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Debug("receipt lookup failed", "tx", hash, "error", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// waitForDepth blocks until the block is buried under the configured confirmations
func (c *Client) waitForDepth(ctx context.Context, block uint64) error {
	if c.network.Confirmations <= 1 {
		return nil
	}
	target := block + c.network.Confirmations - 1

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		head, err := c.backend.HeaderByNumber(ctx, nil)
		if err == nil && head.Number.Uint64() >= target {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Ensure Client implements NetworkClient
var _ usecase.NetworkClient = (*Client)(nil)
