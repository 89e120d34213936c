package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"suarawarga/backend/internal/logger"
	"suarawarga/backend/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// RegistryABI is the fingerprint registry contract the structured call
// targets.
const RegistryABI = `[{"type":"function","name":"recordFingerprint","stateMutability":"nonpayable",
"inputs":[{"name":"hash","type":"bytes32"},{"name":"complaintId","type":"string"},{"name":"timestamp","type":"uint256"}],
"outputs":[{"name":"recordId","type":"uint256"}]}]`

// Backend is the part of an Ethereum RPC client the ledger uses.
// *ethclient.Client and the simulated backend's client both satisfy it.
type Backend interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error)
}

type EthereumConfig struct {
	RPCURL     string
	ChainID    int64
	PrivateKey string
	// ContractAddress selects the structured call; empty means plain
	// self-transfers carrying the fingerprint as payload.
	ContractAddress string
}

// EthereumClient anchors fingerprints on an EVM chain with EIP-1559
// transactions signed by one key.
type EthereumClient struct {
	backend  Backend
	closer   func()
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
	contract *common.Address
	registry abi.ABI
	log      logger.Logger

	// serialises nonce allocation
	mu sync.Mutex
}

// DialEthereum connects to cfg.RPCURL.
func DialEthereum(ctx context.Context, cfg EthereumConfig, log logger.Logger) (*EthereumClient, error) {
	rpc, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, classify("dial ledger", err)
	}
	c, err := NewEthereumClient(rpc, cfg, log)
	if err != nil {
		rpc.Close()
		return nil, err
	}
	c.closer = rpc.Close
	return c, nil
}

// NewEthereumClient wraps an existing backend.
func NewEthereumClient(backend Backend, cfg EthereumConfig, log logger.Logger) (*EthereumClient, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse ledger key: %w", err)
	}
	registry, err := abi.JSON(strings.NewReader(RegistryABI))
	if err != nil {
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}

	c := &EthereumClient{
		backend:  backend,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:  big.NewInt(cfg.ChainID),
		registry: registry,
		log:      log.With(logger.String("component", "ledger")),
	}
	if cfg.ContractAddress != "" {
		if !common.IsHexAddress(cfg.ContractAddress) {
			return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
		}
		addr := common.HexToAddress(cfg.ContractAddress)
		c.contract = &addr
	}
	return c, nil
}

// From is the signing account.
func (c *EthereumClient) From() common.Address { return c.from }

func (c *EthereumClient) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// payload builds the transaction target and data for an anchor.
func (c *EthereumClient) payload(a Anchor) (common.Address, []byte, models.AnchorMethod, error) {
	hash := common.HexToHash(a.Fingerprint)
	if c.contract != nil {
		data, err := c.registry.Pack("recordFingerprint", [32]byte(hash), a.ComplaintID, big.NewInt(a.Timestamp.Unix()))
		if err != nil {
			return common.Address{}, nil, "", fmt.Errorf("pack recordFingerprint: %w", err)
		}
		return *c.contract, data, models.AnchorContract, nil
	}
	return c.from, hash.Bytes(), models.AnchorTransfer, nil
}

// Submit signs and sends one transaction and returns its hash as the ref.
func (c *EthereumClient) Submit(ctx context.Context, a Anchor) (Submission, error) {
	to, data, method, err := c.payload(a)
	if err != nil {
		return Submission{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return Submission{}, classify("pending nonce", err)
	}
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return Submission{}, classify("gas tip", err)
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return Submission{}, classify("latest header", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(baseFee, big.NewInt(2)))

	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: &to, Data: data, Value: big.NewInt(0)})
	if err != nil {
		return Submission{}, classify("estimate gas", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return Submission{}, fmt.Errorf("sign transaction: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return Submission{}, classify("send transaction", err)
	}

	ref := signed.Hash().Hex()
	c.log.Info("fingerprint submitted",
		logger.String("complaint_id", a.ComplaintID),
		logger.String("ref", ref),
		logger.String("method", string(method)),
		logger.Uint64("nonce", nonce))
	return Submission{Ref: ref, Method: method}, nil
}

// Confirm reads the receipt. Without one the transaction is pending while
// the node still knows it, and ErrNotFound once it was dropped.
func (c *EthereumClient) Confirm(ctx context.Context, ref string) (Confirmation, error) {
	hash := common.HexToHash(ref)
	receipt, err := c.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		_, _, err = c.backend.TransactionByHash(ctx, hash)
		switch {
		case errors.Is(err, ethereum.NotFound):
			return Confirmation{}, fmt.Errorf("%s: %w", ref, ErrNotFound)
		case err != nil:
			return Confirmation{}, classify("transaction by hash", err)
		}
		return Confirmation{State: StatePending}, nil
	}
	if err != nil {
		return Confirmation{}, classify("transaction receipt", err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return Confirmation{State: StateRejected, Reason: "transaction reverted"}, nil
	}
	proof, err := c.proof(ctx, ref, receipt)
	if err != nil {
		return Confirmation{}, err
	}
	return Confirmation{
		State:       StateIncluded,
		BlockNumber: proof.BlockNumber,
		Timestamp:   proof.Timestamp,
		Cost:        proof.Cost,
	}, nil
}

// Lookup returns the inclusion proof of a successful transaction.
func (c *EthereumClient) Lookup(ctx context.Context, ref string) (Proof, error) {
	receipt, err := c.backend.TransactionReceipt(ctx, common.HexToHash(ref))
	if errors.Is(err, ethereum.NotFound) {
		return Proof{Ref: ref}, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return Proof{}, classify("transaction receipt", err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return Proof{Ref: ref}, fmt.Errorf("%s reverted: %w", ref, ErrNotFound)
	}
	return c.proof(ctx, ref, receipt)
}

func (c *EthereumClient) proof(ctx context.Context, ref string, receipt *types.Receipt) (Proof, error) {
	header, err := c.backend.HeaderByNumber(ctx, receipt.BlockNumber)
	if err != nil {
		return Proof{}, classify("block header", err)
	}
	cost := new(big.Int).SetUint64(receipt.GasUsed)
	if receipt.EffectiveGasPrice != nil {
		cost.Mul(cost, receipt.EffectiveGasPrice)
	}
	return Proof{
		Found:       true,
		Ref:         ref,
		BlockNumber: receipt.BlockNumber.Uint64(),
		Timestamp:   time.Unix(int64(header.Time), 0).UTC(),
		Cost:        cost.String(),
	}, nil
}
