package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"sync"
	"time"

	"chainiq-service/internal/pkg/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// DefaultChainID is Celo Alfajores.
const DefaultChainID = 44787

const quizRewardsABI = `[{"type":"function","name":"createQuiz","stateMutability":"nonpayable","inputs":[{"name":"quizId","type":"string"},{"name":"title","type":"string"},{"name":"nftMetadata","type":"string"}],"outputs":[]}]`

// ErrWrongNetwork means the RPC endpoint serves a different chain than configured.
var ErrWrongNetwork = errors.New("chain: connected to wrong network")

// Backend is the subset of an Ethereum RPC client the contract needs.
type Backend interface {
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

type Config struct {
	RPCURL          string
	ChainID         int64
	ContractAddress string
	PrivateKey      string
	// RequestTimeout bounds a single submission, from chain check to receipt.
	RequestTimeout time.Duration
}

// Contract signs and submits createQuiz transactions to the rewards contract.
type Contract struct {
	backend Backend
	abi     abi.ABI
	address common.Address
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	timeout time.Duration
	log     *logger.Logger

	mu sync.Mutex
	// inflight holds signed transactions per quiz until a receipt is seen, so a
	// retried CreateQuiz waits on the same transaction instead of signing a new one.
	inflight map[string]*pendingTx
}

type pendingTx struct {
	tx   *types.Transaction
	sent bool
}

// Dial connects to cfg.RPCURL and returns a ready contract client.
func Dial(ctx context.Context, cfg Config, log *logger.Logger) (*Contract, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("chain: rpc url required")
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial: %w", redact(err))
	}
	return NewContract(client, cfg, log)
}

func NewContract(backend Backend, cfg Config, log *logger.Logger) (*Contract, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("chain: invalid contract address %q", cfg.ContractAddress)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain: parse private key: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(quizRewardsABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse abi: %w", err)
	}
	chainID := cfg.ChainID
	if chainID == 0 {
		chainID = DefaultChainID
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Contract{
		backend: backend,
		abi:     parsed,
		address: common.HexToAddress(cfg.ContractAddress),
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: big.NewInt(chainID),
		timeout:  timeout,
		log:      log.With("service", "RewardContract", "contract", cfg.ContractAddress),
		inflight: make(map[string]*pendingTx),
	}, nil
}

// CreateQuiz registers the quiz on-chain and waits for the receipt. A slow RPC
// surfaces as context.DeadlineExceeded so callers can retry it; a retry reuses
// the transaction already signed for quizID.
func (c *Contract) CreateQuiz(ctx context.Context, quizID, title, nftMetadata string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pending := c.pending(quizID)
	if pending == nil {
		signed, err := c.buildCreateQuiz(ctx, quizID, title, nftMetadata)
		if err != nil {
			return "", err
		}
		pending = &pendingTx{tx: signed}
		c.track(quizID, pending)
	}

	if !pending.sent {
		if err := c.send(ctx, quizID, pending); err != nil {
			return "", err
		}
	}

	receipt, err := bind.WaitMined(ctx, c.backend, pending.tx)
	if err != nil {
		return "", fmt.Errorf("wait mined %s: %w", pending.tx.Hash().Hex(), redact(err))
	}
	c.forget(quizID)
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("createQuiz reverted in tx %s", pending.tx.Hash().Hex())
	}
	return pending.tx.Hash().Hex(), nil
}

func (c *Contract) buildCreateQuiz(ctx context.Context, quizID, title, nftMetadata string) (*types.Transaction, error) {
	network, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", redact(err))
	}
	if network.Cmp(c.chainID) != 0 {
		return nil, fmt.Errorf("%w: got %s, expected %s", ErrWrongNetwork, network, c.chainID)
	}

	data, err := c.abi.Pack("createQuiz", quizID, title, nftMetadata)
	if err != nil {
		return nil, fmt.Errorf("pack createQuiz: %w", err)
	}
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: &c.address, Data: data})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", redact(err))
	}
	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", redact(err))
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", redact(err))
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.address,
		Gas:      gas * 120 / 100,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return signed, nil
}

// send broadcasts the pending transaction. A node that already has it (from an
// earlier attempt whose response was lost) counts as sent.
func (c *Contract) send(ctx context.Context, quizID string, p *pendingTx) error {
	err := c.backend.SendTransaction(ctx, p.tx)
	switch {
	case err == nil, alreadyKnown(err):
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		// the node may or may not have it; resend the same transaction next time
		return fmt.Errorf("send: %w", redact(err))
	default:
		c.forget(quizID)
		return fmt.Errorf("send: %w", redact(err))
	}
	p.sent = true
	c.log.Info("createQuiz sent", "quizId", quizID, "txHash", p.tx.Hash().Hex(), "gas", p.tx.Gas(), "nonce", p.tx.Nonce())
	return nil
}

func (c *Contract) pending(quizID string) *pendingTx {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight[quizID]
}

func (c *Contract) track(quizID string, p *pendingTx) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight[quizID] = p
}

func (c *Contract) forget(quizID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, quizID)
}

func alreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

// redact drops the RPC URL (which often embeds a provider key) from transport errors.
func redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s rpc request failed: %w", strings.ToLower(urlErr.Op), urlErr.Err)
	}
	return err
}
