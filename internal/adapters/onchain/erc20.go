package onchain

// erc20.go — ledger de colateral sobre un token ERC20.
//
// La cuenta de custodia es la wallet del motor: los usuarios hacen approve a
// custodia, TransferIn ejecuta transferFrom(usuario → custodia) y TransferOut
// ejecuta transfer(custodia → usuario). Ambas firmadas con la clave de custodia.
//
// Antes de enviar un transferFrom se verifican allowance y balance con
// eth_call, así el motor recibe ErrInsufficientAllowance/Balance tipados.
// Una tx enviada sin receipt a tiempo vuelve como *domain.PendingTransferError
// y se reconcilia después con TransferStatus.

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/auctionbets/internal/domain"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"golang.org/x/time/rate"
)

const (
	// Gas limits (cotas superiores conservadoras)
	transferGasLimit = uint64(100_000)

	gasPriceUpdateInterval = 5 * time.Minute
	defaultReceiptTimeout  = 60 * time.Second
	defaultReceiptPoll     = 3 * time.Second
	defaultRPCPerSec       = 10

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

var erc20ABI abi.ABI

func init() {
	var err error
	erc20ABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "transfer",
			"type": "function",
			"inputs": [
				{"name": "to", "type": "address"},
				{"name": "amount", "type": "uint256"}
			],
			"outputs": [{"name": "", "type": "bool"}]
		},
		{
			"name": "transferFrom",
			"type": "function",
			"inputs": [
				{"name": "from", "type": "address"},
				{"name": "to", "type": "address"},
				{"name": "amount", "type": "uint256"}
			],
			"outputs": [{"name": "", "type": "bool"}]
		},
		{
			"name": "allowance",
			"type": "function",
			"inputs": [
				{"name": "owner", "type": "address"},
				{"name": "spender", "type": "address"}
			],
			"outputs": [{"name": "", "type": "uint256"}]
		},
		{
			"name": "balanceOf",
			"type": "function",
			"inputs": [{"name": "account", "type": "address"}],
			"outputs": [{"name": "", "type": "uint256"}]
		}
	]`))
	if err != nil {
		panic("erc20 abi parse: " + err.Error())
	}
}

// ErrTxReverted indica que la transacción se minó con status fallido.
var ErrTxReverted = errors.New("onchain: transaction reverted")

// Backend es el subconjunto de ethclient.Client que usa el ledger.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// ERC20Config configura el ledger on-chain.
type ERC20Config struct {
	Token          common.Address
	PrivateKeyHex  string        // clave de custodia, con o sin 0x
	ChainID        int64         // 0 = consultar al RPC
	RPCPerSec      float64       // 0 = defaultRPCPerSec
	ReceiptTimeout time.Duration // 0 = 60s
	ReceiptPoll    time.Duration // 0 = 3s
}

// ERC20Ledger implementa ports.Ledger contra un contrato ERC20.
type ERC20Ledger struct {
	backend Backend
	token   common.Address
	key     *ecdsa.PrivateKey
	custody common.Address
	chainID *big.Int
	limiter *rate.Limiter

	receiptTimeout time.Duration
	receiptPoll    time.Duration

	sendMu sync.Mutex // serializa nonces

	mu           sync.RWMutex
	cachedGasWei *big.Int
	gasUpdatedAt time.Time
}

// DialERC20Ledger conecta al RPC y crea el ledger.
func DialERC20Ledger(ctx context.Context, rpcURL string, cfg ERC20Config) (*ERC20Ledger, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("onchain.DialERC20Ledger: dial rpc %s: %w", rpcURL, err)
	}
	l, err := NewERC20Ledger(ctx, client, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	return l, nil
}

// NewERC20Ledger crea el ledger sobre un backend ya conectado.
func NewERC20Ledger(ctx context.Context, backend Backend, cfg ERC20Config) (*ERC20Ledger, error) {
	pkBytes, err := hex.DecodeString(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("onchain.NewERC20Ledger: decode private key: %w", err)
	}
	key, err := crypto.ToECDSA(pkBytes)
	if err != nil {
		return nil, fmt.Errorf("onchain.NewERC20Ledger: invalid private key: %w", err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		if chainID, err = backend.ChainID(ctx); err != nil {
			return nil, fmt.Errorf("onchain.NewERC20Ledger: chain id: %w", err)
		}
	}

	rps := cfg.RPCPerSec
	if rps <= 0 {
		rps = defaultRPCPerSec
	}
	l := &ERC20Ledger{
		backend:        backend,
		token:          cfg.Token,
		key:            key,
		custody:        crypto.PubkeyToAddress(key.PublicKey),
		chainID:        chainID,
		limiter:        rate.NewLimiter(rate.Limit(rps), int(math.Max(1, rps))),
		receiptTimeout: cfg.ReceiptTimeout,
		receiptPoll:    cfg.ReceiptPoll,
	}
	if l.receiptTimeout <= 0 {
		l.receiptTimeout = defaultReceiptTimeout
	}
	if l.receiptPoll <= 0 {
		l.receiptPoll = defaultReceiptPoll
	}
	slog.Info("onchain: erc20 ledger ready",
		"token", cfg.Token.Hex(),
		"custody", l.custody.Hex(),
		"chain_id", chainID.String(),
	)
	return l, nil
}

// Custody devuelve la dirección que recibe los stakes.
func (l *ERC20Ledger) Custody() common.Address { return l.custody }

// TransferIn mueve amount de from a custodia vía transferFrom.
func (l *ERC20Ledger) TransferIn(ctx context.Context, from common.Address, amount *uint256.Int) error {
	allowance, err := l.Allowance(ctx, from)
	if err != nil {
		return fmt.Errorf("onchain.TransferIn: %w", err)
	}
	if allowance.Lt(amount) {
		return fmt.Errorf("onchain.TransferIn: %w: have %s, need %s",
			domain.ErrInsufficientAllowance, allowance.Dec(), amount.Dec())
	}
	balance, err := l.BalanceOf(ctx, from)
	if err != nil {
		return fmt.Errorf("onchain.TransferIn: %w", err)
	}
	if balance.Lt(amount) {
		return fmt.Errorf("onchain.TransferIn: %w: have %s, need %s",
			domain.ErrInsufficientBalance, balance.Dec(), amount.Dec())
	}

	callData, err := erc20ABI.Pack("transferFrom", from, l.custody, amount.ToBig())
	if err != nil {
		return fmt.Errorf("onchain.TransferIn: pack: %w", err)
	}
	if err := l.send(ctx, callData); err != nil {
		return fmt.Errorf("onchain.TransferIn: from %s: %w", from.Hex(), err)
	}
	return nil
}

// TransferOut paga amount desde custodia a to vía transfer.
func (l *ERC20Ledger) TransferOut(ctx context.Context, to common.Address, amount *uint256.Int) error {
	callData, err := erc20ABI.Pack("transfer", to, amount.ToBig())
	if err != nil {
		return fmt.Errorf("onchain.TransferOut: pack: %w", err)
	}
	if err := l.send(ctx, callData); err != nil {
		return fmt.Errorf("onchain.TransferOut: to %s: %w", to.Hex(), err)
	}
	return nil
}

// Allowance devuelve cuánto puede mover custodia desde owner.
func (l *ERC20Ledger) Allowance(ctx context.Context, owner common.Address) (*uint256.Int, error) {
	return l.callUint(ctx, "allowance", owner, l.custody)
}

// BalanceOf devuelve el balance de account en el token.
func (l *ERC20Ledger) BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error) {
	return l.callUint(ctx, "balanceOf", account)
}

// callUint ejecuta un eth_call que devuelve un uint256, con retries.
func (l *ERC20Ledger) callUint(ctx context.Context, method string, args ...any) (*uint256.Int, error) {
	callData, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: pack: %w", method, err)
	}

	var result []byte
	err = l.withRetry(ctx, method, func() error {
		var callErr error
		result, callErr = l.backend.CallContract(ctx, ethereum.CallMsg{To: &l.token, Data: callData}, nil)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	vals, err := erc20ABI.Unpack(method, result)
	if err != nil || len(vals) == 0 {
		return nil, fmt.Errorf("%s: unpack: %w", method, err)
	}
	raw, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected return type %T", method, vals[0])
	}
	v, overflow := uint256.FromBig(raw)
	if overflow {
		return nil, fmt.Errorf("%s: %w", method, domain.ErrOverflow)
	}
	return v, nil
}

// send firma y envía una llamada al token desde custodia y espera el receipt.
// Los errores previos a SendTransaction garantizan que no salió nada; después
// solo un revert minado lo garantiza.
func (l *ERC20Ledger) send(ctx context.Context, callData []byte) error {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	nonce, err := l.backend.PendingNonceAt(ctx, l.custody)
	if err != nil {
		return fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := l.gasPrice(ctx)
	if err != nil {
		return fmt.Errorf("gas price: %w", err)
	}

	gas, err := l.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     l.custody,
		To:       &l.token,
		GasPrice: gasPrice,
		Data:     callData,
	})
	if err != nil {
		gas = transferGasLimit
		slog.Warn("onchain: gas estimate failed, using default", "err", err, "limit", transferGasLimit)
	}
	gas = gas * 12 / 10 // +20%

	tx := types.NewTransaction(nonce, l.token, big.NewInt(0), gas, gasPrice, callData)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(l.chainID), l.key)
	if err != nil {
		return fmt.Errorf("sign tx: %w", err)
	}
	if err := l.backend.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("send tx: %w", err)
	}
	slog.Info("onchain: transaction sent", "tx", signed.Hash().Hex(), "nonce", nonce)

	receiptCtx, cancel := context.WithTimeout(ctx, l.receiptTimeout)
	defer cancel()

	receipt, err := l.waitForReceipt(receiptCtx, signed.Hash())
	if err != nil {
		// La tx ya está en el mempool: puede minarse después.
		slog.Warn("onchain: transaction unconfirmed", "tx", signed.Hash().Hex(), "err", err)
		return &domain.PendingTransferError{TxHash: signed.Hash(), Err: fmt.Errorf("wait receipt: %w", err)}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s", ErrTxReverted, signed.Hash().Hex())
	}
	slog.Info("onchain: confirmed", "tx", signed.Hash().Hex(), "gas_used", receipt.GasUsed)
	return nil
}

// TransferStatus consulta el receipt de una transacción emitida por send.
// Sin receipt sigue pendiente.
func (l *ERC20Ledger) TransferStatus(ctx context.Context, txHash common.Hash) (domain.TransferStatus, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("onchain.TransferStatus: rate limiter: %w", err)
	}
	receipt, err := l.backend.TransactionReceipt(ctx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		return domain.TransferStatusPending, nil
	}
	if err != nil {
		return "", fmt.Errorf("onchain.TransferStatus: %s: %w", txHash.Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return domain.TransferStatusFailed, nil
	}
	return domain.TransferStatusConfirmed, nil
}

// gasPrice devuelve el gas price sugerido +10%, cacheado.
func (l *ERC20Ledger) gasPrice(ctx context.Context) (*big.Int, error) {
	l.mu.RLock()
	cached := l.cachedGasWei
	updatedAt := l.gasUpdatedAt
	l.mu.RUnlock()

	if cached != nil && time.Since(updatedAt) < gasPriceUpdateInterval {
		return cached, nil
	}

	price, err := l.backend.SuggestGasPrice(ctx)
	if err != nil {
		if cached != nil {
			return cached, nil
		}
		return nil, err
	}

	buffered := new(big.Int).Mul(price, big.NewInt(11))
	buffered.Div(buffered, big.NewInt(10))

	l.mu.Lock()
	l.cachedGasWei = buffered
	l.gasUpdatedAt = time.Now()
	l.mu.Unlock()
	return buffered, nil
}

// waitForReceipt consulta el receipt hasta que aparece o vence ctx.
func (l *ERC20Ledger) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(l.receiptPoll)
	defer ticker.Stop()

	for {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		receipt, err := l.backend.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			slog.Debug("onchain: receipt lookup failed", "tx", txHash.Hex(), "err", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// withRetry ejecuta fn con backoff exponencial, respetando el rate limit.
func (l *ERC20Ledger) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if werr := l.limiter.Wait(ctx); werr != nil {
			return fmt.Errorf("rate limiter: %w", werr)
		}
		if err = fn(); err == nil {
			return nil
		}
		if attempt == maxRetries {
			break
		}
		slog.Warn("onchain: rpc call failed, retrying", "op", op, "attempt", attempt+1, "err", err)
		wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("failed after %d retries: %w", maxRetries, err)
}
