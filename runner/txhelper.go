package runner

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/meridianlabs/testorch/models"
	"github.com/meridianlabs/testorch/pool"
)

const defaultGasLimit = 100_000

// submission is the outcome of submitAndConfirm, carrying enough detail
// for a TestResult leaf row.
type submission struct {
	Outcome     TxOutcome
	TxHash      string
	BlockNumber *uint64
	GasUsed     uint64
	Address     string // set only by deployContract, on success
	Err         error
}

// submitAndConfirm sends a transaction to `to` with `data`, using
// signer's own nonce counter, and waits for a receipt. Send and receipt
// waits use separate deadlines (spec.md §4.G / §5), derived from the
// network's configured Timeouts. A transaction whose hash never confirms
// but whose nonce is later observed as already consumed is treated as
// Replaced -> Confirmed, matching the state machine in spec.md §4.G.
func submitAndConfirm(ctx context.Context, nc *networkContext, to common.Address, data []byte, gasPriceWei models.Wei) submission {
	sendCtx, cancel := context.WithTimeout(ctx, nonZero(nc.spec.Timeouts.TransactionSend, 10*time.Second))
	defer cancel()

	nonce := nc.signer.NextNonce()
	gasLimit := uint64(defaultGasLimit)
	if estimated, err := nc.provider.EstimateGas(sendCtx, ethereum.CallMsg{From: nc.signer.Address, To: &to, Data: data}); err == nil && estimated > 0 {
		gasLimit = estimated
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPriceWei.Int(),
		Data:     data,
	})
	signedTx, err := nc.signer.Auth.Signer(nc.signer.Address, tx)
	if err != nil {
		return submission{Outcome: OutcomeFailed, Err: models.NewClassifiedError(models.ErrorUnknown, err)}
	}

	if err := nc.provider.SendTransaction(sendCtx, signedTx); err != nil {
		return submission{Outcome: OutcomeFailed, Err: classifySendError(err)}
	}

	return waitForReceipt(ctx, nc, signedTx.Hash(), nonce)
}

func waitForReceipt(ctx context.Context, nc *networkContext, hash common.Hash, nonce uint64) submission {
	receiptTimeout := nonZero(nc.spec.Timeouts.Receipt, 30*time.Second)
	deadline := time.Now().Add(receiptTimeout)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		receipt, err := nc.provider.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			blockNumber := receipt.BlockNumber.Uint64()
			if receipt.Status == types.ReceiptStatusFailed {
				return submission{Outcome: OutcomeReverted, TxHash: hash.Hex(), BlockNumber: &blockNumber, GasUsed: receipt.GasUsed,
					Err: models.NewClassifiedError(models.ErrorRevert, errors.New("execution reverted"))}
			}
			return submission{Outcome: OutcomeConfirmed, TxHash: hash.Hex(), BlockNumber: &blockNumber, GasUsed: receipt.GasUsed}
		}

		if time.Now().After(deadline) {
			if replaced, ok := nc.signer.NonceConsumed(ctx, nonce); ok && replaced {
				return submission{Outcome: OutcomeReplacedConfirmed, TxHash: hash.Hex()}
			}
			return submission{Outcome: OutcomeTimedOut, TxHash: hash.Hex(), Err: models.NewClassifiedError(models.ErrorTimeout, errors.New("receipt deadline exceeded"))}
		}

		select {
		case <-ctx.Done():
			return submission{Outcome: OutcomeTimedOut, TxHash: hash.Hex(), Err: models.NewClassifiedError(models.ErrorTimeout, ctx.Err())}
		case <-ticker.C:
		}
	}
}

func nonZero(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func classifySendError(err error) error {
	var existing *models.ClassifiedError
	if errors.As(err, &existing) {
		return existing
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "nonce too low", "nonce too high"):
		return models.NewClassifiedError(models.ErrorNonce, err)
	case containsAny(msg, "underpriced", "insufficient funds for gas"):
		return models.NewClassifiedError(models.ErrorGas, err)
	case containsAny(msg, "rate limit", "429"):
		return models.NewClassifiedError(models.ErrorRateLimit, err)
	case containsAny(msg, "connection", "eof", "timeout"):
		return models.NewClassifiedError(models.ErrorConnection, err)
	default:
		return models.NewClassifiedError(models.ErrorUnknown, err)
	}
}

func containsAny(lower string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

// networkChainClient lists the chain calls txhelper makes; the assertion
// below checks at compile time that *pool.Provider provides them.
type networkChainClient interface {
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

var _ networkChainClient = (*pool.Provider)(nil)
