package runner

import (
	"context"
	"encoding/hex"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/meridianlabs/testorch/models"
)

// deployContract sends a contract-creation transaction (To=nil) carrying
// artifact's bytecode, waits for its receipt, and on success computes the
// deployed address from the sender and nonce (spec.md §6 artifact
// format).
func deployContract(ctx context.Context, nc *networkContext, artifact models.Artifact) submission {
	sendCtx, cancel := context.WithTimeout(ctx, nonZero(nc.spec.Timeouts.Deployment, 30*time.Second))
	defer cancel()

	data, err := hex.DecodeString(strings.TrimPrefix(artifact.Bytecode, "0x"))
	if err != nil {
		return submission{Outcome: OutcomeFailed, Err: models.NewClassifiedError(models.ErrorUnknown, err)}
	}

	nonce := nc.signer.NextNonce()
	gasLimit := uint64(defaultGasLimit * 10)

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       nil,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: nc.quote.GasPriceWei.Int(),
		Data:     data,
	})
	signedTx, err := nc.signer.Auth.Signer(nc.signer.Address, tx)
	if err != nil {
		return submission{Outcome: OutcomeFailed, Err: models.NewClassifiedError(models.ErrorUnknown, err)}
	}

	if err := nc.provider.SendTransaction(sendCtx, signedTx); err != nil {
		return submission{Outcome: OutcomeFailed, Err: classifySendError(err)}
	}

	sub := waitForReceipt(ctx, nc, signedTx.Hash(), nonce)
	if sub.Outcome.Success() {
		sub.Address = crypto.CreateAddress(nc.signer.Address, nonce).Hex()
	}
	return sub
}
