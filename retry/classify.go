package retry

import (
	"context"
	"errors"
	"strings"

	"github.com/meridianlabs/testorch/models"
)

// Classify maps a raw error from a provider/signer call into a
// models.ErrorCategory using substring and well-known error matching
// against the shapes go-ethereum's RPC and transaction-pool layers
// produce (e.g. "nonce too low", "replacement transaction underpriced",
// "execution reverted").
func Classify(err error) *models.ClassifiedError {
	if err == nil {
		return nil
	}
	var classified *models.ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewClassifiedError(models.ErrorTimeout, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "execution reverted", "revert", "vm execution error"):
		return models.NewClassifiedError(models.ErrorRevert, err)
	case containsAny(msg, "nonce too low", "nonce too high", "invalid nonce", "already known"):
		return models.NewClassifiedError(models.ErrorNonce, err)
	case containsAny(msg, "insufficient funds", "gas required exceeds allowance", "underpriced", "max fee per gas less than block base fee"):
		return models.NewClassifiedError(models.ErrorGas, err)
	case containsAny(msg, "429", "too many requests", "rate limit", "request limit exceeded"):
		return models.NewClassifiedError(models.ErrorRateLimit, err)
	case containsAny(msg, "timeout", "deadline exceeded", "context canceled"):
		return models.NewClassifiedError(models.ErrorTimeout, err)
	case containsAny(msg, "connection refused", "no such host", "eof", "broken pipe", "dial tcp", "connection reset"):
		return models.NewClassifiedError(models.ErrorConnection, err)
	default:
		return models.NewClassifiedError(models.ErrorUnknown, err)
	}
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
