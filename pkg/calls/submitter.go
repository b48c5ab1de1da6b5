package calls

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"tradeflow/pkg/metrics"
	"tradeflow/pkg/txerror"
	"tradeflow/pkg/types"
)

// InvokeOptions tune a single wallet invocation
type InvokeOptions struct {
	ProviderHint string
	// RefreshValidity asks the signer for a new nonce and validity window
	RefreshValidity bool
}

// Signer submits calls through a wallet and returns the transaction hash
type Signer interface {
	InvokeCalls(ctx context.Context, calls []types.OnchainCall, opts InvokeOptions) (string, error)
}

// Submission describes what was sent
type Submission struct {
	TxHash         string
	ApprovalTxHash string
	Retried        bool
	RetryKind      txerror.Kind
}

// Submitter sends call plans with at most one automatic retry
type Submitter struct {
	signer  Signer
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewSubmitter(signer Signer, logger *zap.Logger, m *metrics.Metrics) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{signer: signer, logger: logger, metrics: m}
}

// Submit invokes calls. Failures are classified and, for recoverable kinds,
// retried once with the matching strategy.
func (s *Submitter) Submit(ctx context.Context, calls []types.OnchainCall, hint string) (*Submission, error) {
	if err := types.ValidateCalls(calls); err != nil {
		return nil, txerror.New(txerror.KindInput, err)
	}
	opts := InvokeOptions{ProviderHint: hint}

	hash, err := s.signer.InvokeCalls(ctx, calls, opts)
	if err == nil {
		return &Submission{TxHash: hash}, nil
	}

	err = txerror.Classify(err)
	kind := txerror.KindOf(err)
	if !txerror.Retryable(kind) {
		return nil, err
	}

	s.metrics.IncSubmitRetry(string(kind))
	s.logger.Info("retrying submission", zap.String("kind", string(kind)), zap.Error(err))

	sub := &Submission{Retried: true, RetryKind: kind}
	switch kind {
	case txerror.KindInvalidSignature:
		opts.RefreshValidity = true
		sub.TxHash, err = s.signer.InvokeCalls(ctx, calls, opts)

	case txerror.KindInsufficientAllowance:
		approvals, rest := splitApprovals(calls)
		if len(approvals) == 0 || len(rest) == 0 {
			return nil, err
		}
		sub.ApprovalTxHash, err = s.signer.InvokeCalls(ctx, approvals, opts)
		if err == nil {
			sub.TxHash, err = s.signer.InvokeCalls(ctx, rest, opts)
		}

	case txerror.KindEntrypointNotFound:
		if len(calls) < 2 {
			return nil, err
		}
		for i, c := range calls {
			var h string
			h, err = s.signer.InvokeCalls(ctx, []types.OnchainCall{c}, opts)
			if err != nil {
				break
			}
			if c.IsApproval() && i < len(calls)-1 && sub.ApprovalTxHash == "" {
				sub.ApprovalTxHash = h
			}
			sub.TxHash = h
		}
	}

	if err != nil {
		retryErr := txerror.Classify(err)
		return nil, txerror.New(txerror.KindOf(retryErr), fmt.Errorf("retry after %s failed: %w", kind, retryErr))
	}
	return sub, nil
}

func splitApprovals(calls []types.OnchainCall) (approvals, rest []types.OnchainCall) {
	for _, c := range calls {
		if c.IsApproval() {
			approvals = append(approvals, c)
		} else {
			rest = append(rest, c)
		}
	}
	return approvals, rest
}
