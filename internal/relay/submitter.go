// Package relay signs a priced bundle, simulates it, and races it across
// several future blocks until one inclusion is confirmed.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/mselser95/blue-liquidator/pkg/chain"
	"github.com/mselser95/blue-liquidator/pkg/flashbots"
	"github.com/mselser95/blue-liquidator/pkg/types"
	"go.uber.org/zap"
)

// DefaultOffsets are the blocks after head a bundle is submitted for.
var DefaultOffsets = []uint64{1, 2, 3, 5, 8, 13, 21} //nolint:gochecknoglobals // read-only default

// Signer signs transactions for the bot's account.
type Signer interface {
	Address() common.Address
	SignTx(ctx context.Context, tx *gethtypes.Transaction) (*gethtypes.Transaction, error)
}

// Relay is the bundle relay surface.
type Relay interface {
	Simulate(ctx context.Context, rawTxs [][]byte, target uint64) (*flashbots.SimulationResult, error)
	SendBundle(ctx context.Context, rawTxs [][]byte, target uint64) (types.Submission, error)
}

// Config holds submitter configuration.
type Config struct {
	Relay   Relay
	Signer  Signer
	Headers chain.HeaderReader

	// Offsets defaults to DefaultOffsets.
	Offsets []uint64
	// WaitTimeout bounds each per-target wait.
	WaitTimeout time.Duration
	Logger      *zap.Logger
}

// Submitter drives a bundle from signing to inclusion.
type Submitter struct {
	relay       Relay
	signer      Signer
	headers     chain.HeaderReader
	offsets     []uint64
	waitTimeout time.Duration
	logger      *zap.Logger
}

// New creates a submitter.
func New(cfg *Config) (*Submitter, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	if cfg.Relay == nil {
		return nil, errors.New("relay cannot be nil")
	}

	if cfg.Signer == nil {
		return nil, errors.New("signer cannot be nil")
	}

	if cfg.Headers == nil {
		return nil, errors.New("header reader cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.WaitTimeout <= 0 {
		return nil, errors.New("wait timeout must be positive")
	}

	offsets := cfg.Offsets
	if len(offsets) == 0 {
		offsets = DefaultOffsets
	}

	return &Submitter{
		relay:       cfg.Relay,
		signer:      cfg.Signer,
		headers:     cfg.Headers,
		offsets:     append([]uint64(nil), offsets...),
		waitTimeout: cfg.WaitTimeout,
		logger:      cfg.Logger,
	}, nil
}

// Submit signs, simulates and submits the bundle. The outcome is returned
// alongside the error whenever any attempt was made.
func (s *Submitter) Submit(ctx context.Context, bundle *types.Bundle) (*types.SubmissionOutcome, error) {
	if bundle == nil || len(bundle.Intents) == 0 {
		return nil, errors.New("bundle has no intents")
	}

	start := time.Now()
	outcome := &types.SubmissionOutcome{}

	raw, err := s.sign(ctx, bundle)
	if err != nil {
		SubmissionsTotal.WithLabelValues("sign-failed").Inc()
		return outcome, err
	}

	head, _, err := chain.LatestBlock(ctx, s.headers)
	if err != nil {
		SubmissionsTotal.WithLabelValues("stale-block").Inc()
		return outcome, err
	}

	_, err = s.relay.Simulate(ctx, raw, head+1)
	if err != nil {
		SubmissionsTotal.WithLabelValues("simulation-failed").Inc()
		s.logger.Warn("bundle-simulation-failed",
			zap.Uint64("head", head),
			zap.Error(err))
		if !errors.Is(err, types.ErrSimulationReverted) {
			err = fmt.Errorf("%w: %v", types.ErrSimulationReverted, err)
		}
		return outcome, err
	}

	s.fanOut(ctx, raw, head, outcome)
	SubmitDuration.Observe(time.Since(start).Seconds())

	if !outcome.Included {
		SubmissionsTotal.WithLabelValues("not-included").Inc()
		s.logger.Info("bundle-not-included",
			zap.Uint64("head", head),
			zap.Int("attempts", len(outcome.Attempts)))
		return outcome, types.ErrBundleNotIncluded
	}

	SubmissionsTotal.WithLabelValues("included").Inc()
	s.logger.Info("bundle-included",
		zap.Uint64("block", outcome.IncludedBlock),
		zap.Uint64("head", head),
		zap.Duration("duration", time.Since(start)))

	return outcome, nil
}

// fanOut submits raw for every offset and waits for the first inclusion.
// The result channel is buffered so abandoned waiters never block.
func (s *Submitter) fanOut(ctx context.Context, raw [][]byte, head uint64, outcome *types.SubmissionOutcome) {
	fanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan types.SubmissionAttempt, len(s.offsets))

	for _, offset := range s.offsets {
		target := head + offset
		go func() {
			results <- s.attempt(fanCtx, raw, target)
		}()
	}

	for range s.offsets {
		attempt := <-results
		outcome.Attempts = append(outcome.Attempts, attempt)
		AttemptsTotal.WithLabelValues(string(attempt.Resolution)).Inc()

		if attempt.Resolution == types.ResolutionIncluded {
			outcome.Included = true
			outcome.IncludedBlock = attempt.TargetBlock
			return
		}
	}
}

func (s *Submitter) attempt(ctx context.Context, raw [][]byte, target uint64) types.SubmissionAttempt {
	attempt := types.SubmissionAttempt{TargetBlock: target}

	submission, err := s.relay.SendBundle(ctx, raw, target)
	if err != nil {
		s.logger.Debug("bundle-rejected",
			zap.Uint64("target-block", target),
			zap.Error(err))
		attempt.Resolution = types.ResolutionError
		attempt.Err = err
		return attempt
	}
	attempt.Accepted = true

	waitCtx, cancel := context.WithTimeout(ctx, s.waitTimeout)
	defer cancel()

	resolution, err := submission.Wait(waitCtx)
	if err != nil && resolution == "" {
		resolution = types.ResolutionError
	}
	attempt.Resolution = resolution
	attempt.Err = err

	return attempt
}

// sign builds one EIP-1559 transaction per intent with consecutive nonces.
func (s *Submitter) sign(ctx context.Context, bundle *types.Bundle) ([][]byte, error) {
	raw := make([][]byte, len(bundle.Intents))

	for i, intent := range bundle.Intents {
		to := intent.To
		tx := gethtypes.NewTx(&gethtypes.DynamicFeeTx{
			ChainID:   bundle.ChainID,
			Nonce:     bundle.Nonce(i),
			GasTipCap: bundle.MaxPriorityFeePerGas,
			GasFeeCap: bundle.MaxFeePerGas,
			Gas:       intent.GasLimit,
			To:        &to,
			Value:     intent.Value,
			Data:      intent.Data,
		})

		signed, err := s.signer.SignTx(ctx, tx)
		if err != nil {
			return nil, fmt.Errorf("sign %s intent %d: %w", intent.Kind, i, err)
		}

		encoded, err := signed.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("encode %s intent %d: %w", intent.Kind, i, err)
		}
		raw[i] = encoded
	}

	return raw, nil
}
