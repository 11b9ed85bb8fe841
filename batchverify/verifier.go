package batchverify

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/rollupnode/sequencer/commitbatch"
	"github.com/rollupnode/sequencer/pipeline"
)

// ErrTimeout is returned when an attempt's RequestTimeout elapses
// before Threshold signatures are collected.
var ErrTimeout = errors.New("batch verification timed out")

// ErrNotEnoughSigners is returned when fewer than Threshold clients are
// connected to broadcast a request to.
var ErrNotEnoughSigners = errors.New("not enough signers")

// BatchForSigning is one batch awaiting threshold signatures, the
// Verifier stage's input.
type BatchForSigning struct {
	BatchNumber      uint64
	FirstBlockNumber uint64
	LastBlockNumber  uint64
	CommitData       commitbatch.CommitBatchInfo
}

// SignedBatchEnvelope is BatchForSigning plus the signatures collected
// for it (nil when verification is disabled), the
// Verifier stage's output.
type SignedBatchEnvelope struct {
	BatchForSigning
	Signatures *commitbatch.BatchSignatureSet
}

// Verifier drives the threshold/retry state machine: for each inbound
// batch, broadcast a Request and collect responses until Threshold valid
// signatures arrive or RequestTimeout elapses; retry (after RetryDelay)
// until TotalTimeout is exceeded. Implements
// pipeline.Stage[BatchForSigning, SignedBatchEnvelope].
type Verifier struct {
	cfg           Config
	server        *Server
	nextRequestID uint64
}

// NewVerifier builds a Verifier broadcasting requests through server.
func NewVerifier(cfg Config, server *Server) *Verifier {
	return &Verifier{cfg: cfg, server: server, nextRequestID: 1}
}

func (v *Verifier) Name() string { return "batch-verifier" }

func (v *Verifier) OutputBufferSize() int { return 5 }

// Run implements pipeline.Stage. When cfg.Enabled is false every inbound
// batch is forwarded immediately with a nil signature set.
func (v *Verifier) Run(ctx context.Context, in *pipeline.PeekableReceiver[BatchForSigning], out chan<- SignedBatchEnvelope) error {
	for {
		batch, ok := in.Recv(ctx)
		if !ok {
			return nil
		}

		var signatures *commitbatch.BatchSignatureSet
		if v.cfg.Enabled {
			collected, err := v.collectWithRetry(ctx, batch)
			if err != nil {
				return fmt.Errorf("verify batch %d: %w", batch.BatchNumber, err)
			}
			signatures = collected
		}

		select {
		case out <- SignedBatchEnvelope{BatchForSigning: batch, Signatures: signatures}:
		case <-ctx.Done():
			return nil
		}
	}
}

// collectWithRetry retries collectAttempt until it succeeds or
// TotalTimeout elapses. A Refused response does not reset the
// per-attempt deadline; only reaching the threshold completes an
// attempt early.
func (v *Verifier) collectWithRetry(ctx context.Context, batch BatchForSigning) (*commitbatch.BatchSignatureSet, error) {
	deadline := time.Now().Add(v.cfg.TotalTimeout)
	attempt := 0
	for {
		signatures, err := v.collectAttempt(ctx, batch)
		if err == nil {
			return signatures, nil
		}
		if !retryable(err) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w after %d attempts", err, attempt+1)
		}
		attempt++
		log.Warn("batchverify: verification attempt failed, retrying", "batch", batch.BatchNumber, "attempt", attempt, "err", err)
		select {
		case <-time.After(v.cfg.RetryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func retryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrNotEnoughSigners)
}

// collectAttempt broadcasts one Request and collects Threshold valid,
// allow-listed, uniquely-signed responses within RequestTimeout.
func (v *Verifier) collectAttempt(ctx context.Context, batch BatchForSigning) (*commitbatch.BatchSignatureSet, error) {
	requestID := atomic.AddUint64(&v.nextRequestID, 1) - 1

	req := Request{
		BatchNumber:      batch.BatchNumber,
		FirstBlockNumber: batch.FirstBlockNumber,
		LastBlockNumber:  batch.LastBlockNumber,
		RequestID:        requestID,
		CommitData:       batch.CommitData,
	}

	responseCh := make(chan Response, v.cfg.Threshold)
	v.server.registerRoute(requestID, responseCh)
	defer v.server.unregisterRoute(requestID)

	if err := v.server.Broadcast(req, v.cfg.Threshold); err != nil {
		if errors.Is(err, ErrNotEnoughClients) {
			return nil, ErrNotEnoughSigners
		}
		return nil, err
	}

	log.Info("batchverify: broadcast verification request", "batch", batch.BatchNumber, "requestId", requestID)

	collected := commitbatch.NewBatchSignatureSet()
	timer := time.NewTimer(v.cfg.RequestTimeout)
	defer timer.Stop()

	for collected.Len() < v.cfg.Threshold {
		select {
		case resp := <-responseCh:
			v.ingestResponse(batch, resp, collected)
		case <-timer.C:
			return nil, ErrTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	log.Info("batchverify: collected enough signatures", "batch", batch.BatchNumber, "requestId", requestID, "count", collected.Len())
	return collected, nil
}

func (v *Verifier) ingestResponse(batch BatchForSigning, resp Response, collected *commitbatch.BatchSignatureSet) {
	switch resp.Tag {
	case TagRefused:
		log.Info("batchverify: verification refused", "batch", batch.BatchNumber, "requestId", resp.RequestID, "reason", resp.Reason)
	case TagSuccess:
		signer, err := resp.Signature.Recover(batch.CommitData)
		if err != nil {
			log.Warn("batchverify: dropping response with unrecoverable signature", "requestId", resp.RequestID, "err", err)
			return
		}
		if !v.signerAllowed(signer) {
			log.Warn("batchverify: dropping response from non-allow-listed signer", "requestId", resp.RequestID, "signer", signer)
			return
		}
		if err := collected.Push(commitbatch.ValidatedBatchSignature{Signature: resp.Signature, Signer: signer}); err != nil {
			log.Debug("batchverify: dropping duplicate signer response", "requestId", resp.RequestID, "signer", signer)
		}
	}
}

func (v *Verifier) signerAllowed(signer common.Address) bool {
	if len(v.cfg.AcceptedSigners) == 0 {
		return true
	}
	for _, allowed := range v.cfg.AcceptedSigners {
		if allowed == signer {
			return true
		}
	}
	return false
}
