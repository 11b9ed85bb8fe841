package batchverify

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"

	"github.com/rollupnode/sequencer/commitbatch"
)

type fakeSigner struct {
	address func() commitbatch.BatchSignature
}

func (f fakeSigner) Sign(info commitbatch.CommitBatchInfo) (commitbatch.BatchSignature, error) {
	return f.address(), nil
}

type fakeBuilder struct {
	info commitbatch.CommitBatchInfo
	err  error
}

func (f fakeBuilder) BuildCommitInfo(blocks []CachedBlock, batchNumber uint64) (commitbatch.CommitBatchInfo, error) {
	return f.info, f.err
}

func freeAddress(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

// connectOneClient dials server's address, completes the handshake, and
// responds to every request it receives with a TagSuccess carrying a valid
// signature over the request's commit data, made with a key derived from
// marker so each responder recovers to a distinct signer.
func connectOneClient(t *testing.T, ctx context.Context, address string, marker byte) {
	t.Helper()
	conn, err := net.Dial("tcp", address)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, err = conn.Write([]byte("POST /batch_verification HTTP/1.0\r\n\r\n"))
	require.NoError(t, err)
	version, err := readVersion(conn)
	require.NoError(t, err)
	require.Equal(t, WireFormatVersion, version)

	go func() {
		for {
			payload, err := readFrame(conn)
			if err != nil {
				return
			}
			req, err := decodeRequest(payload)
			if err != nil {
				return
			}
			sig, err := commitbatch.Sign(req.CommitData, secp256k1.PrivKeyFromBytes([]byte{marker}))
			if err != nil {
				return
			}
			respPayload, err := encodeResponse(Response{RequestID: req.RequestID, Tag: TagSuccess, Signature: sig})
			if err != nil {
				return
			}
			if writeFrame(conn, respPayload) != nil {
				return
			}
		}
	}()
}

func TestVerifierCollectsThresholdSignatures(t *testing.T) {
	server := NewServer()
	address := freeAddress(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverErrCh := make(chan error, 1)
	go func() { serverErrCh <- server.ListenAndServe(ctx, address) }()

	waitForListener(t, address)

	connectOneClient(t, ctx, address, 0x01)
	connectOneClient(t, ctx, address, 0x02)
	waitForSubscribers(t, server, 2)

	cfg := DefaultConfig
	cfg.Enabled = true
	cfg.Threshold = 2
	cfg.RequestTimeout = 2 * time.Second
	cfg.TotalTimeout = 5 * time.Second
	cfg.RetryDelay = 50 * time.Millisecond

	verifier := NewVerifier(cfg, server)
	signatures, err := verifier.collectAttempt(ctx, BatchForSigning{
		BatchNumber:      1,
		FirstBlockNumber: 1,
		LastBlockNumber:  1,
		CommitData:       sampleCommitData(),
	})
	require.NoError(t, err)
	require.Equal(t, 2, signatures.Len())

	cancel()
	<-serverErrCh
}

func TestVerifierNotEnoughSignersThenRetrySucceeds(t *testing.T) {
	server := NewServer()
	address := freeAddress(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverErrCh := make(chan error, 1)
	go func() { serverErrCh <- server.ListenAndServe(ctx, address) }()
	waitForListener(t, address)

	connectOneClient(t, ctx, address, 0x01)
	waitForSubscribers(t, server, 1)

	cfg := DefaultConfig
	cfg.Enabled = true
	cfg.Threshold = 2
	cfg.RequestTimeout = 100 * time.Millisecond
	cfg.RetryDelay = 50 * time.Millisecond
	cfg.TotalTimeout = 5 * time.Second

	verifier := NewVerifier(cfg, server)
	batch := BatchForSigning{BatchNumber: 1, FirstBlockNumber: 1, LastBlockNumber: 1, CommitData: sampleCommitData()}

	// First attempt fails retryable: one connected signer short of
	// threshold.
	_, err := verifier.collectAttempt(ctx, batch)
	require.ErrorIs(t, err, ErrNotEnoughSigners)

	// A second responder joining before the retry makes the next attempt
	// succeed with a full set.
	connectOneClient(t, ctx, address, 0x02)
	waitForSubscribers(t, server, 2)

	signatures, err := verifier.collectWithRetry(ctx, batch)
	require.NoError(t, err)
	require.Equal(t, 2, signatures.Len())

	cancel()
	<-serverErrCh
}

func TestVerifierAttemptTimesOutWhenResponderShortOfThreshold(t *testing.T) {
	server := NewServer()
	address := freeAddress(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverErrCh := make(chan error, 1)
	go func() { serverErrCh <- server.ListenAndServe(ctx, address) }()
	waitForListener(t, address)

	// Two clients connected so the broadcast goes out, but only one ever
	// responds: the attempt must complete with Timeout, not hang.
	connectOneClient(t, ctx, address, 0x01)
	connectSilentClient(t, address)
	waitForSubscribers(t, server, 2)

	cfg := DefaultConfig
	cfg.Enabled = true
	cfg.Threshold = 2
	cfg.RequestTimeout = 100 * time.Millisecond

	verifier := NewVerifier(cfg, server)
	_, err := verifier.collectAttempt(ctx, BatchForSigning{BatchNumber: 1, CommitData: sampleCommitData()})
	require.ErrorIs(t, err, ErrTimeout)
	require.True(t, retryable(err))

	cancel()
	<-serverErrCh
}

// connectSilentClient completes the handshake but never responds to any
// request, simulating a signer that is connected yet unresponsive.
func connectSilentClient(t *testing.T, address string) {
	t.Helper()
	conn, err := net.Dial("tcp", address)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, err = conn.Write([]byte("POST /batch_verification HTTP/1.0\r\n\r\n"))
	require.NoError(t, err)
	_, err = readVersion(conn)
	require.NoError(t, err)
}

func TestVerifierNotEnoughSignersIsRetryable(t *testing.T) {
	server := NewServer()
	cfg := DefaultConfig
	cfg.Enabled = true
	cfg.Threshold = 1
	verifier := NewVerifier(cfg, server)

	_, err := verifier.collectAttempt(context.Background(), BatchForSigning{CommitData: sampleCommitData()})
	require.ErrorIs(t, err, ErrNotEnoughSigners)
	require.True(t, retryable(err))
}

func waitForListener(t *testing.T, address string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", address, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("server never started listening")
}

func waitForSubscribers(t *testing.T, server *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if server.connectedClients() >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("never reached %d connected clients", n)
}
