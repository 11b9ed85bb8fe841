package batchverify

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/log"

	"github.com/rollupnode/sequencer/commitbatch"
	"github.com/rollupnode/sequencer/rolluptypes"
	"github.com/rollupnode/sequencer/sequencer"
)

// TreeSnapshot is the Merkle-tree commitment data the client needs per
// cached block to recompute a CommitBatchInfo.
type TreeSnapshot struct {
	RootHash  [32]byte
	LeafCount uint64
}

// CachedBlock is one block's worth of data the client retains for
// batch-verification requests that might reference it.
type CachedBlock struct {
	Output sequencer.BlockOutput
	Record rolluptypes.ReplayRecord
	Tree   TreeSnapshot
}

// CommitInfoBuilder recomputes the CommitBatchInfo a batch of cached
// blocks would commit. The DA-commitment and priority-op-hash
// construction it needs belongs to the embedding node; this package
// consumes it only via this contract.
type CommitInfoBuilder interface {
	BuildCommitInfo(blocks []CachedBlock, batchNumber uint64) (commitbatch.CommitBatchInfo, error)
}

// Signer produces a BatchSignature over a CommitBatchInfo, external
// collaborator so the client need not hold key material itself in
// tests; satisfied in production by KeySigner.
type Signer interface {
	Sign(info commitbatch.CommitBatchInfo) (commitbatch.BatchSignature, error)
}

// KeySigner is the production Signer: it signs commit data with the
// node's configured signing key (Config.SigningKey).
type KeySigner struct {
	key *secp256k1.PrivateKey
}

// NewKeySigner wraps key as a Signer.
func NewKeySigner(key *secp256k1.PrivateKey) *KeySigner {
	return &KeySigner{key: key}
}

func (s *KeySigner) Sign(info commitbatch.CommitBatchInfo) (commitbatch.BatchSignature, error) {
	return commitbatch.Sign(info, s.key)
}

// BlockCache retains recent blocks in ascending contiguous order:
// inserts must be in order, and RemoveBelow evicts everything below a
// finality-style watermark.
type BlockCache struct {
	mu   sync.Mutex
	data map[uint64]CachedBlock
	low  uint64
	high uint64
	has  bool
}

// NewBlockCache returns an empty cache.
func NewBlockCache() *BlockCache {
	return &BlockCache{data: make(map[uint64]CachedBlock)}
}

// Insert adds block at blockNumber, requiring blockNumber == high+1 once
// a range is established (blocks arrive strictly in order).
func (c *BlockCache) Insert(blockNumber uint64, block CachedBlock) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.has && blockNumber != c.high+1 {
		return fmt.Errorf("out of order block %d, expected %d", blockNumber, c.high+1)
	}
	c.data[blockNumber] = block
	if !c.has {
		c.low, c.high, c.has = blockNumber, blockNumber, true
	} else {
		c.high = blockNumber
	}
	metricsBlockCacheSize(len(c.data))
	return nil
}

// Get returns the cached block at blockNumber, if present.
func (c *BlockCache) Get(blockNumber uint64) (CachedBlock, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	block, ok := c.data[blockNumber]
	return block, ok
}

// RemoveBelow evicts every cached block numbered below blockNumber.
func (c *BlockCache) RemoveBelow(blockNumber uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.has {
		return
	}
	for n := c.low; n < blockNumber; n++ {
		delete(c.data, n)
	}
	if blockNumber > c.low {
		c.low = blockNumber
	}
	metricsBlockCacheSize(len(c.data))
}

// Client connects to the main sequencer's batch-verification server,
// signs requests for batches it can locally recompute, and refuses
// requests whose commit data disagrees with its own view.
type Client struct {
	cache         *BlockCache
	builder       CommitInfoBuilder
	signer        Signer
	serverAddress string
}

// NewClient builds a Client dialing serverAddress, backed by cache and
// using builder/signer to answer requests.
func NewClient(serverAddress string, cache *BlockCache, builder CommitInfoBuilder, signer Signer) *Client {
	return &Client{
		cache:         cache,
		builder:       builder,
		signer:        signer,
		serverAddress: serverAddress,
	}
}

// Run dials the server (retrying with exponential backoff, 1s doubling
// up to 20s, at most 15 attempts), then services verification requests
// sequentially until ctx is cancelled or the connection drops.
func (c *Client) Run(ctx context.Context) error {
	conn, err := c.dialWithRetry(ctx)
	if err != nil {
		return fmt.Errorf("connect to batch verification server: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("POST /batch_verification HTTP/1.0\r\n\r\n")); err != nil {
		return fmt.Errorf("write http handshake: %w", err)
	}
	reader := bufio.NewReader(conn)
	version, err := readVersion(reader)
	if err != nil {
		return fmt.Errorf("read protocol version: %w", err)
	}
	if version != WireFormatVersion {
		return fmt.Errorf("unsupported batch verification wire format version %d", version)
	}

	log.Info("batchverify: connected to main sequencer", "server", c.serverAddress)

	for {
		payload, err := readFrame(reader)
		if err != nil {
			return fmt.Errorf("read request frame: %w", err)
		}
		req, err := decodeRequest(payload)
		if err != nil {
			log.Error("batchverify: dropping unparseable request", "err", err)
			continue
		}

		resp := c.handleRequest(req)
		respPayload, err := encodeResponse(resp)
		if err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
		if err := writeFrame(conn, respPayload); err != nil {
			return fmt.Errorf("write response frame: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

func (c *Client) dialWithRetry(ctx context.Context) (net.Conn, error) {
	delay := time.Second
	const maxDelay = 20 * time.Second
	const maxAttempts = 15

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", c.serverAddress)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		log.Warn("batchverify: retrying connection to main node", "attempt", attempt+1, "err", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return nil, fmt.Errorf("connect to %s after %d attempts: %w", c.serverAddress, maxAttempts, lastErr)
}

// handleRequest answers one Request by recomputing the batch's commit
// data from cached blocks and either signing it (if it matches) or
// refusing with a diff.
func (c *Client) handleRequest(req Request) Response {
	blocks := make([]CachedBlock, 0, req.LastBlockNumber-req.FirstBlockNumber+1)
	for n := req.FirstBlockNumber; n <= req.LastBlockNumber; n++ {
		block, ok := c.cache.Get(n)
		if !ok {
			return Response{RequestID: req.RequestID, Tag: TagRefused, Reason: fmt.Sprintf("missing block %d", n)}
		}
		blocks = append(blocks, block)
	}

	local, err := c.builder.BuildCommitInfo(blocks, req.BatchNumber)
	if err != nil {
		return Response{RequestID: req.RequestID, Tag: TagRefused, Reason: fmt.Sprintf("failed to build local commit info: %s", err)}
	}

	if field, differs := commitbatch.Diff(local, req.CommitData); differs {
		return Response{RequestID: req.RequestID, Tag: TagRefused, Reason: fmt.Sprintf("Batch data mismatch: %s", field)}
	}

	sig, err := c.signer.Sign(req.CommitData)
	if err != nil {
		return Response{RequestID: req.RequestID, Tag: TagRefused, Reason: fmt.Sprintf("failed to sign: %s", err)}
	}
	return Response{RequestID: req.RequestID, Tag: TagSuccess, Signature: sig}
}
