// Package mempool adapts the external L2 transaction pool into the
// ordered tx-stream + canonical-state-change eviction hook the
// sequencer needs. Pool internals (validation, gossip, pricing) live
// outside this module; this package only orders admitted transactions
// and evicts them once a sealed block makes them stale.
package mempool

import (
	"sync"

	"github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/rollupnode/sequencer/rolluptypes"
)

// Entry pairs a raw transaction envelope with the sender it was admitted
// under.
type Entry struct {
	Envelope rolluptypes.TxEnvelope
	From     common.Address
	Nonce    uint64
	Hash     common.Hash
}

// Mempool is a FIFO-ordered set of executable L2 transactions: admission
// order, not priority or timestamp, determines the order the sequencer
// pulls transactions in, which keeps block production deterministic.
type Mempool struct {
	mu     sync.Mutex
	byHash map[common.Hash]*Entry
	queue  []*Entry
}

// New returns an empty mempool.
func New() *Mempool {
	return &Mempool{byHash: make(map[common.Hash]*Entry)}
}

// Add admits entry, appending it to the back of the FIFO queue. Adding an
// already-present hash replaces it in place (same hash, latest entry).
func (m *Mempool) Add(entry Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := entry
	if old, exists := m.byHash[entry.Hash]; exists {
		for i, e := range m.queue {
			if e == old {
				m.queue[i] = &stored
				break
			}
		}
		m.byHash[entry.Hash] = &stored
		metricsReplaced.Mark(1)
		return
	}
	metricsPending.Inc(1)
	m.byHash[entry.Hash] = &stored
	m.queue = append(m.queue, &stored)
}

// Remove evicts hash from the mempool, if present.
func (m *Mempool) Remove(hash common.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(hash)
}

func (m *Mempool) removeLocked(hash common.Hash) {
	entry, exists := m.byHash[hash]
	if !exists {
		return
	}
	for i, e := range m.queue {
		if e == entry {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			break
		}
	}
	delete(m.byHash, hash)
	metricsPending.Dec(1)
}

// Len returns the number of transactions currently admitted.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Stream returns up to maxTxs admitted transactions in FIFO order, for
// the block-production tx stream. It does not remove them; removal
// happens via OnCanonicalStateChange once the sequencer knows which
// transactions actually made it into a sealed block.
func (m *Mempool) Stream(maxTxs int) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if maxTxs <= 0 || maxTxs > len(m.queue) {
		maxTxs = len(m.queue)
	}
	out := make([]Entry, maxTxs)
	for i := 0; i < maxTxs; i++ {
		out[i] = *m.queue[i]
	}
	return out
}

// OnCanonicalStateChange is the eviction hook the sequencer calls after
// persisting a block: included removes those hashes outright, and for
// every (address, nonce) in newNonces, any queued transaction from that
// address with a lower nonce is now stale and is purged too.
func (m *Mempool) OnCanonicalStateChange(included []common.Hash, newNonces map[common.Address]uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	purged := mapset.NewThreadUnsafeSet[common.Hash]()
	for _, h := range included {
		purged.Add(h)
		m.removeLocked(h)
	}

	i := 0
	for _, entry := range m.queue {
		if nonce, ok := newNonces[entry.From]; ok && entry.Nonce < nonce {
			if !purged.Contains(entry.Hash) {
				delete(m.byHash, entry.Hash)
				metricsPending.Dec(1)
				log.Trace("mempool: purged stale nonce", "tx", entry.Hash, "from", entry.From, "nonce", entry.Nonce, "newNonce", nonce)
			}
			continue
		}
		m.queue[i] = entry
		i++
	}
	m.queue = m.queue[:i]
}
