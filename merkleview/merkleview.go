// Package merkleview defines the MerkleTreeVersion contract the
// sequencer and batch-verification client consume (the Merkle tree
// implementation itself lives outside this module) plus an in-memory
// fake implementation used by tests and by the batch-verification
// client's local block cache.
package merkleview

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Proof is an opaque Merkle membership proof for one leaf at a given tree
// version. Its internal structure is entirely owned by the Merkle tree
// implementation; this package never inspects it, only threads it through.
type Proof []byte

// MerkleTreeVersion is the versioned authenticated storage contract: for
// a given block number ("version"), it returns the root hash, leaf
// count, and membership proofs.
type MerkleTreeVersion interface {
	// RootHash returns the tree's root hash as of blockNumber.
	RootHash(blockNumber uint64) (common.Hash, error)
	// LeafCount returns the number of leaves in the tree as of blockNumber.
	LeafCount(blockNumber uint64) (uint64, error)
	// Proof returns a membership proof for key as of blockNumber.
	Proof(blockNumber uint64, key common.Hash) (Proof, error)
}

// ErrVersionNotFound is returned by InMemory when no version has been
// committed for the requested block number.
var ErrVersionNotFound = fmt.Errorf("merkle tree version not found")

type version struct {
	root   common.Hash
	leaves map[common.Hash]common.Hash
}

// InMemory is a trivial MerkleTreeVersion fake: each block number commits
// a snapshot of (key -> value) leaves, and the "root" is just a
// caller-supplied hash; no real tree is computed. "Proofs" are just the
// serialized leaf value, sufficient for tests and for batchverify's
// client-side local cache, which never actually verifies the proof
// against a root; it recomputes CommitBatchInfo from the blocks it
// already trusts.
type InMemory struct {
	mu       sync.RWMutex
	versions map[uint64]version
}

// NewInMemory returns an empty fake tree.
func NewInMemory() *InMemory {
	return &InMemory{versions: make(map[uint64]version)}
}

// Commit records a new tree version at blockNumber with root and leaves.
func (m *InMemory) Commit(blockNumber uint64, root common.Hash, leaves map[common.Hash]common.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions[blockNumber] = version{root: root, leaves: leaves}
}

func (m *InMemory) RootHash(blockNumber uint64) (common.Hash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.versions[blockNumber]
	if !ok {
		return common.Hash{}, fmt.Errorf("root hash at block %d: %w", blockNumber, ErrVersionNotFound)
	}
	return v.root, nil
}

func (m *InMemory) LeafCount(blockNumber uint64) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.versions[blockNumber]
	if !ok {
		return 0, fmt.Errorf("leaf count at block %d: %w", blockNumber, ErrVersionNotFound)
	}
	return uint64(len(v.leaves)), nil
}

func (m *InMemory) Proof(blockNumber uint64, key common.Hash) (Proof, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.versions[blockNumber]
	if !ok {
		return nil, fmt.Errorf("proof at block %d: %w", blockNumber, ErrVersionNotFound)
	}
	leaf, ok := v.leaves[key]
	if !ok {
		return nil, fmt.Errorf("proof at block %d: key %s not present", blockNumber, key)
	}
	return Proof(leaf.Bytes()), nil
}
