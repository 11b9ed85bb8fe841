package sequencer

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// TxResult is the per-transaction outcome of executing a
// PreparedBlockCommand.
type TxResult struct {
	Hash    common.Hash
	Invalid bool
	Reason  string // set when Invalid
}

// StorageWrite is a single flat-storage-key -> value diff produced by
// block execution.
type StorageWrite struct {
	Key   common.Hash
	Value common.Hash
}

// PublishedPreimage is a hash -> raw-bytes mapping published by block
// execution (e.g. newly deployed bytecode).
type PublishedPreimage struct {
	Hash common.Hash
	Data []byte
}

// AccountDiff reports an account's post-block nonce, used by
// mempool.OnCanonicalStateChange to evict now-stale transactions.
type AccountDiff struct {
	Address  common.Address
	NewNonce uint64
}

// TreeInput is a single leaf update the sequencer forwards to the Merkle
// tree view after a block executes (merkleview.MerkleTreeVersion is an
// external collaborator; the sequencer just hands it the diffs).
type TreeInput struct {
	Key   common.Hash
	Value common.Hash
}

// BlockOutput is produced by the execution engine for one block.
type BlockOutput struct {
	StorageWrites []StorageWrite
	TxResults     []TxResult
	Preimages     []PublishedPreimage
	AccountDiffs  []AccountDiff
	TreeInputs    []TreeInput
	// Hash is a digest over the rest of BlockOutput, persisted into the
	// ReplayRecord emitted for this block and checked against
	// ExpectedOutputHash on Replay/Rebuild.
	Hash common.Hash
}

// AdmittedHashes returns the hashes of transactions the engine actually
// included (i.e. not Invalid), in execution order.
func (o BlockOutput) AdmittedHashes() []common.Hash {
	out := make([]common.Hash, 0, len(o.TxResults))
	for _, r := range o.TxResults {
		if !r.Invalid {
			out = append(out, r.Hash)
		}
	}
	return out
}

// NonceDiffs returns o.AccountDiffs as a map, the shape
// mempool.OnCanonicalStateChange expects.
func (o BlockOutput) NonceDiffs() map[common.Address]uint64 {
	out := make(map[common.Address]uint64, len(o.AccountDiffs))
	for _, d := range o.AccountDiffs {
		out[d.Address] = d.NewNonce
	}
	return out
}

// ExecutionEngine turns a PreparedBlockCommand into a BlockOutput: the
// EVM/zkEVM itself, consumed here only via this contract.
type ExecutionEngine interface {
	RunBlock(ctx context.Context, prepared PreparedBlockCommand) (BlockOutput, error)
}

// HashBlockOutput returns the engine-reported o.Hash unchanged; it does
// not hash the output's fields itself, since the engine is the sole
// authority on what "the same execution" means. Replay/Rebuild compare
// output.Hash against PreparedBlockCommand.ExpectedOutputHash directly.
func HashBlockOutput(o BlockOutput) common.Hash {
	return o.Hash
}
