// Package rolluptypes holds the data model shared across the pipeline,
// replay WAL, sequencer, gas adjuster, batch verification, and replay
// transport packages: BlockContext, ReplayRecord, and the transaction
// envelope kinds. Kept as one small package rather than duplicated per
// consumer, mirroring how core/types centralizes go-ethereum's block and
// transaction shapes for the rest of that module.
package rolluptypes

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// NumBlockHashes is the size of the recent-block-hash window carried in
// BlockContext, matching the EVM's BLOCKHASH opcode window.
const NumBlockHashes = 256

// BlockContext is the immutable-per-block execution context.
type BlockContext struct {
	ChainID          uint64
	BlockNumber      uint64
	Timestamp        uint64
	EIP1559BaseFee   *uint256.Int
	PubdataPrice     *uint256.Int
	NativePrice      *uint256.Int
	Coinbase         common.Address
	GasLimit         uint64
	PubdataLimit     uint64
	MixHash          common.Hash
	ExecutionVersion uint32
	BlockHashes      [NumBlockHashes]common.Hash
}

// Clone deep-copies the u256 fields so callers can mutate a derived
// context (e.g. a speculative next BlockContext) without aliasing c's
// pointers.
func (c *BlockContext) Clone() *BlockContext {
	clone := *c
	clone.EIP1559BaseFee = new(uint256.Int).Set(c.EIP1559BaseFee)
	clone.PubdataPrice = new(uint256.Int).Set(c.PubdataPrice)
	clone.NativePrice = new(uint256.Int).Set(c.NativePrice)
	return &clone
}
