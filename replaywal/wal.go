// Package replaywal implements the append-only write-ahead log of
// per-block ReplayRecords that is the sole arbiter of canonicity.
// Records are split across six column families; pebble has no native
// column-family concept, so each CF is modeled as a single-byte key
// prefix over one pebble.DB.
package replaywal

import (
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver"
	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/rollupnode/sequencer/genesis"
	"github.com/rollupnode/sequencer/rolluptypes"
)

// Column-family prefixes, a single byte each: context,
// starting_l1_serial_id, txs, node_version, block_output_hash, latest.
const (
	cfContext            byte = 'c'
	cfStartingL1SerialID byte = 's'
	cfTxs                byte = 't'
	cfNodeVersion        byte = 'n'
	cfBlockOutputHash    byte = 'h'
	cfLatest             byte = 'l'
)

// latestKey is the fixed key under cfLatest holding the highest appended
// block number.
var latestKey = []byte("latest_block")

func cfKey(cf byte, blockNumber uint64) []byte {
	key := make([]byte, 0, 9)
	key = append(key, cf)
	key = append(key, blockNumberKey(blockNumber)...)
	return key
}

// WAL is a pebble-backed implementation of the replay write-ahead log.
// The sequencer is its sole writer; Get*/StreamFrom* are safe for
// concurrent use by any number of readers.
type WAL struct {
	db *pebble.DB
}

// Open opens (creating if necessary) a WAL at dir, writing the genesis
// record derived from gen if the log is empty, so LatestRecord is
// well-defined from the moment the handle is returned.
func Open(dir string, gen genesis.State) (*WAL, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open replay WAL at %s: %w", dir, err)
	}
	w := &WAL{db: db}
	if _, ok := w.latestRecordNumber(); !ok {
		log.Info("replay WAL is empty, appending genesis record")
		if err := w.appendUnchecked(gen.Record); err != nil {
			db.Close()
			return nil, fmt.Errorf("append genesis record: %w", err)
		}
	}
	return w, nil
}

// Close releases the underlying pebble handle.
func (w *WAL) Close() error {
	return w.db.Close()
}

// GetContext returns the BlockContext for blockNumber, or ok=false if no
// record exists yet for that number. Per the WAL contract, this MUST
// return a value whenever GetReplayRecord does.
func (w *WAL) GetContext(blockNumber uint64) (rolluptypes.BlockContext, bool) {
	raw, closer, err := w.db.Get(cfKey(cfContext, blockNumber))
	if errors.Is(err, pebble.ErrNotFound) {
		return rolluptypes.BlockContext{}, false
	}
	if err != nil {
		panic(fmt.Errorf("replay WAL: read context %d: %w", blockNumber, err))
	}
	defer closer.Close()
	ctx, err := decodeContext(raw)
	if err != nil {
		panic(fmt.Errorf("replay WAL: decode context %d: %w", blockNumber, err))
	}
	return ctx, true
}

// GetReplayRecord returns the full ReplayRecord for blockNumber, or
// ok=false if it has never been appended. Writes are atomic, so once
// the context entry is present the rest of the record is guaranteed
// present too; any failure to read them is a storage-corruption bug
// and panics rather than silently degrading.
func (w *WAL) GetReplayRecord(blockNumber uint64) (rolluptypes.ReplayRecord, bool) {
	ctx, ok := w.GetContext(blockNumber)
	if !ok {
		return rolluptypes.ReplayRecord{}, false
	}

	startingL1ID := w.mustGetUint64(cfStartingL1SerialID, blockNumber, "starting_l1_priority_id")
	txs := w.mustGetTransactions(blockNumber)
	nodeVersion := w.mustGetNodeVersion(blockNumber)
	outputHash := w.mustGetHash(blockNumber)

	var prevTimestamp uint64
	if blockNumber > 0 {
		if prevCtx, ok := w.GetContext(blockNumber - 1); ok {
			prevTimestamp = prevCtx.Timestamp
		}
	}

	return rolluptypes.ReplayRecord{
		BlockContext:           ctx,
		StartingL1PriorityID:   startingL1ID,
		Transactions:           txs,
		PreviousBlockTimestamp: prevTimestamp,
		NodeVersion:            nodeVersion,
		BlockOutputHash:        outputHash,
	}, true
}

func (w *WAL) mustGetUint64(cf byte, blockNumber uint64, field string) uint64 {
	raw, closer, err := w.db.Get(cfKey(cf, blockNumber))
	if err != nil {
		panic(fmt.Errorf("replay WAL: %s must be written atomically with context (block %d): %w", field, blockNumber, err))
	}
	defer closer.Close()
	v, err := decodeUint64(raw)
	if err != nil {
		panic(fmt.Errorf("replay WAL: decode %s (block %d): %w", field, blockNumber, err))
	}
	return v
}

func (w *WAL) mustGetTransactions(blockNumber uint64) []rolluptypes.TxEnvelope {
	raw, closer, err := w.db.Get(cfKey(cfTxs, blockNumber))
	if err != nil {
		panic(fmt.Errorf("replay WAL: txs must be written atomically with context (block %d): %w", blockNumber, err))
	}
	defer closer.Close()
	txs, err := decodeTransactions(raw)
	if err != nil {
		panic(fmt.Errorf("replay WAL: decode txs (block %d): %w", blockNumber, err))
	}
	return txs
}

func (w *WAL) mustGetNodeVersion(blockNumber uint64) *semver.Version {
	raw, closer, err := w.db.Get(cfKey(cfNodeVersion, blockNumber))
	if err != nil {
		panic(fmt.Errorf("replay WAL: node_version must be written atomically with context (block %d): %w", blockNumber, err))
	}
	defer closer.Close()
	v, err := decodeNodeVersion(raw)
	if err != nil {
		panic(fmt.Errorf("replay WAL: decode node_version (block %d): %w", blockNumber, err))
	}
	return v
}

func (w *WAL) mustGetHash(blockNumber uint64) common.Hash {
	raw, closer, err := w.db.Get(cfKey(cfBlockOutputHash, blockNumber))
	if err != nil {
		panic(fmt.Errorf("replay WAL: block_output_hash must be written atomically with context (block %d): %w", blockNumber, err))
	}
	defer closer.Close()
	return common.BytesToHash(raw)
}

// latestRecordNumber returns the highest appended block number, or
// ok=false if the WAL is empty. latestKey is the one key that does not
// follow the 8-byte big-endian block-number shape.
func (w *WAL) latestRecordNumber() (uint64, bool) {
	raw, closer, err := w.db.Get(append([]byte{cfLatest}, latestKey...))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, false
	}
	if err != nil {
		panic(fmt.Errorf("replay WAL: read latest: %w", err))
	}
	defer closer.Close()
	n, err := decodeUint64(raw)
	if err != nil {
		panic(fmt.Errorf("replay WAL: decode latest: %w", err))
	}
	return n, true
}

// LatestRecord returns the highest appended block number. Infallible:
// genesis (block 0) is always present once Open has returned.
func (w *WAL) LatestRecord() uint64 {
	n, ok := w.latestRecordNumber()
	if !ok {
		panic("replay WAL: latest_record called before genesis was written")
	}
	return n
}

// Append adds record to the WAL. It panics if record.BlockContext.BlockNumber
// is more than one greater than LatestRecord(), and returns false
// without mutating anything if the block number is already present
// (idempotent re-append). Otherwise it writes all six CF entries as a
// single atomic, durably-synced pebble batch and returns true.
func (w *WAL) Append(record rolluptypes.ReplayRecord) (bool, error) {
	current := w.LatestRecord()
	n := record.BlockContext.BlockNumber
	if n <= current {
		log.Debug("replay WAL: not appending, already present", "blockNumber", n, "latest", current)
		return false, nil
	}
	if n != current+1 {
		panic(fmt.Sprintf("replay WAL: append out of order: block %d is not latest(%d)+1", n, current))
	}
	if err := w.appendUnchecked(record); err != nil {
		return false, err
	}
	return true, nil
}

func (w *WAL) appendUnchecked(record rolluptypes.ReplayRecord) error {
	n := record.BlockContext.BlockNumber

	contextBytes, err := encodeContext(record.BlockContext)
	if err != nil {
		return err
	}
	txsBytes, err := encodeTransactions(record.Transactions)
	if err != nil {
		return err
	}

	batch := w.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(cfKey(cfContext, n), contextBytes, nil); err != nil {
		return err
	}
	if err := batch.Set(cfKey(cfStartingL1SerialID, n), encodeUint64(record.StartingL1PriorityID), nil); err != nil {
		return err
	}
	if err := batch.Set(cfKey(cfTxs, n), txsBytes, nil); err != nil {
		return err
	}
	if err := batch.Set(cfKey(cfNodeVersion, n), encodeNodeVersion(record.NodeVersion), nil); err != nil {
		return err
	}
	if err := batch.Set(cfKey(cfBlockOutputHash, n), record.BlockOutputHash.Bytes(), nil); err != nil {
		return err
	}
	if err := batch.Set(append([]byte{cfLatest}, latestKey...), encodeUint64(n), nil); err != nil {
		return err
	}
	// A record must be durable before it becomes observable.
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit WAL batch for block %d: %w", n, err)
	}
	return nil
}

// StreamFrom sends records [start, end] in ascending order on the returned
// channel, closing it once end has been sent or ctx-like cancellation
// happens via stop. end must not exceed LatestRecord().
func (w *WAL) StreamFrom(start, end uint64, stop <-chan struct{}) <-chan rolluptypes.ReplayRecord {
	if end > w.LatestRecord() {
		panic(fmt.Sprintf("replay WAL: stream_from end %d exceeds latest_record %d", end, w.LatestRecord()))
	}
	out := make(chan rolluptypes.ReplayRecord)
	go func() {
		defer close(out)
		for n := start; n <= end; n++ {
			record, ok := w.GetReplayRecord(n)
			if !ok {
				panic(fmt.Sprintf("replay WAL: missing record %d within [%d,%d]", n, start, end))
			}
			select {
			case out <- record:
			case <-stop:
				return
			}
		}
	}()
	return out
}

// StreamFromForever behaves like StreamFrom(start, LatestRecord(), stop)
// but keeps polling (~50ms) for newly appended records once it catches
// up, used to push the canonical stream to peer external nodes. The
// returned channel is closed only when stop fires.
func (w *WAL) StreamFromForever(start uint64, stop <-chan struct{}) <-chan rolluptypes.ReplayRecord {
	out := make(chan rolluptypes.ReplayRecord)
	go func() {
		defer close(out)
		next := start
		for {
			record, ok := w.GetReplayRecord(next)
			if !ok {
				select {
				case <-time.After(50 * time.Millisecond):
					continue
				case <-stop:
					return
				}
			}
			select {
			case out <- record:
				next++
			case <-stop:
				return
			}
		}
	}()
	return out
}

// CompactBefore hints that records strictly below upTo are unlikely to
// be read again, compacting each CF's key space up to upTo. Safe to
// call repeatedly or with upTo=0 (no-op). It never removes the ability
// to read [0, upTo): pebble only discards superseded internal versions
// of keys it already considers obsolete, never the live keys.
func (w *WAL) CompactBefore(upTo uint64) error {
	if upTo == 0 {
		return nil
	}
	for _, cf := range []byte{cfContext, cfStartingL1SerialID, cfTxs, cfNodeVersion, cfBlockOutputHash} {
		start := cfKey(cf, 0)
		end := cfKey(cf, upTo)
		if err := w.db.Compact(start, end, false); err != nil {
			return fmt.Errorf("compact before %d: %w", upTo, err)
		}
	}
	return nil
}
