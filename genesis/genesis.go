// Package genesis decodes the JSON genesis input and derives the genesis
// ReplayRecord and initial flat-storage state consumed by replaywal and
// the state view at node bootstrap. Account-properties and bytecode
// encoding are the execution engine's job, so this package stops at
// handing deployed bytecode to a ContractDeployer hook rather than
// re-implementing zkEVM account-properties hashing.
package genesis

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/Masterminds/semver"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/blake2s"

	"github.com/rollupnode/sequencer/rolluptypes"
)

// InitialContract is a (address, bytecode) pair deployed at genesis.
type InitialContract struct {
	Address  common.Address `json:"address"`
	Bytecode []byte         `json:"bytecode"`
}

// Input is the JSON genesis document.
type Input struct {
	InitialContracts     []InitialContract                              `json:"initial_contracts"`
	AdditionalStorage    map[common.Address]map[common.Hash]common.Hash `json:"additional_storage"`
	AdditionalStorageRaw [][2]common.Hash                               `json:"additional_storage_raw"`
	ExecutionVersion     uint32                                         `json:"execution_version"`
	GenesisRoot          common.Hash                                    `json:"genesis_root"`
}

// Load reads and decodes a genesis Input document from path.
func Load(path string) (Input, error) {
	f, err := os.Open(path)
	if err != nil {
		return Input{}, fmt.Errorf("open genesis input: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses a genesis Input document from r.
func Decode(r io.Reader) (Input, error) {
	var in Input
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return Input{}, fmt.Errorf("decode genesis input: %w", err)
	}
	return in, nil
}

// StorageLog is a single flat-storage-key -> value write contributed by
// genesis, either from a flattened AdditionalStorage entry, an
// AdditionalStorageRaw entry, or a ContractDeployer-assigned slot.
type StorageLog struct {
	Key   common.Hash
	Value common.Hash
}

// Preimage is a hash -> raw-bytes mapping contributed by genesis (e.g. a
// deployed contract's bytecode preimage).
type Preimage struct {
	Hash common.Hash
	Data []byte
}

// ContractDeployer is the execution-engine hook that turns a deployed
// bytecode into the flat-storage writes and preimage the account model
// requires (account-properties hashing, bytecode hash derivation). The
// engine decides how an address's code is represented; genesis only asks
// for it once per InitialContract.
type ContractDeployer interface {
	DeployInitialContract(address common.Address, bytecode []byte) ([]StorageLog, []Preimage, error)
}

// FlatStorageKey computes the flat-storage key for (address, slot):
// blake2s256(pad32(address) || slot). The derivation must stay
// bit-for-bit stable so genesis roots computed against this node agree
// with any peer's.
func FlatStorageKey(address common.Address, slot common.Hash) common.Hash {
	var buf [64]byte
	copy(buf[12:32], address.Bytes())
	copy(buf[32:64], slot.Bytes())
	sum := blake2s.Sum256(buf[:])
	return common.BytesToHash(sum[:])
}

// State is the fully-resolved genesis: flattened storage logs (sorted by
// key, for deterministic tree insertion order), preimages, and the
// derived genesis ReplayRecord.
type State struct {
	StorageLogs []StorageLog
	Preimages   []Preimage
	Record      rolluptypes.ReplayRecord
}

// Build resolves in against deployer, flattening AdditionalStorage,
// merging in AdditionalStorageRaw, and deploying each InitialContract.
// Returns an error if any flat key is written twice.
func Build(in Input, deployer ContractDeployer, ctx rolluptypes.BlockContext, nodeVersion *semver.Version) (State, error) {
	seen := make(map[common.Hash]struct{})
	var logs []StorageLog
	var preimages []Preimage

	addLog := func(key, value common.Hash) error {
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate flat storage key %s in genesis input", key)
		}
		seen[key] = struct{}{}
		logs = append(logs, StorageLog{Key: key, Value: value})
		return nil
	}

	// Flatten additional_storage in deterministic (address, slot) order.
	addrs := make([]common.Address, 0, len(in.AdditionalStorage))
	for addr := range in.AdditionalStorage {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Hex() < addrs[j].Hex() })
	for _, addr := range addrs {
		slots := in.AdditionalStorage[addr]
		keys := make([]common.Hash, 0, len(slots))
		for slot := range slots {
			keys = append(keys, slot)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].Hex() < keys[j].Hex() })
		for _, slot := range keys {
			flatKey := FlatStorageKey(addr, slot)
			if err := addLog(flatKey, slots[slot]); err != nil {
				return State{}, err
			}
		}
	}

	for _, raw := range in.AdditionalStorageRaw {
		if err := addLog(raw[0], raw[1]); err != nil {
			return State{}, err
		}
	}

	for _, contract := range in.InitialContracts {
		contractLogs, contractPreimages, err := deployer.DeployInitialContract(contract.Address, contract.Bytecode)
		if err != nil {
			return State{}, fmt.Errorf("deploy initial contract %s: %w", contract.Address, err)
		}
		for _, l := range contractLogs {
			if err := addLog(l.Key, l.Value); err != nil {
				return State{}, err
			}
		}
		preimages = append(preimages, contractPreimages...)
	}

	sort.Slice(logs, func(i, j int) bool { return logs[i].Key.Hex() < logs[j].Key.Hex() })

	record := rolluptypes.NewGenesisReplayRecord(ctx, nodeVersion)
	return State{StorageLogs: logs, Preimages: preimages, Record: record}, nil
}
