// Package stateoverride wraps a base versioned StateView to support
// eth_call-style overrides: callers may override individual storage
// slots and/or whole accounts (balance/nonce/code) for the duration of
// a single simulated call, without mutating the underlying state view.
package stateoverride

import (
	"fmt"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/rollupnode/sequencer/genesis"
)

// StateView is the versioned key/value + preimage store this package
// wraps. Its backing storage engine lives outside this module.
type StateView interface {
	// GetStorage returns the flat-storage value at key as of blockNumber.
	GetStorage(blockNumber uint64, key common.Hash) (common.Hash, bool)
	// GetPreimage returns the preimage for hash, if known.
	GetPreimage(hash common.Hash) ([]byte, bool)
	// GetAccountProperties returns address's account properties as of
	// blockNumber.
	GetAccountProperties(blockNumber uint64, address common.Address) (AccountProperties, bool)
}

// AccountProperties is the subset of account state eth_call overrides may
// replace: balance, nonce, and code. Mirrors the account-properties model
// the execution engine maintains; stateoverride only ever reads and
// rewrites it, never interprets it further.
type AccountProperties struct {
	Balance  *uint256.Int
	Nonce    uint64
	CodeHash common.Hash
	Code     []byte
}

// accountPropertiesRLP is the on-the-wire shape hashed to derive an
// account's properties hash, via go-ethereum's rlp codec (the same
// encoding geth's own state trie commits account state with), rather than
// inventing an ad hoc byte layout.
type accountPropertiesRLP struct {
	Balance  []byte
	Nonce    uint64
	CodeHash common.Hash
}

func hashAccountProperties(p AccountProperties) (common.Hash, []byte, error) {
	encoded, err := rlp.EncodeToBytes(accountPropertiesRLP{
		Balance:  p.Balance.Bytes(),
		Nonce:    p.Nonce,
		CodeHash: p.CodeHash,
	})
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("rlp-encode account properties: %w", err)
	}
	return crypto.Keccak256Hash(encoded), encoded, nil
}

// AccountOverride supplies the optionally-present fields eth_call may
// replace for one address.
type AccountOverride struct {
	Balance *uint256.Int
	Nonce   *uint64
	Code    []byte
}

// AccountPropertiesStorageAddress is the well-known system address whose
// storage space holds every account's properties hash.
var AccountPropertiesStorageAddress = common.HexToAddress("0x0000000000000000000000000000000000008003")

// accountPropertiesSlot derives the flat storage key an account's
// properties hash lives under: the system address occupies the address
// half of the key derivation and the target address, left-padded to 32
// bytes, occupies the slot half.
func accountPropertiesSlot(address common.Address) common.Hash {
	return genesis.FlatStorageKey(AccountPropertiesStorageAddress, common.BytesToHash(address.Bytes()))
}

// View wraps Base with slot and account-properties overrides for a
// single logical call. Reads consult the override tables first, then
// fall through to Base.
type View struct {
	Base        StateView
	blockNumber uint64
	// slotOverrides holds the caller's explicit flat-key overrides;
	// accountPropertySlots holds the account-properties hashes derived
	// from account overrides. Kept separate so an explicit slot override
	// always wins over a derived one at the same key.
	slotOverrides        map[common.Hash]common.Hash
	accountPropertySlots map[common.Hash]common.Hash
	preimageOverrides    map[common.Hash][]byte
	preimageCache        *fastcache.Cache
}

// New builds a View over base at blockNumber, applying slotOverrides
// (already-flat storage keys) and accountOverrides (resolved against
// base at construction).
func New(base StateView, blockNumber uint64, slotOverrides map[common.Hash]common.Hash, accountOverrides map[common.Address]AccountOverride) (*View, error) {
	v := &View{
		Base:                 base,
		blockNumber:          blockNumber,
		slotOverrides:        make(map[common.Hash]common.Hash, len(slotOverrides)),
		accountPropertySlots: make(map[common.Hash]common.Hash, len(accountOverrides)),
		preimageOverrides:    make(map[common.Hash][]byte),
		preimageCache:        fastcache.New(4 * 1024 * 1024),
	}
	for k, val := range slotOverrides {
		v.slotOverrides[k] = val
	}

	addrs := make([]common.Address, 0, len(accountOverrides))
	for addr := range accountOverrides {
		addrs = append(addrs, addr)
	}
	for _, addr := range addrs {
		override := accountOverrides[addr]
		if override.Balance == nil && override.Nonce == nil && override.Code == nil {
			continue
		}
		if err := v.applyAccountOverride(addr, override); err != nil {
			return nil, fmt.Errorf("apply account override for %s: %w", addr, err)
		}
	}
	return v, nil
}

// applyAccountOverride resolves one account override: fetch the base
// account properties, apply the provided fields, then map the account's
// properties slot to the new properties hash and register its preimage.
func (v *View) applyAccountOverride(address common.Address, override AccountOverride) error {
	props, _ := v.Base.GetAccountProperties(v.blockNumber, address)
	if props.Balance == nil {
		props.Balance = uint256.NewInt(0)
	}

	if override.Balance != nil {
		props.Balance = override.Balance
	}
	if override.Nonce != nil {
		props.Nonce = *override.Nonce
	}
	if override.Code != nil {
		codeHash := crypto.Keccak256Hash(override.Code)
		props.CodeHash = codeHash
		props.Code = override.Code
		v.preimageOverrides[codeHash] = override.Code
	}

	propsHash, propsPreimage, err := hashAccountProperties(props)
	if err != nil {
		return err
	}
	v.preimageOverrides[propsHash] = propsPreimage

	slot := accountPropertiesSlot(address)
	v.accountPropertySlots[slot] = propsHash
	log.Debug("stateoverride: applied account override", "address", address, "slot", slot, "propsHash", propsHash)
	return nil
}

// GetStorage resolves key by consulting, in order: explicit slot
// overrides, then derived account-properties overrides, then the base
// state view.
func (v *View) GetStorage(key common.Hash) (common.Hash, bool) {
	if val, ok := v.slotOverrides[key]; ok {
		return val, true
	}
	if val, ok := v.accountPropertySlots[key]; ok {
		return val, true
	}
	return v.Base.GetStorage(v.blockNumber, key)
}

// GetPreimage resolves hash by consulting override preimages first, then
// the base state view.
func (v *View) GetPreimage(hash common.Hash) ([]byte, bool) {
	if cached, ok := v.preimageCache.HasGet(nil, hash.Bytes()); ok {
		return cached, true
	}
	if data, ok := v.preimageOverrides[hash]; ok {
		v.preimageCache.Set(hash.Bytes(), data)
		return data, true
	}
	data, ok := v.Base.GetPreimage(hash)
	if ok {
		v.preimageCache.Set(hash.Bytes(), data)
	}
	return data, ok
}
