package stateoverride

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

type fakeBase struct {
	storage   map[common.Hash]common.Hash
	preimages map[common.Hash][]byte
	accounts  map[common.Address]AccountProperties
}

func newFakeBase() *fakeBase {
	return &fakeBase{
		storage:   map[common.Hash]common.Hash{},
		preimages: map[common.Hash][]byte{},
		accounts:  map[common.Address]AccountProperties{},
	}
}

func (f *fakeBase) GetStorage(blockNumber uint64, key common.Hash) (common.Hash, bool) {
	v, ok := f.storage[key]
	return v, ok
}

func (f *fakeBase) GetPreimage(hash common.Hash) ([]byte, bool) {
	v, ok := f.preimages[hash]
	return v, ok
}

func (f *fakeBase) GetAccountProperties(blockNumber uint64, address common.Address) (AccountProperties, bool) {
	v, ok := f.accounts[address]
	return v, ok
}

func TestSlotOverrideTakesPrecedenceOverBase(t *testing.T) {
	base := newFakeBase()
	key := common.HexToHash("0x1")
	base.storage[key] = common.HexToHash("0xaa")

	view, err := New(base, 10, map[common.Hash]common.Hash{key: common.HexToHash("0xbb")}, nil)
	require.NoError(t, err)

	got, ok := view.GetStorage(key)
	require.True(t, ok)
	require.Equal(t, common.HexToHash("0xbb"), got)
}

func TestStorageFallsThroughToBaseWhenNoOverride(t *testing.T) {
	base := newFakeBase()
	key := common.HexToHash("0x2")
	base.storage[key] = common.HexToHash("0xcc")

	view, err := New(base, 10, nil, nil)
	require.NoError(t, err)

	got, ok := view.GetStorage(key)
	require.True(t, ok)
	require.Equal(t, common.HexToHash("0xcc"), got)
}

func TestAccountOverrideRewritesPropertiesSlotAndPreimage(t *testing.T) {
	base := newFakeBase()
	addr := common.HexToAddress("0x1234")
	base.accounts[addr] = AccountProperties{Balance: uint256.NewInt(1), Nonce: 0}

	newNonce := uint64(5)
	view, err := New(base, 10, nil, map[common.Address]AccountOverride{
		addr: {Nonce: &newNonce, Code: []byte{0x60, 0x00}},
	})
	require.NoError(t, err)

	slot := accountPropertiesSlot(addr)
	propsHash, ok := view.GetStorage(slot)
	require.True(t, ok)

	preimage, ok := view.GetPreimage(propsHash)
	require.True(t, ok)
	require.NotEmpty(t, preimage)
}

func TestExplicitSlotOverrideWinsOverAccountPropertiesSlot(t *testing.T) {
	base := newFakeBase()
	addr := common.HexToAddress("0x1234")
	base.accounts[addr] = AccountProperties{Balance: uint256.NewInt(1)}

	// Explicitly override the very slot the account override would write
	// its derived properties hash to: the explicit value must win.
	slot := accountPropertiesSlot(addr)
	explicit := common.HexToHash("0xfeed")
	newNonce := uint64(7)
	view, err := New(base, 10,
		map[common.Hash]common.Hash{slot: explicit},
		map[common.Address]AccountOverride{addr: {Nonce: &newNonce}},
	)
	require.NoError(t, err)

	got, ok := view.GetStorage(slot)
	require.True(t, ok)
	require.Equal(t, explicit, got)

	// The derived hash is still reachable as a preimage key, so the
	// account override itself was applied, just not allowed to clobber.
	propsHash, ok := view.accountPropertySlots[slot]
	require.True(t, ok)
	require.NotEqual(t, explicit, propsHash)
}

func TestPreimageFallsThroughToBase(t *testing.T) {
	base := newFakeBase()
	hash := common.HexToHash("0xdd")
	base.preimages[hash] = []byte("hello")

	view, err := New(base, 10, nil, nil)
	require.NoError(t, err)

	got, ok := view.GetPreimage(hash)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), got)
}
