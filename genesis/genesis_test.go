package genesis

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/rollupnode/sequencer/rolluptypes"
)

type fakeDeployer struct {
	logs      []StorageLog
	preimages []Preimage
}

func (f *fakeDeployer) DeployInitialContract(addr common.Address, bytecode []byte) ([]StorageLog, []Preimage, error) {
	return f.logs, f.preimages, nil
}

func genesisCtx() rolluptypes.BlockContext {
	return rolluptypes.BlockContext{
		ChainID:        1,
		BlockNumber:    0,
		EIP1559BaseFee: uint256.NewInt(0),
		PubdataPrice:   uint256.NewInt(0),
		NativePrice:    uint256.NewInt(0),
	}
}

func TestBuildFlattensAdditionalStorage(t *testing.T) {
	addr := common.HexToAddress("0x1000c")
	slot := common.HexToHash("0x1")
	val := common.HexToHash("0x2a")
	in := Input{
		AdditionalStorage: map[common.Address]map[common.Hash]common.Hash{
			addr: {slot: val},
		},
		ExecutionVersion: 1,
	}
	state, err := Build(in, &fakeDeployer{}, genesisCtx(), nil)
	require.NoError(t, err)
	require.Len(t, state.StorageLogs, 1)
	require.Equal(t, FlatStorageKey(addr, slot), state.StorageLogs[0].Key)
	require.Equal(t, val, state.StorageLogs[0].Value)
	require.True(t, state.Record.IsGenesis())
}

func TestBuildRejectsDuplicateFlatKey(t *testing.T) {
	addr := common.HexToAddress("0x1000c")
	slot := common.HexToHash("0x1")
	flat := FlatStorageKey(addr, slot)
	in := Input{
		AdditionalStorage: map[common.Address]map[common.Hash]common.Hash{
			addr: {slot: common.HexToHash("0x2a")},
		},
		AdditionalStorageRaw: [][2]common.Hash{{flat, common.HexToHash("0x2b")}},
	}
	_, err := Build(in, &fakeDeployer{}, genesisCtx(), nil)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "duplicate"))
}

func TestBuildMergesContractDeployerLogs(t *testing.T) {
	deployer := &fakeDeployer{
		logs:      []StorageLog{{Key: common.HexToHash("0xaa"), Value: common.HexToHash("0xbb")}},
		preimages: []Preimage{{Hash: common.HexToHash("0xcc"), Data: []byte("code")}},
	}
	in := Input{InitialContracts: []InitialContract{{Address: common.HexToAddress("0x1"), Bytecode: []byte("code")}}}
	state, err := Build(in, deployer, genesisCtx(), nil)
	require.NoError(t, err)
	require.Len(t, state.StorageLogs, 1)
	require.Len(t, state.Preimages, 1)
}
