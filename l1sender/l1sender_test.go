package l1sender

import (
	"context"
	"math/big"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/rollupnode/sequencer/pipeline"
)

type fakeProvider struct {
	baseFee  *big.Int
	tip      *big.Int
	callErr  error
	callData []byte
}

func (p *fakeProvider) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: p.baseFee}, nil
}

func (p *fakeProvider) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return p.tip, nil
}

func (p *fakeProvider) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if p.callErr != nil {
		return nil, p.callErr
	}
	return p.callData, nil
}

type fakeCommand struct {
	name   string
	to     common.Address
	data   []byte
	err    error
	stages []Stage
}

func (c *fakeCommand) Name() string              { return c.name }
func (c *fakeCommand) To() common.Address        { return c.to }
func (c *fakeCommand) CallData() ([]byte, error) { return c.data, c.err }
func (c *fakeCommand) MarkStage(stage Stage)     { c.stages = append(c.stages, stage) }

func testConfig() Config {
	addr := common.HexToAddress("0xaaaa")
	return Config{
		MaxFeePerGas:          big.NewInt(100),
		MaxPriorityFeePerGas:  big.NewInt(5),
		GasLimit:              15_000_000,
		DryRunOperatorAddress: &addr,
	}
}

func TestDryRunSenderMarksStagesAndForwards(t *testing.T) {
	provider := &fakeProvider{baseFee: big.NewInt(10), tip: big.NewInt(1), callData: []byte{0x01}}
	sender := NewDryRunSender(provider, testConfig())

	in := make(chan Command, 1)
	cmd := &fakeCommand{name: "commitBatch", to: common.HexToAddress("0xbbbb"), data: []byte{0xde, 0xad}}
	in <- cmd
	close(in)

	out := make(chan Command, 1)
	err := sender.Run(context.Background(), pipeline.NewPeekableReceiver(in), out)
	require.NoError(t, err)

	forwarded := <-out
	require.Same(t, cmd, forwarded)
	require.Equal(t, []Stage{StageSent, StageMined}, cmd.stages)
}

func TestDryRunSenderForwardsDespiteCallFailure(t *testing.T) {
	provider := &fakeProvider{baseFee: big.NewInt(10), tip: big.NewInt(1), callErr: context.DeadlineExceeded}
	sender := NewDryRunSender(provider, testConfig())

	in := make(chan Command, 1)
	cmd := &fakeCommand{name: "proveBatch", to: common.HexToAddress("0xcccc"), data: []byte{0x02}}
	in <- cmd
	close(in)

	out := make(chan Command, 1)
	err := sender.Run(context.Background(), pipeline.NewPeekableReceiver(in), out)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, []Stage{StageSent, StageMined}, cmd.stages)
}

func TestDryRunSenderPropagatesCallDataEncodingError(t *testing.T) {
	provider := &fakeProvider{baseFee: big.NewInt(10), tip: big.NewInt(1)}
	sender := NewDryRunSender(provider, testConfig())

	in := make(chan Command, 1)
	cmd := &fakeCommand{name: "executeBatch", err: context.Canceled}
	in <- cmd
	close(in)

	out := make(chan Command, 1)
	err := sender.Run(context.Background(), pipeline.NewPeekableReceiver(in), out)
	require.Error(t, err)
}

func TestDryRunSenderForwardsBurstWithinCommandLimit(t *testing.T) {
	provider := &fakeProvider{baseFee: big.NewInt(10), tip: big.NewInt(1), callData: []byte{0x01}}
	cfg := testConfig()
	cfg.CommandLimit = 2
	cfg.PollInterval = time.Minute
	sender := NewDryRunSender(provider, cfg)

	in := make(chan Command, 2)
	in <- &fakeCommand{name: "commitBatch", to: common.HexToAddress("0xbbbb"), data: []byte{0x01}}
	in <- &fakeCommand{name: "proveBatch", to: common.HexToAddress("0xcccc"), data: []byte{0x02}}
	close(in)

	// Both commands fit in the limiter's initial burst, so Run completes
	// without waiting out the poll interval.
	out := make(chan Command, 2)
	err := sender.Run(context.Background(), pipeline.NewPeekableReceiver(in), out)
	require.NoError(t, err)
	require.Len(t, out, 2)
}

func TestOperatorAddressPrefersConfiguredOverride(t *testing.T) {
	override := common.HexToAddress("0xdead")
	cfg := Config{DryRunOperatorAddress: &override, OperatorAddress: common.HexToAddress("0xbeef")}
	require.Equal(t, override, operatorAddress(cfg))

	cfg2 := Config{OperatorAddress: common.HexToAddress("0xbeef")}
	require.Equal(t, common.HexToAddress("0xbeef"), operatorAddress(cfg2))
}
