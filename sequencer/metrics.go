package sequencer

import "github.com/ethereum/go-ethereum/metrics"

var blocksHandledMeter = map[string]metrics.Meter{
	"replay":  metrics.NewRegisteredMeter("sequencer/blocks/replay", nil),
	"produce": metrics.NewRegisteredMeter("sequencer/blocks/produce", nil),
	"rebuild": metrics.NewRegisteredMeter("sequencer/blocks/rebuild", nil),
}

func metricsBlockHandled(kind string) {
	if m, ok := blocksHandledMeter[kind]; ok {
		m.Mark(1)
	}
}
