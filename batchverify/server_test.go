package batchverify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestServerListenAndServeStopsCleanlyOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	server := NewServer()
	address := freeAddress(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- server.ListenAndServe(ctx, address) }()
	waitForListener(t, address)

	cancel()
	require.NoError(t, <-done)
}

func TestServerBroadcastRequiresThreshold(t *testing.T) {
	server := NewServer()
	err := server.Broadcast(Request{RequestID: 1, CommitData: sampleCommitData()}, 1)
	require.ErrorIs(t, err, ErrNotEnoughClients)
}

func TestServerRouteResponseDropsUnknownRequestID(t *testing.T) {
	server := NewServer()
	// Routing a response with no registered route must not panic or block.
	server.routeResponse(Response{RequestID: 999, Tag: TagRefused, Reason: "no such block"})
}
