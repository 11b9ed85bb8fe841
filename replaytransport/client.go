package replaytransport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/rollupnode/sequencer/rolluptypes"
)

// Client pulls the canonical ReplayRecord stream from a main node,
// satisfying cmdsource.ReplayPuller for ExternalNodeCommandSource.
type Client struct {
	serverAddress string
}

// NewClient builds a Client pulling from serverAddress.
func NewClient(serverAddress string) *Client {
	return &Client{serverAddress: serverAddress}
}

// Pull connects to the main node, requests the stream starting at
// startBlockNumber, and invokes onRecord for every ReplayRecord received
// in ascending order until ctx is cancelled, the connection fails, or
// onRecord returns an error.
func (c *Client) Pull(ctx context.Context, startBlockNumber uint64, onRecord func(rolluptypes.ReplayRecord) error) error {
	conn, err := c.dialWithRetry(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	handshake := fmt.Sprintf("POST %s HTTP/1.0\r\n\r\n", HandshakePath)
	if _, err := conn.Write([]byte(handshake)); err != nil {
		return fmt.Errorf("replay transport: write handshake: %w", err)
	}

	reader := bufio.NewReader(conn)
	version, err := readVersion(reader)
	if err != nil {
		return fmt.Errorf("replay transport: read version: %w", err)
	}
	if version != WireFormatVersion {
		return fmt.Errorf("replay transport: unsupported wire version %d", version)
	}

	if err := writeFrame(conn, encodeStartRequest(startBlockNumber)); err != nil {
		return fmt.Errorf("replay transport: write start request: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		payload, err := readFrame(reader)
		if err != nil {
			return fmt.Errorf("replay transport: read frame: %w", err)
		}
		record, err := decodeRecord(payload)
		if err != nil {
			return fmt.Errorf("replay transport: decode record: %w", err)
		}
		if err := onRecord(record); err != nil {
			return err
		}
	}
}

// dialWithRetry dials with exponential backoff starting at 1s, factor 2,
// capped at 20s, up to 15 attempts.
func (c *Client) dialWithRetry(ctx context.Context) (net.Conn, error) {
	delay := time.Second
	const maxDelay = 20 * time.Second
	const maxAttempts = 15

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, "tcp", c.serverAddress)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		log.Info("replay transport: retrying connection to main node", "address", c.serverAddress, "attempt", attempt+1, "err", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return nil, fmt.Errorf("replay transport: failed to connect to %s after %d attempts: %w", c.serverAddress, maxAttempts, lastErr)
}
