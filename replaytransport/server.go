package replaytransport

import (
	"bufio"
	"context"
	"fmt"
	"net"

	"github.com/ethereum/go-ethereum/log"

	"github.com/rollupnode/sequencer/rolluptypes"
)

// ReadReplay is the WAL's read side the server streams from. Satisfied
// by *replaywal.WAL.
type ReadReplay interface {
	StreamFromForever(start uint64, stop <-chan struct{}) <-chan rolluptypes.ReplayRecord
}

// Server accepts connections from external-node replicas and streams
// the canonical ReplayRecord sequence starting at whatever block number
// each connecting client requests.
type Server struct {
	wal ReadReplay
}

// NewServer builds a Server reading from wal.
func NewServer(wal ReadReplay) *Server {
	return &Server{wal: wal}
}

// ListenAndServe accepts connections on address until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("replay transport listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	log.Info("replay transport server listening", "address", address)
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("replay transport accept: %w", err)
			}
		}
		go s.handleClient(ctx, conn)
	}
}

func (s *Server) handleClient(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	if err := skipHTTPHeaders(reader); err != nil {
		log.Debug("replay transport: handshake failed", "remote", conn.RemoteAddr(), "err", err)
		return
	}
	if err := writeVersion(conn, WireFormatVersion); err != nil {
		log.Debug("replay transport: failed to write version", "remote", conn.RemoteAddr(), "err", err)
		return
	}

	startBlockNumber, err := readStartRequest(reader)
	if err != nil {
		log.Debug("replay transport: failed to read start request", "remote", conn.RemoteAddr(), "err", err)
		return
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	records := s.wal.StreamFromForever(startBlockNumber, stop)
	for record := range records {
		payload, err := encodeRecord(record)
		if err != nil {
			log.Error("replay transport: failed to encode record", "blockNumber", record.BlockContext.BlockNumber, "err", err)
			return
		}
		if err := writeFrame(conn, payload); err != nil {
			log.Debug("replay transport: client disconnected", "remote", conn.RemoteAddr(), "err", err)
			return
		}
	}
}

// skipHTTPHeaders consumes the client's fake-HTTP request line and any
// following headers up to the first blank line.
func skipHTTPHeaders(r *bufio.Reader) error {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return err
		}
		if line == "\r\n" || line == "\n" {
			return nil
		}
	}
}

// readStartRequest reads the single u64_be starting block number the
// client sends immediately after the handshake.
func readStartRequest(r *bufio.Reader) (uint64, error) {
	payload, err := readFrame(r)
	if err != nil {
		return 0, err
	}
	return decodeStartRequest(payload)
}
