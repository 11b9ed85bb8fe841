package batchverify

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// ErrNotEnoughClients is returned by Server.Broadcast when fewer than
// requiredClients signers are currently connected.
var ErrNotEnoughClients = errors.New("not enough batch verification clients connected")

// Server accepts TCP connections from external-node signers, broadcasts
// verification Requests to all of them, and routes their Responses back
// to whichever in-flight attempt is waiting on that RequestID. The
// subscriber set and the request-routing map are both guarded by one
// mutex, safe for concurrent accept-loop/read-loop/verifier access.
type Server struct {
	mu          sync.Mutex
	nextSubID   int
	subscribers map[int]chan Request
	routes      map[uint64]chan Response
}

// NewServer returns an unstarted Server.
func NewServer() *Server {
	return &Server{
		subscribers: make(map[int]chan Request),
		routes:      make(map[uint64]chan Response),
	}
}

// ListenAndServe binds address and accepts client connections until ctx
// is cancelled or the listener fails. Each connection is handled in its
// own goroutine; a per-connection error is logged, not fatal to the
// server as a whole.
func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", address, err)
	}
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go func() {
			if err := s.handleClient(ctx, conn); err != nil {
				log.Error("batchverify: client handler exited", "remote", conn.RemoteAddr(), "err", err)
			}
		}()
	}
}

func (s *Server) handleClient(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	if err := skipHTTPHeaders(reader); err != nil {
		return fmt.Errorf("skip http headers: %w", err)
	}
	if err := writeVersion(conn, WireFormatVersion); err != nil {
		return fmt.Errorf("write version: %w", err)
	}

	log.Info("batchverify: signer connected", "remote", conn.RemoteAddr())
	metricsSignerConnected()
	defer metricsSignerDisconnected()

	reqCh := s.subscribe()
	defer s.unsubscribe(reqCh)

	writeErrCh := make(chan error, 1)
	go func() {
		for req := range reqCh {
			payload, err := encodeRequest(req)
			if err != nil {
				writeErrCh <- fmt.Errorf("encode request: %w", err)
				return
			}
			if err := writeFrame(conn, payload); err != nil {
				writeErrCh <- fmt.Errorf("write request frame: %w", err)
				return
			}
		}
	}()

	for {
		payload, err := readFrame(reader)
		if err != nil {
			select {
			case werr := <-writeErrCh:
				return werr
			default:
				return err
			}
		}
		resp, err := decodeResponse(payload)
		if err != nil {
			log.Error("batchverify: dropping unparseable response", "remote", conn.RemoteAddr(), "err", err)
			continue
		}
		s.routeResponse(resp)
	}
}

func (s *Server) subscribe() chan Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Request, 16)
	s.nextSubID++
	s.subscribers[s.nextSubID] = ch
	return ch
}

func (s *Server) unsubscribe(ch chan Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.subscribers {
		if c == ch {
			delete(s.subscribers, id)
			close(c)
			return
		}
	}
}

// connectedClients returns the number of currently subscribed signers.
func (s *Server) connectedClients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

// Broadcast sends req to every connected signer, failing with
// ErrNotEnoughClients if fewer than requiredClients are connected.
func (s *Server) Broadcast(req Request, requiredClients int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.subscribers) < requiredClients {
		return ErrNotEnoughClients
	}
	for _, ch := range s.subscribers {
		select {
		case ch <- req:
		default:
			log.Warn("batchverify: subscriber channel full, dropping request", "requestId", req.RequestID)
		}
	}
	return nil
}

// registerRoute arranges for responses carrying requestID to be sent to
// ch, until unregisterRoute is called.
func (s *Server) registerRoute(requestID uint64, ch chan Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[requestID] = ch
}

func (s *Server) unregisterRoute(requestID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.routes, requestID)
}

// routeResponse dispatches resp to the channel registered for its
// RequestID, if any; responses arriving after cleanup are dropped with
// a debug log.
func (s *Server) routeResponse(resp Response) {
	s.mu.Lock()
	ch, ok := s.routes[resp.RequestID]
	s.mu.Unlock()
	if !ok {
		log.Debug("batchverify: response for unknown or completed request, dropping", "requestId", resp.RequestID)
		return
	}
	select {
	case ch <- resp:
	default:
		log.Debug("batchverify: route channel full, dropping response", "requestId", resp.RequestID)
	}
}

// skipHTTPHeaders consumes bytes up to and including the blank line that
// terminates the fake HTTP request line the client sends to make the
// connection a valid HTTP upgrade.
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
