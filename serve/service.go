// Package serve exposes the ingestion pipeline as a ZeroMQ request/reply
// service: each request carries a JSON Lines payload, each reply the Arrow
// IPC stream of the resulting table.
package serve

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-zeromq/zmq4"
	"golang.org/x/sync/errgroup"

	"github.com/lineforge/jsontable/metrics"
	"github.com/lineforge/jsontable/reader"
)

// Reply status frames.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Config holds configuration for the ingest service.
type Config struct {
	// Endpoint is the ZeroMQ endpoint to bind, e.g. "tcp://127.0.0.1:5599".
	Endpoint string
	// BlockSize is the parse-unit size handed to each reader.
	BlockSize int
	// UseThreads enables parallel block processing per request.
	UseThreads bool
}

// DefaultConfig returns the default service configuration.
func DefaultConfig() Config {
	return Config{
		Endpoint:  "tcp://127.0.0.1:5599",
		BlockSize: reader.DefaultBlockSize,
	}
}

// Service is a ZeroMQ REP server converting JSON Lines payloads to Arrow
// IPC tables.
type Service struct {
	cfg Config
	mem memory.Allocator

	sock   zmq4.Socket
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	running bool
	mu      sync.Mutex
}

// NewService creates an ingest service with the given configuration.
func NewService(cfg Config) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:    cfg,
		mem:    memory.DefaultAllocator,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start binds the endpoint and begins serving requests in the background.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("service already running")
	}

	s.sock = zmq4.NewRep(s.ctx)
	if err := s.sock.Listen(s.cfg.Endpoint); err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.cfg.Endpoint, err)
	}

	s.group, _ = errgroup.WithContext(s.ctx)
	s.group.Go(s.serveLoop)
	s.running = true
	return nil
}

// Stop shuts the service down and waits for the serve loop to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	if s.sock != nil {
		_ = s.sock.Close()
	}
	_ = s.group.Wait()
}

func (s *Service) serveLoop() error {
	for {
		msg, err := s.sock.Recv()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return nil
			default:
				return fmt.Errorf("receiving request: %w", err)
			}
		}
		reply := s.handle(msg.Bytes())
		if err := s.sock.Send(reply); err != nil {
			select {
			case <-s.ctx.Done():
				return nil
			default:
				return fmt.Errorf("sending reply: %w", err)
			}
		}
	}
}

// handle converts one JSON Lines payload. The reply is a two-frame
// message: a status frame, then either IPC bytes or an error string.
func (s *Service) handle(payload []byte) zmq4.Msg {
	start := time.Now()

	data, err := s.convert(payload)
	if err != nil {
		metrics.Default.RecordIngest(StatusError, time.Since(start))
		return zmq4.NewMsgFrom([]byte(StatusError), []byte(err.Error()))
	}
	metrics.Default.RecordIngest(StatusOK, time.Since(start))
	return zmq4.NewMsgFrom([]byte(StatusOK), data)
}

func (s *Service) convert(payload []byte) ([]byte, error) {
	rd, err := reader.NewTableReader(s.mem, bytes.NewReader(payload), reader.ReadOptions{
		UseThreads: s.cfg.UseThreads,
		BlockSize:  s.cfg.BlockSize,
	}, reader.ParseOptions{})
	if err != nil {
		return nil, err
	}
	table, err := rd.Read()
	if err != nil {
		return nil, err
	}
	defer table.Release()
	return EncodeTable(s.mem, table)
}
