// Package rpc exposes a size-classed memory pool over net/rpc.
package rpc

import (
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"sync"

	"github.com/goccy/go-json"

	"github.com/shenjiangwei/rsrcpool/logger"
	"github.com/shenjiangwei/rsrcpool/metrics"
	"github.com/shenjiangwei/rsrcpool/mpool"
	"github.com/shenjiangwei/rsrcpool/rsrc"
	"github.com/shenjiangwei/rsrcpool/source"
)

// ServiceName is the net/rpc name the pool methods are registered under
const ServiceName = "Pool"

// Server represents the memory pool server
type Server struct {
	mu       sync.Mutex
	manager  *rsrc.Manager
	pool     *mpool.MemoryPool
	rpc      *rpc.Server
	listener net.Listener
	closed   bool
}

// AllocRequest represents a memory allocation request
type AllocRequest struct {
	Size int
}

// AllocResponse represents a memory allocation response
type AllocResponse struct {
	Handle uint64
	Error  string
}

// FreeRequest represents a memory free request
type FreeRequest struct {
	Handle uint64
}

// FreeResponse represents a memory free response
type FreeResponse struct {
	Error string
}

// WriteRequest copies Data into the buffer behind Handle at Offset
type WriteRequest struct {
	Handle uint64
	Offset int
	Data   []byte
}

// WriteResponse reports how many bytes were copied
type WriteResponse struct {
	N     int
	Error string
}

// ReadRequest reads Length bytes of the buffer behind Handle from Offset
type ReadRequest struct {
	Handle uint64
	Offset int
	Length int
}

// ReadResponse carries the bytes read
type ReadResponse struct {
	Data  []byte
	Error string
}

// StatsRequest asks for a statistics report. A non-empty Pool limits the
// pool list to pools of that name.
type StatsRequest struct {
	Pool string
}

// StatsResponse carries a JSON encoded StatsReport
type StatsResponse struct {
	Payload []byte
	Error   string
}

// StatsReport is the document returned by the Stats method
type StatsReport struct {
	Pool    mpool.PoolStats `json:"pool"`
	Pools   []rsrc.Stats    `json:"pools"`
	Sources []source.Stats  `json:"sources"`
}

// NewServer creates a server whose memory pool lives in m. It replaces the
// OOM handler of m with one that logs, so a request that cannot be met fails
// with rsrc.ErrOutOfMemory for that client only.
func NewServer(m *rsrc.Manager, opts mpool.Options) (*Server, error) {
	m.SetOOMHandler(func(p *rsrc.Pool, amount int) {
		logger.Warn("Pool %q could not supply %d bytes to a client", p.Name(), amount)
	})
	pool, err := mpool.NewMemoryPool(m, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory pool: %w", err)
	}

	s := &Server{
		manager: m,
		pool:    pool,
		rpc:     rpc.NewServer(),
	}
	if err := s.rpc.RegisterName(ServiceName, &service{s: s}); err != nil {
		return nil, fmt.Errorf("failed to register service: %w", err)
	}
	return s, nil
}

// Start listens on address and serves until Close
func (s *Server) Start(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return s.Serve(listener)
}

// Serve accepts connections on l until Close
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		l.Close()
		return net.ErrClosed
	}
	s.listener = l
	s.mu.Unlock()

	logger.Info("Server listening on %s", l.Addr())
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Warn("Failed to accept connection: %v", err)
			continue
		}
		go s.rpc.ServeConn(conn)
	}
}

// Addr returns the listening address, or nil before Serve
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Snapshot captures the manager state for metrics collection
func (s *Server) Snapshot() metrics.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return metrics.SnapshotOf(s.manager)
}

// Report builds the document served by the Stats method
func (s *Server) Report() StatsReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reportLocked()
}

func (s *Server) reportLocked() StatsReport {
	snap := metrics.SnapshotOf(s.manager)
	return StatsReport{
		Pool:    s.pool.Stats(),
		Pools:   snap.Pools,
		Sources: snap.Sources,
	}
}

// Close stops accepting connections and closes the memory pool
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.listener != nil {
		s.listener.Close()
	}
	return s.pool.Close()
}

// service holds the methods exported over net/rpc
type service struct {
	s *Server
}

func (svc *service) Allocate(req *AllocRequest, resp *AllocResponse) error {
	s := svc.s
	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := s.pool.Allocate(req.Size)
	if err != nil {
		resp.Error = err.Error()
		return nil
	}
	resp.Handle = uint64(h)
	return nil
}

func (svc *service) Free(req *FreeRequest, resp *FreeResponse) error {
	s := svc.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.pool.Free(rsrc.Handle(req.Handle)); err != nil {
		resp.Error = err.Error()
	}
	return nil
}

func (svc *service) Write(req *WriteRequest, resp *WriteResponse) error {
	s := svc.s
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.pool.Bytes(rsrc.Handle(req.Handle))
	if err != nil {
		resp.Error = err.Error()
		return nil
	}
	if req.Offset < 0 || req.Offset > len(b) {
		resp.Error = fmt.Sprintf("offset %d outside buffer of %d bytes", req.Offset, len(b))
		return nil
	}
	resp.N = copy(b[req.Offset:], req.Data)
	return nil
}

func (svc *service) Read(req *ReadRequest, resp *ReadResponse) error {
	s := svc.s
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.pool.Bytes(rsrc.Handle(req.Handle))
	if err != nil {
		resp.Error = err.Error()
		return nil
	}
	if req.Offset < 0 || req.Length < 0 || req.Offset+req.Length > len(b) {
		resp.Error = fmt.Sprintf("range [%d, %d) outside buffer of %d bytes", req.Offset, req.Offset+req.Length, len(b))
		return nil
	}
	resp.Data = append([]byte(nil), b[req.Offset:req.Offset+req.Length]...)
	return nil
}

func (svc *service) Stats(req *StatsRequest, resp *StatsResponse) error {
	s := svc.s
	s.mu.Lock()
	report := s.reportLocked()
	s.mu.Unlock()

	if req.Pool != "" {
		pools := report.Pools[:0]
		for _, p := range report.Pools {
			if p.Name == req.Pool {
				pools = append(pools, p)
			}
		}
		report.Pools = pools
	}

	payload, err := json.Marshal(report)
	if err != nil {
		resp.Error = err.Error()
		return nil
	}
	resp.Payload = payload
	return nil
}
