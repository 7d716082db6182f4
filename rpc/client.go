package rpc

import (
	"errors"
	"fmt"
	"net/rpc"
	"sync"

	"github.com/goccy/go-json"

	"github.com/shenjiangwei/rsrcpool/rsrc"
)

// ErrServer wraps errors reported by the server
var ErrServer = errors.New("server error")

// Client represents a memory pool client
type Client struct {
	id        int
	client    *rpc.Client
	allocated map[rsrc.Handle]int // handle -> requested size
	mu        sync.Mutex
}

// NewClient creates a new memory pool client
func NewClient(id int, address string) (*Client, error) {
	client, err := rpc.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}

	return &Client{
		id:        id,
		client:    client,
		allocated: make(map[rsrc.Handle]int),
	}, nil
}

func (c *Client) call(method string, req, resp interface{}) error {
	if err := c.client.Call(ServiceName+"."+method, req, resp); err != nil {
		return fmt.Errorf("RPC call failed: %w", err)
	}
	return nil
}

func serverError(msg string) error {
	if msg == "" {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrServer, msg)
}

// Allocate allocates a buffer of size bytes through the server
func (c *Client) Allocate(size int) (rsrc.Handle, error) {
	resp := &AllocResponse{}
	if err := c.call("Allocate", &AllocRequest{Size: size}, resp); err != nil {
		return rsrc.Nil, err
	}
	if err := serverError(resp.Error); err != nil {
		return rsrc.Nil, err
	}

	h := rsrc.Handle(resp.Handle)
	c.mu.Lock()
	c.allocated[h] = size
	c.mu.Unlock()
	return h, nil
}

// Free frees a buffer through the server
func (c *Client) Free(h rsrc.Handle) error {
	resp := &FreeResponse{}
	if err := c.call("Free", &FreeRequest{Handle: uint64(h)}, resp); err != nil {
		return err
	}
	if err := serverError(resp.Error); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.allocated, h)
	c.mu.Unlock()
	return nil
}

// Write copies data into the buffer behind h at offset
func (c *Client) Write(h rsrc.Handle, offset int, data []byte) (int, error) {
	resp := &WriteResponse{}
	if err := c.call("Write", &WriteRequest{Handle: uint64(h), Offset: offset, Data: data}, resp); err != nil {
		return 0, err
	}
	return resp.N, serverError(resp.Error)
}

// Read returns length bytes of the buffer behind h starting at offset
func (c *Client) Read(h rsrc.Handle, offset, length int) ([]byte, error) {
	resp := &ReadResponse{}
	if err := c.call("Read", &ReadRequest{Handle: uint64(h), Offset: offset, Length: length}, resp); err != nil {
		return nil, err
	}
	if err := serverError(resp.Error); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Stats fetches the server statistics. A non-empty pool limits the pool list.
func (c *Client) Stats(pool string) (*StatsReport, error) {
	resp := &StatsResponse{}
	if err := c.call("Stats", &StatsRequest{Pool: pool}, resp); err != nil {
		return nil, err
	}
	if err := serverError(resp.Error); err != nil {
		return nil, err
	}
	report := &StatsReport{}
	if err := json.Unmarshal(resp.Payload, report); err != nil {
		return nil, fmt.Errorf("failed to decode stats: %w", err)
	}
	return report, nil
}

// Outstanding returns the number of buffers this client allocated and has not freed
func (c *Client) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.allocated)
}

// ID returns the client id
func (c *Client) ID() int { return c.id }

// Close closes the client connection
func (c *Client) Close() error {
	return c.client.Close()
}
