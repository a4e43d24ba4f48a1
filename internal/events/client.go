package events

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrClientClosed  = errors.New("connection closed")
	ErrSlowConsumer  = errors.New("outbound queue full")
	ErrHubShutdown   = errors.New("hub shutting down")
	ErrClientUnknown = errors.New("connection not registered")
)

type State int

const (
	StateConnecting State = iota
	StateSubscribed
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateSubscribed:
		return "subscribed"
	case StateDisconnected:
		return "disconnected"
	default:
		return "connecting"
	}
}

// Client is one live connection. Frames queued for it are read from Send by
// the transport until Done is closed.
type Client struct {
	ID     string
	UserID uuid.UUID

	send chan []byte
	done chan struct{}

	mu       sync.Mutex
	state    State
	channels map[uuid.UUID]struct{}
	reason   error
	once     sync.Once
}

func newClient(userID uuid.UUID, queueSize int) *Client {
	return &Client{
		ID:       uuid.NewString(),
		UserID:   userID,
		send:     make(chan []byte, queueSize),
		done:     make(chan struct{}),
		state:    StateConnecting,
		channels: make(map[uuid.UUID]struct{}),
	}
}

func (c *Client) Send() <-chan []byte {
	return c.send
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err reports why the connection was closed, nil while it is open or after a
// plain disconnect.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *Client) Channels() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uuid.UUID, 0, len(c.channels))
	for id := range c.channels {
		out = append(out, id)
	}
	return out
}

// enqueue queues a frame without blocking. It returns false when the queue
// is full or the connection is already gone.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Reply queues a frame addressed to this connection only.
func (c *Client) Reply(frame []byte) bool {
	return c.enqueue(frame)
}

func (c *Client) addChannel(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		return false
	}
	c.channels[id] = struct{}{}
	c.state = StateSubscribed
	return true
}

func (c *Client) removeChannel(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, id)
	if c.state == StateSubscribed && len(c.channels) == 0 {
		c.state = StateConnecting
	}
}

// markClosed moves the connection to Disconnected and returns the channels it
// was in. Only the first call returns true.
func (c *Client) markClosed(reason error) ([]uuid.UUID, bool) {
	first := false
	c.once.Do(func() {
		first = true
		c.mu.Lock()
		c.state = StateDisconnected
		c.reason = reason
		c.mu.Unlock()
		close(c.done)
	})
	if !first {
		return nil, false
	}
	return c.Channels(), true
}
