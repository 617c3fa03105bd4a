package radiosim

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"lora-ratchet/radio"
)

var _ radio.Radio = (*Client)(nil)

// Client is a radio.Radio implementation that dials a Relay channel over a
// WebSocket connection instead of talking to SX127x hardware.
type Client struct {
	conn *websocket.Conn

	mu     sync.Mutex
	inbox  chan []byte
	closed chan struct{}
}

// Dial connects to the relay at url (built with Addr) and starts the
// background reader that feeds RecvWindow/RecvBlocking.
func Dial(url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn:   conn,
		inbox:  make(chan []byte, 16),
		closed: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.closed)
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		select {
		case c.inbox <- data:
		default:
			// drop the oldest packet rather than block the reader
			<-c.inbox
			c.inbox <- data
		}
	}
}

// Transmit writes buf[:length] as a single binary WebSocket frame.
func (c *Client) Transmit(ctx context.Context, buf [radio.MaxFrame]byte, length int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, buf[:length]); err != nil {
		return 0, err
	}
	return length, nil
}

// RecvWindow waits cfg.RX1Delay, then up to cfg.RX1Duration for a packet;
// on a miss it waits cfg.RX2Delay and retries for cfg.RX2Duration.
func (c *Client) RecvWindow(ctx context.Context, cfg radio.Config) ([]byte, error) {
	if data, ok := c.waitWindow(ctx, cfg.RX1Delay, cfg.RX1Duration); ok {
		return data, nil
	}
	if data, ok := c.waitWindow(ctx, cfg.RX2Delay, cfg.RX2Duration); ok {
		return data, nil
	}
	return nil, nil
}

func (c *Client) waitWindow(ctx context.Context, delay, duration time.Duration) ([]byte, bool) {
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, false
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case data := <-c.inbox:
		return data, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	case <-c.closed:
		return nil, false
	}
}

// RecvBlocking waits with no timeout, for the AS dispatcher.
func (c *Client) RecvBlocking(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.inbox:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, websocket.ErrCloseSent
	}
}

// SetMode is a no-op for the simulator: there is no real power state.
func (c *Client) SetMode(mode radio.Mode) error { return nil }

// Sleep is a no-op for the simulator.
func (c *Client) Sleep() error { return nil }

// Close tears down the underlying WebSocket connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
