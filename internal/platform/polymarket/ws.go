package polymarket

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// PingToken is the heartbeat the market channel expects as a text frame.
	PingToken = "PING"
)

// DialConfig configures a market-channel connection.
type DialConfig struct {
	URL                string
	HandshakeTimeout   time.Duration
	InsecureSkipVerify bool
}

// Conn is a single market-channel websocket connection. Writes are
// serialized; a single goroutine may read.
type Conn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Dial opens a market-channel connection.
func Dial(ctx context.Context, cfg DialConfig) (*Conn, error) {
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
		Proxy:            websocket.DefaultDialer.Proxy,
	}
	if cfg.InsecureSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via config
	}

	conn, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/ws: connect: %w", err)
	}
	return &Conn{conn: conn}, nil
}

// Subscribe sends one subscription message for assetIDs.
func (c *Conn) Subscribe(assetIDs []string) error {
	data, err := json.Marshal(SubscribeMessage{AssetsIDs: assetIDs, Type: "market"})
	if err != nil {
		return fmt.Errorf("polymarket/ws: marshal subscribe: %w", err)
	}
	if err := c.write(data); err != nil {
		return fmt.Errorf("polymarket/ws: subscribe: %w", err)
	}
	return nil
}

// Ping sends the text heartbeat.
func (c *Conn) Ping() error {
	if err := c.write([]byte(PingToken)); err != nil {
		return fmt.Errorf("polymarket/ws: ping: %w", err)
	}
	return nil
}

func (c *Conn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Read blocks for the next frame. idle bounds how long the peer may stay
// silent; zero disables the deadline.
func (c *Conn) Read(idle time.Duration) ([]byte, error) {
	if idle > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(idle))
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Close sends a close frame and closes the socket. Safe to call repeatedly.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	return c.conn.Close()
}

// IsCleanClose reports whether err is a normal close initiated by the peer.
func IsCleanClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
