package udp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ghalamif/SenseFlow/internal/domain"
)

// ErrRejected is returned by Receive when the server refused a request.
var ErrRejected = errors.New("udp: request rejected")

// Notification is one CONTENT frame received by a Client.
type Notification struct {
	MessageID   uint16
	Token       string
	Confirmable bool
	Payload     []byte
}

// Client subscribes to a Server. Confirmable notifications are acknowledged
// as they are received.
type Client struct {
	conn *net.UDPConn

	mu     sync.Mutex
	nextID uint16
}

func Dial(addr string) (*Client, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// LocalAddr is the address the server sees as the peer.
func (c *Client) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// Subscribe registers an observation of sensor under token.
func (c *Client) Subscribe(token string, sensor domain.SensorType, frequency int, opts domain.StreamOptions) error {
	return c.get(token, Get{Observe: ObserveRegister, Sensor: sensor, Frequency: frequency, Options: opts})
}

// Cancel deregisters the observation under token.
func (c *Client) Cancel(token string, sensor domain.SensorType) error {
	return c.get(token, Get{Observe: ObserveDeregister, Sensor: sensor})
}

// Fetch asks for a single reading.
func (c *Client) Fetch(token string, sensor domain.SensorType) error {
	return c.get(token, Get{Observe: ObserveNone, Sensor: sensor})
}

// Reset refuses a notification; the server treats it as a cancel.
func (c *Client) Reset(n Notification) error {
	return c.write(Frame{Type: TypeRST, MessageID: n.MessageID})
}

func (c *Client) get(token string, g Get) error {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.mu.Unlock()
	return c.write(Frame{Type: TypeCON, Code: CodeGet, MessageID: id, Token: token, Body: g.Marshal()})
}

func (c *Client) write(f Frame) error {
	raw, err := f.Marshal()
	if err != nil {
		return err
	}
	_, err = c.conn.Write(raw)
	return err
}

// Receive waits up to timeout for the next notification. Empty ACKs for our
// own requests are skipped; an error response surfaces as ErrRejected.
func (c *Client) Receive(timeout time.Duration) (Notification, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, MaxFrameLen)
	for {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return Notification{}, err
		}
		n, err := c.conn.Read(buf)
		if err != nil {
			return Notification{}, err
		}
		f, err := Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		switch {
		case f.Code == CodeEmpty:
			continue
		case f.Code >= CodeBadRequest:
			return Notification{}, fmt.Errorf("%w: code %d for token %q", ErrRejected, f.Code, f.Token)
		case f.Code != CodeContent:
			continue
		}
		if f.Type == TypeCON {
			if err := c.write(Frame{Type: TypeACK, MessageID: f.MessageID}); err != nil {
				return Notification{}, err
			}
		}
		return Notification{
			MessageID:   f.MessageID,
			Token:       f.Token,
			Confirmable: f.Type == TypeCON,
			Payload:     f.Body,
		}, nil
	}
}

func (c *Client) Close() error { return c.conn.Close() }
