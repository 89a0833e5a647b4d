package pairing

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"
)

// Relay frame types
const (
	FrameSubscribe = "subscribe"
	FramePublish   = "publish"
	FrameMessage   = "message"
)

// CodeUserRejected is the error code a wallet answers with when the user declines
const CodeUserRejected = 5000

// ErrClosed is returned by Receive once the connection is gone
var ErrClosed = errors.New("pairing connection closed")

// Frame is what travels over the relay websocket. Payloads are sealed with the topic key,
// so the relay only ever sees topics and ciphertext.
type Frame struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Topic   string `json:"topic"`
	Payload string `json:"payload,omitempty"`
}

// RPCError is an error answer from the peer
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("wallet error %d: %s", e.Code, e.Message)
}

// Message is the decrypted JSON-RPC style payload exchanged with a wallet
type Message struct {
	ID     string          `json:"id"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// Conn is an encrypted subscription to one relay topic
type Conn struct {
	ws     *websocket.Conn
	aead   cipher.AEAD
	topic  string
	logger *zap.Logger

	writeMu   sync.Mutex
	incoming  chan Message
	done      chan struct{}
	closing   chan struct{}
	closeOnce sync.Once
	readErr   error
}

// Dial connects to the relay and subscribes to topic
func Dial(ctx context.Context, relayURL, topic string, key []byte, logger *zap.Logger) (*Conn, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("invalid topic key: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, relayURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to reach pairing relay: %w", err)
	}

	c := &Conn{
		ws:       ws,
		aead:     aead,
		topic:    topic,
		logger:   logger.With(zap.String("topic", shortTopic(topic))),
		incoming: make(chan Message, 16),
		done:     make(chan struct{}),
		closing:  make(chan struct{}),
	}

	if err := c.writeFrame(Frame{ID: uuid.NewString(), Type: FrameSubscribe, Topic: topic}); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("failed to subscribe to topic: %w", err)
	}

	go c.readLoop()
	return c, nil
}

// Topic returns the subscribed topic
func (c *Conn) Topic() string {
	return c.topic
}

// Send seals and publishes a message on the topic
func (c *Conn) Send(msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	plain, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	payload, err := c.seal(plain)
	if err != nil {
		return err
	}
	return c.writeFrame(Frame{ID: uuid.NewString(), Type: FramePublish, Topic: c.topic, Payload: payload})
}

// Receive waits for the next message from the peer
func (c *Conn) Receive(ctx context.Context) (Message, error) {
	select {
	case msg := <-c.incoming:
		return msg, nil
	case <-c.done:
		// Drain anything that arrived before the socket went away
		select {
		case msg := <-c.incoming:
			return msg, nil
		default:
		}
		if c.readErr != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrClosed, c.readErr)
		}
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Close tears the connection down. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) readLoop() {
	defer close(c.done)
	for {
		var frame Frame
		if err := c.ws.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.readErr = err
			}
			return
		}
		if frame.Type != FrameMessage || frame.Topic != c.topic {
			continue
		}

		plain, err := c.open(frame.Payload)
		if err != nil {
			c.logger.Warn("dropping undecryptable relay message", zap.Error(err))
			continue
		}
		var msg Message
		if err := json.Unmarshal(plain, &msg); err != nil {
			c.logger.Warn("dropping malformed relay message", zap.Error(err))
			continue
		}
		select {
		case c.incoming <- msg:
		case <-c.closing:
			return
		}
	}
}

func (c *Conn) writeFrame(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(f)
}

func (c *Conn) seal(plain []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plain)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, plain, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *Conn) open(payload string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid payload encoding: %w", err)
	}
	if len(raw) < c.aead.NonceSize() {
		return nil, errors.New("payload too short")
	}
	nonce, ciphertext := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	return c.aead.Open(nil, nonce, ciphertext, nil)
}

func shortTopic(topic string) string {
	if len(topic) > 8 {
		return topic[:8]
	}
	return topic
}
