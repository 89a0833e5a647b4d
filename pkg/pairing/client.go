package pairing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"

	"riddle-swap/pkg/swaperr"
	"riddle-swap/pkg/types"
)

// Wallet-side methods of the pairing handshake
const (
	MethodSessionApprove = "session_approve"
	MethodSessionReject  = "session_reject"
)

// ApproveParams is what a wallet sends when it accepts a pairing proposal
type ApproveParams struct {
	WalletID string      `json:"walletId"`
	Chain    types.Chain `json:"chain"`
	Address  string      `json:"address"`
	Label    string      `json:"label,omitempty"`
}

// Client runs pairing handshakes and opens request channels on paired topics.
// Topic keys live in memory for the life of the process.
type Client struct {
	relayURL string
	logger   *zap.Logger

	mu   sync.RWMutex
	keys map[string][]byte
}

// NewClient creates a pairing client for a relay websocket URL
func NewClient(relayURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		relayURL: relayURL,
		logger:   logger,
		keys:     make(map[string][]byte),
	}
}

// Proposal is an open pairing offer waiting for a wallet to scan it
type Proposal struct {
	URI   string
	Topic string

	client *Client
	conn   *Conn
	key    []byte
}

// Propose creates a fresh topic and key and subscribes to it. The returned URI goes
// into a deep link or QR code.
func (c *Client) Propose(ctx context.Context) (*Proposal, error) {
	topicBytes := make([]byte, 32)
	if _, err := rand.Read(topicBytes); err != nil {
		return nil, fmt.Errorf("failed to generate topic: %w", err)
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	topic := hex.EncodeToString(topicBytes)

	conn, err := Dial(ctx, c.relayURL, topic, key, c.logger)
	if err != nil {
		return nil, err
	}

	return &Proposal{
		URI:    FormatURI(topic, key),
		Topic:  topic,
		client: c,
		conn:   conn,
		key:    key,
	}, nil
}

// Wait blocks until the wallet approves or rejects the proposal. The proposal's
// connection is closed on return.
func (p *Proposal) Wait(ctx context.Context) (types.WalletConnection, error) {
	defer p.Close()

	for {
		msg, err := p.conn.Receive(ctx)
		if err != nil {
			return types.WalletConnection{}, waitError(ctx, err, "pairing")
		}

		switch msg.Method {
		case MethodSessionApprove:
			var params ApproveParams
			if err := json.Unmarshal(msg.Params, &params); err != nil || params.Address == "" || params.Chain == "" {
				_ = p.conn.Send(Message{ID: msg.ID, Error: &RPCError{Code: 4000, Message: "invalid approval"}})
				p.client.logger.Warn("ignoring malformed pairing approval", zap.Error(err))
				continue
			}
			_ = p.conn.Send(Message{ID: msg.ID, Result: json.RawMessage(`true`)})

			p.client.remember(p.Topic, p.key)
			walletID := params.WalletID
			if walletID == "" {
				walletID = "generic"
			}
			return types.WalletConnection{
				WalletID: strings.ToLower(walletID),
				Chain:    params.Chain,
				Address:  params.Address,
				Method:   types.MethodRemote,
				Topic:    p.Topic,
				Label:    params.Label,
			}, nil

		case MethodSessionReject:
			return types.WalletConnection{}, swaperr.New(swaperr.CodeSigningRejected, "pairing declined in wallet")
		}
	}
}

// Close abandons the proposal
func (p *Proposal) Close() {
	_ = p.conn.Close()
}

// Channel carries signing requests over a paired topic
type Channel struct {
	conn *Conn
}

// Open connects to a paired topic
func (c *Client) Open(ctx context.Context, topic string) (*Channel, error) {
	c.mu.RLock()
	key, ok := c.keys[topic]
	c.mu.RUnlock()
	if !ok {
		return nil, swaperr.Newf(swaperr.CodeNoWalletSelected, "no paired session for topic %s", shortTopic(topic))
	}

	conn, err := Dial(ctx, c.relayURL, topic, key, c.logger)
	if err != nil {
		return nil, err
	}
	return &Channel{conn: conn}, nil
}

// Forget drops a paired topic, e.g. after the wallet timed out
func (c *Client) Forget(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, topic)
}

// Paired reports whether the topic has a known key
func (c *Client) Paired(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.keys[topic]
	return ok
}

func (c *Client) remember(topic string, key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[topic] = key
}

// Request sends one request and waits for the matching answer. A wallet rejection is
// SigningRejected; context errors are returned as they are.
func (ch *Channel) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode params: %w", err)
	}

	id := uuid.NewString()
	if err := ch.conn.Send(Message{ID: id, Method: method, Params: raw}); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	for {
		msg, err := ch.conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if msg.ID != id || msg.Method != "" {
			continue
		}
		if msg.Error != nil {
			if msg.Error.Code == CodeUserRejected || msg.Error.Code == 4001 {
				return nil, swaperr.Wrap(swaperr.CodeSigningRejected, msg.Error, "request declined in wallet")
			}
			return nil, msg.Error
		}
		return msg.Result, nil
	}
}

// Close tears the channel down
func (ch *Channel) Close() error {
	return ch.conn.Close()
}

// FormatURI builds a pairing URI carrying the topic and its key
func FormatURI(topic string, key []byte) string {
	return fmt.Sprintf("wc:%s@2?relay-protocol=irn&symKey=%s", topic, hex.EncodeToString(key))
}

// ParseURI extracts the topic and key from a pairing URI
func ParseURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "wc:")
	if !ok {
		return "", nil, errors.New("pairing URI must start with wc:")
	}
	topicPart, query, _ := strings.Cut(rest, "?")
	topic, _, _ := strings.Cut(topicPart, "@")
	if topic == "" {
		return "", nil, errors.New("pairing URI has no topic")
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return "", nil, fmt.Errorf("invalid pairing URI query: %w", err)
	}
	key, err := hex.DecodeString(values.Get("symKey"))
	if err != nil || len(key) != chacha20poly1305.KeySize {
		return "", nil, errors.New("pairing URI has an invalid symKey")
	}
	return topic, key, nil
}

func waitError(ctx context.Context, err error, what string) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return swaperr.Wrap(swaperr.CodeRemotePairingTimeout, err, "")
	case errors.Is(ctx.Err(), context.Canceled):
		return swaperr.Wrap(swaperr.CodeSigningRejected, err, what+" cancelled")
	default:
		return fmt.Errorf("%s interrupted: %w", what, err)
	}
}
