package pairing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"riddle-swap/pkg/swaperr"
	"riddle-swap/pkg/types"
)

// testRelay forwards published frames to every other subscriber of the topic
type testRelay struct {
	mu     sync.Mutex
	topics map[string]map[*websocket.Conn]*sync.Mutex
}

func newTestRelay(t *testing.T) string {
	t.Helper()
	relay := &testRelay{topics: map[string]map[*websocket.Conn]*sync.Mutex{}}
	server := httptest.NewServer(http.HandlerFunc(relay.serve))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func (r *testRelay) serve(w http.ResponseWriter, req *http.Request) {
	upgrader := websocket.Upgrader{}
	ws, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	writeMu := &sync.Mutex{}
	defer func() {
		r.mu.Lock()
		for _, subs := range r.topics {
			delete(subs, ws)
		}
		r.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		var frame Frame
		if err := ws.ReadJSON(&frame); err != nil {
			return
		}
		switch frame.Type {
		case FrameSubscribe:
			r.mu.Lock()
			if r.topics[frame.Topic] == nil {
				r.topics[frame.Topic] = map[*websocket.Conn]*sync.Mutex{}
			}
			r.topics[frame.Topic][ws] = writeMu
			r.mu.Unlock()
		case FramePublish:
			r.mu.Lock()
			for sub, mu := range r.topics[frame.Topic] {
				if sub == ws {
					continue
				}
				mu.Lock()
				_ = sub.WriteJSON(Frame{ID: frame.ID, Type: FrameMessage, Topic: frame.Topic, Payload: frame.Payload})
				mu.Unlock()
			}
			r.mu.Unlock()
		}
	}
}

// joinAsWallet plays the wallet side of a proposal
func joinAsWallet(t *testing.T, relayURL, uri string) *Conn {
	t.Helper()
	topic, key, err := ParseURI(uri)
	require.NoError(t, err)
	conn, err := Dial(context.Background(), relayURL, topic, key, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// pairedClient runs a full handshake and returns the dapp client, the session and the wallet conn
func pairedClient(t *testing.T) (*Client, types.WalletConnection, *Conn, string) {
	t.Helper()
	relayURL := newTestRelay(t)
	c := NewClient(relayURL, zaptest.NewLogger(t))

	proposal, err := c.Propose(context.Background())
	require.NoError(t, err)

	wallet := joinAsWallet(t, relayURL, proposal.URI)
	params, _ := json.Marshal(ApproveParams{WalletID: "MetaMask", Chain: types.ChainEVM, Address: "0xPhone"})

	// The relay may still be registering the subscription; resend until answered
	done := make(chan types.WalletConnection, 1)
	errs := make(chan error, 1)
	go func() {
		conn, err := proposal.Wait(context.Background())
		if err != nil {
			errs <- err
			return
		}
		done <- conn
	}()

	require.Eventually(t, func() bool {
		_ = wallet.Send(Message{Method: MethodSessionApprove, Params: params})
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		msg, err := wallet.Receive(ctx)
		return err == nil && string(msg.Result) == "true"
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case conn := <-done:
		return c, conn, wallet, relayURL
	case err := <-errs:
		t.Fatalf("pairing failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("pairing did not complete")
	}
	return nil, types.WalletConnection{}, nil, ""
}

func TestURIRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	key[0] = 0xab
	topic, parsed, err := ParseURI(FormatURI("deadbeef", key))
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", topic)
	assert.Equal(t, key, parsed)

	for _, bad := range []string{"http://x", "wc:@2?symKey=00", "wc:abc@2?symKey=zz", "wc:abc@2?symKey=00ff"} {
		_, _, err := ParseURI(bad)
		assert.Error(t, err, bad)
	}
}

func TestHandshakeProducesRemoteConnection(t *testing.T) {
	c, conn, _, _ := pairedClient(t)

	assert.Equal(t, "metamask", conn.WalletID)
	assert.Equal(t, types.ChainEVM, conn.Chain)
	assert.Equal(t, "0xPhone", conn.Address)
	assert.Equal(t, types.MethodRemote, conn.Method)
	assert.True(t, c.Paired(conn.Topic))

	c.Forget(conn.Topic)
	assert.False(t, c.Paired(conn.Topic))
	_, err := c.Open(context.Background(), conn.Topic)
	assert.Equal(t, swaperr.CodeNoWalletSelected, swaperr.CodeOf(err))
}

func TestRequestRoundTrip(t *testing.T) {
	c, conn, wallet, _ := pairedClient(t)

	ch, err := c.Open(context.Background(), conn.Topic)
	require.NoError(t, err)
	defer ch.Close()

	go func() {
		for {
			msg, err := wallet.Receive(context.Background())
			if err != nil {
				return
			}
			if msg.Method == "swap_sign" {
				_ = wallet.Send(Message{ID: msg.ID, Result: json.RawMessage(`{"txHash":"0xabc"}`)})
			}
		}
	}()

	var result json.RawMessage
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		result, err = ch.Request(ctx, "swap_sign", map[string]string{"reference": "r1"})
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.JSONEq(t, `{"txHash":"0xabc"}`, string(result))
}

func TestRequestRejected(t *testing.T) {
	c, conn, wallet, _ := pairedClient(t)

	ch, err := c.Open(context.Background(), conn.Topic)
	require.NoError(t, err)
	defer ch.Close()

	go func() {
		for {
			msg, err := wallet.Receive(context.Background())
			if err != nil {
				return
			}
			if msg.Method != "" {
				_ = wallet.Send(Message{ID: msg.ID, Error: &RPCError{Code: CodeUserRejected, Message: "User rejected"}})
			}
		}
	}()

	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		_, err = ch.Request(ctx, "swap_sign", nil)
		return swaperr.HasCode(err, swaperr.CodeSigningRejected)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProposalTimesOut(t *testing.T) {
	c := NewClient(newTestRelay(t), nil)
	proposal, err := c.Propose(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = proposal.Wait(ctx)
	assert.Equal(t, swaperr.CodeRemotePairingTimeout, swaperr.CodeOf(err))
	assert.False(t, c.Paired(proposal.Topic))
}

func TestProposalCancelled(t *testing.T) {
	c := NewClient(newTestRelay(t), nil)
	proposal, err := c.Propose(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = proposal.Wait(ctx)
	assert.Equal(t, swaperr.CodeSigningRejected, swaperr.CodeOf(err))
}

func TestForeignKeyIsIgnored(t *testing.T) {
	relayURL := newTestRelay(t)
	c := NewClient(relayURL, zaptest.NewLogger(t))
	proposal, err := c.Propose(context.Background())
	require.NoError(t, err)

	wrongKey := make([]byte, 32)
	intruder, err := Dial(context.Background(), relayURL, proposal.Topic, wrongKey, nil)
	require.NoError(t, err)
	defer intruder.Close()

	params, _ := json.Marshal(ApproveParams{WalletID: "x", Chain: types.ChainEVM, Address: "0xEvil"})
	for i := 0; i < 5; i++ {
		_ = intruder.Send(Message{Method: MethodSessionApprove, Params: params})
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = proposal.Wait(ctx)
	assert.Equal(t, swaperr.CodeRemotePairingTimeout, swaperr.CodeOf(err))
}
