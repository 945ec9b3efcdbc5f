package client

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/caretransit/commlink/pkg/internal/models"
	"github.com/caretransit/commlink/pkg/internal/ptt"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatewayStub upgrades one connection, immediately delivers the given
// envelopes and then collects everything the client writes.
type gatewayStub struct {
	upgrader websocket.Upgrader
	deliver  []models.Envelope
	received chan models.Envelope

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newGatewayStub(deliver ...models.Envelope) *gatewayStub {
	return &gatewayStub{deliver: deliver, received: make(chan models.Envelope, 64)}
}

func (s *gatewayStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	for _, envelope := range s.deliver {
		if err := conn.WriteMessage(websocket.TextMessage, envelope.Marshal()); err != nil {
			return
		}
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var envelope models.Envelope
		if err := jsoniter.Unmarshal(raw, &envelope); err != nil {
			continue
		}
		s.received <- envelope
	}
}

func dialStub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func TestBridgeInjectsRemoteAndForwardsLocal(t *testing.T) {
	remote := models.NewEnvelope(9, models.UserJoinedPayload{UserID: 9, Name: "Remote"})
	stub := newGatewayStub(remote)
	srv := httptest.NewServer(stub)
	defer srv.Close()

	bridge := newChannelBridge(dialStub(t, srv), "walkie-talkie-1-1", 1)
	defer bridge.Close()

	local := bridge.hub.Open("walkie-talkie-1-1")
	defer local.Close()

	// The remote envelope surfaces on the local hub unchanged.
	envelope := <-local.C()
	assert.Equal(t, models.EventUserJoined, envelope.Event)
	assert.Equal(t, uint(9), envelope.SenderID)

	// A broadcast by the local user goes out on the wire.
	bridge.hub.Broadcast("walkie-talkie-1-1", models.NewEnvelope(1, models.AudioStartPayload{UserID: 1, Name: "Me"}))
	sent := <-stub.received
	assert.Equal(t, models.EventAudioStart, sent.Event)
	assert.Equal(t, uint(1), sent.SenderID)

	// Re-broadcast remote envelopes are never forwarded back out.
	select {
	case extra := <-stub.received:
		t.Fatalf("unexpected outbound envelope: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBridgeDropsServerEchoOfOwnEnvelopes(t *testing.T) {
	echo := models.NewEnvelope(1, models.AudioStopPayload{UserID: 1})
	other := models.NewEnvelope(2, models.AudioStopPayload{UserID: 2})
	stub := newGatewayStub(echo, other)
	srv := httptest.NewServer(stub)
	defer srv.Close()

	bridge := newChannelBridge(dialStub(t, srv), "walkie-talkie-1-2", 1)
	defer bridge.Close()

	local := bridge.hub.Open("walkie-talkie-1-2")
	defer local.Close()

	// Only the other user's envelope arrives; the echo of our own was
	// already delivered by the local hub at broadcast time.
	envelope := <-local.C()
	assert.Equal(t, uint(2), envelope.SenderID)

	select {
	case extra := <-local.C():
		t.Fatalf("server echo leaked through: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEngineRunsOverBridge(t *testing.T) {
	speaking := models.NewEnvelope(7, models.AudioStartPayload{UserID: 7, Name: "Dara"})
	stub := newGatewayStub(speaking)
	srv := httptest.NewServer(stub)
	defer srv.Close()

	bridge := newChannelBridge(dialStub(t, srv), "walkie-talkie-1-3", 1)

	device := ptt.NullDevice{}
	engine, err := ptt.NewEngine(bridge.hub, "walkie-talkie-1-3", ptt.Identity{UserID: 1, Name: "Me"}, device, ptt.DiscardPlayback{})
	require.NoError(t, err)
	session := &GroupSession{Engine: engine, bridge: bridge}
	defer session.Close()

	require.Eventually(t, func() bool {
		for _, participant := range session.Participants() {
			if participant.UserID == 7 && participant.Speaking {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}
