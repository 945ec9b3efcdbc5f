package client

import (
	"sync"

	"github.com/caretransit/commlink/pkg/internal/models"
	"github.com/caretransit/commlink/pkg/internal/transport"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
)

// channelBridge splices one gateway connection into a local in-process hub so
// the session objects run against the same transport contract on both sides
// of the wire. Outbound: envelopes broadcast by the local user are written to
// the socket. Inbound: everyone else's envelopes are re-broadcast locally.
// The server's echo of our own envelopes is dropped on arrival because the
// local hub already echoed them.
type channelBridge struct {
	conn    *websocket.Conn
	hub     *transport.Hub
	channel string
	self    uint
	sub     *transport.Subscription
	once    sync.Once
}

func newChannelBridge(conn *websocket.Conn, channel string, self uint) *channelBridge {
	bridge := &channelBridge{
		conn:    conn,
		hub:     transport.NewHub(),
		channel: channel,
		self:    self,
	}
	bridge.sub = bridge.hub.Open(channel)

	go bridge.writeLoop()
	go bridge.readLoop()

	return bridge
}

func (b *channelBridge) writeLoop() {
	for envelope := range b.sub.C() {
		if envelope.SenderID != b.self {
			continue
		}
		if err := b.conn.WriteMessage(websocket.TextMessage, envelope.Marshal()); err != nil {
			return
		}
	}
}

func (b *channelBridge) readLoop() {
	defer b.Close()
	for {
		_, raw, err := b.conn.ReadMessage()
		if err != nil {
			return
		}

		var envelope models.Envelope
		if err := jsoniter.Unmarshal(raw, &envelope); err != nil {
			log.Warn().Err(err).Str("channel", b.channel).Msg("Dropping malformed gateway frame...")
			continue
		}
		if envelope.SenderID == b.self {
			continue
		}

		b.hub.Broadcast(b.channel, envelope)
	}
}

// Close detaches the local hub and drops the connection. Idempotent; also
// invoked when the server side goes away.
func (b *channelBridge) Close() {
	b.once.Do(func() {
		b.sub.Close()
		_ = b.conn.Close()
	})
}
