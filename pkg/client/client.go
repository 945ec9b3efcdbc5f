// Package client is the companion library the driver and dispatcher apps
// embed: it dials the service's REST and gateway surfaces and hands back live
// session objects, the push-to-talk engine for a group channel and the
// signaling session for a call, already bound to the wire.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/caretransit/commlink/pkg/internal/models"
	"github.com/caretransit/commlink/pkg/internal/ptt"
	"github.com/caretransit/commlink/pkg/internal/signaling"
	"github.com/caretransit/commlink/pkg/internal/transport"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
)

// Re-exported surface so embedding apps never name internal import paths.
type (
	Account       = models.Account
	Group         = models.Group
	GroupMember   = models.GroupMember
	CallRecord    = models.CallRecord
	VoiceMessage  = models.VoiceMessage
	Envelope      = models.Envelope
	Identity      = ptt.Identity
	Participant   = ptt.Participant
	CaptureDevice = ptt.CaptureDevice
	Playback      = ptt.Playback
	Engine        = ptt.Engine

	PeerConnection  = signaling.PeerConnection
	MediaStream     = signaling.MediaStream
	Session         = signaling.Session
	State           = signaling.State
	ConnectionState = signaling.ConnectionState
)

type Client struct {
	baseURL string
	token   string
	me      models.Account
	http    *http.Client
}

// New resolves the token into an account and returns a ready client.
func New(baseURL string, token string) (*Client, error) {
	client := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}

	if err := client.get("/api/users/me", &client.me); err != nil {
		return nil, fmt.Errorf("unable to resolve account: %v", err)
	}

	return client, nil
}

func (c *Client) Me() Account {
	return c.me
}

// GroupSession couples a push-to-talk engine with the gateway connection
// feeding it. Closing it releases both.
type GroupSession struct {
	*ptt.Engine
	bridge *channelBridge
}

func (s *GroupSession) Close() {
	s.Engine.Close()
	s.bridge.Close()
}

// JoinGroup attaches to the group's channel and brings up the push-to-talk
// engine over it. A device acquisition failure is returned alongside a
// receive-only session, matching the engine's own degraded mode.
func (c *Client) JoinGroup(groupId uint, device CaptureDevice, playback Playback) (*GroupSession, error) {
	var identity struct {
		Group  models.Group       `json:"group"`
		Member models.GroupMember `json:"member"`
	}
	if err := c.get(fmt.Sprintf("/api/groups/%d", groupId), &identity); err != nil {
		return nil, err
	}

	conn, err := c.dialGateway(url.Values{"group": []string{strconv.FormatUint(uint64(groupId), 10)}})
	if err != nil {
		return nil, err
	}

	bridge := newChannelBridge(conn, identity.Group.ChannelID(), c.me.ID)
	engine, err := ptt.NewEngine(bridge.hub, identity.Group.ChannelID(), ptt.Identity{
		UserID: c.me.ID,
		Name:   c.me.DisplayName(),
		Role:   c.me.Role,
	}, device, playback)

	return &GroupSession{Engine: engine, bridge: bridge}, err
}

// CallSession couples a signaling session with the gateway connection feeding
// it.
type CallSession struct {
	*signaling.Session
	bridge *channelBridge
}

func (s *CallSession) Close(reason string) {
	s.Session.End(reason)
	s.bridge.Close()
}

// PlaceCall creates the call record, attaches to its signaling channel and
// runs the caller leg: the offer goes out immediately, the answer and remote
// candidates arrive through the bridge.
func (c *Client) PlaceCall(calleeId uint, pc PeerConnection, media MediaStream, onState func(State)) (*CallSession, error) {
	var created struct {
		Call    models.CallRecord `json:"call"`
		Channel string            `json:"channel"`
	}
	if err := c.post("/api/calls", map[string]any{"callee_id": calleeId}, &created); err != nil {
		return nil, err
	}

	conn, err := c.dialGateway(url.Values{"call": []string{created.Call.CallID}})
	if err != nil {
		return nil, err
	}

	bridge := newChannelBridge(conn, created.Call.ChannelID(), c.me.ID)
	session, err := signaling.StartCall(bridge.hub, created.Call.CallID, c.me.ID, pc, media, restRecorder{client: c}, onState)
	if err != nil {
		bridge.Close()
		return nil, err
	}

	return &CallSession{Session: session, bridge: bridge}, nil
}

// AcceptCall attaches to a ringing call's channel, waits for the caller's
// offer, lands the answered status and runs the callee leg. The context
// bounds the wait for an offer that may never come.
func (c *Client) AcceptCall(ctx context.Context, callId string, pc PeerConnection, media MediaStream, onState func(State)) (*CallSession, error) {
	channel := models.CallRecord{CallID: callId}.ChannelID()

	conn, err := c.dialGateway(url.Values{"call": []string{callId}})
	if err != nil {
		return nil, err
	}
	bridge := newChannelBridge(conn, channel, c.me.ID)

	offer, err := awaitOffer(ctx, bridge.hub, channel, callId)
	if err != nil {
		bridge.Close()
		return nil, err
	}

	if err := c.post(fmt.Sprintf("/api/calls/%s/answer", callId), nil, nil); err != nil {
		bridge.Close()
		return nil, err
	}

	session, err := signaling.AnswerCall(bridge.hub, callId, c.me.ID, pc, media, restRecorder{client: c, answerer: true}, *offer, onState)
	if err != nil {
		bridge.Close()
		return nil, err
	}

	return &CallSession{Session: session, bridge: bridge}, nil
}

// DeclineCall rejects a ringing call; no media and no session are created on
// this side.
func (c *Client) DeclineCall(callId string) error {
	return c.post(fmt.Sprintf("/api/calls/%s/decline", callId), nil, nil)
}

func awaitOffer(ctx context.Context, hub *transport.Hub, channel string, callId string) (*models.SessionDescription, error) {
	sub := hub.Open(channel)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case envelope, ok := <-sub.C():
			if !ok {
				return nil, fmt.Errorf("call channel closed before the offer arrived")
			}
			payload, err := envelope.Decode()
			if err != nil {
				continue
			}
			signal, ok := payload.(*models.SignalPayload)
			if ok && signal.CallID == callId && signal.Type == models.SignalOffer && signal.Offer != nil {
				return signal.Offer, nil
			}
		}
	}
}

// restRecorder lands the session's lifecycle transitions through the REST
// surface so the server's audit row follows the live call. Only the callee
// leg records the answer; the caller's record flips when the callee does.
type restRecorder struct {
	client   *Client
	answerer bool
}

func (r restRecorder) MarkAnswered(callId string) {
	if !r.answerer {
		return
	}
	if err := r.client.post(fmt.Sprintf("/api/calls/%s/answer", callId), nil, nil); err != nil {
		log.Warn().Err(err).Str("call", callId).Msg("An error occurred when recording call answer...")
	}
}

func (r restRecorder) MarkEnded(callId string, reason string) {
	if err := r.client.post(fmt.Sprintf("/api/calls/%s/end", callId), map[string]any{"reason": reason}, nil); err != nil {
		log.Warn().Err(err).Str("call", callId).Msg("An error occurred when recording call end...")
	}
}

func (c *Client) dialGateway(query url.Values) (*websocket.Conn, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/api/gateway"
	query.Set("tk", c.token)
	u.RawQuery = query.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	return conn, err
}

func (c *Client) get(path string, out any) error {
	return c.do(http.MethodGet, path, nil, out)
}

func (c *Client) post(path string, body any, out any) error {
	return c.do(http.MethodPost, path, body, out)
}

func (c *Client) do(method string, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, _ := jsoniter.Marshal(body)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return jsoniter.Unmarshal(raw, out)
}
