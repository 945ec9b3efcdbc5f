// Package ptt implements the half-duplex push-to-talk engine: a per-session
// state machine that broadcasts the local microphone as base64 PCM chunks and
// plays back everyone else's, with presence flags but deliberately no floor
// arbitration. Simultaneous transmitters are all broadcast and all played.
package ptt

import (
	"encoding/base64"
	"sync"
	"time"

	"github.com/caretransit/commlink/pkg/internal/models"
	"github.com/caretransit/commlink/pkg/internal/transport"
	"github.com/rs/zerolog/log"
)

type Identity struct {
	UserID uint
	Name   string
	Role   models.AccountRole
}

// Participant is the ephemeral per-session view of one other member,
// reconstructed from broadcast events and discarded with the session.
type Participant struct {
	UserID   uint               `json:"user_id"`
	Name     string             `json:"name"`
	Role     models.AccountRole `json:"role"`
	Speaking bool               `json:"speaking"`
}

// Engine owns one group channel session. All of its state lives on the
// struct; concurrent sessions for different groups are fully isolated.
type Engine struct {
	hub      *transport.Hub
	channel  string
	self     Identity
	device   CaptureDevice
	playback Playback

	mu           sync.Mutex
	participants map[uint]*Participant
	transmitting bool
	startedAt    time.Time
	stopTx       chan struct{}
	deviceErr    error
	closed       bool

	sub      *transport.Subscription
	recvDone chan struct{}
}

// NewEngine opens the group channel and acquires the capture device. When the
// device cannot be acquired the engine still comes up in a receive-only state
// and the typed error is returned for the UI to surface; transmission stays
// disabled until the session is rebuilt.
func NewEngine(hub *transport.Hub, channel string, self Identity, device CaptureDevice, playback Playback) (*Engine, error) {
	engine := &Engine{
		hub:          hub,
		channel:      channel,
		self:         self,
		device:       device,
		playback:     playback,
		participants: make(map[uint]*Participant),
		sub:          hub.Open(channel),
		recvDone:     make(chan struct{}),
	}

	go engine.receiveLoop()

	if err := device.Open(); err != nil {
		engine.deviceErr = err
		return engine, err
	}

	return engine, nil
}

func (e *Engine) Transmitting() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transmitting
}

func (e *Engine) TransmitStartedAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startedAt
}

// Participants snapshots the current view-model list.
func (e *Engine) Participants() []Participant {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Participant, 0, len(e.participants))
	for _, participant := range e.participants {
		out = append(out, *participant)
	}
	return out
}

// StartTransmit is the Idle -> Transmitting edge: unmute the track, announce
// audio-start, start the chunk loop. A repeat call while already transmitting
// is a no-op.
func (e *Engine) StartTransmit() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	if e.deviceErr != nil {
		err := e.deviceErr
		e.mu.Unlock()
		return err
	}
	if e.transmitting {
		e.mu.Unlock()
		return nil
	}
	if err := e.device.Enable(); err != nil {
		e.mu.Unlock()
		return err
	}
	e.transmitting = true
	e.startedAt = time.Now()
	stop := make(chan struct{})
	e.stopTx = stop
	e.mu.Unlock()

	e.hub.Broadcast(e.channel, models.NewEnvelope(e.self.UserID, models.AudioStartPayload{
		UserID: e.self.UserID,
		Name:   e.self.Name,
	}))

	go e.transmitLoop(stop)

	return nil
}

// StopTransmit is the Transmitting -> Idle edge: mute the track without
// releasing it, then announce audio-stop.
func (e *Engine) StopTransmit() {
	e.mu.Lock()
	if !e.transmitting {
		e.mu.Unlock()
		return
	}
	e.transmitting = false
	close(e.stopTx)
	e.device.Disable()
	e.mu.Unlock()

	e.hub.Broadcast(e.channel, models.NewEnvelope(e.self.UserID, models.AudioStopPayload{
		UserID: e.self.UserID,
	}))
}

func (e *Engine) transmitLoop(stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case frame, ok := <-e.device.Chunks():
			if !ok {
				return
			}
			e.hub.Broadcast(e.channel, models.NewEnvelope(e.self.UserID, models.AudioChunkPayload{
				UserID:    e.self.UserID,
				AudioData: base64.StdEncoding.EncodeToString(frame),
			}))
		}
	}
}

func (e *Engine) receiveLoop() {
	defer close(e.recvDone)
	for envelope := range e.sub.C() {
		e.handle(envelope)
	}
}

func (e *Engine) handle(envelope models.Envelope) {
	// Own broadcasts echo back for delivery confirmation only; acting on them
	// would loop our audio and flip our own flags.
	if envelope.SenderID == e.self.UserID {
		return
	}

	payload, err := envelope.Decode()
	if err != nil {
		log.Warn().Err(err).Str("channel", e.channel).Msg("Dropping malformed broadcast event...")
		return
	}

	switch p := payload.(type) {
	case *models.UserJoinedPayload:
		e.mu.Lock()
		participant, ok := e.participants[p.UserID]
		if !ok {
			participant = &Participant{UserID: p.UserID}
			e.participants[p.UserID] = participant
		}
		participant.Name = p.Name
		participant.Role = p.Role
		e.mu.Unlock()
	case *models.UserLeftPayload:
		e.mu.Lock()
		delete(e.participants, p.UserID)
		e.mu.Unlock()
		e.playback.Stop(p.UserID)
	case *models.AudioStartPayload:
		e.mu.Lock()
		participant, ok := e.participants[p.UserID]
		if !ok {
			// Transmitter joined before we did; learn them from the event.
			// The wire carries only id and name here, so the role stays empty
			// until their next user-joined announcement.
			participant = &Participant{UserID: p.UserID, Name: p.Name}
			e.participants[p.UserID] = participant
		}
		participant.Speaking = true
		e.mu.Unlock()
	case *models.AudioStopPayload:
		e.mu.Lock()
		if participant, ok := e.participants[p.UserID]; ok {
			participant.Speaking = false
		}
		e.mu.Unlock()
		e.playback.Stop(p.UserID)
	case *models.AudioChunkPayload:
		pcm, err := base64.StdEncoding.DecodeString(p.AudioData)
		if err != nil {
			log.Warn().Err(err).Uint("user", p.UserID).Msg("Dropping undecodable audio chunk...")
			return
		}
		e.playback.Play(p.UserID, pcm)
	case *models.SignalPayload:
		// Signaling rides per-call channels, never a group channel.
	}
}

// Close tears the session down deterministically: stop transmitting, release
// the device, close the subscription. Safe to call from any exit path, any
// number of times; no open microphone survives it.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	wasTransmitting := e.transmitting
	if e.transmitting {
		e.transmitting = false
		close(e.stopTx)
		e.device.Disable()
	}
	deviceOpen := e.deviceErr == nil
	e.mu.Unlock()

	if wasTransmitting {
		e.hub.Broadcast(e.channel, models.NewEnvelope(e.self.UserID, models.AudioStopPayload{
			UserID: e.self.UserID,
		}))
	}

	if deviceOpen {
		e.device.Close()
	}

	e.sub.Close()
	<-e.recvDone
}
