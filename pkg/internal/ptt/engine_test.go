package ptt

import (
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/caretransit/commlink/pkg/internal/models"
	"github.com/caretransit/commlink/pkg/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	mu      sync.Mutex
	opened  bool
	enabled bool
	closed  bool
	openErr error
	chunks  chan []byte
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{chunks: make(chan []byte, 16)}
}

func (d *fakeDevice) Open() error {
	if d.openErr != nil {
		return d.openErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = true
	return nil
}

func (d *fakeDevice) Enable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = true
	return nil
}

func (d *fakeDevice) Disable() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = false
}

func (d *fakeDevice) Chunks() <-chan []byte { return d.chunks }

func (d *fakeDevice) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
}

func (d *fakeDevice) isEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

func (d *fakeDevice) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type fakePlayback struct {
	mu      sync.Mutex
	played  map[uint][][]byte
	stopped map[uint]int
}

func newFakePlayback() *fakePlayback {
	return &fakePlayback{
		played:  make(map[uint][][]byte),
		stopped: make(map[uint]int),
	}
}

func (p *fakePlayback) Play(userId uint, pcm []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.played[userId] = append(p.played[userId], pcm)
}

func (p *fakePlayback) Stop(userId uint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped[userId]++
}

func (p *fakePlayback) playedCount(userId uint) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.played[userId])
}

func participantSpeaking(e *Engine, userId uint) (bool, bool) {
	for _, participant := range e.Participants() {
		if participant.UserID == userId {
			return participant.Speaking, true
		}
	}
	return false, false
}

func newTestEngine(t *testing.T, hub *transport.Hub, channel string, self Identity) (*Engine, *fakeDevice, *fakePlayback) {
	t.Helper()
	device := newFakeDevice()
	playback := newFakePlayback()
	engine, err := NewEngine(hub, channel, self, device, playback)
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return engine, device, playback
}

func TestSelfEventsNeverChangeOwnState(t *testing.T) {
	hub := transport.NewHub()
	alice, _, alicePlayback := newTestEngine(t, hub, "walkie-talkie-1-1", Identity{UserID: 1, Name: "Alice"})
	bob, _, _ := newTestEngine(t, hub, "walkie-talkie-1-1", Identity{UserID: 2, Name: "Bob"})

	require.NoError(t, alice.StartTransmit())

	// Bob observes Alice speaking; Alice's own view never gains an entry for
	// herself even though her broadcasts echo back.
	require.Eventually(t, func() bool {
		speaking, ok := participantSpeaking(bob, 1)
		return ok && speaking
	}, time.Second, 5*time.Millisecond)

	assert.Empty(t, alice.Participants())
	assert.Zero(t, alicePlayback.playedCount(1))
}

func TestSpeakingFlagLifecycle(t *testing.T) {
	hub := transport.NewHub()
	alice, _, _ := newTestEngine(t, hub, "walkie-talkie-1-2", Identity{UserID: 1, Name: "Alice"})
	bob, _, _ := newTestEngine(t, hub, "walkie-talkie-1-2", Identity{UserID: 2, Name: "Bob"})

	require.NoError(t, alice.StartTransmit())
	require.Eventually(t, func() bool {
		speaking, ok := participantSpeaking(bob, 1)
		return ok && speaking
	}, time.Second, 5*time.Millisecond)

	alice.StopTransmit()
	require.Eventually(t, func() bool {
		speaking, ok := participantSpeaking(bob, 1)
		return ok && !speaking
	}, time.Second, 5*time.Millisecond)
}

func TestJoinAndLeaveMaintainParticipants(t *testing.T) {
	hub := transport.NewHub()
	bob, _, _ := newTestEngine(t, hub, "walkie-talkie-1-3", Identity{UserID: 2, Name: "Bob"})

	hub.Broadcast("walkie-talkie-1-3", models.NewEnvelope(1, models.UserJoinedPayload{
		UserID: 1, Name: "Alice", Role: models.RoleDriver,
	}))
	require.Eventually(t, func() bool {
		_, ok := participantSpeaking(bob, 1)
		return ok
	}, time.Second, 5*time.Millisecond)

	speaking, _ := participantSpeaking(bob, 1)
	assert.False(t, speaking)

	// Duplicate joins are de-duplicated by user id.
	hub.Broadcast("walkie-talkie-1-3", models.NewEnvelope(1, models.UserJoinedPayload{UserID: 1, Name: "Alice"}))
	hub.Broadcast("walkie-talkie-1-3", models.NewEnvelope(1, models.UserLeftPayload{UserID: 1}))
	require.Eventually(t, func() bool {
		_, ok := participantSpeaking(bob, 1)
		return !ok
	}, time.Second, 5*time.Millisecond)

	assert.Empty(t, bob.Participants())
}

func findParticipant(e *Engine, userId uint) (Participant, bool) {
	for _, participant := range e.Participants() {
		if participant.UserID == userId {
			return participant, true
		}
	}
	return Participant{}, false
}

func TestAudioStartLearnsParticipantAndJoinBackfillsRole(t *testing.T) {
	hub := transport.NewHub()
	bob, _, _ := newTestEngine(t, hub, "walkie-talkie-1-8", Identity{UserID: 2, Name: "Bob"})

	// Alice was already mid-transmission when we came up, so the first thing we
	// hear from her is audio-start, which carries no role.
	hub.Broadcast("walkie-talkie-1-8", models.NewEnvelope(1, models.AudioStartPayload{UserID: 1, Name: "Alice"}))
	require.Eventually(t, func() bool {
		participant, ok := findParticipant(bob, 1)
		return ok && participant.Speaking
	}, time.Second, 5*time.Millisecond)

	participant, _ := findParticipant(bob, 1)
	assert.Equal(t, "Alice", participant.Name)
	assert.Empty(t, participant.Role)

	// Her next join announcement fills in the role without resetting the
	// speaking flag.
	hub.Broadcast("walkie-talkie-1-8", models.NewEnvelope(1, models.UserJoinedPayload{
		UserID: 1, Name: "Alice", Role: models.RoleDriver,
	}))
	require.Eventually(t, func() bool {
		participant, ok := findParticipant(bob, 1)
		return ok && participant.Role == models.RoleDriver
	}, time.Second, 5*time.Millisecond)

	participant, _ = findParticipant(bob, 1)
	assert.True(t, participant.Speaking)
}

func TestChunksReachRemotePlayback(t *testing.T) {
	hub := transport.NewHub()
	alice, aliceDevice, _ := newTestEngine(t, hub, "walkie-talkie-1-4", Identity{UserID: 1, Name: "Alice"})
	_, _, bobPlayback := newTestEngine(t, hub, "walkie-talkie-1-4", Identity{UserID: 2, Name: "Bob"})

	require.NoError(t, alice.StartTransmit())
	assert.True(t, aliceDevice.isEnabled())

	frame := []byte{1, 2, 3, 4}
	aliceDevice.chunks <- frame

	require.Eventually(t, func() bool {
		return bobPlayback.playedCount(1) == 1
	}, time.Second, 5*time.Millisecond)

	bobPlayback.mu.Lock()
	assert.Equal(t, frame, bobPlayback.played[1][0])
	bobPlayback.mu.Unlock()

	alice.StopTransmit()
	assert.False(t, aliceDevice.isEnabled())
}

func TestMalformedChunkIsDropped(t *testing.T) {
	hub := transport.NewHub()
	bob, _, bobPlayback := newTestEngine(t, hub, "walkie-talkie-1-5", Identity{UserID: 2, Name: "Bob"})

	hub.Broadcast("walkie-talkie-1-5", models.NewEnvelope(1, models.AudioChunkPayload{
		UserID:    1,
		AudioData: "definitely-not-base64!!!",
	}))
	hub.Broadcast("walkie-talkie-1-5", models.NewEnvelope(1, models.AudioChunkPayload{
		UserID:    1,
		AudioData: base64.StdEncoding.EncodeToString([]byte{9, 9}),
	}))

	// The bad chunk is skipped, the session survives, the good one plays.
	require.Eventually(t, func() bool {
		return bobPlayback.playedCount(1) == 1
	}, time.Second, 5*time.Millisecond)

	assert.True(t, bob.Transmitting() == false)
}

func TestPermissionDeniedLeavesEngineReceiveOnly(t *testing.T) {
	hub := transport.NewHub()
	device := newFakeDevice()
	device.openErr = ErrPermissionDenied
	playback := newFakePlayback()

	engine, err := NewEngine(hub, "walkie-talkie-1-6", Identity{UserID: 1, Name: "Alice"}, device, playback)
	require.ErrorIs(t, err, ErrPermissionDenied)
	t.Cleanup(engine.Close)

	assert.ErrorIs(t, engine.StartTransmit(), ErrPermissionDenied)
	assert.False(t, engine.Transmitting())

	// Reception still works while transmission is disabled.
	hub.Broadcast("walkie-talkie-1-6", models.NewEnvelope(2, models.UserJoinedPayload{UserID: 2, Name: "Bob"}))
	require.Eventually(t, func() bool {
		_, ok := participantSpeaking(engine, 2)
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestCloseReleasesEverything(t *testing.T) {
	hub := transport.NewHub()
	device := newFakeDevice()
	playback := newFakePlayback()

	engine, err := NewEngine(hub, "walkie-talkie-1-7", Identity{UserID: 1, Name: "Alice"}, device, playback)
	require.NoError(t, err)
	require.NoError(t, engine.StartTransmit())

	engine.Close()

	assert.True(t, device.isClosed())
	assert.False(t, device.isEnabled())
	assert.False(t, engine.Transmitting())
	assert.Zero(t, hub.CountSubscribers("walkie-talkie-1-7"))

	assert.NotPanics(t, engine.Close)
	assert.ErrorIs(t, engine.StartTransmit(), ErrEngineClosed)
}
