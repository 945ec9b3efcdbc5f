package signaling

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/caretransit/commlink/pkg/internal/models"
	"github.com/caretransit/commlink/pkg/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePeerConnection struct {
	mu         sync.Mutex
	local      *models.SessionDescription
	remote     *models.SessionDescription
	candidates []models.ICECandidate
	offerErr   error
	closed     bool
}

func (p *fakePeerConnection) CreateOffer() (models.SessionDescription, error) {
	if p.offerErr != nil {
		return models.SessionDescription{}, p.offerErr
	}
	return models.SessionDescription{Type: "offer", SDP: "v=0 caller"}, nil
}

func (p *fakePeerConnection) CreateAnswer() (models.SessionDescription, error) {
	return models.SessionDescription{Type: "answer", SDP: "v=0 callee"}, nil
}

func (p *fakePeerConnection) SetLocalDescription(sd models.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = &sd
	return nil
}

func (p *fakePeerConnection) SetRemoteDescription(sd models.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = &sd
	return nil
}

func (p *fakePeerConnection) AddCandidate(candidate models.ICECandidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, candidate)
	return nil
}

func (p *fakePeerConnection) ReplaceVideoTrack(string) error { return nil }

func (p *fakePeerConnection) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakePeerConnection) remoteSDP() *models.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

func (p *fakePeerConnection) appliedCandidates() []models.ICECandidate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.ICECandidate(nil), p.candidates...)
}

func (p *fakePeerConnection) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeMedia struct {
	mu     sync.Mutex
	audio  bool
	video  bool
	closed bool
}

func (m *fakeMedia) SetAudioEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audio = enabled
}

func (m *fakeMedia) SetVideoEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.video = enabled
}

func (m *fakeMedia) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *fakeMedia) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type fakeRecorder struct {
	mu       sync.Mutex
	answered []string
	ended    map[string][]string
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{ended: make(map[string][]string)}
}

func (r *fakeRecorder) MarkAnswered(callId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answered = append(r.answered, callId)
}

func (r *fakeRecorder) MarkEnded(callId string, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended[callId] = append(r.ended[callId], reason)
}

func (r *fakeRecorder) endedReasons(callId string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ended[callId]...)
}

func captureSignal(t *testing.T, sub *transport.Subscription, want models.SignalType) models.SignalPayload {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case envelope := <-sub.C():
			payload, err := envelope.Decode()
			require.NoError(t, err)
			if signal, ok := payload.(*models.SignalPayload); ok && signal.Type == want {
				return *signal
			}
		case <-deadline:
			t.Fatalf("no %s signal arrived in time", want)
		}
	}
}

func TestOfferAnswerHandshake(t *testing.T) {
	hub := transport.NewHub()
	recorder := newFakeRecorder()

	// A spectator subscription plays the wire so the test can hand the offer
	// to the callee the way the gateway would.
	wire := hub.Open("video-call-abc")
	defer wire.Close()

	callerPC := &fakePeerConnection{}
	caller, err := StartCall(hub, "abc", 1, callerPC, &fakeMedia{}, recorder, nil)
	require.NoError(t, err)
	defer caller.End("")

	offer := captureSignal(t, wire, models.SignalOffer)
	require.NotNil(t, offer.Offer)

	calleePC := &fakePeerConnection{}
	callee, err := AnswerCall(hub, "abc", 2, calleePC, &fakeMedia{}, recorder, *offer.Offer, nil)
	require.NoError(t, err)
	defer callee.End("")

	require.Eventually(t, func() bool {
		remote := callerPC.remoteSDP()
		return remote != nil && remote.Type == "answer"
	}, time.Second, 5*time.Millisecond)

	caller.HandleConnectionState(ConnectionConnected)
	assert.Equal(t, StateActive, caller.State())

	recorder.mu.Lock()
	assert.Contains(t, recorder.answered, "abc")
	recorder.mu.Unlock()
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	hub := transport.NewHub()

	callerPC := &fakePeerConnection{}
	caller, err := StartCall(hub, "buf", 1, callerPC, &fakeMedia{}, nil, nil)
	require.NoError(t, err)
	defer caller.End("")

	// Candidates routinely race ahead of the answer; none may be lost.
	early := []models.ICECandidate{
		{Candidate: "candidate:1"},
		{Candidate: "candidate:2"},
		{Candidate: "candidate:3"},
	}
	for _, candidate := range early {
		hub.Broadcast("video-call-buf", models.NewEnvelope(2, models.SignalPayload{
			CallID:    "buf",
			Type:      models.SignalCandidate,
			Candidate: &candidate,
		}))
	}

	assert.Never(t, func() bool {
		return len(callerPC.appliedCandidates()) > 0
	}, 100*time.Millisecond, 5*time.Millisecond)

	hub.Broadcast("video-call-buf", models.NewEnvelope(2, models.SignalPayload{
		CallID: "buf",
		Type:   models.SignalAnswer,
		Answer: &models.SessionDescription{Type: "answer", SDP: "v=0 callee"},
	}))

	require.Eventually(t, func() bool {
		return len(callerPC.appliedCandidates()) == len(early)
	}, time.Second, 5*time.Millisecond)

	applied := callerPC.appliedCandidates()
	for i, candidate := range early {
		assert.Equal(t, candidate.Candidate, applied[i].Candidate)
	}

	// A late candidate goes straight through, and the buffer is not replayed.
	hub.Broadcast("video-call-buf", models.NewEnvelope(2, models.SignalPayload{
		CallID:    "buf",
		Type:      models.SignalCandidate,
		Candidate: &models.ICECandidate{Candidate: "candidate:4"},
	}))

	require.Eventually(t, func() bool {
		return len(callerPC.appliedCandidates()) == len(early)+1
	}, time.Second, 5*time.Millisecond)
}

func TestDeclineEstablishesNoMedia(t *testing.T) {
	hub := transport.NewHub()
	recorder := newFakeRecorder()

	callerPC := &fakePeerConnection{}
	callerMedia := &fakeMedia{}
	caller, err := StartCall(hub, "dec", 1, callerPC, callerMedia, recorder, nil)
	require.NoError(t, err)

	// The callee declines without ever creating a peer connection.
	Decline(hub, "dec", 2, recorder)

	require.Eventually(t, func() bool {
		return caller.State() == StateEnded
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, models.CallEndReasonDeclined, caller.EndReason())
	assert.True(t, callerPC.isClosed())
	assert.True(t, callerMedia.isClosed())
	assert.Contains(t, recorder.endedReasons("dec"), models.CallEndReasonDeclined)
}

func TestDisconnectionEndsCallAndReleasesMedia(t *testing.T) {
	hub := transport.NewHub()
	recorder := newFakeRecorder()

	callerPC := &fakePeerConnection{}
	callerMedia := &fakeMedia{}
	caller, err := StartCall(hub, "net", 1, callerPC, callerMedia, recorder, nil)
	require.NoError(t, err)

	caller.HandleConnectionState(ConnectionConnected)
	require.Equal(t, StateActive, caller.State())

	caller.HandleConnectionState(ConnectionDisconnected)

	assert.Equal(t, StateEnded, caller.State())
	assert.Equal(t, models.CallEndReasonConnection, caller.EndReason())
	assert.True(t, callerPC.isClosed())
	assert.True(t, callerMedia.isClosed())
	assert.Zero(t, hub.CountSubscribers("video-call-net"))
}

func TestEndIsTerminalAndIdempotent(t *testing.T) {
	hub := transport.NewHub()
	recorder := newFakeRecorder()

	caller, err := StartCall(hub, "fin", 1, &fakePeerConnection{}, &fakeMedia{}, recorder, nil)
	require.NoError(t, err)

	caller.End(models.CallEndReasonHangup)
	caller.End(models.CallEndReasonConnection)
	caller.HandleConnectionState(ConnectionConnected)

	assert.Equal(t, StateEnded, caller.State())
	assert.Equal(t, models.CallEndReasonHangup, caller.EndReason())
	assert.Equal(t, []string{models.CallEndReasonHangup}, recorder.endedReasons("fin"))

	recorder.mu.Lock()
	assert.Empty(t, recorder.answered)
	recorder.mu.Unlock()
}

func TestFailedOfferIsFatalToTheAttempt(t *testing.T) {
	hub := transport.NewHub()
	recorder := newFakeRecorder()

	pc := &fakePeerConnection{offerErr: errors.New("media stack rejected constraints")}
	media := &fakeMedia{}
	_, err := StartCall(hub, "bad", 1, pc, media, recorder, nil)

	require.Error(t, err)
	assert.True(t, pc.isClosed())
	assert.True(t, media.isClosed())
	assert.Equal(t, []string{models.CallEndReasonConnection}, recorder.endedReasons("bad"))
	assert.Zero(t, hub.CountSubscribers("video-call-bad"))
}
