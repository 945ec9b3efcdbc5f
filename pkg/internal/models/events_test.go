package models

import (
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	envelope := NewEnvelope(7, AudioChunkPayload{UserID: 7, AudioData: "cGNt"})

	var parsed Envelope
	require.NoError(t, jsoniter.Unmarshal(envelope.Marshal(), &parsed))
	assert.Equal(t, EventAudioChunk, parsed.Event)
	assert.Equal(t, uint(7), parsed.SenderID)

	payload, err := parsed.Decode()
	require.NoError(t, err)
	chunk := payload.(*AudioChunkPayload)
	assert.Equal(t, uint(7), chunk.UserID)
	assert.Equal(t, "cGNt", chunk.AudioData)
}

func TestSignalPayloadOmitsAbsentFields(t *testing.T) {
	envelope := NewEnvelope(1, SignalPayload{
		CallID: "abc",
		Type:   SignalCandidate,
		Candidate: &ICECandidate{
			Candidate: "candidate:0 1 udp 2122260223 10.0.0.5 49152 typ host",
			SDPMid:    lo.ToPtr("0"),
		},
	})

	raw := string(envelope.Payload)
	assert.Contains(t, raw, `"callId":"abc"`)
	assert.Contains(t, raw, `"sdpMid":"0"`)
	assert.NotContains(t, raw, "offer")
	assert.NotContains(t, raw, "answer")
	assert.NotContains(t, raw, "reason")
}

func TestDecodeRejectsUnknownEvent(t *testing.T) {
	envelope := Envelope{Event: "group-renamed", Payload: []byte(`{}`)}

	_, err := envelope.Decode()
	assert.ErrorContains(t, err, "unknown broadcast event")
}

func TestDecodeRejectsMalformedPayload(t *testing.T) {
	envelope := Envelope{Event: EventAudioChunk, Payload: []byte(`{"userId":"not-a-number"}`)}

	_, err := envelope.Decode()
	assert.Error(t, err)
}
