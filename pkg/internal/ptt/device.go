package ptt

import "errors"

// FrameSize is how many PCM samples a capture device should emit per chunk.
const FrameSize = 4096

// Capture device failures are surfaced to the user verbatim and never retried
// automatically; the engine stays idle until the user re-triggers the
// permission prompt.
var (
	ErrNoDevice         = errors.New("no audio capture device found")
	ErrPermissionDenied = errors.New("audio capture permission denied")
	ErrEngineClosed     = errors.New("push-to-talk session is closed")
)

// CaptureDevice is the local microphone. It is acquired once per session and
// kept alive across transmit cycles so re-transmission never re-prompts for
// permission; Enable and Disable only flip the track's muted state.
type CaptureDevice interface {
	Open() error
	Enable() error
	Disable()
	// Chunks emits fixed-size raw PCM frames while the device is enabled.
	Chunks() <-chan []byte
	Close()
}

// Playback is the local output device. Play is fire-and-forget: chunks are
// handed over as they arrive with no jitter buffer, which is what keeps this
// a radio net instead of a conference call.
type Playback interface {
	Play(userId uint, pcm []byte)
	Stop(userId uint)
}

// NullDevice is the capture device of listen-only sessions, such as the
// per-group rosters the service keeps for member listings. Enabling it fails
// so such a session can never transmit.
type NullDevice struct{}

func (NullDevice) Open() error { return nil }

func (NullDevice) Enable() error { return ErrNoDevice }

func (NullDevice) Disable() {}

func (NullDevice) Chunks() <-chan []byte { return nil }

func (NullDevice) Close() {}

// DiscardPlayback drops received audio. Listen-only sessions track speaking
// flags, they do not play sound.
type DiscardPlayback struct{}

func (DiscardPlayback) Play(uint, []byte) {}

func (DiscardPlayback) Stop(uint) {}
