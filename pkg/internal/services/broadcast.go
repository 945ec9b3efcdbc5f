package services

import (
	"github.com/caretransit/commlink/pkg/internal/transport"
)

// Nh is the node-wide channel hub. Sessions own their subscriptions; the hub
// itself carries no per-session state.
var Nh = transport.NewHub()

const (
	TableCallRecords   = "call_records"
	TableVoiceMessages = "voice_messages"
)
