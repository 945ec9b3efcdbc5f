package services

import (
	"sync"

	"github.com/caretransit/commlink/pkg/internal/models"
	"github.com/caretransit/commlink/pkg/internal/ptt"
)

type groupRoster struct {
	engine *ptt.Engine
	refs   int
}

var rosters = make(map[uint]*groupRoster)
var rosterLock sync.Mutex

// AcquireGroupRoster keeps one listen-only engine per group on this node
// while at least one gateway session is attached to it. The roster observes
// the group channel the same way a client would, so member listings can
// report live speaking flags without joining the channel themselves.
func AcquireGroupRoster(group models.Group) {
	rosterLock.Lock()
	defer rosterLock.Unlock()

	if roster, ok := rosters[group.ID]; ok {
		roster.refs++
		return
	}

	engine, _ := ptt.NewEngine(Nh, group.ChannelID(), ptt.Identity{}, ptt.NullDevice{}, ptt.DiscardPlayback{})
	rosters[group.ID] = &groupRoster{engine: engine, refs: 1}
}

// ReleaseGroupRoster drops one reference; the engine is torn down with the
// last session so idle groups carry no subscription.
func ReleaseGroupRoster(group models.Group) {
	rosterLock.Lock()
	defer rosterLock.Unlock()

	roster, ok := rosters[group.ID]
	if !ok {
		return
	}
	roster.refs--
	if roster.refs > 0 {
		return
	}

	delete(rosters, group.ID)
	roster.engine.Close()
}

// CheckUserSpeaking reports whether the user is currently transmitting on the
// group channel, as observed by this node's roster.
func CheckUserSpeaking(userId uint, groupId uint) bool {
	rosterLock.Lock()
	roster, ok := rosters[groupId]
	rosterLock.Unlock()
	if !ok {
		return false
	}

	for _, participant := range roster.engine.Participants() {
		if participant.UserID == userId {
			return participant.Speaking
		}
	}
	return false
}
