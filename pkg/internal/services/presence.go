package services

import "sync"

// GroupID -> UserID -> Session ID
//
// The persisted membership row is the source of truth for history; this map
// is the source of truth for "who do I currently hear from" on this node.
var presenceInfo = make(map[uint]map[uint]string)
var presenceLock sync.Mutex

func CheckUserActive(userId uint, groupId uint) bool {
	presenceLock.Lock()
	defer presenceLock.Unlock()
	if _, ok := presenceInfo[groupId]; ok {
		if _, ok := presenceInfo[groupId][userId]; ok {
			return true
		}
	}
	return false
}

func ListActiveUser(groupId uint) []uint {
	presenceLock.Lock()
	defer presenceLock.Unlock()
	var out []uint
	for userId := range presenceInfo[groupId] {
		out = append(out, userId)
	}
	return out
}

func TrackActiveUser(userId uint, groupId uint, sessionId string) {
	presenceLock.Lock()
	defer presenceLock.Unlock()
	if _, ok := presenceInfo[groupId]; !ok {
		presenceInfo[groupId] = make(map[uint]string)
	}
	presenceInfo[groupId][userId] = sessionId
}

func UntrackActiveUser(userId uint, groupId uint) {
	presenceLock.Lock()
	defer presenceLock.Unlock()
	if _, ok := presenceInfo[groupId]; ok {
		delete(presenceInfo[groupId], userId)
		if len(presenceInfo[groupId]) == 0 {
			delete(presenceInfo, groupId)
		}
	}
}

func UntrackActiveUserAll(userId uint) {
	presenceLock.Lock()
	defer presenceLock.Unlock()
	for groupId, v := range presenceInfo {
		delete(v, userId)
		if len(v) == 0 {
			delete(presenceInfo, groupId)
		}
	}
}

func UntrackSession(sessionId string) {
	presenceLock.Lock()
	defer presenceLock.Unlock()
	for groupId, v := range presenceInfo {
		for userId, item := range v {
			if item == sessionId {
				delete(v, userId)
			}
		}
		if len(v) == 0 {
			delete(presenceInfo, groupId)
		}
	}
}
