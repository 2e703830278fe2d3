package server

import (
	"tictactoe-server/internal/tictactoe"
)

// MatchRegistry owns every live match and derives the joinable subset on
// demand. It is not safe for concurrent use on its own: all access is
// serialized through the session coordinator's lock, which is what makes
// the check-then-act in JoinMatch atomic.
type MatchRegistry struct {
	matches map[string]*tictactoe.Match
	order   []string // creation order, drives ListAvailable
	usedIDs map[string]bool
}

func NewMatchRegistry() *MatchRegistry {
	return &MatchRegistry{
		matches: make(map[string]*tictactoe.Match),
		usedIDs: make(map[string]bool),
	}
}

// CreateMatch allocates a fresh match ID and stores a new waiting match
// with the creator as player X.
func (mr *MatchRegistry) CreateMatch(creatorID, creatorName string) *tictactoe.Match {
	id := GenerateMatchID(mr.usedIDs)
	mr.usedIDs[id] = true

	match := tictactoe.NewMatch(id, creatorID, creatorName)
	mr.matches[id] = match
	mr.order = append(mr.order, id)
	return match
}

// JoinMatch validates and performs the second-player join. The caller holds
// the coordinator lock, so the availability check and the player assignment
// are one atomic step: two concurrent joins can never both succeed.
func (mr *MatchRegistry) JoinMatch(id, joinerID, joinerName string) (*tictactoe.Match, *apiError) {
	if err := ValidateMatchID(id); err != nil {
		return nil, protocolError("INVALID_MATCH_ID", err.Error())
	}
	match, exists := mr.matches[id]
	if !exists {
		return nil, stateError("NOT_FOUND", "Match not found")
	}
	if match.PlayerX.ClientID == joinerID {
		return nil, stateError("SELF_JOIN", "You cannot join your own match")
	}
	if err := match.Join(joinerID, joinerName); err != nil {
		return nil, fromMatchError(err)
	}
	return match, nil
}

// Get looks up a match by ID.
func (mr *MatchRegistry) Get(id string) (*tictactoe.Match, bool) {
	match, exists := mr.matches[id]
	return match, exists
}

// Remove deletes a match. Used when a match finishes or a participant
// disconnects; the ID stays in usedIDs so it is never reissued.
func (mr *MatchRegistry) Remove(id string) {
	if _, exists := mr.matches[id]; !exists {
		return
	}
	delete(mr.matches, id)
	for i, oid := range mr.order {
		if oid == id {
			mr.order = append(mr.order[:i], mr.order[i+1:]...)
			break
		}
	}
}

// ListAvailable snapshots the joinable matches in creation order. A match
// leaves this list the instant it becomes active and is never re-listed.
func (mr *MatchRegistry) ListAvailable() []AvailableMatch {
	available := make([]AvailableMatch, 0, len(mr.order))
	for _, id := range mr.order {
		match := mr.matches[id]
		if match == nil || match.Status != tictactoe.StatusWaiting {
			continue
		}
		available = append(available, AvailableMatch{
			MatchID:     match.ID,
			CreatorName: match.PlayerX.Name,
		})
	}
	return available
}

// Count reports live matches of any status.
func (mr *MatchRegistry) Count() int {
	return len(mr.matches)
}

// Clear drops all matches. Part of shutdown teardown.
func (mr *MatchRegistry) Clear() {
	mr.matches = make(map[string]*tictactoe.Match)
	mr.order = nil
	mr.usedIDs = make(map[string]bool)
}
