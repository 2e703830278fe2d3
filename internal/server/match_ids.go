package server

import (
	"errors"
	"math/rand"
	"strings"
)

// GenerateMatchID returns a short uppercase token not present in usedIDs.
// Six letters keeps collisions rare while staying easy to read out loud.
func GenerateMatchID(usedIDs map[string]bool) string {
	for {
		id := make([]byte, 6)
		for i := range id {
			id[i] = 'A' + byte(rand.Intn(26))
		}
		matchID := string(id)

		if !usedIDs[matchID] {
			return matchID
		}
	}
}

func ValidateMatchID(id string) error {
	if len(id) != 6 {
		return errors.New("Match ID must be exactly 6 characters")
	}

	id = strings.ToUpper(id)
	for _, ch := range id {
		if ch < 'A' || ch > 'Z' {
			return errors.New("Match ID must contain only letters A-Z")
		}
	}

	return nil
}

func NormalizeMatchID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
