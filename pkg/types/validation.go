package types

import (
	"regexp"
)

// userIDPattern accepts the identifiers issued by the token verifier:
// 1-64 characters, alphanumeric plus underscore and hyphen.
var userIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// joinCodePattern matches generated join codes: 4-10 characters drawn
// from the unambiguous uppercase alphabet.
var joinCodePattern = regexp.MustCompile(`^[A-Z0-9]{4,10}$`)

// IsValidUserID validates a user identifier.
func IsValidUserID(userID string) bool {
	return userIDPattern.MatchString(userID)
}

// IsValidJoinCode validates the shape of a join code before it is
// resolved against the store.
func IsValidJoinCode(code string) bool {
	return joinCodePattern.MatchString(code)
}

// IsValidSessionName validates display names: 1-200 characters.
func IsValidSessionName(name string) bool {
	return len(name) >= 1 && len(name) <= 200
}

// IsValidRole validates a participant role claim.
func IsValidRole(role string) bool {
	switch role {
	case RoleHuman, RoleAI, RoleJudge:
		return true
	}
	return false
}
