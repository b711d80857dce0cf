package session

import (
	"parlor/pkg/types"
)

// RolePolicy is the single admission-policy function for the system.
// Both the lifecycle calls and the hub's attach check go through it, so
// authorization logic cannot diverge between the two paths.
//
// The host keeps human. Joiners are assigned human until HumanQuota
// human participants exist, then judge. The ai role is never assigned
// here; it is reserved for the system-injected participant added
// through AddAI.
type RolePolicy struct {
	// HumanQuota is the number of human slots, host included.
	HumanQuota int
}

// Assign returns the role for the next joiner of s.
func (p RolePolicy) Assign(s *types.Session) string {
	if s.CountRole(types.RoleHuman) < p.HumanQuota {
		return types.RoleHuman
	}
	return types.RoleJudge
}

// CheckAttach validates that userID may attach to s with the claimed
// role. A role claim that does not match the stored assignment is a
// stale or forged attach attempt.
func (p RolePolicy) CheckAttach(s *types.Session, userID, role string) error {
	participant := s.Participant(userID)
	if participant == nil {
		return ErrNotParticipant
	}
	if participant.Role != role {
		return ErrRoleMismatch
	}
	return nil
}
