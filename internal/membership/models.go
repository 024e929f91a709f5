// Package membership is the registry of citizens and their social structures:
// verification levels, family and organizational groups, and federations of
// groups. The allocation and distribution engines consult it as their
// membership oracle; the UBI scheduler uses it to compute the eligible
// population.
package membership

import (
	"time"

	id "khural/pkg/domain"
)

// VerificationLevel is the citizen's progress through the verification
// milestones. Levels are strictly ordered.
type VerificationLevel string

const (
	LevelUnverified    VerificationLevel = "UNVERIFIED"
	LevelVerified      VerificationLevel = "VERIFIED"
	LevelArbanVerified VerificationLevel = "ARBAN_VERIFIED"
	LevelZunVerified   VerificationLevel = "ZUN_VERIFIED"
	LevelFullyVerified VerificationLevel = "FULLY_VERIFIED"
)

// rank orders levels for comparisons. Unknown levels rank below UNVERIFIED.
func (l VerificationLevel) rank() int {
	switch l {
	case LevelUnverified:
		return 1
	case LevelVerified:
		return 2
	case LevelArbanVerified:
		return 3
	case LevelZunVerified:
		return 4
	case LevelFullyVerified:
		return 5
	default:
		return 0
	}
}

// IsValid reports whether the level is one of the known milestones.
func (l VerificationLevel) IsValid() bool { return l.rank() > 0 }

// AtLeast reports whether the level has reached the given milestone.
func (l VerificationLevel) AtLeast(other VerificationLevel) bool {
	return l.rank() >= other.rank()
}

// Citizen is one registry row. System accounts (reserve funds, treasury)
// carry System=true and are excluded from every population computation.
type Citizen struct {
	ID           id.CitizenID
	Level        VerificationLevel
	System       bool
	RegisteredAt time.Time
}

// GroupKind distinguishes the two circle shapes.
type GroupKind string

const (
	GroupFamily         GroupKind = "FAMILY"
	GroupOrganizational GroupKind = "ORGANIZATIONAL"
)

// Group is a membership circle. Family groups carry the two spouse slots plus
// children; organizational groups carry a flat roster. Exactly one shape is
// populated, per Kind.
type Group struct {
	ID   id.GroupID
	Kind GroupKind

	// Family shape
	Husband  id.CitizenID
	Wife     id.CitizenID
	Children []id.CitizenID

	// Organizational shape
	Members []id.CitizenID

	CreatedAt time.Time
}

// Contains reports whether the citizen belongs to the group.
func (g Group) Contains(citizen id.CitizenID) bool {
	switch g.Kind {
	case GroupFamily:
		if g.Husband == citizen || g.Wife == citizen {
			return true
		}
		for _, child := range g.Children {
			if child == citizen {
				return true
			}
		}
	case GroupOrganizational:
		for _, member := range g.Members {
			if member == citizen {
				return true
			}
		}
	}
	return false
}

// Federation is a federation of groups. A citizen is a federation member when
// they belong to any one of its groups.
type Federation struct {
	ID        id.FederationID
	Name      string
	Groups    []id.GroupID
	CreatedAt time.Time
}
