package types

// MemoryStatus is the lifecycle state of a memory record.
type MemoryStatus string

// Lifecycle states.
//
//	pending_approval -> active (approve) | deleted (reject, hard removal)
//	active           -> archived | expired | deleted
//	archived         -> deleted
//	expired          -> deleted
//
// "deleted" never appears on a persisted record: it marks hard removal and
// exists only as a transition target.
const (
	StatusPendingApproval MemoryStatus = "pending_approval"
	StatusActive          MemoryStatus = "active"
	StatusArchived        MemoryStatus = "archived"
	StatusExpired         MemoryStatus = "expired"
	StatusDeleted         MemoryStatus = "deleted"
)

// AllStatuses lists every valid MemoryStatus value.
var AllStatuses = []MemoryStatus{
	StatusPendingApproval,
	StatusActive,
	StatusArchived,
	StatusExpired,
	StatusDeleted,
}

// Valid reports whether s is one of the enumerated statuses.
func (s MemoryStatus) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether the state machine permits moving from s to
// next. Hard deletion (StatusDeleted) is reachable from every state.
func (s MemoryStatus) CanTransitionTo(next MemoryStatus) bool {
	if next == StatusDeleted {
		return true
	}
	switch s {
	case StatusPendingApproval:
		return next == StatusActive
	case StatusActive:
		return next == StatusArchived || next == StatusExpired
	case StatusArchived, StatusExpired:
		return false
	default:
		return false
	}
}
