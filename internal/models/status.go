package models

// RideStatus is the lifecycle state of a ride. Normal progression is
// Requested -> Accepted -> InProgress -> Completed; Cancelled is reachable
// from Requested or Accepted only.
type RideStatus string

const (
	StatusRequested  RideStatus = "requested"
	StatusAccepted   RideStatus = "accepted"
	StatusInProgress RideStatus = "in_progress"
	StatusCompleted  RideStatus = "completed"
	StatusCancelled  RideStatus = "cancelled"
)

var statusRank = map[RideStatus]int{
	StatusRequested:  0,
	StatusAccepted:   1,
	StatusInProgress: 2,
	StatusCompleted:  3,
}

// Known reports whether s is one of the defined statuses.
func (s RideStatus) Known() bool {
	if s == StatusCancelled {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether no further transitions are possible from s.
func (s RideStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether moving from s to next is a legal forward
// step. Equal statuses are not a transition; callers treat them as an
// idempotent no-op.
func (s RideStatus) CanTransition(next RideStatus) bool {
	if !s.Known() || !next.Known() || s == next {
		return false
	}
	if next == StatusCancelled {
		return s == StatusRequested || s == StatusAccepted
	}
	if s == StatusCancelled {
		return false
	}
	return statusRank[next] > statusRank[s]
}
