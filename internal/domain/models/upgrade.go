package models

// UpgradeState is the state of a single upgrade attempt. States only move
// forward; Committed and Failed are terminal.
type UpgradeState string

const (
	StateIdle                   UpgradeState = "IDLE"
	StateLayoutResolved         UpgradeState = "LAYOUT_RESOLVED"
	StateCompatibilityChecked   UpgradeState = "COMPATIBILITY_CHECKED"
	StateImplementationDeployed UpgradeState = "IMPLEMENTATION_DEPLOYED"
	StatePendingOnChain         UpgradeState = "PENDING_ON_CHAIN"
	StateCommitted              UpgradeState = "COMMITTED"
	StateFailed                 UpgradeState = "FAILED"
)

var stateOrder = map[UpgradeState]int{
	StateIdle:                   0,
	StateLayoutResolved:         1,
	StateCompatibilityChecked:   2,
	StateImplementationDeployed: 3,
	StatePendingOnChain:         4,
	StateCommitted:              5,
}

// IsTerminal reports whether no further transition is possible.
func (s UpgradeState) IsTerminal() bool {
	return s == StateCommitted || s == StateFailed
}

// CanTransition reports whether moving from s to next is a legal forward step.
func (s UpgradeState) CanTransition(next UpgradeState) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	from, ok := stateOrder[s]
	if !ok {
		return false
	}
	to, ok := stateOrder[next]
	return ok && to > from
}
