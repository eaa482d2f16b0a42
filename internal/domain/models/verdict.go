package models

import "fmt"

// ViolationReason classifies an unsafe layout change.
type ViolationReason string

const (
	ViolationRemoved         ViolationReason = "REMOVED"
	ViolationReordered       ViolationReason = "REORDERED"
	ViolationInserted        ViolationReason = "INSERTED"
	ViolationTypeChanged     ViolationReason = "TYPE_CHANGED"
	ViolationEncodingChanged ViolationReason = "ENCODING_CHANGED"
)

// Violation is the first unsafe change detected for one existing slot.
type Violation struct {
	SlotIndex uint64          `json:"slotIndex"`
	Label     string          `json:"label"`
	OldType   string          `json:"oldType"`
	NewType   string          `json:"newType"`
	Reason    ViolationReason `json:"reason"`
	Detail    string          `json:"detail,omitempty"`
}

func (v Violation) String() string {
	s := fmt.Sprintf("slot %d (%s): %s", v.SlotIndex, v.Label, v.Reason)
	if v.Detail != "" {
		s += ": " + v.Detail
	}
	return s
}

// Warning is a change that is storage-safe but worth surfacing.
type Warning struct {
	SlotIndex uint64 `json:"slotIndex"`
	Message   string `json:"message"`
}

// CompatibilityVerdict is the result of comparing two storage layouts.
type CompatibilityVerdict struct {
	Compatible bool        `json:"compatible"`
	Violations []Violation `json:"violations"`
	Warnings   []Warning   `json:"warnings,omitempty"`
	// Appended lists variables added after the last existing slot
	Appended []StorageSlot `json:"appended,omitempty"`
}

// ViolationsAt returns the violations recorded for a slot index.
func (v *CompatibilityVerdict) ViolationsAt(slot uint64) []Violation {
	var out []Violation
	for _, violation := range v.Violations {
		if violation.SlotIndex == slot {
			out = append(out, violation)
		}
	}
	return out
}
