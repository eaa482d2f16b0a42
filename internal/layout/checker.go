package layout

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/trebuchet-org/treb-upgrade/internal/domain/models"
)

// Checker compares the deployed layout against a candidate layout.
type Checker struct{}

// NewChecker creates a compatibility checker
func NewChecker() *Checker {
	return &Checker{}
}

// Check reports every old slot that the new layout does not preserve.
// At most one violation is recorded per old variable.
func (c *Checker) Check(old, upd *models.StorageLayout) *models.CompatibilityVerdict {
	return Check(old, upd)
}

// Check compares two layouts. A layout is compatible iff every existing
// variable keeps its position and a storage-equivalent type, and new
// variables are only appended (or carved out of a storage gap).
func Check(old, upd *models.StorageLayout) *models.CompatibilityVerdict {
	verdict := &models.CompatibilityVerdict{Violations: []models.Violation{}}
	cmp := newTypeComparer()

	oldSlots, newSlots := slotsOf(old), slotsOf(upd)
	oldLabels := labelSet(oldSlots)
	newLabels := labelSet(newSlots)

	var oldEnd uint64
	j := 0
	for _, o := range oldSlots {
		if o.EndByte() > oldEnd {
			oldEnd = o.EndByte()
		}
		if j >= len(newSlots) {
			verdict.Violations = append(verdict.Violations, violation(o, nil, models.ViolationRemoved, "variable no longer declared"))
			continue
		}
		n := newSlots[j]

		if isGap(o) && !isGap(n) {
			if consumed, next, ok := consumeGap(o, newSlots, j); ok {
				verdict.Appended = append(verdict.Appended, consumed...)
				j = next
				continue
			}
		}

		samePosition := o.StartByte() == n.StartByte()
		switch {
		case o.Label == n.Label:
			if !samePosition {
				verdict.Violations = append(verdict.Violations, violation(o, &n, models.ViolationReordered,
					fmt.Sprintf("moved to slot %d offset %d", n.Index, n.Offset)))
			} else if reason, detail, ok := cmp.compatible(o.Type, n.Type, false); !ok {
				verdict.Violations = append(verdict.Violations, violation(o, &n, reason, detail))
			}
			j++

		case samePosition && !newLabels[o.Label] && !oldLabels[n.Label]:
			// renamed in place
			if reason, detail, ok := cmp.compatible(o.Type, n.Type, false); !ok {
				verdict.Violations = append(verdict.Violations, violation(o, &n, reason, detail))
			} else {
				verdict.Warnings = append(verdict.Warnings, models.Warning{
					SlotIndex: o.Index,
					Message:   fmt.Sprintf("variable %s renamed to %s", o.Label, n.Label),
				})
			}
			j++

		case !newLabels[o.Label]:
			// leave j so the new variable is compared with the next old one
			verdict.Violations = append(verdict.Violations, violation(o, &n, models.ViolationRemoved, "variable no longer declared"))

		case !oldLabels[n.Label]:
			verdict.Violations = append(verdict.Violations, violation(o, &n, models.ViolationInserted,
				fmt.Sprintf("%s inserted before %s", n.Label, o.Label)))
			j++

		default:
			verdict.Violations = append(verdict.Violations, violation(o, &n, models.ViolationReordered,
				fmt.Sprintf("%s now occupies this position", n.Label)))
			j++
		}
	}

	for _, n := range newSlots[min(j, len(newSlots)):] {
		if n.StartByte() < oldEnd {
			verdict.Violations = append(verdict.Violations, models.Violation{
				SlotIndex: n.Index,
				Label:     n.Label,
				NewType:   n.TypeSignature,
				Reason:    models.ViolationInserted,
				Detail:    "new variable placed inside the existing layout",
			})
			continue
		}
		verdict.Appended = append(verdict.Appended, n)
	}

	verdict.Compatible = len(verdict.Violations) == 0
	return verdict
}

func violation(o models.StorageSlot, n *models.StorageSlot, reason models.ViolationReason, detail string) models.Violation {
	v := models.Violation{
		SlotIndex: o.Index,
		Label:     o.Label,
		OldType:   o.TypeSignature,
		Reason:    reason,
		Detail:    detail,
	}
	if n != nil {
		v.NewType = n.TypeSignature
	}
	return v
}

func slotsOf(l *models.StorageLayout) []models.StorageSlot {
	if l == nil {
		return nil
	}
	return l.Slots
}

func labelSet(slots []models.StorageSlot) map[string]bool {
	set := make(map[string]bool, len(slots))
	for _, s := range slots {
		set[s.Label] = true
	}
	return set
}

// isGap matches OpenZeppelin style reserved storage: uint256[N] __gap
func isGap(s models.StorageSlot) bool {
	if !strings.HasPrefix(s.Label, "__gap") || s.Type == nil {
		return false
	}
	t := s.Type
	return t.Encoding == models.EncodingInplace && t.Base != nil && t.Base.Signature == "uint256"
}

// consumeGap accepts new variables placed at the head of an old gap,
// provided whatever remains of the gap ends exactly where the old one did.
// Returns the consumed variables and the index of the next unmatched new slot.
func consumeGap(gap models.StorageSlot, newSlots []models.StorageSlot, j int) ([]models.StorageSlot, int, bool) {
	if newSlots[j].StartByte() < gap.StartByte() {
		return nil, j, false
	}
	k := j
	for k < len(newSlots) && newSlots[k].EndByte() <= gap.EndByte() {
		if isGap(newSlots[k]) {
			if newSlots[k].EndByte() != gap.EndByte() || k == j {
				return nil, j, false
			}
			return newSlots[j:k], k + 1, true
		}
		k++
	}
	if k == j {
		return nil, j, false
	}
	// gap fully consumed; the next variable must not straddle its end
	if k < len(newSlots) && newSlots[k].StartByte() < gap.EndByte() {
		return nil, j, false
	}
	return newSlots[j:k], k, true
}

type typePair struct {
	old, new    string
	allowGrowth bool
}

// typeComparer decides storage equivalence; active breaks cycles in
// recursive struct types.
type typeComparer struct {
	active map[typePair]bool
}

func newTypeComparer() *typeComparer {
	return &typeComparer{active: make(map[typePair]bool)}
}

// compatible reports whether a value stored as old can be read as new.
// allowGrowth permits structs to append members when they live behind a
// mapping, where each value owns its own slot range.
func (c *typeComparer) compatible(o, n *models.TypeInfo, allowGrowth bool) (models.ViolationReason, string, bool) {
	if o == nil || n == nil {
		return models.ViolationTypeChanged, "unresolved type", false
	}
	if o.Encoding != n.Encoding {
		return models.ViolationEncodingChanged, fmt.Sprintf("encoding %s -> %s", o.Encoding, n.Encoding), false
	}

	key := typePair{o.ID, n.ID, allowGrowth}
	if c.active[key] {
		return "", "", true
	}
	c.active[key] = true
	defer delete(c.active, key)

	switch o.Encoding {
	case models.EncodingMapping:
		if o.Key.Signature != n.Key.Signature {
			return models.ViolationTypeChanged, fmt.Sprintf("mapping key %s -> %s", o.Key.Signature, n.Key.Signature), false
		}
		return c.compatible(o.Value, n.Value, true)

	case models.EncodingDynamicArray:
		return c.compatible(o.Base, n.Base, false)

	case models.EncodingBytes:
		if o.Signature != n.Signature {
			return models.ViolationTypeChanged, fmt.Sprintf("%s -> %s", o.Signature, n.Signature), false
		}
		return "", "", true
	}

	// inplace
	isStruct := len(o.Members) > 0
	if isStruct != (len(n.Members) > 0) || (o.Base == nil) != (n.Base == nil) {
		return models.ViolationTypeChanged, fmt.Sprintf("%s -> %s", o.Signature, n.Signature), false
	}

	switch {
	case isStruct:
		return c.compatibleStruct(o, n, allowGrowth)

	case o.Base != nil:
		if o.Size != n.Size {
			return models.ViolationTypeChanged, fmt.Sprintf("array size %d -> %d bytes", o.Size, n.Size), false
		}
		if arrayLength(o.Signature) != arrayLength(n.Signature) {
			return models.ViolationTypeChanged, fmt.Sprintf("%s -> %s", o.Signature, n.Signature), false
		}
		return c.compatible(o.Base, n.Base, false)

	default:
		if o.Size != n.Size {
			return models.ViolationTypeChanged, fmt.Sprintf("%s (%d bytes) -> %s (%d bytes)", o.Signature, o.Size, n.Signature, n.Size), false
		}
		oc, nc := valueClass(o.Signature), valueClass(n.Signature)
		if oc == "" || nc == "" {
			if o.Signature != n.Signature {
				return models.ViolationTypeChanged, fmt.Sprintf("%s -> %s", o.Signature, n.Signature), false
			}
			return "", "", true
		}
		if oc != nc {
			return models.ViolationTypeChanged, fmt.Sprintf("%s -> %s", o.Signature, n.Signature), false
		}
		return "", "", true
	}
}

func (c *typeComparer) compatibleStruct(o, n *models.TypeInfo, allowGrowth bool) (models.ViolationReason, string, bool) {
	if len(n.Members) < len(o.Members) {
		return models.ViolationTypeChanged, fmt.Sprintf("%s lost members", o.Signature), false
	}
	if !allowGrowth && (len(n.Members) != len(o.Members) || n.Size != o.Size) {
		return models.ViolationTypeChanged, fmt.Sprintf("%s changed size", o.Signature), false
	}
	if n.Size < o.Size {
		return models.ViolationTypeChanged, fmt.Sprintf("%s shrank", o.Signature), false
	}
	for i, om := range o.Members {
		nm := n.Members[i]
		if om.StartByte() != nm.StartByte() {
			return models.ViolationTypeChanged, fmt.Sprintf("member %s.%s moved", o.Signature, om.Label), false
		}
		if reason, detail, ok := c.compatible(om.Type, nm.Type, false); !ok {
			return reason, fmt.Sprintf("member %s.%s: %s", o.Signature, om.Label, detail), false
		}
	}
	return "", "", true
}

var (
	uintPattern   = regexp.MustCompile(`^uint\d*$`)
	intPattern    = regexp.MustCompile(`^int\d*$`)
	bytesNPattern = regexp.MustCompile(`^bytes\d+$`)
	arrayPattern  = regexp.MustCompile(`\[(\d+)\]$`)
)

// valueClass groups value types whose in-slot representation is
// interchangeable at equal size. Empty means the type must match exactly.
func valueClass(sig string) string {
	switch {
	case uintPattern.MatchString(sig):
		return "uint"
	case intPattern.MatchString(sig):
		return "int"
	case sig == "address", sig == "address payable", strings.HasPrefix(sig, "contract "):
		return "address"
	case sig == "bool":
		return "bool"
	case bytesNPattern.MatchString(sig):
		return "bytesN"
	case strings.HasPrefix(sig, "enum "):
		return "enum"
	}
	return ""
}

func arrayLength(sig string) string {
	m := arrayPattern.FindStringSubmatch(sig)
	if m == nil {
		return ""
	}
	return m[1]
}
