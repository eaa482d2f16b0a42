package render

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/models"
	"github.com/trebuchet-org/treb-upgrade/internal/usecase"
)

// VerdictRenderer renders compatibility verdicts
type VerdictRenderer struct {
	out   io.Writer
	color bool
}

// NewVerdictRenderer creates a new verdict renderer
func NewVerdictRenderer(out io.Writer, color bool) *VerdictRenderer {
	return &VerdictRenderer{out: out, color: color}
}

// Render prints the artifacts compared and the verdict between them
func (r *VerdictRenderer) Render(result *usecase.CheckCompatibilityResult) error {
	fmt.Fprintf(r.out, "%s %s → %s\n\n",
		paint(r.color, headerStyle, "Storage layout:"),
		result.Old.Key(), result.New.Key())
	r.RenderVerdict(result.Verdict)
	return nil
}

// RenderVerdict prints violations, warnings and appended slots
func (r *VerdictRenderer) RenderVerdict(verdict *models.CompatibilityVerdict) {
	if verdict == nil {
		return
	}

	if len(verdict.Violations) > 0 {
		t := newTable(r.out, table.Row{"Slot", "Label", "Old type", "New type", "Reason"})
		for _, v := range verdict.Violations {
			t.AppendRow(table.Row{
				v.SlotIndex,
				v.Label,
				v.OldType,
				v.NewType,
				paint(r.color, failureStyle, title(string(v.Reason))),
			})
		}
		t.Render()
		for _, v := range verdict.Violations {
			if v.Detail != "" {
				fmt.Fprintf(r.out, "  slot %d: %s\n", v.SlotIndex, paint(r.color, faintStyle, v.Detail))
			}
		}
		fmt.Fprintln(r.out)
	}

	for _, w := range verdict.Warnings {
		fmt.Fprintln(r.out, FormatWarning(fmt.Sprintf("slot %d: %s", w.SlotIndex, w.Message)))
	}

	if len(verdict.Appended) > 0 {
		fmt.Fprintln(r.out, paint(r.color, headerStyle, "Appended:"))
		for _, slot := range verdict.Appended {
			fmt.Fprintf(r.out, "  + %s\n", slot.String())
		}
	}

	if verdict.Compatible {
		fmt.Fprintln(r.out, FormatSuccess("Compatible"))
	} else {
		fmt.Fprintln(r.out, FormatError(fmt.Sprintf("incompatible: %d violation(s)", len(verdict.Violations))))
	}
}

// LayoutRenderer renders an extracted storage layout
type LayoutRenderer struct {
	out   io.Writer
	color bool
}

// NewLayoutRenderer creates a new layout renderer
func NewLayoutRenderer(out io.Writer, color bool) *LayoutRenderer {
	return &LayoutRenderer{out: out, color: color}
}

// Render prints one row per variable in slot order
func (r *LayoutRenderer) Render(artifact *models.Artifact, layout *models.StorageLayout) error {
	fmt.Fprintf(r.out, "%s %s\n", paint(r.color, headerStyle, artifact.Key()), paint(r.color, faintStyle, layout.LayoutHash.Hex()))
	if len(layout.Slots) == 0 {
		fmt.Fprintln(r.out, "No storage variables")
		return nil
	}

	t := newTable(r.out, table.Row{"Slot", "Offset", "Type", "Label", "Contract"})
	for _, slot := range layout.Slots {
		t.AppendRow(table.Row{slot.Index, slot.Offset, slot.TypeSignature, slot.Label, slot.Contract})
	}
	t.Render()
	return nil
}
