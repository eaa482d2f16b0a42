package render

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/models"
	"github.com/trebuchet-org/treb-upgrade/internal/usecase"
)

// ProxiesRenderer renders the registry listing
type ProxiesRenderer struct {
	out   io.Writer
	color bool
}

// NewProxiesRenderer creates a new proxies renderer
func NewProxiesRenderer(out io.Writer, color bool) *ProxiesRenderer {
	return &ProxiesRenderer{out: out, color: color}
}

// Render prints proxies grouped by network as the registry returns them
func (r *ProxiesRenderer) Render(listings []usecase.ProxyListing) error {
	if len(listings) == 0 {
		fmt.Fprintln(r.out, "No proxies registered")
		return nil
	}

	t := newTable(r.out, table.Row{"Network", "Proxy", "Label", "Kind", "Implementation", "Artifact", "Status"})
	for _, l := range listings {
		rec := l.Record
		status := paint(r.color, successStyle, "in sync")
		if rec.IsPending() {
			status = paint(r.color, pendingStyle, "pending → "+rec.PendingImplementation.Hex())
		}
		artifact := l.Artifact
		if artifact == "" {
			artifact = "-"
		}
		t.AppendRow(table.Row{
			rec.Network,
			paint(r.color, addressStyle, rec.ProxyAddress.Hex()),
			paint(r.color, labelStyle, rec.Label),
			string(rec.Kind),
			rec.CurrentImplementation.Hex(),
			artifact,
			status,
		})
	}
	t.Render()
	return nil
}

// HistoryRenderer renders the journal of one proxy
type HistoryRenderer struct {
	out   io.Writer
	color bool
}

// NewHistoryRenderer creates a new history renderer
func NewHistoryRenderer(out io.Writer, color bool) *HistoryRenderer {
	return &HistoryRenderer{out: out, color: color}
}

// Render prints the record header and one row per journal entry
func (r *HistoryRenderer) Render(result *usecase.ShowHistoryResult) error {
	rec := result.Record
	fmt.Fprintf(r.out, "%s %s on %s (%s)\n",
		paint(r.color, labelStyle, rec.DisplayName()),
		paint(r.color, faintStyle, rec.ProxyAddress.Hex()),
		rec.Network, rec.Kind)
	fmt.Fprintf(r.out, "  implementation  %s\n", rec.CurrentImplementation.Hex())
	fmt.Fprintf(r.out, "  admin           %s\n", formatAddress(rec.Admin))
	if rec.AdminContract != nil {
		fmt.Fprintf(r.out, "  proxy admin     %s\n", rec.AdminContract.Hex())
	}
	if rec.IsPending() {
		fmt.Fprintf(r.out, "  %s %s\n", paint(r.color, pendingStyle, "pending        "), rec.PendingImplementation.Hex())
	}
	fmt.Fprintln(r.out)

	if len(result.Entries) == 0 {
		fmt.Fprintln(r.out, "No history")
		return nil
	}

	t := newTable(r.out, table.Row{"Time", "Status", "From", "To", "Tx", "Reason"})
	for _, e := range result.Entries {
		tx := "-"
		if e.TxHandle != nil {
			tx = e.TxHandle.Hash.Hex()
		}
		t.AppendRow(table.Row{
			paint(r.color, faintStyle, e.Timestamp.Format("2006-01-02 15:04:05")),
			r.status(e.Status),
			formatAddress(e.OldImplementation),
			formatAddress(e.NewImplementation),
			tx,
			e.Reason,
		})
	}
	t.Render()
	return nil
}

func (r *HistoryRenderer) status(s models.UpgradeStatus) string {
	label := title(string(s))
	switch s {
	case models.StatusConfirmed, models.StatusRegistered:
		return paint(r.color, successStyle, label)
	case models.StatusFailed:
		return paint(r.color, failureStyle, label)
	case models.StatusPending, models.StatusSubmitted:
		return paint(r.color, pendingStyle, label)
	default:
		return label
	}
}
