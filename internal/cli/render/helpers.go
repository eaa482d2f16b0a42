package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	addressStyle   = color.New(color.FgWhite)
	labelStyle     = color.New(color.FgCyan, color.Bold)
	pendingStyle   = color.New(color.FgYellow)
	faintStyle     = color.New(color.Faint)
	headerStyle    = color.New(color.Bold, color.FgHiWhite)
	successStyle   = color.New(color.FgGreen)
	failureStyle   = color.New(color.FgRed)
	titleCaser     = cases.Title(language.English)
	zeroAddressHex = common.Address{}.Hex()
)

// FormatWarning formats a warning message with the warning icon
func FormatWarning(message string) string {
	return color.New(color.FgYellow).Sprintf("⚠️  %s", message)
}

// FormatError formats an error message with the error icon
func FormatError(message string) string {
	// Extract just the error message part (after the last colon if it's an error chain)
	parts := strings.Split(message, ": ")
	msg := parts[len(parts)-1]

	// Capitalize first letter
	if len(msg) > 0 {
		msg = strings.ToUpper(msg[:1]) + msg[1:]
	}

	return color.New(color.FgRed).Sprintf("❌ %s", msg)
}

// FormatSuccess formats a success message with the success icon
func FormatSuccess(message string) string {
	return color.New(color.FgGreen).Sprintf("✅ %s", message)
}

// RenderJSON writes v as indented JSON
func RenderJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

// title turns "PENDING_ON_CHAIN" or "still pending" into "Pending On Chain"
func title(s string) string {
	return titleCaser.String(strings.ToLower(strings.ReplaceAll(s, "_", " ")))
}

func formatAddress(addr common.Address) string {
	if addr.Hex() == zeroAddressHex {
		return "-"
	}
	return addr.Hex()
}

// newTable returns a borderless table in the style of the registry listings
func newTable(out io.Writer, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.Style().Options.DrawBorder = false
	t.Style().Options.SeparateRows = false
	t.Style().Options.SeparateColumns = false
	t.Style().Options.SeparateHeader = false
	t.Style().Box = table.BoxStyle{
		PaddingRight: "   ",
	}
	if header != nil {
		t.AppendHeader(header)
		configs := make([]table.ColumnConfig, len(header))
		for i := range header {
			configs[i] = table.ColumnConfig{Number: i + 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft}
		}
		t.SetColumnConfigs(configs)
	}
	return t
}

// paint applies c when color output is enabled
func paint(enabled bool, c *color.Color, s string) string {
	if !enabled {
		return s
	}
	return c.Sprint(s)
}
