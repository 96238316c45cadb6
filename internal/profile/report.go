package profile

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/0xmhha/guestprof/internal/near"
)

// DisplayDigits is the number of fractional NEAR digits costs are printed with.
const DisplayDigits = 12

// Report is a point-in-time view of a ledger for printing and export.
type Report struct {
	RunID     string
	Network   string
	Contract  string
	StartTime time.Time
	EndTime   time.Time
	Entries   []Entry
	History   []Cost
}

// NewReport captures the ledger's current accumulators and history.
func NewReport(l *Ledger, runID, network, contract string, start time.Time) *Report {
	return &Report{
		RunID:     runID,
		Network:   network,
		Contract:  contract,
		StartTime: start,
		EndTime:   time.Now(),
		Entries:   l.Entries(),
		History:   l.History(),
	}
}

// Duration returns the wall time the report covers.
func (r *Report) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// PrintTable writes accumulator and measurement tables to w.
func (r *Report) PrintTable(w io.Writer) {
	fmt.Fprintf(w, "\nCost accumulators (NEAR):\n")

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Accumulator", "Measurements", "Burn", "Storage", "Released", "Total"})
	table.SetBorder(true)
	for _, e := range r.Entries {
		table.Append([]string{
			e.Key,
			fmt.Sprintf("%d", e.Count),
			near.FormatNearAmount(e.Burn, DisplayDigits),
			near.FormatNearAmount(e.Storage, DisplayDigits),
			near.FormatNearAmount(e.Released, DisplayDigits),
			near.FormatNearAmount(e.Total, DisplayDigits),
		})
	}
	table.Render()

	if len(r.History) == 0 {
		return
	}

	fmt.Fprintf(w, "\nMeasurements:\n")

	history := tablewriter.NewWriter(w)
	history.SetHeader([]string{"#", "Account", "Accumulator", "Kind", "Burn", "Storage Bytes", "Added"})
	history.SetBorder(true)
	for i, c := range r.History {
		history.Append([]string{
			fmt.Sprintf("%d", i+1),
			c.Label,
			c.Key,
			c.Kind.String(),
			near.FormatNearAmount(c.Burn, DisplayDigits),
			fmt.Sprintf("%+d", c.StorageBytes),
			near.FormatNearAmount(c.Accumulated, DisplayDigits),
		})
	}
	history.Render()
}
