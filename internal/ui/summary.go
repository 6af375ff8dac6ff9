package ui

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/BioHazard786/meshcall/internal/call"
)

// CallSummaryView lists how every link of the call ended.
func CallSummaryView(links []call.LinkSummary, elapsed time.Duration) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle(fmt.Sprintf("%s Call Summary (%s)", IconSummary, formatDuration(elapsed)))
	t.AppendHeader(table.Row{"Participant", "Outcome", "Connected For", "Received"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})

	var total uint64
	for _, l := range links {
		connected := "never"
		if l.Connected {
			connected = formatDuration(l.Duration)
		}
		t.AppendRow(table.Row{
			truncateString(displayName(l.Name), 24),
			l.Outcome,
			connected,
			formatBytes(l.Received),
		})
		total += l.Received
	}
	if len(links) == 0 {
		t.AppendRow(table.Row{"nobody joined", "", "", ""})
	}
	t.AppendFooter(table.Row{"", "", "Total", formatBytes(total)})

	return t.Render()
}

func RenderCallSummary(links []call.LinkSummary, elapsed time.Duration) {
	fmt.Println(CallSummaryView(links, elapsed))
}
