// BotArmy monitor: a terminal dashboard mirroring the server's agents,
// tasks, messages, and logs through the statesync layer.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"botarmy/internal/statesync"
)

func main() {
	addr := flag.String("addr", "http://localhost:8000", "BotArmy server base URL")
	flag.Parse()

	store := statesync.NewStore(statesync.NewClient(*addr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = store.Run(ctx) }()

	app := tview.NewApplication()

	agentsTable := tview.NewTable().SetBorders(false)
	agentsTable.SetTitle("Agents").SetBorder(true)

	tasksList := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	tasksList.SetTitle("Pending Tasks").SetBorder(true)

	logsView := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	logsView.SetTitle("Activity Log").SetBorder(true)

	messagesView := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	messagesView.SetTitle("Messages").SetBorder(true)

	statusBar := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	statusBar.SetBorder(true).SetTitle("Status")
	statusBar.SetText(fmt.Sprintf("Connecting to %s | F5 retry failed resources, F10 quit", *addr))

	left := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(agentsTable, 0, 1, false).
		AddItem(tasksList, 0, 1, false)
	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(messagesView, 0, 1, false).
		AddItem(logsView, 0, 1, false)
	mainLayout := tview.NewFlex().
		AddItem(left, 0, 1, false).
		AddItem(right, 0, 2, false)
	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(mainLayout, 0, 12, false).
		AddItem(statusBar, 3, 0, false)

	render := func() {
		snap := store.Snapshot()
		renderAgents(agentsTable, snap.Agents)
		tasksList.SetText(renderTasks(snap.Tasks))
		messagesView.SetText(renderMessages(snap.Messages))
		logsView.SetText(renderLogs(snap.Logs))
		statusBar.SetText(renderStatus(*addr, snap))
	}

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF10:
			app.Stop()
			return nil
		case tcell.KeyF5:
			snap := store.Snapshot()
			for resource, st := range snap.Status {
				if st.Err != nil {
					store.Retry(ctx, resource)
				}
			}
			return nil
		}
		return event
	})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-store.Notify():
				if !ok {
					return
				}
				app.QueueUpdateDraw(render)
			}
		}
	}()

	if err := app.SetRoot(root, true).EnableMouse(true).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "monitor failed: %v\n", err)
		os.Exit(1)
	}
}

func renderAgents(table *tview.Table, agents []statesync.Agent) {
	table.Clear()
	headers := []string{"Agent", "Role", "Status", "Current Task"}
	for i, h := range headers {
		table.SetCell(0, i, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
	}
	for i, a := range agents {
		row := i + 1
		table.SetCell(row, 0, tview.NewTableCell(a.ID))
		table.SetCell(row, 1, tview.NewTableCell(a.Role))
		table.SetCell(row, 2, tview.NewTableCell(a.Status).SetTextColor(statusColor(a.Status)))
		table.SetCell(row, 3, tview.NewTableCell(trimLine(a.CurrentTask, 48)))
	}
}

func statusColor(status string) tcell.Color {
	switch status {
	case "working", "thinking":
		return tcell.ColorYellow
	case "error":
		return tcell.ColorRed
	case "paused":
		return tcell.ColorGray
	default:
		return tcell.ColorGreen
	}
}

func renderTasks(tasks []statesync.Task) string {
	if len(tasks) == 0 {
		return "No pending tasks"
	}
	sorted := append([]statesync.Task(nil), tasks...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return priorityRank(sorted[i].Priority) < priorityRank(sorted[j].Priority)
	})

	var b strings.Builder
	for _, t := range sorted {
		b.WriteString(fmt.Sprintf("[%s] %s\n  %s\n", t.Priority, t.Title, trimLine(t.Description, 72)))
		if len(t.Options) > 0 {
			b.WriteString("  options: " + strings.Join(t.Options, " / ") + "\n")
		}
	}
	return b.String()
}

func priorityRank(p string) int {
	switch p {
	case "high":
		return 0
	case "medium":
		return 1
	default:
		return 2
	}
}

func renderMessages(msgs []statesync.Message) string {
	if len(msgs) == 0 {
		return "No messages"
	}
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(fmt.Sprintf("[%s] %s -> %s  %s  status=%s\n",
			m.Timestamp.Local().Format("15:04:05"),
			m.FromAgent, m.ToAgent, m.MessageType, m.Status))
	}
	return b.String()
}

func renderLogs(logs []statesync.LogEntry) string {
	if len(logs) == 0 {
		return "No activity"
	}
	var b strings.Builder
	for _, l := range logs {
		b.WriteString(fmt.Sprintf("[%s] %-8s %s\n",
			l.Timestamp.Local().Format("15:04:05"), l.Type, trimLine(l.Text, 96)))
	}
	return b.String()
}

func renderStatus(addr string, snap statesync.Snapshot) string {
	conn := "[red]disconnected[-]"
	if snap.Connected {
		conn = "[green]connected[-]"
	}

	var failed []string
	for _, r := range statesync.Resources {
		if st := snap.Status[r]; st.Err != nil {
			failed = append(failed, string(r))
		}
	}
	line := fmt.Sprintf("%s %s | agents=%d tasks=%d", addr, conn, len(snap.Agents), len(snap.Tasks))
	if len(failed) > 0 {
		line += " | [red]failed: " + strings.Join(failed, ", ") + "[-] (F5 retries)"
	}
	return line
}

// trimLine caps a line at limit runes. Log lines carry multi-byte glyphs
// ("→"), so the cut must land on a rune boundary.
func trimLine(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}
