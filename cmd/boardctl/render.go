package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"taskboard/board"
	"taskboard/domain"
)

var (
	columnStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238")).Padding(0, 1)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("33"))
	titleStyle  = lipgloss.NewStyle().Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	emptyStyle  = mutedStyle.Italic(true)

	priorityStyles = map[domain.Priority]lipgloss.Style{
		domain.PriorityLow:    lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		domain.PriorityMedium: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		domain.PriorityHigh:   lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
	}

	columnTitles = map[domain.Status]string{
		domain.StatusTodo:       "To Do",
		domain.StatusInProgress: "In Progress",
		domain.StatusDone:       "Done",
	}
)

const dateLayout = "2006-01-02"

// formatLine renders a task on one line for list output.
func formatLine(t domain.Task) string {
	return fmt.Sprintf("%d\t%s\t%s\t%s\t%s", t.ID, t.Status, t.Priority, t.CreatedAt.Local().Format(dateLayout), t.Title)
}

func renderCard(t domain.Task) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(t.Title))
	if t.Description != "" {
		b.WriteString("\n")
		b.WriteString(t.Description)
	}
	b.WriteString("\n")
	b.WriteString(priorityStyles[t.Priority].Render(string(t.Priority)))
	b.WriteString(mutedStyle.Render(fmt.Sprintf("  #%d  %s", t.ID, t.CreatedAt.Local().Format(dateLayout))))
	return b.String()
}

func renderColumn(st domain.Status, tasks []domain.Task, width int) string {
	parts := []string{headerStyle.Render(fmt.Sprintf("%s (%d)", columnTitles[st], len(tasks)))}
	if len(tasks) == 0 {
		parts = append(parts, emptyStyle.Render("no tasks"))
	}
	for _, t := range tasks {
		parts = append(parts, renderCard(t))
	}
	return columnStyle.Width(width).Render(strings.Join(parts, "\n\n"))
}

// renderBoard lays the three columns side by side under a task counter.
func renderBoard(store *board.Store, width int) string {
	if width < 12 {
		width = 12
	}
	columns := make([]string, 0, 3)
	for _, st := range domain.Statuses() {
		columns = append(columns, renderColumn(st, store.ListByStatus(st), width))
	}
	header := mutedStyle.Render(fmt.Sprintf("%d tasks", store.Len()))
	return lipgloss.JoinVertical(lipgloss.Left, header, lipgloss.JoinHorizontal(lipgloss.Top, columns...))
}
